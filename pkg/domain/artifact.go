package domain

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// TagLatest resolves to the most recent version of an artifact.
const TagLatest = "latest"

// ArtifactRef names an artifact version by name and tag (latest, vN, or alias).
type ArtifactRef struct {
	Name string `json:"name"`
	Tag  string `json:"tag"`
}

// ParseArtifactRef parses "name:tag". A missing tag means "latest". The last
// colon separates the tag so names such as "clean_sample.csv" are preserved.
func ParseArtifactRef(raw string) (ArtifactRef, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ArtifactRef{}, fmt.Errorf("empty artifact reference")
	}
	name, tag := raw, TagLatest
	if idx := strings.LastIndex(raw, ":"); idx >= 0 {
		name, tag = raw[:idx], raw[idx+1:]
	}
	if name == "" {
		return ArtifactRef{}, fmt.Errorf("artifact reference %q has no name", raw)
	}
	if tag == "" {
		return ArtifactRef{}, fmt.Errorf("artifact reference %q has an empty tag", raw)
	}
	return ArtifactRef{Name: name, Tag: tag}, nil
}

// Ref builds an ArtifactRef, defaulting the tag to latest.
func Ref(name, tag string) ArtifactRef {
	if tag == "" {
		tag = TagLatest
	}
	return ArtifactRef{Name: name, Tag: tag}
}

func (r ArtifactRef) String() string {
	tag := r.Tag
	if tag == "" {
		tag = TagLatest
	}
	return r.Name + ":" + tag
}

// VersionTag formats the tag of an explicit version.
func VersionTag(version int) string {
	return "v" + strconv.Itoa(version)
}

// ParseVersionTag reports whether tag is an explicit version ("v3") and returns it.
func ParseVersionTag(tag string) (int, bool) {
	if len(tag) < 2 || tag[0] != 'v' {
		return 0, false
	}
	n, err := strconv.Atoi(tag[1:])
	if err != nil || n < 0 {
		return 0, false
	}
	return n, true
}

// Artifact is an immutable, versioned file registered by a step.
type Artifact struct {
	ID          string            `json:"id"`
	Name        string            `json:"name"`
	Version     int               `json:"version"`
	Type        string            `json:"type"`
	Description string            `json:"description"`
	Digest      string            `json:"digest"`
	Size        int64             `json:"size"`
	Path        string            `json:"path"`
	Aliases     []string          `json:"aliases,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
	CreatedAt   time.Time         `json:"created_at"`
}

// Ref returns the explicit version reference of the artifact.
func (a Artifact) Ref() ArtifactRef {
	return ArtifactRef{Name: a.Name, Tag: VersionTag(a.Version)}
}
