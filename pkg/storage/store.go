// Package storage provides the versioned artifact store shared by pipeline steps.
// Artifacts are append-only: every Put creates a new version and aliases are
// movable pointers to existing versions.
package storage

import (
	"context"
	"errors"

	"github.com/polisai/rentalprep/pkg/domain"
)

// ErrNotFound is returned when a requested artifact or version does not exist in the store.
var ErrNotFound = domain.ErrArtifactNotFound

// ErrReservedAlias is returned when an alias would shadow latest or a version tag.
var ErrReservedAlias = errors.New("alias is reserved")

// PutRequest describes a local file to register as a new artifact version.
type PutRequest struct {
	Name        string
	Type        string
	Description string
	File        string
	Metadata    map[string]string
}

// ArtifactStore exposes persistence operations for artifacts.
type ArtifactStore interface {
	// Get resolves ref and returns the artifact whose Path points at a readable local file.
	Get(ctx context.Context, ref domain.ArtifactRef) (domain.Artifact, error)
	// Put copies the request file into the store as the next version of Name.
	Put(ctx context.Context, req PutRequest) (domain.Artifact, error)
	// PutAll registers every request or none of them.
	PutAll(ctx context.Context, reqs []PutRequest) ([]domain.Artifact, error)
	// SetAlias points alias at the version ref resolves to, moving it if needed.
	SetAlias(ctx context.Context, ref domain.ArtifactRef, alias string) (domain.Artifact, error)
	// List returns every version of name, oldest first.
	List(ctx context.Context, name string) ([]domain.Artifact, error)
}
