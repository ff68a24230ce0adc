package storage

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/polisai/rentalprep/pkg/domain"
)

const indexFile = "index.json"

type artifactEntry struct {
	Versions []domain.Artifact `json:"versions"`
	Aliases  map[string]int    `json:"aliases,omitempty"`
}

type index struct {
	Artifacts map[string]*artifactEntry `json:"artifacts"`
}

// FileArtifactStore keeps artifacts under a root directory. The index is
// re-read on every operation so separate processes sharing the root observe
// each other's writes.
type FileArtifactStore struct {
	mu   sync.Mutex
	root string
	now  func() time.Time
}

// NewFileArtifactStore creates the store root if needed.
func NewFileArtifactStore(root string) (*FileArtifactStore, error) {
	if strings.TrimSpace(root) == "" {
		return nil, fmt.Errorf("artifact store root is required")
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve artifact store root: %w", err)
	}
	if err := os.MkdirAll(filepath.Join(abs, "objects"), 0o755); err != nil {
		return nil, fmt.Errorf("create artifact store: %w", err)
	}
	return &FileArtifactStore{root: abs, now: time.Now}, nil
}

// Root returns the absolute store directory.
func (s *FileArtifactStore) Root() string {
	return s.root
}

// Get resolves ref to a version.
func (s *FileArtifactStore) Get(ctx context.Context, ref domain.ArtifactRef) (domain.Artifact, error) {
	if err := ctx.Err(); err != nil {
		return domain.Artifact{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	idx, err := s.load()
	if err != nil {
		return domain.Artifact{}, err
	}
	art, err := resolve(idx, ref)
	if err != nil {
		return domain.Artifact{}, err
	}
	return s.withAbsPath(art), nil
}

// Put registers req.File as the next version of req.Name.
func (s *FileArtifactStore) Put(ctx context.Context, req PutRequest) (domain.Artifact, error) {
	arts, err := s.PutAll(ctx, []PutRequest{req})
	if err != nil {
		return domain.Artifact{}, err
	}
	return arts[0], nil
}

// PutAll copies every request file into the store and then publishes all new
// versions with a single index write. When any copy fails nothing is published.
func (s *FileArtifactStore) PutAll(ctx context.Context, reqs []PutRequest) ([]domain.Artifact, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	for _, req := range reqs {
		if err := validateName(req.Name); err != nil {
			return nil, err
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	idx, err := s.load()
	if err != nil {
		return nil, err
	}

	var copied []string
	discard := func() {
		for _, path := range copied {
			_ = os.Remove(path)
		}
	}

	staged := make([]domain.Artifact, 0, len(reqs))
	next := make(map[string]int)
	for _, req := range reqs {
		version, seen := next[req.Name]
		if !seen {
			if entry := idx.Artifacts[req.Name]; entry != nil {
				version = len(entry.Versions)
			}
		}
		next[req.Name] = version + 1

		rel := filepath.Join("objects", req.Name, domain.VersionTag(version), req.Name)
		dst := filepath.Join(s.root, rel)
		digest, size, err := copyFile(req.File, dst)
		if err != nil {
			discard()
			return nil, fmt.Errorf("store artifact %s: %w", req.Name, err)
		}
		copied = append(copied, dst)

		staged = append(staged, domain.Artifact{
			ID:          uuid.New().String(),
			Name:        req.Name,
			Version:     version,
			Type:        req.Type,
			Description: req.Description,
			Digest:      "sha256:" + digest,
			Size:        size,
			Path:        rel,
			Metadata:    copyMetadata(req.Metadata),
			CreatedAt:   s.now().UTC(),
		})
	}

	for _, art := range staged {
		entry := idx.Artifacts[art.Name]
		if entry == nil {
			entry = &artifactEntry{}
			idx.Artifacts[art.Name] = entry
		}
		entry.Versions = append(entry.Versions, art)
	}
	if err := s.save(idx); err != nil {
		discard()
		return nil, err
	}

	out := make([]domain.Artifact, 0, len(staged))
	for _, art := range staged {
		out = append(out, s.withAbsPath(decorate(idx.Artifacts[art.Name], art)))
	}
	return out, nil
}

// SetAlias moves alias to the version ref resolves to.
func (s *FileArtifactStore) SetAlias(ctx context.Context, ref domain.ArtifactRef, alias string) (domain.Artifact, error) {
	if err := ctx.Err(); err != nil {
		return domain.Artifact{}, err
	}
	alias = strings.TrimSpace(alias)
	if alias == "" || strings.Contains(alias, ":") {
		return domain.Artifact{}, fmt.Errorf("invalid alias %q", alias)
	}
	if _, isVersion := domain.ParseVersionTag(alias); isVersion || alias == domain.TagLatest {
		return domain.Artifact{}, fmt.Errorf("%w: %s", ErrReservedAlias, alias)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	idx, err := s.load()
	if err != nil {
		return domain.Artifact{}, err
	}
	art, err := resolve(idx, ref)
	if err != nil {
		return domain.Artifact{}, err
	}
	entry := idx.Artifacts[ref.Name]
	if entry.Aliases == nil {
		entry.Aliases = make(map[string]int)
	}
	entry.Aliases[alias] = art.Version
	if err := s.save(idx); err != nil {
		return domain.Artifact{}, err
	}
	return s.withAbsPath(decorate(entry, entry.Versions[art.Version])), nil
}

// List returns all versions of name, oldest first.
func (s *FileArtifactStore) List(ctx context.Context, name string) ([]domain.Artifact, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	idx, err := s.load()
	if err != nil {
		return nil, err
	}
	entry, ok := idx.Artifacts[name]
	if !ok || len(entry.Versions) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	out := make([]domain.Artifact, 0, len(entry.Versions))
	for _, v := range entry.Versions {
		out = append(out, s.withAbsPath(decorate(entry, v)))
	}
	return out, nil
}

func resolve(idx *index, ref domain.ArtifactRef) (domain.Artifact, error) {
	entry, ok := idx.Artifacts[ref.Name]
	if !ok || len(entry.Versions) == 0 {
		return domain.Artifact{}, fmt.Errorf("%w: %s", ErrNotFound, ref)
	}
	tag := ref.Tag
	if tag == "" {
		tag = domain.TagLatest
	}

	version := -1
	switch {
	case tag == domain.TagLatest:
		version = len(entry.Versions) - 1
	default:
		if n, isVersion := domain.ParseVersionTag(tag); isVersion {
			version = n
		} else if n, aliased := entry.Aliases[tag]; aliased {
			version = n
		}
	}
	if version < 0 || version >= len(entry.Versions) {
		return domain.Artifact{}, fmt.Errorf("%w: %s", ErrNotFound, ref)
	}
	return decorate(entry, entry.Versions[version]), nil
}

// decorate fills Aliases from the entry's alias table.
func decorate(entry *artifactEntry, art domain.Artifact) domain.Artifact {
	var aliases []string
	if art.Version == len(entry.Versions)-1 {
		aliases = append(aliases, domain.TagLatest)
	}
	for alias, v := range entry.Aliases {
		if v == art.Version {
			aliases = append(aliases, alias)
		}
	}
	sort.Strings(aliases)
	art.Aliases = aliases
	return art
}

func (s *FileArtifactStore) withAbsPath(art domain.Artifact) domain.Artifact {
	art.Path = filepath.Join(s.root, art.Path)
	return art
}

func (s *FileArtifactStore) load() (*index, error) {
	idx := &index{Artifacts: make(map[string]*artifactEntry)}
	data, err := os.ReadFile(filepath.Join(s.root, indexFile))
	if errors.Is(err, os.ErrNotExist) {
		return idx, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read artifact index: %w", err)
	}
	if err := json.Unmarshal(data, idx); err != nil {
		return nil, fmt.Errorf("decode artifact index: %w", err)
	}
	if idx.Artifacts == nil {
		idx.Artifacts = make(map[string]*artifactEntry)
	}
	return idx, nil
}

func (s *FileArtifactStore) save(idx *index) error {
	data, err := json.MarshalIndent(idx, "", "  ")
	if err != nil {
		return fmt.Errorf("encode artifact index: %w", err)
	}
	tmp, err := os.CreateTemp(s.root, ".index-*.json")
	if err != nil {
		return fmt.Errorf("write artifact index: %w", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write artifact index: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("write artifact index: %w", err)
	}
	return os.Rename(tmp.Name(), filepath.Join(s.root, indexFile))
}

func copyFile(src, dst string) (string, int64, error) {
	//nolint:gosec // Source paths are step outputs or operator supplied files
	in, err := os.Open(src)
	if err != nil {
		return "", 0, err
	}
	defer in.Close()

	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return "", 0, err
	}
	out, err := os.OpenFile(dst, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return "", 0, err
	}

	hash := sha256.New()
	size, err := io.Copy(io.MultiWriter(out, hash), in)
	if closeErr := out.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		_ = os.Remove(dst)
		return "", 0, err
	}
	return hex.EncodeToString(hash.Sum(nil)), size, nil
}

func validateName(name string) error {
	switch {
	case strings.TrimSpace(name) == "":
		return fmt.Errorf("artifact name is required")
	case strings.ContainsAny(name, `:/\`), name == ".", name == "..":
		return fmt.Errorf("invalid artifact name %q", name)
	}
	return nil
}

func copyMetadata(in map[string]string) map[string]string {
	if len(in) == 0 {
		return nil
	}
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
