package audio

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/uuid"
)

// Artifact is a temporary file owned by one job. Release deletes it exactly
// once; further calls are no-ops.
type Artifact struct {
	Path string

	once   sync.Once
	remove func(string) error
	err    error
}

// Release deletes the artifact. A missing file is not an error.
func (a *Artifact) Release() error {
	a.once.Do(func() {
		if err := a.remove(a.Path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			a.err = fmt.Errorf("remove artifact %s: %w", a.Path, err)
		}
	})
	return a.err
}

// Scope tracks every artifact created for a job so that a single deferred
// Release removes all of them on any exit path.
type Scope struct {
	dir    string
	logger *slog.Logger
	remove func(string) error

	mu        sync.Mutex
	artifacts []*Artifact
}

// ScopeOption configures a Scope.
type ScopeOption func(*Scope)

// WithRemoveFunc replaces the function used to delete artifacts.
func WithRemoveFunc(fn func(string) error) ScopeOption {
	return func(s *Scope) {
		s.remove = fn
	}
}

// WithScopeLogger sets the logger used to report swallowed cleanup errors.
func WithScopeLogger(logger *slog.Logger) ScopeOption {
	return func(s *Scope) {
		s.logger = logger
	}
}

// NewScope creates a scope placing new artifacts under dir.
func NewScope(dir string, opts ...ScopeOption) *Scope {
	s := &Scope{
		dir:    dir,
		logger: slog.Default(),
		remove: os.Remove,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// New allocates and tracks an artifact path named "<prefix>_<uuid>.<ext>".
// The file itself is not created.
func (s *Scope) New(prefix, ext string) *Artifact {
	name := fmt.Sprintf("%s_%s.%s", prefix, uuid.NewString(), ext)
	return s.Track(filepath.Join(s.dir, name))
}

// Track registers an existing path for cleanup.
func (s *Scope) Track(path string) *Artifact {
	a := &Artifact{Path: path, remove: s.remove}
	s.mu.Lock()
	s.artifacts = append(s.artifacts, a)
	s.mu.Unlock()
	return a
}

// Len returns the number of tracked artifacts.
func (s *Scope) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.artifacts)
}

// Release deletes every tracked artifact. Errors are logged and swallowed.
func (s *Scope) Release() {
	s.mu.Lock()
	artifacts := s.artifacts
	s.mu.Unlock()

	for _, a := range artifacts {
		if err := a.Release(); err != nil {
			s.logger.Warn("artifact cleanup failed",
				slog.String("path", a.Path),
				slog.String("error", err.Error()),
			)
		}
	}
}
