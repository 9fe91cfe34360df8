// Package storage persists raw uploads and rendered artifacts and hands
// back the locator the rest of the pipeline carries around.
package storage

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
)

// Store is the artifact storage boundary.
type Store interface {
	// Put persists data under name and returns its locator.
	Put(ctx context.Context, name string, data []byte) (string, error)
	// Fetch loads content by the locator a previous Put (or upload)
	// returned.
	Fetch(ctx context.Context, ref string) ([]byte, error)
}

// LocalStore keeps files in a flat directory; locators are absolute paths.
type LocalStore struct {
	dir    string
	logger *slog.Logger
}

func NewLocalStore(dir string, logger *slog.Logger) (*LocalStore, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create storage dir: %w", err)
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("resolve storage dir: %w", err)
	}
	return &LocalStore{dir: abs, logger: logger}, nil
}

func (s *LocalStore) Put(_ context.Context, name string, data []byte) (string, error) {
	path := filepath.Join(s.dir, filepath.Base(name))
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("write %s: %w", path, err)
	}
	s.logger.Debug("stored file", "path", path, "bytes", len(data))
	return path, nil
}

func (s *LocalStore) Fetch(_ context.Context, ref string) ([]byte, error) {
	data, err := os.ReadFile(ref)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", ref, err)
	}
	return data, nil
}
