package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"go.uber.org/zap"
)

type LocalStore struct {
	baseDir string
	logger  *zap.Logger
}

var _ ObjectStore = (*LocalStore)(nil)

// NewLocalStore stores objects as files under baseDir, creating it if needed.
func NewLocalStore(baseDir string, logger *zap.Logger) (*LocalStore, error) {
	if baseDir == "" {
		return nil, fmt.Errorf("local store: base directory must be set")
	}

	info, err := os.Stat(baseDir)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		if err := os.MkdirAll(baseDir, 0o755); err != nil {
			return nil, fmt.Errorf("local store: failed to create %q: %w", baseDir, err)
		}
	case err != nil:
		return nil, fmt.Errorf("local store: failed to stat %q: %w", baseDir, err)
	case !info.IsDir():
		return nil, fmt.Errorf("local store: %q is not a directory", baseDir)
	}

	abs, err := filepath.Abs(baseDir)
	if err != nil {
		return nil, fmt.Errorf("local store: %w", err)
	}

	return &LocalStore{baseDir: abs, logger: logger}, nil
}

func (s *LocalStore) Type() string {
	return "local"
}

func (s *LocalStore) Close() error {
	return nil
}

func (s *LocalStore) Upload(_ context.Context, objectName string, data io.Reader, _ string) error {
	fullPath, err := s.resolvePath(objectName)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(fullPath), 0o755); err != nil {
		return fmt.Errorf("failed to create directory for %q: %w", objectName, err)
	}

	// write to a sibling temp file so readers never see a partial object
	tmp, err := os.CreateTemp(filepath.Dir(fullPath), ".upload-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file for %q: %w", objectName, err)
	}
	defer os.Remove(tmp.Name())

	if _, err := io.Copy(tmp, data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write %q: %w", objectName, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to write %q: %w", objectName, err)
	}
	if err := os.Rename(tmp.Name(), fullPath); err != nil {
		return fmt.Errorf("failed to move %q into place: %w", objectName, err)
	}

	s.logger.Debug("Object stored",
		zap.String("store", "local"),
		zap.String("object", objectName))
	return nil
}

func (s *LocalStore) Download(_ context.Context, objectName string) (io.ReadCloser, error) {
	fullPath, err := s.resolvePath(objectName)
	if err != nil {
		return nil, err
	}

	file, err := os.Open(fullPath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrObjectNotFound, objectName)
		}
		return nil, fmt.Errorf("failed to open %q: %w", objectName, err)
	}
	return file, nil
}

// ListObjects calls fn for every object whose name starts with prefix, in
// lexical order.
func (s *LocalStore) ListObjects(_ context.Context, prefix string, fn func(objectName string) error) error {
	var names []string
	err := filepath.WalkDir(s.baseDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || strings.HasPrefix(d.Name(), ".upload-") {
			return nil
		}

		rel, err := filepath.Rel(s.baseDir, path)
		if err != nil {
			return err
		}
		name := filepath.ToSlash(rel)
		if strings.HasPrefix(name, prefix) {
			names = append(names, name)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to list objects with prefix %q: %w", prefix, err)
	}

	sort.Strings(names)
	for _, name := range names {
		if err := fn(name); err != nil {
			return err
		}
	}
	return nil
}

// resolvePath maps an object name to a file path and rejects names that
// would escape the base directory.
func (s *LocalStore) resolvePath(objectName string) (string, error) {
	if objectName == "" {
		return "", fmt.Errorf("object name must not be empty")
	}

	fullPath := filepath.Join(s.baseDir, filepath.FromSlash(objectName))
	if fullPath != s.baseDir && !strings.HasPrefix(fullPath, s.baseDir+string(filepath.Separator)) {
		return "", fmt.Errorf("object name %q escapes the store directory", objectName)
	}
	return fullPath, nil
}
