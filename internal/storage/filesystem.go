package storage

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// FileStore persists assets onto the local filesystem. The HTTP server
// exposes the root directory so PublicURL resolves to a served file.
type FileStore struct {
	basePath      string
	publicBaseURL string
}

func NewFileStore(basePath, publicBaseURL string) (*FileStore, error) {
	basePath = strings.TrimSpace(basePath)
	if basePath == "" {
		return nil, errors.New("storage: base path is required")
	}
	if err := os.MkdirAll(basePath, 0o755); err != nil {
		return nil, fmt.Errorf("storage: ensure base path: %w", err)
	}
	return &FileStore{
		basePath:      basePath,
		publicBaseURL: strings.TrimSuffix(strings.TrimSpace(publicBaseURL), "/"),
	}, nil
}

func (s *FileStore) BasePath() string {
	return s.basePath
}

func (s *FileStore) Upload(ctx context.Context, key string, body []byte, _ string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	cleanKey, err := sanitizeKey(key)
	if err != nil {
		return err
	}
	fullPath := filepath.Join(s.basePath, filepath.FromSlash(cleanKey))
	if err := os.MkdirAll(filepath.Dir(fullPath), 0o755); err != nil {
		return fmt.Errorf("storage: ensure directory: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(fullPath), ".upload-*")
	if err != nil {
		return fmt.Errorf("storage: create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(body); err != nil {
		tmp.Close()
		return fmt.Errorf("storage: write file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("storage: close file: %w", err)
	}
	if err := os.Chmod(tmp.Name(), 0o644); err != nil {
		return fmt.Errorf("storage: chmod file: %w", err)
	}
	if err := os.Rename(tmp.Name(), fullPath); err != nil {
		return fmt.Errorf("storage: replace file: %w", err)
	}
	return nil
}

func (s *FileStore) PublicURL(key string) string {
	cleanKey, err := sanitizeKey(key)
	if err != nil {
		cleanKey = strings.TrimLeft(key, "/")
	}
	return s.publicBaseURL + "/" + cleanKey
}

func (s *FileStore) List(ctx context.Context, prefix string) ([]Object, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	cleanPrefix, err := sanitizeKey(prefix)
	if err != nil {
		return nil, err
	}
	root := filepath.Join(s.basePath, filepath.FromSlash(cleanPrefix))

	objects := make([]Object, 0)
	err = filepath.WalkDir(root, func(fullPath string, entry fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			if errors.Is(walkErr, fs.ErrNotExist) {
				return fs.SkipAll
			}
			return walkErr
		}
		if entry.IsDir() || strings.HasPrefix(entry.Name(), ".upload-") {
			return nil
		}
		info, err := entry.Info()
		if err != nil {
			return err
		}
		relative, err := filepath.Rel(s.basePath, fullPath)
		if err != nil {
			return err
		}
		objects = append(objects, Object{Path: filepath.ToSlash(relative), Size: info.Size()})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("storage: list %s: %w", cleanPrefix, err)
	}
	sort.Slice(objects, func(i, j int) bool { return objects[i].Path < objects[j].Path })
	return objects, nil
}

func (s *FileStore) Remove(ctx context.Context, keys ...string) error {
	for _, key := range keys {
		if err := ctx.Err(); err != nil {
			return err
		}
		cleanKey, err := sanitizeKey(key)
		if err != nil {
			return err
		}
		fullPath := filepath.Join(s.basePath, filepath.FromSlash(cleanKey))
		if err := os.Remove(fullPath); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("storage: remove %s: %w", cleanKey, err)
		}
	}
	return nil
}
