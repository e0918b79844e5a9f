package storage

import (
	"context"
	"errors"
	"path"
	"strings"
)

var ErrInvalidKey = errors.New("storage: invalid key")

// Object describes one stored entry.
type Object struct {
	Path string `json:"path"`
	Size int64  `json:"size"`
}

// ObjectStore is the durable backend for generated assets. Upload always
// overwrites an existing object at the same path.
type ObjectStore interface {
	Upload(ctx context.Context, key string, body []byte, contentType string) error
	PublicURL(key string) string
	List(ctx context.Context, prefix string) ([]Object, error)
	Remove(ctx context.Context, keys ...string) error
}

// sanitizeKey normalizes a key and prevents escaping the storage root.
func sanitizeKey(key string) (string, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return "", ErrInvalidKey
	}
	key = strings.ReplaceAll(key, "\\", "/")
	key = strings.TrimPrefix(key, "./")
	key = strings.TrimLeft(key, "/")
	cleaned := path.Clean(key)
	if cleaned == "." || cleaned == ".." || strings.HasPrefix(cleaned, "../") {
		return "", ErrInvalidKey
	}
	return cleaned, nil
}
