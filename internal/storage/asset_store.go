package storage

import (
	"context"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

const maxAssetBytes = 32 << 20

// FetchError is returned when the generated asset cannot be downloaded.
type FetchError struct {
	URL        string
	StatusCode int
	Err        error
}

func (e *FetchError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("fetch %s: status %d", e.URL, e.StatusCode)
	}
	return fmt.Sprintf("fetch %s: %v", e.URL, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// UploadError is returned when the object store rejects an upload.
type UploadError struct {
	Path string
	Err  error
}

func (e *UploadError) Error() string {
	return fmt.Sprintf("upload %s: %v", e.Path, e.Err)
}

func (e *UploadError) Unwrap() error {
	return e.Err
}

type AssetStoreConfig struct {
	FetchTimeout time.Duration
	HTTPClient   *http.Client
	Logger       zerolog.Logger
}

// AssetStore copies generated assets from their transient url into durable storage.
type AssetStore struct {
	objects      ObjectStore
	fetchTimeout time.Duration
	httpClient   *http.Client
	logger       zerolog.Logger
}

func NewAssetStore(objects ObjectStore, config AssetStoreConfig) *AssetStore {
	if config.FetchTimeout <= 0 {
		config.FetchTimeout = 60 * time.Second
	}
	if config.HTTPClient == nil {
		config.HTTPClient = &http.Client{}
	}
	return &AssetStore{
		objects:      objects,
		fetchTimeout: config.FetchTimeout,
		httpClient:   config.HTTPClient,
		logger:       config.Logger,
	}
}

// CharacterPath is the storage key of a character sheet; index is zero-based.
func CharacterPath(ownerID, jobID string, index int) string {
	return fmt.Sprintf("%s/%s/character-%03d.jpg", ownerID, jobID, index+1)
}

// PagePath is the storage key of a page image; index is zero-based.
func PagePath(ownerID, jobID string, index int) string {
	return fmt.Sprintf("%s/%s/page-%03d.jpg", ownerID, jobID, index+1)
}

func ProjectPrefix(ownerID, jobID string) string {
	return ownerID + "/" + jobID + "/"
}

// Persist downloads sourceURL and stores it at destinationPath, replacing any
// previous object, and returns its public locator.
func (s *AssetStore) Persist(ctx context.Context, sourceURL, destinationPath string) (string, error) {
	body, contentType, err := s.fetch(ctx, sourceURL)
	if err != nil {
		return "", err
	}
	if err := s.objects.Upload(ctx, destinationPath, body, contentType); err != nil {
		return "", &UploadError{Path: destinationPath, Err: err}
	}

	s.logger.Debug().
		Str("path", destinationPath).
		Str("content_type", contentType).
		Int("bytes", len(body)).
		Msg("asset persisted")
	return s.objects.PublicURL(destinationPath), nil
}

// DeleteProject removes every stored asset of one project.
func (s *AssetStore) DeleteProject(ctx context.Context, ownerID, jobID string) (int, error) {
	objects, err := s.objects.List(ctx, ProjectPrefix(ownerID, jobID))
	if err != nil {
		return 0, fmt.Errorf("list project assets: %w", err)
	}
	if len(objects) == 0 {
		return 0, nil
	}
	keys := make([]string, 0, len(objects))
	for _, object := range objects {
		keys = append(keys, object.Path)
	}
	if err := s.objects.Remove(ctx, keys...); err != nil {
		return 0, fmt.Errorf("remove project assets: %w", err)
	}
	return len(keys), nil
}

func (s *AssetStore) fetch(ctx context.Context, sourceURL string) ([]byte, string, error) {
	parsed, err := url.Parse(sourceURL)
	if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") {
		return nil, "", &FetchError{URL: sourceURL, Err: fmt.Errorf("not an http url")}
	}

	timeoutCtx, cancel := context.WithTimeout(ctx, s.fetchTimeout)
	defer cancel()

	request, err := http.NewRequestWithContext(timeoutCtx, http.MethodGet, sourceURL, nil)
	if err != nil {
		return nil, "", &FetchError{URL: sourceURL, Err: err}
	}
	response, err := s.httpClient.Do(request)
	if err != nil {
		return nil, "", &FetchError{URL: sourceURL, Err: err}
	}
	defer response.Body.Close()

	if response.StatusCode < 200 || response.StatusCode > 299 {
		return nil, "", &FetchError{URL: sourceURL, StatusCode: response.StatusCode}
	}

	body, err := io.ReadAll(io.LimitReader(response.Body, maxAssetBytes+1))
	if err != nil {
		return nil, "", &FetchError{URL: sourceURL, Err: err}
	}
	if len(body) > maxAssetBytes {
		return nil, "", &FetchError{URL: sourceURL, Err: fmt.Errorf("asset larger than %d bytes", maxAssetBytes)}
	}
	return body, detectContentType(response.Header.Get("Content-Type"), parsed.Path), nil
}

// detectContentType prefers the response header and falls back to the url extension.
func detectContentType(header, urlPath string) string {
	if mediaType, _, err := mime.ParseMediaType(header); err == nil && mediaType != "" && mediaType != "application/octet-stream" {
		return mediaType
	}
	switch strings.ToLower(path.Ext(urlPath)) {
	case ".png":
		return "image/png"
	case ".webp":
		return "image/webp"
	default:
		return "image/jpeg"
	}
}
