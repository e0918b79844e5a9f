package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

type SupabaseConfig struct {
	URL        string
	ServiceKey string
	Bucket     string
	Timeout    time.Duration
	HTTPClient *http.Client
}

// SupabaseStore talks to the Supabase storage REST API.
type SupabaseStore struct {
	baseURL    string
	serviceKey string
	bucket     string
	timeout    time.Duration
	httpClient *http.Client
}

func NewSupabaseStore(config SupabaseConfig) (*SupabaseStore, error) {
	if strings.TrimSpace(config.URL) == "" {
		return nil, errors.New("storage: supabase url is required")
	}
	if strings.TrimSpace(config.ServiceKey) == "" {
		return nil, errors.New("storage: supabase service key is required")
	}
	if strings.TrimSpace(config.Bucket) == "" {
		config.Bucket = "mangas"
	}
	if config.Timeout <= 0 {
		config.Timeout = 30 * time.Second
	}
	if config.HTTPClient == nil {
		config.HTTPClient = &http.Client{}
	}
	return &SupabaseStore{
		baseURL:    strings.TrimSuffix(strings.TrimSpace(config.URL), "/"),
		serviceKey: strings.TrimSpace(config.ServiceKey),
		bucket:     strings.TrimSpace(config.Bucket),
		timeout:    config.Timeout,
		httpClient: config.HTTPClient,
	}, nil
}

type storageHTTPError struct {
	Operation  string
	StatusCode int
	Message    string
}

func (e *storageHTTPError) Error() string {
	return fmt.Sprintf("supabase %s status %d: %s", e.Operation, e.StatusCode, e.Message)
}

func (s *SupabaseStore) Upload(ctx context.Context, key string, body []byte, contentType string) error {
	cleanKey, err := sanitizeKey(key)
	if err != nil {
		return err
	}
	headers := map[string]string{
		"Content-Type": contentType,
		"x-upsert":     "true",
	}
	_, err = s.do(ctx, "upload", http.MethodPost, s.objectURL(cleanKey), bytes.NewReader(body), headers)
	return err
}

func (s *SupabaseStore) PublicURL(key string) string {
	cleanKey, err := sanitizeKey(key)
	if err != nil {
		cleanKey = strings.TrimLeft(key, "/")
	}
	return s.baseURL + "/storage/v1/object/public/" + url.PathEscape(s.bucket) + "/" + escapePath(cleanKey)
}

func (s *SupabaseStore) List(ctx context.Context, prefix string) ([]Object, error) {
	cleanPrefix, err := sanitizeKey(prefix)
	if err != nil {
		return nil, err
	}
	payload, err := json.Marshal(map[string]any{
		"prefix": cleanPrefix,
		"limit":  1000,
		"offset": 0,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal list request: %w", err)
	}
	body, err := s.do(ctx, "list", http.MethodPost,
		s.baseURL+"/storage/v1/object/list/"+url.PathEscape(s.bucket),
		bytes.NewReader(payload),
		map[string]string{"Content-Type": "application/json"},
	)
	if err != nil {
		return nil, err
	}

	var entries []struct {
		Name     string `json:"name"`
		Metadata struct {
			Size int64 `json:"size"`
		} `json:"metadata"`
	}
	if err := json.Unmarshal(body, &entries); err != nil {
		return nil, fmt.Errorf("decode list response: %w", err)
	}
	objects := make([]Object, 0, len(entries))
	for _, entry := range entries {
		objects = append(objects, Object{
			Path: strings.TrimSuffix(cleanPrefix, "/") + "/" + entry.Name,
			Size: entry.Metadata.Size,
		})
	}
	return objects, nil
}

func (s *SupabaseStore) Remove(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	cleaned := make([]string, 0, len(keys))
	for _, key := range keys {
		cleanKey, err := sanitizeKey(key)
		if err != nil {
			return err
		}
		cleaned = append(cleaned, cleanKey)
	}
	payload, err := json.Marshal(map[string]any{"prefixes": cleaned})
	if err != nil {
		return fmt.Errorf("marshal remove request: %w", err)
	}
	_, err = s.do(ctx, "remove", http.MethodDelete,
		s.baseURL+"/storage/v1/object/"+url.PathEscape(s.bucket),
		bytes.NewReader(payload),
		map[string]string{"Content-Type": "application/json"},
	)
	return err
}

func (s *SupabaseStore) objectURL(key string) string {
	return s.baseURL + "/storage/v1/object/" + url.PathEscape(s.bucket) + "/" + escapePath(key)
}

func (s *SupabaseStore) do(
	ctx context.Context,
	operation string,
	method string,
	endpoint string,
	body io.Reader,
	headers map[string]string,
) ([]byte, error) {
	timeoutCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	request, err := http.NewRequestWithContext(timeoutCtx, method, endpoint, body)
	if err != nil {
		return nil, fmt.Errorf("create supabase %s request: %w", operation, err)
	}
	request.Header.Set("Authorization", "Bearer "+s.serviceKey)
	request.Header.Set("apikey", s.serviceKey)
	for key, value := range headers {
		request.Header.Set(key, value)
	}

	response, err := s.httpClient.Do(request)
	if err != nil {
		return nil, fmt.Errorf("supabase %s transport error: %w", operation, err)
	}
	defer response.Body.Close()

	responseBody, err := io.ReadAll(response.Body)
	if err != nil {
		return nil, fmt.Errorf("read supabase %s body: %w", operation, err)
	}
	if response.StatusCode < 200 || response.StatusCode > 299 {
		message := strings.TrimSpace(string(responseBody))
		if len(message) > 700 {
			message = message[:700]
		}
		return nil, &storageHTTPError{Operation: operation, StatusCode: response.StatusCode, Message: message}
	}
	return responseBody, nil
}

func escapePath(key string) string {
	parts := strings.Split(key, "/")
	for i, part := range parts {
		parts[i] = url.PathEscape(part)
	}
	return strings.Join(parts, "/")
}
