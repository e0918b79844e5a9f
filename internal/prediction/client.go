package prediction

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

type Status string

const (
	StatusStarting   Status = "starting"
	StatusProcessing Status = "processing"
	StatusSucceeded  Status = "succeeded"
	StatusFailed     Status = "failed"
	StatusCanceled   Status = "canceled"
	StatusTimeout    Status = "timeout"
)

func (s Status) Terminal() bool {
	return s == StatusSucceeded || s == StatusFailed || s == StatusCanceled
}

type Config struct {
	Token           string
	BaseURL         string
	RequestTimeout  time.Duration
	PollInterval    time.Duration
	MaxPollAttempts int
	// SubmitLimiter throttles create-prediction calls when set.
	SubmitLimiter *rate.Limiter
	HTTPClient    *http.Client
	Logger        zerolog.Logger
}

// Client talks to a Replicate-compatible prediction API.
type Client struct {
	token           string
	baseURL         string
	requestTimeout  time.Duration
	pollInterval    time.Duration
	maxPollAttempts int
	limiter         *rate.Limiter
	httpClient      *http.Client
	logger          zerolog.Logger
}

func NewClient(config Config) *Client {
	if strings.TrimSpace(config.BaseURL) == "" {
		config.BaseURL = "https://api.replicate.com"
	}
	if config.RequestTimeout <= 0 {
		config.RequestTimeout = 90 * time.Second
	}
	if config.PollInterval <= 0 {
		config.PollInterval = 2 * time.Second
	}
	if config.MaxPollAttempts <= 0 {
		config.MaxPollAttempts = 150
	}
	if config.HTTPClient == nil {
		config.HTTPClient = &http.Client{}
	}

	return &Client{
		token:           strings.TrimSpace(config.Token),
		baseURL:         strings.TrimSuffix(config.BaseURL, "/"),
		requestTimeout:  config.RequestTimeout,
		pollInterval:    config.PollInterval,
		maxPollAttempts: config.MaxPollAttempts,
		limiter:         config.SubmitLimiter,
		httpClient:      config.HTTPClient,
		logger:          config.Logger,
	}
}

// Handle identifies a submitted prediction. When the create call already
// returned a terminal state the handle carries it and AwaitResult does not poll.
type Handle struct {
	ID     string
	Model  string
	GetURL string
	Status Status

	output    json.RawMessage
	errorText string
}

// Output is the ordered list of chunks produced by a prediction.
type Output struct {
	Chunks []string
}

func (o Output) Text() string {
	return strings.Join(o.Chunks, "")
}

// First returns the first non-empty chunk, which is the asset url for image models.
func (o Output) First() string {
	for _, chunk := range o.Chunks {
		if strings.TrimSpace(chunk) != "" {
			return strings.TrimSpace(chunk)
		}
	}
	return ""
}

type predictionResponse struct {
	ID     string          `json:"id"`
	Status Status          `json:"status"`
	Output json.RawMessage `json:"output"`
	Error  any             `json:"error"`
	Detail string          `json:"detail"`
	URLs   struct {
		Get string `json:"get"`
	} `json:"urls"`
}

// Run submits a prediction and waits for its output.
func (c *Client) Run(ctx context.Context, model string, input any) (Output, error) {
	handle, err := c.Submit(ctx, model, input)
	if err != nil {
		return Output{}, err
	}
	return c.AwaitResult(ctx, handle)
}

func (c *Client) Submit(ctx context.Context, model string, input any) (Handle, error) {
	model = strings.TrimSpace(model)
	if model == "" {
		return Handle{}, ErrEmptyModel
	}
	if c.token == "" {
		return Handle{}, ErrMissingToken
	}
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return Handle{}, err
		}
	}

	encoded, err := json.Marshal(map[string]any{"input": input})
	if err != nil {
		return Handle{}, fmt.Errorf("marshal prediction input: %w", err)
	}

	timeoutCtx, cancel := context.WithTimeout(ctx, c.requestTimeout)
	defer cancel()

	endpoint := c.baseURL + "/v1/models/" + escapeModel(model) + "/predictions"
	request, err := http.NewRequestWithContext(timeoutCtx, http.MethodPost, endpoint, bytes.NewReader(encoded))
	if err != nil {
		return Handle{}, fmt.Errorf("create prediction request: %w", err)
	}
	request.Header.Set("Authorization", "Bearer "+c.token)
	request.Header.Set("Content-Type", "application/json")
	request.Header.Set("Prefer", "wait")

	response, err := c.httpClient.Do(request)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return Handle{}, ctxErr
		}
		return Handle{}, &SubmissionError{Model: model, Message: err.Error()}
	}
	defer response.Body.Close()

	body, err := io.ReadAll(response.Body)
	if err != nil {
		return Handle{}, fmt.Errorf("read prediction response: %w", err)
	}

	var raw predictionResponse
	decodeErr := json.Unmarshal(body, &raw)
	if response.StatusCode < 200 || response.StatusCode > 299 {
		message := upstreamMessage(raw, body)
		return Handle{}, &SubmissionError{Model: model, StatusCode: response.StatusCode, Message: message}
	}
	if decodeErr != nil {
		return Handle{}, &SubmissionError{Model: model, StatusCode: response.StatusCode, Message: "invalid response body: " + decodeErr.Error()}
	}
	if raw.URLs.Get == "" && !raw.Status.Terminal() {
		return Handle{}, &SubmissionError{Model: model, StatusCode: response.StatusCode, Message: "response without status url"}
	}

	c.logger.Debug().
		Str("model", model).
		Str("prediction_id", raw.ID).
		Str("status", string(raw.Status)).
		Msg("prediction submitted")

	return Handle{
		ID:        raw.ID,
		Model:     model,
		GetURL:    raw.URLs.Get,
		Status:    raw.Status,
		output:    raw.Output,
		errorText: errorText(raw.Error),
	}, nil
}

// AwaitResult polls the prediction every PollInterval until it reaches a
// terminal state, the poll budget is exhausted or ctx is done.
func (c *Client) AwaitResult(ctx context.Context, handle Handle) (Output, error) {
	if handle.Status.Terminal() {
		return settle(handle.ID, handle.Status, handle.output, handle.errorText)
	}

	timer := time.NewTimer(c.pollInterval)
	defer timer.Stop()

	var lastErr error
	for attempt := 1; attempt <= c.maxPollAttempts; attempt++ {
		select {
		case <-ctx.Done():
			return Output{}, ctx.Err()
		case <-timer.C:
		}

		raw, err := c.fetchStatus(ctx, handle.GetURL)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return Output{}, ctxErr
			}
			if !isRetryablePollError(err) {
				return Output{}, &PredictionError{ID: handle.ID, Status: StatusFailed, Err: err}
			}
			lastErr = err
			c.logger.Warn().Err(err).Str("prediction_id", handle.ID).Int("attempt", attempt).Msg("prediction poll failed")
			timer.Reset(c.pollInterval)
			continue
		}

		if raw.Status.Terminal() {
			return settle(handle.ID, raw.Status, raw.Output, errorText(raw.Error))
		}
		timer.Reset(c.pollInterval)
	}

	err := ErrPollTimeout
	if lastErr != nil {
		err = fmt.Errorf("%w: last error: %v", ErrPollTimeout, lastErr)
	}
	return Output{}, &PredictionError{ID: handle.ID, Status: StatusTimeout, Err: err}
}

func (c *Client) fetchStatus(ctx context.Context, getURL string) (predictionResponse, error) {
	timeoutCtx, cancel := context.WithTimeout(ctx, c.requestTimeout)
	defer cancel()

	request, err := http.NewRequestWithContext(timeoutCtx, http.MethodGet, getURL, nil)
	if err != nil {
		return predictionResponse{}, &statusHTTPError{StatusCode: http.StatusBadRequest, Message: err.Error()}
	}
	request.Header.Set("Authorization", "Bearer "+c.token)

	response, err := c.httpClient.Do(request)
	if err != nil {
		return predictionResponse{}, fmt.Errorf("poll prediction: %w", err)
	}
	defer response.Body.Close()

	body, err := io.ReadAll(response.Body)
	if err != nil {
		return predictionResponse{}, fmt.Errorf("read prediction status: %w", err)
	}

	var raw predictionResponse
	decodeErr := json.Unmarshal(body, &raw)
	if response.StatusCode < 200 || response.StatusCode > 299 {
		return predictionResponse{}, &statusHTTPError{StatusCode: response.StatusCode, Message: upstreamMessage(raw, body)}
	}
	if decodeErr != nil {
		return predictionResponse{}, fmt.Errorf("decode prediction status: %w", decodeErr)
	}
	return raw, nil
}

func settle(id string, status Status, output json.RawMessage, errText string) (Output, error) {
	if status != StatusSucceeded {
		if errText == "" {
			errText = "prediction failed without error message"
		}
		return Output{}, &PredictionError{ID: id, Status: status, Message: errText}
	}
	chunks, err := normalizeOutput(output)
	if err != nil {
		return Output{}, &PredictionError{ID: id, Status: status, Message: "unreadable output", Err: err}
	}
	return Output{Chunks: chunks}, nil
}

// normalizeOutput accepts a single string, a list of strings or null.
func normalizeOutput(raw json.RawMessage) ([]string, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return []string{}, nil
	}
	var single string
	if err := json.Unmarshal(trimmed, &single); err == nil {
		return []string{single}, nil
	}
	var list []any
	if err := json.Unmarshal(trimmed, &list); err != nil {
		return nil, err
	}
	chunks := make([]string, 0, len(list))
	for _, item := range list {
		switch typed := item.(type) {
		case string:
			chunks = append(chunks, typed)
		case nil:
		default:
			encoded, _ := json.Marshal(typed)
			chunks = append(chunks, string(encoded))
		}
	}
	return chunks, nil
}

func errorText(value any) string {
	switch typed := value.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(typed)
	default:
		encoded, _ := json.Marshal(typed)
		return string(encoded)
	}
}

func upstreamMessage(raw predictionResponse, body []byte) string {
	if message := errorText(raw.Error); message != "" {
		return message
	}
	if strings.TrimSpace(raw.Detail) != "" {
		return strings.TrimSpace(raw.Detail)
	}
	message := strings.TrimSpace(string(body))
	if len(message) > 700 {
		message = message[:700]
	}
	if message == "" {
		return "unknown error"
	}
	return message
}

// escapeModel keeps the owner/name separator of model identifiers.
func escapeModel(model string) string {
	parts := strings.Split(model, "/")
	for i, part := range parts {
		parts[i] = url.PathEscape(part)
	}
	return strings.Join(parts, "/")
}
