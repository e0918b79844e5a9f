package prediction

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(baseURL string, maxPolls int) *Client {
	return NewClient(Config{
		Token:           "test-token",
		BaseURL:         baseURL,
		RequestTimeout:  2 * time.Second,
		PollInterval:    5 * time.Millisecond,
		MaxPollAttempts: maxPolls,
	})
}

func TestClientRunPollsUntilSucceeded(t *testing.T) {
	var polls int32
	var server *httptest.Server
	server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer test-token", r.Header.Get("Authorization"))
		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/v1/models/openai/gpt-5/predictions":
			assert.Equal(t, "wait", r.Header.Get("Prefer"))
			var body map[string]any
			require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			assert.Contains(t, body, "input")
			_, _ = w.Write([]byte(`{"id":"p1","status":"starting","urls":{"get":"` + server.URL + `/v1/predictions/p1"}}`))
		case r.Method == http.MethodGet && r.URL.Path == "/v1/predictions/p1":
			if atomic.AddInt32(&polls, 1) < 3 {
				_, _ = w.Write([]byte(`{"id":"p1","status":"processing"}`))
				return
			}
			_, _ = w.Write([]byte(`{"id":"p1","status":"succeeded","output":["{\"title\":", "\"x\"}"]}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer server.Close()

	client := newTestClient(server.URL, 10)
	output, err := client.Run(context.Background(), "openai/gpt-5", map[string]any{"prompt": "hi"})
	require.NoError(t, err)
	assert.Equal(t, `{"title":"x"}`, output.Text())
	assert.Equal(t, int32(3), atomic.LoadInt32(&polls))
}

func TestClientImmediateSuccessSkipsPolling(t *testing.T) {
	var gets int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			atomic.AddInt32(&gets, 1)
		}
		_, _ = w.Write([]byte(`{"id":"p2","status":"succeeded","output":"https://cdn.example/img.jpg","urls":{"get":"unused"}}`))
	}))
	defer server.Close()

	output, err := newTestClient(server.URL, 3).Run(context.Background(), "google/nano-banana", map[string]any{})
	require.NoError(t, err)
	assert.Equal(t, "https://cdn.example/img.jpg", output.First())
	assert.Zero(t, atomic.LoadInt32(&gets))
}

func TestClientSubmitErrorCarriesUpstreamMessage(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		_, _ = w.Write([]byte(`{"detail":"input.prompt is required"}`))
	}))
	defer server.Close()

	_, err := newTestClient(server.URL, 3).Submit(context.Background(), "openai/gpt-5", map[string]any{})
	var submitErr *SubmissionError
	require.ErrorAs(t, err, &submitErr)
	assert.Equal(t, http.StatusUnprocessableEntity, submitErr.StatusCode)
	assert.Equal(t, "input.prompt is required", submitErr.Message)
}

func TestClientSubmitRequiresModel(t *testing.T) {
	_, err := newTestClient("http://127.0.0.1:0", 1).Submit(context.Background(), "  ", nil)
	assert.ErrorIs(t, err, ErrEmptyModel)
}

func TestClientFailedPredictionReturnsPredictionError(t *testing.T) {
	var server *httptest.Server
	server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			_, _ = w.Write([]byte(`{"id":"p3","status":"starting","urls":{"get":"` + server.URL + `/p3"}}`))
			return
		}
		_, _ = w.Write([]byte(`{"id":"p3","status":"failed","error":"NSFW content detected"}`))
	}))
	defer server.Close()

	_, err := newTestClient(server.URL, 3).Run(context.Background(), "google/nano-banana", map[string]any{})
	var predictionErr *PredictionError
	require.ErrorAs(t, err, &predictionErr)
	assert.Equal(t, StatusFailed, predictionErr.Status)
	assert.Equal(t, "NSFW content detected", predictionErr.Message)
}

func TestClientPollBudgetExhausted(t *testing.T) {
	var server *httptest.Server
	server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			_, _ = w.Write([]byte(`{"id":"p4","status":"starting","urls":{"get":"` + server.URL + `/p4"}}`))
			return
		}
		_, _ = w.Write([]byte(`{"id":"p4","status":"processing"}`))
	}))
	defer server.Close()

	_, err := newTestClient(server.URL, 2).Run(context.Background(), "google/nano-banana", map[string]any{})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrPollTimeout)
}

func TestClientRetriesTransientPollFailures(t *testing.T) {
	var polls int32
	var server *httptest.Server
	server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			_, _ = w.Write([]byte(`{"id":"p5","status":"starting","urls":{"get":"` + server.URL + `/p5"}}`))
			return
		}
		if atomic.AddInt32(&polls, 1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_, _ = w.Write([]byte(`{"id":"p5","status":"succeeded","output":["a","b"]}`))
	}))
	defer server.Close()

	output, err := newTestClient(server.URL, 5).Run(context.Background(), "m/x", nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, output.Chunks)
}

func TestClientAwaitResultHonorsCancellation(t *testing.T) {
	client := NewClient(Config{Token: "t", PollInterval: time.Hour})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := client.AwaitResult(ctx, Handle{ID: "p6", GetURL: "http://unused", Status: StatusStarting})
	assert.True(t, errors.Is(err, context.Canceled))
}

func TestNormalizeOutput(t *testing.T) {
	chunks, err := normalizeOutput(json.RawMessage(`null`))
	require.NoError(t, err)
	assert.Empty(t, chunks)

	chunks, err = normalizeOutput(json.RawMessage(`"x"`))
	require.NoError(t, err)
	assert.Equal(t, []string{"x"}, chunks)

	_, err = normalizeOutput(json.RawMessage(`{"a":1}`))
	assert.Error(t, err)
}
