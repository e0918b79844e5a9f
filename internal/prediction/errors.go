package prediction

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	ErrEmptyModel   = errors.New("model is required")
	ErrMissingToken = errors.New("prediction api token is not configured")
	// ErrPollTimeout is wrapped by the PredictionError returned when the poll budget runs out.
	ErrPollTimeout = errors.New("prediction did not reach a terminal state in time")
)

// SubmissionError is returned when the create-prediction request is rejected.
type SubmissionError struct {
	Model      string
	StatusCode int
	Message    string
}

func (e *SubmissionError) Error() string {
	return fmt.Sprintf("submit prediction %s: status %d: %s", e.Model, e.StatusCode, e.Message)
}

// PredictionError is returned when a prediction ends in a non-success state.
type PredictionError struct {
	ID      string
	Status  Status
	Message string
	Err     error
}

func (e *PredictionError) Error() string {
	if e.Message == "" && e.Err != nil {
		return fmt.Sprintf("prediction %s %s: %v", e.ID, e.Status, e.Err)
	}
	return fmt.Sprintf("prediction %s %s: %s", e.ID, e.Status, e.Message)
}

func (e *PredictionError) Unwrap() error {
	return e.Err
}

type statusHTTPError struct {
	StatusCode int
	Message    string
}

func (e *statusHTTPError) Error() string {
	return fmt.Sprintf("prediction status %d: %s", e.StatusCode, e.Message)
}

func isRetryablePollError(err error) bool {
	if err == nil {
		return false
	}
	var httpErr *statusHTTPError
	if errors.As(err, &httpErr) {
		return httpErr.StatusCode == http.StatusTooManyRequests || httpErr.StatusCode >= 500
	}
	// transport failures and malformed bodies are retried within the poll budget
	return true
}
