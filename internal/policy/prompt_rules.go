package policy

import (
	"errors"
	"strings"
	"unicode/utf8"
)

const MaxPromptLength = 4000

var ErrContentPolicyViolation = errors.New("content policy violation")

type Violation struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type Evaluation struct {
	Allowed    bool        `json:"allowed"`
	Violations []Violation `json:"violations,omitempty"`
}

type PolicyViolationError struct {
	Violations []Violation
}

func (e *PolicyViolationError) Error() string {
	if len(e.Violations) == 0 {
		return ErrContentPolicyViolation.Error()
	}
	return e.Violations[0].Message
}

func (e *PolicyViolationError) Unwrap() error {
	return ErrContentPolicyViolation
}

// EnforcePromptPolicy rejects story prompts that are oversized or ask for
// content the image backend must never produce.
func EnforcePromptPolicy(prompt string) error {
	evaluation := EvaluatePrompt(prompt)
	if evaluation.Allowed {
		return nil
	}
	return &PolicyViolationError{Violations: evaluation.Violations}
}

func EvaluatePrompt(prompt string) Evaluation {
	trimmed := strings.TrimSpace(prompt)
	if trimmed == "" {
		return Evaluation{Allowed: true}
	}

	violations := make([]Violation, 0, 2)
	if utf8.RuneCountInString(trimmed) > MaxPromptLength {
		violations = append(violations, Violation{
			Code:    "prompt_too_long",
			Message: "Prompt exceeds the maximum length.",
		})
	}

	content := strings.ToLower(trimmed)
	for _, token := range blockedKeywords {
		if strings.Contains(content, token) {
			violations = append(violations, Violation{
				Code:    "blocked_content",
				Message: "Prompt contains content blocked by policy.",
			})
			break
		}
	}

	if len(violations) == 0 {
		return Evaluation{Allowed: true}
	}
	return Evaluation{Allowed: false, Violations: violations}
}

var blockedKeywords = []string{
	"csam",
	"child porn",
	"sexual minor",
	"underage nude",
	"loli hentai",
	"shota hentai",
	"revenge porn",
}
