package planner

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/iago/manga-studio-back/internal/prediction"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRunner struct {
	mu     sync.Mutex
	calls  int
	model  string
	input  map[string]any
	output prediction.Output
	err    error
}

func (f *fakeRunner) Run(_ context.Context, model string, input any) (prediction.Output, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.model = model
	f.input, _ = input.(map[string]any)
	return f.output, f.err
}

const validPlan = `{
  "title": "Moon Cats",
  "characters": [
    {"index": 1, "name": "Mika", "description": "white cat"},
    {"index": 0, "name": "Rin", "description": "black cat"}
  ],
  "pages": [
    {"index": 0, "panels": [{"index": 0, "description": "cats look up", "characters": [0, 1]}]},
    {"index": 1, "panels": [{"index": 0, "description": "moon", "characters": []}]}
  ]
}`

func TestGeneratePlanBuildsInputAndParses(t *testing.T) {
	runner := &fakeRunner{output: prediction.Output{Chunks: strings.SplitAfter(validPlan, "\n")}}
	generator := NewGenerator(runner, Config{})

	plan, err := generator.GeneratePlan(context.Background(), "two cats on the moon", 2)
	require.NoError(t, err)

	assert.Equal(t, DefaultModel, runner.model)
	assert.Equal(t, "build a total of 2 pages based on this story: \ntwo cats on the moon", runner.input["prompt"])
	assert.Equal(t, "minimal", runner.input["reasoning_effort"])
	assert.Equal(t, "Moon Cats", plan.Title)
	assert.Len(t, plan.Characters, 2)
	assert.Len(t, plan.Pages, 2)
	assert.Equal(t, []int{0, 1}, plan.Pages[0].Panels[0].Characters)
}

func TestGeneratePlanMalformedOutput(t *testing.T) {
	runner := &fakeRunner{output: prediction.Output{Chunks: []string{"I cannot do that"}}}
	_, err := NewGenerator(runner, Config{}).GeneratePlan(context.Background(), "x", 2)

	var parseErr *PlanParseError
	require.ErrorAs(t, err, &parseErr)
	assert.NotContains(t, err.Error(), "I cannot do that")
}

func TestGeneratePlanPropagatesPredictionError(t *testing.T) {
	upstream := &prediction.PredictionError{ID: "p", Status: prediction.StatusFailed, Message: "boom"}
	runner := &fakeRunner{err: upstream}
	_, err := NewGenerator(runner, Config{}).GeneratePlan(context.Background(), "x", 2)

	var predictionErr *prediction.PredictionError
	require.ErrorAs(t, err, &predictionErr)
	assert.False(t, errors.As(err, new(*PlanParseError)))
}

func TestGeneratePlanUsesCache(t *testing.T) {
	runner := &fakeRunner{output: prediction.Output{Chunks: []string{validPlan}}}
	generator := NewGenerator(runner, Config{CacheTTL: time.Minute})

	first, err := generator.GeneratePlan(context.Background(), "story", 2)
	require.NoError(t, err)
	first.Characters[0].Name = "mutated"

	second, err := generator.GeneratePlan(context.Background(), "story", 2)
	require.NoError(t, err)
	assert.Equal(t, 1, runner.calls)
	assert.Equal(t, "Mika", second.Characters[0].Name)
}

func TestGeneratePlanWithoutCacheTTLAlwaysCallsModel(t *testing.T) {
	runner := &fakeRunner{output: prediction.Output{Chunks: []string{validPlan}}}
	generator := NewGenerator(runner, Config{})

	for i := 0; i < 2; i++ {
		_, err := generator.GeneratePlan(context.Background(), "story", 2)
		require.NoError(t, err)
	}
	assert.Equal(t, 2, runner.calls)
}

func TestGeneratePlanCacheIsCaseSensitive(t *testing.T) {
	runner := &fakeRunner{output: prediction.Output{Chunks: []string{validPlan}}}
	generator := NewGenerator(runner, Config{CacheTTL: time.Minute})

	_, err := generator.GeneratePlan(context.Background(), "Rin meets Mika", 2)
	require.NoError(t, err)
	_, err = generator.GeneratePlan(context.Background(), "rin meets mika", 2)
	require.NoError(t, err)
	assert.Equal(t, 2, runner.calls)
}

func TestParsePlanAcceptsPlanWithoutPages(t *testing.T) {
	plan, err := ParsePlan(`{"title": "t", "characters": [{"index": 0, "name": "a", "description": ""}], "pages": []}`)
	require.NoError(t, err)
	assert.Empty(t, plan.Pages)
	assert.Len(t, plan.Characters, 1)
}

func TestParsePlanAcceptsFencedJSON(t *testing.T) {
	plan, err := ParsePlan("Here you go:\n```json\n" + validPlan + "\n```")
	require.NoError(t, err)
	assert.Equal(t, "Moon Cats", plan.Title)
}

func TestParsePlanRejectsSchemaViolations(t *testing.T) {
	cases := map[string]string{
		"missing title":    `{"characters": [], "pages": [{"index": 0, "panels": []}]}`,
		"missing pages":    `{"title": "t", "characters": []}`,
		"string index":     `{"title": "t", "characters": [{"index": "a", "name": "n", "description": ""}], "pages": [{"index": 0, "panels": []}]}`,
		"duplicate page":   `{"title": "t", "characters": [], "pages": [{"index": 0, "panels": []}, {"index": 0, "panels": []}]}`,
		"duplicate person": `{"title": "t", "characters": [{"index": 0, "name": "a", "description": ""}, {"index": 0, "name": "b", "description": ""}], "pages": [{"index": 0, "panels": []}]}`,
		"not json":         `{"title": `,
	}
	for name, input := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := ParsePlan(input)
			var parseErr *PlanParseError
			assert.ErrorAs(t, err, &parseErr)
		})
	}
}
