package assets

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/iago/manga-studio-back/internal/credits"
	"github.com/iago/manga-studio-back/internal/prediction"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingRunner struct {
	mu     sync.Mutex
	inputs []map[string]any
	output prediction.Output
	err    error
}

func (r *recordingRunner) Run(_ context.Context, _ string, input any) (prediction.Output, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	typed, _ := input.(map[string]any)
	r.inputs = append(r.inputs, typed)
	return r.output, r.err
}

func TestGenerateCharacterImageChargesOneCredit(t *testing.T) {
	ctx := context.Background()
	ledger := credits.NewMemoryLedger(2)
	runner := &recordingRunner{output: prediction.Output{Chunks: []string{"https://cdn.example/rin.jpg"}}}

	asset := NewGenerator(runner, ledger, Config{}).GenerateCharacterImage(ctx, "owner-1", "Rin", "black cat")
	require.NoError(t, asset.Err)
	assert.Equal(t, "https://cdn.example/rin.jpg", asset.SourceURL)

	balance, _ := ledger.Balance(ctx, "owner-1")
	assert.Equal(t, 1, balance)

	input := runner.inputs[0]
	assert.Equal(t, "character sheet, black cat, manga style, full body, white background, colored illustration, write only the name of the character: Rin", input["prompt"])
	assert.Equal(t, "3:4", input["aspect_ratio"])
	assert.Equal(t, "1K", input["resolution"])
	assert.NotContains(t, input, "image_input")
}

func TestGeneratePageImageReferences(t *testing.T) {
	ctx := context.Background()
	runner := &recordingRunner{output: prediction.Output{Chunks: []string{"https://cdn.example/p.jpg"}}}
	generator := NewGenerator(runner, credits.NewMemoryLedger(5), Config{})

	asset := generator.GeneratePageImage(ctx, "owner-1", "page body", []string{"https://a", "https://b"})
	require.True(t, asset.OK())
	assert.Equal(t, []string{"https://a", "https://b"}, runner.inputs[0]["image_input"])
	assert.True(t, strings.HasPrefix(runner.inputs[0]["prompt"].(string), "The provided images are references"))
	assert.True(t, strings.HasSuffix(runner.inputs[0]["prompt"].(string), "\npage body"))

	asset = generator.GeneratePageImage(ctx, "owner-1", "page body", nil)
	require.True(t, asset.OK())
	assert.NotContains(t, runner.inputs[1], "image_input")
}

func TestGenerateFailsFastWithoutCredits(t *testing.T) {
	runner := &recordingRunner{output: prediction.Output{Chunks: []string{"https://x"}}}
	asset := NewGenerator(runner, credits.NewMemoryLedger(0), Config{}).GenerateCharacterImage(context.Background(), "owner-1", "a", "b")

	var creditsErr *InsufficientCreditsError
	require.ErrorAs(t, asset.Err, &creditsErr)
	assert.Equal(t, "Not enough credits. current credits: 0", creditsErr.Error())
	assert.Empty(t, asset.SourceURL)
	assert.Empty(t, runner.inputs)
}

func TestGenerateUpstreamFailureDoesNotCharge(t *testing.T) {
	ctx := context.Background()
	ledger := credits.NewMemoryLedger(3)
	runner := &recordingRunner{err: &prediction.PredictionError{ID: "p", Status: prediction.StatusFailed, Message: "nsfw"}}

	asset := NewGenerator(runner, ledger, Config{}).GeneratePageImage(ctx, "owner-1", "x", nil)
	var generationErr *GenerationError
	require.ErrorAs(t, asset.Err, &generationErr)
	assert.Equal(t, KindPage, generationErr.Kind)
	assert.Contains(t, asset.Err.Error(), "nsfw")

	balance, _ := ledger.Balance(ctx, "owner-1")
	assert.Equal(t, 3, balance)
}

func TestGenerateEmptyOutputIsAnError(t *testing.T) {
	asset := NewGenerator(&recordingRunner{}, credits.NewMemoryLedger(1), Config{}).GenerateCharacterImage(context.Background(), "o", "a", "b")
	assert.Error(t, asset.Err)
	assert.False(t, asset.OK())
}

type drainedLedger struct {
	credits.Ledger
}

func (drainedLedger) Balance(context.Context, string) (int, error) { return 1, nil }
func (drainedLedger) Consume(context.Context, string) (int, error) {
	return 0, credits.ErrInsufficient
}

func TestGenerateConsumeConflictSurfacesError(t *testing.T) {
	runner := &recordingRunner{output: prediction.Output{Chunks: []string{"https://x"}}}
	asset := NewGenerator(runner, drainedLedger{}, Config{}).GenerateCharacterImage(context.Background(), "o", "a", "b")
	assert.True(t, errors.Is(asset.Err, credits.ErrInsufficient))
	assert.Empty(t, asset.SourceURL)
}
