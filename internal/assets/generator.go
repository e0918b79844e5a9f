package assets

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/iago/manga-studio-back/internal/credits"
	"github.com/iago/manga-studio-back/internal/domain"
	"github.com/iago/manga-studio-back/internal/prediction"
	"github.com/rs/zerolog"
)

const (
	DefaultModel             = "google/nano-banana"
	DefaultAspectRatio       = "3:4"
	DefaultResolution        = "1K"
	DefaultOutputFormat      = "jpg"
	DefaultSafetyFilterLevel = "block_only_high"
)

const pageReferencePrefix = "The provided images are references (characters or style). " +
	"Generate the manga page described below while respecting these references and the manga style:\n"

type Kind string

const (
	KindCharacter Kind = "character"
	KindPage      Kind = "page"
)

// Runner runs one prediction to completion.
type Runner interface {
	Run(ctx context.Context, model string, input any) (prediction.Output, error)
}

// InsufficientCreditsError is returned before any paid request is issued.
type InsufficientCreditsError struct {
	Balance int
}

func (e *InsufficientCreditsError) Error() string {
	return fmt.Sprintf("Not enough credits. current credits: %d", e.Balance)
}

// GenerationError wraps an upstream failure of an image generation.
type GenerationError struct {
	Kind Kind
	Err  error
}

func (e *GenerationError) Error() string {
	return fmt.Sprintf("generate %s image: %v", e.Kind, e.Err)
}

func (e *GenerationError) Unwrap() error {
	return e.Err
}

type Config struct {
	Model             string
	AspectRatio       string
	Resolution        string
	OutputFormat      string
	SafetyFilterLevel string
	Logger            zerolog.Logger
}

// Generator produces character sheets and pages, charging one credit per
// successful generation.
type Generator struct {
	runner Runner
	ledger credits.Ledger
	config Config
	logger zerolog.Logger
}

func NewGenerator(runner Runner, ledger credits.Ledger, config Config) *Generator {
	if strings.TrimSpace(config.Model) == "" {
		config.Model = DefaultModel
	}
	if config.AspectRatio == "" {
		config.AspectRatio = DefaultAspectRatio
	}
	if config.Resolution == "" {
		config.Resolution = DefaultResolution
	}
	if config.OutputFormat == "" {
		config.OutputFormat = DefaultOutputFormat
	}
	if config.SafetyFilterLevel == "" {
		config.SafetyFilterLevel = DefaultSafetyFilterLevel
	}
	return &Generator{
		runner: runner,
		ledger: ledger,
		config: config,
		logger: config.Logger,
	}
}

func (g *Generator) GenerateCharacterImage(ctx context.Context, ownerID, name, description string) domain.GeneratedAsset {
	return g.generate(ctx, ownerID, KindCharacter, CharacterPrompt(name, description), nil)
}

// GeneratePageImage conditions the page on referenceURLs when any are given.
func (g *Generator) GeneratePageImage(ctx context.Context, ownerID, prompt string, referenceURLs []string) domain.GeneratedAsset {
	return g.generate(ctx, ownerID, KindPage, pageReferencePrefix+prompt, referenceURLs)
}

// CharacterPrompt is the character-sheet instruction sent to the image model.
func CharacterPrompt(name, description string) string {
	return fmt.Sprintf(
		"character sheet, %s, manga style, full body, white background, colored illustration, write only the name of the character: %s",
		description,
		name,
	)
}

func (g *Generator) generate(ctx context.Context, ownerID string, kind Kind, prompt string, referenceURLs []string) domain.GeneratedAsset {
	balance, err := g.ledger.Balance(ctx, ownerID)
	if err != nil && !errors.Is(err, credits.ErrUnknownOwner) {
		return domain.GeneratedAsset{Err: &GenerationError{Kind: kind, Err: fmt.Errorf("read credits: %w", err)}}
	}
	if balance <= 0 {
		return domain.GeneratedAsset{Err: &InsufficientCreditsError{Balance: balance}}
	}

	output, err := g.runner.Run(ctx, g.config.Model, g.input(prompt, referenceURLs))
	if err != nil {
		return domain.GeneratedAsset{Err: &GenerationError{Kind: kind, Err: err}}
	}
	sourceURL := output.First()
	if sourceURL == "" {
		return domain.GeneratedAsset{Err: &GenerationError{Kind: kind, Err: errors.New("prediction returned no image")}}
	}

	remaining, err := g.ledger.Consume(ctx, ownerID)
	if err != nil {
		return domain.GeneratedAsset{Err: &GenerationError{Kind: kind, Err: fmt.Errorf("consume credit: %w", err)}}
	}

	g.logger.Debug().
		Str("owner_id", ownerID).
		Str("kind", string(kind)).
		Int("references", len(referenceURLs)).
		Int("remaining_credits", remaining).
		Msg("image generated")

	return domain.GeneratedAsset{SourceURL: sourceURL}
}

func (g *Generator) input(prompt string, referenceURLs []string) map[string]any {
	input := map[string]any{
		"prompt":              prompt,
		"output_format":       g.config.OutputFormat,
		"aspect_ratio":        g.config.AspectRatio,
		"resolution":          g.config.Resolution,
		"safety_filter_level": g.config.SafetyFilterLevel,
	}
	if len(referenceURLs) > 0 {
		input["image_input"] = append([]string(nil), referenceURLs...)
	}
	return input
}
