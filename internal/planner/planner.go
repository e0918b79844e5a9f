package planner

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/iago/manga-studio-back/internal/cache"
	"github.com/iago/manga-studio-back/internal/domain"
	"github.com/iago/manga-studio-back/internal/prediction"
	"github.com/rs/zerolog"
	"github.com/xeipuuv/gojsonschema"
)

const DefaultModel = "openai/gpt-5"

//go:embed plan.schema.json
var planSchema string

var (
	compiledPlanSchema = mustCompileSchema(planSchema)
	jsonBlockRegex     = regexp.MustCompile("(?s)```(?:json)?\\s*(.*\\S)\\s*```")
)

// Runner runs one prediction to completion.
type Runner interface {
	Run(ctx context.Context, model string, input any) (prediction.Output, error)
}

// PlanParseError wraps any failure to turn model output into a valid Plan.
type PlanParseError struct {
	Err error
}

func (e *PlanParseError) Error() string {
	return "parse plan: " + e.Err.Error()
}

func (e *PlanParseError) Unwrap() error {
	return e.Err
}

type Config struct {
	Model string
	// CacheTTL enables plan reuse for identical (prompt, totalPages) requests
	// when positive.
	CacheTTL time.Duration
	Logger   zerolog.Logger
}

type Generator struct {
	runner Runner
	model  string
	cache  *cache.Store[domain.Plan]
	logger zerolog.Logger
}

func NewGenerator(runner Runner, config Config) *Generator {
	if strings.TrimSpace(config.Model) == "" {
		config.Model = DefaultModel
	}
	generator := &Generator{
		runner: runner,
		model:  config.Model,
		logger: config.Logger,
	}
	if config.CacheTTL > 0 {
		generator.cache = cache.New[domain.Plan](cache.Config{TTL: config.CacheTTL})
	}
	return generator
}

func (g *Generator) GeneratePlan(ctx context.Context, prompt string, totalPages int) (domain.Plan, error) {
	signature := cache.BuildSignature(g.model, prompt, strconv.Itoa(totalPages))
	if g.cache != nil {
		if plan, ok := g.cache.Get(signature); ok {
			g.logger.Debug().Str("title", plan.Title).Msg("plan cache hit")
			return plan.Clone(), nil
		}
	}

	output, err := g.runner.Run(ctx, g.model, map[string]any{
		"prompt":           userPrompt(prompt, totalPages),
		"system_prompt":    systemPrompt,
		"verbosity":        "medium",
		"image_input":      []string{},
		"reasoning_effort": "minimal",
	})
	if err != nil {
		return domain.Plan{}, fmt.Errorf("generate plan: %w", err)
	}

	plan, err := ParsePlan(output.Text())
	if err != nil {
		return domain.Plan{}, err
	}
	if len(plan.Pages) != totalPages {
		g.logger.Warn().
			Int("requested_pages", totalPages).
			Int("planned_pages", len(plan.Pages)).
			Msg("plan page count differs from request")
	}

	if g.cache != nil {
		g.cache.Set(signature, plan.Clone())
	}
	return plan, nil
}

// ParsePlan decodes and validates model output into a Plan.
func ParsePlan(text string) (domain.Plan, error) {
	raw := extractJSON(strings.NewReplacer("\r", "", "\n", "").Replace(text))
	if raw == "" {
		return domain.Plan{}, &PlanParseError{Err: errors.New("empty model output")}
	}

	result, err := compiledPlanSchema.Validate(gojsonschema.NewStringLoader(raw))
	if err != nil {
		return domain.Plan{}, &PlanParseError{Err: err}
	}
	if !result.Valid() {
		messages := make([]string, 0, len(result.Errors()))
		for _, desc := range result.Errors() {
			messages = append(messages, desc.String())
		}
		return domain.Plan{}, &PlanParseError{Err: errors.New(strings.Join(messages, "; "))}
	}

	var plan domain.Plan
	if err := json.Unmarshal([]byte(raw), &plan); err != nil {
		return domain.Plan{}, &PlanParseError{Err: err}
	}
	if err := checkUniqueIndexes(plan); err != nil {
		return domain.Plan{}, &PlanParseError{Err: err}
	}
	plan.Title = strings.TrimSpace(plan.Title)
	return plan, nil
}

func extractJSON(raw string) string {
	raw = strings.TrimSpace(raw)
	if matches := jsonBlockRegex.FindStringSubmatch(raw); len(matches) > 1 {
		return matches[1]
	}
	first := strings.Index(raw, "{")
	last := strings.LastIndex(raw, "}")
	if first != -1 && last > first {
		return raw[first : last+1]
	}
	return raw
}

func checkUniqueIndexes(plan domain.Plan) error {
	characters := make(map[int]struct{}, len(plan.Characters))
	for _, character := range plan.Characters {
		if _, dup := characters[character.Index]; dup {
			return fmt.Errorf("duplicate character index %d", character.Index)
		}
		characters[character.Index] = struct{}{}
	}
	pages := make(map[int]struct{}, len(plan.Pages))
	for _, page := range plan.Pages {
		if _, dup := pages[page.Index]; dup {
			return fmt.Errorf("duplicate page index %d", page.Index)
		}
		pages[page.Index] = struct{}{}
	}
	return nil
}

func mustCompileSchema(source string) *gojsonschema.Schema {
	schema, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(source))
	if err != nil {
		panic(fmt.Sprintf("compile plan schema: %v", err))
	}
	return schema
}
