package gemini

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	_ "embed"

	"go.uber.org/zap"

	"github.com/spigell/jobhunter/internal/ai"
	"github.com/spigell/jobhunter/internal/jobfeed"
	"github.com/spigell/jobhunter/internal/profile"
	"github.com/spigell/jobhunter/internal/utils"
)

type contentGenerator interface {
	GenerateContent(ctx context.Context, prompt string) (string, error)
}

type Matcher struct {
	generator  contentGenerator
	minScore   float64
	maxRetries int
	retryDelay time.Duration
	logger     *zap.Logger
	maxLogLen  int
}

//go:embed prompt.md
var promptTemplate string

const (
	defaultMaxLogLength = 200
	retryBaseDelay      = 2 * time.Second
)

func NewMatcher(generator contentGenerator, logger *zap.Logger, minScore float64, maxRetries, maxLogLength int) *Matcher {
	if maxLogLength <= 0 {
		maxLogLength = defaultMaxLogLength
	}

	return &Matcher{
		generator:  generator,
		minScore:   minScore,
		maxRetries: maxRetries,
		retryDelay: retryBaseDelay,
		logger:     logger,
		maxLogLen:  maxLogLength,
	}
}

func (m *Matcher) Evaluate(ctx context.Context, p *profile.Profile, posting *jobfeed.Posting) (*ai.FitAssessment, error) {
	if p == nil {
		return nil, fmt.Errorf("candidate profile is required")
	}
	if posting == nil {
		return nil, fmt.Errorf("posting is required")
	}

	profilePayload := map[string]any{
		"candidate_id":     p.CandidateID,
		"name":             p.Name,
		"skills":           p.Skills,
		"years":            p.Years,
		"locations":        p.Locations,
		"min_salary":       p.MinSalary,
		"deal_breakers":    p.DealBreakers,
		"exclude_keywords": p.ExcludeKeywords,
	}

	profileJSON, err := json.MarshalIndent(profilePayload, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal profile payload: %w", err)
	}

	postingJSON, err := json.MarshalIndent(posting, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal posting payload: %w", err)
	}

	prompt := buildPrompt(string(profileJSON), string(postingJSON))

	m.logger.Debug("gemini generate content request",
		zap.String("job_id", posting.ID),
		zap.String("candidate_id", p.CandidateID),
		zap.Int("prompt_length", utf8.RuneCountInString(prompt)),
		zap.String("prompt_preview", utils.TruncateForLog(prompt, m.maxLogLen)),
	)

	raw, err := m.generate(ctx, posting.ID, prompt)
	if err != nil {
		return nil, err
	}

	m.logger.Debug("gemini generate content response",
		zap.String("job_id", posting.ID),
		zap.String("candidate_id", p.CandidateID),
		zap.Int("response_length", utf8.RuneCountInString(raw)),
		zap.String("response_preview", utils.TruncateForLog(raw, m.maxLogLen)),
	)

	assessment, err := parseResponse(raw)
	if err != nil {
		return nil, err
	}

	if m.minScore > 0 && !math.IsNaN(assessment.Score) && assessment.Score < m.minScore {
		m.logger.Debug("set fit to false by score threshold",
			zap.String("job_id", posting.ID),
			zap.Float64("score", assessment.Score),
			zap.Float64("threshold", m.minScore),
		)
		assessment.Fit = false
	}

	assessment.Raw = raw
	return assessment, nil
}

// generate retries transient Gemini failures with a growing delay.
func (m *Matcher) generate(ctx context.Context, jobID, prompt string) (string, error) {
	attempts := m.maxRetries + 1
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		raw, err := m.generator.GenerateContent(ctx, prompt)
		if err == nil {
			return raw, nil
		}

		lastErr = err
		if attempt == attempts {
			break
		}

		m.logger.Warn("gemini request failed, retrying",
			zap.String("job_id", jobID),
			zap.Int("attempt", attempt),
			zap.Error(err),
		)

		if err := utils.WaitFor(ctx, m.retryDelay*time.Duration(attempt)); err != nil {
			return "", err
		}
	}

	return "", lastErr
}

func buildPrompt(profileJSON, postingJSON string) string {
	template := promptTemplate
	if strings.TrimSpace(template) == "" {
		template = "Profile:\n{{PROFILE_JSON}}\n\nPosting:\n{{POSTING_JSON}}\n\nJSON Response:"
	}
	prompt := strings.ReplaceAll(template, "{{PROFILE_JSON}}", profileJSON)
	prompt = strings.ReplaceAll(prompt, "{{POSTING_JSON}}", postingJSON)
	return prompt
}

func parseResponse(raw string) (*ai.FitAssessment, error) {
	cleaned := strings.TrimSpace(raw)
	cleaned = extractJSON(cleaned)

	var data map[string]any
	if err := json.Unmarshal([]byte(cleaned), &data); err != nil {
		return nil, fmt.Errorf("parse gemini response: %w", err)
	}

	fit := coerceBool(data["fit"])
	score := coerceFloat(data["score"])
	reason := coerceString(data["reason"])
	message := coerceString(data["message"])

	if math.IsNaN(score) {
		score = 0
	}

	return &ai.FitAssessment{
		Fit:     fit,
		Score:   score,
		Reason:  reason,
		Message: message,
	}, nil
}

func extractJSON(raw string) string {
	raw = strings.TrimSpace(raw)
	if strings.HasPrefix(raw, "```") {
		raw = strings.TrimPrefix(raw, "```json")
		raw = strings.TrimPrefix(raw, "```")
		raw = strings.TrimSpace(raw)
		if idx := strings.LastIndex(raw, "```"); idx != -1 {
			raw = raw[:idx]
		}
	}
	raw = strings.Trim(raw, "`")
	return strings.TrimSpace(raw)
}

func coerceBool(v any) bool {
	switch val := v.(type) {
	case bool:
		return val
	case string:
		lower := strings.ToLower(strings.TrimSpace(val))
		return lower == "true" || lower == "yes"
	case float64:
		return val != 0
	default:
		return false
	}
}

func coerceFloat(v any) float64 {
	switch val := v.(type) {
	case float64:
		return val
	case int:
		return float64(val)
	case string:
		trimmed := strings.TrimSpace(val)
		if trimmed == "" {
			return math.NaN()
		}
		f, err := strconv.ParseFloat(trimmed, 64)
		if err != nil {
			return math.NaN()
		}
		return f
	default:
		return math.NaN()
	}
}

func coerceString(v any) string {
	switch val := v.(type) {
	case string:
		return strings.TrimSpace(val)
	case fmt.Stringer:
		return strings.TrimSpace(val.String())
	default:
		if v == nil {
			return ""
		}
		bytes, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprintf("%v", v)
		}
		return string(bytes)
	}
}
