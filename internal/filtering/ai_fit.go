package filtering

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/spigell/jobhunter/internal/ai"
	"github.com/spigell/jobhunter/internal/jobfeed"
)

type aiFitFilter struct {
	disabled    bool
	reason      string
	config      *AIConfig
	assessments map[string]*ai.FitAssessment
}

// NewAIFit creates the AI-based filtering step.
func NewAIFit() Filter {
	return &aiFitFilter{}
}

func (f *aiFitFilter) Name() string { return "ai_fit" }

func (f *aiFitFilter) Disable(reason string) {
	f.disabled = true
	f.reason = reason
}

func (f *aiFitFilter) IsEnabled() bool { return !f.disabled }

func (f *aiFitFilter) Validate(cfg *Config) error {
	f.config = nil
	if cfg != nil {
		f.config = cfg.AI
	}
	if !f.IsEnabled() {
		return nil
	}
	if cfg == nil || cfg.AI == nil {
		return fmt.Errorf("ai configuration is required when ai filter is enabled")
	}
	if cfg.AI.Gemini == nil {
		return fmt.Errorf("gemini configuration is required when ai filter is enabled")
	}
	if strings.TrimSpace(cfg.AI.Gemini.Model) == "" {
		return fmt.Errorf("gemini model is required when ai filter is enabled")
	}
	return nil
}

func (f *aiFitFilter) Apply(ctx context.Context, deps Deps, p *jobfeed.Postings) (*jobfeed.Postings, Step, error) {
	initial := p.Len()
	if deps.Matcher == nil {
		if deps.Logger != nil {
			deps.Logger.Info("ai matcher is not configured; skipping ai_fit filter")
		}
		return p, Step{Initial: initial, Dropped: 0, Left: p.Len()}, nil
	}
	if deps.Profile == nil {
		return p, Step{}, fmt.Errorf("candidate profile is required for AI evaluation")
	}

	f.assessments = make(map[string]*ai.FitAssessment)
	approved := make([]*jobfeed.Posting, 0, initial)

	for _, posting := range p.Items {
		assessment, err := deps.Matcher.Evaluate(ctx, deps.Profile, posting)
		if err != nil {
			// Evaluation failures keep the posting: the AI step narrows the
			// list, it never blocks the pipeline.
			if deps.Logger != nil {
				deps.Logger.Warn("AI evaluation failed",
					zap.String("job_id", posting.ID),
					zap.Error(err),
				)
			}
			approved = append(approved, posting)
			continue
		}

		f.assessments[posting.ID] = assessment

		if !assessment.Fit {
			if deps.Logger != nil {
				deps.Logger.Info("posting rejected by AI provider",
					zap.String("job_id", posting.ID),
					zap.Float64("ai_score", assessment.Score),
					zap.String("reason", assessment.Reason),
				)
			}
			continue
		}

		if deps.Logger != nil {
			deps.Logger.Info("posting approved by AI",
				zap.String("job_id", posting.ID),
				zap.Float64("ai_score", assessment.Score),
			)
		}

		approved = append(approved, posting)
	}

	p.Items = approved

	left := p.Len()
	return p, Step{Initial: initial, Dropped: initial - left, Left: left}, nil
}

func (f *aiFitFilter) Assessments() map[string]*ai.FitAssessment {
	if f.assessments == nil {
		return map[string]*ai.FitAssessment{}
	}
	return f.assessments
}

func (f *aiFitFilter) Status() Status {
	details := map[string]string{}
	if f.config != nil {
		details["minimum_fit_score"] = fmt.Sprintf("%.2f", f.config.MinimumFitScore)
		if f.config.Gemini != nil {
			details["model"] = f.config.Gemini.Model
			details["max_retries"] = strconv.Itoa(f.config.Gemini.MaxRetries)
			details["max_log_length"] = strconv.Itoa(f.config.Gemini.MaxLogLength)
		}
	}
	return Status{Name: f.Name(), Enabled: f.IsEnabled(), Reason: f.reason, Details: details}
}
