package ai

import (
	"context"

	"github.com/spigell/jobhunter/internal/jobfeed"
	"github.com/spigell/jobhunter/internal/profile"
)

type FitAssessment struct {
	Fit     bool
	Score   float64
	Reason  string
	Message string
	Raw     string
}

type Matcher interface {
	Evaluate(ctx context.Context, p *profile.Profile, posting *jobfeed.Posting) (*FitAssessment, error)
}
