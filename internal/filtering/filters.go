package filtering

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/spigell/jobhunter/internal/jobfeed"
)

type companiesFilter struct {
	companies []string
}

// NewCompanies creates a filter that removes postings from blocked companies.
func NewCompanies() Filter {
	return &companiesFilter{}
}

func (f *companiesFilter) Name() string { return "companies" }

func (f *companiesFilter) Disable(string) {}

func (f *companiesFilter) IsEnabled() bool { return true }

func (f *companiesFilter) Validate(cfg *Config) error {
	f.companies = nil
	if cfg != nil {
		f.companies = append(f.companies, cfg.Companies...)
	}
	return nil
}

func (f *companiesFilter) Apply(_ context.Context, deps Deps, p *jobfeed.Postings) (*jobfeed.Postings, Step, error) {
	initial := p.Len()
	if len(f.companies) == 0 {
		return p, Step{Initial: initial, Dropped: 0, Left: p.Len()}, nil
	}

	excluded := p.Exclude(jobfeed.PostingCompanyField, f.companies)
	if deps.Logger != nil && len(excluded) > 0 {
		deps.Logger.Info("excluding postings by company",
			zap.Strings("blocked_companies", f.companies),
			zap.Strings("excluded_postings", excluded),
			zap.Int("postings_left", p.Len()),
		)
	}

	return p, Step{Initial: initial, Dropped: len(excluded), Left: p.Len()}, nil
}

func (f *companiesFilter) Status() Status {
	details := map[string]string{}
	if len(f.companies) > 0 {
		details["companies"] = strings.Join(f.companies, ",")
	}
	return Status{Name: f.Name(), Enabled: true, Details: details}
}

type postedWithinFilter struct {
	days int
	now  func() time.Time
}

// NewPostedWithin creates a filter that removes postings older than the
// configured window.
func NewPostedWithin() Filter {
	return &postedWithinFilter{now: time.Now}
}

func (f *postedWithinFilter) Name() string { return "posted_within" }

func (f *postedWithinFilter) Disable(string) {}

func (f *postedWithinFilter) IsEnabled() bool { return true }

func (f *postedWithinFilter) Validate(cfg *Config) error {
	f.days = 0
	if cfg != nil {
		f.days = cfg.PostedWithinDays
	}
	if f.days < 0 {
		return fmt.Errorf("posted-within-days must not be negative")
	}
	return nil
}

func (f *postedWithinFilter) Apply(_ context.Context, deps Deps, p *jobfeed.Postings) (*jobfeed.Postings, Step, error) {
	initial := p.Len()
	if f.days == 0 {
		return p, Step{Initial: initial, Dropped: 0, Left: p.Len()}, nil
	}

	cutoff := f.now().AddDate(0, 0, -f.days)

	var excluded []string
	kept := make([]*jobfeed.Posting, 0, initial)
	for _, posting := range p.Items {
		if !posting.PostedAt.IsZero() && posting.PostedAt.Before(cutoff) {
			excluded = append(excluded, posting.ID)
			continue
		}
		kept = append(kept, posting)
	}
	p.Items = kept

	if deps.Logger != nil && len(excluded) > 0 {
		deps.Logger.Info("excluding stale postings",
			zap.Int("posted_within_days", f.days),
			zap.Strings("excluded_postings", excluded),
			zap.Int("postings_left", p.Len()),
		)
	}

	return p, Step{Initial: initial, Dropped: len(excluded), Left: p.Len()}, nil
}

func (f *postedWithinFilter) Status() Status {
	return Status{Name: f.Name(), Enabled: true, Details: map[string]string{
		"posted_within_days": strconv.Itoa(f.days),
	}}
}

type keywordsFilter struct {
	keywords []string
}

// NewKeywords creates a filter that keeps only postings mentioning at least
// one of the configured keywords. An empty keyword list keeps everything.
func NewKeywords() Filter {
	return &keywordsFilter{}
}

func (f *keywordsFilter) Name() string { return "keywords" }

func (f *keywordsFilter) Disable(string) {}

func (f *keywordsFilter) IsEnabled() bool { return true }

func (f *keywordsFilter) Validate(cfg *Config) error {
	f.keywords = nil
	if cfg == nil {
		return nil
	}
	for _, keyword := range cfg.Keywords {
		keyword = strings.ToLower(strings.TrimSpace(keyword))
		if keyword != "" {
			f.keywords = append(f.keywords, keyword)
		}
	}
	return nil
}

func (f *keywordsFilter) Apply(_ context.Context, deps Deps, p *jobfeed.Postings) (*jobfeed.Postings, Step, error) {
	initial := p.Len()
	if len(f.keywords) == 0 {
		return p, Step{Initial: initial, Dropped: 0, Left: p.Len()}, nil
	}

	var excluded []string
	kept := make([]*jobfeed.Posting, 0, initial)
	for _, posting := range p.Items {
		haystack := strings.ToLower(posting.Title + " " + posting.Description)

		matched := false
		for _, keyword := range f.keywords {
			if strings.Contains(haystack, keyword) {
				matched = true
				break
			}
		}

		if matched {
			kept = append(kept, posting)
			continue
		}
		excluded = append(excluded, posting.ID)
	}
	p.Items = kept

	if deps.Logger != nil && len(excluded) > 0 {
		deps.Logger.Info("excluding postings without requested keywords",
			zap.Strings("keywords", f.keywords),
			zap.Strings("excluded_postings", excluded),
			zap.Int("postings_left", p.Len()),
		)
	}

	return p, Step{Initial: initial, Dropped: len(excluded), Left: p.Len()}, nil
}

func (f *keywordsFilter) Status() Status {
	details := map[string]string{}
	if len(f.keywords) > 0 {
		details["keywords"] = strings.Join(f.keywords, ",")
	}
	return Status{Name: f.Name(), Enabled: true, Details: details}
}

type appliedHistoryFilter struct {
	ignore bool
}

// NewAppliedHistory creates a filter that removes postings the candidate
// already holds an application record for.
func NewAppliedHistory(ignore bool) Filter {
	return &appliedHistoryFilter{ignore: ignore}
}

func (f *appliedHistoryFilter) Name() string { return "applied_history" }

func (f *appliedHistoryFilter) Disable(string) {}

func (f *appliedHistoryFilter) IsEnabled() bool { return true }

func (f *appliedHistoryFilter) Validate(*Config) error { return nil }

func (f *appliedHistoryFilter) Apply(ctx context.Context, deps Deps, p *jobfeed.Postings) (*jobfeed.Postings, Step, error) {
	initial := p.Len()
	if f.ignore {
		if deps.Logger != nil {
			deps.Logger.Info("ignoring already applied postings", zap.String("reason", "force flag is set"))
		}
		return p, Step{Initial: initial, Dropped: 0, Left: p.Len()}, nil
	}

	if deps.Tracker == nil {
		return p, Step{}, fmt.Errorf("application tracker is required")
	}
	if deps.Profile == nil {
		return p, Step{}, fmt.Errorf("candidate profile is required")
	}

	records, err := deps.Tracker.List(ctx)
	if err != nil {
		return p, Step{}, fmt.Errorf("list application records: %w", err)
	}

	var applied []string
	for _, rec := range records {
		if rec.CandidateID == deps.Profile.CandidateID {
			applied = append(applied, rec.JobID)
		}
	}

	excluded := p.Exclude(jobfeed.PostingIDField, applied)
	if deps.Logger != nil && len(excluded) > 0 {
		deps.Logger.Info("excluding postings based on application history",
			zap.Strings("excluded_postings", excluded),
			zap.Int("postings_left", p.Len()),
		)
	}

	return p, Step{Initial: initial, Dropped: len(excluded), Left: p.Len()}, nil
}

func (f *appliedHistoryFilter) Status() Status {
	details := map[string]string{
		"exclude_applied": strconv.FormatBool(!f.ignore),
	}
	reason := ""
	if f.ignore {
		reason = "skip requested via flag"
	}
	return Status{Name: f.Name(), Enabled: true, Reason: reason, Details: details}
}
