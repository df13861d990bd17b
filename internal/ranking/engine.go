package ranking

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/spigell/jobhunter/internal/jobfeed"
	"github.com/spigell/jobhunter/internal/profile"
)

const (
	componentRequired     = "required_skills"
	componentNiceToHave   = "nice_to_have"
	componentLocation     = "location"
	componentCompensation = "compensation"
	componentExperience   = "experience"

	// Scores within epsilon of each other are considered equal and fall
	// through to the tie-break chain.
	epsilon = 1e-9

	locationExactScore = 1.0
	locationListScore  = 0.6

	// A posting may ask for this many more years than the profile states
	// before the experience sub-score starts to decay.
	experienceGraceYears = 1.0
	experienceDecayYears = 5.0
)

// MatchScore is the non-persistent scoring result for a single posting.
type MatchScore struct {
	JobID string
	// Score is the weighted sum of the component sub-scores, in [0,1].
	Score float64
	// Components maps criterion names to their weighted contribution.
	Components map[string]float64
	// MissingRequired counts required skills absent from the profile. It is
	// the first tie-break key.
	MissingRequired int
	PostedAt        time.Time
	WeightsVersion  int
}

// Skipped describes a posting excluded from the ranked output, either by the
// hard filter or because its data was malformed.
type Skipped struct {
	JobID  string
	Reason string
}

// Result is the output of a single ranking pass.
type Result struct {
	Ranked  []MatchScore
	Skipped []Skipped
}

// Engine scores and orders postings against a candidate profile. It only
// reads the profile and postings and never touches application records.
type Engine struct {
	logger *zap.Logger
}

func NewEngine(logger *zap.Logger) *Engine {
	return &Engine{logger: logger}
}

// Rank scores all postings and returns them ordered by descending score with
// a fully deterministic tie-break. Malformed postings and postings failing
// the hard filter are reported in Result.Skipped, never as a pass-wide error.
func (e *Engine) Rank(p *profile.Profile, postings *jobfeed.Postings, weights WeightSet) (*Result, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}

	if err := weights.Validate(); err != nil {
		return nil, err
	}

	result := &Result{
		Ranked:  make([]MatchScore, 0, postings.Len()),
		Skipped: make([]Skipped, 0),
	}

	skills := p.SkillSet()

	for _, posting := range postings.Items {
		if err := posting.Validate(); err != nil {
			result.Skipped = append(result.Skipped, Skipped{JobID: posting.ID, Reason: err.Error()})
			e.logger.Debug("skipping malformed posting",
				zap.String("job_id", posting.ID),
				zap.Error(err),
			)
			continue
		}

		if reason := hardFilterReason(p, posting); reason != "" {
			result.Skipped = append(result.Skipped, Skipped{JobID: posting.ID, Reason: reason})
			e.logger.Debug("posting excluded by hard filter",
				zap.String("job_id", posting.ID),
				zap.String("reason", reason),
			)
			continue
		}

		result.Ranked = append(result.Ranked, score(p, posting, skills, weights))
	}

	sort.Slice(result.Ranked, func(i, j int) bool {
		return less(result.Ranked[i], result.Ranked[j])
	})

	e.logger.Info("ranking pass completed",
		zap.Int("ranked", len(result.Ranked)),
		zap.Int("skipped", len(result.Skipped)),
		zap.Int("weights_version", weights.Version),
	)

	return result, nil
}

// hardFilterReason returns a non-empty reason when the posting must be
// excluded regardless of its sub-scores.
func hardFilterReason(p *profile.Profile, posting *jobfeed.Posting) string {
	tags := posting.TagSet()
	for _, required := range p.DealBreakers {
		if !tags[required] {
			return fmt.Sprintf("missing deal-breaker tag %q", required)
		}
	}

	haystack := strings.ToLower(posting.Title + " " + posting.Description)
	for _, keyword := range p.ExcludeKeywords {
		if strings.Contains(haystack, keyword) {
			return fmt.Sprintf("matches excluded keyword %q", keyword)
		}
	}

	return ""
}

func score(p *profile.Profile, posting *jobfeed.Posting, skills map[string]bool, weights WeightSet) MatchScore {
	required, missing := coverage(posting.RequiredSkills, skills)
	niceToHave, _ := coverage(posting.NiceToHaveSkills, skills)

	subs := map[string]float64{
		componentRequired:     required,
		componentNiceToHave:   niceToHave,
		componentLocation:     locationScore(p, posting),
		componentCompensation: compensationScore(p, posting),
		componentExperience:   experienceScore(p, posting),
	}

	total := weights.total()
	components := make(map[string]float64, len(subs))
	sum := 0.0
	for name, weight := range weights.components() {
		contribution := (weight / total) * subs[name]
		components[name] = contribution
		sum += contribution
	}

	return MatchScore{
		JobID:           posting.ID,
		Score:           clamp(sum),
		Components:      components,
		MissingRequired: missing,
		PostedAt:        posting.PostedAt,
		WeightsVersion:  weights.Version,
	}
}

// coverage returns the fraction of wanted skills present in the profile and
// the count of missing ones. An empty wanted set is vacuously satisfied.
func coverage(wanted []string, skills map[string]bool) (float64, int) {
	total := 0
	matched := 0
	for _, skill := range wanted {
		skill = strings.ToLower(strings.TrimSpace(skill))
		if skill == "" {
			continue
		}
		total++
		if skills[skill] {
			matched++
		}
	}

	if total == 0 {
		return 1.0, 0
	}

	return float64(matched) / float64(total), total - matched
}

// locationScore discretizes location fit: top preference beats a match lower
// in the list, which beats no match. A profile without location preferences
// accepts everything.
func locationScore(p *profile.Profile, posting *jobfeed.Posting) float64 {
	if len(p.Locations) == 0 {
		return 1.0
	}

	location := strings.ToLower(strings.TrimSpace(posting.Location))
	if posting.Remote && location == "" {
		location = "remote"
	}

	for idx, preferred := range p.Locations {
		if location == preferred || (preferred == "remote" && posting.Remote) {
			if idx == 0 {
				return locationExactScore
			}
			return locationListScore
		}
	}

	return 0.0
}

// compensationScore penalizes a posting whose salary ceiling falls below the
// profile floor. Unspecified sides are never penalized.
func compensationScore(p *profile.Profile, posting *jobfeed.Posting) float64 {
	if p.MinSalary == nil {
		return 1.0
	}

	switch {
	case posting.SalaryTo != nil && *posting.SalaryTo < *p.MinSalary:
		return 0.0
	case posting.SalaryFrom != nil && *posting.SalaryFrom >= *p.MinSalary:
		return 1.0
	case posting.SalaryFrom == nil && posting.SalaryTo == nil:
		return 1.0
	default:
		// The range straddles the floor.
		return 0.5
	}
}

// experienceScore penalizes postings requiring materially more years than the
// profile states, decaying linearly past a one year grace.
func experienceScore(p *profile.Profile, posting *jobfeed.Posting) float64 {
	if posting.ExperienceYears == nil {
		return 1.0
	}

	gap := *posting.ExperienceYears - p.Years
	if gap <= experienceGraceYears {
		return 1.0
	}

	return clamp(1.0 - (gap-experienceGraceYears)/experienceDecayYears)
}

// less implements the total order: descending score, then fewer missing
// required skills, then more recent posting, then job ID ascending.
func less(a, b MatchScore) bool {
	if diff := a.Score - b.Score; math.Abs(diff) > epsilon {
		return diff > 0
	}

	if a.MissingRequired != b.MissingRequired {
		return a.MissingRequired < b.MissingRequired
	}

	if !a.PostedAt.Equal(b.PostedAt) {
		return a.PostedAt.After(b.PostedAt)
	}

	return a.JobID < b.JobID
}

func clamp(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
