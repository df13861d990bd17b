package profile

import (
	"fmt"
	"strings"
)

// Profile holds the normalized candidate data used as scoring input. It is
// treated as a read-only snapshot for the duration of a ranking and
// submission cycle; changes are applied only through Update and take effect
// on the next cycle.
type Profile struct {
	CandidateID string   `mapstructure:"candidate-id"`
	Name        string   `mapstructure:"name"`
	Skills      []string `mapstructure:"skills"`
	// Years of professional experience the candidate claims.
	Years float64 `mapstructure:"years"`
	// Locations are ordered most-preferred first.
	Locations []string `mapstructure:"locations"`
	// MinSalary is the minimum acceptable compensation. Nil means no floor.
	MinSalary *float64 `mapstructure:"min-salary"`
	// DealBreakers are tags a posting must carry to be considered at all.
	DealBreakers []string `mapstructure:"deal-breakers"`
	// ExcludeKeywords force exclusion of any posting mentioning them.
	ExcludeKeywords []string `mapstructure:"exclude-keywords"`
	// ResumeTitle selects the resume variant handed to the artifact provider.
	ResumeTitle string `mapstructure:"resume-title"`
}

// Update carries the fields of an explicit profile update. Nil slices and
// pointers leave the current value unchanged.
type Update struct {
	Skills          []string
	Years           *float64
	Locations       []string
	MinSalary       *float64
	DealBreakers    []string
	ExcludeKeywords []string
	ResumeTitle     string
}

// Normalize lowercases and trims all skill, location and tag values, dropping
// empties. It returns the profile for chaining.
func (p *Profile) Normalize() *Profile {
	p.CandidateID = strings.TrimSpace(p.CandidateID)
	p.Skills = normalizeAll(p.Skills)
	p.Locations = normalizeAll(p.Locations)
	p.DealBreakers = normalizeAll(p.DealBreakers)
	p.ExcludeKeywords = normalizeAll(p.ExcludeKeywords)

	return p
}

// Validate reports whether the profile can be used as scoring input.
func (p *Profile) Validate() error {
	if p == nil {
		return fmt.Errorf("profile is required")
	}

	if strings.TrimSpace(p.CandidateID) == "" {
		return fmt.Errorf("profile: candidate id is required")
	}

	if p.Years < 0 {
		return fmt.Errorf("profile %s: years of experience must not be negative", p.CandidateID)
	}

	if p.MinSalary != nil && *p.MinSalary < 0 {
		return fmt.Errorf("profile %s: minimum salary must not be negative", p.CandidateID)
	}

	return nil
}

// Apply returns a new normalized profile with the update applied. The
// receiver is left unchanged so in-flight ranking passes keep their snapshot.
func (p *Profile) Apply(u Update) *Profile {
	next := *p

	if u.Skills != nil {
		next.Skills = u.Skills
	}
	if u.Years != nil {
		next.Years = *u.Years
	}
	if u.Locations != nil {
		next.Locations = u.Locations
	}
	if u.MinSalary != nil {
		next.MinSalary = u.MinSalary
	}
	if u.DealBreakers != nil {
		next.DealBreakers = u.DealBreakers
	}
	if u.ExcludeKeywords != nil {
		next.ExcludeKeywords = u.ExcludeKeywords
	}
	if strings.TrimSpace(u.ResumeTitle) != "" {
		next.ResumeTitle = u.ResumeTitle
	}

	return next.Normalize()
}

// SkillSet returns the normalized skills as a lookup set.
func (p *Profile) SkillSet() map[string]bool {
	set := make(map[string]bool, len(p.Skills))
	for _, s := range p.Skills {
		s = strings.ToLower(strings.TrimSpace(s))
		if s != "" {
			set[s] = true
		}
	}
	return set
}

func normalizeAll(values []string) []string {
	result := make([]string, 0, len(values))
	for _, v := range values {
		v = strings.ToLower(strings.TrimSpace(v))
		if v == "" {
			continue
		}
		result = append(result, v)
	}
	return result
}
