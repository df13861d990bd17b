package jobfeed

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"
)

const (
	PostingIDField      = "ID"
	PostingCompanyField = "Company"
)

// Posting is a normalized job posting. Once ingested it is treated as
// immutable for the duration of a ranking pass. Re-ingestion with the same ID
// replaces the stored copy but never resets application history.
type Posting struct {
	ID               string    `json:"id,omitempty"`
	Title            string    `json:"title,omitempty"`
	Company          string    `json:"company,omitempty"`
	Location         string    `json:"location,omitempty"`
	Remote           bool      `json:"remote,omitempty"`
	RequiredSkills   []string  `json:"required_skills,omitempty"`
	NiceToHaveSkills []string  `json:"nice_to_have_skills,omitempty"`
	SalaryFrom       *float64  `json:"salary_from,omitempty"`
	SalaryTo         *float64  `json:"salary_to,omitempty"`
	ExperienceYears  *float64  `json:"experience_years,omitempty"`
	Tags             []string  `json:"tags,omitempty"`
	Description      string    `json:"description,omitempty"`
	Source           string    `json:"source,omitempty"`
	URL              string    `json:"url,omitempty"`
	PostedAt         time.Time `json:"posted_at,omitempty"`
	FetchedAt        time.Time `json:"fetched_at,omitempty"`
}

type Postings struct {
	Items []*Posting
}

// Validate rejects malformed postings before they reach scoring.
func (p *Posting) Validate() error {
	if strings.TrimSpace(p.ID) == "" {
		return fmt.Errorf("posting id is required")
	}

	if p.SalaryFrom != nil && *p.SalaryFrom < 0 {
		return fmt.Errorf("posting %s: salary floor must not be negative", p.ID)
	}

	if p.SalaryFrom != nil && p.SalaryTo != nil && *p.SalaryFrom > *p.SalaryTo {
		return fmt.Errorf("posting %s: salary floor exceeds ceiling", p.ID)
	}

	if p.ExperienceYears != nil && *p.ExperienceYears < 0 {
		return fmt.Errorf("posting %s: experience requirement must not be negative", p.ID)
	}

	return nil
}

// TagSet returns the posting tags as a lowercase lookup set.
func (p *Posting) TagSet() map[string]bool {
	set := make(map[string]bool, len(p.Tags))
	for _, tag := range p.Tags {
		tag = strings.ToLower(strings.TrimSpace(tag))
		if tag != "" {
			set[tag] = true
		}
	}
	return set
}

func (p *Posting) GetStringField(name string) string {
	switch name {
	case PostingIDField:
		return p.ID
	case PostingCompanyField:
		return p.Company
	default:
		return ""
	}
}

func (p *Postings) Len() int {
	return len(p.Items)
}

func (p *Postings) IDs() []string {
	ids := make([]string, 0, len(p.Items))
	for _, posting := range p.Items {
		ids = append(ids, posting.ID)
	}
	return ids
}

func (p *Postings) FindByID(id string) *Posting {
	for _, posting := range p.Items {
		if posting.ID == id {
			return posting
		}
	}
	return nil
}

// Exclude removes postings whose field value matches one of the targets,
// returning the IDs of the removed postings.
func (p *Postings) Exclude(name string, targets []string) []string {
	blocked := make(map[string]bool, len(targets))
	for _, target := range targets {
		blocked[target] = true
	}

	var excluded []string
	for idx := 0; idx < len(p.Items); {
		if blocked[p.Items[idx].GetStringField(name)] {
			excluded = append(excluded, p.Items[idx].ID)
			p.RemoveByIndex(idx)
			continue
		}
		idx++
	}
	return excluded
}

// RemoveByIndex removes a posting from the list by index. Does not preserve order.
func (p *Postings) RemoveByIndex(idx int) {
	p.Items[idx] = p.Items[len(p.Items)-1]
	p.Items = p.Items[:len(p.Items)-1]
}

// ReportByCompany groups postings by company for the interactive report action.
func (p *Postings) ReportByCompany() map[string][]map[string]string {
	report := make(map[string][]map[string]string)
	for _, posting := range p.Items {
		salary := ""
		if posting.SalaryFrom != nil || posting.SalaryTo != nil {
			salary = fmt.Sprintf("%s-%s", formatSalary(posting.SalaryFrom), formatSalary(posting.SalaryTo))
		}

		report[posting.Company] = append(report[posting.Company], map[string]string{
			"title":    posting.Title,
			"location": posting.Location,
			"salary":   salary,
			"url":      posting.URL,
			"source":   posting.Source,
		})
	}
	return report
}

func (p *Postings) DumpToTmpFile() (string, error) {
	file, err := os.CreateTemp("", "postings_*.json")
	if err != nil {
		return "", err
	}
	defer file.Close()

	enc := json.NewEncoder(file)
	enc.SetIndent("", "  ")
	if err := enc.Encode(p); err != nil {
		return "", err
	}
	return file.Name(), nil
}

func formatSalary(v *float64) string {
	if v == nil {
		return "?"
	}
	return fmt.Sprintf("%.0f", *v)
}
