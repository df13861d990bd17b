package jobfeed

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"go.uber.org/zap"
)

func TestFileFeedFetch(t *testing.T) {
	path := filepath.Join(t.TempDir(), "postings.json")
	payload := `[
		{
			"id": "job-1",
			"title": "Backend Engineer",
			"company": "Tech Corp",
			"location": "Remote",
			"required_skills": ["go", "sql"],
			"salary_from": 100000,
			"salary_to": 140000,
			"posted_at": "2026-08-01T00:00:00Z"
		},
		{
			"id": "job-2",
			"title": "Data Engineer",
			"company": "StartUp Inc"
		}
	]`

	if err := os.WriteFile(path, []byte(payload), 0o644); err != nil {
		t.Fatalf("write feed file: %v", err)
	}

	feed := NewFileFeed(path, zap.NewNop())

	postings, err := feed.Fetch(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if postings.Len() != 2 {
		t.Fatalf("expected 2 postings, got %d", postings.Len())
	}

	first := postings.FindByID("job-1")
	if first == nil {
		t.Fatalf("posting job-1 not found")
	}

	if len(first.RequiredSkills) != 2 {
		t.Fatalf("unexpected required skills: %v", first.RequiredSkills)
	}

	if first.SalaryFrom == nil || *first.SalaryFrom != 100000 {
		t.Fatalf("unexpected salary floor: %v", first.SalaryFrom)
	}

	if first.PostedAt.IsZero() {
		t.Fatalf("expected posted_at to be parsed")
	}

	if first.FetchedAt.IsZero() {
		t.Fatalf("expected fetched_at to be set on ingest")
	}
}

func TestFileFeedMissingFile(t *testing.T) {
	feed := NewFileFeed(filepath.Join(t.TempDir(), "absent.json"), zap.NewNop())

	if _, err := feed.Fetch(context.Background()); err == nil {
		t.Fatalf("expected error for missing feed file")
	}
}

func TestPostingValidate(t *testing.T) {
	from := 120000.0
	to := 100000.0

	tests := []struct {
		name    string
		posting *Posting
		wantErr bool
	}{
		{
			name:    "valid",
			posting: &Posting{ID: "job-1"},
		},
		{
			name:    "missing id",
			posting: &Posting{},
			wantErr: true,
		},
		{
			name:    "inverted salary range",
			posting: &Posting{ID: "job-1", SalaryFrom: &from, SalaryTo: &to},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.posting.Validate()
			if tt.wantErr && err == nil {
				t.Fatalf("expected error")
			}
			if !tt.wantErr && err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
		})
	}
}

func TestPostingsExclude(t *testing.T) {
	postings := &Postings{Items: []*Posting{
		{ID: "job-1", Company: "Tech Corp"},
		{ID: "job-2", Company: "StartUp Inc"},
		{ID: "job-3", Company: "Tech Corp"},
	}}

	excluded := postings.Exclude(PostingIDField, []string{"job-2"})
	if len(excluded) != 1 || excluded[0] != "job-2" {
		t.Fatalf("unexpected excluded ids: %v", excluded)
	}

	if postings.Len() != 2 {
		t.Fatalf("expected 2 postings left, got %d", postings.Len())
	}

	if postings.FindByID("job-2") != nil {
		t.Fatalf("job-2 should be removed")
	}
}
