package profile

import "testing"

func TestNormalize(t *testing.T) {
	p := &Profile{
		CandidateID:  "  alex ",
		Skills:       []string{" Python ", "SQL", ""},
		Locations:    []string{"Remote", "  San Francisco "},
		DealBreakers: []string{"Visa-Sponsorship"},
	}

	p.Normalize()

	if p.CandidateID != "alex" {
		t.Fatalf("expected trimmed candidate id, got %q", p.CandidateID)
	}

	if len(p.Skills) != 2 || p.Skills[0] != "python" || p.Skills[1] != "sql" {
		t.Fatalf("unexpected skills: %v", p.Skills)
	}

	if p.Locations[0] != "remote" {
		t.Fatalf("expected location order preserved, got %v", p.Locations)
	}

	if p.DealBreakers[0] != "visa-sponsorship" {
		t.Fatalf("unexpected deal breakers: %v", p.DealBreakers)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		profile *Profile
		wantErr bool
	}{
		{
			name:    "valid",
			profile: &Profile{CandidateID: "alex", Years: 3},
		},
		{
			name:    "missing candidate id",
			profile: &Profile{},
			wantErr: true,
		},
		{
			name:    "negative years",
			profile: &Profile{CandidateID: "alex", Years: -1},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.profile.Validate()
			if tt.wantErr && err == nil {
				t.Fatalf("expected error")
			}
			if !tt.wantErr && err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
		})
	}
}

func TestApplyLeavesSnapshotUnchanged(t *testing.T) {
	original := (&Profile{CandidateID: "alex", Skills: []string{"python"}}).Normalize()

	years := 5.0
	updated := original.Apply(Update{Skills: []string{"Go", "SQL"}, Years: &years})

	if len(original.Skills) != 1 || original.Skills[0] != "python" {
		t.Fatalf("original profile mutated: %v", original.Skills)
	}

	if len(updated.Skills) != 2 || updated.Skills[0] != "go" {
		t.Fatalf("unexpected updated skills: %v", updated.Skills)
	}

	if updated.Years != 5 {
		t.Fatalf("expected years updated, got %v", updated.Years)
	}
}

func TestSkillSet(t *testing.T) {
	p := &Profile{Skills: []string{"Python", " sql "}}

	set := p.SkillSet()
	if !set["python"] || !set["sql"] {
		t.Fatalf("unexpected skill set: %v", set)
	}
}
