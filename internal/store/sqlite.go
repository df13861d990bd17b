// Package store persists job postings and application records in SQLite so
// the dedup invariant survives process restarts.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	_ "modernc.org/sqlite"

	"github.com/spigell/jobhunter/internal/jobfeed"
	"github.com/spigell/jobhunter/internal/tracker"
)

type Store struct {
	DB *sql.DB
}

// Open opens (creating if needed) the SQLite database at path and enables
// foreign keys.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	if _, err := db.Exec("PRAGMA foreign_keys = ON;"); err != nil {
		_ = db.Close()
		return nil, err
	}
	// Serialized access keeps the optimistic version check simple.
	db.SetMaxOpenConns(1)

	return &Store{DB: db}, nil
}

func (s *Store) Close() error { return s.DB.Close() }

func (s *Store) Migrate(ctx context.Context) error {
	_, err := s.DB.ExecContext(ctx, `
CREATE TABLE IF NOT EXISTS postings (
	id TEXT PRIMARY KEY,
	title TEXT,
	company TEXT,
	location TEXT,
	remote INTEGER NOT NULL DEFAULT 0,
	required_skills TEXT,
	nice_to_have_skills TEXT,
	salary_from REAL,
	salary_to REAL,
	experience_years REAL,
	tags TEXT,
	description TEXT,
	source TEXT,
	url TEXT,
	posted_at TIMESTAMP,
	fetched_at TIMESTAMP
);

CREATE TABLE IF NOT EXISTS applications (
	id TEXT PRIMARY KEY,
	candidate_id TEXT NOT NULL,
	job_id TEXT NOT NULL,
	status TEXT NOT NULL,
	attempts INTEGER NOT NULL DEFAULT 0,
	version INTEGER NOT NULL DEFAULT 0,
	last_attempt_at TIMESTAMP NULL,
	last_failure TEXT NOT NULL DEFAULT '',
	artifact TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMP NOT NULL,
	updated_at TIMESTAMP NOT NULL,
	UNIQUE(candidate_id, job_id)
);
`)
	return err
}

// UpsertPosting replaces the stored posting with the same ID. Application
// history keyed by job ID is untouched.
func (s *Store) UpsertPosting(ctx context.Context, p *jobfeed.Posting) error {
	required, err := json.Marshal(p.RequiredSkills)
	if err != nil {
		return err
	}
	nice, err := json.Marshal(p.NiceToHaveSkills)
	if err != nil {
		return err
	}
	tags, err := json.Marshal(p.Tags)
	if err != nil {
		return err
	}

	_, err = s.DB.ExecContext(ctx, `
		INSERT INTO postings (id, title, company, location, remote, required_skills, nice_to_have_skills,
			salary_from, salary_to, experience_years, tags, description, source, url, posted_at, fetched_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			title = excluded.title,
			company = excluded.company,
			location = excluded.location,
			remote = excluded.remote,
			required_skills = excluded.required_skills,
			nice_to_have_skills = excluded.nice_to_have_skills,
			salary_from = excluded.salary_from,
			salary_to = excluded.salary_to,
			experience_years = excluded.experience_years,
			tags = excluded.tags,
			description = excluded.description,
			source = excluded.source,
			url = excluded.url,
			posted_at = excluded.posted_at,
			fetched_at = excluded.fetched_at`,
		p.ID, p.Title, p.Company, p.Location, p.Remote, string(required), string(nice),
		p.SalaryFrom, p.SalaryTo, p.ExperienceYears, string(tags), p.Description,
		p.Source, p.URL, p.PostedAt, p.FetchedAt,
	)
	return err
}

// GetPosting returns the stored posting or nil when absent.
func (s *Store) GetPosting(ctx context.Context, id string) (*jobfeed.Posting, error) {
	row := s.DB.QueryRowContext(ctx, `
		SELECT id, title, company, location, remote, required_skills, nice_to_have_skills,
			salary_from, salary_to, experience_years, tags, description, source, url, posted_at, fetched_at
		FROM postings WHERE id = ?`, id)

	p := &jobfeed.Posting{}
	var required, nice, tags string
	err := row.Scan(&p.ID, &p.Title, &p.Company, &p.Location, &p.Remote, &required, &nice,
		&p.SalaryFrom, &p.SalaryTo, &p.ExperienceYears, &tags, &p.Description,
		&p.Source, &p.URL, &p.PostedAt, &p.FetchedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(required), &p.RequiredSkills); err != nil {
		return nil, fmt.Errorf("posting %s: decode required skills: %w", p.ID, err)
	}
	if err := json.Unmarshal([]byte(nice), &p.NiceToHaveSkills); err != nil {
		return nil, fmt.Errorf("posting %s: decode nice-to-have skills: %w", p.ID, err)
	}
	if err := json.Unmarshal([]byte(tags), &p.Tags); err != nil {
		return nil, fmt.Errorf("posting %s: decode tags: %w", p.ID, err)
	}

	return p, nil
}

// GetOrCreate implements tracker.Store. The UNIQUE(candidate_id, job_id)
// constraint makes record creation race-free.
func (s *Store) GetOrCreate(ctx context.Context, rec *tracker.Record) (*tracker.Record, bool, error) {
	res, err := s.DB.ExecContext(ctx, `
		INSERT INTO applications (id, candidate_id, job_id, status, attempts, version, last_failure, artifact, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(candidate_id, job_id) DO NOTHING`,
		rec.ID, rec.CandidateID, rec.JobID, string(rec.Status), rec.Attempts, rec.Version,
		rec.LastFailure, rec.Artifact, rec.CreatedAt, rec.UpdatedAt,
	)
	if err != nil {
		return nil, false, err
	}

	inserted, err := res.RowsAffected()
	if err != nil {
		return nil, false, err
	}

	stored, err := s.Get(ctx, rec.CandidateID, rec.JobID)
	if err != nil {
		return nil, false, err
	}

	return stored, inserted == 1, nil
}

func (s *Store) Get(ctx context.Context, candidateID, jobID string) (*tracker.Record, error) {
	row := s.DB.QueryRowContext(ctx,
		selectRecord+` WHERE candidate_id = ? AND job_id = ?`, candidateID, jobID)

	rec, err := scanRecord(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("record for candidate %s and job %s: %w", candidateID, jobID, tracker.ErrNotFound)
	}
	return rec, err
}

func (s *Store) GetByID(ctx context.Context, id string) (*tracker.Record, error) {
	row := s.DB.QueryRowContext(ctx, selectRecord+` WHERE id = ?`, id)

	rec, err := scanRecord(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("record %s: %w", id, tracker.ErrNotFound)
	}
	return rec, err
}

// Update implements the optimistic version check: the row is written only
// when the stored version still matches the caller's.
func (s *Store) Update(ctx context.Context, rec *tracker.Record) (*tracker.Record, error) {
	res, err := s.DB.ExecContext(ctx, `
		UPDATE applications
		SET status = ?, attempts = ?, version = version + 1, last_attempt_at = ?, last_failure = ?, artifact = ?, updated_at = ?
		WHERE id = ? AND version = ?`,
		string(rec.Status), rec.Attempts, rec.LastAttemptAt, rec.LastFailure, rec.Artifact, rec.UpdatedAt,
		rec.ID, rec.Version,
	)
	if err != nil {
		return nil, err
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}

	if affected == 0 {
		if _, err := s.GetByID(ctx, rec.ID); err != nil {
			return nil, err
		}
		return nil, fmt.Errorf("record %s: %w", rec.ID, tracker.ErrVersionConflict)
	}

	return s.GetByID(ctx, rec.ID)
}

func (s *Store) List(ctx context.Context) ([]*tracker.Record, error) {
	rows, err := s.DB.QueryContext(ctx, selectRecord+` ORDER BY created_at, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanRecords(rows)
}

func (s *Store) ListByStatus(ctx context.Context, status tracker.Status) ([]*tracker.Record, error) {
	rows, err := s.DB.QueryContext(ctx,
		selectRecord+` WHERE status = ? ORDER BY created_at, id`, string(status))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanRecords(rows)
}

const selectRecord = `
	SELECT id, candidate_id, job_id, status, attempts, version, last_attempt_at, last_failure, artifact, created_at, updated_at
	FROM applications`

type scannable interface {
	Scan(dest ...any) error
}

func scanRecord(row scannable) (*tracker.Record, error) {
	rec := &tracker.Record{}
	var status string
	var lastAttempt sql.NullTime

	err := row.Scan(&rec.ID, &rec.CandidateID, &rec.JobID, &status, &rec.Attempts, &rec.Version,
		&lastAttempt, &rec.LastFailure, &rec.Artifact, &rec.CreatedAt, &rec.UpdatedAt)
	if err != nil {
		return nil, err
	}

	rec.Status = tracker.Status(status)
	if lastAttempt.Valid {
		at := lastAttempt.Time
		rec.LastAttemptAt = &at
	}

	return rec, nil
}

func scanRecords(rows *sql.Rows) ([]*tracker.Record, error) {
	var records []*tracker.Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// StatusCounts returns the number of records per status, for reporting.
func (s *Store) StatusCounts(ctx context.Context) (map[string]int, error) {
	rows, err := s.DB.QueryContext(ctx, `SELECT status, COUNT(*) FROM applications GROUP BY status`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		counts[status] = count
	}
	return counts, rows.Err()
}

// RecentlyUpdated returns up to limit records ordered by most recent update.
func (s *Store) RecentlyUpdated(ctx context.Context, limit int) ([]*tracker.Record, error) {
	rows, err := s.DB.QueryContext(ctx,
		selectRecord+` ORDER BY updated_at DESC, id LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanRecords(rows)
}

var _ tracker.Store = (*Store)(nil)
