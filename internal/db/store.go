package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/randalmurphal/storyloop/internal/prd"
)

// ErrPRDNotFound is returned when no PRD is stored for a task.
var ErrPRDNotFound = errors.New("prd not found")

// IterationRecord is a closed coding attempt.
type IterationRecord struct {
	ID        string    `json:"id"`
	SessionID string    `json:"sessionId"`
	TaskID    string    `json:"taskId"`
	StoryID   string    `json:"storyId"`
	Attempt   int       `json:"attempt"`
	Outcome   string    `json:"outcome"`
	Output    string    `json:"output"`
	StartedAt time.Time `json:"startedAt"`
	EndedAt   time.Time `json:"endedAt,omitzero"`
}

// FailureSnapshot is the verification output of a failed attempt.
type FailureSnapshot struct {
	ID        int64     `json:"id"`
	SessionID string    `json:"sessionId"`
	TaskID    string    `json:"taskId"`
	StoryID   string    `json:"storyId"`
	Attempt   int       `json:"attempt"`
	Output    string    `json:"output"`
	CreatedAt time.Time `json:"createdAt"`
}

// Store is the authoritative record for PRDs, iterations and failures.
type Store struct {
	db *DB
}

// NewStore wraps an open, migrated database.
func NewStore(d *DB) *Store {
	return &Store{db: d}
}

// LoadPRD returns the stored document for taskID with stories in document order.
func (s *Store) LoadPRD(ctx context.Context, taskID string) (*prd.Document, error) {
	doc := &prd.Document{TaskID: taskID}
	err := s.db.QueryRowContext(ctx,
		"SELECT project, description, branch_name FROM prds WHERE task_id = ?", taskID,
	).Scan(&doc.ProjectName, &doc.Description, &doc.BranchName)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("task %s: %w", taskID, ErrPRDNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("load prd %s: %w", taskID, err)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, title, description, acceptance_criteria, priority, passes
		FROM stories WHERE task_id = ? ORDER BY position`, taskID)
	if err != nil {
		return nil, fmt.Errorf("load stories %s: %w", taskID, err)
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		st := prd.Story{TaskID: taskID}
		var criteria string
		if err := rows.Scan(&st.ID, &st.Title, &st.Description, &criteria, &st.Priority, &st.Passes); err != nil {
			return nil, fmt.Errorf("scan story: %w", err)
		}
		if err := json.Unmarshal([]byte(criteria), &st.AcceptanceCriteria); err != nil {
			return nil, fmt.Errorf("decode acceptance criteria for %s: %w", st.ID, err)
		}
		doc.Stories = append(doc.Stories, st)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate stories: %w", err)
	}
	return doc, nil
}

// SavePRD replaces the stored document for doc.TaskID.
func (s *Store) SavePRD(ctx context.Context, doc *prd.Document) error {
	if doc.TaskID == "" {
		return fmt.Errorf("save prd: missing task id")
	}
	now := time.Now().UTC().Format(time.RFC3339Nano)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec(ctx, `
		INSERT INTO prds (task_id, project, description, branch_name, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (task_id) DO UPDATE SET
			project = excluded.project,
			description = excluded.description,
			branch_name = excluded.branch_name,
			updated_at = excluded.updated_at`,
		doc.TaskID, doc.ProjectName, doc.Description, doc.BranchName, now, now,
	); err != nil {
		return fmt.Errorf("save prd %s: %w", doc.TaskID, err)
	}

	if _, err := tx.Exec(ctx, "DELETE FROM stories WHERE task_id = ?", doc.TaskID); err != nil {
		return fmt.Errorf("clear stories %s: %w", doc.TaskID, err)
	}
	for i, st := range doc.Stories {
		criteria, err := json.Marshal(nonNil(st.AcceptanceCriteria))
		if err != nil {
			return fmt.Errorf("encode acceptance criteria for %s: %w", st.ID, err)
		}
		if _, err := tx.Exec(ctx, `
			INSERT INTO stories (task_id, id, position, title, description, acceptance_criteria, priority, passes)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			doc.TaskID, st.ID, i, st.Title, st.Description, string(criteria), st.Priority, st.Passes,
		); err != nil {
			return fmt.Errorf("save story %s: %w", st.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit prd %s: %w", doc.TaskID, err)
	}
	return nil
}

// MarkStoryPassed flags one story as passing.
func (s *Store) MarkStoryPassed(ctx context.Context, taskID, storyID string) error {
	res, err := s.db.ExecContext(ctx,
		"UPDATE stories SET passes = ? WHERE task_id = ? AND id = ?", true, taskID, storyID)
	if err != nil {
		return fmt.Errorf("mark story %s passed: %w", storyID, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("story %s in task %s: %w", storyID, taskID, ErrPRDNotFound)
	}
	return nil
}

// SaveIteration inserts or updates an iteration record.
func (s *Store) SaveIteration(ctx context.Context, rec IterationRecord) error {
	ended := ""
	if !rec.EndedAt.IsZero() {
		ended = rec.EndedAt.UTC().Format(time.RFC3339Nano)
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO iterations (id, session_id, task_id, story_id, attempt, outcome, output, started_at, ended_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			outcome = excluded.outcome,
			output = excluded.output,
			ended_at = excluded.ended_at`,
		rec.ID, rec.SessionID, rec.TaskID, rec.StoryID, rec.Attempt, rec.Outcome, rec.Output,
		rec.StartedAt.UTC().Format(time.RFC3339Nano), ended,
	)
	if err != nil {
		return fmt.Errorf("save iteration %s: %w", rec.ID, err)
	}
	return nil
}

// ListIterations returns a task's iterations oldest first.
func (s *Store) ListIterations(ctx context.Context, taskID string) ([]IterationRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, session_id, task_id, story_id, attempt, outcome, output, started_at, ended_at
		FROM iterations WHERE task_id = ? ORDER BY started_at, id`, taskID)
	if err != nil {
		return nil, fmt.Errorf("list iterations %s: %w", taskID, err)
	}
	defer func() { _ = rows.Close() }()

	var out []IterationRecord
	for rows.Next() {
		var rec IterationRecord
		var started, ended string
		if err := rows.Scan(&rec.ID, &rec.SessionID, &rec.TaskID, &rec.StoryID, &rec.Attempt,
			&rec.Outcome, &rec.Output, &started, &ended); err != nil {
			return nil, fmt.Errorf("scan iteration: %w", err)
		}
		rec.StartedAt = parseTime(started)
		rec.EndedAt = parseTime(ended)
		out = append(out, rec)
	}
	return out, rows.Err()
}

// SaveFailure records a failure snapshot.
func (s *Store) SaveFailure(ctx context.Context, f FailureSnapshot) error {
	created := f.CreatedAt
	if created.IsZero() {
		created = time.Now()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO failure_snapshots (session_id, task_id, story_id, attempt, output, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		f.SessionID, f.TaskID, f.StoryID, f.Attempt, f.Output, created.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("save failure for %s: %w", f.TaskID, err)
	}
	return nil
}

// ListFailures returns a task's failure snapshots oldest first.
func (s *Store) ListFailures(ctx context.Context, taskID string) ([]FailureSnapshot, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, session_id, task_id, story_id, attempt, output, created_at
		FROM failure_snapshots WHERE task_id = ? ORDER BY id`, taskID)
	if err != nil {
		return nil, fmt.Errorf("list failures %s: %w", taskID, err)
	}
	defer func() { _ = rows.Close() }()

	var out []FailureSnapshot
	for rows.Next() {
		var f FailureSnapshot
		var created string
		if err := rows.Scan(&f.ID, &f.SessionID, &f.TaskID, &f.StoryID, &f.Attempt, &f.Output, &created); err != nil {
			return nil, fmt.Errorf("scan failure: %w", err)
		}
		f.CreatedAt = parseTime(created)
		out = append(out, f)
	}
	return out, rows.Err()
}

func parseTime(s string) time.Time {
	if strings.TrimSpace(s) == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
