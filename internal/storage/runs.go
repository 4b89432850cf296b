package storage

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// CreateRun inserts r with outcome "running" unless r.Outcome is set.
func (s *Store) CreateRun(r Run) error {
	outcome := r.Outcome
	if outcome == "" {
		outcome = OutcomeRunning
	}
	modelsJSON, err := json.Marshal(nonNil(r.Models))
	if err != nil {
		return fmt.Errorf("encoding models: %w", err)
	}
	_, err = s.db.Exec(`
		INSERT INTO provision_runs (id, started_at, models, chat_model, tab_model, embeddings_model, outcome)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.StartedAt.UTC().Format(timeLayout), string(modelsJSON),
		r.ChatModel, r.TabModel, r.EmbeddingsModel, outcome,
	)
	if err != nil {
		return fmt.Errorf("inserting run %s: %w", r.ID, err)
	}
	return nil
}

// RecordPull marks model as downloaded by run id.
func (s *Store) RecordPull(id, model string, at time.Time) error {
	_, err := s.db.Exec(`
		INSERT INTO pulled_models (run_id, model, pulled_at) VALUES (?, ?, ?)
		ON CONFLICT(run_id, model) DO UPDATE SET pulled_at = excluded.pulled_at`,
		id, model, at.UTC().Format(timeLayout),
	)
	if err != nil {
		return fmt.Errorf("recording pull of %s: %w", model, err)
	}
	return nil
}

// FinishRun stores the final outcome of run id.
func (s *Store) FinishRun(id, outcome, failedModel, errMsg string, at time.Time) error {
	res, err := s.db.Exec(`
		UPDATE provision_runs SET outcome = ?, failed_model = ?, error = ?, finished_at = ?
		WHERE id = ?`,
		outcome, failedModel, errMsg, at.UTC().Format(timeLayout), id,
	)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// timeLayout has fixed width so stored timestamps sort lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

const runColumns = `id, started_at, finished_at, models, chat_model, tab_model, embeddings_model, outcome, failed_model, error`

type rowScanner interface {
	Scan(dest ...any) error
}

// parseStoredTime accepts a timestamp column as text or, when the driver
// recognizes a time affinity, as time.Time. A nil value yields the zero time.
func parseStoredTime(v any) (time.Time, error) {
	var s string
	switch t := v.(type) {
	case nil:
		return time.Time{}, nil
	case time.Time:
		return t.UTC(), nil
	case string:
		s = t
	case []byte:
		s = string(t)
	default:
		return time.Time{}, fmt.Errorf("unexpected timestamp type %T", v)
	}
	if s == "" {
		return time.Time{}, nil
	}
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02 15:04:05.999999999-07:00", "2006-01-02 15:04:05"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp %q", s)
}

func scanRun(row rowScanner) (Run, error) {
	var r Run
	var startedAt, finishedAt any
	var modelsJSON string
	if err := row.Scan(&r.ID, &startedAt, &finishedAt, &modelsJSON, &r.ChatModel, &r.TabModel,
		&r.EmbeddingsModel, &r.Outcome, &r.FailedModel, &r.Error); err != nil {
		return Run{}, err
	}

	var err error
	if r.StartedAt, err = parseStoredTime(startedAt); err != nil {
		return Run{}, fmt.Errorf("parsing started_at: %w", err)
	}
	if r.FinishedAt, err = parseStoredTime(finishedAt); err != nil {
		return Run{}, fmt.Errorf("parsing finished_at: %w", err)
	}
	if err := json.Unmarshal([]byte(modelsJSON), &r.Models); err != nil {
		return Run{}, fmt.Errorf("decoding models: %w", err)
	}
	return r, nil
}

// GetRun returns run id with its pulled models.
func (s *Store) GetRun(id string) (Run, error) {
	r, err := scanRun(s.db.QueryRow(`SELECT `+runColumns+` FROM provision_runs WHERE id = ?`, id))
	if err == sql.ErrNoRows {
		return Run{}, ErrNotFound
	}
	if err != nil {
		return Run{}, err
	}
	r.Pulled, err = s.pulledModels(id)
	if err != nil {
		return Run{}, err
	}
	return r, nil
}

// RecentRuns returns up to limit runs, newest first.
func (s *Store) RecentRuns(limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.Query(`SELECT `+runColumns+` FROM provision_runs ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	rows.Close()

	for i := range runs {
		if runs[i].Pulled, err = s.pulledModels(runs[i].ID); err != nil {
			return nil, err
		}
	}
	return runs, nil
}

func (s *Store) pulledModels(id string) ([]string, error) {
	rows, err := s.db.Query(`SELECT model FROM pulled_models WHERE run_id = ? ORDER BY pulled_at ASC`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var m string
		if err := rows.Scan(&m); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
