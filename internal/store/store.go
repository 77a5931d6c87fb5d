package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/andresmejia3/facesampler/internal/sampler"
	"github.com/andresmejia3/facesampler/internal/utils"
	"github.com/jackc/pgx/v5"
)

// Run states.
const (
	RunRunning   = "running"
	RunCompleted = "completed"
	RunCancelled = "cancelled"
	RunFailed    = "failed"
)

// ErrRunNotFound is returned when a run ID is not in the ledger.
var ErrRunNotFound = errors.New("run not found")

// Store records sampling runs and per-video outcomes in PostgreSQL.
type Store struct {
	conn *pgx.Conn
}

// Run is one row of sampling_runs.
type Run struct {
	ID         string
	StartedAt  time.Time
	FinishedAt *time.Time
	Seed       uint64
	Params     sampler.Params
	Samples    int
	Status     string
}

// VideoOutcome is one row of video_outcomes.
type VideoOutcome struct {
	Label       string
	VideoID     string
	Path        string
	Status      string
	Reason      string
	Samples     int
	FramesSaved int
	Attempts    int
	FrameCount  int
}

// New establishes a connection to the database and ensures the schema is initialized.
func New(ctx context.Context, connString string) (*Store, error) {
	conn, err := pgx.Connect(ctx, connString)
	if err != nil {
		return nil, err
	}

	// Initialize schema (Auto-Migration)
	if err := initSchema(ctx, conn); err != nil {
		conn.Close(ctx)
		return nil, fmt.Errorf("failed to initialize database schema: %w", err)
	}

	return &Store{conn: conn}, nil
}

// initSchema creates the ledger tables if they don't exist (Auto-Migration).
func initSchema(ctx context.Context, conn *pgx.Conn) error {
	query := `
		CREATE TABLE IF NOT EXISTS sampling_runs (
			id TEXT PRIMARY KEY,
			started_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			finished_at TIMESTAMPTZ,
			seed TEXT NOT NULL,
			params JSONB NOT NULL,
			samples INT NOT NULL DEFAULT 0,
			status TEXT NOT NULL
		);
		CREATE TABLE IF NOT EXISTS video_outcomes (
			id BIGSERIAL PRIMARY KEY,
			run_id TEXT NOT NULL REFERENCES sampling_runs(id) ON DELETE CASCADE,
			label TEXT NOT NULL,
			video_id TEXT NOT NULL,
			path TEXT NOT NULL,
			status TEXT NOT NULL,
			reason TEXT NOT NULL DEFAULT '',
			samples INT NOT NULL,
			frames_saved INT NOT NULL,
			attempts INT NOT NULL,
			frame_count INT NOT NULL
		);
		CREATE INDEX IF NOT EXISTS video_outcomes_run_id_idx ON video_outcomes (run_id);
	`
	_, err := conn.Exec(ctx, query)
	return err
}

// Close terminates the database connection.
func (s *Store) Close(ctx context.Context) {
	s.conn.Close(ctx)
}

// CreateRun inserts a run in the running state.
func (s *Store) CreateRun(ctx context.Context, id string, seed uint64, p sampler.Params) error {
	params, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("encode params: %w", err)
	}
	_, err = s.conn.Exec(ctx, `
		INSERT INTO sampling_runs (id, seed, params, status)
		VALUES ($1, $2, $3, $4)
	`, id, strconv.FormatUint(seed, 10), params, RunRunning)
	return err
}

// RecordOutcome saves the outcome of one video. The video ID is derived from the file so
// repeated runs over the same corpus can be compared.
func (s *Store) RecordOutcome(ctx context.Context, runID string, r sampler.VideoReport) error {
	videoID, err := utils.GenerateVideoID(r.Path)
	if err != nil {
		// Unreadable files still get a row; the path is the best identity left.
		videoID = r.Path
	}
	reason := ""
	if r.Outcome.Reason != nil {
		reason = r.Outcome.Reason.Error()
	}
	_, err = s.conn.Exec(ctx, `
		INSERT INTO video_outcomes (run_id, label, video_id, path, status, reason, samples, frames_saved, attempts, frame_count)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, runID, string(r.Label), videoID, r.Path, r.Outcome.Status.String(), reason,
		r.Outcome.Samples, r.Outcome.FramesSaved, r.Outcome.Attempts, r.Outcome.FrameCount)
	return err
}

// FinishRun stamps the run with its final state and sample count.
func (s *Store) FinishRun(ctx context.Context, id, status string, samples int) error {
	tag, err := s.conn.Exec(ctx, `
		UPDATE sampling_runs SET finished_at = NOW(), status = $2, samples = $3 WHERE id = $1
	`, id, status, samples)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrRunNotFound
	}
	return nil
}

// ListRuns returns all runs, newest first.
func (s *Store) ListRuns(ctx context.Context) ([]Run, error) {
	rows, err := s.conn.Query(ctx, `
		SELECT id, started_at, finished_at, seed, params, samples, status
		FROM sampling_runs ORDER BY started_at DESC, id
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var r Run
		var seed string
		var params []byte
		if err := rows.Scan(&r.ID, &r.StartedAt, &r.FinishedAt, &seed, &params, &r.Samples, &r.Status); err != nil {
			return nil, err
		}
		if r.Seed, err = strconv.ParseUint(seed, 10, 64); err != nil {
			return nil, fmt.Errorf("run %s: bad seed %q: %w", r.ID, seed, err)
		}
		if err := json.Unmarshal(params, &r.Params); err != nil {
			return nil, fmt.Errorf("run %s: bad params: %w", r.ID, err)
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// RunOutcomes returns the recorded outcomes of one run in processing order.
func (s *Store) RunOutcomes(ctx context.Context, runID string) ([]VideoOutcome, error) {
	var exists bool
	if err := s.conn.QueryRow(ctx, "SELECT EXISTS (SELECT 1 FROM sampling_runs WHERE id = $1)", runID).Scan(&exists); err != nil {
		return nil, err
	}
	if !exists {
		return nil, ErrRunNotFound
	}

	rows, err := s.conn.Query(ctx, `
		SELECT label, video_id, path, status, reason, samples, frames_saved, attempts, frame_count
		FROM video_outcomes WHERE run_id = $1 ORDER BY id
	`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []VideoOutcome
	for rows.Next() {
		var o VideoOutcome
		if err := rows.Scan(&o.Label, &o.VideoID, &o.Path, &o.Status, &o.Reason, &o.Samples, &o.FramesSaved, &o.Attempts, &o.FrameCount); err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

// Reset drops all application tables to clear the database state.
// This is useful for development to force a schema refresh without migrations.
func (s *Store) Reset(ctx context.Context) error {
	_, err := s.conn.Exec(ctx, `
		DROP TABLE IF EXISTS video_outcomes CASCADE;
		DROP TABLE IF EXISTS sampling_runs CASCADE;
	`)
	return err
}
