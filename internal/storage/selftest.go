package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
)

// SelfTestRecord is one machine's outcome within a self-test run.
type SelfTestRecord struct {
	ID         string
	RunID      string
	MachineID  int
	OfferID    int
	InstanceID int
	GPUName    string
	Passed     bool
	Reason     string
	Duration   time.Duration
	StartedAt  time.Time
}

// SelfTestFilter narrows History. Zero values match everything.
type SelfTestFilter struct {
	MachineID  int
	RunID      string
	FailedOnly bool
	Since      time.Time
	Limit      int
}

// MachineSummary aggregates history for one machine.
type MachineSummary struct {
	MachineID  int
	Runs       int
	Passed     int
	LastRun    time.Time
	LastPassed bool
}

// PassRate returns the fraction of passing runs.
func (m MachineSummary) PassRate() float64 {
	if m.Runs == 0 {
		return 0
	}
	return float64(m.Passed) / float64(m.Runs)
}

// SelfTestStore persists self-test results
type SelfTestStore struct {
	db *DB
}

// NewSelfTestStore creates a new self-test store
func NewSelfTestStore(db *DB) *SelfTestStore {
	return &SelfTestStore{db: db}
}

// Record inserts r, assigning an ID when empty.
func (s *SelfTestStore) Record(ctx context.Context, r *SelfTestRecord) error {
	if r.RunID == "" || r.MachineID <= 0 {
		return ErrIncompleteResult
	}
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	if r.StartedAt.IsZero() {
		r.StartedAt = time.Now()
	}

	query := `
		INSERT INTO selftest_runs (
			id, run_id, machine_id, offer_id, instance_id, gpu_name,
			passed, reason, duration_ms, started_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := s.db.ExecContext(ctx, query,
		r.ID, r.RunID, r.MachineID, r.OfferID, r.InstanceID, nullString(r.GPUName),
		r.Passed, nullString(r.Reason), r.Duration.Milliseconds(), r.StartedAt.UTC(),
	)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return fmt.Errorf("%w: %s", ErrDuplicateResult, r.ID)
		}
		return fmt.Errorf("failed to record self-test result: %w", err)
	}
	return nil
}

// Get returns a record by ID.
func (s *SelfTestStore) Get(ctx context.Context, id string) (*SelfTestRecord, error) {
	query := selectSelfTest + ` WHERE id = ?`
	rec, err := scanSelfTest(s.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrResultNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get self-test result: %w", err)
	}
	return rec, nil
}

// History returns records matching filter, newest first.
func (s *SelfTestStore) History(ctx context.Context, filter SelfTestFilter) ([]*SelfTestRecord, error) {
	query := selectSelfTest + ` WHERE 1=1`
	var args []any

	if filter.MachineID > 0 {
		query += " AND machine_id = ?"
		args = append(args, filter.MachineID)
	}
	if filter.RunID != "" {
		query += " AND run_id = ?"
		args = append(args, filter.RunID)
	}
	if filter.FailedOnly {
		query += " AND passed = 0"
	}
	if !filter.Since.IsZero() {
		query += " AND started_at >= ?"
		args = append(args, filter.Since.UTC())
	}

	query += " ORDER BY started_at DESC, id"
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list self-test results: %w", err)
	}
	defer rows.Close()

	records := []*SelfTestRecord{}
	for rows.Next() {
		rec, err := scanSelfTest(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan self-test result: %w", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating self-test results: %w", err)
	}
	return records, nil
}

// Summaries aggregates pass counts per machine, ordered by machine ID.
func (s *SelfTestStore) Summaries(ctx context.Context) ([]MachineSummary, error) {
	records, err := s.History(ctx, SelfTestFilter{})
	if err != nil {
		return nil, err
	}

	byMachine := map[int]*MachineSummary{}
	var order []int
	for _, r := range records {
		sum, ok := byMachine[r.MachineID]
		if !ok {
			// records are newest first, so the first one seen is the latest
			sum = &MachineSummary{MachineID: r.MachineID, LastRun: r.StartedAt, LastPassed: r.Passed}
			byMachine[r.MachineID] = sum
			order = append(order, r.MachineID)
		}
		sum.Runs++
		if r.Passed {
			sum.Passed++
		}
	}

	out := make([]MachineSummary, 0, len(order))
	for _, id := range order {
		out = append(out, *byMachine[id])
	}
	sort.Slice(out, func(i, j int) bool { return out[i].MachineID < out[j].MachineID })
	return out, nil
}

// Prune deletes records older than cutoff and reports how many went.
func (s *SelfTestStore) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM selftest_runs WHERE started_at < ?`, cutoff.UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to prune self-test results: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return n, nil
}

const selectSelfTest = `
	SELECT id, run_id, machine_id, offer_id, instance_id, gpu_name,
		passed, reason, duration_ms, started_at
	FROM selftest_runs`

type scanner interface {
	Scan(dest ...any) error
}

func scanSelfTest(row scanner) (*SelfTestRecord, error) {
	var r SelfTestRecord
	var gpuName, reason sql.NullString
	var durationMS int64
	err := row.Scan(
		&r.ID, &r.RunID, &r.MachineID, &r.OfferID, &r.InstanceID, &gpuName,
		&r.Passed, &reason, &durationMS, &r.StartedAt,
	)
	if err != nil {
		return nil, err
	}
	r.GPUName = gpuName.String
	r.Reason = reason.String
	r.Duration = time.Duration(durationMS) * time.Millisecond
	return &r, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
