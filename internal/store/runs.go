package store

import (
	"database/sql"
	"errors"
	"fmt"
	"log"
	"time"
)

// ErrRunInProgress is returned by StartRun when a cycle of the same kind
// is still unfinished. The caller must exit without doing any work.
var ErrRunInProgress = errors.New("run of this kind already in progress")

// staleRunAfter is how long an unfinished run may sit before it is
// presumed abandoned (crashed or cancelled mid-cycle) and superseded.
const staleRunAfter = time.Hour

// StartRun opens a new run of the given kind. At most one run per kind
// may be in progress; a fresh conflict yields ErrRunInProgress, while an
// unfinished run older than staleRunAfter is marked failed as abandoned
// and the new run proceeds.
func (db *DB) StartRun(kind string) (*Run, error) {
	tx, err := db.conn.Begin()
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	var id int64
	var startedAt string
	err = tx.QueryRow(
		"SELECT id, started_at FROM runs WHERE kind = ? AND finished_at IS NULL ORDER BY id DESC LIMIT 1",
		kind,
	).Scan(&id, &startedAt)
	switch {
	case err == sql.ErrNoRows:
		// No conflict.
	case err != nil:
		return nil, err
	default:
		started, parseErr := time.Parse(time.RFC3339, startedAt)
		if parseErr == nil && time.Since(started) < staleRunAfter {
			return nil, fmt.Errorf("%w: %s run %d started %s", ErrRunInProgress, kind, id, startedAt)
		}
		// Abandoned run: report it and close it out so the cycle can proceed.
		log.Printf("found abandoned %s run %d (started %s), marking failed", kind, id, startedAt)
		if _, err := tx.Exec(
			"UPDATE runs SET finished_at = ?, ok = 0, summary = 'abandoned: never finished' WHERE id = ?",
			Now(), id,
		); err != nil {
			return nil, err
		}
	}

	now := Now()
	result, err := tx.Exec("INSERT INTO runs (kind, started_at) VALUES (?, ?)", kind, now)
	if err != nil {
		return nil, err
	}
	newID, err := result.LastInsertId()
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return &Run{ID: newID, Kind: kind, StartedAt: now}, nil
}

// FinishRun closes a run with its outcome and structured summary.
func (db *DB) FinishRun(id int64, ok bool, summary string) error {
	okVal := 0
	if ok {
		okVal = 1
	}
	_, err := db.conn.Exec(
		"UPDATE runs SET finished_at = ?, ok = ?, summary = ? WHERE id = ?",
		Now(), okVal, summary, id,
	)
	return err
}

// RecentRuns returns the most recent runs, newest first.
func (db *DB) RecentRuns(limit int) ([]Run, error) {
	rows, err := db.conn.Query(
		"SELECT id, kind, started_at, finished_at, ok, summary FROM runs ORDER BY id DESC LIMIT ?",
		limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var r Run
		var ok int
		if err := rows.Scan(&r.ID, &r.Kind, &r.StartedAt, &r.FinishedAt, &ok, &r.Summary); err != nil {
			return nil, err
		}
		r.OK = ok != 0
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// CountFailedRunsSince counts finished, unsuccessful runs after the given
// timestamp.
func (db *DB) CountFailedRunsSince(since string) (int, error) {
	var count int
	err := db.conn.QueryRow(
		"SELECT COUNT(*) FROM runs WHERE ok = 0 AND finished_at IS NOT NULL AND finished_at >= ?",
		since,
	).Scan(&count)
	return count, err
}
