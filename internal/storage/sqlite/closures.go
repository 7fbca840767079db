package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/mmynk/closeout/internal/models"
)

// BeginClosure takes ownership of a cycle's closure attempt. The
// transition absent/CLOSE_FAILED -> CLOSING happens in one transaction
// so only a single caller may drive the close call to the hub at a
// time. A marker already CLOSING or CLOSED is returned unacquired.
func (s *SQLiteStore) BeginClosure(ctx context.Context, cycleID string) (bool, models.ClosureState, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, "", fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().Unix()

	var state string
	err = tx.QueryRowContext(ctx,
		"SELECT state FROM cycle_closures WHERE cycle_id = ?", cycleID,
	).Scan(&state)
	if err == sql.ErrNoRows {
		if _, err := tx.ExecContext(ctx,
			"INSERT INTO cycle_closures (cycle_id, state, attempted_at) VALUES (?, ?, ?)",
			cycleID, models.ClosureStateClosing, now,
		); err != nil {
			return false, "", fmt.Errorf("failed to insert closure marker: %w", err)
		}
		if err := tx.Commit(); err != nil {
			return false, "", fmt.Errorf("failed to commit closure marker: %w", err)
		}
		return true, models.ClosureStateClosing, nil
	}
	if err != nil {
		return false, "", fmt.Errorf("failed to get closure marker: %w", err)
	}

	switch models.ClosureState(state) {
	case models.ClosureStateFailed:
		if _, err := tx.ExecContext(ctx,
			"UPDATE cycle_closures SET state = ?, attempted_at = ? WHERE cycle_id = ?",
			models.ClosureStateClosing, now, cycleID,
		); err != nil {
			return false, "", fmt.Errorf("failed to update closure marker: %w", err)
		}
		if err := tx.Commit(); err != nil {
			return false, "", fmt.Errorf("failed to commit closure marker: %w", err)
		}
		return true, models.ClosureStateClosing, nil
	default:
		// CLOSING (another caller owns it) or CLOSED (terminal).
		return false, models.ClosureState(state), nil
	}
}

// FinishClosure resolves the in-flight closure attempt for a cycle.
// A marker that already reached CLOSED is left untouched.
func (s *SQLiteStore) FinishClosure(ctx context.Context, cycleID string, success bool, cause string) error {
	var (
		res sql.Result
		err error
	)
	if success {
		res, err = s.db.ExecContext(ctx,
			"UPDATE cycle_closures SET state = ?, closed_at = ?, last_error = '' WHERE cycle_id = ? AND state != ?",
			models.ClosureStateClosed, time.Now().Unix(), cycleID, models.ClosureStateClosed,
		)
	} else {
		res, err = s.db.ExecContext(ctx,
			"UPDATE cycle_closures SET state = ?, last_error = ? WHERE cycle_id = ? AND state != ?",
			models.ClosureStateFailed, cause, cycleID, models.ClosureStateClosed,
		)
	}
	if err != nil {
		return fmt.Errorf("failed to update closure marker: %w", err)
	}

	updated, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read update result: %w", err)
	}
	if updated == 0 {
		marker, err := s.GetClosure(ctx, cycleID)
		if err != nil {
			return err
		}
		if marker == nil {
			return fmt.Errorf("no closure in flight for cycle %s", cycleID)
		}
		// Already CLOSED: terminal, nothing to record.
		return nil
	}
	return nil
}

// GetClosure retrieves the closure marker for a cycle.
// Returns nil when no closure has been attempted yet.
func (s *SQLiteStore) GetClosure(ctx context.Context, cycleID string) (*models.ClosureMarker, error) {
	marker, err := scanClosure(s.db.QueryRowContext(ctx,
		`SELECT cycle_id, state, attempted_at, closed_at, last_error
		 FROM cycle_closures WHERE cycle_id = ?`,
		cycleID,
	))
	if err == sql.ErrNoRows {
		return nil, nil // No closure attempted
	}
	return marker, err
}

// ListClosuresByState retrieves all closure markers in the given state,
// oldest attempt first. The repairer scans CLOSE_FAILED and stale
// CLOSING markers through this.
func (s *SQLiteStore) ListClosuresByState(ctx context.Context, state models.ClosureState) ([]*models.ClosureMarker, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT cycle_id, state, attempted_at, closed_at, last_error
		 FROM cycle_closures WHERE state = ? ORDER BY attempted_at, cycle_id`,
		state,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list closures: %w", err)
	}
	defer rows.Close()

	var markers []*models.ClosureMarker
	for rows.Next() {
		marker, err := scanClosure(rows)
		if err != nil {
			return nil, err
		}
		markers = append(markers, marker)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate closures: %w", err)
	}

	return markers, nil
}

func scanClosure(row scanner) (*models.ClosureMarker, error) {
	marker := &models.ClosureMarker{}
	var attemptedAt int64
	var closedAt sql.NullInt64

	err := row.Scan(&marker.CycleID, &marker.State, &attemptedAt, &closedAt, &marker.LastError)
	if err == sql.ErrNoRows {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan closure marker: %w", err)
	}

	marker.AttemptedAt = time.Unix(attemptedAt, 0).UTC()
	if closedAt.Valid {
		t := time.Unix(closedAt.Int64, 0).UTC()
		marker.ClosedAt = &t
	}

	return marker, nil
}
