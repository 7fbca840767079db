package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/mmynk/closeout/internal/models"
)

// RecordNotification inserts a confirmation unless one already exists
// for the (cycle, participant) pair. The INSERT OR IGNORE against the
// unique key is the linearization point: exactly one of any set of
// concurrent callers observes created=true, the rest read back the
// winner's row.
func (s *SQLiteStore) RecordNotification(ctx context.Context, rec *models.NotificationRecord) (bool, *models.NotificationRecord, error) {
	// Generate ID if not set
	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	if rec.ReceivedAt.IsZero() {
		rec.ReceivedAt = time.Now().UTC()
	}

	res, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO notifications (id, cycle_id, participant_id, amount, currency, reference, settled_at, received_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.CycleID, rec.ParticipantID, rec.Amount.String(), rec.Currency,
		rec.Reference, rec.SettledAt.Unix(), rec.ReceivedAt.Unix(),
	)
	if err != nil {
		return false, nil, fmt.Errorf("failed to insert notification: %w", err)
	}

	inserted, err := res.RowsAffected()
	if err != nil {
		return false, nil, fmt.Errorf("failed to read insert result: %w", err)
	}
	if inserted == 1 {
		return true, rec, nil
	}

	existing, err := s.getNotification(ctx, rec.CycleID, rec.ParticipantID)
	if err != nil {
		return false, nil, err
	}
	return false, existing, nil
}

// CountNotifications returns the number of accepted confirmations for a cycle.
func (s *SQLiteStore) CountNotifications(ctx context.Context, cycleID string) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM notifications WHERE cycle_id = ?",
		cycleID,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count notifications: %w", err)
	}
	return count, nil
}

// ListNotifications retrieves all accepted confirmations for a cycle,
// oldest first. received_at has second precision; rowid breaks ties in
// insertion order.
func (s *SQLiteStore) ListNotifications(ctx context.Context, cycleID string) ([]*models.NotificationRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, cycle_id, participant_id, amount, currency, reference, settled_at, received_at
		 FROM notifications WHERE cycle_id = ? ORDER BY received_at, rowid`,
		cycleID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list notifications: %w", err)
	}
	defer rows.Close()

	var records []*models.NotificationRecord
	for rows.Next() {
		rec, err := scanNotification(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate notifications: %w", err)
	}

	return records, nil
}

func (s *SQLiteStore) getNotification(ctx context.Context, cycleID, participantID string) (*models.NotificationRecord, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, cycle_id, participant_id, amount, currency, reference, settled_at, received_at
		 FROM notifications WHERE cycle_id = ? AND participant_id = ?`,
		cycleID, participantID,
	)
	rec, err := scanNotification(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("notification not found: cycle %s participant %s", cycleID, participantID)
	}
	return rec, err
}

// scanner is satisfied by both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanNotification(row scanner) (*models.NotificationRecord, error) {
	rec := &models.NotificationRecord{}
	var amount string
	var settledAt, receivedAt int64

	err := row.Scan(&rec.ID, &rec.CycleID, &rec.ParticipantID, &amount,
		&rec.Currency, &rec.Reference, &settledAt, &receivedAt)
	if err == sql.ErrNoRows {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan notification: %w", err)
	}

	rec.Amount, err = decimal.NewFromString(amount)
	if err != nil {
		return nil, fmt.Errorf("failed to parse stored amount %q: %w", amount, err)
	}
	rec.SettledAt = time.Unix(settledAt, 0).UTC()
	rec.ReceivedAt = time.Unix(receivedAt, 0).UTC()

	return rec, nil
}
