package notify

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// PGStore keeps the delivery log in notification_log.
type PGStore struct {
	pool *pgxpool.Pool
}

// NewPGStore constructs the store.
func NewPGStore(pool *pgxpool.Pool) *PGStore {
	return &PGStore{pool: pool}
}

// ShouldSend implements Store.
func (s *PGStore) ShouldSend(ctx context.Context, key Key) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM notification_log
WHERE recipient = $1 AND type = $2 AND target_id = $3 AND sent_on = $4)`,
		key.Recipient, string(key.Type), key.TargetID, key.Day).Scan(&exists)
	if err != nil {
		return false, err
	}
	return !exists, nil
}

// Record implements Store. A concurrent duplicate is absorbed by the unique index.
func (s *PGStore) Record(ctx context.Context, key Key, sentAt time.Time) error {
	_, err := s.pool.Exec(ctx, `INSERT INTO notification_log (recipient, type, target_id, sent_at, sent_on)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (recipient, type, target_id, sent_on) DO NOTHING`,
		key.Recipient, string(key.Type), key.TargetID, sentAt, key.Day)
	return err
}
