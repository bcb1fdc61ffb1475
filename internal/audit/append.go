package audit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
)

// Querier is the subset of pgx used to append; both pools and transactions satisfy it.
type Querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Validate checks the mandatory fields of an entry.
func (e Entry) Validate() error {
	if e.Actor == "" || e.Action == "" || e.TargetType == "" || e.TargetID == "" {
		return errors.New("audit: entry requires actor/action/target_type/target_id")
	}
	if e.Outcome == "" {
		return errors.New("audit: entry requires outcome")
	}
	return nil
}

// Append inserts entry using q and returns it with the assigned id. Callers pass a
// pgx.Tx so the entry commits or rolls back together with the state change it describes.
func Append(ctx context.Context, q Querier, entry Entry) (Entry, error) {
	if err := entry.Validate(); err != nil {
		return Entry{}, err
	}
	if entry.At.IsZero() {
		entry.At = time.Now().UTC()
	}
	details, err := json.Marshal(entry.Details)
	if err != nil {
		return Entry{}, fmt.Errorf("audit: encode details: %w", err)
	}
	err = q.QueryRow(ctx, `INSERT INTO audit_log (ts, actor, action, target_type, target_id, outcome, details)
VALUES ($1, $2, $3, $4, $5, $6, $7) RETURNING id`,
		entry.At, entry.Actor, entry.Action, entry.TargetType, entry.TargetID, entry.Outcome, details).Scan(&entry.ID)
	if err != nil {
		return Entry{}, fmt.Errorf("audit: append: %w", err)
	}
	return entry, nil
}
