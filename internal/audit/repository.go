package audit

import (
	"context"
	"encoding/json"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
)

// WindowParams scopes a timeline query.
type WindowParams struct {
	FromAt     pgtype.Timestamptz
	ToAt       pgtype.Timestamptz
	Actor      pgtype.Text
	Action     pgtype.Text
	TargetType pgtype.Text
	TargetID   pgtype.Text
	OffsetRows int32
	LimitRows  int32
}

// PGRepository reads audit_log. It has no update or delete path.
type PGRepository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a PostgreSQL audit repository.
func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

const timelineSelect = `SELECT id, ts, actor, action, target_type, target_id, outcome, details
FROM audit_log
WHERE ($1::timestamptz IS NULL OR ts >= $1)
  AND ($2::timestamptz IS NULL OR ts < $2)
  AND ($3::text IS NULL OR actor = $3)
  AND ($4::text IS NULL OR action = $4)
  AND ($5::text IS NULL OR target_type = $5)
  AND ($6::text IS NULL OR target_id = $6)
ORDER BY id DESC`

// Window returns a page of entries, newest first.
func (r *PGRepository) Window(ctx context.Context, arg WindowParams) ([]Entry, error) {
	rows, err := r.pool.Query(ctx, timelineSelect+` OFFSET $7 LIMIT $8`,
		arg.FromAt, arg.ToAt, arg.Actor, arg.Action, arg.TargetType, arg.TargetID, arg.OffsetRows, arg.LimitRows)
	if err != nil {
		return nil, err
	}
	return scanEntries(rows)
}

// All returns every entry matching the filter, newest first.
func (r *PGRepository) All(ctx context.Context, arg WindowParams) ([]Entry, error) {
	rows, err := r.pool.Query(ctx, timelineSelect,
		arg.FromAt, arg.ToAt, arg.Actor, arg.Action, arg.TargetType, arg.TargetID)
	if err != nil {
		return nil, err
	}
	return scanEntries(rows)
}

func scanEntries(rows pgx.Rows) ([]Entry, error) {
	defer rows.Close()
	var out []Entry
	for rows.Next() {
		var e Entry
		var ts time.Time
		var raw []byte
		if err := rows.Scan(&e.ID, &ts, &e.Actor, &e.Action, &e.TargetType, &e.TargetID, &e.Outcome, &raw); err != nil {
			return nil, err
		}
		e.At = ts.UTC()
		if len(raw) > 0 {
			if err := json.Unmarshal(raw, &e.Details); err != nil {
				return nil, err
			}
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
