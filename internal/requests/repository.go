package requests

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/odyssey-access/internal/audit"
	"github.com/odyssey-erp/odyssey-access/internal/authority"
	"github.com/odyssey-erp/odyssey-access/internal/platform/db"
	"github.com/odyssey-erp/odyssey-access/internal/shared"
)

// PGRepository provides PostgreSQL backed persistence.
type PGRepository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

type txRepo struct {
	tx pgx.Tx
}

// WithTx wraps callback in repeatable-read transaction.
func (r *PGRepository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepo{tx: tx})
	})
}

const requestColumns = `id, requester_id, requester_email, requester_role, resource_id, requested_level,
current_level, status, requested_at, decided_at, decided_by, expiry_at, duration_hours, notes, version`

func scanRequest(row pgx.Row) (PermissionRequest, error) {
	var (
		req                     PermissionRequest
		role, requested, status string
		current, decidedBy      pgtype.Text
		decidedAt, expiryAt     pgtype.Timestamptz
	)
	err := row.Scan(&req.ID, &req.RequesterID, &req.RequesterEmail, &role, &req.ResourceID, &requested,
		&current, &status, &req.RequestedAt, &decidedAt, &decidedBy, &expiryAt, &req.DurationHours, &req.Notes, &req.Version)
	if err != nil {
		return PermissionRequest{}, err
	}
	req.RequesterRole = authority.Role(role)
	req.RequestedLevel = authority.Level(requested)
	req.Status = Status(status)
	req.RequestedAt = req.RequestedAt.UTC()
	if current.Valid {
		req.CurrentLevel = authority.Level(current.String)
	}
	if decidedBy.Valid {
		req.DecidedBy = decidedBy.String
	}
	req.DecidedAt = timePtr(decidedAt)
	req.ExpiryAt = timePtr(expiryAt)
	return req, nil
}

func timePtr(ts pgtype.Timestamptz) *time.Time {
	if !ts.Valid {
		return nil
	}
	t := ts.Time.UTC()
	return &t
}

func toTimestamptz(t *time.Time) pgtype.Timestamptz {
	if t == nil {
		return pgtype.Timestamptz{}
	}
	return pgtype.Timestamptz{Time: *t, Valid: true}
}

func optionalText(value string) pgtype.Text {
	if value == "" {
		return pgtype.Text{}
	}
	return pgtype.Text{String: value, Valid: true}
}

func collect(rows pgx.Rows) ([]PermissionRequest, error) {
	defer rows.Close()
	var out []PermissionRequest
	for rows.Next() {
		req, err := scanRequest(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, req)
	}
	return out, rows.Err()
}

// Get returns a request by id.
func (r *PGRepository) Get(ctx context.Context, id string) (PermissionRequest, error) {
	req, err := scanRequest(r.pool.QueryRow(ctx, `SELECT `+requestColumns+` FROM permission_requests WHERE id = $1`, id))
	if db.IsNoRows(err) {
		return PermissionRequest{}, ErrNotFound
	}
	return req, err
}

// List returns a filtered page plus the total number of matches.
func (r *PGRepository) List(ctx context.Context, filter ListFilter) ([]PermissionRequest, int, error) {
	var (
		clauses []string
		args    []any
	)
	add := func(clause string, value any) {
		args = append(args, value)
		clauses = append(clauses, fmt.Sprintf(clause, len(args)))
	}
	if filter.Status != "" {
		add("status = $%d", string(filter.Status))
	}
	if filter.RequesterID != "" {
		add("requester_id = $%d", filter.RequesterID)
	}
	if filter.ResourceID != "" {
		add("resource_id = $%d", filter.ResourceID)
	}
	where := ""
	if len(clauses) > 0 {
		where = " WHERE " + strings.Join(clauses, " AND ")
	}

	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM permission_requests`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}
	args = append(args, filter.PerPage, shared.Offset(filter.Page, filter.PerPage))
	query := fmt.Sprintf(`SELECT %s FROM permission_requests%s ORDER BY requested_at DESC, id LIMIT $%d OFFSET $%d`,
		requestColumns, where, len(args)-1, len(args))
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	items, err := collect(rows)
	return items, total, err
}

// ListActive returns every ACTIVE request ordered by expiry.
func (r *PGRepository) ListActive(ctx context.Context) ([]PermissionRequest, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+requestColumns+` FROM permission_requests
WHERE status = $1 ORDER BY expiry_at NULLS LAST, id`, string(StatusActive))
	if err != nil {
		return nil, err
	}
	return collect(rows)
}

// ActiveFor returns ACTIVE requests for a requester on a resource.
func (r *PGRepository) ActiveFor(ctx context.Context, requesterID, resourceID string) ([]PermissionRequest, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+requestColumns+` FROM permission_requests
WHERE status = $1 AND requester_id = $2 AND resource_id = $3`, string(StatusActive), requesterID, resourceID)
	if err != nil {
		return nil, err
	}
	return collect(rows)
}

// CountPending returns the number of PENDING requests.
func (r *PGRepository) CountPending(ctx context.Context) (int, error) {
	var n int
	err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM permission_requests WHERE status = $1`, string(StatusPending)).Scan(&n)
	return n, err
}

func (t *txRepo) PendingExists(ctx context.Context, requesterID, resourceID string, level authority.Level) (bool, error) {
	var exists bool
	err := t.tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM permission_requests
WHERE status = $1 AND requester_id = $2 AND resource_id = $3 AND requested_level = $4)`,
		string(StatusPending), requesterID, resourceID, string(level)).Scan(&exists)
	return exists, err
}

func (t *txRepo) Insert(ctx context.Context, req PermissionRequest) error {
	_, err := t.tx.Exec(ctx, `INSERT INTO permission_requests (`+requestColumns+`)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`,
		req.ID, req.RequesterID, req.RequesterEmail, string(req.RequesterRole), req.ResourceID, string(req.RequestedLevel),
		optionalText(string(req.CurrentLevel)), string(req.Status), req.RequestedAt, toTimestamptz(req.DecidedAt),
		optionalText(req.DecidedBy), toTimestamptz(req.ExpiryAt), req.DurationHours, req.Notes, req.Version)
	if db.IsUniqueViolation(err) {
		return ErrDuplicatePending
	}
	return err
}

func (t *txRepo) UpdateState(ctx context.Context, req PermissionRequest, expectedVersion int64) error {
	tag, err := t.tx.Exec(ctx, `UPDATE permission_requests
SET current_level = $2, status = $3, decided_at = $4, decided_by = $5, expiry_at = $6, version = $7
WHERE id = $1 AND version = $8`,
		req.ID, optionalText(string(req.CurrentLevel)), string(req.Status), toTimestamptz(req.DecidedAt),
		optionalText(req.DecidedBy), toTimestamptz(req.ExpiryAt), req.Version, expectedVersion)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("requests: %s at version %d: %w", req.ID, expectedVersion, shared.ErrConcurrency)
	}
	return nil
}

func (t *txRepo) AppendAudit(ctx context.Context, entry audit.Entry) (audit.Entry, error) {
	return audit.Append(ctx, t.tx, entry)
}
