package clients

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/odyssey-access/internal/audit"
	"github.com/odyssey-erp/odyssey-access/internal/authority"
	"github.com/odyssey-erp/odyssey-access/internal/platform/db"
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

const principalColumns = `id, email, name, role, active`

func scanPrincipal(row pgx.Row) (Principal, error) {
	var p Principal
	var role string
	if err := row.Scan(&p.ID, &p.Email, &p.Name, &role, &p.Active); err != nil {
		return Principal{}, err
	}
	p.Role = authority.Role(role)
	return p, nil
}

// Principal returns a principal by id.
func (r *PGRepository) Principal(ctx context.Context, id string) (Principal, error) {
	p, err := scanPrincipal(r.pool.QueryRow(ctx, `SELECT `+principalColumns+` FROM principals WHERE id = $1`, id))
	if db.IsNoRows(err) {
		return Principal{}, ErrPrincipalNotFound
	}
	return p, err
}

// PrincipalByEmail returns a principal by case-insensitive email.
func (r *PGRepository) PrincipalByEmail(ctx context.Context, email string) (Principal, error) {
	p, err := scanPrincipal(r.pool.QueryRow(ctx, `SELECT `+principalColumns+` FROM principals WHERE lower(email) = lower($1)`, email))
	if db.IsNoRows(err) {
		return Principal{}, ErrPrincipalNotFound
	}
	return p, err
}

// PrincipalsWithRoles lists active principals holding any of roles.
func (r *PGRepository) PrincipalsWithRoles(ctx context.Context, roles []authority.Role) ([]Principal, error) {
	names := make([]string, len(roles))
	for i, role := range roles {
		names[i] = string(role)
	}
	rows, err := r.pool.Query(ctx, `SELECT `+principalColumns+` FROM principals
WHERE active AND role = ANY($1) ORDER BY email`, names)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Principal
	for rows.Next() {
		p, err := scanPrincipal(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// Resource returns a resource by id.
func (r *PGRepository) Resource(ctx context.Context, id string) (Resource, error) {
	var res Resource
	err := r.pool.QueryRow(ctx, `SELECT id, name, active FROM resources WHERE id = $1`, id).Scan(&res.ID, &res.Name, &res.Active)
	if db.IsNoRows(err) {
		return Resource{}, ErrResourceNotFound
	}
	return res, err
}

// ActiveResources lists every active resource.
func (r *PGRepository) ActiveResources(ctx context.Context) ([]Resource, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, name, active FROM resources WHERE active ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Resource
	for rows.Next() {
		var res Resource
		if err := rows.Scan(&res.ID, &res.Name, &res.Active); err != nil {
			return nil, err
		}
		out = append(out, res)
	}
	return out, rows.Err()
}

const assignmentColumns = `id, principal_id, resource_id, status, expires_at, created_at, created_by`

func scanAssignment(row pgx.Row) (Assignment, error) {
	var a Assignment
	var status string
	var expires pgtype.Timestamptz
	if err := row.Scan(&a.ID, &a.PrincipalID, &a.ResourceID, &status, &expires, &a.CreatedAt, &a.CreatedBy); err != nil {
		return Assignment{}, err
	}
	a.Status = AssignmentStatus(status)
	if expires.Valid {
		t := expires.Time.UTC()
		a.ExpiresAt = &t
	}
	return a, nil
}

// AssignmentsForPrincipal lists all assignments held by principal.
func (r *PGRepository) AssignmentsForPrincipal(ctx context.Context, principalID string) ([]Assignment, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+assignmentColumns+` FROM resource_assignments
WHERE principal_id = $1 ORDER BY created_at`, principalID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Assignment
	for rows.Next() {
		a, err := scanAssignment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// Assignment returns an assignment by id.
func (r *PGRepository) Assignment(ctx context.Context, id string) (Assignment, error) {
	a, err := scanAssignment(r.pool.QueryRow(ctx, `SELECT `+assignmentColumns+` FROM resource_assignments WHERE id = $1`, id))
	if db.IsNoRows(err) {
		return Assignment{}, ErrAssignmentNotFound
	}
	return a, err
}

func (t *txRepo) ActiveAssignment(ctx context.Context, principalID, resourceID string) (Assignment, bool, error) {
	a, err := scanAssignment(t.tx.QueryRow(ctx, `SELECT `+assignmentColumns+` FROM resource_assignments
WHERE principal_id = $1 AND resource_id = $2 AND status = 'active' FOR UPDATE`, principalID, resourceID))
	if db.IsNoRows(err) {
		return Assignment{}, false, nil
	}
	if err != nil {
		return Assignment{}, false, err
	}
	return a, true, nil
}

func (t *txRepo) InsertAssignment(ctx context.Context, a Assignment) error {
	_, err := t.tx.Exec(ctx, `INSERT INTO resource_assignments (`+assignmentColumns+`)
VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		a.ID, a.PrincipalID, a.ResourceID, string(a.Status), a.ExpiresAt, a.CreatedAt, a.CreatedBy)
	if db.IsUniqueViolation(err) {
		return ErrAssignmentExists
	}
	return err
}

func (t *txRepo) UpdateAssignmentStatus(ctx context.Context, id string, status AssignmentStatus) error {
	tag, err := t.tx.Exec(ctx, `UPDATE resource_assignments SET status = $2 WHERE id = $1`, id, string(status))
	if db.IsUniqueViolation(err) {
		return ErrAssignmentExists
	}
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrAssignmentNotFound
	}
	return nil
}

func (t *txRepo) DeleteAssignment(ctx context.Context, id string) error {
	tag, err := t.tx.Exec(ctx, `DELETE FROM resource_assignments WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrAssignmentNotFound
	}
	return nil
}

func (t *txRepo) DeleteResource(ctx context.Context, id string) (int64, error) {
	tag, err := t.tx.Exec(ctx, `DELETE FROM resource_assignments WHERE resource_id = $1`, id)
	if err != nil {
		return 0, fmt.Errorf("clients: delete assignments: %w", err)
	}
	removed := tag.RowsAffected()
	tag, err = t.tx.Exec(ctx, `DELETE FROM resources WHERE id = $1`, id)
	if err != nil {
		return 0, fmt.Errorf("clients: delete resource: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return 0, ErrResourceNotFound
	}
	return removed, nil
}

func (t *txRepo) AppendAudit(ctx context.Context, entry audit.Entry) (audit.Entry, error) {
	return audit.Append(ctx, t.tx, entry)
}
