package fakes

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/odyssey-erp/odyssey-access/internal/audit"
	"github.com/odyssey-erp/odyssey-access/internal/authority"
	"github.com/odyssey-erp/odyssey-access/internal/clients"
)

// ClientRepo is an in-memory clients.Repository.
type ClientRepo struct {
	mu          sync.Mutex
	txMu        sync.Mutex
	principals  map[string]clients.Principal
	resources   map[string]clients.Resource
	assignments map[string]clients.Assignment
	Audit       *AuditLog

	// FailDeleteResource makes the resource delete fail after assignments are removed.
	FailDeleteResource error
}

// NewClientRepo builds an empty repository sharing log.
func NewClientRepo(log *AuditLog) *ClientRepo {
	if log == nil {
		log = NewAuditLog()
	}
	return &ClientRepo{
		principals:  make(map[string]clients.Principal),
		resources:   make(map[string]clients.Resource),
		assignments: make(map[string]clients.Assignment),
		Audit:       log,
	}
}

// AddPrincipal stores p.
func (r *ClientRepo) AddPrincipal(p clients.Principal) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.principals[p.ID] = p
}

// AddResource stores res.
func (r *ClientRepo) AddResource(res clients.Resource) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.resources[res.ID] = res
}

// AddAssignment stores a directly.
func (r *ClientRepo) AddAssignment(a clients.Assignment) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.assignments[a.ID] = a
}

// AssignmentCount returns assignments on resourceID.
func (r *ClientRepo) AssignmentCount(resourceID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, a := range r.assignments {
		if a.ResourceID == resourceID {
			n++
		}
	}
	return n
}

type clientSnapshot struct {
	resources   map[string]clients.Resource
	assignments map[string]clients.Assignment
}

// WithTx implements clients.Repository. State is restored when fn fails.
func (r *ClientRepo) WithTx(ctx context.Context, fn func(context.Context, clients.TxRepository) error) error {
	r.txMu.Lock()
	defer r.txMu.Unlock()
	snap := r.snapshot()
	mark := r.Audit.mark()
	if err := fn(ctx, &clientTx{repo: r}); err != nil {
		r.restore(snap)
		r.Audit.rollback(mark)
		return err
	}
	return nil
}

func (r *ClientRepo) snapshot() clientSnapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	snap := clientSnapshot{
		resources:   make(map[string]clients.Resource, len(r.resources)),
		assignments: make(map[string]clients.Assignment, len(r.assignments)),
	}
	for k, v := range r.resources {
		snap.resources[k] = v
	}
	for k, v := range r.assignments {
		snap.assignments[k] = v
	}
	return snap
}

func (r *ClientRepo) restore(snap clientSnapshot) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.resources = snap.resources
	r.assignments = snap.assignments
}

// Principal implements clients.Repository.
func (r *ClientRepo) Principal(_ context.Context, id string) (clients.Principal, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.principals[id]
	if !ok {
		return clients.Principal{}, clients.ErrPrincipalNotFound
	}
	return p, nil
}

// PrincipalByEmail implements clients.Repository.
func (r *ClientRepo) PrincipalByEmail(_ context.Context, email string) (clients.Principal, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, p := range r.principals {
		if strings.EqualFold(p.Email, email) {
			return p, nil
		}
	}
	return clients.Principal{}, clients.ErrPrincipalNotFound
}

// PrincipalsWithRoles implements clients.Repository.
func (r *ClientRepo) PrincipalsWithRoles(_ context.Context, roles []authority.Role) ([]clients.Principal, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	want := make(map[authority.Role]struct{}, len(roles))
	for _, role := range roles {
		want[role] = struct{}{}
	}
	var out []clients.Principal
	for _, p := range r.principals {
		if _, ok := want[p.Role]; ok && p.Active {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Email < out[j].Email })
	return out, nil
}

// Resource implements clients.Repository.
func (r *ClientRepo) Resource(_ context.Context, id string) (clients.Resource, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	res, ok := r.resources[id]
	if !ok {
		return clients.Resource{}, clients.ErrResourceNotFound
	}
	return res, nil
}

// ActiveResources implements clients.Repository.
func (r *ClientRepo) ActiveResources(_ context.Context) ([]clients.Resource, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []clients.Resource
	for _, res := range r.resources {
		if res.Active {
			out = append(out, res)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// AssignmentsForPrincipal implements clients.Repository.
func (r *ClientRepo) AssignmentsForPrincipal(_ context.Context, principalID string) ([]clients.Assignment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []clients.Assignment
	for _, a := range r.assignments {
		if a.PrincipalID == principalID {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// Assignment implements clients.Repository.
func (r *ClientRepo) Assignment(_ context.Context, id string) (clients.Assignment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.assignments[id]
	if !ok {
		return clients.Assignment{}, clients.ErrAssignmentNotFound
	}
	return a, nil
}

type clientTx struct {
	repo *ClientRepo
}

func (t *clientTx) ActiveAssignment(_ context.Context, principalID, resourceID string) (clients.Assignment, bool, error) {
	t.repo.mu.Lock()
	defer t.repo.mu.Unlock()
	for _, a := range t.repo.assignments {
		if a.PrincipalID == principalID && a.ResourceID == resourceID && a.Status == clients.AssignmentActive {
			return a, true, nil
		}
	}
	return clients.Assignment{}, false, nil
}

func (t *clientTx) InsertAssignment(_ context.Context, a clients.Assignment) error {
	t.repo.mu.Lock()
	defer t.repo.mu.Unlock()
	if a.Status == clients.AssignmentActive {
		for _, other := range t.repo.assignments {
			if other.PrincipalID == a.PrincipalID && other.ResourceID == a.ResourceID && other.Status == clients.AssignmentActive {
				return clients.ErrAssignmentExists
			}
		}
	}
	t.repo.assignments[a.ID] = a
	return nil
}

func (t *clientTx) UpdateAssignmentStatus(_ context.Context, id string, status clients.AssignmentStatus) error {
	t.repo.mu.Lock()
	defer t.repo.mu.Unlock()
	a, ok := t.repo.assignments[id]
	if !ok {
		return clients.ErrAssignmentNotFound
	}
	a.Status = status
	t.repo.assignments[id] = a
	return nil
}

func (t *clientTx) DeleteAssignment(_ context.Context, id string) error {
	t.repo.mu.Lock()
	defer t.repo.mu.Unlock()
	if _, ok := t.repo.assignments[id]; !ok {
		return clients.ErrAssignmentNotFound
	}
	delete(t.repo.assignments, id)
	return nil
}

func (t *clientTx) DeleteResource(_ context.Context, id string) (int64, error) {
	t.repo.mu.Lock()
	defer t.repo.mu.Unlock()
	var removed int64
	for key, a := range t.repo.assignments {
		if a.ResourceID == id {
			delete(t.repo.assignments, key)
			removed++
		}
	}
	if t.repo.FailDeleteResource != nil {
		return 0, t.repo.FailDeleteResource
	}
	if _, ok := t.repo.resources[id]; !ok {
		return 0, clients.ErrResourceNotFound
	}
	delete(t.repo.resources, id)
	return removed, nil
}

func (t *clientTx) AppendAudit(_ context.Context, entry audit.Entry) (audit.Entry, error) {
	return t.repo.Audit.append(entry)
}
