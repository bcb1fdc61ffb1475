package fakes

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/odyssey-erp/odyssey-access/internal/audit"
	"github.com/odyssey-erp/odyssey-access/internal/authority"
	"github.com/odyssey-erp/odyssey-access/internal/requests"
	"github.com/odyssey-erp/odyssey-access/internal/shared"
)

// RequestRepo is an in-memory requests.Repository. Transactions are serialised
// and rolled back wholesale on error.
type RequestRepo struct {
	mu    sync.Mutex
	txMu  sync.Mutex
	rows  map[string]requests.PermissionRequest
	Audit *AuditLog

	// BeforeUpdate runs inside UpdateState before the version check.
	BeforeUpdate func(req requests.PermissionRequest)
}

// NewRequestRepo builds an empty repository sharing log.
func NewRequestRepo(log *AuditLog) *RequestRepo {
	if log == nil {
		log = NewAuditLog()
	}
	return &RequestRepo{rows: make(map[string]requests.PermissionRequest), Audit: log}
}

type requestTx struct {
	repo    *RequestRepo
	pending map[string]requests.PermissionRequest
	audit   []audit.Entry
}

// WithTx implements requests.Repository.
func (r *RequestRepo) WithTx(ctx context.Context, fn func(context.Context, requests.TxRepository) error) error {
	r.txMu.Lock()
	defer r.txMu.Unlock()
	tx := &requestTx{repo: r, pending: make(map[string]requests.PermissionRequest)}
	if err := fn(ctx, tx); err != nil {
		return err
	}
	mark := r.Audit.mark()
	for _, entry := range tx.audit {
		if _, err := r.Audit.append(entry); err != nil {
			r.Audit.rollback(mark)
			return err
		}
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, req := range tx.pending {
		r.rows[id] = req
	}
	return nil
}

// Seed stores req directly.
func (r *RequestRepo) Seed(req requests.PermissionRequest) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rows[req.ID] = req
}

// Get implements requests.Repository.
func (r *RequestRepo) Get(_ context.Context, id string) (requests.PermissionRequest, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	req, ok := r.rows[id]
	if !ok {
		return requests.PermissionRequest{}, requests.ErrNotFound
	}
	return req, nil
}

func (r *RequestRepo) sorted(match func(requests.PermissionRequest) bool) []requests.PermissionRequest {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []requests.PermissionRequest
	for _, req := range r.rows {
		if match(req) {
			out = append(out, req)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].RequestedAt.Equal(out[j].RequestedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].RequestedAt.After(out[j].RequestedAt)
	})
	return out
}

// List implements requests.Repository.
func (r *RequestRepo) List(_ context.Context, filter requests.ListFilter) ([]requests.PermissionRequest, int, error) {
	all := r.sorted(func(req requests.PermissionRequest) bool {
		if filter.Status != "" && req.Status != filter.Status {
			return false
		}
		if filter.RequesterID != "" && req.RequesterID != filter.RequesterID {
			return false
		}
		if filter.ResourceID != "" && req.ResourceID != filter.ResourceID {
			return false
		}
		return true
	})
	start := shared.Offset(filter.Page, filter.PerPage)
	if start > len(all) {
		start = len(all)
	}
	end := start + filter.PerPage
	if end > len(all) {
		end = len(all)
	}
	return all[start:end], len(all), nil
}

// ListActive implements requests.Repository.
func (r *RequestRepo) ListActive(_ context.Context) ([]requests.PermissionRequest, error) {
	return r.sorted(func(req requests.PermissionRequest) bool { return req.Status == requests.StatusActive }), nil
}

// ActiveFor implements requests.Repository.
func (r *RequestRepo) ActiveFor(_ context.Context, requesterID, resourceID string) ([]requests.PermissionRequest, error) {
	return r.sorted(func(req requests.PermissionRequest) bool {
		return req.Status == requests.StatusActive && req.RequesterID == requesterID && req.ResourceID == resourceID
	}), nil
}

// CountPending implements requests.Repository.
func (r *RequestRepo) CountPending(_ context.Context) (int, error) {
	return len(r.sorted(func(req requests.PermissionRequest) bool { return req.Status == requests.StatusPending })), nil
}

func (t *requestTx) lookup(id string) (requests.PermissionRequest, bool) {
	if req, ok := t.pending[id]; ok {
		return req, true
	}
	t.repo.mu.Lock()
	defer t.repo.mu.Unlock()
	req, ok := t.repo.rows[id]
	return req, ok
}

func (t *requestTx) PendingExists(_ context.Context, requesterID, resourceID string, level authority.Level) (bool, error) {
	match := func(req requests.PermissionRequest) bool {
		return req.Status == requests.StatusPending && req.RequesterID == requesterID &&
			req.ResourceID == resourceID && req.RequestedLevel == level
	}
	for _, req := range t.pending {
		if match(req) {
			return true, nil
		}
	}
	return len(t.repo.sorted(match)) > 0, nil
}

func (t *requestTx) Insert(_ context.Context, req requests.PermissionRequest) error {
	if _, exists := t.lookup(req.ID); exists {
		return fmt.Errorf("fakes: duplicate id %s: %w", req.ID, shared.ErrConflict)
	}
	t.pending[req.ID] = req
	return nil
}

func (t *requestTx) UpdateState(_ context.Context, req requests.PermissionRequest, expectedVersion int64) error {
	if t.repo.BeforeUpdate != nil {
		t.repo.BeforeUpdate(req)
	}
	stored, ok := t.lookup(req.ID)
	if !ok {
		return requests.ErrNotFound
	}
	if stored.Version != expectedVersion {
		return fmt.Errorf("fakes: %s at version %d: %w", req.ID, expectedVersion, shared.ErrConcurrency)
	}
	t.pending[req.ID] = req
	return nil
}

func (t *requestTx) AppendAudit(_ context.Context, entry audit.Entry) (audit.Entry, error) {
	if err := entry.Validate(); err != nil {
		return audit.Entry{}, err
	}
	t.audit = append(t.audit, entry)
	return entry, nil
}
