package provider

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/odyssey-erp/odyssey-access/internal/authority"
)

// Memory is an in-process provider used in development mode and tests.
// Emails must be registered before they can be granted, mirroring providers
// that require an out-of-band invitation.
type Memory struct {
	mu         sync.Mutex
	registered map[string]struct{}
	bindings   map[string]map[string]Binding
	failures   map[string][]error
	calls      map[string]int
	seq        int
}

// NewMemory builds an empty in-memory provider.
func NewMemory() *Memory {
	return &Memory{
		registered: make(map[string]struct{}),
		bindings:   make(map[string]map[string]Binding),
		failures:   make(map[string][]error),
		calls:      make(map[string]int),
	}
}

// Register marks emails as known to the provider.
func (m *Memory) Register(emails ...string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, email := range emails {
		m.registered[strings.ToLower(email)] = struct{}{}
	}
}

// FailNext queues errors returned by the next calls of op, in order.
func (m *Memory) FailNext(op string, errs ...error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures[op] = append(m.failures[op], errs...)
}

// Calls returns how many times op was invoked, failed attempts included.
func (m *Memory) Calls(op string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls[op]
}

// Binding returns the current binding for email on resource.
func (m *Memory) Binding(resourceID, email string) (Binding, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.bindings[resourceID][strings.ToLower(email)]
	return b, ok
}

// BindingCount returns the number of bindings on resource.
func (m *Memory) BindingCount(resourceID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.bindings[resourceID])
}

func (m *Memory) enter(op string) error {
	m.calls[op]++
	queue := m.failures[op]
	if len(queue) == 0 {
		return nil
	}
	err := queue[0]
	m.failures[op] = queue[1:]
	return err
}

// Grant implements Client.
func (m *Memory) Grant(ctx context.Context, resourceID, email string, level authority.Level) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("grant"); err != nil {
		return "", err
	}
	key := strings.ToLower(email)
	if _, ok := m.registered[key]; !ok {
		return "", NewError(KindNotFound, "grant", fmt.Errorf("principal %s not registered", email))
	}
	if existing, ok := m.bindings[resourceID][key]; ok {
		return existing.ID, NewError(KindConflict, "grant", fmt.Errorf("binding exists"))
	}
	m.seq++
	b := Binding{ID: fmt.Sprintf("bnd-%d", m.seq), ResourceID: resourceID, Email: key, Level: level}
	if m.bindings[resourceID] == nil {
		m.bindings[resourceID] = make(map[string]Binding)
	}
	m.bindings[resourceID][key] = b
	return b.ID, nil
}

// Revoke implements Client.
func (m *Memory) Revoke(ctx context.Context, resourceID, email string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("revoke"); err != nil {
		return err
	}
	delete(m.bindings[resourceID], strings.ToLower(email))
	return nil
}

// Update implements Client.
func (m *Memory) Update(ctx context.Context, resourceID, email string, level authority.Level) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("update"); err != nil {
		return "", err
	}
	key := strings.ToLower(email)
	b, ok := m.bindings[resourceID][key]
	if !ok {
		return "", NewError(KindNotFound, "update", fmt.Errorf("no binding for %s", email))
	}
	b.Level = level
	m.bindings[resourceID][key] = b
	return b.ID, nil
}

// ListBindings implements Client.
func (m *Memory) ListBindings(ctx context.Context, resourceID string) ([]Binding, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("list_bindings"); err != nil {
		return nil, err
	}
	out := make([]Binding, 0, len(m.bindings[resourceID]))
	for _, b := range m.bindings[resourceID] {
		out = append(out, b)
	}
	return out, nil
}
