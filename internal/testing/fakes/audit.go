// Package fakes holds in-memory implementations of the repository ports for tests.
package fakes

import (
	"sync"
	"time"

	"github.com/odyssey-erp/odyssey-access/internal/audit"
)

// AuditLog is an append-only in-memory audit store.
type AuditLog struct {
	mu      sync.Mutex
	entries []audit.Entry
	nextID  int64
}

// NewAuditLog builds an empty log.
func NewAuditLog() *AuditLog {
	return &AuditLog{}
}

func (l *AuditLog) append(entry audit.Entry) (audit.Entry, error) {
	if err := entry.Validate(); err != nil {
		return audit.Entry{}, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.nextID++
	entry.ID = l.nextID
	if entry.At.IsZero() {
		entry.At = time.Now().UTC()
	}
	l.entries = append(l.entries, entry)
	return entry, nil
}

func (l *AuditLog) mark() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

func (l *AuditLog) rollback(n int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if n < len(l.entries) {
		l.entries = l.entries[:n]
	}
}

// Entries returns a copy of every entry in append order.
func (l *AuditLog) Entries() []audit.Entry {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]audit.Entry(nil), l.entries...)
}

// ForTarget returns entries for targetID.
func (l *AuditLog) ForTarget(targetID string) []audit.Entry {
	var out []audit.Entry
	for _, e := range l.Entries() {
		if e.TargetID == targetID {
			out = append(out, e)
		}
	}
	return out
}

// WithOutcome returns entries carrying outcome.
func (l *AuditLog) WithOutcome(outcome string) []audit.Entry {
	var out []audit.Entry
	for _, e := range l.Entries() {
		if e.Outcome == outcome {
			out = append(out, e)
		}
	}
	return out
}
