package fakes

import (
	"context"
	"sync"
	"time"

	"github.com/odyssey-erp/odyssey-access/internal/notify"
)

// NotificationStore is an in-memory notify.Store.
type NotificationStore struct {
	mu          sync.Mutex
	sent        map[notify.Key]time.Time
	recordFails []error
}

// FailNextRecord makes the next Record calls return errs in order.
func (s *NotificationStore) FailNextRecord(errs ...error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.recordFails = append(s.recordFails, errs...)
}

// NewNotificationStore builds an empty store.
func NewNotificationStore() *NotificationStore {
	return &NotificationStore{sent: make(map[notify.Key]time.Time)}
}

// ShouldSend implements notify.Store.
func (s *NotificationStore) ShouldSend(_ context.Context, key notify.Key) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.sent[key]
	return !ok, nil
}

// Record implements notify.Store.
func (s *NotificationStore) Record(_ context.Context, key notify.Key, sentAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.recordFails) > 0 {
		err := s.recordFails[0]
		s.recordFails = s.recordFails[1:]
		return err
	}
	if _, ok := s.sent[key]; !ok {
		s.sent[key] = sentAt
	}
	return nil
}

// Len returns the number of recorded deliveries.
func (s *NotificationStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sent)
}

// SentMessage is one delivery captured by Transport.
type SentMessage struct {
	Recipient string
	Subject   string
	Body      string
}

// Transport captures messages and can fail on demand.
type Transport struct {
	mu       sync.Mutex
	messages []SentMessage
	failures []error
}

// FailNext queues errors returned by the next Send calls.
func (t *Transport) FailNext(errs ...error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.failures = append(t.failures, errs...)
}

// Send implements notify.Transport.
func (t *Transport) Send(_ context.Context, recipient, subject, body string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.failures) > 0 {
		err := t.failures[0]
		t.failures = t.failures[1:]
		return err
	}
	t.messages = append(t.messages, SentMessage{Recipient: recipient, Subject: subject, Body: body})
	return nil
}

// Messages returns a copy of delivered messages.
func (t *Transport) Messages() []SentMessage {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]SentMessage(nil), t.messages...)
}

// To returns messages delivered to recipient.
func (t *Transport) To(recipient string) []SentMessage {
	var out []SentMessage
	for _, msg := range t.Messages() {
		if msg.Recipient == recipient {
			out = append(out, msg)
		}
	}
	return out
}
