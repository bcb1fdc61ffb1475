package fakes

import (
	"context"
	"sync"

	"github.com/odyssey-erp/odyssey-access/internal/notify"
)

// Publisher records published events.
type Publisher struct {
	mu     sync.Mutex
	events []notify.Event
	Err    error
}

// Publish implements requests.Publisher.
func (p *Publisher) Publish(_ context.Context, events ...notify.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, events...)
	return p.Err
}

// Events returns a copy of the recorded events.
func (p *Publisher) Events() []notify.Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]notify.Event(nil), p.events...)
}

// OfType returns recorded events of kind.
func (p *Publisher) OfType(kind notify.Type) []notify.Event {
	var out []notify.Event
	for _, evt := range p.Events() {
		if evt.Type == kind {
			out = append(out, evt)
		}
	}
	return out
}
