package notify

import (
	"context"
	"errors"
	"log/slog"
)

// InlinePublisher dispatches events synchronously in the caller's process.
type InlinePublisher struct {
	Dispatcher *Dispatcher
	Logger     *slog.Logger
}

// Publish implements the requests publisher port.
func (p InlinePublisher) Publish(ctx context.Context, events ...Event) error {
	var errs []error
	for _, evt := range events {
		report, err := p.Dispatcher.Dispatch(ctx, evt)
		if err != nil {
			errs = append(errs, err)
		}
		if p.Logger != nil {
			p.Logger.Debug("inline dispatch", slog.String("type", string(evt.Type)), slog.Int("sent", report.Sent), slog.Int("skipped", report.Skipped))
		}
	}
	return errors.Join(errs...)
}
