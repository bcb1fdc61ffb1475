// Package notify maps lifecycle events to recipients and templates and delivers
// each (recipient, type, target, day) at most once.
package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/odyssey-erp/odyssey-access/internal/clients"
	"github.com/odyssey-erp/odyssey-access/internal/platform/cache"
	"github.com/odyssey-erp/odyssey-access/internal/shared"
)

var (
	// ErrUnknownType indicates an event type with no registry entry.
	ErrUnknownType = errors.New("notify: unknown event type")
	// ErrUnrecorded marks a delivery that was sent but could not be logged.
	ErrUnrecorded = errors.New("notify: sent but not recorded")
)

// Key identifies one delivery in the idempotency log.
type Key struct {
	Recipient string
	Type      Type
	TargetID  string
	Day       time.Time
}

// Store records successful deliveries.
type Store interface {
	ShouldSend(ctx context.Context, key Key) (bool, error)
	Record(ctx context.Context, key Key, sentAt time.Time) error
}

// Transport delivers a rendered message to one address.
type Transport interface {
	Send(ctx context.Context, recipient, subject, body string) error
}

// Report summarises one Dispatch call.
type Report struct {
	Sent    int
	Skipped int
	Failed  int
}

// Dispatcher resolves recipients, guards against duplicates and sends.
type Dispatcher struct {
	directory Directory
	store     Store
	transport Transport
	locker    *cache.Locker
	claimTTL  time.Duration
	logger    *slog.Logger
	now       func() time.Time
}

// NewDispatcher builds a dispatcher. A nil locker disables cross-process claims.
func NewDispatcher(directory Directory, store Store, transport Transport, locker *cache.Locker, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		directory: directory,
		store:     store,
		transport: transport,
		locker:    locker,
		claimTTL:  time.Minute,
		logger:    logger.With(slog.String("component", "notify")),
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// WithClock overrides the time source.
func (d *Dispatcher) WithClock(now func() time.Time) *Dispatcher {
	d.now = now
	return d
}

// ShouldSend reports whether key has not been delivered yet.
func (d *Dispatcher) ShouldSend(ctx context.Context, key Key) (bool, error) {
	return d.store.ShouldSend(ctx, key)
}

// Dispatch delivers evt to each of its recipients. The day bucket is the UTC
// date of evt.OccurredAt. Send failures are returned joined so the caller can
// retry; recipients already recorded are skipped on the next attempt. A send
// that could not be recorded counts as sent and is reported with ErrUnrecorded;
// its claim is held until the bucket ends.
func (d *Dispatcher) Dispatch(ctx context.Context, evt Event) (Report, error) {
	tmpl, ok := lookup(evt.Type)
	if !ok {
		return Report{}, fmt.Errorf("%w: %s", ErrUnknownType, evt.Type)
	}
	if evt.OccurredAt.IsZero() {
		evt.OccurredAt = d.now()
	}
	day := dayOf(evt.OccurredAt)
	recipients, err := tmpl.recipients(ctx, d.directory, evt)
	if err != nil {
		return Report{}, fmt.Errorf("notify: resolve recipients for %s: %w", evt.Type, err)
	}

	var report Report
	var errs []error
	for _, recipient := range recipients {
		key := Key{Recipient: recipient.ID, Type: evt.Type, TargetID: evt.TargetID, Day: day}
		sent, err := d.deliver(ctx, tmpl, key, recipient, evt)
		switch {
		case err != nil && sent:
			report.Sent++
			errs = append(errs, err)
		case err != nil:
			report.Failed++
			errs = append(errs, err)
		case sent:
			report.Sent++
		default:
			report.Skipped++
		}
	}
	return report, errors.Join(errs...)
}

func (d *Dispatcher) deliver(ctx context.Context, tmpl entry, key Key, recipient clients.Principal, evt Event) (bool, error) {
	lock, err := d.locker.Acquire(ctx, shared.NotificationClaimKey(key.Recipient, string(key.Type), key.TargetID, key.Day), d.claimTTL)
	if errors.Is(err, cache.ErrLockHeld) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("notify: claim %s: %w", key.Type, err)
	}
	keep := false
	defer func() {
		if keep {
			return
		}
		if err := lock.Release(context.WithoutCancel(ctx)); err != nil {
			d.logger.Warn("release notification claim", slog.Any("error", err))
		}
	}()

	should, err := d.store.ShouldSend(ctx, key)
	if err != nil {
		return false, fmt.Errorf("notify: check log: %w", err)
	}
	if !should {
		return false, nil
	}
	msg, err := tmpl.render(recipient, evt)
	if err != nil {
		return false, err
	}
	if err := d.transport.Send(ctx, recipient.Email, msg.Subject, msg.Body); err != nil {
		d.logger.Error("notification send failed",
			slog.String("type", string(key.Type)),
			slog.String("recipient", key.Recipient),
			slog.String("target_id", key.TargetID),
			slog.Any("error", err),
		)
		return false, fmt.Errorf("notify: send %s to %s: %w", key.Type, key.Recipient, err)
	}
	if err := d.store.Record(ctx, key, d.now()); err != nil {
		// The message went out but the log does not know it. Hold the claim for
		// the rest of the day bucket so a same-day retry skips this recipient.
		keep = true
		if xerr := lock.Extend(context.WithoutCancel(ctx), d.untilBucketEnds(key.Day)); xerr != nil {
			d.logger.Error("hold notification claim", slog.String("type", string(key.Type)), slog.String("recipient", key.Recipient), slog.Any("error", xerr))
		}
		d.logger.Error("notification record failed", slog.String("type", string(key.Type)), slog.String("recipient", key.Recipient), slog.Any("error", err))
		return true, fmt.Errorf("%w: %s to %s: %w", ErrUnrecorded, key.Type, key.Recipient, err)
	}
	d.logger.Info("notification sent", slog.String("type", string(key.Type)), slog.String("recipient", key.Recipient), slog.String("target_id", key.TargetID))
	return true, nil
}

// untilBucketEnds returns the time left in the day bucket, never less than the claim ttl.
func (d *Dispatcher) untilBucketEnds(day time.Time) time.Duration {
	left := day.Add(24 * time.Hour).Sub(d.now())
	if left < d.claimTTL {
		return d.claimTTL
	}
	return left
}

func dayOf(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
