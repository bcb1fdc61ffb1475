package provider

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/time/rate"

	"github.com/odyssey-erp/odyssey-access/internal/authority"
)

// Result describes the effect of an adapter call.
type Result struct {
	BindingID string
	NoOp      bool
}

// Options configures an Adapter.
type Options struct {
	Retry       RetryPolicy
	CallTimeout time.Duration
	// RatePerSecond of zero disables client-side rate limiting.
	RatePerSecond float64
	Burst         int
	Logger        *slog.Logger
	Registerer    prometheus.Registerer
}

// Adapter makes provider calls idempotent and retries the retryable ones.
type Adapter struct {
	client  Client
	policy  RetryPolicy
	timeout time.Duration
	limiter *rate.Limiter
	logger  *slog.Logger
	calls   *prometheus.CounterVec
	sleep   func(context.Context, time.Duration) error
}

// NewAdapter wraps client.
func NewAdapter(client Client, opts Options) *Adapter {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	timeout := opts.CallTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	a := &Adapter{
		client:  client,
		policy:  opts.Retry.normalised(),
		timeout: timeout,
		logger:  logger.With(slog.String("component", "provider")),
		sleep:   sleepContext,
	}
	if opts.RatePerSecond > 0 {
		burst := opts.Burst
		if burst <= 0 {
			burst = 1
		}
		a.limiter = rate.NewLimiter(rate.Limit(opts.RatePerSecond), burst)
	}
	if opts.Registerer != nil {
		a.calls = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "odyssey_access_provider_calls_total",
			Help: "Provider call attempts partitioned by operation and classification.",
		}, []string{"op", "class"})
		opts.Registerer.MustRegister(a.calls)
	}
	return a
}

// WithSleep replaces the backoff sleeper; tests use it to avoid real delays.
func (a *Adapter) WithSleep(fn func(context.Context, time.Duration) error) *Adapter {
	a.sleep = fn
	return a
}

// Grant ensures email holds level on resource. An identical binding is a no-op
// and a binding at another level is updated in place.
func (a *Adapter) Grant(ctx context.Context, resourceID, email string, level authority.Level) (Result, error) {
	existing, found, err := a.lookup(ctx, resourceID, email)
	if err != nil {
		return Result{}, err
	}
	if found && existing.Level == level {
		return Result{BindingID: existing.ID, NoOp: true}, nil
	}
	if found {
		return a.update(ctx, resourceID, email, level)
	}
	var id string
	err = a.run(ctx, "grant", resourceID, func(ctx context.Context) error {
		var callErr error
		id, callErr = a.client.Grant(ctx, resourceID, email, level)
		return callErr
	})
	if errors.Is(err, ErrConflict) {
		return Result{BindingID: id, NoOp: true}, nil
	}
	if err != nil {
		return Result{}, err
	}
	return Result{BindingID: id}, nil
}

// Revoke removes any binding for email on resource; a missing binding is a no-op.
func (a *Adapter) Revoke(ctx context.Context, resourceID, email string) (Result, error) {
	existing, found, err := a.lookup(ctx, resourceID, email)
	if err != nil {
		return Result{}, err
	}
	if !found {
		return Result{NoOp: true}, nil
	}
	err = a.run(ctx, "revoke", resourceID, func(ctx context.Context) error {
		return a.client.Revoke(ctx, resourceID, email)
	})
	if errors.Is(err, ErrConflict) {
		return Result{BindingID: existing.ID, NoOp: true}, nil
	}
	if err != nil {
		return Result{}, err
	}
	return Result{BindingID: existing.ID}, nil
}

// Update moves email to level on resource. A missing binding is recreated at level.
func (a *Adapter) Update(ctx context.Context, resourceID, email string, level authority.Level) (Result, error) {
	existing, found, err := a.lookup(ctx, resourceID, email)
	if err != nil {
		return Result{}, err
	}
	if found && existing.Level == level {
		return Result{BindingID: existing.ID, NoOp: true}, nil
	}
	if !found {
		return a.Grant(ctx, resourceID, email, level)
	}
	return a.update(ctx, resourceID, email, level)
}

func (a *Adapter) update(ctx context.Context, resourceID, email string, level authority.Level) (Result, error) {
	var id string
	err := a.run(ctx, "update", resourceID, func(ctx context.Context) error {
		var callErr error
		id, callErr = a.client.Update(ctx, resourceID, email, level)
		return callErr
	})
	if errors.Is(err, ErrConflict) {
		return Result{BindingID: id, NoOp: true}, nil
	}
	if err != nil {
		return Result{}, err
	}
	return Result{BindingID: id}, nil
}

func (a *Adapter) lookup(ctx context.Context, resourceID, email string) (Binding, bool, error) {
	var bindings []Binding
	err := a.run(ctx, "list_bindings", resourceID, func(ctx context.Context) error {
		var callErr error
		bindings, callErr = a.client.ListBindings(ctx, resourceID)
		return callErr
	})
	if err != nil {
		return Binding{}, false, err
	}
	for _, b := range bindings {
		if strings.EqualFold(b.Email, email) {
			return b, true, nil
		}
	}
	return Binding{}, false, nil
}

// run executes fn with a per-attempt timeout. Transient failures retry up to
// MaxAttempts; Unknown failures retry once.
func (a *Adapter) run(ctx context.Context, op, resourceID string, fn func(context.Context) error) error {
	unknownRetried := false
	for attempt := 1; ; attempt++ {
		if a.limiter != nil {
			if err := a.limiter.Wait(ctx); err != nil {
				return NewError(KindTransient, op, err)
			}
		}
		callCtx, cancel := context.WithTimeout(ctx, a.timeout)
		err := fn(callCtx)
		cancel()

		kind := Classify(err)
		a.observe(op, kind)
		if err == nil {
			a.logger.Debug("provider call", slog.String("op", op), slog.String("resource_id", resourceID), slog.Int("attempt", attempt))
			return nil
		}
		a.logger.Warn("provider call failed",
			slog.String("op", op),
			slog.String("resource_id", resourceID),
			slog.Int("attempt", attempt),
			slog.String("class", string(kind)),
			slog.Any("error", err),
		)

		classified := asProviderError(op, kind, err)
		if !kind.Retryable() || attempt >= a.policy.MaxAttempts {
			return classified
		}
		if kind == KindUnknown {
			if unknownRetried {
				return classified
			}
			unknownRetried = true
		}
		if err := a.sleep(ctx, a.policy.Delay(attempt)); err != nil {
			return classified
		}
	}
}

func (a *Adapter) observe(op string, kind Kind) {
	if a.calls == nil {
		return
	}
	class := string(kind)
	if class == "" {
		class = "ok"
	}
	a.calls.WithLabelValues(op, class).Inc()
}

func asProviderError(op string, kind Kind, err error) error {
	var perr *Error
	if errors.As(err, &perr) {
		if perr.Op != "" {
			return perr
		}
		scoped := *perr
		scoped.Op = op
		return &scoped
	}
	return NewError(kind, op, err)
}
