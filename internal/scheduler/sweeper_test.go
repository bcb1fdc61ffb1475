package scheduler_test

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-access/internal/authority"
	"github.com/odyssey-erp/odyssey-access/internal/clients"
	"github.com/odyssey-erp/odyssey-access/internal/notify"
	"github.com/odyssey-erp/odyssey-access/internal/platform/cache"
	"github.com/odyssey-erp/odyssey-access/internal/provider"
	"github.com/odyssey-erp/odyssey-access/internal/requests"
	"github.com/odyssey-erp/odyssey-access/internal/scheduler"
	"github.com/odyssey-erp/odyssey-access/internal/shared"
	"github.com/odyssey-erp/odyssey-access/internal/testing/fakes"
	_ "github.com/odyssey-erp/odyssey-access/testing"
)

var (
	requester = shared.Actor{ID: "u-req", Email: "ana@example.com", Role: authority.RoleRequester}
	admin     = shared.Actor{ID: "u-admin", Email: "ada@example.com", Role: authority.RoleAdmin}
)

type harness struct {
	sweeper   *scheduler.Sweeper
	svc       *requests.Service
	provider  *provider.Memory
	pub       *fakes.Publisher
	transport *fakes.Transport
	locker    *cache.Locker
	now       time.Time
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	log := fakes.NewAuditLog()
	clientRepo := fakes.NewClientRepo(log)
	for _, actor := range []shared.Actor{requester, admin} {
		clientRepo.AddPrincipal(clients.Principal{ID: actor.ID, Email: actor.Email, Role: actor.Role, Active: true})
	}
	clientRepo.AddResource(clients.Resource{ID: "R123", Name: "Storefront", Active: true})
	clientRepo.AddAssignment(clients.Assignment{ID: "as-1", PrincipalID: requester.ID, ResourceID: "R123", Status: clients.AssignmentActive})

	mem := provider.NewMemory()
	mem.Register(requester.Email)
	adapter := provider.NewAdapter(mem, provider.Options{
		Retry: provider.RetryPolicy{MaxAttempts: 2, BaseDelay: 0, Multiplier: 2, MaxDelay: time.Millisecond},
	})

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	h := &harness{
		provider:  mem,
		pub:       &fakes.Publisher{},
		transport: &fakes.Transport{},
		locker:    cache.NewLocker(rdb),
		now:       time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC),
	}
	clock := func() time.Time { return h.now }
	directory := clients.NewService(clientRepo, nil).WithClock(clock)
	h.svc = requests.NewService(fakes.NewRequestRepo(log), directory, adapter, h.pub, requests.Config{
		AccessDuration: 90 * 24 * time.Hour,
		GracePeriod:    7 * 24 * time.Hour,
	}, nil).WithClock(clock)
	dispatcher := notify.NewDispatcher(directory, fakes.NewNotificationStore(), h.transport, h.locker, nil).WithClock(clock)
	h.sweeper = scheduler.NewSweeper(h.svc, dispatcher, h.locker, scheduler.Config{Concurrency: 2}, nil)
	return h
}

func (h *harness) sweep(t *testing.T) scheduler.Report {
	t.Helper()
	report, err := h.sweeper.Sweep(context.Background(), h.now)
	require.NoError(t, err)
	return report
}

func (h *harness) warningsTo(email string) []fakes.SentMessage {
	var out []fakes.SentMessage
	for _, msg := range h.transport.To(email) {
		if strings.HasPrefix(msg.Subject, "Access expires") {
			out = append(out, msg)
		}
	}
	return out
}

func TestSweepSendsOneWarningPerOffsetPerDay(t *testing.T) {
	h := newHarness(t)
	_, err := h.svc.Create(context.Background(), requester, requests.CreateInput{ResourceID: "R123", Level: "viewer", DurationHours: 7 * 24})
	require.NoError(t, err)

	report := h.sweep(t)
	assert.Equal(t, 1, report.Scanned)
	assert.Equal(t, 1, report.Warned)
	assert.Empty(t, report.Failures)
	warnings := h.warningsTo(requester.Email)
	require.Len(t, warnings, 1)
	assert.Contains(t, warnings[0].Subject, "7 day(s)")

	report = h.sweep(t)
	assert.Equal(t, 0, report.Warned)
	assert.Len(t, h.warningsTo(requester.Email), 1)
	assert.Len(t, h.transport.To(admin.Email), 1, "one daily summary per day")
}

func TestSweepSkipsDaysOutsideOffsets(t *testing.T) {
	h := newHarness(t)
	_, err := h.svc.Create(context.Background(), requester, requests.CreateInput{ResourceID: "R123", Level: "viewer", DurationHours: 10 * 24})
	require.NoError(t, err)

	report := h.sweep(t)
	assert.Zero(t, report.Warned)
	assert.Zero(t, report.Expired)
	assert.Empty(t, h.warningsTo(requester.Email))
}

func TestSweepExpiresOverdueRequest(t *testing.T) {
	h := newHarness(t)
	req, err := h.svc.Create(context.Background(), requester, requests.CreateInput{ResourceID: "R123", Level: "viewer", DurationHours: 24})
	require.NoError(t, err)
	h.now = h.now.Add(48 * time.Hour)

	report := h.sweep(t)
	assert.Equal(t, 1, report.Expired)
	assert.Empty(t, report.Failures)

	stored, err := h.svc.Get(context.Background(), admin, req.ID)
	require.NoError(t, err)
	assert.Equal(t, requests.StatusExpired, stored.Status)
	assert.Len(t, h.pub.OfType(notify.TypeExpired), 1)
	_, bound := h.provider.Binding("R123", requester.Email)
	assert.False(t, bound)
}

func TestSweepExpireFailureIsReportedAndRetried(t *testing.T) {
	h := newHarness(t)
	req, err := h.svc.Create(context.Background(), requester, requests.CreateInput{ResourceID: "R123", Level: "viewer", DurationHours: 24})
	require.NoError(t, err)
	h.now = h.now.Add(48 * time.Hour)
	h.provider.FailNext("revoke", provider.ErrPermissionDenied)

	report := h.sweep(t)
	assert.Zero(t, report.Expired)
	require.Len(t, report.Failures, 1)
	assert.Equal(t, req.ID, report.Failures[0].RequestID)
	assert.Equal(t, "expire", report.Failures[0].Op)

	stored, err := h.svc.Get(context.Background(), admin, req.ID)
	require.NoError(t, err)
	assert.Equal(t, requests.StatusActive, stored.Status)
	assert.Empty(t, h.pub.OfType(notify.TypeExpired))

	report = h.sweep(t)
	assert.Equal(t, 1, report.Expired)
	assert.Empty(t, report.Failures)
}

func TestSweepDowngradesEditorPastGrace(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	req, err := h.svc.Create(ctx, requester, requests.CreateInput{ResourceID: "R123", Level: "editor"})
	require.NoError(t, err)
	_, err = h.svc.Decide(ctx, admin, req.ID, requests.DecisionApprove, "")
	require.NoError(t, err)

	h.now = h.now.Add(3 * 24 * time.Hour)
	report := h.sweep(t)
	assert.Zero(t, report.Downgraded)

	h.now = h.now.Add(5 * 24 * time.Hour)
	report = h.sweep(t)
	assert.Equal(t, 1, report.Downgraded)

	stored, err := h.svc.Get(ctx, admin, req.ID)
	require.NoError(t, err)
	assert.Equal(t, requests.StatusActive, stored.Status)
	assert.Equal(t, authority.LevelViewer, stored.CurrentLevel)
	binding, ok := h.provider.Binding("R123", requester.Email)
	require.True(t, ok)
	assert.Equal(t, authority.LevelViewer, binding.Level)
	assert.Len(t, h.pub.OfType(notify.TypeEditorAutoDowngrade), 1)
}

func TestSweepSingleFlight(t *testing.T) {
	h := newHarness(t)
	lock, err := h.locker.Acquire(context.Background(), shared.SweepLockKey, time.Minute)
	require.NoError(t, err)

	_, err = h.sweeper.Sweep(context.Background(), h.now)
	assert.ErrorIs(t, err, scheduler.ErrSweepInProgress)

	require.NoError(t, lock.Release(context.Background()))
	_, err = h.sweeper.Sweep(context.Background(), h.now)
	assert.NoError(t, err)
}
