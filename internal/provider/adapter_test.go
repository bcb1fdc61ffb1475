package provider

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-access/internal/authority"
)

func newTestAdapter(client Client, attempts int) (*Adapter, *[]time.Duration) {
	var waits []time.Duration
	a := NewAdapter(client, Options{
		Retry: RetryPolicy{MaxAttempts: attempts, BaseDelay: 100 * time.Millisecond, Multiplier: 2, MaxDelay: time.Second},
	})
	a.WithSleep(func(ctx context.Context, d time.Duration) error {
		waits = append(waits, d)
		return ctx.Err()
	})
	return a, &waits
}

func TestAdapterGrantIsIdempotent(t *testing.T) {
	mem := NewMemory()
	mem.Register("ana@example.com")
	adapter, _ := newTestAdapter(mem, 3)
	ctx := context.Background()

	first, err := adapter.Grant(ctx, "R123", "ana@example.com", authority.LevelViewer)
	require.NoError(t, err)
	assert.False(t, first.NoOp)

	second, err := adapter.Grant(ctx, "R123", "ana@example.com", authority.LevelViewer)
	require.NoError(t, err)
	assert.True(t, second.NoOp)
	assert.Equal(t, first.BindingID, second.BindingID)

	assert.Equal(t, 1, mem.BindingCount("R123"))
	assert.Equal(t, 1, mem.Calls("grant"))
}

func TestAdapterGrantUpdatesDifferentLevel(t *testing.T) {
	mem := NewMemory()
	mem.Register("ana@example.com")
	adapter, _ := newTestAdapter(mem, 3)
	ctx := context.Background()

	_, err := adapter.Grant(ctx, "R1", "ana@example.com", authority.LevelViewer)
	require.NoError(t, err)
	_, err = adapter.Grant(ctx, "R1", "ana@example.com", authority.LevelEditor)
	require.NoError(t, err)

	b, ok := mem.Binding("R1", "ana@example.com")
	require.True(t, ok)
	assert.Equal(t, authority.LevelEditor, b.Level)
	assert.Equal(t, 1, mem.Calls("grant"))
	assert.Equal(t, 1, mem.Calls("update"))
}

func TestAdapterConflictTreatedAsSuccess(t *testing.T) {
	mem := NewMemory()
	mem.Register("ana@example.com")
	mem.FailNext("grant", NewError(KindConflict, "grant", errors.New("already bound")))
	adapter, _ := newTestAdapter(mem, 3)

	res, err := adapter.Grant(context.Background(), "R1", "ana@example.com", authority.LevelViewer)
	require.NoError(t, err)
	assert.True(t, res.NoOp)
	assert.Equal(t, 1, mem.Calls("grant"))
}

func TestAdapterRevokeMissingIsNoOp(t *testing.T) {
	mem := NewMemory()
	adapter, _ := newTestAdapter(mem, 3)

	res, err := adapter.Revoke(context.Background(), "R1", "ghost@example.com")
	require.NoError(t, err)
	assert.True(t, res.NoOp)
	assert.Zero(t, mem.Calls("revoke"))
}

func TestAdapterRetriesTransient(t *testing.T) {
	mem := NewMemory()
	mem.Register("ana@example.com")
	mem.FailNext("grant", ErrTransient, ErrTransient)
	adapter, waits := newTestAdapter(mem, 3)

	_, err := adapter.Grant(context.Background(), "R1", "ana@example.com", authority.LevelEditor)
	require.NoError(t, err)
	assert.Equal(t, 3, mem.Calls("grant"))
	assert.Equal(t, []time.Duration{100 * time.Millisecond, 200 * time.Millisecond}, *waits)
}

func TestAdapterTransientExhausted(t *testing.T) {
	mem := NewMemory()
	mem.Register("ana@example.com")
	mem.FailNext("revoke", ErrTransient, ErrTransient, ErrTransient, ErrTransient)
	adapter, _ := newTestAdapter(mem, 3)
	_, err := adapter.Grant(context.Background(), "R1", "ana@example.com", authority.LevelViewer)
	require.NoError(t, err)

	_, err = adapter.Revoke(context.Background(), "R1", "ana@example.com")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrTransient)
	assert.Equal(t, 3, mem.Calls("revoke"))
	_, still := mem.Binding("R1", "ana@example.com")
	assert.True(t, still)
}

func TestAdapterUnknownRetriedOnce(t *testing.T) {
	mem := NewMemory()
	mem.Register("ana@example.com")
	mem.FailNext("grant", errors.New("boom"), errors.New("boom again"), errors.New("never reached"))
	adapter, _ := newTestAdapter(mem, 5)

	_, err := adapter.Grant(context.Background(), "R1", "ana@example.com", authority.LevelViewer)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnknown)
	assert.Equal(t, 2, mem.Calls("grant"))
}

func TestAdapterNonRetryableSurfacesImmediately(t *testing.T) {
	cases := []struct {
		name  string
		setup func(*Memory)
		want  error
	}{
		{name: "unregistered principal", setup: func(*Memory) {}, want: ErrNotFound},
		{name: "permission denied", setup: func(m *Memory) {
			m.Register("ana@example.com")
			m.FailNext("grant", NewError(KindPermissionDenied, "grant", errors.New("forbidden")))
		}, want: ErrPermissionDenied},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			mem := NewMemory()
			tc.setup(mem)
			adapter, waits := newTestAdapter(mem, 3)

			_, err := adapter.Grant(context.Background(), "R1", "ana@example.com", authority.LevelViewer)
			require.Error(t, err)
			assert.ErrorIs(t, err, tc.want)
			assert.Equal(t, 1, mem.Calls("grant"))
			assert.Empty(t, *waits)
		})
	}
}

func TestAdapterTimeoutIsTransient(t *testing.T) {
	slow := &blockingClient{}
	adapter := NewAdapter(slow, Options{
		Retry:       RetryPolicy{MaxAttempts: 2, BaseDelay: 0, MaxDelay: time.Millisecond},
		CallTimeout: 10 * time.Millisecond,
	})
	adapter.WithSleep(func(context.Context, time.Duration) error { return nil })

	_, err := adapter.Revoke(context.Background(), "R1", "ana@example.com")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrTransient)
	assert.Equal(t, 2, slow.calls)
}

func TestAdapterUpdateRecreatesMissingBinding(t *testing.T) {
	mem := NewMemory()
	mem.Register("ana@example.com")
	adapter, _ := newTestAdapter(mem, 3)

	_, err := adapter.Update(context.Background(), "R1", "ana@example.com", authority.LevelViewer)
	require.NoError(t, err)
	b, ok := mem.Binding("R1", "ana@example.com")
	require.True(t, ok)
	assert.Equal(t, authority.LevelViewer, b.Level)
}

func TestAdapterCountsAttempts(t *testing.T) {
	mem := NewMemory()
	mem.Register("ana@example.com")
	mem.FailNext("grant", ErrTransient)
	reg := prometheus.NewRegistry()
	adapter := NewAdapter(mem, Options{Registerer: reg})
	adapter.WithSleep(func(context.Context, time.Duration) error { return nil })

	_, err := adapter.Grant(context.Background(), "R1", "ana@example.com", authority.LevelViewer)
	require.NoError(t, err)
	assert.Equal(t, float64(1), testutil.ToFloat64(adapter.calls.WithLabelValues("grant", "transient")))
	assert.Equal(t, float64(1), testutil.ToFloat64(adapter.calls.WithLabelValues("grant", "ok")))
}

func TestRetryPolicyDelayCapped(t *testing.T) {
	p := RetryPolicy{MaxAttempts: 6, BaseDelay: time.Second, Multiplier: 2, MaxDelay: 5 * time.Second}
	assert.Equal(t, time.Second, p.Delay(1))
	assert.Equal(t, 2*time.Second, p.Delay(2))
	assert.Equal(t, 4*time.Second, p.Delay(3))
	assert.Equal(t, 5*time.Second, p.Delay(4))
	assert.Equal(t, 5*time.Second, p.Delay(10))
}

type blockingClient struct {
	calls int
}

func (b *blockingClient) Grant(ctx context.Context, _, _ string, _ authority.Level) (string, error) {
	<-ctx.Done()
	return "", ctx.Err()
}

func (b *blockingClient) Revoke(ctx context.Context, _, _ string) error {
	<-ctx.Done()
	return ctx.Err()
}

func (b *blockingClient) Update(ctx context.Context, _, _ string, _ authority.Level) (string, error) {
	<-ctx.Done()
	return "", ctx.Err()
}

func (b *blockingClient) ListBindings(ctx context.Context, _ string) ([]Binding, error) {
	b.calls++
	<-ctx.Done()
	return nil, ctx.Err()
}
