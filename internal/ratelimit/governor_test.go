package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func smallConfig() Config {
	return Config{
		WeightPerMinute: 100,
		OrdersPerMinute: 10,
		ReservePercent:  0.20,
		QueueTimeout:    50 * time.Millisecond,
		QueueCapacity:   4,
	}
}

func TestCanMakeRequestRespectsReserveBand(t *testing.T) {
	g := New(smallConfig())
	require.True(t, g.CanMakeRequest(70, false, PriorityLow))
	require.NoError(t, g.Admit(context.Background(), 70, false, PriorityLow))
	// 70 used of 100; low priority ceiling is 80 (100*0.8) so 20 more fails.
	require.False(t, g.CanMakeRequest(20, false, PriorityLow))
	// Critical ignores the reserve band entirely.
	require.True(t, g.CanMakeRequest(20, false, PriorityCritical))
}

func TestAdmitQueuesAndTimesOut(t *testing.T) {
	g := New(smallConfig())
	require.NoError(t, g.Admit(context.Background(), 80, false, PriorityLow))

	err := g.Admit(context.Background(), 50, false, PriorityLow)
	require.Error(t, err)
	var rle *ErrRateLimitExceeded
	require.ErrorAs(t, err, &rle)
}

func TestDrainAdmitsQueuedRequestAfterWindowRolls(t *testing.T) {
	cfg := smallConfig()
	cfg.QueueTimeout = time.Second
	g := New(cfg)
	require.NoError(t, g.Admit(context.Background(), 80, false, PriorityLow))

	done := make(chan error, 1)
	go func() {
		done <- g.Admit(context.Background(), 10, false, PriorityLow)
	}()

	g.mu.Lock()
	g.windowStart = time.Now().Add(-2 * time.Minute)
	g.mu.Unlock()
	g.Drain()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("queued request was never admitted")
	}
}

func TestCriticalBypassesQueueUpToReserve(t *testing.T) {
	g := New(smallConfig())
	require.NoError(t, g.Admit(context.Background(), 80, false, PriorityLow))
	require.NoError(t, g.Admit(context.Background(), 20, false, PriorityCritical))
}

type fakeObserver struct {
	queued   []Priority
	rejected []Priority
}

func (f *fakeObserver) QueueObserved(p Priority)  { f.queued = append(f.queued, p) }
func (f *fakeObserver) RejectObserved(p Priority) { f.rejected = append(f.rejected, p) }

func TestObserverReceivesQueueAndRejectEvents(t *testing.T) {
	g := New(smallConfig())
	obs := &fakeObserver{}
	g.SetObserver(obs)

	require.NoError(t, g.Admit(context.Background(), 80, false, PriorityLow))

	err := g.Admit(context.Background(), 50, false, PriorityLow)
	require.Error(t, err)

	require.Len(t, obs.queued, 1)
	require.Equal(t, PriorityLow, obs.queued[0])
	require.Len(t, obs.rejected, 1)
	require.Equal(t, PriorityLow, obs.rejected[0])
}
