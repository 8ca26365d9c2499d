package subscription

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/bradnewfield/zmonvif/internal/domain/monitor"
)

// fakeLifecycle counts renew and subscribe calls per monitor.
type fakeLifecycle struct {
	mu         sync.Mutex
	renewErrs  map[int]error
	subErrs    map[int]error
	renews     map[int]int
	subscribes map[int]int
	renewTimes []time.Time
}

func newFakeLifecycle() *fakeLifecycle {
	return &fakeLifecycle{
		renewErrs:  map[int]error{},
		subErrs:    map[int]error{},
		renews:     map[int]int{},
		subscribes: map[int]int{},
	}
}

func (f *fakeLifecycle) Renew(_ context.Context, m *monitor.Monitor) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.renews[m.ID]++
	f.renewTimes = append(f.renewTimes, time.Now())

	return f.renewErrs[m.ID]
}

func (f *fakeLifecycle) Subscribe(_ context.Context, m *monitor.Monitor) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.subscribes[m.ID]++
	if err := f.subErrs[m.ID]; err != nil {
		return err
	}

	m.SetSubscription(&monitor.Subscription{ManagerAddress: "http://cam/sub", MonitorID: m.ID, CreatedAt: time.Now()})

	return nil
}

func (f *fakeLifecycle) renewCount(id int) int {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.renews[id]
}

func (f *fakeLifecycle) subscribeCount(id int) int {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.subscribes[id]
}

// staticSnapshot satisfies Snapshot with a fixed monitor list.
type staticSnapshot []*monitor.Monitor

func (s staticSnapshot) All() []*monitor.Monitor { return s }

func subscribedMonitor(id int) *monitor.Monitor {
	m := &monitor.Monitor{ID: id}
	m.SetSubscription(&monitor.Subscription{
		ManagerAddress: "http://cam/sub",
		MonitorID:      id,
		Lease:          time.Second,
		CreatedAt:      time.Now(),
	})

	return m
}

// TestRenewalInterval verifies the sweep period is lease minus early margin.
func TestRenewalInterval(t *testing.T) {
	t.Parallel()

	require.Equal(t, 570*time.Second, RenewalInterval(600, 30))
	require.Equal(t, 55*time.Second, RenewalInterval(60, 5))
}

// TestRenewerRenewsBeforeDeadline runs the loop against a short lease and
// checks every renewal lands before the lease-minus-margin deadline.
func TestRenewerRenewsBeforeDeadline(t *testing.T) {
	t.Parallel()

	lifecycle := newFakeLifecycle()
	m := subscribedMonitor(7)
	deadline := m.Subscription().RenewDeadline(200 * time.Millisecond)

	r := NewRenewer(lifecycle, staticSnapshot{m}, RenewerOptions{
		Interval: 300 * time.Millisecond, // lease 1s, margin 200ms, renew at 300ms
	})

	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()

	require.NoError(t, r.Run(ctx))
	require.GreaterOrEqual(t, lifecycle.renewCount(7), 1)

	lifecycle.mu.Lock()
	first := lifecycle.renewTimes[0]
	lifecycle.mu.Unlock()
	require.True(t, first.Before(deadline), "renewed after the lease deadline")
}

// TestRenewerSubscribesMissingHandles ensures monitors without a handle are
// not renewed but do get a fresh subscribe attempt each sweep.
func TestRenewerSubscribesMissingHandles(t *testing.T) {
	t.Parallel()

	lifecycle := newFakeLifecycle()
	lifecycle.subErrs[9] = errors.New("camera unreachable")
	m := &monitor.Monitor{ID: 9}

	r := NewRenewer(lifecycle, staticSnapshot{m}, RenewerOptions{Interval: 20 * time.Millisecond})

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	require.NoError(t, r.Run(ctx))
	require.Zero(t, lifecycle.renewCount(9))
	require.GreaterOrEqual(t, lifecycle.subscribeCount(9), 1)
}

// TestRenewerResubscribesAfterExhaustedRetries covers the hardened failure
// policy: drop the lost handle and establish a fresh subscription.
func TestRenewerResubscribesAfterExhaustedRetries(t *testing.T) {
	t.Parallel()

	lifecycle := newFakeLifecycle()
	lifecycle.renewErrs[7] = errors.New("camera rebooted")

	m := subscribedMonitor(7)

	r := NewRenewer(lifecycle, staticSnapshot{m}, RenewerOptions{
		Interval: 30 * time.Millisecond,
		Retries:  1,
		Backoff:  5 * time.Millisecond,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()

	require.Eventually(t, func() bool {
		return lifecycle.subscribeCount(7) >= 1
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	require.NoError(t, <-done)

	// First failure plus one retry.
	require.GreaterOrEqual(t, lifecycle.renewCount(7), 2)
	require.NotNil(t, m.Subscription(), "re-subscribe should restore the handle")
}

// TestRenewerFatalMode verifies the legacy behavior: exhausted retries stop
// the loop with an error.
func TestRenewerFatalMode(t *testing.T) {
	t.Parallel()

	lifecycle := newFakeLifecycle()
	lifecycle.renewErrs[7] = errors.New("camera rebooted")

	r := NewRenewer(lifecycle, staticSnapshot{subscribedMonitor(7)}, RenewerOptions{
		Interval:       20 * time.Millisecond,
		Retries:        1,
		Backoff:        5 * time.Millisecond,
		FatalOnFailure: true,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	require.Error(t, r.Run(ctx))
	require.Zero(t, lifecycle.subscribeCount(7))
}
