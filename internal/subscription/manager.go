package subscription

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bradnewfield/zmonvif/internal/domain/monitor"
	"github.com/bradnewfield/zmonvif/internal/logger"
)

// ErrNotSubscribed is returned when an operation needs a live subscription
// handle and the monitor has none.
var ErrNotSubscribed = errors.New("monitor has no live subscription")

// Manager drives the per-monitor subscription lifecycle: subscribe with a
// callback address embedding the monitor's reference id, renew before the
// lease runs out, unsubscribe on shutdown.
type Manager struct {
	callbackBase string
	topicFilter  string
	leaseSeconds int

	// now is injectable for tests.
	now func() time.Time
}

// NewManager builds a manager advertising callback addresses under
// callbackBase (scheme://host:port).
func NewManager(callbackBase, topicFilter string, leaseSeconds int) *Manager {
	return &Manager{
		callbackBase: strings.TrimRight(callbackBase, "/"),
		topicFilter:  topicFilter,
		leaseSeconds: leaseSeconds,
		now:          time.Now,
	}
}

// LeaseSeconds returns the lease requested on subscribe and renew.
func (mgr *Manager) LeaseSeconds() int {
	return mgr.leaseSeconds
}

// ConsumerAddress returns the callback address for a reference id. The
// notification server recovers the monitor from this path alone.
func (mgr *Manager) ConsumerAddress(referenceID int) string {
	return fmt.Sprintf("%s/ref_%d/", mgr.callbackBase, referenceID)
}

// Subscribe establishes a subscription for the monitor and stores the handle
// on it. Failure leaves the monitor unsubscribed; callers must not treat it
// as fatal.
func (mgr *Manager) Subscribe(ctx context.Context, m *monitor.Monitor) error {
	addr, err := m.Events.Subscribe(ctx, mgr.ConsumerAddress(m.ID), mgr.topicFilter, mgr.leaseSeconds)
	if err != nil {
		return fmt.Errorf("monitor %d: %w", m.ID, err)
	}

	m.SetSubscription(&monitor.Subscription{
		ManagerAddress: addr,
		MonitorID:      m.ID,
		Lease:          time.Duration(mgr.leaseSeconds) * time.Second,
		CreatedAt:      mgr.now(),
	})

	logger.InfoKV(ctx, "Subscribed", "monitor_id", m.ID, "manager_address", addr)

	return nil
}

// Renew extends the monitor's subscription with a fresh lease and resets its
// creation time on success.
func (mgr *Manager) Renew(ctx context.Context, m *monitor.Monitor) error {
	sub := m.Subscription()
	if sub == nil {
		return ErrNotSubscribed
	}

	if err := m.Events.Renew(ctx, sub.ManagerAddress, mgr.leaseSeconds); err != nil {
		return fmt.Errorf("monitor %d: %w", m.ID, err)
	}

	m.SetSubscription(&monitor.Subscription{
		ManagerAddress: sub.ManagerAddress,
		MonitorID:      sub.MonitorID,
		Lease:          time.Duration(mgr.leaseSeconds) * time.Second,
		CreatedAt:      mgr.now(),
	})

	return nil
}

// Unsubscribe cancels the monitor's subscription best-effort and clears the
// handle either way.
func (mgr *Manager) Unsubscribe(ctx context.Context, m *monitor.Monitor) {
	sub := m.Subscription()
	if sub == nil {
		return
	}

	if err := m.Events.Unsubscribe(ctx, sub.ManagerAddress); err != nil {
		logger.DebugKV(ctx, "Unsubscribe failed", "monitor_id", m.ID, "error", err)
	}

	m.SetSubscription(nil)
}

// SubscribeAll subscribes every monitor, logging a warning per failure, and
// returns how many subscriptions were established.
func (mgr *Manager) SubscribeAll(ctx context.Context, monitors []*monitor.Monitor) int {
	subscribed := 0

	for _, m := range monitors {
		if err := mgr.Subscribe(ctx, m); err != nil {
			logger.WarnKV(ctx, "Subscribe failed, monitor will not receive events", "error", err)
			continue
		}

		subscribed++
	}

	return subscribed
}

// UnsubscribeAll tears down every live subscription.
func (mgr *Manager) UnsubscribeAll(ctx context.Context, monitors []*monitor.Monitor) {
	for _, m := range monitors {
		mgr.Unsubscribe(ctx, m)
	}
}
