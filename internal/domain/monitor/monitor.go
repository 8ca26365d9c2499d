package monitor

import (
	"context"
	"sync"
	"time"
)

// EventService is the camera-side subscription surface of an event producer.
// Implementations send Subscribe/Renew/Unsubscribe requests to the camera's
// event endpoint; the returned manager address identifies the subscription
// for later renewal and teardown.
type EventService interface {
	// Subscribe requests notification delivery to the consumer address for
	// the given lease and returns the subscription manager address.
	Subscribe(ctx context.Context, consumer, topicFilter string, leaseSeconds int) (string, error)
	// Renew extends an existing subscription by the given lease.
	Renew(ctx context.Context, managerAddress string, leaseSeconds int) error
	// Unsubscribe cancels the subscription at the manager address.
	Unsubscribe(ctx context.Context, managerAddress string) error
}

// Subscription is a time-bounded grant from a camera's event service to
// deliver notifications to a callback address. It is identified by the
// manager endpoint address advertised by the camera.
type Subscription struct {
	// ManagerAddress is the subscription manager endpoint returned by the camera.
	ManagerAddress string
	// MonitorID is the id of the monitor owning this subscription.
	MonitorID int
	// Lease is the requested subscription duration.
	Lease time.Duration
	// CreatedAt is when the subscription was established or last renewed.
	CreatedAt time.Time
}

// RenewDeadline returns the instant by which the subscription must be
// renewed: lease minus the early margin after creation. Past that point the
// subscription must be treated as lost.
func (s *Subscription) RenewDeadline(margin time.Duration) time.Time {
	return s.CreatedAt.Add(s.Lease - margin)
}

// Monitor is a configured camera/channel tracked by the surveillance
// platform. The registry owns the set of monitors; the subscription manager
// mutates the subscription field and the alarm dispatcher mutates the
// last-event bookkeeping, so both are guarded by a mutex.
type Monitor struct {
	// ID is the unique monitor id; it doubles as the reference id embedded
	// in the subscription's callback address.
	ID int
	// Name is the display name of the monitor.
	Name string
	// Path is the monitor's storage path on the platform.
	Path string
	// Showtext is optional overlay text forwarded with alarm transitions.
	Showtext string
	// Events is the camera's event-service client.
	Events EventService

	mu           sync.Mutex
	subscription *Subscription
	lastEventID  uint64
}

// Subscription returns the current subscription handle, or nil when the
// monitor is not subscribed.
func (m *Monitor) Subscription() *Subscription {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.subscription
}

// SetSubscription stores the subscription handle. Passing nil marks the
// monitor as unsubscribed.
func (m *Monitor) SetSubscription(s *Subscription) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.subscription = s
}

// LastEventID returns the last alarm-event identifier observed for this monitor.
func (m *Monitor) LastEventID() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.lastEventID
}

// SetLastEventID records the last observed alarm-event identifier.
func (m *Monitor) SetLastEventID(id uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.lastEventID = id
}
