package subscription

import (
	"context"
	"fmt"
	"time"

	"github.com/bradnewfield/zmonvif/internal/domain/monitor"
	"github.com/bradnewfield/zmonvif/internal/logger"
)

// Snapshot provides the current monitor set. Satisfied by *registry.Registry.
type Snapshot interface {
	All() []*monitor.Monitor
}

// lifecycle is the slice of Manager the renewer drives. Kept as an interface
// so tests can count calls.
type lifecycle interface {
	Subscribe(ctx context.Context, m *monitor.Monitor) error
	Renew(ctx context.Context, m *monitor.Monitor) error
}

// RenewerOptions tunes the renewal loop.
type RenewerOptions struct {
	// Interval between renewal sweeps; must stay below lease minus margin.
	Interval time.Duration
	// Retries is how often a failed renew is retried before the
	// subscription is dropped.
	Retries int
	// Backoff is the base delay between retries, doubled per attempt.
	Backoff time.Duration
	// FatalOnFailure terminates the loop (and so the daemon) when a renew
	// ultimately fails, forcing a clean restart over running with a stale
	// subscription.
	FatalOnFailure bool
}

const (
	defaultRenewBackoff = time.Second
	maxRenewBackoff     = 30 * time.Second
)

// RenewalInterval returns the sweep period for a lease and early margin:
// every subscription is renewed strictly before lease minus margin elapses.
func RenewalInterval(leaseSeconds, marginSeconds int) time.Duration {
	return time.Duration(leaseSeconds-marginSeconds) * time.Second
}

// Renewer periodically renews every live subscription in the registry.
type Renewer struct {
	manager  lifecycle
	registry Snapshot
	opts     RenewerOptions
}

// NewRenewer builds the renewal loop driver.
func NewRenewer(manager lifecycle, registry Snapshot, opts RenewerOptions) *Renewer {
	if opts.Retries < 0 {
		opts.Retries = 0
	}

	if opts.Backoff <= 0 {
		opts.Backoff = defaultRenewBackoff
	}

	return &Renewer{
		manager:  manager,
		registry: registry,
		opts:     opts,
	}
}

// Run sweeps the registry on a fixed period until the context is canceled.
// It returns a non-nil error only in fatal-on-failure mode.
func (r *Renewer) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.opts.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := r.sweep(ctx); err != nil {
				return err
			}
		}
	}
}

// sweep renews every monitor holding a live subscription handle and retries
// the subscribe for monitors that lost (or never got) one.
func (r *Renewer) sweep(ctx context.Context) error {
	for _, m := range r.registry.All() {
		if m.Subscription() == nil {
			if err := r.manager.Subscribe(ctx, m); err != nil {
				logger.WarnKV(ctx, "Subscribe failed, retrying next sweep", "monitor_id", m.ID, "error", err)
			} else {
				logger.InfoKV(ctx, "Subscribed previously unsubscribed monitor", "monitor_id", m.ID)
			}

			continue
		}

		if err := r.renewWithRetry(ctx, m); err != nil {
			if r.opts.FatalOnFailure {
				return fmt.Errorf("renew monitor %d: %w", m.ID, err)
			}

			// Hardened path: the lease is lost, drop the handle and try a
			// fresh subscription instead of taking the daemon down.
			m.SetSubscription(nil)

			if subErr := r.manager.Subscribe(ctx, m); subErr != nil {
				logger.WarnKV(ctx, "Subscription lost and re-subscribe failed, monitor without events until next sweep",
					"monitor_id", m.ID, "error", subErr)
			} else {
				logger.InfoKV(ctx, "Re-subscribed after failed renewal", "monitor_id", m.ID)
			}
		}
	}

	return nil
}

// renewWithRetry retries a failed renew with capped exponential backoff.
func (r *Renewer) renewWithRetry(ctx context.Context, m *monitor.Monitor) error {
	var err error

	delay := r.opts.Backoff

	for attempt := 0; attempt <= r.opts.Retries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}

			if delay *= 2; delay > maxRenewBackoff {
				delay = maxRenewBackoff
			}
		}

		if err = r.manager.Renew(ctx, m); err == nil {
			if attempt > 0 {
				logger.InfoKV(ctx, "Renewed after retry", "monitor_id", m.ID, "attempt", attempt)
			}

			return nil
		}

		logger.WarnKV(ctx, "Renew failed", "monitor_id", m.ID, "attempt", attempt, "error", err)
	}

	return err
}
