package dispatch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bradnewfield/zmonvif/internal/domain/monitor"
	"github.com/bradnewfield/zmonvif/internal/logger"
	"github.com/bradnewfield/zmonvif/internal/trigger"
)

// DefaultScore is the score attached to motion-triggered alarms.
const DefaultScore = 100

// ErrUnknownMonitor is returned when a transition targets a monitor the
// registry does not hold.
var ErrUnknownMonitor = errors.New("unknown monitor")

// TriggerAPI is the platform alarm surface the dispatcher drives. The
// platform is authoritative for real alarm state; these are command and read
// pass-throughs. Satisfied by *trigger.ZoneMinder.
type TriggerAPI interface {
	Open(ctx context.Context, m *monitor.Monitor, score int, cause, text string) error
	SetShowtext(ctx context.Context, m *monitor.Monitor, text string) error
	Close(ctx context.Context, m *monitor.Monitor) error
	Cancel(ctx context.Context, m *monitor.Monitor) error
	IsInAlarm(ctx context.Context, m *monitor.Monitor) (bool, error)
	LastEventID(ctx context.Context, m *monitor.Monitor) (uint64, error)
}

// ScriptRunner is the alternate delivery mode. Satisfied by
// *trigger.ScriptRunner.
type ScriptRunner interface {
	Run(ctx context.Context, action string, m *monitor.Monitor, cause string) error
}

// Publisher mirrors motion state to an external feed. Optional.
type Publisher interface {
	PublishMotion(ctx context.Context, m *monitor.Monitor, on bool)
}

// Lookup resolves reference ids to monitors. Satisfied by *registry.Registry.
type Lookup interface {
	Get(id int) (*monitor.Monitor, bool)
}

// Options tunes the dispatcher's close path.
type Options struct {
	// PollInterval is the delay between alarm-clear polls in EventOff.
	PollInterval time.Duration
	// CloseWait bounds the wait for the platform to confirm a close before
	// the cancel action is forced.
	CloseWait time.Duration
	// Publisher, when set, receives every motion transition.
	Publisher Publisher
}

// Dispatcher maps parsed notifications to alarm transitions. Exactly one of
// the trigger API or the external script is active per process.
type Dispatcher struct {
	monitors  Lookup
	api       TriggerAPI
	script    ScriptRunner
	publisher Publisher

	pollInterval time.Duration
	closeWait    time.Duration
}

// NewTrigger builds a dispatcher driving the platform trigger API.
func NewTrigger(monitors Lookup, api TriggerAPI, opts Options) *Dispatcher {
	d := newDispatcher(monitors, opts)
	d.api = api

	return d
}

// NewScript builds a dispatcher handing transitions to an external script.
func NewScript(monitors Lookup, script ScriptRunner, opts Options) *Dispatcher {
	d := newDispatcher(monitors, opts)
	d.script = script

	return d
}

func newDispatcher(monitors Lookup, opts Options) *Dispatcher {
	if opts.PollInterval <= 0 {
		opts.PollInterval = 200 * time.Millisecond
	}

	if opts.CloseWait <= 0 {
		opts.CloseWait = 30 * time.Second
	}

	return &Dispatcher{
		monitors:     monitors,
		publisher:    opts.Publisher,
		pollInterval: opts.PollInterval,
		closeWait:    opts.CloseWait,
	}
}

// EventOn opens an alarm on the monitor. No state check is performed:
// repeated on calls are idempotent pass-throughs to the platform.
func (d *Dispatcher) EventOn(ctx context.Context, monitorID, score int, cause, text, showtext string) error {
	m, ok := d.monitors.Get(monitorID)
	if !ok {
		return fmt.Errorf("monitor %d: %w", monitorID, ErrUnknownMonitor)
	}

	logger.InfoKV(ctx, "Alarm on", "monitor_id", m.ID, "cause", cause, "score", score)

	if d.script != nil {
		if err := d.script.Run(ctx, trigger.ScriptActionOn, m, cause); err != nil {
			return err
		}

		d.publish(ctx, m, true)

		return nil
	}

	if err := d.api.Open(ctx, m, score, cause, text); err != nil {
		return err
	}

	if showtext != "" {
		if err := d.api.SetShowtext(ctx, m, showtext); err != nil {
			logger.WarnKV(ctx, "Showtext update failed", "monitor_id", m.ID, "error", err)
		}
	}

	d.publish(ctx, m, true)

	return nil
}

// EventOff closes the alarm. It captures the platform's last-event id before
// closing and then waits, polling, until the platform reports not-in-alarm or
// the last-event id moves past the captured one (a newer alarm superseded the
// close), bounded by the close-wait timeout. The cancel action always
// follows.
func (d *Dispatcher) EventOff(ctx context.Context, monitorID, score int, cause, text, showtext string) error {
	m, ok := d.monitors.Get(monitorID)
	if !ok {
		return fmt.Errorf("monitor %d: %w", monitorID, ErrUnknownMonitor)
	}

	logger.InfoKV(ctx, "Alarm off", "monitor_id", m.ID, "cause", cause)

	if d.script != nil {
		if err := d.script.Run(ctx, trigger.ScriptActionOff, m, cause); err != nil {
			return err
		}

		d.publish(ctx, m, false)

		return nil
	}

	captured, err := d.api.LastEventID(ctx, m)
	if err != nil {
		logger.WarnKV(ctx, "Could not capture last event id before close", "monitor_id", m.ID, "error", err)
		captured = 0
	}

	m.SetLastEventID(captured)

	if err := d.api.Close(ctx, m); err != nil {
		return err
	}

	if showtext != "" {
		if err := d.api.SetShowtext(ctx, m, showtext); err != nil {
			logger.WarnKV(ctx, "Showtext update failed", "monitor_id", m.ID, "error", err)
		}
	}

	d.waitForClear(ctx, m, captured)

	if err := d.api.Cancel(ctx, m); err != nil {
		return err
	}

	d.publish(ctx, m, false)

	return nil
}

// waitForClear blocks until the close has taken effect or been superseded,
// or until the bound expires.
func (d *Dispatcher) waitForClear(ctx context.Context, m *monitor.Monitor, captured uint64) {
	deadline := time.NewTimer(d.closeWait)
	defer deadline.Stop()

	ticker := time.NewTicker(d.pollInterval)
	defer ticker.Stop()

	for {
		inAlarm, err := d.api.IsInAlarm(ctx, m)
		if err != nil {
			logger.WarnKV(ctx, "Alarm state read failed during close wait", "monitor_id", m.ID, "error", err)
			return
		}

		if !inAlarm {
			return
		}

		current, err := d.api.LastEventID(ctx, m)
		if err == nil && current != captured {
			logger.DebugKV(ctx, "Close superseded by newer alarm",
				"monitor_id", m.ID, "captured", captured, "current", current)
			return
		}

		select {
		case <-ctx.Done():
			return
		case <-deadline.C:
			logger.WarnKV(ctx, "Platform never confirmed alarm close, forcing cancel",
				"monitor_id", m.ID, "waited", d.closeWait.String())
			return
		case <-ticker.C:
		}
	}
}

func (d *Dispatcher) publish(ctx context.Context, m *monitor.Monitor, on bool) {
	if d.publisher != nil {
		d.publisher.PublishMotion(ctx, m, on)
	}
}
