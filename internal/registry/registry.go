package registry

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/bradnewfield/zmonvif/internal/config"
	"github.com/bradnewfield/zmonvif/internal/domain/monitor"
	"github.com/bradnewfield/zmonvif/internal/logger"
	"github.com/bradnewfield/zmonvif/internal/onvif"
)

// Channel validates and tears down the platform trigger channel for a
// monitor. A nil Channel skips validation (script delivery mode).
type Channel interface {
	Verify(ctx context.Context, m *monitor.Monitor) error
	Release()
}

// supportedCaptureModes are the platform capture functions that accept
// external triggers.
var supportedCaptureModes = map[string]struct{}{
	"monitor": {},
	"modect":  {},
	"record":  {},
	"mocord":  {},
	"nodect":  {},
}

// Registry holds the set of active monitors. It is fully populated by Load
// before any other component runs and is read-mostly afterwards; per-monitor
// mutable state lives behind the monitor's own lock.
type Registry struct {
	channel  Channel
	monitors map[int]*monitor.Monitor
}

// Load builds the active monitor set from configuration, filtering to
// monitors with a usable event endpoint and a trigger-capable capture mode,
// and excluding any whose trigger channel cannot be validated. Exclusion is
// never fatal.
func Load(ctx context.Context, cfgs []config.MonitorConfig, channel Channel, timeout time.Duration) *Registry {
	r := &Registry{
		channel:  channel,
		monitors: make(map[int]*monitor.Monitor, len(cfgs)),
	}

	for _, cfg := range cfgs {
		if cfg.EventURL == "" {
			logger.DebugKV(ctx, "Skipping monitor without event endpoint", "monitor_id", cfg.ID)
			continue
		}

		if _, ok := supportedCaptureModes[strings.ToLower(cfg.CaptureMode)]; !ok {
			logger.DebugKV(ctx, "Skipping monitor with unsupported capture mode",
				"monitor_id", cfg.ID, "capture_mode", cfg.CaptureMode)
			continue
		}

		m := &monitor.Monitor{
			ID:       cfg.ID,
			Name:     cfg.Name,
			Path:     cfg.Path,
			Showtext: cfg.Showtext,
			Events:   onvif.NewEventClient(cfg.EventURL, timeout),
		}

		if channel != nil {
			if err := channel.Verify(ctx, m); err != nil {
				logger.WarnKV(ctx, "Excluding monitor, trigger channel not validated",
					"monitor_id", m.ID, "error", err)
				continue
			}
		}

		r.monitors[m.ID] = m

		logger.InfoKV(ctx, "Watching monitor",
			"monitor_id", m.ID, "name", m.Name, "event_url", cfg.EventURL)
	}

	return r
}

// Get resolves a reference id to its monitor.
func (r *Registry) Get(id int) (*monitor.Monitor, bool) {
	m, ok := r.monitors[id]
	return m, ok
}

// All returns the monitors ordered by id.
func (r *Registry) All() []*monitor.Monitor {
	monitors := make([]*monitor.Monitor, 0, len(r.monitors))
	for _, m := range r.monitors {
		monitors = append(monitors, m)
	}

	sort.Slice(monitors, func(i, j int) bool { return monitors[i].ID < monitors[j].ID })

	return monitors
}

// Len returns the number of active monitors.
func (r *Registry) Len() int {
	return len(r.monitors)
}

// Release tears down the trigger channel on shutdown.
func (r *Registry) Release() {
	if r.channel != nil {
		r.channel.Release()
	}
}
