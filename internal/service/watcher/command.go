package watcher

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/bradnewfield/zmonvif/internal/config"
	"github.com/bradnewfield/zmonvif/internal/dispatch"
	"github.com/bradnewfield/zmonvif/internal/logger"
	"github.com/bradnewfield/zmonvif/internal/notify"
	"github.com/bradnewfield/zmonvif/internal/registry"
	"github.com/bradnewfield/zmonvif/internal/server"
	"github.com/bradnewfield/zmonvif/internal/subscription"
	"github.com/bradnewfield/zmonvif/internal/trigger"
)

// Options controls the watcher daemon process and configuration.
type Options struct {
	// ConfigPath specifies the path to the settings YAML file.
	ConfigPath string
	// BindAddress provides an optional listen address override for the
	// notification server.
	BindAddress string
	// Script provides an optional external script override, switching the
	// daemon into script delivery mode.
	Script string
}

var (
	// errNoActiveMonitors indicates every configured monitor was excluded
	// from the active set.
	errNoActiveMonitors = errors.New("no monitors eligible for event watching")
	// errNoSubscriptions indicates no camera accepted a subscription at
	// startup.
	errNoSubscriptions = errors.New("no camera accepted a subscription")
	// errNoExternalIP indicates the advertised callback host could not be
	// derived from the local interfaces.
	errNoExternalIP = errors.New("cannot determine an external IPv4 address")
)

// Run starts the watcher daemon and blocks until the context is canceled or
// a component fails. It subscribes every active monitor's camera, serves the
// notification listener, and keeps leases renewed; on shutdown all
// subscriptions are torn down before the process exits.
//
//nolint:cyclop,funlen // Startup wiring reads top to bottom; splitting would reduce clarity.
func Run(ctx context.Context, opts *Options) error {
	ctx = logger.WithName(ctx, "zmonvif-trigger")

	settings, err := config.Load(opts.ConfigPath)
	if err != nil {
		return fmt.Errorf("load settings: %w", err)
	}

	// Command line options override the settings file.
	bindAddress := settings.BindAddress
	if opts.BindAddress != "" {
		bindAddress = opts.BindAddress
	}

	script := settings.Script
	if opts.Script != "" {
		script = opts.Script
	}

	var (
		channel registry.Channel
		zm      *trigger.ZoneMinder
		runner  *trigger.ScriptRunner
	)

	if script != "" {
		runner = trigger.NewScriptRunner(script)
		if err = runner.Verify(); err != nil {
			return fmt.Errorf("verify script %q: %w", script, err)
		}

		logger.InfoKV(ctx, "Delivering transitions to external script", "script", script)
	} else {
		zm = trigger.NewZoneMinder(settings.ZoneMinder, settings.Timeout)
		channel = zm
	}

	reg := registry.Load(ctx, settings.Monitors, channel, settings.Timeout)
	if reg.Len() == 0 {
		return errNoActiveMonitors
	}

	defer reg.Release()

	dispatchOpts := dispatch.Options{
		PollInterval: settings.ClosePollInterval,
		CloseWait:    settings.CloseWaitTimeout,
	}

	// The MQTT mirror is best effort: a dead broker downgrades to a warning,
	// never a failed start.
	if settings.MQTT != nil {
		notifier, mqttErr := notify.NewMQTTNotifier(settings.MQTT)
		if mqttErr != nil {
			logger.WarnKV(ctx, "MQTT mirror disabled", "error", mqttErr)
		} else {
			defer notifier.Close()

			dispatchOpts.Publisher = notifier
		}
	}

	var dispatcher *dispatch.Dispatcher
	if runner != nil {
		dispatcher = dispatch.NewScript(reg, runner, dispatchOpts)
	} else {
		dispatcher = dispatch.NewTrigger(reg, zm, dispatchOpts)
	}

	callbackBase, err := resolveCallbackBase(settings.CallbackURL, bindAddress)
	if err != nil {
		return fmt.Errorf("resolve callback base: %w", err)
	}

	manager := subscription.NewManager(callbackBase, settings.TopicFilter, settings.LeaseSeconds)

	if subscribed := manager.SubscribeAll(ctx, reg.All()); subscribed == 0 {
		return errNoSubscriptions
	}

	renewer := subscription.NewRenewer(manager, reg, subscription.RenewerOptions{
		Interval:       subscription.RenewalInterval(settings.LeaseSeconds, settings.RenewMarginSeconds),
		Retries:        settings.RenewRetries,
		FatalOnFailure: settings.FatalOnRenewFailure,
	})

	httpServer := &http.Server{
		Addr:              bindAddress,
		Handler:           server.New(reg, dispatcher).Handler(),
		ReadHeaderTimeout: settings.Timeout,
	}

	logger.InfoKV(ctx, "Watcher started",
		"bind_address", bindAddress,
		"callback_base", callbackBase,
		"monitors", reg.Len())

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	errCh := make(chan error, 2)

	go func() { errCh <- server.RunServer(runCtx, httpServer) }()
	go func() { errCh <- renewer.Run(runCtx) }()

	// The first component to stop takes the other one down with it.
	runErr := <-errCh
	cancel()

	if second := <-errCh; runErr == nil {
		runErr = second
	}

	unsubscribeAll(manager, reg, settings.Timeout)

	logger.Info(ctx, "Watcher stopped")

	return runErr
}

// unsubscribeAll tears down every live subscription with a fresh bounded
// context; the run context is already canceled at this point.
func unsubscribeAll(manager *subscription.Manager, reg *registry.Registry, perCameraTimeout time.Duration) {
	budget := time.Duration(reg.Len()+1) * perCameraTimeout

	ctx, cancel := context.WithTimeout(context.Background(), budget)
	defer cancel()

	manager.UnsubscribeAll(ctx, reg.All())
}

// resolveCallbackBase decides the address cameras deliver callbacks to. An
// explicit override wins; otherwise the base is derived from the bind
// address, substituting an external interface address when the bind host is
// a wildcard.
func resolveCallbackBase(override, bindAddress string) (string, error) {
	if override != "" {
		return strings.TrimRight(override, "/"), nil
	}

	host, port, err := net.SplitHostPort(bindAddress)
	if err != nil {
		return "", fmt.Errorf("invalid bind address %q: %w", bindAddress, err)
	}

	if isWildcardHost(host) {
		if host, err = externalIPv4(); err != nil {
			return "", err
		}
	}

	return "http://" + net.JoinHostPort(host, port), nil
}

func isWildcardHost(host string) bool {
	if host == "" {
		return true
	}

	ip := net.ParseIP(host)

	return ip != nil && ip.IsUnspecified()
}

// externalIPv4 returns the first usable IPv4 address of an up, non-loopback
// interface.
func externalIPv4() (string, error) {
	ifaces, err := net.Interfaces()
	if err != nil {
		return "", err
	}

	for _, iface := range ifaces {
		if iface.Flags&net.FlagUp == 0 || iface.Flags&net.FlagLoopback != 0 {
			continue
		}

		addrs, err := iface.Addrs()
		if err != nil {
			return "", err
		}

		for _, addr := range addrs {
			var ip net.IP

			switch v := addr.(type) {
			case *net.IPNet:
				ip = v.IP
			case *net.IPAddr:
				ip = v.IP
			}

			if ip == nil || ip.IsLoopback() {
				continue
			}

			if ip = ip.To4(); ip != nil {
				return ip.String(), nil
			}
		}
	}

	return "", errNoExternalIP
}
