package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/bradnewfield/zmonvif/internal/config"
	"github.com/bradnewfield/zmonvif/internal/logger"
	"github.com/bradnewfield/zmonvif/internal/service/watcher"
	"github.com/bradnewfield/zmonvif/internal/version"
)

var (
	// configPath stores the path to the configuration YAML file.
	configPath string
	// bindAddress optionally overrides the notification listener socket.
	bindAddress string
	// script optionally switches alarm delivery to an external program.
	script string
	// verbosity sets the log level.
	verbosity string

	// rootCmd represents the base command running the event watcher daemon.
	rootCmd = &cobra.Command{
		Use:   "zmonvif-trigger",
		Short: "Watch camera motion events and drive ZoneMinder alarms.",
		Long: `Long-running daemon that subscribes to ONVIF motion events on a fleet of
network cameras and maps each event to an alarm transition on the matching
ZoneMinder monitor.

Cameras deliver event callbacks to a single HTTP listener; each subscription
embeds the monitor id in its callback address. Motion start opens an alarm
over the zmtrigger channel (or hands it to an external script), motion end
closes it once ZoneMinder confirms, and subscription leases are renewed for
as long as the daemon runs.`,
		SilenceUsage: true,
		PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
			level, ok := logger.ParseLogLevel(verbosity)
			if !ok {
				return fmt.Errorf("unknown log level %q", verbosity)
			}

			logger.SetLevel(level)

			return nil
		},
		RunE: func(_ *cobra.Command, _ []string) error {
			// Setup graceful shutdown handling.
			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
			defer stop()

			options := &watcher.Options{
				ConfigPath:  configPath,
				BindAddress: bindAddress,
				Script:      script,
			}

			return watcher.Run(ctx, options)
		},
	}

	// initCmd writes a starter configuration file to edit by hand.
	initCmd = &cobra.Command{
		Use:   "init [path]",
		Short: "Write a starter configuration file",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := configPath
			if len(args) > 0 {
				path = args[0]
			}

			if _, err := os.Stat(path); err == nil {
				return fmt.Errorf("refusing to overwrite existing file %q", path)
			}

			if err := config.Save(path, starterConfig()); err != nil {
				return err
			}

			cmd.Printf("Wrote starter configuration to %s\n", path)

			return nil
		},
	}
)

// starterConfig is the template written by the init subcommand: every default
// spelled out plus one example monitor to copy from.
func starterConfig() *config.Config {
	return &config.Config{
		BindAddress:         config.DefaultBindAddress,
		LeaseSeconds:        config.DefaultLeaseSeconds,
		RenewMarginSeconds:  config.DefaultRenewMarginSeconds,
		TopicFilter:         config.DefaultTopicFilter,
		Timeout:             config.DefaultTimeout,
		ClosePollInterval:   config.DefaultClosePollInterval,
		CloseWaitTimeout:    config.DefaultCloseWaitTimeout,
		RenewRetries:        config.DefaultRenewRetries,
		FatalOnRenewFailure: false,
		ZoneMinder: config.ZoneMinderConfig{
			TriggerAddress: config.DefaultTriggerAddress,
			APIURL:         "http://localhost/zm/api",
		},
		Monitors: []config.MonitorConfig{
			{
				ID:          1,
				Name:        "Front door",
				EventURL:    "http://192.168.1.100:8899/onvif/event_service",
				CaptureMode: "modect",
			},
		},
	}
}

// Execute runs the zmonvif-trigger CLI and exits with non-zero status on error.
func Execute() {
	version.AttachCobraVersionCommand(rootCmd)
	rootCmd.AddCommand(initCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

//nolint:gochecknoinits // Required by Cobra CLI framework architecture.
func init() {
	// Setup command flags with consistent naming and descriptions.
	rootCmd.PersistentFlags().
		StringVarP(&configPath, "config", "c", config.DefaultConfigFilename, "path to configuration file")
	rootCmd.PersistentFlags().
		StringVarP(&verbosity, "verbosity", "v", "info", "log level (debug, info, warn, error)")
	rootCmd.Flags().StringVarP(&bindAddress, "bind", "b", "", "listen address override for the notification server")
	rootCmd.Flags().StringVarP(&script, "script", "s", "", "external script invoked instead of the trigger API")
}
