package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os/signal"
	"sync"
	"syscall"

	"codeberg.org/mutker/hwtelemetry/internal/alerts"
	"codeberg.org/mutker/hwtelemetry/internal/config"
	"codeberg.org/mutker/hwtelemetry/internal/fusion"
	"codeberg.org/mutker/hwtelemetry/internal/logger"
	"codeberg.org/mutker/hwtelemetry/internal/monitor"
	"codeberg.org/mutker/hwtelemetry/internal/pid"
	"codeberg.org/mutker/hwtelemetry/internal/protocol"
	"codeberg.org/mutker/hwtelemetry/internal/sensors"
	"codeberg.org/mutker/hwtelemetry/internal/transport"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

var cfg *config.Config

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		logger.FatalWithCode(err).Msg("hwtelemetry failed")
	}
}

func newRootCmd() *cobra.Command {
	var configFile string

	root := &cobra.Command{
		Use:           "hwtelemetry",
		Short:         "Stream hardware telemetry between machines over UDP",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	pf := root.PersistentFlags()
	pf.StringVarP(&configFile, "config", "c", "", "path to a TOML config file (default /etc/hwtelemetry.toml)")
	pf.String("log-level", "info", "log level: debug, info, warning or error")
	pf.String("log-file", "", "also write JSON logs to this file")
	pf.IntP("port", "p", transport.DefaultPort, "UDP port")
	pf.String("bind-ip", "", "local IPv4 address to bind")

	root.PersistentPreRunE = func(cmd *cobra.Command, _ []string) error {
		opts := []config.Option{
			config.WithFlag("log_level", pf.Lookup("log-level")),
			config.WithFlag("log_file", pf.Lookup("log-file")),
		}
		if configFile != "" {
			opts = append(opts, config.WithConfigFile(configFile))
		}
		opts = append(opts, commandFlags(cmd)...)

		var err error
		cfg, err = config.Load(opts...)
		if err != nil {
			return err
		}

		logger.Init(logger.Options{
			Level:     cfg.LogLevel.String(),
			IsService: logger.IsService(),
			File:      cfg.LogFile,
		})
		logger.Debug().Str("command", cmd.Name()).Msg("Config loaded")

		return nil
	}

	root.AddCommand(newSendCmd(), newReceiveCmd(), newProbeCmd())

	return root
}

// commandFlags binds the shared port and bind flags to the section of the
// running subcommand, plus that subcommand's own flags.
func commandFlags(cmd *cobra.Command) []config.Option {
	section := "sender"
	if cmd.Name() == "receive" {
		section = "receiver"
	}

	flags := cmd.Flags()
	opts := []config.Option{
		config.WithFlag(section+".port", flags.Lookup("port")),
		config.WithFlag(section+".bind_ip", flags.Lookup("bind-ip")),
	}

	cmd.LocalFlags().VisitAll(func(f *pflag.Flag) {
		if key, ok := flagKeys[f.Name]; ok {
			opts = append(opts, config.WithFlag(key, f))
		}
	})

	return opts
}

var flagKeys = map[string]string{
	"mode":      "sender.mode",
	"dest":      "sender.dest_ip",
	"interval":  "sender.interval",
	"gpu-index": "sender.gpu_index",
	"from":      "receiver.sender_ip",
	"notify":    "notify.enabled",
}

func newSensorHub(ctx context.Context) (*sensors.Hub, *fusion.Engine) {
	hub := sensors.NewHub(cfg.SensorOptions())
	hub.TryInit(ctx)

	engine := fusion.New(fusion.Sources{
		Baseline: hub.Baseline,
		Rich:     hub.Rich,
		GPU:      hub.GPU,
		System:   hub.System,
		Thermal:  hub.Thermal,
		Pinger:   hub.Pinger,
	}, fusion.WithGPUIndex(cfg.Sender.GPUIndex))

	return hub, engine
}

func newSendCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "send",
		Short: "Collect local telemetry and send it at a fixed interval",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()

			lock := pid.New("send")
			if err := lock.Write(); err != nil {
				return err
			}
			defer removePID(lock)

			hub, engine := newSensorHub(ctx)
			defer func() {
				if err := hub.Close(); err != nil {
					logger.ErrorWithCode(err).Msg("failed to release sensor sources")
				}
			}()

			sender, err := transport.NewSender(ctx, cfg.SenderTransport(), engine)
			if err != nil {
				return err
			}
			defer sender.Close()

			logger.Info().
				Str("mode", cfg.Sender.Mode).
				Str("destination", sender.Destination().String()).
				Dur("interval", cfg.Sender.Interval).
				Msg("Sending telemetry")

			return sender.Run(ctx)
		},
	}

	flags := cmd.Flags()
	flags.String("mode", transport.ModeBroadcast, "broadcast or unicast")
	flags.String("dest", "", "destination IPv4 address")
	flags.Duration("interval", transport.DefaultInterval, "time between frames")
	flags.Bool("no-ping", false, "disable the latency probe")
	flags.Int("gpu-index", 0, "GPU index for the vendor library")

	// --no-ping is the inverse of sender.ping.
	cmd.PreRunE = func(*cobra.Command, []string) error {
		if f := flags.Lookup("no-ping"); f.Changed {
			cfg.Sender.Ping = f.Value.String() != "true"
		}
		return nil
	}

	return cmd
}

func newReceiveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "receive",
		Short: "Receive telemetry frames and evaluate alerts",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()

			lock := pid.New("receive")
			if err := lock.Write(); err != nil {
				return err
			}
			defer removePID(lock)

			receiver, err := transport.NewReceiver(cfg.ReceiverTransport())
			if err != nil {
				return err
			}

			notifier := alerts.NewNotifier(cfg.Notifications())
			defer func() {
				if err := notifier.Close(); err != nil {
					logger.ErrorWithCode(err).Msg("failed to flush notifications")
				}
			}()

			mon := monitor.New(cfg.Monitor(), receiver.Messages(), notifier)

			var (
				wg      sync.WaitGroup
				recvErr error
			)
			wg.Add(1)
			go func() {
				defer wg.Done()
				recvErr = receiver.Run(ctx)
				cancel()
			}()

			monErr := mon.Run(ctx)
			cancel()
			wg.Wait()

			stats := receiver.Stats()
			logger.Info().
				Uint64("received", stats.Received).
				Uint64("decoded", stats.Decoded).
				Uint64("malformed", stats.Malformed).
				Uint64("filtered", stats.Filtered).
				Uint64("dropped", stats.Dropped).
				Uint64("rebinds", stats.Rebinds).
				Msg("Exiting...")

			if recvErr != nil {
				return recvErr
			}
			return monErr
		},
	}

	flags := cmd.Flags()
	flags.String("from", "", "only accept frames from this sender IP")
	flags.Bool("notify", false, "deliver alerts to the configured webhooks")

	return cmd
}

func newProbeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "probe",
		Short: "Collect one record, print it and report its encoded size",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()

			hub, engine := newSensorHub(ctx)
			defer hub.Close()

			rec := engine.Collect(ctx)
			stats, err := protocol.Stats(rec)
			if err != nil {
				return err
			}

			out, err := json.MarshalIndent(rec, "", "  ")
			if err != nil {
				return err
			}

			fmt.Fprintln(cmd.OutOrStdout(), string(out))
			fmt.Fprintf(cmd.OutOrStdout(), "frame: %d bytes (header %d, body %d), %d storage, %d fans, %d bytes headroom\n",
				stats.TotalBytes, stats.HeaderBytes, stats.BodyBytes, stats.StorageCount, stats.FanCount, stats.Headroom())

			return nil
		},
	}
}

func removePID(lock *pid.File) {
	if err := lock.Remove(); err != nil {
		logger.ErrorWithCode(err).Str("path", lock.Path()).Msg("failed to remove pid file")
	}
}
