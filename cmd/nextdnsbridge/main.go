// nextdnsbridge exposes NextDNS profiles to home automation platforms.
// It polls analytics, connection status and settings of one or more profiles,
// projects them into sensors, switches and buttons, and publishes them over
// MQTT discovery and a small HTTP API.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"runtime"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/time/rate"

	"gitlab.bluewillows.net/root/nextdnsbridge/internal/config"
	"gitlab.bluewillows.net/root/nextdnsbridge/internal/entity"
	"gitlab.bluewillows.net/root/nextdnsbridge/internal/entry"
	"gitlab.bluewillows.net/root/nextdnsbridge/internal/host"
	"gitlab.bluewillows.net/root/nextdnsbridge/internal/metrics"
	"gitlab.bluewillows.net/root/nextdnsbridge/internal/mqtt"
	"gitlab.bluewillows.net/root/nextdnsbridge/internal/server"
	"gitlab.bluewillows.net/root/nextdnsbridge/pkg/httputil"
	"gitlab.bluewillows.net/root/nextdnsbridge/pkg/nextdns"
)

// Version and BuildDate are set via ldflags during build.
// Example: -ldflags="-X main.Version=v1.0.0 -X main.BuildDate=2026-01-03"
var (
	Version   = "dev"
	BuildDate = "unknown"
)

func main() {
	if err := newRootCommand().ExecuteContext(context.Background()); err != nil {
		slog.Error("fatal error", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "nextdnsbridge",
		Short:         "Bridge NextDNS profiles to home automation",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().String("config", "", "config file (.yaml, .yml or .toml); defaults to $NEXTDNSBRIDGE_CONFIG")

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Poll the configured profiles and serve their entities",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()
			return run(ctx, cfg)
		},
	}

	profilesCmd := &cobra.Command{
		Use:   "profiles",
		Short: "List the profiles visible to each configured API key",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			return listProfiles(cmd.Context(), cmd.OutOrStdout(), cfg)
		},
	}

	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "nextdnsbridge %s (built %s, %s)\n", Version, BuildDate, runtime.Version())
		},
	}

	rootCmd.AddCommand(runCmd, profilesCmd, versionCmd)
	return rootCmd
}

// loadConfig loads configuration and installs the configured logger as the
// default.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	if path == "" {
		path = config.GetConfigFilePath()
	}

	// Load configuration first (fail fast)
	cfg, err := config.LoadFrom(path)
	if err != nil {
		return nil, fmt.Errorf("loading configuration: %w", err)
	}

	slog.SetDefault(setupLogger(cfg.Global.LogLevel, cfg.Global.LogFormat))
	return cfg, nil
}

func run(ctx context.Context, cfg *config.Config) error {
	logger := slog.Default()

	// Set build info metrics
	metrics.SetBuildInfo(Version, runtime.Version())

	logger.Info("nextdnsbridge starting",
		slog.String("version", Version),
		slog.String("build_date", BuildDate),
		slog.String("go_version", runtime.Version()),
		slog.Int("entries", len(cfg.Entries)),
	)

	manager := host.NewManager(newSetupFunc(cfg, logger), host.WithManagerLogger(logger))
	registry := entity.NewRegistry(logger)
	manager.OnReady(registry.Attach)
	manager.OnUnload(registry.Detach)

	var bridge *mqtt.Bridge
	if cfg.MQTT.Enabled() {
		var err error
		bridge, err = startBridge(ctx, cfg.MQTT, logger)
		if err != nil {
			return fmt.Errorf("starting MQTT bridge: %w", err)
		}
		registry.AddPublisher(bridge)
	}

	srv := server.New(cfg.Global.ServerPort,
		server.WithLogger(logger),
		server.WithEntries(manager),
		server.WithEntities(registry),
	)
	if err := srv.Start(); err != nil {
		if bridge != nil {
			bridge.Stop()
		}
		return fmt.Errorf("starting server: %w", err)
	}

	// Entries that are not ready yet are queued for retry by the manager;
	// only configuration errors abort startup.
	for _, e := range cfg.Entries {
		if _, err := manager.Setup(ctx, e.Name, e.Credential()); err != nil {
			if entry.IsConfigError(err) {
				logger.Error("entry configuration rejected",
					slog.String("entry", e.Name),
					slog.String("error", err.Error()),
				)
				continue
			}
			logger.Warn("entry not ready, will retry",
				slog.String("entry", e.Name),
				slog.String("error", err.Error()),
			)
		}
	}

	if err := manager.Start(ctx); err != nil {
		return fmt.Errorf("starting entry manager: %w", err)
	}

	logger.Info("nextdnsbridge initialized",
		slog.Int("ready", manager.ReadyCount()),
		slog.Int("pending", manager.PendingCount()),
		slog.Int("server_port", cfg.Global.ServerPort),
		slog.Bool("mqtt", bridge != nil),
	)

	<-ctx.Done()

	// Graceful shutdown
	logger.Info("shutting down...")

	manager.Stop()
	manager.UnloadAll()
	if bridge != nil {
		bridge.Stop()
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("server shutdown error", slog.String("error", err.Error()))
	}

	logger.Info("nextdnsbridge shutdown complete")
	return nil
}

// newSetupFunc returns the entry setup used by the manager, with the shared
// rate-limited HTTP client and the configured polling intervals.
func newSetupFunc(cfg *config.Config, logger *slog.Logger) host.SetupFunc {
	g := cfg.Global
	httpClient := httputil.NewClient(&httputil.ClientConfig{
		Timeout:   g.RequestTimeout,
		RateLimit: rate.Limit(g.RateLimit),
		Burst:     g.RateBurst,
		Logger:    logger,
	})
	connector := entry.NextDNSConnector(
		nextdns.WithHTTPClient(httpClient),
		nextdns.WithLogger(logger),
	)

	opts := []entry.Option{
		entry.WithLogger(logger),
		entry.WithConnector(connector),
		entry.WithFetchTimeout(g.RequestTimeout),
		entry.WithInterval(entry.KindConnection, g.ConnectionInterval),
		entry.WithInterval(entry.KindSettings, g.SettingsInterval),
		entry.WithInterval(entry.KindProfile, g.ProfileInterval),
	}
	for _, kind := range []entry.Kind{
		entry.KindStatus,
		entry.KindProtocols,
		entry.KindEncryption,
		entry.KindIPVersions,
		entry.KindDNSSEC,
	} {
		opts = append(opts, entry.WithInterval(kind, g.AnalyticsInterval))
	}

	return func(ctx context.Context, cred entry.Credential) (*entry.Handle, error) {
		return entry.Setup(ctx, cred, opts...)
	}
}

// startBridge connects to the broker and announces the bridge.
func startBridge(ctx context.Context, cfg *config.MQTTConfig, logger *slog.Logger) (*mqtt.Bridge, error) {
	bcfg := mqtt.DefaultConfig()
	bcfg.DiscoveryPrefix = cfg.DiscoveryPrefix
	bcfg.TopicPrefix = cfg.TopicPrefix
	bcfg.QoS = byte(cfg.QoS)

	var started atomic.Pointer[mqtt.Bridge]
	client := mqtt.NewClient(mqtt.ClientConfig{
		Broker:      cfg.Broker,
		ClientID:    cfg.ClientID,
		Username:    cfg.Username,
		Password:    cfg.Password,
		Timeout:     cfg.Timeout,
		WillTopic:   bcfg.BridgeAvailabilityTopic(),
		WillPayload: mqtt.PayloadOffline,
		OnConnect: func() {
			// The first connect is handled by Start.
			if b := started.Load(); b != nil {
				go b.Resubscribe()
			}
		},
		Logger: logger,
	})
	bridge := mqtt.NewBridge(client, bcfg, mqtt.WithLogger(logger))

	cctx, cancel := context.WithTimeout(ctx, cfg.Timeout)
	defer cancel()
	if err := bridge.Start(cctx); err != nil {
		return nil, err
	}
	started.Store(bridge)

	logger.Info("MQTT bridge started",
		slog.String("broker", cfg.Broker),
		slog.String("discovery_prefix", cfg.DiscoveryPrefix),
		slog.String("topic_prefix", cfg.TopicPrefix),
	)
	return bridge, nil
}

func setupLogger(level, format string) *slog.Logger {
	logLevel := parseLogLevel(level)

	var handler slog.Handler
	if format == "text" {
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel})
	} else {
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel})
	}

	return slog.New(handler)
}

// parseLogLevel converts a string log level to slog.Level.
func parseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
