package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/gorilla/websocket"
	"github.com/joho/godotenv"
	"github.com/kdsbridge/print-bridge/internal/advertise"
	"github.com/kdsbridge/print-bridge/internal/agent"
	"github.com/kdsbridge/print-bridge/internal/hotreload"
	"github.com/kdsbridge/print-bridge/internal/identity"
	"github.com/kdsbridge/print-bridge/internal/kds"
	"github.com/kdsbridge/print-bridge/internal/logger"
	"github.com/kdsbridge/print-bridge/internal/registration"
	"github.com/kdsbridge/print-bridge/internal/report"
	"github.com/kdsbridge/print-bridge/internal/scheduler"
	"github.com/kdsbridge/print-bridge/internal/server"
	"github.com/kdsbridge/print-bridge/internal/station"
	"github.com/kdsbridge/print-bridge/internal/tls"
	"github.com/kdsbridge/print-bridge/internal/utils"
	"github.com/kdsbridge/print-bridge/internal/watcher"
	"github.com/kdsbridge/print-bridge/pkg/config"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"
)

const defaultEnvFile = ".env"

const shutdownTimeout = 10 * time.Second

type rootOptions struct {
	configPath string
	envFile    string
}

// flagKeys maps CLI flags to settings keys.
var flagKeys = map[string]string{
	"state-dir":    "state_dir",
	"backend-url":  "backend_url",
	"control-url":  "control_url",
	"bind-address": "bind_address",
	"log-level":    "log.level",
	"log-json":     "log.json",
	"ops-address":  "ops.address",
	"ops-prefix":   "ops.prefix",
	"mdns":         "mdns.enabled",
}

func NewRootCommand() *cobra.Command {
	opts := &rootOptions{}

	rootCmd := &cobra.Command{
		Use:           "print-bridge",
		Short:         "print-bridge forwards kitchen printer jobs from the LAN to the KDS backend",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return loadEnvFile(opts.envFile)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAgent(cmd, opts)
		},
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVarP(&opts.configPath, "config", "c", "", "Path to the settings file (JSON, YAML or TOML)")
	flags.StringVar(&opts.envFile, "env-file", "", "Path to a .env file, defaults to ./.env when present")
	flags.String("state-dir", config.DefaultStateDir, "Directory holding the device config and the cached device ID")
	flags.String("backend-url", config.DefaultBackendURL, "Base URL of the KDS backend")
	flags.String("control-url", config.DefaultControlURL, "WebSocket URL of the KDS control channel")
	flags.String("bind-address", "", "Address the station listeners bind, empty for all interfaces")
	flags.String("log-level", "info", "Log level (debug, info, warn, error)")
	flags.Bool("log-json", false, "Write logs as JSON lines")
	flags.String("ops-address", config.DefaultOpsAddress, "Address of the health and metrics server, empty to disable")
	flags.String("ops-prefix", "", "Path prefix for the health, metrics and pprof routes")
	flags.Bool("mdns", false, "Advertise the stations over mDNS")

	rootCmd.AddCommand(newRunCommand(opts))
	rootCmd.AddCommand(newIdentityCommand(opts))
	rootCmd.AddCommand(newResetCommand(opts))
	return rootCmd
}

func Execute() error {
	return NewRootCommand().Execute()
}

func newRunCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Register the device and forward station jobs (default)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAgent(cmd, opts)
		},
	}
}

func newIdentityCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "identity",
		Short: "Print the device ID, creating the cached ID when missing",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			settings, paths, log, err := setup(cmd, opts)
			if err != nil {
				return err
			}
			resolver := newResolver(settings, paths, log)
			_, err = fmt.Fprintln(cmd.OutOrStdout(), resolver.Resolve().ID)
			return err
		},
	}
}

func newResetCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "reset",
		Short: "Delete the device config and cached device ID, forcing a fresh registration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			settings, paths, log, err := setup(cmd, opts)
			if err != nil {
				return err
			}
			store := config.NewStateStore(paths.StateFile)
			resolver := newResolver(settings, paths, log)
			if err := errors.Join(store.Delete(), resolver.Invalidate()); err != nil {
				return fmt.Errorf("reset device state: %w", err)
			}
			logger.LogAuditEvent(logger.AuditStateReset, "", map[string]interface{}{"state_dir": paths.StateDir})
			log.Info().Str("state_dir", paths.StateDir).Msg("Device state removed, the next start registers again")
			return nil
		},
	}
}

// runAgent starts the agent with its ops server, status reporter and
// settings watcher, and blocks until a signal arrives or the agent fails.
func runAgent(cmd *cobra.Command, opts *rootOptions) error {
	settings, paths, log, err := setup(cmd, opts)
	if err != nil {
		return err
	}

	ctx, cancel := utils.SetupContext(cmd.Context())
	defer cancel()
	g, ctx := errgroup.WithContext(ctx)

	tlsConfig, err := tls.LoadClientTLSConfig(tls.Config{
		CAFile:     settings.TLS.CAFile,
		CertFile:   settings.TLS.CertFile,
		KeyFile:    settings.TLS.KeyFile,
		SkipVerify: settings.TLS.SkipVerify,
	})
	if err != nil {
		return fmt.Errorf("backend TLS: %w", err)
	}

	localIP := utils.LocalIPFunc(log)
	client := kds.NewClient(settings.BackendURL, settings.HTTP.Timeout, kds.WithTLSConfig(tlsConfig))
	registrar := registration.NewRegistrar(client, settings.Registration.Attempts, settings.Registration.Delay, log)

	stationOpts := []station.Option{station.WithBindAddress(settings.BindAddress)}
	if settings.MDNS.Enabled {
		adv := advertise.New(settings.MDNS.Service, "", localIP, log)
		if err := adv.Start(); err != nil {
			log.Warn().Err(err).Msg("mDNS advertising disabled")
		} else {
			defer func() { _ = adv.Close() }()
			stationOpts = append(stationOpts, station.WithObserver(adv))
		}
	}
	stations := station.NewManager(client, log, stationOpts...)

	a := agent.New(
		config.NewStateStore(paths.StateFile),
		newResolver(settings, paths, log),
		registrar,
		stations,
		agent.Options{
			ControlURL:         settings.ControlURL,
			ReconnectDelay:     settings.Control.ReconnectDelay,
			NotRegisteredDelay: settings.Control.NotRegisteredDelay,
			UnauthorizedDelay:  settings.Control.UnauthorizedDelay,
			PersistUpdates:     settings.State.PersistUpdates,
			LocalIP:            localIP,
			Dialer: &websocket.Dialer{
				Proxy:            http.ProxyFromEnvironment,
				HandshakeTimeout: settings.HTTP.Timeout,
				TLSClientConfig:  tlsConfig,
			},
		},
		log,
	)

	if settings.Ops.Address != "" {
		app := setupServerApp(settings.Ops, a, log)
		g.Go(func() error {
			log.Info().Str("address", settings.Ops.Address).Msg("Starting ops server")
			// stations keep forwarding jobs without health and metrics
			if err := app.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error().Err(err).Str("address", settings.Ops.Address).Msg("Ops server stopped")
			}
			return nil
		})
		g.Go(func() error {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			return app.Shutdown(shutdownCtx)
		})
	}

	statusProcess := report.NewStatusProcess(a, paths.StateDir, log)
	reporter, err := scheduler.NewSchedulerWithInterval(settings.Report.Interval, statusProcess, log)
	if err != nil {
		return fmt.Errorf("status report scheduler: %w", err)
	}
	reporter.Start(ctx)
	defer func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := reporter.Stop(stopCtx); err != nil {
			log.Warn().Err(err).Msg("Status reporter did not stop in time")
		}
	}()

	if opts.configPath != "" {
		startHotReload(ctx, g, cmd, opts.configPath, settings, log)
	}

	g.Go(func() error {
		return a.Run(ctx)
	})

	log.Info().Str("backend", settings.BackendURL).Str("state_dir", paths.StateDir).Msg("print-bridge started")

	err = g.Wait()
	if err == nil || errors.Is(err, context.Canceled) {
		log.Info().Msg("print-bridge stopped")
		return nil
	}
	log.Error().Err(err).Msg("print-bridge stopped with an error")
	return err
}

// setup loads the settings, builds the logger and the audit log, and resolves
// the state directory.
func setup(cmd *cobra.Command, opts *rootOptions) (*config.Settings, *config.PathConfig, *zerolog.Logger, error) {
	settings, warnings, err := loadSettings(cmd, opts.configPath)
	if err != nil {
		return nil, nil, nil, err
	}

	ctx, log := logger.InitLogger(cmd.Context(), settings.Log.Level, settings.Log.JSON, warnings)
	cmd.SetContext(ctx)

	auditWriter, err := logger.NewFileAuditWriter(settings.Log.AuditFile)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("open audit log: %w", err)
	}
	logger.InitAuditLogger(auditWriter)

	paths, err := config.ResolvePathConfig(settings.StateDir)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("state directory: %w", err)
	}
	return settings, paths, log, nil
}

func loadSettings(cmd *cobra.Command, path string) (*config.Settings, []string, error) {
	v := config.NewViper()
	if err := bindFlags(v, cmd); err != nil {
		return nil, nil, err
	}
	return config.LoadSettings(v, path)
}

func bindFlags(v *viper.Viper, cmd *cobra.Command) error {
	for flag, key := range flagKeys {
		f := cmd.Flags().Lookup(flag)
		if f == nil {
			continue
		}
		if err := v.BindPFlag(key, f); err != nil {
			return fmt.Errorf("bind flag %s: %w", flag, err)
		}
	}
	return nil
}

func loadEnvFile(path string) error {
	if path != "" {
		if err := godotenv.Load(path); err != nil {
			return fmt.Errorf("load env file %s: %w", path, err)
		}
		return nil
	}
	if _, err := os.Stat(defaultEnvFile); err != nil {
		return nil
	}
	if err := godotenv.Load(defaultEnvFile); err != nil {
		return fmt.Errorf("load env file %s: %w", defaultEnvFile, err)
	}
	return nil
}

func newResolver(settings *config.Settings, paths *config.PathConfig, log *zerolog.Logger) *identity.Resolver {
	return identity.NewResolver(paths.IdentityFile, log, identity.WithHostnameSalt(settings.Identity.HostnameSalt))
}

func setupServerApp(ops config.OpsConfig, source server.HealthSource, log *zerolog.Logger) *server.App {
	router := server.NewDefaultRouter(ops.Prefix)
	router.Use(server.LoggingMiddleware(log))

	app := server.NewApp(
		router,
		ops.Address,
		server.NewHealthRegistrar(source),
		&server.MetricsRegistrar{},
		&server.DebugRegistrar{},
	)
	app.SetupRoutes()
	return app
}

func startHotReload(ctx context.Context, g *errgroup.Group, cmd *cobra.Command, path string, settings *config.Settings, log *zerolog.Logger) {
	events := make(chan struct{}, 1)
	reloader := hotreload.NewHotReloadManager(settings, log)

	g.Go(func() error {
		if err := watcher.WatchSettingsFile(ctx, log, path, events); err != nil {
			log.Warn().Err(err).Msg("Settings hot reload disabled")
		}
		return nil
	})
	g.Go(func() error {
		reloader.Run(ctx, events, func() (*config.Settings, []string, error) {
			return loadSettings(cmd, path)
		})
		return nil
	})
}
