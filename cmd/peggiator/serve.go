package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/cuinjune/ar-peggiator/internal/checkpoint"
	"github.com/cuinjune/ar-peggiator/internal/config"
	"github.com/cuinjune/ar-peggiator/internal/discovery"
	"github.com/cuinjune/ar-peggiator/internal/hub"
	"github.com/cuinjune/ar-peggiator/internal/logging"
	"github.com/cuinjune/ar-peggiator/internal/notes"
	"github.com/cuinjune/ar-peggiator/internal/registry"
	"github.com/cuinjune/ar-peggiator/internal/server"
)

type serveFlags struct {
	config     string
	listen     string
	tlsCert    string
	tlsKey     string
	static     string
	checkpoint string
	mdns       bool
	logLevel   string
}

func serveCmd() *cobra.Command {
	var f serveFlags

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the hub",
		Long: `Run the websocket hub.

Configuration is read from built-in defaults, then the YAML file given
with --config, then PEGGIATOR_* environment variables (and PORT), then
the flags below.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(f.config)
			if err != nil {
				return err
			}
			applyServeFlags(cmd, &cfg, f)
			if err := cfg.Validate(); err != nil {
				return err
			}
			logger, err := logging.New(cmd.ErrOrStderr(), cfg.Log.Level, cfg.Log.Format)
			if err != nil {
				return err
			}
			slog.SetDefault(logger)

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cfg, logger)
		},
	}

	f.bind(cmd)

	return cmd
}

func (f *serveFlags) bind(cmd *cobra.Command) {
	flags := cmd.Flags()
	flags.StringVarP(&f.config, "config", "c", "", "YAML configuration file")
	flags.StringVarP(&f.listen, "listen", "l", "", "listen address (host:port)")
	flags.StringVar(&f.tlsCert, "tls-cert", "", "TLS certificate file")
	flags.StringVar(&f.tlsKey, "tls-key", "", "TLS private key file")
	flags.StringVar(&f.static, "static", "", "directory served at /")
	flags.StringVar(&f.checkpoint, "checkpoint", "", "checkpoint location (path, bolt://, postgres://, redis://, s3://)")
	flags.BoolVar(&f.mdns, "mdns", false, "advertise the hub over mDNS")
	flags.StringVar(&f.logLevel, "log-level", "", "debug, info, warn or error")
}

// applyServeFlags overrides cfg with the flags the user actually set.
func applyServeFlags(cmd *cobra.Command, cfg *config.Config, f serveFlags) {
	set := cmd.Flags().Changed
	if set("listen") {
		cfg.Listen = f.listen
	}
	if set("tls-cert") {
		cfg.TLSCert = f.tlsCert
	}
	if set("tls-key") {
		cfg.TLSKey = f.tlsKey
	}
	if set("static") {
		cfg.StaticDir = f.static
	}
	if set("checkpoint") {
		cfg.Checkpoint = f.checkpoint
	}
	if set("mdns") {
		cfg.MDNS.Enabled = f.mdns
	}
	if set("log-level") {
		cfg.Log.Level = f.logLevel
	}
}

func hubConfig(cfg config.Config) hub.Config {
	hc := hub.DefaultConfig()
	hc.SendBuffer = cfg.Hub.SendBuffer
	hc.MaxMessageBytes = cfg.Hub.MaxMessageBytes
	hc.EventsPerSecond = cfg.Hub.EventsPerSecond
	hc.EventBurst = cfg.Hub.EventBurst
	hc.PingInterval = cfg.Hub.PingInterval
	return hc
}

// serve runs the hub until ctx ends, then writes the final checkpoint.
func serve(ctx context.Context, cfg config.Config, logger *slog.Logger) error {
	backend, err := checkpoint.Open(ctx, cfg.Checkpoint, checkpoint.OpenOptions{Logger: logger})
	if err != nil {
		return fmt.Errorf("open checkpoint: %w", err)
	}

	promReg := prometheus.NewRegistry()
	promReg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	store := notes.New(notes.WithLimit(cfg.Hub.MaxNotes))
	cp := checkpoint.New(backend, store,
		checkpoint.WithLogger(logger),
		checkpoint.WithMetrics(checkpoint.NewMetrics(promReg)),
	)
	defer func() {
		if err := cp.Close(); err != nil {
			logger.Warn("closing checkpoint backend", "err", err)
		}
	}()

	n, err := cp.Restore(ctx)
	if err != nil {
		return fmt.Errorf("restore notes: %w", err)
	}
	logger.Info("notes restored", "count", n, "backend", backend.String())

	trigger := checkpoint.NewTrigger(cp, cfg.ShutdownTimeout, logger)
	defer trigger.Guard()

	reg := registry.New()
	h := hub.New(reg, store, hubConfig(cfg),
		hub.WithLogger(logger),
		hub.WithMetrics(hub.NewMetrics(promReg)),
		hub.WithPanicHook(trigger.OnPanic),
	)
	srv := server.New(h, reg, store, server.Options{
		Addr:            cfg.Listen,
		TLSCert:         cfg.TLSCert,
		TLSKey:          cfg.TLSKey,
		StaticDir:       cfg.StaticDir,
		ShutdownTimeout: cfg.ShutdownTimeout,
		Gatherer:        promReg,
		Logger:          logger,
	})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(guarded(trigger, func() error {
		h.Run(gctx)
		return nil
	}))
	g.Go(guarded(trigger, func() error {
		return srv.ListenAndServe(gctx)
	}))
	g.Go(guarded(trigger, func() error {
		cp.RunPeriodic(gctx, cfg.CheckpointInterval)
		return nil
	}))
	if cfg.MDNS.Enabled {
		g.Go(guarded(trigger, func() error {
			err := discovery.Advertise(gctx, cfg.MDNS.Instance, cfg.MDNS.Service, cfg.Port(), cfg.TLSEnabled(), logger)
			if err != nil {
				logger.Warn("mDNS advertisement disabled", "err", err)
			}
			return nil
		}))
	}

	err = g.Wait()
	_ = trigger.Fire("shutdown")
	return err
}

// guarded runs fn under the trigger's Guard: a panic on that goroutine
// writes the final checkpoint before it crashes the process.
func guarded(trigger *checkpoint.Trigger, fn func() error) func() error {
	return func() error {
		defer trigger.Guard()
		return fn()
	}
}
