package main

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	_ "modernc.org/sqlite"

	"github.com/marinersgrid/marinegrid/internal/config"
	"github.com/marinersgrid/marinegrid/internal/divergence"
	"github.com/marinersgrid/marinegrid/internal/emergency"
	"github.com/marinersgrid/marinegrid/internal/engine"
	"github.com/marinersgrid/marinegrid/internal/eventbus"
	"github.com/marinersgrid/marinegrid/internal/logging"
	"github.com/marinersgrid/marinegrid/internal/metrics"
	"github.com/marinersgrid/marinegrid/internal/outbox"
	"github.com/marinersgrid/marinegrid/internal/patternmatcher"
	"github.com/marinersgrid/marinegrid/internal/seedstore"
	"github.com/marinersgrid/marinegrid/internal/telemetry"
	"github.com/marinersgrid/marinegrid/internal/truthchecker"
	"github.com/marinersgrid/marinegrid/internal/vectorstore"
)

func newServeCmd(flags *flagSet) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the marinegrid daemon: ingest telemetry, watch for divergence, serve /healthz and /metrics",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd, flags)
		},
	}
}

func runServe(cmd *cobra.Command, flags *flagSet) error {
	cfg, err := config.Load(flags.configPath, cmd.Flags())
	if err != nil {
		return fmt.Errorf("serve: load config: %w", err)
	}

	log := logging.New(logging.Config{Level: flags.logLevel, Pretty: flags.logPretty})
	log.Info().Str("version", buildVersion).Msg("starting marinegrid")

	bus := eventbus.New(log)
	collectors, registry := metrics.New()

	db, err := sql.Open("sqlite", flags.sqliteDSN)
	if err != nil {
		return fmt.Errorf("serve: open sqlite %s: %w", flags.sqliteDSN, err)
	}
	defer db.Close()

	store := vectorstore.NewManager(vectorstore.Config{
		SQLiteDSN: flags.sqliteDSN,
		RedisAddr: flags.redisAddr,
	}, log)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := store.Init(ctx); err != nil {
		return fmt.Errorf("serve: init pattern store: %w", err)
	}

	seeds := seedstore.NewManager(
		seedstore.FreshnessThresholds{
			FreshUpTo: hours(cfg.Seed.FreshnessBucketsH.FreshH),
			StaleUpTo: hours(cfg.Seed.FreshnessBucketsH.StaleH),
		},
		log,
	)

	matcher := patternmatcher.NewManager(store, patternmatcher.Config{
		EnabledCategories: cfg.EnabledCategories,
		Cooldown:          time.Duration(cfg.AlertCooldownMs) * time.Millisecond,
	}, log)

	truth := truthchecker.NewManager(seeds, truthchecker.DefaultConfig(), log)

	em := emergency.NewManager(emergency.Config{
		AutoRecovery: cfg.Emergency.AutoRecovery,
		Thresholds: emergency.Thresholds{
			Elevated: cfg.Emergency.TSSThresholds.Elevated,
			High:     cfg.Emergency.TSSThresholds.High,
			Critical: cfg.Emergency.TSSThresholds.Critical,
			AutoExit: cfg.Emergency.TSSThresholds.Elevated - 5,
		},
	}, bus, log)

	snapshotStore, err := newFileSnapshotStore(flags.snapshotDir)
	if err != nil {
		return fmt.Errorf("serve: init snapshot store: %w", err)
	}

	outboxCfg := outbox.DefaultConfig()
	outboxCfg.BatteryFloor = cfg.Outbox.MinBattery

	env := newLiveEnvironment(em, 1.0)

	var uploader outbox.Uploader
	if flags.uploadURL != "" {
		uploader = newHTTPUploader(flags.uploadURL)
	} else {
		uploader = noopUploader{}
		log.Warn().Msg("no --upload-url configured, captured snapshots will accumulate undelivered")
	}

	ob, err := outbox.NewManager(ctx, db, env, uploader, outboxCfg, bus, log)
	if err != nil {
		return fmt.Errorf("serve: init outbox: %w", err)
	}

	div := divergence.NewManager(snapshotStore, ob, divergence.Config{AppVersion: buildVersion}, log)

	telemetryMgr := telemetry.NewManager(log)
	telemetrySvc := telemetry.NewService(log)
	telemetrySvc.SetSource(telemetry.SourceMock, newStdinSource())
	defer telemetrySvc.Stop()

	eng := engine.NewEngine(engine.Dependencies{
		Telemetry:  telemetryMgr,
		Matcher:    matcher,
		Truth:      truth,
		Emergency:  em,
		Divergence: div,
		Outbox:     ob,
		Seeds:      seeds,
		Bus:        bus,
	}, engine.DefaultConfig(), log)
	defer eng.Shutdown()

	httpServer := &http.Server{
		Addr:    flags.httpAddr,
		Handler: newRouter(em, ob, registry, log),
	}

	metricsSub := bus.Subscribe("metrics")
	defer bus.Unsubscribe("metrics")
	go consumeMetricsEvents(ctx, metricsSub, collectors)

	go func() {
		log.Info().Str("addr", flags.httpAddr).Msg("http surface listening")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("http server stopped unexpectedly")
		}
	}()

	tickInterval := time.Duration(cfg.CheckIntervalMs) * time.Millisecond
	if tickInterval <= 0 {
		tickInterval = 30 * time.Second
	}

	go runSensorLoop(ctx, telemetrySvc, eng, log)
	go runBackgroundTicker(ctx, eng, tickInterval, log)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	log.Info().Msg("shutdown signal received")

	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("http server shutdown did not complete cleanly")
	}

	return nil
}

func hours(h float64) time.Duration {
	return time.Duration(h * float64(time.Hour))
}

// runSensorLoop feeds every raw envelope the active telemetry source
// produces through the engine's single-threaded pipeline.
func runSensorLoop(ctx context.Context, svc *telemetry.Service, eng engine.Engine, log zerolog.Logger) {
	for {
		select {
		case <-ctx.Done():
			return
		case raw := <-svc.Deltas():
			if _, err := eng.HandleSensorDelta(ctx, raw, time.Now()); err != nil {
				log.Warn().Err(err).Msg("sensor delta handling failed")
			}
		}
	}
}

// runBackgroundTicker drives RunBackgroundTick on a fixed interval,
// independent of sensor traffic, matching the teacher's
// runPollingScheduler ticker-goroutine shape.
func runBackgroundTicker(ctx context.Context, eng engine.Engine, interval time.Duration, log zerolog.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case t := <-ticker.C:
			if err := eng.RunBackgroundTick(ctx, t); err != nil {
				log.Warn().Err(err).Msg("background tick failed")
			}
		}
	}
}

// consumeMetricsEvents bridges eventbus.Event into the Prometheus
// collectors, the one subscriber every deployment always runs.
func consumeMetricsEvents(ctx context.Context, events <-chan eventbus.Event, c *metrics.Collectors) {
	phases := []string{
		string(emergency.PhaseNormal), string(emergency.PhaseDetecting),
		string(emergency.PhaseConfirming), string(emergency.PhaseEmergency),
		string(emergency.PhaseRecovering),
	}
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			switch {
			case ev.PhaseChanged != nil:
				c.SetPhase(phases, ev.PhaseChanged.To)
			case ev.AlertRaised != nil:
				c.AlertsFired.WithLabelValues(ev.AlertRaised.Level).Inc()
			case ev.SeedStateChanged != nil:
				for _, b := range []string{"fresh", "stale", "expired"} {
					v := 0.0
					if b == ev.SeedStateChanged.Freshness {
						v = 1.0
					}
					c.SeedFreshness.WithLabelValues(b).Set(v)
				}
			case ev.DivergenceCaptured != nil:
				c.DivergenceCaptured.WithLabelValues(ev.DivergenceCaptured.Severity).Inc()
			case ev.OutboxProgress != nil:
				c.OutboxUploaded.Add(float64(ev.OutboxProgress.Uploaded))
				c.OutboxPending.Set(float64(ev.OutboxProgress.Pending))
				c.OutboxFailed.Set(float64(ev.OutboxProgress.Failed))
			}
		}
	}
}

// noopUploader is the fallback Uploader when no upload endpoint is
// configured: every upload fails, so entries are retried on each run
// until they reach the outbox's attempt ceiling and are marked failed,
// rather than the daemon refusing to start.
type noopUploader struct{}

func (noopUploader) Upload(ctx context.Context, entry outbox.Entry) error {
	return fmt.Errorf("serve: no upload endpoint configured")
}
