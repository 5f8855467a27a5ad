// Command step-sensor tracks daily steps and water intake against goals and
// publishes achievements to MQTT and NATS.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sweeney/step-sensor/internal/config"
	"github.com/sweeney/step-sensor/internal/logging"
	"github.com/sweeney/step-sensor/internal/logic"
	"github.com/sweeney/step-sensor/internal/metrics"
	"github.com/sweeney/step-sensor/internal/mqtt"
	"github.com/sweeney/step-sensor/internal/natsbus"
	"github.com/sweeney/step-sensor/internal/notify"
	"github.com/sweeney/step-sensor/internal/sensor"
	"github.com/sweeney/step-sensor/internal/session"
	"github.com/sweeney/step-sensor/internal/status"
	"github.com/sweeney/step-sensor/internal/store"
	"github.com/sweeney/step-sensor/internal/web"
)

// Version is set at build time with -ldflags.
var Version = "dev"

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// flags holds command-line overrides. Zero values leave the file or
// default value in place.
type flags struct {
	configPath string
	sensorKind string
	dsn        string
	broker     string
	natsURL    string
	httpAddr   string
	stepsGoal  int64
	waterGoal  int64
	logLevel   string
}

func rootCmd() *cobra.Command {
	var f flags

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Run the step sensor daemon",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd, f)
			if err != nil {
				return err
			}
			return run(cfg)
		},
	}

	cmd := &cobra.Command{
		Use:           "step-sensor",
		Short:         "Daily step and water goal tracker",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          runCmd.RunE,
	}

	pf := cmd.PersistentFlags()
	pf.StringVarP(&f.configPath, "config", "c", "", "YAML config file")
	pf.StringVar(&f.dsn, "store", "", "sqlite path or postgres:// URL")
	pf.StringVar(&f.logLevel, "log-level", "", "log level (debug, info, warn, error)")
	pf.StringVar(&f.sensorKind, "sensor", "", "step source (iio, gpio, fake)")
	pf.StringVar(&f.broker, "broker", "", `MQTT broker address ("off" disables)`)
	pf.StringVar(&f.natsURL, "nats", "", "NATS server URL")
	pf.StringVar(&f.httpAddr, "http", "", `HTTP status address ("off" disables)`)
	pf.Int64Var(&f.stepsGoal, "steps-goal", 0, "daily step goal")
	pf.Int64Var(&f.waterGoal, "water-goal", 0, "daily water goal in ml")

	cmd.AddCommand(runCmd, stateCmd(&f), &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "step-sensor %s\n", Version)
		},
	})
	return cmd
}

// stateCmd prints the persisted state and exits.
func stateCmd(f *flags) *cobra.Command {
	return &cobra.Command{
		Use:   "state",
		Short: "Print today's persisted progress and exit",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd, *f)
			if err != nil {
				return err
			}
			st, err := store.Open(cfg.Store.DSN)
			if err != nil {
				return fmt.Errorf("open store: %w", err)
			}
			defer st.Close()
			return printState(cmd.Context(), cmd.OutOrStdout(), st, cfg.GoalsValue(), time.Now)
		},
	}
}

func printState(ctx context.Context, w io.Writer, st store.Store, goals logic.Goals, now func() time.Time) error {
	if ctx == nil {
		ctx = context.Background()
	}
	sess := session.New(session.Config{Goals: goals, Store: st, Now: now})
	defer sess.Close()
	sess.Restore(ctx)

	state := sess.Snapshot()
	out := struct {
		Summary    logic.DaySummary `json:"today"`
		Baseline   logic.Baseline   `json:"baseline"`
		SensorRaw  int64            `json:"sensor_raw"`
		StepsLatch logic.Latch      `json:"steps_latch"`
		WaterLatch logic.Latch      `json:"water_latch"`
	}{
		Summary:    sess.Summary(),
		Baseline:   state.Baseline,
		SensorRaw:  state.LastRaw,
		StepsLatch: state.StepsLatch,
		WaterLatch: state.WaterLatch,
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}

// loadConfig reads the config file (if any), applies flag overrides and
// validates the result.
func loadConfig(cmd *cobra.Command, f flags) (*config.Config, error) {
	cfg := config.DefaultConfig()
	if f.configPath != "" {
		var err error
		if cfg, err = config.LoadFromFile(f.configPath); err != nil {
			return nil, err
		}
	}
	applyFlags(cfg, cmd, f)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyFlags(cfg *config.Config, cmd *cobra.Command, f flags) {
	changed := func(name string) bool {
		return cmd != nil && cmd.Flags().Changed(name)
	}
	if changed("sensor") {
		cfg.Sensor.Kind = f.sensorKind
	}
	if changed("store") {
		cfg.Store.DSN = f.dsn
	}
	if changed("broker") {
		cfg.Notify.MQTTBroker = offToEmpty(f.broker)
	}
	if changed("nats") {
		cfg.Notify.NATSURL = f.natsURL
	}
	if changed("http") {
		cfg.HTTPAddr = offToEmpty(f.httpAddr)
	}
	if changed("steps-goal") {
		cfg.Goals.Steps = f.stepsGoal
	}
	if changed("water-goal") {
		cfg.Goals.WaterML = f.waterGoal
	}
	if changed("log-level") {
		cfg.Log.Level = f.logLevel
	}
}

func offToEmpty(s string) string {
	if s == "off" {
		return ""
	}
	return s
}

func run(cfg *config.Config) error {
	logger, err := logging.New(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		return fmt.Errorf("init logging: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	st, err := store.Open(cfg.Store.DSN)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	tracker := status.NewTracker(time.Now(), status.Config{
		SensorKind:  cfg.Sensor.Kind,
		RefreshMs:   cfg.Refresh.Milliseconds(),
		HeartbeatMs: cfg.Heartbeat.Milliseconds(),
		Broker:      cfg.Notify.MQTTBroker,
		NATSURL:     cfg.Notify.NATSURL,
		Store:       storeKind(cfg.Store.DSN),
		HTTPAddr:    cfg.HTTPAddr,
	})
	m := metrics.New()

	pub, conn, err := openPublishers(cfg, tracker, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := pub.Close(); err != nil {
			logger.Warn("close publishers", zap.Error(err))
		}
	}()

	sess := session.New(session.Config{
		Goals:     cfg.GoalsValue(),
		Store:     st,
		Publisher: pub,
		Status:    tracker,
		Metrics:   m,
		Logger:    logger,
	})
	defer sess.Close()
	sess.Restore(context.Background())

	src := newSource(cfg, sess.Snapshot().LastRaw, logger)

	snap := tracker.Snapshot()
	startup := notify.SystemEvent{
		Timestamp:  snap.Now,
		Event:      notify.EventStartup,
		Retained:   true,
		RawPayload: status.FormatStatusEvent(snap, notify.EventStartup, ""),
	}
	if err := pub.PublishSystem(startup); err != nil {
		logger.Warn("publish startup event failed", zap.Error(err))
	}

	cmds := make(chan command)
	stopped := make(chan struct{})

	if cfg.HTTPAddr != "" {
		srv := web.New(cfg.HTTPAddr, tracker, &controller{cmds: cmds, stopped: stopped}, m.Handler(), logger)
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("http server error", zap.Error(err))
			}
		}()
		defer func() {
			if err := stopHTTP(srv, stopped, 5*time.Second); err != nil {
				logger.Warn("http shutdown", zap.Error(err))
			}
		}()
		logger.Info("http status server listening", zap.String("addr", cfg.HTTPAddr))
	}

	logger.Info("started",
		zap.String("sensor", cfg.Sensor.Kind),
		zap.Int64("steps_goal", cfg.Goals.Steps),
		zap.Int64("water_goal_ml", cfg.Goals.WaterML),
		zap.Duration("refresh", cfg.Refresh),
		zap.Duration("heartbeat", cfg.Heartbeat))

	refresh := time.NewTicker(cfg.Refresh)
	defer refresh.Stop()

	var heartbeat <-chan time.Time
	if cfg.Heartbeat > 0 {
		t := time.NewTicker(cfg.Heartbeat)
		defer t.Stop()
		heartbeat = t.C
	}

	var watchdog <-chan time.Time
	if cfg.Sensor.StaleAfter > 0 {
		t := time.NewTicker(cfg.Sensor.StaleAfter / 2)
		defer t.Stop()
		watchdog = t.C
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	return runLoop(loopConfig{
		Session:    sess,
		Source:     src,
		Publisher:  pub,
		Conn:       conn,
		Status:     tracker,
		Metrics:    m,
		Logger:     logger,
		Now:        time.Now,
		StaleAfter: cfg.Sensor.StaleAfter,
		Refresh:    refresh.C,
		Heartbeat:  heartbeat,
		Watchdog:   watchdog,
		Signals:    sigCh,
		Commands:   cmds,
	})
}

// stopHTTP shuts the server down once the run loop has exited. Closing
// stopped first fails queued controller calls immediately, so Shutdown
// does not wait on requests the loop will never serve.
func stopHTTP(srv *web.Server, stopped chan struct{}, timeout time.Duration) error {
	close(stopped)
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return srv.Shutdown(ctx)
}

// openPublishers connects the configured buses. With none configured the
// returned publisher discards everything.
func openPublishers(cfg *config.Config, tracker *status.Tracker, logger *zap.Logger) (notify.Multi, notify.ConnectionStatus, error) {
	var (
		pubs notify.Multi
		conn notify.ConnectionStatus
	)
	if cfg.Notify.MQTTBroker != "" {
		p, err := mqtt.NewRealPublisher(mqtt.Options{
			Broker:             cfg.Notify.MQTTBroker,
			Logger:             logger,
			OnConnectionChange: tracker.SetMQTTConnected,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("init mqtt: %w", err)
		}
		tracker.SetMQTTConnected(p.IsConnected())
		pubs = append(pubs, p)
		conn = p
	}
	if cfg.Notify.NATSURL != "" {
		p, err := natsbus.Connect(cfg.Notify.NATSURL, logger)
		if err != nil {
			_ = pubs.Close()
			return nil, nil, fmt.Errorf("init nats: %w", err)
		}
		pubs = append(pubs, p)
	}
	return pubs, conn, nil
}

// newSource builds the configured step source. The gpio counter resumes
// from the last persisted raw count so a restart is not mistaken for a
// sensor reset.
func newSource(cfg *config.Config, lastRaw int64, logger *zap.Logger) sensor.Source {
	switch cfg.Sensor.Kind {
	case config.SensorGPIO:
		return sensor.NewPulseCounter(cfg.Sensor.Chip, cfg.Sensor.Pin, lastRaw, cfg.Sensor.Debounce)
	case config.SensorFake:
		return sensor.NewFakeSource()
	default:
		return sensor.NewIIOPoller(cfg.Sensor.Path, cfg.Sensor.Poll, logger)
	}
}

func storeKind(dsn string) string {
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		return "postgres"
	}
	return "sqlite"
}
