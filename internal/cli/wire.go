package cli

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/PipeOpsHQ/sai/internal/config"
	"github.com/PipeOpsHQ/sai/observe"
	otelsink "github.com/PipeOpsHQ/sai/observe/otel"
	observestore "github.com/PipeOpsHQ/sai/observe/store"
	journalsqlite "github.com/PipeOpsHQ/sai/observe/store/sqlite"
	"github.com/PipeOpsHQ/sai/runtimeconfig"
	"github.com/PipeOpsHQ/sai/session"
	"github.com/PipeOpsHQ/sai/state"
	statefactory "github.com/PipeOpsHQ/sai/state/factory"
)

type app struct {
	cfg     config.Config
	logger  zerolog.Logger
	store   state.Store
	hub     *observe.Hub
	session *session.Session
	tp      *sdktrace.TracerProvider
	journal observestore.Store
	// journalSink queues journal writes off the session goroutine.
	journalSink *observe.AsyncSink
}

// loadConfig layers defaults, the environment (after the dotenv file), the
// optional profile file and finally command line flags.
func loadConfig(opts *rootOptions) (config.Config, error) {
	if err := config.LoadDotEnv(opts.envFile); err != nil {
		return config.Config{}, err
	}
	cfg := config.FromEnv()
	if strings.TrimSpace(opts.configPath) != "" {
		profile, err := runtimeconfig.Load(opts.configPath)
		if err != nil {
			return config.Config{}, err
		}
		cfg = profile.Apply(cfg)
	}
	if v := strings.TrimSpace(opts.model); v != "" {
		cfg.Model = v
	}
	if v := strings.TrimSpace(opts.sessionID); v != "" {
		cfg.SessionID = v
	}
	if v := strings.TrimSpace(opts.stateBackend); v != "" {
		cfg.State.Backend = strings.ToLower(v)
	}
	if v := strings.TrimSpace(opts.logLevel); v != "" {
		cfg.LogLevel = v
	}
	if err := cfg.Validate(); err != nil {
		return config.Config{}, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func wireApp(ctx context.Context, opts *rootOptions, d deps) (*app, error) {
	cfg, err := loadConfig(opts)
	if err != nil {
		return nil, err
	}
	logger := newLogger(d.logOutput, cfg.LogLevel)

	provider, err := d.newProvider(ctx, cfg)
	if err != nil {
		return nil, err
	}
	store, err := statefactory.FromConfig(ctx, cfg.State, logger)
	if err != nil {
		return nil, fmt.Errorf("open state store: %w", err)
	}

	a := &app{cfg: cfg, logger: logger, store: store, hub: observe.NewHub(200)}
	sinks := []observe.Sink{observe.NewLogSink(logger), a.hub}
	if opts.trace {
		a.tp = otelsink.NewTracerProvider(logger)
		sinks = append(sinks, otelsink.NewSink(a.tp))
		metrics, err := otelsink.NewMetricsSink(otel.GetMeterProvider())
		if err != nil {
			_ = a.Close()
			return nil, fmt.Errorf("create metrics sink: %w", err)
		}
		sinks = append(sinks, metrics)
	}
	if cfg.EventsPath != "" {
		journal, err := journalsqlite.New(cfg.EventsPath)
		if err != nil {
			_ = a.Close()
			return nil, fmt.Errorf("open event journal: %w", err)
		}
		a.journal = journal
		a.journalSink = observe.NewAsyncSink(observestore.Sink(journal), 512)
		sinks = append(sinks, a.journalSink)
	}

	sessOpts := append(session.FromConfig(cfg),
		session.WithLogger(logger),
		session.WithSink(observe.NewMultiSink(sinks...)),
	)
	if store != nil {
		sessOpts = append(sessOpts, session.WithStore(store))
	}
	sess, err := session.New(provider, sessOpts...)
	if err != nil {
		_ = a.Close()
		return nil, err
	}
	a.session = sess

	if store != nil && cfg.SessionID != "" {
		if _, err := sess.RestoreSettings(ctx); err != nil && !errors.Is(err, state.ErrNotFound) {
			logger.Warn().Err(err).Str("session", cfg.SessionID).Msg("could not restore saved settings")
		}
	}
	return a, nil
}

func (a *app) Close() error {
	var errs []error
	if a.session != nil {
		errs = append(errs, a.session.Close())
	}
	if a.journalSink != nil {
		a.journalSink.Close()
	}
	if a.journal != nil {
		errs = append(errs, a.journal.Close())
	}
	if a.tp != nil {
		errs = append(errs, a.tp.Shutdown(context.Background()))
	}
	if a.store != nil {
		errs = append(errs, a.store.Close())
	}
	return errors.Join(errs...)
}

// openStore opens only the state store, for commands that never talk to the
// model.
func openStore(ctx context.Context, opts *rootOptions, d deps) (state.Store, zerolog.Logger, error) {
	cfg, err := loadConfig(opts)
	if err != nil {
		return nil, zerolog.Nop(), err
	}
	logger := newLogger(d.logOutput, cfg.LogLevel)
	store, err := statefactory.FromConfig(ctx, cfg.State, logger)
	if err != nil {
		return nil, logger, fmt.Errorf("open state store: %w", err)
	}
	if store == nil {
		return nil, logger, fmt.Errorf("templates need a state backend; set SAI_STATE_BACKEND or --state-backend")
	}
	return store, logger, nil
}
