// Package session is the conversational core: one Session owns its memory
// window, tool registry, analytics and chain history, and runs every
// operation on a single goroutine so sends and chains never interleave.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/PipeOpsHQ/sai/analytics"
	"github.com/PipeOpsHQ/sai/chain"
	"github.com/PipeOpsHQ/sai/intent"
	"github.com/PipeOpsHQ/sai/internal/config"
	"github.com/PipeOpsHQ/sai/llm"
	"github.com/PipeOpsHQ/sai/memory"
	"github.com/PipeOpsHQ/sai/observe"
	"github.com/PipeOpsHQ/sai/state"
	"github.com/PipeOpsHQ/sai/tools"
	"github.com/PipeOpsHQ/sai/types"
)

var (
	ErrClosed      = errors.New("session: closed")
	ErrNoStore     = errors.New("session: no state store configured")
	ErrEmptyPrompt = errors.New("session: prompt must not be blank")

	ErrInvalidSettings = errors.New("session: invalid settings")
)

type Session struct {
	id       string
	provider llm.Provider
	memory   *memory.Store
	registry *tools.Registry
	router   *intent.Router
	usage    *analytics.Usage
	chains   *chain.Executor
	store    state.Store
	sink     observe.Sink
	logger   zerolog.Logger
	now      func() time.Time
	settings Settings
	timeout  time.Duration
	toolOpts []tools.Option

	ops       chan func()
	quit      chan struct{}
	done      chan struct{}
	closeOnce sync.Once
}

type Option func(*Session)

func WithID(id string) Option {
	return func(s *Session) {
		if id != "" {
			s.id = id
		}
	}
}

// WithStore enables settings, template and chain run persistence.
func WithStore(store state.Store) Option {
	return func(s *Session) { s.store = store }
}

func WithSink(sink observe.Sink) Option {
	return func(s *Session) {
		if sink != nil {
			s.sink = sink
		}
	}
}

func WithLogger(logger zerolog.Logger) Option {
	return func(s *Session) { s.logger = logger }
}

func WithClock(now func() time.Time) Option {
	return func(s *Session) {
		if now != nil {
			s.now = now
		}
	}
}

func WithSettings(settings Settings) Option {
	return func(s *Session) { s.settings = settings }
}

// WithRequestTimeout bounds each remote call. Zero disables the bound.
func WithRequestTimeout(d time.Duration) Option {
	return func(s *Session) {
		if d >= 0 {
			s.timeout = d
		}
	}
}

func WithToolOptions(opts ...tools.Option) Option {
	return func(s *Session) { s.toolOpts = append(s.toolOpts, opts...) }
}

// FromConfig derives the session options carried by cfg.
func FromConfig(cfg config.Config) []Option {
	return []Option{
		WithID(cfg.SessionID),
		WithRequestTimeout(cfg.RequestTimeout),
		WithSettings(Settings{
			Model:         cfg.Model,
			Temperature:   cfg.Temperature,
			MaxTokens:     cfg.MaxTokens,
			TopP:          cfg.TopP,
			TopK:          cfg.TopK,
			MemoryEnabled: cfg.MemoryEnabled,
			MemoryWindow:  cfg.MemoryWindow,
		}),
	}
}

func New(provider llm.Provider, opts ...Option) (*Session, error) {
	if provider == nil {
		return nil, fmt.Errorf("provider is required")
	}
	s := &Session{
		id:       uuid.NewString(),
		provider: provider,
		sink:     observe.NoopSink{},
		logger:   zerolog.Nop(),
		now:      time.Now,
		settings: DefaultSettings(),
		timeout:  config.DefaultRequestTimeout,
		ops:      make(chan func()),
		quit:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	if err := s.settings.validate(); err != nil {
		return nil, err
	}

	s.usage = analytics.New(
		analytics.WithClock(s.now),
		analytics.WithTools(tools.ToolNames()...),
	)
	toolOpts := append([]tools.Option{tools.WithRecorder(s.usage), tools.WithClock(s.now)}, s.toolOpts...)
	s.registry = tools.NewRegistry(toolOpts...)
	s.router = intent.NewRouter(s.registry)
	s.memory = memory.New(s.settings.MemoryWindow, s.settings.MemoryEnabled, memory.WithClock(s.now))
	s.chains = chain.NewExecutor(chain.NewHistory(chain.DefaultHistoryCapacity), chain.WithClock(s.now))

	go s.loop()
	return s, nil
}

func (s *Session) ID() string { return s.id }

func (s *Session) loop() {
	defer close(s.done)
	for {
		select {
		case op := <-s.ops:
			op()
		case <-s.quit:
			return
		}
	}
}

// do runs fn on the session goroutine and waits for it to finish. A context
// that ends before fn is picked up aborts the call without running fn.
func (s *Session) do(ctx context.Context, fn func()) error {
	finished := make(chan struct{})
	op := func() {
		defer close(finished)
		fn()
	}
	select {
	case <-s.quit:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	case s.ops <- op:
	}
	<-finished
	return nil
}

// Close stops the session goroutine. Operations issued afterwards return
// ErrClosed. The state store is owned by the caller and is not closed.
func (s *Session) Close() error {
	s.closeOnce.Do(func() { close(s.quit) })
	<-s.done
	return nil
}

func (s *Session) emit(ctx context.Context, ev types.Event) {
	ev.SessionID = s.id
	if ev.Timestamp.IsZero() {
		ev.Timestamp = s.now().UTC()
	}
	if err := observe.EmitSession(ctx, s.sink, ev); err != nil {
		s.logger.Debug().Err(err).Str("event", string(ev.Type)).Msg("event sink rejected event")
	}
}

func (s *Session) elapsedMs(start time.Time) int64 {
	return s.now().Sub(start).Milliseconds()
}
