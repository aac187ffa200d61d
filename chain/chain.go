// Package chain runs ordered prompt pipelines where each step's output feeds
// the next step's input.
package chain

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

var (
	ErrNoInstructions = errors.New("chain requires at least one instruction")
	ErrBlankStep      = errors.New("chain instructions must not be blank")
	ErrBlankInput     = errors.New("chain input must not be blank")
)

// Step records one completed chain step.
type Step struct {
	Index       int    `json:"index"`
	Instruction string `json:"instruction"`
	Input       string `json:"input"`
	Output      string `json:"output"`
}

// Run is a fully completed chain execution.
type Run struct {
	ID           string    `json:"id"`
	CreatedAt    time.Time `json:"createdAt"`
	Instructions []string  `json:"instructions"`
	InitialInput string    `json:"initialInput"`
	Steps        []Step    `json:"steps"`
	FinalOutput  string    `json:"finalOutput"`
}

// ChainStepError reports the 1-based step that failed.
type ChainStepError struct {
	Step int
	Err  error
}

func (e *ChainStepError) Error() string {
	return fmt.Sprintf("chain failed at step %d: %v", e.Step, e.Err)
}

func (e *ChainStepError) Unwrap() error { return e.Err }

// Sender issues one remote prompt and returns the model text.
type Sender interface {
	SendDirect(ctx context.Context, prompt string) (string, error)
}

type SenderFunc func(ctx context.Context, prompt string) (string, error)

func (f SenderFunc) SendDirect(ctx context.Context, prompt string) (string, error) {
	return f(ctx, prompt)
}

// Hooks observe step progress. Any field may be nil.
type Hooks struct {
	OnStart     func(runID string)
	OnStepStart func(step int, prompt string)
	OnStepDone  func(step Step)
}

type Executor struct {
	history *History
	now     func() time.Time
	newID   func() string
}

type Option func(*Executor)

func WithClock(now func() time.Time) Option {
	return func(e *Executor) {
		if now != nil {
			e.now = now
		}
	}
}

func WithIDGenerator(fn func() string) Option {
	return func(e *Executor) {
		if fn != nil {
			e.newID = fn
		}
	}
}

func NewExecutor(history *History, opts ...Option) *Executor {
	if history == nil {
		history = NewHistory(DefaultHistoryCapacity)
	}
	e := &Executor{
		history: history,
		now:     time.Now,
		newID:   uuid.NewString,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *Executor) History() *History { return e.history }

// Validate rejects inputs that cannot form a chain.
func Validate(instructions []string, initialInput string) error {
	if len(instructions) == 0 {
		return ErrNoInstructions
	}
	for i, in := range instructions {
		if strings.TrimSpace(in) == "" {
			return fmt.Errorf("%w: step %d", ErrBlankStep, i+1)
		}
	}
	if strings.TrimSpace(initialInput) == "" {
		return ErrBlankInput
	}
	return nil
}

// Run executes the instructions in order. A failing step aborts the chain and
// nothing is added to history; effects of earlier steps on the sender are
// kept.
func (e *Executor) Run(ctx context.Context, sender Sender, instructions []string, initialInput string, hooks Hooks) (Run, error) {
	if err := Validate(instructions, initialInput); err != nil {
		return Run{}, err
	}

	runID := e.newID()
	if hooks.OnStart != nil {
		hooks.OnStart(runID)
	}
	current := initialInput
	steps := make([]Step, 0, len(instructions))
	for i, instruction := range instructions {
		prompt := instruction + ": " + current
		if hooks.OnStepStart != nil {
			hooks.OnStepStart(i+1, prompt)
		}
		out, err := sender.SendDirect(ctx, prompt)
		if err != nil {
			return Run{}, &ChainStepError{Step: i + 1, Err: err}
		}
		step := Step{Index: i + 1, Instruction: instruction, Input: current, Output: out}
		steps = append(steps, step)
		if hooks.OnStepDone != nil {
			hooks.OnStepDone(step)
		}
		current = out
	}

	run := Run{
		ID:           runID,
		CreatedAt:    e.now().UTC(),
		Instructions: append([]string(nil), instructions...),
		InitialInput: initialInput,
		Steps:        steps,
		FinalOutput:  current,
	}
	e.history.Add(run)
	return run, nil
}
