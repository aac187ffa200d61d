package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand/v2"
	"strings"
	"sync"
	"time"

	orderedmap "github.com/wk8/go-ordered-map/v2"
	"github.com/xeipuuv/gojsonschema"
)

// Env carries the sources of nondeterminism a built-in tool may use.
type Env struct {
	Now  func() time.Time
	Rand *rand.Rand
}

type Factory func(env Env) Tool

type factoryEntry struct {
	description string
	factory     Factory
}

var (
	regMu     sync.RWMutex
	factories = orderedmap.New[string, factoryEntry]()
)

// RegisterTool adds a built-in tool to the set every new Registry starts with.
func RegisterTool(name, description string, factory Factory) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return fmt.Errorf("tool name is required")
	}
	if factory == nil {
		return fmt.Errorf("tool factory is required")
	}
	regMu.Lock()
	defer regMu.Unlock()
	if _, exists := factories.Get(name); exists {
		return fmt.Errorf("tool %q already registered", name)
	}
	factories.Set(name, factoryEntry{description: strings.TrimSpace(description), factory: factory})
	return nil
}

func MustRegisterTool(name, description string, factory Factory) {
	if err := RegisterTool(name, description, factory); err != nil {
		panic(err)
	}
}

// ToolNames lists the built-in tool ids in registration order.
func ToolNames() []string {
	regMu.RLock()
	defer regMu.RUnlock()
	out := make([]string, 0, factories.Len())
	for pair := factories.Oldest(); pair != nil; pair = pair.Next() {
		out = append(out, pair.Key)
	}
	return out
}

// Recorder receives one notification per tool invocation.
type Recorder interface {
	RecordTool(id string)
	ToolCount(id string) int
}

type Descriptor struct {
	ID          string `json:"id"`
	Description string `json:"description,omitempty"`
	Count       int    `json:"invocationCount"`
}

type registeredTool struct {
	tool   Tool
	schema *gojsonschema.Schema
}

// Registry owns the tools of one session and their invocation counters.
type Registry struct {
	mu       sync.RWMutex
	tools    *orderedmap.OrderedMap[string, registeredTool]
	recorder Recorder
	env      Env
}

type Option func(*Registry)

func WithRecorder(r Recorder) Option {
	return func(reg *Registry) {
		if r != nil {
			reg.recorder = r
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(reg *Registry) {
		if now != nil {
			reg.env.Now = now
		}
	}
}

func WithRand(r *rand.Rand) Option {
	return func(reg *Registry) {
		if r != nil {
			reg.env.Rand = r
		}
	}
}

// NewRegistry builds a registry holding every built-in tool.
func NewRegistry(opts ...Option) *Registry {
	reg := &Registry{
		tools:    orderedmap.New[string, registeredTool](),
		recorder: newCounter(),
		env: Env{
			Now:  time.Now,
			Rand: rand.New(rand.NewPCG(uint64(time.Now().UnixNano()), rand.Uint64())),
		},
	}
	for _, opt := range opts {
		opt(reg)
	}

	regMu.RLock()
	entries := make([]factoryEntry, 0, factories.Len())
	for pair := factories.Oldest(); pair != nil; pair = pair.Next() {
		entries = append(entries, pair.Value)
	}
	regMu.RUnlock()

	for _, e := range entries {
		if err := reg.Register(e.factory(reg.env)); err != nil {
			panic(err)
		}
	}
	return reg
}

func (r *Registry) Register(tool Tool) error {
	if tool == nil {
		return fmt.Errorf("tool is required")
	}
	def := tool.Definition()
	name := strings.TrimSpace(def.Name)
	if name == "" {
		return fmt.Errorf("tool name is required")
	}
	entry := registeredTool{tool: tool}
	if len(def.JSONSchema) > 0 {
		schema, err := gojsonschema.NewSchema(gojsonschema.NewGoLoader(def.JSONSchema))
		if err != nil {
			return fmt.Errorf("invalid schema for tool %q: %w", name, err)
		}
		entry.schema = schema
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tools.Get(name); exists {
		return fmt.Errorf("tool %q already registered", name)
	}
	r.tools.Set(name, entry)
	return nil
}

func (r *Registry) Has(id string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.tools.Get(id)
	return ok
}

// Execute runs the tool and always returns displayable text. The invocation
// counter is bumped once per call to a known tool, whether or not it succeeds.
func (r *Registry) Execute(ctx context.Context, id string, args json.RawMessage) (out string) {
	r.mu.RLock()
	entry, ok := r.tools.Get(id)
	r.mu.RUnlock()
	if !ok {
		return fmt.Sprintf("Error: unknown tool %q", id)
	}
	r.recorder.RecordTool(id)
	defer func() {
		if p := recover(); p != nil {
			out = fmt.Sprintf("Error: %s failed: %v", id, p)
		}
	}()

	if len(strings.TrimSpace(string(args))) == 0 || strings.TrimSpace(string(args)) == "null" {
		args = json.RawMessage(`{}`)
	}
	if entry.schema != nil {
		if msg := validateArgs(entry.schema, args); msg != "" {
			return fmt.Sprintf("Error: invalid arguments for %s: %s", id, msg)
		}
	}

	res, err := entry.tool.Execute(ctx, args)
	if err != nil {
		return "Error: " + err.Error()
	}
	return res
}

func validateArgs(schema *gojsonschema.Schema, args json.RawMessage) string {
	result, err := schema.Validate(gojsonschema.NewBytesLoader(args))
	if err != nil {
		return err.Error()
	}
	if result.Valid() {
		return ""
	}
	msgs := make([]string, 0, len(result.Errors()))
	for _, e := range result.Errors() {
		msgs = append(msgs, e.String())
	}
	return strings.Join(msgs, "; ")
}

// Catalog lists the registered tools with their current counters.
func (r *Registry) Catalog() []Descriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Descriptor, 0, r.tools.Len())
	for pair := r.tools.Oldest(); pair != nil; pair = pair.Next() {
		out = append(out, Descriptor{
			ID:          pair.Key,
			Description: pair.Value.tool.Definition().Description,
			Count:       r.recorder.ToolCount(pair.Key),
		})
	}
	return out
}

func (r *Registry) Schema(id string) (map[string]any, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entry, ok := r.tools.Get(id)
	if !ok {
		return nil, false
	}
	return entry.tool.Definition().JSONSchema, true
}

type counter struct {
	mu     sync.Mutex
	counts map[string]int
}

func newCounter() *counter {
	return &counter{counts: map[string]int{}}
}

func (c *counter) RecordTool(id string) {
	c.mu.Lock()
	c.counts[id]++
	c.mu.Unlock()
}

func (c *counter) ToolCount(id string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.counts[id]
}
