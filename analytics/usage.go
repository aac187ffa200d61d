// Package analytics accumulates request outcomes and tool invocations for a
// session and derives the summary shown to users.
package analytics

import (
	"math"
	"sync"
	"time"

	orderedmap "github.com/wk8/go-ordered-map/v2"
)

const dateLayout = "2006-01-02"

// Outcome is the result of one remote request.
type Outcome struct {
	Succeeded      bool   `json:"succeeded"`
	LatencyMs      int64  `json:"latencyMs"`
	TokensConsumed int    `json:"tokensConsumed"`
	ErrorDetail    string `json:"errorDetail,omitempty"`
}

// DailyUsage counts successful requests for one local calendar date.
type DailyUsage struct {
	Date     string `json:"date"`
	Requests int    `json:"requests"`
}

// Usage is safe for concurrent use.
type Usage struct {
	mu                 sync.Mutex
	totalRequests      int
	successfulRequests int
	totalLatencyMs     int64
	tokensUsed         int
	tools              *orderedmap.OrderedMap[string, int]
	daily              []DailyUsage
	now                func() time.Time
}

type Option func(*Usage)

func WithClock(now func() time.Time) Option {
	return func(u *Usage) {
		if now != nil {
			u.now = now
		}
	}
}

// WithTools pre-seeds tool counters so reports list them in this order even
// before first use.
func WithTools(ids ...string) Option {
	return func(u *Usage) {
		for _, id := range ids {
			if _, ok := u.tools.Get(id); !ok {
				u.tools.Set(id, 0)
			}
		}
	}
}

func New(opts ...Option) *Usage {
	u := &Usage{
		tools: orderedmap.New[string, int](),
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(u)
	}
	return u
}

// Record folds one remote request outcome into the totals. Latency counts for
// failures too; tokens and the daily log only move on success.
func (u *Usage) Record(o Outcome) {
	u.mu.Lock()
	defer u.mu.Unlock()

	u.totalRequests++
	u.totalLatencyMs += o.LatencyMs
	if !o.Succeeded {
		return
	}
	u.successfulRequests++
	u.tokensUsed += o.TokensConsumed

	today := u.now().Local().Format(dateLayout)
	for i := range u.daily {
		if u.daily[i].Date == today {
			u.daily[i].Requests++
			return
		}
	}
	u.daily = append(u.daily, DailyUsage{Date: today, Requests: 1})
}

func (u *Usage) RecordTool(id string) {
	u.mu.Lock()
	defer u.mu.Unlock()
	n, _ := u.tools.Get(id)
	u.tools.Set(id, n+1)
}

func (u *Usage) ToolCount(id string) int {
	u.mu.Lock()
	defer u.mu.Unlock()
	n, _ := u.tools.Get(id)
	return n
}

// Report is a point-in-time view of the usage counters.
type Report struct {
	TotalRequests      int                                 `json:"totalRequests"`
	SuccessfulRequests int                                 `json:"successfulRequests"`
	TotalLatencyMs     int64                               `json:"totalLatencyMs"`
	TokensUsed         int                                 `json:"tokensUsed"`
	AverageLatencyMs   int64                               `json:"averageLatencyMs"`
	SuccessRatePercent int                                 `json:"successRatePercent"`
	ToolUsage          *orderedmap.OrderedMap[string, int] `json:"toolUsage"`
	DailyUsage         []DailyUsage                        `json:"dailyUsage"`
}

func (u *Usage) Report() Report {
	u.mu.Lock()
	defer u.mu.Unlock()

	r := Report{
		TotalRequests:      u.totalRequests,
		SuccessfulRequests: u.successfulRequests,
		TotalLatencyMs:     u.totalLatencyMs,
		TokensUsed:         u.tokensUsed,
		SuccessRatePercent: 100,
		ToolUsage:          orderedmap.New[string, int](),
		DailyUsage:         append([]DailyUsage{}, u.daily...),
	}
	if u.totalRequests > 0 {
		r.AverageLatencyMs = int64(math.Round(float64(u.totalLatencyMs) / float64(u.totalRequests)))
		r.SuccessRatePercent = int(math.Round(float64(u.successfulRequests) / float64(u.totalRequests) * 100))
	}
	for pair := u.tools.Oldest(); pair != nil; pair = pair.Next() {
		r.ToolUsage.Set(pair.Key, pair.Value)
	}
	return r
}

// RecentDays returns at most the last n daily entries.
func (r Report) RecentDays(n int) []DailyUsage {
	if n <= 0 {
		return []DailyUsage{}
	}
	if len(r.DailyUsage) <= n {
		return r.DailyUsage
	}
	return r.DailyUsage[len(r.DailyUsage)-n:]
}
