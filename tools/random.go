package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand/v2"
	"sync"
)

const (
	defaultRandomMin = 1
	defaultRandomMax = 100
)

type randomArgs struct {
	Min  *int   `json:"min,omitempty" jsonschema_description:"Lower bound, inclusive. Defaults to 1."`
	Max  *int   `json:"max,omitempty" jsonschema_description:"Upper bound, inclusive. Defaults to 100."`
	Mode string `json:"mode,omitempty" jsonschema:"enum=number,enum=decimal"`
}

func NewRandom(r *rand.Rand) Tool {
	if r == nil {
		r = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	var mu sync.Mutex
	return NewFuncTool(
		Random,
		"Generate a random integer in [min, max] or a random decimal in [0, 1).",
		SchemaFor[randomArgs](),
		func(ctx context.Context, args json.RawMessage) (string, error) {
			_ = ctx
			var in randomArgs
			if err := json.Unmarshal(args, &in); err != nil {
				return "", fmt.Errorf("invalid random args: %w", err)
			}

			mu.Lock()
			defer mu.Unlock()
			if in.Mode == "decimal" {
				return "Random decimal: " + FormatNumber(r.Float64()), nil
			}
			lo, hi := defaultRandomMin, defaultRandomMax
			if in.Min != nil {
				lo = *in.Min
			}
			if in.Max != nil {
				hi = *in.Max
			}
			if lo > hi {
				return "", fmt.Errorf("min must not exceed max")
			}
			return fmt.Sprintf("Random number: %d", drawInclusive(r, int64(lo), int64(hi))), nil
		},
	)
}

// drawInclusive returns a uniform value in [lo, hi]. The span is computed in
// uint64 so full-range bounds do not overflow; a span of 0 means all 2^64 values.
func drawInclusive(r *rand.Rand, lo, hi int64) int64 {
	span := uint64(hi-lo) + 1
	var off uint64
	if span == 0 {
		off = r.Uint64()
	} else {
		off = r.Uint64N(span)
	}
	return int64(uint64(lo) + off)
}
