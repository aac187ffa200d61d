package llm

import (
	"context"

	"github.com/PipeOpsHQ/sai/types"
)

// Provider issues a single generation request. Implementations do not retry.
type Provider interface {
	Name() string
	Generate(ctx context.Context, req types.Request) (types.Response, error)
}

type ProviderFunc func(ctx context.Context, req types.Request) (types.Response, error)

func (f ProviderFunc) Name() string { return "func" }

func (f ProviderFunc) Generate(ctx context.Context, req types.Request) (types.Response, error) {
	return f(ctx, req)
}
