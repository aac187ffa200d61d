package factory

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/PipeOpsHQ/sai/internal/config"
	"github.com/PipeOpsHQ/sai/llm"
	geminiprov "github.com/PipeOpsHQ/sai/providers/gemini"
)

// FromConfig builds the Gemini provider from resolved runtime settings.
func FromConfig(ctx context.Context, cfg config.Config) (llm.Provider, error) {
	key := strings.TrimSpace(cfg.APIKey)
	if key == "" {
		return nil, fmt.Errorf("GEMINI_API_KEY is required (set it in the environment or a .env file)")
	}
	opts := []geminiprov.Option{
		geminiprov.WithModel(cfg.Model),
		geminiprov.WithHTTPClient(&http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport)}),
	}
	if strings.TrimSpace(cfg.BaseURL) != "" {
		opts = append(opts, geminiprov.WithBaseURL(cfg.BaseURL))
	}
	return geminiprov.New(ctx, key, opts...)
}

func FromEnv(ctx context.Context) (llm.Provider, error) {
	return FromConfig(ctx, config.FromEnv())
}
