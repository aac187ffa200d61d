package gemini

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/http"
	"strings"

	"google.golang.org/genai"

	"github.com/PipeOpsHQ/sai/llm"
	"github.com/PipeOpsHQ/sai/types"
)

const defaultModel = "gemini-1.5-flash"

type Client struct {
	client     *genai.Client
	model      string
	baseURL    string
	httpClient *http.Client
}

type Option func(*Client)

func WithModel(model string) Option {
	return func(c *Client) {
		if strings.TrimSpace(model) != "" {
			c.model = strings.TrimSpace(model)
		}
	}
}

// WithBaseURL points the client at a different Generative Language endpoint.
func WithBaseURL(baseURL string) Option {
	return func(c *Client) { c.baseURL = strings.TrimSpace(baseURL) }
}

func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) {
		if h != nil {
			c.httpClient = h
		}
	}
}

func New(ctx context.Context, apiKey string, opts ...Option) (*Client, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, fmt.Errorf("GEMINI_API_KEY is required")
	}
	c := &Client{model: defaultModel}
	for _, opt := range opts {
		opt(c)
	}

	cfg := &genai.ClientConfig{
		APIKey:     apiKey,
		Backend:    genai.BackendGeminiAPI,
		HTTPClient: c.httpClient,
	}
	if c.baseURL != "" {
		cfg.HTTPOptions = genai.HTTPOptions{BaseURL: c.baseURL}
	}
	gc, err := genai.NewClient(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create gemini client: %w", err)
	}
	c.client = gc
	return c, nil
}

func (c *Client) Name() string { return "gemini" }

func (c *Client) Model() string { return c.model }

func (c *Client) Generate(ctx context.Context, req types.Request) (types.Response, error) {
	model := c.model
	if req.Model != "" {
		model = req.Model
	}

	resp, err := c.client.Models.GenerateContent(ctx, model, toGeminiContents(req.Messages), toGenerateConfig(req.Generation))
	if err != nil {
		return types.Response{}, toTransportError(err)
	}
	return parseGeminiResponse(resp)
}

func toGenerateConfig(g types.GenerationConfig) *genai.GenerateContentConfig {
	config := &genai.GenerateContentConfig{
		Temperature: genai.Ptr(float32(g.Temperature)),
	}
	if g.MaxOutputTokens > 0 {
		config.MaxOutputTokens = clampInt32(g.MaxOutputTokens)
	}
	if g.TopP > 0 {
		config.TopP = genai.Ptr(float32(g.TopP))
	}
	if g.TopK > 0 {
		config.TopK = genai.Ptr(float32(g.TopK))
	}
	return config
}

func toTransportError(err error) error {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return &llm.TransportError{
			StatusCode: apiErr.Code,
			Status:     apiErr.Status,
			Message:    strings.TrimSpace(apiErr.Message),
			Err:        err,
		}
	}
	var apiErrPtr *genai.APIError
	if errors.As(err, &apiErrPtr) && apiErrPtr != nil {
		return &llm.TransportError{
			StatusCode: apiErrPtr.Code,
			Status:     apiErrPtr.Status,
			Message:    strings.TrimSpace(apiErrPtr.Message),
			Err:        err,
		}
	}
	return &llm.TransportError{Err: err}
}

func parseGeminiResponse(resp *genai.GenerateContentResponse) (types.Response, error) {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0] == nil || resp.Candidates[0].Content == nil {
		if resp != nil && resp.PromptFeedback != nil && strings.TrimSpace(resp.PromptFeedback.BlockReasonMessage) != "" {
			return types.Response{}, fmt.Errorf("%w: %s", llm.ErrEmptyResponse, strings.TrimSpace(resp.PromptFeedback.BlockReasonMessage))
		}
		return types.Response{}, llm.ErrEmptyResponse
	}

	var text strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if part == nil || part.Thought {
			continue
		}
		text.WriteString(part.Text)
	}
	out := strings.TrimSpace(text.String())
	if out == "" {
		return types.Response{}, llm.ErrEmptyResponse
	}

	var usage *types.Usage
	if resp.UsageMetadata != nil {
		usage = &types.Usage{
			InputTokens:  int(resp.UsageMetadata.PromptTokenCount),
			OutputTokens: int(resp.UsageMetadata.CandidatesTokenCount),
			TotalTokens:  int(resp.UsageMetadata.TotalTokenCount),
		}
	}
	return types.Response{Text: out, Usage: usage}, nil
}

func clampInt32(v int) int32 {
	if v <= 0 {
		return 0
	}
	if v > math.MaxInt32 {
		return math.MaxInt32
	}
	return int32(v)
}

func toGeminiContents(messages []types.Message) []*genai.Content {
	contents := make([]*genai.Content, 0, len(messages))
	for _, m := range messages {
		switch m.Role {
		case types.RoleUser:
			contents = append(contents, genai.NewContentFromText(m.Content, genai.RoleUser))
		case types.RoleAssistant:
			contents = append(contents, genai.NewContentFromText(m.Content, genai.RoleModel))
		}
	}
	return contents
}
