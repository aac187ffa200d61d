package types

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

func (r Role) Valid() bool {
	return r == RoleUser || r == RoleAssistant
}

type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// GenerationConfig mirrors the sampling knobs sent with every remote call.
type GenerationConfig struct {
	Temperature     float64 `json:"temperature"`
	MaxOutputTokens int     `json:"maxOutputTokens"`
	TopP            float64 `json:"topP"`
	TopK            int     `json:"topK"`
}

type Request struct {
	Model      string           `json:"model,omitempty"`
	Messages   []Message        `json:"messages"`
	Generation GenerationConfig `json:"generation"`
}

type Usage struct {
	InputTokens  int `json:"inputTokens,omitempty"`
	OutputTokens int `json:"outputTokens,omitempty"`
	TotalTokens  int `json:"totalTokens,omitempty"`
}

type Response struct {
	Text  string `json:"text"`
	Usage *Usage `json:"usage,omitempty"`
}

func (r Response) TotalTokens() int {
	if r.Usage == nil {
		return 0
	}
	return r.Usage.TotalTokens
}
