package llm

import "context"

// dashScopeProvider implements VisionProvider for Alibaba DashScope using
// its OpenAI-compatible mode.
//
// Typical vision models:
//
//	qwen-vl-max: strongest document/certificate understanding
//	qwen-vl-plus: faster, cheaper
//
// API key: set via config or DASHSCOPE_API_KEY env var.
type dashScopeProvider struct {
	base openAICompatClient
}

// NewDashScope creates a provider for DashScope (Qwen).
func NewDashScope(cfg Config) VisionProvider {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://dashscope.aliyuncs.com/compatible-mode"
	}
	return &dashScopeProvider{base: newOpenAICompatClient(cfg)}
}

func (p *dashScopeProvider) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	return p.base.chat(ctx, req)
}

func (p *dashScopeProvider) ChatWithImages(ctx context.Context, req VisionChatRequest) (*ChatResponse, error) {
	return p.base.chatWithImages(ctx, req)
}
