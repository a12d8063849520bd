package llm

import "context"

// arkProvider implements VisionProvider for Volcengine Ark (Doubao) via its
// OpenAI-compatible endpoint. Ark routes requests by inference endpoint ID
// rather than a public model name, so Model is usually an "ep-..." ID.
//
// API key: set via config or ARK_API_KEY env var.
type arkProvider struct {
	base openAICompatClient
}

// NewArk creates a provider for Volcengine Ark.
func NewArk(cfg Config) VisionProvider {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://ark.cn-beijing.volces.com/api/v3"
	}
	return &arkProvider{base: newOpenAICompatClientPrefix(cfg, "")}
}

func (p *arkProvider) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	return p.base.chat(ctx, req)
}

func (p *arkProvider) ChatWithImages(ctx context.Context, req VisionChatRequest) (*ChatResponse, error) {
	return p.base.chatWithImages(ctx, req)
}
