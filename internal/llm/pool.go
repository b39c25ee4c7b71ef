package llm

import (
	"context"
	"fmt"
	"strings"
	"sync"
)

// ProviderKind names which concrete adapter a ModelConfig resolves to.
type ProviderKind string

const (
	ProviderAnthropic ProviderKind = "anthropic"
	ProviderOpenAI    ProviderKind = "openai"
	ProviderBedrock   ProviderKind = "bedrock"
	ProviderGemini    ProviderKind = "gemini"
)

// ModelConfig is one named entry in the pool: {id, name, api_key,
// api_base, model} plus the provider kind needed to instantiate the
// right adapter.
type ModelConfig struct {
	ID       string
	Name     string
	Provider ProviderKind
	APIKey   string
	APIBase  string
	Model    string
	Region   string // bedrock only
}

// maskedPlaceholder is returned in place of a real API key on read-out.
const maskedPlaceholder = "********"

// Masked returns a copy of cfg with APIKey replaced by a fixed placeholder,
// for safe read-out to callers/UIs.
func (c ModelConfig) Masked() ModelConfig {
	c.APIKey = maskedPlaceholder
	return c
}

// Pool resolves a named scenario (llm, embedding, translate) to a
// ModelConfig and lazily constructs (and caches) the corresponding Client
// or Embedder: a named pool of configurations with per-scenario
// assignments.
type Pool struct {
	mu         sync.Mutex
	configs    map[string]ModelConfig // by id
	scenarios  map[string]string      // scenario -> config id
	clients    map[string]Client
	embedders  map[string]Embedder
}

// NewPool constructs an empty Pool.
func NewPool() *Pool {
	return &Pool{
		configs:   make(map[string]ModelConfig),
		scenarios: make(map[string]string),
		clients:   make(map[string]Client),
		embedders: make(map[string]Embedder),
	}
}

// Register adds or replaces a named model configuration. If the config id
// already exists and incoming APIKey is the masked placeholder, the
// previous real key is preserved (so a read-modify-write over the masked
// read-out never destroys the credential).
func (p *Pool) Register(cfg ModelConfig) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if existing, ok := p.configs[cfg.ID]; ok && cfg.APIKey == maskedPlaceholder {
		cfg.APIKey = existing.APIKey
	}
	p.configs[cfg.ID] = cfg
	delete(p.clients, cfg.ID)
	delete(p.embedders, cfg.ID)
}

// Assign binds a scenario name ("llm", "embedding", "translate", or any
// caller-defined scenario) to a registered config id.
func (p *Pool) Assign(scenario, configID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.scenarios[scenario] = configID
}

// Resolve returns the ModelConfig assigned to scenario.
func (p *Pool) Resolve(scenario string) (ModelConfig, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	id, ok := p.scenarios[scenario]
	if !ok {
		return ModelConfig{}, fmt.Errorf("llm: no config assigned to scenario %q", scenario)
	}
	cfg, ok := p.configs[id]
	if !ok {
		return ModelConfig{}, fmt.Errorf("llm: scenario %q assigned to unknown config %q", scenario, id)
	}
	return cfg, nil
}

// Client returns (constructing and caching on first use) the chat Client
// for scenario.
func (p *Pool) Client(ctx context.Context, scenario string) (Client, error) {
	cfg, err := p.Resolve(scenario)
	if err != nil {
		return nil, err
	}
	p.mu.Lock()
	if c, ok := p.clients[cfg.ID]; ok {
		p.mu.Unlock()
		return c, nil
	}
	p.mu.Unlock()

	client, err := newClient(ctx, cfg)
	if err != nil {
		return nil, err
	}
	p.mu.Lock()
	p.clients[cfg.ID] = client
	p.mu.Unlock()
	return client, nil
}

// InjectClient pre-seeds the client cache for a registered config id, so
// tests and embedding callers can supply a hand-written fake instead of
// the SDK-constructed adapter.
func (p *Pool) InjectClient(configID string, c Client) {
	p.mu.Lock()
	p.clients[configID] = c
	p.mu.Unlock()
}

// Embedder returns (constructing and caching on first use) the Embedder
// for scenario.
func (p *Pool) Embedder(scenario string) (Embedder, error) {
	cfg, err := p.Resolve(scenario)
	if err != nil {
		return nil, err
	}
	p.mu.Lock()
	if e, ok := p.embedders[cfg.ID]; ok {
		p.mu.Unlock()
		return e, nil
	}
	p.mu.Unlock()

	if cfg.Provider != ProviderOpenAI {
		return nil, fmt.Errorf("llm: embedding scenario %q resolves to non-embedding provider %q", scenario, cfg.Provider)
	}
	embedder, err := NewOpenAIEmbedder(OpenAIConfig{APIKey: cfg.APIKey, BaseURL: cfg.APIBase, Model: cfg.Model})
	if err != nil {
		return nil, err
	}
	p.mu.Lock()
	p.embedders[cfg.ID] = embedder
	p.mu.Unlock()
	return embedder, nil
}

func newClient(ctx context.Context, cfg ModelConfig) (Client, error) {
	switch cfg.Provider {
	case ProviderAnthropic, "":
		return NewAnthropicClient(AnthropicConfig{APIKey: cfg.APIKey, BaseURL: cfg.APIBase, Model: cfg.Model})
	case ProviderOpenAI:
		return NewOpenAIClient(OpenAIConfig{APIKey: cfg.APIKey, BaseURL: cfg.APIBase, Model: cfg.Model})
	case ProviderBedrock:
		return NewBedrockClient(ctx, BedrockConfig{Region: cfg.Region, Model: cfg.Model})
	case ProviderGemini:
		return NewGeminiClient(ctx, GeminiConfig{APIKey: cfg.APIKey, Model: cfg.Model})
	default:
		return nil, fmt.Errorf("llm: unknown provider kind %q", cfg.Provider)
	}
}

// ParseProviderKind normalizes a config-file provider string.
func ParseProviderKind(s string) ProviderKind {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "openai":
		return ProviderOpenAI
	case "bedrock":
		return ProviderBedrock
	case "gemini", "google":
		return ProviderGemini
	default:
		return ProviderAnthropic
	}
}
