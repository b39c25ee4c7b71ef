package cachetier

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"os"
	"sort"
	"time"
)

// sha256Hex hashes parts joined with no separator assumptions left to the
// caller; each facade below documents its own join shape.
func sha256Hex(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

// URLCache caches fetch_url results keyed by sha256(url).
type URLCache struct{ tier *Tier }

// NewURLCache wraps tier as a URL-keyed facade.
func NewURLCache(tier *Tier) *URLCache { return &URLCache{tier: tier} }

func (c *URLCache) Get(url string) (json.RawMessage, bool) { return c.tier.Get(sha256Hex(url)) }

func (c *URLCache) Set(url string, value json.RawMessage, ttl time.Duration) error {
	return c.tier.Set(sha256Hex(url), value, ttl)
}

// TranslateCache caches translated text keyed by sha256(content|target_language).
type TranslateCache struct{ tier *Tier }

func NewTranslateCache(tier *Tier) *TranslateCache { return &TranslateCache{tier: tier} }

func (c *TranslateCache) key(content, targetLanguage string) string {
	return sha256Hex(content + "|" + targetLanguage)
}

func (c *TranslateCache) Get(content, targetLanguage string) (string, bool) {
	raw, ok := c.tier.Get(c.key(content, targetLanguage))
	if !ok {
		return "", false
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return "", false
	}
	return s, true
}

func (c *TranslateCache) Set(content, targetLanguage, translated string, ttl time.Duration) error {
	raw, err := json.Marshal(translated)
	if err != nil {
		return err
	}
	return c.tier.Set(c.key(content, targetLanguage), raw, ttl)
}

// PromptCache caches an assembled system prompt keyed by the mtime
// fingerprint of every file that feeds it, so an edit to any workspace
// file self-invalidates the entry on the next lookup.
type PromptCache struct{ tier *Tier }

func NewPromptCache(tier *Tier) *PromptCache { return &PromptCache{tier: tier} }

// Fingerprint hashes json({file_path: mtime_unix_nano, ...}) over files,
// sorted by path for a stable key regardless of map iteration order.
func Fingerprint(files map[string]time.Time) string {
	paths := make([]string, 0, len(files))
	for p := range files {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	m := make(map[string]int64, len(paths))
	for _, p := range paths {
		m[p] = files[p].UnixNano()
	}
	b, _ := json.Marshal(m)
	return sha256Hex(string(b))
}

// StatFiles stat()s every path, skipping ones that don't exist, and
// returns the mtime map Fingerprint expects.
func StatFiles(paths []string) map[string]time.Time {
	out := make(map[string]time.Time, len(paths))
	for _, p := range paths {
		info, err := os.Stat(p)
		if err != nil {
			continue
		}
		out[p] = info.ModTime()
	}
	return out
}

func (c *PromptCache) Get(fingerprint string) (string, bool) {
	raw, ok := c.tier.Get(fingerprint)
	if !ok {
		return "", false
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return "", false
	}
	return s, true
}

func (c *PromptCache) Set(fingerprint, prompt string, ttl time.Duration) error {
	raw, err := json.Marshal(prompt)
	if err != nil {
		return err
	}
	return c.tier.Set(fingerprint, raw, ttl)
}

// Event is one unit of a streamed LLM reply or tool-call, cached and
// replayed verbatim on a later hit (with Cached set to true on replay).
type Event struct {
	Kind    string          `json:"kind"` // "token" | "tool_start" | "tool_end" | "final"
	Payload json.RawMessage `json:"payload"`
	Cached  bool            `json:"-"`
}

// ReplyKeyParams is hashed to form an LLMReplyCache key:
// recent_history keeps only the last three messages,
// each truncated to 500 characters, and memory_fingerprint is the mtime of
// memory.json so a consolidated/edited memory store invalidates replies.
type ReplyKeyParams struct {
	SystemPromptHash   string   `json:"system_prompt_hash"`
	RecentHistory      []string `json:"recent_history"`
	CurrentMessage     string   `json:"current_message"`
	Model              string   `json:"model"`
	Temperature        float64  `json:"temperature"`
	MemoryFingerprint  string   `json:"memory_fingerprint"`
}

// ReplyKey truncates RecentHistory entries to 500 chars and the last 3
// messages before hashing.
func ReplyKey(p ReplyKeyParams) string {
	hist := p.RecentHistory
	if len(hist) > 3 {
		hist = hist[len(hist)-3:]
	}
	truncated := make([]string, len(hist))
	for i, h := range hist {
		if len(h) > 500 {
			h = h[:500]
		}
		truncated[i] = h
	}
	p.RecentHistory = truncated
	b, _ := json.Marshal(p)
	return sha256Hex(string(b))
}

// LLMReplyCache implements the replayable-streaming contract: a cache hit
// replays its stored Event list, with small per-event delays approximating
// live generation pacing when stream is true and without delays otherwise.
type LLMReplyCache struct {
	tier    *Tier
	enabled bool
	// sleep is injected so tests can collapse the replay delay to zero.
	sleep func(time.Duration)
}

// NewLLMReplyCache wraps tier as the LLM-reply facade. enabled=false makes
// GetOrGenerate always fall through to generate, matching a "disabled"
// cache configuration without special-casing callers.
func NewLLMReplyCache(tier *Tier, enabled bool) *LLMReplyCache {
	return &LLMReplyCache{tier: tier, enabled: enabled, sleep: time.Sleep}
}

const (
	tokenReplayDelay = 10 * time.Millisecond
	toolReplayDelay  = 50 * time.Millisecond
)

// GetOrGenerate implements the three-branch reply-cache contract: yield
// straight from generate when disabled; replay a cached event list (paced
// when stream=true) on a hit; otherwise collect generate's events, forward
// them to yield, and persist the full list on success.
func (c *LLMReplyCache) GetOrGenerate(ctx context.Context, key string, stream bool, yield func(Event) error, generate func(yield func(Event) error) error) error {
	if !c.enabled {
		return generate(yield)
	}

	if raw, ok := c.tier.Get(key); ok {
		var events []Event
		if err := json.Unmarshal(raw, &events); err == nil {
			for _, ev := range events {
				ev.Cached = true
				if stream {
					if ev.Kind == "tool_start" || ev.Kind == "tool_end" {
						c.sleep(toolReplayDelay)
					} else {
						c.sleep(tokenReplayDelay)
					}
				}
				if err := yield(ev); err != nil {
					return err
				}
			}
			return nil
		}
	}

	var collected []Event
	err := generate(func(ev Event) error {
		collected = append(collected, ev)
		return yield(ev)
	})
	if err != nil {
		return err
	}
	raw, merr := json.Marshal(collected)
	if merr != nil {
		return nil
	}
	return c.tier.Set(key, raw, 0)
}

// ToolCacheKey hashes sha256(toolName + ":" + json({args, kwargs})), so
// identical arguments to different tools never share a key.
func ToolCacheKey(toolName string, args, kwargs json.RawMessage) string {
	payload := struct {
		Args   json.RawMessage `json:"args"`
		Kwargs json.RawMessage `json:"kwargs"`
	}{Args: args, Kwargs: kwargs}
	b, _ := json.Marshal(payload)
	return sha256Hex(toolName + ":" + string(b))
}

const cacheHitPrefix = "[CACHE_HIT]"

// ToolCache decorates a tool's result, keyed by its arguments, prefixing a
// replayed value with "[CACHE_HIT]" so the stream adapter can flag the
// corresponding tool-end event as served from cache.
type ToolCache struct{ tier *Tier }

func NewToolCache(tier *Tier) *ToolCache { return &ToolCache{tier: tier} }

// Wrap returns a tool invocation function that checks the cache first and
// persists a successful miss, matching the decorator's documented
// behaviour ("[CACHE_HIT]" prefix on replay; disk errors are never fatal).
func (c *ToolCache) Wrap(toolName string, ttl time.Duration, fn func(ctx context.Context, args, kwargs json.RawMessage) (string, error)) func(ctx context.Context, args, kwargs json.RawMessage) (string, error) {
	return func(ctx context.Context, args, kwargs json.RawMessage) (string, error) {
		key := ToolCacheKey(toolName, args, kwargs)
		if raw, ok := c.tier.Get(key); ok {
			var cached string
			if err := json.Unmarshal(raw, &cached); err == nil {
				return cacheHitPrefix + " " + cached, nil
			}
		}
		out, err := fn(ctx, args, kwargs)
		if err != nil {
			return out, err
		}
		if raw, merr := json.Marshal(out); merr == nil {
			_ = c.tier.Set(key, raw, ttl) // disk errors are never fatal to the tool call
		}
		return out, nil
	}
}
