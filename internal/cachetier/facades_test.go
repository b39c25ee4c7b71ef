package cachetier

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"
)

func newTestTier(t *testing.T) *Tier {
	t.Helper()
	return New(Options{Root: t.TempDir(), CacheType: "test"})
}

func TestURLCacheRoundTrip(t *testing.T) {
	c := NewURLCache(newTestTier(t))
	raw := json.RawMessage(`{"status":200}`)
	if err := c.Set("https://example.com", raw, time.Minute); err != nil {
		t.Fatalf("Set: %v", err)
	}
	got, ok := c.Get("https://example.com")
	if !ok {
		t.Fatal("expected cache hit")
	}
	if string(got) != string(raw) {
		t.Fatalf("got %s, want %s", got, raw)
	}
	if _, ok := c.Get("https://other.example.com"); ok {
		t.Fatal("expected miss for different URL")
	}
}

func TestTranslateCacheKeyIncludesLanguage(t *testing.T) {
	c := NewTranslateCache(newTestTier(t))
	if err := c.Set("hello", "fr", "bonjour", time.Minute); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if _, ok := c.Get("hello", "es"); ok {
		t.Fatal("expected miss for a different target language")
	}
	got, ok := c.Get("hello", "fr")
	if !ok || got != "bonjour" {
		t.Fatalf("got %q, ok=%v", got, ok)
	}
}

func TestPromptCacheFingerprintStableUnderMapOrder(t *testing.T) {
	now := time.Now()
	a := Fingerprint(map[string]time.Time{"SOUL.md": now, "AGENTS.md": now})
	b := Fingerprint(map[string]time.Time{"AGENTS.md": now, "SOUL.md": now})
	if a != b {
		t.Fatal("expected fingerprint to be independent of map iteration order")
	}
}

func TestLLMReplyCacheReplaysOnHit(t *testing.T) {
	c := NewLLMReplyCache(newTestTier(t), true)
	c.sleep = func(time.Duration) {} // collapse replay pacing for the test

	key := "k1"
	generateCalls := 0
	generate := func(yield func(Event) error) error {
		generateCalls++
		if err := yield(Event{Kind: "token", Payload: json.RawMessage(`"hi"`)}); err != nil {
			return err
		}
		return yield(Event{Kind: "final", Payload: json.RawMessage(`"hi there"`)})
	}

	var first []Event
	if err := c.GetOrGenerate(context.Background(), key, true, func(e Event) error {
		first = append(first, e)
		return nil
	}, generate); err != nil {
		t.Fatalf("GetOrGenerate (miss): %v", err)
	}
	if generateCalls != 1 || len(first) != 2 {
		t.Fatalf("expected one generate call with 2 events, got calls=%d events=%d", generateCalls, len(first))
	}

	var second []Event
	if err := c.GetOrGenerate(context.Background(), key, true, func(e Event) error {
		second = append(second, e)
		return nil
	}, generate); err != nil {
		t.Fatalf("GetOrGenerate (hit): %v", err)
	}
	if generateCalls != 1 {
		t.Fatal("expected second call to replay from cache, not invoke generate again")
	}
	if len(second) != 2 || !second[0].Cached {
		t.Fatalf("expected replayed events tagged Cached=true, got %+v", second)
	}
}

func TestLLMReplyCacheDisabledAlwaysGenerates(t *testing.T) {
	c := NewLLMReplyCache(newTestTier(t), false)
	calls := 0
	generate := func(yield func(Event) error) error {
		calls++
		return yield(Event{Kind: "final"})
	}
	for i := 0; i < 2; i++ {
		if err := c.GetOrGenerate(context.Background(), "k", false, func(Event) error { return nil }, generate); err != nil {
			t.Fatalf("GetOrGenerate: %v", err)
		}
	}
	if calls != 2 {
		t.Fatalf("expected generate called every time when disabled, got %d calls", calls)
	}
}

func TestLLMReplyCachePropagatesGenerateError(t *testing.T) {
	c := NewLLMReplyCache(newTestTier(t), true)
	wantErr := errors.New("boom")
	err := c.GetOrGenerate(context.Background(), "k", false, func(Event) error { return nil }, func(yield func(Event) error) error {
		return wantErr
	})
	if !errors.Is(err, wantErr) {
		t.Fatalf("expected generate's error to propagate, got %v", err)
	}
}

func TestToolCachePrefixesReplayedValue(t *testing.T) {
	c := NewToolCache(newTestTier(t))
	calls := 0
	wrapped := c.Wrap("search", time.Minute, func(ctx context.Context, args, kwargs json.RawMessage) (string, error) {
		calls++
		return "result", nil
	})

	args := json.RawMessage(`{"q":"x"}`)
	out1, err := wrapped(context.Background(), args, nil)
	if err != nil || out1 != "result" {
		t.Fatalf("first call: out=%q err=%v", out1, err)
	}
	out2, err := wrapped(context.Background(), args, nil)
	if err != nil {
		t.Fatalf("second call: %v", err)
	}
	if out2 != "[CACHE_HIT] result" {
		t.Fatalf("expected cache-hit prefix, got %q", out2)
	}
	if calls != 1 {
		t.Fatalf("expected underlying tool invoked once, got %d", calls)
	}
}
