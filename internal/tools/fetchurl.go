package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	md "github.com/JohannesKaufmann/html-to-markdown"
	"github.com/PuerkitoBio/goquery"

	"github.com/haasonsaas/agentengine/internal/registry"
	"github.com/haasonsaas/agentengine/internal/types"
)

type fetchURLArgs struct {
	URL string `json:"url"`
}

const (
	fetchURLTimeout  = 15 * time.Second
	fetchURLMaxChars = 8000
	fetchURLUA       = "Mozilla/5.0 (compatible; agentengine/1.0; +fetch_url tool)"
)

// NewFetchURLTool fetches a URL and returns clean Markdown, converting
// HTML via github.com/JohannesKaufmann/html-to-markdown rather than a
// hand-rolled tag stripper. Results are memoised through deps.URLCache
// keyed on sha256(url); a hit is returned with the "[CACHE_HIT]" prefix
// the stream adapter keys off of.
func NewFetchURLTool(deps Deps) types.Tool {
	client := deps.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: fetchURLTimeout}
	}

	return types.Tool{
		Name:        registry.FetchURL,
		Description: "Fetch the content of a web page or HTTP resource and return it as clean Markdown text.",
		Schema: schema(map[string]any{
			"url": prop("string", "The URL to fetch content from."),
		}, []string{"url"}),
		Invoke: func(ctx context.Context, raw json.RawMessage) (string, error) {
			var a fetchURLArgs
			if err := json.Unmarshal(raw, &a); err != nil {
				return "", fmt.Errorf("fetch_url: invalid arguments: %w", err)
			}
			a.URL = strings.TrimSpace(a.URL)
			if a.URL == "" {
				return "Error: url cannot be empty.", nil
			}

			if deps.URLCache != nil {
				if cached, ok := deps.URLCache.Get(a.URL); ok {
					var text string
					if err := json.Unmarshal(cached, &text); err == nil {
						return "[CACHE_HIT]" + text, nil
					}
				}
			}

			return runGated(ctx, deps, registry.FetchURL, a.URL, func(ctx context.Context) (string, error) {
				result, err := fetchAndConvert(ctx, client, a.URL)
				if err != nil {
					return result, nil
				}
				if deps.URLCache != nil {
					if encoded, merr := json.Marshal(result); merr == nil {
						_ = deps.URLCache.Set(a.URL, encoded, 24*time.Hour)
					}
				}
				return result, nil
			})
		},
	}
}

func fetchAndConvert(ctx context.Context, client *http.Client, url string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Sprintf("[ERROR] fetch_url: %s", err), err
	}
	req.Header.Set("User-Agent", fetchURLUA)

	resp, err := client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return "[ERROR] request timed out (15s)", err
		}
		return fmt.Sprintf("❌ Error: could not connect to %s", url), err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 2<<20))
	if err != nil {
		return fmt.Sprintf("❌ Error reading response: %s", err), err
	}
	if resp.StatusCode >= 400 {
		return fmt.Sprintf("❌ HTTP Error %d: %s", resp.StatusCode, resp.Status), fmt.Errorf("http %d", resp.StatusCode)
	}

	contentType := resp.Header.Get("Content-Type")
	text := string(body)

	switch {
	case strings.Contains(contentType, "application/json"), strings.Contains(contentType, "text/plain"):
		return truncate(text, 10000), nil
	default:
		converter := md.NewConverter("", true, nil)
		markdown, cerr := converter.ConvertString(text)
		if cerr != nil {
			return truncate(text, fetchURLMaxChars), nil
		}
		if title := pageTitle(text); title != "" && !strings.HasPrefix(markdown, "# ") {
			markdown = "# " + title + "\n\n" + markdown
		}
		return truncate(markdown, fetchURLMaxChars), nil
	}
}

// pageTitle pulls the document <title> so converted pages keep a heading
// even when the body renders without one.
func pageTitle(html string) string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return ""
	}
	return strings.TrimSpace(doc.Find("title").First().Text())
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "\n\n...[content truncated]"
}
