package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	lru "github.com/hashicorp/golang-lru/v2"
)

const (
	defaultFetchTimeout   = 15 * time.Second
	defaultFetchMaxChars  = 8000
	defaultFetchCacheSize = 128
	defaultFetchCacheTTL  = 10 * time.Minute
	maxFetchBodyBytes     = 4 << 20
)

// FetchConfig configures the fetch_url tool.
type FetchConfig struct {
	Timeout   time.Duration
	MaxChars  int
	CacheSize int
	CacheTTL  time.Duration
	UserAgent string
	Client    *http.Client
}

// FetchArgs are the arguments of fetch_url.
type FetchArgs struct {
	URL      string `json:"url" jsonschema:"required,description=Absolute http or https URL of the page to read"`
	MaxChars int    `json:"max_chars,omitempty" jsonschema:"description=Upper bound on returned characters,minimum=200"`
}

type fetchEntry struct {
	text     string
	storedAt time.Time
}

// FetchTool downloads a web page and returns its readable text.
type FetchTool struct {
	client    *http.Client
	cache     *lru.Cache[string, fetchEntry]
	ttl       time.Duration
	maxChars  int
	userAgent string
	now       func() time.Time
}

// NewFetchTool builds a fetch_url tool with an LRU page cache.
func NewFetchTool(cfg FetchConfig) (*FetchTool, error) {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultFetchTimeout
	}
	if cfg.MaxChars <= 0 {
		cfg.MaxChars = defaultFetchMaxChars
	}
	if cfg.CacheSize <= 0 {
		cfg.CacheSize = defaultFetchCacheSize
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = defaultFetchCacheTTL
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = "taskstream/1.0 (page reader)"
	}
	client := cfg.Client
	if client == nil {
		client = &http.Client{Timeout: cfg.Timeout}
	}
	cache, err := lru.New[string, fetchEntry](cfg.CacheSize)
	if err != nil {
		return nil, fmt.Errorf("create fetch cache: %w", err)
	}
	return &FetchTool{
		client:    client,
		cache:     cache,
		ttl:       cfg.CacheTTL,
		maxChars:  cfg.MaxChars,
		userAgent: cfg.UserAgent,
		now:       time.Now,
	}, nil
}

func (t *FetchTool) Name() string { return "fetch_url" }

func (t *FetchTool) Description() string {
	return "Fetch a web page and return its title and readable text."
}

func (t *FetchTool) Parameters() map[string]any { return SchemaFor[FetchArgs]() }

func (t *FetchTool) Call(ctx context.Context, raw json.RawMessage) (string, error) {
	args, err := decodeArgs[FetchArgs](raw)
	if err != nil {
		return "", err
	}
	target, err := url.Parse(strings.TrimSpace(args.URL))
	if err != nil || (target.Scheme != "http" && target.Scheme != "https") || target.Host == "" {
		return "", fmt.Errorf("fetch_url: %q is not an absolute http(s) URL", args.URL)
	}
	limit := t.maxChars
	if args.MaxChars > 0 && args.MaxChars < limit {
		limit = args.MaxChars
	}

	key := target.String()
	if entry, ok := t.cache.Get(key); ok && t.now().Sub(entry.storedAt) < t.ttl {
		return truncate(entry.text, limit), nil
	}

	text, err := t.fetch(ctx, key)
	if err != nil {
		return "", err
	}
	t.cache.Add(key, fetchEntry{text: text, storedAt: t.now()})
	return truncate(text, limit), nil
}

func (t *FetchTool) fetch(ctx context.Context, target string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", t.userAgent)

	resp, err := t.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("HTTP request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("HTTP %d: %s", resp.StatusCode, resp.Status)
	}

	body := io.LimitReader(resp.Body, maxFetchBodyBytes)
	if !strings.Contains(resp.Header.Get("Content-Type"), "html") {
		data, err := io.ReadAll(body)
		if err != nil {
			return "", fmt.Errorf("read response: %w", err)
		}
		return strings.TrimSpace(string(data)), nil
	}
	return htmlToText(body)
}

// htmlToText keeps the title and the visible text of the page.
func htmlToText(r io.Reader) (string, error) {
	doc, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return "", fmt.Errorf("parse HTML: %w", err)
	}
	doc.Find("script, style, nav, footer, header, aside, iframe, noscript").Remove()

	var out strings.Builder
	if title := strings.TrimSpace(doc.Find("title").First().Text()); title != "" {
		out.WriteString("# " + title + "\n\n")
	}
	doc.Find("h1, h2, h3, p, li, pre, blockquote").Each(func(_ int, s *goquery.Selection) {
		text := strings.Join(strings.Fields(s.Text()), " ")
		if text == "" {
			return
		}
		if goquery.NodeName(s) == "li" {
			out.WriteString("- ")
		}
		out.WriteString(text + "\n\n")
	})
	return strings.TrimSpace(out.String()), nil
}

func truncate(text string, limit int) string {
	runes := []rune(text)
	if limit <= 0 || len(runes) <= limit {
		return text
	}
	return string(runes[:limit]) + "\n\n[truncated]"
}
