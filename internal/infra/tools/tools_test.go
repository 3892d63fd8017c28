package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const samplePage = `<html><head><title>Release notes</title><script>var x = 1;</script></head>
<body><nav>menu</nav><h1>Version 2</h1><p>Faster   streaming
and cancel support.</p><ul><li>one</li><li>two</li></ul><footer>legal</footer></body></html>`

func newPageServer(t *testing.T, hits *atomic.Int32) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		switch r.URL.Path {
		case "/page":
			w.Header().Set("Content-Type", "text/html; charset=utf-8")
			fmt.Fprint(w, samplePage)
		case "/plain":
			w.Header().Set("Content-Type", "text/plain")
			fmt.Fprint(w, "  just text  ")
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestFetchToolExtractsReadableText(t *testing.T) {
	var hits atomic.Int32
	srv := newPageServer(t, &hits)
	tool, err := NewFetchTool(FetchConfig{})
	require.NoError(t, err)

	out, err := tool.Call(context.Background(), json.RawMessage(`{"url":"`+srv.URL+`/page"}`))
	require.NoError(t, err)

	assert.Equal(t, "# Release notes\n\nVersion 2\n\nFaster streaming and cancel support.\n\n- one\n\n- two", out)
	assert.NotContains(t, out, "menu")
	assert.NotContains(t, out, "var x")
}

func TestFetchToolCachesPages(t *testing.T) {
	var hits atomic.Int32
	srv := newPageServer(t, &hits)
	tool, err := NewFetchTool(FetchConfig{CacheTTL: time.Minute})
	require.NoError(t, err)

	args := json.RawMessage(`{"url":"` + srv.URL + `/plain"}`)
	first, err := tool.Call(context.Background(), args)
	require.NoError(t, err)
	second, err := tool.Call(context.Background(), args)
	require.NoError(t, err)

	assert.Equal(t, "just text", first)
	assert.Equal(t, first, second)
	assert.Equal(t, int32(1), hits.Load())
}

func TestFetchToolTruncates(t *testing.T) {
	var hits atomic.Int32
	srv := newPageServer(t, &hits)
	tool, err := NewFetchTool(FetchConfig{MaxChars: 4})
	require.NoError(t, err)

	out, err := tool.Call(context.Background(), json.RawMessage(`{"url":"`+srv.URL+`/plain"}`))
	require.NoError(t, err)
	assert.Equal(t, "just\n\n[truncated]", out)
}

func TestFetchToolRejectsBadInput(t *testing.T) {
	var hits atomic.Int32
	srv := newPageServer(t, &hits)
	tool, err := NewFetchTool(FetchConfig{})
	require.NoError(t, err)

	_, err = tool.Call(context.Background(), json.RawMessage(`{"url":"file:///etc/passwd"}`))
	assert.ErrorContains(t, err, "not an absolute http(s) URL")

	_, err = tool.Call(context.Background(), json.RawMessage(`{"url":"`+srv.URL+`/missing"}`))
	assert.ErrorContains(t, err, "HTTP 404")
}

func TestRegistryCallRepairsArguments(t *testing.T) {
	clock := NewClockTool()
	clock.now = func() time.Time { return time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC) }
	reg := NewRegistry(clock)

	out, err := reg.Call(context.Background(), "current_time", `{"timezone": "Asia/Shanghai"`)
	require.NoError(t, err)
	assert.Equal(t, "2024-01-02T11:04:05+08:00", out)

	out, err = reg.Call(context.Background(), "current_time", "")
	require.NoError(t, err)
	assert.Equal(t, "2024-01-02T03:04:05Z", out)

	_, err = reg.Call(context.Background(), "launch_rocket", "{}")
	assert.ErrorIs(t, err, ErrUnknownTool)
}

func TestRegistryListIsSorted(t *testing.T) {
	fetch, err := NewFetchTool(FetchConfig{})
	require.NoError(t, err)
	reg := NewRegistry(NewClockTool(), fetch, nil)

	var names []string
	for _, tool := range reg.List() {
		names = append(names, tool.Name())
	}
	assert.Equal(t, []string{"current_time", "fetch_url"}, names)
	assert.Equal(t, 2, reg.Len())

	var empty *Registry
	assert.Zero(t, empty.Len())
	assert.Nil(t, empty.List())
}

func TestSchemaForReflectsArguments(t *testing.T) {
	schema := SchemaFor[FetchArgs]()
	assert.Equal(t, "object", schema["type"])
	assert.NotContains(t, schema, "$schema")

	props, required := SchemaProperties(schema)
	require.Contains(t, props, "url")
	require.Contains(t, props, "max_chars")
	assert.Equal(t, []string{"url"}, required)

	url := props["url"].(map[string]any)
	assert.True(t, strings.HasPrefix(url["description"].(string), "Absolute http"))
}

func TestNormalizeArguments(t *testing.T) {
	got, err := NormalizeArguments("  ")
	require.NoError(t, err)
	assert.JSONEq(t, `{}`, string(got))

	got, err = NormalizeArguments(`{'url': 'https://example.com'}`)
	require.NoError(t, err)
	assert.JSONEq(t, `{"url":"https://example.com"}`, string(got))
}
