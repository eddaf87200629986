package capability

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestHTTP(t *testing.T, handler http.HandlerFunc, cfg HTTPConfig) (*HTTPClient, string) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	u, err := url.Parse(srv.URL)
	require.NoError(t, err)
	if cfg.AllowedHosts == nil {
		cfg.AllowedHosts = []string{u.Hostname()}
	}
	return NewHTTPClient(cfg, srv.Client(), nil), srv.URL
}

func TestHTTPClient_GetAndPost(t *testing.T) {
	client, base := newTestHTTP(t, func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		w.Header().Set("X-Method", r.Method)
		_, _ = w.Write([]byte(r.Header.Get("Content-Type") + "|" + string(body)))
	}, HTTPConfig{})

	set := NewProvider(nil, WithHTTP(client)).Bind(Scope{})

	got, err := call(t, set, NameHTTP, "get", base+"/ping")
	require.NoError(t, err)
	resp := got.(map[string]any)
	assert.Equal(t, int64(200), resp["status"])
	assert.Equal(t, "GET", resp["headers"].(map[string]any)["X-Method"])

	got, err = call(t, set, NameHTTP, "post", base+"/items", map[string]any{"a": 1.0})
	require.NoError(t, err)
	assert.Equal(t, `application/json|{"a":1}`, got.(map[string]any)["body"])
}

func TestHTTPClient_Allowlist(t *testing.T) {
	client, base := newTestHTTP(t, func(w http.ResponseWriter, _ *http.Request) {}, HTTPConfig{AllowedHosts: []string{"example.com"}})

	_, err := client.Do(context.Background(), "GET", base, "", nil)
	assert.ErrorIs(t, err, ErrHostNotAllowed)

	assert.Error(t, client.Allowed("file:///etc/passwd"))
	assert.Error(t, client.Allowed("ftp://example.com/x"))
	assert.NoError(t, client.Allowed("https://EXAMPLE.com/x"))

	deny := NewHTTPClient(HTTPConfig{}, nil, nil)
	assert.ErrorIs(t, deny.Allowed("https://example.com"), ErrHostNotAllowed)
}

func TestHTTPClient_BodyCap(t *testing.T) {
	client, base := newTestHTTP(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(strings.Repeat("x", 64)))
	}, HTTPConfig{MaxBodyBytes: 16})

	_, err := client.Do(context.Background(), "GET", base, "", nil)
	assert.ErrorContains(t, err, "exceeds 16 bytes")
}

func TestHTTPClient_RespectsContext(t *testing.T) {
	client, base := newTestHTTP(t, func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(5 * time.Second):
		}
	}, HTTPConfig{})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := client.Do(ctx, "GET", base, "", nil)
	assert.Error(t, err)
	assert.Less(t, time.Since(start), 2*time.Second)
}
