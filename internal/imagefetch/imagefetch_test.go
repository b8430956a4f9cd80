package imagefetch

import (
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DistPub/sync-163yaowen-to-bsky/internal/proxy"
)

func poolWith(t *testing.T, server *httptest.Server) *proxy.Pool {
	t.Helper()
	u, err := url.Parse(server.URL)
	require.NoError(t, err)
	host, portStr, err := net.SplitHostPort(u.Host)
	require.NoError(t, err)
	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)
	return proxy.New([]proxy.Candidate{{IP: host, Port: port, Protocol: "http"}}, "u", "p")
}

func emptyPool() *proxy.Pool {
	return proxy.New(nil, "u", "p")
}

func TestFetchDirectSuccess(t *testing.T) {
	t.Parallel()

	origin := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.NotEmpty(t, r.Header.Get("User-Agent"))
		w.Header().Set("Content-Type", "image/jpeg")
		_, _ = w.Write([]byte("jpeg-bytes"))
	}))
	defer origin.Close()

	f := New(emptyPool(), 5*time.Second)
	data, ok := f.Fetch(context.Background(), origin.URL+"/pic.jpg")
	require.True(t, ok)
	assert.Equal(t, []byte("jpeg-bytes"), data)
}

func TestFetchRejectsNonImageContentType(t *testing.T) {
	t.Parallel()

	origin := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte("<html>not found</html>"))
	}))
	defer origin.Close()

	f := New(emptyPool(), 5*time.Second)
	_, ok := f.Fetch(context.Background(), origin.URL+"/pic.jpg")
	assert.False(t, ok)
}

func TestFetchDoesNotFollowRedirects(t *testing.T) {
	t.Parallel()

	target := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/png")
		_, _ = w.Write([]byte("png"))
	}))
	defer target.Close()

	origin := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, target.URL, http.StatusFound)
	}))
	defer origin.Close()

	f := New(emptyPool(), 5*time.Second)
	_, ok := f.Fetch(context.Background(), origin.URL+"/pic.png")
	assert.False(t, ok, "a redirect response is a failed direct fetch")
}

func TestFetchFallsBackToProxy(t *testing.T) {
	t.Parallel()

	origin := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer origin.Close()

	// The stand-in proxy answers the absolute-URI request itself.
	proxyServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/png")
		_, _ = w.Write([]byte("via-proxy"))
	}))
	defer proxyServer.Close()

	f := New(poolWith(t, proxyServer), 5*time.Second)
	data, ok := f.Fetch(context.Background(), origin.URL+"/pic.png")
	require.True(t, ok)
	assert.Equal(t, []byte("via-proxy"), data)
}

func TestFetchBothPathsFailing(t *testing.T) {
	t.Parallel()

	origin := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer origin.Close()

	proxyServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer proxyServer.Close()

	f := New(poolWith(t, proxyServer), 5*time.Second)
	_, ok := f.Fetch(context.Background(), origin.URL+"/pic.png")
	assert.False(t, ok)
}

func TestFetchEmptyPoolDegradesToNoImage(t *testing.T) {
	t.Parallel()

	origin := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer origin.Close()

	f := New(emptyPool(), 5*time.Second)
	_, ok := f.Fetch(context.Background(), origin.URL+"/pic.png")
	assert.False(t, ok)
}
