package proxy

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// candidateFor turns an httptest server into a pool candidate so the server
// can stand in for an HTTP proxy.
func candidateFor(t *testing.T, server *httptest.Server) Candidate {
	t.Helper()
	u, err := url.Parse(server.URL)
	require.NoError(t, err)
	host, portStr, err := net.SplitHostPort(u.Host)
	require.NoError(t, err)
	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)
	return Candidate{IP: host, Port: port, Protocol: "http"}
}

func TestNewBuildsAuthenticatedURI(t *testing.T) {
	t.Parallel()

	pool := New([]Candidate{{IP: "10.0.0.1", Port: 8080, Protocol: "http"}}, "user", "pa:ss")
	uri, err := pool.Pick()
	require.NoError(t, err)
	assert.Equal(t, "http", uri.Scheme)
	assert.Equal(t, "10.0.0.1:8080", uri.Host)
	assert.Equal(t, "user", uri.User.Username())
	pass, _ := uri.User.Password()
	assert.Equal(t, "pa:ss", pass)
}

func TestPickEmptyPool(t *testing.T) {
	t.Parallel()

	pool := New(nil, "u", "p")
	_, err := pool.Pick()
	assert.ErrorIs(t, err, ErrEmptyPool)
}

func TestValidateKeepsOnlyHealthyProxies(t *testing.T) {
	t.Parallel()

	// The "proxy" receives the absolute-URI probe request and answers for it.
	healthy := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/png")
		_, _ = w.Write([]byte("png-bytes"))
	}))
	defer healthy.Close()

	notImage := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte("<html>blocked</html>"))
	}))
	defer notImage.Close()

	broken := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer broken.Close()

	pool := New([]Candidate{
		candidateFor(t, healthy),
		candidateFor(t, notImage),
		candidateFor(t, broken),
	}, "u", "p")

	filtered := pool.Validate(context.Background(), "http://img.example/probe.png", 5*time.Second)
	require.Equal(t, 1, filtered.Len())
	assert.Equal(t, candidateFor(t, healthy), filtered.Candidates()[0])

	// The input pool is untouched.
	assert.Equal(t, 3, pool.Len())
}

func TestValidateAllUnhealthyYieldsEmptyPool(t *testing.T) {
	t.Parallel()

	broken := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer broken.Close()

	pool := New([]Candidate{candidateFor(t, broken)}, "u", "p")
	filtered := pool.Validate(context.Background(), "http://img.example/probe.png", 5*time.Second)
	assert.Equal(t, 0, filtered.Len())

	_, err := filtered.Pick()
	assert.ErrorIs(t, err, ErrEmptyPool)
}

func TestLoadAndSaveFile(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "proxies.json")
	in := []Candidate{{IP: "10.0.0.1", Port: 8080, Protocol: "http"}}
	require.NoError(t, SaveFile(path, in))

	out, err := LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, in, out)

	// The file keeps the documented field names.
	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	var generic []map[string]interface{}
	require.NoError(t, json.Unmarshal(raw, &generic))
	require.Len(t, generic, 1)
	assert.Contains(t, generic[0], "ip")
	assert.Contains(t, generic[0], "port")
	assert.Contains(t, generic[0], "protocol")
}
