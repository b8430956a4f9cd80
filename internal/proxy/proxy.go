package proxy

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/DistPub/sync-163yaowen-to-bsky/internal/logger"
)

// ErrEmptyPool is returned by Pick when no healthy proxy remains. Callers
// degrade (publish without an image) rather than abort.
var ErrEmptyPool = errors.New("proxy pool is empty")

// Candidate is one entry of the proxy list file.
type Candidate struct {
	IP       string `json:"ip"`
	Port     int    `json:"port"`
	Protocol string `json:"protocol"`
}

type entry struct {
	candidate Candidate
	uri       *url.URL
}

// Pool holds authenticated egress proxies. It is built once, optionally
// filtered via Validate, and read-only afterwards.
type Pool struct {
	entries []entry
}

// LoadFile reads the proxy list file.
func LoadFile(path string) ([]Candidate, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read proxy file: %w", err)
	}
	var candidates []Candidate
	if err := json.Unmarshal(data, &candidates); err != nil {
		return nil, fmt.Errorf("decode proxy file: %w", err)
	}
	return candidates, nil
}

// SaveFile rewrites the proxy list file, used by the standalone health-check
// mode to persist the filtered pool.
func SaveFile(path string, candidates []Candidate) error {
	if candidates == nil {
		candidates = []Candidate{}
	}
	data, err := json.MarshalIndent(candidates, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal proxy list: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("write proxy file: %w", err)
	}
	return nil
}

// New builds a pool from candidates and externally supplied credentials,
// forming one http://user:pass@ip:port URI per candidate.
func New(candidates []Candidate, username, password string) *Pool {
	p := &Pool{}
	for _, c := range candidates {
		u := &url.URL{
			Scheme: "http",
			User:   url.UserPassword(username, password),
			Host:   fmt.Sprintf("%s:%d", c.IP, c.Port),
		}
		p.entries = append(p.entries, entry{candidate: c, uri: u})
	}
	return p
}

func (p *Pool) Len() int {
	return len(p.entries)
}

// Candidates returns the surviving proxy list, for persistence.
func (p *Pool) Candidates() []Candidate {
	out := make([]Candidate, 0, len(p.entries))
	for _, e := range p.entries {
		out = append(out, e.candidate)
	}
	return out
}

// Pick returns one healthy proxy uniformly at random. Selection has no
// memory across calls.
func (p *Pool) Pick() (*url.URL, error) {
	if len(p.entries) == 0 {
		return nil, ErrEmptyPool
	}
	return p.entries[rand.Intn(len(p.entries))].uri, nil
}

// Validate probes every candidate through itself against probeURL and
// returns a new pool containing only the candidates that answered with a
// success status and an image content type. Per-candidate failures are
// logged and discarded; an empty result is the caller's problem to handle.
func (p *Pool) Validate(ctx context.Context, probeURL string, timeout time.Duration) *Pool {
	out := &Pool{}
	for _, e := range p.entries {
		if err := probe(ctx, e.uri, probeURL, timeout); err != nil {
			logger.Warn("proxy failed probe", "proxy", e.candidate.IP, "port", e.candidate.Port, "error", err)
			continue
		}
		logger.Debug("proxy healthy", "proxy", e.candidate.IP, "port", e.candidate.Port)
		out.entries = append(out.entries, e)
	}
	return out
}

func probe(ctx context.Context, proxyURI *url.URL, probeURL string, timeout time.Duration) error {
	client := &http.Client{
		Timeout: timeout,
		Transport: &http.Transport{
			Proxy: http.ProxyURL(proxyURI),
		},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, probeURL, nil)
	if err != nil {
		return fmt.Errorf("new request: %w", err)
	}

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("probe request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("probe status %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); !strings.HasPrefix(ct, "image/") {
		return fmt.Errorf("probe content type %q", ct)
	}
	return nil
}
