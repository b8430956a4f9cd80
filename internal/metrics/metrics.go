package metrics

import (
	"sync"
	"time"
)

// Metrics tracks counters for one or more pipeline runs. Exposed via the
// optional monitoring endpoints in cmd/sync163.
type Metrics struct {
	mu sync.RWMutex

	// Counters
	NewsFetched    int64
	NewsEligible   int64
	PostsPublished int64
	PostsFailed    int64
	ImagesFetched  int64
	ImagesMissed   int64

	// Status
	LastRunTime   time.Time
	LastErrorTime time.Time
	LastError     string
	IsHealthy     bool
}

var Global = &Metrics{IsHealthy: true}

func (m *Metrics) AddFetched(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.NewsFetched += int64(n)
}

func (m *Metrics) AddEligible(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.NewsEligible += int64(n)
}

func (m *Metrics) IncrementPublished() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.PostsPublished++
}

func (m *Metrics) IncrementFailed() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.PostsFailed++
}

func (m *Metrics) IncrementImagesFetched() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ImagesFetched++
}

func (m *Metrics) IncrementImagesMissed() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ImagesMissed++
}

func (m *Metrics) SetLastRun() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.LastRunTime = time.Now()
	m.IsHealthy = true
}

func (m *Metrics) SetError(err string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.LastError = err
	m.LastErrorTime = time.Now()
	m.IsHealthy = false
}

func (m *Metrics) GetStats() map[string]interface{} {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return map[string]interface{}{
		"news_fetched":    m.NewsFetched,
		"news_eligible":   m.NewsEligible,
		"posts_published": m.PostsPublished,
		"posts_failed":    m.PostsFailed,
		"images_fetched":  m.ImagesFetched,
		"images_missed":   m.ImagesMissed,
		"last_run_time":   m.LastRunTime.Format(time.RFC3339),
		"last_error_time": m.LastErrorTime.Format(time.RFC3339),
		"last_error":      m.LastError,
		"is_healthy":      m.IsHealthy,
	}
}
