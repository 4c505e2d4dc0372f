package remote

import (
	"context"
	"net/http"
	"sync"
	"time"
)

// ConnectivityProvider is the single source of truth for connectivity.
// Every gated operation reads it at the moment of the check rather than
// caching its own copy, so a mid-operation disconnect is observed by the
// next check.
type ConnectivityProvider interface {
	Online() bool
}

// Static is a fixed-value provider for tests and for forcing offline mode.
type Static bool

// Online implements ConnectivityProvider.
func (s Static) Online() bool {
	return bool(s)
}

// Probe reports connectivity by issuing a HEAD request against the
// backend's health endpoint. Results are cached for a short TTL so that a
// burst of gate checks does not turn into a burst of probes.
type Probe struct {
	url string
	ttl time.Duration

	http *http.Client

	mu       sync.Mutex
	last     time.Time
	lastSeen bool
}

// NewProbe creates a connectivity probe against healthURL.
// ttl defaults to 5 seconds when zero.
func NewProbe(healthURL string, ttl time.Duration) *Probe {
	if ttl == 0 {
		ttl = 5 * time.Second
	}
	return &Probe{
		url:  healthURL,
		ttl:  ttl,
		http: &http.Client{Timeout: 3 * time.Second},
	}
}

// Online implements ConnectivityProvider.
func (p *Probe) Online() bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	if time.Since(p.last) < p.ttl {
		return p.lastSeen
	}

	p.lastSeen = p.check()
	p.last = time.Now()
	return p.lastSeen
}

// Invalidate drops the cached result so the next Online() call probes
// again. Used by the daemon right after a failed sync run.
func (p *Probe) Invalidate() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.last = time.Time{}
}

func (p *Probe) check() bool {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodHead, p.url, nil)
	if err != nil {
		return false
	}

	resp, err := p.http.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()

	return resp.StatusCode < http.StatusInternalServerError
}
