// Package netprobe answers "is the network reachable" with a cached HTTP
// probe.
package netprobe

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/juju/clock"

	"nightshift/internal/config"
	"nightshift/internal/logging"
)

// Prober issues GET requests against a list of well-known URLs. Any answer
// below 500 counts as connected. A positive result is cached for the
// configured window; negative results are never cached.
type Prober struct {
	urls    []string
	client  *http.Client
	clock   clock.Clock
	ttl     time.Duration
	timeout time.Duration
	logger  *slog.Logger

	mu      sync.Mutex
	okUntil time.Time
}

// New returns a Prober configured from the network section.
func New(cfg config.Network, clk clock.Clock, logger *slog.Logger) *Prober {
	if clk == nil {
		clk = clock.WallClock
	}
	timeout := time.Duration(cfg.ProbeTimeoutSeconds) * time.Second
	return &Prober{
		urls:    append([]string(nil), cfg.ProbeURLs...),
		client:  &http.Client{Timeout: timeout},
		clock:   clk,
		ttl:     time.Duration(cfg.ProbeCacheSeconds) * time.Second,
		timeout: timeout,
		logger:  logging.NewComponentLogger(logger, "netprobe"),
	}
}

// IsConnected reports whether any probe URL answered.
func (p *Prober) IsConnected(ctx context.Context) bool {
	p.mu.Lock()
	if p.clock.Now().Before(p.okUntil) {
		p.mu.Unlock()
		return true
	}
	p.mu.Unlock()

	for _, url := range p.urls {
		if ctx.Err() != nil {
			return false
		}
		if p.probe(ctx, url) {
			p.mu.Lock()
			p.okUntil = p.clock.Now().Add(p.ttl)
			p.mu.Unlock()
			return true
		}
	}
	logging.WarnWithContext(p.logger, "network unreachable", "network_unreachable",
		logging.Int("probe_urls", len(p.urls)),
		logging.String(logging.FieldErrorHint, "check connectivity or network.probe_urls"),
		logging.String(logging.FieldImpact, "uploads are deferred until the network returns"),
	)
	return false
}

// Invalidate drops a cached positive result so the next call probes again.
func (p *Prober) Invalidate() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.okUntil = time.Time{}
}

func (p *Prober) probe(ctx context.Context, url string) bool {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return false
	}
	resp, err := p.client.Do(req)
	if err != nil {
		p.logger.Debug("probe failed", logging.String("url", url), logging.Error(err))
		return false
	}
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
	_ = resp.Body.Close()
	return resp.StatusCode < http.StatusInternalServerError
}
