// Package keypool schedules shared provider credentials under per-minute
// pacing, daily quotas, and throttle/auth block windows.
package keypool

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/ericfisherdev/marketgate/internal/domain/model"
)

const (
	// Block windows applied after a provider signals throttling (429) or an
	// auth/quota failure (403).
	rateLimitBlock = time.Minute
	forbiddenBlock = 24 * time.Hour
)

// Key is the lease handed out by Acquire: the credential's identity plus the
// secret to put on the wire. Callers report outcomes back by ID.
type Key struct {
	ID     string
	Secret string
}

// Options tunes a Pool. Zero values fall back to the documented defaults.
type Options struct {
	// RequestsPerMinute derives the minimum spacing between consecutive uses
	// of one credential (60s / RequestsPerMinute). Default 5.
	RequestsPerMinute int
	// RequestsPerDay caps each credential's daily use. Default 500.
	RequestsPerDay int
	// ExhaustedDelay is the artificial wait imposed when every credential is
	// blocked or over limit and the least-recently-used one is pressed into
	// service anyway. Default 1s; tests shrink it to microseconds.
	ExhaustedDelay time.Duration
	// Now overrides the clock for tests.
	Now func() time.Time
	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

// Pool owns the shared credentials for one provider and picks the best
// available one before each outbound call. It never fails an Acquire once
// constructed: when every credential is over its limits the least-recently
// used one is returned after ExhaustedDelay, trading strict limit accuracy
// for availability.
type Pool struct {
	mu       sync.Mutex
	provider string
	keys     []*model.Credential

	pacing         time.Duration
	requestsPerDay int64
	exhaustedDelay time.Duration
	now            func() time.Time
	logger         *slog.Logger
}

// New builds a Pool for provider from the configured secrets. An empty secret
// list is a fatal configuration error: the gateway refuses to start for a
// provider it can never call.
func New(provider string, secrets []string, opts Options) (*Pool, error) {
	if len(secrets) == 0 {
		return nil, fmt.Errorf("keypool: no credentials configured for provider %q", provider)
	}

	if opts.RequestsPerMinute <= 0 {
		opts.RequestsPerMinute = 5
	}
	if opts.RequestsPerDay <= 0 {
		opts.RequestsPerDay = 500
	}
	if opts.ExhaustedDelay <= 0 {
		opts.ExhaustedDelay = time.Second
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	now := opts.Now()
	keys := make([]*model.Credential, 0, len(secrets))
	for i, secret := range secrets {
		keys = append(keys, &model.Credential{
			ID:             fmt.Sprintf("%s-%d", provider, i),
			Provider:       provider,
			Secret:         secret,
			Scope:          model.ScopeShared,
			LastDailyReset: now,
		})
	}

	return &Pool{
		provider:       provider,
		keys:           keys,
		pacing:         time.Minute / time.Duration(opts.RequestsPerMinute),
		requestsPerDay: int64(opts.RequestsPerDay),
		exhaustedDelay: opts.ExhaustedDelay,
		now:            opts.Now,
		logger:         opts.Logger,
	}, nil
}

// Acquire selects a credential and marks it used. Among credentials that are
// unblocked, paced, and under their daily quota it picks the one with the
// lowest lifetime use (first encountered wins ties). When none qualifies it
// falls back to the least-recently-used credential pool-wide and waits
// ExhaustedDelay before returning, so a request degrades instead of failing.
func (p *Pool) Acquire(ctx context.Context) (Key, error) {
	key, degraded := p.selectAndMark()

	if degraded {
		p.logger.Warn("credential pool exhausted, degrading to least-recently-used key",
			"provider", p.provider,
			"key", key.ID,
			"delay", p.exhaustedDelay,
		)
		timer := time.NewTimer(p.exhaustedDelay)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-ctx.Done():
			p.unmark(key.ID)
			return Key{}, ctx.Err()
		}
	}

	return key, nil
}

// unmark reverses the usage accounting of a selection whose call was never
// dispatched. LastRequest is left in place so pacing still applies.
func (p *Pool) unmark(id string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for _, c := range p.keys {
		if c.ID == id {
			c.RequestsUsed--
			c.DailyRequests--
			return
		}
	}
}

// selectAndMark runs the selection algorithm and records the dispatch in one
// critical section.
func (p *Pool) selectAndMark() (Key, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := p.now()

	var best *model.Credential
	for _, c := range p.keys {
		c.ResetDailyIfDue(now)
		if c.ClearExpiredBlock(now) {
			continue
		}
		if !c.LastRequest.IsZero() && now.Sub(c.LastRequest) < p.pacing {
			continue
		}
		if c.DailyRequests >= p.requestsPerDay {
			continue
		}
		if best == nil || c.RequestsUsed < best.RequestsUsed {
			best = c
		}
	}

	degraded := false
	if best == nil {
		degraded = true
		best = p.keys[0]
		for _, c := range p.keys[1:] {
			if c.LastRequest.Before(best.LastRequest) {
				best = c
			}
		}
	}

	best.MarkUsed(now)
	return Key{ID: best.ID, Secret: best.Secret}, degraded
}

// MarkRateLimited blocks the credential for one minute after a provider
// throttle signal (HTTP 429 or an in-band rate-limit note).
func (p *Pool) MarkRateLimited(id string) {
	p.block(id, rateLimitBlock, "rate limited")
}

// MarkForbidden blocks the credential for 24h after an auth/quota failure
// (HTTP 403).
func (p *Pool) MarkForbidden(id string) {
	p.block(id, forbiddenBlock, "forbidden")
}

func (p *Pool) block(id string, window time.Duration, reason string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for _, c := range p.keys {
		if c.ID == id {
			c.Block(p.now(), window)
			p.logger.Warn("credential blocked",
				"provider", p.provider,
				"key", id,
				"reason", reason,
				"until", c.BlockedUntil,
			)
			return
		}
	}
}

// Size returns the number of credentials in the pool.
func (p *Pool) Size() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.keys)
}

// LeastUsed returns the unblocked credential with the fewest daily requests,
// without marking it used. Used by the user-key resolver when it drains the
// backup pool; ok is false when every credential is blocked.
func (p *Pool) LeastUsed() (Key, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := p.now()
	var best *model.Credential
	for _, c := range p.keys {
		if c.ClearExpiredBlock(now) {
			continue
		}
		if best == nil || c.DailyRequests < best.DailyRequests {
			best = c
		}
	}
	if best == nil {
		return Key{}, false
	}
	return Key{ID: best.ID, Secret: best.Secret}, true
}

// Keys returns every credential's lease, for serialized validation probes.
// Probing with these does not touch pool accounting.
func (p *Pool) Keys() []Key {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make([]Key, 0, len(p.keys))
	for _, c := range p.keys {
		out = append(out, Key{ID: c.ID, Secret: c.Secret})
	}
	return out
}

// Status snapshots pool health for the administrative surface. Secrets are
// masked; block flags are refreshed against the current clock first.
func (p *Pool) Status() model.ServiceStatus {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := p.now()
	status := model.ServiceStatus{
		TotalKeys: len(p.keys),
		Keys:      make([]model.KeyUsage, 0, len(p.keys)),
	}

	for _, c := range p.keys {
		blocked := c.ClearExpiredBlock(now)
		if blocked {
			status.BlockedKeys++
		} else {
			status.ActiveKeys++
		}
		status.TotalRequests += c.RequestsUsed
		status.TotalDailyRequests += c.DailyRequests
		status.Keys = append(status.Keys, model.KeyUsage{
			ID:            c.ID,
			MaskedSecret:  MaskSecret(c.Secret),
			RequestsUsed:  c.RequestsUsed,
			DailyRequests: c.DailyRequests,
			Blocked:       blocked,
			BlockedUntil:  c.BlockedUntil,
			LastRequest:   c.LastRequest,
		})
	}

	return status
}

// MaskSecret keeps the first four characters of a secret and obscures the
// rest, so keys are recognizable in status output without being usable.
func MaskSecret(secret string) string {
	if len(secret) <= 4 {
		return strings.Repeat("*", len(secret))
	}
	return secret[:4] + strings.Repeat("*", len(secret)-4)
}
