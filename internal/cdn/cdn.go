// Package cdn implements the CDNPurger (spec §4.10/§5): a serial queue
// (concurrency 1) of cache-invalidation jobs, each up to 30 URLs, retried
// up to 3 times with a 60s back-off on rate-limit responses and a 5s
// back-off on anything else. Failures are logged but never block the
// deletion they were scheduled from.
//
// New component; the serial queue is grounded on the teacher's
// syncLoop/StartCompaction ticker-goroutine idiom (internal/storage/compaction.go).
// golang.org/x/time/rate (promoted from goartstore's indirect dependency,
// per SPEC_FULL.md) provides the purge-call rate limit.
package cdn

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/opsworld30/safe/internal/logging"
)

var log = logging.For("cdn")

// Config carries auth (first of {API token, user service key, API key +
// email} is used, per spec §4.10) and queue tuning.
type Config struct {
	Enabled        bool
	BaseURL        string
	APIToken       string
	UserServiceKey string
	APIKey         string
	Email          string
	ChunkSize      int
	MaxRetries     int
}

// Purger owns the serial job queue.
type Purger struct {
	cfg     Config
	client  *http.Client
	limiter *rate.Limiter
	queue   chan []string
}

// New constructs a Purger and starts its single worker goroutine. If
// cfg.Enabled is false, Schedule is a no-op and no goroutine is started.
func New(cfg Config) *Purger {
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = 30
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	p := &Purger{
		cfg:     cfg,
		client:  &http.Client{Timeout: 15 * time.Second},
		limiter: rate.NewLimiter(rate.Every(200*time.Millisecond), 5),
		queue:   make(chan []string, 1024),
	}
	if cfg.Enabled {
		go p.loop()
	}
	return p
}

// Schedule enqueues names for purging, split into chunks of at most
// ChunkSize. Only the given names are queued; thumbnail URLs are not
// added for them. It never blocks
// the caller's deletion path — spec §4.7 step 2's "not awaited".
func (p *Purger) Schedule(names []string) {
	if !p.cfg.Enabled || len(names) == 0 {
		return
	}
	for _, c := range chunkStrings(names, p.cfg.ChunkSize) {
		select {
		case p.queue <- c:
		default:
			log.Warn("cdn purge queue full, dropping chunk", "size", len(c))
		}
	}
}

func (p *Purger) loop() {
	for names := range p.queue {
		p.purgeWithRetry(names)
	}
}

type rateLimitedError struct{ status int }

func (e rateLimitedError) Error() string { return fmt.Sprintf("cdn: rate limited (status %d)", e.status) }

func (p *Purger) purgeWithRetry(names []string) {
	var err error
	for attempt := 0; attempt <= p.cfg.MaxRetries; attempt++ {
		err = p.purgeOnce(names)
		if err == nil {
			return
		}

		wait := 5 * time.Second
		if _, limited := err.(rateLimitedError); limited {
			wait = 60 * time.Second
		}
		if attempt < p.cfg.MaxRetries {
			log.Warn("cdn purge failed, retrying", "attempt", attempt+1, "err", err, "backoff", wait)
			time.Sleep(wait)
		}
	}
	log.Error("cdn purge failed after retries", "err", err, "count", len(names))
}

func (p *Purger) purgeOnce(names []string) error {
	if err := p.limiter.Wait(context.Background()); err != nil {
		return err
	}

	body, err := json.Marshal(map[string]any{"files": names})
	if err != nil {
		return fmt.Errorf("cdn: encoding purge body: %w", err)
	}

	req, err := http.NewRequest(http.MethodPost, strings.TrimRight(p.cfg.BaseURL, "/")+"/purge_cache", strings.NewReader(string(body)))
	if err != nil {
		return fmt.Errorf("cdn: building request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	p.applyAuth(req)

	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("cdn: request failed: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return rateLimitedError{status: resp.StatusCode}
	case resp.StatusCode >= 400:
		return fmt.Errorf("cdn: purge request returned status %d", resp.StatusCode)
	}
	return nil
}

// applyAuth uses the first available credential, per spec §4.10.
func (p *Purger) applyAuth(req *http.Request) {
	switch {
	case p.cfg.APIToken != "":
		req.Header.Set("Authorization", "Bearer "+p.cfg.APIToken)
	case p.cfg.UserServiceKey != "":
		req.Header.Set("X-Auth-User-Service-Key", p.cfg.UserServiceKey)
	case p.cfg.APIKey != "" && p.cfg.Email != "":
		req.Header.Set("X-Auth-Email", p.cfg.Email)
		req.Header.Set("X-Auth-Key", p.cfg.APIKey)
	}
}

func chunkStrings(values []string, size int) [][]string {
	var out [][]string
	for len(values) > 0 {
		n := size
		if n > len(values) {
			n = len(values)
		}
		out = append(out, values[:n])
		values = values[n:]
	}
	return out
}
