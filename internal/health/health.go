// Package health probes the services the translation client depends on. The
// health command and the bridge expose its results so a user can tell whether
// a stuck job is a local problem or a backend outage.
package health

import (
	"context"
	"database/sql"
	"net/http"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/opentranslator/client/internal/httpclient"
)

// Status represents the health of a component
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusUnhealthy Status = "unhealthy"
	StatusDegraded  Status = "degraded"
	StatusSkipped   Status = "skipped"
)

// ComponentHealth is the probe result for one dependency
type ComponentHealth struct {
	Status   Status `json:"status"`
	Message  string `json:"message,omitempty"`
	Duration string `json:"duration,omitempty"`
}

// Report is the aggregate over all configured dependencies
type Report struct {
	Status     Status                     `json:"status"`
	Timestamp  string                     `json:"timestamp"`
	Components map[string]ComponentHealth `json:"components"`
}

// Checker probes the client's dependencies. Optional dependencies left nil
// are reported as skipped rather than unhealthy.
type Checker struct {
	api          *httpclient.Client
	identityURL  string
	redis        *redis.Client
	historyDB    *sql.DB
	archiveCheck func(ctx context.Context) error
	checkTimeout time.Duration
}

// CheckerConfig holds the dependencies to probe
type CheckerConfig struct {
	API          *httpclient.Client
	IdentityURL  string
	Redis        *redis.Client
	HistoryDB    *sql.DB
	ArchiveCheck func(ctx context.Context) error
	Timeout      time.Duration
}

// NewChecker creates a health checker
func NewChecker(cfg *CheckerConfig) *Checker {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 5 * time.Second
	}
	return &Checker{
		api:          cfg.API,
		identityURL:  cfg.IdentityURL,
		redis:        cfg.Redis,
		historyDB:    cfg.HistoryDB,
		archiveCheck: cfg.ArchiveCheck,
		checkTimeout: timeout,
	}
}

// CheckBackend probes the translation backend via its public balance endpoint,
// which needs no credentials.
func (c *Checker) CheckBackend(ctx context.Context) ComponentHealth {
	start := time.Now()

	if c.api == nil {
		return ComponentHealth{Status: StatusUnhealthy, Message: "backend not configured"}
	}

	resp, err := c.api.Do(ctx, http.MethodGet, "/balance/public/balance",
		httpclient.WithTimeout(c.checkTimeout))
	if err != nil {
		return ComponentHealth{
			Status:   StatusUnhealthy,
			Message:  "backend unreachable",
			Duration: time.Since(start).String(),
		}
	}
	if resp.StatusCode >= 500 {
		return ComponentHealth{
			Status:   StatusDegraded,
			Message:  "backend responding with server errors",
			Duration: time.Since(start).String(),
		}
	}

	return ComponentHealth{Status: StatusHealthy, Duration: time.Since(start).String()}
}

// CheckIdentity probes the identity provider. Any HTTP response counts as
// reachable; the endpoint is unauthenticated so a 4xx still proves the
// service is up.
func (c *Checker) CheckIdentity(ctx context.Context) ComponentHealth {
	start := time.Now()

	if c.identityURL == "" {
		return ComponentHealth{Status: StatusUnhealthy, Message: "identity provider not configured"}
	}

	ctx, cancel := context.WithTimeout(ctx, c.checkTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.identityURL, nil)
	if err != nil {
		return ComponentHealth{Status: StatusUnhealthy, Message: "invalid identity URL"}
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return ComponentHealth{
			Status:   StatusUnhealthy,
			Message:  "identity provider unreachable",
			Duration: time.Since(start).String(),
		}
	}
	resp.Body.Close()

	return ComponentHealth{Status: StatusHealthy, Duration: time.Since(start).String()}
}

// CheckRedis probes the shared snapshot store
func (c *Checker) CheckRedis(ctx context.Context) ComponentHealth {
	start := time.Now()

	if c.redis == nil {
		return ComponentHealth{Status: StatusSkipped, Message: "snapshot store not configured"}
	}

	ctx, cancel := context.WithTimeout(ctx, c.checkTimeout)
	defer cancel()

	if err := c.redis.Ping(ctx).Err(); err != nil {
		return ComponentHealth{
			Status:   StatusDegraded,
			Message:  "snapshot store unreachable, falling back to in-memory cache",
			Duration: time.Since(start).String(),
		}
	}

	return ComponentHealth{Status: StatusHealthy, Duration: time.Since(start).String()}
}

// CheckHistory probes the local job history database
func (c *Checker) CheckHistory(ctx context.Context) ComponentHealth {
	start := time.Now()

	if c.historyDB == nil {
		return ComponentHealth{Status: StatusSkipped, Message: "history not configured"}
	}

	ctx, cancel := context.WithTimeout(ctx, c.checkTimeout)
	defer cancel()

	var result int
	if err := c.historyDB.QueryRowContext(ctx, "SELECT 1").Scan(&result); err != nil {
		return ComponentHealth{
			Status:   StatusDegraded,
			Message:  "history database query failed",
			Duration: time.Since(start).String(),
		}
	}

	return ComponentHealth{Status: StatusHealthy, Duration: time.Since(start).String()}
}

// CheckArchive probes the export archive
func (c *Checker) CheckArchive(ctx context.Context) ComponentHealth {
	start := time.Now()

	if c.archiveCheck == nil {
		return ComponentHealth{Status: StatusSkipped, Message: "archive not configured"}
	}

	ctx, cancel := context.WithTimeout(ctx, c.checkTimeout)
	defer cancel()

	if err := c.archiveCheck(ctx); err != nil {
		return ComponentHealth{
			Status:   StatusDegraded,
			Message:  "archive unreachable, exports stay local",
			Duration: time.Since(start).String(),
		}
	}

	return ComponentHealth{Status: StatusHealthy, Duration: time.Since(start).String()}
}

// Check probes all dependencies in parallel and aggregates the result. The
// overall status is unhealthy only when a required dependency (backend,
// identity) is down; optional dependency failures degrade it.
func (c *Checker) Check(ctx context.Context) *Report {
	report := &Report{
		Status:     StatusHealthy,
		Timestamp:  time.Now().UTC().Format(time.RFC3339),
		Components: make(map[string]ComponentHealth),
	}

	var wg sync.WaitGroup
	var mu sync.Mutex

	checks := map[string]func(context.Context) ComponentHealth{
		"backend":  c.CheckBackend,
		"identity": c.CheckIdentity,
		"redis":    c.CheckRedis,
		"history":  c.CheckHistory,
		"archive":  c.CheckArchive,
	}

	for name, check := range checks {
		wg.Add(1)
		go func(n string, ch func(context.Context) ComponentHealth) {
			defer wg.Done()
			result := ch(ctx)
			mu.Lock()
			report.Components[n] = result
			mu.Unlock()
		}(name, check)
	}

	wg.Wait()

	required := map[string]bool{"backend": true, "identity": true}
	for name, comp := range report.Components {
		switch comp.Status {
		case StatusUnhealthy:
			if required[name] {
				report.Status = StatusUnhealthy
			} else if report.Status == StatusHealthy {
				report.Status = StatusDegraded
			}
		case StatusDegraded:
			if report.Status == StatusHealthy {
				report.Status = StatusDegraded
			}
		}
	}

	return report
}
