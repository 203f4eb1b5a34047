package api

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"
)

// HealthStatus represents the overall health of the system.
type HealthStatus struct {
	Status  string                    `json:"status"` // "healthy", "degraded", "unhealthy"
	Version string                    `json:"version"`
	Uptime  string                    `json:"uptime"`
	Checks  map[string]ComponentCheck `json:"checks"`
}

// ComponentCheck represents the health of a single component.
type ComponentCheck struct {
	Status  string `json:"status"` // "up", "down", "degraded"
	Latency string `json:"latency,omitempty"`
	Message string `json:"message,omitempty"`
}

const healthVersion = "1.0.0"

// HealthChecker probes the service's dependencies. Either dependency can
// be nil; its check then reports "not configured" without failing overall
// health.
type HealthChecker struct {
	db        *sql.DB
	rdb       *redis.Client
	startTime time.Time
}

// NewHealthChecker creates a health checker.
func NewHealthChecker(db *sql.DB, rdb *redis.Client) *HealthChecker {
	return &HealthChecker{db: db, rdb: rdb, startTime: time.Now()}
}

// SetHealth attaches a health checker to the server.
func (s *Server) SetHealth(hc *HealthChecker) { s.health = hc }

// HealthCheck reports dependency health. Always returns 200; the status
// field in the body conveys health.
//
//	GET /health
func (s *Server) HealthCheck(w http.ResponseWriter, r *http.Request) {
	if s.health == nil {
		respondJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
		return
	}

	checks := map[string]ComponentCheck{
		"database": s.health.checkDatabase(r.Context()),
		"redis":    s.health.checkRedis(r.Context()),
	}

	overall := "healthy"
	for _, c := range checks {
		if c.Status == "down" {
			overall = "unhealthy"
			break
		}
		if c.Status == "degraded" {
			overall = "degraded"
		}
	}

	respondJSON(w, http.StatusOK, HealthStatus{
		Status:  overall,
		Version: healthVersion,
		Uptime:  time.Since(s.health.startTime).Round(time.Second).String(),
		Checks:  checks,
	})
}

// checkDatabase pings PostgreSQL with a 3-second timeout.
func (hc *HealthChecker) checkDatabase(ctx context.Context) ComponentCheck {
	if hc.db == nil {
		return ComponentCheck{Status: "down", Message: "not configured"}
	}

	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	start := time.Now()
	err := hc.db.PingContext(pingCtx)
	latency := time.Since(start)

	if err != nil {
		return ComponentCheck{Status: "down", Latency: latency.String(), Message: fmt.Sprintf("ping failed: %v", err)}
	}
	status := "up"
	if latency > time.Second {
		status = "degraded"
	}
	return ComponentCheck{Status: status, Latency: latency.String()}
}

// checkRedis pings Redis with a 3-second timeout. Redis only backs rate
// limiting, so a down Redis degrades rather than fails the service.
func (hc *HealthChecker) checkRedis(ctx context.Context) ComponentCheck {
	if hc.rdb == nil {
		return ComponentCheck{Status: "degraded", Message: "not configured"}
	}

	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	start := time.Now()
	err := hc.rdb.Ping(pingCtx).Err()
	latency := time.Since(start)

	if err != nil {
		return ComponentCheck{Status: "degraded", Latency: latency.String(), Message: fmt.Sprintf("ping failed: %v", err)}
	}
	return ComponentCheck{Status: "up", Latency: latency.String()}
}
