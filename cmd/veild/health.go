// health.go - Health monitoring for the veil daemon
package main

import (
	"context"
	"net/http"
	"sort"
	"sync"
	"time"
)

// HealthStatus represents the health status of a component
type HealthStatus string

const (
	Healthy   HealthStatus = "healthy"
	Degraded  HealthStatus = "degraded"
	Unhealthy HealthStatus = "unhealthy"
)

// ComponentHealth is the last observed state of one component.
type ComponentHealth struct {
	Name      string        `json:"name"`
	Status    HealthStatus  `json:"status"`
	Message   string        `json:"message"`
	LastCheck time.Time     `json:"last_check"`
	Latency   time.Duration `json:"latency,omitempty"`
}

// SystemHealth aggregates every component.
type SystemHealth struct {
	OverallStatus HealthStatus      `json:"overall_status"`
	Timestamp     time.Time         `json:"timestamp"`
	Components    []ComponentHealth `json:"components"`
	Uptime        time.Duration     `json:"uptime"`
	Version       string            `json:"version"`
}

// HTTPStatus maps the overall status to a response code. A degraded
// daemon still serves traffic.
func (s *SystemHealth) HTTPStatus() int {
	if s.OverallStatus == Unhealthy {
		return http.StatusServiceUnavailable
	}
	return http.StatusOK
}

type component struct {
	state ComponentHealth
	check func(context.Context) error

	// A failing optional component degrades the daemon instead of taking
	// it down.
	optional bool
}

// HealthChecker runs the registered component checks.
type HealthChecker struct {
	mu         sync.Mutex
	components map[string]*component
	startTime  time.Time
	version    string
}

// NewHealthChecker creates a new health checker
func NewHealthChecker(version string) *HealthChecker {
	return &HealthChecker{
		components: make(map[string]*component),
		startTime:  time.Now(),
		version:    version,
	}
}

// Register adds a required component.
func (hc *HealthChecker) Register(name string, check func(context.Context) error) {
	hc.register(name, check, false)
}

// RegisterOptional adds a component whose failure only degrades health.
func (hc *HealthChecker) RegisterOptional(name string, check func(context.Context) error) {
	hc.register(name, check, true)
}

func (hc *HealthChecker) register(name string, check func(context.Context) error, optional bool) {
	hc.mu.Lock()
	defer hc.mu.Unlock()
	hc.components[name] = &component{
		state:    ComponentHealth{Name: name, Status: Healthy, Message: "registered", LastCheck: time.Now()},
		check:    check,
		optional: optional,
	}
}

// CheckHealth runs every check and returns the aggregate.
func (hc *HealthChecker) CheckHealth(ctx context.Context) *SystemHealth {
	hc.mu.Lock()
	defer hc.mu.Unlock()

	for _, c := range hc.components {
		start := time.Now()
		err := c.check(ctx)
		c.state.Latency = time.Since(start)
		c.state.LastCheck = time.Now()
		switch {
		case err == nil:
			c.state.Status, c.state.Message = Healthy, "OK"
		case c.optional:
			c.state.Status, c.state.Message = Degraded, err.Error()
		default:
			c.state.Status, c.state.Message = Unhealthy, err.Error()
		}
	}
	return hc.snapshot()
}

// GetHealth returns the last observed state without running checks.
func (hc *HealthChecker) GetHealth() *SystemHealth {
	hc.mu.Lock()
	defer hc.mu.Unlock()
	return hc.snapshot()
}

func (hc *HealthChecker) snapshot() *SystemHealth {
	overall := Healthy
	out := make([]ComponentHealth, 0, len(hc.components))
	for _, c := range hc.components {
		switch {
		case c.state.Status == Unhealthy:
			overall = Unhealthy
		case c.state.Status == Degraded && overall == Healthy:
			overall = Degraded
		}
		out = append(out, c.state)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return &SystemHealth{
		OverallStatus: overall,
		Timestamp:     time.Now(),
		Components:    out,
		Uptime:        time.Since(hc.startTime),
		Version:       hc.version,
	}
}
