// Package health runs readiness checks (database, claim policy, Redis) for the HTTP /readyz
// endpoint and the standard gRPC health service.
package health

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// checkTimeout bounds one readiness check.
const checkTimeout = 2 * time.Second

// Pinger is implemented by *sql.DB.
type Pinger interface {
	PingContext(ctx context.Context) error
}

// PolicyChecker is implemented by the OPA claim policy evaluator.
type PolicyChecker interface {
	HealthCheck(ctx context.Context) error
}

// Check is one named readiness check.
type Check func(ctx context.Context) error

// Checker aggregates readiness checks. The zero value has no checks and is always ready.
type Checker struct {
	mu     sync.RWMutex
	checks map[string]Check
}

// NewChecker returns an empty Checker.
func NewChecker() *Checker {
	return &Checker{checks: make(map[string]Check)}
}

// Add registers fn under name. A nil fn is ignored.
func (c *Checker) Add(name string, fn Check) {
	if fn == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.checks == nil {
		c.checks = make(map[string]Check)
	}
	c.checks[name] = fn
}

// AddPinger registers p.PingContext. A nil p is ignored.
func (c *Checker) AddPinger(name string, p Pinger) {
	if p == nil {
		return
	}
	c.Add(name, p.PingContext)
}

// AddPolicy registers p.HealthCheck. A nil p is ignored.
func (c *Checker) AddPolicy(name string, p PolicyChecker) {
	if p == nil {
		return
	}
	c.Add(name, p.HealthCheck)
}

// Report runs every check and returns "ok" or the error text by name.
func (c *Checker) Report(ctx context.Context) (ready bool, results map[string]string) {
	c.mu.RLock()
	names := make([]string, 0, len(c.checks))
	for name := range c.checks {
		names = append(names, name)
	}
	c.mu.RUnlock()
	sort.Strings(names)

	ready = true
	results = make(map[string]string, len(names))
	for _, name := range names {
		c.mu.RLock()
		fn := c.checks[name]
		c.mu.RUnlock()
		if err := run(ctx, fn); err != nil {
			ready = false
			results[name] = err.Error()
			continue
		}
		results[name] = "ok"
	}
	return ready, results
}

// Ready returns nil when every check passes, otherwise the joined failures.
func (c *Checker) Ready(ctx context.Context) error {
	ok, results := c.Report(ctx)
	if ok {
		return nil
	}
	var errs []error
	for name, msg := range results {
		if msg != "ok" {
			errs = append(errs, fmt.Errorf("%s: %s", name, msg))
		}
	}
	return errors.Join(errs...)
}

func run(ctx context.Context, fn Check) error {
	ctx, cancel := context.WithTimeout(ctx, checkTimeout)
	defer cancel()
	return fn(ctx)
}

// Watch keeps the gRPC health status of services in sync with Ready until ctx is done.
func Watch(ctx context.Context, c *Checker, hs *health.Server, interval time.Duration, logger *zap.Logger, services ...string) {
	if logger == nil {
		logger = zap.NewNop()
	}
	services = append([]string{""}, services...)
	last := healthpb.HealthCheckResponse_UNKNOWN
	update := func() {
		st := healthpb.HealthCheckResponse_SERVING
		if err := c.Ready(ctx); err != nil {
			st = healthpb.HealthCheckResponse_NOT_SERVING
			if last != st {
				logger.Warn("readiness check failed", zap.Error(err))
			}
		}
		if st != last {
			for _, s := range services {
				hs.SetServingStatus(s, st)
			}
			last = st
		}
	}
	update()
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			update()
		}
	}
}
