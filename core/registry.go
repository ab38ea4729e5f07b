package core

// Subsystem Registry: dependency-ordered lifecycle management, periodic
// health polling and graceful degradation for optional subsystems.
// Follows node.go's lifecycle pattern (Start/Stop over a fixed component
// list), generalized from a hardcoded start order to a declared-dependency
// topological sort, using sourcegraph/conc for structured per-subsystem
// goroutines and go.uber.org/multierr to aggregate every subsystem's
// shutdown error instead of returning only the first one.

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"github.com/sourcegraph/conc"
	"go.uber.org/multierr"
)

// HealthStatus is a subsystem's self-reported condition.
type HealthStatus int

const (
	HealthUnknown HealthStatus = iota
	HealthHealthy
	HealthDegraded
	HealthError
	HealthDisabled
)

func (s HealthStatus) String() string {
	switch s {
	case HealthHealthy:
		return "Healthy"
	case HealthDegraded:
		return "Degraded"
	case HealthError:
		return "Error"
	case HealthDisabled:
		return "Disabled"
	default:
		return "Unknown"
	}
}

// SubsystemInfo declares a subsystem's identity, dependency edges, the
// topics/payload types it produces and consumes, and whether it is
// required for the node to be considered healthy.
type SubsystemInfo struct {
	ID         SubsystemId
	Name       string
	DependsOn  []SubsystemId
	Publishes  []PayloadType
	Subscribes []Topic
	Required   bool
}

// Subsystem is the lifecycle contract every registered component satisfies.
type Subsystem interface {
	Info() SubsystemInfo
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	HealthCheck(ctx context.Context) HealthStatus
	ReloadConfig(raw []byte) error
}

type registeredSubsystem struct {
	sub    Subsystem
	status HealthStatus
}

// RegistryConfig configures health polling cadence.
type RegistryConfig struct {
	HealthPollInterval time.Duration
}

func (c RegistryConfig) withDefaults() RegistryConfig {
	if c.HealthPollInterval == 0 {
		c.HealthPollInterval = 5 * time.Second
	}
	return c
}

// Registry wires subsystems together, starting them in dependency order,
// polling health at a fixed cadence, and isolating failures according to
// each subsystem's required-vs-optional status.
type Registry struct {
	mu   sync.RWMutex
	subs map[SubsystemId]*registeredSubsystem

	cfg     RegistryConfig
	logger  *logrus.Logger
	metrics *registryMetrics

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewRegistry constructs an empty Registry.
func NewRegistry(cfg RegistryConfig, logger *logrus.Logger) *Registry {
	cfg = cfg.withDefaults()
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Registry{
		subs:    make(map[SubsystemId]*registeredSubsystem),
		cfg:     cfg,
		logger:  logger,
		metrics: newRegistryMetrics(),
	}
}

// Register adds sub to the registry. Must be called before Start.
func (r *Registry) Register(sub Subsystem) {
	r.mu.Lock()
	defer r.mu.Unlock()
	info := sub.Info()
	r.subs[info.ID] = &registeredSubsystem{sub: sub, status: HealthUnknown}
}

// topoOrder computes a dependency-respecting start order via Kahn's
// algorithm, sorted by SubsystemId for determinism among independents, and
// reports a cycle as an error.
func (r *Registry) topoOrder() ([]SubsystemId, error) {
	inDegree := make(map[SubsystemId]int, len(r.subs))
	adjacency := make(map[SubsystemId][]SubsystemId)
	for id := range r.subs {
		inDegree[id] = 0
	}
	for id, rs := range r.subs {
		for _, dep := range rs.sub.Info().DependsOn {
			if _, ok := r.subs[dep]; !ok {
				return nil, NewError(ErrInsufficientNodes, "subsystem %d depends on unregistered subsystem %d", id, dep)
			}
			adjacency[dep] = append(adjacency[dep], id)
			inDegree[id]++
		}
	}

	var queue []SubsystemId
	for id, d := range inDegree {
		if d == 0 {
			queue = append(queue, id)
		}
	}
	sort.Slice(queue, func(i, j int) bool { return queue[i] < queue[j] })

	var order []SubsystemId
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		order = append(order, id)
		var next []SubsystemId
		for _, child := range adjacency[id] {
			inDegree[child]--
			if inDegree[child] == 0 {
				next = append(next, child)
			}
		}
		sort.Slice(next, func(i, j int) bool { return next[i] < next[j] })
		queue = append(queue, next...)
		sort.Slice(queue, func(i, j int) bool { return queue[i] < queue[j] })
	}

	if len(order) < len(r.subs) {
		return nil, NewError(ErrCycleDetected, "subsystem dependency graph contains a cycle")
	}
	return order, nil
}

// Start brings up every registered subsystem in dependency order. A
// required subsystem's start failure aborts the whole sequence; an optional
// subsystem's failure marks it Disabled and continues.
func (r *Registry) Start(ctx context.Context) error {
	r.mu.Lock()
	order, err := r.topoOrder()
	r.mu.Unlock()
	if err != nil {
		return err
	}

	for _, id := range order {
		r.mu.RLock()
		rs := r.subs[id]
		r.mu.RUnlock()

		info := rs.sub.Info()
		if startErr := rs.sub.Start(ctx); startErr != nil {
			if info.Required {
				return WrapError(ErrNodeUnhealthy, fmt.Errorf("required subsystem %s failed to start: %w", info.Name, startErr))
			}
			r.logger.WithFields(logrus.Fields{"subsystem": info.Name}).Warn("optional subsystem failed to start, disabling")
			r.mu.Lock()
			rs.status = HealthDisabled
			r.mu.Unlock()
			continue
		}
		r.mu.Lock()
		rs.status = HealthHealthy
		r.mu.Unlock()
	}

	pollCtx, cancel := context.WithCancel(ctx)
	r.cancel = cancel
	r.wg.Add(1)
	go r.healthLoop(pollCtx)

	return nil
}

func (r *Registry) healthLoop(ctx context.Context) {
	defer r.wg.Done()
	ticker := time.NewTicker(r.cfg.HealthPollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.pollOnce(ctx)
		}
	}
}

// pollOnce health-checks every subsystem concurrently (health checks, unlike
// Stop, carry no ordering requirement between subsystems) using conc's
// panic-safe WaitGroup so one subsystem's misbehaving HealthCheck can't take
// down the poll loop.
func (r *Registry) pollOnce(ctx context.Context) {
	r.mu.RLock()
	snapshot := make([]*registeredSubsystem, 0, len(r.subs))
	for _, rs := range r.subs {
		snapshot = append(snapshot, rs)
	}
	r.mu.RUnlock()

	var countMu sync.Mutex
	healthy, degraded := 0, 0

	var wg conc.WaitGroup
	for _, rs := range snapshot {
		rs := rs
		if rs.status == HealthDisabled {
			continue
		}
		wg.Go(func() {
			status := rs.sub.HealthCheck(ctx)
			r.mu.Lock()
			rs.status = status
			r.mu.Unlock()

			countMu.Lock()
			defer countMu.Unlock()
			switch status {
			case HealthHealthy:
				healthy++
			case HealthDegraded:
				degraded++
				r.logger.WithFields(logrus.Fields{"subsystem": rs.sub.Info().Name}).Warn("subsystem degraded")
			case HealthError:
				info := rs.sub.Info()
				r.logger.WithFields(logrus.Fields{"subsystem": info.Name}).Error("subsystem entered error state, stopping it")
				_ = rs.sub.Stop(ctx)
				r.mu.Lock()
				rs.status = HealthDisabled
				r.mu.Unlock()
			}
		})
	}
	wg.Wait()

	r.metrics.subsystemsHealthy.Set(float64(healthy))
	r.metrics.subsystemsDegraded.Set(float64(degraded))
}

// MetricsCollectors exposes the registry's Prometheus collectors for
// process-level registration.
func (r *Registry) MetricsCollectors() []prometheus.Collector {
	return r.metrics.Collectors()
}

// Status returns a snapshot of every registered subsystem's current health.
func (r *Registry) Status() map[SubsystemId]HealthStatus {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[SubsystemId]HealthStatus, len(r.subs))
	for id, rs := range r.subs {
		out[id] = rs.status
	}
	return out
}

// Shutdown stops health polling, then stops every subsystem one at a time in
// reverse start order — a subsystem is only asked to stop once everything
// that depends on it has already stopped — aggregating every stop error via
// multierr rather than aborting at the first failure.
func (r *Registry) Shutdown(ctx context.Context) error {
	if r.cancel != nil {
		r.cancel()
	}
	r.wg.Wait()

	r.mu.RLock()
	order, _ := r.topoOrder()
	r.mu.RUnlock()

	var errs error
	for i := len(order) - 1; i >= 0; i-- {
		id := order[i]
		r.mu.RLock()
		rs := r.subs[id]
		r.mu.RUnlock()
		if err := rs.sub.Stop(ctx); err != nil {
			errs = multierr.Append(errs, err)
		}
	}
	return errs
}
