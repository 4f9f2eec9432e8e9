package provisioning

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"
)

const defaultSnapshotTimeout = 5 * time.Second

// Registry dispatches snapshots to the source registered for each service type.
type Registry struct {
	mu      sync.RWMutex
	sources map[string]MetricSource
	timeout time.Duration
}

func NewRegistry(timeout time.Duration, sources ...MetricSource) *Registry {
	if timeout <= 0 {
		timeout = defaultSnapshotTimeout
	}
	r := &Registry{
		sources: make(map[string]MetricSource, len(sources)),
		timeout: timeout,
	}
	for _, src := range sources {
		r.Register(src)
	}
	return r
}

// Register adds or replaces the source for its service type.
func (r *Registry) Register(src MetricSource) {
	r.mu.Lock()
	r.sources[src.ServiceType()] = src
	r.mu.Unlock()
}

func (r *Registry) ServiceTypes() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.sources))
	for k := range r.sources {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Snapshot fetches metrics for instance within the registry timeout. All
// failures come back as *CollectorError wrapping ErrCollectorTimeout or
// ErrCollectorUnavailable.
func (r *Registry) Snapshot(ctx context.Context, instance ServiceInstance) (MetricSnapshot, error) {
	r.mu.RLock()
	src, ok := r.sources[instance.ServiceType]
	r.mu.RUnlock()
	if !ok {
		return MetricSnapshot{}, &CollectorError{
			InstanceID: instance.ID,
			Err:        fmt.Errorf("%w: no source for service type %q", ErrCollectorUnavailable, instance.ServiceType),
		}
	}

	callCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	type result struct {
		snap MetricSnapshot
		err  error
	}
	done := make(chan result, 1)
	go func() {
		snap, err := src.Snapshot(callCtx, instance)
		done <- result{snap: snap, err: err}
	}()

	select {
	case res := <-done:
		if res.err != nil {
			if errors.Is(res.err, context.DeadlineExceeded) {
				return MetricSnapshot{}, &CollectorError{InstanceID: instance.ID, Err: fmt.Errorf("%w: %v", ErrCollectorTimeout, res.err)}
			}
			return MetricSnapshot{}, &CollectorError{InstanceID: instance.ID, Err: fmt.Errorf("%w: %v", ErrCollectorUnavailable, res.err)}
		}
		return res.snap, nil
	case <-callCtx.Done():
		return MetricSnapshot{}, &CollectorError{InstanceID: instance.ID, Err: fmt.Errorf("%w: %v", ErrCollectorTimeout, callCtx.Err())}
	}
}
