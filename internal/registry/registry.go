// Package registry implements the thread-safe set of locally-advertised
// service instances, grouped by service type. Concurrent readers (the
// Responder, building replies) never block each other; a writer holds
// the lock only for the duration of a single map operation.
package registry

import (
	"fmt"
	"sync"

	"github.com/pebblemesh/beacon/internal/errors"
	"github.com/pebblemesh/beacon/internal/types"
)

// Registry maps service type to the set of instances advertising it.
type Registry struct {
	mu      sync.RWMutex
	devices map[string]map[string]types.Instance
}

// New returns an empty Registry.
func New() *Registry {
	return &Registry{devices: make(map[string]map[string]types.Instance)}
}

// Register idempotently inserts instance into its service-type bucket.
// The instance must pass types.Validate first.
func (r *Registry) Register(instance types.Instance) error {
	if err := types.Validate(instance); err != nil {
		return err
	}

	st := instance.ServiceType()

	r.mu.Lock()
	defer r.mu.Unlock()

	bucket, ok := r.devices[st]
	if !ok {
		bucket = make(map[string]types.Instance)
		r.devices[st] = bucket
	}
	bucket[instance.Name] = instance
	return nil
}

// Unregister removes instance, deleting the service-type bucket if it
// becomes empty.
func (r *Registry) Unregister(instance types.Instance) error {
	st := instance.ServiceType()

	r.mu.Lock()
	defer r.mu.Unlock()

	bucket, ok := r.devices[st]
	if !ok {
		return nil
	}
	delete(bucket, instance.Name)
	if len(bucket) == 0 {
		delete(r.devices, st)
	}
	return nil
}

// InstanceNames enumerates the names of every instance registered under
// serviceType. Returns an error if the bucket is absent.
func (r *Registry) InstanceNames(serviceType string) ([]string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	bucket, ok := r.devices[serviceType]
	if !ok {
		return nil, fmt.Errorf("registry: unknown service type %q", serviceType)
	}

	names := make([]string, 0, len(bucket))
	for name := range bucket {
		names = append(names, name)
	}
	return names, nil
}

// Instances enumerates every Instance registered under serviceType.
func (r *Registry) Instances(serviceType string) ([]types.Instance, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	bucket, ok := r.devices[serviceType]
	if !ok {
		return nil, fmt.Errorf("registry: unknown service type %q", serviceType)
	}

	out := make([]types.Instance, 0, len(bucket))
	for _, inst := range bucket {
		out = append(out, inst)
	}
	return out, nil
}

// Instance derives the service type from fullName and looks the
// instance up within that bucket.
func (r *Registry) Instance(fullName string) (types.Instance, error) {
	placeholder := types.Instance{Name: fullName}
	st := placeholder.ServiceType()

	r.mu.RLock()
	defer r.mu.RUnlock()

	bucket, ok := r.devices[st]
	if !ok {
		return types.Instance{}, &errors.ValidationError{Field: "name", Value: fullName, Message: "unknown service type"}
	}
	inst, ok := bucket[fullName]
	if !ok {
		return types.Instance{}, &errors.ValidationError{Field: "name", Value: fullName, Message: "instance not found"}
	}
	return inst, nil
}

// ServiceTypes returns every service type with at least one registered
// instance.
func (r *Registry) ServiceTypes() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]string, 0, len(r.devices))
	for st := range r.devices {
		out = append(out, st)
	}
	return out
}
