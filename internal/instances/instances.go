// Package instances provides resolvers for target database instances. The
// instance registry proper lives in the approval-workflow store; these
// resolvers cover standalone deployments and tests.
package instances

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"

	"querygate/internal/domain"
)

// StaticResolver serves instances from an in-memory set.
type StaticResolver struct {
	mu        sync.RWMutex
	instances map[string]*domain.TargetInstance
}

// NewStaticResolver creates a resolver over the given instances.
func NewStaticResolver(insts ...*domain.TargetInstance) *StaticResolver {
	r := &StaticResolver{instances: make(map[string]*domain.TargetInstance, len(insts))}
	for _, inst := range insts {
		r.instances[inst.ID] = inst
	}
	return r
}

// Add registers or replaces an instance.
func (r *StaticResolver) Add(inst *domain.TargetInstance) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.instances[inst.ID] = inst
}

// ResolveInstance implements domain.InstanceResolver.
func (r *StaticResolver) ResolveInstance(_ context.Context, instanceID string) (*domain.TargetInstance, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	inst, ok := r.instances[instanceID]
	if !ok {
		return nil, domain.ErrValidation("unknown instance %q", instanceID)
	}
	return inst, nil
}

// fileInstance is the on-disk JSON shape of one instance entry.
type fileInstance struct {
	ID               string   `json:"id"`
	Name             string   `json:"name"`
	Protocol         string   `json:"protocol"`
	Host             string   `json:"host"`
	Port             int      `json:"port"`
	Username         string   `json:"username"`
	Password         string   `json:"password"`
	ConnectionString string   `json:"connection_string"`
	Databases        []string `json:"databases"`
}

// LoadFile reads a JSON array of instances and returns a StaticResolver
// over them. Used by standalone deployments that have no workflow store.
func LoadFile(path string) (*StaticResolver, error) {
	data, err := os.ReadFile(path) //nolint:gosec // path comes from configuration
	if err != nil {
		return nil, fmt.Errorf("read instances file: %w", err)
	}

	var entries []fileInstance
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("parse instances file %s: %w", path, err)
	}

	resolver := NewStaticResolver()
	for _, e := range entries {
		proto, err := domain.ParseProtocol(e.Protocol)
		if err != nil {
			return nil, fmt.Errorf("instance %q: %w", e.ID, err)
		}
		resolver.Add(&domain.TargetInstance{
			ID:               e.ID,
			Name:             e.Name,
			Protocol:         proto,
			Host:             e.Host,
			Port:             e.Port,
			Username:         e.Username,
			Password:         e.Password,
			ConnectionString: e.ConnectionString,
			Databases:        e.Databases,
		})
	}
	return resolver, nil
}
