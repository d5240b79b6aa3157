// Package engine implements the query execution core: a relational driver,
// a document driver, and a facade that selects between them by protocol.
package engine

import (
	"context"
	"log/slog"

	"querygate/internal/config"
	"querygate/internal/domain"
	"querygate/internal/registry"
)

// Facade exposes a uniform execute/validate/test/stats/disconnect contract
// over the two protocol drivers. Dispatch is an explicit switch on the
// parsed protocol; unknown protocols fail before any connection work occurs.
type Facade struct {
	relational *RelationalDriver
	document   *DocumentDriver
	instances  domain.InstanceResolver
	registry   *registry.Registry
}

// New creates the facade and both drivers over one shared registry.
func New(cfg config.EngineConfig, reg *registry.Registry, instances domain.InstanceResolver, logger *slog.Logger) *Facade {
	return &Facade{
		relational: NewRelationalDriver(cfg, reg, instances, logger),
		document:   NewDocumentDriver(cfg, reg, instances, logger),
		instances:  instances,
		registry:   reg,
	}
}

// Execute validates and runs the request against the driver its protocol
// names.
func (f *Facade) Execute(ctx context.Context, req domain.ExecutionRequest) (*domain.ExecutionResult, error) {
	proto, err := domain.ParseProtocol(req.Protocol)
	if err != nil {
		return nil, err
	}
	switch proto {
	case domain.ProtocolRelational:
		return f.relational.Execute(ctx, req)
	case domain.ProtocolDocument:
		return f.document.Execute(ctx, req)
	default:
		return nil, domain.ErrValidation("unknown protocol %q", req.Protocol)
	}
}

// ValidateQuery checks query text for the given protocol without touching a
// connection. Returned warnings are advisory.
func (f *Facade) ValidateQuery(protocol, text string) ([]domain.Warning, error) {
	proto, err := domain.ParseProtocol(protocol)
	if err != nil {
		return nil, err
	}
	switch proto {
	case domain.ProtocolRelational:
		return f.relational.Validate(text)
	case domain.ProtocolDocument:
		return f.document.Validate(text)
	default:
		return nil, domain.ErrValidation("unknown protocol %q", protocol)
	}
}

// TestConnection probes the instance and reports latency. The probe result
// carries reachability failures; the returned error covers lookup problems
// only.
func (f *Facade) TestConnection(ctx context.Context, instanceID, database string) (*domain.ConnectionTestResult, error) {
	inst, err := f.instances.ResolveInstance(ctx, instanceID)
	if err != nil {
		return nil, err
	}
	switch inst.Protocol {
	case domain.ProtocolRelational:
		return f.relational.TestConnection(ctx, inst, database), nil
	case domain.ProtocolDocument:
		return f.document.TestConnection(ctx, inst), nil
	default:
		return nil, domain.ErrValidation("instance %q has unknown protocol %q", instanceID, inst.Protocol)
	}
}

// PoolStats reports the connection registry snapshot.
func (f *Facade) PoolStats(ctx context.Context) registry.Stats {
	return f.registry.Stats(ctx)
}

// CloseAllConnections closes every cached connection. Used only at process
// shutdown.
func (f *Facade) CloseAllConnections(ctx context.Context) {
	f.registry.DisconnectAll(ctx)
}
