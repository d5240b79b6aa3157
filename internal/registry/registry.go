// Package registry is the single source of truth for live connections to
// target databases. It caches relational connection pools per
// (instance, database) key and document-store clients per instance,
// preventing unbounded connection creation per request.
package registry

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/robfig/cron/v3"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
	"golang.org/x/sync/singleflight"

	"querygate/internal/config"
	"querygate/internal/domain"
)

// Registry caches live connections keyed by target identity. It is
// constructed once at startup and injected into the drivers; only the
// registry itself mutates the cache.
type Registry struct {
	cfg    config.EngineConfig
	logger *slog.Logger

	mu      sync.RWMutex
	pools   map[string]*pgxpool.Pool
	clients map[string]*mongo.Client

	// connecting deduplicates concurrent first-access handshakes per key so
	// at most one dial is in flight for any document instance.
	connecting singleflight.Group
}

// New creates an empty Registry.
func New(cfg config.EngineConfig, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		cfg:     cfg,
		logger:  logger,
		pools:   make(map[string]*pgxpool.Pool),
		clients: make(map[string]*mongo.Client),
	}
}

// RelationalKey builds the composite cache key for a relational pool.
func RelationalKey(instanceID, database string) string {
	return instanceID + "/" + database
}

// RelationalPool returns the existing pool for (instance, database) or
// creates one sized by the configured max-connections and timeouts.
// Pool creation is lazy: no connection is dialed until a driver acquires one.
func (r *Registry) RelationalPool(ctx context.Context, inst *domain.TargetInstance, database string) (*pgxpool.Pool, error) {
	key := RelationalKey(inst.ID, database)

	r.mu.RLock()
	if pool, ok := r.pools[key]; ok {
		r.mu.RUnlock()
		return pool, nil
	}
	r.mu.RUnlock()

	r.mu.Lock()
	defer r.mu.Unlock()

	// Double-check after acquiring write lock
	if pool, ok := r.pools[key]; ok {
		return pool, nil
	}

	poolCfg, err := pgxpool.ParseConfig(inst.ConnString(database))
	if err != nil {
		return nil, domain.ErrConnection("invalid connection parameters for instance %q: %v", inst.ID, err)
	}
	poolCfg.MaxConns = int32(r.cfg.PoolMaxConns)
	poolCfg.MinConns = 0
	poolCfg.MaxConnIdleTime = r.cfg.PoolIdleTimeout
	poolCfg.ConnConfig.ConnectTimeout = r.cfg.PoolConnectTimeout

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, domain.ErrConnection("create pool for %q: %v", key, err)
	}

	r.logger.Info("relational pool created", "key", key, "max_conns", r.cfg.PoolMaxConns)
	r.pools[key] = pool
	return pool, nil
}

// DocumentClient returns the cached client for the instance or establishes
// one, blocking while the initial handshake completes. On handshake failure
// nothing is cached, so a dead handle can never poison the cache. Document
// clients multiplex databases, so the key is the instance id alone.
func (r *Registry) DocumentClient(ctx context.Context, inst *domain.TargetInstance) (*mongo.Client, error) {
	r.mu.RLock()
	if client, ok := r.clients[inst.ID]; ok {
		r.mu.RUnlock()
		return client, nil
	}
	r.mu.RUnlock()

	v, err, _ := r.connecting.Do(inst.ID, func() (interface{}, error) {
		// Re-check under the flight: a previous flight may have populated
		// the cache between our read and this call.
		r.mu.RLock()
		client, ok := r.clients[inst.ID]
		r.mu.RUnlock()
		if ok {
			return client, nil
		}

		opts := options.Client().
			ApplyURI(inst.ConnString("")).
			SetConnectTimeout(r.cfg.PoolConnectTimeout).
			SetServerSelectionTimeout(r.cfg.PoolConnectTimeout)

		client, err := mongo.Connect(ctx, opts)
		if err != nil {
			return nil, domain.ErrConnection("connect to instance %q: %v", inst.ID, err)
		}
		if err := client.Ping(ctx, readpref.Primary()); err != nil {
			_ = client.Disconnect(context.Background())
			return nil, domain.ErrConnection("handshake with instance %q failed: %v", inst.ID, err)
		}

		r.mu.Lock()
		r.clients[inst.ID] = client
		r.mu.Unlock()

		r.logger.Info("document connection established", "instance", inst.ID)
		return client, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*mongo.Client), nil
}

// RelationalPoolStats describes one relational pool.
type RelationalPoolStats struct {
	Total    int32 `json:"total"`
	Idle     int32 `json:"idle"`
	Acquired int32 `json:"acquired"`
	Max      int32 `json:"max"`
}

// DocumentConnStats describes one document connection.
type DocumentConnStats struct {
	Connected bool `json:"connected"`
}

// Stats holds a read-only snapshot of the registry.
type Stats struct {
	Relational map[string]RelationalPoolStats `json:"relational"`
	Document   map[string]DocumentConnStats   `json:"document"`
}

// Stats reports per-key active/idle counts for relational pools and liveness
// for document connections. It never mutates registry state.
func (r *Registry) Stats(ctx context.Context) Stats {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := Stats{
		Relational: make(map[string]RelationalPoolStats, len(r.pools)),
		Document:   make(map[string]DocumentConnStats, len(r.clients)),
	}
	for key, pool := range r.pools {
		st := pool.Stat()
		out.Relational[key] = RelationalPoolStats{
			Total:    st.TotalConns(),
			Idle:     st.IdleConns(),
			Acquired: st.AcquiredConns(),
			Max:      st.MaxConns(),
		}
	}
	for key, client := range r.clients {
		pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		err := client.Ping(pingCtx, readpref.Primary())
		cancel()
		out.Document[key] = DocumentConnStats{Connected: err == nil}
	}
	return out
}

// Disconnect closes one keyed resource. Closing an absent key is a no-op,
// so calling it twice is safe.
func (r *Registry) Disconnect(ctx context.Context, key string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if pool, ok := r.pools[key]; ok {
		pool.Close()
		delete(r.pools, key)
		r.logger.Info("relational pool closed", "key", key)
		return
	}
	if client, ok := r.clients[key]; ok {
		if err := client.Disconnect(ctx); err != nil {
			r.logger.Warn("document disconnect failed", "instance", key, "error", err)
		}
		delete(r.clients, key)
		r.logger.Info("document connection closed", "instance", key)
	}
}

// DisconnectAll closes and clears every cached resource. Used at process
// shutdown and in tests; idempotent.
func (r *Registry) DisconnectAll(ctx context.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for key, pool := range r.pools {
		pool.Close()
		delete(r.pools, key)
	}
	for key, client := range r.clients {
		if err := client.Disconnect(ctx); err != nil {
			r.logger.Warn("document disconnect failed", "instance", key, "error", err)
		}
		delete(r.clients, key)
	}
}

// StartMonitor schedules a periodic stats log line. Transient connection
// errors surface here as liveness flips; the monitor never tears anything
// down. The returned cron must be stopped by the caller at shutdown.
func (r *Registry) StartMonitor(interval time.Duration) *cron.Cron {
	c := cron.New()
	spec := fmt.Sprintf("@every %s", interval)
	_, err := c.AddFunc(spec, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		st := r.Stats(ctx)
		r.logger.Info("connection registry stats",
			"relational_pools", len(st.Relational),
			"document_conns", len(st.Document))
	})
	if err != nil {
		r.logger.Warn("registry monitor not started", "error", err)
		return c
	}
	c.Start()
	return c
}
