package registry_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"querygate/internal/config"
	"querygate/internal/domain"
	"querygate/internal/registry"
)

func testConfig() config.EngineConfig {
	return config.EngineConfig{
		PoolMaxConns:       3,
		PoolConnectTimeout: 200 * time.Millisecond,
		PoolIdleTimeout:    time.Minute,
	}
}

func relationalInstance(id string) *domain.TargetInstance {
	return &domain.TargetInstance{
		ID:       id,
		Protocol: domain.ProtocolRelational,
		Host:     "127.0.0.1",
		Port:     5432,
		Username: "app",
		Password: "secret",
	}
}

func documentInstance(id string) *domain.TargetInstance {
	// Port 1 is never a document store; the handshake fails fast under the
	// configured connect timeout.
	return &domain.TargetInstance{
		ID:       id,
		Protocol: domain.ProtocolDocument,
		Host:     "127.0.0.1",
		Port:     1,
	}
}

func TestRelationalKey(t *testing.T) {
	assert.Equal(t, "pg-main/app", registry.RelationalKey("pg-main", "app"))
}

func TestRelationalPoolIsCachedPerKey(t *testing.T) {
	reg := registry.New(testConfig(), nil)
	defer reg.DisconnectAll(context.Background())

	inst := relationalInstance("pg-main")

	first, err := reg.RelationalPool(context.Background(), inst, "app")
	require.NoError(t, err)
	second, err := reg.RelationalPool(context.Background(), inst, "app")
	require.NoError(t, err)

	// Pool creation is lazy; the same handle comes back for the same key.
	assert.Same(t, first, second)
}

func TestRelationalPoolDistinctKeys(t *testing.T) {
	reg := registry.New(testConfig(), nil)
	defer reg.DisconnectAll(context.Background())

	inst := relationalInstance("pg-main")

	appPool, err := reg.RelationalPool(context.Background(), inst, "app")
	require.NoError(t, err)
	reportsPool, err := reg.RelationalPool(context.Background(), inst, "reports")
	require.NoError(t, err)

	assert.NotSame(t, appPool, reportsPool)

	stats := reg.Stats(context.Background())
	assert.Len(t, stats.Relational, 2)
	assert.Contains(t, stats.Relational, "pg-main/app")
	assert.Contains(t, stats.Relational, "pg-main/reports")
}

func TestRelationalPoolAppliesConfiguredLimits(t *testing.T) {
	reg := registry.New(testConfig(), nil)
	defer reg.DisconnectAll(context.Background())

	_, err := reg.RelationalPool(context.Background(), relationalInstance("pg-main"), "app")
	require.NoError(t, err)

	stats := reg.Stats(context.Background())
	assert.Equal(t, int32(3), stats.Relational["pg-main/app"].Max)
}

func TestRelationalPoolRejectsMalformedURI(t *testing.T) {
	reg := registry.New(testConfig(), nil)

	inst := &domain.TargetInstance{
		ID:               "bad",
		Protocol:         domain.ProtocolRelational,
		ConnectionString: "postgres://%zz invalid",
	}

	_, err := reg.RelationalPool(context.Background(), inst, "app")
	var cerr *domain.ConnectionError
	require.ErrorAs(t, err, &cerr)
}

func TestDocumentClientHandshakeFailureCachesNothing(t *testing.T) {
	reg := registry.New(testConfig(), nil)
	defer reg.DisconnectAll(context.Background())

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	_, err := reg.DocumentClient(ctx, documentInstance("mongo-main"))
	var cerr *domain.ConnectionError
	require.ErrorAs(t, err, &cerr)

	stats := reg.Stats(context.Background())
	assert.Empty(t, stats.Document)
}

func TestDisconnectIsIdempotent(t *testing.T) {
	reg := registry.New(testConfig(), nil)

	_, err := reg.RelationalPool(context.Background(), relationalInstance("pg-main"), "app")
	require.NoError(t, err)

	reg.Disconnect(context.Background(), "pg-main/app")
	reg.Disconnect(context.Background(), "pg-main/app")
	reg.Disconnect(context.Background(), "never-existed")

	assert.Empty(t, reg.Stats(context.Background()).Relational)
}

func TestDisconnectAllIsIdempotent(t *testing.T) {
	reg := registry.New(testConfig(), nil)

	inst := relationalInstance("pg-main")
	_, err := reg.RelationalPool(context.Background(), inst, "app")
	require.NoError(t, err)
	_, err = reg.RelationalPool(context.Background(), inst, "reports")
	require.NoError(t, err)

	reg.DisconnectAll(context.Background())
	reg.DisconnectAll(context.Background())

	stats := reg.Stats(context.Background())
	assert.Empty(t, stats.Relational)
	assert.Empty(t, stats.Document)
}

func TestStartMonitorReturnsRunningCron(t *testing.T) {
	reg := registry.New(testConfig(), nil)

	c := reg.StartMonitor(time.Hour)
	require.NotNil(t, c)
	assert.Len(t, c.Entries(), 1)

	ctx := c.Stop()
	<-ctx.Done()
}
