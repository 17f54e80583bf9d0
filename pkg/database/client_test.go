package database

import (
	"context"
	"testing"
	"time"

	"entgo.io/ent/dialect"
	"entgo.io/ent/dialect/sql"
	"github.com/chatbridge/core/ent"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

// newTestClient creates a test database client inline against a testcontainers Postgres
func newTestClient(t *testing.T) *Client {
	ctx := context.Background()

	// Start PostgreSQL container
	pgContainer, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("test"),
		postgres.WithUsername("test"),
		postgres.WithPassword("test"),
		postgres.WithInitScripts("../../deploy/postgres-init/01-init.sql"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second)),
	)
	require.NoError(t, err)

	t.Cleanup(func() {
		if err := testcontainers.TerminateContainer(pgContainer); err != nil {
			t.Logf("failed to terminate container: %v", err)
		}
	})

	// Get connection string
	connStr, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	// Open connection with driver
	drv, err := sql.Open(dialect.Postgres, connStr)
	require.NoError(t, err)

	// Configure connection pool for tests
	db := drv.DB()
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)

	// Create Ent client
	entClient := ent.NewClient(ent.Driver(drv))

	// Run migrations (auto-migration for tests)
	err = entClient.Schema.Create(ctx)
	require.NoError(t, err)

	// Create GIN indexes
	err = CreateGINIndexes(ctx, drv)
	require.NoError(t, err)

	// Wrap in our client type
	client := NewClientFromEnt(entClient, db)

	t.Cleanup(func() {
		client.Close()
	})

	return client
}

func TestDatabaseClient_ConnectionPool(t *testing.T) {
	client := newTestClient(t)
	ctx := context.Background()

	// Test basic connectivity
	err := client.DB().PingContext(ctx)
	require.NoError(t, err)

	// Test health check
	health, err := Health(ctx, client.DB())
	require.NoError(t, err)
	assert.Equal(t, "healthy", health.Status)
	assert.Greater(t, health.MaxOpenConns, 0)
}

func TestAuditEventMetadataGINIndex_SupportsContainmentQuery(t *testing.T) {
	client := newTestClient(t)
	ctx := context.Background()

	_, err := client.AuditEvent.Create().
		SetSeq(0).
		SetActorType("system").
		SetActorID("ingestion").
		SetEventType("message.received").
		SetMetadata(map[string]interface{}{"platform": "slack", "channel": "C1"}).
		SetHashChain("deadbeef").
		Save(ctx)
	require.NoError(t, err)

	_, err = client.AuditEvent.Create().
		SetSeq(1).
		SetActorType("system").
		SetActorID("router").
		SetEventType("turn.started").
		SetMetadata(map[string]interface{}{"platform": "discord", "channel": "C2"}).
		SetHashChain("cafebabe").
		SetPrevHash("deadbeef").
		Save(ctx)
	require.NoError(t, err)

	rows, err := client.DB().QueryContext(ctx,
		`SELECT event_type FROM audit_events WHERE metadata @> $1`,
		`{"platform": "slack"}`,
	)
	require.NoError(t, err)
	defer rows.Close()

	var results []string
	for rows.Next() {
		var eventType string
		require.NoError(t, rows.Scan(&eventType))
		results = append(results, eventType)
	}
	assert.Equal(t, []string{"message.received"}, results)
}

func TestMessagePartsGINIndex_SupportsContainmentQuery(t *testing.T) {
	client := newTestClient(t)
	ctx := context.Background()

	_, err := client.ConvSession.Create().
		SetID("sess-1").
		SetChatID("C1").
		SetUserID("U1").
		Save(ctx)
	require.NoError(t, err)

	_, err = client.Message.Create().
		SetID("msg-1").
		SetSessionID("sess-1").
		SetRole("assistant").
		SetParts([]map[string]interface{}{
			{"type": "tool_call", "name": "lookup_weather"},
		}).
		Save(ctx)
	require.NoError(t, err)

	_, err = client.Message.Create().
		SetID("msg-2").
		SetSessionID("sess-1").
		SetRole("user").
		SetParts([]map[string]interface{}{
			{"type": "text", "text": "hi"},
		}).
		Save(ctx)
	require.NoError(t, err)

	rows, err := client.DB().QueryContext(ctx,
		`SELECT message_id FROM messages WHERE parts @> $1`,
		`[{"type": "tool_call"}]`,
	)
	require.NoError(t, err)
	defer rows.Close()

	var results []string
	for rows.Next() {
		var messageID string
		require.NoError(t, rows.Scan(&messageID))
		results = append(results, messageID)
	}
	assert.Equal(t, []string{"msg-1"}, results)
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{
			name: "valid config",
			cfg: Config{
				Host:         "localhost",
				Port:         5432,
				User:         "test",
				Password:     "test",
				Database:     "test",
				SSLMode:      "disable",
				MaxOpenConns: 10,
				MaxIdleConns: 5,
			},
			wantErr: false,
		},
		{
			name: "missing password",
			cfg: Config{
				Host:         "localhost",
				Port:         5432,
				User:         "test",
				Password:     "",
				Database:     "test",
				MaxOpenConns: 10,
				MaxIdleConns: 5,
			},
			wantErr: true,
		},
		{
			name: "idle conns exceed max conns",
			cfg: Config{
				Host:         "localhost",
				Port:         5432,
				User:         "test",
				Password:     "test",
				Database:     "test",
				MaxOpenConns: 5,
				MaxIdleConns: 10,
			},
			wantErr: true,
		},
		{
			name: "zero max open conns",
			cfg: Config{
				Host:         "localhost",
				Port:         5432,
				User:         "test",
				Password:     "test",
				Database:     "test",
				MaxOpenConns: 0,
				MaxIdleConns: 0,
			},
			wantErr: true,
		},
		{
			name: "negative idle conns",
			cfg: Config{
				Host:         "localhost",
				Port:         5432,
				User:         "test",
				Password:     "test",
				Database:     "test",
				MaxOpenConns: 10,
				MaxIdleConns: -1,
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
