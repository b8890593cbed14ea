package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadAppliesDefaults(t *testing.T) {
	t.Setenv("STORE_DRIVER", "")
	t.Setenv("KAFKA_BROKERS", "")
	t.Setenv("OUTBOX_POLL_INTERVAL", "")

	cfg := Load()

	require.Equal(t, DriverPostgres, cfg.StoreDriver)
	require.Equal(t, []string{"kafka:9092"}, cfg.KafkaBrokers)
	require.Equal(t, 2*time.Second, cfg.OutboxPollInterval)
	require.True(t, cfg.OutboxEnabled)
	require.Equal(t, DefaultSQLitePath(), cfg.SQLitePath)
}

func TestLoadReadsOverrides(t *testing.T) {
	t.Setenv("STORE_DRIVER", "SQLite")
	t.Setenv("KAFKA_BROKERS", " a:9092, ,b:9092 ")
	t.Setenv("OUTBOX_ENABLED", "false")
	t.Setenv("OUTBOX_BATCH_SIZE", "7")
	t.Setenv("DLQ_BASE_DELAY", "15s")
	t.Setenv("MAX_UPLOAD_BYTES", "1024")

	cfg := Load()

	require.Equal(t, DriverSQLite, cfg.StoreDriver)
	require.Equal(t, []string{"a:9092", "b:9092"}, cfg.KafkaBrokers)
	require.False(t, cfg.OutboxEnabled)
	require.Equal(t, 7, cfg.OutboxBatchSize)
	require.Equal(t, 15*time.Second, cfg.DLQBaseDelay)
	require.Equal(t, int64(1024), cfg.MaxUploadBytes)
}

func TestInvalidValuesFallBack(t *testing.T) {
	t.Setenv("OUTBOX_BATCH_SIZE", "lots")
	t.Setenv("DLQ_POLL_INTERVAL", "soon")
	t.Setenv("OUTBOX_ENABLED", "maybe")

	cfg := Load()

	require.Equal(t, 25, cfg.OutboxBatchSize)
	require.Equal(t, 30*time.Second, cfg.DLQPollInterval)
	require.True(t, cfg.OutboxEnabled)
}
