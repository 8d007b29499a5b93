package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// clearOutboxEnv pins every key Load reads so ambient environment variables
// cannot leak into defaults assertions. Load treats empty as unset.
func clearOutboxEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"POSTGRES_URL",
		"KAFKA_BROKERS",
		"METRICS_ADDRESS",
		"OUTBOX_RELAY_ENABLED",
		"OUTBOX_RELAY_BATCH_SIZE",
		"OUTBOX_RELAY_POLLING_INTERVAL",
		"OUTBOX_RELAY_WORKER_ID",
		"OUTBOX_RELAY_TOPIC_PREFIX",
		"OUTBOX_RELAY_RETRY_TOPIC",
		"OUTBOX_RELAY_DEAD_LETTER_TOPIC",
		"OUTBOX_RELAY_CLEANUP_AT",
		"OUTBOX_RELAY_RETENTION_DAYS",
		"OUTBOX_DLQ_EVENT_TYPE",
		"OUTBOX_DLQ_LIMIT",
	} {
		t.Setenv(key, "")
	}
}

func TestLoadDefaults(t *testing.T) {
	clearOutboxEnv(t)
	cfg := Load()

	require.True(t, cfg.RelayEnabled)
	require.Equal(t, 100, cfg.BatchSize)
	require.Equal(t, 5*time.Second, cfg.PollInterval)
	require.NotEmpty(t, cfg.WorkerID, "worker id defaults to a random uuid")
	require.Equal(t, "outbox.events", cfg.TopicPrefix)
	require.Equal(t, "outbox.retry", cfg.RetryTopic)
	require.Equal(t, "outbox.dead-letter", cfg.DeadLetterTopic)
	require.Equal(t, "02:00", cfg.CleanupAt)
	require.Equal(t, 30, cfg.RetentionDays)
	require.Equal(t, 30*24*time.Hour, cfg.Retention())
	require.Equal(t, []string{"kafka:9092"}, cfg.KafkaBrokers)
	require.Empty(t, cfg.DLQEventType)
	require.Equal(t, 50, cfg.DLQLimit)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("OUTBOX_RELAY_ENABLED", "false")
	t.Setenv("OUTBOX_RELAY_BATCH_SIZE", "25")
	t.Setenv("OUTBOX_RELAY_POLLING_INTERVAL", "250ms")
	t.Setenv("OUTBOX_RELAY_WORKER_ID", "relay-pod-0")
	t.Setenv("OUTBOX_RELAY_TOPIC_PREFIX", "orders.events")
	t.Setenv("OUTBOX_RELAY_RETRY_TOPIC", "orders.retry")
	t.Setenv("OUTBOX_RELAY_DEAD_LETTER_TOPIC", "orders.dlq")
	t.Setenv("OUTBOX_RELAY_CLEANUP_AT", "04:30")
	t.Setenv("OUTBOX_RELAY_RETENTION_DAYS", "7")
	t.Setenv("KAFKA_BROKERS", "k1:9092, k2:9092 ,")

	cfg := Load()

	require.False(t, cfg.RelayEnabled)
	require.Equal(t, 25, cfg.BatchSize)
	require.Equal(t, 250*time.Millisecond, cfg.PollInterval)
	require.Equal(t, "relay-pod-0", cfg.WorkerID)
	require.Equal(t, "orders.events", cfg.TopicPrefix)
	require.Equal(t, "orders.retry", cfg.RetryTopic)
	require.Equal(t, "orders.dlq", cfg.DeadLetterTopic)
	require.Equal(t, "04:30", cfg.CleanupAt)
	require.Equal(t, 7, cfg.RetentionDays)
	require.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.KafkaBrokers)
}

func TestLoadIgnoresMalformedValues(t *testing.T) {
	t.Setenv("OUTBOX_RELAY_BATCH_SIZE", "lots")
	t.Setenv("OUTBOX_RELAY_POLLING_INTERVAL", "soon")
	t.Setenv("OUTBOX_RELAY_ENABLED", "maybe")

	cfg := Load()

	require.Equal(t, 100, cfg.BatchSize)
	require.Equal(t, 5*time.Second, cfg.PollInterval)
	require.True(t, cfg.RelayEnabled)
}
