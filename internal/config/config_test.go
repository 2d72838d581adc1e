package config

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("KAFKA_BROKERS", "")
	t.Setenv("TIMEZONE", "")

	cfg := Load()
	require.Equal(t, ":8080", cfg.HTTPAddress)
	require.Equal(t, []string{"kafka:9092"}, cfg.KafkaBrokers)
	require.Equal(t, []string{"walk_events", "strike_events", "reward_events"}, cfg.ConsumerTopics)
	require.Equal(t, 6*time.Hour, cfg.BufferTTL)
	require.Equal(t, 5.0, cfg.WSEventsPerSecond)
	require.Empty(t, cfg.ArchiveBucket)
	require.Equal(t, "Local", cfg.Timezone)
	require.Equal(t, time.Local, cfg.Location())
	require.Equal(t, time.Local, Config{}.Location())
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("KAFKA_BROKERS", " a:9092, ,b:9092 ")
	t.Setenv("BUFFER_TTL", "30m")
	t.Setenv("OUTBOX_BATCH_SIZE", "not-a-number")
	t.Setenv("WS_EVENTS_PER_SECOND", "2.5")
	t.Setenv("TIMEZONE", "UTC")
	t.Setenv("LOG_LEVEL", "DEBUG")

	cfg := Load()
	require.Equal(t, []string{"a:9092", "b:9092"}, cfg.KafkaBrokers)
	require.Equal(t, 30*time.Minute, cfg.BufferTTL)
	require.Equal(t, 25, cfg.OutboxBatchSize)
	require.Equal(t, 2.5, cfg.WSEventsPerSecond)
	require.Equal(t, time.UTC, cfg.Location())
	require.Equal(t, zerolog.DebugLevel, cfg.Level())
}

func TestLocationFallsBackToUTC(t *testing.T) {
	cfg := Config{Timezone: "Mars/Olympus_Mons"}
	require.Equal(t, time.UTC, cfg.Location())
	require.Equal(t, zerolog.InfoLevel, Config{LogLevel: "loud"}.Level())
}
