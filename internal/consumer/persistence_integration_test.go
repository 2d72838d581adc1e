//go:build integration

package consumer

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"example.com/territory/internal/testsupport"
)

func TestPersistenceHandlerStoresEvent(t *testing.T) {
	ctx := context.Background()
	pool := testsupport.StartPostgres(t)

	handler := NewPersistenceHandler(pool)

	payload := json.RawMessage(`{"walk_id":"abc","user_id":"user-1"}`)
	msg := Message{
		EventType:     "walk.recorded",
		AggregateID:   "abc",
		SchemaID:      42,
		SchemaSubject: "walk_events-value",
		Topic:         "walk_events",
		Partition:     0,
		Offset:        5,
		Payload:       payload,
		Timestamp:     time.Now().UTC(),
	}

	require.NoError(t, handler.Handle(ctx, msg))
	require.NoError(t, handler.Handle(ctx, msg), "redelivery is a no-op")

	var storedPayload []byte
	var aggregateID string
	var count int
	require.NoError(t, pool.QueryRow(ctx, `SELECT COUNT(*) FROM walk_event_log`).Scan(&count))
	require.Equal(t, 1, count)
	err := pool.QueryRow(ctx, `SELECT aggregate_id, payload FROM walk_event_log LIMIT 1`).Scan(&aggregateID, &storedPayload)
	require.NoError(t, err)
	require.Equal(t, "abc", aggregateID)
	require.JSONEq(t, string(payload), string(storedPayload))
}
