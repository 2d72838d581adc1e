package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"

	"example.com/territory/internal/domain"
	"example.com/territory/internal/events"
)

func insertOutbox(ctx context.Context, tx pgx.Tx, session domain.WalkSession, eventType string, payload interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	meta, ok := eventCatalog[eventType]
	if !ok {
		return fmt.Errorf("unknown event type: %s", eventType)
	}

	const stmt = `INSERT INTO outbox (aggregate_type, aggregate_id, event_type, topic, schema_subject, partition_key, payload, dedupe_key)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`

	_, err = tx.Exec(ctx, stmt,
		"walk",
		session.ID,
		eventType,
		meta.Topic,
		meta.SchemaSubject,
		meta.PartitionKeyFn(session),
		body,
		fmt.Sprintf("%s:%s", session.ID, eventType),
	)
	return err
}

// EventMetadata describes how to route an outbox event.
type EventMetadata struct {
	Topic          string
	SchemaSubject  string
	PartitionKeyFn func(domain.WalkSession) string
}

var eventCatalog = map[string]EventMetadata{
	events.TypeWalkRecorded: {
		Topic:         "walk_events",
		SchemaSubject: "walk_events-value",
		PartitionKeyFn: func(s domain.WalkSession) string {
			return fmt.Sprintf("%s:%s", s.RoomID, s.UserID)
		},
	},
	events.TypeStrikeCredited: {
		Topic:         "strike_events",
		SchemaSubject: "strike_events-value",
		PartitionKeyFn: func(s domain.WalkSession) string {
			return fmt.Sprintf("%s:%s", s.RoomID, s.UserID)
		},
	},
	events.TypeRewardCredited: {
		Topic:         "reward_events",
		SchemaSubject: "reward_events-value",
		PartitionKeyFn: func(s domain.WalkSession) string {
			return s.UserID
		},
	},
}
