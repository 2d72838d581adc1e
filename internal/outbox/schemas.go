package outbox

import "example.com/territory/internal/events"

const walkRecordedSchema = `{
  "type": "object",
  "title": "WalkRecorded",
  "properties": {
    "walk_id": {"type": "string"},
    "user_id": {"type": "string"},
    "room_id": {"type": "string"},
    "activity_type": {"type": "string", "enum": ["walking", "running"]},
    "status": {"type": "string", "enum": ["completed", "invalid"]},
    "started_at": {"type": "string", "format": "date-time"},
    "ended_at": {"type": "string", "format": "date-time"},
    "duration_sec": {"type": "integer", "minimum": 0},
    "distance_m": {"type": "number", "minimum": 0},
    "area_m2": {"type": "number", "minimum": 0},
    "points_count": {"type": "integer", "minimum": 1}
  },
  "required": ["walk_id", "user_id", "room_id", "activity_type", "status", "started_at", "ended_at", "duration_sec", "distance_m", "area_m2", "points_count"],
  "additionalProperties": false
}`

const strikeCreditedSchema = `{
  "type": "object",
  "title": "StrikeCredited",
  "properties": {
    "walk_id": {"type": "string"},
    "user_id": {"type": "string"},
    "room_id": {"type": "string"},
    "points": {"type": "integer", "minimum": 1},
    "max_point": {"type": "integer", "minimum": 1},
    "occurred_at": {"type": "string", "format": "date-time"}
  },
  "required": ["walk_id", "user_id", "room_id", "points", "max_point", "occurred_at"],
  "additionalProperties": false
}`

const rewardCreditedSchema = `{
  "type": "object",
  "title": "RewardCredited",
  "properties": {
    "walk_id": {"type": "string"},
    "user_id": {"type": "string"},
    "points": {"type": "integer", "minimum": 1},
    "streak_days": {"type": "integer", "minimum": 0},
    "occurred_at": {"type": "string", "format": "date-time"}
  },
  "required": ["walk_id", "user_id", "points", "streak_days", "occurred_at"],
  "additionalProperties": false
}`

// SchemaCatalogEntry maps event type to schema definition.
type SchemaCatalogEntry struct {
	Schema string
}

var schemaCatalog = map[string]SchemaCatalogEntry{
	events.TypeWalkRecorded:   {Schema: walkRecordedSchema},
	events.TypeStrikeCredited: {Schema: strikeCreditedSchema},
	events.TypeRewardCredited: {Schema: rewardCreditedSchema},
}
