// Package event defines the analytics event record and its wire JSON
// encoding, including acceptance of legacy persisted shapes.
package event

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/mfclarke-cnx/posthog-go/internal/property"
)

// wire timestamp format: RFC3339 with fractional seconds, always UTC.
const timestampLayout = "2006-01-02T15:04:05.000Z07:00"

// ErrMissingFields is returned when a decoded event lacks an event name or
// a resolvable distinct id.
var ErrMissingFields = errors.New("event requires a name and a distinct_id")

// Event is a single analytics occurrence. Fields are fixed at
// construction; Properties is already sanitized and must not be mutated
// after the event has been enqueued.
type Event struct {
	Name       string
	DistinctID string
	Properties map[string]any
	Timestamp  time.Time
	UUID       string
}

// New builds an event with sanitized properties, a fresh UUID and the
// current time.
func New(name, distinctID string, properties map[string]any) (*Event, error) {
	if name == "" || distinctID == "" {
		return nil, ErrMissingFields
	}

	return &Event{
		Name:       name,
		DistinctID: distinctID,
		Properties: property.Sanitize(properties),
		Timestamp:  time.Now().UTC(),
		UUID:       uuid.NewString(),
	}, nil
}

type wireEvent struct {
	Event      string         `json:"event"`
	DistinctID string         `json:"distinct_id"`
	Properties map[string]any `json:"properties,omitempty"`
	Timestamp  string         `json:"timestamp"`
	UUID       string         `json:"uuid"`
}

// MarshalJSON encodes the wire shape consumed by the batch endpoint.
func (e *Event) MarshalJSON() ([]byte, error) {
	return json.Marshal(wireEvent{
		Event:      e.Name,
		DistinctID: e.DistinctID,
		Properties: e.Properties,
		Timestamp:  e.Timestamp.UTC().Format(timestampLayout),
		UUID:       e.UUID,
	})
}

// FromJSON decodes an event from wire or legacy persisted JSON.
//
// Legacy shapes accepted: a top-level "$set" object is promoted into
// properties; "distinct_id" falls back to properties["distinct_id"];
// "uuid" falls back to the old "message_id" field. A missing uuid or
// timestamp is replaced with a fresh one.
func FromJSON(data []byte) (*Event, error) {
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to unmarshal event: %w", err)
	}

	name, _ := raw["event"].(string)

	properties, _ := raw["properties"].(map[string]any)
	if properties == nil {
		properties = map[string]any{}
	}
	if set, ok := raw["$set"].(map[string]any); ok {
		properties["$set"] = set
	}

	distinctID, _ := raw["distinct_id"].(string)
	if distinctID == "" {
		distinctID, _ = properties["distinct_id"].(string)
	}

	if name == "" || distinctID == "" {
		return nil, ErrMissingFields
	}

	id, _ := raw["uuid"].(string)
	if id == "" {
		id, _ = raw["message_id"].(string)
	}
	if id == "" {
		id = uuid.NewString()
	}

	timestamp := time.Now().UTC()
	if ts, ok := raw["timestamp"].(string); ok && ts != "" {
		parsed, err := time.Parse(time.RFC3339, ts)
		if err == nil {
			timestamp = parsed
		}
	}

	return &Event{
		Name:       name,
		DistinctID: distinctID,
		Properties: property.Sanitize(properties),
		Timestamp:  timestamp,
		UUID:       id,
	}, nil
}
