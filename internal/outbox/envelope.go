package outbox

import (
	"encoding/json"
	"strings"
	"time"
)

// Envelope is the JSON structure published to the bus for one record.
type Envelope struct {
	ID            string           `json:"id"`
	AggregateID   string           `json:"aggregateId"`
	AggregateType string           `json:"aggregateType"`
	EventType     string           `json:"eventType"`
	Payload       json.RawMessage  `json:"payload"`
	ChangedFields json.RawMessage  `json:"changedFields"`
	CreatedAt     time.Time        `json:"createdAt"`
	Metadata      EnvelopeMetadata `json:"metadata"`
}

// EnvelopeMetadata carries relay-side delivery context.
type EnvelopeMetadata struct {
	WorkerID string `json:"workerId"`
	Version  int64  `json:"version"`
}

// BuildEnvelope serializes the record into its wire form. ChangedFields
// marshals as JSON null when the record carries no diff.
func BuildEnvelope(rec *Record, workerID string) ([]byte, error) {
	env := Envelope{
		ID:            rec.ID.String(),
		AggregateID:   rec.AggregateID,
		AggregateType: rec.AggregateType,
		EventType:     rec.EventType,
		Payload:       json.RawMessage(rec.Payload),
		ChangedFields: json.RawMessage(rec.ChangedFields),
		CreatedAt:     rec.CreatedAt,
		Metadata: EnvelopeMetadata{
			WorkerID: workerID,
			Version:  rec.Version,
		},
	}
	return json.Marshal(env)
}

// TopicName derives the bus topic for an aggregate type, e.g.
// "outbox.events.user" for prefix "outbox.events" and type "User".
func TopicName(prefix, aggregateType string) string {
	return prefix + "." + strings.ToLower(aggregateType)
}
