package changefeed

import (
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// OperationType represents the kind of change operation.
// All values are lowercase to match MongoDB change stream semantics.
type OperationType string

const (
	OperationInsert  OperationType = "insert"
	OperationUpdate  OperationType = "update"
	OperationReplace OperationType = "replace"
	OperationDelete  OperationType = "delete"
)

// IsValid checks if the operation type is one of the four forwarded kinds.
func (o OperationType) IsValid() bool {
	switch o {
	case OperationInsert, OperationUpdate, OperationReplace, OperationDelete:
		return true
	default:
		return false
	}
}

// Event is the canonical normalized mutation notification. Every consumer of
// the pipeline (fanout hub, reaction handlers) receives this shape.
type Event struct {
	Collection    string                 `json:"collection"`
	OperationType OperationType          `json:"operationType"`
	DocumentID    string                 `json:"documentId"`
	UpdatedFields map[string]interface{} `json:"updatedFields,omitempty"`
	FullDocument  map[string]interface{} `json:"fullDocument,omitempty"`
	Timestamp     int64                  `json:"timestamp"` // Unix milliseconds, normalization time
}

// RawChange is one undecoded notification read off a mutation feed.
type RawChange struct {
	OperationType string
	DocumentKey   interface{}
	UpdatedFields map[string]interface{}
	FullDocument  map[string]interface{}
}

// Normalize converts a raw feed notification into an Event.
// It returns nil for operation kinds outside the four supported ones
// (schema and index events, invalidate, drop, and so on).
// UpdatedFields is carried only for update operations.
func Normalize(collection string, raw RawChange) *Event {
	op := OperationType(raw.OperationType)
	if !op.IsValid() {
		return nil
	}

	evt := &Event{
		Collection:    collection,
		OperationType: op,
		DocumentID:    stringifyID(raw.DocumentKey),
		FullDocument:  sanitizeDocument(raw.FullDocument),
		Timestamp:     time.Now().UnixMilli(),
	}
	if op == OperationUpdate {
		evt.UpdatedFields = raw.UpdatedFields
	}
	return evt
}

// stringifyID coerces a document key into a printable form.
func stringifyID(v interface{}) string {
	switch id := v.(type) {
	case nil:
		return ""
	case string:
		return id
	case primitive.ObjectID:
		return id.Hex()
	case fmt.Stringer:
		return id.String()
	default:
		return fmt.Sprintf("%v", id)
	}
}

// sanitizeDocument coerces identifier values in a post-image into printable
// strings before the document is exposed to subscribers and handlers.
func sanitizeDocument(doc map[string]interface{}) map[string]interface{} {
	if doc == nil {
		return nil
	}
	out := make(map[string]interface{}, len(doc))
	for k, v := range doc {
		if oid, ok := v.(primitive.ObjectID); ok {
			out[k] = oid.Hex()
			continue
		}
		out[k] = v
	}
	return out
}
