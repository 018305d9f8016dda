// Package audit persists audit records describing business reaction
// outcomes.
package audit

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"

	"ledgerpulse/internal/reaction"
)

const defaultCollection = "audit_events"

// Sink writes audit documents to MongoDB. Write failures are logged and
// swallowed; auditing must never disturb the caller.
type Sink struct {
	coll   *mongo.Collection
	logger *slog.Logger
}

func NewSink(db *mongo.Database, collection string, logger *slog.Logger) *Sink {
	if collection == "" {
		collection = defaultCollection
	}
	return &Sink{
		coll:   db.Collection(collection),
		logger: logger.With("component", "audit"),
	}
}

func (s *Sink) Record(ctx context.Context, entry reaction.AuditEntry) {
	doc := bson.M{
		"_id":        uuid.NewString(),
		"category":   entry.Category,
		"action":     entry.Action,
		"module":     entry.Module,
		"entityId":   entry.EntityID,
		"entityType": entry.EntityType,
		"status":     entry.Status,
		"details":    entry.Details,
		"createdAt":  time.Now().UnixMilli(),
	}
	if entry.ErrorMessage != "" {
		doc["errorMessage"] = entry.ErrorMessage
	}

	if _, err := s.coll.InsertOne(ctx, doc); err != nil {
		s.logger.Error("audit write failed", "entityId", entry.EntityID, "error", err)
	}
}

var _ reaction.AuditSink = (*Sink)(nil)
