// Package timeline appends activity notes to customer records.
package timeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"

	"ledgerpulse/internal/reaction"
)

const defaultCollection = "customer_timeline"

// Service stores timeline notes in MongoDB, one document per note keyed
// by customer.
type Service struct {
	coll   *mongo.Collection
	logger *slog.Logger
}

func NewService(db *mongo.Database, collection string, logger *slog.Logger) *Service {
	if collection == "" {
		collection = defaultCollection
	}
	return &Service{
		coll:   db.Collection(collection),
		logger: logger.With("component", "timeline"),
	}
}

func (s *Service) AppendNote(ctx context.Context, note reaction.TimelineNote) error {
	if note.CustomerID == "" {
		return fmt.Errorf("timeline note requires a customer id")
	}

	doc := bson.M{
		"_id":         uuid.NewString(),
		"customerId":  note.CustomerID,
		"contextType": note.ContextType,
		"contextId":   note.ContextID,
		"message":     note.Message,
		"authorId":    note.AuthorID,
		"authorName":  note.AuthorName,
		"createdAt":   time.Now().UnixMilli(),
	}
	if len(note.References) > 0 {
		doc["references"] = note.References
	}

	if _, err := s.coll.InsertOne(ctx, doc); err != nil {
		return fmt.Errorf("append timeline note for customer %s: %w", note.CustomerID, err)
	}
	return nil
}

var _ reaction.TimelineService = (*Service)(nil)
