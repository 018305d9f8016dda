package changefeed

import (
	"context"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// MongoSource opens change streams against a MongoDB database.
type MongoSource struct {
	db *mongo.Database
}

// NewMongoSource creates a Source backed by MongoDB change streams.
func NewMongoSource(db *mongo.Database) *MongoSource {
	return &MongoSource{db: db}
}

func (s *MongoSource) Open(ctx context.Context, reg Registration) (Feed, error) {
	streamOpts := options.ChangeStream()
	if reg.FullDocumentMode != FullDocumentNone {
		// 'updateLookup' attaches the post-mutation document to updates.
		streamOpts.SetFullDocument(options.UpdateLookup)
	}

	pipeline := make([]bson.M, 0, len(reg.Pipeline))
	for _, stage := range reg.Pipeline {
		pipeline = append(pipeline, bson.M(stage))
	}

	stream, err := s.db.Collection(reg.Collection).Watch(ctx, pipeline, streamOpts)
	if err != nil {
		return nil, err
	}
	return &mongoFeed{stream: stream}, nil
}

type mongoFeed struct {
	stream *mongo.ChangeStream
}

func (f *mongoFeed) Next(ctx context.Context) (RawChange, error) {
	if !f.stream.Next(ctx) {
		if err := f.stream.Err(); err != nil {
			return RawChange{}, err
		}
		return RawChange{}, ErrFeedClosed
	}

	var decoded struct {
		OperationType string `bson:"operationType"`
		DocumentKey   struct {
			ID interface{} `bson:"_id"`
		} `bson:"documentKey"`
		UpdateDescription struct {
			UpdatedFields map[string]interface{} `bson:"updatedFields"`
		} `bson:"updateDescription"`
		FullDocument map[string]interface{} `bson:"fullDocument"`
	}
	if err := f.stream.Decode(&decoded); err != nil {
		// A document that fails to decode is dropped at the watcher boundary
		// as an unsupported notification rather than tearing the stream down.
		return RawChange{}, nil
	}

	return RawChange{
		OperationType: decoded.OperationType,
		DocumentKey:   decoded.DocumentKey.ID,
		UpdatedFields: decoded.UpdateDescription.UpdatedFields,
		FullDocument:  decoded.FullDocument,
	}, nil
}

func (f *mongoFeed) Close(ctx context.Context) error {
	return f.stream.Close(ctx)
}
