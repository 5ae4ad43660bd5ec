package network

import (
	"context"
	"fmt"
	"sync"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// MongoRecorder persists trace captures in the recordedMessages collection.
// Records expire through the TTL index on createdAt; per-trace sequence
// numbers are assigned here so each trace reads back as a gap-free,
// monotonic capture.
type MongoRecorder struct {
	messages *mongo.Collection

	mu   sync.Mutex
	seqs map[string]uint64
}

// NewMongoRecorder creates the recorder.
func NewMongoRecorder(db *mongo.Database) *MongoRecorder {
	return &MongoRecorder{
		messages: db.Collection("recordedMessages"),
		seqs:     map[string]uint64{},
	}
}

// Record stamps sequence numbers and inserts the captured messages.
func (r *MongoRecorder) Record(ctx context.Context, messages []RecordedMessage) error {
	if len(messages) == 0 {
		return nil
	}
	r.mu.Lock()
	docs := make([]interface{}, len(messages))
	for i := range messages {
		r.seqs[messages[i].TraceID]++
		messages[i].Seq = r.seqs[messages[i].TraceID]
		docs[i] = messages[i]
	}
	r.mu.Unlock()

	if _, err := r.messages.InsertMany(ctx, docs); err != nil {
		return fmt.Errorf("insert recorded messages: %w", err)
	}
	return nil
}

// ListTrace returns a trace's capture in sequence order.
func (r *MongoRecorder) ListTrace(ctx context.Context, projectID, traceID string) ([]RecordedMessage, error) {
	cursor, err := r.messages.Find(ctx,
		bson.M{"projectId": projectID, "traceId": traceID},
		options.Find().SetSort(bson.M{"seq": 1}))
	if err != nil {
		return nil, fmt.Errorf("list trace: %w", err)
	}
	var messages []RecordedMessage
	if err := cursor.All(ctx, &messages); err != nil {
		return nil, fmt.Errorf("decode trace: %w", err)
	}
	return messages, nil
}

// ForgetTrace drops the in-memory counter after a trace is deleted.
func (r *MongoRecorder) ForgetTrace(traceID string) {
	r.mu.Lock()
	delete(r.seqs, traceID)
	r.mu.Unlock()
}
