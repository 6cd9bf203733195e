// internal/notification/store/mongo.go
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"tgminiapp-notifier/internal/models"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

type MongoStore struct {
	collection *mongo.Collection
}

func NewMongoStore(collection *mongo.Collection) *MongoStore {
	return &MongoStore{collection: collection}
}

// EnsureIndexes creates the indexes the sweep, the recipient listing and
// retention rely on. Safe to call on every start.
func (s *MongoStore) EnsureIndexes(ctx context.Context) error {
	_, err := s.collection.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "status", Value: 1}, {Key: "priority_rank", Value: -1}, {Key: "scheduled_at", Value: 1}}},
		{Keys: bson.D{{Key: "recipient.user_id", Value: 1}, {Key: "created_at", Value: -1}}},
		{Keys: bson.D{{Key: "status", Value: 1}, {Key: "updated_at", Value: 1}}},
		{Keys: bson.D{{Key: "created_at", Value: 1}}},
	})
	if err != nil {
		return fmt.Errorf("failed to create notification indexes: %w", err)
	}
	return nil
}

func (s *MongoStore) Create(ctx context.Context, n *models.Notification) (*models.Notification, error) {
	out, err := s.CreateMany(ctx, []*models.Notification{n})
	if err != nil {
		return nil, err
	}
	return out[0], nil
}

// CreateMany inserts in order. A partial insert is rolled back by deleting
// the ids of the batch before the error is returned.
func (s *MongoStore) CreateMany(ctx context.Context, ns []*models.Notification) ([]*models.Notification, error) {
	if len(ns) == 0 {
		return nil, nil
	}

	out := make([]*models.Notification, 0, len(ns))
	docs := make([]interface{}, 0, len(ns))
	ids := make([]string, 0, len(ns))
	for _, n := range ns {
		rec := n.Clone()
		if rec.ID == "" {
			rec.ID = uuid.NewString()
		}
		rec.PriorityRank = rec.Priority.Rank()
		out = append(out, rec)
		docs = append(docs, rec)
		ids = append(ids, rec.ID)
	}

	if _, err := s.collection.InsertMany(ctx, docs, options.InsertMany().SetOrdered(true)); err != nil {
		if _, delErr := s.collection.DeleteMany(ctx, bson.M{"_id": bson.M{"$in": ids}}); delErr != nil {
			return nil, fmt.Errorf("failed to insert notifications: %w (rollback failed: %v)", err, delErr)
		}
		return nil, fmt.Errorf("failed to insert notifications: %w", err)
	}
	return out, nil
}

func (s *MongoStore) Get(ctx context.Context, id string) (*models.Notification, error) {
	var n models.Notification
	err := s.collection.FindOne(ctx, bson.M{"_id": id}).Decode(&n)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get notification %s: %w", id, err)
	}
	return &n, nil
}

func (s *MongoStore) Claim(ctx context.Context, id string, now time.Time) (*models.Notification, error) {
	filter := bson.M{
		"_id":          id,
		"status":       models.StatusPending,
		"scheduled_at": bson.M{"$lte": now},
	}
	update := bson.M{"$set": bson.M{
		"status":      models.StatusSending,
		"updated_at":  now,
		"claim_token": uuid.NewString(),
	}}
	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)

	var n models.Notification
	err := s.collection.FindOneAndUpdate(ctx, filter, update, opts).Decode(&n)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, fmt.Errorf("%w: %s", ErrNotClaimable, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to claim notification %s: %w", id, err)
	}
	return &n, nil
}

func (s *MongoStore) Update(ctx context.Context, n *models.Notification, expected models.Status) error {
	set := bson.M{
		"status":       n.Status,
		"sent_at":      n.SentAt,
		"retry_count":  n.RetryCount,
		"scheduled_at": n.ScheduledAt,
		"updated_at":   n.UpdatedAt,
	}
	for _, c := range models.AllChannels {
		ds := n.DeliveryStatus.For(c)
		prefix := "delivery_status." + deliveryKey(c)
		set[prefix+".sent"] = ds.Sent
		set[prefix+".sent_at"] = ds.SentAt
		set[prefix+".error"] = ds.Error
	}

	filter := bson.M{"_id": n.ID, "status": expected, "claim_token": n.ClaimToken}
	res, err := s.collection.UpdateOne(ctx, filter, bson.M{"$set": set})
	if err != nil {
		return fmt.Errorf("failed to update notification %s: %w", n.ID, err)
	}
	if res.MatchedCount == 0 {
		return fmt.Errorf("%w: %s no longer %s under this claim", ErrStaleUpdate, n.ID, expected)
	}
	return nil
}

func (s *MongoStore) FindPending(ctx context.Context, now time.Time, limit int) ([]*models.Notification, error) {
	filter := bson.M{
		"status":       models.StatusPending,
		"scheduled_at": bson.M{"$lte": now},
	}
	opts := options.Find().SetSort(bson.D{
		{Key: "priority_rank", Value: -1},
		{Key: "scheduled_at", Value: 1},
		{Key: "_id", Value: 1},
	})
	if limit > 0 {
		opts.SetLimit(int64(limit))
	}
	return s.find(ctx, filter, opts)
}

func (s *MongoStore) ReleaseStale(ctx context.Context, cutoff, now time.Time) (int64, error) {
	res, err := s.collection.UpdateMany(ctx,
		bson.M{"status": models.StatusSending, "updated_at": bson.M{"$lt": cutoff}},
		bson.M{"$set": bson.M{"status": models.StatusPending, "updated_at": now}},
	)
	if err != nil {
		return 0, fmt.Errorf("failed to release stale claims: %w", err)
	}
	return res.ModifiedCount, nil
}

func (s *MongoStore) FindByRecipient(ctx context.Context, userID string, limit, offset int) ([]*models.Notification, error) {
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: -1}, {Key: "_id", Value: -1}})
	if limit > 0 {
		opts.SetLimit(int64(limit))
	}
	if offset > 0 {
		opts.SetSkip(int64(offset))
	}
	return s.find(ctx, bson.M{"recipient.user_id": userID}, opts)
}

func (s *MongoStore) FindUnread(ctx context.Context, userID string) ([]*models.Notification, error) {
	filter := bson.M{
		"recipient.user_id":           userID,
		"channels.in_app":             true,
		"delivery_status.in_app.sent": true,
		"read_at":                     nil,
	}
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: -1}, {Key: "_id", Value: -1}})
	return s.find(ctx, filter, opts)
}

func (s *MongoStore) MarkRead(ctx context.Context, id string, now time.Time) (*models.Notification, error) {
	update := bson.M{"$set": bson.M{
		"read_at":                        now,
		"delivery_status.in_app.read_at": now,
	}}
	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)

	var n models.Notification
	err := s.collection.FindOneAndUpdate(ctx, bson.M{"_id": id, "read_at": nil}, update, opts).Decode(&n)
	if errors.Is(err, mongo.ErrNoDocuments) {
		// Already read, or missing.
		return s.Get(ctx, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to mark notification %s read: %w", id, err)
	}
	return &n, nil
}

func (s *MongoStore) Cancel(ctx context.Context, id string, now time.Time) (*models.Notification, error) {
	update := bson.M{"$set": bson.M{"status": models.StatusCancelled, "updated_at": now}}
	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)

	var n models.Notification
	err := s.collection.FindOneAndUpdate(ctx, bson.M{"_id": id, "status": models.StatusPending}, update, opts).Decode(&n)
	if err == nil {
		return &n, nil
	}
	if !errors.Is(err, mongo.ErrNoDocuments) {
		return nil, fmt.Errorf("failed to cancel notification %s: %w", id, err)
	}

	current, getErr := s.Get(ctx, id)
	if getErr != nil {
		return nil, getErr
	}
	return current, fmt.Errorf("%w: %s is %s", ErrNotCancellable, id, current.Status)
}

func (s *MongoStore) DeleteOlderThan(ctx context.Context, cutoff time.Time, statuses []models.Status) (int64, error) {
	res, err := s.collection.DeleteMany(ctx, bson.M{
		"status":     bson.M{"$in": statusStrings(statuses)},
		"created_at": bson.M{"$lt": cutoff},
	})
	if err != nil {
		return 0, fmt.Errorf("failed to delete old notifications: %w", err)
	}
	return res.DeletedCount, nil
}

func (s *MongoStore) find(ctx context.Context, filter interface{}, opts *options.FindOptions) ([]*models.Notification, error) {
	cursor, err := s.collection.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to query notifications: %w", err)
	}
	defer cursor.Close(ctx)

	var out []*models.Notification
	if err := cursor.All(ctx, &out); err != nil {
		return nil, fmt.Errorf("failed to decode notifications: %w", err)
	}
	return out, nil
}

func deliveryKey(c models.Channel) string {
	switch c {
	case models.ChannelChatBot:
		return "chat_bot"
	case models.ChannelInApp:
		return "in_app"
	}
	return string(c)
}

// IsTimeout reports whether err came from a deadline on the store call.
func IsTimeout(err error) bool {
	return errors.Is(err, context.DeadlineExceeded) || mongo.IsTimeout(err)
}
