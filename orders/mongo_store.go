package orders

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"kisantrack/db"
	"kisantrack/models"
)

// appendAttempts bounds the compare-and-append retry loop.
const appendAttempts = 8

// MongoStore keeps each order, history included, in one document of the orders collection.
type MongoStore struct {
	client *mongo.Client
	coll   *mongo.Collection
}

// NewMongoStore wraps an orders collection. The client is disconnected on Close
// when it is non-nil.
func NewMongoStore(ctx context.Context, client *mongo.Client, database string) (*MongoStore, error) {
	coll := client.Database(database).Collection(db.OrdersCollectionName)
	if err := db.EnsureOrderIndexes(ctx, coll); err != nil {
		return nil, err
	}
	return &MongoStore{client: client, coll: coll}, nil
}

func (s *MongoStore) Create(ctx context.Context, o *models.Order) error {
	if o.ID.IsZero() {
		o.ID = primitive.NewObjectID()
	}
	prepareNew(o, stamp(time.Now()))
	if _, err := s.coll.InsertOne(ctx, o); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return ErrDuplicateCode
		}
		return fmt.Errorf("insert order: %w", err)
	}
	return nil
}

func (s *MongoStore) Get(ctx context.Context, id string) (*models.Order, error) {
	oid, err := models.ParseOrderID(id)
	if err != nil {
		return nil, err
	}
	return s.findOne(ctx, bson.M{"_id": oid})
}

func (s *MongoStore) GetByTrackingCode(ctx context.Context, code string) (*models.Order, error) {
	return s.findOne(ctx, bson.M{"trackingCode": code})
}

func (s *MongoStore) findOne(ctx context.Context, filter bson.M) (*models.Order, error) {
	var o models.Order
	if err := s.coll.FindOne(ctx, filter).Decode(&o); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("find order: %w", err)
	}
	if o.TrackingHistory == nil {
		o.TrackingHistory = []models.Sample{}
	}
	return &o, nil
}

func (s *MongoStore) List(ctx context.Context, limit int) ([]*models.Order, error) {
	opts := options.Find().
		SetSort(bson.D{{Key: "createdAt", Value: -1}}).
		SetProjection(bson.M{"trackingHistory": 0})
	if limit > 0 {
		opts.SetLimit(int64(limit))
	}
	cur, err := s.coll.Find(ctx, bson.M{}, opts)
	if err != nil {
		return nil, fmt.Errorf("list orders: %w", err)
	}
	defer cur.Close(ctx)

	var out []*models.Order
	if err := cur.All(ctx, &out); err != nil {
		return nil, fmt.Errorf("decode orders: %w", err)
	}
	return out, nil
}

// AppendSample pushes onto trackingHistory only while lastSampleAt is not newer
// than the sample. On a miss it re-reads the order to tell a missing or delivered
// order from a stale timestamp, clamps the timestamp and tries again.
func (s *MongoStore) AppendSample(ctx context.Context, id string, sample models.Sample) (models.Sample, error) {
	oid, err := models.ParseOrderID(id)
	if err != nil {
		return sample, err
	}
	sample.Timestamp = stamp(sample.Timestamp)

	for attempt := 0; attempt < appendAttempts; attempt++ {
		filter := bson.M{
			"_id":    oid,
			"status": bson.M{"$ne": models.StatusDelivered},
			"$or": bson.A{
				bson.M{"lastSampleAt": nil},
				bson.M{"lastSampleAt": bson.M{"$lte": sample.Timestamp}},
			},
		}
		update := bson.M{
			"$push": bson.M{"trackingHistory": sample},
			"$set": bson.M{
				"currentLocation": sample.Point(),
				"lastSampleAt":    sample.Timestamp,
				"updatedAt":       stamp(time.Now()),
			},
		}
		res, err := s.coll.UpdateOne(ctx, filter, update)
		if err != nil {
			return sample, fmt.Errorf("append sample: %w", err)
		}
		if res.MatchedCount == 1 {
			return sample, nil
		}

		var cur struct {
			Status       models.Status `bson:"status"`
			LastSampleAt *time.Time    `bson:"lastSampleAt"`
		}
		err = s.coll.FindOne(ctx, bson.M{"_id": oid},
			options.FindOne().SetProjection(bson.M{"status": 1, "lastSampleAt": 1})).Decode(&cur)
		if errors.Is(err, mongo.ErrNoDocuments) {
			return sample, ErrNotFound
		}
		if err != nil {
			return sample, fmt.Errorf("reload order: %w", err)
		}
		if cur.Status == models.StatusDelivered {
			return sample, ErrOrderClosed
		}
		if cur.LastSampleAt != nil && sample.Timestamp.Before(*cur.LastSampleAt) {
			sample.Timestamp = stamp(*cur.LastSampleAt)
		}
	}
	return sample, fmt.Errorf("append sample: gave up after %d attempts", appendAttempts)
}

func (s *MongoStore) AdvanceStatus(ctx context.Context, id string, status models.Status) (models.Status, error) {
	oid, err := models.ParseOrderID(id)
	if err != nil {
		return "", err
	}
	now := stamp(time.Now())
	set := bson.M{"status": status, "updatedAt": now}
	if status == models.StatusDelivered {
		set["deliveredAt"] = now
	}
	if before := models.StatusesBefore(status); len(before) > 0 {
		res, err := s.coll.UpdateOne(ctx,
			bson.M{"_id": oid, "status": bson.M{"$in": before}},
			bson.M{"$set": set})
		if err != nil {
			return "", fmt.Errorf("advance status: %w", err)
		}
		if res.MatchedCount == 1 {
			return status, nil
		}
	}

	var cur struct {
		Status models.Status `bson:"status"`
	}
	err = s.coll.FindOne(ctx, bson.M{"_id": oid},
		options.FindOne().SetProjection(bson.M{"status": 1})).Decode(&cur)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("reload order: %w", err)
	}
	if _, err := checkAdvance(cur.Status, status); err != nil {
		return cur.Status, err
	}
	return cur.Status, nil
}

func (s *MongoStore) SetRating(ctx context.Context, id string, rating int) error {
	oid, err := models.ParseOrderID(id)
	if err != nil {
		return err
	}
	res, err := s.coll.UpdateOne(ctx, bson.M{"_id": oid},
		bson.M{"$set": bson.M{"userRating": rating, "updatedAt": stamp(time.Now())}})
	if err != nil {
		return fmt.Errorf("set rating: %w", err)
	}
	if res.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *MongoStore) Close(ctx context.Context) error {
	if s.client == nil {
		return nil
	}
	return s.client.Disconnect(ctx)
}
