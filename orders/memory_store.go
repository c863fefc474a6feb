package orders

import (
	"context"
	"sort"
	"sync"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"

	"kisantrack/models"
)

// MemoryStore keeps orders in process memory. It backs tests and the
// STORE_DRIVER=memory mode.
type MemoryStore struct {
	mu     sync.RWMutex
	orders map[primitive.ObjectID]*models.Order
	codes  map[string]primitive.ObjectID
	now    func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		orders: make(map[primitive.ObjectID]*models.Order),
		codes:  make(map[string]primitive.ObjectID),
		now:    time.Now,
	}
}

func (s *MemoryStore) Create(_ context.Context, o *models.Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, taken := s.codes[o.TrackingCode]; taken {
		return ErrDuplicateCode
	}
	if o.ID.IsZero() {
		o.ID = primitive.NewObjectID()
	}
	prepareNew(o, stamp(s.now()))
	s.orders[o.ID] = cloneOrder(o)
	s.codes[o.TrackingCode] = o.ID
	return nil
}

func (s *MemoryStore) Get(_ context.Context, id string) (*models.Order, error) {
	oid, err := models.ParseOrderID(id)
	if err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	o, ok := s.orders[oid]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneOrder(o), nil
}

func (s *MemoryStore) GetByTrackingCode(_ context.Context, code string) (*models.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	oid, ok := s.codes[code]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneOrder(s.orders[oid]), nil
}

func (s *MemoryStore) List(_ context.Context, limit int) ([]*models.Order, error) {
	s.mu.RLock()
	out := make([]*models.Order, 0, len(s.orders))
	for _, o := range s.orders {
		c := cloneOrder(o)
		c.TrackingHistory = nil
		out = append(out, c)
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID.Hex() > out[j].ID.Hex()
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemoryStore) AppendSample(_ context.Context, id string, sample models.Sample) (models.Sample, error) {
	oid, err := models.ParseOrderID(id)
	if err != nil {
		return sample, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[oid]
	if !ok {
		return sample, ErrNotFound
	}
	if o.Status == models.StatusDelivered {
		return sample, ErrOrderClosed
	}
	sample.Timestamp = stamp(sample.Timestamp)
	if o.LastSampleAt != nil && sample.Timestamp.Before(*o.LastSampleAt) {
		sample.Timestamp = *o.LastSampleAt
	}
	ts := sample.Timestamp
	o.TrackingHistory = append(o.TrackingHistory, sample)
	o.CurrentLocation = sample.Point()
	o.LastSampleAt = &ts
	o.UpdatedAt = stamp(s.now())
	return sample, nil
}

func (s *MemoryStore) AdvanceStatus(_ context.Context, id string, status models.Status) (models.Status, error) {
	oid, err := models.ParseOrderID(id)
	if err != nil {
		return "", err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[oid]
	if !ok {
		return "", ErrNotFound
	}
	write, err := checkAdvance(o.Status, status)
	if err != nil || !write {
		return o.Status, err
	}
	now := stamp(s.now())
	o.Status = status
	o.UpdatedAt = now
	if status == models.StatusDelivered {
		o.DeliveredAt = &now
	}
	return status, nil
}

func (s *MemoryStore) SetRating(_ context.Context, id string, rating int) error {
	oid, err := models.ParseOrderID(id)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[oid]
	if !ok {
		return ErrNotFound
	}
	o.UserRating = rating
	o.UpdatedAt = stamp(s.now())
	return nil
}

func (s *MemoryStore) Close(context.Context) error { return nil }

func cloneOrder(o *models.Order) *models.Order {
	c := *o
	c.TrackingHistory = append([]models.Sample(nil), o.TrackingHistory...)
	if c.TrackingHistory == nil {
		c.TrackingHistory = []models.Sample{}
	}
	if o.LastSampleAt != nil {
		t := *o.LastSampleAt
		c.LastSampleAt = &t
	}
	if o.DeliveredAt != nil {
		t := *o.DeliveredAt
		c.DeliveredAt = &t
	}
	return &c
}
