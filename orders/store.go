package orders

import (
	"context"
	"errors"
	"time"

	"kisantrack/models"
)

var (
	ErrNotFound         = errors.New("order not found")
	ErrInvalidID        = models.ErrInvalidOrderID
	ErrDuplicateCode    = errors.New("tracking code already in use")
	ErrStatusRegression = errors.New("status cannot move backwards")
	ErrOrderClosed      = errors.New("order already delivered")
)

// Store persists order records. Implementations serialize mutations of a single
// order; the tracking history only ever grows and its timestamps never decrease.
type Store interface {
	// Create assigns the id and timestamps of o and stores it.
	Create(ctx context.Context, o *models.Order) error
	Get(ctx context.Context, id string) (*models.Order, error)
	GetByTrackingCode(ctx context.Context, code string) (*models.Order, error)
	// List returns the newest orders first, without their tracking history.
	List(ctx context.Context, limit int) ([]*models.Order, error)
	// AppendSample appends s to the order's history and moves currentLocation to it.
	// A sample older than the newest stored one is stamped with that newer time.
	AppendSample(ctx context.Context, id string, s models.Sample) (models.Sample, error)
	// AdvanceStatus moves the order forward to status and returns the stored status.
	// Re-applying the current status is a no-op.
	AdvanceStatus(ctx context.Context, id string, status models.Status) (models.Status, error)
	SetRating(ctx context.Context, id string, rating int) error
	Close(ctx context.Context) error
}

// prepareNew fills creation-time defaults shared by every store.
func prepareNew(o *models.Order, now time.Time) {
	if o.CreatedAt.IsZero() {
		o.CreatedAt = now
	}
	o.UpdatedAt = o.CreatedAt
	if o.Status == "" {
		o.Status = models.StatusPlaced
	}
	if o.TrackingHistory == nil {
		o.TrackingHistory = []models.Sample{}
	}
}

// stamp truncates to the millisecond precision every backend can store.
func stamp(t time.Time) time.Time {
	return t.UTC().Truncate(time.Millisecond)
}

// checkAdvance decides the outcome of moving from current to next.
// It reports whether a write is needed.
func checkAdvance(current, next models.Status) (bool, error) {
	switch {
	case current == next:
		return false, nil
	case next.Before(current):
		return false, ErrStatusRegression
	default:
		return true, nil
	}
}
