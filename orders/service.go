package orders

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"kisantrack/geo"
	"kisantrack/models"
)

const codeAttempts = 5

var (
	ErrInvalidRating = errors.New("rating must be between 0 and 5")
	ErrNotArriving   = errors.New("order is not arriving yet")
)

// ValidationError reports a malformed create request.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

// CreateOrderRequest is the checkout payload that opens a trackable order.
type CreateOrderRequest struct {
	ProductName   string         `json:"productName"`
	Quantity      int            `json:"quantity"`
	TotalPrice    float64        `json:"totalPrice"`
	PaymentMethod string         `json:"paymentMethod"`
	Farmer        models.Farmer  `json:"farmer"`
	BuyerID       string         `json:"buyerId"`
	BuyerName     string         `json:"buyerName"`
	BuyerAddress  string         `json:"buyerAddress"`
	FarmLocation  *models.LatLng `json:"farmLocation,omitempty"`
	DestLocation  *models.LatLng `json:"destLocation,omitempty"`
}

func (r *CreateOrderRequest) Validate() error {
	switch {
	case strings.TrimSpace(r.ProductName) == "":
		return &ValidationError{"productName", "is required"}
	case r.Quantity <= 0:
		return &ValidationError{"quantity", "must be positive"}
	case r.TotalPrice < 0:
		return &ValidationError{"totalPrice", "must not be negative"}
	case r.FarmLocation != nil && !r.FarmLocation.Valid():
		return &ValidationError{"farmLocation", "out of range"}
	case r.DestLocation != nil && !r.DestLocation.Valid():
		return &ValidationError{"destLocation", "out of range"}
	}
	return nil
}

// Snapshot is what a viewer receives when it looks an order up by tracking code.
type Snapshot struct {
	ID                  string          `json:"id"`
	TrackingCode        string          `json:"trackingCode"`
	ProductName         string          `json:"productName"`
	Quantity            int             `json:"quantity"`
	TotalPrice          float64         `json:"totalPrice"`
	PaymentMethod       string          `json:"paymentMethod"`
	Farmer              models.Farmer   `json:"farmer"`
	BuyerID             string          `json:"buyerId"`
	BuyerName           string          `json:"buyerName"`
	BuyerAddress        string          `json:"buyerAddress"`
	Status              models.Status   `json:"status"`
	CurrentLocation     models.LatLng   `json:"currentLocation"`
	DestLocation        models.LatLng   `json:"destLocation"`
	FarmLocation        models.LatLng   `json:"farmLocation"`
	TrackingHistory     []models.Sample `json:"trackingHistory"`
	HistoryLength       int             `json:"historyLength"`
	DistanceRemainingKm float64         `json:"distanceRemainingKm"`
	UserRating          int             `json:"userRating"`
	CreatedAt           time.Time       `json:"createdAt"`
	DeliveredAt         *time.Time      `json:"deliveredAt,omitempty"`
}

// Service owns the order lifecycle outside the live channel: creation, lookup,
// rating and the delivery confirmation.
type Service struct {
	store       Store
	log         *zap.Logger
	historyTail int
	newCode     func() string
}

func NewService(store Store, logger *zap.Logger, historyTail int) *Service {
	if historyTail <= 0 {
		historyTail = 50
	}
	return &Service{
		store:       store,
		log:         logger,
		historyTail: historyTail,
		newCode:     NewTrackingCode,
	}
}

func (s *Service) Store() Store { return s.store }

// Create opens a new order in state Placed, positioned at the farm.
func (s *Service) Create(ctx context.Context, req CreateOrderRequest) (*models.Order, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	farm := geo.Locate(req.Farmer.Address)
	if req.FarmLocation != nil {
		farm = *req.FarmLocation
	}
	dest := geo.Locate(req.BuyerAddress)
	if req.DestLocation != nil {
		dest = *req.DestLocation
	}

	for attempt := 1; attempt <= codeAttempts; attempt++ {
		o := &models.Order{
			TrackingCode:    s.newCode(),
			ProductName:     strings.TrimSpace(req.ProductName),
			Quantity:        req.Quantity,
			TotalPrice:      req.TotalPrice,
			PaymentMethod:   req.PaymentMethod,
			Farmer:          req.Farmer,
			BuyerID:         req.BuyerID,
			BuyerName:       req.BuyerName,
			BuyerAddress:    req.BuyerAddress,
			Status:          models.StatusPlaced,
			FarmLocation:    farm,
			CurrentLocation: farm,
			DestLocation:    dest,
			TrackingHistory: []models.Sample{},
		}
		err := s.store.Create(ctx, o)
		if errors.Is(err, ErrDuplicateCode) {
			s.log.Warn("tracking code collision, retrying",
				zap.String("trackingCode", o.TrackingCode), zap.Int("attempt", attempt))
			continue
		}
		if err != nil {
			return nil, err
		}
		s.log.Info("order created",
			zap.String("orderId", o.HexID()), zap.String("trackingCode", o.TrackingCode))
		return o, nil
	}
	return nil, fmt.Errorf("create order: %w after %d attempts", ErrDuplicateCode, codeAttempts)
}

func (s *Service) Get(ctx context.Context, id string) (*models.Order, error) {
	return s.store.Get(ctx, id)
}

func (s *Service) List(ctx context.Context, limit int) ([]*models.Order, error) {
	return s.store.List(ctx, limit)
}

// Track resolves a tracking code to a read-only snapshot. It never joins the
// live channel.
func (s *Service) Track(ctx context.Context, code string) (*Snapshot, error) {
	code = NormalizeTrackingCode(code)
	if code == "" {
		return nil, ErrNotFound
	}
	o, err := s.store.GetByTrackingCode(ctx, code)
	if err != nil {
		return nil, err
	}
	return s.snapshot(o), nil
}

func (s *Service) snapshot(o *models.Order) *Snapshot {
	history := o.TrackingHistory
	if len(history) > s.historyTail {
		history = history[len(history)-s.historyTail:]
	}
	tail := make([]models.Sample, len(history))
	copy(tail, history)

	return &Snapshot{
		ID:                  o.HexID(),
		TrackingCode:        o.TrackingCode,
		ProductName:         o.ProductName,
		Quantity:            o.Quantity,
		TotalPrice:          o.TotalPrice,
		PaymentMethod:       o.PaymentMethod,
		Farmer:              o.Farmer,
		BuyerID:             o.BuyerID,
		BuyerName:           o.BuyerName,
		BuyerAddress:        o.BuyerAddress,
		Status:              o.Status,
		CurrentLocation:     o.CurrentLocation,
		DestLocation:        o.DestLocation,
		FarmLocation:        o.FarmLocation,
		TrackingHistory:     tail,
		HistoryLength:       len(o.TrackingHistory),
		DistanceRemainingKm: geo.DistanceKm(o.CurrentLocation, o.DestLocation),
		UserRating:          o.UserRating,
		CreatedAt:           o.CreatedAt,
		DeliveredAt:         o.DeliveredAt,
	}
}

func (s *Service) Rate(ctx context.Context, id string, rating int) error {
	if rating < 0 || rating > 5 {
		return ErrInvalidRating
	}
	return s.store.SetRating(ctx, id, rating)
}

// MarkReceived applies the buyer's confirmation: Arriving becomes Delivered.
// Confirming an already delivered order is a no-op.
func (s *Service) MarkReceived(ctx context.Context, id string) (*models.Order, error) {
	o, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	switch o.Status {
	case models.StatusDelivered:
		return o, nil
	case models.StatusArriving:
	default:
		return nil, ErrNotArriving
	}
	if _, err := s.store.AdvanceStatus(ctx, id, models.StatusDelivered); err != nil {
		return nil, err
	}
	s.log.Info("order delivered", zap.String("orderId", id))
	return s.store.Get(ctx, id)
}
