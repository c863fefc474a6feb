package models

import (
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

var ErrInvalidOrderID = errors.New("invalid order id")

// LatLng is a WGS84 coordinate pair.
type LatLng struct {
	Lat float64 `json:"lat" bson:"lat"`
	Lng float64 `json:"lng" bson:"lng"`
}

// Valid reports whether the point lies inside the lat/lng domain.
func (p LatLng) Valid() bool {
	return p.Lat >= -90 && p.Lat <= 90 && p.Lng >= -180 && p.Lng <= 180
}

// Sample is one entry of an order's tracking history.
type Sample struct {
	Lat       float64   `json:"lat" bson:"lat"`
	Lng       float64   `json:"lng" bson:"lng"`
	Timestamp time.Time `json:"timestamp" bson:"timestamp"`
}

func (s Sample) Point() LatLng {
	return LatLng{Lat: s.Lat, Lng: s.Lng}
}

// Farmer describes where an order ships from.
type Farmer struct {
	ID      string `json:"id,omitempty" bson:"id,omitempty"`
	Name    string `json:"name" bson:"name"`
	Address string `json:"address" bson:"address"`
	Rating  string `json:"rating,omitempty" bson:"rating,omitempty"`
}

// Order is the persisted delivery record. Commerce facts, the farmer, the buyer and
// the destination never change after creation; CurrentLocation, TrackingHistory and
// Status are the only fields mutated by tracking.
type Order struct {
	ID            primitive.ObjectID `json:"id" bson:"_id,omitempty"`
	TrackingCode  string             `json:"trackingCode" bson:"trackingCode"`
	ProductName   string             `json:"productName" bson:"productName"`
	Quantity      int                `json:"quantity" bson:"quantity"`
	TotalPrice    float64            `json:"totalPrice" bson:"totalPrice"`
	PaymentMethod string             `json:"paymentMethod" bson:"paymentMethod"`
	Farmer        Farmer             `json:"farmer" bson:"farmer"`

	BuyerID      string `json:"buyerId" bson:"buyerId"`
	BuyerName    string `json:"buyerName" bson:"buyerName"`
	BuyerAddress string `json:"buyerAddress" bson:"buyerAddress"`

	Status          Status   `json:"status" bson:"status"`
	FarmLocation    LatLng   `json:"farmLocation" bson:"farmLocation"`
	CurrentLocation LatLng   `json:"currentLocation" bson:"currentLocation"`
	DestLocation    LatLng   `json:"destLocation" bson:"destLocation"`
	TrackingHistory []Sample `json:"trackingHistory" bson:"trackingHistory"`

	// LastSampleAt mirrors the timestamp of the newest history entry.
	LastSampleAt *time.Time `json:"lastSampleAt,omitempty" bson:"lastSampleAt,omitempty"`
	UserRating   int        `json:"userRating" bson:"userRating"`
	CreatedAt    time.Time  `json:"createdAt" bson:"createdAt"`
	UpdatedAt    time.Time  `json:"updatedAt" bson:"updatedAt"`
	DeliveredAt  *time.Time `json:"deliveredAt,omitempty" bson:"deliveredAt,omitempty"`
}

// HexID returns the order id in its wire form.
func (o *Order) HexID() string {
	return o.ID.Hex()
}

// ParseOrderID validates the wire form of an order id.
func ParseOrderID(id string) (primitive.ObjectID, error) {
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return primitive.NilObjectID, ErrInvalidOrderID
	}
	return oid, nil
}
