package models

// Status is the delivery state of an order. Values are ordered and an order only
// ever moves forward through them.
type Status string

const (
	StatusPlaced    Status = "Placed"
	StatusPickedUp  Status = "Picked Up"
	StatusInTransit Status = "In Transit"
	StatusArriving  Status = "Arriving"
	StatusDelivered Status = "Delivered"
)

var statusOrder = []Status{
	StatusPlaced,
	StatusPickedUp,
	StatusInTransit,
	StatusArriving,
	StatusDelivered,
}

// Statuses returns every status in delivery order.
func Statuses() []Status {
	out := make([]Status, len(statusOrder))
	copy(out, statusOrder)
	return out
}

// Rank is the position of s in the delivery order, or -1 for unknown values.
func (s Status) Rank() int {
	for i, v := range statusOrder {
		if v == s {
			return i
		}
	}
	return -1
}

func (s Status) Valid() bool {
	return s.Rank() >= 0
}

// Before reports whether s comes strictly earlier than other.
func (s Status) Before(other Status) bool {
	return s.Rank() < other.Rank()
}

// StatusesBefore lists the statuses an order may be in for a move to s to be forward.
func StatusesBefore(s Status) []Status {
	r := s.Rank()
	if r <= 0 {
		return nil
	}
	return Statuses()[:r]
}
