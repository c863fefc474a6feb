package orders

import (
	"strings"

	"kisantrack/utils"
)

const (
	TrackingCodePrefix = "KD-"
	trackingCodeLength = 6
)

// NewTrackingCode returns a fresh code such as "KD-7Q2M9X". Uniqueness is
// enforced by the store, not here.
func NewTrackingCode() string {
	return TrackingCodePrefix + utils.GenerateCode(trackingCodeLength)
}

// NormalizeTrackingCode maps user input onto the stored form. Lookups are
// case-insensitive: codes are stored upper-case and input is upper-cased.
func NormalizeTrackingCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}
