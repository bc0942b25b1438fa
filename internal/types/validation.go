package types

import (
	"math"
	"strings"

	perrors "github.com/mycelian/vendor-presence/internal/errors"
)

// ValidateSample rejects samples outside the WGS84 range. A malformed sample
// is not a transient failure, so the error is irrecoverable.
func ValidateSample(s Sample) error {
	if math.IsNaN(s.Latitude) || s.Latitude < -90 || s.Latitude > 90 {
		return perrors.Validationf("latitude %v out of range [-90,90]", s.Latitude)
	}
	if math.IsNaN(s.Longitude) || s.Longitude < -180 || s.Longitude > 180 {
		return perrors.Validationf("longitude %v out of range [-180,180]", s.Longitude)
	}
	if s.CapturedAt.IsZero() {
		return perrors.Validationf("sample has no capture time")
	}
	return nil
}

// ValidateMessageBody rejects empty and whitespace-only messages.
func ValidateMessageBody(body string) error {
	if strings.TrimSpace(body) == "" {
		return perrors.Validationf("message body is empty")
	}
	return nil
}

// ValidateID rejects blank identifiers before they are interpolated into URLs.
func ValidateID(name, id string) error {
	if strings.TrimSpace(id) == "" {
		return perrors.Validationf("%s is required", name)
	}
	if strings.ContainsAny(id, "/?#") {
		return perrors.Validationf("%s %q contains reserved characters", name, id)
	}
	return nil
}
