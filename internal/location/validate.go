package location

import (
	"fmt"
	"math"

	"github.com/sandeepkv93/guardian-location-service/internal/domain"
)

// CoordinateError reports a latitude or longitude outside its valid range.
type CoordinateError struct {
	Field   string
	Value   float64
	Message string
}

func (e *CoordinateError) Error() string {
	return fmt.Sprintf("%s: %s (value: %.6f)", e.Field, e.Message, e.Value)
}

func validateAxis(field string, v, limit float64) error {
	switch {
	case math.IsNaN(v):
		return &CoordinateError{Field: field, Value: v, Message: "NaN is not allowed"}
	case math.IsInf(v, 0):
		return &CoordinateError{Field: field, Value: v, Message: "infinite value is not allowed"}
	case v < -limit || v > limit:
		return &CoordinateError{Field: field, Value: v, Message: fmt.Sprintf("must be between %.0f and %.0f", -limit, limit)}
	}
	return nil
}

func ValidatePosition(p domain.Position) error {
	if err := validateAxis("latitude", p.Latitude, 90); err != nil {
		return err
	}
	if err := validateAxis("longitude", p.Longitude, 180); err != nil {
		return err
	}
	if p.AccuracyMeters < 0 || math.IsNaN(p.AccuracyMeters) || math.IsInf(p.AccuracyMeters, 0) {
		return &CoordinateError{Field: "accuracy", Value: p.AccuracyMeters, Message: "must be a non-negative number"}
	}
	return nil
}
