package models

import (
	"fmt"
	"strings"
	"time"
)

// Unit is the physical unit a calibration and its measurements are expressed in
type Unit string

const (
	UnitCentimeter Unit = "cm"
	UnitMillimeter Unit = "mm"
	UnitInch       Unit = "in"
)

// Units lists the supported units in display order
var Units = []Unit{UnitCentimeter, UnitMillimeter, UnitInch}

// ParseUnit accepts the canonical unit codes and a few spelled-out aliases
func ParseUnit(s string) (Unit, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "cm", "centimeter", "centimeters":
		return UnitCentimeter, nil
	case "mm", "millimeter", "millimeters":
		return UnitMillimeter, nil
	case "in", "inch", "inches":
		return UnitInch, nil
	default:
		return "", fmt.Errorf("unsupported unit %q", s)
	}
}

// Valid reports whether u is one of the supported units
func (u Unit) Valid() bool {
	switch u {
	case UnitCentimeter, UnitMillimeter, UnitInch:
		return true
	}
	return false
}

// Label is the human readable unit name used in selectors
func (u Unit) Label() string {
	if u == UnitInch {
		return "inches"
	}
	return string(u)
}

// Squared returns the unit suffix used for areas
func (u Unit) Squared() string {
	return string(u) + "²"
}

// CalibrationState is the reference measurement the engine scales against.
// ReferenceSize is positive and finite whenever IsCalibrated is true.
type CalibrationState struct {
	IsCalibrated  bool    `json:"is_calibrated"`
	ReferenceSize float64 `json:"reference_size,omitempty"`
	Unit          Unit    `json:"unit"`
}

// DefaultCalibration is the uncalibrated state a controller starts in
func DefaultCalibration() CalibrationState {
	return CalibrationState{Unit: UnitCentimeter}
}

// DerivedMetrics are computed from a result's width and height
type DerivedMetrics struct {
	AspectRatio float64 `json:"aspect_ratio"`
	Area        float64 `json:"area"`
	Perimeter   float64 `json:"perimeter"`
	Diagonal    float64 `json:"diagonal"`
}

// MeasurementResult is the immutable output of a completed engine run
type MeasurementResult struct {
	Width      float64         `json:"width"`
	Height     float64         `json:"height"`
	Unit       Unit            `json:"unit"`
	Derived    *DerivedMetrics `json:"derived_metrics,omitempty"`
	ImageID    string          `json:"image_id"`
	Engine     string          `json:"engine"`
	ComputedAt time.Time       `json:"computed_at"`
}
