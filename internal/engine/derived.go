package engine

import (
	"fmt"
	"math"
	"time"

	"gonum.org/v1/gonum/floats/scalar"

	apperrors "go-dimension-detective/internal/errors"
	"go-dimension-detective/pkg/models"
)

// Display precision for measurements
const (
	lengthPrecision = 1
	ratioPrecision  = 2
)

// DeriveMetrics computes aspect ratio, area, perimeter and diagonal from a
// width and height that are already rounded to display precision
func DeriveMetrics(width, height float64) models.DerivedMetrics {
	return models.DerivedMetrics{
		AspectRatio: scalar.Round(width/height, ratioPrecision),
		Area:        scalar.Round(width*height, lengthPrecision),
		Perimeter:   scalar.Round(2*(width+height), lengthPrecision),
		Diagonal:    scalar.Round(math.Hypot(width, height), lengthPrecision),
	}
}

// NewMeasurementResult rounds width and height to one decimal and attaches
// the derived metrics computed from the rounded values
func NewMeasurementResult(width, height float64, unit models.Unit, imageID, engineName string) (*models.MeasurementResult, error) {
	w := scalar.Round(width, lengthPrecision)
	h := scalar.Round(height, lengthPrecision)
	if !(w > 0) || !(h > 0) || math.IsInf(w, 0) || math.IsInf(h, 0) {
		return nil, apperrors.NewComputationError(fmt.Sprintf("engine produced non-positive dimensions %gx%g", width, height), nil)
	}
	if !unit.Valid() {
		return nil, apperrors.NewComputationError(fmt.Sprintf("engine produced unsupported unit %q", unit), nil)
	}

	derived := DeriveMetrics(w, h)
	return &models.MeasurementResult{
		Width:      w,
		Height:     h,
		Unit:       unit,
		Derived:    &derived,
		ImageID:    imageID,
		Engine:     engineName,
		ComputedAt: time.Now().UTC(),
	}, nil
}
