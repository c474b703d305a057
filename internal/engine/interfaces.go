package engine

import (
	"context"

	"go-dimension-detective/pkg/models"
)

// MetricsEngine turns an image and a calibration into a measurement.
// Implementations must honour ctx cancellation, report failures as
// computation errors, and return results built with NewMeasurementResult so
// the derived metrics stay consistent with width and height.
type MetricsEngine interface {
	Compute(ctx context.Context, img *models.ImagePayload, cal models.CalibrationState) (*models.MeasurementResult, error)
	Name() string
}
