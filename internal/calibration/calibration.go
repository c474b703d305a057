// Package calibration validates reference measurements and turns them into
// calibration states. It holds no state of its own.
package calibration

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	apperrors "go-dimension-detective/internal/errors"
	"go-dimension-detective/pkg/models"
)

// ValidateSize rejects reference sizes that are not finite positive numbers
func ValidateSize(size float64) error {
	if math.IsNaN(size) || math.IsInf(size, 0) {
		return apperrors.NewValidationError("reference size must be a finite number", nil)
	}
	if size <= 0 {
		return apperrors.NewValidationError(fmt.Sprintf("reference size must be positive (got %g)", size), nil)
	}
	return nil
}

// New builds a calibrated state; size and unit are validated together so a
// failure never yields a partially applied calibration
func New(size float64, unit models.Unit) (models.CalibrationState, error) {
	if err := ValidateSize(size); err != nil {
		return models.CalibrationState{}, err
	}
	if !unit.Valid() {
		return models.CalibrationState{}, apperrors.NewValidationError(fmt.Sprintf("unsupported unit %q", unit), nil)
	}
	return models.CalibrationState{
		IsCalibrated:  true,
		ReferenceSize: size,
		Unit:          unit,
	}, nil
}

// Parse builds a calibrated state from raw user input
func Parse(rawSize, rawUnit string) (models.CalibrationState, error) {
	trimmed := strings.TrimSpace(rawSize)
	if trimmed == "" {
		return models.CalibrationState{}, apperrors.NewValidationError("reference size is required", nil)
	}
	size, err := strconv.ParseFloat(trimmed, 64)
	if err != nil {
		return models.CalibrationState{}, apperrors.NewValidationError(fmt.Sprintf("reference size %q is not a number", rawSize), err)
	}
	unit, err := models.ParseUnit(rawUnit)
	if err != nil {
		return models.CalibrationState{}, apperrors.NewValidationError(err.Error(), err)
	}
	return New(size, unit)
}
