package validation

import (
	"fmt"

	apperrors "go-dimension-detective/internal/errors"
)

// DimensionLimits bounds the pixel size of images accepted for measurement
type DimensionLimits struct {
	MinWidth  int
	MinHeight int
	MaxWidth  int
	MaxHeight int
	MaxPixels int
}

// DefaultDimensionLimits accepts anything from a thumbnail up to a 40MP frame
func DefaultDimensionLimits() DimensionLimits {
	return DimensionLimits{
		MinWidth:  16,
		MinHeight: 16,
		MaxWidth:  12000,
		MaxHeight: 12000,
		MaxPixels: 40_000_000,
	}
}

// ImageValidator checks decoded image headers against DimensionLimits
type ImageValidator struct {
	limits DimensionLimits
}

// NewImageValidator creates a validator with default limits
func NewImageValidator() *ImageValidator {
	return &ImageValidator{limits: DefaultDimensionLimits()}
}

// NewImageValidatorWithLimits creates a validator with custom limits
func NewImageValidatorWithLimits(limits DimensionLimits) *ImageValidator {
	return &ImageValidator{limits: limits}
}

// Limits returns the configured limits
func (v *ImageValidator) Limits() DimensionLimits {
	return v.limits
}

// ValidateDimensions rejects images too small to annotate or too large to decode
func (v *ImageValidator) ValidateDimensions(width, height int) error {
	l := v.limits
	if width < l.MinWidth || height < l.MinHeight {
		return apperrors.NewAcquisitionError(apperrors.ReasonBadDimensions,
			fmt.Sprintf("image is %dx%d, minimum is %dx%d", width, height, l.MinWidth, l.MinHeight), nil)
	}
	if (l.MaxWidth > 0 && width > l.MaxWidth) || (l.MaxHeight > 0 && height > l.MaxHeight) {
		return apperrors.NewAcquisitionError(apperrors.ReasonBadDimensions,
			fmt.Sprintf("image is %dx%d, maximum is %dx%d", width, height, l.MaxWidth, l.MaxHeight), nil)
	}
	if l.MaxPixels > 0 && width*height > l.MaxPixels {
		return apperrors.NewAcquisitionError(apperrors.ReasonBadDimensions,
			fmt.Sprintf("image has %d pixels, maximum is %d", width*height, l.MaxPixels), nil)
	}
	return nil
}
