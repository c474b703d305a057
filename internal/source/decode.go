// Package source turns user actions (file uploads, camera captures, remote
// references) into immutable image payloads. Every failure is reported as an
// acquisition error carrying a machine readable reason.
package source

import (
	"bytes"
	"context"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"io"

	"github.com/gabriel-vasile/mimetype"
	_ "golang.org/x/image/webp"

	apperrors "go-dimension-detective/internal/errors"
	"go-dimension-detective/pkg/models"
	"go-dimension-detective/pkg/validation"
)

// Source produces one image per user action
type Source interface {
	Acquire(ctx context.Context) (*models.ImagePayload, error)
	Kind() models.SourceKind
}

// SupportedTypes lists the image formats the service can decode
var SupportedTypes = []string{"image/png", "image/jpeg", "image/webp", "image/gif"}

// Decoder validates raw bytes and wraps them into payloads
type Decoder struct {
	maxBytes  int64
	validator *validation.ImageValidator
}

func NewDecoder(maxBytes int64, validator *validation.ImageValidator) *Decoder {
	if validator == nil {
		validator = validation.NewImageValidator()
	}
	return &Decoder{maxBytes: maxBytes, validator: validator}
}

// MaxBytes is the largest accepted image
func (d *Decoder) MaxBytes() int64 { return d.maxBytes }

// Payload checks size, format and dimensions, in that order
func (d *Decoder) Payload(data []byte, kind models.SourceKind) (*models.ImagePayload, error) {
	if len(data) == 0 {
		return nil, apperrors.NewAcquisitionError(apperrors.ReasonUnreadable, "image is empty", nil)
	}
	if d.maxBytes > 0 && int64(len(data)) > d.maxBytes {
		return nil, tooLarge(d.maxBytes)
	}

	mtype := mimetype.Detect(data)
	contentType := ""
	for _, t := range SupportedTypes {
		if mtype.Is(t) {
			contentType = t
			break
		}
	}
	if contentType == "" {
		return nil, apperrors.NewAcquisitionError(apperrors.ReasonUnsupportedType,
			fmt.Sprintf("unsupported image type %s", mtype.String()), nil)
	}

	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, apperrors.NewAcquisitionError(apperrors.ReasonUnreadable, "could not read the image", err)
	}
	if err := d.validator.ValidateDimensions(cfg.Width, cfg.Height); err != nil {
		return nil, err
	}

	return models.NewImagePayload(data, contentType, kind, cfg.Width, cfg.Height), nil
}

// ReadAll reads r up to the decoder's size limit
func (d *Decoder) ReadAll(r io.Reader) ([]byte, error) {
	if d.maxBytes <= 0 {
		return io.ReadAll(r)
	}
	data, err := io.ReadAll(io.LimitReader(r, d.maxBytes+1))
	if err != nil {
		return nil, apperrors.NewAcquisitionError(apperrors.ReasonUnreadable, "could not read the image", err)
	}
	if int64(len(data)) > d.maxBytes {
		return nil, tooLarge(d.maxBytes)
	}
	return data, nil
}

func tooLarge(limit int64) error {
	return apperrors.NewAcquisitionError(apperrors.ReasonTooLarge,
		fmt.Sprintf("image exceeds the %s limit", formatBytes(limit)), nil)
}

func formatBytes(n int64) string {
	const mib = 1024 * 1024
	if n%mib == 0 {
		return fmt.Sprintf("%dMB", n/mib)
	}
	return fmt.Sprintf("%d bytes", n)
}
