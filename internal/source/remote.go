package source

import (
	"context"
	"errors"

	apperrors "go-dimension-detective/internal/errors"
	"go-dimension-detective/internal/storage"
	"go-dimension-detective/pkg/models"
	"go-dimension-detective/pkg/validation"
)

// URLSource downloads an image from a validated http(s) URL
type URLSource struct {
	decoder   *Decoder
	fetcher   storage.ImageFetcher
	validator *validation.URLValidator
	url       string
}

func NewURLSource(decoder *Decoder, fetcher storage.ImageFetcher, validator *validation.URLValidator, rawURL string) *URLSource {
	return &URLSource{decoder: decoder, fetcher: fetcher, validator: validator, url: rawURL}
}

func (s *URLSource) Kind() models.SourceKind { return models.SourceURL }

func (s *URLSource) Acquire(ctx context.Context) (*models.ImagePayload, error) {
	if err := s.validator.ValidateImageURL(s.url); err != nil {
		msg := err.Error()
		if appErr, ok := apperrors.As(err); ok {
			msg = appErr.Message
		}
		return nil, apperrors.NewAcquisitionError(apperrors.ReasonFetchFailed, msg, err)
	}

	obj, err := s.fetcher.FetchImage(ctx, s.url)
	if err != nil {
		return nil, fetchError(err)
	}
	return s.decoder.Payload(obj.Data, models.SourceURL)
}

// BlobSource downloads an image from blob storage
type BlobSource struct {
	decoder   *Decoder
	blobs     storage.BlobStorage
	container string
	name      string
}

func NewBlobSource(decoder *Decoder, blobs storage.BlobStorage, container, name string) *BlobSource {
	return &BlobSource{decoder: decoder, blobs: blobs, container: container, name: name}
}

func (s *BlobSource) Kind() models.SourceKind { return models.SourceBlob }

func (s *BlobSource) Acquire(ctx context.Context) (*models.ImagePayload, error) {
	if s.container == "" || s.name == "" {
		return nil, apperrors.NewAcquisitionError(apperrors.ReasonFetchFailed, "container and blob name are required", nil)
	}
	obj, err := s.blobs.GetBlob(ctx, s.container, s.name, s.decoder.MaxBytes())
	if err != nil {
		return nil, fetchError(err)
	}
	return s.decoder.Payload(obj.Data, models.SourceBlob)
}

func fetchError(err error) error {
	if errors.Is(err, storage.ErrTooLarge) {
		return apperrors.NewAcquisitionError(apperrors.ReasonTooLarge, "remote image exceeds the size limit", err)
	}
	if errors.Is(err, storage.ErrBlockedAddress) {
		return apperrors.NewAcquisitionError(apperrors.ReasonFetchFailed, "image host is not allowed", err)
	}
	return apperrors.NewAcquisitionError(apperrors.ReasonFetchFailed, "could not fetch image", err)
}
