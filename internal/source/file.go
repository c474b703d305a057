package source

import (
	"context"
	"errors"
	"io"
	"io/fs"
	"os"

	apperrors "go-dimension-detective/internal/errors"
	"go-dimension-detective/pkg/models"
)

// FileSource reads a single uploaded or local file
type FileSource struct {
	decoder *Decoder
	open    func() (io.ReadCloser, error)
}

// NewFileSource wraps an already opened upload body
func NewFileSource(decoder *Decoder, r io.Reader) *FileSource {
	return &FileSource{
		decoder: decoder,
		open:    func() (io.ReadCloser, error) { return io.NopCloser(r), nil },
	}
}

// NewPathSource reads the file at path when acquired
func NewPathSource(decoder *Decoder, path string) *FileSource {
	return &FileSource{
		decoder: decoder,
		open:    func() (io.ReadCloser, error) { return os.Open(path) },
	}
}

func (s *FileSource) Kind() models.SourceKind { return models.SourceUpload }

func (s *FileSource) Acquire(ctx context.Context) (*models.ImagePayload, error) {
	if err := ctx.Err(); err != nil {
		return nil, apperrors.NewAcquisitionError(apperrors.ReasonUnreadable, "acquisition cancelled", err)
	}

	rc, err := s.open()
	if err != nil {
		if errors.Is(err, fs.ErrPermission) {
			return nil, apperrors.NewAcquisitionError(apperrors.ReasonPermissionDenied, "permission denied reading the file", err)
		}
		return nil, apperrors.NewAcquisitionError(apperrors.ReasonUnreadable, "could not open the file", err)
	}
	defer rc.Close()

	data, err := s.decoder.ReadAll(rc)
	if err != nil {
		return nil, err
	}
	return s.decoder.Payload(data, models.SourceUpload)
}
