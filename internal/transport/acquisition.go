package transport

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	apperrors "go-dimension-detective/internal/errors"
	"go-dimension-detective/internal/source"
	"go-dimension-detective/pkg/models"
)

// clientReasons are the failures a client may report on its own behalf
var clientReasons = map[string]bool{
	apperrors.ReasonTooLarge:         true,
	apperrors.ReasonUnsupportedType:  true,
	apperrors.ReasonUnreadable:       true,
	apperrors.ReasonPermissionDenied: true,
	apperrors.ReasonUnsupported:      true,
	apperrors.ReasonNotStarted:       true,
	apperrors.ReasonCaptureFailed:    true,
}

func (a *api) uploadImage(c *gin.Context) {
	s, ok := a.session(c)
	if !ok {
		return
	}
	ctx, cancel := context.WithTimeout(c.Request.Context(), a.Config.RequestTimeout)
	defer cancel()

	body, err := uploadBody(c, "image")
	if err != nil {
		if apperrors.IsType(err, apperrors.ErrorTypeValidation) {
			fail(c, "invalid upload", err)
			return
		}
		a.acquired(c, s, nil, err)
		return
	}
	defer body.Close()

	payload, err := source.NewFileSource(a.Decoder, body).Acquire(ctx)
	a.acquired(c, s, payload, err)
}

func (a *api) fetchURLImage(c *gin.Context) {
	s, ok := a.session(c)
	if !ok {
		return
	}
	if !a.Config.EnableURLSource || a.Fetcher == nil || a.URLs == nil {
		fail(c, "URL source unavailable", apperrors.NewNotFoundError("the URL image source is disabled", nil))
		return
	}

	var req models.URLImageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "invalid request format", err)
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), a.Config.RequestTimeout)
	defer cancel()

	payload, err := source.NewURLSource(a.Decoder, a.Fetcher, a.URLs, req.URL).Acquire(ctx)
	a.acquired(c, s, payload, err)
}

func (a *api) fetchBlobImage(c *gin.Context) {
	s, ok := a.session(c)
	if !ok {
		return
	}
	if a.Blobs == nil {
		fail(c, "blob source unavailable", apperrors.NewNotFoundError("the blob image source is disabled", nil))
		return
	}

	var req models.BlobImageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "invalid request format", err)
		return
	}
	if req.Container == "" {
		req.Container = a.Config.AzureContainer
	}
	if req.Container == "" {
		fail(c, "invalid request", apperrors.NewValidationError("a blob container is required", nil))
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), a.Config.RequestTimeout)
	defer cancel()

	payload, err := source.NewBlobSource(a.Decoder, a.Blobs, req.Container, req.Blob).Acquire(ctx)
	a.acquired(c, s, payload, err)
}

func (a *api) startCapture(c *gin.Context) {
	s, ok := a.session(c)
	if !ok {
		return
	}
	if err := s.Capture.Start(c.Request.Context()); err != nil {
		n := s.Controller.ReportAcquisitionFailure(err)
		respondErrorWithNotification(c, determineStatusCode(err), "could not start camera", err, &n)
		return
	}
	c.JSON(http.StatusOK, gin.H{"session_id": s.ID, "streaming": true})
}

// captureFrame relays a frame from the client's camera and captures it
func (a *api) captureFrame(c *gin.Context) {
	s, ok := a.session(c)
	if !ok {
		return
	}
	if s.Camera == nil {
		a.acquired(c, s, nil, apperrors.NewAcquisitionError(apperrors.ReasonUnsupported,
			"camera capture is not supported here", nil))
		return
	}
	ctx, cancel := context.WithTimeout(c.Request.Context(), a.Config.RequestTimeout)
	defer cancel()

	body, err := uploadBody(c, "frame")
	if err != nil {
		a.acquired(c, s, nil, err)
		return
	}
	defer body.Close()

	frame, err := a.Decoder.ReadAll(body)
	if err != nil {
		a.acquired(c, s, nil, err)
		return
	}
	if err := s.Camera.Push(frame); err != nil {
		a.acquired(c, s, nil, apperrors.NewAcquisitionError(apperrors.ReasonNotStarted, "camera is not started", err))
		return
	}

	payload, err := s.Capture.Capture(ctx)
	a.acquired(c, s, payload, err)
}

func (a *api) stopCapture(c *gin.Context) {
	s, ok := a.session(c)
	if !ok {
		return
	}
	s.Capture.Stop()
	c.Status(http.StatusNoContent)
}

func (a *api) reportAcquisitionFailure(c *gin.Context) {
	s, ok := a.session(c)
	if !ok {
		return
	}

	var req models.AcquisitionFailureRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "invalid request format", err)
		return
	}
	if !clientReasons[req.Reason] {
		fail(c, "invalid request", apperrors.NewValidationError("unknown failure reason "+req.Reason, nil))
		return
	}

	s.Capture.Stop()
	n := s.Controller.ReportAcquisitionFailure(apperrors.NewAcquisitionError(req.Reason, req.Message, nil))
	a.respondSession(c, http.StatusOK, s, &n)
}

// uploadBody returns the named multipart file, or the raw request body for
// any other content type
func uploadBody(c *gin.Context, field string) (io.ReadCloser, error) {
	if !strings.HasPrefix(c.ContentType(), "multipart/") {
		return c.Request.Body, nil
	}

	fh, err := c.FormFile(field)
	if err != nil {
		if errors.Is(err, http.ErrMissingFile) {
			return nil, apperrors.NewValidationError("multipart field "+field+" is required", err)
		}
		return nil, acquisitionError(err)
	}
	f, err := fh.Open()
	if err != nil {
		return nil, apperrors.NewAcquisitionError(apperrors.ReasonUnreadable, "could not read the upload", err)
	}
	return f, nil
}

// acquisitionError maps request-level failures onto acquisition reasons
func acquisitionError(err error) error {
	var maxBytes *http.MaxBytesError
	if errors.As(err, &maxBytes) {
		return apperrors.NewAcquisitionError(apperrors.ReasonTooLarge, "request body exceeds the upload limit", err)
	}
	if _, ok := apperrors.As(err); ok {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return apperrors.NewTimeoutError("image acquisition timed out", err)
	}
	return apperrors.NewAcquisitionError(apperrors.ReasonUnreadable, "could not read the upload", err)
}
