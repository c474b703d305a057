package source

import (
	"context"
	"errors"
	"sync"

	"github.com/sirupsen/logrus"

	apperrors "go-dimension-detective/internal/errors"
	"go-dimension-detective/internal/logger"
	"go-dimension-detective/pkg/models"
)

var (
	// ErrPermissionDenied is returned by cameras the user has not granted access to
	ErrPermissionDenied = errors.New("camera permission denied")
	// ErrStreamStopped is returned when grabbing from a released stream
	ErrStreamStopped = errors.New("camera stream stopped")
)

// Stream is an open camera feed
type Stream interface {
	Grab(ctx context.Context) ([]byte, error)
	Stop() error
}

// Camera opens live streams
type Camera interface {
	Open(ctx context.Context) (Stream, error)
}

// CaptureSource owns at most one open stream. The stream is released after
// every capture attempt, successful or not, and on Stop.
type CaptureSource struct {
	camera  Camera
	decoder *Decoder

	mu     sync.Mutex
	stream Stream
}

// NewCaptureSource accepts a nil camera for environments without capture support
func NewCaptureSource(camera Camera, decoder *Decoder) *CaptureSource {
	return &CaptureSource{camera: camera, decoder: decoder}
}

func (s *CaptureSource) Kind() models.SourceKind { return models.SourceCapture }

// Start opens the stream; starting an active source is a no-op
func (s *CaptureSource) Start(ctx context.Context) error {
	if s.camera == nil {
		return apperrors.NewAcquisitionError(apperrors.ReasonUnsupported, "camera capture is not supported here", nil)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stream != nil {
		return nil
	}

	stream, err := s.camera.Open(ctx)
	if err != nil {
		if errors.Is(err, ErrPermissionDenied) {
			return apperrors.NewAcquisitionError(apperrors.ReasonPermissionDenied,
				"could not access camera, check permissions and that no other app is using it", err)
		}
		return apperrors.NewAcquisitionError(apperrors.ReasonCaptureFailed, "could not open camera", err)
	}
	s.stream = stream
	return nil
}

// Active reports whether a stream is open
func (s *CaptureSource) Active() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stream != nil
}

// Capture grabs one frame from the open stream and always releases it
func (s *CaptureSource) Capture(ctx context.Context) (*models.ImagePayload, error) {
	s.mu.Lock()
	stream := s.stream
	s.stream = nil
	s.mu.Unlock()

	if stream == nil {
		return nil, apperrors.NewAcquisitionError(apperrors.ReasonNotStarted, "camera is not started", nil)
	}
	defer stopStream(stream)

	frame, err := stream.Grab(ctx)
	if err != nil {
		return nil, apperrors.NewAcquisitionError(apperrors.ReasonCaptureFailed, "could not capture frame", err)
	}
	return s.decoder.Payload(frame, models.SourceCapture)
}

// Acquire starts the camera if needed and captures a frame
func (s *CaptureSource) Acquire(ctx context.Context) (*models.ImagePayload, error) {
	if err := s.Start(ctx); err != nil {
		return nil, err
	}
	return s.Capture(ctx)
}

// Stop releases the stream if one is open
func (s *CaptureSource) Stop() {
	s.mu.Lock()
	stream := s.stream
	s.stream = nil
	s.mu.Unlock()

	if stream != nil {
		stopStream(stream)
	}
}

func stopStream(stream Stream) {
	if err := stream.Stop(); err != nil {
		logger.WithFields(logrus.Fields{"error": err.Error()}).Warn("Failed to stop camera stream")
	}
}
