package source

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/gif"
	"image/png"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "go-dimension-detective/internal/errors"
	"go-dimension-detective/internal/storage"
	"go-dimension-detective/pkg/models"
	"go-dimension-detective/pkg/validation"
)

func encodePNG(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	img.Set(1, 1, color.RGBA{R: 200, A: 255})
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func encodeGIF(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewPaletted(image.Rect(0, 0, w, h), color.Palette{color.Black, color.White})
	var buf bytes.Buffer
	require.NoError(t, gif.Encode(&buf, img, nil))
	return buf.Bytes()
}

func requireReason(t *testing.T, err error, reason string) {
	t.Helper()
	require.Error(t, err)
	appErr, ok := apperrors.As(err)
	require.True(t, ok, "expected AppError, got %T: %v", err, err)
	assert.Equal(t, apperrors.ErrorTypeAcquisition, appErr.Type)
	assert.Equal(t, reason, appErr.Reason)
}

func newDecoder() *Decoder {
	return NewDecoder(5*1024*1024, nil)
}

func TestDecoder_Payload(t *testing.T) {
	d := newDecoder()

	p, err := d.Payload(encodePNG(t, 64, 48), models.SourceUpload)
	require.NoError(t, err)
	assert.Equal(t, "image/png", p.ContentType())
	assert.Equal(t, 64, p.Width())
	assert.Equal(t, 48, p.Height())
	assert.Equal(t, models.SourceUpload, p.Source())

	p, err = d.Payload(encodeGIF(t, 32, 32), models.SourceCapture)
	require.NoError(t, err)
	assert.Equal(t, "image/gif", p.ContentType())
}

func TestDecoder_Rejections(t *testing.T) {
	valid := encodePNG(t, 64, 48)

	_, err := newDecoder().Payload(nil, models.SourceUpload)
	requireReason(t, err, apperrors.ReasonUnreadable)

	_, err = newDecoder().Payload([]byte("just some text, not an image"), models.SourceUpload)
	requireReason(t, err, apperrors.ReasonUnsupportedType)

	_, err = newDecoder().Payload(valid[:20], models.SourceUpload)
	requireReason(t, err, apperrors.ReasonUnreadable)

	_, err = NewDecoder(int64(len(valid)-1), nil).Payload(valid, models.SourceUpload)
	requireReason(t, err, apperrors.ReasonTooLarge)

	_, err = newDecoder().Payload(encodePNG(t, 4, 4), models.SourceUpload)
	requireReason(t, err, apperrors.ReasonBadDimensions)
}

func TestDecoder_TooLargeMessage(t *testing.T) {
	data := bytes.Repeat([]byte{0}, 5*1024*1024+1)
	_, err := newDecoder().ReadAll(bytes.NewReader(data))
	requireReason(t, err, apperrors.ReasonTooLarge)

	appErr, _ := apperrors.As(err)
	assert.Equal(t, "image exceeds the 5MB limit", appErr.Message)
}

func TestFileSource(t *testing.T) {
	data := encodePNG(t, 40, 30)

	p, err := NewFileSource(newDecoder(), bytes.NewReader(data)).Acquire(context.Background())
	require.NoError(t, err)
	assert.Equal(t, data, p.Bytes())

	path := filepath.Join(t.TempDir(), "object.png")
	require.NoError(t, os.WriteFile(path, data, 0o600))
	p, err = NewPathSource(newDecoder(), path).Acquire(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 40, p.Width())

	_, err = NewPathSource(newDecoder(), filepath.Join(t.TempDir(), "missing.png")).Acquire(context.Background())
	requireReason(t, err, apperrors.ReasonUnreadable)
}

func TestFileSource_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewFileSource(newDecoder(), bytes.NewReader(encodePNG(t, 40, 30))).Acquire(ctx)
	requireReason(t, err, apperrors.ReasonUnreadable)
}

type fakeStream struct {
	frame   []byte
	err     error
	stopped atomic.Int32
}

func (s *fakeStream) Grab(context.Context) ([]byte, error) { return s.frame, s.err }
func (s *fakeStream) Stop() error                          { s.stopped.Add(1); return nil }

type fakeCamera struct {
	stream  *fakeStream
	openErr error
	opened  int
}

func (c *fakeCamera) Open(context.Context) (Stream, error) {
	c.opened++
	if c.openErr != nil {
		return nil, c.openErr
	}
	return c.stream, nil
}

func TestCaptureSource_Unsupported(t *testing.T) {
	_, err := NewCaptureSource(nil, newDecoder()).Acquire(context.Background())
	requireReason(t, err, apperrors.ReasonUnsupported)
}

func TestCaptureSource_PermissionDenied(t *testing.T) {
	cam := &fakeCamera{openErr: ErrPermissionDenied}
	err := NewCaptureSource(cam, newDecoder()).Start(context.Background())
	requireReason(t, err, apperrors.ReasonPermissionDenied)
}

func TestCaptureSource_NotStarted(t *testing.T) {
	_, err := NewCaptureSource(&fakeCamera{}, newDecoder()).Capture(context.Background())
	requireReason(t, err, apperrors.ReasonNotStarted)
}

func TestCaptureSource_StreamReleasedOnEveryPath(t *testing.T) {
	tests := []struct {
		name   string
		stream *fakeStream
		reason string
	}{
		{"success", &fakeStream{frame: encodePNG(t, 40, 30)}, ""},
		{"grab failure", &fakeStream{err: errors.New("device lost")}, apperrors.ReasonCaptureFailed},
		{"undecodable frame", &fakeStream{frame: []byte("garbage")}, apperrors.ReasonUnsupportedType},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cam := &fakeCamera{stream: tt.stream}
			src := NewCaptureSource(cam, newDecoder())
			require.NoError(t, src.Start(context.Background()))
			assert.True(t, src.Active())

			p, err := src.Capture(context.Background())
			if tt.reason == "" {
				require.NoError(t, err)
				assert.Equal(t, models.SourceCapture, p.Source())
			} else {
				requireReason(t, err, tt.reason)
			}
			assert.Equal(t, int32(1), tt.stream.stopped.Load())
			assert.False(t, src.Active())
		})
	}
}

func TestCaptureSource_StartIsIdempotentAndStopReleases(t *testing.T) {
	stream := &fakeStream{}
	cam := &fakeCamera{stream: stream}
	src := NewCaptureSource(cam, newDecoder())

	require.NoError(t, src.Start(context.Background()))
	require.NoError(t, src.Start(context.Background()))
	assert.Equal(t, 1, cam.opened)

	src.Stop()
	src.Stop()
	assert.Equal(t, int32(1), stream.stopped.Load())
}

func TestRelayCamera(t *testing.T) {
	cam := NewRelayCamera()
	assert.ErrorIs(t, cam.Push([]byte("x")), ErrNoStream)

	src := NewCaptureSource(cam, newDecoder())
	require.NoError(t, src.Start(context.Background()))
	assert.True(t, cam.Streaming())

	require.NoError(t, cam.Push([]byte("stale")))
	frame := encodePNG(t, 40, 30)
	require.NoError(t, cam.Push(frame))

	p, err := src.Capture(context.Background())
	require.NoError(t, err)
	assert.Equal(t, frame, p.Bytes())
	assert.False(t, cam.Streaming())
	assert.ErrorIs(t, cam.Push(frame), ErrStreamStopped)
}

func TestRelayCamera_GrabHonoursContext(t *testing.T) {
	cam := NewRelayCamera()
	src := NewCaptureSource(cam, newDecoder())
	require.NoError(t, src.Start(context.Background()))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := src.Capture(ctx)
	requireReason(t, err, apperrors.ReasonCaptureFailed)
	assert.False(t, cam.Streaming())
}

func TestURLSource(t *testing.T) {
	data := encodePNG(t, 40, 30)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/missing.png" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Type", "image/png")
		w.Write(data)
	}))
	defer server.Close()

	fetcher := storage.NewHTTPImageFetcher(time.Second, 1024*1024).WithBackoff(time.Millisecond)
	permissive := validation.NewURLValidatorWithOptions([]string{"http"}, nil, true)

	p, err := NewURLSource(newDecoder(), fetcher, permissive, server.URL+"/object.png").Acquire(context.Background())
	require.NoError(t, err)
	assert.Equal(t, models.SourceURL, p.Source())

	_, err = NewURLSource(newDecoder(), fetcher, permissive, server.URL+"/missing.png").Acquire(context.Background())
	requireReason(t, err, apperrors.ReasonFetchFailed)
	appErr, _ := apperrors.As(err)
	assert.Equal(t, "could not fetch image", appErr.Message)
	assert.Equal(t, 1, strings.Count(err.Error(), "status code 404"))

	_, err = NewURLSource(newDecoder(), fetcher, validation.NewURLValidator(), server.URL+"/object.png").Acquire(context.Background())
	requireReason(t, err, apperrors.ReasonFetchFailed)
}

func TestURLSource_GuardedFetcherRefusesPrivateAddress(t *testing.T) {
	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.Header().Set("Content-Type", "image/png")
		w.Write(encodePNG(t, 40, 30))
	}))
	defer server.Close()

	guarded := storage.NewHTTPImageFetcher(time.Second, 1024*1024).
		WithBackoff(time.Millisecond).
		WithPolicy(validation.NewURLValidator())
	// the permissive validator stands in for a hostname that passes the
	// literal check but resolves to loopback
	permissive := validation.NewURLValidatorWithOptions([]string{"http"}, nil, true)

	_, err := NewURLSource(newDecoder(), guarded, permissive, server.URL+"/internal").Acquire(context.Background())
	requireReason(t, err, apperrors.ReasonFetchFailed)
	appErr, _ := apperrors.As(err)
	assert.Equal(t, "image host is not allowed", appErr.Message)
	assert.Zero(t, hits.Load())
}

type fakeBlobs struct {
	obj *storage.FetchedObject
	err error
}

func (f *fakeBlobs) GetBlob(context.Context, string, string, int64) (*storage.FetchedObject, error) {
	return f.obj, f.err
}

func (f *fakeBlobs) PutBlob(context.Context, string, string, string, []byte) (string, error) {
	return "", errors.New("read only")
}

func TestBlobSource(t *testing.T) {
	blobs := &fakeBlobs{obj: &storage.FetchedObject{Data: encodePNG(t, 40, 30)}}
	p, err := NewBlobSource(newDecoder(), blobs, "photos", "desk.png").Acquire(context.Background())
	require.NoError(t, err)
	assert.Equal(t, models.SourceBlob, p.Source())

	_, err = NewBlobSource(newDecoder(), blobs, "", "desk.png").Acquire(context.Background())
	requireReason(t, err, apperrors.ReasonFetchFailed)

	_, err = NewBlobSource(newDecoder(), &fakeBlobs{err: storage.ErrTooLarge}, "photos", "huge.png").Acquire(context.Background())
	requireReason(t, err, apperrors.ReasonTooLarge)
}
