package transport

import (
	"bytes"
	"encoding/json"
	"image"
	"image/color"
	"image/png"
	"io"
	"math/rand"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go-dimension-detective/internal/config"
	"go-dimension-detective/internal/controller"
	"go-dimension-detective/internal/engine"
	"go-dimension-detective/internal/export"
	"go-dimension-detective/internal/observer"
	"go-dimension-detective/internal/session"
	"go-dimension-detective/internal/source"
	"go-dimension-detective/internal/storage"
	"go-dimension-detective/pkg/models"
	"go-dimension-detective/pkg/validation"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type testServer struct {
	handler  http.Handler
	sessions *session.Registry
	metrics  *observer.MetricsObserver
	hub      *observer.Hub
}

func newTestServer(t *testing.T, configure func(*config.Config, *Dependencies)) *testServer {
	t.Helper()

	cfg := config.Default()
	cfg.RateLimit = 0
	cfg.MaxImageBytes = 1024 * 1024
	cfg.MaxRequestBodySize = 2 * 1024 * 1024
	cfg.RequestTimeout = 5 * time.Second

	pool := engine.NewWorkerPool(2)
	publisher := observer.NewEventPublisher()
	metrics := observer.NewMetricsObserver()
	hub := observer.NewHub()
	publisher.Subscribe(metrics)
	publisher.Subscribe(hub)

	deps := Dependencies{
		Config:   cfg,
		Version:  "test",
		Exporter: export.NewExporter(nil),
		Hub:      hub,
		Metrics:  metrics,
		Pool:     pool,
	}
	if configure != nil {
		configure(cfg, &deps)
	}

	deps.Decoder = source.NewDecoder(cfg.MaxImageBytes, validation.NewImageValidator())
	eng := engine.NewStubEngine(0, engine.DefaultBounds(), 7)
	deps.Sessions = session.NewRegistry(session.Options{
		TTL: time.Minute,
		NewController: func(id string) *controller.Controller {
			return controller.New(controller.Options{
				SessionID:      id,
				Engine:         eng,
				Pool:           pool,
				Publisher:      publisher,
				ComputeTimeout: time.Second,
			})
		},
		Decoder:        deps.Decoder,
		CaptureEnabled: cfg.CaptureEnabled,
		OnClose:        hub.CloseSession,
		InUse:          func(id string) bool { return hub.Subscribers(id) > 0 },
	})
	t.Cleanup(func() {
		deps.Sessions.CloseAll()
		pool.Close()
	})

	return &testServer{
		handler:  NewHandler(deps),
		sessions: deps.Sessions,
		metrics:  metrics,
		hub:      hub,
	}
}

type sessionBody struct {
	Session struct {
		SessionID   string                    `json:"session_id"`
		State       string                    `json:"state"`
		Mode        string                    `json:"mode"`
		Image       *models.ImageInfo         `json:"image"`
		Calibration models.CalibrationState   `json:"calibration"`
		Result      *models.MeasurementResult `json:"result"`
	} `json:"session"`
	View         export.View          `json:"view"`
	Notification *models.Notification `json:"notification"`
}

func pngBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetNRGBA(x, y, color.NRGBA{R: uint8(x), G: uint8(y), B: 200, A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

// noisyPNG does not compress, so its encoded size tracks its pixel count
func noisyPNG(t *testing.T, w, h int) []byte {
	t.Helper()
	rng := rand.New(rand.NewSource(1))
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	rng.Read(img.Pix)
	for i := 3; i < len(img.Pix); i += 4 {
		img.Pix[i] = 255
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func multipartBody(t *testing.T, field string, data []byte) (io.Reader, string) {
	t.Helper()
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	part, err := w.CreateFormFile(field, "object.png")
	require.NoError(t, err)
	_, err = part.Write(data)
	require.NoError(t, err)
	require.NoError(t, w.Close())
	return &buf, w.FormDataContentType()
}

func (ts *testServer) do(t *testing.T, method, path string, body io.Reader, contentType string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, body)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	rec := httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, req)
	return rec
}

func (ts *testServer) doJSON(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	return ts.do(t, method, path, strings.NewReader(body), "application/json")
}

func (ts *testServer) createSession(t *testing.T) string {
	t.Helper()
	rec := ts.do(t, http.MethodPost, "/api/sessions", nil, "")
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	return decodeSession(t, rec).Session.SessionID
}

func (ts *testServer) upload(t *testing.T, id string, data []byte) *httptest.ResponseRecorder {
	t.Helper()
	body, ct := multipartBody(t, "image", data)
	return ts.do(t, http.MethodPost, "/api/sessions/"+id+"/image", body, ct)
}

func (ts *testServer) waitIdle(t *testing.T, id string) {
	t.Helper()
	s, err := ts.sessions.Get(id)
	require.NoError(t, err)
	s.Controller.Wait()
}

func decodeSession(t *testing.T, rec *httptest.ResponseRecorder) sessionBody {
	t.Helper()
	var body sessionBody
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body), rec.Body.String())
	return body
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) models.ErrorResponse {
	t.Helper()
	var body models.ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body), rec.Body.String())
	return body
}

func TestHealthCheck(t *testing.T) {
	ts := newTestServer(t, nil)
	rec := ts.do(t, http.MethodGet, "/health", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "available", body["status"])
	assert.Equal(t, "test", body["version"])
}

func TestScenario_UploadCalibrateExport(t *testing.T) {
	ts := newTestServer(t, nil)
	id := ts.createSession(t)

	rec := ts.upload(t, id, pngBytes(t, 64, 48))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	body := decodeSession(t, rec)
	assert.Equal(t, string(controller.StateAwaitingCalibration), body.Session.State)
	require.NotNil(t, body.Session.Image)
	assert.Equal(t, 64, body.Session.Image.Width)
	assert.Equal(t, "image/png", body.Session.Image.ContentType)
	require.NotNil(t, body.View.Alert)
	assert.Equal(t, "Calibration Needed", body.View.Alert.Title)

	rec = ts.doJSON(t, http.MethodPost, "/api/sessions/"+id+"/calibration", `{"reference_size":"5","unit":"cm"}`)
	require.Contains(t, []int{http.StatusOK, http.StatusAccepted}, rec.Code, rec.Body.String())
	assert.True(t, decodeSession(t, rec).Session.Calibration.IsCalibrated)

	ts.waitIdle(t, id)
	rec = ts.do(t, http.MethodGet, "/api/sessions/"+id, nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	body = decodeSession(t, rec)
	assert.Equal(t, string(controller.StateReady), body.Session.State)
	require.NotNil(t, body.Session.Result)
	assert.Equal(t, body.Session.Image.ID, body.Session.Result.ImageID)
	assert.Equal(t, models.UnitCentimeter, body.Session.Result.Unit)
	assert.Len(t, body.View.Badges, 2)
	assert.True(t, body.View.ExportEnabled)
	assert.Equal(t, "(Mock Data)", body.View.Disclaimer)

	rec = ts.do(t, http.MethodGet, "/api/sessions/"+id+"/export", nil, "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "image/png", rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Header().Get("Content-Disposition"), "dimension_detective_export_")
	out, err := png.Decode(bytes.NewReader(rec.Body.Bytes()))
	require.NoError(t, err)
	assert.Equal(t, image.Rect(0, 0, 64, 48), out.Bounds())

	assert.Equal(t, int64(1), ts.metrics.Count(models.NotifyComputationCompleted))
	assert.Equal(t, int64(1), ts.metrics.Count(models.NotifyExportCompleted))
	assert.Equal(t, int64(1), ts.metrics.Count(models.NotifyCalibrationRequired))

	rec = ts.do(t, http.MethodGet, "/api/sessions/"+id+"/image", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "image/png", rec.Header().Get("Content-Type"))
}

func TestUpload_Failures(t *testing.T) {
	ts := newTestServer(t, func(cfg *config.Config, _ *Dependencies) {
		cfg.MaxImageBytes = 2048
	})
	id := ts.createSession(t)

	tests := []struct {
		name   string
		data   []byte
		reason string
		title  string
	}{
		{"too large", noisyPNG(t, 200, 200), "too_large", "File Too Large"},
		{"not an image", []byte("plain text, not pixels"), "unsupported_type", "Unsupported File Type"},
		{"too small", pngBytes(t, 4, 4), "invalid_dimensions", "Invalid Image"},
		{"empty", nil, "unreadable", "File Read Error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := ts.upload(t, id, tt.data)
			require.Equal(t, http.StatusUnprocessableEntity, rec.Code, rec.Body.String())
			body := decodeError(t, rec)
			assert.Equal(t, "acquisition", body.Type)
			assert.Equal(t, tt.reason, body.Reason)
			require.NotNil(t, body.Notification)
			assert.Equal(t, tt.title, body.Notification.Title)
			assert.Equal(t, models.VariantDestructive, body.Notification.Variant)
		})
	}

	rec := ts.do(t, http.MethodGet, "/api/sessions/"+id, nil, "")
	assert.Equal(t, string(controller.StateIdle), decodeSession(t, rec).Session.State)
	assert.Equal(t, int64(len(tests)), ts.metrics.Count(models.NotifyAcquisitionFailed))
}

func TestUpload_MissingField(t *testing.T) {
	ts := newTestServer(t, nil)
	id := ts.createSession(t)

	body, ct := multipartBody(t, "other", pngBytes(t, 32, 32))
	rec := ts.do(t, http.MethodPost, "/api/sessions/"+id+"/image", body, ct)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "validation", decodeError(t, rec).Type)
}

func TestUpload_RequestBodyLimit(t *testing.T) {
	ts := newTestServer(t, func(cfg *config.Config, _ *Dependencies) {
		cfg.MaxRequestBodySize = 1024
	})
	id := ts.createSession(t)

	rec := ts.upload(t, id, noisyPNG(t, 200, 200))
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code, rec.Body.String())
	assert.Equal(t, "acquisition", decodeError(t, rec).Type)
}

func TestUpload_RawBody(t *testing.T) {
	ts := newTestServer(t, nil)
	id := ts.createSession(t)

	rec := ts.do(t, http.MethodPost, "/api/sessions/"+id+"/image", bytes.NewReader(pngBytes(t, 32, 32)), "image/png")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, string(models.SourceUpload), string(decodeSession(t, rec).Session.Image.Source))
}

func TestCalibration_Invalid(t *testing.T) {
	ts := newTestServer(t, nil)
	id := ts.createSession(t)

	for _, body := range []string{
		`{"reference_size":"abc","unit":"cm"}`,
		`{"reference_size":-2,"unit":"cm"}`,
		`{"reference_size":5,"unit":"furlong"}`,
	} {
		rec := ts.doJSON(t, http.MethodPost, "/api/sessions/"+id+"/calibration", body)
		require.Equal(t, http.StatusBadRequest, rec.Code, body)
		assert.Equal(t, "validation", decodeError(t, rec).Type, body)
	}

	rec := ts.do(t, http.MethodGet, "/api/sessions/"+id, nil, "")
	assert.False(t, decodeSession(t, rec).Session.Calibration.IsCalibrated)
	assert.Equal(t, int64(3), ts.metrics.Count(models.NotifyInvalidCalibration))
}

func TestCalibration_MalformedBodyNotifies(t *testing.T) {
	ts := newTestServer(t, nil)
	id := ts.createSession(t)

	for i, body := range []string{
		`{"unit":"cm"}`,
		`{"reference_size":5}`,
		`{"reference_size":`,
	} {
		rec := ts.doJSON(t, http.MethodPost, "/api/sessions/"+id+"/calibration", body)
		require.Equal(t, http.StatusBadRequest, rec.Code, body)
		errBody := decodeError(t, rec)
		require.NotNil(t, errBody.Notification, body)
		assert.Equal(t, "Invalid Input", errBody.Notification.Title)
		assert.Equal(t, int64(i+1), ts.metrics.Count(models.NotifyInvalidCalibration))
	}

	rec := ts.do(t, http.MethodGet, "/api/sessions/"+id, nil, "")
	assert.False(t, decodeSession(t, rec).Session.Calibration.IsCalibrated)
}

func TestCalibration_NumericReference(t *testing.T) {
	ts := newTestServer(t, nil)
	id := ts.createSession(t)

	rec := ts.doJSON(t, http.MethodPost, "/api/sessions/"+id+"/calibration", `{"reference_size":2.5,"unit":"in"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	body := decodeSession(t, rec)
	assert.Equal(t, 2.5, body.Session.Calibration.ReferenceSize)
	assert.Equal(t, models.UnitInch, body.Session.Calibration.Unit)
	assert.Equal(t, "Re-Calibrate", body.View.CalibrationButton)
}

func TestExport_WithoutResult(t *testing.T) {
	ts := newTestServer(t, nil)
	id := ts.createSession(t)

	rec := ts.do(t, http.MethodGet, "/api/sessions/"+id+"/export", nil, "")
	require.Equal(t, http.StatusConflict, rec.Code)
	body := decodeError(t, rec)
	assert.Equal(t, "export", body.Type)
	require.NotNil(t, body.Notification)
	assert.Equal(t, "Export Failed", body.Notification.Title)
}

func TestExport_PersistsArtifact(t *testing.T) {
	dir := t.TempDir()
	ts := newTestServer(t, func(_ *config.Config, deps *Dependencies) {
		store, err := storage.NewLocalArtifactStore(dir)
		require.NoError(t, err)
		deps.Exporter = export.NewExporter(store)
	})
	id := ts.createSession(t)

	ts.doJSON(t, http.MethodPost, "/api/sessions/"+id+"/calibration", `{"reference_size":5,"unit":"mm"}`)
	rec := ts.upload(t, id, pngBytes(t, 40, 40))
	require.Contains(t, []int{http.StatusOK, http.StatusAccepted}, rec.Code, rec.Body.String())
	ts.waitIdle(t, id)

	rec = ts.do(t, http.MethodGet, "/api/sessions/"+id+"/export", nil, "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.True(t, strings.HasPrefix(rec.Header().Get("X-Artifact-Location"), dir))
}

func TestUnknownSession(t *testing.T) {
	ts := newTestServer(t, nil)
	for _, path := range []string{"/api/sessions/missing", "/api/sessions/missing/export"} {
		rec := ts.do(t, http.MethodGet, path, nil, "")
		require.Equal(t, http.StatusNotFound, rec.Code, path)
		assert.Equal(t, "not_found", decodeError(t, rec).Type)
	}
	assert.Equal(t, http.StatusNotFound, ts.do(t, http.MethodDelete, "/api/sessions/missing", nil, "").Code)
}

func TestDeleteSession(t *testing.T) {
	ts := newTestServer(t, nil)
	id := ts.createSession(t)

	assert.Equal(t, http.StatusNoContent, ts.do(t, http.MethodDelete, "/api/sessions/"+id, nil, "").Code)
	assert.Equal(t, http.StatusNotFound, ts.do(t, http.MethodGet, "/api/sessions/"+id, nil, "").Code)
}

func TestCapture_StartFrame(t *testing.T) {
	ts := newTestServer(t, nil)
	id := ts.createSession(t)

	rec := ts.do(t, http.MethodPost, "/api/sessions/"+id+"/capture/frame", bytes.NewReader(pngBytes(t, 32, 32)), "image/png")
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, "not_started", decodeError(t, rec).Reason)

	rec = ts.do(t, http.MethodPost, "/api/sessions/"+id+"/capture/start", nil, "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	body, ct := multipartBody(t, "frame", pngBytes(t, 32, 32))
	rec = ts.do(t, http.MethodPost, "/api/sessions/"+id+"/capture/frame", body, ct)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	got := decodeSession(t, rec)
	assert.Equal(t, string(models.SourceCapture), string(got.Session.Image.Source))
	assert.Equal(t, string(controller.StateAwaitingCalibration), got.Session.State)

	s, err := ts.sessions.Get(id)
	require.NoError(t, err)
	assert.False(t, s.Capture.Active())
	assert.False(t, s.Camera.Streaming())
}

func TestCapture_StopReleasesStream(t *testing.T) {
	ts := newTestServer(t, nil)
	id := ts.createSession(t)

	require.Equal(t, http.StatusOK, ts.do(t, http.MethodPost, "/api/sessions/"+id+"/capture/start", nil, "").Code)
	require.Equal(t, http.StatusNoContent, ts.do(t, http.MethodPost, "/api/sessions/"+id+"/capture/stop", nil, "").Code)

	s, err := ts.sessions.Get(id)
	require.NoError(t, err)
	assert.False(t, s.Camera.Streaming())
}

func TestCapture_Disabled(t *testing.T) {
	ts := newTestServer(t, func(cfg *config.Config, _ *Dependencies) {
		cfg.CaptureEnabled = false
	})
	id := ts.createSession(t)

	rec := ts.do(t, http.MethodPost, "/api/sessions/"+id+"/capture/start", nil, "")
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	body := decodeError(t, rec)
	assert.Equal(t, "unsupported_environment", body.Reason)
	require.NotNil(t, body.Notification)
	assert.Equal(t, "Unsupported Feature", body.Notification.Title)

	rec = ts.do(t, http.MethodPost, "/api/sessions/"+id+"/capture/frame", bytes.NewReader(pngBytes(t, 32, 32)), "image/png")
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestAcquisitionFailureReport(t *testing.T) {
	ts := newTestServer(t, nil)
	id := ts.createSession(t)

	rec := ts.doJSON(t, http.MethodPost, "/api/sessions/"+id+"/acquisition-failure",
		`{"reason":"permission_denied","message":"camera blocked by the browser"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	body := decodeSession(t, rec)
	require.NotNil(t, body.Notification)
	assert.Equal(t, "Camera Error", body.Notification.Title)
	assert.Equal(t, "camera blocked by the browser", body.Notification.Description)
	assert.Equal(t, string(controller.StateIdle), body.Session.State)

	rec = ts.doJSON(t, http.MethodPost, "/api/sessions/"+id+"/acquisition-failure", `{"reason":"gremlins"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestModeRetryReset(t *testing.T) {
	ts := newTestServer(t, nil)
	id := ts.createSession(t)

	require.Equal(t, http.StatusOK, ts.upload(t, id, pngBytes(t, 32, 32)).Code)

	rec := ts.doJSON(t, http.MethodPost, "/api/sessions/"+id+"/mode", `{"mode":"camera"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	body := decodeSession(t, rec)
	assert.Equal(t, "camera", body.Session.Mode)
	assert.Nil(t, body.Session.Image)

	rec = ts.doJSON(t, http.MethodPost, "/api/sessions/"+id+"/mode", `{"mode":"gallery"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = ts.do(t, http.MethodPost, "/api/sessions/"+id+"/retry", nil, "")
	assert.Equal(t, http.StatusConflict, rec.Code)

	ts.doJSON(t, http.MethodPost, "/api/sessions/"+id+"/calibration", `{"reference_size":5,"unit":"cm"}`)
	rec = ts.do(t, http.MethodPost, "/api/sessions/"+id+"/reset", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	body = decodeSession(t, rec)
	assert.False(t, body.Session.Calibration.IsCalibrated)
	assert.Equal(t, string(controller.StateIdle), body.Session.State)
}

func TestURLSource(t *testing.T) {
	img := pngBytes(t, 48, 32)
	origin := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/object.png" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "image/png")
		w.Write(img)
	}))
	t.Cleanup(origin.Close)

	t.Run("disabled", func(t *testing.T) {
		ts := newTestServer(t, nil)
		id := ts.createSession(t)
		rec := ts.doJSON(t, http.MethodPost, "/api/sessions/"+id+"/image/url", `{"url":"`+origin.URL+`/object.png"}`)
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	ts := newTestServer(t, func(cfg *config.Config, deps *Dependencies) {
		cfg.EnableURLSource = true
		deps.Fetcher = storage.NewHTTPImageFetcher(time.Second, cfg.MaxImageBytes).WithBackoff(time.Millisecond)
		deps.URLs = validation.NewURLValidatorWithOptions([]string{"http"}, nil, true)
	})
	id := ts.createSession(t)

	rec := ts.doJSON(t, http.MethodPost, "/api/sessions/"+id+"/image/url", `{"url":"`+origin.URL+`/object.png"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	body := decodeSession(t, rec)
	assert.Equal(t, string(models.SourceURL), string(body.Session.Image.Source))
	assert.Equal(t, 48, body.Session.Image.Width)

	rec = ts.doJSON(t, http.MethodPost, "/api/sessions/"+id+"/image/url", `{"url":"`+origin.URL+`/missing.png"}`)
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	errBody := decodeError(t, rec)
	assert.Equal(t, "fetch_failed", errBody.Reason)
	require.NotNil(t, errBody.Notification)
	assert.Equal(t, "Fetch Failed", errBody.Notification.Title)
}

func TestBlobSource_Disabled(t *testing.T) {
	ts := newTestServer(t, nil)
	id := ts.createSession(t)
	rec := ts.doJSON(t, http.MethodPost, "/api/sessions/"+id+"/image/blob", `{"container":"c","blob":"b.png"}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRateLimit(t *testing.T) {
	ts := newTestServer(t, func(cfg *config.Config, _ *Dependencies) {
		cfg.RateLimit = 0.001
		cfg.RateBurst = 1
	})

	require.Equal(t, http.StatusCreated, ts.do(t, http.MethodPost, "/api/sessions", nil, "").Code)
	rec := ts.do(t, http.MethodPost, "/api/sessions", nil, "")
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "rate_limited", decodeError(t, rec).Type)

	assert.Equal(t, http.StatusOK, ts.do(t, http.MethodGet, "/health", nil, "").Code)
}

func TestMetricsEndpoint(t *testing.T) {
	ts := newTestServer(t, nil)
	id := ts.createSession(t)
	ts.upload(t, id, pngBytes(t, 32, 32))

	rec := ts.do(t, http.MethodGet, "/metrics", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Sessions int                      `json:"sessions"`
		Events   observer.MetricsSnapshot `json:"events"`
		Pool     engine.PoolStats         `json:"pool"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, 1, body.Sessions)
	assert.Equal(t, int64(1), body.Events.Notifications[models.NotifyCalibrationRequired])
	assert.Equal(t, 2, body.Pool.Workers)
}

func TestEventStream(t *testing.T) {
	ts := newTestServer(t, nil)
	srv := httptest.NewServer(ts.handler)
	t.Cleanup(srv.Close)

	id := ts.createSession(t)
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/sessions/" + id + "/events"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	require.Equal(t, http.StatusOK, ts.upload(t, id, pngBytes(t, 32, 32)).Code)

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var n models.Notification
	require.NoError(t, conn.ReadJSON(&n))
	assert.Equal(t, models.NotifyCalibrationRequired, n.Kind)
	assert.Equal(t, "Calibration Required", n.Title)
	assert.Equal(t, id, n.SessionID)

	require.Equal(t, http.StatusNoContent, ts.do(t, http.MethodDelete, "/api/sessions/"+id, nil, "").Code)
	_, _, err = conn.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure), "got %v", err)
}

func TestEventStream_KeepsSessionAlive(t *testing.T) {
	ts := newTestServer(t, nil)
	srv := httptest.NewServer(ts.handler)
	t.Cleanup(srv.Close)

	id := ts.createSession(t)
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/sessions/" + id + "/events"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)

	assert.Zero(t, ts.sessions.Sweep(time.Now().Add(5*time.Minute)))
	assert.Equal(t, http.StatusOK, ts.do(t, http.MethodGet, "/api/sessions/"+id, nil, "").Code)

	conn.Close()
	require.Eventually(t, func() bool { return ts.hub.Subscribers(id) == 0 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, 1, ts.sessions.Sweep(time.Now().Add(10*time.Minute)))
	assert.Equal(t, http.StatusNotFound, ts.do(t, http.MethodGet, "/api/sessions/"+id, nil, "").Code)
}

func TestEventStream_UnknownSession(t *testing.T) {
	ts := newTestServer(t, nil)
	srv := httptest.NewServer(ts.handler)
	t.Cleanup(srv.Close)

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/sessions/missing/events"
	_, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}
