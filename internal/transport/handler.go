package transport

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"go-dimension-detective/internal/config"
	"go-dimension-detective/internal/controller"
	"go-dimension-detective/internal/engine"
	apperrors "go-dimension-detective/internal/errors"
	"go-dimension-detective/internal/export"
	"go-dimension-detective/internal/logger"
	"go-dimension-detective/internal/observer"
	"go-dimension-detective/internal/session"
	"go-dimension-detective/internal/source"
	"go-dimension-detective/internal/storage"
	"go-dimension-detective/pkg/models"
	"go-dimension-detective/pkg/validation"
)

// Dependencies are the collaborators the HTTP layer drives
type Dependencies struct {
	Config   *config.Config
	Version  string
	Sessions *session.Registry
	Decoder  *source.Decoder
	Exporter *export.Exporter
	Hub      *observer.Hub
	Metrics  *observer.MetricsObserver
	Pool     *engine.WorkerPool

	// Fetcher and URLs back the URL source; it is disabled when either is nil
	Fetcher storage.ImageFetcher
	URLs    *validation.URLValidator
	// Blobs backs the blob source; it is disabled when nil
	Blobs storage.BlobStorage
}

// SessionResponse is the state of one session as clients render it
type SessionResponse struct {
	Session      controller.Snapshot  `json:"session"`
	View         export.View          `json:"view"`
	Notification *models.Notification `json:"notification,omitempty"`
}

type api struct {
	Dependencies
}

func NewHandler(deps Dependencies) http.Handler {
	a := &api{Dependencies: deps}
	cfg := deps.Config

	r := gin.New()
	r.Use(
		gin.Recovery(),
		requestLogger(),
		requestSizeLimiter(cfg.MaxRequestBodySize),
		errorHandler(),
	)

	r.GET("/health", a.healthCheck)
	r.GET("/metrics", a.metrics)

	sessions := r.Group("/api/sessions", rateLimiter(cfg.RateLimit, cfg.RateBurst))
	sessions.POST("", a.createSession)
	sessions.GET("/:id", a.getSession)
	sessions.DELETE("/:id", a.deleteSession)

	sessions.GET("/:id/image", a.getImage)
	sessions.POST("/:id/image", a.uploadImage)
	sessions.POST("/:id/image/url", a.fetchURLImage)
	sessions.POST("/:id/image/blob", a.fetchBlobImage)

	sessions.POST("/:id/capture/start", a.startCapture)
	sessions.POST("/:id/capture/frame", a.captureFrame)
	sessions.POST("/:id/capture/stop", a.stopCapture)
	sessions.POST("/:id/acquisition-failure", a.reportAcquisitionFailure)

	sessions.POST("/:id/calibration", a.calibrate)
	sessions.POST("/:id/mode", a.switchMode)
	sessions.POST("/:id/retry", a.retry)
	sessions.POST("/:id/reset", a.reset)
	sessions.GET("/:id/export", a.exportImage)
	sessions.GET("/:id/events", a.streamEvents)

	return r
}

func (a *api) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":   "available",
		"version":  a.Version,
		"sessions": a.Sessions.Len(),
		"time":     time.Now().UTC().Format(time.RFC3339),
	})
}

func (a *api) metrics(c *gin.Context) {
	body := gin.H{"sessions": a.Sessions.Len()}
	if a.Metrics != nil {
		body["events"] = a.Metrics.GetMetrics()
	}
	if a.Pool != nil {
		body["pool"] = a.Pool.GetStats()
	}
	c.JSON(http.StatusOK, body)
}

// session resolves the :id parameter, responding 404 when it is unknown
func (a *api) session(c *gin.Context) (*session.Session, bool) {
	s, err := a.Sessions.Get(c.Param("id"))
	if err != nil {
		fail(c, "unknown session", err)
		return nil, false
	}
	return s, true
}

func (a *api) respondSession(c *gin.Context, code int, s *session.Session, n *models.Notification) {
	snap := s.Controller.Snapshot()
	if code == http.StatusOK && snap.State == controller.StateComputing {
		code = http.StatusAccepted
	}
	c.JSON(code, SessionResponse{
		Session:      snap,
		View:         export.Present(snap),
		Notification: n,
	})
}

func (a *api) createSession(c *gin.Context) {
	s, err := a.Sessions.Create()
	if err != nil {
		fail(c, "could not create session", err)
		return
	}
	a.respondSession(c, http.StatusCreated, s, nil)
}

func (a *api) getSession(c *gin.Context) {
	s, ok := a.session(c)
	if !ok {
		return
	}
	a.respondSession(c, http.StatusOK, s, nil)
}

func (a *api) deleteSession(c *gin.Context) {
	if err := a.Sessions.Delete(c.Param("id")); err != nil {
		fail(c, "unknown session", err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (a *api) getImage(c *gin.Context) {
	s, ok := a.session(c)
	if !ok {
		return
	}
	img := s.Controller.Snapshot().Image
	if img == nil {
		fail(c, "no image", apperrors.NewNotFoundError("no image has been acquired", nil))
		return
	}
	c.Data(http.StatusOK, img.ContentType(), img.Bytes())
}

func (a *api) calibrate(c *gin.Context) {
	s, ok := a.session(c)
	if !ok {
		return
	}

	var req models.CalibrationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		n := s.Controller.ReportInvalidInput(err)
		respondErrorWithNotification(c, http.StatusBadRequest, "invalid request format", err, &n)
		return
	}

	cal, err := s.Controller.CalibrateText(req.RawReferenceSize(), req.Unit)
	if err != nil {
		fail(c, "invalid calibration", err)
		return
	}

	logger.WithFields(logrus.Fields{
		"session_id":     s.ID,
		"reference_size": cal.ReferenceSize,
		"unit":           cal.Unit,
	}).Info("Session calibrated")
	a.respondSession(c, http.StatusOK, s, nil)
}

func (a *api) switchMode(c *gin.Context) {
	s, ok := a.session(c)
	if !ok {
		return
	}

	var req models.ModeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "invalid request format", err)
		return
	}
	mode, err := controller.ParseMode(req.Mode)
	if err != nil {
		fail(c, "invalid mode", err)
		return
	}

	// leaving either context releases the camera
	s.Capture.Stop()
	if err := s.Controller.SwitchContext(mode); err != nil {
		fail(c, "could not switch mode", err)
		return
	}
	a.respondSession(c, http.StatusOK, s, nil)
}

func (a *api) retry(c *gin.Context) {
	s, ok := a.session(c)
	if !ok {
		return
	}
	if err := s.Controller.Retry(); err != nil {
		fail(c, "could not retry", err)
		return
	}
	a.respondSession(c, http.StatusOK, s, nil)
}

func (a *api) reset(c *gin.Context) {
	s, ok := a.session(c)
	if !ok {
		return
	}
	s.Capture.Stop()
	if err := s.Controller.Reset(); err != nil {
		fail(c, "could not reset", err)
		return
	}
	a.respondSession(c, http.StatusOK, s, nil)
}

func (a *api) exportImage(c *gin.Context) {
	s, ok := a.session(c)
	if !ok {
		return
	}
	ctx, cancel := context.WithTimeout(c.Request.Context(), a.Config.RequestTimeout)
	defer cancel()

	artifact, err := a.Exporter.Export(ctx, s.Controller.Snapshot())
	if err != nil {
		n := s.Controller.ReportExport("", err)
		respondErrorWithNotification(c, determineStatusCode(err), "export failed", err, &n)
		return
	}
	s.Controller.ReportExport(artifact.Name, nil)

	c.Header("Content-Disposition", `attachment; filename="`+artifact.Name+`"`)
	if artifact.Location != "" {
		c.Header("X-Artifact-Location", artifact.Location)
	}
	c.Data(http.StatusOK, artifact.ContentType, artifact.Data)
}

// acquired hands a payload to the controller, or reports the failure that
// prevented acquiring one
func (a *api) acquired(c *gin.Context, s *session.Session, payload *models.ImagePayload, err error) {
	if err != nil {
		err = acquisitionError(err)
		n := s.Controller.ReportAcquisitionFailure(err)
		respondErrorWithNotification(c, determineStatusCode(err), "image acquisition failed", err, &n)
		return
	}

	if err := s.Controller.AcquireImage(payload); err != nil {
		fail(c, "could not accept image", err)
		return
	}

	logger.WithFields(logrus.Fields{
		"session_id": s.ID,
		"image_id":   payload.ID(),
		"source":     payload.Source(),
		"bytes":      payload.Size(),
		"width":      payload.Width(),
		"height":     payload.Height(),
	}).Info("Image acquired")
	a.respondSession(c, http.StatusOK, s, nil)
}
