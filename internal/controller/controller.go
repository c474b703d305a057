// Package controller implements the measurement interaction state machine:
// image acquisition, calibration gating, asynchronous metric computation and
// the notifications that accompany each transition.
package controller

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"go-dimension-detective/internal/calibration"
	"go-dimension-detective/internal/engine"
	apperrors "go-dimension-detective/internal/errors"
	"go-dimension-detective/internal/logger"
	"go-dimension-detective/internal/observer"
	"go-dimension-detective/pkg/models"
)

// State is the controller's position in the measurement flow
type State string

const (
	StateIdle                State = "idle"
	StateAwaitingCalibration State = "awaiting_calibration"
	StateComputing           State = "computing"
	StateReady               State = "ready"
	// StateNeedsRetry keeps the image after a failed computation
	StateNeedsRetry State = "needs_retry"
)

// Mode is the acquisition context the user is working in
type Mode string

const (
	ModeUpload Mode = "upload"
	ModeCamera Mode = "camera"
)

// ParseMode accepts the mode names used by clients
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case ModeUpload, ModeCamera:
		return Mode(s), nil
	}
	return "", apperrors.NewValidationError(fmt.Sprintf("unknown mode %q", s), nil)
}

// Snapshot is a read-only copy of the controller state
type Snapshot struct {
	SessionID   string                    `json:"session_id"`
	State       State                     `json:"state"`
	Mode        Mode                      `json:"mode"`
	Image       *models.ImagePayload      `json:"image,omitempty"`
	Calibration models.CalibrationState   `json:"calibration"`
	Result      *models.MeasurementResult `json:"result,omitempty"`
	LastError   string                    `json:"last_error,omitempty"`
	Generation  uint64                    `json:"generation"`
	UpdatedAt   time.Time                 `json:"updated_at"`
}

// Options configures a controller
type Options struct {
	SessionID      string
	Engine         engine.MetricsEngine
	Pool           *engine.WorkerPool
	Publisher      observer.Subject
	ComputeTimeout time.Duration
}

// Controller serializes all transitions behind one mutex. Engine calls run
// outside the lock and commit only when their generation is still current.
type Controller struct {
	sessionID string
	engine    engine.MetricsEngine
	pool      *engine.WorkerPool
	publisher observer.Subject
	timeout   time.Duration

	mu          sync.Mutex
	state       State
	mode        Mode
	image       *models.ImagePayload
	calibration models.CalibrationState
	result      *models.MeasurementResult
	lastErr     string
	generation  uint64
	cancel      context.CancelFunc
	closed      bool
	updatedAt   time.Time

	inflight sync.WaitGroup
}

const defaultComputeTimeout = 10 * time.Second

func New(opts Options) *Controller {
	timeout := opts.ComputeTimeout
	if timeout <= 0 {
		timeout = defaultComputeTimeout
	}
	return &Controller{
		sessionID:   opts.SessionID,
		engine:      opts.Engine,
		pool:        opts.Pool,
		publisher:   opts.Publisher,
		timeout:     timeout,
		state:       StateIdle,
		mode:        ModeUpload,
		calibration: models.DefaultCalibration(),
		updatedAt:   time.Now().UTC(),
	}
}

// computation is a prepared engine call, started after the lock is released
type computation struct {
	ctx        context.Context
	cancel     context.CancelFunc
	generation uint64
	image      *models.ImagePayload
	cal        models.CalibrationState
}

// AcquireImage accepts a new image, discarding any result and in-flight
// computation for the previous one
func (c *Controller) AcquireImage(payload *models.ImagePayload) error {
	if payload == nil {
		return apperrors.NewValidationError("image payload is required", nil)
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return errClosed()
	}
	c.supersedeLocked()
	c.image = payload
	c.result = nil
	c.lastErr = ""

	var events []observer.Event
	var job *computation
	if !c.calibration.IsCalibrated {
		c.setStateLocked(StateAwaitingCalibration)
		events = append(events, c.event(models.NotifyCalibrationRequired, "Calibration Required",
			"Please calibrate the system first for accurate measurements.", models.VariantDestructive))
	} else {
		job = c.startLocked()
		events = append(events, c.computingEvent())
	}
	c.mu.Unlock()

	c.dispatch(events...)
	c.run(job)
	return nil
}

// Calibrate validates and applies a reference measurement. Invalid input
// leaves the calibration untouched.
func (c *Controller) Calibrate(size float64, unit models.Unit) (models.CalibrationState, error) {
	cal, err := calibration.New(size, unit)
	if err != nil {
		c.dispatch(c.invalidInput(err))
		return models.CalibrationState{}, err
	}
	return cal, c.applyCalibration(cal)
}

// CalibrateText parses raw user input before calibrating
func (c *Controller) CalibrateText(rawSize, rawUnit string) (models.CalibrationState, error) {
	cal, err := calibration.Parse(rawSize, rawUnit)
	if err != nil {
		c.dispatch(c.invalidInput(err))
		return models.CalibrationState{}, err
	}
	return cal, c.applyCalibration(cal)
}

func (c *Controller) applyCalibration(cal models.CalibrationState) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return errClosed()
	}
	c.calibration = cal

	events := []observer.Event{c.event(models.NotifyCalibrationUpdated, "Calibration Updated",
		fmt.Sprintf("System calibrated with reference size: %s %s.", formatSize(cal.ReferenceSize), cal.Unit),
		models.VariantDefault)}

	var job *computation
	if c.image != nil {
		c.supersedeLocked()
		c.result = nil
		c.lastErr = ""
		job = c.startLocked()
		events = append(events, c.computingEvent())
	}
	c.updatedAt = time.Now().UTC()
	c.mu.Unlock()

	c.dispatch(events...)
	c.run(job)
	return nil
}

// Retry restarts the computation after a failure
func (c *Controller) Retry() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return errClosed()
	}
	if c.state != StateNeedsRetry {
		state := c.state
		c.mu.Unlock()
		return apperrors.NewConflictError(fmt.Sprintf("nothing to retry in state %s", state), nil)
	}
	c.supersedeLocked()
	c.lastErr = ""
	job := c.startLocked()
	events := []observer.Event{c.computingEvent()}
	c.mu.Unlock()

	c.dispatch(events...)
	c.run(job)
	return nil
}

// SwitchContext changes the acquisition mode and always clears the image and
// result, so a measurement never outlives the image it belongs to
func (c *Controller) SwitchContext(mode Mode) error {
	if _, err := ParseMode(string(mode)); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return errClosed()
	}
	c.supersedeLocked()
	c.mode = mode
	c.image = nil
	c.result = nil
	c.lastErr = ""
	c.setStateLocked(StateIdle)
	return nil
}

// ReportAcquisitionFailure notifies the user of a failed acquisition. The
// state machine is left as it was.
func (c *Controller) ReportAcquisitionFailure(err error) models.Notification {
	title, desc := acquisitionMessage(err)
	e := c.event(models.NotifyAcquisitionFailed, title, desc, models.VariantDestructive)
	c.dispatch(e)
	return e.Notification
}

// ReportInvalidInput raises the "Invalid Input" notification for a
// calibration request that could not be read at all
func (c *Controller) ReportInvalidInput(err error) models.Notification {
	e := c.invalidInput(err)
	c.dispatch(e)
	return e.Notification
}

// ReportExport notifies the user of an export outcome
func (c *Controller) ReportExport(name string, err error) models.Notification {
	var e observer.Event
	if err != nil {
		desc := err.Error()
		if appErr, ok := apperrors.As(err); ok {
			desc = appErr.Message
		}
		e = c.event(models.NotifyExportFailed, "Export Failed", desc, models.VariantDestructive)
	} else {
		e = c.event(models.NotifyExportCompleted, "Image Exported",
			fmt.Sprintf("Saved %s with dimensions overlaid.", name), models.VariantDefault)
	}
	c.dispatch(e)
	return e.Notification
}

// Reset discards image, result and calibration
func (c *Controller) Reset() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return errClosed()
	}
	c.supersedeLocked()
	c.image = nil
	c.result = nil
	c.lastErr = ""
	c.calibration = models.DefaultCalibration()
	c.setStateLocked(StateIdle)
	return nil
}

// Snapshot returns a copy of the current state
func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Snapshot{
		SessionID:   c.sessionID,
		State:       c.state,
		Mode:        c.mode,
		Image:       c.image,
		Calibration: c.calibration,
		Result:      c.result,
		LastError:   c.lastErr,
		Generation:  c.generation,
		UpdatedAt:   c.updatedAt,
	}
}

// Wait blocks until no computation is running
func (c *Controller) Wait() {
	c.inflight.Wait()
}

// Close cancels in-flight work; every later operation fails
func (c *Controller) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.supersedeLocked()
	c.closed = true
}

// supersedeLocked invalidates any in-flight computation
func (c *Controller) supersedeLocked() {
	c.generation++
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
}

func (c *Controller) setStateLocked(s State) {
	if c.state != s {
		logger.WithFields(logrus.Fields{
			"session_id": c.sessionID,
			"from":       c.state,
			"to":         s,
			"generation": c.generation,
		}).Debug("Controller state changed")
	}
	c.state = s
	c.updatedAt = time.Now().UTC()
}

// startLocked moves to computing and prepares an engine call for the
// current generation; the caller must have superseded first. The compute
// timeout starts when a worker picks the job up.
func (c *Controller) startLocked() *computation {
	ctx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	c.setStateLocked(StateComputing)
	c.inflight.Add(1)
	return &computation{
		ctx:        ctx,
		cancel:     cancel,
		generation: c.generation,
		image:      c.image,
		cal:        c.calibration,
	}
}

func (c *Controller) run(job *computation) {
	if job == nil {
		return
	}
	task := func() { c.compute(job) }
	if c.pool == nil || !c.pool.Submit(task) {
		go task()
	}
}

func (c *Controller) compute(job *computation) {
	defer c.inflight.Done()
	defer job.cancel()

	ctx, cancel := context.WithTimeout(job.ctx, c.timeout)
	defer cancel()

	start := time.Now()
	var result *models.MeasurementResult
	var err error
	if c.engine == nil {
		err = apperrors.NewComputationError("no metrics engine configured", nil)
	} else {
		result, err = c.engine.Compute(ctx, job.image, job.cal)
	}
	if err == nil && (result == nil || result.Unit != job.cal.Unit) {
		err = apperrors.NewComputationError("engine returned an inconsistent result", nil)
	}
	c.complete(job, result, err, time.Since(start))
}

// complete commits the outcome only if no newer request superseded it
func (c *Controller) complete(job *computation, result *models.MeasurementResult, err error, elapsed time.Duration) {
	c.mu.Lock()
	if c.closed || job.generation != c.generation {
		c.mu.Unlock()
		logger.WithFields(logrus.Fields{
			"session_id": c.sessionID,
			"generation": job.generation,
		}).Debug("Discarding superseded computation")
		return
	}
	c.cancel = nil

	var e observer.Event
	if err != nil {
		c.lastErr = computationMessage(err)
		c.setStateLocked(StateNeedsRetry)
		e = c.event(models.NotifyComputationFailed, "Measurement Failed", c.lastErr, models.VariantDestructive)
	} else {
		c.result = result
		c.lastErr = ""
		c.setStateLocked(StateReady)
		e = c.event(models.NotifyComputationCompleted, "Dimensions Calculated",
			fmt.Sprintf("Width: %.1f %s, Height: %.1f %s", result.Width, result.Unit, result.Height, result.Unit),
			models.VariantDefault)
	}
	e.Elapsed = elapsed
	c.mu.Unlock()

	c.dispatch(e)
}

func (c *Controller) event(kind models.NotificationKind, title, desc string, variant models.Variant) observer.Event {
	return observer.Event{Notification: models.Notification{
		Kind:        kind,
		Title:       title,
		Description: desc,
		Variant:     variant,
		SessionID:   c.sessionID,
		Timestamp:   time.Now().UTC(),
	}}
}

func (c *Controller) computingEvent() observer.Event {
	return c.event(models.NotifyComputationStarted, "Measuring",
		"Calculating dimensions for the current image.", models.VariantDefault)
}

func (c *Controller) invalidInput(err error) observer.Event {
	desc := "Please enter a valid positive number for reference size."
	if appErr, ok := apperrors.As(err); ok && appErr.Message != "" {
		desc = appErr.Message
	}
	return c.event(models.NotifyInvalidCalibration, "Invalid Input", desc, models.VariantDestructive)
}

func (c *Controller) dispatch(events ...observer.Event) {
	if c.publisher == nil {
		return
	}
	for _, e := range events {
		c.publisher.NotifyObservers(context.Background(), e)
	}
}

func errClosed() error {
	return apperrors.NewConflictError("session is closed", nil)
}

func formatSize(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func computationMessage(err error) string {
	if errors.Is(err, context.DeadlineExceeded) {
		return "measurement timed out"
	}
	if appErr, ok := apperrors.As(err); ok {
		return appErr.Message
	}
	return err.Error()
}

var acquisitionTitles = map[string]string{
	apperrors.ReasonTooLarge:         "File Too Large",
	apperrors.ReasonUnreadable:       "File Read Error",
	apperrors.ReasonUnsupportedType:  "Unsupported File Type",
	apperrors.ReasonBadDimensions:    "Invalid Image",
	apperrors.ReasonPermissionDenied: "Camera Error",
	apperrors.ReasonUnsupported:      "Unsupported Feature",
	apperrors.ReasonNotStarted:       "Capture Error",
	apperrors.ReasonCaptureFailed:    "Capture Error",
	apperrors.ReasonFetchFailed:      "Fetch Failed",
}

func acquisitionMessage(err error) (string, string) {
	if err == nil {
		return "Acquisition Failed", "The image could not be acquired."
	}
	appErr, ok := apperrors.As(err)
	if !ok {
		return "Acquisition Failed", err.Error()
	}
	title, known := acquisitionTitles[appErr.Reason]
	if !known {
		title = "Acquisition Failed"
	}
	return title, appErr.Message
}
