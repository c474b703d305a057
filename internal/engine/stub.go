package engine

import (
	"context"
	"errors"
	"math/rand/v2"
	"sync"
	"time"

	apperrors "go-dimension-detective/internal/errors"
	"go-dimension-detective/pkg/models"
)

// StubName is the registry name of the pseudo-random engine
const StubName = "stub"

// Bounds limits the values the stub engine synthesizes, in calibration units
type Bounds struct {
	MinWidth, MaxWidth   float64
	MinHeight, MaxHeight float64
}

// DefaultBounds matches the ranges of the demo UI
func DefaultBounds() Bounds {
	return Bounds{MinWidth: 5, MaxWidth: 25, MinHeight: 10, MaxHeight: 40}
}

// StubEngine fabricates plausible dimensions after a simulated delay. It
// performs no image analysis.
type StubEngine struct {
	latency time.Duration
	bounds  Bounds

	mu  sync.Mutex
	rng *rand.Rand
}

// NewStubEngine creates a stub engine; a zero seed draws one from the runtime
func NewStubEngine(latency time.Duration, bounds Bounds, seed uint64) *StubEngine {
	if seed == 0 {
		seed = rand.Uint64()
	}
	return &StubEngine{
		latency: latency,
		bounds:  bounds,
		rng:     rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)),
	}
}

func (e *StubEngine) Name() string { return StubName }

func (e *StubEngine) Compute(ctx context.Context, img *models.ImagePayload, cal models.CalibrationState) (*models.MeasurementResult, error) {
	if img == nil || img.Size() == 0 {
		return nil, apperrors.NewComputationError("image is empty or unreadable", nil)
	}
	if !cal.IsCalibrated {
		return nil, apperrors.NewComputationError("calibration is required before measuring", nil)
	}

	if err := e.wait(ctx); err != nil {
		return nil, err
	}

	width, height := e.draw()
	return NewMeasurementResult(width, height, cal.Unit, img.ID(), e.Name())
}

func (e *StubEngine) wait(ctx context.Context) error {
	if e.latency <= 0 {
		return contextError(ctx.Err())
	}
	timer := time.NewTimer(e.latency)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return contextError(ctx.Err())
	}
}

func (e *StubEngine) draw() (float64, float64) {
	e.mu.Lock()
	defer e.mu.Unlock()

	b := e.bounds
	width := b.MinWidth + e.rng.Float64()*(b.MaxWidth-b.MinWidth)
	height := b.MinHeight + e.rng.Float64()*(b.MaxHeight-b.MinHeight)
	return width, height
}

func contextError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, context.DeadlineExceeded):
		return apperrors.NewComputationError("measurement timed out", err)
	default:
		return apperrors.NewComputationError("measurement cancelled", err)
	}
}
