// Package export renders controller snapshots for display and burns the
// measurement annotations into downloadable PNG artifacts.
package export

import (
	"fmt"
	"strconv"

	"go-dimension-detective/internal/controller"
	"go-dimension-detective/internal/engine"
	"go-dimension-detective/pkg/models"
)

// Badge placements over the image
const (
	PositionTopCenter  = "top_center"
	PositionMiddleLeft = "middle_left"
)

// Badge is an annotation overlaid on the image
type Badge struct {
	Label    string `json:"label"`
	Position string `json:"position"`
}

// Metric is one labelled row of the dimensions card
type Metric struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// Alert is a prominent banner shown above the preview
type Alert struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	Variant     string `json:"variant"`
}

// View is everything a client needs to render the current state
type View struct {
	Title             string   `json:"title"`
	Description       string   `json:"description"`
	Placeholder       string   `json:"placeholder,omitempty"`
	HasImage          bool     `json:"has_image"`
	Badges            []Badge  `json:"badges,omitempty"`
	Metrics           []Metric `json:"metrics,omitempty"`
	Disclaimer        string   `json:"disclaimer,omitempty"`
	Alert             *Alert   `json:"alert,omitempty"`
	CalibrationButton string   `json:"calibration_button"`
	CalibrationStatus string   `json:"calibration_status"`
	Computing         bool     `json:"computing"`
	ExportEnabled     bool     `json:"export_enabled"`
	RetryEnabled      bool     `json:"retry_enabled"`
}

// Present derives the view from a snapshot; it never mutates state
func Present(snap controller.Snapshot) View {
	v := View{
		Title:             "Object Preview & Dimensions",
		HasImage:          snap.Image != nil,
		CalibrationButton: "Calibrate",
		CalibrationStatus: "Not calibrated",
		Computing:         snap.State == controller.StateComputing,
		RetryEnabled:      snap.State == controller.StateNeedsRetry,
	}

	if snap.Calibration.IsCalibrated {
		v.CalibrationButton = "Re-Calibrate"
		v.CalibrationStatus = fmt.Sprintf("Calibrated: %s %s",
			formatNumber(snap.Calibration.ReferenceSize), snap.Calibration.Unit)
	}

	if snap.Image == nil {
		v.Placeholder = "Image preview will appear here"
		v.Description = "Upload an image or capture one with the camera to begin."
		return v
	}

	if !snap.Calibration.IsCalibrated {
		v.Alert = &Alert{
			Title:       "Calibration Needed",
			Description: "Please calibrate the system using the 'Calibrate' button below to get measurements.",
			Variant:     string(models.VariantDestructive),
		}
	}

	switch {
	case snap.Result != nil:
		v.Description = fmt.Sprintf("Measured dimensions are displayed below. Unit: %s.", snap.Result.Unit)
	case snap.State == controller.StateNeedsRetry:
		v.Description = fmt.Sprintf("Measurement failed: %s. Retry to measure again.", snap.LastError)
	case snap.State == controller.StateComputing:
		v.Description = "Calculating dimensions..."
	default:
		v.Description = "Awaiting calibration or processing..."
	}

	if r := snap.Result; r != nil {
		v.Badges = Badges(r)
		v.Metrics = Metrics(r)
		v.ExportEnabled = true
		if r.Engine == engine.StubName {
			v.Disclaimer = "(Mock Data)"
		}
	}
	return v
}

// Badges returns the width and height annotations for a result
func Badges(r *models.MeasurementResult) []Badge {
	return []Badge{
		{Label: fmt.Sprintf("W: %s %s", formatNumber(r.Width), r.Unit), Position: PositionTopCenter},
		{Label: fmt.Sprintf("H: %s %s", formatNumber(r.Height), r.Unit), Position: PositionMiddleLeft},
	}
}

// Metrics lists width, height and the derived metrics when present
func Metrics(r *models.MeasurementResult) []Metric {
	metrics := []Metric{
		{Name: "Width", Value: fmt.Sprintf("%s %s", formatNumber(r.Width), r.Unit)},
		{Name: "Height", Value: fmt.Sprintf("%s %s", formatNumber(r.Height), r.Unit)},
	}
	if d := r.Derived; d != nil {
		metrics = append(metrics,
			Metric{Name: "Aspect Ratio", Value: strconv.FormatFloat(d.AspectRatio, 'f', 2, 64)},
			Metric{Name: "Area", Value: fmt.Sprintf("%s %s", formatNumber(d.Area), r.Unit.Squared())},
			Metric{Name: "Perimeter", Value: fmt.Sprintf("%s %s", formatNumber(d.Perimeter), r.Unit)},
			Metric{Name: "Diagonal", Value: fmt.Sprintf("%s %s", formatNumber(d.Diagonal), r.Unit)},
		)
	}
	return metrics
}

func formatNumber(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
