package models

import "time"

// NotificationKind names the user-facing event behind a notification
type NotificationKind string

const (
	NotifyCalibrationRequired  NotificationKind = "calibration_required"
	NotifyCalibrationUpdated   NotificationKind = "calibration_updated"
	NotifyComputationStarted   NotificationKind = "computation_started"
	NotifyComputationCompleted NotificationKind = "computation_completed"
	NotifyComputationFailed    NotificationKind = "computation_failed"
	NotifyInvalidCalibration   NotificationKind = "invalid_calibration"
	NotifyAcquisitionFailed    NotificationKind = "acquisition_failed"
	NotifyExportCompleted      NotificationKind = "export_completed"
	NotifyExportFailed         NotificationKind = "export_failed"
)

// Variant mirrors toast styling: destructive notifications report problems
type Variant string

const (
	VariantDefault     Variant = "default"
	VariantDestructive Variant = "destructive"
)

// Notification is an advisory message for the user; it never drives state
type Notification struct {
	Kind        NotificationKind `json:"kind"`
	Title       string           `json:"title"`
	Description string           `json:"description"`
	Variant     Variant          `json:"variant"`
	SessionID   string           `json:"session_id,omitempty"`
	Timestamp   time.Time        `json:"timestamp"`
}
