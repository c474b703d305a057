package models

import (
	"encoding/json"
	"strings"
)

// CalibrationRequest carries the reference size either as a JSON number or
// as the raw text a user typed
type CalibrationRequest struct {
	ReferenceSize json.RawMessage `json:"reference_size" binding:"required"`
	Unit          string          `json:"unit" binding:"required"`
}

// RawReferenceSize returns the reference size as text, unquoting strings
func (r CalibrationRequest) RawReferenceSize() string {
	raw := strings.TrimSpace(string(r.ReferenceSize))
	var s string
	if err := json.Unmarshal([]byte(raw), &s); err == nil {
		return s
	}
	return raw
}

// ModeRequest switches between upload and camera acquisition
type ModeRequest struct {
	Mode string `json:"mode" binding:"required,oneof=upload camera"`
}

// URLImageRequest acquires an image from a remote URL
type URLImageRequest struct {
	URL string `json:"url" binding:"required,url"`
}

// BlobImageRequest acquires an image from blob storage
type BlobImageRequest struct {
	Container string `json:"container"`
	Blob      string `json:"blob" binding:"required"`
}

// AcquisitionFailureRequest lets the client report failures that happen
// before any bytes reach the server, such as camera permission denial
type AcquisitionFailureRequest struct {
	Reason  string `json:"reason" binding:"required"`
	Message string `json:"message,omitempty"`
}

// ErrorResponse represents an error response
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
	Type    string `json:"type,omitempty"`
	Reason  string `json:"reason,omitempty"`

	// Notification is the user-facing message raised for the failure, if any
	Notification *Notification `json:"notification,omitempty"`
}
