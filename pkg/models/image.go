package models

import (
	"encoding/base64"
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// SourceKind identifies which provider produced an image
type SourceKind string

const (
	SourceUpload  SourceKind = "upload"
	SourceCapture SourceKind = "capture"
	SourceURL     SourceKind = "url"
	SourceBlob    SourceKind = "blob"
)

// ImagePayload is an immutable handle to acquired image bytes. A new
// acquisition always produces a new payload; existing payloads never change.
type ImagePayload struct {
	id          string
	data        []byte
	contentType string
	source      SourceKind
	width       int
	height      int
	acquiredAt  time.Time
}

// NewImagePayload copies data so callers cannot mutate the payload afterwards
func NewImagePayload(data []byte, contentType string, source SourceKind, width, height int) *ImagePayload {
	buf := make([]byte, len(data))
	copy(buf, data)
	return &ImagePayload{
		id:          uuid.NewString(),
		data:        buf,
		contentType: contentType,
		source:      source,
		width:       width,
		height:      height,
		acquiredAt:  time.Now().UTC(),
	}
}

func (p *ImagePayload) ID() string            { return p.id }
func (p *ImagePayload) ContentType() string   { return p.contentType }
func (p *ImagePayload) Source() SourceKind    { return p.source }
func (p *ImagePayload) Width() int            { return p.width }
func (p *ImagePayload) Height() int           { return p.height }
func (p *ImagePayload) AcquiredAt() time.Time { return p.acquiredAt }
func (p *ImagePayload) Size() int             { return len(p.data) }

// Bytes returns a copy of the image bytes
func (p *ImagePayload) Bytes() []byte {
	buf := make([]byte, len(p.data))
	copy(buf, p.data)
	return buf
}

// DataURI encodes the image the way a browser file reader would
func (p *ImagePayload) DataURI() string {
	return "data:" + p.contentType + ";base64," + base64.StdEncoding.EncodeToString(p.data)
}

// ImageInfo is the JSON view of a payload without its bytes
type ImageInfo struct {
	ID          string     `json:"id"`
	ContentType string     `json:"content_type"`
	Source      SourceKind `json:"source"`
	Width       int        `json:"width"`
	Height      int        `json:"height"`
	SizeBytes   int        `json:"size_bytes"`
	AcquiredAt  time.Time  `json:"acquired_at"`
}

// Info describes the payload
func (p *ImagePayload) Info() ImageInfo {
	return ImageInfo{
		ID:          p.id,
		ContentType: p.contentType,
		Source:      p.source,
		Width:       p.width,
		Height:      p.height,
		SizeBytes:   len(p.data),
		AcquiredAt:  p.acquiredAt,
	}
}

// MarshalJSON serializes metadata only; image bytes are served separately
func (p *ImagePayload) MarshalJSON() ([]byte, error) {
	return json.Marshal(p.Info())
}
