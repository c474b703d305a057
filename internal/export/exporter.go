package export

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	"time"

	"github.com/disintegration/imaging"
	"github.com/sirupsen/logrus"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
	_ "golang.org/x/image/webp"

	"go-dimension-detective/internal/controller"
	apperrors "go-dimension-detective/internal/errors"
	"go-dimension-detective/internal/logger"
	"go-dimension-detective/internal/storage"
)

const (
	ContentTypePNG = "image/png"

	badgePadding = 6
	badgeMargin  = 16
	// referenceSide is the image size at which badges are drawn unscaled
	referenceSide = 400
)

var (
	badgeBackground = color.NRGBA{R: 255, G: 255, B: 255, A: 210}
	badgeText       = color.NRGBA{R: 20, G: 20, B: 20, A: 255}
)

// Artifact is an exported image
type Artifact struct {
	Name        string `json:"name"`
	ContentType string `json:"content_type"`
	Data        []byte `json:"-"`
	// Location is set when the artifact was persisted
	Location string `json:"location,omitempty"`
}

// Exporter burns measurement badges into the current image
type Exporter struct {
	store storage.ArtifactStore
	now   func() time.Time
}

// NewExporter creates an exporter; store may be nil to skip persistence
func NewExporter(store storage.ArtifactStore) *Exporter {
	return &Exporter{store: store, now: time.Now}
}

// FileName is the download name for an export made at t
func FileName(t time.Time) string {
	return fmt.Sprintf("dimension_detective_export_%d.png", t.UnixMilli())
}

// Export fails with an export error unless the snapshot holds an image and
// the result computed for that image
func (e *Exporter) Export(ctx context.Context, snap controller.Snapshot) (*Artifact, error) {
	if snap.Image == nil || snap.Result == nil {
		return nil, apperrors.NewExportError("No processed image or dimensions available to export.", nil)
	}
	if snap.Result.ImageID != snap.Image.ID() {
		return nil, apperrors.NewExportError("The measurement does not belong to the current image.", nil)
	}

	src, err := imaging.Decode(bytes.NewReader(snap.Image.Bytes()), imaging.AutoOrientation(true))
	if err != nil {
		return nil, apperrors.NewExportError("could not decode the image", err)
	}

	annotated := annotate(src, Badges(snap.Result))

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, annotated, imaging.PNG); err != nil {
		return nil, apperrors.NewExportError("could not encode the export", err)
	}

	artifact := &Artifact{
		Name:        FileName(e.now()),
		ContentType: ContentTypePNG,
		Data:        buf.Bytes(),
	}

	if e.store != nil {
		loc, err := e.store.Save(ctx, artifact.Name, artifact.ContentType, artifact.Data)
		if err != nil {
			return nil, apperrors.NewExportError("could not store the export", err)
		}
		artifact.Location = loc
	}

	logger.WithFields(logrus.Fields{
		"session_id": snap.SessionID,
		"name":       artifact.Name,
		"bytes":      len(artifact.Data),
		"location":   artifact.Location,
	}).Info("Image exported")

	return artifact, nil
}

func annotate(src image.Image, badges []Badge) *image.NRGBA {
	b := src.Bounds()
	dst := imaging.Clone(src)

	scale := min(b.Dx(), b.Dy()) / referenceSide
	scale = max(scale, 1)

	for _, badge := range badges {
		label := renderBadge(badge.Label)
		if scale > 1 {
			label = imaging.Resize(label, label.Bounds().Dx()*scale, 0, imaging.NearestNeighbor)
		}
		lw, lh := label.Bounds().Dx(), label.Bounds().Dy()
		margin := badgeMargin * scale

		var at image.Point
		switch badge.Position {
		case PositionMiddleLeft:
			at = image.Pt(margin, (b.Dy()-lh)/2)
		default:
			at = image.Pt((b.Dx()-lw)/2, margin)
		}
		dst = imaging.Overlay(dst, label, at, 1)
	}
	return dst
}

// renderBadge draws text on a translucent plate
func renderBadge(text string) *image.NRGBA {
	face := basicfont.Face7x13
	bounds, _ := font.BoundString(face, text)
	textWidth := (bounds.Max.X - bounds.Min.X).Ceil()
	metrics := face.Metrics()
	textHeight := (metrics.Ascent + metrics.Descent).Ceil()

	plate := imaging.New(textWidth+2*badgePadding, textHeight+2*badgePadding, badgeBackground)

	d := &font.Drawer{
		Dst:  plate,
		Src:  image.NewUniform(badgeText),
		Face: face,
		Dot:  fixed.P(badgePadding, badgePadding+metrics.Ascent.Ceil()),
	}
	d.DrawString(text)
	return plate
}
