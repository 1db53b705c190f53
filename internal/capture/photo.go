package capture

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg"
	"os"

	"golang.org/x/image/draw"

	"github.com/mkoba/scopecam/internal/logging"
	"github.com/mkoba/scopecam/internal/metrics"
	"github.com/mkoba/scopecam/pkg/types"
)

const (
	photoQuality   = 92
	thumbnailWidth = 320
)

// Photographer grabs stills from the live view and files them in the
// media library per network name.
type Photographer struct {
	source  FrameSource
	root    string
	metrics *metrics.Metrics
	events  types.CaptureEvents
}

func NewPhotographer(source FrameSource, mediaRoot string, m *metrics.Metrics, events types.CaptureEvents) *Photographer {
	return &Photographer{source: source, root: mediaRoot, metrics: m, events: events}
}

// Capture snapshots the current picture and saves it as a JPEG. The
// path of the saved file is returned.
func (p *Photographer) Capture(networkName string) (string, error) {
	log := logging.Module("capture")
	img, err := p.source.Snapshot()
	if err != nil {
		p.fail(fmt.Sprintf("snapshot failed: %v", err))
		return "", fmt.Errorf("capture: snapshot: %w", err)
	}
	if img == nil {
		p.fail("no picture available")
		return "", ErrNoSnapshot
	}
	dest, err := photoPath(p.root, networkName)
	if err != nil {
		p.fail(fmt.Sprintf("media library unavailable: %v", err))
		return "", fmt.Errorf("capture: media library: %w", err)
	}
	f, err := os.Create(dest)
	if err != nil {
		p.fail(fmt.Sprintf("create photo failed: %v", err))
		return "", fmt.Errorf("capture: create photo: %w", err)
	}
	if err := jpeg.Encode(f, img, &jpeg.Options{Quality: photoQuality}); err != nil {
		f.Close()
		os.Remove(dest)
		p.fail(fmt.Sprintf("encode photo failed: %v", err))
		return "", fmt.Errorf("capture: encode photo: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(dest)
		return "", fmt.Errorf("capture: close photo: %w", err)
	}
	p.metrics.PhotosSaved.Add(1)
	log.WithField("file", dest).Info("Photo saved")
	if p.events != nil {
		p.events.PhotoSaved(dest)
	}
	return dest, nil
}

func (p *Photographer) fail(msg string) {
	p.metrics.CaptureErrors.Add(1)
	if p.events != nil {
		p.events.CaptureError(msg)
	}
}

// encodeThumbnail downscales the image to cover-art size and encodes it
// as JPEG.
func encodeThumbnail(img image.Image) ([]byte, error) {
	b := img.Bounds()
	if b.Dx() <= 0 || b.Dy() <= 0 {
		return nil, fmt.Errorf("capture: empty image")
	}
	w := thumbnailWidth
	if b.Dx() < w {
		w = b.Dx()
	}
	h := b.Dy() * w / b.Dx()
	if h < 1 {
		h = 1
	}
	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.ApproxBiLinear.Scale(dst, dst.Bounds(), img, b, draw.Over, nil)
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, dst, &jpeg.Options{Quality: 85}); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
