package capture

import (
	"bytes"
	"image"
	"image/color"
	"image/jpeg"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mkoba/scopecam/internal/metrics"
)

// recordingEvents collects capture callbacks for assertions.
type recordingEvents struct {
	mu      sync.Mutex
	photos  []string
	files   []string
	errors  []string
}

func (e *recordingEvents) PhotoSaved(path string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.photos = append(e.photos, path)
}

func (e *recordingEvents) RecordingStopped(path string, _ time.Duration) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.files = append(e.files, path)
}

func (e *recordingEvents) CaptureError(msg string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.errors = append(e.errors, msg)
}

func testImage(w, h int) image.Image {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x), G: uint8(y), B: 128, A: 255})
		}
	}
	return img
}

func TestPhotographerCapture(t *testing.T) {
	root := t.TempDir()
	met := metrics.New()
	events := &recordingEvents{}
	p := NewPhotographer(fakeSource{img: testImage(64, 48)}, root, met, events)

	path, err := p.Capture("My Scope")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(root, "images", "My_Scope"), filepath.Dir(path))

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	img, err := jpeg.Decode(f)
	require.NoError(t, err)
	assert.Equal(t, 64, img.Bounds().Dx())
	assert.Equal(t, 48, img.Bounds().Dy())

	assert.Equal(t, uint64(1), met.PhotosSaved.Load())
	assert.Equal(t, []string{path}, events.photos)
}

func TestPhotographerNoPicture(t *testing.T) {
	met := metrics.New()
	events := &recordingEvents{}
	p := NewPhotographer(fakeSource{}, t.TempDir(), met, events)

	_, err := p.Capture("cam")
	assert.ErrorIs(t, err, ErrNoSnapshot)
	assert.Equal(t, uint64(1), met.CaptureErrors.Load())
	assert.Len(t, events.errors, 1)
}

func TestEncodeThumbnailDownscales(t *testing.T) {
	jpg, err := encodeThumbnail(testImage(1280, 720))
	require.NoError(t, err)

	img, err := jpeg.Decode(bytes.NewReader(jpg))
	require.NoError(t, err)
	assert.Equal(t, 320, img.Bounds().Dx())
	assert.Equal(t, 180, img.Bounds().Dy())
}

func TestEncodeThumbnailSmallImagePassthrough(t *testing.T) {
	jpg, err := encodeThumbnail(testImage(100, 80))
	require.NoError(t, err)

	img, err := jpeg.Decode(bytes.NewReader(jpg))
	require.NoError(t, err)
	assert.Equal(t, 100, img.Bounds().Dx())
	assert.Equal(t, 80, img.Bounds().Dy())
}
