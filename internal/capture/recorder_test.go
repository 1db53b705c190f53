package capture

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mkoba/scopecam/internal/h264"
	"github.com/mkoba/scopecam/internal/metrics"
	"github.com/mkoba/scopecam/internal/mp4"
	"github.com/mkoba/scopecam/pkg/types"
)

func TestSliceSampleFiltersNonVCL(t *testing.T) {
	slice := []byte{0x41, 0x9A, 0x00}
	filler := []byte{0x0C, 0xFF, 0xFF}
	sei := []byte{0x06, 0x05, 0x01}
	frame := h264.JoinAnnexB([][]byte{filler, sei, slice})

	avcc := sliceSample(frame)
	require.NotNil(t, avcc)
	assert.Equal(t, mp4.AVCCSample([][]byte{slice}), avcc)
}

func TestSliceSampleNoSlices(t *testing.T) {
	frame := h264.JoinAnnexB([][]byte{{0x0C, 0xFF}, {0x06, 0x01}})
	assert.Nil(t, sliceSample(frame))
}

func TestSliceSampleKeepsAllSliceTypes(t *testing.T) {
	idr := []byte{0x65, 0x88}
	nonIDR := []byte{0x41, 0x9A}
	frame := h264.JoinAnnexB([][]byte{idr, nonIDR})

	avcc := sliceSample(frame)
	assert.Equal(t, mp4.AVCCSample([][]byte{idr, nonIDR}), avcc)
}

func TestRecorderStopWithoutStart(t *testing.T) {
	r := NewRecorder(DefaultConfig(t.TempDir()), metrics.New(), nil)
	_, err := r.Stop()
	assert.ErrorIs(t, err, ErrNotRecording)
	assert.False(t, r.IsRecording())
}

func TestRecorderForceStopIdle(t *testing.T) {
	r := NewRecorder(DefaultConfig(t.TempDir()), metrics.New(), nil)
	r.ForceStop() // must not panic or emit errors
	assert.False(t, r.IsRecording())
}

func TestRecorderConfigDefaults(t *testing.T) {
	r := NewRecorder(Config{MediaRoot: t.TempDir()}, metrics.New(), nil)
	assert.Equal(t, r.cfg.MediaRoot, r.cfg.WorkDir)
	assert.Greater(t, r.cfg.QueueSize, 0)
	assert.IsType(t, SyntheticKeyframe{}, r.cfg.Keyframe)
}

func TestFlushPendingAssignsWallClockDuration(t *testing.T) {
	path := t.TempDir() + "/rec.mp4"
	sps := []byte{0x67, 0x42, 0x00, 0x1E, 0x8C}
	pps := []byte{0x68, 0xCE, 0x38, 0x80}
	mux, err := mp4.NewMuxer(path, sps, pps, 640, 480)
	require.NoError(t, err)
	defer mux.Abort()

	met := metrics.New()
	r := NewRecorder(DefaultConfig(t.TempDir()), met, nil)
	rec := &recording{
		mux:         mux,
		started:     time.Now(),
		pendingAVCC: mp4.AVCCSample([][]byte{{0x65, 0x88}}),
		pendingPTS:  0,
		havePending: true,
	}

	require.NoError(t, r.flushPending(rec, 6000))
	assert.False(t, rec.havePending)
	assert.Equal(t, uint32(1), mux.SampleCount())
	assert.Equal(t, uint32(6000), mux.Duration())
	assert.Equal(t, uint64(1), met.RecorderFramesWritten.Load())

	// nothing pending: flush is a no-op
	require.NoError(t, r.flushPending(rec, 9000))
	assert.Equal(t, uint32(1), mux.SampleCount())
}

func TestFlushPendingNonMonotonicClock(t *testing.T) {
	path := t.TempDir() + "/rec.mp4"
	sps := []byte{0x67, 0x42, 0x00, 0x1E, 0x8C}
	pps := []byte{0x68, 0xCE, 0x38, 0x80}
	mux, err := mp4.NewMuxer(path, sps, pps, 640, 480)
	require.NoError(t, err)
	defer mux.Abort()

	r := NewRecorder(DefaultConfig(t.TempDir()), metrics.New(), nil)
	rec := &recording{
		mux:         mux,
		started:     time.Now(),
		pendingAVCC: mp4.AVCCSample([][]byte{{0x65}}),
		pendingPTS:  5000,
		havePending: true,
	}

	// next PTS not after the pending one: fall back to a nominal duration
	require.NoError(t, r.flushPending(rec, 5000))
	assert.Equal(t, uint32(fallbackDuration), mux.Duration())
}

func TestElapsedTicks(t *testing.T) {
	start := time.Now().Add(-time.Second)
	ticks := elapsedTicks(start)
	assert.InDelta(t, float64(mp4.Timescale), float64(ticks), float64(mp4.Timescale)/10)
}

var _ types.CaptureEvents = (*recordingEvents)(nil)
