package capture

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/mkoba/scopecam/internal/h264"
	"github.com/mkoba/scopecam/internal/logging"
	"github.com/mkoba/scopecam/internal/metrics"
	"github.com/mkoba/scopecam/internal/mp4"
	"github.com/mkoba/scopecam/internal/rtsp"
	"github.com/mkoba/scopecam/pkg/types"
)

var (
	ErrAlreadyRecording = errors.New("capture: recording already in progress")
	ErrNotRecording     = errors.New("capture: no recording in progress")
	ErrNoParameterSets  = errors.New("capture: stream advertises no SPS/PPS")
	ErrNoFrames         = errors.New("capture: no frames captured")
)

// fallbackDuration is the sample duration used when no wall-clock delta
// is available yet (first sample, or the very last one). 3000 ticks at
// 90 kHz is one frame at 30 fps.
const fallbackDuration = 3000

// Config holds recorder settings.
type Config struct {
	// MediaRoot is the media library root; finished files are moved
	// under MediaRoot/videos/<network>/.
	MediaRoot string
	// WorkDir holds in-progress files. Defaults to MediaRoot.
	WorkDir string
	// QueueSize bounds the frame queue between the network leg and the
	// mux loop.
	QueueSize int
	// RTSP configures the dedicated recording connection.
	RTSP rtsp.Config
	// Keyframe manufactures the first sample. Exactly one strategy is
	// chosen at construction time.
	Keyframe KeyframeStrategy
	// Thumbnail, when set, supplies the still used for the embedded
	// cover art.
	Thumbnail FrameSource
}

func DefaultConfig(mediaRoot string) Config {
	return Config{
		MediaRoot: mediaRoot,
		WorkDir:   mediaRoot,
		QueueSize: 120,
		RTSP:      rtsp.DefaultConfig(),
		Keyframe:  SyntheticKeyframe{},
	}
}

// Recorder captures the live stream to an MP4 file over its own RTSP
// connection, leaving the playback leg untouched.
type Recorder struct {
	cfg     Config
	metrics *metrics.Metrics
	events  types.CaptureEvents
	log     *logrus.Entry

	mu       sync.Mutex
	active   *recording
	starting bool
}

type recording struct {
	client      *rtsp.Client
	mux         *mp4.Muxer
	queue       chan *types.Frame
	cancel      context.CancelFunc
	done        chan struct{}
	networkName string
	started     time.Time

	// cameraSamples counts samples sourced from the stream, as opposed
	// to the manufactured first keyframe. Written by the mux loop, read
	// after done is closed.
	cameraSamples uint64

	// pending sample, written once the next frame fixes its duration
	pendingAVCC []byte
	pendingPTS  uint64
	havePending bool
}

func NewRecorder(cfg Config, m *metrics.Metrics, events types.CaptureEvents) *Recorder {
	if cfg.WorkDir == "" {
		cfg.WorkDir = cfg.MediaRoot
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 120
	}
	if cfg.Keyframe == nil {
		cfg.Keyframe = SyntheticKeyframe{}
	}
	return &Recorder{
		cfg:     cfg,
		metrics: m,
		events:  events,
		log:     logging.Module("capture"),
	}
}

func (r *Recorder) IsRecording() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.active != nil
}

// Start begins recording the given stream. The camera serves a single
// client per connection, so the recorder opens its own session rather
// than sharing the playback one. The recorder mutex is not held during
// the network setup: Stop and ForceStop must stay responsive while a
// Start is still handshaking.
func (r *Recorder) Start(ctx context.Context, rawURL, networkName string) error {
	r.mu.Lock()
	if r.active != nil || r.starting {
		r.mu.Unlock()
		return ErrAlreadyRecording
	}
	r.starting = true
	r.mu.Unlock()

	rec, err := r.setup(ctx, rawURL, networkName)

	r.mu.Lock()
	r.starting = false
	if err == nil {
		r.active = rec
	}
	r.mu.Unlock()
	if err != nil {
		return err
	}
	r.metrics.RecordingActive.Store(1)
	return nil
}

// setup performs the out-of-band handshake, opens the muxer and the
// recording connection, and launches the pipeline goroutines.
func (r *Recorder) setup(ctx context.Context, rawURL, networkName string) (*recording, error) {
	params, err := rtsp.DescribeParams(ctx, rawURL, r.cfg.RTSP)
	if err != nil {
		r.captureError(fmt.Sprintf("describe failed: %v", err))
		return nil, fmt.Errorf("capture: fetch parameter sets: %w", err)
	}
	if !params.HasSPS {
		r.captureError("stream advertises no SPS/PPS")
		return nil, ErrNoParameterSets
	}
	width, height := params.Info.Width, params.Info.Height

	var ppsID uint
	if pps, err := h264.ParsePPS(params.PPS); err == nil {
		ppsID = pps.ID
	}

	if err := os.MkdirAll(r.cfg.WorkDir, 0o755); err != nil {
		return nil, fmt.Errorf("capture: work dir: %w", err)
	}
	tmpPath := filepath.Join(r.cfg.WorkDir,
		fmt.Sprintf(".rec_%d.mp4", time.Now().UnixNano()))
	mux, err := mp4.NewMuxer(tmpPath, params.SPS, params.PPS, width, height)
	if err != nil {
		return nil, fmt.Errorf("capture: open muxer: %w", err)
	}

	rec := &recording{
		mux:         mux,
		queue:       make(chan *types.Frame, r.cfg.QueueSize),
		done:        make(chan struct{}),
		networkName: networkName,
		started:     time.Now(),
	}

	// The stream has no random access points, so the first sample is
	// manufactured before any camera data is accepted.
	first, err := r.cfg.Keyframe.FirstSample(params.Info, ppsID, width, height)
	if err != nil {
		mux.Abort()
		r.captureError(fmt.Sprintf("keyframe synthesis failed: %v", err))
		return nil, err
	}
	rec.pendingAVCC = mp4.AVCCSample(first)
	rec.pendingPTS = 0
	rec.havePending = true

	client, err := rtsp.Dial(ctx, rawURL, r.cfg.RTSP)
	if err != nil {
		mux.Abort()
		r.captureError(fmt.Sprintf("recording connection failed: %v", err))
		return nil, fmt.Errorf("capture: dial: %w", err)
	}
	if err := r.handshake(client); err != nil {
		client.Close()
		mux.Abort()
		r.captureError(fmt.Sprintf("recording handshake failed: %v", err))
		return nil, err
	}
	rec.client = client

	runCtx, cancel := context.WithCancel(context.Background())
	rec.cancel = cancel
	go client.Run(runCtx)
	go r.receiveLoop(rec)
	go r.muxLoop(rec)

	r.log.WithFields(logrus.Fields{
		"url":    rawURL,
		"file":   tmpPath,
		"width":  width,
		"height": height,
	}).Info("Recording started")
	return rec, nil
}

func (r *Recorder) handshake(c *rtsp.Client) error {
	if err := c.Options(); err != nil {
		return fmt.Errorf("capture: options: %w", err)
	}
	if _, err := c.Describe(); err != nil {
		return fmt.Errorf("capture: describe: %w", err)
	}
	if err := c.Setup(); err != nil {
		return fmt.Errorf("capture: setup: %w", err)
	}
	if err := c.Play(); err != nil {
		return fmt.Errorf("capture: play: %w", err)
	}
	return nil
}

// receiveLoop feeds the bounded queue from the network. A full queue
// drops the frame rather than blocking the reader.
func (r *Recorder) receiveLoop(rec *recording) {
	defer close(rec.queue)
	for frame := range rec.client.Frames() {
		select {
		case rec.queue <- frame:
			r.metrics.SetQueueUsage(len(rec.queue), cap(rec.queue))
		default:
			r.metrics.RecorderFramesDropped.Add(1)
		}
	}
}

// muxLoop dequeues frames and writes their slice NAL units. Timestamps
// come from the wall clock at dequeue time, not from RTP, so stalls in
// the stream show up as long-duration samples instead of drift.
func (r *Recorder) muxLoop(rec *recording) {
	defer close(rec.done)
	for frame := range rec.queue {
		r.metrics.SetQueueUsage(len(rec.queue), cap(rec.queue))
		avcc := sliceSample(frame.Data)
		if avcc == nil {
			continue
		}
		pts := elapsedTicks(rec.started)
		if err := r.flushPending(rec, pts); err != nil {
			r.log.WithError(err).Error("Write sample failed")
			return
		}
		rec.pendingAVCC = avcc
		rec.pendingPTS = pts
		rec.havePending = true
		rec.cameraSamples++
	}
}

// flushPending writes the buffered sample using the next frame's
// timestamp to fix its duration.
func (r *Recorder) flushPending(rec *recording, nextPTS uint64) error {
	if !rec.havePending {
		return nil
	}
	duration := uint32(fallbackDuration)
	if nextPTS > rec.pendingPTS {
		duration = uint32(nextPTS - rec.pendingPTS)
	}
	// Every sample is flagged as a sync sample: the stream is all
	// intra-coded, players may seek anywhere.
	if err := rec.mux.WriteSample(rec.pendingAVCC, duration, true); err != nil {
		return err
	}
	rec.havePending = false
	r.metrics.RecorderFramesWritten.Add(1)
	r.metrics.RecordingBytes.Store(rec.mux.Bytes())
	return nil
}

// sliceSample extracts the coded slice NAL units of an Annex-B frame
// into one AVCC sample. Non-VCL units (SEI, parameter sets, delimiters)
// are not carried into the file.
func sliceSample(annexb []byte) []byte {
	nalus := h264.SplitAnnexB(annexb)
	slices := nalus[:0]
	for _, n := range nalus {
		if types.IsSliceType(h264.NALType(n)) {
			slices = append(slices, n)
		}
	}
	if len(slices) == 0 {
		return nil
	}
	return mp4.AVCCSample(slices)
}

func elapsedTicks(start time.Time) uint64 {
	return uint64(time.Since(start) * mp4.Timescale / time.Second)
}

// Stop finishes the active recording: tears the connection down, drains
// the queue, finalizes the file and moves it into the media library. A
// recording that never received a camera frame is a failure: the file
// would hold nothing but the manufactured keyframe, so it is discarded
// and ErrNoFrames returned.
func (r *Recorder) Stop() (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec := r.active
	if rec == nil {
		return "", ErrNotRecording
	}
	r.active = nil
	r.metrics.RecordingActive.Store(0)

	rec.client.Teardown()
	rec.client.Close()
	rec.cancel()
	<-rec.done

	if rec.cameraSamples == 0 {
		rec.mux.Abort()
		r.captureError("no frames captured")
		return "", ErrNoFrames
	}

	if err := r.flushPending(rec, elapsedTicks(rec.started)); err != nil {
		rec.mux.Abort()
		r.captureError(fmt.Sprintf("finalize failed: %v", err))
		return "", fmt.Errorf("capture: flush tail: %w", err)
	}

	duration := time.Duration(rec.mux.Duration()) * time.Second / mp4.Timescale
	if err := rec.mux.Finalize(); err != nil {
		rec.mux.Abort()
		r.captureError(fmt.Sprintf("finalize failed: %v", err))
		return "", fmt.Errorf("capture: finalize: %w", err)
	}

	dest, err := videoPath(r.cfg.MediaRoot, rec.networkName)
	if err != nil {
		os.Remove(rec.mux.Path())
		r.captureError(fmt.Sprintf("media library unavailable: %v", err))
		return "", fmt.Errorf("capture: media library: %w", err)
	}
	if err := moveFile(rec.mux.Path(), dest); err != nil {
		os.Remove(rec.mux.Path())
		r.captureError(fmt.Sprintf("move failed: %v", err))
		return "", fmt.Errorf("capture: move recording: %w", err)
	}

	// Cover art is a nicety; a recording without it is still a success.
	r.embedThumbnail(dest)

	r.log.WithFields(logrus.Fields{
		"file":     dest,
		"duration": duration,
	}).Info("Recording stopped")
	if r.events != nil {
		r.events.RecordingStopped(dest, duration)
	}
	return dest, nil
}

func (r *Recorder) embedThumbnail(path string) {
	if r.cfg.Thumbnail == nil {
		return
	}
	img, err := r.cfg.Thumbnail.Snapshot()
	if err != nil || img == nil {
		return
	}
	jpg, err := encodeThumbnail(img)
	if err != nil {
		r.log.WithError(err).Warn("Thumbnail encode failed")
		return
	}
	if err := mp4.EmbedCoverArt(path, jpg); err != nil {
		r.log.WithError(err).Warn("Cover art embed failed")
	}
}

// ForceStop ends any active recording, keeping whatever was captured so
// far. Used on stream loss and when the app is backgrounded.
func (r *Recorder) ForceStop() {
	if !r.IsRecording() {
		return
	}
	if _, err := r.Stop(); err != nil && !errors.Is(err, ErrNotRecording) {
		r.log.WithError(err).Warn("Force stop incomplete")
	}
}

func (r *Recorder) captureError(msg string) {
	r.metrics.CaptureErrors.Add(1)
	if r.events != nil {
		r.events.CaptureError(msg)
	}
}
