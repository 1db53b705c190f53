package main

import (
	"context"
	"errors"
	"image"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/mkoba/scopecam/internal/capture"
	"github.com/mkoba/scopecam/internal/logging"
	"github.com/mkoba/scopecam/internal/metrics"
	"github.com/mkoba/scopecam/internal/rtsp"
	"github.com/mkoba/scopecam/internal/session"
)

// liveThreshold is how stale the media feed may be before the surface
// reports itself dead.
const liveThreshold = 2 * time.Second

// streamSurface is a headless presentation surface: it keeps the RTSP
// session alive, tracks liveness and video size, and retains the most
// recent frame. It performs no decoding, so Snapshot reports
// capture.ErrNoSnapshot; embedders with a decoder plug in their own
// surface instead.
type streamSurface struct {
	cfg     rtsp.Config
	met     *metrics.Metrics
	log     *logrus.Entry
	sink    func(session.Event)
	onFrame func([]byte)

	mu        sync.Mutex
	client    *rtsp.Client
	cancel    context.CancelFunc
	width     int
	height    int
	lastFrame []byte
	stopping  bool
}

func newStreamSurface(cfg rtsp.Config, met *metrics.Metrics) *streamSurface {
	return &streamSurface{
		cfg: cfg,
		met: met,
		log: logging.Module("surface"),
	}
}

func (s *streamSurface) Init() error { return nil }

func (s *streamSurface) Play(rawURL string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.client != nil {
		return errors.New("surface: already playing")
	}

	ctx, cancel := context.WithCancel(context.Background())
	client, err := rtsp.Dial(ctx, rawURL, s.cfg)
	if err != nil {
		cancel()
		return err
	}
	if err := client.Options(); err != nil {
		client.Close()
		cancel()
		return err
	}
	desc, err := client.Describe()
	if err != nil {
		client.Close()
		cancel()
		return err
	}
	if desc.Width > 0 {
		s.width = desc.Width
		s.height = desc.Height
	}
	if err := client.Setup(); err != nil {
		client.Close()
		cancel()
		return err
	}
	if err := client.Play(); err != nil {
		client.Close()
		cancel()
		return err
	}

	s.client = client
	s.cancel = cancel
	s.stopping = false
	go client.Run(ctx)
	go s.consume(client)
	return nil
}

// consume drains frames, feeding liveness and the latest-frame buffer.
// The first frame promotes the session to playing.
func (s *streamSurface) consume(client *rtsp.Client) {
	first := true
	for frame := range client.Frames() {
		s.met.FramesReceived.Add(1)
		s.met.FramesDropped.Store(client.Dropped())
		s.mu.Lock()
		s.lastFrame = frame.Data
		w, h := s.width, s.height
		s.mu.Unlock()
		if s.onFrame != nil {
			s.onFrame(frame.Data)
		}
		if first {
			first = false
			if s.sink != nil {
				if w > 0 {
					s.sink(session.Event{Kind: session.EventVideoSizeChanged, Width: w, Height: h})
				}
				s.sink(session.Event{Kind: session.EventPlaying})
			}
		}
	}
	s.mu.Lock()
	stopping := s.stopping
	s.mu.Unlock()
	if !stopping && s.sink != nil {
		s.sink(session.Event{Kind: session.EventEnded})
	}
}

func (s *streamSurface) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.teardownLocked()
}

func (s *streamSurface) Dispose() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.teardownLocked()
	s.lastFrame = nil
	s.width, s.height = 0, 0
}

func (s *streamSurface) teardownLocked() {
	if s.client == nil {
		return
	}
	s.stopping = true
	s.client.Teardown()
	s.client.Close()
	s.cancel()
	s.client = nil
	s.cancel = nil
}

func (s *streamSurface) IsPlaying() bool {
	s.mu.Lock()
	client := s.client
	s.mu.Unlock()
	return client != nil && client.LastFrameAge() < liveThreshold
}

func (s *streamSurface) VideoSize() (int, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.width, s.height
}

func (s *streamSurface) SetReservedInsets(left, top, right, bottom int) {}

// LatestFrame returns a copy of the most recent Annex-B frame.
func (s *streamSurface) LatestFrame() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lastFrame == nil {
		return nil
	}
	return append([]byte(nil), s.lastFrame...)
}

// Snapshot satisfies capture.FrameSource. The headless surface has no
// decoder, so stills are unavailable; see LatestFrame for the raw dump.
func (s *streamSurface) Snapshot() (image.Image, error) {
	return nil, capture.ErrNoSnapshot
}

// staticWifi is the desktop stand-in for a platform connectivity
// monitor: the operator joined the camera network before launching.
type staticWifi struct {
	name string
}

func (w staticWifi) Connected() bool                  { return true }
func (w staticWifi) NetworkName() string              { return w.name }
func (w staticWifi) Events() <-chan session.WifiEvent { return nil }
