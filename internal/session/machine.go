// Package session owns the live-view connection lifecycle: discovery,
// activation, playback, reconnection, and the watchdog. All state lives
// on a single event-loop goroutine; network work runs on short-lived
// workers that post their results back, each stamped with the generation
// current when the work began. A stale stamp means the result is
// silently discarded — that is the whole cancellation model.
package session

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/mkoba/scopecam/internal/discovery"
	"github.com/mkoba/scopecam/internal/logging"
	"github.com/mkoba/scopecam/internal/metrics"
	"github.com/mkoba/scopecam/pkg/types"
)

// Config tunes the reconnection policy and the watchdog.
type Config struct {
	// FastReplayMax is the number of consecutive losses retried against
	// the last known-good URL before falling back to full discovery.
	FastReplayMax int
	// MaxAttempts is the total reconnection budget. Exceeding it resets
	// the counter and parks the session until an external trigger.
	MaxAttempts int
	// ReconnectGrace is the fixed delay between disposing a surface and
	// opening a new connection. The camera serves one client; connecting
	// before it released the previous session wedges it until restart.
	ReconnectGrace time.Duration
	// BackoffBase/BackoffMax shape the capped exponential backoff used
	// by full-discovery reconnect attempts.
	BackoffBase time.Duration
	BackoffMax  time.Duration
	// WatchdogInterval is the liveness poll period while Playing.
	WatchdogInterval time.Duration
	// ProbeStuckAfter force-resets a probe that never completed.
	ProbeStuckAfter time.Duration
}

// DefaultConfig returns the tuning that survived field testing.
func DefaultConfig() Config {
	return Config{
		FastReplayMax:    3,
		MaxAttempts:      8,
		ReconnectGrace:   1500 * time.Millisecond,
		BackoffBase:      time.Second,
		BackoffMax:       15 * time.Second,
		WatchdogInterval: 3 * time.Second,
		ProbeStuckAfter:  20 * time.Second,
	}
}

// Machine is the stream-session state machine.
type Machine struct {
	cfg     Config
	prober  *discovery.Prober
	surface Surface
	wifi    WifiMonitor
	met     *metrics.Metrics
	log     *logrus.Entry

	// Owned by the run loop. Workers never touch these directly.
	state            types.SessionState
	generation       uint64
	probing          bool
	probeStarted     time.Time
	cameraHost       string
	lastURL          string
	networkName      string
	reconnectAttempt int
	surfaceLive      bool
	videoW, videoH   int

	// Mirror of the externally visible fields, refreshed by the loop.
	// Accessors read it so they never touch loop-owned state.
	snapMu sync.Mutex
	snap   statusSnapshot

	cmds   chan func()
	events chan Event
	done   chan struct{}

	// onStreamLoss is invoked (on the loop) whenever playback is lost,
	// letting the capture pipeline force-stop an active recording.
	onStreamLoss func()
}

// New creates a Machine. The surface and monitor are external
// collaborators; the machine never constructs them.
func New(cfg Config, prober *discovery.Prober, surface Surface, wifi WifiMonitor, met *metrics.Metrics) *Machine {
	return &Machine{
		cfg:     cfg,
		prober:  prober,
		surface: surface,
		wifi:    wifi,
		met:     met,
		log:     logging.Module("session"),
		state:   types.StateIdle,
		cmds:    make(chan func(), 64),
		events:  make(chan Event, 64),
		done:    make(chan struct{}),
	}
}

// OnStreamLoss registers a callback fired when playback is lost. Call
// before Run.
func (m *Machine) OnStreamLoss(fn func()) {
	m.onStreamLoss = fn
}

// statusSnapshot holds the fields external callers may read while the
// loop keeps mutating the originals.
type statusSnapshot struct {
	state       types.SessionState
	networkName string
	lastURL     string
}

// publish refreshes the external mirror. Runs on the loop after any
// mutation of the mirrored fields.
func (m *Machine) publish() {
	m.snapMu.Lock()
	m.snap = statusSnapshot{
		state:       m.state,
		networkName: m.networkName,
		lastURL:     m.lastURL,
	}
	m.snapMu.Unlock()
}

// State reports the current state. Only exact from the loop goroutine;
// external callers get a recent snapshot.
func (m *Machine) State() types.SessionState {
	m.snapMu.Lock()
	defer m.snapMu.Unlock()
	return m.snap.state
}

// NetworkName returns the camera network name seen at the last probe.
func (m *Machine) NetworkName() string {
	m.snapMu.Lock()
	defer m.snapMu.Unlock()
	return m.snap.networkName
}

// LastURL returns the last known-good RTSP URL.
func (m *Machine) LastURL() string {
	m.snapMu.Lock()
	defer m.snapMu.Unlock()
	return m.snap.lastURL
}

// PostEvent hands a presentation-surface event to the machine.
func (m *Machine) PostEvent(ev Event) {
	select {
	case m.events <- ev:
	case <-m.done:
	}
}

// Probe requests a discovery/connect pass. No-op while one is in flight.
func (m *Machine) Probe() {
	m.post(func() { m.startProbe() })
}

// Foreground signals the app returned to the foreground.
func (m *Machine) Foreground() {
	m.PostEvent(Event{Kind: EventForegrounded})
}

// Background signals the app left the foreground: playback stops and the
// surface is released so the camera can drop its single session.
func (m *Machine) Background() {
	m.post(func() {
		m.log.Info("backgrounded, releasing surface")
		m.bumpGeneration()
		m.notifyStreamLoss()
		m.disposeSurface()
		m.setState(types.StateStopped)
	})
}

func (m *Machine) post(fn func()) {
	select {
	case m.cmds <- fn:
	case <-m.done:
	}
}

// Run executes the event loop until ctx ends.
func (m *Machine) Run(ctx context.Context) {
	watchdog := time.NewTicker(m.cfg.WatchdogInterval)
	defer watchdog.Stop()
	defer close(m.done)
	defer m.disposeSurface()

	var wifiEvents <-chan WifiEvent
	if m.wifi != nil {
		wifiEvents = m.wifi.Events()
	}

	for {
		select {
		case <-ctx.Done():
			return
		case fn := <-m.cmds:
			fn()
		case ev := <-m.events:
			m.handleSurfaceEvent(ev)
		case wev, ok := <-wifiEvents:
			if !ok {
				wifiEvents = nil
				continue
			}
			m.handleWifiEvent(wev)
		case <-watchdog.C:
			m.watchdogTick()
		}
	}
}

func (m *Machine) setState(s types.SessionState) {
	if m.state == s {
		return
	}
	m.log.WithFields(logrus.Fields{"from": m.state, "to": s}).Info("state transition")
	m.state = s
	m.publish()
	if m.met != nil {
		m.met.ObserveState(int(s))
	}
}

// bumpGeneration invalidates every in-flight worker.
func (m *Machine) bumpGeneration() uint64 {
	m.generation++
	if m.met != nil {
		m.met.SessionGen.Store(m.generation)
	}
	return m.generation
}

// current reports whether gen is still the live generation.
func (m *Machine) current(gen uint64) bool {
	return gen == m.generation
}

// sync runs fn on the loop if gen is still current, and reports whether
// it ran. Workers use it at every suspension point.
func (m *Machine) sync(gen uint64, fn func()) bool {
	ok := make(chan bool, 1)
	m.post(func() {
		if !m.current(gen) {
			ok <- false
			return
		}
		fn()
		ok <- true
	})
	select {
	case v := <-ok:
		return v
	case <-m.done:
		return false
	}
}

func (m *Machine) disposeSurface() {
	if m.surfaceLive {
		m.surface.Dispose()
		m.surfaceLive = false
	}
}

func (m *Machine) notifyStreamLoss() {
	if m.onStreamLoss != nil {
		m.onStreamLoss()
	}
}

// wifiUp answers current connectivity, tolerating a nil monitor.
func (m *Machine) wifiUp() bool {
	return m.wifi == nil || m.wifi.Connected()
}
