package session

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/mkoba/scopecam/pkg/types"
)

// startProbe begins a discovery/connect pass. Runs on the loop. A probe
// already in flight makes this a no-op: at most one RTSP attempt exists
// at any time, and each probe cycle tries exactly one media path.
func (m *Machine) startProbe() {
	if m.probing {
		m.log.Debug("probe already in flight")
		return
	}
	if !m.wifiUp() {
		m.log.Info("no wifi, probe suspended")
		return
	}

	m.probing = true
	m.probeStarted = time.Now()
	gen := m.bumpGeneration()
	if m.met != nil {
		m.met.Probes.Add(1)
	}

	fastReplay := m.reconnectAttempt > 0 &&
		m.reconnectAttempt <= m.cfg.FastReplayMax &&
		m.lastURL != ""
	host, lastURL := m.cameraHost, m.lastURL

	// Release the surface before anything else: the camera will not
	// accept a new session while the old one is alive.
	m.notifyStreamLoss()
	m.disposeSurface()
	m.setState(types.StateDiscovering)

	go m.runProbe(gen, fastReplay, host, lastURL)
}

// runProbe is the worker half of a probe. Every step that touches shared
// state goes through sync(gen, ...): a superseded generation silently
// ends the worker with zero observable effects.
func (m *Machine) runProbe(gen uint64, fastReplay bool, host, lastURL string) {
	// Grace period for the single-client server to let go of its
	// previous session. Reconnecting too fast wedges the camera.
	time.Sleep(m.cfg.ReconnectGrace)

	ctx, cancel := context.WithTimeout(context.Background(), m.cfg.ProbeStuckAfter)
	defer cancel()

	url := lastURL
	if fastReplay {
		if m.met != nil {
			m.met.FastReplays.Add(1)
		}
		if !m.prober.FastCheck(ctx, host) {
			m.log.WithField("host", host).Info("fast replay check failed")
			m.finishProbe(gen, false)
			return
		}
	} else {
		if m.met != nil {
			m.met.FullRediscoveries.Add(1)
		}
		result, err := m.prober.Probe(ctx)
		if err != nil {
			m.log.WithError(err).Warn("discovery failed")
			if m.met != nil {
				m.met.DiscoveryErrors.Add(1)
			}
			m.finishProbe(gen, false)
			return
		}
		url = result.URL
		host = result.Host
	}

	if !m.sync(gen, func() {
		m.cameraHost = host
		m.setState(types.StateConnecting)
	}) {
		return
	}

	// Surface ownership: init and play happen on the loop so disposal
	// can never race them.
	var playErr error
	if !m.sync(gen, func() {
		if err := m.surface.Init(); err != nil {
			playErr = err
			return
		}
		m.surfaceLive = true
		if err := m.surface.Play(url); err != nil {
			playErr = err
			m.disposeSurface()
			return
		}
		m.lastURL = url
		if m.wifi != nil {
			m.networkName = m.wifi.NetworkName()
		}
		m.publish()
	}) {
		return
	}
	if playErr != nil {
		m.log.WithError(playErr).Warn("surface start failed")
		m.finishProbe(gen, false)
		return
	}

	// Success of the probe itself; Playing arrives as a surface event.
	m.sync(gen, func() { m.probing = false })
}

// finishProbe records a failed probe and schedules the next attempt.
func (m *Machine) finishProbe(gen uint64, ok bool) {
	m.sync(gen, func() {
		m.probing = false
		if ok {
			return
		}
		if m.met != nil {
			m.met.ProbeFailures.Add(1)
		}
		m.setState(types.StateError)
		m.scheduleReconnect()
	})
}

// handleSurfaceEvent dispatches the presentation-surface tagged variants.
// Runs on the loop.
func (m *Machine) handleSurfaceEvent(ev Event) {
	switch ev.Kind {
	case EventPlaying:
		m.setState(types.StatePlaying)
		m.reconnectAttempt = 0
	case EventVideoSizeChanged:
		m.videoW, m.videoH = ev.Width, ev.Height
		m.log.WithFields(logrus.Fields{"width": ev.Width, "height": ev.Height}).Debug("video size")
	case EventForegrounded:
		if m.state != types.StatePlaying {
			m.reconnectAttempt = 0
			m.startProbe()
		}
	case EventError, EventEnded, EventStopped:
		if ev.Err != nil {
			m.log.WithError(ev.Err).Warn("surface reported failure")
		}
		if m.state == types.StatePlaying || m.state == types.StateConnecting {
			m.notifyStreamLoss()
			m.setState(types.StateStopped)
			m.scheduleReconnect()
		}
	}
}

// handleWifiEvent reacts to connectivity transitions. Runs on the loop.
func (m *Machine) handleWifiEvent(ev WifiEvent) {
	if !ev.Connected {
		m.log.Info("wifi lost, suspending reconnection")
		m.bumpGeneration() // invalidates workers and pending retries
		m.probing = false
		m.notifyStreamLoss()
		m.disposeSurface()
		m.setState(types.StateStopped)
		return
	}
	m.log.WithField("network", ev.NetworkName).Info("wifi connected")
	m.networkName = ev.NetworkName
	m.publish()
	if m.state != types.StatePlaying && !m.probing {
		m.reconnectAttempt = 0
		m.startProbe()
	}
}

// scheduleReconnect arms the next reconnection attempt according to the
// two-tier policy. Runs on the loop.
func (m *Machine) scheduleReconnect() {
	if !m.wifiUp() {
		return
	}
	m.reconnectAttempt++
	if m.reconnectAttempt > m.cfg.MaxAttempts {
		m.log.Warn("reconnect budget exhausted, waiting for external trigger")
		m.reconnectAttempt = 0
		m.setState(types.StateError)
		return
	}

	delay := time.Duration(0)
	if m.reconnectAttempt > m.cfg.FastReplayMax {
		shift := uint(m.reconnectAttempt - m.cfg.FastReplayMax - 1)
		delay = m.cfg.BackoffBase << shift
		if delay > m.cfg.BackoffMax || delay <= 0 {
			delay = m.cfg.BackoffMax
		}
	}
	gen := m.generation
	m.log.WithFields(logrus.Fields{"attempt": m.reconnectAttempt, "delay": delay}).Info("scheduling reconnect")
	time.AfterFunc(delay, func() {
		m.post(func() {
			if !m.current(gen) {
				return
			}
			m.startProbe()
		})
	})
}

// watchdogTick runs the periodic liveness check. Runs on the loop.
func (m *Machine) watchdogTick() {
	if m.probing && time.Since(m.probeStarted) > m.cfg.ProbeStuckAfter {
		m.log.Warn("probe stuck, force-resetting")
		if m.met != nil {
			m.met.WatchdogResets.Add(1)
		}
		m.probing = false
		m.bumpGeneration()
		m.startProbe()
		return
	}
	if m.state != types.StatePlaying {
		return
	}
	// Poll the surface itself: cached state goes stale when the OS
	// silently destroys the surface during suspension.
	if m.surface.IsPlaying() {
		return
	}
	m.log.Warn("watchdog: surface claims playing but is dead")
	if m.met != nil {
		m.met.WatchdogResets.Add(1)
	}
	m.notifyStreamLoss()
	m.setState(types.StateStopped)
	m.scheduleReconnect()
}
