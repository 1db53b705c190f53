// Package discovery locates and activates the camera: a bounded port
// scan over a short candidate-host list, the opaque command-channel
// handshake, and the HTTP activation endpoint that yields the RTSP media
// path. Every step degrades to defaults rather than aborting.
package discovery

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/mkoba/scopecam/internal/logging"
)

var (
	// ErrNoReachableHost is returned when no candidate host answers on
	// any probed port.
	ErrNoReachableHost = errors.New("discovery: no reachable host")
	// ErrActivation is returned when the activation endpoint fails; the
	// caller falls back to the default media path.
	ErrActivation = errors.New("discovery: activation failed")
)

// Config describes the camera's fixed protocol surface.
type Config struct {
	CandidateHosts []string      // probed in order, first hit wins
	ScanPorts      []int         // any open port marks the host reachable
	CommandPort    int           // opaque command-channel handshake
	HTTPPort       int           // activation endpoint
	RTSPPort       int           // fixed media port
	ActivationPath string        // HTTP GET path returning a JSON path array
	DefaultMedia   string        // media path used when activation fails
	DialTimeout    time.Duration // per-connect bound
	HTTPTimeout    time.Duration // activation request bound
}

// DefaultConfig returns the protocol constants of the supported camera.
func DefaultConfig() Config {
	return Config{
		CandidateHosts: []string{"192.168.10.123", "192.168.1.1"},
		ScanPorts:      []int{8070, 80, 7070},
		CommandPort:    8070,
		HTTPPort:       80,
		RTSPPort:       7070,
		ActivationPath: "/cgi-bin/stream_path",
		DefaultMedia:   "/live/0",
		DialTimeout:    800 * time.Millisecond,
		HTTPTimeout:    2 * time.Second,
	}
}

// Result is one successful probe pass.
type Result struct {
	Host      string
	MediaPath string
	URL       string // complete RTSP URL
	Activated bool   // false when the default path was used
}

// activateCommand is the opaque wake-up payload the camera expects on its
// command channel before it will serve media.
var activateCommand = []byte{0xAB, 0xCD, 0x00, 0x01, 0x00, 0x00}

// Prober runs discovery passes.
type Prober struct {
	cfg Config
	log *logrus.Entry
}

// NewProber creates a Prober with the given protocol configuration.
func NewProber(cfg Config) *Prober {
	return &Prober{cfg: cfg, log: logging.Module("discovery")}
}

// Probe runs one full discovery pass: scan, activate, resolve media
// path, build the RTSP URL. Only a completely unreachable camera is an
// error; activation failures degrade to the default media path.
func (p *Prober) Probe(ctx context.Context) (*Result, error) {
	host, err := p.scan(ctx)
	if err != nil {
		return nil, err
	}

	if err := p.commandHandshake(ctx, host); err != nil {
		// Some firmware revisions skip the command channel entirely;
		// the HTTP activation below still works then.
		p.log.WithError(err).Debug("command handshake failed")
	}

	result := &Result{Host: host, MediaPath: p.cfg.DefaultMedia}
	path, err := p.fetchMediaPath(ctx, host)
	if err != nil {
		p.log.WithError(err).Warn("activation failed, using default media path")
	} else {
		result.MediaPath = path
		result.Activated = true
	}
	result.URL = p.BuildURL(host, result.MediaPath)
	return result, nil
}

// FastCheck re-verifies that the last known host is still reachable,
// without a full discovery pass.
func (p *Prober) FastCheck(ctx context.Context, host string) bool {
	for _, port := range p.cfg.ScanPorts {
		if p.dialable(ctx, host, port) {
			return true
		}
	}
	return false
}

// BuildURL assembles the RTSP URL from host, fixed media port, and path.
func (p *Prober) BuildURL(host, mediaPath string) string {
	if mediaPath == "" || mediaPath[0] != '/' {
		mediaPath = "/" + mediaPath
	}
	return fmt.Sprintf("rtsp://%s%s", net.JoinHostPort(host, strconv.Itoa(p.cfg.RTSPPort)), mediaPath)
}

// scan connect-probes the candidate hosts against the fixed port set,
// stopping at the first host with any open port.
func (p *Prober) scan(ctx context.Context) (string, error) {
	for _, host := range p.cfg.CandidateHosts {
		for _, port := range p.cfg.ScanPorts {
			if ctx.Err() != nil {
				return "", ctx.Err()
			}
			if p.dialable(ctx, host, port) {
				p.log.WithFields(logrus.Fields{"host": host, "port": port}).Debug("camera reachable")
				return host, nil
			}
		}
	}
	return "", ErrNoReachableHost
}

func (p *Prober) dialable(ctx context.Context, host string, port int) bool {
	d := net.Dialer{Timeout: p.cfg.DialTimeout}
	conn, err := d.DialContext(ctx, "tcp", net.JoinHostPort(host, strconv.Itoa(port)))
	if err != nil {
		return false
	}
	conn.Close()
	return true
}

// commandHandshake opens the command channel and sends the opaque
// activation payload. The camera answers with a short status blob that
// is read and discarded; only transport errors matter here.
func (p *Prober) commandHandshake(ctx context.Context, host string) error {
	d := net.Dialer{Timeout: p.cfg.DialTimeout}
	conn, err := d.DialContext(ctx, "tcp", net.JoinHostPort(host, strconv.Itoa(p.cfg.CommandPort)))
	if err != nil {
		return fmt.Errorf("discovery: command channel: %w", err)
	}
	defer conn.Close()

	conn.SetDeadline(time.Now().Add(p.cfg.DialTimeout))
	if _, err := conn.Write(activateCommand); err != nil {
		return fmt.Errorf("discovery: command write: %w", err)
	}
	buf := make([]byte, 64)
	if _, err := conn.Read(buf); err != nil && err != io.EOF {
		return fmt.Errorf("discovery: command read: %w", err)
	}
	return nil
}

// fetchMediaPath GETs the activation endpoint. The camera returns a JSON
// array of stream paths; the first element is the live path.
func (p *Prober) fetchMediaPath(ctx context.Context, host string) (string, error) {
	url := fmt.Sprintf("http://%s%s",
		net.JoinHostPort(host, strconv.Itoa(p.cfg.HTTPPort)), p.cfg.ActivationPath)
	ctx, cancel := context.WithTimeout(ctx, p.cfg.HTTPTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrActivation, err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrActivation, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("%w: status %d", ErrActivation, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrActivation, err)
	}
	var paths []string
	if err := json.Unmarshal(body, &paths); err != nil || len(paths) == 0 || paths[0] == "" {
		return "", fmt.Errorf("%w: malformed path list", ErrActivation)
	}
	return paths[0], nil
}
