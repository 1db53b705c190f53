// Package rtsp implements the minimal RTSP/1.0 client the borescope
// camera understands: OPTIONS, DESCRIBE, SETUP with interleaved TCP
// transport, PLAY, and TEARDOWN. The camera serves exactly one client;
// the caller is responsible for never holding two live-view legs open.
package rtsp

import (
	"bufio"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
	"net/textproto"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pion/rtp"
	"github.com/pion/webrtc/v3/pkg/media/samplebuilder"
	"github.com/sirupsen/logrus"

	"github.com/mkoba/scopecam/internal/logging"
	"github.com/mkoba/scopecam/pkg/types"
)

var (
	// ErrTimeout is returned when a protocol step misses its deadline.
	ErrTimeout = errors.New("rtsp: request timed out")
	// ErrBadStatus is returned on a non-2xx RTSP response.
	ErrBadStatus = errors.New("rtsp: request rejected")
	// ErrClosed is returned when using a closed client.
	ErrClosed = errors.New("rtsp: client closed")
)

// Config bounds each protocol step.
type Config struct {
	DialTimeout    time.Duration
	RequestTimeout time.Duration
	UserAgent      string
}

// DefaultConfig returns the timeouts tuned for the camera's sluggish
// embedded server.
func DefaultConfig() Config {
	return Config{
		DialTimeout:    3 * time.Second,
		RequestTimeout: 4 * time.Second,
		UserAgent:      "scopecam/1.0",
	}
}

// Client drives one RTSP connection. Reading interleaved media and
// sending requests may happen from different goroutines; writes are
// serialized internally.
type Client struct {
	cfg     Config
	rawURL  string
	baseURL *url.URL
	log     *logrus.Entry

	conn    net.Conn
	br      *bufio.Reader
	writeMu sync.Mutex
	cseq    int
	session string

	desc *Description

	builder   *samplebuilder.SampleBuilder
	frames    chan *types.Frame
	frameNum  uint64
	dropped   atomic.Uint64
	lastFrame atomic.Int64 // unix nanos of the last media byte

	closed atomic.Bool
}

// Description carries what the session layer needs from DESCRIBE.
type Description struct {
	Control string // SETUP target, absolute
	SPS     []byte // start-code-free SPS NAL, nil if not advertised
	PPS     []byte // start-code-free PPS NAL, nil if not advertised
	Width   int
	Height  int
}

// Dial connects to the RTSP endpoint. No protocol exchange happens yet.
func Dial(ctx context.Context, rawURL string, cfg Config) (*Client, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("rtsp: parse url: %w", err)
	}
	host := u.Host
	if u.Port() == "" {
		host = net.JoinHostPort(u.Hostname(), "554")
	}
	d := net.Dialer{Timeout: cfg.DialTimeout}
	conn, err := d.DialContext(ctx, "tcp", host)
	if err != nil {
		return nil, fmt.Errorf("rtsp: dial %s: %w", host, err)
	}
	return &Client{
		cfg:     cfg,
		rawURL:  rawURL,
		baseURL: u,
		log:     logging.Module("rtsp"),
		conn:    conn,
		br:      bufio.NewReaderSize(conn, 64<<10),
		frames:  make(chan *types.Frame, 30),
	}, nil
}

// Frames returns the channel delivering reassembled Annex-B access units.
// It is closed when the read loop ends.
func (c *Client) Frames() <-chan *types.Frame {
	return c.frames
}

// Dropped reports how many reassembled frames were discarded because the
// consumer fell behind.
func (c *Client) Dropped() uint64 {
	return c.dropped.Load()
}

// LastFrameAge returns the time since the last media byte arrived, or a
// very large value when nothing arrived yet.
func (c *Client) LastFrameAge() time.Duration {
	ns := c.lastFrame.Load()
	if ns == 0 {
		return time.Duration(1<<62 - 1)
	}
	return time.Since(time.Unix(0, ns))
}

func (c *Client) nextCSeq() int {
	c.cseq++
	return c.cseq
}

// request sends one RTSP request and reads its response. Interleaved
// media frames arriving before the response are dispatched on the fly.
func (c *Client) request(method, target string, headers map[string]string) (*response, error) {
	if c.closed.Load() {
		return nil, ErrClosed
	}
	c.writeMu.Lock()
	cseq := c.nextCSeq()
	var b strings.Builder
	fmt.Fprintf(&b, "%s %s RTSP/1.0\r\n", method, target)
	fmt.Fprintf(&b, "CSeq: %d\r\n", cseq)
	fmt.Fprintf(&b, "User-Agent: %s\r\n", c.cfg.UserAgent)
	if c.session != "" {
		fmt.Fprintf(&b, "Session: %s\r\n", c.session)
	}
	for k, v := range headers {
		fmt.Fprintf(&b, "%s: %s\r\n", k, v)
	}
	b.WriteString("\r\n")

	c.conn.SetWriteDeadline(time.Now().Add(c.cfg.RequestTimeout))
	_, err := io.WriteString(c.conn, b.String())
	c.writeMu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("rtsp: send %s: %w", method, err)
	}

	deadline := time.Now().Add(c.cfg.RequestTimeout)
	for {
		c.conn.SetReadDeadline(deadline)
		resp, interleaved, err := c.readMessage()
		if err != nil {
			if nerr, ok := err.(net.Error); ok && nerr.Timeout() {
				return nil, fmt.Errorf("%w: %s", ErrTimeout, method)
			}
			return nil, fmt.Errorf("rtsp: read %s response: %w", method, err)
		}
		if interleaved {
			continue
		}
		if resp.status/100 != 2 {
			return nil, fmt.Errorf("%w: %s returned %d %s", ErrBadStatus, method, resp.status, resp.reason)
		}
		return resp, nil
	}
}

type response struct {
	status  int
	reason  string
	headers textproto.MIMEHeader
	body    []byte
}

// readMessage reads either one RTSP response or one interleaved frame
// (reported via the bool). Interleaved media is pushed into the sample
// builder as a side effect.
func (c *Client) readMessage() (*response, bool, error) {
	first, err := c.br.Peek(1)
	if err != nil {
		return nil, false, err
	}
	if first[0] == '$' {
		if err := c.readInterleaved(); err != nil {
			return nil, false, err
		}
		return nil, true, nil
	}

	tp := textproto.NewReader(c.br)
	line, err := tp.ReadLine()
	if err != nil {
		return nil, false, err
	}
	parts := strings.SplitN(line, " ", 3)
	if len(parts) < 2 || !strings.HasPrefix(parts[0], "RTSP/") {
		return nil, false, fmt.Errorf("rtsp: malformed status line %q", line)
	}
	status, err := strconv.Atoi(parts[1])
	if err != nil {
		return nil, false, fmt.Errorf("rtsp: malformed status %q", parts[1])
	}
	reason := ""
	if len(parts) == 3 {
		reason = parts[2]
	}
	headers, err := tp.ReadMIMEHeader()
	if err != nil {
		return nil, false, err
	}
	var body []byte
	if cl := headers.Get("Content-Length"); cl != "" {
		n, err := strconv.Atoi(cl)
		if err != nil || n < 0 {
			return nil, false, fmt.Errorf("rtsp: malformed Content-Length %q", cl)
		}
		body = make([]byte, n)
		if _, err := io.ReadFull(c.br, body); err != nil {
			return nil, false, err
		}
	}
	return &response{status: status, reason: reason, headers: headers, body: body}, false, nil
}

// readInterleaved consumes one $-framed block. Channel 0 carries RTP;
// RTCP and anything else is discarded.
func (c *Client) readInterleaved() error {
	var hdr [4]byte
	if _, err := io.ReadFull(c.br, hdr[:]); err != nil {
		return err
	}
	length := binary.BigEndian.Uint16(hdr[2:4])
	payload := make([]byte, length)
	if _, err := io.ReadFull(c.br, payload); err != nil {
		return err
	}
	c.lastFrame.Store(time.Now().UnixNano())
	if hdr[1] != 0 || c.builder == nil {
		return nil
	}
	pkt := &rtp.Packet{}
	if err := pkt.Unmarshal(payload); err != nil {
		c.log.WithError(err).Debug("dropping malformed RTP packet")
		return nil
	}
	c.builder.Push(pkt)
	for {
		sample := c.builder.Pop()
		if sample == nil {
			break
		}
		if len(sample.Data) == 0 {
			continue
		}
		c.frameNum++
		frame := &types.Frame{
			Data:      sample.Data,
			Timestamp: time.Now(),
			FrameNum:  c.frameNum,
		}
		select {
		case c.frames <- frame:
		default:
			// favor continuity over completeness
			c.dropped.Add(1)
		}
	}
	return nil
}

// Options performs the OPTIONS handshake.
func (c *Client) Options() error {
	_, err := c.request("OPTIONS", c.rawURL, nil)
	return err
}

// Describe fetches and parses the SDP.
func (c *Client) Describe() (*Description, error) {
	resp, err := c.request("DESCRIBE", c.rawURL, map[string]string{
		"Accept": "application/sdp",
	})
	if err != nil {
		return nil, err
	}
	desc, err := parseDescription(c.rawURL, resp.body)
	if err != nil {
		return nil, err
	}
	c.desc = desc
	return desc, nil
}

// Setup negotiates interleaved TCP transport on channels 0/1.
func (c *Client) Setup() error {
	target := c.rawURL
	if c.desc != nil && c.desc.Control != "" {
		target = c.desc.Control
	}
	resp, err := c.request("SETUP", target, map[string]string{
		"Transport": "RTP/AVP/TCP;unicast;interleaved=0-1",
	})
	if err != nil {
		return err
	}
	if s := resp.headers.Get("Session"); s != "" {
		// the session id may carry a ";timeout=" suffix
		c.session = strings.SplitN(s, ";", 2)[0]
	}
	return nil
}

// Play starts media delivery and arms the depacketizer.
func (c *Client) Play() error {
	c.builder = newH264SampleBuilder()
	if _, err := c.request("PLAY", c.rawURL, map[string]string{"Range": "npt=0.000-"}); err != nil {
		return err
	}
	return nil
}

// writeRequest sends a request without waiting for the response. Used
// once media is flowing: the Run loop owns the reader then, and RTSP
// responses it encounters are simply discarded.
func (c *Client) writeRequest(method, target string) error {
	if c.closed.Load() {
		return ErrClosed
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	cseq := c.nextCSeq()
	var b strings.Builder
	fmt.Fprintf(&b, "%s %s RTSP/1.0\r\n", method, target)
	fmt.Fprintf(&b, "CSeq: %d\r\n", cseq)
	fmt.Fprintf(&b, "User-Agent: %s\r\n", c.cfg.UserAgent)
	if c.session != "" {
		fmt.Fprintf(&b, "Session: %s\r\n", c.session)
	}
	b.WriteString("\r\n")
	c.conn.SetWriteDeadline(time.Now().Add(c.cfg.RequestTimeout))
	if _, err := io.WriteString(c.conn, b.String()); err != nil {
		return fmt.Errorf("rtsp: send %s: %w", method, err)
	}
	return nil
}

// KeepAlive nudges the server session without reading the reply.
func (c *Client) KeepAlive() error {
	return c.writeRequest("OPTIONS", c.rawURL)
}

// Teardown ends the session. The reply is not awaited; the caller closes
// the connection right after anyway.
func (c *Client) Teardown() error {
	return c.writeRequest("TEARDOWN", c.rawURL)
}

// Run consumes interleaved media until the context ends or the
// connection drops. It owns the frames channel.
func (c *Client) Run(ctx context.Context) error {
	defer close(c.frames)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		c.conn.SetReadDeadline(time.Now().Add(c.cfg.RequestTimeout))
		if _, _, err := c.readMessage(); err != nil {
			if c.closed.Load() {
				return nil
			}
			return fmt.Errorf("rtsp: stream read: %w", err)
		}
	}
}

// Close shuts the connection down. Safe to call more than once.
func (c *Client) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	return c.conn.Close()
}
