package webmonitor

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mkoba/scopecam/internal/capture"
	"github.com/mkoba/scopecam/internal/discovery"
	"github.com/mkoba/scopecam/internal/metrics"
	"github.com/mkoba/scopecam/internal/session"
	"github.com/mkoba/scopecam/pkg/types"
)

type stubSurface struct{}

func (stubSurface) Init() error                      { return nil }
func (stubSurface) Play(url string) error            { return nil }
func (stubSurface) Stop()                            {}
func (stubSurface) Dispose()                         {}
func (stubSurface) IsPlaying() bool                  { return false }
func (stubSurface) VideoSize() (int, int)            { return 0, 0 }
func (stubSurface) SetReservedInsets(l, t, r, b int) {}

func newTestServer(t *testing.T) (*Server, *metrics.Metrics, *FrameBroadcaster) {
	t.Helper()
	met := metrics.New()
	machine := session.New(session.DefaultConfig(),
		discovery.NewProber(discovery.DefaultConfig()), stubSurface{}, nil, met)
	rec := capture.NewRecorder(capture.DefaultConfig(t.TempDir()), met, nil)
	b := NewFrameBroadcaster()
	srv := NewServer(Config{Addr: "127.0.0.1:0", StatusInterval: 20 * time.Millisecond},
		machine, rec, met, b)
	return srv, met, b
}

type statusPayload struct {
	Session   SessionStatus   `json:"session"`
	Stream    StreamStatus    `json:"stream"`
	Recording RecordingStatus `json:"recording"`
	Timestamp float64         `json:"timestamp"`
}

func TestBroadcasterFanOut(t *testing.T) {
	b := NewFrameBroadcaster()
	assert.Zero(t, b.ClientCount())

	id1, ch1 := b.Subscribe()
	_, ch2 := b.Subscribe()
	assert.Equal(t, 2, b.ClientCount())

	b.Publish([]byte{1, 2, 3})
	assert.Equal(t, []byte{1, 2, 3}, <-ch1)
	assert.Equal(t, []byte{1, 2, 3}, <-ch2)

	b.Unsubscribe(id1)
	assert.Equal(t, 1, b.ClientCount())
	_, open := <-ch1
	assert.False(t, open)
}

func TestBroadcasterDropsWhenSlow(t *testing.T) {
	b := NewFrameBroadcaster()
	_, ch := b.Subscribe()

	// publish past the per-client buffer; extra frames must be dropped
	// rather than blocking the producer
	for i := 0; i < 10; i++ {
		b.Publish([]byte{byte(i)})
	}

	received := 0
	for {
		select {
		case <-ch:
			received++
		default:
			assert.Equal(t, cap(ch), received)
			return
		}
	}
}

func TestStatusEndpoint(t *testing.T) {
	srv, met, _ := newTestServer(t)
	met.FramesReceived.Store(7)
	met.SessionGen.Store(3)

	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/api/status")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))

	var payload statusPayload
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&payload))
	assert.Equal(t, types.StateIdle.String(), payload.Session.State)
	assert.Equal(t, uint64(3), payload.Session.Generation)
	assert.Equal(t, uint64(7), payload.Stream.FramesReceived)
	assert.False(t, payload.Recording.Active)
	assert.NotZero(t, payload.Timestamp)
}

func TestStatusStreamSSE(t *testing.T) {
	srv, _, _ := newTestServer(t)
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ts.URL+"/api/status/stream", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	line, err := bufio.NewReader(resp.Body).ReadString('\n')
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(line, "data: "))

	var payload statusPayload
	require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &payload))
	assert.Equal(t, types.StateIdle.String(), payload.Session.State)
}

func TestControlEndpointsRequirePOST(t *testing.T) {
	srv, _, _ := newTestServer(t)
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	for _, path := range []string{"/api/session/probe", "/api/recording/start", "/api/recording/stop"} {
		resp, err := http.Get(ts.URL + path)
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode, path)
	}
}

func TestRecordingStartWithoutStream(t *testing.T) {
	srv, _, _ := newTestServer(t)
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	resp, err := http.Post(ts.URL+"/api/recording/start", "application/json", nil)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)

	var body map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "no stream connected", body["error"])
}

func TestRecordingStopWhenIdle(t *testing.T) {
	srv, _, _ := newTestServer(t)
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	resp, err := http.Post(ts.URL+"/api/recording/stop", "application/json", nil)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)

	var body map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Contains(t, body["error"], "no recording in progress")
}

func TestRecordingStatusEndpoint(t *testing.T) {
	srv, met, _ := newTestServer(t)
	met.PhotosSaved.Store(2)
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/api/recording/status")
	require.NoError(t, err)
	defer resp.Body.Close()

	var status RecordingStatus
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&status))
	assert.False(t, status.Active)
	assert.Equal(t, uint64(2), status.PhotosSaved)
}

func TestIndexPage(t *testing.T) {
	srv, _, _ := newTestServer(t)
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("Content-Type"), "text/html")

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "/api/status/stream")
	assert.Contains(t, string(body), "/stream.h264")
}

func TestStreamEndpointDeliversFrames(t *testing.T) {
	srv, _, b := newTestServer(t)
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ts.URL+"/stream.h264", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "video/h264", resp.Header.Get("Content-Type"))

	require.Eventually(t, func() bool { return b.ClientCount() == 1 }, 2*time.Second, 10*time.Millisecond)

	frame := []byte{0, 0, 0, 1, 0x65, 0xDE, 0xAD}
	b.Publish(frame)

	got := make([]byte, len(frame))
	_, err = io.ReadFull(resp.Body, got)
	require.NoError(t, err)
	assert.Equal(t, frame, got)
}
