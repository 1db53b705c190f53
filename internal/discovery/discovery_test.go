package discovery

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// listenerPort opens a TCP listener on loopback and returns its port.
func listenerPort(t *testing.T) (net.Listener, int) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })
	return ln, ln.Addr().(*net.TCPAddr).Port
}

// closedPort returns a loopback port that nothing listens on.
func closedPort(t *testing.T) int {
	t.Helper()
	ln, port := listenerPort(t)
	ln.Close()
	return port
}

func activationServer(t *testing.T, handler http.HandlerFunc) int {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	_, portStr, err := net.SplitHostPort(srv.Listener.Addr().String())
	require.NoError(t, err)
	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)
	return port
}

func testConfig(scanPort, cmdPort, httpPort int) Config {
	cfg := DefaultConfig()
	cfg.CandidateHosts = []string{"127.0.0.1"}
	cfg.ScanPorts = []int{scanPort}
	cfg.CommandPort = cmdPort
	cfg.HTTPPort = httpPort
	cfg.RTSPPort = 7070
	cfg.DialTimeout = 200 * time.Millisecond
	cfg.HTTPTimeout = time.Second
	return cfg
}

func TestProbeActivates(t *testing.T) {
	_, scanPort := listenerPort(t)

	cmdLn, cmdPort := listenerPort(t)
	received := make(chan []byte, 1)
	go func() {
		conn, err := cmdLn.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		buf := make([]byte, 16)
		n, _ := conn.Read(buf)
		received <- buf[:n]
		conn.Write([]byte{0x00})
	}()

	httpPort := activationServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/cgi-bin/stream_path", r.URL.Path)
		fmt.Fprint(w, `["/live/12345","/playback/0"]`)
	})

	p := NewProber(testConfig(scanPort, cmdPort, httpPort))
	result, err := p.Probe(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1", result.Host)
	assert.Equal(t, "/live/12345", result.MediaPath)
	assert.True(t, result.Activated)
	assert.Equal(t, "rtsp://127.0.0.1:7070/live/12345", result.URL)

	select {
	case payload := <-received:
		assert.Equal(t, activateCommand, payload)
	case <-time.After(time.Second):
		t.Fatal("command handshake never reached the server")
	}
}

func TestProbeActivationFailureFallsBack(t *testing.T) {
	_, scanPort := listenerPort(t)
	httpPort := activationServer(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusInternalServerError)
	})

	cfg := testConfig(scanPort, closedPort(t), httpPort)
	p := NewProber(cfg)
	result, err := p.Probe(context.Background())
	require.NoError(t, err)
	assert.Equal(t, cfg.DefaultMedia, result.MediaPath)
	assert.False(t, result.Activated)
	assert.Equal(t, "rtsp://127.0.0.1:7070/live/0", result.URL)
}

func TestProbeMalformedActivationBody(t *testing.T) {
	_, scanPort := listenerPort(t)
	httpPort := activationServer(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"not":"an array"}`)
	})

	p := NewProber(testConfig(scanPort, closedPort(t), httpPort))
	result, err := p.Probe(context.Background())
	require.NoError(t, err)
	assert.False(t, result.Activated)
	assert.Equal(t, "/live/0", result.MediaPath)
}

func TestProbeNoReachableHost(t *testing.T) {
	cfg := testConfig(closedPort(t), closedPort(t), closedPort(t))
	p := NewProber(cfg)
	_, err := p.Probe(context.Background())
	assert.ErrorIs(t, err, ErrNoReachableHost)
}

func TestProbeContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	p := NewProber(testConfig(closedPort(t), closedPort(t), closedPort(t)))
	_, err := p.Probe(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestFastCheck(t *testing.T) {
	_, scanPort := listenerPort(t)
	p := NewProber(testConfig(scanPort, closedPort(t), closedPort(t)))
	assert.True(t, p.FastCheck(context.Background(), "127.0.0.1"))

	p = NewProber(testConfig(closedPort(t), closedPort(t), closedPort(t)))
	assert.False(t, p.FastCheck(context.Background(), "127.0.0.1"))
}

func TestBuildURL(t *testing.T) {
	p := NewProber(testConfig(1, 1, 1))
	assert.Equal(t, "rtsp://10.0.0.9:7070/live/7", p.BuildURL("10.0.0.9", "/live/7"))
	assert.Equal(t, "rtsp://10.0.0.9:7070/live/7", p.BuildURL("10.0.0.9", "live/7"))
}
