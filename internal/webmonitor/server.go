package webmonitor

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/mkoba/scopecam/internal/capture"
	"github.com/mkoba/scopecam/internal/logging"
	"github.com/mkoba/scopecam/internal/metrics"
	"github.com/mkoba/scopecam/internal/session"
)

// Server serves the monitoring and control endpoints.
type Server struct {
	cfg         Config
	machine     *session.Machine
	recorder    *capture.Recorder
	met         *metrics.Metrics
	broadcaster *FrameBroadcaster
	log         *logrus.Entry
}

// NewServer returns a configured monitor server. The broadcaster must be
// fed by the caller with live frames.
func NewServer(cfg Config, machine *session.Machine, recorder *capture.Recorder, met *metrics.Metrics, broadcaster *FrameBroadcaster) *Server {
	if cfg.StatusInterval == 0 {
		cfg.StatusInterval = DefaultConfig().StatusInterval
	}
	return &Server{
		cfg:         cfg,
		machine:     machine,
		recorder:    recorder,
		met:         met,
		broadcaster: broadcaster,
		log:         logging.Module("webmonitor"),
	}
}

// Handler exposes the HTTP handler for the server.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/", s.handleIndex)
	mux.HandleFunc("/stream.h264", s.handleStream)
	mux.HandleFunc("/api/status", s.handleStatus)
	mux.HandleFunc("/api/status/stream", s.handleStatusStream)
	mux.HandleFunc("/api/session/probe", s.handleProbe)
	mux.HandleFunc("/api/recording/start", s.handleRecordingStart)
	mux.HandleFunc("/api/recording/stop", s.handleRecordingStop)
	mux.HandleFunc("/api/recording/status", s.handleRecordingStatus)

	return mux
}

// ListenAndServe runs the monitor server until ctx ends.
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		srv.Shutdown(shutCtx)
	}()
	s.log.WithField("addr", s.cfg.Addr).Info("Web monitor listening")
	err := srv.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write([]byte(indexHTML))
}

// handleStream serves the live feed as a raw Annex-B byte stream, one
// frame per chunk. Playable with e.g. "curl -sN .../stream.h264 | mpv -".
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming unsupported", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "video/h264")
	w.Header().Set("Cache-Control", "no-cache")

	id, frames := s.broadcaster.Subscribe()
	defer s.broadcaster.Unsubscribe(id)

	for {
		select {
		case <-r.Context().Done():
			return
		case frame, ok := <-frames:
			if !ok {
				return
			}
			if _, err := w.Write(frame); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

func (s *Server) statusPayload() map[string]any {
	return map[string]any{
		"session": SessionStatus{
			State:       s.machine.State().String(),
			NetworkName: s.machine.NetworkName(),
			StreamURL:   s.machine.LastURL(),
			Generation:  s.met.SessionGen.Load(),
		},
		"stream": StreamStatus{
			FramesReceived: s.met.FramesReceived.Load(),
			FramesDropped:  s.met.FramesDropped.Load(),
			Clients:        s.broadcaster.ClientCount(),
		},
		"recording": s.recordingStatus(),
		"timestamp": float64(time.Now().Unix()),
	}
}

func (s *Server) recordingStatus() RecordingStatus {
	return RecordingStatus{
		Active:        s.recorder.IsRecording(),
		FramesWritten: s.met.RecorderFramesWritten.Load(),
		FramesDropped: s.met.RecorderFramesDropped.Load(),
		Bytes:         s.met.RecordingBytes.Load(),
		QueuePercent:  s.met.QueueUsagePercent.Load(),
		PhotosSaved:   s.met.PhotosSaved.Load(),
	}
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.statusPayload())
}

func (s *Server) handleStatusStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	ticker := time.NewTicker(s.cfg.StatusInterval)
	defer ticker.Stop()

	for {
		if err := writeSSE(w, s.statusPayload()); err != nil {
			return
		}
		flusher.Flush()
		select {
		case <-r.Context().Done():
			return
		case <-ticker.C:
		}
	}
}

func (s *Server) handleProbe(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	s.machine.Probe()
	writeJSON(w, map[string]any{"status": "probing"})
}

func (s *Server) handleRecordingStart(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	url := s.machine.LastURL()
	if url == "" {
		writeJSONWithStatus(w, map[string]any{"error": "no stream connected"}, http.StatusBadRequest)
		return
	}
	if err := s.recorder.Start(r.Context(), url, s.machine.NetworkName()); err != nil {
		writeJSONWithStatus(w, map[string]any{"error": err.Error()}, http.StatusBadRequest)
		return
	}
	writeJSON(w, map[string]any{
		"status":     "recording",
		"started_at": float64(time.Now().Unix()),
	})
}

func (s *Server) handleRecordingStop(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	path, err := s.recorder.Stop()
	if err != nil {
		writeJSONWithStatus(w, map[string]any{"error": err.Error()}, http.StatusBadRequest)
		return
	}
	writeJSON(w, map[string]any{
		"status":     "stopped",
		"file":       path,
		"stopped_at": float64(time.Now().Unix()),
	})
}

func (s *Server) handleRecordingStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.recordingStatus())
}

func writeSSE(w http.ResponseWriter, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "data: %s\n\n", data)
	return err
}

func writeJSON(w http.ResponseWriter, payload any) {
	writeJSONWithStatus(w, payload, http.StatusOK)
}

func writeJSONWithStatus(w http.ResponseWriter, payload any, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
