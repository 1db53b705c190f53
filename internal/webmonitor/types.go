package webmonitor

// SessionStatus is the JSON shape of the session section of /api/status.
type SessionStatus struct {
	State       string `json:"state"`
	NetworkName string `json:"network_name"`
	StreamURL   string `json:"stream_url"`
	Generation  uint64 `json:"generation"`
}

// StreamStatus reports live-view delivery counters.
type StreamStatus struct {
	FramesReceived uint64 `json:"frames_received"`
	FramesDropped  uint64 `json:"frames_dropped"`
	Clients        int    `json:"clients"`
}

// RecordingStatus reports the capture pipeline state.
type RecordingStatus struct {
	Active        bool   `json:"active"`
	FramesWritten uint64 `json:"frames_written"`
	FramesDropped uint64 `json:"frames_dropped"`
	Bytes         uint64 `json:"bytes"`
	QueuePercent  uint64 `json:"queue_percent"`
	PhotosSaved   uint64 `json:"photos_saved"`
}
