package types

import "time"

// Frame represents one delivered chunk of H.264 data with metadata.
// A chunk may bundle several NAL units (e.g. a filler NAL with a slice NAL).
type Frame struct {
	Data      []byte    // Raw Annex-B H.264 data (one or more NAL units)
	Timestamp time.Time // Arrival timestamp (wall clock)
	FrameNum  uint64    // Sequential frame number
	IsIDR     bool      // True if this frame contains an IDR slice
	Width     int       // Frame width (0 if unknown)
	Height    int       // Frame height (0 if unknown)
}

// NALUnit represents a single H.264 NAL unit without its start code.
// The payload keeps emulation-prevention bytes; they are removed only
// for field-level parsing.
type NALUnit struct {
	Type   uint8  // NAL unit type (lower 5 bits of the header byte)
	RefIdc uint8  // nal_ref_idc (bits 5-6 of the header byte)
	Data   []byte // Complete NAL unit including the header byte
}

// NALUnitType constants
const (
	NALTypeSlice     uint8 = 1
	NALTypeSliceA    uint8 = 2
	NALTypeSliceB    uint8 = 3
	NALTypeSliceC    uint8 = 4
	NALTypeIDR       uint8 = 5
	NALTypeSEI       uint8 = 6
	NALTypeSPS       uint8 = 7
	NALTypePPS       uint8 = 8
	NALTypeAUD       uint8 = 9
	NALTypeEndSeq    uint8 = 10
	NALTypeEndStream uint8 = 11
	NALTypeFiller    uint8 = 12
)

// IsSliceType reports whether t is a coded-slice NAL type (1..5).
// Only these are written into recordings.
func IsSliceType(t uint8) bool {
	return t >= NALTypeSlice && t <= NALTypeIDR
}

// SessionState is the lifecycle state of the live-view stream session.
type SessionState int

const (
	StateIdle SessionState = iota
	StateDiscovering
	StateConnecting
	StatePlaying
	StateError
	StateStopped
)

// String returns the state name for logging.
func (s SessionState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateDiscovering:
		return "discovering"
	case StateConnecting:
		return "connecting"
	case StatePlaying:
		return "playing"
	case StateError:
		return "error"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// CaptureEvents receives the results of photo and recording operations.
type CaptureEvents interface {
	PhotoSaved(path string)
	RecordingStopped(path string, duration time.Duration)
	CaptureError(msg string)
}
