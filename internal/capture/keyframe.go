package capture

import (
	"errors"
	"fmt"
	"image"

	"github.com/mkoba/scopecam/internal/h264"
)

// ErrNoSnapshot is returned when the playback surface cannot provide a
// still image for re-encoding.
var ErrNoSnapshot = errors.New("capture: no snapshot available")

// FrameSource exposes the most recent decoded picture of the live view.
type FrameSource interface {
	Snapshot() (image.Image, error)
}

// IDREncoder compresses a still image into a single IDR slice using
// whatever encoder the platform provides. The returned parameter set
// describes the encoder's own output and generally differs from the
// camera's.
type IDREncoder interface {
	EncodeIDR(img image.Image, width, height int) (idr []byte, sps h264.SPS, ppsID uint, err error)
}

// KeyframeStrategy produces the NAL units of the first sample of a
// recording. The camera stream carries no random access points, so
// every file needs one manufactured decodable frame up front.
type KeyframeStrategy interface {
	FirstSample(cameraSPS h264.SPS, cameraPPSID uint, width, height int) ([][]byte, error)
}

// SyntheticKeyframe builds a self-contained gray IDR with its own
// parameter sets, carried in-band ahead of the camera slices. It needs
// no hardware support.
type SyntheticKeyframe struct{}

func (SyntheticKeyframe) FirstSample(cameraSPS h264.SPS, cameraPPSID uint, width, height int) ([][]byte, error) {
	frame, err := h264.SyntheticIDR(width, height, (cameraSPS.ID+1)&31, (cameraPPSID+1)&255)
	if err != nil {
		return nil, fmt.Errorf("capture: synthesize keyframe: %w", err)
	}
	return [][]byte{frame.SPS, frame.PPS, frame.IDR}, nil
}

// ReencodeKeyframe snapshots the live surface, runs it through a real
// encoder and rewrites the slice header so the IDR decodes against the
// camera's parameter sets.
type ReencodeKeyframe struct {
	Source  FrameSource
	Encoder IDREncoder
}

func (r ReencodeKeyframe) FirstSample(cameraSPS h264.SPS, cameraPPSID uint, width, height int) ([][]byte, error) {
	img, err := r.Source.Snapshot()
	if err != nil {
		return nil, fmt.Errorf("capture: snapshot for keyframe: %w", err)
	}
	if img == nil {
		return nil, ErrNoSnapshot
	}
	idr, encSPS, _, err := r.Encoder.EncodeIDR(img, width, height)
	if err != nil {
		return nil, fmt.Errorf("capture: re-encode keyframe: %w", err)
	}
	rewritten, err := h264.RewriteSliceIdentifiers(idr, encSPS, cameraSPS, cameraPPSID)
	if err != nil {
		return nil, fmt.Errorf("capture: rewrite keyframe: %w", err)
	}
	return [][]byte{rewritten}, nil
}
