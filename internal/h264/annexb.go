// Package h264 implements the bitstream-level H.264 handling the capture
// pipeline depends on: Annex-B NAL splitting, SPS/PPS field extraction,
// slice-header identifier rewriting, and synthetic keyframe generation.
package h264

import (
	"github.com/mkoba/scopecam/pkg/types"
)

// NAL unit start codes
var (
	startCode3 = []byte{0x00, 0x00, 0x01}
	startCode4 = []byte{0x00, 0x00, 0x00, 0x01}
)

// NALType extracts the NAL unit type from a start-code-free NAL unit.
func NALType(nalu []byte) uint8 {
	if len(nalu) == 0 {
		return 0
	}
	return nalu[0] & 0x1F
}

// NALRefIdc extracts nal_ref_idc from a start-code-free NAL unit.
func NALRefIdc(nalu []byte) uint8 {
	if len(nalu) == 0 {
		return 0
	}
	return nalu[0] >> 5 & 0x03
}

// SplitAnnexB splits one delivered Annex-B chunk into individual NAL unit
// payloads without start codes. Both 3- and 4-byte start codes are handled;
// a single chunk may bundle several NAL units (e.g. filler plus slice).
func SplitAnnexB(data []byte) [][]byte {
	var nalus [][]byte
	start := -1
	i := 0
	for i < len(data) {
		if i+2 < len(data) && data[i] == 0 && data[i+1] == 0 {
			if data[i+2] == 1 {
				if start >= 0 && start < i {
					nalus = append(nalus, append([]byte(nil), data[start:i]...))
				}
				start = i + 3
				i += 3
				continue
			}
			if i+3 < len(data) && data[i+2] == 0 && data[i+3] == 1 {
				if start >= 0 && start < i {
					nalus = append(nalus, append([]byte(nil), data[start:i]...))
				}
				start = i + 4
				i += 4
				continue
			}
		}
		i++
	}
	if start >= 0 && start < len(data) {
		nalus = append(nalus, append([]byte(nil), data[start:]...))
	}
	return nalus
}

// JoinAnnexB re-frames NAL units with 4-byte start codes.
func JoinAnnexB(nalus [][]byte) []byte {
	n := 0
	for _, nalu := range nalus {
		n += len(startCode4) + len(nalu)
	}
	out := make([]byte, 0, n)
	for _, nalu := range nalus {
		out = append(out, startCode4...)
		out = append(out, nalu...)
	}
	return out
}

// ParseNALUnits splits an Annex-B chunk into typed NAL units.
func ParseNALUnits(data []byte) []types.NALUnit {
	raw := SplitAnnexB(data)
	out := make([]types.NALUnit, 0, len(raw))
	for _, nalu := range raw {
		if len(nalu) == 0 {
			continue
		}
		out = append(out, types.NALUnit{
			Type:   NALType(nalu),
			RefIdc: NALRefIdc(nalu),
			Data:   nalu,
		})
	}
	return out
}

// ContainsIDR reports whether an Annex-B chunk carries an IDR slice.
func ContainsIDR(data []byte) bool {
	for _, nalu := range SplitAnnexB(data) {
		if NALType(nalu) == types.NALTypeIDR {
			return true
		}
	}
	return false
}
