// Package mp4 writes the gallery-viewable container for recordings: a
// generic ISO-BMFF box builder, a single-track H.264 muxer, and an
// in-place metadata patcher for attaching cover art after finalization.
package mp4

import (
	"bytes"
	"encoding/binary"
)

// Box wraps payload in a [32-bit big-endian length][four-char type] header.
func Box(fourcc string, payload []byte) []byte {
	out := make([]byte, 8+len(payload))
	binary.BigEndian.PutUint32(out[:4], uint32(len(payload)+8))
	copy(out[4:8], fourcc)
	copy(out[8:], payload)
	return out
}

// Concat joins child boxes into one payload.
func Concat(boxes ...[]byte) []byte {
	n := 0
	for _, b := range boxes {
		n += len(b)
	}
	out := make([]byte, 0, n)
	for _, b := range boxes {
		out = append(out, b...)
	}
	return out
}

// FullBox wraps payload in a box with a version/flags prefix.
func FullBox(fourcc string, version uint8, flags uint32, payload []byte) []byte {
	full := make([]byte, 4+len(payload))
	full[0] = version
	full[1] = byte(flags >> 16)
	full[2] = byte(flags >> 8)
	full[3] = byte(flags)
	copy(full[4:], payload)
	return Box(fourcc, full)
}

func putU16(buf *bytes.Buffer, v uint16) {
	var tmp [2]byte
	binary.BigEndian.PutUint16(tmp[:], v)
	buf.Write(tmp[:])
}

func putU32(buf *bytes.Buffer, v uint32) {
	var tmp [4]byte
	binary.BigEndian.PutUint32(tmp[:], v)
	buf.Write(tmp[:])
}
