package mp4

import (
	"encoding/binary"
	"errors"
	"fmt"
	"os"
)

var (
	// ErrNoMoov is returned when the file has no top-level moov box.
	ErrNoMoov = errors.New("mp4: moov box not found")
	// ErrPatchUnsupported is returned when the moov uses a size encoding
	// the patcher cannot grow in place.
	ErrPatchUnsupported = errors.New("mp4: moov size encoding not patchable")
)

// coverArtBox builds the metadata subtree carrying a JPEG thumbnail:
// udta → meta(hdlr) → ilst → covr → data.
func coverArtBox(jpeg []byte) []byte {
	data := make([]byte, 8+len(jpeg))
	binary.BigEndian.PutUint32(data[:4], 13) // type: JPEG
	// 4 bytes locale, zero
	copy(data[8:], jpeg)
	covr := Box("covr", Box("data", data))
	ilst := Box("ilst", covr)

	hdlr := make([]byte, 24)
	copy(hdlr[8:12], "mdir")
	copy(hdlr[12:16], "appl")
	meta := FullBox("meta", 0, 0, Concat(Box("hdlr", hdlr), ilst))
	return Box("udta", meta)
}

// EmbedCoverArt attaches a JPEG thumbnail to a finalized container by
// direct binary patch: the top-level moov box is located by a linear
// header scan, its length grown by the metadata subtree, and the subtree
// appended as its last child. The file is rewritten in place; no re-mux.
func EmbedCoverArt(path string, jpeg []byte) error {
	blob, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("mp4: read container: %w", err)
	}

	moovOff, moovSize, err := findTopLevelBox(blob, "moov")
	if err != nil {
		return err
	}

	subtree := coverArtBox(jpeg)
	newSize := moovSize + uint64(len(subtree))
	if newSize > 0xFFFFFFFF {
		return ErrPatchUnsupported
	}
	binary.BigEndian.PutUint32(blob[moovOff:moovOff+4], uint32(newSize))

	end := moovOff + int(moovSize)
	out := make([]byte, 0, len(blob)+len(subtree))
	out = append(out, blob[:end]...)
	out = append(out, subtree...)
	out = append(out, blob[end:]...)

	if err := os.WriteFile(path, out, 0o644); err != nil {
		return fmt.Errorf("mp4: rewrite container: %w", err)
	}
	return nil
}

// findTopLevelBox scans top-level box headers for fourcc, handling the
// 64-bit extended-size escape (size==1) and the size-extends-to-EOF escape
// (size==0). Only a box with a plain 32-bit size can be patched in place.
func findTopLevelBox(blob []byte, fourcc string) (offset int, size uint64, err error) {
	off := 0
	for off+8 <= len(blob) {
		size32 := binary.BigEndian.Uint32(blob[off : off+4])
		typ := string(blob[off+4 : off+8])
		var boxSize uint64
		switch size32 {
		case 0:
			// box extends to end of file
			boxSize = uint64(len(blob) - off)
		case 1:
			if off+16 > len(blob) {
				return 0, 0, fmt.Errorf("mp4: truncated 64-bit box header at %d", off)
			}
			boxSize = binary.BigEndian.Uint64(blob[off+8 : off+16])
		default:
			boxSize = uint64(size32)
		}
		if boxSize < 8 || uint64(off)+boxSize > uint64(len(blob)) {
			return 0, 0, fmt.Errorf("mp4: corrupt box %q at %d (size %d)", typ, off, boxSize)
		}
		if typ == fourcc {
			if size32 == 0 || size32 == 1 {
				return 0, 0, ErrPatchUnsupported
			}
			return off, boxSize, nil
		}
		off += int(boxSize)
	}
	return 0, 0, ErrNoMoov
}
