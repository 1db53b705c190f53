package h264

import (
	"errors"
	"fmt"

	"github.com/mkoba/scopecam/internal/bits"
)

// ErrNotIDR is returned when a slice rewrite is attempted on a non-IDR NAL.
var ErrNotIDR = errors.New("h264: not an IDR slice")

// RewriteSliceIdentifiers re-encodes the parameter-set and ordering fields
// of an encoder-produced IDR slice so it can sit in front of the camera's
// stream without forcing a decoder reconfiguration: the PPS id is remapped
// to ppsID, and frame_num / pic_order_cnt_lsb are re-emitted with the field
// widths of the camera SPS instead of the encoder SPS. Everything after the
// rewritten header fields is copied bit-exact.
func RewriteSliceIdentifiers(idr []byte, from, to SPS, ppsID uint) ([]byte, error) {
	if NALType(idr) != 5 {
		return nil, ErrNotIDR
	}
	rbsp := bits.RemoveEmulationPrevention(idr[1:])
	r := bits.NewReader(rbsp)
	w := bits.NewWriter()

	firstMB, err := r.ReadUE()
	if err != nil {
		return nil, fmt.Errorf("h264: rewrite slice: %w", err)
	}
	sliceType, err := r.ReadUE()
	if err != nil {
		return nil, fmt.Errorf("h264: rewrite slice: %w", err)
	}
	if _, err := r.ReadUE(); err != nil { // original pic_parameter_set_id
		return nil, fmt.Errorf("h264: rewrite slice: %w", err)
	}
	frameNum, err := r.ReadBits(from.FrameNumBits)
	if err != nil {
		return nil, fmt.Errorf("h264: rewrite slice: %w", err)
	}
	idrPicID, err := r.ReadUE()
	if err != nil {
		return nil, fmt.Errorf("h264: rewrite slice: %w", err)
	}
	var pocLsb uint
	if from.PicOrderCntType == 0 {
		if pocLsb, err = r.ReadBits(from.PicOrderCntLsbBits); err != nil {
			return nil, fmt.Errorf("h264: rewrite slice: %w", err)
		}
	}

	w.WriteUE(firstMB)
	w.WriteUE(sliceType)
	w.WriteUE(ppsID)
	w.WriteBits(frameNum&(1<<uint(to.FrameNumBits)-1), to.FrameNumBits)
	w.WriteUE(idrPicID)
	if to.PicOrderCntType == 0 {
		w.WriteBits(pocLsb&(1<<uint(to.PicOrderCntLsbBits)-1), to.PicOrderCntLsbBits)
	}

	// Copy the remainder of the slice verbatim. The shift in header length
	// moves the byte alignment, so this has to go bit by bit.
	total := len(rbsp) * 8
	for off := r.BitOffset(); off < total; off++ {
		b, err := r.ReadBit()
		if err != nil {
			return nil, fmt.Errorf("h264: rewrite slice: %w", err)
		}
		w.WriteBit(b)
	}
	w.AlignZero()

	out := make([]byte, 0, len(idr)+2)
	out = append(out, idr[0])
	out = append(out, bits.InsertEmulationPrevention(w.Bytes())...)
	return out, nil
}
