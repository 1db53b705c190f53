package h264

import (
	"errors"
	"fmt"

	"github.com/mkoba/scopecam/internal/bits"
)

var (
	// ErrNotSPS is returned when the NAL unit is not a sequence parameter set.
	ErrNotSPS = errors.New("h264: not an SPS NAL unit")
	// ErrNotPPS is returned when the NAL unit is not a picture parameter set.
	ErrNotPPS = errors.New("h264: not a PPS NAL unit")
)

// SPS holds the sequence-parameter-set fields the pipeline actually needs.
// Scaling lists and VUI are skip-consumed during parsing, never decoded.
type SPS struct {
	ID                 uint
	ProfileIdc         uint
	LevelIdc           uint
	FrameNumBits       int // log2_max_frame_num_minus4 + 4
	PicOrderCntType    uint
	PicOrderCntLsbBits int // log2_max_pic_order_cnt_lsb_minus4 + 4, POC type 0 only
	Width              int
	Height             int
}

// PPS holds the picture-parameter-set fields the pipeline actually needs.
type PPS struct {
	ID           uint
	SPSID        uint
	EntropyCABAC bool // entropy_coding_mode_flag: CABAC when set, CAVLC otherwise
}

// profiles with the extended chroma/bit-depth/scaling block in the SPS
func hasChromaInfo(profileIdc uint) bool {
	switch profileIdc {
	case 100, 110, 122, 244, 44, 83, 86, 118, 128, 138, 139, 134:
		return true
	}
	return false
}

// ParseSPS parses a start-code-free SPS NAL unit (emulation prevention is
// removed internally).
func ParseSPS(nalu []byte) (SPS, error) {
	var s SPS
	if NALType(nalu) != 7 {
		return s, ErrNotSPS
	}
	rbsp := bits.RemoveEmulationPrevention(nalu[1:])
	r := bits.NewReader(rbsp)

	profile, err := r.ReadBits(8)
	if err != nil {
		return s, fmt.Errorf("h264: parse SPS: %w", err)
	}
	s.ProfileIdc = profile
	if err := r.SkipBits(8); err != nil { // constraint flags + reserved
		return s, fmt.Errorf("h264: parse SPS: %w", err)
	}
	level, err := r.ReadBits(8)
	if err != nil {
		return s, fmt.Errorf("h264: parse SPS: %w", err)
	}
	s.LevelIdc = level
	if s.ID, err = r.ReadUE(); err != nil {
		return s, fmt.Errorf("h264: parse SPS: %w", err)
	}

	chromaFormatIdc := uint(1)
	if hasChromaInfo(s.ProfileIdc) {
		if chromaFormatIdc, err = r.ReadUE(); err != nil {
			return s, fmt.Errorf("h264: parse SPS: %w", err)
		}
		if chromaFormatIdc == 3 {
			if err := r.SkipBits(1); err != nil { // separate_colour_plane_flag
				return s, fmt.Errorf("h264: parse SPS: %w", err)
			}
		}
		if err := r.SkipUE(); err != nil { // bit_depth_luma_minus8
			return s, fmt.Errorf("h264: parse SPS: %w", err)
		}
		if err := r.SkipUE(); err != nil { // bit_depth_chroma_minus8
			return s, fmt.Errorf("h264: parse SPS: %w", err)
		}
		if err := r.SkipBits(1); err != nil { // qpprime_y_zero_transform_bypass_flag
			return s, fmt.Errorf("h264: parse SPS: %w", err)
		}
		if err := skipScalingMatrix(r, chromaFormatIdc); err != nil {
			return s, fmt.Errorf("h264: parse SPS: %w", err)
		}
	}

	log2MaxFrameNum, err := r.ReadUE()
	if err != nil {
		return s, fmt.Errorf("h264: parse SPS: %w", err)
	}
	s.FrameNumBits = int(log2MaxFrameNum) + 4

	if s.PicOrderCntType, err = r.ReadUE(); err != nil {
		return s, fmt.Errorf("h264: parse SPS: %w", err)
	}
	switch s.PicOrderCntType {
	case 0:
		log2MaxPocLsb, err := r.ReadUE()
		if err != nil {
			return s, fmt.Errorf("h264: parse SPS: %w", err)
		}
		s.PicOrderCntLsbBits = int(log2MaxPocLsb) + 4
	case 1:
		if err := r.SkipBits(1); err != nil { // delta_pic_order_always_zero_flag
			return s, fmt.Errorf("h264: parse SPS: %w", err)
		}
		if err := r.SkipSE(); err != nil { // offset_for_non_ref_pic
			return s, fmt.Errorf("h264: parse SPS: %w", err)
		}
		if err := r.SkipSE(); err != nil { // offset_for_top_to_bottom_field
			return s, fmt.Errorf("h264: parse SPS: %w", err)
		}
		numRefFrames, err := r.ReadUE()
		if err != nil {
			return s, fmt.Errorf("h264: parse SPS: %w", err)
		}
		for i := uint(0); i < numRefFrames; i++ {
			if err := r.SkipSE(); err != nil {
				return s, fmt.Errorf("h264: parse SPS: %w", err)
			}
		}
	}

	if err := r.SkipUE(); err != nil { // max_num_ref_frames
		return s, fmt.Errorf("h264: parse SPS: %w", err)
	}
	if err := r.SkipBits(1); err != nil { // gaps_in_frame_num_value_allowed_flag
		return s, fmt.Errorf("h264: parse SPS: %w", err)
	}

	mbWidth, err := r.ReadUE()
	if err != nil {
		return s, fmt.Errorf("h264: parse SPS: %w", err)
	}
	mbWidth++
	mbHeightMapUnits, err := r.ReadUE()
	if err != nil {
		return s, fmt.Errorf("h264: parse SPS: %w", err)
	}
	mbHeightMapUnits++

	frameMbsOnly, err := r.ReadBit()
	if err != nil {
		return s, fmt.Errorf("h264: parse SPS: %w", err)
	}
	if frameMbsOnly == 0 {
		if err := r.SkipBits(1); err != nil { // mb_adaptive_frame_field_flag
			return s, fmt.Errorf("h264: parse SPS: %w", err)
		}
	}
	if err := r.SkipBits(1); err != nil { // direct_8x8_inference_flag
		return s, fmt.Errorf("h264: parse SPS: %w", err)
	}

	var cropLeft, cropRight, cropTop, cropBottom uint
	cropping, err := r.ReadBit()
	if err != nil {
		return s, fmt.Errorf("h264: parse SPS: %w", err)
	}
	if cropping != 0 {
		if cropLeft, err = r.ReadUE(); err != nil {
			return s, fmt.Errorf("h264: parse SPS: %w", err)
		}
		if cropRight, err = r.ReadUE(); err != nil {
			return s, fmt.Errorf("h264: parse SPS: %w", err)
		}
		if cropTop, err = r.ReadUE(); err != nil {
			return s, fmt.Errorf("h264: parse SPS: %w", err)
		}
		if cropBottom, err = r.ReadUE(); err != nil {
			return s, fmt.Errorf("h264: parse SPS: %w", err)
		}
	}

	// Crop units depend on the chroma format and field coding.
	cropUnitX := uint(1)
	cropUnitY := 2 - frameMbsOnly
	switch chromaFormatIdc {
	case 1:
		cropUnitX = 2
		cropUnitY = 2 * (2 - frameMbsOnly)
	case 2:
		cropUnitX = 2
		cropUnitY = 2 - frameMbsOnly
	}

	s.Width = int(mbWidth*16 - cropUnitX*(cropLeft+cropRight))
	s.Height = int((2-frameMbsOnly)*mbHeightMapUnits*16 - cropUnitY*(cropTop+cropBottom))

	// VUI follows here; nothing downstream needs it.
	return s, nil
}

func skipScalingMatrix(r *bits.Reader, chromaFormatIdc uint) error {
	present, err := r.ReadBit()
	if err != nil {
		return err
	}
	if present == 0 {
		return nil
	}
	count := 8
	if chromaFormatIdc == 3 {
		count = 12
	}
	for i := 0; i < count; i++ {
		listPresent, err := r.ReadBit()
		if err != nil {
			return err
		}
		if listPresent == 0 {
			continue
		}
		size := 16
		if i >= 6 {
			size = 64
		}
		last, next := 8, 8
		for j := 0; j < size; j++ {
			if next != 0 {
				delta, err := r.ReadSE()
				if err != nil {
					return err
				}
				next = (last + delta + 256) % 256
			}
			if next != 0 {
				last = next
			}
		}
	}
	return nil
}

// ParsePPS parses a start-code-free PPS NAL unit.
func ParsePPS(nalu []byte) (PPS, error) {
	var p PPS
	if NALType(nalu) != 8 {
		return p, ErrNotPPS
	}
	rbsp := bits.RemoveEmulationPrevention(nalu[1:])
	r := bits.NewReader(rbsp)

	var err error
	if p.ID, err = r.ReadUE(); err != nil {
		return p, fmt.Errorf("h264: parse PPS: %w", err)
	}
	if p.SPSID, err = r.ReadUE(); err != nil {
		return p, fmt.Errorf("h264: parse PPS: %w", err)
	}
	entropy, err := r.ReadBit()
	if err != nil {
		return p, fmt.Errorf("h264: parse PPS: %w", err)
	}
	p.EntropyCABAC = entropy != 0
	return p, nil
}
