package h264

import (
	"errors"

	"github.com/mkoba/scopecam/internal/bits"
)

// ErrBadDimensions is returned for zero or negative frame dimensions.
var ErrBadDimensions = errors.New("h264: invalid frame dimensions")

// SyntheticFrame is a self-contained CAVLC IDR keyframe plus the auxiliary
// parameter sets it is coded against. It gives decoders that refuse to
// cold-start on a non-compliant first sample a genuine sync point, on
// devices without a second hardware codec.
type SyntheticFrame struct {
	SPS []byte // auxiliary SPS NAL unit
	PPS []byte // auxiliary PPS NAL unit
	IDR []byte // IDR slice NAL unit (uniform gray frame)
}

// SyntheticIDR builds a minimal solid-gray IDR frame of the given size:
// every macroblock is I_16x16 with DC prediction and zero residual, so the
// whole frame decodes to the DC default (mid gray). The auxiliary SPS/PPS
// use the given ids so they can coexist with the camera's parameter sets
// without colliding.
func SyntheticIDR(width, height int, spsID, ppsID uint) (*SyntheticFrame, error) {
	if width <= 0 || height <= 0 {
		return nil, ErrBadDimensions
	}
	mbW := (width + 15) / 16
	mbH := (height + 15) / 16

	sps := buildAuxSPS(mbW, mbH, width, height, spsID)
	pps := buildAuxPPS(ppsID, spsID)
	idr := buildGrayIDR(mbW*mbH, ppsID)

	return &SyntheticFrame{SPS: sps, PPS: pps, IDR: idr}, nil
}

// buildAuxSPS emits a Baseline SPS with pic_order_cnt_type 2 (no POC LSB in
// slice headers) and a 4-bit frame_num.
func buildAuxSPS(mbW, mbH, width, height int, spsID uint) []byte {
	w := bits.NewWriter()
	w.WriteBits(66, 8)   // profile_idc: Baseline
	w.WriteBits(0xC0, 8) // constraint_set0/1, reserved zero
	w.WriteBits(30, 8)   // level_idc 3.0
	w.WriteUE(spsID)
	w.WriteUE(0)               // log2_max_frame_num_minus4
	w.WriteUE(2)               // pic_order_cnt_type: 2, order follows decode order
	w.WriteUE(1)               // max_num_ref_frames
	w.WriteBit(0)              // gaps_in_frame_num_value_allowed_flag
	w.WriteUE(uint(mbW - 1))   // pic_width_in_mbs_minus1
	w.WriteUE(uint(mbH - 1))   // pic_height_in_map_units_minus1
	w.WriteBit(1)              // frame_mbs_only_flag
	w.WriteBit(1)              // direct_8x8_inference_flag
	cropRight := uint(mbW*16-width) / 2
	cropBottom := uint(mbH*16-height) / 2
	if cropRight > 0 || cropBottom > 0 {
		w.WriteBit(1)
		w.WriteUE(0)
		w.WriteUE(cropRight)
		w.WriteUE(0)
		w.WriteUE(cropBottom)
	} else {
		w.WriteBit(0)
	}
	w.WriteBit(0) // vui_parameters_present_flag
	w.WriteTrailingBits()

	out := []byte{0x67} // nal_ref_idc 3, type 7
	return append(out, bits.InsertEmulationPrevention(w.Bytes())...)
}

// buildAuxPPS emits a CAVLC PPS with every optional control disabled.
func buildAuxPPS(ppsID, spsID uint) []byte {
	w := bits.NewWriter()
	w.WriteUE(ppsID)
	w.WriteUE(spsID)
	w.WriteBit(0)    // entropy_coding_mode_flag: CAVLC
	w.WriteBit(0)    // bottom_field_pic_order_in_frame_present_flag
	w.WriteUE(0)     // num_slice_groups_minus1
	w.WriteUE(0)     // num_ref_idx_l0_default_active_minus1
	w.WriteUE(0)     // num_ref_idx_l1_default_active_minus1
	w.WriteBit(0)    // weighted_pred_flag
	w.WriteBits(0, 2) // weighted_bipred_idc
	w.WriteSE(0)     // pic_init_qp_minus26
	w.WriteSE(0)     // pic_init_qs_minus26
	w.WriteSE(0)     // chroma_qp_index_offset
	w.WriteBit(0)    // deblocking_filter_control_present_flag
	w.WriteBit(0)    // constrained_intra_pred_flag
	w.WriteBit(0)    // redundant_pic_cnt_present_flag
	w.WriteTrailingBits()

	out := []byte{0x68} // nal_ref_idc 3, type 8
	return append(out, bits.InsertEmulationPrevention(w.Bytes())...)
}

// buildGrayIDR emits one I slice covering mbCount macroblocks. Each
// macroblock is mb_type I_16x16_2_0_0 (DC luma prediction, no coded
// blocks), DC chroma prediction, zero qp delta, and an empty luma DC
// coefficient block.
func buildGrayIDR(mbCount int, ppsID uint) []byte {
	w := bits.NewWriter()
	// slice header
	w.WriteUE(0) // first_mb_in_slice
	w.WriteUE(7) // slice_type: I, all slices in picture
	w.WriteUE(ppsID)
	w.WriteBits(0, 4) // frame_num, aux SPS uses 4 bits
	w.WriteUE(0)      // idr_pic_id
	// aux SPS POC type 2: no pic_order_cnt_lsb
	w.WriteBit(0) // no_output_of_prior_pics_flag
	w.WriteBit(0) // long_term_reference_flag
	w.WriteSE(0)  // slice_qp_delta

	// macroblock layer, repeated per MB
	for i := 0; i < mbCount; i++ {
		w.WriteUE(3)  // mb_type: I_16x16_2_0_0
		w.WriteUE(0)  // intra_chroma_pred_mode: DC
		w.WriteSE(0)  // mb_qp_delta
		w.WriteBit(1) // luma DC coeff_token: TotalCoeff 0 (nC < 2)
	}
	w.WriteTrailingBits()

	out := []byte{0x65} // nal_ref_idc 3, type 5 (IDR)
	return append(out, bits.InsertEmulationPrevention(w.Bytes())...)
}
