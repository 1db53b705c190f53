package h264

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mkoba/scopecam/internal/bits"
)

// writeSPS emits a Main-profile SPS with POC type 0 and optional cropping.
func writeSPS(t *testing.T, id uint, frameNumBits, pocLsbBits int, mbW, mbH int, cropRight, cropBottom uint) []byte {
	t.Helper()
	w := bits.NewWriter()
	w.WriteBits(77, 8) // profile_idc: Main
	w.WriteBits(0x40, 8)
	w.WriteBits(31, 8) // level_idc 3.1
	w.WriteUE(id)
	w.WriteUE(uint(frameNumBits - 4))
	w.WriteUE(0) // pic_order_cnt_type
	w.WriteUE(uint(pocLsbBits - 4))
	w.WriteUE(1)  // max_num_ref_frames
	w.WriteBit(0) // gaps_in_frame_num_value_allowed_flag
	w.WriteUE(uint(mbW - 1))
	w.WriteUE(uint(mbH - 1))
	w.WriteBit(1) // frame_mbs_only_flag
	w.WriteBit(1) // direct_8x8_inference_flag
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
	return append([]byte{0x67}, bits.InsertEmulationPrevention(w.Bytes())...)
}

func TestParseSPS(t *testing.T) {
	nalu := writeSPS(t, 0, 6, 8, 80, 45, 0, 0)
	sps, err := ParseSPS(nalu)
	require.NoError(t, err)
	assert.Equal(t, uint(0), sps.ID)
	assert.Equal(t, uint(77), sps.ProfileIdc)
	assert.Equal(t, uint(31), sps.LevelIdc)
	assert.Equal(t, 6, sps.FrameNumBits)
	assert.Equal(t, uint(0), sps.PicOrderCntType)
	assert.Equal(t, 8, sps.PicOrderCntLsbBits)
	assert.Equal(t, 1280, sps.Width)
	assert.Equal(t, 720, sps.Height)
}

func TestParseSPSWithCropping(t *testing.T) {
	// 1920x1080: 68 map units tall, 8 luma rows cropped at the bottom
	nalu := writeSPS(t, 2, 4, 4, 120, 68, 0, 4)
	sps, err := ParseSPS(nalu)
	require.NoError(t, err)
	assert.Equal(t, uint(2), sps.ID)
	assert.Equal(t, 1920, sps.Width)
	assert.Equal(t, 1080, sps.Height)
}

func TestParseSPSHighProfile(t *testing.T) {
	w := bits.NewWriter()
	w.WriteBits(100, 8) // profile_idc: High
	w.WriteBits(0x00, 8)
	w.WriteBits(40, 8)
	w.WriteUE(0)
	w.WriteUE(1)  // chroma_format_idc
	w.WriteUE(0)  // bit_depth_luma_minus8
	w.WriteUE(0)  // bit_depth_chroma_minus8
	w.WriteBit(0) // qpprime_y_zero_transform_bypass_flag
	w.WriteBit(0) // seq_scaling_matrix_present_flag
	w.WriteUE(2)  // log2_max_frame_num_minus4
	w.WriteUE(2)  // pic_order_cnt_type
	w.WriteUE(3)
	w.WriteBit(0)
	w.WriteUE(39) // 640 wide
	w.WriteUE(29) // 480 tall
	w.WriteBit(1)
	w.WriteBit(1)
	w.WriteBit(0) // no cropping
	w.WriteBit(0) // no VUI
	w.WriteTrailingBits()
	nalu := append([]byte{0x67}, bits.InsertEmulationPrevention(w.Bytes())...)

	sps, err := ParseSPS(nalu)
	require.NoError(t, err)
	assert.Equal(t, uint(100), sps.ProfileIdc)
	assert.Equal(t, 8, sps.FrameNumBits)
	assert.Equal(t, uint(2), sps.PicOrderCntType)
	assert.Equal(t, 640, sps.Width)
	assert.Equal(t, 480, sps.Height)
}

func TestParseSPSWrongType(t *testing.T) {
	_, err := ParseSPS([]byte{0x68, 0x00})
	assert.ErrorIs(t, err, ErrNotSPS)
}

func TestParsePPS(t *testing.T) {
	w := bits.NewWriter()
	w.WriteUE(3)  // pps id
	w.WriteUE(1)  // sps id
	w.WriteBit(1) // CABAC
	w.WriteBit(0)
	w.WriteUE(0)
	w.WriteTrailingBits()
	nalu := append([]byte{0x68}, bits.InsertEmulationPrevention(w.Bytes())...)

	pps, err := ParsePPS(nalu)
	require.NoError(t, err)
	assert.Equal(t, uint(3), pps.ID)
	assert.Equal(t, uint(1), pps.SPSID)
	assert.True(t, pps.EntropyCABAC)
}

func TestParsePPSWrongType(t *testing.T) {
	_, err := ParsePPS([]byte{0x67, 0x00})
	assert.ErrorIs(t, err, ErrNotPPS)
}
