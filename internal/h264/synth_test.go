package h264

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSyntheticIDRParameterSets(t *testing.T) {
	frame, err := SyntheticIDR(1280, 720, 1, 1)
	require.NoError(t, err)

	sps, err := ParseSPS(frame.SPS)
	require.NoError(t, err)
	assert.Equal(t, uint(1), sps.ID)
	assert.Equal(t, uint(66), sps.ProfileIdc)
	assert.Equal(t, 1280, sps.Width)
	assert.Equal(t, 720, sps.Height)
	assert.Equal(t, 4, sps.FrameNumBits)
	assert.Equal(t, uint(2), sps.PicOrderCntType)

	pps, err := ParsePPS(frame.PPS)
	require.NoError(t, err)
	assert.Equal(t, uint(1), pps.ID)
	assert.Equal(t, uint(1), pps.SPSID)
	assert.False(t, pps.EntropyCABAC)

	assert.Equal(t, uint8(5), NALType(frame.IDR))
	assert.Equal(t, uint8(3), NALRefIdc(frame.IDR))
}

func TestSyntheticIDRNonMacroblockAligned(t *testing.T) {
	frame, err := SyntheticIDR(1912, 1078, 0, 0)
	require.NoError(t, err)

	sps, err := ParseSPS(frame.SPS)
	require.NoError(t, err)
	assert.Equal(t, 1912, sps.Width)
	assert.Equal(t, 1078, sps.Height)
}

func TestSyntheticIDRSizeScalesWithArea(t *testing.T) {
	small, err := SyntheticIDR(320, 240, 0, 0)
	require.NoError(t, err)
	large, err := SyntheticIDR(1920, 1080, 0, 0)
	require.NoError(t, err)
	assert.Greater(t, len(large.IDR), len(small.IDR))
}

func TestSyntheticIDRBadDimensions(t *testing.T) {
	_, err := SyntheticIDR(0, 720, 0, 0)
	assert.ErrorIs(t, err, ErrBadDimensions)
	_, err = SyntheticIDR(1280, -1, 0, 0)
	assert.ErrorIs(t, err, ErrBadDimensions)
}
