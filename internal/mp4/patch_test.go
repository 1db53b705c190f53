package mp4

import (
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func finalizedFile(t *testing.T) string {
	t.Helper()
	m := newTestMuxer(t)
	require.NoError(t, m.WriteSample(AVCCSample([][]byte{{0x65, 0x88}}), 3000, true))
	require.NoError(t, m.Finalize())
	return m.Path()
}

func TestEmbedCoverArt(t *testing.T) {
	path := finalizedFile(t)
	before, err := os.ReadFile(path)
	require.NoError(t, err)
	_, moovBefore, err := findTopLevelBox(before, "moov")
	require.NoError(t, err)

	jpeg := []byte{0xFF, 0xD8, 0xFF, 0xE0, 0x00, 0x10, 0xFF, 0xD9}
	require.NoError(t, EmbedCoverArt(path, jpeg))

	after, err := os.ReadFile(path)
	require.NoError(t, err)

	// moov grew by exactly the metadata subtree and still parses
	moovOff, moovAfter, err := findTopLevelBox(after, "moov")
	require.NoError(t, err)
	subtree := coverArtBox(jpeg)
	assert.Equal(t, moovBefore+uint64(len(subtree)), moovAfter)
	assert.Equal(t, []string{"ftyp", "mdat", "moov"}, collectBoxes(t, after))

	// subtree is the last child of moov
	moovEnd := moovOff + int(moovAfter)
	assert.Equal(t, subtree, after[moovEnd-len(subtree):moovEnd])

	// the JPEG payload sits inside covr/data
	idx := findBytes(after, []byte("covr"))
	require.GreaterOrEqual(t, idx, 0)
	assert.GreaterOrEqual(t, findBytes(after[idx:], jpeg), 0)
}

func TestEmbedCoverArtTwice(t *testing.T) {
	path := finalizedFile(t)
	jpeg := []byte{0xFF, 0xD8, 0xFF, 0xD9}
	require.NoError(t, EmbedCoverArt(path, jpeg))
	require.NoError(t, EmbedCoverArt(path, jpeg))
	after, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"ftyp", "mdat", "moov"}, collectBoxes(t, after))
}

func TestEmbedCoverArtNoMoov(t *testing.T) {
	path := filepath.Join(t.TempDir(), "no-moov.mp4")
	blob := Concat(Box("ftyp", []byte("isom0000")), Box("mdat", []byte{1, 2, 3}))
	require.NoError(t, os.WriteFile(path, blob, 0o644))
	assert.ErrorIs(t, EmbedCoverArt(path, []byte{0xFF, 0xD8}), ErrNoMoov)
}

func TestFindTopLevelBoxSizeEscapes(t *testing.T) {
	// 64-bit size escape on a leading box, plain moov after it
	big := make([]byte, 24)
	binary.BigEndian.PutUint32(big[:4], 1)
	copy(big[4:8], "free")
	binary.BigEndian.PutUint64(big[8:16], 24)
	moov := Box("moov", []byte{0, 0, 0, 0})
	blob := append(big, moov...)

	off, size, err := findTopLevelBox(blob, "moov")
	require.NoError(t, err)
	assert.Equal(t, 24, off)
	assert.Equal(t, uint64(12), size)
}

func TestFindTopLevelBoxToEOF(t *testing.T) {
	// moov itself flagged size==0 (extends to EOF) cannot be patched
	moov := make([]byte, 16)
	binary.BigEndian.PutUint32(moov[:4], 0)
	copy(moov[4:8], "moov")
	blob := append(Box("ftyp", nil), moov...)

	_, _, err := findTopLevelBox(blob, "moov")
	assert.ErrorIs(t, err, ErrPatchUnsupported)
}

func TestFindTopLevelBoxCorrupt(t *testing.T) {
	blob := []byte{0, 0, 0, 2, 'm', 'o', 'o', 'v'} // size 2 < 8
	_, _, err := findTopLevelBox(blob, "moov")
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrNoMoov)
}
