package capture

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSanitizeNetworkName(t *testing.T) {
	cases := map[string]string{
		"YPC-1234":        "YPC-1234",
		"My Camera":       "My_Camera",
		"cam/../../etc":   "cam....etc",
		"..":              "camera",
		"":                "camera",
		"日本語のみ":           "camera",
		"scope_2.4G #1":   "scope_2.4G_1",
		"  spaced  name ": "spaced__name",
	}
	for in, want := range cases {
		assert.Equal(t, want, SanitizeNetworkName(in), "input %q", in)
	}
}

func TestSanitizeNetworkNameNoSeparators(t *testing.T) {
	out := SanitizeNetworkName("../..//evil")
	assert.False(t, strings.ContainsAny(out, "/\\"))
}

func TestPhotoAndVideoPaths(t *testing.T) {
	root := t.TempDir()

	p, err := photoPath(root, "My Cam")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(root, "images", "My_Cam"), filepath.Dir(p))
	assert.True(t, strings.HasPrefix(filepath.Base(p), "IMG_"))
	assert.True(t, strings.HasSuffix(p, ".jpg"))

	v, err := videoPath(root, "My Cam")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(root, "videos", "My_Cam"), filepath.Dir(v))
	assert.True(t, strings.HasSuffix(v, ".mp4"))

	info, err := os.Stat(filepath.Dir(p))
	require.NoError(t, err)
	assert.True(t, info.IsDir())
}

func TestMoveFile(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "src.mp4")
	dst := filepath.Join(dir, "dst.mp4")
	require.NoError(t, os.WriteFile(src, []byte("payload"), 0o644))

	require.NoError(t, moveFile(src, dst))
	data, err := os.ReadFile(dst)
	require.NoError(t, err)
	assert.Equal(t, []byte("payload"), data)
	_, err = os.Stat(src)
	assert.True(t, os.IsNotExist(err))
}
