package capture

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// SanitizeNetworkName turns a camera network name into a filesystem-safe
// folder name. Empty or fully-stripped names fall back to "camera".
func SanitizeNetworkName(name string) string {
	var b strings.Builder
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '-' || r == '_' || r == '.':
			b.WriteRune(r)
		case r == ' ':
			b.WriteByte('_')
		}
	}
	out := strings.Trim(b.String(), "._")
	if out == "" {
		return "camera"
	}
	return out
}

// photoPath builds the destination for a photo under the media root,
// segregated per network name.
func photoPath(root, networkName string) (string, error) {
	dir := filepath.Join(root, "images", SanitizeNetworkName(networkName))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	name := fmt.Sprintf("IMG_%s.jpg", time.Now().Format("20060102_150405"))
	return filepath.Join(dir, name), nil
}

// videoPath builds the destination for a finished recording.
func videoPath(root, networkName string) (string, error) {
	dir := filepath.Join(root, "videos", SanitizeNetworkName(networkName))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	name := fmt.Sprintf("VID_%s.mp4", time.Now().Format("20060102_150405"))
	return filepath.Join(dir, name), nil
}

// moveFile renames src to dst, falling back to copy+remove across
// filesystems.
func moveFile(src, dst string) error {
	if err := os.Rename(src, dst); err == nil {
		return nil
	}
	data, err := os.ReadFile(src)
	if err != nil {
		return err
	}
	if err := os.WriteFile(dst, data, 0o644); err != nil {
		return err
	}
	return os.Remove(src)
}
