package downloader

import (
	"encoding/json"

	"github.com/spf13/afero"

	"e6grab/internal"
	"e6grab/utils"
)

// SidecarWriter persists post metadata next to each downloaded media file.
// The sidecar is written only after the media bytes are durably in place,
// via temp-then-rename, so a crash can never leave a sidecar pointing at a
// missing or truncated file. Readers treat a file without a sidecar as
// untrusted.
type SidecarWriter struct {
	fs  afero.Fs
	ops *utils.FileOperations
}

// NewSidecarWriter creates a sidecar writer on the given filesystem.
func NewSidecarWriter(fs afero.Fs) *SidecarWriter {
	return &SidecarWriter{fs: fs, ops: utils.NewFileOperations(fs)}
}

// SidecarPath returns the sidecar location for a media file: the media
// filename with a .json suffix appended (123.png -> 123.png.json).
func SidecarPath(mediaPath string) string {
	return mediaPath + ".json"
}

// Write persists the sidecar for a media file, overwriting idempotently.
func (w *SidecarWriter) Write(path string, post internal.Post) error {
	meta := internal.MetadataFromPost(post)
	data, err := json.MarshalIndent(&meta, "", "  ")
	if err != nil {
		return err
	}
	return w.ops.WriteAtomic(SidecarPath(path), data)
}

// Read loads the sidecar for a media file, if present.
func (w *SidecarWriter) Read(path string) (*internal.MediaMetadata, error) {
	data, err := afero.ReadFile(w.fs, SidecarPath(path))
	if err != nil {
		return nil, err
	}
	var meta internal.MediaMetadata
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, err
	}
	return &meta, nil
}
