package utils

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"io"
	"path/filepath"

	"github.com/spf13/afero"
)

// FileOperations provides filesystem utilities over an afero.Fs so tests
// can run against an in-memory filesystem.
type FileOperations struct {
	fs afero.Fs
}

// NewFileOperations creates a FileOperations backed by the given fs.
func NewFileOperations(fs afero.Fs) *FileOperations {
	return &FileOperations{fs: fs}
}

// EnsureDir creates the parent directory of path if it doesn't exist.
func (f *FileOperations) EnsureDir(path string) error {
	return f.fs.MkdirAll(filepath.Dir(path), 0755)
}

// FileExists checks if a file exists.
func (f *FileOperations) FileExists(path string) bool {
	ok, err := afero.Exists(f.fs, path)
	return err == nil && ok
}

// FileSize returns the size of a file.
func (f *FileOperations) FileSize(path string) (int64, error) {
	info, err := f.fs.Stat(path)
	if err != nil {
		return 0, err
	}
	return info.Size(), nil
}

// AtomicRename publishes a temp file at its final path.
func (f *FileOperations) AtomicRename(oldPath, newPath string) error {
	return f.fs.Rename(oldPath, newPath)
}

// WriteAtomic writes data to path via a temp file in the same directory
// followed by a rename, so readers never observe a partial write.
func (f *FileOperations) WriteAtomic(path string, data []byte) error {
	if err := f.EnsureDir(path); err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := afero.WriteFile(f.fs, tmp, data, 0644); err != nil {
		return err
	}
	if err := f.fs.Rename(tmp, path); err != nil {
		f.fs.Remove(tmp)
		return err
	}
	return nil
}

// MD5File returns the hex md5 digest of a file's contents.
func (f *FileOperations) MD5File(path string) (string, error) {
	file, err := f.fs.Open(path)
	if err != nil {
		return "", err
	}
	defer file.Close()

	h := md5.New()
	if _, err := io.Copy(h, file); err != nil {
		return "", fmt.Errorf("failed to hash %s: %w", path, err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
