package fsutil

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

var volumeExts = map[string]struct{}{
	".mha":  {},
	".mhd":  {},
	".raw":  {},
	".zraw": {},
	".nii":  {},
	".dcm":  {},
	".ima":  {},
}

// IsVolumeFile checks if a file looks like a medical image volume or a
// detached payload belonging to one.
func IsVolumeFile(path string) bool {
	lower := strings.ToLower(path)
	if strings.HasSuffix(lower, ".nii.gz") {
		return true
	}
	_, ok := volumeExts[filepath.Ext(lower)]
	return ok
}

// IsDICOMFile checks if a file carries a DICOM extension.
func IsDICOMFile(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".dcm", ".ima":
		return true
	}
	return false
}

// ListVolumes returns all volume-like files under root.
func ListVolumes(root string) ([]string, error) {
	var files []string
	err := filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		if IsVolumeFile(d.Name()) {
			files = append(files, path)
		}
		return nil
	})
	return files, err
}

// FirstExisting returns the first path that exists.
func FirstExisting(paths ...string) string {
	for _, p := range paths {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

// CopyFile copies src to dst, creating parent directories as needed.
func CopyFile(src, dst string) error {
	if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return err
	}

	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}

	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return fmt.Errorf("copying %s: %w", src, err)
	}
	return out.Close()
}

// CopyTree mirrors the volume files under src into dst, preserving the
// relative layout. Non-volume files are skipped.
func CopyTree(src, dst string) error {
	return filepath.WalkDir(src, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		if !IsVolumeFile(d.Name()) {
			return nil
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		return CopyFile(path, filepath.Join(dst, rel))
	})
}
