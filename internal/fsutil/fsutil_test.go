package fsutil

import (
	"os"
	"path/filepath"
	"testing"
)

func touch(t *testing.T, path string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestIsVolumeFile(t *testing.T) {
	tests := []struct {
		path string
		want bool
	}{
		{"T1native.mha", true},
		{"scan.MHD", true},
		{"scan.raw", true},
		{"scan.zraw", true},
		{"brain.nii", true},
		{"brain.nii.gz", true},
		{"slice0001.dcm", true},
		{"slice0001.IMA", true},
		{"notes.txt", false},
		{"photo.jpg", false},
		{"archive.gz", false},
		{"volume", false},
	}

	for _, tt := range tests {
		if got := IsVolumeFile(tt.path); got != tt.want {
			t.Errorf("IsVolumeFile(%q) = %v, want %v", tt.path, got, tt.want)
		}
	}
}

func TestIsDICOMFile(t *testing.T) {
	if !IsDICOMFile("a.dcm") || !IsDICOMFile("b.IMA") {
		t.Error("DICOM extensions not recognized")
	}
	if IsDICOMFile("a.mha") {
		t.Error("IsDICOMFile(a.mha) = true")
	}
}

func TestListVolumes(t *testing.T) {
	root := t.TempDir()
	touch(t, filepath.Join(root, "sub-01", "T1native.mha"))
	touch(t, filepath.Join(root, "sub-01", "labels_native.mha"))
	touch(t, filepath.Join(root, "sub-02", "brain.nii.gz"))
	touch(t, filepath.Join(root, "sub-02", "notes.txt"))
	touch(t, filepath.Join(root, "README.md"))

	files, err := ListVolumes(root)
	if err != nil {
		t.Fatalf("ListVolumes() error = %v", err)
	}
	if len(files) != 3 {
		t.Fatalf("got %d volumes, want 3: %v", len(files), files)
	}
	for _, f := range files {
		if filepath.Ext(f) == ".txt" || filepath.Ext(f) == ".md" {
			t.Errorf("non-volume file listed: %s", f)
		}
	}
}

func TestFirstExisting(t *testing.T) {
	dir := t.TempDir()
	present := filepath.Join(dir, "here.mha")
	touch(t, present)

	got := FirstExisting(filepath.Join(dir, "missing.mha"), present)
	if got != present {
		t.Errorf("FirstExisting = %q, want %q", got, present)
	}
	if got := FirstExisting(filepath.Join(dir, "a"), filepath.Join(dir, "b")); got != "" {
		t.Errorf("FirstExisting with no hits = %q, want empty", got)
	}
}

func TestCopyTreeStagesVolumesOnly(t *testing.T) {
	src := t.TempDir()
	dst := t.TempDir()
	touch(t, filepath.Join(src, "sub-01", "T1native.mha"))
	touch(t, filepath.Join(src, "sub-01", "scan.mhd"))
	touch(t, filepath.Join(src, "sub-01", "scan.raw"))
	touch(t, filepath.Join(src, "sub-01", "notes.txt"))

	if err := CopyTree(src, dst); err != nil {
		t.Fatalf("CopyTree() error = %v", err)
	}

	for _, name := range []string{"T1native.mha", "scan.mhd", "scan.raw"} {
		if _, err := os.Stat(filepath.Join(dst, "sub-01", name)); err != nil {
			t.Errorf("staged file missing: %v", err)
		}
	}
	if _, err := os.Stat(filepath.Join(dst, "sub-01", "notes.txt")); err == nil {
		t.Error("non-volume file was staged")
	}
}

func TestCopyFilePreservesContent(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "src.mha")
	dst := filepath.Join(dir, "nested", "dst.mha")
	content := []byte("ObjectType = Image\n")
	if err := os.WriteFile(src, content, 0o644); err != nil {
		t.Fatal(err)
	}

	if err := CopyFile(src, dst); err != nil {
		t.Fatalf("CopyFile() error = %v", err)
	}
	got, err := os.ReadFile(dst)
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != string(content) {
		t.Errorf("copied content = %q, want %q", got, content)
	}
}

func TestEstimateDatasetSize(t *testing.T) {
	dir := t.TempDir()
	var files []string
	for i := 0; i < 3; i++ {
		path := filepath.Join(dir, "vol"+string(rune('a'+i))+".mha")
		if err := os.WriteFile(path, make([]byte, 2*1024*1024), 0o644); err != nil {
			t.Fatal(err)
		}
		files = append(files, path)
	}

	mb, err := EstimateDatasetSize(files)
	if err != nil {
		t.Fatalf("EstimateDatasetSize() error = %v", err)
	}
	// 3 files x 2MB x 1.2 margin = 7MB
	if mb < 6 || mb > 8 {
		t.Errorf("estimate = %dMB, want about 7MB", mb)
	}

	if mb, err := EstimateDatasetSize(nil); err != nil || mb != 0 {
		t.Errorf("EstimateDatasetSize(nil) = %d, %v, want 0, nil", mb, err)
	}
}

func TestGetSystemMemory(t *testing.T) {
	mb, err := GetSystemMemory()
	if err != nil {
		t.Skipf("no memory info available: %v", err)
	}
	if mb <= 0 {
		t.Errorf("available memory = %dMB, want > 0", mb)
	}
}
