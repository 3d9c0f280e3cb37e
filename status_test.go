package rfcache

import (
	"os"
	"path/filepath"
	"testing"
)

func TestStatusFileRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "info.txt")

	if err := writeStatusFile(path, StatusDownloading, "http"); err != nil {
		t.Fatalf("writeStatusFile: %v", err)
	}
	status, class, err := readStatusFile(path)
	if err != nil {
		t.Fatalf("readStatusFile: %v", err)
	}
	if status != StatusDownloading || class != "http" {
		t.Fatalf("got (%s, %q), want (DOWNLOADING, \"http\")", status, class)
	}
}

func TestStatusFileLeavesNoTempFileBehind(t *testing.T) {
	path := filepath.Join(t.TempDir(), "info.txt")

	if err := writeStatusFile(path, StatusDownloaded, "static"); err != nil {
		t.Fatalf("writeStatusFile: %v", err)
	}
	if _, err := os.Stat(path + ".tmp"); !os.IsNotExist(err) {
		t.Fatalf("temp file still present after a successful write: %v", err)
	}
}

func TestReadStatusFileMissing(t *testing.T) {
	_, _, err := readStatusFile(filepath.Join(t.TempDir(), "missing.txt"))
	if err == nil {
		t.Fatal("expected an error for a missing info.txt")
	}
}

func TestReadStatusFileMalformed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "info.txt")
	if err := os.WriteFile(path, []byte("not json"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	if _, _, err := readStatusFile(path); err == nil {
		t.Fatal("expected an error for malformed info.txt")
	}
}

func TestFileStatusString(t *testing.T) {
	cases := map[FileStatus]string{
		StatusToDownload:  "TO_DOWNLOAD",
		StatusDownloading: "DOWNLOADING",
		StatusDownloaded:  "DOWNLOADED",
	}
	for status, want := range cases {
		if got := status.String(); got != want {
			t.Errorf("FileStatus(%d).String() = %q, want %q", status, got, want)
		}
	}
}
