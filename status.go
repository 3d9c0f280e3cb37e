package rfcache

import (
	"encoding/json"
	"fmt"
	"os"
)

// FileStatus is the controller's on-disk lifecycle state, spec §3/§6.
// Transitions are one-way: TO_DOWNLOAD -> DOWNLOADING -> DOWNLOADED.
type FileStatus int32

const (
	StatusToDownload FileStatus = iota
	StatusDownloading
	StatusDownloaded
)

func (s FileStatus) String() string {
	switch s {
	case StatusToDownload:
		return "TO_DOWNLOAD"
	case StatusDownloading:
		return "DOWNLOADING"
	case StatusDownloaded:
		return "DOWNLOADED"
	default:
		return fmt.Sprintf("FileStatus(%d)", int32(s))
	}
}

// statusRecord is the exact shape of info.txt: two keys, no more.
type statusRecord struct {
	FileStatus    FileStatus `json:"file_status"`
	MetadataClass string     `json:"metadata_class"`
}

// writeStatusFile persists info.txt atomically: write to a temp name in
// the same directory, fsync it, then rename over the destination. A crash
// at any point before the rename leaves the previous info.txt (or none)
// in place - it never leaves a torn file that could be misread as
// DOWNLOADED. Grounded on the teacher's part.go, which uses the same
// write-then-rename shape for its own resumable-download sidecar file.
func writeStatusFile(path string, status FileStatus, metadataClass string) error {
	data, err := json.Marshal(statusRecord{FileStatus: status, MetadataClass: metadataClass})
	if err != nil {
		return err
	}

	tmp := path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, path)
}

// readStatusFile parses info.txt. Any failure - missing file, malformed
// JSON - is reported as "no recoverable state" via a plain error; callers
// that treat a parse failure as "not recoverable" rather than a hard
// failure should just check err != nil, matching spec §4.2's contract.
func readStatusFile(path string) (FileStatus, string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, "", err
	}
	var rec statusRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return 0, "", err
	}
	return rec.FileStatus, rec.MetadataClass, nil
}
