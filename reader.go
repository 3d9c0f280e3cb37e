package rfcache

import (
	"os"

	"github.com/RoaringBitmap/roaring"
)

// readerSet tracks which reader identities are currently checked out
// against a controller (spec §3's open_reader_set). It is a compact
// bitset of small integer IDs assigned in allocation order, using the
// teacher's own RoaringBitmap dependency - there, a roaring.Bitmap tracks
// which download blocks have arrived; here the same structure tracks
// which reader IDs are outstanding. All methods assume the controller's
// mutex is already held by the caller.
type readerSet struct {
	open *roaring.Bitmap
	next uint32
}

func newReaderSet() *readerSet {
	return &readerSet{open: roaring.New()}
}

func (s *readerSet) alloc() uint32 {
	id := s.next
	s.next++
	s.open.Add(id)
	return id
}

// release removes id from the set, reporting whether it was present.
func (s *readerSet) release(id uint32) bool {
	if !s.open.Contains(id) {
		return false
	}
	s.open.Remove(id)
	return true
}

func (s *readerSet) len() int {
	return int(s.open.GetCardinality())
}

// ReaderHandle is a positioned-read file descriptor against data.bin,
// issued and tracked by a Controller (spec §4.4/§6). Reader handles are
// owned by the caller; the controller only remembers their identity for
// lifecycle accounting and never dereferences the handle itself.
type ReaderHandle struct {
	id         uint32
	f          *os.File
	controller *Controller
}

// ReadAt reads from data.bin at the given offset. Callers are expected to
// have already confirmed the requested range is available via
// Controller.WaitMoreData; ReadAt itself does not block on data arriving.
func (h *ReaderHandle) ReadAt(p []byte, off int64) (int, error) {
	return h.f.ReadAt(p, off)
}

// Close releases the handle's file descriptor and removes its identity
// from the controller's open_reader_set. Closing a handle that is not
// currently registered is a programming error (ErrBadArguments).
func (h *ReaderHandle) Close() error {
	err := h.controller.closeReader(h)
	if cerr := h.f.Close(); err == nil {
		err = cerr
	}
	return err
}
