// Package rfcache materializes a remote, read-only byte stream onto local
// disk, exposing the partially-downloaded data to concurrent readers as it
// arrives, durably recording enough metadata to resume after a process
// restart, and coordinating its lifecycle with a surrounding cache
// registry. One Controller governs exactly one cached file.
package rfcache

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"sync"
)

const (
	dataFileName     = "data.bin"
	infoFileName     = "info.txt"
	metadataFileName = "metadata.txt"

	// downloadChunkSize bounds a single Read from the source per
	// iteration of the download loop.
	downloadChunkSize = 64 * 1024

	// DefaultFlushThreshold is used when a caller does not specify one.
	DefaultFlushThreshold = 4 * 1024 * 1024
)

// WaitResult is the outcome of WaitMoreData.
type WaitResult int

const (
	// WaitOK means the requested range is now available to read.
	WaitOK WaitResult = iota
	// WaitEndOfFile means the file is complete and the requested range
	// starts at or past the end of the data - there is nothing more to
	// wait for.
	WaitEndOfFile
	// WaitFailed means the controller was invalidated (background
	// download failed) before the requested range became available.
	// Bytes [0, end) were never confirmed durable; callers must not treat
	// this as OK.
	WaitFailed
)

func (r WaitResult) String() string {
	switch r {
	case WaitEndOfFile:
		return "END_OF_FILE"
	case WaitFailed:
		return "FAILED"
	default:
		return "OK"
	}
}

// Accounting is the subset of the Registry contract (spec §4.5) a
// Controller calls into as bytes are recovered or downloaded: a running
// total across all cached entries. It is optional - a Controller
// constructed without one simply doesn't report.
type Accounting interface {
	UpdateTotalSize(delta int64)
}

// TaskHandle is a handle to a scheduled background task. Deactivate
// performs a synchronous join: it does not return until the task has
// observed cancellation and exited.
type TaskHandle interface {
	Deactivate()
}

// TaskPool is the scheduling collaborator a Controller's background
// download runs on (spec §4.5/§6). See taskpool.go for a concrete,
// goroutine-backed implementation.
type TaskPool interface {
	ScheduleNamed(name string, fn func(ctx context.Context)) TaskHandle
}

// contextAwareSource is implemented by byte sources that can bind their
// blocking reads to a context, such as internal/httpsource.Source. A
// source that implements it has its Read interrupted promptly when the
// download task is deactivated; a source that doesn't only stops being
// polled after its current Read call returns.
type contextAwareSource interface {
	SetContext(ctx context.Context)
}

// Option configures a Controller at construction or recovery time.
type Option func(*Controller)

// WithLogger overrides the controller's logger. The default is
// log.Default(), matching the teacher's own use of the standard log
// package rather than a structured logging library.
func WithLogger(l *log.Logger) Option {
	return func(c *Controller) { c.logger = l }
}

// WithAccounting registers a Registry (or test double) to receive
// UpdateTotalSize notifications on recovery and download completion.
func WithAccounting(a Accounting) Option {
	return func(c *Controller) { c.accounting = a }
}

// Controller owns the state machine, downloader task, reader wait/notify,
// flush cadence, and recovery for one cached remote file (spec §4.4).
type Controller struct {
	mu   sync.Mutex
	cond *sync.Cond

	metadata       Descriptor
	localPath      string
	status         FileStatus
	currentOffset  uint64
	flushThreshold uint64
	valid          bool
	readers        *readerSet

	sink *DataSink
	task TaskHandle

	logger     *log.Logger
	accounting Accounting
}

func newController(desc Descriptor, localPath string, flushThreshold uint64, opts ...Option) *Controller {
	if flushThreshold == 0 {
		flushThreshold = DefaultFlushThreshold
	}
	c := &Controller{
		metadata:       desc,
		localPath:      localPath,
		flushThreshold: flushThreshold,
		valid:          true,
		readers:        newReaderSet(),
		logger:         log.Default(),
	}
	c.cond = sync.NewCond(&c.mu)
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// New creates a fresh cache entry: it creates localPath, serializes desc
// via codec to metadata.txt immediately (so recovery can attribute the
// class even if the download never completes), and sets file_status to
// TO_DOWNLOAD (spec §4.4 "Construction").
func New(desc Descriptor, codec Codec, localPath string, flushThreshold uint64, opts ...Option) (*Controller, error) {
	if err := os.MkdirAll(localPath, 0o755); err != nil {
		return nil, err
	}
	blob, err := codec.Encode(desc)
	if err != nil {
		return nil, fmt.Errorf("rfcache: encode metadata for %s: %w", localPath, err)
	}
	if err := os.WriteFile(filepath.Join(localPath, metadataFileName), []byte(blob), 0o644); err != nil {
		return nil, err
	}

	c := newController(desc, localPath, flushThreshold, opts...)
	c.status = StatusToDownload
	return c, nil
}

// Recover attempts to reconstruct a Controller from an existing entry
// directory (spec §4.4 "Recovery", preconditions in spec §3 invariant 6).
//
// A (nil, nil) return means the directory holds no recoverable entry and
// the caller should schedule it for deletion, but nothing has gone wrong
// enough to log as an error. A non-nil error wraps ErrBadArguments or
// ErrLogicalError for the cases spec §4.4 calls out explicitly - callers
// that don't care about the distinction can treat both as "remove me."
func Recover(localPath string, codecs CodecFactory, opts ...Option) (*Controller, error) {
	dataPath := filepath.Join(localPath, dataFileName)
	dataInfo, err := os.Stat(dataPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	status, class, err := readStatusFile(filepath.Join(localPath, infoFileName))
	if err != nil || status != StatusDownloaded {
		return nil, nil
	}

	codec, err := codecs.GetCodec(class)
	if err != nil {
		return nil, fmt.Errorf("rfcache: recover %s: metadata class %q: %w", localPath, class, ErrBadArguments)
	}

	blob, err := os.ReadFile(filepath.Join(localPath, metadataFileName))
	if err != nil {
		return nil, fmt.Errorf("rfcache: recover %s: reading metadata.txt: %w", localPath, ErrLogicalError)
	}
	desc, err := codec.Parse(string(blob))
	if err != nil {
		return nil, fmt.Errorf("rfcache: recover %s: parsing metadata.txt: %w", localPath, ErrLogicalError)
	}

	size := uint64(dataInfo.Size())
	if size != desc.FileSize {
		// Resolved Open Question (spec §9): a size mismatch is treated as
		// unrecoverable rather than silently proceeding with a
		// current_offset that disagrees with the descriptor.
		return nil, fmt.Errorf("rfcache: recover %s: data.bin is %d bytes, descriptor says %d: %w",
			localPath, size, desc.FileSize, ErrLogicalError)
	}

	c := newController(desc, localPath, DefaultFlushThreshold, opts...)
	c.status = StatusDownloaded
	c.currentOffset = size

	if c.accounting != nil {
		c.accounting.UpdateTotalSize(int64(size))
	}
	return c, nil
}

func (c *Controller) dataPath() string { return filepath.Join(c.localPath, dataFileName) }
func (c *Controller) infoPath() string { return filepath.Join(c.localPath, infoFileName) }

func (c *Controller) logf(format string, args ...any) {
	if c.logger != nil {
		c.logger.Printf(format, args...)
	}
}

// LocalPath returns the entry directory this controller manages.
func (c *Controller) LocalPath() string { return c.localPath }

// Metadata returns the descriptor this controller was constructed or
// recovered with.
func (c *Controller) Metadata() Descriptor {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.metadata
}

// Status returns the current file_status under the controller's mutex.
func (c *Controller) Status() FileStatus {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// CurrentOffset returns the current publish watermark under the
// controller's mutex.
func (c *Controller) CurrentOffset() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.currentOffset
}

// Valid reports whether the controller still accepts new readers.
func (c *Controller) Valid() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.valid
}

// IsStale reports whether other's version differs from the version this
// controller was constructed with (spec §4.4 "Version check").
func (c *Controller) IsStale(other Descriptor) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return other.Version != c.metadata.Version
}

// StartBackgroundDownload begins pulling bytes from source and schedules
// the work on pool (spec §4.4 "Starting a download"). The controller must
// be in TO_DOWNLOAD state.
func (c *Controller) StartBackgroundDownload(source io.Reader, pool TaskPool) error {
	c.mu.Lock()
	if c.status != StatusToDownload {
		status := c.status
		c.mu.Unlock()
		return fmt.Errorf("rfcache: cannot start download for %s from state %s: %w", c.localPath, status, ErrBadArguments)
	}
	sink, err := newDataSink(c.dataPath())
	if err != nil {
		c.mu.Unlock()
		return err
	}
	c.sink = sink
	c.mu.Unlock()

	// Write info.txt before any bytes are downloaded so that a crash
	// before the first flush leaves an entry recovery correctly rejects
	// (still TO_DOWNLOAD, not DOWNLOADED).
	if err := writeStatusFile(c.infoPath(), StatusToDownload, c.metadata.ClassName); err != nil {
		return err
	}

	name := fmt.Sprintf("download %s", c.metadata.RemotePath)
	handle := pool.ScheduleNamed(name, func(ctx context.Context) {
		c.downloadLoop(ctx, source)
	})

	c.mu.Lock()
	c.task = handle
	c.mu.Unlock()
	return nil
}

// downloadLoop is the background task body (spec §4.4 "Download loop").
func (c *Controller) downloadLoop(ctx context.Context, source io.Reader) {
	if cs, ok := source.(contextAwareSource); ok {
		cs.SetContext(ctx)
	}

	c.mu.Lock()
	c.status = StatusDownloading
	c.mu.Unlock()

	buf := make([]byte, downloadChunkSize)
	var totalBytes, beforeUnflush uint64

	for {
		select {
		case <-ctx.Done():
			// Cooperative cancellation: whatever has been appended stays
			// on disk unflushed-and-unpublished; partial state is never
			// promoted to DOWNLOADED.
			return
		default:
		}

		n, readErr := source.Read(buf)
		if n > 0 {
			if _, err := c.sink.Append(buf[:n]); err != nil {
				c.fail(fmt.Errorf("rfcache: writing %s: %w", c.dataPath(), err))
				return
			}
			totalBytes += uint64(n)
			beforeUnflush += uint64(n)
		}

		if beforeUnflush >= c.flushThreshold && totalBytes > 0 {
			if err := c.publish(totalBytes); err != nil {
				c.fail(fmt.Errorf("rfcache: syncing %s: %w", c.dataPath(), err))
				return
			}
			totalBytes = 0
			beforeUnflush = 0
		}

		if readErr != nil {
			if readErr == io.EOF {
				c.finish(totalBytes)
				return
			}
			c.fail(fmt.Errorf("rfcache: reading source for %s: %w", c.localPath, readErr))
			return
		}
	}
}

// publish is one flush barrier: publish current_offset, sync data.bin,
// then broadcast. The ordering (offset update and sync both happen while
// holding the mutex, broadcast happens after release) matches the
// original C++ implementation's backgroundDownload loop exactly. If sync
// fails, current_offset is rolled back before release so a concurrent
// waiter can never observe an offset whose bytes were never made durable.
func (c *Controller) publish(n uint64) error {
	c.mu.Lock()
	c.currentOffset += n
	err := c.sink.Sync()
	if err != nil {
		c.currentOffset -= n
	}
	c.mu.Unlock()

	c.cond.Broadcast()
	return err
}

// finish publishes the final bytes, flips file_status to DOWNLOADED, and
// rewrites info.txt - all before releasing the mutex, so the on-disk
// "bytes durable, then status upgraded" ordering (spec §3 invariant 5)
// holds even under a concurrent crash. A failure here rolls the offset
// and status back rather than leaving them visible to waiters ahead of
// the durability they promise. On success the write descriptor is
// closed immediately, mirroring the original implementation's
// data_file_writer.reset() on completion, rather than held open for the
// lifetime of an entry that may sit in the registry unevicted.
func (c *Controller) finish(remaining uint64) {
	c.mu.Lock()
	prevOffset := c.currentOffset
	prevStatus := c.status
	c.currentOffset += remaining
	c.status = StatusDownloaded
	err := c.sink.Sync()
	if err == nil {
		err = writeStatusFile(c.infoPath(), StatusDownloaded, c.metadata.ClassName)
	}
	if err != nil {
		c.currentOffset = prevOffset
		c.status = prevStatus
	} else if cerr := c.sink.Close(); cerr != nil {
		c.logf("rfcache: closing %s: %v", c.dataPath(), cerr)
	} else {
		c.sink = nil
	}
	c.mu.Unlock()

	if err != nil {
		c.fail(fmt.Errorf("rfcache: finalizing %s: %w", c.localPath, err))
		return
	}

	c.cond.Broadcast()

	if c.accounting != nil {
		c.accounting.UpdateTotalSize(int64(c.metadata.FileSize))
	}
	c.logf("rfcache: finished download into %s (%d bytes)", c.localPath, c.metadata.FileSize)
}

// fail marks the controller invalid and wakes every waiter so they can
// observe their last consistent view (spec §7's propagation policy).
// It never panics or otherwise surfaces the error across the task
// boundary; it only logs.
func (c *Controller) fail(err error) {
	c.mu.Lock()
	c.valid = false
	c.mu.Unlock()

	c.logf("rfcache: %v", fmt.Errorf("%w: %v", ErrIOError, err))
	c.cond.Broadcast()
}

// WaitMoreData blocks until bytes [0, end) are available to read, or
// until the file is known complete and start is already at or past its
// end (spec §4.4 "Reader wait protocol"). It only ever returns WaitOK
// when [0, end) is actually durable; a controller invalidated by a
// failed download while a range is still outstanding returns WaitFailed
// instead of claiming a range that was never synced.
func (c *Controller) WaitMoreData(start, end uint64) WaitResult {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.metadata.FileSize > 0 && end > c.metadata.FileSize {
		end = c.metadata.FileSize
	}

	if c.status == StatusDownloaded {
		if start >= c.currentOffset {
			return WaitEndOfFile
		}
		return WaitOK
	}

	for c.valid && !(c.status == StatusDownloaded || c.currentOffset >= end) {
		c.cond.Wait()
	}

	if c.status == StatusDownloaded && start >= c.currentOffset {
		return WaitEndOfFile
	}
	if c.currentOffset >= end || c.status == StatusDownloaded {
		return WaitOK
	}
	return WaitFailed
}

// OpenReader constructs a positioned-read handle on data.bin and records
// its identity in open_reader_set (spec §4.4 "Reader handles").
func (c *Controller) OpenReader() (*ReaderHandle, error) {
	c.mu.Lock()
	if !c.valid {
		c.mu.Unlock()
		return nil, fmt.Errorf("rfcache: %s is no longer valid: %w", c.localPath, ErrBadArguments)
	}
	id := c.readers.alloc()
	c.mu.Unlock()

	f, err := os.Open(c.dataPath())
	if err != nil {
		c.releaseReaderID(id)
		return nil, err
	}
	return &ReaderHandle{id: id, f: f, controller: c}, nil
}

// releaseReaderID removes id from open_reader_set and, if that drains the
// set to zero, wakes Close(), which waits on the same condition variable
// for open_reader_set to drain (spec §5: "more_data_cv is the only wait
// primitive"). Used both when a reader handle is closed normally and when
// OpenReader must undo its own allocation after failing to open the file.
func (c *Controller) releaseReaderID(id uint32) bool {
	c.mu.Lock()
	ok := c.readers.release(id)
	remaining := c.readers.len()
	c.mu.Unlock()

	if ok && remaining == 0 {
		c.cond.Broadcast()
	}
	return ok
}

// closeReader removes h's identity from open_reader_set. It is invoked by
// ReaderHandle.Close and is otherwise unexported: callers only ever go
// through the handle.
func (c *Controller) closeReader(h *ReaderHandle) error {
	if !c.releaseReaderID(h.id) {
		return fmt.Errorf("rfcache: reader %d is not open on %s: %w", h.id, c.localPath, ErrBadArguments)
	}
	return nil
}

// Close marks the controller invalid, deactivates the background task
// (joining it synchronously), blocks until every reader handle has been
// closed, then removes local_path recursively (spec §4.4 "Shutdown").
func (c *Controller) Close() error {
	c.mu.Lock()
	c.valid = false
	task := c.task
	c.mu.Unlock()
	c.cond.Broadcast()

	if task != nil {
		task.Deactivate()
	}

	c.mu.Lock()
	for c.readers.len() > 0 {
		c.cond.Wait()
	}
	sink := c.sink
	c.mu.Unlock()

	if sink != nil {
		if err := sink.Close(); err != nil {
			c.logf("rfcache: closing %s: %v", c.dataPath(), err)
		}
	}

	c.logf("rfcache: removing %s", c.localPath)
	return os.RemoveAll(c.localPath)
}
