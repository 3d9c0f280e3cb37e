package rfcache

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// syncTaskPool runs scheduled work on its own goroutine immediately,
// without the bounded-concurrency machinery WorkerPool provides - enough
// to exercise Controller's use of the TaskPool contract in tests without
// pulling the pool's own scheduling behavior into every assertion.
type syncTaskPool struct{}

type syncTaskHandle struct {
	cancel context.CancelFunc
	done   chan struct{}
}

func (h *syncTaskHandle) Deactivate() {
	h.cancel()
	<-h.done
}

func (syncTaskPool) ScheduleNamed(name string, fn func(ctx context.Context)) TaskHandle {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		fn(ctx)
	}()
	return &syncTaskHandle{cancel: cancel, done: done}
}

// chunkSource is an io.Reader fed by explicit test-pushed chunks, used to
// deterministically pause a download mid-stream (spec scenario S2).
type chunkSource struct {
	mu     sync.Mutex
	chunks chan []byte
	closed bool
}

func newChunkSource() *chunkSource {
	return &chunkSource{chunks: make(chan []byte, 16)}
}

func (s *chunkSource) push(b []byte) {
	s.chunks <- b
}

func (s *chunkSource) closeStream() {
	close(s.chunks)
}

func (s *chunkSource) Read(p []byte) (int, error) {
	chunk, ok := <-s.chunks
	if !ok {
		return 0, io.EOF
	}
	n := copy(p, chunk)
	return n, nil
}

func sequentialBytes(n int) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = byte(i)
	}
	return b
}

func TestS1FreshDownloadSingleReader(t *testing.T) {
	require := require.New(t)

	dir := t.TempDir()
	desc := NewStaticDescriptor("s1", 1000, "v1")
	c, err := New(desc, staticCodec{}, dir, 300)
	require.NoError(err)

	want := sequentialBytes(1000)
	src := newChunkSource()
	require.NoError(c.StartBackgroundDownload(src, syncTaskPool{}))

	src.push(want)
	src.closeStream()

	require.Eventually(func() bool { return c.Status() == StatusDownloaded }, time.Second, time.Millisecond)
	require.Equal(uint64(1000), c.CurrentOffset())

	res := c.WaitMoreData(0, 1000)
	require.Equal(WaitOK, res)

	reader, err := c.OpenReader()
	require.NoError(err)
	defer reader.Close()

	got := make([]byte, 1000)
	_, err = reader.ReadAt(got, 0)
	require.NoError(err)
	require.Equal(want, got)

	status, class, err := readStatusFile(filepath.Join(dir, infoFileName))
	require.NoError(err)
	require.Equal(StatusDownloaded, status)
	require.Equal("static", class)
}

func TestS2EarlyReadThenBlock(t *testing.T) {
	require := require.New(t)

	dir := t.TempDir()
	desc := NewStaticDescriptor("s2", 1000, "v1")
	c, err := New(desc, staticCodec{}, dir, 300)
	require.NoError(err)

	src := newChunkSource()
	require.NoError(c.StartBackgroundDownload(src, syncTaskPool{}))

	src.push(sequentialBytes(400))
	require.Eventually(func() bool { return c.CurrentOffset() >= 400 }, time.Second, time.Millisecond)

	require.Equal(WaitOK, c.WaitMoreData(0, 100))

	resultCh := make(chan WaitResult, 1)
	go func() { resultCh <- c.WaitMoreData(0, 500) }()

	select {
	case <-resultCh:
		t.Fatal("waitMoreData(0, 500) returned before enough bytes were published")
	case <-time.After(50 * time.Millisecond):
	}

	src.push(sequentialBytes(300))
	select {
	case res := <-resultCh:
		require.Equal(WaitOK, res)
	case <-time.After(time.Second):
		t.Fatal("waitMoreData(0, 500) never returned after enough bytes were published")
	}
	require.GreaterOrEqual(c.CurrentOffset(), uint64(500))

	src.push(sequentialBytes(300))
	src.closeStream()
	require.Eventually(func() bool { return c.Status() == StatusDownloaded }, time.Second, time.Millisecond)
}

func TestS3EndOfFileSignal(t *testing.T) {
	require := require.New(t)

	dir := t.TempDir()
	desc := NewStaticDescriptor("s3", 1000, "v1")
	c, err := New(desc, staticCodec{}, dir, 300)
	require.NoError(err)

	src := newChunkSource()
	require.NoError(c.StartBackgroundDownload(src, syncTaskPool{}))
	src.push(sequentialBytes(1000))
	src.closeStream()
	require.Eventually(func() bool { return c.Status() == StatusDownloaded }, time.Second, time.Millisecond)

	require.Equal(WaitEndOfFile, c.WaitMoreData(1000, 1001))
}

func TestS4RecoveryHappyPath(t *testing.T) {
	require := require.New(t)

	dir := t.TempDir()
	desc := NewStaticDescriptor("s4", 1000, "v1")
	writeRecoverableEntry(t, dir, desc, sequentialBytes(1000))

	c, err := Recover(dir, StandardCodecs())
	require.NoError(err)
	require.NotNil(c)
	require.Equal(StatusDownloaded, c.Status())
	require.Equal(uint64(1000), c.CurrentOffset())
}

func TestS5RecoveryRejectsPartial(t *testing.T) {
	require := require.New(t)

	dir := t.TempDir()
	desc := NewStaticDescriptor("s5", 1000, "v1")
	writeRecoverableEntry(t, dir, desc, sequentialBytes(1000))
	require.NoError(writeStatusFile(filepath.Join(dir, infoFileName), StatusDownloading, "static"))

	c, err := Recover(dir, StandardCodecs())
	require.NoError(err)
	require.Nil(c)
}

func TestS6Staleness(t *testing.T) {
	require := require.New(t)

	dir := t.TempDir()
	v1 := NewStaticDescriptor("s6", 10, "v1")
	c, err := New(v1, staticCodec{}, dir, 300)
	require.NoError(err)

	same := NewStaticDescriptor("s6", 10, "v1")
	different := NewStaticDescriptor("s6", 10, "v2")

	require.False(c.IsStale(same))
	require.True(c.IsStale(different))
}

func TestRecoveryRejectsSizeMismatch(t *testing.T) {
	require := require.New(t)

	dir := t.TempDir()
	desc := NewStaticDescriptor("mismatch", 1000, "v1")
	// data.bin deliberately shorter than the descriptor claims.
	writeRecoverableEntry(t, dir, desc, sequentialBytes(500))

	c, err := Recover(dir, StandardCodecs())
	require.Error(err)
	require.ErrorIs(err, ErrLogicalError)
	require.Nil(c)
}

func TestRecoveryMissingDataFile(t *testing.T) {
	require := require.New(t)

	dir := t.TempDir()
	c, err := Recover(dir, StandardCodecs())
	require.NoError(err)
	require.Nil(c)
}

func TestCloseWaitsForReadersAndRemovesDirectory(t *testing.T) {
	require := require.New(t)

	dir := t.TempDir()
	desc := NewStaticDescriptor("close-test", 100, "v1")
	c, err := New(desc, staticCodec{}, dir, 50)
	require.NoError(err)

	src := newChunkSource()
	require.NoError(c.StartBackgroundDownload(src, syncTaskPool{}))
	src.push(sequentialBytes(100))
	src.closeStream()
	require.Eventually(func() bool { return c.Status() == StatusDownloaded }, time.Second, time.Millisecond)

	reader, err := c.OpenReader()
	require.NoError(err)

	closeDone := make(chan error, 1)
	go func() { closeDone <- c.Close() }()

	select {
	case <-closeDone:
		t.Fatal("Close returned before its outstanding reader was released")
	case <-time.After(30 * time.Millisecond):
	}

	require.NoError(reader.Close())

	select {
	case err := <-closeDone:
		require.NoError(err)
	case <-time.After(time.Second):
		t.Fatal("Close never returned after its reader was released")
	}

	_, statErr := os.Stat(dir)
	require.True(os.IsNotExist(statErr))
}

func TestOpenReaderRejectedAfterInvalidation(t *testing.T) {
	require := require.New(t)

	dir := t.TempDir()
	desc := NewStaticDescriptor("invalid-test", 10, "v1")
	c, err := New(desc, staticCodec{}, dir, 50)
	require.NoError(err)

	src := newChunkSource()
	require.NoError(c.StartBackgroundDownload(src, syncTaskPool{}))
	src.push(sequentialBytes(10))
	src.closeStream()
	require.Eventually(func() bool { return c.Status() == StatusDownloaded }, time.Second, time.Millisecond)

	require.NoError(c.Close())

	_, err = c.OpenReader()
	require.ErrorIs(err, ErrBadArguments)
}

func TestOpenReaderFailureWakesConcurrentClose(t *testing.T) {
	require := require.New(t)

	dir := t.TempDir()
	desc := NewStaticDescriptor("open-fail", 10, "v1")
	c, err := New(desc, staticCodec{}, dir, 50)
	require.NoError(err)

	src := newChunkSource()
	require.NoError(c.StartBackgroundDownload(src, syncTaskPool{}))
	src.push(sequentialBytes(10))
	src.closeStream()
	require.Eventually(func() bool { return c.Status() == StatusDownloaded }, time.Second, time.Millisecond)

	// Remove data.bin so any OpenReader call from here allocates a reader
	// id and then fails to open the file - the path that must still drop
	// open_reader_set to zero and wake a concurrent Close rather than
	// leaving it waiting forever.
	require.NoError(os.Remove(filepath.Join(dir, dataFileName)))

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, _ = c.OpenReader()
	}()

	closeDone := make(chan error, 1)
	go func() { closeDone <- c.Close() }()

	wg.Wait()
	select {
	case err := <-closeDone:
		require.NoError(err)
	case <-time.After(time.Second):
		t.Fatal("Close never returned after a failing OpenReader released its id")
	}
}

func TestFinishClosesSinkOnCompletion(t *testing.T) {
	require := require.New(t)

	dir := t.TempDir()
	desc := NewStaticDescriptor("close-sink", 10, "v1")
	c, err := New(desc, staticCodec{}, dir, 50)
	require.NoError(err)

	src := newChunkSource()
	require.NoError(c.StartBackgroundDownload(src, syncTaskPool{}))
	src.push(sequentialBytes(10))
	src.closeStream()
	require.Eventually(func() bool { return c.Status() == StatusDownloaded }, time.Second, time.Millisecond)

	c.mu.Lock()
	sink := c.sink
	c.mu.Unlock()
	require.Nil(sink, "the write sink should be released once the download reaches DOWNLOADED")
}

func TestWaitMoreDataReturnsFailedOnInvalidation(t *testing.T) {
	require := require.New(t)

	dir := t.TempDir()
	desc := NewStaticDescriptor("wait-fail", 1000, "v1")
	c, err := New(desc, staticCodec{}, dir, 100)
	require.NoError(err)

	src := newChunkSource()
	require.NoError(c.StartBackgroundDownload(src, syncTaskPool{}))
	src.push(sequentialBytes(100))
	require.Eventually(func() bool { return c.CurrentOffset() >= 100 }, time.Second, time.Millisecond)

	resultCh := make(chan WaitResult, 1)
	go func() { resultCh <- c.WaitMoreData(0, 900) }()

	time.Sleep(20 * time.Millisecond)
	c.fail(errors.New("simulated source failure"))

	select {
	case res := <-resultCh:
		require.Equal(WaitFailed, res)
	case <-time.After(time.Second):
		t.Fatal("WaitMoreData never returned after the controller was invalidated")
	}
}

// writeRecoverableEntry writes a full, well-formed cache entry directory
// (data.bin + metadata.txt + info.txt=DOWNLOADED) directly to disk,
// bypassing the Controller, so recovery tests exercise Recover in
// isolation from StartBackgroundDownload.
func writeRecoverableEntry(t *testing.T, dir string, desc Descriptor, data []byte) {
	t.Helper()

	require.NoError(t, os.WriteFile(filepath.Join(dir, dataFileName), data, 0o644))

	blob, err := staticCodec{}.Encode(desc)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, metadataFileName), []byte(blob), 0o644))

	require.NoError(t, writeStatusFile(filepath.Join(dir, infoFileName), StatusDownloaded, "static"))
}

func TestStatusRecordJSONShape(t *testing.T) {
	require := require.New(t)

	path := filepath.Join(t.TempDir(), "info.txt")
	require.NoError(writeStatusFile(path, StatusDownloaded, "static"))

	raw, err := os.ReadFile(path)
	require.NoError(err)

	var m map[string]any
	require.NoError(json.Unmarshal(raw, &m))
	require.Contains(m, "file_status")
	require.Contains(m, "metadata_class")
}
