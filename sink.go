package rfcache

import "os"

// DataSink is an append-only writer over data.bin. It carries no notion of
// "current offset" - the Controller is the sole authority on how much of
// what's been written is safe to publish to readers (spec §4.3).
type DataSink struct {
	f *os.File
}

func newDataSink(path string) (*DataSink, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, err
	}
	return &DataSink{f: f}, nil
}

// Append writes b to the end of data.bin without any durability promise.
func (s *DataSink) Append(b []byte) (int, error) {
	return s.f.Write(b)
}

// Sync flushes data.bin's kernel buffers to stable storage. Bytes are not
// considered durable until this returns nil.
func (s *DataSink) Sync() error {
	return s.f.Sync()
}

// Close releases the underlying file descriptor. The Controller calls this
// once, after the background download has stopped writing.
func (s *DataSink) Close() error {
	return s.f.Close()
}
