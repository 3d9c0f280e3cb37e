package registry

import (
	"encoding/binary"
	"log"
	"sync"

	bolt "go.etcd.io/bbolt"
)

var (
	accountingBucket = []byte("accounting")
	totalBytesKey    = []byte("total_bytes")
)

// ByteCounter durably checkpoints the registry's running total-bytes
// count in a bbolt database, the same single-file embedded KV store
// Gammanik-distributed-storage's metastore uses for its own small durable
// counters. The in-memory value is authoritative for reads; every Add
// call also persists so a restart resumes from the last checkpoint
// instead of zero.
type ByteCounter struct {
	db     *bolt.DB
	logger *log.Logger

	mu    sync.Mutex
	total uint64
}

// OpenByteCounter opens (creating if necessary) a bbolt database at path
// and loads the last checkpointed total.
func OpenByteCounter(path string) (*ByteCounter, error) {
	db, err := bolt.Open(path, 0o600, nil)
	if err != nil {
		return nil, err
	}

	c := &ByteCounter{db: db, logger: log.Default()}
	err = db.Update(func(tx *bolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists(accountingBucket)
		if err != nil {
			return err
		}
		if v := b.Get(totalBytesKey); v != nil {
			c.total = binary.BigEndian.Uint64(v)
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}
	return c, nil
}

// Add applies delta (which may be negative) to the running total and
// checkpoints the new value before returning.
func (c *ByteCounter) Add(delta int64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if delta < 0 && uint64(-delta) > c.total {
		c.total = 0
	} else {
		c.total = uint64(int64(c.total) + delta)
	}
	total := c.total

	err := c.db.Update(func(tx *bolt.Tx) error {
		buf := make([]byte, 8)
		binary.BigEndian.PutUint64(buf, total)
		return tx.Bucket(accountingBucket).Put(totalBytesKey, buf)
	})
	if err != nil {
		c.logger.Printf("registry: checkpointing byte counter: %v", err)
	}
}

// Get returns the current running total.
func (c *ByteCounter) Get() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.total
}

// Close releases the underlying bbolt database file.
func (c *ByteCounter) Close() error {
	return c.db.Close()
}
