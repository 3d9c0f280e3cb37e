// Package registry provides a concrete implementation of the collaborator
// surface rfcache.Controller depends on: a global map from remote key to
// controller, total-bytes accounting, codec lookup, and task scheduling
// (spec §4.5).
package registry

import (
	"context"
	"encoding/hex"
	"hash/fnv"
	"io"
	"log"
	"os"
	"path/filepath"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/karpelesremote/rfcache"
)

// SourceOpener produces a fresh byte source for a descriptor when a cache
// miss requires starting a new download. Kept as an interface rather than
// a bare function type so callers can close over per-descriptor state
// (auth headers, retry policy) without a closure allocation on every call.
type SourceOpener interface {
	Open(desc rfcache.Descriptor) (io.Reader, error)
}

// SourceOpenerFunc adapts a plain function to a SourceOpener.
type SourceOpenerFunc func(desc rfcache.Descriptor) (io.Reader, error)

func (f SourceOpenerFunc) Open(desc rfcache.Descriptor) (io.Reader, error) { return f(desc) }

// Registry is the concrete collaborator: it owns the cache root directory,
// a controller per remote key, and a durable running byte total.
type Registry struct {
	root      string
	codecs    rfcache.CodecFactory
	pool      *rfcache.WorkerPool
	opener    SourceOpener
	flushSize uint64
	logger    *log.Logger

	counts *ByteCounter

	mu      sync.RWMutex
	entries map[string]*rfcache.Controller

	group singleflight.Group
}

// Config bundles Registry construction parameters.
type Config struct {
	Root           string
	Codecs         rfcache.CodecFactory
	Pool           *rfcache.WorkerPool
	Opener         SourceOpener
	FlushThreshold uint64
	Counter        *ByteCounter
	Logger         *log.Logger
}

// New constructs a Registry rooted at cfg.Root. It does not scan for
// existing entries; call Recover for that.
func New(cfg Config) (*Registry, error) {
	if err := os.MkdirAll(cfg.Root, 0o755); err != nil {
		return nil, err
	}
	logger := cfg.Logger
	if logger == nil {
		logger = log.Default()
	}
	flush := cfg.FlushThreshold
	if flush == 0 {
		flush = rfcache.DefaultFlushThreshold
	}
	return &Registry{
		root:      cfg.Root,
		codecs:    cfg.Codecs,
		pool:      cfg.Pool,
		opener:    cfg.Opener,
		flushSize: flush,
		logger:    logger,
		counts:    cfg.Counter,
		entries:   make(map[string]*rfcache.Controller),
	}, nil
}

// UpdateTotalSize implements rfcache.Accounting.
func (r *Registry) UpdateTotalSize(delta int64) {
	if r.counts != nil {
		r.counts.Add(delta)
	}
}

// TotalSize returns the durable running byte total across every entry
// this registry has ever accounted for.
func (r *Registry) TotalSize() uint64 {
	if r.counts == nil {
		return 0
	}
	return r.counts.Get()
}

// GetMetadataCodec implements the factory lookup the Controller depends
// on at recovery and construction time.
func (r *Registry) GetMetadataCodec(className string) (rfcache.Codec, error) {
	return r.codecs.GetCodec(className)
}

// ScheduleNamed implements rfcache.TaskPool by delegating to the shared
// worker pool.
func (r *Registry) ScheduleNamed(name string, fn func(ctx context.Context)) rfcache.TaskHandle {
	return r.pool.ScheduleNamed(name, fn)
}

func (r *Registry) entryPath(remotePath string) string {
	return filepath.Join(r.root, keyFor(remotePath))
}

// GetOrCreate returns the controller for desc.RemotePath, creating and
// starting its download if this is the first reference. Concurrent
// callers racing on the same remote path are deduplicated with
// singleflight so only one of them creates the on-disk entry and starts
// the download.
func (r *Registry) GetOrCreate(desc rfcache.Descriptor) (*rfcache.Controller, error) {
	r.mu.RLock()
	if c, ok := r.entries[desc.RemotePath]; ok {
		r.mu.RUnlock()
		if c.IsStale(desc) {
			if err := r.Evict(desc.RemotePath); err != nil {
				return nil, err
			}
		} else {
			return c, nil
		}
	} else {
		r.mu.RUnlock()
	}

	v, err, _ := r.group.Do(desc.RemotePath, func() (any, error) {
		r.mu.RLock()
		if c, ok := r.entries[desc.RemotePath]; ok {
			r.mu.RUnlock()
			return c, nil
		}
		r.mu.RUnlock()

		codec, err := r.codecs.GetCodec(desc.ClassName)
		if err != nil {
			return nil, err
		}

		entryPath := r.entryPath(desc.RemotePath)
		c, err := rfcache.New(desc, codec, entryPath, r.flushSize, rfcache.WithLogger(r.logger), rfcache.WithAccounting(r))
		if err != nil {
			return nil, err
		}

		source, err := r.opener.Open(desc)
		if err != nil {
			if rmErr := os.RemoveAll(entryPath); rmErr != nil {
				r.logger.Printf("registry: cleaning up %s after failed open: %v", entryPath, rmErr)
			}
			return nil, err
		}
		if err := c.StartBackgroundDownload(source, r.pool); err != nil {
			if rmErr := os.RemoveAll(entryPath); rmErr != nil {
				r.logger.Printf("registry: cleaning up %s after failed download start: %v", entryPath, rmErr)
			}
			return nil, err
		}

		r.mu.Lock()
		r.entries[desc.RemotePath] = c
		r.mu.Unlock()
		return c, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*rfcache.Controller), nil
}

// Evict removes the entry for remotePath, if any: marks it invalid, waits
// for readers to drain, and deletes its directory.
func (r *Registry) Evict(remotePath string) error {
	r.mu.Lock()
	c, ok := r.entries[remotePath]
	if ok {
		delete(r.entries, remotePath)
	}
	r.mu.Unlock()
	if !ok {
		return nil
	}
	return c.Close()
}

// Lookup returns the controller currently registered for remotePath, if
// any.
func (r *Registry) Lookup(remotePath string) (*rfcache.Controller, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.entries[remotePath]
	return c, ok
}

// LookupByKey returns the controller whose on-disk directory name (see
// keyFor) matches key. Unlike Lookup, this is addressable as a single
// URL path segment even when remote_path itself contains characters
// (like a URL's slashes) that can't survive as one - the inspection
// API's single-entry endpoint routes on this, not on the raw path.
func (r *Registry) LookupByKey(key string) (*rfcache.Controller, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for remotePath, c := range r.entries {
		if keyFor(remotePath) == key {
			return c, true
		}
	}
	return nil, false
}

// Snapshot returns a point-in-time list of every registered controller,
// for the inspection API and tests.
func (r *Registry) Snapshot() []*rfcache.Controller {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*rfcache.Controller, 0, len(r.entries))
	for _, c := range r.entries {
		out = append(out, c)
	}
	return out
}

// Recover walks the cache root, attempting to recover each subdirectory
// as a controller. Rejected entries are collected and deleted only after
// the walk completes, per spec §7's "never during iteration" rule.
func (r *Registry) Recover() error {
	dirEntries, err := os.ReadDir(r.root)
	if err != nil {
		return err
	}

	var toDelete []string
	for _, de := range dirEntries {
		if !de.IsDir() {
			continue
		}
		path := filepath.Join(r.root, de.Name())
		c, err := rfcache.Recover(path, r.codecs, rfcache.WithLogger(r.logger), rfcache.WithAccounting(r))
		if err != nil {
			r.logger.Printf("registry: rejecting %s: %v", path, err)
			toDelete = append(toDelete, path)
			continue
		}
		if c == nil {
			toDelete = append(toDelete, path)
			continue
		}
		r.mu.Lock()
		r.entries[c.Metadata().RemotePath] = c
		r.mu.Unlock()
	}

	for _, path := range toDelete {
		if err := os.RemoveAll(path); err != nil {
			r.logger.Printf("registry: cleaning up %s: %v", path, err)
		}
	}
	return nil
}

// keyFor derives the on-disk directory name for a remote path: a fixed
// upper bound on length and no filesystem-hostile characters, regardless
// of what the remote path itself looks like.
func keyFor(remotePath string) string {
	h := fnv.New64a()
	h.Write([]byte(remotePath))
	return hex.EncodeToString(h.Sum(nil))
}
