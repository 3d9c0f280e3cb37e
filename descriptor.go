package rfcache

import (
	"fmt"
	"sync"

	digest "github.com/opencontainers/go-digest"
)

// Descriptor is the observable state of a remote file: enough to know
// where it came from, how big it is, whether a cached copy is stale, and
// which Codec produced it. Two descriptors are "same version" iff their
// Version tokens compare equal (spec: version token is an opaque
// comparable value; here it is a content digest of whatever the source
// system uses as its own version identifier, giving it a concrete,
// well-known textual form instead of an ad hoc one).
type Descriptor struct {
	RemotePath string
	FileSize   uint64
	Version    digest.Digest
	ClassName  string
}

// NewVersion normalizes an arbitrary version identifier (an S3 ETag, an
// HTTP Last-Modified value, a database row version, ...) into a
// digest.Digest so it has a single canonical textual form regardless of
// where it came from.
func NewVersion(raw string) digest.Digest {
	return digest.FromString(raw)
}

// Codec is a MetadataCodec: it knows how to serialize a Descriptor of one
// particular class to text and parse it back. Implementations must
// round-trip: Parse(Encode(d)) == d for every d they produced themselves.
type Codec interface {
	ClassName() string
	Encode(d Descriptor) (string, error)
	Parse(blob string) (Descriptor, error)
}

// CodecFactory resolves a Codec by the class_name recorded in info.txt.
// It is the interface the Registry (spec §4.5) exposes to the Controller.
type CodecFactory interface {
	GetCodec(className string) (Codec, error)
}

// CodecRegistry is a concrete, concurrency-safe CodecFactory keyed by
// class name. Unknown class names are a hard error, per spec §4.1.
type CodecRegistry struct {
	mu     sync.RWMutex
	codecs map[string]Codec
}

// NewCodecRegistry returns an empty registry. Use Register to add codecs.
func NewCodecRegistry() *CodecRegistry {
	return &CodecRegistry{codecs: make(map[string]Codec)}
}

// Register adds or replaces the codec for its own ClassName().
func (r *CodecRegistry) Register(c Codec) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.codecs[c.ClassName()] = c
}

// GetCodec implements CodecFactory.
func (r *CodecRegistry) GetCodec(className string) (Codec, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.codecs[className]
	if !ok {
		return nil, fmt.Errorf("rfcache: unknown metadata class %q: %w", className, ErrBadArguments)
	}
	return c, nil
}

// StandardCodecs returns a CodecRegistry preloaded with the two reference
// classes ("http" and "static") this module ships. Callers that need
// additional classes can Register more into the returned registry.
func StandardCodecs() *CodecRegistry {
	r := NewCodecRegistry()
	r.Register(httpCodec{})
	r.Register(staticCodec{})
	return r
}
