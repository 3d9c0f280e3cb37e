package rfcache

import (
	"fmt"
	"net/url"
)

// httpCodec handles descriptors for a single HTTP(S) object, where
// remote_path is the object's URL.
type httpCodec struct{}

func (httpCodec) ClassName() string { return "http" }

func (httpCodec) Encode(d Descriptor) (string, error) {
	if d.ClassName != "http" {
		return "", fmt.Errorf("rfcache: http codec cannot encode class %q: %w", d.ClassName, ErrBadArguments)
	}
	return encodeKV(
		[2]string{"remote_path", d.RemotePath},
		[2]string{"file_size", fmt.Sprintf("%d", d.FileSize)},
		[2]string{"version", d.Version.String()},
	), nil
}

func (httpCodec) Parse(blob string) (Descriptor, error) {
	fields := parseKV(blob)

	remotePath, err := requireField(fields, "remote_path", "http")
	if err != nil {
		return Descriptor{}, err
	}
	if _, err := url.ParseRequestURI(remotePath); err != nil {
		return Descriptor{}, fmt.Errorf("rfcache: http metadata has invalid remote_path %q: %w", remotePath, ErrLogicalError)
	}
	size, err := parseFileSize(fields, "http")
	if err != nil {
		return Descriptor{}, err
	}
	version, err := parseVersion(fields, "http")
	if err != nil {
		return Descriptor{}, err
	}

	return Descriptor{
		RemotePath: remotePath,
		FileSize:   size,
		Version:    version,
		ClassName:  "http",
	}, nil
}

// NewHTTPDescriptor builds a fresh descriptor for a single HTTP(S) object.
// version is an arbitrary source-side version identifier (an ETag, a
// Last-Modified timestamp, ...); it is normalized to a digest via
// NewVersion so equality comparisons never depend on the source's own
// formatting quirks.
func NewHTTPDescriptor(url string, fileSize uint64, version string) Descriptor {
	return Descriptor{
		RemotePath: url,
		FileSize:   fileSize,
		Version:    NewVersion(version),
		ClassName:  "http",
	}
}
