package rfcache

import "fmt"

// staticCodec handles descriptors for byte sources that have no remote
// location beyond an opaque path label - an in-process producer, a test
// fixture, or any Source that isn't itself network-addressable.
type staticCodec struct{}

func (staticCodec) ClassName() string { return "static" }

func (staticCodec) Encode(d Descriptor) (string, error) {
	if d.ClassName != "static" {
		return "", fmt.Errorf("rfcache: static codec cannot encode class %q: %w", d.ClassName, ErrBadArguments)
	}
	return encodeKV(
		[2]string{"remote_path", d.RemotePath},
		[2]string{"file_size", fmt.Sprintf("%d", d.FileSize)},
		[2]string{"version", d.Version.String()},
	), nil
}

func (staticCodec) Parse(blob string) (Descriptor, error) {
	fields := parseKV(blob)

	remotePath, err := requireField(fields, "remote_path", "static")
	if err != nil {
		return Descriptor{}, err
	}
	size, err := parseFileSize(fields, "static")
	if err != nil {
		return Descriptor{}, err
	}
	version, err := parseVersion(fields, "static")
	if err != nil {
		return Descriptor{}, err
	}

	return Descriptor{
		RemotePath: remotePath,
		FileSize:   size,
		Version:    version,
		ClassName:  "static",
	}, nil
}

// NewStaticDescriptor builds a fresh descriptor for a static byte source.
func NewStaticDescriptor(label string, fileSize uint64, version string) Descriptor {
	return Descriptor{
		RemotePath: label,
		FileSize:   fileSize,
		Version:    NewVersion(version),
		ClassName:  "static",
	}
}
