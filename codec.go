package rfcache

import (
	"fmt"
	"strconv"
	"strings"

	digest "github.com/opencontainers/go-digest"
)

// parseKV parses the minimal line-oriented "key=value" text blob shared by
// this module's reference codecs. It intentionally does not reach for a
// serialization library: the record is three scalar fields, and the
// corpus's own on-disk records of similar size (the teacher's part.go
// varint-prefixed bitmap) are hand-rolled too.
func parseKV(blob string) map[string]string {
	fields := make(map[string]string)
	for _, line := range strings.Split(blob, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		k, v, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		fields[k] = v
	}
	return fields
}

func encodeKV(fields ...[2]string) string {
	var b strings.Builder
	for _, f := range fields {
		b.WriteString(f[0])
		b.WriteByte('=')
		b.WriteString(f[1])
		b.WriteByte('\n')
	}
	return b.String()
}

func requireField(fields map[string]string, key, class string) (string, error) {
	v, ok := fields[key]
	if !ok {
		return "", fmt.Errorf("rfcache: %s metadata missing %q: %w", class, key, ErrLogicalError)
	}
	return v, nil
}

func parseVersion(fields map[string]string, class string) (digest.Digest, error) {
	v, err := requireField(fields, "version", class)
	if err != nil {
		return "", err
	}
	d, err := digest.Parse(v)
	if err != nil {
		return "", fmt.Errorf("rfcache: %s metadata has invalid version digest %q: %w", class, v, ErrLogicalError)
	}
	return d, nil
}

func parseFileSize(fields map[string]string, class string) (uint64, error) {
	v, err := requireField(fields, "file_size", class)
	if err != nil {
		return 0, err
	}
	size, err := strconv.ParseUint(v, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("rfcache: %s metadata has invalid file_size %q: %w", class, v, ErrLogicalError)
	}
	return size, nil
}
