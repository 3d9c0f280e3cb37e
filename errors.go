package rfcache

import "errors"

// Sentinel error kinds. Callers should match these with errors.Is; the
// concrete error returned from a given call is usually wrapped with
// additional context via fmt.Errorf("...: %w", ErrX).
var (
	// ErrBadArguments covers programmer errors: an unknown metadata class
	// on recovery, closing a reader handle that isn't open, or starting a
	// download from a state other than TO_DOWNLOAD.
	ErrBadArguments = errors.New("rfcache: bad arguments")

	// ErrLogicalError covers a declared metadata class whose blob fails to
	// parse, or an on-disk entry whose data.bin size disagrees with its
	// descriptor's file size.
	ErrLogicalError = errors.New("rfcache: logical error")

	// ErrEndOfFile names the end-of-file condition, which is not a
	// controller failure. WaitMoreData reports it as WaitEndOfFile rather
	// than returning this error.
	ErrEndOfFile = errors.New("rfcache: end of file")

	// ErrIOError wraps failures from the byte source or the local
	// filesystem encountered by the background download.
	ErrIOError = errors.New("rfcache: io error")
)
