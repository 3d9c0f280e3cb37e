// Package httpsource provides a sequential io.Reader over an HTTP(S)
// object accessed via Range requests, suitable as the byte source a
// Controller's background download reads from.
//
// Grounded on the teacher's dlClient (client.go) and DownloadManager
// (manager.go), stripped of their multi-reader LRU pool: those exist to
// serve out-of-order ReadAt calls, but a Controller's downloader only
// ever wants the next sequential bytes, so one HTTP connection at a time
// is enough.
package httpsource

import (
	"context"
	"fmt"
	"io"
	"net/http"
)

// Source streams a remote object's body sequentially, transparently
// reconnecting with an updated Range header if the underlying connection
// drops mid-stream.
type Source struct {
	client *http.Client
	url    string
	ctx    context.Context

	pos  int64
	body io.ReadCloser
}

// Option configures a Source.
type Option func(*Source)

// WithClient overrides the http.Client used for requests. The default is
// http.DefaultClient, matching the teacher's own DownloadManager default.
func WithClient(c *http.Client) Option {
	return func(s *Source) { s.client = c }
}

// New builds a Source for url starting at byte offset 0.
func New(url string, opts ...Option) *Source {
	s := &Source{client: http.DefaultClient, url: url, ctx: context.Background()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SetContext gives the source the context its reads should be bound to.
// Controller.downloadLoop calls this with the background task's context
// before the first Read, so cancelling the task (Deactivate) unblocks a
// Read that is stuck waiting on the network instead of only being
// noticed on the next loop iteration. Requests already in flight are not
// retroactively bound to a context set after connect() has run.
func (s *Source) SetContext(ctx context.Context) {
	if ctx != nil {
		s.ctx = ctx
	}
}

// Read implements io.Reader. On the first call, and after any connection
// drop, it issues a fresh ranged GET starting at the last position this
// Source successfully read up to.
func (s *Source) Read(p []byte) (int, error) {
	if s.body == nil {
		if err := s.connect(); err != nil {
			return 0, err
		}
	}

	n, err := s.body.Read(p)
	s.pos += int64(n)

	if err != nil && err != io.EOF {
		s.body.Close()
		s.body = nil
		if reconnErr := s.connect(); reconnErr == nil {
			// Surface a short read with a nil error rather than retrying
			// inline: the Controller's download loop treats any non-EOF
			// error from source.Read as fatal, so the drop is hidden and
			// the next call reads from the fresh connection already in
			// place.
			return n, nil
		}
	}
	return n, err
}

func (s *Source) connect() error {
	req, err := http.NewRequestWithContext(s.ctx, http.MethodGet, s.url, nil)
	if err != nil {
		return err
	}
	if s.pos > 0 {
		req.Header.Set("Range", fmt.Sprintf("bytes=%d-", s.pos))
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusPartialContent {
		resp.Body.Close()
		return fmt.Errorf("httpsource: %s: unexpected status %s", s.url, resp.Status)
	}

	s.body = resp.Body
	return nil
}

// Close releases the underlying connection, if any.
func (s *Source) Close() error {
	if s.body == nil {
		return nil
	}
	err := s.body.Close()
	s.body = nil
	return err
}
