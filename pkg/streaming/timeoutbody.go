// Package streaming implements the Timeout Body and Proxy Body adapters
// that sit on the Forward path between an upstream response and the
// client: deadline enforcement and defensive byte scanning over a
// plain io.ReadCloser, the natural Go shape for a chunked-frame source
// with poll_next_frame/is_end_stream/size_hint-style semantics.
package streaming

import (
	"io"
	"sync"
	"time"

	govern "github.com/olegmukhin/thoughtgate/pkg/govern/errors"
)

type readResult struct {
	n   int
	err error
}

// TimeoutBody wraps a streaming response body with a per-read chunk
// deadline and a whole-stream total deadline. total_deadline is armed
// exactly once, on the first Read; chunk_deadline is rearmed on every Read.
// Once either deadline fires the body is permanently failed: the
// underlying source is closed to unblock any in-flight Read, and every
// subsequent call returns the same *govern.Error.
type TimeoutBody struct {
	src          io.ReadCloser
	chunkTimeout time.Duration
	totalTimeout time.Duration

	mu            sync.Mutex
	started       bool
	totalDeadline time.Time
	fatal         *govern.Error

	resCh chan readResult
}

// NewTimeoutBody constructs a TimeoutBody. chunkTimeout == 0 means every
// Read must complete immediately — the first poll of a slow source times
// out at once.
func NewTimeoutBody(src io.ReadCloser, chunkTimeout, totalTimeout time.Duration) *TimeoutBody {
	return &TimeoutBody{
		src:          src,
		chunkTimeout: chunkTimeout,
		totalTimeout: totalTimeout,
		resCh:        make(chan readResult, 1),
	}
}

func (tb *TimeoutBody) Read(p []byte) (int, error) {
	tb.mu.Lock()
	if tb.fatal != nil {
		err := tb.fatal
		tb.mu.Unlock()
		return 0, err
	}
	if !tb.started {
		tb.totalDeadline = time.Now().Add(tb.totalTimeout)
		tb.started = true
	}
	totalDeadline := tb.totalDeadline
	tb.mu.Unlock()

	if !time.Now().Before(totalDeadline) {
		return tb.fail(govern.UpstreamTimeout(govern.DeadlineTotal))
	}

	chunkTimer := time.NewTimer(tb.chunkTimeout)
	defer chunkTimer.Stop()
	totalTimer := time.NewTimer(time.Until(totalDeadline))
	defer totalTimer.Stop()

	go func() {
		n, err := tb.src.Read(p)
		tb.resCh <- readResult{n: n, err: err}
	}()

	select {
	case r := <-tb.resCh:
		return r.n, r.err
	case <-chunkTimer.C:
		return tb.fail(govern.UpstreamTimeout(govern.DeadlineChunk))
	case <-totalTimer.C:
		return tb.fail(govern.UpstreamTimeout(govern.DeadlineTotal))
	}
}

func (tb *TimeoutBody) fail(err *govern.Error) (int, error) {
	tb.mu.Lock()
	alreadyFatal := tb.fatal
	if alreadyFatal == nil {
		tb.fatal = err
	}
	tb.mu.Unlock()

	tb.src.Close()
	if alreadyFatal != nil {
		return 0, alreadyFatal
	}
	return 0, err
}

// Close implements io.Closer, delegating to the wrapped source.
func (tb *TimeoutBody) Close() error {
	tb.mu.Lock()
	if tb.fatal == nil {
		tb.fatal = govern.UpstreamTransport(io.ErrClosedPipe)
	}
	tb.mu.Unlock()
	return tb.src.Close()
}
