package streaming

import (
	"bufio"
	"errors"
	"io"
)

// Limits bounds the defensive scanning ProxyBody performs. Defaults match
// the proxy_peek.* configuration options in pkg/config.
type Limits struct {
	MaxHeaderLines     int
	MaxHeaderLineBytes int
	MaxChunkBytes      int64
	MaxParserProgress  int64
}

// DefaultLimits returns the conservative defaults operators can override
// via proxy.peek configuration.
func DefaultLimits() Limits {
	return Limits{
		MaxHeaderLines:     100,
		MaxHeaderLineBytes: 8192,
		MaxChunkBytes:      1 << 20,
		MaxParserProgress:  1 << 20,
	}
}

var (
	// ErrChunkTooLarge is returned when a parsed chunk-size exceeds MaxChunkBytes.
	ErrChunkTooLarge = errors.New("streaming: chunk size exceeds limit")
	// ErrInvalidChunkSize is returned when a chunk-size line is not valid hex.
	ErrInvalidChunkSize = errors.New("streaming: invalid chunk size")
	// ErrHeaderLineTooLong is returned when a header-like line exceeds MaxHeaderLineBytes.
	ErrHeaderLineTooLong = errors.New("streaming: header line too long")
	// ErrTooManyHeaderLines is returned when a scan exceeds MaxHeaderLines.
	ErrTooManyHeaderLines = errors.New("streaming: too many header lines")
	// ErrParserProgressExceeded guards against pathological inputs driving
	// unbounded parsing work across repeated calls on one ProxyBody.
	ErrParserProgressExceeded = errors.New("streaming: parser progress limit exceeded")
)

const peekSize = 64

// ProxyBody is a defensive byte pump over an untrusted upstream body: it
// forwards bytes to the caller via Read unmodified (zero-copy, bounded by
// the caller's own buffer) while offering bounded, panic-free helpers for
// interpreting chunk-size and header-line framing embedded in raw streams
// that bypass Go's own chunked-transfer decoding (e.g. a raw proxied MCP
// connection). No accumulation of the stream happens inside ProxyBody: its
// working memory is bufio's fixed 4096-byte buffer (Peek exposes at most
// peekSize bytes of it) plus one line buffer bounded by MaxHeaderLineBytes
// while a line is being parsed.
type ProxyBody struct {
	r        *bufio.Reader
	src      io.ReadCloser
	limits   Limits
	progress int64
}

// NewProxyBody wraps src. limits.MaxParserProgress bounds the cumulative
// bytes consumed across all ChunkSize/HeaderLines calls on this
// instance — once exceeded, those methods fail closed rather than loop.
func NewProxyBody(src io.ReadCloser, limits Limits) *ProxyBody {
	return &ProxyBody{
		r:      bufio.NewReaderSize(src, 4096),
		src:    src,
		limits: limits,
	}
}

// Read forwards bytes from the wrapped source unmodified. It never buffers
// more than the caller's own slice plus bufio's fixed internal buffer.
func (pb *ProxyBody) Read(p []byte) (int, error) {
	return pb.r.Read(p)
}

// Close closes the wrapped source.
func (pb *ProxyBody) Close() error {
	return pb.src.Close()
}

// Peek returns up to peekSize bytes without consuming them, for
// diagnostics or boundary sniffing. It never allocates beyond peekSize and
// never returns more than is currently buffered.
func (pb *ProxyBody) Peek() []byte {
	b, _ := pb.r.Peek(peekSize)
	return b
}

// ChunkSize reads and consumes one hex chunk-size line (terminated by
// "\r\n" or "\n") from the wrapped reader, enforcing MaxChunkBytes and the
// cumulative parser-progress cap. A zero-size chunk is valid and signals
// end of body, matching the "zero-size chunk marks end of body" rule.
func (pb *ProxyBody) ChunkSize() (int64, error) {
	line, consumed, err := readBoundedLine(pb.r, pb.limits.MaxHeaderLineBytes)
	pb.progress += int64(consumed)
	if pb.progress > pb.limits.MaxParserProgress {
		return 0, ErrParserProgressExceeded
	}
	if err != nil {
		return 0, err
	}
	return ParseChunkSize(line, pb.limits.MaxChunkBytes)
}

// HeaderLines reads up to MaxHeaderLines header-like lines, stopping at
// the first blank line (or EOF), enforcing MaxHeaderLineBytes per line and
// the cumulative parser-progress cap.
func (pb *ProxyBody) HeaderLines() ([][]byte, error) {
	var lines [][]byte
	for i := 0; i < pb.limits.MaxHeaderLines; i++ {
		line, consumed, err := readBoundedLine(pb.r, pb.limits.MaxHeaderLineBytes)
		pb.progress += int64(consumed)
		if pb.progress > pb.limits.MaxParserProgress {
			return lines, ErrParserProgressExceeded
		}
		if err != nil {
			if err == io.EOF {
				return lines, nil
			}
			return lines, err
		}
		if len(line) == 0 {
			return lines, nil
		}
		lines = append(lines, line)
	}
	return lines, ErrTooManyHeaderLines
}

// readBoundedLine reads one line (trimming a trailing CRLF or LF), never
// consuming more than maxBytes before giving up. It is panic-free for any
// input, including a reader that never produces a line terminator.
func readBoundedLine(r *bufio.Reader, maxBytes int) (line []byte, consumed int, err error) {
	buf := make([]byte, 0, 64)
	for {
		b, err := r.ReadByte()
		if err != nil {
			if len(buf) == 0 {
				return nil, consumed, err
			}
			return buf, consumed, nil
		}
		consumed++
		if b == '\n' {
			if n := len(buf); n > 0 && buf[n-1] == '\r' {
				buf = buf[:n-1]
			}
			return buf, consumed, nil
		}
		if len(buf) >= maxBytes {
			return nil, consumed, ErrHeaderLineTooLong
		}
		buf = append(buf, b)
	}
}

// ParseChunkSize parses a hexadecimal chunk-size line (as produced by
// readBoundedLine, chunk-extension-free) into a byte count, rejecting
// anything non-hex, empty, or exceeding maxBytes. It never panics on any
// input slice, including empty or arbitrarily long ones.
func ParseChunkSize(line []byte, maxBytes int64) (int64, error) {
	if len(line) == 0 || len(line) > 16 {
		return 0, ErrInvalidChunkSize
	}
	var size int64
	for _, c := range line {
		var digit int64
		switch {
		case c >= '0' && c <= '9':
			digit = int64(c - '0')
		case c >= 'a' && c <= 'f':
			digit = int64(c-'a') + 10
		case c >= 'A' && c <= 'F':
			digit = int64(c-'A') + 10
		default:
			return 0, ErrInvalidChunkSize
		}
		size = size*16 + digit
		if size > maxBytes {
			return 0, ErrChunkTooLarge
		}
	}
	return size, nil
}
