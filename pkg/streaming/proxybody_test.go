package streaming

import (
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

type closableReader struct{ io.Reader }

func (closableReader) Close() error { return nil }

func newBody(s string) *ProxyBody {
	return NewProxyBody(closableReader{strings.NewReader(s)}, DefaultLimits())
}

func TestParseChunkSize_ValidHex(t *testing.T) {
	n, err := ParseChunkSize([]byte("1a"), 1<<20)
	require.NoError(t, err)
	require.Equal(t, int64(0x1a), n)
}

func TestParseChunkSize_ZeroIsEndOfBody(t *testing.T) {
	n, err := ParseChunkSize([]byte("0"), 1<<20)
	require.NoError(t, err)
	require.Equal(t, int64(0), n)
}

func TestParseChunkSize_RejectsNonHex(t *testing.T) {
	_, err := ParseChunkSize([]byte("zz"), 1<<20)
	require.ErrorIs(t, err, ErrInvalidChunkSize)
}

func TestParseChunkSize_RejectsEmpty(t *testing.T) {
	_, err := ParseChunkSize(nil, 1<<20)
	require.ErrorIs(t, err, ErrInvalidChunkSize)
}

func TestParseChunkSize_RejectsOverLimit(t *testing.T) {
	_, err := ParseChunkSize([]byte("FFFFFFF"), 1024) // 0xFFFFFFF way over 1024
	require.ErrorIs(t, err, ErrChunkTooLarge)
}

func TestChunkSize_ReadsFromStream(t *testing.T) {
	body := newBody("1a\r\nrest of body")
	n, err := body.ChunkSize()
	require.NoError(t, err)
	require.Equal(t, int64(0x1a), n)
}

func TestHeaderLines_StopsAtBlankLine(t *testing.T) {
	body := newBody("X-A: 1\r\nX-B: 2\r\n\r\nbody")
	lines, err := body.HeaderLines()
	require.NoError(t, err)
	require.Len(t, lines, 2)
	require.Equal(t, "X-A: 1", string(lines[0]))
}

func TestHeaderLines_CapsAtMaxLines(t *testing.T) {
	limits := DefaultLimits()
	limits.MaxHeaderLines = 3
	body := NewProxyBody(closableReader{strings.NewReader("a\r\nb\r\nc\r\nd\r\ne\r\n")}, limits)

	_, err := body.HeaderLines()
	require.ErrorIs(t, err, ErrTooManyHeaderLines)
}

func TestHeaderLines_RejectsOverlongLine(t *testing.T) {
	limits := DefaultLimits()
	limits.MaxHeaderLineBytes = 4
	body := NewProxyBody(closableReader{strings.NewReader("way too long a line\r\n")}, limits)

	_, err := body.HeaderLines()
	require.ErrorIs(t, err, ErrHeaderLineTooLong)
}

func TestParserProgressCap_FailsClosedOnOverlongScan(t *testing.T) {
	limits := DefaultLimits()
	limits.MaxParserProgress = 8
	body := NewProxyBody(closableReader{strings.NewReader("aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa\r\n")}, limits)

	_, err := body.HeaderLines()
	require.Error(t, err)
}

func TestRead_PassesBytesThroughUnmodified(t *testing.T) {
	body := newBody("hello world")
	buf := make([]byte, 5)
	n, err := body.Read(buf)
	require.NoError(t, err)
	require.Equal(t, "hello", string(buf[:n]))
}

func TestReadBoundedLine_NeverPanicsOnTruncatedInput(t *testing.T) {
	require.NotPanics(t, func() {
		body := newBody("no terminator at all")
		_, _ = body.HeaderLines()
	})
}
