package streaming

import (
	"io"
	"strings"
	"testing"
)

// FuzzProxyBody asserts ProxyBody never panics, OOMs, or loops
// unboundedly on any byte sequence, including partial UTF-8, malformed
// chunk sizes, early EOF, and interleaved CR/LF.
func FuzzProxyBody(f *testing.F) {
	f.Add([]byte("1a\r\nhello world\r\n0\r\n\r\n"))
	f.Add([]byte(""))
	f.Add([]byte("\r\n\r\n\r\n"))
	f.Add([]byte("ffffffffffffffffffffffffffffffffffffffffffff\r\n"))
	f.Add([]byte{0xff, 0x00, 0x0d, 0x0a, 0x0d})
	f.Add([]byte("X-Header: value\r\nX-Other: \xc3\x28\r\n\r\nbody"))

	f.Fuzz(func(t *testing.T, data []byte) {
		if len(data) > 64*1024 {
			t.Skip()
		}

		body := NewProxyBody(closableReader{strings.NewReader(string(data))}, DefaultLimits())
		_, _ = body.HeaderLines()

		body2 := NewProxyBody(closableReader{strings.NewReader(string(data))}, DefaultLimits())
		for i := 0; i < 16; i++ {
			if _, err := body2.ChunkSize(); err != nil {
				break
			}
		}

		buf := make([]byte, 32)
		body3 := NewProxyBody(closableReader{strings.NewReader(string(data))}, DefaultLimits())
		for {
			_, err := body3.Read(buf)
			if err != nil {
				break
			}
		}

		_, _ = ParseChunkSize(data, DefaultLimits().MaxChunkBytes)
		_ = io.Discard
	})
}
