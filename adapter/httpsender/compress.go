package httpsender

import (
	"bytes"
	"fmt"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
)

// zstdEncoder is reused across requests. EncodeAll is safe for concurrent use.
var zstdEncoder *zstd.Encoder

func init() {
	var err error
	zstdEncoder, err = zstd.NewWriter(nil,
		zstd.WithEncoderLevel(zstd.SpeedDefault),
		zstd.WithEncoderConcurrency(1),
	)
	if err != nil {
		panic("httpsender: zstd encoder initialization failed: " + err.Error())
	}
}

// compress encodes body with the named algorithm and returns the matching
// Content-Encoding value. Bodies below minBytes are returned unchanged.
func compress(algo string, body []byte, minBytes int) ([]byte, string, error) {
	if len(body) < minBytes {
		return body, "", nil
	}
	switch algo {
	case CompressionGzip:
		var buf bytes.Buffer
		w := gzip.NewWriter(&buf)
		if _, err := w.Write(body); err != nil {
			return nil, "", fmt.Errorf("gzip: %w", err)
		}
		if err := w.Close(); err != nil {
			return nil, "", fmt.Errorf("gzip: %w", err)
		}
		return buf.Bytes(), "gzip", nil
	case CompressionZstd:
		return zstdEncoder.EncodeAll(body, make([]byte, 0, len(body)/2)), "zstd", nil
	default:
		return body, "", nil
	}
}
