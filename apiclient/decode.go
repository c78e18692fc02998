package apiclient

import (
	"compress/gzip"
	"compress/zlib"
	"fmt"
	"io"
	"strings"

	"github.com/andybalholm/brotli"
)

// acceptEncoding is what a desktop Chrome advertises, minus zstd.
const acceptEncoding = "gzip, deflate, br"

// decodeBody wraps r according to a Content-Encoding header value.
func decodeBody(encoding string, r io.Reader) (io.Reader, error) {
	switch strings.ToLower(strings.TrimSpace(encoding)) {
	case "", "identity":
		return r, nil
	case "gzip", "x-gzip":
		zr, err := gzip.NewReader(r)
		if err != nil {
			return nil, fmt.Errorf("apiclient: gzip: %w", err)
		}
		return zr, nil
	case "br":
		return brotli.NewReader(r), nil
	case "deflate":
		zr, err := zlib.NewReader(r)
		if err != nil {
			return nil, fmt.Errorf("apiclient: deflate: %w", err)
		}
		return zr, nil
	default:
		return nil, fmt.Errorf("apiclient: unsupported content-encoding %q", encoding)
	}
}
