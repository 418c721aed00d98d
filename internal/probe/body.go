package probe

import (
	"bytes"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"strings"

	"github.com/andybalholm/brotli"
	"github.com/klauspost/compress/flate"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zlib"
)

// maxBodySample caps how much body is read for the login heuristics.
const maxBodySample = 512 * 1024

// sampleBody reads up to maxBodySample bytes of the response body when the
// media type is textual (or absent), undoing the transport Content-Encoding.
// On decompression failure the raw bytes are used as-is. The result is a
// best-effort UTF-8 string; a non-textual body yields "".
func (p *Prober) sampleBody(resp *http.Response) string {
	if !textualMediaType(resp.Header.Get("Content-Type")) {
		return ""
	}

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySample))
	if err != nil && len(raw) == 0 {
		p.logger.Debug("body read failed", slog.Any("error", err))
		return ""
	}

	encoding := strings.ToLower(strings.TrimSpace(resp.Header.Get("Content-Encoding")))
	decoded, derr := decode(raw, encoding)
	if derr != nil {
		// Servers occasionally mislabel uncompressed bodies.
		decoded = raw
	}
	return string(decoded)
}

// textualMediaType reports whether a Content-Type suggests HTML, text, XML,
// or JSON. An absent or unparsable value counts as textual: HTML-less
// servers are rare and the sample is cheap.
func textualMediaType(contentType string) bool {
	if contentType == "" {
		return true
	}
	mt, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return true
	}
	if strings.HasPrefix(mt, "text/") {
		return true
	}
	for _, hint := range []string{"html", "xml", "json"} {
		if strings.Contains(mt, hint) {
			return true
		}
	}
	return false
}

// decode undoes a single transport content coding. "deflate" accepts both
// zlib-wrapped and raw DEFLATE streams, matching browser behaviour.
func decode(raw []byte, encoding string) ([]byte, error) {
	switch encoding {
	case "", "identity":
		return raw, nil
	case "gzip":
		zr, err := gzip.NewReader(bytes.NewReader(raw))
		if err != nil {
			return nil, err
		}
		defer zr.Close()
		return io.ReadAll(io.LimitReader(zr, maxBodySample))
	case "deflate":
		zr, err := zlib.NewReader(bytes.NewReader(raw))
		if err == nil {
			defer zr.Close()
			if out, rerr := io.ReadAll(io.LimitReader(zr, maxBodySample)); rerr == nil {
				return out, nil
			}
		}
		fr := flate.NewReader(bytes.NewReader(raw))
		defer fr.Close()
		return io.ReadAll(io.LimitReader(fr, maxBodySample))
	case "br":
		return io.ReadAll(io.LimitReader(brotli.NewReader(bytes.NewReader(raw)), maxBodySample))
	default:
		return raw, nil
	}
}
