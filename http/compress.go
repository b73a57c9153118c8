package http

import (
	"bytes"
	"compress/flate"
	"compress/zlib"
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"io"
	"net/http"
	"sort"
	"strconv"
	"strings"
)

// CompressionConfig is the server's compression policy. The algorithm
// list order is also the preference order.
type CompressionConfig struct {
	Enabled bool `mapstructure:"enabled"`
	// Algorithms lists the supported encodings in preference order.
	Algorithms []string `mapstructure:"algorithms"`
	// MinSize is the smallest body, in bytes, worth compressing.
	MinSize int `mapstructure:"min_size"`
	// CompressibleTypes, when set, is an explicit allow-list of content
	// types; otherwise everything not excluded is eligible.
	CompressibleTypes []string `mapstructure:"compressible_types"`
	// ExcludedTypes are never compressed.
	ExcludedTypes []string `mapstructure:"excluded_types"`
}

// DefaultCompressionConfig mirrors the usual server policy: compress
// textual payloads of at least 1 KiB, leave media formats alone.
func DefaultCompressionConfig() CompressionConfig {
	return CompressionConfig{
		Enabled:    true,
		Algorithms: []string{"gzip", "deflate"},
		MinSize:    1024,
		ExcludedTypes: []string{
			"image/jpeg", "image/png", "application/zip",
			"application/gzip", "video/mp4",
		},
	}
}

type encodingPref struct {
	name    string
	quality float64
}

// ParseAcceptEncoding parses an Accept-Encoding header into encoding
// preferences sorted by descending quality. Quality-zero entries are
// dropped; entries without a q parameter default to 1.
func ParseAcceptEncoding(header string) []encodingPref {
	var prefs []encodingPref

	for _, field := range strings.Split(header, ",") {
		field = strings.TrimSpace(field)
		if field == "" {
			continue
		}

		name, rest, _ := strings.Cut(field, ";")
		name = strings.ToLower(strings.TrimSpace(name))
		quality := 1.0

		for _, param := range strings.Split(rest, ";") {
			k, v, ok := strings.Cut(strings.TrimSpace(param), "=")
			if !ok || strings.TrimSpace(k) != "q" {
				continue
			}
			if q, err := strconv.ParseFloat(strings.TrimSpace(v), 64); err == nil {
				quality = q
			}
		}

		if quality <= 0 {
			continue
		}
		prefs = append(prefs, encodingPref{name: name, quality: quality})
	}

	sort.SliceStable(prefs, func(i, j int) bool {
		return prefs[i].quality > prefs[j].quality
	})
	return prefs
}

// Negotiate picks the client's most preferred encoding that server
// policy also supports. An empty result disables compression for the
// response.
func (c CompressionConfig) Negotiate(acceptEncoding string) string {
	if !c.Enabled {
		return ""
	}

	for _, pref := range ParseAcceptEncoding(acceptEncoding) {
		for _, alg := range c.Algorithms {
			if pref.name == alg || pref.name == "*" {
				return alg
			}
		}
	}
	return ""
}

// shouldCompress applies the policy gates that do not depend on the
// compressed size: enablement, threshold, content type, and an already
// present encoding.
func (c CompressionConfig) shouldCompress(contentType string, size int, existingEncoding string) bool {
	if !c.Enabled || size < c.MinSize || existingEncoding != "" {
		return false
	}

	mediaType := contentType
	if i := strings.Index(mediaType, ";"); i >= 0 {
		mediaType = mediaType[:i]
	}
	mediaType = strings.ToLower(strings.TrimSpace(mediaType))

	for _, t := range c.ExcludedTypes {
		if mediaType == strings.ToLower(t) {
			return false
		}
	}

	if len(c.CompressibleTypes) > 0 {
		for _, t := range c.CompressibleTypes {
			if mediaType == strings.ToLower(t) {
				return true
			}
		}
		return false
	}

	return true
}

// gzip envelope constants per RFC 1952.
const (
	gzipID1       = 0x1f
	gzipID2       = 0x8b
	gzipDeflate   = 8
	gzipOSUnknown = 0xff

	gzipFlagHCRC    = 1 << 1
	gzipFlagExtra   = 1 << 2
	gzipFlagName    = 1 << 3
	gzipFlagComment = 1 << 4
)

// Compress encodes data with the named algorithm.
func Compress(algorithm string, data []byte) ([]byte, error) {
	switch algorithm {
	case "gzip":
		return gzipCompress(data)
	case "deflate":
		return deflateCompress(data)
	default:
		return nil, fmt.Errorf("compress: unsupported algorithm: %s", algorithm)
	}
}

// Decompress is the inverse of Compress.
func Decompress(algorithm string, data []byte) ([]byte, error) {
	switch algorithm {
	case "gzip":
		return gzipDecompress(data)
	case "deflate":
		return deflateDecompress(data)
	default:
		return nil, fmt.Errorf("decompress: unsupported algorithm: %s", algorithm)
	}
}

// gzipCompress builds the gzip envelope by hand: the fixed 10-byte
// header, the raw deflate stream, and the CRC-32/ISIZE trailer. The
// deflate primitive emits no wrapping of its own, so nothing needs to
// be stripped.
func gzipCompress(data []byte) ([]byte, error) {
	var buf bytes.Buffer

	// header: magic, method, flags, mtime (zeroed), extra flags, OS
	buf.Write([]byte{gzipID1, gzipID2, gzipDeflate, 0, 0, 0, 0, 0, 0, gzipOSUnknown})

	fw, err := flate.NewWriter(&buf, flate.DefaultCompression)
	if err != nil {
		return nil, fmt.Errorf("gzip compress: %w", err)
	}
	if _, err := fw.Write(data); err != nil {
		return nil, fmt.Errorf("gzip compress: %w", err)
	}
	if err := fw.Close(); err != nil {
		return nil, fmt.Errorf("gzip compress: %w", err)
	}

	var trailer [8]byte
	binary.LittleEndian.PutUint32(trailer[0:4], crc32.ChecksumIEEE(data))
	binary.LittleEndian.PutUint32(trailer[4:8], uint32(len(data)))
	buf.Write(trailer[:])

	return buf.Bytes(), nil
}

// gzipDecompress parses the envelope, honoring the optional header
// fields per their flag bits, inflates the payload, and verifies the
// trailer.
func gzipDecompress(data []byte) ([]byte, error) {
	if len(data) < 18 {
		return nil, fmt.Errorf("gzip decompress: truncated stream")
	}
	if data[0] != gzipID1 || data[1] != gzipID2 {
		return nil, fmt.Errorf("gzip decompress: bad magic")
	}
	if data[2] != gzipDeflate {
		return nil, fmt.Errorf("gzip decompress: unsupported compression method %d", data[2])
	}

	flags := data[3]
	offset := 10

	if flags&gzipFlagExtra != 0 {
		if len(data) < offset+2 {
			return nil, fmt.Errorf("gzip decompress: truncated extra field")
		}
		extraLen := int(binary.LittleEndian.Uint16(data[offset : offset+2]))
		offset += 2 + extraLen
		if offset > len(data) {
			return nil, fmt.Errorf("gzip decompress: truncated extra field")
		}
	}

	for _, flag := range []byte{gzipFlagName, gzipFlagComment} {
		if flags&flag == 0 {
			continue
		}
		if offset > len(data) {
			return nil, fmt.Errorf("gzip decompress: unterminated header string")
		}
		end := bytes.IndexByte(data[offset:], 0)
		if end < 0 {
			return nil, fmt.Errorf("gzip decompress: unterminated header string")
		}
		offset += end + 1
	}

	if flags&gzipFlagHCRC != 0 {
		offset += 2
	}

	if len(data) < offset+8 {
		return nil, fmt.Errorf("gzip decompress: truncated stream")
	}

	body := data[offset : len(data)-8]
	fr := flate.NewReader(bytes.NewReader(body))
	defer func() { _ = fr.Close() }()

	out, err := io.ReadAll(fr)
	if err != nil {
		return nil, fmt.Errorf("gzip decompress: inflate: %w", err)
	}

	trailer := data[len(data)-8:]
	if crc32.ChecksumIEEE(out) != binary.LittleEndian.Uint32(trailer[0:4]) {
		return nil, fmt.Errorf("gzip decompress: checksum mismatch")
	}
	if uint32(len(out)) != binary.LittleEndian.Uint32(trailer[4:8]) {
		return nil, fmt.Errorf("gzip decompress: length mismatch")
	}

	return out, nil
}

func deflateCompress(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	fw, err := flate.NewWriter(&buf, flate.DefaultCompression)
	if err != nil {
		return nil, fmt.Errorf("deflate compress: %w", err)
	}
	if _, err := fw.Write(data); err != nil {
		return nil, fmt.Errorf("deflate compress: %w", err)
	}
	if err := fw.Close(); err != nil {
		return nil, fmt.Errorf("deflate compress: %w", err)
	}
	return buf.Bytes(), nil
}

// deflateDecompress accepts both raw deflate and the zlib-wrapped form
// some clients send under the deflate token.
func deflateDecompress(data []byte) ([]byte, error) {
	fr := flate.NewReader(bytes.NewReader(data))
	out, err := io.ReadAll(fr)
	_ = fr.Close()
	if err == nil {
		return out, nil
	}

	zr, zerr := zlib.NewReader(bytes.NewReader(data))
	if zerr != nil {
		return nil, fmt.Errorf("deflate decompress: %w", err)
	}
	defer func() { _ = zr.Close() }()

	out, zerr = io.ReadAll(zr)
	if zerr != nil {
		return nil, fmt.Errorf("deflate decompress: %w", zerr)
	}
	return out, nil
}

// bufferingResponseWriter captures the handler's response so the
// middleware can decide on compression after the body is complete.
type bufferingResponseWriter struct {
	header http.Header
	status int
	body   bytes.Buffer
}

func newBufferingResponseWriter() *bufferingResponseWriter {
	return &bufferingResponseWriter{header: make(http.Header), status: http.StatusOK}
}

func (b *bufferingResponseWriter) Header() http.Header { return b.header }

func (b *bufferingResponseWriter) WriteHeader(status int) { b.status = status }

func (b *bufferingResponseWriter) Write(p []byte) (int, error) { return b.body.Write(p) }

// appendVary adds a dimension to the Vary header unless already listed.
func appendVary(h http.Header, value string) {
	existing := h.Get("Vary")
	for _, v := range strings.Split(existing, ",") {
		if strings.EqualFold(strings.TrimSpace(v), value) {
			return
		}
	}
	if existing == "" {
		h.Set("Vary", value)
		return
	}
	h.Set("Vary", existing+", "+value)
}

// CompressionMiddleware returns middleware that transparently inflates
// compressed request bodies and conditionally compresses responses per
// the configured policy. A compressed form is only used when it is
// strictly smaller than the original.
func CompressionMiddleware(cfg CompressionConfig) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if enc := strings.ToLower(r.Header.Get("Content-Encoding")); enc == "gzip" || enc == "deflate" {
				body, err := io.ReadAll(r.Body)
				if err == nil {
					body, err = Decompress(enc, body)
				}
				if err != nil {
					WriteBadRequest(w, "Malformed compressed request body")
					return
				}
				r.Body = io.NopCloser(bytes.NewReader(body))
				r.Header.Del("Content-Encoding")
				r.ContentLength = int64(len(body))
			}

			algorithm := cfg.Negotiate(r.Header.Get("Accept-Encoding"))
			if algorithm == "" {
				next.ServeHTTP(w, r)
				return
			}

			buf := newBufferingResponseWriter()
			next.ServeHTTP(buf, r)

			header := w.Header()
			for k, vals := range buf.header {
				header[k] = vals
			}

			body := buf.body.Bytes()
			if cfg.shouldCompress(header.Get("Content-Type"), len(body), header.Get("Content-Encoding")) {
				if compressed, err := Compress(algorithm, body); err == nil && len(compressed) < len(body) {
					header.Set("Content-Encoding", algorithm)
					appendVary(header, "Accept-Encoding")
					body = compressed
				}
			}

			header.Set("Content-Length", strconv.Itoa(len(body)))
			w.WriteHeader(buf.status)
			_, _ = w.Write(body)
		})
	}
}
