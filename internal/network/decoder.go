// internal/network/decoder.go
package network

import (
	"bytes"
	"compress/flate"
	"compress/gzip"
	"compress/zlib"
	"errors"
	"fmt"
	"io"
	"mime"
	"strings"
	"sync"

	"github.com/andybalholm/brotli"
	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/htmlindex"
	"golang.org/x/text/encoding/ianaindex"
)

// Pools for decompression readers to reduce allocation overhead.
var (
	gzipReaderPool = sync.Pool{
		New: func() interface{} {
			return new(gzip.Reader)
		},
	}

	brotliReaderPool = sync.Pool{
		New: func() interface{} {
			return brotli.NewReader(nil)
		},
	}
)

// ErrUnsupportedEncoding is returned for a Content-Encoding layer the decoder cannot undo.
var ErrUnsupportedEncoding = errors.New("unsupported content encoding")

// ErrUnsupportedCharset is returned when the Content-Type names an unknown charset.
var ErrUnsupportedCharset = errors.New("unsupported charset")

// BodyDecoder turns raw response bytes into text, undoing any Content-Encoding
// and applying the charset announced by Content-Type.
//
// Text media types without a charset are decoded as ISO-8859-1. Other media
// types without a charset are returned byte for byte. Invalid byte sequences
// are replaced with U+FFFD rather than reported.
type BodyDecoder struct{}

// NewBodyDecoder returns the decoder used for every page of the handshake.
func NewBodyDecoder() *BodyDecoder {
	return &BodyDecoder{}
}

// Decode implements the body decoding contract.
func (d *BodyDecoder) Decode(raw []byte, contentEncoding, contentType string) (string, error) {
	body, err := decompress(raw, contentEncoding)
	if err != nil {
		return "", err
	}

	if contentType == "" {
		return string(body), nil
	}

	mediaType, params := parseContentType(contentType)
	if cs, ok := params["charset"]; ok && cs != "" {
		enc, err := lookupCharset(cs)
		if err != nil {
			return "", err
		}
		return decodeWith(enc, body)
	}
	if strings.Contains(mediaType, "text") {
		return decodeWith(charmap.ISO8859_1, body)
	}
	return string(body), nil
}

// lookupCharset prefers the IANA registry so that a declared ISO-8859-1 means
// exactly that, and falls back to the WHATWG labels browsers accept.
func lookupCharset(name string) (encoding.Encoding, error) {
	if enc, err := ianaindex.IANA.Encoding(name); err == nil && enc != nil {
		return enc, nil
	}
	if enc, err := htmlindex.Get(name); err == nil {
		return enc, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnsupportedCharset, name)
}

func decodeWith(enc encoding.Encoding, body []byte) (string, error) {
	out, err := enc.NewDecoder().Bytes(body)
	if err != nil {
		return "", fmt.Errorf("charset decoding failed: %w", err)
	}
	return strings.ToValidUTF8(string(out), "\uFFFD"), nil
}

// parseContentType is lenient: a malformed parameter list still yields the media type.
func parseContentType(contentType string) (string, map[string]string) {
	mediaType, params, err := mime.ParseMediaType(contentType)
	if err != nil && mediaType == "" {
		mediaType, _, _ = strings.Cut(contentType, ";")
		mediaType = strings.ToLower(strings.TrimSpace(mediaType))
	}
	if params == nil {
		params = map[string]string{}
	}
	return mediaType, params
}

// decompress undoes each Content-Encoding layer. Layers are listed in the
// order they were applied, so they are removed in reverse.
func decompress(raw []byte, contentEncoding string) ([]byte, error) {
	if strings.TrimSpace(contentEncoding) == "" {
		return raw, nil
	}

	layers := strings.Split(contentEncoding, ",")
	body := raw
	for i := len(layers) - 1; i >= 0; i-- {
		layer := strings.ToLower(strings.TrimSpace(layers[i]))

		var err error
		switch layer {
		case "gzip", "x-gzip":
			body, err = gunzip(body)
		case "deflate":
			body, err = inflate(body)
		case "br":
			body, err = unbrotli(body)
		case "identity", "":
			continue
		default:
			return nil, fmt.Errorf("%w: %s", ErrUnsupportedEncoding, layer)
		}
		if err != nil {
			return nil, fmt.Errorf("%s decoding error: %w", layer, err)
		}
	}
	return body, nil
}

func gunzip(body []byte) ([]byte, error) {
	zr := gzipReaderPool.Get().(*gzip.Reader)
	defer func() {
		// Resetting with an empty reader returns io.EOF, which is expected here.
		_ = zr.Reset(bytes.NewReader(nil))
		gzipReaderPool.Put(zr)
	}()

	if err := zr.Reset(bytes.NewReader(body)); err != nil {
		return nil, err
	}
	out, err := io.ReadAll(zr)
	return out, errors.Join(err, zr.Close())
}

func unbrotli(body []byte) ([]byte, error) {
	br := brotliReaderPool.Get().(*brotli.Reader)
	defer func() {
		_ = br.Reset(bytes.NewReader(nil))
		brotliReaderPool.Put(br)
	}()

	if err := br.Reset(bytes.NewReader(body)); err != nil {
		return nil, err
	}
	return io.ReadAll(br)
}

// inflate decodes a zlib-wrapped stream (RFC 1950), falling back to raw
// deflate (RFC 1951) because servers disagree on what "deflate" means.
func inflate(body []byte) ([]byte, error) {
	if zr, err := zlib.NewReader(bytes.NewReader(body)); err == nil {
		out, readErr := io.ReadAll(zr)
		closeErr := zr.Close()
		if readErr == nil {
			return out, closeErr
		}
	}

	fr := flate.NewReader(bytes.NewReader(body))
	out, err := io.ReadAll(fr)
	return out, errors.Join(err, fr.Close())
}
