package render

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strings"
	"time"
)

type Asset struct {
	Data        []byte
	ContentType string
}

// Loader fetches one image. progress, if set, receives the bytes read so far.
type Loader interface {
	Load(ctx context.Context, src string, progress func(done int64)) (Asset, error)
}

type LoaderOptions struct {
	Referer string
	Timeout time.Duration
	// Relay rewrites image URLs when images are proxied through the relay.
	Relay func(target string) string
}

type HTTPLoader struct {
	client  *http.Client
	referer string
	timeout time.Duration
	relay   func(string) string
}

func NewHTTPLoader(c *http.Client, opts LoaderOptions) *HTTPLoader {
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}

	return &HTTPLoader{
		client:  c,
		referer: opts.Referer,
		timeout: opts.Timeout,
		relay:   opts.Relay,
	}
}

func (l *HTTPLoader) Load(ctx context.Context, src string, progress func(done int64)) (Asset, error) {
	if strings.HasPrefix(strings.ToLower(src), "data:") {
		return decodeDataURI(src)
	}

	ctx, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()

	target := src
	if l.relay != nil {
		target = l.relay(src)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return Asset{}, err
	}

	if l.referer != "" {
		req.Header.Set("Referer", l.referer)
	}
	req.Header.Set("Accept", "image/avif,image/webp,image/apng,image/*,*/*;q=0.8")
	req.Header.Set("Accept-Language", "en-US,en;q=0.9")
	req.Header.Set("Cache-Control", "no-cache")
	req.Header.Set("Pragma", "no-cache")

	resp, err := l.client.Do(req)
	if err != nil {
		return Asset{}, err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return Asset{}, fmt.Errorf("HTTP %d", resp.StatusCode)
	}

	ct := resp.Header.Get("Content-Type")
	if ct != "" {
		if mt, _, _ := mime.ParseMediaType(ct); !strings.HasPrefix(mt, "image/") {
			return Asset{}, fmt.Errorf("unexpected MIME: %s", ct)
		}
	}

	var buf bytes.Buffer
	if resp.ContentLength > 0 {
		buf.Grow(int(resp.ContentLength))
	}

	written, err := copyWithProgress(&buf, resp.Body, progress)
	if err != nil {
		return Asset{}, err
	}
	if written == 0 {
		return Asset{}, fmt.Errorf("empty image body")
	}

	if progress != nil && resp.ContentLength > 0 && written < resp.ContentLength {
		progress(resp.ContentLength)
	}

	if ct == "" {
		ct = http.DetectContentType(buf.Bytes())
	}

	return Asset{Data: buf.Bytes(), ContentType: ct}, nil
}

// decodeDataURI handles data:[<mediatype>][;base64],<data>.
func decodeDataURI(src string) (Asset, error) {
	rest := src[len("data:"):]

	meta, payload, ok := strings.Cut(rest, ",")
	if !ok {
		return Asset{}, fmt.Errorf("malformed data URI")
	}

	isBase64 := strings.HasSuffix(meta, ";base64")
	ct := strings.TrimSuffix(meta, ";base64")
	if ct == "" {
		ct = "text/plain;charset=US-ASCII"
	}

	if mt, _, err := mime.ParseMediaType(ct); err != nil || !strings.HasPrefix(mt, "image/") {
		return Asset{}, fmt.Errorf("data URI is not an image: %s", ct)
	}

	var data []byte
	if isBase64 {
		b, err := base64.StdEncoding.DecodeString(payload)
		if err != nil {
			return Asset{}, fmt.Errorf("decoding data URI: %w", err)
		}
		data = b
	} else {
		data = unescapeLenient(payload)
	}

	return Asset{Data: data, ContentType: ct}, nil
}

// unescapeLenient decodes %XX sequences and keeps any stray '%' as is;
// hand-written SVG data URIs often contain "100%".
func unescapeLenient(s string) []byte {
	out := make([]byte, 0, len(s))
	for i := 0; i < len(s); i++ {
		if s[i] == '%' && i+2 < len(s) {
			if b, err := hex.DecodeString(s[i+1 : i+3]); err == nil {
				out = append(out, b[0])
				i += 2
				continue
			}
		}
		out = append(out, s[i])
	}
	return out
}

func copyWithProgress(dst io.Writer, src io.Reader, progress func(done int64)) (int64, error) {
	buf := make([]byte, 32*1024)
	var total int64
	for {
		nr, er := src.Read(buf)

		if nr > 0 {
			nw, ew := dst.Write(buf[0:nr])

			if nw > 0 {
				total += int64(nw)
				if progress != nil {
					progress(total)
				}
			}

			if ew != nil {
				return total, ew
			}

			if nr != nw {
				return total, io.ErrShortWrite
			}
		}

		if er != nil {
			if er == io.EOF {
				break
			}
			return total, er
		}
	}

	return total, nil
}
