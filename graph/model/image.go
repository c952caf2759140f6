package model

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"regexp"
	"strings"
	"time"
)

// Image is a decoded inline image ready to attach to a Request.
type Image struct {
	MIMEType string
	Data     []byte
}

// Base64 returns the standard base64 encoding of the image bytes.
func (img Image) Base64() string {
	return base64.StdEncoding.EncodeToString(img.Data)
}

// DataURI returns the image as a data: URI.
func (img Image) DataURI() string {
	return "data:" + img.MIMEType + ";base64," + img.Base64()
}

// DefaultImageMIME is used when an image's type is missing or unsupported.
const DefaultImageMIME = "image/jpeg"

var supportedImageMIME = map[string]bool{
	"image/jpeg": true,
	"image/jpg":  true,
	"image/png":  true,
	"image/webp": true,
	"image/gif":  true,
}

// NormalizeImageMIME lowercases t, strips parameters, and falls back to
// DefaultImageMIME for types providers do not accept.
func NormalizeImageMIME(t string) string {
	if mt, _, err := mime.ParseMediaType(t); err == nil {
		t = mt
	}
	t = strings.ToLower(strings.TrimSpace(t))
	if !supportedImageMIME[t] {
		return DefaultImageMIME
	}
	return t
}

var (
	dataURIPattern = regexp.MustCompile(`^data:([^;]+);base64,(.+)$`)
	base64Fallback = regexp.MustCompile(`base64,(.+)$`)
	bareBase64     = regexp.MustCompile(`^[A-Za-z0-9+/=]+$`)
)

// minBareBase64 is the shortest string accepted as bare base64 image data.
// Shorter values are almost always stray text wired to an image handle.
const minBareBase64 = 100

// ErrInvalidImage is wrapped by every error from ImageLoader.Load.
var ErrInvalidImage = errors.New("invalid image reference")

// ImageLoader turns image references into inline Images. A reference is a
// base64 data URI, an http(s) URL, or bare base64 of at least 100 chars.
type ImageLoader struct {
	// Client fetches http(s) references. nil uses a client with a 30s timeout.
	Client *http.Client
}

var defaultImageClient = &http.Client{Timeout: 30 * time.Second}

// Load resolves a single reference.
func (l ImageLoader) Load(ctx context.Context, ref string) (Image, error) {
	ref = strings.TrimSpace(ref)
	switch {
	case ref == "":
		return Image{}, fmt.Errorf("%w: empty", ErrInvalidImage)
	case strings.HasPrefix(ref, "data:"):
		return DecodeDataURI(ref)
	case strings.HasPrefix(ref, "http://"), strings.HasPrefix(ref, "https://"):
		return l.fetch(ctx, ref)
	}
	if len(ref) < minBareBase64 || !bareBase64.MatchString(ref) {
		return Image{}, fmt.Errorf("%w: looks like text: %q", ErrInvalidImage, truncate(ref, 50))
	}
	data, err := base64.StdEncoding.DecodeString(ref)
	if err != nil {
		return Image{}, fmt.Errorf("%w: %v", ErrInvalidImage, err)
	}
	return Image{MIMEType: DefaultImageMIME, Data: data}, nil
}

// LoadAll resolves refs in order. References that fail are skipped and
// their errors returned alongside the images that loaded.
func (l ImageLoader) LoadAll(ctx context.Context, refs []string) ([]Image, []error) {
	var (
		images  []Image
		dropped []error
	)
	for _, ref := range refs {
		img, err := l.Load(ctx, ref)
		if err != nil {
			dropped = append(dropped, err)
			continue
		}
		images = append(images, img)
	}
	return images, dropped
}

// DecodeDataURI parses a base64 data: URI into an Image.
func DecodeDataURI(uri string) (Image, error) {
	mimeType := DefaultImageMIME
	var payload string
	if m := dataURIPattern.FindStringSubmatch(uri); m != nil {
		mimeType = m[1]
		payload = m[2]
	} else if m := base64Fallback.FindStringSubmatch(uri); m != nil {
		payload = m[1]
	} else {
		return Image{}, fmt.Errorf("%w: malformed data URI %q", ErrInvalidImage, truncate(uri, 100))
	}
	if strings.TrimSpace(payload) == "" {
		return Image{}, fmt.Errorf("%w: empty data URI payload", ErrInvalidImage)
	}
	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return Image{}, fmt.Errorf("%w: %v", ErrInvalidImage, err)
	}
	return Image{MIMEType: NormalizeImageMIME(mimeType), Data: data}, nil
}

func (l ImageLoader) fetch(ctx context.Context, url string) (Image, error) {
	client := l.Client
	if client == nil {
		client = defaultImageClient
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return Image{}, fmt.Errorf("%w: %v", ErrInvalidImage, err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return Image{}, fmt.Errorf("%w: fetch %s: %v", ErrInvalidImage, url, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return Image{}, fmt.Errorf("%w: fetch %s: %s", ErrInvalidImage, url, resp.Status)
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return Image{}, fmt.Errorf("%w: read %s: %v", ErrInvalidImage, url, err)
	}
	if len(data) == 0 {
		return Image{}, fmt.Errorf("%w: empty response from %s", ErrInvalidImage, url)
	}
	return Image{MIMEType: NormalizeImageMIME(resp.Header.Get("Content-Type")), Data: data}, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
