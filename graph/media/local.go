package media

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"image"
	_ "image/gif"  // register GIF decoder
	_ "image/jpeg" // register JPEG decoder
	"image/png"
	"math"
	"os"
	"os/exec"
	"strconv"
	"strings"

	"github.com/dshills/weavegraph/graph/model"
)

// CommandRunner runs an external program and returns its stdout.
type CommandRunner func(ctx context.Context, name string, args ...string) ([]byte, error)

// Local processes media in-process. Crops decode and re-encode images with
// the standard image codecs; frames are extracted by the ffmpeg binary.
//
// Outputs are PNG data URIs so they feed straight into LLM image inputs.
type Local struct {
	// Loader fetches image sources.
	Loader model.ImageLoader

	// FFmpeg and FFprobe are the binaries used for video. Empty values
	// use "ffmpeg" and "ffprobe" from PATH.
	FFmpeg  string
	FFprobe string

	// Run executes the binaries. nil uses os/exec.
	Run CommandRunner
}

// NewLocal creates a Local processor with default binaries.
func NewLocal() *Local {
	return &Local{}
}

// Crop implements Processor.
func (l *Local) Crop(ctx context.Context, req CropRequest) (string, error) {
	if err := req.Validate(); err != nil {
		return "", err
	}
	src, err := l.Loader.Load(ctx, req.ImageURL)
	if err != nil {
		return "", fmt.Errorf("load image: %w", err)
	}
	img, _, err := image.Decode(bytes.NewReader(src.Data))
	if err != nil {
		return "", fmt.Errorf("%w: decode %s: %v", ErrUnsupported, src.MIMEType, err)
	}

	rect := cropRect(img.Bounds(), req)
	if rect.Empty() {
		return "", fmt.Errorf("%w: crop area is empty", ErrInvalidRequest)
	}
	sub, ok := img.(interface {
		SubImage(r image.Rectangle) image.Image
	})
	if !ok {
		return "", fmt.Errorf("%w: image type %T cannot be cropped", ErrUnsupported, img)
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, sub.SubImage(rect)); err != nil {
		return "", fmt.Errorf("encode crop: %w", err)
	}
	return model.Image{MIMEType: "image/png", Data: buf.Bytes()}.DataURI(), nil
}

// cropRect converts percentages to pixels within bounds. Edges are rounded
// and the rectangle is clamped to the image.
func cropRect(b image.Rectangle, req CropRequest) image.Rectangle {
	w, h := float64(b.Dx()), float64(b.Dy())
	x0 := b.Min.X + int(math.Round(w*req.XPercent/100))
	y0 := b.Min.Y + int(math.Round(h*req.YPercent/100))
	x1 := x0 + int(math.Round(w*req.WidthPercent/100))
	y1 := y0 + int(math.Round(h*req.HeightPercent/100))
	return image.Rect(x0, y0, x1, y1).Intersect(b)
}

// ExtractFrame implements Processor.
func (l *Local) ExtractFrame(ctx context.Context, req FrameRequest) (string, error) {
	if err := req.Validate(); err != nil {
		return "", err
	}
	ts, err := ParseTimestamp(req.Timestamp)
	if err != nil {
		return "", err
	}

	src, err := videoSource(req.VideoURL)
	if err != nil {
		return "", err
	}
	defer src.cleanup()

	seconds := ts.Value
	if ts.Percent {
		duration, err := l.probeDuration(ctx, src)
		if err != nil {
			return "", err
		}
		seconds = ts.Seconds(duration)
	}

	out, err := l.run(ctx, l.binary(l.FFmpeg, "ffmpeg"),
		"-hide_banner", "-loglevel", "error",
		"-protocol_whitelist", src.protocols,
		"-ss", strconv.FormatFloat(seconds, 'f', 3, 64),
		"-i", src.path,
		"-frames:v", "1",
		"-f", "image2pipe", "-vcodec", "png",
		"pipe:1",
	)
	if err != nil {
		return "", fmt.Errorf("extract frame: %w", err)
	}
	if len(out) == 0 {
		return "", fmt.Errorf("extract frame: no frame at %.3fs", seconds)
	}
	return model.Image{MIMEType: "image/png", Data: out}.DataURI(), nil
}

func (l *Local) probeDuration(ctx context.Context, src video) (float64, error) {
	out, err := l.run(ctx, l.binary(l.FFprobe, "ffprobe"),
		"-v", "error",
		"-protocol_whitelist", src.protocols,
		"-show_entries", "format=duration",
		"-of", "default=noprint_wrappers=1:nokey=1",
		src.path,
	)
	if err != nil {
		return 0, fmt.Errorf("probe duration: %w", err)
	}
	d, err := strconv.ParseFloat(strings.TrimSpace(string(out)), 64)
	if err != nil {
		return 0, fmt.Errorf("probe duration: unexpected output %q", strings.TrimSpace(string(out)))
	}
	return d, nil
}

func (l *Local) binary(configured, fallback string) string {
	if configured != "" {
		return configured
	}
	return fallback
}

func (l *Local) run(ctx context.Context, name string, args ...string) ([]byte, error) {
	if l.Run != nil {
		return l.Run(ctx, name, args...)
	}
	return execRunner(ctx, name, args...)
}

func execRunner(ctx context.Context, name string, args ...string) ([]byte, error) {
	var stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stderr = &stderr
	out, err := cmd.Output()
	if err != nil {
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return nil, fmt.Errorf("%s: %w: %s", name, err, msg)
		}
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	return out, nil
}

// video is an ffmpeg input and the protocols ffmpeg may use to read it.
type video struct {
	path      string
	protocols string
	cleanup   func()
}

// Protocol whitelists for the two accepted kinds of video reference.
const (
	remoteProtocols = "http,https,tcp,tls"
	fileProtocols   = "file"
)

// videoSource returns an input ffmpeg can read. Only http(s) URLs and
// base64 data URIs are accepted; data URIs are written to a temp file
// removed by cleanup.
func videoSource(ref string) (video, error) {
	ref = strings.TrimSpace(ref)
	noop := func() {}
	lower := strings.ToLower(ref)
	switch {
	case strings.HasPrefix(lower, "http://"), strings.HasPrefix(lower, "https://"):
		return video{path: ref, protocols: remoteProtocols, cleanup: noop}, nil
	case !strings.HasPrefix(lower, "data:"):
		return video{}, fmt.Errorf("%w: video must be an http(s) URL or a data URI", ErrInvalidRequest)
	}

	idx := strings.Index(ref, ";base64,")
	if idx < 0 {
		return video{}, fmt.Errorf("%w: video data URI must be base64", ErrInvalidRequest)
	}
	data, err := base64.StdEncoding.DecodeString(ref[idx+len(";base64,"):])
	if err != nil {
		return video{}, fmt.Errorf("%w: video data URI: %v", ErrInvalidRequest, err)
	}

	f, err := os.CreateTemp("", "weave-video-*")
	if err != nil {
		return video{}, fmt.Errorf("temp file: %w", err)
	}
	name := f.Name()
	cleanup := func() { _ = os.Remove(name) }
	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		cleanup()
		return video{}, fmt.Errorf("write temp video: %w", err)
	}
	if err := f.Close(); err != nil {
		cleanup()
		return video{}, fmt.Errorf("write temp video: %w", err)
	}
	return video{path: name, protocols: fileProtocols, cleanup: cleanup}, nil
}
