// Package media provides the image and video operations behind crop and
// frame extraction nodes.
package media

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Processor defines the media operations a workflow can run.
//
// Implementations should:
//   - Accept data: URIs and http(s) URLs as sources
//   - Return a reference usable as an image source downstream
//     (a data: URI or an http(s) URL)
//   - Respect context cancellation and timeouts
//   - Be idempotent: the same request yields an equivalent output
//
// Available implementations:
//   - Local: in-process crop, frame extraction via the ffmpeg binary
//   - Remote: delegates to an HTTP media service
//   - MockProcessor: scripted results for tests
type Processor interface {
	// Crop extracts the rectangle described by req from an image.
	Crop(ctx context.Context, req CropRequest) (string, error)

	// ExtractFrame captures a single frame of a video as an image.
	ExtractFrame(ctx context.Context, req FrameRequest) (string, error)
}

// CropRequest describes a crop rectangle as percentages of the source
// image's dimensions, each in [0,100].
type CropRequest struct {
	ImageURL      string  `json:"imageUrl"`
	XPercent      float64 `json:"xPercent"`
	YPercent      float64 `json:"yPercent"`
	WidthPercent  float64 `json:"widthPercent"`
	HeightPercent float64 `json:"heightPercent"`
}

// Validate checks that the source is set and every percent is in range.
func (r CropRequest) Validate() error {
	if strings.TrimSpace(r.ImageURL) == "" {
		return fmt.Errorf("%w: image URL is required", ErrInvalidRequest)
	}
	for _, f := range []struct {
		name string
		v    float64
	}{
		{"xPercent", r.XPercent},
		{"yPercent", r.YPercent},
		{"widthPercent", r.WidthPercent},
		{"heightPercent", r.HeightPercent},
	} {
		if f.v < 0 || f.v > 100 {
			return fmt.Errorf("%w: %s must be between 0 and 100, got %g", ErrInvalidRequest, f.name, f.v)
		}
	}
	return nil
}

// FrameRequest identifies a frame by video and timestamp. Timestamp is
// seconds ("12.5") or a percentage of the duration ("50%").
type FrameRequest struct {
	VideoURL  string `json:"videoUrl"`
	Timestamp string `json:"timestamp"`
}

// Validate checks that the source is set.
func (r FrameRequest) Validate() error {
	if strings.TrimSpace(r.VideoURL) == "" {
		return fmt.Errorf("%w: video URL is required", ErrInvalidRequest)
	}
	return nil
}

// ErrInvalidRequest is wrapped by validation failures.
var ErrInvalidRequest = errors.New("invalid media request")

// ErrUnsupported indicates a source format the processor cannot handle.
var ErrUnsupported = errors.New("unsupported media")

// Timestamp is a parsed frame position.
type Timestamp struct {
	// Value is seconds, or a percentage when Percent is set.
	Value   float64
	Percent bool
}

// ParseTimestamp parses "12.5", "50%" or "" (start of video).
func ParseTimestamp(s string) (Timestamp, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Timestamp{}, nil
	}
	percent := strings.HasSuffix(s, "%")
	v, err := strconv.ParseFloat(strings.TrimSpace(strings.TrimSuffix(s, "%")), 64)
	if err != nil {
		return Timestamp{}, fmt.Errorf("%w: timestamp %q is not a number of seconds or a percentage", ErrInvalidRequest, s)
	}
	if v < 0 || (percent && v > 100) {
		return Timestamp{}, fmt.Errorf("%w: timestamp %q out of range", ErrInvalidRequest, s)
	}
	return Timestamp{Value: v, Percent: percent}, nil
}

// Seconds resolves the timestamp against a video duration in seconds.
func (t Timestamp) Seconds(duration float64) float64 {
	if !t.Percent {
		return t.Value
	}
	return duration * t.Value / 100
}
