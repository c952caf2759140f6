package executor

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/dshills/weavegraph/graph"
	"github.com/dshills/weavegraph/graph/media"
)

// Crop runs cropImage nodes through a media Processor.
type Crop struct {
	Processor media.Processor
}

// NewCrop returns a Crop executor backed by p.
func NewCrop(p media.Processor) *Crop {
	return &Crop{Processor: p}
}

// Run implements Executor.
func (c *Crop) Run(ctx context.Context, node graph.Node, in Inputs) (Outcome, error) {
	d, ok := node.Data.(*graph.CropImageData)
	if !ok {
		return Outcome{}, fmt.Errorf("%w: node %s is %s", graph.ErrDataMismatch, node.ID, node.Type)
	}

	req := media.CropRequest{ImageURL: d.ImageURL}
	if v, ok := in.First(graph.HandleImageURL); ok {
		req.ImageURL = v
	}
	percents := []struct {
		handle string
		field  string
		direct float64
		dst    *float64
	}{
		{graph.HandleXPercent, "xPercent", d.XPercent, &req.XPercent},
		{graph.HandleYPercent, "yPercent", d.YPercent, &req.YPercent},
		{graph.HandleWidthPercent, "widthPercent", d.WidthPercent, &req.WidthPercent},
		{graph.HandleHeightPercent, "heightPercent", d.HeightPercent, &req.HeightPercent},
	}
	var perr error
	for _, p := range percents {
		*p.dst = p.direct
		if v, ok := in.First(p.handle); ok {
			f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
			if err != nil && perr == nil {
				perr = graph.NewValidationError(node.ID, p.field, p.field+" must be a number")
			}
			*p.dst = f
		}
	}

	outcome := Outcome{Inputs: map[string]any{
		"imageUrl":      recordedRef(req.ImageURL),
		"xPercent":      req.XPercent,
		"yPercent":      req.YPercent,
		"widthPercent":  req.WidthPercent,
		"heightPercent": req.HeightPercent,
	}}
	if perr != nil {
		return outcome, perr
	}
	for _, p := range percents {
		if v := *p.dst; math.IsNaN(v) || v < 0 || v > 100 {
			return outcome, graph.NewValidationError(node.ID, p.field, p.field+" must be between 0 and 100")
		}
	}
	if strings.TrimSpace(req.ImageURL) == "" {
		return outcome, graph.NewValidationError(node.ID, "imageUrl", "Image URL is required")
	}
	if c.Processor == nil {
		return outcome, fmt.Errorf("no media processor configured for node %s", node.ID)
	}

	outcome.Attempts = 1
	url, err := withTimeout(ctx, in.settings().mediaTimeout, "crop", func(ctx context.Context) (string, error) {
		return c.Processor.Crop(ctx, req)
	})
	if err != nil {
		return outcome, mediaError(node.ID, "crop image", err)
	}
	if url == "" {
		url = req.ImageURL
	}
	outcome.Patch = graph.Patch{"outputUrl": url}
	outcome.Outputs = map[string]any{"outputUrl": recordedRef(url)}
	return outcome, nil
}

var errNoFrame = errors.New("processor returned no frame")

// Frame runs extractFrame nodes through a media Processor.
type Frame struct {
	Processor media.Processor
}

// NewFrame returns a Frame executor backed by p.
func NewFrame(p media.Processor) *Frame {
	return &Frame{Processor: p}
}

// Run implements Executor. The timestamp is passed to the processor as
// written.
func (f *Frame) Run(ctx context.Context, node graph.Node, in Inputs) (Outcome, error) {
	d, ok := node.Data.(*graph.ExtractFrameData)
	if !ok {
		return Outcome{}, fmt.Errorf("%w: node %s is %s", graph.ErrDataMismatch, node.ID, node.Type)
	}

	req := media.FrameRequest{VideoURL: d.VideoURL, Timestamp: d.Timestamp}
	if v, ok := in.First(graph.HandleVideoURL); ok {
		req.VideoURL = v
	}
	if v, ok := in.First(graph.HandleTimestamp); ok {
		req.Timestamp = v
	}

	outcome := Outcome{Inputs: map[string]any{
		"videoUrl":  recordedRef(req.VideoURL),
		"timestamp": req.Timestamp,
	}}
	if strings.TrimSpace(req.VideoURL) == "" {
		return outcome, graph.NewValidationError(node.ID, "videoUrl", "Video URL is required")
	}
	if f.Processor == nil {
		return outcome, fmt.Errorf("no media processor configured for node %s", node.ID)
	}

	outcome.Attempts = 1
	url, err := withTimeout(ctx, in.settings().mediaTimeout, "frame extraction", func(ctx context.Context) (string, error) {
		return f.Processor.ExtractFrame(ctx, req)
	})
	if err != nil {
		return outcome, mediaError(node.ID, "extract frame", err)
	}
	if url == "" {
		return outcome, mediaError(node.ID, "extract frame", errNoFrame)
	}
	outcome.Patch = graph.Patch{"outputUrl": url}
	outcome.Outputs = map[string]any{"outputUrl": recordedRef(url)}
	return outcome, nil
}

// mediaError classifies a processor failure. Invalid requests become
// validation errors; everything else keeps the processor's wording.
func mediaError(nodeID, op string, err error) error {
	switch {
	case errors.Is(err, media.ErrInvalidRequest):
		return &RunError{Category: CategoryValidation, Message: err.Error(), Cause: graph.NewValidationError(nodeID, "", err.Error())}
	case errors.Is(err, context.DeadlineExceeded):
		return &RunError{Category: CategoryTimeout, Message: "Failed to " + op + ": request timed out", Cause: err}
	}
	return &RunError{Category: CategoryGeneric, Message: "Failed to " + op + ": " + err.Error(), Cause: err}
}

// maxRecordedRef bounds media references kept in the ledger; data URIs
// are summarized.
const maxRecordedRef = 200

func recordedRef(ref string) string {
	if strings.HasPrefix(ref, "data:") {
		mime := strings.TrimPrefix(ref, "data:")
		if i := strings.IndexAny(mime, ";,"); i >= 0 {
			mime = mime[:i]
		}
		return fmt.Sprintf("data:%s (%d bytes)", mime, len(ref))
	}
	if len(ref) > maxRecordedRef {
		return ref[:maxRecordedRef]
	}
	return ref
}
