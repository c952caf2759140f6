package media

import (
	"context"
	"sync"
)

// MockProcessor is a scripted Processor for tests.
//
// With no scripted outputs Crop returns the source image unchanged and
// ExtractFrame returns "". Outputs are consumed in order; once exhausted
// the last one repeats.
//
// Example usage:
//
//	mock := &media.MockProcessor{CropOutputs: []string{"data:image/png;base64,AAAA"}}
//	out, _ := mock.Crop(ctx, media.CropRequest{ImageURL: src})
type MockProcessor struct {
	CropOutputs  []string
	FrameOutputs []string

	// Err, when set, is returned by every call.
	Err error

	CropCalls  []CropRequest
	FrameCalls []FrameRequest

	mu         sync.Mutex
	cropIndex  int
	frameIndex int
}

// Crop implements Processor.
func (m *MockProcessor) Crop(ctx context.Context, req CropRequest) (string, error) {
	if ctx.Err() != nil {
		return "", ctx.Err()
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	m.CropCalls = append(m.CropCalls, req)
	if m.Err != nil {
		return "", m.Err
	}
	if len(m.CropOutputs) == 0 {
		return req.ImageURL, nil
	}
	out := m.CropOutputs[min(m.cropIndex, len(m.CropOutputs)-1)]
	m.cropIndex++
	return out, nil
}

// ExtractFrame implements Processor.
func (m *MockProcessor) ExtractFrame(ctx context.Context, req FrameRequest) (string, error) {
	if ctx.Err() != nil {
		return "", ctx.Err()
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	m.FrameCalls = append(m.FrameCalls, req)
	if m.Err != nil {
		return "", m.Err
	}
	if len(m.FrameOutputs) == 0 {
		return "", nil
	}
	out := m.FrameOutputs[min(m.frameIndex, len(m.FrameOutputs)-1)]
	m.frameIndex++
	return out, nil
}

// Reset clears recorded calls and rewinds scripted outputs.
func (m *MockProcessor) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.CropCalls = nil
	m.FrameCalls = nil
	m.cropIndex = 0
	m.frameIndex = 0
}

// CallCount returns the total number of calls made.
func (m *MockProcessor) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.CropCalls) + len(m.FrameCalls)
}
