package model

import (
	"context"
	"sync"
)

// MockChatModel is a test implementation of ChatModel.
//
// Use MockChatModel in tests to exercise node execution without making
// real provider calls. It provides:
//   - Configurable responses
//   - Call history tracking
//   - Error injection, either fixed or per call
//   - Thread-safe operation
//
// Example usage:
//
//	mock := &MockChatModel{
//	    Responses: []ChatOut{
//	        {Text: "First response"},
//	        {Text: "Second response"},
//	    },
//	}
//	out, err := mock.Chat(ctx, model.Request{UserMessage: "hi"})
//	// Returns "First response", then "Second response" on subsequent calls
//
// Example failing twice before succeeding:
//
//	mock := &MockChatModel{
//	    Errs:      []error{errors.New("503 service unavailable"), errors.New("429")},
//	    Responses: []ChatOut{{Text: "ok"}},
//	}
type MockChatModel struct {
	// Responses contains the sequence of responses to return.
	// If all responses are consumed, the last response repeats.
	Responses []ChatOut

	// Err, if set, is returned by every call.
	Err error

	// Errs is consumed one per call before any response is returned; a
	// nil entry lets that call succeed.
	Errs []error

	// Calls tracks the history of all Chat() invocations.
	Calls []Request

	mu        sync.Mutex
	callIndex int
	errIndex  int
}

// Chat implements the ChatModel interface.
//
// Always records the call in Calls history regardless of success/failure.
func (m *MockChatModel) Chat(ctx context.Context, req Request) (ChatOut, error) {
	if ctx.Err() != nil {
		return ChatOut{}, ctx.Err()
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.Calls = append(m.Calls, req)

	if m.Err != nil {
		return ChatOut{}, m.Err
	}
	if m.errIndex < len(m.Errs) {
		err := m.Errs[m.errIndex]
		m.errIndex++
		if err != nil {
			return ChatOut{}, err
		}
	}

	if len(m.Responses) == 0 {
		return ChatOut{}, nil
	}

	idx := m.callIndex
	if idx >= len(m.Responses) {
		idx = len(m.Responses) - 1
	} else {
		m.callIndex++
	}

	return m.Responses[idx], nil
}

// Reset clears the call history and rewinds responses and errors.
func (m *MockChatModel) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.Calls = nil
	m.callIndex = 0
	m.errIndex = 0
}

// CallCount returns the number of times Chat() has been called.
func (m *MockChatModel) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	return len(m.Calls)
}

// LastCall returns the most recent request, if any.
func (m *MockChatModel) LastCall() (Request, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.Calls) == 0 {
		return Request{}, false
	}
	return m.Calls[len(m.Calls)-1], true
}
