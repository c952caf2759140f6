package emit

// Emitter receives and processes observability events from the engine.
//
// Implementations should be:
//   - Non-blocking: avoid slowing down graph mutations and node runs
//   - Thread-safe: may be called concurrently from independent node runs
//   - Resilient: handle backend failures without panicking
type Emitter interface {
	// Emit sends an observability event to the configured backend.
	Emit(event Event)
}

// MultiEmitter fans each event out to several emitters in order.
type MultiEmitter []Emitter

// Emit forwards the event to every non-nil emitter.
func (m MultiEmitter) Emit(event Event) {
	for _, e := range m {
		if e != nil {
			e.Emit(event)
		}
	}
}

// Multi builds a MultiEmitter, dropping nil entries. A single survivor is
// returned unwrapped.
func Multi(emitters ...Emitter) Emitter {
	var out MultiEmitter
	for _, e := range emitters {
		if e != nil {
			out = append(out, e)
		}
	}
	switch len(out) {
	case 0:
		return NewNullEmitter()
	case 1:
		return out[0]
	}
	return out
}
