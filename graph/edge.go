package graph

// Edge is a directed connection: Target's TargetHandle input consumes
// Source's SourceHandle output.
type Edge struct {
	ID           string `json:"id" yaml:"id"`
	Source       string `json:"source" yaml:"source"`
	Target       string `json:"target" yaml:"target"`
	SourceHandle string `json:"sourceHandle,omitempty" yaml:"sourceHandle,omitempty"`
	TargetHandle string `json:"targetHandle,omitempty" yaml:"targetHandle,omitempty"`
}

// Connection is a proposed edge, not yet admitted.
type Connection struct {
	Source       string `json:"source"`
	Target       string `json:"target"`
	SourceHandle string `json:"sourceHandle,omitempty"`
	TargetHandle string `json:"targetHandle,omitempty"`
}

// EdgeID returns the canonical id for a connection, of the form
// "edge-<source>:<sourceHandle>-><target>:<targetHandle>". Two connections
// with the same endpoints and handles share an id. Ids containing the
// separators can still collide; the store keeps admitted ids unique.
func EdgeID(c Connection) string {
	return "edge-" + c.Source + ":" + c.SourceHandle + "->" + c.Target + ":" + c.TargetHandle
}

// Edge converts the connection into an edge with its canonical id.
func (c Connection) Edge() Edge {
	return Edge{
		ID:           EdgeID(c),
		Source:       c.Source,
		Target:       c.Target,
		SourceHandle: c.SourceHandle,
		TargetHandle: c.TargetHandle,
	}
}

// Connection returns the endpoints of e.
func (e Edge) Connection() Connection {
	return Connection{
		Source:       e.Source,
		Target:       e.Target,
		SourceHandle: e.SourceHandle,
		TargetHandle: e.TargetHandle,
	}
}

// sameEndpoints reports whether e joins the same handles as c.
func (e Edge) sameEndpoints(c Connection) bool {
	return e.Source == c.Source && e.Target == c.Target &&
		e.SourceHandle == c.SourceHandle && e.TargetHandle == c.TargetHandle
}

// sourceHandle returns the producer handle, treating empty as "output".
func (e Edge) sourceHandle() string {
	if e.SourceHandle == "" {
		return OutputHandle
	}
	return e.SourceHandle
}
