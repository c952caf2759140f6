package emit

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"
)

// LogEmitter implements Emitter by writing structured log lines to a writer.
//
// Supports two output modes:
//   - Text mode (default): human-readable format with key=value pairs
//   - JSON mode: one JSON object per line
//
// Example text output:
//
//	[node_run_start] runID=3f2c... nodeID=llm-1718000000000-a1b2c3d4e type=llm
//
// Example JSON output:
//
//	{"runID":"3f2c...","nodeID":"llm-1718000000000-a1b2c3d4e","nodeType":"llm","msg":"node_run_start","meta":null}
type LogEmitter struct {
	mu       sync.Mutex
	writer   io.Writer
	jsonMode bool
}

// NewLogEmitter creates a new LogEmitter. A nil writer selects os.Stderr.
func NewLogEmitter(writer io.Writer, jsonMode bool) *LogEmitter {
	if writer == nil {
		writer = os.Stderr
	}
	return &LogEmitter{
		writer:   writer,
		jsonMode: jsonMode,
	}
}

// Emit writes an event to the configured writer.
func (l *LogEmitter) Emit(event Event) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.jsonMode {
		l.emitJSON(event)
	} else {
		l.emitText(event)
	}
}

func (l *LogEmitter) emitJSON(event Event) {
	data, err := json.Marshal(struct {
		RunID    string                 `json:"runID"`
		NodeID   string                 `json:"nodeID"`
		NodeType string                 `json:"nodeType"`
		Msg      string                 `json:"msg"`
		Meta     map[string]interface{} `json:"meta"`
	}{
		RunID:    event.RunID,
		NodeID:   event.NodeID,
		NodeType: event.NodeType,
		Msg:      event.Msg,
		Meta:     event.Meta,
	})
	if err != nil {
		fmt.Fprintf(l.writer, "{\"error\":\"failed to marshal event: %v\"}\n", err)
		return
	}

	fmt.Fprintf(l.writer, "%s\n", data)
}

func (l *LogEmitter) emitText(event Event) {
	fmt.Fprintf(l.writer, "[%s]", event.Msg)
	if event.RunID != "" {
		fmt.Fprintf(l.writer, " runID=%s", event.RunID)
	}
	if event.NodeID != "" {
		fmt.Fprintf(l.writer, " nodeID=%s", event.NodeID)
	}
	if event.NodeType != "" {
		fmt.Fprintf(l.writer, " type=%s", event.NodeType)
	}

	if len(event.Meta) > 0 {
		metaJSON, err := json.Marshal(event.Meta)
		if err == nil {
			fmt.Fprintf(l.writer, " meta=%s", metaJSON)
		} else {
			fmt.Fprintf(l.writer, " meta=%v", event.Meta)
		}
	}

	fmt.Fprint(l.writer, "\n")
}
