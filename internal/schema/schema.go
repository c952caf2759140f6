// Package schema validates workflow documents before they are loaded or
// saved.
package schema

import (
	_ "embed"
	"fmt"
	"strings"
	"sync"

	"github.com/xeipuuv/gojsonschema"

	"github.com/dshills/weavegraph/graph"
)

//go:embed workflow.schema.json
var workflowSchema []byte

var (
	compileOnce sync.Once
	compiled    *gojsonschema.Schema
	compileErr  error
)

func load() (*gojsonschema.Schema, error) {
	compileOnce.Do(func() {
		compiled, compileErr = gojsonschema.NewSchema(gojsonschema.NewBytesLoader(workflowSchema))
	})
	return compiled, compileErr
}

// Error lists every schema violation found in a document.
type Error struct {
	Problems []string
}

func (e *Error) Error() string {
	return "workflow document is invalid: " + strings.Join(e.Problems, "; ")
}

// Raw returns the embedded JSON schema.
func Raw() []byte {
	return append([]byte(nil), workflowSchema...)
}

// Validate checks a JSON or YAML workflow document against the schema.
func Validate(data []byte) error {
	s, err := load()
	if err != nil {
		return fmt.Errorf("compile workflow schema: %w", err)
	}
	if !strings.HasPrefix(strings.TrimSpace(string(data)), "{") {
		if data, err = graph.YAMLToJSON(data); err != nil {
			return err
		}
	}
	result, err := s.Validate(gojsonschema.NewBytesLoader(data))
	if err != nil {
		return fmt.Errorf("validate workflow document: %w", err)
	}
	if result.Valid() {
		return nil
	}
	problems := make([]string, 0, len(result.Errors()))
	for _, re := range result.Errors() {
		problems = append(problems, re.String())
	}
	return &Error{Problems: problems}
}

// Decode validates data and returns the document it describes. Beyond the
// schema, node ids must be unique and edges must reference existing nodes
// without forming a cycle.
func Decode(data []byte) (graph.Document, error) {
	if err := Validate(data); err != nil {
		return graph.Document{}, err
	}
	doc, err := graph.DecodeDocument(data)
	if err != nil {
		return graph.Document{}, err
	}
	if err := Check(doc); err != nil {
		return graph.Document{}, err
	}
	return doc, nil
}

// Check runs the structural checks of Decode on an already decoded
// document.
func Check(doc graph.Document) error {
	types := make(map[string]graph.NodeType, len(doc.Nodes))
	for _, n := range doc.Nodes {
		if _, dup := types[n.ID]; dup {
			return fmt.Errorf("%w: %s", graph.ErrDuplicateNode, n.ID)
		}
		types[n.ID] = n.Type
	}
	return graph.ValidateGraph(types, doc.Edges)
}
