package graph

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Document is the serialized form of a workflow graph: nodes with their
// tagged data and the ordered edge list.
type Document struct {
	Nodes []Node `json:"nodes"`
	Edges []Edge `json:"edges"`
}

// EncodeDocument returns the indented JSON encoding of doc.
func EncodeDocument(doc Document) ([]byte, error) {
	if doc.Nodes == nil {
		doc.Nodes = []Node{}
	}
	if doc.Edges == nil {
		doc.Edges = []Edge{}
	}
	return json.MarshalIndent(doc, "", "  ")
}

// DecodeDocument parses a workflow document in JSON or YAML. YAML input is
// converted to JSON first so both formats share the tagged-union decoding.
func DecodeDocument(b []byte) (Document, error) {
	trimmed := strings.TrimSpace(string(b))
	if !strings.HasPrefix(trimmed, "{") {
		converted, err := YAMLToJSON(b)
		if err != nil {
			return Document{}, err
		}
		b = converted
	}
	var doc Document
	if err := json.Unmarshal(b, &doc); err != nil {
		return Document{}, fmt.Errorf("decode workflow document: %w", err)
	}
	return doc, nil
}

// YAMLToJSON converts a YAML document into equivalent JSON.
func YAMLToJSON(b []byte) ([]byte, error) {
	var v interface{}
	if err := yaml.Unmarshal(b, &v); err != nil {
		return nil, fmt.Errorf("decode workflow yaml: %w", err)
	}
	out, err := json.Marshal(normalizeYAML(v))
	if err != nil {
		return nil, fmt.Errorf("convert workflow yaml: %w", err)
	}
	return out, nil
}

// normalizeYAML turns map[interface{}]interface{} values, which
// encoding/json cannot marshal, into map[string]interface{}.
func normalizeYAML(v interface{}) interface{} {
	switch t := v.(type) {
	case map[string]interface{}:
		for k, val := range t {
			t[k] = normalizeYAML(val)
		}
		return t
	case map[interface{}]interface{}:
		m := make(map[string]interface{}, len(t))
		for k, val := range t {
			m[fmt.Sprint(k)] = normalizeYAML(val)
		}
		return m
	case []interface{}:
		for i, val := range t {
			t[i] = normalizeYAML(val)
		}
		return t
	}
	return v
}

// PersistFilter returns a copy of doc suitable for durable storage: inline
// data: URIs in imageUrl, videoUrl and outputUrl are dropped because they
// can be arbitrarily large. http(s) references are kept.
func PersistFilter(doc Document) Document {
	out := Document{
		Nodes: make([]Node, len(doc.Nodes)),
		Edges: append([]Edge{}, doc.Edges...),
	}
	for i, n := range doc.Nodes {
		n = n.Clone()
		switch d := n.Data.(type) {
		case *UploadImageData:
			d.ImageURL = stripInline(d.ImageURL)
		case *UploadVideoData:
			d.VideoURL = stripInline(d.VideoURL)
		case *CropImageData:
			d.ImageURL = stripInline(d.ImageURL)
			d.OutputURL = stripInline(d.OutputURL)
		case *ExtractFrameData:
			d.VideoURL = stripInline(d.VideoURL)
			d.OutputURL = stripInline(d.OutputURL)
		}
		out.Nodes[i] = n
	}
	return out
}

func stripInline(v string) string {
	if strings.HasPrefix(v, "data:") {
		return ""
	}
	return v
}

// FilePersister writes snapshots as JSON to a file, replacing it atomically.
type FilePersister struct {
	Path string
}

// Persist implements Persister.
func (p FilePersister) Persist(_ context.Context, doc Document) error {
	b, err := EncodeDocument(doc)
	if err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(p.Path), ".weavegraph-*")
	if err != nil {
		return fmt.Errorf("persist workflow: %w", err)
	}
	if _, err := tmp.Write(b); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("persist workflow: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("persist workflow: %w", err)
	}
	if err := os.Rename(tmp.Name(), p.Path); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("persist workflow: %w", err)
	}
	return nil
}

// LoadFile reads a document previously written by FilePersister (or any
// JSON/YAML workflow file). A missing file yields an empty document.
func LoadFile(path string) (Document, error) {
	b, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return Document{}, nil
	}
	if err != nil {
		return Document{}, fmt.Errorf("read workflow file: %w", err)
	}
	return DecodeDocument(b)
}
