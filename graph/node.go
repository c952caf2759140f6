// Package graph provides the workflow graph engine: typed nodes, validated
// edges forming a DAG, and pull-based value resolution along those edges.
package graph

import (
	"crypto/rand"
	"encoding/json"
	"fmt"
	"math/big"
	"time"
)

// NodeType identifies the kind of a node. The string values are the wire
// names used in serialized workflow documents.
type NodeType string

// Supported node types.
const (
	TypeText         NodeType = "text"
	TypeUploadImage  NodeType = "uploadImage"
	TypeUploadVideo  NodeType = "uploadVideo"
	TypeLLM          NodeType = "llm"
	TypeCropImage    NodeType = "cropImage"
	TypeExtractFrame NodeType = "extractFrame"
)

// NodeTypes lists every supported node type in declaration order.
var NodeTypes = []NodeType{
	TypeText, TypeUploadImage, TypeUploadVideo, TypeLLM, TypeCropImage, TypeExtractFrame,
}

// Valid reports whether t is a known node type.
func (t NodeType) Valid() bool {
	switch t {
	case TypeText, TypeUploadImage, TypeUploadVideo, TypeLLM, TypeCropImage, TypeExtractFrame:
		return true
	}
	return false
}

// Active reports whether nodes of type t have a run action.
func (t NodeType) Active() bool {
	switch t {
	case TypeLLM, TypeCropImage, TypeExtractFrame:
		return true
	}
	return false
}

// DefaultLLMModel is the model assigned to new LLM nodes.
const DefaultLLMModel = "gemini-3-flash-preview"

// Position is a node's canvas coordinate. The engine stores it but never
// interprets it.
type Position struct {
	X float64 `json:"x" yaml:"x"`
	Y float64 `json:"y" yaml:"y"`
}

// Node is a unit of the workflow graph.
//
// Data holds the type-specific variant; its concrete type always matches
// Type (see NewData). A node returned by a Workflow accessor is a copy and
// may be modified freely by the caller.
type Node struct {
	ID       string
	Type     NodeType
	Position Position
	Data     NodeData
}

// NodeData is the tagged union of per-type node data. It is implemented
// only by the pointer types in this package:
// *TextData, *UploadImageData, *UploadVideoData, *LLMData,
// *CropImageData and *ExtractFrameData.
type NodeData interface {
	// NodeType returns the variant tag.
	NodeType() NodeType
	// State returns the universal run state fields.
	State() *RunState
	clone() NodeData
}

// RunState holds the fields shared by every variant. Passive nodes carry
// them too so a relay failure can be surfaced the same way.
type RunState struct {
	IsRunning bool   `json:"isRunning,omitempty"`
	Error     string `json:"error,omitempty"`
}

// State returns s itself so embedding types satisfy NodeData.
func (s *RunState) State() *RunState { return s }

// TextData is the data of a text node.
type TextData struct {
	RunState
	Text string `json:"text"`
}

// UploadImageData is the data of an image upload node.
type UploadImageData struct {
	RunState
	ImageURL string `json:"imageUrl,omitempty"`
	FileName string `json:"fileName,omitempty"`
}

// UploadVideoData is the data of a video upload node.
type UploadVideoData struct {
	RunState
	VideoURL string `json:"videoUrl,omitempty"`
	FileName string `json:"fileName,omitempty"`
}

// LLMData is the data of an LLM inference node.
type LLMData struct {
	RunState
	Model        string   `json:"model"`
	SystemPrompt string   `json:"systemPrompt,omitempty"`
	UserMessage  string   `json:"userMessage,omitempty"`
	Images       []string `json:"images,omitempty"`
	Output       string   `json:"output,omitempty"`
}

// CropImageData is the data of an image crop node. Percent fields are
// constrained to [0,100] at run time.
type CropImageData struct {
	RunState
	ImageURL      string  `json:"imageUrl,omitempty"`
	XPercent      float64 `json:"xPercent"`
	YPercent      float64 `json:"yPercent"`
	WidthPercent  float64 `json:"widthPercent"`
	HeightPercent float64 `json:"heightPercent"`
	OutputURL     string  `json:"outputUrl,omitempty"`
}

// ExtractFrameData is the data of a frame extraction node. Timestamp is
// either seconds ("12.5") or a percentage of the duration ("50%").
type ExtractFrameData struct {
	RunState
	VideoURL  string `json:"videoUrl,omitempty"`
	Timestamp string `json:"timestamp"`
	OutputURL string `json:"outputUrl,omitempty"`
}

func (*TextData) NodeType() NodeType         { return TypeText }
func (*UploadImageData) NodeType() NodeType  { return TypeUploadImage }
func (*UploadVideoData) NodeType() NodeType  { return TypeUploadVideo }
func (*LLMData) NodeType() NodeType          { return TypeLLM }
func (*CropImageData) NodeType() NodeType    { return TypeCropImage }
func (*ExtractFrameData) NodeType() NodeType { return TypeExtractFrame }

func (d *TextData) clone() NodeData        { c := *d; return &c }
func (d *UploadImageData) clone() NodeData { c := *d; return &c }
func (d *UploadVideoData) clone() NodeData { c := *d; return &c }
func (d *CropImageData) clone() NodeData   { c := *d; return &c }
func (d *ExtractFrameData) clone() NodeData {
	c := *d
	return &c
}

func (d *LLMData) clone() NodeData {
	c := *d
	if d.Images != nil {
		c.Images = append([]string(nil), d.Images...)
	}
	return &c
}

// NewData returns the initial data for a node of type t, or nil for an
// unknown type.
func NewData(t NodeType) NodeData {
	switch t {
	case TypeText:
		return &TextData{}
	case TypeUploadImage:
		return &UploadImageData{}
	case TypeUploadVideo:
		return &UploadVideoData{}
	case TypeLLM:
		return &LLMData{Model: DefaultLLMModel}
	case TypeCropImage:
		return &CropImageData{WidthPercent: 100, HeightPercent: 100}
	case TypeExtractFrame:
		return &ExtractFrameData{Timestamp: "0"}
	}
	return nil
}

// NewNode builds a node of type t with a fresh id and default data.
func NewNode(t NodeType, pos Position) Node {
	return Node{
		ID:       NewNodeID(t),
		Type:     t,
		Position: pos,
		Data:     NewData(t),
	}
}

const idAlphabet = "0123456789abcdefghijklmnopqrstuvwxyz"

// NewNodeID returns an id of the form "<type>-<unix millis>-<9 base36 chars>".
func NewNodeID(t NodeType) string {
	suffix := make([]byte, 9)
	base := big.NewInt(int64(len(idAlphabet)))
	for i := range suffix {
		n, err := rand.Int(rand.Reader, base)
		if err != nil {
			n = big.NewInt(time.Now().UnixNano() % int64(len(idAlphabet)))
		}
		suffix[i] = idAlphabet[n.Int64()]
	}
	return fmt.Sprintf("%s-%d-%s", t, time.Now().UnixMilli(), suffix)
}

// Clone returns a deep copy of n.
func (n Node) Clone() Node {
	if n.Data != nil {
		n.Data = n.Data.clone()
	}
	return n
}

type nodeJSON struct {
	ID       string          `json:"id"`
	Type     NodeType        `json:"type"`
	Position Position        `json:"position"`
	Data     json.RawMessage `json:"data,omitempty"`
}

// MarshalJSON encodes the node with its data variant inline under "data".
func (n Node) MarshalJSON() ([]byte, error) {
	data := n.Data
	if data == nil {
		data = NewData(n.Type)
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("marshal data of node %s: %w", n.ID, err)
	}
	return json.Marshal(nodeJSON{ID: n.ID, Type: n.Type, Position: n.Position, Data: raw})
}

// UnmarshalJSON decodes a node, selecting the data variant from "type".
// Fields missing from "data" keep their per-type defaults.
func (n *Node) UnmarshalJSON(b []byte) error {
	var raw nodeJSON
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	data := NewData(raw.Type)
	if data == nil {
		return fmt.Errorf("node %q: %w: %q", raw.ID, ErrUnknownNodeType, raw.Type)
	}
	if len(raw.Data) > 0 && string(raw.Data) != "null" {
		if err := json.Unmarshal(raw.Data, data); err != nil {
			return fmt.Errorf("node %q: decode %s data: %w", raw.ID, raw.Type, err)
		}
	}
	*n = Node{ID: raw.ID, Type: raw.Type, Position: raw.Position, Data: data}
	return nil
}
