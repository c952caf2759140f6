package graph

// DataKind is the semantic kind of value a handle carries.
type DataKind string

// Data kinds.
const (
	KindText  DataKind = "text"
	KindImage DataKind = "image"
	KindVideo DataKind = "video"
)

// OutputHandle is the id of every node type's single output handle.
const OutputHandle = "output"

// Input handle ids.
const (
	HandleInput         = "input"
	HandleSystemPrompt  = "system_prompt"
	HandleUserMessage   = "user_message"
	HandleImages        = "images"
	HandleImageURL      = "image_url"
	HandleXPercent      = "x_percent"
	HandleYPercent      = "y_percent"
	HandleWidthPercent  = "width_percent"
	HandleHeightPercent = "height_percent"
	HandleVideoURL      = "video_url"
	HandleTimestamp     = "timestamp"
)

type handleSpec struct {
	id   string
	kind DataKind
}

type typeHandles struct {
	inputs []handleSpec
	output DataKind
}

var handleTable = map[NodeType]typeHandles{
	TypeText: {
		inputs: []handleSpec{{HandleInput, KindText}},
		output: KindText,
	},
	TypeUploadImage: {
		inputs: []handleSpec{{HandleInput, KindImage}},
		output: KindImage,
	},
	TypeUploadVideo: {
		inputs: []handleSpec{{HandleInput, KindVideo}},
		output: KindVideo,
	},
	TypeLLM: {
		inputs: []handleSpec{
			{HandleSystemPrompt, KindText},
			{HandleUserMessage, KindText},
			{HandleImages, KindImage},
		},
		output: KindText,
	},
	TypeCropImage: {
		inputs: []handleSpec{
			{HandleImageURL, KindImage},
			{HandleXPercent, KindText},
			{HandleYPercent, KindText},
			{HandleWidthPercent, KindText},
			{HandleHeightPercent, KindText},
		},
		output: KindImage,
	},
	TypeExtractFrame: {
		inputs: []handleSpec{
			{HandleVideoURL, KindVideo},
			{HandleTimestamp, KindText},
		},
		output: KindImage,
	},
}

// HandleKind returns the data kind of a node type's handle. The boolean is
// false when the type or handle is unknown.
func HandleKind(t NodeType, handleID string, isOutput bool) (DataKind, bool) {
	spec, ok := handleTable[t]
	if !ok {
		return "", false
	}
	if isOutput {
		if handleID == OutputHandle || handleID == "" {
			return spec.output, true
		}
		return "", false
	}
	for _, h := range spec.inputs {
		if h.id == handleID {
			return h.kind, true
		}
	}
	return "", false
}

// InputHandles returns the declared input handle ids of t in declaration order.
func InputHandles(t NodeType) []string {
	spec := handleTable[t]
	ids := make([]string, len(spec.inputs))
	for i, h := range spec.inputs {
		ids[i] = h.id
	}
	return ids
}
