package protocol

import (
	"time"
)

// Kind identifies the lifecycle event a frame carries.
type Kind string

const (
	KindToolCall     Kind = "tool_call"
	KindToolResult   Kind = "tool_result"
	KindToolError    Kind = "tool_error"
	KindChatStart    Kind = "chat_start"
	KindChatEnd      Kind = "chat_end"
	KindHandoffStart Kind = "handoff_start"
	KindHandoffEnd   Kind = "handoff_end"
	KindHandoffError Kind = "handoff_error"
	KindStreamStart  Kind = "stream_start"
	KindStreamChunk  Kind = "stream_chunk"
	KindStreamEnd    Kind = "stream_end"
	KindUnclassified Kind = "unclassified"
)

// StreamTool is the tool name whose message_start/message_chunk/message_end
// frames form the HTML streaming sub-protocol.
const StreamTool = "write_html_codes_tool"

// Event is a classified inbound frame. Constructed once by Classify and
// never mutated afterwards; projectors read it, they do not own it.
type Event struct {
	Kind       Kind
	AgentName  string
	ToolName   string
	RunID      string
	MessageID  string
	Result     string // result payload; chunk text for stream events
	Candidates []PageCandidate
	Timestamp  time.Time // zero when the frame carried no usable timestamp
	Raw        []byte
}

// IsStep reports whether the event opens or closes a panel step.
func (e Event) IsStep() bool {
	switch e.Kind {
	case KindToolCall, KindToolResult, KindToolError,
		KindHandoffStart, KindHandoffEnd, KindHandoffError:
		return true
	default:
		return false
	}
}

// StreamID scopes one streaming-generation operation. Two streams from the
// same agent and tool are distinguished by run id.
func (e Event) StreamID() string {
	return e.AgentName + "/" + e.ToolName + "/" + e.RunID
}

// PageCandidate is a proposed content-page descriptor awaiting user
// selection, normalized from heterogeneous hub_entries records.
type PageCandidate struct {
	HubPageID        string   `json:"hub_page_id"`
	PageTitle        string   `json:"page_title"`
	Description      string   `json:"description"`
	RelatedKeywords  []string `json:"related_keywords"`
	TrafficPotential int64    `json:"traffic_potential"`
	Difficulty       string   `json:"difficulty"`
	Competitors      []string `json:"competitors"`
	IsGenerated      bool     `json:"is_generated"`
	GeneratedPageID  string   `json:"generated_page_id"`
}
