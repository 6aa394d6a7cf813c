package protocol

import (
	"strconv"
	"time"

	"github.com/tidwall/gjson"
)

// The backend has shipped more than one frame shape over its lifetime: the
// discriminator has been carried in either "event" or "type", and field
// nesting depth has drifted between rollouts. Classification therefore probes
// ordered candidate paths and takes the first non-empty hit rather than
// trusting any single shape.

var agentNamePaths = []string{
	"agent_name",
	"content.agent_name",
	"payload.agent_name",
}

var toolNamePaths = []string{
	"tool_name",
	"content.tool_name",
	"payload.tool_name",
}

var runIDPaths = []string{
	"metadata.run_id",
	"run_id",
	"payload.run_id",
}

var messageIDPaths = []string{
	"message_id",
	"id",
	"payload.message_id",
}

var timestampPaths = []string{
	"timestamp",
	"payload.timestamp",
	"created_at",
}

var resultPaths = []string{
	"result",
	"output",
	"payload.result",
	"content.result",
}

// hubEntryPaths is the exact probe order for candidate lists. The first path
// yielding a NON-EMPTY array wins; an empty array at a higher-priority path
// does not shadow entries further down.
var hubEntryPaths = []string{
	"output.hub_entries",
	"output.result.hub_entries",
	"hub_entries",
	"payload.hub_entries",
	"payload.result.hub_entries",
	"result.hub_entries",
}

// entryFallbackPaths re-probes the same locations under the older
// "entries" field name.
var entryFallbackPaths = []string{
	"output.entries",
	"output.result.entries",
	"entries",
	"payload.entries",
	"payload.result.entries",
	"result.entries",
}

var kindDiscriminators = map[string]Kind{
	"tool_call":     KindToolCall,
	"tool_result":   KindToolResult,
	"tool_error":    KindToolError,
	"chat_start":    KindChatStart,
	"chat_end":      KindChatEnd,
	"handoff_start": KindHandoffStart,
	"handoff_end":   KindHandoffEnd,
	"handoff_error": KindHandoffError,
}

var streamDiscriminators = map[string]Kind{
	"message_start": KindStreamStart,
	"message_chunk": KindStreamChunk,
	"message_end":   KindStreamEnd,
}

// Classify tags a raw frame with its event kind and extracts the fields each
// kind needs. Pure: no side effects, never panics on malformed input.
// String-encoded frames get one JSON decode attempt; frames that still do not
// parse come back as KindUnclassified with the raw bytes preserved.
func Classify(raw []byte) Event {
	doc := decode(raw)
	if !doc.Exists() || !doc.IsObject() {
		return Event{Kind: KindUnclassified, Raw: raw}
	}

	evt := Event{
		Kind:      KindUnclassified,
		AgentName: firstString(doc, agentNamePaths),
		ToolName:  firstString(doc, toolNamePaths),
		RunID:     firstString(doc, runIDPaths),
		MessageID: firstString(doc, messageIDPaths),
		Timestamp: parseTimestamp(firstResult(doc, timestampPaths)),
		Raw:       raw,
	}

	eventField := doc.Get("event").String()
	typeField := doc.Get("type").String()

	// Streaming sub-protocol: message_* frames scoped to the HTML writer tool.
	if kind, ok := streamDiscriminators[typeField]; ok && evt.ToolName == StreamTool {
		evt.Kind = kind
		evt.Result = firstString(doc, resultPaths)
		return evt
	}

	kind, ok := kindDiscriminators[eventField]
	if !ok {
		kind, ok = kindDiscriminators[typeField]
	}
	if !ok {
		return evt
	}
	evt.Kind = kind
	evt.Result = firstString(doc, resultPaths)

	if kind == KindToolResult {
		evt.Candidates = extractCandidates(doc)
	}

	return evt
}

// ExtractCandidates probes a raw payload for hub_entries without full
// classification. Exposed for transcript history reload.
func ExtractCandidates(raw []byte) []PageCandidate {
	doc := decode(raw)
	if !doc.Exists() || !doc.IsObject() {
		return nil
	}
	return extractCandidates(doc)
}

func extractCandidates(doc gjson.Result) []PageCandidate {
	entries := firstNonEmptyArray(doc, hubEntryPaths)
	if entries == nil {
		// The result field itself is sometimes a JSON-encoded string;
		// probe its decoded form before falling back to "entries".
		if resultData := decodedResult(doc); resultData.IsObject() {
			entries = firstNonEmptyArray(resultData, []string{"hub_entries"})
		}
	}
	if entries == nil {
		entries = firstNonEmptyArray(doc, entryFallbackPaths)
	}
	if entries == nil {
		if resultData := decodedResult(doc); resultData.IsObject() {
			entries = firstNonEmptyArray(resultData, []string{"entries"})
		}
	}
	if entries == nil {
		return nil
	}

	candidates := make([]PageCandidate, 0, len(entries))
	for _, rec := range entries {
		if c, ok := normalizeCandidate(rec); ok {
			candidates = append(candidates, c)
		}
	}
	return candidates
}

// normalizeCandidate maps one heterogeneous hub_entries record onto a
// PageCandidate. Identity is hub_page_id with result_id as fallback; records
// with neither are unusable and dropped.
func normalizeCandidate(rec gjson.Result) (PageCandidate, bool) {
	id := rec.Get("hub_page_id").String()
	if id == "" {
		id = rec.Get("result_id").String()
	}
	if id == "" {
		return PageCandidate{}, false
	}

	c := PageCandidate{
		HubPageID:        id,
		PageTitle:        firstString(rec, []string{"page_title", "title"}),
		Description:      firstString(rec, []string{"description", "meta_description"}),
		RelatedKeywords:  stringList(firstResult(rec, []string{"related_keywords", "keywords"})),
		TrafficPotential: rec.Get("traffic_potential").Int(),
		Difficulty:       rec.Get("difficulty").String(),
		Competitors:      stringList(rec.Get("competitors")),
		IsGenerated:      rec.Get("is_generated").Bool(),
		GeneratedPageID:  rec.Get("generated_page_id").String(),
	}
	return c, true
}

// decode parses a frame, unwrapping one level of string encoding when the
// transport delivered a JSON string containing JSON.
func decode(raw []byte) gjson.Result {
	if !gjson.ValidBytes(raw) {
		return gjson.Result{}
	}
	doc := gjson.ParseBytes(raw)
	if doc.Type == gjson.String {
		inner := doc.String()
		if gjson.Valid(inner) {
			return gjson.Parse(inner)
		}
		return gjson.Result{}
	}
	return doc
}

// decodedResult returns the parsed form of a string-encoded result field.
func decodedResult(doc gjson.Result) gjson.Result {
	res := doc.Get("result")
	if res.Type != gjson.String {
		return gjson.Result{}
	}
	if !gjson.Valid(res.String()) {
		return gjson.Result{}
	}
	return gjson.Parse(res.String())
}

func firstResult(doc gjson.Result, paths []string) gjson.Result {
	for _, p := range paths {
		if v := doc.Get(p); v.Exists() && v.String() != "" {
			return v
		}
	}
	return gjson.Result{}
}

func firstString(doc gjson.Result, paths []string) string {
	return firstResult(doc, paths).String()
}

func firstNonEmptyArray(doc gjson.Result, paths []string) []gjson.Result {
	for _, p := range paths {
		v := doc.Get(p)
		if !v.IsArray() {
			continue
		}
		if arr := v.Array(); len(arr) > 0 {
			return arr
		}
	}
	return nil
}

func stringList(v gjson.Result) []string {
	if !v.IsArray() {
		return nil
	}
	arr := v.Array()
	out := make([]string, 0, len(arr))
	for _, item := range arr {
		if s := item.String(); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// parseTimestamp accepts RFC3339 strings and epoch milliseconds; both have
// been observed on the wire. Returns the zero time when neither parses.
func parseTimestamp(v gjson.Result) time.Time {
	if !v.Exists() {
		return time.Time{}
	}
	s := v.String()
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t
	}
	if millis, err := strconv.ParseInt(s, 10, 64); err == nil && millis > 0 {
		return time.UnixMilli(millis).UTC()
	}
	return time.Time{}
}
