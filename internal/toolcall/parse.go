package toolcall

import (
	"encoding/json"
	"log/slog"
	"regexp"
	"strings"
)

// Method records which stage of the fallback chain produced an Invocation.
type Method string

const (
	MethodFenced   Method = "fenced"
	MethodScan     Method = "scan"
	MethodFallback Method = "fallback"
)

var (
	fenceBlock    = regexp.MustCompile("(?s)```(?:json)?\\s*(.*?)\\s*```")
	leadingFence  = regexp.MustCompile("^```(?:json)?\\s*")
	trailingFence = regexp.MustCompile("\\s*```$")
)

// Parse recovers a tool invocation from raw model output. It never fails:
// text without a usable JSON tool call becomes a message invocation.
func Parse(raw string) Invocation {
	inv, _ := ParseDetailed(raw)
	return inv
}

// ParseDetailed is Parse plus the stage that produced the result. The first
// fenced block or scanned substring that decodes to a JSON object or list
// decides the outcome: if it is not a tool call the output is a message,
// even when a later candidate would have been one.
func ParseDetailed(raw string) (Invocation, Method) {
	slog.Debug("parsing model output", "raw", truncate(raw, 200))

	for _, m := range fenceBlock.FindAllStringSubmatch(raw, -1) {
		if v, ok := decodeCandidate(m[1]); ok {
			return settle(raw, v, MethodFenced)
		}
	}

	for _, candidate := range ScanJSON(raw) {
		if v, ok := decodeCandidate(candidate); ok {
			return settle(raw, v, MethodScan)
		}
	}

	return fallback(raw)
}

// StripFences removes a leading ```/```json marker and a trailing ``` marker.
func StripFences(raw string) string {
	s := strings.TrimSpace(raw)
	s = strings.TrimSpace(leadingFence.ReplaceAllString(s, ""))
	s = strings.TrimSpace(trailingFence.ReplaceAllString(s, ""))
	return s
}

// decodeCandidate reports whether candidate is a JSON object or list.
// Scalars are skipped.
func decodeCandidate(candidate string) (any, bool) {
	var v any
	if err := json.Unmarshal([]byte(candidate), &v); err != nil {
		return nil, false
	}
	switch v.(type) {
	case map[string]any, []any:
		return v, true
	}
	return nil, false
}

func settle(raw string, v any, method Method) (Invocation, Method) {
	inv, ok := Normalize(v)
	if !ok {
		slog.Debug("decoded JSON is not a tool call", "raw", truncate(raw, 200))
		return fallback(raw)
	}
	return inv, method
}

func fallback(raw string) (Invocation, Method) {
	return New(Message, map[string]any{"content": StripFences(raw)}), MethodFallback
}

// Normalize turns a decoded JSON value into an Invocation, repairing the
// usual small-model mistakes: a list wrapping the call, a bare {"message": x}
// object, "text" instead of "content" for messages, and "parameters" in place
// of "params" at the top level or nested one level inside params.
func Normalize(v any) (Invocation, bool) {
	if list, ok := v.([]any); ok {
		if len(list) == 0 {
			return Invocation{}, false
		}
		v = list[0]
	}
	obj, ok := v.(map[string]any)
	if !ok {
		return Invocation{}, false
	}

	if msg, ok := obj["message"]; ok {
		if _, hasTool := obj["tool"]; !hasTool {
			return New(Message, map[string]any{"content": stringify(msg)}), true
		}
	}

	if p, ok := obj["parameters"]; ok {
		if _, hasParams := obj["params"]; !hasParams {
			obj["params"] = p
		}
		delete(obj, "parameters")
	}

	rawParams, hasParams := obj["params"]
	if !hasParams {
		return Invocation{}, false
	}
	var params map[string]any
	switch p := rawParams.(type) {
	case nil:
		params = map[string]any{}
	case map[string]any:
		params = p
	default:
		return Invocation{}, false
	}
	if nested, ok := params["parameters"].(map[string]any); ok {
		params = nested
	}

	name, ok := obj["tool"].(string)
	if !ok || strings.TrimSpace(name) == "" {
		return Invocation{}, false
	}
	name = strings.TrimSpace(name)

	if name == Message.String() {
		if text, ok := params["text"]; ok {
			if _, hasContent := params["content"]; !hasContent {
				params["content"] = text
				delete(params, "text")
			}
		}
	}

	return Invocation{Tool: name, Params: params}, true
}

func stringify(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	b, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	return string(b)
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
