package supervisor

import (
	"encoding/json"
	"regexp"
	"strings"
)

// The one contractual plain-text line the agent emits on success. The
// value runs to the first whitespace or quote so trailing punctuation from
// a surrounding sentence is never captured.
var resultTokenPattern = regexp.MustCompile(`DEPLOYED_URL=([^\s"']+)`)

// ExtractResultToken returns the first result-token value found in out, or
// empty when none is present.
func ExtractResultToken(out string) string {
	m := resultTokenPattern.FindStringSubmatch(out)
	if m == nil {
		return ""
	}
	return m[1]
}

// previewFromJSON best-effort parses one output line as a JSON event and
// pulls a short human-readable preview out of its nested text content.
// ok is false when the line is not a JSON object at all.
func previewFromJSON(line string) (preview string, ok bool) {
	trimmed := strings.TrimSpace(line)
	if !strings.HasPrefix(trimmed, "{") {
		return "", false
	}

	var event map[string]interface{}
	if err := json.Unmarshal([]byte(trimmed), &event); err != nil {
		return "", false
	}

	return firstLine(textContent(event)), true
}

// textContent digs through the event shapes the agent emits: a top-level
// result/text string, a content string, or a message with a content array
// of {type:text, text:...} blocks.
func textContent(event map[string]interface{}) string {
	for _, key := range []string{"result", "text", "content"} {
		if s, ok := event[key].(string); ok && s != "" {
			return s
		}
	}

	if msg, ok := event["message"].(map[string]interface{}); ok {
		if s, ok := msg["content"].(string); ok && s != "" {
			return s
		}
		if blocks, ok := msg["content"].([]interface{}); ok {
			for _, b := range blocks {
				block, ok := b.(map[string]interface{})
				if !ok {
					continue
				}
				if s, ok := block["text"].(string); ok && s != "" {
					return s
				}
			}
		}
	}

	if blocks, ok := event["content"].([]interface{}); ok {
		for _, b := range blocks {
			block, ok := b.(map[string]interface{})
			if !ok {
				continue
			}
			if s, ok := block["text"].(string); ok && s != "" {
				return s
			}
		}
	}

	return ""
}

func firstLine(s string) string {
	if idx := strings.IndexByte(s, '\n'); idx >= 0 {
		s = s[:idx]
	}
	return truncate(strings.TrimSpace(s), 160)
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}
