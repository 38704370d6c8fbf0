package semantic

import (
	"encoding/json"
	"strings"
)

// Answer is what the oracle returned once decoded.
type Answer struct {
	IDs     []string
	Summary string
	// Parsed is false when no JSON could be recovered from the reply.
	Parsed bool
}

// ParseOracleResponse recovers ids from free text. It accepts a JSON array
// of ids or an object with "ids" and "summary", either bare, inside a
// markdown fence, or embedded in prose. Anything else yields no ids.
func ParseOracleResponse(text string) Answer {
	text = stripFence(strings.TrimSpace(text))
	if text == "" {
		return Answer{IDs: []string{}}
	}

	var v any
	if err := json.Unmarshal([]byte(text), &v); err == nil {
		return answerFrom(v)
	}

	for i := 0; i < len(text); i++ {
		if text[i] != '{' && text[i] != '[' {
			continue
		}
		dec := json.NewDecoder(strings.NewReader(text[i:]))
		if err := dec.Decode(&v); err == nil {
			if a := answerFrom(v); a.Parsed {
				return a
			}
		}
	}
	return Answer{IDs: []string{}}
}

func answerFrom(v any) Answer {
	switch t := v.(type) {
	case []any:
		return Answer{IDs: stringsOf(t), Parsed: true}
	case map[string]any:
		a := Answer{IDs: []string{}, Parsed: true}
		if ids, ok := t["ids"].([]any); ok {
			a.IDs = stringsOf(ids)
		}
		if s, ok := t["summary"].(string); ok {
			a.Summary = strings.TrimSpace(s)
		}
		return a
	default:
		return Answer{IDs: []string{}}
	}
}

func stringsOf(values []any) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		if s, ok := v.(string); ok {
			if s = strings.TrimSpace(s); s != "" {
				out = append(out, s)
			}
		}
	}
	return out
}

func stripFence(text string) string {
	if !strings.HasPrefix(text, "```") {
		return text
	}
	text = strings.TrimPrefix(text, "```")
	if nl := strings.IndexByte(text, '\n'); nl >= 0 && !strings.ContainsAny(text[:nl], "[{") {
		text = text[nl+1:]
	}
	text = strings.TrimSuffix(strings.TrimSpace(text), "```")
	return strings.TrimSpace(text)
}
