package recommend

import (
	"encoding/json"
	"errors"
	"strings"
)

var errNotObject = errors.New("response is not a JSON object")

// ParseResponse extracts a recommendation from completion text.
// The JSON may be bare or wrapped in a ```json or plain ``` fence.
// It never fails: unparseable text yields an empty recommendation.
func ParseResponse(text string) *Recommendation {
	rec, _ := parseResponse(text)
	return rec
}

// parseResponse is ParseResponse that also reports why the text degraded
func parseResponse(text string) (*Recommendation, error) {
	var body map[string]interface{}
	if err := json.Unmarshal([]byte(extractJSON(text)), &body); err != nil {
		return emptyRecommendation(), err
	}
	if body == nil {
		return emptyRecommendation(), errNotObject
	}

	rec := emptyRecommendation()
	if summary, ok := body["summary"].(string); ok {
		rec.Summary = &summary
	}
	if tips, ok := body["tips"].([]interface{}); ok {
		for _, tip := range tips {
			if s, ok := tip.(string); ok {
				rec.Tips = append(rec.Tips, s)
			}
		}
	}
	return rec, nil
}

// extractJSON returns the contents of the first code fence, preferring a json-labeled one
func extractJSON(text string) string {
	for _, fence := range []string{"```json", "```"} {
		start := strings.Index(text, fence)
		if start < 0 {
			continue
		}
		rest := text[start+len(fence):]
		if end := strings.Index(rest, "```"); end >= 0 {
			rest = rest[:end]
		}
		return strings.TrimSpace(rest)
	}
	return strings.TrimSpace(text)
}
