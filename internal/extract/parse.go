package extract

import (
	"encoding/json"
	"errors"
	"strings"

	"github.com/linnemanlabs/conflictwatch/internal/event"
)

var errNotObject = errors.New("response is not a JSON object")

// parseFields decodes a model reply into ExtractedFields. Markdown code
// fences and surrounding prose are tolerated; anything that is not a JSON
// object is an error. Missing keys stay nil.
func parseFields(text string) (*event.ExtractedFields, error) {
	text = stripFences(strings.TrimSpace(text))

	m, err := decodeObject(text)
	if err != nil {
		start, end := strings.Index(text, "{"), strings.LastIndex(text, "}")
		if start < 0 || end <= start {
			return nil, err
		}
		if m, err = decodeObject(text[start : end+1]); err != nil {
			return nil, err
		}
	}

	return &event.ExtractedFields{
		EventType:            m["event_type"],
		State:                m["state"],
		LGA:                  m["lga"],
		Severity:             m["severity"],
		SentimentIntensity:   m["sentiment_intensity"],
		HateSpeechIndicators: m["hate_speech_indicators"],
		ConflictDriver:       m["conflict_driver"],
	}, nil
}

func decodeObject(text string) (map[string]any, error) {
	var m map[string]any
	if err := json.Unmarshal([]byte(text), &m); err != nil {
		return nil, err
	}
	if m == nil {
		return nil, errNotObject
	}
	return m, nil
}

func stripFences(text string) string {
	if !strings.HasPrefix(text, "```") {
		return text
	}
	lines := strings.Split(text, "\n")
	end := len(lines)
	for i := len(lines) - 1; i > 0; i-- {
		if strings.TrimSpace(lines[i]) == "```" {
			end = i
			break
		}
	}
	if end <= 1 {
		return ""
	}
	return strings.Join(lines[1:end], "\n")
}
