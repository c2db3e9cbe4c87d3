package event

import (
	"fmt"
	"math"
	"strings"

	"github.com/linnemanlabs/conflictwatch/internal/article"
)

// Coercion records one field that fell back to its default during validation.
type Coercion struct {
	Field  string `json:"field"`
	Reason string `json:"reason"`
	Value  string `json:"value,omitempty"`
}

// Validate coerces untrusted extraction output into domain values. It is
// total: every field has a fallback, so it never fails and never panics.
// Each fallback taken is returned as a Coercion for the caller to log.
func Validate(x *ExtractedFields) (Fields, []Coercion) {
	if x == nil {
		x = &ExtractedFields{}
	}
	v := validator{}

	f := Fields{
		EventType:            v.eventType(x.EventType),
		State:                v.location("state", x.State),
		LGA:                  v.location("lga", x.LGA),
		Severity:             v.severity(x.Severity),
		SentimentIntensity:   v.sentiment(x.SentimentIntensity),
		HateSpeechIndicators: v.indicators(x.HateSpeechIndicators),
		ConflictDriver:       v.driver(x.ConflictDriver),
	}
	return f, v.coercions
}

type validator struct {
	coercions []Coercion
}

func (v *validator) note(field, reason string, raw any) {
	c := Coercion{Field: field, Reason: reason}
	if raw != nil {
		c.Value = truncate(fmt.Sprint(raw), 64)
	}
	v.coercions = append(v.coercions, c)
}

func (v *validator) eventType(raw any) EventType {
	s, ok := raw.(string)
	if !ok {
		v.note("event_type", reasonFor(raw), raw)
		return TypeUnknown
	}
	t := EventType(strings.ToLower(strings.TrimSpace(s)))
	if _, ok := eventTypes[t]; !ok {
		v.note("event_type", "not in enumeration", raw)
		return TypeUnknown
	}
	return t
}

func (v *validator) location(field string, raw any) string {
	s, ok := raw.(string)
	if !ok {
		v.note(field, reasonFor(raw), raw)
		return Unknown
	}
	s = strings.TrimSpace(s)
	if s == "" {
		v.note(field, "empty", nil)
		return Unknown
	}
	return s
}

func (v *validator) severity(raw any) Severity {
	s, ok := raw.(string)
	if !ok {
		v.note("severity", reasonFor(raw), raw)
		return SeverityLow
	}
	switch sev := Severity(strings.ToLower(strings.TrimSpace(s))); sev {
	case SeverityLow, SeverityMedium, SeverityHigh, SeverityCritical:
		return sev
	}
	v.note("severity", "not in enumeration", raw)
	return SeverityLow
}

func (v *validator) sentiment(raw any) *int {
	if raw == nil {
		return nil
	}
	n, ok := raw.(float64)
	if !ok {
		v.note("sentiment_intensity", "not a number", raw)
		return nil
	}
	if math.IsNaN(n) || n != math.Trunc(n) {
		v.note("sentiment_intensity", "not an integer", raw)
		return nil
	}
	if n < 0 || n > 100 {
		v.note("sentiment_intensity", "out of range", raw)
		return nil
	}
	i := int(n)
	return &i
}

func (v *validator) indicators(raw any) []string {
	out := []string{}
	if raw == nil {
		return out
	}
	items, ok := raw.([]any)
	if !ok {
		v.note("hate_speech_indicators", "not an array", raw)
		return out
	}
	seen := make(map[string]struct{}, len(items))
	for _, it := range items {
		s, ok := it.(string)
		if !ok {
			v.note("hate_speech_indicators", "dropped non-string item", it)
			continue
		}
		s = strings.TrimSpace(s)
		if s == "" {
			v.note("hate_speech_indicators", "dropped empty item", nil)
			continue
		}
		if _, dup := seen[s]; dup {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}

func (v *validator) driver(raw any) *ConflictDriver {
	if raw == nil {
		return nil
	}
	s, ok := raw.(string)
	if !ok {
		v.note("conflict_driver", "not a string", raw)
		return nil
	}
	d := ConflictDriver(strings.TrimSpace(s))
	switch d {
	case DriverEconomic, DriverEnvironmental, DriverSocial:
		return &d
	}
	v.note("conflict_driver", "not in enumeration", raw)
	return nil
}

func reasonFor(raw any) string {
	if raw == nil {
		return "missing"
	}
	return "not a string"
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return article.Truncate(s, n-3) + "..."
}
