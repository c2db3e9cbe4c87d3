package event

import (
	"encoding/json"
	"math"
	"reflect"
	"strings"
	"testing"
	"unicode/utf8"
)

func decodeExtracted(t *testing.T, s string) *ExtractedFields {
	t.Helper()
	var x ExtractedFields
	if err := json.Unmarshal([]byte(s), &x); err != nil {
		t.Fatalf("unmarshal %s: %v", s, err)
	}
	return &x
}

func TestValidate_CleanInput(t *testing.T) {
	t.Parallel()

	x := decodeExtracted(t, `{
		"event_type": "clash",
		"state": " Plateau ",
		"lga": "Jos North",
		"severity": "high",
		"sentiment_intensity": 80,
		"hate_speech_indicators": ["incitement", "ethnic targeting"],
		"conflict_driver": "Social"
	}`)

	f, coerced := Validate(x)

	if len(coerced) != 0 {
		t.Errorf("coercions = %v, want none", coerced)
	}
	if f.EventType != TypeClash {
		t.Errorf("EventType = %q, want clash", f.EventType)
	}
	if f.State != "Plateau" {
		t.Errorf("State = %q, want trimmed Plateau", f.State)
	}
	if f.Severity != SeverityHigh {
		t.Errorf("Severity = %q, want high", f.Severity)
	}
	if f.SentimentIntensity == nil || *f.SentimentIntensity != 80 {
		t.Errorf("SentimentIntensity = %v, want 80", f.SentimentIntensity)
	}
	if f.ConflictDriver == nil || *f.ConflictDriver != DriverSocial {
		t.Errorf("ConflictDriver = %v, want Social", f.ConflictDriver)
	}
}

func TestValidate_NilAndEmpty(t *testing.T) {
	t.Parallel()

	for _, x := range []*ExtractedFields{nil, {}} {
		f, coerced := Validate(x)

		if f.EventType != TypeUnknown {
			t.Errorf("EventType = %q, want unknown", f.EventType)
		}
		if f.State != Unknown || f.LGA != Unknown {
			t.Errorf("State/LGA = %q/%q, want unknown sentinels", f.State, f.LGA)
		}
		if f.Severity != SeverityLow {
			t.Errorf("Severity = %q, want low", f.Severity)
		}
		if f.SentimentIntensity != nil {
			t.Errorf("SentimentIntensity = %v, want nil", *f.SentimentIntensity)
		}
		if f.HateSpeechIndicators == nil || len(f.HateSpeechIndicators) != 0 {
			t.Errorf("HateSpeechIndicators = %#v, want empty non-nil slice", f.HateSpeechIndicators)
		}
		if f.ConflictDriver != nil {
			t.Errorf("ConflictDriver = %v, want nil", *f.ConflictDriver)
		}
		if len(coerced) != 4 {
			t.Errorf("coercions = %d, want 4 (event_type, state, lga, severity)", len(coerced))
		}
	}
}

func TestValidate_Sentiment(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		raw  string
		want *int
	}{
		{"in range", `42`, intPtr(42)},
		{"lower bound", `0`, intPtr(0)},
		{"upper bound", `100`, intPtr(100)},
		{"integral float", `75.0`, intPtr(75)},
		{"too high", `150`, nil},
		{"negative", `-1`, nil},
		{"fractional", `70.5`, nil},
		{"string word", `"high"`, nil},
		{"numeric string", `"75"`, nil},
		{"bool", `true`, nil},
		{"null", `null`, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			x := decodeExtracted(t, `{"sentiment_intensity":`+tt.raw+`}`)
			f, _ := Validate(x)
			if !reflect.DeepEqual(f.SentimentIntensity, tt.want) {
				t.Errorf("SentimentIntensity = %v, want %v", deref(f.SentimentIntensity), deref(tt.want))
			}
		})
	}
}

func TestValidate_Indicators(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		raw  string
		want []string
	}{
		{"dedup preserves order", `["b","a","b"," a "]`, []string{"b", "a"}},
		{"drops empty and non-strings", `["", "  ", 3, null, "x"]`, []string{"x"}},
		{"string instead of array", `"incitement"`, []string{}},
		{"object", `{"a":1}`, []string{}},
		{"null", `null`, []string{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			x := decodeExtracted(t, `{"hate_speech_indicators":`+tt.raw+`}`)
			f, _ := Validate(x)
			if !reflect.DeepEqual(f.HateSpeechIndicators, tt.want) {
				t.Errorf("HateSpeechIndicators = %#v, want %#v", f.HateSpeechIndicators, tt.want)
			}
		})
	}
}

func TestValidate_Enumerations(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		raw        string
		wantType   EventType
		wantSev    Severity
		wantDriver *ConflictDriver
	}{
		{"upper-case type and severity", `{"event_type":"PROTEST","severity":"Critical"}`, TypeProtest, SeverityCritical, nil},
		{"unknown type", `{"event_type":"riot","severity":"extreme"}`, TypeUnknown, SeverityLow, nil},
		{"numeric type", `{"event_type":7,"severity":3}`, TypeUnknown, SeverityLow, nil},
		{"driver exact", `{"conflict_driver":"Environmental"}`, TypeUnknown, SeverityLow, driverPtr(DriverEnvironmental)},
		{"driver wrong case", `{"conflict_driver":"social"}`, TypeUnknown, SeverityLow, nil},
		{"driver non-string", `{"conflict_driver":["Social"]}`, TypeUnknown, SeverityLow, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			f, _ := Validate(decodeExtracted(t, tt.raw))
			if f.EventType != tt.wantType {
				t.Errorf("EventType = %q, want %q", f.EventType, tt.wantType)
			}
			if f.Severity != tt.wantSev {
				t.Errorf("Severity = %q, want %q", f.Severity, tt.wantSev)
			}
			if !reflect.DeepEqual(f.ConflictDriver, tt.wantDriver) {
				t.Errorf("ConflictDriver = %v, want %v", f.ConflictDriver, tt.wantDriver)
			}
		})
	}
}

func TestValidate_ReportsCoercions(t *testing.T) {
	t.Parallel()

	x := decodeExtracted(t, `{
		"event_type": "clash", "state": "Kaduna", "lga": "Zaria", "severity": "high",
		"sentiment_intensity": 150
	}`)
	_, coerced := Validate(x)

	if len(coerced) != 1 {
		t.Fatalf("coercions = %v, want exactly one", coerced)
	}
	if coerced[0].Field != "sentiment_intensity" || coerced[0].Reason != "out of range" {
		t.Errorf("coercion = %+v, want sentiment_intensity/out of range", coerced[0])
	}
	if coerced[0].Value != "150" {
		t.Errorf("coercion value = %q, want 150", coerced[0].Value)
	}
}

func TestValidate_CoercionValueKeepsRunesWhole(t *testing.T) {
	t.Parallel()

	_, coerced := Validate(&ExtractedFields{EventType: strings.Repeat("ƙ", 40)})
	if len(coerced) == 0 {
		t.Fatal("want an event_type coercion")
	}
	v := coerced[0].Value
	if !utf8.ValidString(v) {
		t.Errorf("coercion value %q is not valid UTF-8", v)
	}
	if len(v) > 64 || !strings.HasSuffix(v, "...") {
		t.Errorf("coercion value %q, want at most 64 bytes ending in ...", v)
	}
}

// Totality over hostile values: every field of every shape must produce
// a domain-valid result.
func TestValidate_TotalOverArbitraryShapes(t *testing.T) {
	t.Parallel()

	shapes := []any{nil, "", " ", "x", 0.0, -5.0, 1e300, math.Inf(1), math.NaN(), true,
		[]any{}, []any{nil, 1.0, "a"}, map[string]any{"k": "v"}}

	for _, s := range shapes {
		x := &ExtractedFields{
			EventType: s, State: s, LGA: s, Severity: s,
			SentimentIntensity: s, HateSpeechIndicators: s, ConflictDriver: s,
		}
		f, _ := Validate(x)
		assertDomain(t, &f)
	}
}

func FuzzValidate(f *testing.F) {
	f.Add(`{"event_type":"clash","sentiment_intensity":90}`)
	f.Add(`{"hate_speech_indicators":"x","severity":null}`)
	f.Add(`{}`)

	f.Fuzz(func(t *testing.T, body string) {
		var x ExtractedFields
		if err := json.Unmarshal([]byte(body), &x); err != nil {
			return
		}
		fields, _ := Validate(&x)
		assertDomain(t, &fields)

		score := Score(&fields)
		if score < 0 || score > 100 {
			t.Errorf("score %v out of range for %s", score, body)
		}
	})
}

func assertDomain(t *testing.T, f *Fields) {
	t.Helper()
	if _, ok := eventTypes[f.EventType]; !ok {
		t.Errorf("EventType %q outside enumeration", f.EventType)
	}
	if f.State == "" || f.LGA == "" {
		t.Errorf("State/LGA must never be empty, got %q/%q", f.State, f.LGA)
	}
	switch f.Severity {
	case SeverityLow, SeverityMedium, SeverityHigh, SeverityCritical:
	default:
		t.Errorf("Severity %q outside enumeration", f.Severity)
	}
	if f.SentimentIntensity != nil && (*f.SentimentIntensity < 0 || *f.SentimentIntensity > 100) {
		t.Errorf("SentimentIntensity %d out of range", *f.SentimentIntensity)
	}
	if f.HateSpeechIndicators == nil {
		t.Error("HateSpeechIndicators must be non-nil")
	}
	for _, s := range f.HateSpeechIndicators {
		if s == "" {
			t.Error("HateSpeechIndicators contains empty string")
		}
	}
	if f.ConflictDriver != nil {
		switch *f.ConflictDriver {
		case DriverEconomic, DriverEnvironmental, DriverSocial:
		default:
			t.Errorf("ConflictDriver %q outside enumeration", *f.ConflictDriver)
		}
	}
}

func intPtr(i int) *int { return &i }

func driverPtr(d ConflictDriver) *ConflictDriver { return &d }

func deref(p *int) any {
	if p == nil {
		return nil
	}
	return *p
}
