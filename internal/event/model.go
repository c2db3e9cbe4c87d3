package event

import "time"

// Unknown is the sentinel for location fields the extraction could not fill.
const Unknown = "unknown"

// EventType is the coarse category of an event.
type EventType string

const (
	TypeClash     EventType = "clash"
	TypeConflict  EventType = "conflict"
	TypeViolence  EventType = "violence"
	TypeProtest   EventType = "protest"
	TypePolitical EventType = "political"
	TypeSecurity  EventType = "security"
	TypeCrime     EventType = "crime"
	TypeEconomic  EventType = "economic"
	TypeSocial    EventType = "social"
	TypeUnknown   EventType = "unknown"
)

var eventTypes = map[EventType]struct{}{
	TypeClash: {}, TypeConflict: {}, TypeViolence: {}, TypeProtest: {}, TypePolitical: {},
	TypeSecurity: {}, TypeCrime: {}, TypeEconomic: {}, TypeSocial: {}, TypeUnknown: {},
}

// Severity is the extracted seriousness of an event.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// ConflictDriver is the coarse causal category of an event.
type ConflictDriver string

const (
	DriverEconomic      ConflictDriver = "Economic"
	DriverEnvironmental ConflictDriver = "Environmental"
	DriverSocial        ConflictDriver = "Social"
)

// RiskLevel is the banded label derived from a risk score.
type RiskLevel string

const (
	LevelLow      RiskLevel = "low"
	LevelMedium   RiskLevel = "medium"
	LevelHigh     RiskLevel = "high"
	LevelCritical RiskLevel = "critical"
)

// LevelFor bands a score: low < 45 <= medium < 70 <= high < 85 <= critical.
func LevelFor(score float64) RiskLevel {
	switch {
	case score >= 85:
		return LevelCritical
	case score >= 70:
		return LevelHigh
	case score >= 45:
		return LevelMedium
	default:
		return LevelLow
	}
}

// ExtractedFields is the untrusted extraction output. Values hold whatever
// JSON decoded to, so wrong types reach the validator intact.
type ExtractedFields struct {
	EventType            any `json:"event_type"`
	State                any `json:"state"`
	LGA                  any `json:"lga"`
	Severity             any `json:"severity"`
	SentimentIntensity   any `json:"sentiment_intensity"`
	HateSpeechIndicators any `json:"hate_speech_indicators"`
	ConflictDriver       any `json:"conflict_driver"`
}

// Fields are the validated, domain-constrained extraction values.
type Fields struct {
	EventType            EventType       `json:"event_type"`
	State                string          `json:"state"`
	LGA                  string          `json:"lga"`
	Severity             Severity        `json:"severity"`
	SentimentIntensity   *int            `json:"sentiment_intensity"`
	HateSpeechIndicators []string        `json:"hate_speech_indicators"`
	ConflictDriver       *ConflictDriver `json:"conflict_driver"`
}

// Event is the validated and scored record, the unit of persistence.
// RiskScore is only ever set through NewEvent.
type Event struct {
	Fields
	RiskScore          float64   `json:"risk_score"`
	SourceTitle        string    `json:"source_title"`
	SourceURL          string    `json:"source_url"`
	ParsedAt           time.Time `json:"parsed_at"`
	ContentFingerprint string    `json:"content_fingerprint"`
}

// Source carries the article attributes copied verbatim onto an Event.
type Source struct {
	Title       string
	URL         string
	Fingerprint string
}

// NewEvent scores validated fields and stamps the record.
func NewEvent(f Fields, src Source, parsedAt time.Time) *Event {
	return &Event{
		Fields:             f,
		RiskScore:          Score(&f),
		SourceTitle:        src.Title,
		SourceURL:          src.URL,
		ParsedAt:           parsedAt,
		ContentFingerprint: src.Fingerprint,
	}
}

// Level returns the risk tier of the event.
func (e *Event) Level() RiskLevel {
	return LevelFor(e.RiskScore)
}

// TierCounts is the number of events per risk tier.
type TierCounts struct {
	Critical int `json:"critical"`
	High     int `json:"high"`
	Medium   int `json:"medium"`
	Low      int `json:"low"`
}

// Add counts one event of the given level.
func (c *TierCounts) Add(l RiskLevel) {
	switch l {
	case LevelCritical:
		c.Critical++
	case LevelHigh:
		c.High++
	case LevelMedium:
		c.Medium++
	default:
		c.Low++
	}
}

// DayBucket is the per-calendar-day rollup the store returns.
type DayBucket struct {
	Date    time.Time
	Count   int
	RiskSum float64
}

// StateCount is the number of events recorded for a state.
type StateCount struct {
	State string `json:"state"`
	Count int    `json:"count"`
}

// Aggregates are raw rollups read from the store in a single coherent scan.
// Ordering and windowing are applied by the aggregate package.
type Aggregates struct {
	Days   []DayBucket
	Tiers  TierCounts
	States []StateCount
}
