package event

import "math"

// Weights parameterize the risk formula.
type Weights struct {
	// SeverityBase is the starting score per severity.
	SeverityBase map[Severity]float64

	// HighSentiment and ExtremeSentiment are the multipliers for intensity
	// in [70,84] and [85,100].
	HighSentiment    float64
	ExtremeSentiment float64

	// HateSpeechSteps is the additive term for 1-2, 3-4, and 5+ indicators.
	HateSpeechSteps [3]float64
}

// DefaultWeights are the production scoring weights.
var DefaultWeights = Weights{
	SeverityBase: map[Severity]float64{
		SeverityLow:      20,
		SeverityMedium:   45,
		SeverityHigh:     70,
		SeverityCritical: 90,
	},
	HighSentiment:    1.2,
	ExtremeSentiment: 1.5,
	HateSpeechSteps:  [3]float64{10, 20, 30},
}

// Score computes the composite risk score with DefaultWeights.
func Score(f *Fields) float64 {
	return DefaultWeights.Score(f)
}

// Score computes a deterministic 0..100 risk score, rounded to one decimal.
//
// The sentiment multiplier applies to the severity base only; the hate-speech
// term is added afterwards. Outside Social conflicts (including a missing
// driver) both signals count at half weight: the multiplier is averaged with
// 1.0 and the additive term halved.
func (w Weights) Score(f *Fields) float64 {
	base, ok := w.SeverityBase[f.Severity]
	if !ok {
		base = w.SeverityBase[SeverityLow]
	}

	mult := w.sentimentMultiplier(f.SentimentIntensity)
	add := w.hateSpeechTerm(len(f.HateSpeechIndicators))

	if f.ConflictDriver == nil || *f.ConflictDriver != DriverSocial {
		mult = (mult + 1) / 2
		add /= 2
	}

	s := base*mult + add
	s = math.Max(0, math.Min(100, s))
	return math.Round(s*10) / 10
}

func (w Weights) sentimentMultiplier(si *int) float64 {
	switch {
	case si == nil:
		return 1.0
	case *si >= 85:
		return w.ExtremeSentiment
	case *si >= 70:
		return w.HighSentiment
	default:
		return 1.0
	}
}

func (w Weights) hateSpeechTerm(n int) float64 {
	switch {
	case n >= 5:
		return w.HateSpeechSteps[2]
	case n >= 3:
		return w.HateSpeechSteps[1]
	case n >= 1:
		return w.HateSpeechSteps[0]
	default:
		return 0
	}
}
