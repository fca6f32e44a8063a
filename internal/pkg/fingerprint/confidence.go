package fingerprint

import "strings"

// Confidence is the certainty tier attached to every extracted property.
// Fingerprints declare it as a number from 0 to 5.
type Confidence int

const (
	ConfidenceGuess Confidence = iota
	ConfidenceLow
	ConfidenceMedium
	ConfidenceHigh
	ConfidenceVeryHigh
	ConfidenceDefinite
)

// Normalised scores for each tier
const (
	ScoreDefinite = 1.00 // Unambiguous protocol fields
	ScoreVeryHigh = 0.95
	ScoreHigh     = 0.85
	ScoreMedium   = 0.70
	ScoreLow      = 0.50
	ScoreGuess    = 0.30 // Port or heuristic only
)

// ConfidenceFromLevel clamps a declared level into a tier
func ConfidenceFromLevel(level int) Confidence {
	switch {
	case level <= int(ConfidenceGuess):
		return ConfidenceGuess
	case level >= int(ConfidenceDefinite):
		return ConfidenceDefinite
	default:
		return Confidence(level)
	}
}

// Score returns the tier's normalised score
func (c Confidence) Score() float64 {
	switch c {
	case ConfidenceDefinite:
		return ScoreDefinite
	case ConfidenceVeryHigh:
		return ScoreVeryHigh
	case ConfidenceHigh:
		return ScoreHigh
	case ConfidenceMedium:
		return ScoreMedium
	case ConfidenceLow:
		return ScoreLow
	default:
		return ScoreGuess
	}
}

func (c Confidence) String() string {
	switch c {
	case ConfidenceDefinite:
		return "Definite"
	case ConfidenceVeryHigh:
		return "VeryHigh"
	case ConfidenceHigh:
		return "High"
	case ConfidenceMedium:
		return "Medium"
	case ConfidenceLow:
		return "Low"
	default:
		return "Guess"
	}
}

// ParseConfidence accepts either a level ("4") or a tier name ("high")
func ParseConfidence(s string) (Confidence, bool) {
	s = strings.TrimSpace(s)
	if n, err := parseInt(s); err == nil {
		return ConfidenceFromLevel(int(n)), true
	}
	for c := ConfidenceGuess; c <= ConfidenceDefinite; c++ {
		if strings.EqualFold(c.String(), s) {
			return c, true
		}
	}
	return ConfidenceGuess, false
}

// MarshalText renders the tier name
func (c Confidence) MarshalText() ([]byte, error) {
	return []byte(c.String()), nil
}
