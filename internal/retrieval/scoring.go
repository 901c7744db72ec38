package retrieval

import (
	"math"
	"time"

	"reverie/internal/types"
)

// =============================================================================
// FACT SCORING
// =============================================================================
//
// score = 0.5*cosine + 0.25*(importance/10) + 0.25*decay
//
// Decay rewards what the story keeps coming back to: important facts age
// on a month-scale half-life, trivia on a two-day one, and recent or
// frequent access pushes a fact back up.

const (
	similarityWeight = 0.5
	importanceWeight = 0.25
	decayWeight      = 0.25

	halfLifeCritical = 720 * time.Hour // importance >= 8
	halfLifeNotable  = 168 * time.Hour // importance >= 5
	halfLifeMinor    = 48 * time.Hour

	maxFreqBoost = 1.5
)

// scoreFact combines similarity, importance, and temporal decay at the
// given clock.
func scoreFact(f types.Fact, similarity float64, now time.Time) float64 {
	return similarityWeight*similarity +
		importanceWeight*(float64(f.Importance)/10) +
		decayWeight*decayFactor(f, now)
}

func decayFactor(f types.Fact, now time.Time) float64 {
	return ageFactor(f, now) * recencyBoost(f, now) * freqBoost(f)
}

func ageFactor(f types.Fact, now time.Time) float64 {
	halfLife := halfLifeMinor
	switch {
	case f.Importance >= 8:
		halfLife = halfLifeCritical
	case f.Importance >= 5:
		halfLife = halfLifeNotable
	}
	age := now.Sub(f.Timestamp)
	if age <= 0 {
		return 1
	}
	return math.Pow(0.5, age.Hours()/halfLife.Hours())
}

func recencyBoost(f types.Fact, now time.Time) float64 {
	if f.LastAccessedAt.IsZero() {
		return 1.0
	}
	since := now.Sub(f.LastAccessedAt)
	switch {
	case since < time.Hour:
		return 1.5
	case since < 24*time.Hour:
		return 1.2
	}
	return 1.0
}

func freqBoost(f types.Fact) float64 {
	return math.Min(maxFreqBoost, 1+0.1*float64(f.AccessCount))
}
