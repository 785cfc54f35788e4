package core

import (
	"fmt"
	"math"
)

// UpdateProfile folds a point estimate into an existing profile and returns
// the new snapshot. It is pure: existing is never modified and no I/O
// happens here. Inputs are assumed valid; see ApplyEstimate.
func UpdateProfile(existing *PersonaProfile, est PointEstimate, src EvidenceSource) PersonaProfile {
	var next PersonaProfile
	if existing == nil {
		next = NewPersonaProfile(est.Timestamp)
	} else {
		next = existing.Clone()
	}

	weight := WeightForSampleSize(est.SampleSize)
	fresh := make([]PersonaEvidence, 0, len(Traits))
	for _, t := range Traits {
		score := est.Score(t)
		updated, err := next.OCEAN.Get(t).UpdateFromPoint(score, weight, est.Timestamp)
		if err != nil {
			// Unreachable for validated input; keep the prior belief.
			continue
		}
		next.OCEAN = next.OCEAN.With(t, updated)

		fresh = append(fresh, PersonaEvidence{
			Trait:     t,
			Direction: ClassifyDirection(score),
			Weight:    weight,
			Timestamp: est.Timestamp,
			Source:    src,
			Summary:   summarize(t, score, src, est.SampleSize),
		})
	}

	next.Evidence = sortEvidence(append(next.Evidence, fresh...))

	if existing == nil {
		next.SampleCount = uint64(est.SampleSize)
	} else {
		next.SampleCount = existing.SampleCount + uint64(est.SampleSize)
		if next.SampleCount < existing.SampleCount {
			next.SampleCount = math.MaxUint64
		}
	}
	if est.Timestamp.After(next.UpdatedAt) {
		next.UpdatedAt = est.Timestamp
	}
	return next
}

// ApplyEstimate validates the estimate and source before handing them to
// UpdateProfile. On error no update happens.
func ApplyEstimate(existing *PersonaProfile, est PointEstimate, src EvidenceSource) (PersonaProfile, error) {
	if err := ValidateEstimate(est); err != nil {
		return PersonaProfile{}, err
	}
	if err := ValidateSource(src); err != nil {
		return PersonaProfile{}, err
	}
	return UpdateProfile(existing, est, src), nil
}

// ClassifyDirection buckets a score into increase/decrease/neutral.
func ClassifyDirection(score float64) Direction {
	switch {
	case score >= 0.6:
		return DirectionIncrease
	case score <= 0.4:
		return DirectionDecrease
	default:
		return DirectionNeutral
	}
}

func summarize(t Trait, score float64, src EvidenceSource, sampleSize uint32) string {
	pct := int(math.Round(clamp01(score) * 100))
	return fmt.Sprintf("%s estimated at %d%% from %s (%d samples)",
		t.Label(), pct, src.Type.describe(), sampleSize)
}
