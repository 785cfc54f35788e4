package core

import (
	"errors"
	"math"
	"time"
)

// Trait names one of the five OCEAN dimensions.
type Trait string

const (
	Openness          Trait = "openness"
	Conscientiousness Trait = "conscientiousness"
	Extraversion      Trait = "extraversion"
	Agreeableness     Trait = "agreeableness"
	Neuroticism       Trait = "neuroticism"
)

// Traits lists the OCEAN dimensions in canonical order.
var Traits = []Trait{Openness, Conscientiousness, Extraversion, Agreeableness, Neuroticism}

// Label returns the capitalized display name of the trait.
func (t Trait) Label() string {
	switch t {
	case Openness:
		return "Openness"
	case Conscientiousness:
		return "Conscientiousness"
	case Extraversion:
		return "Extraversion"
	case Agreeableness:
		return "Agreeableness"
	case Neuroticism:
		return "Neuroticism"
	}
	return string(t)
}

// Valid reports whether t is one of the five OCEAN traits.
func (t Trait) Valid() bool {
	for _, known := range Traits {
		if t == known {
			return true
		}
	}
	return false
}

const (
	// DefaultConfidenceSmoothing is the K in (n / (n + K)) where n is the
	// pseudo-count gathered beyond the uniform prior.
	DefaultConfidenceSmoothing = 10.0

	// DefaultReliabilityThreshold is the confidence a trait needs before
	// derived features treat it as reliable.
	DefaultReliabilityThreshold = 0.5
)

// ErrInvalidWeight is returned when an update carries a non-positive weight.
var ErrInvalidWeight = errors.New("weight must be positive")

// ErrInvalidScore is returned when an update carries a NaN score.
var ErrInvalidScore = errors.New("score must be a number")

// TraitDistribution is a Beta(alpha, beta) belief over one trait score in [0,1].
// Values are immutable: updates return a new distribution.
type TraitDistribution struct {
	Alpha     float64   `json:"alpha"`
	Beta      float64   `json:"beta"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// NewTraitDistribution returns the uniform prior Beta(1,1).
func NewTraitDistribution(at time.Time) TraitDistribution {
	return TraitDistribution{Alpha: 1, Beta: 1, UpdatedAt: at}
}

// Mean returns alpha / (alpha + beta).
func (d TraitDistribution) Mean() float64 {
	total := d.Alpha + d.Beta
	if total <= 0 {
		return 0.5
	}
	return d.Alpha / total
}

// PseudoCount returns the evidence mass gathered on top of the uniform prior.
func (d TraitDistribution) PseudoCount() float64 {
	return math.Max(0, d.Alpha+d.Beta-2)
}

// Confidence saturates toward 1 as pseudo-count grows, using the default K.
func (d TraitDistribution) Confidence() float64 {
	return d.ConfidenceWith(DefaultConfidenceSmoothing)
}

// ConfidenceWith is Confidence with an explicit smoothing constant.
func (d TraitDistribution) ConfidenceWith(k float64) float64 {
	n := d.PseudoCount()
	if n+k <= 0 {
		return 0
	}
	return n / (n + k)
}

// IsReliable reports whether the confidence reaches threshold.
func (d TraitDistribution) IsReliable(threshold float64) bool {
	return d.Confidence() >= threshold
}

// UpdateFromPoint treats a point estimate as weight pseudo-observations of a
// Bernoulli trial with success probability score. Updates commute.
func (d TraitDistribution) UpdateFromPoint(score, weight float64, ts time.Time) (TraitDistribution, error) {
	if math.IsNaN(score) {
		return d, ErrInvalidScore
	}
	if math.IsNaN(weight) || math.IsInf(weight, 0) || weight <= 0 {
		return d, ErrInvalidWeight
	}
	score = clamp01(score)

	next := TraitDistribution{
		Alpha:     d.Alpha + score*weight,
		Beta:      d.Beta + (1-score)*weight,
		UpdatedAt: d.UpdatedAt,
	}
	if ts.After(next.UpdatedAt) {
		next.UpdatedAt = ts
	}
	return next, nil
}

// Valid reports whether the distribution satisfies alpha, beta > 0.
func (d TraitDistribution) Valid() bool {
	return d.Alpha > 0 && d.Beta > 0 &&
		!math.IsInf(d.Alpha, 0) && !math.IsInf(d.Beta, 0)
}

// WeightForSampleSize maps the amount of analysed text to evidence strength.
func WeightForSampleSize(sampleSize uint32) float64 {
	switch {
	case sampleSize >= 20:
		return 8
	case sampleSize >= 10:
		return 5
	case sampleSize >= 5:
		return 3
	default:
		return 1.5
	}
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// OCEAN holds one distribution per trait.
type OCEAN struct {
	Openness          TraitDistribution `json:"openness"`
	Conscientiousness TraitDistribution `json:"conscientiousness"`
	Extraversion      TraitDistribution `json:"extraversion"`
	Agreeableness     TraitDistribution `json:"agreeableness"`
	Neuroticism       TraitDistribution `json:"neuroticism"`
}

// UniformOCEAN returns five uniform priors stamped at.
func UniformOCEAN(at time.Time) OCEAN {
	prior := NewTraitDistribution(at)
	return OCEAN{
		Openness:          prior,
		Conscientiousness: prior,
		Extraversion:      prior,
		Agreeableness:     prior,
		Neuroticism:       prior,
	}
}

// Get returns the distribution for t.
func (o OCEAN) Get(t Trait) TraitDistribution {
	switch t {
	case Openness:
		return o.Openness
	case Conscientiousness:
		return o.Conscientiousness
	case Extraversion:
		return o.Extraversion
	case Agreeableness:
		return o.Agreeableness
	case Neuroticism:
		return o.Neuroticism
	}
	return TraitDistribution{}
}

// With returns a copy of o with t replaced by d.
func (o OCEAN) With(t Trait, d TraitDistribution) OCEAN {
	switch t {
	case Openness:
		o.Openness = d
	case Conscientiousness:
		o.Conscientiousness = d
	case Extraversion:
		o.Extraversion = d
	case Agreeableness:
		o.Agreeableness = d
	case Neuroticism:
		o.Neuroticism = d
	}
	return o
}
