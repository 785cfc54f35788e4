package core

import (
	"sort"
	"time"
)

// MaxEvidence caps the evidence log kept on a profile.
const MaxEvidence = 30

// Direction classifies how a single estimate moved a trait.
type Direction string

const (
	DirectionIncrease Direction = "increase"
	DirectionDecrease Direction = "decrease"
	DirectionNeutral  Direction = "neutral"
)

// SourceType identifies the evidence producer.
type SourceType string

const (
	SourceOnboarding           SourceType = "onboarding"
	SourceConversationAnalysis SourceType = "conversation_analysis"
	SourcePeriodicReextraction SourceType = "periodic_reextraction"
)

// Valid reports whether s is a known source type.
func (s SourceType) Valid() bool {
	switch s {
	case SourceOnboarding, SourceConversationAnalysis, SourcePeriodicReextraction:
		return true
	}
	return false
}

func (s SourceType) describe() string {
	switch s {
	case SourceOnboarding:
		return "onboarding answers"
	case SourceConversationAnalysis:
		return "conversation analysis"
	case SourcePeriodicReextraction:
		return "periodic re-analysis"
	}
	return string(s)
}

// EvidenceSource records where a piece of evidence came from.
type EvidenceSource struct {
	Type      SourceType `json:"type"`
	ID        string     `json:"id,omitempty"`
	CreatedAt time.Time  `json:"createdAt"`
}

// PersonaEvidence is one entry of the bounded evidence log.
type PersonaEvidence struct {
	Trait     Trait          `json:"trait"`
	Direction Direction      `json:"direction"`
	Weight    float64        `json:"weight"`
	Timestamp time.Time      `json:"timestamp"`
	Source    EvidenceSource `json:"source"`
	Summary   string         `json:"summary"`
}

// PersonaProfile is an immutable snapshot of a user's OCEAN beliefs.
type PersonaProfile struct {
	OCEAN       OCEAN             `json:"ocean"`
	SampleCount uint64            `json:"sampleCount"`
	UpdatedAt   time.Time         `json:"updatedAt"`
	Evidence    []PersonaEvidence `json:"evidence"`
}

// NewPersonaProfile returns a profile with uniform priors and no evidence.
func NewPersonaProfile(at time.Time) PersonaProfile {
	return PersonaProfile{
		OCEAN:     UniformOCEAN(at),
		UpdatedAt: at,
		Evidence:  []PersonaEvidence{},
	}
}

// Clone returns a deep copy so callers never share the evidence backing array.
func (p PersonaProfile) Clone() PersonaProfile {
	evidence := make([]PersonaEvidence, len(p.Evidence))
	copy(evidence, p.Evidence)
	p.Evidence = evidence
	return p
}

// sortEvidence orders newest first and truncates to MaxEvidence. Entries
// sharing a timestamp keep their relative order.
func sortEvidence(evidence []PersonaEvidence) []PersonaEvidence {
	sort.SliceStable(evidence, func(i, j int) bool {
		return evidence[i].Timestamp.After(evidence[j].Timestamp)
	})
	if len(evidence) > MaxEvidence {
		evidence = evidence[:MaxEvidence]
	}
	return evidence
}

// PointEstimate is one analysis result: five scores in [0,1] plus the amount
// of raw material behind them.
type PointEstimate struct {
	Openness          float64   `json:"openness"`
	Conscientiousness float64   `json:"conscientiousness"`
	Extraversion      float64   `json:"extraversion"`
	Agreeableness     float64   `json:"agreeableness"`
	Neuroticism       float64   `json:"neuroticism"`
	SampleSize        uint32    `json:"sampleSize"`
	Timestamp         time.Time `json:"timestamp"`
}

// Score returns the estimate for t.
func (e PointEstimate) Score(t Trait) float64 {
	switch t {
	case Openness:
		return e.Openness
	case Conscientiousness:
		return e.Conscientiousness
	case Extraversion:
		return e.Extraversion
	case Agreeableness:
		return e.Agreeableness
	case Neuroticism:
		return e.Neuroticism
	}
	return 0
}

// TraitView is the read model of one trait.
type TraitView struct {
	Trait      Trait   `json:"trait"`
	Mean       float64 `json:"mean"`
	Confidence float64 `json:"confidence"`
	Reliable   bool    `json:"reliable"`
}

// ProfileView is the read model served to clients.
type ProfileView struct {
	Traits      []TraitView       `json:"traits"`
	SampleCount uint64            `json:"sampleCount"`
	UpdatedAt   time.Time         `json:"updatedAt"`
	SyncRate    float64           `json:"syncRate"`
	Evidence    []PersonaEvidence `json:"evidence"`
}

// View derives means and confidences. SyncRate averages the confidence of
// the reliable traits and stays zero until at least one trait is reliable.
func (p PersonaProfile) View(threshold float64) ProfileView {
	view := ProfileView{
		Traits:      make([]TraitView, 0, len(Traits)),
		SampleCount: p.SampleCount,
		UpdatedAt:   p.UpdatedAt,
		Evidence:    p.Clone().Evidence,
	}

	var sum float64
	var reliable int
	for _, t := range Traits {
		d := p.OCEAN.Get(t)
		tv := TraitView{
			Trait:      t,
			Mean:       d.Mean(),
			Confidence: d.Confidence(),
			Reliable:   d.IsReliable(threshold),
		}
		if tv.Reliable {
			sum += tv.Confidence
			reliable++
		}
		view.Traits = append(view.Traits, tv)
	}
	if reliable > 0 {
		view.SyncRate = sum / float64(reliable)
	}
	return view
}
