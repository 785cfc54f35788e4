package core

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

const (
	// SchemaVersion is the wire schema written by MarshalProfile.
	SchemaVersion = 2

	// LegacySchemaVersion is the flat layout written by older clients.
	LegacySchemaVersion = 1
)

// ErrUnsupportedSchema is returned when neither parser understands the payload.
var ErrUnsupportedSchema = errors.New("unsupported profile schema")

type profileEnvelope struct {
	SchemaVersion int             `json:"schemaVersion"`
	Profile       *PersonaProfile `json:"profile"`
}

// MarshalProfile encodes a profile with the current schema.
func MarshalProfile(p PersonaProfile) ([]byte, error) {
	data, err := json.Marshal(profileEnvelope{SchemaVersion: SchemaVersion, Profile: &p})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal profile: %w", err)
	}
	return data, nil
}

// ParseProfile decodes a profile written with the current schema, falling
// back to the legacy layout. It returns the schema version it understood.
// Unknown fields are ignored.
func ParseProfile(data []byte) (PersonaProfile, int, error) {
	var header struct {
		SchemaVersion *int `json:"schemaVersion"`
		Version       *int `json:"version"`
	}
	if err := json.Unmarshal(data, &header); err != nil {
		return PersonaProfile{}, 0, fmt.Errorf("failed to decode profile: %w", err)
	}

	switch {
	case header.SchemaVersion != nil && *header.SchemaVersion == SchemaVersion:
		p, err := parseCurrent(data)
		return p, SchemaVersion, err
	case header.SchemaVersion == nil && (header.Version == nil || *header.Version == LegacySchemaVersion):
		p, err := parseLegacy(data)
		return p, LegacySchemaVersion, err
	case header.SchemaVersion != nil:
		return PersonaProfile{}, 0, fmt.Errorf("%w: schemaVersion %d", ErrUnsupportedSchema, *header.SchemaVersion)
	default:
		return PersonaProfile{}, 0, fmt.Errorf("%w: version %d", ErrUnsupportedSchema, *header.Version)
	}
}

func parseCurrent(data []byte) (PersonaProfile, error) {
	var env profileEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return PersonaProfile{}, fmt.Errorf("failed to decode profile: %w", err)
	}
	if env.Profile == nil {
		return PersonaProfile{}, fmt.Errorf("%w: missing profile body", ErrUnsupportedSchema)
	}
	p := env.Profile.Clone()
	p.Evidence = sortEvidence(p.Evidence)
	return p, nil
}

// legacyProfile is the v1 layout: millisecond timestamps, abbreviated
// parameter names and free-form direction strings.
type legacyProfile struct {
	Version  *int                   `json:"version"`
	Traits   map[string]legacyTrait `json:"traits"`
	Samples  uint64                 `json:"samples"`
	Updated  int64                  `json:"updated"`
	Evidence []legacyEvidence       `json:"evidence"`
}

type legacyTrait struct {
	A       float64 `json:"a"`
	B       float64 `json:"b"`
	Updated int64   `json:"updated"`
}

type legacyEvidence struct {
	Trait    string  `json:"trait"`
	Dir      string  `json:"dir"`
	W        float64 `json:"w"`
	TS       int64   `json:"ts"`
	Source   string  `json:"source"`
	SourceID string  `json:"sourceId"`
	Summary  string  `json:"summary"`
}

func parseLegacy(data []byte) (PersonaProfile, error) {
	var lp legacyProfile
	if err := json.Unmarshal(data, &lp); err != nil {
		return PersonaProfile{}, fmt.Errorf("failed to decode legacy profile: %w", err)
	}
	if len(lp.Traits) == 0 {
		return PersonaProfile{}, fmt.Errorf("%w: no traits", ErrUnsupportedSchema)
	}

	p := PersonaProfile{
		SampleCount: lp.Samples,
		UpdatedAt:   fromMillis(lp.Updated),
		Evidence:    make([]PersonaEvidence, 0, len(lp.Evidence)),
	}
	for _, t := range Traits {
		lt, ok := lp.Traits[string(t)]
		if !ok {
			return PersonaProfile{}, fmt.Errorf("%w: legacy profile missing %s", ErrUnsupportedSchema, t)
		}
		p.OCEAN = p.OCEAN.With(t, TraitDistribution{
			Alpha:     lt.A,
			Beta:      lt.B,
			UpdatedAt: fromMillis(lt.Updated),
		})
	}
	for _, le := range lp.Evidence {
		trait := Trait(le.Trait)
		if !trait.Valid() {
			continue
		}
		ts := fromMillis(le.TS)
		p.Evidence = append(p.Evidence, PersonaEvidence{
			Trait:     trait,
			Direction: legacyDirection(le.Dir),
			Weight:    le.W,
			Timestamp: ts,
			Source: EvidenceSource{
				Type:      legacySource(le.Source),
				ID:        le.SourceID,
				CreatedAt: ts,
			},
			Summary: le.Summary,
		})
	}
	p.Evidence = sortEvidence(p.Evidence)
	return p, nil
}

func legacyDirection(dir string) Direction {
	switch dir {
	case "up", "increase":
		return DirectionIncrease
	case "down", "decrease":
		return DirectionDecrease
	}
	return DirectionNeutral
}

func legacySource(src string) SourceType {
	switch src {
	case "onboarding":
		return SourceOnboarding
	case "reextract", "periodic", "periodic_reextraction":
		return SourcePeriodicReextraction
	}
	return SourceConversationAnalysis
}

func fromMillis(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}
