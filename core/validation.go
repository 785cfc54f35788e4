package core

import (
	"errors"
	"fmt"
	"math"
)

// ValidationError reports why an input was rejected before reaching the engine.
type ValidationError struct {
	Field  string `json:"field"`
	Reason string `json:"reason"`
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// IsValidationError reports whether err carries a *ValidationError.
func IsValidationError(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// ValidateEstimate rejects NaN or out-of-range scores and an empty sample.
func ValidateEstimate(est PointEstimate) error {
	for _, t := range Traits {
		if err := validateScore(string(t), est.Score(t)); err != nil {
			return err
		}
	}
	if est.SampleSize == 0 {
		return &ValidationError{Field: "sampleSize", Reason: "must be greater than zero"}
	}
	if est.Timestamp.IsZero() {
		return &ValidationError{Field: "timestamp", Reason: "is required"}
	}
	return nil
}

// ValidateSource rejects unknown source types.
func ValidateSource(src EvidenceSource) error {
	if !src.Type.Valid() {
		return &ValidationError{Field: "source.type", Reason: fmt.Sprintf("unknown source %q", src.Type)}
	}
	return nil
}

// ValidateProfile checks the domain constraints a profile read from an
// untrusted place must satisfy before it is committed.
func ValidateProfile(p PersonaProfile) error {
	for _, t := range Traits {
		d := p.OCEAN.Get(t)
		if !d.Valid() {
			return &ValidationError{Field: string(t), Reason: "alpha and beta must be positive"}
		}
		if err := validateScore(string(t), d.Mean()); err != nil {
			return err
		}
	}
	if p.SampleCount == 0 {
		return &ValidationError{Field: "sampleCount", Reason: "must be greater than zero"}
	}
	if len(p.Evidence) > MaxEvidence {
		return &ValidationError{Field: "evidence", Reason: fmt.Sprintf("more than %d entries", MaxEvidence)}
	}
	for i := 1; i < len(p.Evidence); i++ {
		if p.Evidence[i].Timestamp.After(p.Evidence[i-1].Timestamp) {
			return &ValidationError{Field: "evidence", Reason: "not ordered newest first"}
		}
	}
	return nil
}

func validateScore(field string, v float64) error {
	if math.IsNaN(v) {
		return &ValidationError{Field: field, Reason: "score is NaN"}
	}
	if v < 0 || v > 1 {
		return &ValidationError{Field: field, Reason: fmt.Sprintf("score %v outside [0,1]", v)}
	}
	return nil
}
