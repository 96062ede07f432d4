// Package domain contains the core business entities for treatment-plan
// optimization and adaptive clinical trials in Crohn's disease.
//
// All types in this package are plain structured data: the optimizer and the
// trial engine consume and produce them without performing any I/O, so the
// package carries no transport or persistence concerns.
package domain

import (
	"fmt"
)

// Sex represents the patient's biological sex as recorded in the profile.
type Sex string

const (
	MALE    Sex = "MALE"
	FEMALE  Sex = "FEMALE"
	UNKNOWN Sex = "UNKNOWN"
)

// DiseaseSubtype represents the anatomical subtype of Crohn's disease.
// Formulary drugs declare which subtypes they are indicated for, and the
// optimizer seeds populations only from indicated drugs.
type DiseaseSubtype string

const (
	ILEAL       DiseaseSubtype = "ILEAL"
	COLONIC     DiseaseSubtype = "COLONIC"
	ILEOCOLONIC DiseaseSubtype = "ILEOCOLONIC"
	PERIANAL    DiseaseSubtype = "PERIANAL"
)

// DiseaseSeverity represents the current severity of disease activity.
type DiseaseSeverity string

const (
	MILD     DiseaseSeverity = "MILD"
	MODERATE DiseaseSeverity = "MODERATE"
	SEVERE   DiseaseSeverity = "SEVERE"
)

// Zygosity of a genetic marker. Homozygous variants contribute twice the
// configured association weight during biomarker scoring.
type Zygosity string

const (
	HETEROZYGOUS Zygosity = "HETEROZYGOUS"
	HOMOZYGOUS   Zygosity = "HOMOZYGOUS"
)

// ResponseOutcome records how a patient responded to a prior treatment.
type ResponseOutcome string

const (
	COMPLETE_RESPONSE ResponseOutcome = "COMPLETE"
	PARTIAL_RESPONSE  ResponseOutcome = "PARTIAL"
	NO_RESPONSE       ResponseOutcome = "NONE"
	ADVERSE_RESPONSE  ResponseOutcome = "ADVERSE"
)

// GeneticMarker is a single genotyped variant in the patient's profile.
type GeneticMarker struct {
	Gene     string   `json:"gene"`
	Variant  string   `json:"variant"`
	Zygosity Zygosity `json:"zygosity"`
}

// TreatmentRecord is one entry in the patient's ordered treatment history.
type TreatmentRecord struct {
	Drug          string          `json:"drug"`
	Response      ResponseOutcome `json:"response"`
	AdverseEvents []string        `json:"adverse_events,omitempty"`
}

// PatientProfile is the immutable input to optimization and trial
// allocation. It is supplied by an external EHR/transform collaborator and
// never mutated by the core.
type PatientProfile struct {
	ID       string  `json:"patient_id"`
	Age      int     `json:"age"`
	Sex      Sex     `json:"sex"`
	WeightKg float64 `json:"weight_kg"`
	HeightCm float64 `json:"height_cm"`

	Subtype  DiseaseSubtype  `json:"disease_subtype"`
	Severity DiseaseSeverity `json:"severity"`

	// DiseaseActivity holds continuous activity indices, e.g. "CDAI".
	DiseaseActivity map[string]float64 `json:"disease_activity,omitempty"`

	GeneticMarkers []GeneticMarker    `json:"genetic_markers,omitempty"`
	SerumMarkers   map[string]float64 `json:"serum_markers,omitempty"`

	Allergies     []string `json:"allergies,omitempty"`
	Comorbidities []string `json:"comorbidities,omitempty"`

	TreatmentHistory []TreatmentRecord `json:"treatment_history,omitempty"`
}

// IsValid validates the sex value.
func (s Sex) IsValid() bool {
	switch s {
	case MALE, FEMALE, UNKNOWN:
		return true
	default:
		return false
	}
}

// IsValid validates the disease subtype.
func (d DiseaseSubtype) IsValid() bool {
	switch d {
	case ILEAL, COLONIC, ILEOCOLONIC, PERIANAL:
		return true
	default:
		return false
	}
}

// IsValid validates the disease severity.
func (d DiseaseSeverity) IsValid() bool {
	switch d {
	case MILD, MODERATE, SEVERE:
		return true
	default:
		return false
	}
}

// IsValid validates the zygosity.
func (z Zygosity) IsValid() bool {
	switch z {
	case HETEROZYGOUS, HOMOZYGOUS:
		return true
	default:
		return false
	}
}

// IsValid validates the response outcome.
func (r ResponseOutcome) IsValid() bool {
	switch r {
	case COMPLETE_RESPONSE, PARTIAL_RESPONSE, NO_RESPONSE, ADVERSE_RESPONSE:
		return true
	default:
		return false
	}
}

// Validate ensures the profile meets the invariants required before any
// optimization or allocation starts: required demographics present, all
// numeric clinical fields non-negative, and genetic markers unique by gene.
// Missing fields are rejected, never defaulted silently.
func (p *PatientProfile) Validate() error {
	if p.ID == "" {
		return fmt.Errorf("patient validation: patient ID is required: %w", ErrInvalidPatient)
	}
	if p.Age <= 0 {
		return fmt.Errorf("patient validation: age must be positive: %w", ErrInvalidPatient)
	}
	if !p.Sex.IsValid() {
		return fmt.Errorf("patient validation: invalid sex %q: %w", p.Sex, ErrInvalidPatient)
	}
	if p.WeightKg <= 0 {
		return fmt.Errorf("patient validation: weight must be positive: %w", ErrInvalidPatient)
	}
	if p.HeightCm < 0 {
		return fmt.Errorf("patient validation: height must be non-negative: %w", ErrInvalidPatient)
	}
	if !p.Subtype.IsValid() {
		return fmt.Errorf("patient validation: invalid disease subtype %q: %w", p.Subtype, ErrInvalidPatient)
	}
	if !p.Severity.IsValid() {
		return fmt.Errorf("patient validation: invalid severity %q: %w", p.Severity, ErrInvalidPatient)
	}
	for name, value := range p.DiseaseActivity {
		if value < 0 {
			return fmt.Errorf("patient validation: disease activity %q is negative: %w", name, ErrInvalidPatient)
		}
	}
	for name, value := range p.SerumMarkers {
		if value < 0 {
			return fmt.Errorf("patient validation: serum marker %q is negative: %w", name, ErrInvalidPatient)
		}
	}
	seen := make(map[string]struct{}, len(p.GeneticMarkers))
	for _, marker := range p.GeneticMarkers {
		if marker.Gene == "" {
			return fmt.Errorf("patient validation: genetic marker with empty gene: %w", ErrInvalidPatient)
		}
		if !marker.Zygosity.IsValid() {
			return fmt.Errorf("patient validation: invalid zygosity %q for gene %s: %w", marker.Zygosity, marker.Gene, ErrInvalidPatient)
		}
		if _, dup := seen[marker.Gene]; dup {
			return fmt.Errorf("patient validation: duplicate genetic marker for gene %s: %w", marker.Gene, ErrInvalidPatient)
		}
		seen[marker.Gene] = struct{}{}
	}
	return nil
}

// HasGeneticMarker reports whether the profile carries a variant for the
// given gene.
func (p *PatientProfile) HasGeneticMarker(gene string) bool {
	for _, marker := range p.GeneticMarkers {
		if marker.Gene == gene {
			return true
		}
	}
	return false
}

// PriorAdverseDrugs returns the set of drugs in the treatment history that
// ended with an adverse response or recorded adverse events.
func (p *PatientProfile) PriorAdverseDrugs() map[string]struct{} {
	out := make(map[string]struct{})
	for _, record := range p.TreatmentHistory {
		if record.Response == ADVERSE_RESPONSE || len(record.AdverseEvents) > 0 {
			out[record.Drug] = struct{}{}
		}
	}
	return out
}

// BiomarkerInfluence maps a marker identifier to a signed weight in
// [-1.0, 1.0] indicating how strongly that marker should bias treatment
// selection. It is derived per patient and never persisted.
type BiomarkerInfluence map[string]float64
