// Package biomarker normalizes a patient's genetic and serum markers into
// signed influence weights that bias treatment selection.
package biomarker

import (
	"github.com/sirupsen/logrus"

	"github.com/crohns-treatment-optimizer/internal/domain"
)

// Association is one genetic marker's configured contribution. Weight is the
// heterozygous contribution; homozygous carriers contribute double, clipped
// to the [-1,1] influence range.
type Association struct {
	Gene   string
	Weight float64
}

// SerumRange is the normal reference interval for a serum marker. Values
// outside the interval contribute influence proportional to their relative
// deviation from the nearest bound, clipped to [-1,1]. Elevated is true when
// values above the range indicate active disease (CRP), false when values
// below the range do (albumin).
type SerumRange struct {
	Marker   string
	Low      float64
	High     float64
	Elevated bool
}

// Model scores patients against configured genetic associations and serum
// reference ranges. Markers absent from both tables are inert: they
// contribute nothing and produce no error.
type Model struct {
	associations map[string]float64
	serumRanges  map[string]SerumRange
	logger       *logrus.Logger
}

// NewModel builds a scorer from explicit tables.
func NewModel(associations []Association, ranges []SerumRange, logger *logrus.Logger) *Model {
	m := &Model{
		associations: make(map[string]float64, len(associations)),
		serumRanges:  make(map[string]SerumRange, len(ranges)),
		logger:       logger,
	}
	for _, a := range associations {
		m.associations[a.Gene] = a.Weight
	}
	for _, r := range ranges {
		m.serumRanges[r.Marker] = r
	}
	return m
}

// DefaultModel returns the built-in Crohn's disease marker tables.
func DefaultModel(logger *logrus.Logger) *Model {
	associations := []Association{
		{Gene: "NOD2", Weight: 0.40},
		{Gene: "IL23R", Weight: 0.35},
		{Gene: "ATG16L1", Weight: 0.25},
		{Gene: "IRGM", Weight: 0.20},
		{Gene: "LRRK2", Weight: 0.15},
		{Gene: "TNF", Weight: 0.30},
		{Gene: "JAK2", Weight: 0.25},
		{Gene: "STAT3", Weight: 0.20},
		{Gene: "IL10", Weight: 0.20},
	}
	ranges := []SerumRange{
		{Marker: "CRP", Low: 0, High: 5, Elevated: true},
		{Marker: "calprotectin", Low: 0, High: 50, Elevated: true},
		{Marker: "ESR", Low: 0, High: 20, Elevated: true},
		{Marker: "albumin", Low: 35, High: 50, Elevated: false},
		{Marker: "hemoglobin", Low: 120, High: 170, Elevated: false},
	}
	return NewModel(associations, ranges, logger)
}

// Score derives the patient's biomarker influence map. Genetic variants
// contribute their association weight, doubled for homozygous carriers.
// Serum values contribute their clipped relative deviation, signed so that
// disease-active values are positive. Unknown markers are skipped.
func (m *Model) Score(patient *domain.PatientProfile) domain.BiomarkerInfluence {
	influence := make(domain.BiomarkerInfluence)

	for _, marker := range patient.GeneticMarkers {
		weight, known := m.associations[marker.Gene]
		if !known {
			m.logger.WithField("gene", marker.Gene).Debug("unknown genetic marker ignored")
			continue
		}
		if marker.Zygosity == domain.HOMOZYGOUS {
			weight *= 2
		}
		influence[marker.Gene] = clip(weight)
	}

	for name, value := range patient.SerumMarkers {
		r, known := m.serumRanges[name]
		if !known {
			m.logger.WithField("marker", name).Debug("unknown serum marker ignored")
			continue
		}
		influence[name] = clip(serumDeviation(value, r))
	}

	return influence
}

// serumDeviation maps a serum value to a signed influence. Values inside the
// reference interval are 0; outside it the influence is the deviation
// relative to the interval width, positive when the direction indicates
// active disease.
func serumDeviation(value float64, r SerumRange) float64 {
	width := r.High - r.Low
	if width <= 0 {
		return 0
	}
	var dev float64
	switch {
	case value > r.High:
		dev = (value - r.High) / width
		if !r.Elevated {
			dev = -dev
		}
	case value < r.Low:
		dev = (r.Low - value) / width
		if r.Elevated {
			dev = -dev
		}
	}
	return dev
}

func clip(v float64) float64 {
	if v > 1 {
		return 1
	}
	if v < -1 {
		return -1
	}
	return v
}
