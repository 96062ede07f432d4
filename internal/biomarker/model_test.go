package biomarker

import (
	"io"
	"math"
	"testing"

	"github.com/sirupsen/logrus"

	"github.com/crohns-treatment-optimizer/internal/domain"
)

func testLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func TestScoreGeneticMarkers(t *testing.T) {
	m := DefaultModel(testLogger())

	patient := &domain.PatientProfile{
		GeneticMarkers: []domain.GeneticMarker{
			{Gene: "NOD2", Variant: "rs2066844", Zygosity: domain.HETEROZYGOUS},
			{Gene: "IL23R", Variant: "rs11209026", Zygosity: domain.HOMOZYGOUS},
		},
	}
	influence := m.Score(patient)

	if got := influence["NOD2"]; math.Abs(got-0.40) > 1e-9 {
		t.Errorf("heterozygous NOD2 influence = %f, want 0.40", got)
	}
	if got := influence["IL23R"]; math.Abs(got-0.70) > 1e-9 {
		t.Errorf("homozygous IL23R influence = %f, want doubled 0.70", got)
	}
}

func TestScoreUnknownMarkersInert(t *testing.T) {
	m := DefaultModel(testLogger())
	patient := &domain.PatientProfile{
		GeneticMarkers: []domain.GeneticMarker{
			{Gene: "BRCA1", Variant: "x", Zygosity: domain.HETEROZYGOUS},
		},
		SerumMarkers: map[string]float64{"troponin": 99},
	}
	influence := m.Score(patient)
	if len(influence) != 0 {
		t.Errorf("unknown markers should contribute nothing, got %v", influence)
	}
}

func TestScoreSerumDeviation(t *testing.T) {
	m := DefaultModel(testLogger())

	tests := []struct {
		name   string
		marker string
		value  float64
		want   float64
	}{
		// CRP reference is 0-5, elevated means active disease.
		{"CRP inside range", "CRP", 3, 0},
		{"CRP moderately elevated", "CRP", 7.5, 0.5},
		{"CRP extreme clips at 1", "CRP", 120, 1},
		// Albumin reference is 35-50; low albumin indicates active disease.
		{"albumin inside range", "albumin", 40, 0},
		{"albumin low", "albumin", 27.5, 0.5},
		{"albumin high is protective", "albumin", 57.5, -0.5},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			patient := &domain.PatientProfile{
				SerumMarkers: map[string]float64{tt.marker: tt.value},
			}
			influence := m.Score(patient)
			got := influence[tt.marker]
			if math.Abs(got-tt.want) > 1e-9 {
				t.Errorf("influence[%s] = %f, want %f", tt.marker, got, tt.want)
			}
		})
	}
}

func TestScoreHomozygousClipped(t *testing.T) {
	m := NewModel([]Association{{Gene: "X", Weight: 0.8}}, nil, testLogger())
	patient := &domain.PatientProfile{
		GeneticMarkers: []domain.GeneticMarker{{Gene: "X", Zygosity: domain.HOMOZYGOUS}},
	}
	if got := m.Score(patient)["X"]; got != 1 {
		t.Errorf("doubled weight 1.6 should clip to 1, got %f", got)
	}
}

func TestScoreEmptyProfile(t *testing.T) {
	m := DefaultModel(testLogger())
	influence := m.Score(&domain.PatientProfile{})
	if len(influence) != 0 {
		t.Errorf("empty profile should yield empty influence, got %v", influence)
	}
}
