package service

import (
	"context"
	"io"
	"os"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crohns-treatment-optimizer/internal/config"
	"github.com/crohns-treatment-optimizer/internal/domain"
)

func newTestPlanner(t *testing.T) *Planner {
	t.Helper()
	os.Setenv("CTO_OPTIMIZER_POPULATION_SIZE", "30")
	os.Setenv("CTO_OPTIMIZER_GENERATIONS", "10")
	os.Setenv("CTO_OPTIMIZER_SEED", "42")
	os.Setenv("CTO_TRIAL_SEED", "42")
	t.Cleanup(func() {
		os.Unsetenv("CTO_OPTIMIZER_POPULATION_SIZE")
		os.Unsetenv("CTO_OPTIMIZER_GENERATIONS")
		os.Unsetenv("CTO_OPTIMIZER_SEED")
		os.Unsetenv("CTO_TRIAL_SEED")
	})

	manager, err := config.NewManager()
	require.NoError(t, err)

	logger := logrus.New()
	logger.SetOutput(io.Discard)

	planner, err := NewPlanner(manager, logger)
	require.NoError(t, err)
	return planner
}

func samplePatient() *domain.PatientProfile {
	return &domain.PatientProfile{
		ID:       "pt-svc",
		Age:      41,
		Sex:      domain.MALE,
		WeightKg: 82,
		Subtype:  domain.COLONIC,
		Severity: domain.MODERATE,
		GeneticMarkers: []domain.GeneticMarker{
			{Gene: "IL23R", Variant: "rs11209026", Zygosity: domain.HETEROZYGOUS},
		},
	}
}

func TestOptimizePlan(t *testing.T) {
	planner := newTestPlanner(t)

	result, err := planner.OptimizePlan(context.Background(), samplePatient())
	require.NoError(t, err)
	require.NotNil(t, result.Best)
	assert.NoError(t, result.Best.Validate(3))
	assert.NotEmpty(t, result.Explanations)
}

func TestRunTrialSimulated(t *testing.T) {
	planner := newTestPlanner(t)

	protocol := &domain.TrialProtocol{
		TrialID:          "svc-trial",
		TargetEnrollment: 20,
		Arms: []domain.TrialArm{
			{ArmID: "a", Name: "upadacitinib", Treatment: []domain.TreatmentComponent{
				{Drug: "Upadacitinib", Dosage: 30, Unit: domain.MG, Frequency: domain.DAILY, DurationDays: 90},
			}},
			{ArmID: "b", Name: "vedolizumab", Treatment: []domain.TreatmentComponent{
				{Drug: "Vedolizumab", Dosage: 300, Unit: domain.MG, Frequency: domain.MONTHLY, DurationDays: 112},
			}},
		},
	}

	cohort := make([]*domain.PatientProfile, 25)
	for i := range cohort {
		p := samplePatient()
		p.ID = p.ID + "-" + string(rune('a'+i%26)) + string(rune('a'+i/26))
		cohort[i] = p
	}

	result, err := planner.RunTrial(context.Background(), protocol, cohort, nil)
	require.NoError(t, err)
	assert.Equal(t, domain.TRIAL_COMPLETED, result.Status)
	assert.Len(t, result.PatientOutcomes, 20)
}

func TestRunTrialRecordedOutcomes(t *testing.T) {
	planner := newTestPlanner(t)

	protocol := &domain.TrialProtocol{
		TrialID:          "svc-trial-recorded",
		TargetEnrollment: 2,
		Arms: []domain.TrialArm{
			{ArmID: "a", Treatment: []domain.TreatmentComponent{
				{Drug: "Upadacitinib", Dosage: 30, Unit: domain.MG, Frequency: domain.DAILY, DurationDays: 90},
			}},
		},
	}
	p1, p2 := samplePatient(), samplePatient()
	p1.ID = "pt-r1"
	p2.ID = "pt-r2"

	recorded := []domain.PatientOutcome{
		{PatientID: "pt-r1", Response: 0.9, Responder: true},
		{PatientID: "pt-r2", Response: 0.1, Responder: false},
	}
	result, err := planner.RunTrial(context.Background(), protocol, []*domain.PatientProfile{p1, p2}, recorded)
	require.NoError(t, err)
	require.Len(t, result.ArmStatistics, 1)
	assert.Equal(t, 2, result.ArmStatistics[0].Enrolled)
	assert.Equal(t, 1, result.ArmStatistics[0].Responders)
}
