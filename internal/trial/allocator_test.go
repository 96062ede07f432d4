package trial

import (
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crohns-treatment-optimizer/internal/domain"
)

func threeArms() []domain.TrialArm {
	component := domain.TreatmentComponent{
		Drug: "Adalimumab", Dosage: 40, Unit: domain.MG,
		Frequency: domain.BIWEEKLY, DurationDays: 90,
	}
	return []domain.TrialArm{
		{ArmID: "arm-a", Name: "A", Treatment: []domain.TreatmentComponent{component}},
		{ArmID: "arm-b", Name: "B", Treatment: []domain.TreatmentComponent{component}},
		{ArmID: "arm-c", Name: "C", Treatment: []domain.TreatmentComponent{component}, Control: true},
	}
}

func probSum(probs map[string]float64) float64 {
	total := 0.0
	for _, p := range probs {
		total += p
	}
	return total
}

func TestAllocatorStartsUniform(t *testing.T) {
	a := NewAllocator(threeArms())
	probs := a.Probabilities()
	require.Len(t, probs, 3)
	for id, p := range probs {
		assert.InDelta(t, 1.0/3, p, 1e-9, id)
	}
}

func TestDropConservesProbabilityMass(t *testing.T) {
	a := NewAllocator(threeArms())
	a.SetProbabilities(map[string]float64{"arm-a": 0.6, "arm-b": 0.3, "arm-c": 0.1})

	a.Drop("arm-b")
	probs := a.Probabilities()

	assert.InDelta(t, 1.0, probSum(probs), 1e-9)
	_, present := probs["arm-b"]
	assert.False(t, present, "dropped arm must leave the table")
	// Survivors keep their relative shares: 0.6:0.1 becomes 6/7:1/7.
	assert.InDelta(t, 6.0/7, probs["arm-a"], 1e-9)
	assert.InDelta(t, 1.0/7, probs["arm-c"], 1e-9)
}

func TestDropIsIrreversible(t *testing.T) {
	a := NewAllocator(threeArms())
	a.Drop("arm-a")
	assert.True(t, a.Dropped("arm-a"))

	// Installing a new distribution cannot resurrect a dropped arm.
	a.SetProbabilities(map[string]float64{"arm-a": 0.9, "arm-b": 0.05, "arm-c": 0.05})
	probs := a.Probabilities()
	_, present := probs["arm-a"]
	assert.False(t, present)
	assert.InDelta(t, 1.0, probSum(probs), 1e-9)
	assert.Len(t, a.ActiveArms(), 2)
}

func TestAllocateStratificationIsHard(t *testing.T) {
	arms := threeArms()
	arms[0].BiomarkerStratification = []domain.StratificationCriterion{
		{Marker: "NOD2", RequireVariant: true, MinInfluence: 0.3},
	}
	arms[1].BiomarkerStratification = []domain.StratificationCriterion{
		{Marker: "IL23R", RequireVariant: true},
	}
	arms[2].BiomarkerStratification = []domain.StratificationCriterion{
		{Marker: "NOD2", RequireVariant: true, MinInfluence: 0.9},
	}
	a := NewAllocator(arms)
	rng := rand.New(rand.NewSource(1))

	carrier := &domain.PatientProfile{
		ID: "pt-1",
		GeneticMarkers: []domain.GeneticMarker{
			{Gene: "NOD2", Variant: "rs2066844", Zygosity: domain.HOMOZYGOUS},
		},
	}
	influence := domain.BiomarkerInfluence{"NOD2": 0.8}

	// Only arm-a accepts this patient: arm-b needs IL23R, arm-c needs
	// influence 0.9.
	for i := 0; i < 20; i++ {
		armID, err := a.Allocate(rng, domain.STRATEGY_PROBABILITY, carrier, influence, nil)
		require.NoError(t, err)
		assert.Equal(t, "arm-a", armID)
	}

	noCarrier := &domain.PatientProfile{ID: "pt-2"}
	_, err := a.Allocate(rng, domain.STRATEGY_PROBABILITY, noCarrier, nil, nil)
	assert.ErrorIs(t, err, domain.ErrNoEligibleArm)
}

func TestAllocateAllArmsDropped(t *testing.T) {
	a := NewAllocator(threeArms())
	a.Drop("arm-a")
	a.Drop("arm-b")
	a.Drop("arm-c")

	_, err := a.Allocate(rand.New(rand.NewSource(1)), domain.STRATEGY_PROBABILITY, &domain.PatientProfile{ID: "pt-1"}, nil, nil)
	assert.ErrorIs(t, err, domain.ErrAllArmsDropped)
}

func TestWeightedDrawFollowsDistribution(t *testing.T) {
	a := NewAllocator(threeArms())
	a.SetProbabilities(map[string]float64{"arm-a": 0.8, "arm-b": 0.15, "arm-c": 0.05})
	rng := rand.New(rand.NewSource(99))
	patient := &domain.PatientProfile{ID: "pt-1"}

	counts := map[string]int{}
	const draws = 3000
	for i := 0; i < draws; i++ {
		armID, err := a.Allocate(rng, domain.STRATEGY_PROBABILITY, patient, nil, nil)
		require.NoError(t, err)
		counts[armID]++
	}
	assert.InDelta(t, 0.8, float64(counts["arm-a"])/draws, 0.05)
	assert.InDelta(t, 0.15, float64(counts["arm-b"])/draws, 0.05)
}

func TestThompsonFavorsRespondingArm(t *testing.T) {
	a := NewAllocator(threeArms())
	rng := rand.New(rand.NewSource(5))
	patient := &domain.PatientProfile{ID: "pt-1"}
	tallies := map[string]*domain.ArmStatistics{
		"arm-a": {ArmID: "arm-a", Enrolled: 100, Responders: 80},
		"arm-b": {ArmID: "arm-b", Enrolled: 100, Responders: 20},
		"arm-c": {ArmID: "arm-c", Enrolled: 100, Responders: 25},
	}

	counts := map[string]int{}
	const draws = 500
	for i := 0; i < draws; i++ {
		armID, err := a.Allocate(rng, domain.STRATEGY_THOMPSON, patient, nil, tallies)
		require.NoError(t, err)
		counts[armID]++
	}
	assert.Greater(t, counts["arm-a"], draws/2, "posterior sampling should concentrate on the responding arm")
	assert.True(t, math.Abs(float64(counts["arm-b"]-counts["arm-c"])) < float64(draws)/2)
}
