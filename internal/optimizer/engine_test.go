package optimizer

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crohns-treatment-optimizer/internal/biomarker"
	"github.com/crohns-treatment-optimizer/internal/domain"
	"github.com/crohns-treatment-optimizer/internal/fitness"
	"github.com/crohns-treatment-optimizer/internal/formulary"
)

func testLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func testConfig(seed int64) domain.OptimizerConfig {
	cfg := domain.DefaultOptimizerConfig()
	cfg.PopulationSize = 40
	cfg.Generations = 20
	cfg.Seed = seed
	cfg.Workers = 4
	return cfg
}

func newTestEngine(t *testing.T, cfg domain.OptimizerConfig) *Engine {
	t.Helper()
	logger := testLogger()
	f := formulary.Default()
	eval, err := fitness.NewEvaluator(f, cfg.FitnessWeights, logger)
	require.NoError(t, err)
	engine, err := NewEngine(cfg, f, eval, biomarker.DefaultModel(logger), logger)
	require.NoError(t, err)
	return engine
}

func nod2Patient() *domain.PatientProfile {
	return &domain.PatientProfile{
		ID:       "pt-nod2",
		Age:      29,
		Sex:      domain.MALE,
		WeightKg: 75,
		Subtype:  domain.ILEOCOLONIC,
		Severity: domain.MODERATE,
		GeneticMarkers: []domain.GeneticMarker{
			{Gene: "NOD2", Variant: "rs2066844", Zygosity: domain.HOMOZYGOUS},
		},
		SerumMarkers: map[string]float64{"CRP": 28, "calprotectin": 420},
	}
}

func TestOptimizeRejectsInvalidPatient(t *testing.T) {
	engine := newTestEngine(t, testConfig(1))
	_, err := engine.Optimize(context.Background(), &domain.PatientProfile{ID: "no-demographics"})
	assert.ErrorIs(t, err, domain.ErrInvalidPatient)
}

func TestOptimizeProducesValidResult(t *testing.T) {
	engine := newTestEngine(t, testConfig(42))
	result, err := engine.Optimize(context.Background(), nod2Patient())
	require.NoError(t, err)

	require.NotNil(t, result.Best)
	assert.NoError(t, result.Best.Validate(3))
	assert.Greater(t, result.Fitness, 0.5)
	assert.False(t, result.Partial)
	assert.NotEmpty(t, result.Explanations)
	assert.NotEmpty(t, result.BiomarkerInfluences)

	for _, alt := range result.Alternatives {
		assert.NoError(t, alt.Plan.Validate(3))
		assert.NotEqual(t, result.Best.Hash(), alt.Plan.Hash())
	}
}

func TestOptimizeBestNeverRegresses(t *testing.T) {
	engine := newTestEngine(t, testConfig(7))
	result, err := engine.Optimize(context.Background(), nod2Patient())
	require.NoError(t, err)

	require.NotEmpty(t, result.BestByGeneration)
	for i := 1; i < len(result.BestByGeneration); i++ {
		assert.GreaterOrEqual(t, result.BestByGeneration[i], result.BestByGeneration[i-1]-1e-9,
			"elitism must keep the best individual from generation %d", i-1)
	}
	last := result.BestByGeneration[len(result.BestByGeneration)-1]
	assert.InDelta(t, result.Fitness, last, 1e-9)
}

func TestOptimizeDeterministicForSeed(t *testing.T) {
	first, err := newTestEngine(t, testConfig(42)).Optimize(context.Background(), nod2Patient())
	require.NoError(t, err)
	second, err := newTestEngine(t, testConfig(42)).Optimize(context.Background(), nod2Patient())
	require.NoError(t, err)

	assert.Equal(t, first.Best.Hash(), second.Best.Hash())
	assert.Equal(t, first.Fitness, second.Fitness)
	assert.Equal(t, first.TerminationReason, second.TerminationReason)
}

func TestOptimizeCancelledReturnsPartial(t *testing.T) {
	engine := newTestEngine(t, testConfig(3))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	result, err := engine.Optimize(ctx, nod2Patient())
	require.NoError(t, err)

	assert.True(t, result.Partial)
	assert.Equal(t, domain.TERM_CANCELLED, result.TerminationReason)
	require.NotNil(t, result.Best)
	assert.NoError(t, result.Best.Validate(3))
	assert.Equal(t, 0, result.Generations)
}

func TestOptimizeBudgetExceededReturnsPartial(t *testing.T) {
	cfg := testConfig(3)
	cfg.Budget = time.Nanosecond
	engine := newTestEngine(t, cfg)

	result, err := engine.Optimize(context.Background(), nod2Patient())
	require.NoError(t, err)

	assert.True(t, result.Partial)
	assert.Equal(t, domain.TERM_TIMED_OUT, result.TerminationReason)
	require.NotNil(t, result.Best)
}

func TestOptimizeAllergiesExcluded(t *testing.T) {
	engine := newTestEngine(t, testConfig(11))
	patient := nod2Patient()
	patient.Allergies = []string{"Adalimumab", "Infliximab"}

	result, err := engine.Optimize(context.Background(), patient)
	require.NoError(t, err)
	assert.False(t, result.Best.ContainsDrug("Adalimumab"))
	assert.False(t, result.Best.ContainsDrug("Infliximab"))
	for _, alt := range result.Alternatives {
		assert.False(t, alt.Plan.ContainsDrug("Adalimumab"))
		assert.False(t, alt.Plan.ContainsDrug("Infliximab"))
	}
}

func TestOptimizeSeededNOD2Scenario(t *testing.T) {
	// Five-drug formulary where only drug-a carries a NOD2 association;
	// with a fixed seed the optimizer must pick it up for a NOD2 carrier.
	all := []domain.DiseaseSubtype{domain.ILEOCOLONIC}
	drugs := make([]formulary.Drug, 0, 5)
	for _, name := range []string{"drug-a", "drug-b", "drug-c", "drug-d", "drug-e"} {
		d := formulary.Drug{
			Name: name, Class: formulary.TNF_INHIBITOR, EfficacyPrior: 0.5,
			MonthlyCost: 100, Unit: domain.MG,
			Dose:        formulary.DoseRange{Min: 10, Max: 40},
			Frequencies: []domain.Frequency{domain.DAILY},
			Subtypes:    all, DurationDays: 90,
		}
		if name == "drug-a" {
			d.BiomarkerTags = map[string]float64{"NOD2": 1.0}
		}
		drugs = append(drugs, d)
	}
	f, err := formulary.New(drugs, nil)
	require.NoError(t, err)

	logger := testLogger()
	cfg := domain.DefaultOptimizerConfig()
	cfg.PopulationSize = 20
	cfg.Generations = 10
	cfg.Seed = 42

	eval, err := fitness.NewEvaluator(f, cfg.FitnessWeights, logger)
	require.NoError(t, err)
	engine, err := NewEngine(cfg, f, eval, biomarker.DefaultModel(logger), logger)
	require.NoError(t, err)

	patient := &domain.PatientProfile{
		ID:              "pt-scenario",
		Age:             29,
		Sex:             domain.MALE,
		WeightKg:        75,
		Subtype:         domain.ILEOCOLONIC,
		Severity:        domain.MODERATE,
		DiseaseActivity: map[string]float64{"CDAI": 220},
		GeneticMarkers: []domain.GeneticMarker{
			{Gene: "NOD2", Variant: "rs2066844", Zygosity: domain.HETEROZYGOUS},
		},
	}
	result, err := engine.Optimize(context.Background(), patient)
	require.NoError(t, err)

	assert.True(t, result.Best.ContainsDrug("drug-a"),
		"the NOD2-associated drug must be selected for a NOD2 carrier")
	assert.Greater(t, result.Fitness, 0.5)
}

func TestNextGenerationPreservesSizeAndValidity(t *testing.T) {
	engine := newTestEngine(t, testConfig(5))
	patient := nod2Patient()
	influence := biomarker.DefaultModel(testLogger()).Score(patient)

	pool, err := newCandidatePool(engine.formulary, patient)
	require.NoError(t, err)

	population := make([]*domain.TreatmentPlan, engine.cfg.PopulationSize)
	for i := range population {
		population[i] = pool.seedPlan(engine.rng, engine.formulary, patient, engine.cfg.MaxMedications)
	}
	require.NoError(t, engine.evaluatePopulation(population, patient, influence))
	sortByFitness(population)

	next := engine.nextGeneration(population, pool, patient, influence)
	assert.Len(t, next, engine.cfg.PopulationSize)
	for _, plan := range next {
		assert.NoError(t, plan.Validate(engine.cfg.MaxMedications))
	}
}

func TestCrossoverTrimsToLimit(t *testing.T) {
	engine := newTestEngine(t, testConfig(9))
	patient := nod2Patient()
	influence := domain.BiomarkerInfluence{"NOD2": 0.8}

	a := &domain.TreatmentPlan{
		Fitness: 0.8, Scored: true,
		Components: []domain.TreatmentComponent{
			{Drug: "Upadacitinib", Dosage: 30, Unit: domain.MG, Frequency: domain.DAILY, DurationDays: 90},
			{Drug: "Adalimumab", Dosage: 40, Unit: domain.MG, Frequency: domain.BIWEEKLY, DurationDays: 90},
		},
	}
	b := &domain.TreatmentPlan{
		Fitness: 0.6, Scored: true,
		Components: []domain.TreatmentComponent{
			{Drug: "Azathioprine", Dosage: 100, Unit: domain.MG, Frequency: domain.DAILY, DurationDays: 180},
			{Drug: "Prednisone", Dosage: 20, Unit: domain.MG, Frequency: domain.DAILY, DurationDays: 30},
		},
	}

	child := engine.crossover(engine.rng, a, b, patient, influence)
	assert.LessOrEqual(t, len(child.Components), engine.cfg.MaxMedications)
	assert.False(t, child.Scored)
	assert.NoError(t, child.Validate(engine.cfg.MaxMedications))
	// The fitter parent's high-efficacy biologics must survive the trim.
	assert.True(t, child.ContainsDrug("Upadacitinib"))
}

func TestMutateKeepsPlanValid(t *testing.T) {
	engine := newTestEngine(t, testConfig(13))
	patient := nod2Patient()
	pool, err := newCandidatePool(engine.formulary, patient)
	require.NoError(t, err)

	for i := 0; i < 200; i++ {
		plan := pool.seedPlan(engine.rng, engine.formulary, patient, engine.cfg.MaxMedications)
		engine.mutate(engine.rng, plan, pool, patient)
		assert.NoError(t, plan.Validate(engine.cfg.MaxMedications))
		assert.False(t, plan.Scored)
	}
}
