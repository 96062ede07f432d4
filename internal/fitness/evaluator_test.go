package fitness

import (
	"io"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crohns-treatment-optimizer/internal/domain"
	"github.com/crohns-treatment-optimizer/internal/formulary"
)

func testLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func newTestEvaluator(t *testing.T) *Evaluator {
	t.Helper()
	e, err := NewEvaluator(formulary.Default(), domain.DefaultFitnessWeights(), testLogger())
	require.NoError(t, err)
	return e
}

func testPatient() *domain.PatientProfile {
	return &domain.PatientProfile{
		ID:       "pt-001",
		Age:      34,
		Sex:      domain.FEMALE,
		WeightKg: 68,
		Subtype:  domain.ILEOCOLONIC,
		Severity: domain.MODERATE,
	}
}

func planOf(components ...domain.TreatmentComponent) *domain.TreatmentPlan {
	return &domain.TreatmentPlan{Components: components}
}

func adaComponent() domain.TreatmentComponent {
	return domain.TreatmentComponent{
		Drug: "Adalimumab", Dosage: 40, Unit: domain.MG,
		Frequency: domain.BIWEEKLY, DurationDays: 90,
	}
}

func TestEvaluateEmptyPlanRejected(t *testing.T) {
	e := newTestEvaluator(t)
	_, err := e.Evaluate(planOf(), testPatient(), nil)
	assert.ErrorIs(t, err, domain.ErrInvalidPlan)
}

func TestEvaluateUnknownDrug(t *testing.T) {
	e := newTestEvaluator(t)
	plan := planOf(domain.TreatmentComponent{
		Drug: "Placebozumab", Dosage: 10, Unit: domain.MG,
		Frequency: domain.DAILY, DurationDays: 30,
	})
	_, err := e.Evaluate(plan, testPatient(), nil)
	assert.ErrorIs(t, err, domain.ErrUnknownDrug)
}

func TestEvaluateSubScoresBounded(t *testing.T) {
	e := newTestEvaluator(t)
	score, err := e.Evaluate(planOf(adaComponent()), testPatient(), nil)
	require.NoError(t, err)

	for name, v := range map[string]float64{
		"combined":  score.Combined,
		"efficacy":  score.SubScores.Efficacy,
		"safety":    score.SubScores.Safety,
		"adherence": score.SubScores.Adherence,
		"cost":      score.SubScores.Cost,
	} {
		assert.GreaterOrEqual(t, v, 0.0, name)
		assert.LessOrEqual(t, v, 1.0, name)
	}
}

func TestEvaluateDeterministicAndMemoized(t *testing.T) {
	e := newTestEvaluator(t)
	patient := testPatient()
	influence := domain.BiomarkerInfluence{"TNF": 0.3}

	first, err := e.Evaluate(planOf(adaComponent()), patient, influence)
	require.NoError(t, err)
	second, err := e.Evaluate(planOf(adaComponent()), patient, influence)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestBiomarkerInfluenceRaisesEfficacy(t *testing.T) {
	e := newTestEvaluator(t)
	patient := testPatient()

	without, err := e.Evaluate(planOf(adaComponent()), patient, nil)
	require.NoError(t, err)

	// A second patient so the memo cache cannot serve the first result.
	boosted := testPatient()
	boosted.ID = "pt-002"
	with, err := e.Evaluate(planOf(adaComponent()), boosted, domain.BiomarkerInfluence{"TNF": 0.8, "NOD2": 0.4})
	require.NoError(t, err)

	assert.Greater(t, with.SubScores.Efficacy, without.SubScores.Efficacy)
}

func TestInteractionLowersSafety(t *testing.T) {
	e := newTestEvaluator(t)
	combo := planOf(
		domain.TreatmentComponent{Drug: "Infliximab", Dosage: 300, Unit: domain.MG, Frequency: domain.MONTHLY, DurationDays: 112},
		adaComponent(),
	)
	clean := planOf(
		domain.TreatmentComponent{Drug: "Infliximab", Dosage: 300, Unit: domain.MG, Frequency: domain.MONTHLY, DurationDays: 112},
		domain.TreatmentComponent{Drug: "Azathioprine", Dosage: 100, Unit: domain.MG, Frequency: domain.DAILY, DurationDays: 180},
	)

	comboScore, err := e.Evaluate(combo, testPatient(), nil)
	require.NoError(t, err)
	cleanScore, err := e.Evaluate(clean, testPatient(), nil)
	require.NoError(t, err)

	assert.Less(t, comboScore.SubScores.Safety, cleanScore.SubScores.Safety)
}

func TestPriorAdverseHistoryLowersSafety(t *testing.T) {
	e := newTestEvaluator(t)

	clean := testPatient()
	burned := testPatient()
	burned.ID = "pt-003"
	burned.TreatmentHistory = []domain.TreatmentRecord{
		{Drug: "Adalimumab", Response: domain.ADVERSE_RESPONSE, AdverseEvents: []string{"infusion reaction"}},
	}

	cleanScore, err := e.Evaluate(planOf(adaComponent()), clean, nil)
	require.NoError(t, err)
	burnedScore, err := e.Evaluate(planOf(adaComponent()), burned, nil)
	require.NoError(t, err)

	assert.Less(t, burnedScore.SubScores.Safety, cleanScore.SubScores.Safety)
}

func TestAdherencePrefersFewerDoses(t *testing.T) {
	e := newTestEvaluator(t)
	monthly := planOf(domain.TreatmentComponent{Drug: "Risankizumab", Dosage: 360, Unit: domain.MG, Frequency: domain.MONTHLY, DurationDays: 112})
	thriceDaily := planOf(domain.TreatmentComponent{Drug: "Mesalamine", Dosage: 2400, Unit: domain.MG, Frequency: domain.TID, DurationDays: 180})

	assert.Greater(t, e.adherenceScore(monthly), e.adherenceScore(thriceDaily))
}

func TestCostScoreOrdersByPrice(t *testing.T) {
	e := newTestEvaluator(t)
	cheap := planOf(domain.TreatmentComponent{Drug: "Prednisone", Dosage: 20, Unit: domain.MG, Frequency: domain.DAILY, DurationDays: 30})
	expensive := planOf(domain.TreatmentComponent{Drug: "Risankizumab", Dosage: 360, Unit: domain.MG, Frequency: domain.MONTHLY, DurationDays: 112})

	cheapScore, err := e.costScore(cheap)
	require.NoError(t, err)
	expensiveScore, err := e.costScore(expensive)
	require.NoError(t, err)
	assert.Greater(t, cheapScore, expensiveScore)
}

func TestModeWeightsShiftCombined(t *testing.T) {
	f := formulary.Default()
	effWeights, err := domain.WeightsForMode(domain.MODE_EFFICACY)
	require.NoError(t, err)
	safWeights, err := domain.WeightsForMode(domain.MODE_SAFETY)
	require.NoError(t, err)

	effEval, err := NewEvaluator(f, effWeights, testLogger())
	require.NoError(t, err)
	safEval, err := NewEvaluator(f, safWeights, testLogger())
	require.NoError(t, err)

	// A risky but effective double-biologic combination: efficacy mode
	// should rate it higher than safety mode does.
	combo := planOf(
		domain.TreatmentComponent{Drug: "Infliximab", Dosage: 500, Unit: domain.MG, Frequency: domain.MONTHLY, DurationDays: 112},
		domain.TreatmentComponent{Drug: "Upadacitinib", Dosage: 45, Unit: domain.MG, Frequency: domain.DAILY, DurationDays: 90},
	)
	effScore, err := effEval.Evaluate(combo, testPatient(), nil)
	require.NoError(t, err)
	safScore, err := safEval.Evaluate(combo, testPatient(), nil)
	require.NoError(t, err)

	assert.Greater(t, effScore.Combined, safScore.Combined)
}

func TestExplainNamesTopContributors(t *testing.T) {
	e := newTestEvaluator(t)
	influence := domain.BiomarkerInfluence{"TNF": 0.8, "NOD2": 0.4}
	lines := e.Explain(planOf(adaComponent()), testPatient(), influence)

	require.Len(t, lines, 1)
	assert.Contains(t, lines[0], "Adalimumab")
	assert.Contains(t, lines[0], "TNF")
}
