// Package fitness scores candidate treatment plans. The combined score is a
// convex combination of four sub-scores, each normalized to [0,1]:
// efficacy, safety, adherence, and cost.
package fitness

import (
	"fmt"
	"math"
	"sort"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/sirupsen/logrus"

	"github.com/crohns-treatment-optimizer/internal/domain"
	"github.com/crohns-treatment-optimizer/internal/formulary"
)

// costCeiling is the monthly cost (USD) that maps to a cost sub-score of 0.
const costCeiling = 15000.0

// cacheSize bounds the memoized evaluations kept per evaluator. A full
// optimizer run touches a few thousand distinct plans.
const cacheSize = 8192

// Evaluator computes plan fitness against a formulary and a patient's
// biomarker influence. Evaluation is deterministic, so results are memoized
// by patient ID and structural plan hash.
type Evaluator struct {
	formulary *formulary.Formulary
	weights   domain.FitnessWeights
	cache     *lru.Cache[string, domain.FitnessScore]
	logger    *logrus.Logger
}

// NewEvaluator constructs an evaluator. Weights must already be validated.
func NewEvaluator(f *formulary.Formulary, weights domain.FitnessWeights, logger *logrus.Logger) (*Evaluator, error) {
	if err := weights.Validate(); err != nil {
		return nil, fmt.Errorf("evaluator weights: %w", err)
	}
	cache, err := lru.New[string, domain.FitnessScore](cacheSize)
	if err != nil {
		return nil, fmt.Errorf("evaluator cache: %w", err)
	}
	return &Evaluator{formulary: f, weights: weights, cache: cache, logger: logger}, nil
}

// Weights returns the active weight set.
func (e *Evaluator) Weights() domain.FitnessWeights {
	return e.weights
}

// Evaluate scores a plan for a patient. An empty plan is rejected with
// ErrInvalidPlan before any scoring happens.
func (e *Evaluator) Evaluate(plan *domain.TreatmentPlan, patient *domain.PatientProfile, influence domain.BiomarkerInfluence) (domain.FitnessScore, error) {
	if len(plan.Components) == 0 {
		return domain.FitnessScore{}, fmt.Errorf("evaluate: empty plan: %w", domain.ErrInvalidPlan)
	}

	key := fmt.Sprintf("%s:%x", patient.ID, plan.Hash())
	if cached, ok := e.cache.Get(key); ok {
		return cached, nil
	}

	efficacy, err := e.efficacyScore(plan, patient, influence)
	if err != nil {
		return domain.FitnessScore{}, err
	}
	safety, err := e.safetyScore(plan, patient)
	if err != nil {
		return domain.FitnessScore{}, err
	}
	adherence := e.adherenceScore(plan)
	cost, err := e.costScore(plan)
	if err != nil {
		return domain.FitnessScore{}, err
	}

	score := domain.FitnessScore{
		Combined: e.weights.Efficacy*efficacy +
			e.weights.Safety*safety +
			e.weights.Adherence*adherence +
			e.weights.Cost*cost,
		SubScores: domain.SubScores{
			Efficacy:  efficacy,
			Safety:    safety,
			Adherence: adherence,
			Cost:      cost,
		},
	}
	e.cache.Add(key, score)
	return score, nil
}

// efficacyScore combines per-drug expected efficacy with diminishing returns
// across components. A drug's expected efficacy is its formulary prior plus
// biomarker-tag contributions, shaped by where its dosage sits within the
// patient's safe dose range.
func (e *Evaluator) efficacyScore(plan *domain.TreatmentPlan, patient *domain.PatientProfile, influence domain.BiomarkerInfluence) (float64, error) {
	// Combine as 1 - prod(1 - eff_i): a second drug helps, but never
	// linearly stacks.
	failure := 1.0
	for _, c := range plan.Components {
		eff, err := e.ExpectedEfficacy(c, patient, influence)
		if err != nil {
			return 0, err
		}
		failure *= 1 - eff
	}
	score := 1 - failure

	// Severe disease shifts the bar: the same regimen achieves less.
	switch patient.Severity {
	case domain.SEVERE:
		score *= 0.85
	case domain.MODERATE:
		score *= 0.95
	}
	return clamp01(score), nil
}

// ExpectedEfficacy returns one component's expected efficacy in [0,1] for
// this patient. Exported for crossover, which trims merged plans by it.
func (e *Evaluator) ExpectedEfficacy(c domain.TreatmentComponent, patient *domain.PatientProfile, influence domain.BiomarkerInfluence) (float64, error) {
	drug, err := e.formulary.Drug(c.Drug)
	if err != nil {
		return 0, err
	}
	eff := drug.EfficacyPrior
	for marker, tag := range drug.BiomarkerTags {
		eff += tag * influence[marker] * 0.3
	}

	// Position within the safe dose range scales efficacy from 70% at the
	// floor to 100% at the ceiling.
	r, err := e.formulary.SafeDoseRange(c.Drug, patient.WeightKg)
	if err != nil {
		return 0, err
	}
	pos := 1.0
	if r.Max > r.Min {
		pos = (c.Dosage - r.Min) / (r.Max - r.Min)
		pos = clamp01(pos)
	}
	eff *= 0.7 + 0.3*pos

	// A documented prior non-response to this drug halves its expectation.
	for _, rec := range patient.TreatmentHistory {
		if rec.Drug == c.Drug && rec.Response == domain.NO_RESPONSE {
			eff *= 0.5
			break
		}
	}
	return clamp01(eff), nil
}

// safetyScore starts from 1 and deducts interaction risk, dose exposure,
// prior adverse history, and host-factor penalties.
func (e *Evaluator) safetyScore(plan *domain.TreatmentPlan, patient *domain.PatientProfile) (float64, error) {
	score := 1.0

	for i := 0; i < len(plan.Components); i++ {
		for j := i + 1; j < len(plan.Components); j++ {
			score -= 0.4 * e.formulary.InteractionRisk(plan.Components[i].Drug, plan.Components[j].Drug)
		}
	}

	adverse := patient.PriorAdverseDrugs()
	for _, c := range plan.Components {
		if _, had := adverse[c.Drug]; had {
			score -= 0.3
		}

		r, err := e.formulary.SafeDoseRange(c.Drug, patient.WeightKg)
		if err != nil {
			return 0, err
		}
		switch {
		case c.Dosage > r.Max:
			score -= 0.5
		case r.Max > r.Min:
			// The top fifth of the range carries a mild exposure penalty.
			pos := (c.Dosage - r.Min) / (r.Max - r.Min)
			if pos > 0.8 {
				score -= 0.1 * (pos - 0.8) / 0.2
			}
		}
	}

	// Elderly patients and heavy comorbidity burdens lower the tolerance
	// for polypharmacy.
	if patient.Age >= 65 {
		score -= 0.05 * float64(len(plan.Components))
	}
	score -= 0.03 * float64(len(patient.Comorbidities)) * float64(len(plan.Components))

	return clamp01(score), nil
}

// adherenceScore favors regimens with fewer daily administrations and fewer
// concurrent medications.
func (e *Evaluator) adherenceScore(plan *domain.TreatmentPlan) float64 {
	dosesPerDay := 0.0
	for _, c := range plan.Components {
		dosesPerDay += c.Frequency.DosesPerDay()
	}
	score := 1.0 / (1.0 + 0.25*dosesPerDay)
	score -= 0.05 * float64(len(plan.Components)-1)
	return clamp01(score)
}

// costScore maps total monthly cost linearly onto [0,1], with the ceiling
// scoring 0.
func (e *Evaluator) costScore(plan *domain.TreatmentPlan) (float64, error) {
	total := 0.0
	for _, c := range plan.Components {
		drug, err := e.formulary.Drug(c.Drug)
		if err != nil {
			return 0, err
		}
		total += drug.MonthlyCost
	}
	return clamp01(1 - total/costCeiling), nil
}

// Explain produces human-readable rationale lines for a scored plan: each
// component's expected efficacy and the biomarkers that drove it, ordered by
// contribution.
func (e *Evaluator) Explain(plan *domain.TreatmentPlan, patient *domain.PatientProfile, influence domain.BiomarkerInfluence) []string {
	var lines []string
	for _, c := range plan.Components {
		drug, err := e.formulary.Drug(c.Drug)
		if err != nil {
			continue
		}
		eff, err := e.ExpectedEfficacy(c, patient, influence)
		if err != nil {
			continue
		}
		line := fmt.Sprintf("%s %.1f%s %s: expected efficacy %.2f", c.Drug, c.Dosage, c.Unit, c.Frequency, eff)

		type contrib struct {
			marker string
			value  float64
		}
		var contribs []contrib
		for marker, tag := range drug.BiomarkerTags {
			if v := tag * influence[marker]; v != 0 {
				contribs = append(contribs, contrib{marker, v})
			}
		}
		sort.Slice(contribs, func(i, j int) bool {
			if math.Abs(contribs[i].value) != math.Abs(contribs[j].value) {
				return math.Abs(contribs[i].value) > math.Abs(contribs[j].value)
			}
			return contribs[i].marker < contribs[j].marker
		})
		if len(contribs) > 2 {
			contribs = contribs[:2]
		}
		for _, ct := range contribs {
			direction := "supports"
			if ct.value < 0 {
				direction = "argues against"
			}
			line += fmt.Sprintf("; %s %s selection", ct.marker, direction)
		}
		lines = append(lines, line)
	}
	return lines
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
