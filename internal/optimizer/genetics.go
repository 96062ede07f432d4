package optimizer

import (
	"fmt"
	"math/rand"
	"sort"

	"github.com/crohns-treatment-optimizer/internal/domain"
	"github.com/crohns-treatment-optimizer/internal/formulary"
)

// candidatePool is the per-patient slice of formulary drugs the operators
// draw from: indicated for the subtype and not in the allergy list.
type candidatePool struct {
	drugs []formulary.Drug
}

func newCandidatePool(f *formulary.Formulary, patient *domain.PatientProfile) (*candidatePool, error) {
	drugs := f.IndicatedFor(patient.Subtype, patient.Allergies)
	if len(drugs) == 0 {
		return nil, fmt.Errorf("no formulary drug is indicated for subtype %s", patient.Subtype)
	}
	return &candidatePool{drugs: drugs}, nil
}

// randomComponent builds a component for a random candidate drug with a
// dosage drawn uniformly from the patient's safe range.
func (p *candidatePool) randomComponent(rng *rand.Rand, f *formulary.Formulary, patient *domain.PatientProfile, exclude map[string]struct{}) (domain.TreatmentComponent, bool) {
	perm := rng.Perm(len(p.drugs))
	for _, i := range perm {
		d := p.drugs[i]
		if _, taken := exclude[d.Name]; taken {
			continue
		}
		r, err := f.SafeDoseRange(d.Name, patient.WeightKg)
		if err != nil {
			continue
		}
		return domain.TreatmentComponent{
			Drug:         d.Name,
			Dosage:       r.Min + rng.Float64()*(r.Max-r.Min),
			Unit:         d.Unit,
			Frequency:    d.Frequencies[rng.Intn(len(d.Frequencies))],
			DurationDays: d.DurationDays,
		}, true
	}
	return domain.TreatmentComponent{}, false
}

// seedPlan builds a random valid plan with 1..maxMedications components.
func (p *candidatePool) seedPlan(rng *rand.Rand, f *formulary.Formulary, patient *domain.PatientProfile, maxMedications int) *domain.TreatmentPlan {
	n := 1 + rng.Intn(maxMedications)
	if n > len(p.drugs) {
		n = len(p.drugs)
	}
	taken := make(map[string]struct{}, n)
	plan := &domain.TreatmentPlan{}
	for len(plan.Components) < n {
		c, ok := p.randomComponent(rng, f, patient, taken)
		if !ok {
			break
		}
		taken[c.Drug] = struct{}{}
		plan.Components = append(plan.Components, c)
	}
	return plan
}

// tournamentSelect picks the fittest of k uniformly drawn individuals.
func tournamentSelect(rng *rand.Rand, population []*domain.TreatmentPlan, k int) *domain.TreatmentPlan {
	best := population[rng.Intn(len(population))]
	for i := 1; i < k; i++ {
		contender := population[rng.Intn(len(population))]
		if contender.Fitness > best.Fitness {
			best = contender
		}
	}
	return best
}

// crossover merges two parents: the union of their components, deduplicated
// by drug (the fitter parent's variant wins), trimmed to maxMedications by
// keeping the highest expected-efficacy components, lower cost breaking
// ties. The child's cached fitness is invalidated.
func (e *Engine) crossover(rng *rand.Rand, a, b *domain.TreatmentPlan, patient *domain.PatientProfile, influence domain.BiomarkerInfluence) *domain.TreatmentPlan {
	fitter, other := a, b
	if b.Fitness > a.Fitness {
		fitter, other = b, a
	}

	seen := make(map[string]struct{})
	var merged []domain.TreatmentComponent
	for _, parent := range []*domain.TreatmentPlan{fitter, other} {
		for _, c := range parent.Components {
			if _, dup := seen[c.Drug]; dup {
				continue
			}
			seen[c.Drug] = struct{}{}
			merged = append(merged, c)
		}
	}

	if len(merged) > e.cfg.MaxMedications {
		type ranked struct {
			c    domain.TreatmentComponent
			eff  float64
			cost float64
		}
		rs := make([]ranked, 0, len(merged))
		for _, c := range merged {
			eff, err := e.evaluator.ExpectedEfficacy(c, patient, influence)
			if err != nil {
				continue
			}
			cost := 0.0
			if d, err := e.formulary.Drug(c.Drug); err == nil {
				cost = d.MonthlyCost
			}
			rs = append(rs, ranked{c: c, eff: eff, cost: cost})
		}
		sort.SliceStable(rs, func(i, j int) bool {
			if rs[i].eff != rs[j].eff {
				return rs[i].eff > rs[j].eff
			}
			return rs[i].cost < rs[j].cost
		})
		merged = merged[:0]
		for i := 0; i < e.cfg.MaxMedications && i < len(rs); i++ {
			merged = append(merged, rs[i].c)
		}
	}

	child := &domain.TreatmentPlan{Components: merged}
	child.Invalidate()
	return child
}

// mutate applies one of three equally likely operators: replace a random
// component with a new drug, perturb a dosage by 10-30% in either direction
// clipped to the safe range, or add/remove a component within size bounds.
func (e *Engine) mutate(rng *rand.Rand, plan *domain.TreatmentPlan, pool *candidatePool, patient *domain.PatientProfile) {
	defer plan.Invalidate()

	taken := make(map[string]struct{}, len(plan.Components))
	for _, c := range plan.Components {
		taken[c.Drug] = struct{}{}
	}

	switch rng.Intn(3) {
	case 0: // replace
		i := rng.Intn(len(plan.Components))
		delete(taken, plan.Components[i].Drug)
		if c, ok := pool.randomComponent(rng, e.formulary, patient, taken); ok {
			plan.Components[i] = c
		}

	case 1: // dosage perturbation
		i := rng.Intn(len(plan.Components))
		c := &plan.Components[i]
		factor := 0.1 + rng.Float64()*0.2
		if rng.Intn(2) == 0 {
			factor = -factor
		}
		dose := c.Dosage * (1 + factor)
		if r, err := e.formulary.SafeDoseRange(c.Drug, patient.WeightKg); err == nil {
			if dose < r.Min {
				dose = r.Min
			}
			if dose > r.Max {
				dose = r.Max
			}
		}
		c.Dosage = dose

	case 2: // add or remove
		canAdd := len(plan.Components) < e.cfg.MaxMedications
		canRemove := len(plan.Components) > 1
		switch {
		case canAdd && (!canRemove || rng.Intn(2) == 0):
			if c, ok := pool.randomComponent(rng, e.formulary, patient, taken); ok {
				plan.Components = append(plan.Components, c)
			}
		case canRemove:
			i := rng.Intn(len(plan.Components))
			plan.Components = append(plan.Components[:i], plan.Components[i+1:]...)
		}
	}
}
