// Package optimizer implements the genetic search over treatment plans:
// tournament selection, efficacy-ranked crossover, three-way mutation, and
// elitist survival, run against the fitness evaluator until convergence.
package optimizer

import (
	"context"
	"fmt"
	"math/rand"
	"sort"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/crohns-treatment-optimizer/internal/domain"
	"github.com/crohns-treatment-optimizer/internal/fitness"
	"github.com/crohns-treatment-optimizer/internal/formulary"
)

// Engine is the genetic treatment optimizer. One Engine is safe for
// sequential reuse across patients; concurrent Optimize calls need separate
// engines because the RNG is not synchronized.
type Engine struct {
	cfg       domain.OptimizerConfig
	formulary *formulary.Formulary
	evaluator *fitness.Evaluator
	scorer    domain.InfluenceScorer
	logger    *logrus.Logger
	rng       *rand.Rand
}

// NewEngine validates the configuration and builds an engine. A zero seed
// falls back to wall-clock seeding.
func NewEngine(cfg domain.OptimizerConfig, f *formulary.Formulary, eval *fitness.Evaluator, scorer domain.InfluenceScorer, logger *logrus.Logger) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("optimizer config: %w", err)
	}
	seed := cfg.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	return &Engine{
		cfg:       cfg,
		formulary: f,
		evaluator: eval,
		scorer:    scorer,
		logger:    logger,
		rng:       rand.New(rand.NewSource(seed)),
	}, nil
}

// Optimize runs the genetic search for one patient. Cancellation and the
// wall-clock budget are honored at generation boundaries: the run stops and
// returns the best individual found so far with Partial set, never an error.
func (e *Engine) Optimize(ctx context.Context, patient *domain.PatientProfile) (*domain.OptimizerResult, error) {
	if err := patient.Validate(); err != nil {
		return nil, err
	}
	if e.cfg.Budget > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.cfg.Budget)
		defer cancel()
	}

	influence := e.scorer.Score(patient)
	pool, err := newCandidatePool(e.formulary, patient)
	if err != nil {
		return nil, err
	}

	log := e.logger.WithFields(logrus.Fields{
		"patient_id":      patient.ID,
		"population_size": e.cfg.PopulationSize,
		"generations":     e.cfg.Generations,
	})
	log.Info("starting treatment optimization")

	population := make([]*domain.TreatmentPlan, e.cfg.PopulationSize)
	for i := range population {
		population[i] = pool.seedPlan(e.rng, e.formulary, patient, e.cfg.MaxMedications)
	}
	if err := e.evaluatePopulation(population, patient, influence); err != nil {
		return nil, err
	}
	sortByFitness(population)

	var (
		bestByGeneration []float64
		reason           domain.TerminationReason
		partial          bool
		stagnantSince    = 0
		bestSeen         = population[0].Fitness
		generation       = 0
	)
	bestByGeneration = append(bestByGeneration, bestSeen)

	for generation < e.cfg.Generations {
		if ctxErr := ctx.Err(); ctxErr != nil {
			partial = true
			if ctxErr == context.DeadlineExceeded {
				reason = domain.TERM_TIMED_OUT
			} else {
				reason = domain.TERM_CANCELLED
			}
			break
		}
		if population[0].Fitness >= e.cfg.FitnessThreshold {
			reason = domain.TERM_CONVERGED
			break
		}
		if stagnantSince >= e.cfg.StagnationWindow {
			reason = domain.TERM_STAGNATED
			break
		}

		population = e.nextGeneration(population, pool, patient, influence)
		if err := e.evaluatePopulation(population, patient, influence); err != nil {
			return nil, err
		}
		sortByFitness(population)
		generation++

		if population[0].Fitness > bestSeen+1e-9 {
			bestSeen = population[0].Fitness
			stagnantSince = 0
		} else {
			stagnantSince++
		}
		bestByGeneration = append(bestByGeneration, population[0].Fitness)

		log.WithFields(logrus.Fields{
			"generation": generation,
			"best":       population[0].Fitness,
		}).Debug("generation complete")
	}
	if reason == "" {
		reason = domain.TERM_EXHAUSTED
	}

	best := population[0].Clone()
	result := &domain.OptimizerResult{
		Best:                best,
		Fitness:             best.Fitness,
		Confidence:          confidence(best.Fitness, reason),
		Explanations:        e.explain(best, patient, influence, reason, generation),
		BiomarkerInfluences: influence,
		Alternatives:        alternatives(population, e.cfg.Alternatives),
		Partial:             partial,
		TerminationReason:   reason,
		Generations:         generation,
		BestByGeneration:    bestByGeneration,
	}

	log.WithFields(logrus.Fields{
		"fitness":     result.Fitness,
		"generations": generation,
		"termination": reason,
		"partial":     partial,
	}).Info("optimization finished")
	return result, nil
}

// nextGeneration produces a full successor population: elites survive
// unchanged, the rest come from tournament parents crossed at the crossover
// rate and mutated at the mutation rate.
func (e *Engine) nextGeneration(population []*domain.TreatmentPlan, pool *candidatePool, patient *domain.PatientProfile, influence domain.BiomarkerInfluence) []*domain.TreatmentPlan {
	next := make([]*domain.TreatmentPlan, 0, len(population))
	for i := 0; i < e.cfg.ElitismCount && i < len(population); i++ {
		next = append(next, population[i].Clone())
	}

	for len(next) < len(population) {
		a := tournamentSelect(e.rng, population, e.cfg.TournamentSize)
		b := tournamentSelect(e.rng, population, e.cfg.TournamentSize)

		var child *domain.TreatmentPlan
		if e.rng.Float64() < e.cfg.CrossoverRate {
			child = e.crossover(e.rng, a, b, patient, influence)
		} else {
			fitter := a
			if b.Fitness > a.Fitness {
				fitter = b
			}
			child = fitter.Clone()
		}

		if e.rng.Float64() < e.cfg.MutationRate {
			e.mutate(e.rng, child, pool, patient)
		}

		if err := child.Validate(e.cfg.MaxMedications); err != nil {
			// Operators preserve validity by construction; reseed as a
			// safety valve rather than propagate a malformed individual.
			child = pool.seedPlan(e.rng, e.formulary, patient, e.cfg.MaxMedications)
		}
		next = append(next, child)
	}
	return next
}

// evaluatePopulation scores every unscored individual, fanning out across
// the configured worker count and joining before the generation proceeds.
func (e *Engine) evaluatePopulation(population []*domain.TreatmentPlan, patient *domain.PatientProfile, influence domain.BiomarkerInfluence) error {
	g := new(errgroup.Group)
	g.SetLimit(e.cfg.Workers)
	for _, plan := range population {
		if plan.Scored {
			continue
		}
		plan := plan
		g.Go(func() error {
			score, err := e.evaluator.Evaluate(plan, patient, influence)
			if err != nil {
				return err
			}
			plan.Fitness = score.Combined
			plan.SubScores = score.SubScores
			plan.Scored = true
			return nil
		})
	}
	return g.Wait()
}

func sortByFitness(population []*domain.TreatmentPlan) {
	sort.SliceStable(population, func(i, j int) bool {
		return population[i].Fitness > population[j].Fitness
	})
}

// alternatives returns up to k runner-up plans structurally distinct from
// the best and from each other.
func alternatives(population []*domain.TreatmentPlan, k int) []domain.Alternative {
	if k <= 0 || len(population) < 2 {
		return nil
	}
	seen := map[uint64]struct{}{population[0].Hash(): {}}
	var out []domain.Alternative
	for _, plan := range population[1:] {
		h := plan.Hash()
		if _, dup := seen[h]; dup {
			continue
		}
		seen[h] = struct{}{}
		out = append(out, domain.Alternative{Plan: plan.Clone(), Fitness: plan.Fitness})
		if len(out) == k {
			break
		}
	}
	return out
}

// confidence discounts the raw fitness by how the run ended: full credit
// for threshold convergence, progressively less for stagnation, exhaustion,
// and interrupted runs.
func confidence(fitnessValue float64, reason domain.TerminationReason) float64 {
	factor := 1.0
	switch reason {
	case domain.TERM_STAGNATED:
		factor = 0.9
	case domain.TERM_EXHAUSTED:
		factor = 0.8
	case domain.TERM_CANCELLED, domain.TERM_TIMED_OUT:
		factor = 0.6
	}
	c := fitnessValue * factor
	if c > 1 {
		c = 1
	}
	return c
}

func (e *Engine) explain(best *domain.TreatmentPlan, patient *domain.PatientProfile, influence domain.BiomarkerInfluence, reason domain.TerminationReason, generations int) []string {
	lines := []string{
		fmt.Sprintf("search ended after %d generations (%s) with fitness %.3f", generations, reason, best.Fitness),
	}
	lines = append(lines, e.evaluator.Explain(best, patient, influence)...)
	return lines
}
