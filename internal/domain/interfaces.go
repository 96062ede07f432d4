package domain

import (
	"context"
)

// InfluenceScorer normalizes a patient's raw biomarker data into comparable
// signed influence weights. Pure function of the profile.
type InfluenceScorer interface {
	Score(patient *PatientProfile) BiomarkerInfluence
}

// PlanEvaluator computes fitness for a candidate plan given a patient and
// their biomarker influence. Evaluation is deterministic: identical inputs
// yield identical output.
type PlanEvaluator interface {
	Evaluate(plan *TreatmentPlan, patient *PatientProfile, influence BiomarkerInfluence) (FitnessScore, error)
}

// TreatmentOptimizer converges on a near-optimal treatment plan for one
// patient. Cancellation and the wall-clock budget are honored at generation
// boundaries; both yield a best-effort partial result, not an error.
type TreatmentOptimizer interface {
	Optimize(ctx context.Context, patient *PatientProfile) (*OptimizerResult, error)
}

// OutcomeModel produces a patient's outcome for the treatment of an
// assigned arm. The simulated implementation derives outcomes from the
// fitness evaluator's efficacy/safety sub-scores; a recorded implementation
// replays externally observed data.
type OutcomeModel interface {
	Outcome(patient *PatientProfile, arm *TrialArm) (PatientOutcome, error)
}
