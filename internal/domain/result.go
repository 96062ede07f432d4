package domain

// TerminationReason explains why an optimization run ended.
type TerminationReason string

const (
	// TERM_CONVERGED means the best fitness crossed the configured threshold.
	TERM_CONVERGED TerminationReason = "CONVERGED"
	// TERM_STAGNATED means the best fitness stopped improving for the
	// configured stagnation window. Treated as convergence, not failure.
	TERM_STAGNATED TerminationReason = "STAGNATED"
	// TERM_EXHAUSTED means max generations were reached. Not an error; the
	// best individual found is still returned.
	TERM_EXHAUSTED TerminationReason = "EXHAUSTED"
	// TERM_CANCELLED means the caller cancelled mid-run.
	TERM_CANCELLED TerminationReason = "CANCELLED"
	// TERM_TIMED_OUT means the wall-clock budget was exceeded.
	TERM_TIMED_OUT TerminationReason = "TIMED_OUT"
)

// Alternative is one of the top-K runner-up plans.
type Alternative struct {
	Plan    *TreatmentPlan `json:"plan"`
	Fitness float64        `json:"fitness"`
}

// OptimizerResult is the full output of one optimization run.
type OptimizerResult struct {
	Best                *TreatmentPlan     `json:"plan"`
	Fitness             float64            `json:"fitness"`
	Confidence          float64            `json:"confidence"`
	Explanations        []string           `json:"explanations,omitempty"`
	BiomarkerInfluences BiomarkerInfluence `json:"biomarker_influences,omitempty"`
	Alternatives        []Alternative      `json:"alternatives,omitempty"`

	// Partial is true when the run was cancelled or timed out; the result
	// is the best individual found up to the last completed generation.
	Partial           bool              `json:"partial"`
	TerminationReason TerminationReason `json:"termination_reason"`
	Generations       int               `json:"generations"`
	BestByGeneration  []float64         `json:"best_by_generation,omitempty"`
}
