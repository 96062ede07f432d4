package trial

import (
	"fmt"
	"math/rand"

	"github.com/crohns-treatment-optimizer/internal/domain"
	"github.com/crohns-treatment-optimizer/internal/fitness"
)

// SimulatedOutcomeModel derives patient outcomes from the fitness
// evaluator: the arm treatment's efficacy sub-score, perturbed by noise,
// becomes the response, and low safety sub-scores raise the chance of a
// simulated adverse event.
type SimulatedOutcomeModel struct {
	evaluator         *fitness.Evaluator
	scorer            domain.InfluenceScorer
	rng               *rand.Rand
	responseThreshold float64
}

// NewSimulatedOutcomeModel builds a simulator with its own RNG stream.
func NewSimulatedOutcomeModel(evaluator *fitness.Evaluator, scorer domain.InfluenceScorer, seed int64, responseThreshold float64) *SimulatedOutcomeModel {
	return &SimulatedOutcomeModel{
		evaluator:         evaluator,
		scorer:            scorer,
		rng:               rand.New(rand.NewSource(seed)),
		responseThreshold: responseThreshold,
	}
}

// Outcome simulates one patient's response to the arm's treatment.
func (m *SimulatedOutcomeModel) Outcome(patient *domain.PatientProfile, arm *domain.TrialArm) (domain.PatientOutcome, error) {
	plan := &domain.TreatmentPlan{Components: arm.Treatment}
	influence := m.scorer.Score(patient)
	score, err := m.evaluator.Evaluate(plan, patient, influence)
	if err != nil {
		return domain.PatientOutcome{}, err
	}

	response := score.SubScores.Efficacy + m.rng.NormFloat64()*0.1
	if response < 0 {
		response = 0
	}
	if response > 1 {
		response = 1
	}

	outcome := domain.PatientOutcome{
		PatientID: patient.ID,
		ArmID:     arm.ArmID,
		Response:  response,
		Responder: response >= m.responseThreshold,
	}
	// The riskier the regimen, the likelier a simulated adverse event.
	if m.rng.Float64() > score.SubScores.Safety {
		outcome.AdverseEvents = append(outcome.AdverseEvents, "treatment-related adverse event")
	}
	return outcome, nil
}

// RecordedOutcomeModel replays externally observed outcomes keyed by
// patient ID. The recorded arm is overridden with the allocated one.
type RecordedOutcomeModel struct {
	outcomes map[string]domain.PatientOutcome
}

// NewRecordedOutcomeModel indexes the given outcomes by patient ID.
func NewRecordedOutcomeModel(outcomes []domain.PatientOutcome) *RecordedOutcomeModel {
	m := &RecordedOutcomeModel{outcomes: make(map[string]domain.PatientOutcome, len(outcomes))}
	for _, o := range outcomes {
		m.outcomes[o.PatientID] = o
	}
	return m
}

// Outcome returns the recorded outcome for the patient.
func (m *RecordedOutcomeModel) Outcome(patient *domain.PatientProfile, arm *domain.TrialArm) (domain.PatientOutcome, error) {
	o, ok := m.outcomes[patient.ID]
	if !ok {
		return domain.PatientOutcome{}, fmt.Errorf("no recorded outcome for patient %s", patient.ID)
	}
	o.ArmID = arm.ArmID
	return o, nil
}
