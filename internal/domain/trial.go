package domain

import (
	"fmt"
	"time"
)

// TrialStatus is the lifecycle state of a running or finished trial.
type TrialStatus string

const (
	TRIAL_ENROLLING TrialStatus = "ENROLLING"
	TRIAL_INTERIM   TrialStatus = "INTERIM_ANALYSIS"
	TRIAL_COMPLETED TrialStatus = "COMPLETED"
	TRIAL_FAILED    TrialStatus = "FAILED"
)

// AllocationStrategy selects how patients are assigned among eligible arms.
type AllocationStrategy string

const (
	// STRATEGY_PROBABILITY draws weighted-random by the current allocation
	// probabilities (uniform at trial start, reshaped by RAR).
	STRATEGY_PROBABILITY AllocationStrategy = "probability_weighted"
	// STRATEGY_THOMPSON samples per-arm Beta posteriors over observed
	// response counts and picks the arm with the highest draw.
	STRATEGY_THOMPSON AllocationStrategy = "thompson_sampling"
)

// IsValid validates the allocation strategy.
func (s AllocationStrategy) IsValid() bool {
	switch s {
	case STRATEGY_PROBABILITY, STRATEGY_THOMPSON:
		return true
	default:
		return false
	}
}

// AdaptationAction is the kind of protocol adaptation an AdaptiveRule
// applies at an interim analysis.
type AdaptationAction string

const (
	ACTION_RAR          AdaptationAction = "response_adaptive_randomization"
	ACTION_ARM_DROPPING AdaptationAction = "arm_dropping"
	ACTION_SAMPLE_SIZE  AdaptationAction = "sample_size_reestimation"
	ACTION_ENRICHMENT   AdaptationAction = "biomarker_enrichment"
)

// IsValid validates the adaptation action.
func (a AdaptationAction) IsValid() bool {
	switch a {
	case ACTION_RAR, ACTION_ARM_DROPPING, ACTION_SAMPLE_SIZE, ACTION_ENRICHMENT:
		return true
	default:
		return false
	}
}

// StratificationCriterion restricts arm eligibility by biomarker profile.
// A patient satisfies the criterion when the named marker is present as a
// genetic variant (if RequireVariant) and its influence weight is at least
// MinInfluence.
type StratificationCriterion struct {
	Marker         string  `json:"marker"`
	RequireVariant bool    `json:"require_variant"`
	MinInfluence   float64 `json:"min_influence"`
}

// TrialArm is one treatment arm of a protocol.
type TrialArm struct {
	ArmID                   string                    `json:"arm_id"`
	Name                    string                    `json:"name"`
	Treatment               []TreatmentComponent      `json:"treatment"`
	BiomarkerStratification []StratificationCriterion `json:"biomarker_stratification,omitempty"`
	Control                 bool                      `json:"control,omitempty"`
}

// AdaptiveRule schedules one adaptation. The rule fires once, at the first
// interim analysis after enrollment crosses TriggerFraction of the planned
// cohort. Parameters override the engine's configured defaults.
type AdaptiveRule struct {
	TriggerFraction float64            `json:"trigger_fraction"`
	Action          AdaptationAction   `json:"action"`
	Parameters      map[string]float64 `json:"parameters,omitempty"`
}

// TriggerCondition renders the trigger as the human-readable form recorded
// in the audit trail, e.g. "25% enrolled".
func (r AdaptiveRule) TriggerCondition() string {
	return fmt.Sprintf("%.0f%% enrolled", r.TriggerFraction*100)
}

// TrialProtocol defines a multi-arm adaptive trial. It is mutated only
// through adaptation actions applied by the trial engine, each of which is
// appended to the audit trail.
type TrialProtocol struct {
	TrialID            string         `json:"trial_id"`
	Name               string         `json:"name,omitempty"`
	Arms               []TrialArm     `json:"arms"`
	AdaptiveRules      []AdaptiveRule `json:"adaptive_rules,omitempty"`
	TargetEnrollment   int            `json:"target_enrollment"`
	TargetEffectSize   float64        `json:"target_effect_size,omitempty"`
	PrimaryEndpoint    string         `json:"primary_endpoint,omitempty"`
	SecondaryEndpoints []string       `json:"secondary_endpoints,omitempty"`
}

// Validate checks the protocol before a trial starts.
func (p *TrialProtocol) Validate() error {
	if p.TrialID == "" {
		return fmt.Errorf("protocol validation: trial ID is required")
	}
	if len(p.Arms) == 0 {
		return fmt.Errorf("protocol validation: at least one arm is required")
	}
	if p.TargetEnrollment <= 0 {
		return fmt.Errorf("protocol validation: target enrollment must be > 0, got %d", p.TargetEnrollment)
	}
	seen := make(map[string]struct{}, len(p.Arms))
	for _, arm := range p.Arms {
		if arm.ArmID == "" {
			return fmt.Errorf("protocol validation: arm with empty ID")
		}
		if _, dup := seen[arm.ArmID]; dup {
			return fmt.Errorf("protocol validation: duplicate arm ID %s", arm.ArmID)
		}
		seen[arm.ArmID] = struct{}{}
		if len(arm.Treatment) == 0 {
			return fmt.Errorf("protocol validation: arm %s has no treatment", arm.ArmID)
		}
	}
	for i, rule := range p.AdaptiveRules {
		if !rule.Action.IsValid() {
			return fmt.Errorf("protocol validation: rule %d has unknown action %q", i, rule.Action)
		}
		if rule.TriggerFraction <= 0 || rule.TriggerFraction > 1 {
			return fmt.Errorf("protocol validation: rule %d trigger fraction must be in (0,1], got %f", i, rule.TriggerFraction)
		}
	}
	return nil
}

// Arm returns the arm with the given ID, or nil.
func (p *TrialProtocol) Arm(armID string) *TrialArm {
	for i := range p.Arms {
		if p.Arms[i].ArmID == armID {
			return &p.Arms[i]
		}
	}
	return nil
}

// PatientOutcome records the observed or simulated outcome for one
// allocated patient.
type PatientOutcome struct {
	PatientID     string   `json:"patient_id"`
	ArmID         string   `json:"arm"`
	Response      float64  `json:"response"`
	Responder     bool     `json:"responder"`
	AdverseEvents []string `json:"adverse_events,omitempty"`
}

// AdaptationRecord is one immutable entry in the trial's audit trail.
type AdaptationRecord struct {
	ID               string             `json:"id"`
	Type             AdaptationAction   `json:"type"`
	TriggerCondition string             `json:"trigger_condition"`
	Timestamp        time.Time          `json:"timestamp"`
	Parameters       map[string]float64 `json:"parameters,omitempty"`
	Detail           string             `json:"detail,omitempty"`
}

// ArmStatistics is the cumulative per-arm tally.
type ArmStatistics struct {
	ArmID         string  `json:"arm_id"`
	Enrolled      int     `json:"enrolled"`
	Responders    int     `json:"responders"`
	ResponseRate  float64 `json:"response_rate"`
	AdverseEvents int     `json:"adverse_events"`
	Dropped       bool    `json:"dropped"`
}

// TrialResult is the finalized, immutable output of a terminated trial.
type TrialResult struct {
	TrialID          string             `json:"trial_id"`
	Status           TrialStatus        `json:"status"`
	PatientOutcomes  []PatientOutcome   `json:"patient_outcomes"`
	Adaptations      []AdaptationRecord `json:"adaptations"`
	ArmStatistics    []ArmStatistics    `json:"arm_statistics"`
	DroppedArms      []string           `json:"dropped_arms,omitempty"`
	Excluded         []string           `json:"excluded_patients,omitempty"`
	TargetEnrollment int                `json:"target_enrollment"`
}
