package trial

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/crohns-treatment-optimizer/internal/domain"
	"github.com/crohns-treatment-optimizer/internal/stats"
)

// Engine runs adaptive trials. One Run executes a full trial to completion;
// the engine itself holds only configuration and collaborators.
type Engine struct {
	cfg    domain.TrialConfig
	scorer domain.InfluenceScorer
	logger *logrus.Logger
}

// NewEngine validates the configuration and builds a trial engine.
func NewEngine(cfg domain.TrialConfig, scorer domain.InfluenceScorer, logger *logrus.Logger) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("trial config: %w", err)
	}
	return &Engine{cfg: cfg, scorer: scorer, logger: logger}, nil
}

// run is the mutable state of one trial execution.
type run struct {
	protocol  *domain.TrialProtocol
	allocator *Allocator
	outcomes  []domain.PatientOutcome
	tallies   map[string]*domain.ArmStatistics
	// influences keeps each enrolled patient's influence map for the
	// enrichment analysis.
	influences  map[string]domain.BiomarkerInfluence
	responders  map[string]bool
	adaptations []domain.AdaptationRecord
	droppedArms []string
	excluded    []string
	ruleFired   []bool
	target      int
	status      domain.TrialStatus
}

// Run enrolls the candidate cohort into the protocol, applying adaptive
// rules at their trigger points, and returns the finalized result. The
// trial fails, without an engine error, only when every arm is dropped.
func (e *Engine) Run(ctx context.Context, protocol *domain.TrialProtocol, cohort []*domain.PatientProfile, model domain.OutcomeModel) (*domain.TrialResult, error) {
	if err := protocol.Validate(); err != nil {
		return nil, err
	}

	seed := e.cfg.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	rng := rand.New(rand.NewSource(seed))

	r := &run{
		protocol:   protocol,
		allocator:  NewAllocator(protocol.Arms),
		tallies:    make(map[string]*domain.ArmStatistics, len(protocol.Arms)),
		influences: make(map[string]domain.BiomarkerInfluence),
		responders: make(map[string]bool),
		ruleFired:  make([]bool, len(protocol.AdaptiveRules)),
		target:     protocol.TargetEnrollment,
		status:     domain.TRIAL_ENROLLING,
	}
	for _, arm := range protocol.Arms {
		r.tallies[arm.ArmID] = &domain.ArmStatistics{ArmID: arm.ArmID}
	}

	log := e.logger.WithFields(logrus.Fields{
		"trial_id": protocol.TrialID,
		"arms":     len(protocol.Arms),
		"target":   r.target,
	})
	log.Info("trial started")

	for _, patient := range cohort {
		if ctx.Err() != nil {
			break
		}
		if len(r.outcomes) >= r.target {
			break
		}

		if err := patient.Validate(); err != nil {
			log.WithField("patient_id", patient.ID).WithError(err).Warn("patient excluded: invalid profile")
			r.excluded = append(r.excluded, patient.ID)
			continue
		}

		influence := e.scorer.Score(patient)
		armID, err := r.allocator.Allocate(rng, e.cfg.Strategy, patient, influence, r.tallies)
		if errors.Is(err, domain.ErrAllArmsDropped) {
			r.status = domain.TRIAL_FAILED
			log.Warn("every arm dropped; trial failed")
			return e.finalize(r), nil
		}
		if errors.Is(err, domain.ErrNoEligibleArm) {
			log.WithField("patient_id", patient.ID).Warn("patient excluded: no eligible arm")
			r.excluded = append(r.excluded, patient.ID)
			continue
		}
		if err != nil {
			return nil, err
		}

		outcome, err := model.Outcome(patient, r.protocol.Arm(armID))
		if err != nil {
			return nil, fmt.Errorf("outcome for patient %s: %w", patient.ID, err)
		}
		outcome.PatientID = patient.ID
		outcome.ArmID = armID
		e.record(r, outcome, influence)

		e.interimAnalysis(r, rng, log)
		if r.status == domain.TRIAL_FAILED {
			return e.finalize(r), nil
		}
		if len(r.adaptations) >= e.cfg.MaxAdaptations {
			log.Warn("adaptation cap reached; enrollment stopped")
			break
		}
		if len(r.droppedArms) > 0 && !hasActiveNonControl(r) {
			log.Info("all non-control arms dropped; enrollment stopped")
			break
		}
	}

	if r.status != domain.TRIAL_FAILED {
		r.status = domain.TRIAL_COMPLETED
	}
	log.WithFields(logrus.Fields{
		"enrolled":    len(r.outcomes),
		"adaptations": len(r.adaptations),
		"excluded":    len(r.excluded),
	}).Info("trial finished")
	return e.finalize(r), nil
}

func (e *Engine) record(r *run, outcome domain.PatientOutcome, influence domain.BiomarkerInfluence) {
	r.outcomes = append(r.outcomes, outcome)
	r.influences[outcome.PatientID] = influence
	r.responders[outcome.PatientID] = outcome.Responder

	t := r.tallies[outcome.ArmID]
	t.Enrolled++
	if outcome.Responder {
		t.Responders++
	}
	t.AdverseEvents += len(outcome.AdverseEvents)
	t.ResponseRate = float64(t.Responders) / float64(t.Enrolled)
}

// interimAnalysis runs after every enrollment: safety monitoring always,
// then any adaptive rules whose trigger fraction has just been crossed.
func (e *Engine) interimAnalysis(r *run, rng *rand.Rand, log *logrus.Entry) {
	fired := e.pendingRules(r)
	if len(fired) == 0 {
		e.safetyCheck(r, log)
		return
	}

	r.status = domain.TRIAL_INTERIM
	e.safetyCheck(r, log)
	for _, idx := range fired {
		if len(r.adaptations) >= e.cfg.MaxAdaptations {
			log.Warn("adaptation cap reached; remaining rules skipped")
			break
		}
		rule := r.protocol.AdaptiveRules[idx]
		r.ruleFired[idx] = true
		e.applyRule(r, rule, rng, log)
		if r.status == domain.TRIAL_FAILED {
			return
		}
	}
	if r.status == domain.TRIAL_INTERIM {
		r.status = domain.TRIAL_ENROLLING
	}
}

// hasActiveNonControl reports whether any non-control arm is still in the
// draw. A protocol with only control arms counts as having none.
func hasActiveNonControl(r *run) bool {
	for _, arm := range r.allocator.ActiveArms() {
		if !arm.Control {
			return true
		}
	}
	return false
}

// pendingRules returns indices of rules whose trigger has been crossed but
// which have not fired yet. Each rule fires exactly once.
func (e *Engine) pendingRules(r *run) []int {
	frac := float64(len(r.outcomes)) / float64(r.protocol.TargetEnrollment)
	var out []int
	for i, rule := range r.protocol.AdaptiveRules {
		if !r.ruleFired[i] && frac >= rule.TriggerFraction {
			out = append(out, i)
		}
	}
	return out
}

func (e *Engine) applyRule(r *run, rule domain.AdaptiveRule, rng *rand.Rand, log *logrus.Entry) {
	switch rule.Action {
	case domain.ACTION_RAR:
		e.responsiveRandomization(r, rule, log)
	case domain.ACTION_ARM_DROPPING:
		e.dropUnderperformers(r, rule, log)
	case domain.ACTION_SAMPLE_SIZE:
		e.reestimateSampleSize(r, rule, log)
	case domain.ACTION_ENRICHMENT:
		e.enrich(r, rule, log)
	}
}

// param reads a per-rule override, falling back to the configured default.
func param(rule domain.AdaptiveRule, key string, fallback float64) float64 {
	if v, ok := rule.Parameters[key]; ok {
		return v
	}
	return fallback
}

// responsiveRandomization reshapes allocation probabilities proportionally
// to observed response rates, flooring each active arm at min_allocation.
func (e *Engine) responsiveRandomization(r *run, rule domain.AdaptiveRule, log *logrus.Entry) {
	floor := param(rule, "min_allocation", e.cfg.MinAllocation)
	active := r.allocator.ActiveArms()

	weights := make(map[string]float64, len(active))
	for _, arm := range active {
		t := r.tallies[arm.ArmID]
		// Smoothed rate so arms with no enrollment keep a presence.
		w := (float64(t.Responders) + 1) / (float64(t.Enrolled) + 2)
		weights[arm.ArmID] = w
	}
	probs := floorDistribution(weights, floor)
	r.allocator.SetProbabilities(probs)

	installed := r.allocator.Probabilities()
	e.audit(r, rule, installed, "allocation probabilities reshaped by observed response rates")
	log.WithField("probabilities", installed).Info("response-adaptive randomization applied")
}

// floorDistribution normalizes positive weights into a distribution where
// every entry keeps at least floor. Arms whose proportional share falls under
// the floor are pinned there and the remaining mass is rescaled across the
// rest, repeating until no further arm drops below the floor.
func floorDistribution(weights map[string]float64, floor float64) map[string]float64 {
	n := len(weights)
	probs := make(map[string]float64, n)
	if floor*float64(n) >= 1 {
		for id := range weights {
			probs[id] = 1 / float64(n)
		}
		return probs
	}

	pinned := make(map[string]bool, n)
	for {
		freeTotal := 0.0
		for id, w := range weights {
			if !pinned[id] {
				freeTotal += w
			}
		}
		freeMass := 1 - floor*float64(len(pinned))

		changed := false
		for id, w := range weights {
			if pinned[id] {
				continue
			}
			if freeMass*w/freeTotal < floor {
				pinned[id] = true
				changed = true
			}
		}
		if changed {
			continue
		}
		for id, w := range weights {
			if pinned[id] {
				probs[id] = floor
			} else {
				probs[id] = freeMass * w / freeTotal
			}
		}
		return probs
	}
}

// dropUnderperformers removes arms whose response rate is below the minimum
// and significantly worse than the best arm's by a one-sided two-proportion
// z-test at the configured confidence level. Drops are irreversible.
func (e *Engine) dropUnderperformers(r *run, rule domain.AdaptiveRule, log *logrus.Entry) {
	minRate := param(rule, "min_response_rate", e.cfg.MinResponseRate)
	confidence := param(rule, "confidence_level", e.cfg.ConfidenceLevel)
	alpha := 1 - confidence

	active := r.allocator.ActiveArms()
	if len(active) < 2 {
		return
	}

	var best *domain.ArmStatistics
	for _, arm := range active {
		t := r.tallies[arm.ArmID]
		if best == nil || t.ResponseRate > best.ResponseRate {
			best = t
		}
	}

	for _, arm := range active {
		t := r.tallies[arm.ArmID]
		if t.ArmID == best.ArmID || t.Enrolled == 0 || best.Enrolled == 0 {
			continue
		}
		if t.ResponseRate >= minRate {
			continue
		}
		test := stats.TwoProportionZTest(t.Responders, t.Enrolled, best.Responders, best.Enrolled)
		if test.PValue >= alpha {
			continue
		}

		r.allocator.Drop(t.ArmID)
		t.Dropped = true
		r.droppedArms = append(r.droppedArms, t.ArmID)
		e.audit(r, rule, map[string]float64{
			"response_rate": t.ResponseRate,
			"best_rate":     best.ResponseRate,
			"z":             test.Z,
			"p_value":       test.PValue,
		}, fmt.Sprintf("arm %s dropped: response rate %.2f significantly below best arm %s", t.ArmID, t.ResponseRate, best.ArmID))
		log.WithFields(logrus.Fields{
			"arm":     t.ArmID,
			"p_value": test.PValue,
		}).Warn("arm dropped for futility")
	}

	if len(r.allocator.ActiveArms()) == 0 {
		r.status = domain.TRIAL_FAILED
	}
}

// safetyCheck drops any arm whose adverse events per enrolled patient
// exceed the configured ceiling. Runs at every interim regardless of the
// protocol's rules.
func (e *Engine) safetyCheck(r *run, log *logrus.Entry) {
	for _, arm := range r.allocator.ActiveArms() {
		t := r.tallies[arm.ArmID]
		if t.Enrolled < 5 {
			continue
		}
		rate := float64(t.AdverseEvents) / float64(t.Enrolled)
		if rate <= e.cfg.SafetyEventCeiling {
			continue
		}

		r.allocator.Drop(t.ArmID)
		t.Dropped = true
		r.droppedArms = append(r.droppedArms, t.ArmID)
		r.adaptations = append(r.adaptations, domain.AdaptationRecord{
			ID:               uuid.NewString(),
			Type:             domain.ACTION_ARM_DROPPING,
			TriggerCondition: "safety monitoring",
			Timestamp:        time.Now().UTC(),
			Parameters: map[string]float64{
				"adverse_event_rate": rate,
				"ceiling":            e.cfg.SafetyEventCeiling,
			},
			Detail: fmt.Sprintf("arm %s dropped: adverse event rate %.2f exceeds ceiling", t.ArmID, rate),
		})
		log.WithFields(logrus.Fields{
			"arm":  t.ArmID,
			"rate": rate,
		}).Warn("arm dropped for safety")
	}
	if len(r.allocator.ActiveArms()) == 0 {
		r.status = domain.TRIAL_FAILED
	}
}

// reestimateSampleSize recomputes the per-arm requirement from the pooled
// observed response rate and the protocol's target effect size. The target
// only ever grows.
func (e *Engine) reestimateSampleSize(r *run, rule domain.AdaptiveRule, log *logrus.Entry) {
	effect := r.protocol.TargetEffectSize
	if effect <= 0 {
		effect = 0.2
	}
	responders := 0
	for _, t := range r.tallies {
		responders += t.Responders
	}
	baseline := float64(responders) / float64(len(r.outcomes))

	alpha := 1 - param(rule, "confidence_level", e.cfg.ConfidenceLevel)
	perArm := stats.SampleSizePerArm(baseline, effect, alpha, 0.8)
	required := perArm * len(r.allocator.ActiveArms())
	if required > r.target {
		r.target = required
	}

	e.audit(r, rule, map[string]float64{
		"baseline_rate":     baseline,
		"per_arm":           float64(perArm),
		"target_enrollment": float64(r.target),
	}, fmt.Sprintf("sample size re-estimated to %d", r.target))
	log.WithField("target", r.target).Info("sample size re-estimated")
}

// enrich tightens stratification toward markers that separate responders
// from non-responders by more than the enrichment margin. Future patients
// must carry the marker influence the responders carried.
func (e *Engine) enrich(r *run, rule domain.AdaptiveRule, log *logrus.Entry) {
	margin := param(rule, "enrichment_margin", e.cfg.EnrichmentMargin)

	marker, gap, responderMean := e.bestSeparatingMarker(r)
	if marker == "" || gap <= margin {
		e.audit(r, rule, map[string]float64{"margin": margin}, "no marker separates responders; enrichment skipped")
		return
	}

	threshold := responderMean - margin
	for i := range r.protocol.Arms {
		arm := &r.protocol.Arms[i]
		if r.allocator.Dropped(arm.ArmID) {
			continue
		}
		updated := false
		for j := range arm.BiomarkerStratification {
			if arm.BiomarkerStratification[j].Marker == marker {
				if threshold > arm.BiomarkerStratification[j].MinInfluence {
					arm.BiomarkerStratification[j].MinInfluence = threshold
				}
				updated = true
			}
		}
		if !updated {
			arm.BiomarkerStratification = append(arm.BiomarkerStratification, domain.StratificationCriterion{
				Marker:       marker,
				MinInfluence: threshold,
			})
		}
	}

	e.audit(r, rule, map[string]float64{
		"responder_mean": responderMean,
		"gap":            gap,
		"min_influence":  threshold,
	}, fmt.Sprintf("enrollment enriched for %s carriers", marker))
	log.WithFields(logrus.Fields{
		"marker":        marker,
		"min_influence": threshold,
	}).Info("biomarker enrichment applied")
}

// bestSeparatingMarker finds the marker with the largest positive gap
// between responder and non-responder mean influence. A patient without the
// marker counts as zero influence, matching how eligibility treats absence.
func (e *Engine) bestSeparatingMarker(r *run) (marker string, gap, responderMean float64) {
	markerSet := make(map[string]struct{})
	for _, influence := range r.influences {
		for m := range influence {
			markerSet[m] = struct{}{}
		}
	}
	markers := make([]string, 0, len(markerSet))
	for m := range markerSet {
		markers = append(markers, m)
	}
	sort.Strings(markers)

	for _, m := range markers {
		var respSum, nonSum float64
		var respN, nonN int
		for patientID, influence := range r.influences {
			if r.responders[patientID] {
				respSum += influence[m]
				respN++
			} else {
				nonSum += influence[m]
				nonN++
			}
		}
		if respN == 0 || nonN == 0 {
			continue
		}
		rm := respSum / float64(respN)
		nm := nonSum / float64(nonN)
		if d := rm - nm; d > gap {
			marker, gap, responderMean = m, d, rm
		}
	}
	return marker, gap, responderMean
}

// audit appends one immutable record to the adaptation trail.
func (e *Engine) audit(r *run, rule domain.AdaptiveRule, params map[string]float64, detail string) {
	r.adaptations = append(r.adaptations, domain.AdaptationRecord{
		ID:               uuid.NewString(),
		Type:             rule.Action,
		TriggerCondition: rule.TriggerCondition(),
		Timestamp:        time.Now().UTC(),
		Parameters:       params,
		Detail:           detail,
	})
}

func (e *Engine) finalize(r *run) *domain.TrialResult {
	statsOut := make([]domain.ArmStatistics, 0, len(r.protocol.Arms))
	for _, arm := range r.protocol.Arms {
		statsOut = append(statsOut, *r.tallies[arm.ArmID])
	}
	return &domain.TrialResult{
		TrialID:          r.protocol.TrialID,
		Status:           r.status,
		PatientOutcomes:  r.outcomes,
		Adaptations:      r.adaptations,
		ArmStatistics:    statsOut,
		DroppedArms:      r.droppedArms,
		Excluded:         r.excluded,
		TargetEnrollment: r.target,
	}
}
