// Package trial implements multi-arm adaptive clinical trials: stratified
// allocation, response-adaptive randomization, interim arm dropping, sample
// size re-estimation, and biomarker enrichment, with an append-only audit
// trail of every protocol adaptation.
package trial

import (
	"fmt"
	"math/rand"
	"sync/atomic"

	"github.com/crohns-treatment-optimizer/internal/domain"
	"github.com/crohns-treatment-optimizer/internal/stats"
)

// probTable is an immutable snapshot of per-arm allocation probabilities.
// The allocator swaps whole tables atomically so concurrent readers never
// observe a partially updated distribution.
type probTable struct {
	probs map[string]float64
}

// Allocator assigns patients to trial arms. Eligibility filtering is a hard
// constraint applied before any randomization; dropped arms are permanently
// out of the draw.
type Allocator struct {
	arms    []domain.TrialArm
	current atomic.Pointer[probTable]
	dropped map[string]bool
}

// NewAllocator starts with a uniform distribution over all arms.
func NewAllocator(arms []domain.TrialArm) *Allocator {
	a := &Allocator{
		arms:    arms,
		dropped: make(map[string]bool, len(arms)),
	}
	probs := make(map[string]float64, len(arms))
	for _, arm := range arms {
		probs[arm.ArmID] = 1.0 / float64(len(arms))
	}
	a.current.Store(&probTable{probs: probs})
	return a
}

// Probabilities returns a copy of the current allocation distribution.
func (a *Allocator) Probabilities() map[string]float64 {
	table := a.current.Load()
	out := make(map[string]float64, len(table.probs))
	for k, v := range table.probs {
		out[k] = v
	}
	return out
}

// SetProbabilities installs a new distribution over active arms. Entries
// for dropped or unknown arms are ignored; the rest are renormalized.
func (a *Allocator) SetProbabilities(probs map[string]float64) {
	next := make(map[string]float64, len(probs))
	total := 0.0
	for _, arm := range a.arms {
		if a.dropped[arm.ArmID] {
			continue
		}
		p := probs[arm.ArmID]
		if p < 0 {
			p = 0
		}
		next[arm.ArmID] = p
		total += p
	}
	if total <= 0 {
		n := float64(len(next))
		for id := range next {
			next[id] = 1 / n
		}
	} else {
		for id := range next {
			next[id] /= total
		}
	}
	a.current.Store(&probTable{probs: next})
}

// Drop removes an arm from the draw permanently and redistributes its
// probability mass proportionally across the surviving arms.
func (a *Allocator) Drop(armID string) {
	if a.dropped[armID] {
		return
	}
	a.dropped[armID] = true

	table := a.current.Load()
	removed := table.probs[armID]
	next := make(map[string]float64, len(table.probs)-1)
	remaining := 1 - removed
	for id, p := range table.probs {
		if id == armID {
			continue
		}
		if remaining > 0 {
			next[id] = p / remaining
		} else {
			next[id] = 1 / float64(len(table.probs)-1)
		}
	}
	a.current.Store(&probTable{probs: next})
}

// Dropped reports whether the arm has been dropped.
func (a *Allocator) Dropped(armID string) bool {
	return a.dropped[armID]
}

// ActiveArms returns the arms still in the draw, in protocol order.
func (a *Allocator) ActiveArms() []domain.TrialArm {
	var out []domain.TrialArm
	for _, arm := range a.arms {
		if !a.dropped[arm.ArmID] {
			out = append(out, arm)
		}
	}
	return out
}

// eligible applies the arm's stratification criteria as a hard filter.
func eligible(arm *domain.TrialArm, patient *domain.PatientProfile, influence domain.BiomarkerInfluence) bool {
	for _, c := range arm.BiomarkerStratification {
		if c.RequireVariant && !patient.HasGeneticMarker(c.Marker) {
			return false
		}
		if influence[c.Marker] < c.MinInfluence {
			return false
		}
	}
	return true
}

// Allocate assigns a patient to an eligible active arm using the configured
// strategy. Returns ErrAllArmsDropped when no active arm remains, and
// ErrNoEligibleArm when active arms exist but the patient fails every
// arm's stratification.
func (a *Allocator) Allocate(rng *rand.Rand, strategy domain.AllocationStrategy, patient *domain.PatientProfile, influence domain.BiomarkerInfluence, tallies map[string]*domain.ArmStatistics) (string, error) {
	active := a.ActiveArms()
	if len(active) == 0 {
		return "", domain.ErrAllArmsDropped
	}

	var candidates []domain.TrialArm
	for i := range active {
		if eligible(&active[i], patient, influence) {
			candidates = append(candidates, active[i])
		}
	}
	if len(candidates) == 0 {
		return "", fmt.Errorf("patient %s fails stratification for every active arm: %w", patient.ID, domain.ErrNoEligibleArm)
	}

	if strategy == domain.STRATEGY_THOMPSON {
		return a.thompsonDraw(rng, candidates, tallies), nil
	}
	return a.weightedDraw(rng, candidates), nil
}

// weightedDraw samples among the candidate arms proportionally to their
// current allocation probabilities.
func (a *Allocator) weightedDraw(rng *rand.Rand, candidates []domain.TrialArm) string {
	table := a.current.Load()
	total := 0.0
	for _, arm := range candidates {
		total += table.probs[arm.ArmID]
	}
	if total <= 0 {
		return candidates[rng.Intn(len(candidates))].ArmID
	}
	target := rng.Float64() * total
	acc := 0.0
	for _, arm := range candidates {
		acc += table.probs[arm.ArmID]
		if target < acc {
			return arm.ArmID
		}
	}
	return candidates[len(candidates)-1].ArmID
}

// thompsonDraw samples each candidate arm's Beta(responders+1,
// failures+1) posterior and picks the highest draw.
func (a *Allocator) thompsonDraw(rng *rand.Rand, candidates []domain.TrialArm, tallies map[string]*domain.ArmStatistics) string {
	bestID := candidates[0].ArmID
	bestDraw := -1.0
	for _, arm := range candidates {
		responders, failures := 0, 0
		if t, ok := tallies[arm.ArmID]; ok {
			responders = t.Responders
			failures = t.Enrolled - t.Responders
		}
		draw := stats.SampleBeta(rng, float64(responders+1), float64(failures+1))
		if draw > bestDraw {
			bestDraw = draw
			bestID = arm.ArmID
		}
	}
	return bestID
}
