package domain

import (
	"fmt"
	"hash/fnv"
	"sort"
)

// DosageUnit for a treatment component.
type DosageUnit string

const (
	MG  DosageUnit = "mg"
	ML  DosageUnit = "ml"
	MCG DosageUnit = "mcg"
)

// Frequency of medication administration.
type Frequency string

const (
	DAILY    Frequency = "DAILY"
	BID      Frequency = "BID"
	TID      Frequency = "TID"
	WEEKLY   Frequency = "WEEKLY"
	BIWEEKLY Frequency = "BIWEEKLY"
	MONTHLY  Frequency = "MONTHLY"
)

// DosesPerDay returns the administration count per day for adherence
// scoring. Sub-daily frequencies count fractionally.
func (f Frequency) DosesPerDay() float64 {
	switch f {
	case DAILY:
		return 1
	case BID:
		return 2
	case TID:
		return 3
	case WEEKLY:
		return 1.0 / 7
	case BIWEEKLY:
		return 1.0 / 14
	case MONTHLY:
		return 1.0 / 30
	default:
		return 0
	}
}

// IsValid validates the frequency.
func (f Frequency) IsValid() bool {
	switch f {
	case DAILY, BID, TID, WEEKLY, BIWEEKLY, MONTHLY:
		return true
	default:
		return false
	}
}

// TreatmentComponent is one medication entry within a plan.
type TreatmentComponent struct {
	Drug         string     `json:"drug"`
	Dosage       float64    `json:"dosage"`
	Unit         DosageUnit `json:"unit"`
	Frequency    Frequency  `json:"frequency"`
	DurationDays int        `json:"duration_days"`
}

// SubScores holds the named fitness components, each normalized to [0,1].
type SubScores struct {
	Efficacy  float64 `json:"efficacy"`
	Safety    float64 `json:"safety"`
	Adherence float64 `json:"adherence"`
	Cost      float64 `json:"cost"`
}

// FitnessScore is the combined scalar plus its sub-scores.
type FitnessScore struct {
	Combined  float64   `json:"combined"`
	SubScores SubScores `json:"sub_scores"`
}

// TreatmentPlan is the optimizer's chromosome: an ordered, size-bounded set
// of treatment components plus a cached fitness. The cached score is
// invalidated on every structural change and recomputed, never trusted
// across mutation.
type TreatmentPlan struct {
	Components []TreatmentComponent `json:"components"`
	Fitness    float64              `json:"fitness"`
	SubScores  SubScores            `json:"sub_scores"`
	Scored     bool                 `json:"-"`
}

// Validate enforces the plan validity invariant: at least one component, at
// most maxMedications, no duplicate drugs, positive dosages and durations.
func (p *TreatmentPlan) Validate(maxMedications int) error {
	if len(p.Components) == 0 {
		return fmt.Errorf("plan validation: plan has no components: %w", ErrInvalidPlan)
	}
	if maxMedications > 0 && len(p.Components) > maxMedications {
		return fmt.Errorf("plan validation: %d components exceeds limit %d: %w", len(p.Components), maxMedications, ErrInvalidPlan)
	}
	seen := make(map[string]struct{}, len(p.Components))
	for _, c := range p.Components {
		if c.Drug == "" {
			return fmt.Errorf("plan validation: component with empty drug: %w", ErrInvalidPlan)
		}
		if c.Dosage <= 0 {
			return fmt.Errorf("plan validation: non-positive dosage for %s: %w", c.Drug, ErrInvalidPlan)
		}
		if c.DurationDays <= 0 {
			return fmt.Errorf("plan validation: non-positive duration for %s: %w", c.Drug, ErrInvalidPlan)
		}
		if !c.Frequency.IsValid() {
			return fmt.Errorf("plan validation: invalid frequency %q for %s: %w", c.Frequency, c.Drug, ErrInvalidPlan)
		}
		if _, dup := seen[c.Drug]; dup {
			return fmt.Errorf("plan validation: duplicate drug %s: %w", c.Drug, ErrInvalidPlan)
		}
		seen[c.Drug] = struct{}{}
	}
	return nil
}

// ContainsDrug reports whether the plan includes the given drug.
func (p *TreatmentPlan) ContainsDrug(drug string) bool {
	for _, c := range p.Components {
		if c.Drug == drug {
			return true
		}
	}
	return false
}

// Clone returns a deep copy with the cached score preserved.
func (p *TreatmentPlan) Clone() *TreatmentPlan {
	out := &TreatmentPlan{
		Components: make([]TreatmentComponent, len(p.Components)),
		Fitness:    p.Fitness,
		SubScores:  p.SubScores,
		Scored:     p.Scored,
	}
	copy(out.Components, p.Components)
	return out
}

// Invalidate discards the cached fitness after a structural change.
func (p *TreatmentPlan) Invalidate() {
	p.Fitness = 0
	p.SubScores = SubScores{}
	p.Scored = false
}

// Hash returns a structural hash of the plan, independent of component
// order. Used to memoize fitness evaluations.
func (p *TreatmentPlan) Hash() uint64 {
	keys := make([]string, 0, len(p.Components))
	for _, c := range p.Components {
		keys = append(keys, fmt.Sprintf("%s|%.4f|%s|%s|%d", c.Drug, c.Dosage, c.Unit, c.Frequency, c.DurationDays))
	}
	sort.Strings(keys)
	h := fnv.New64a()
	for _, k := range keys {
		h.Write([]byte(k))
		h.Write([]byte{0})
	}
	return h.Sum64()
}
