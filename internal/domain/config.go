package domain

import (
	"fmt"
	"math"
	"time"
)

// OptimizationMode selects a named fitness-weight preset. The mode-to-weight
// mapping is defined explicitly here; BALANCED is the documented
// 50/25/15/10 design target.
type OptimizationMode string

const (
	MODE_EFFICACY OptimizationMode = "efficacy"
	MODE_SAFETY   OptimizationMode = "safety"
	MODE_BALANCED OptimizationMode = "balanced"
)

// FitnessWeights is the convex combination applied to the four sub-scores.
// The weights must sum to 1.0.
type FitnessWeights struct {
	Efficacy  float64 `json:"efficacy" mapstructure:"efficacy"`
	Safety    float64 `json:"safety" mapstructure:"safety"`
	Adherence float64 `json:"adherence" mapstructure:"adherence"`
	Cost      float64 `json:"cost" mapstructure:"cost"`
}

// DefaultFitnessWeights is the documented 50/25/15/10 design target.
func DefaultFitnessWeights() FitnessWeights {
	return FitnessWeights{Efficacy: 0.50, Safety: 0.25, Adherence: 0.15, Cost: 0.10}
}

// WeightsForMode resolves a mode preset to explicit weights.
func WeightsForMode(mode OptimizationMode) (FitnessWeights, error) {
	switch mode {
	case MODE_BALANCED, "":
		return DefaultFitnessWeights(), nil
	case MODE_EFFICACY:
		return FitnessWeights{Efficacy: 0.70, Safety: 0.15, Adherence: 0.10, Cost: 0.05}, nil
	case MODE_SAFETY:
		return FitnessWeights{Efficacy: 0.30, Safety: 0.45, Adherence: 0.15, Cost: 0.10}, nil
	default:
		return FitnessWeights{}, fmt.Errorf("unknown optimization mode %q", mode)
	}
}

// Validate checks the weights are non-negative and sum to 1 within floating
// tolerance.
func (w FitnessWeights) Validate() error {
	for name, v := range map[string]float64{
		"efficacy": w.Efficacy, "safety": w.Safety, "adherence": w.Adherence, "cost": w.Cost,
	} {
		if v < 0 {
			return fmt.Errorf("fitness weight %s is negative", name)
		}
	}
	sum := w.Efficacy + w.Safety + w.Adherence + w.Cost
	if math.Abs(sum-1.0) > 1e-6 {
		return fmt.Errorf("fitness weights sum to %.6f, want 1.0", sum)
	}
	return nil
}

// OptimizerConfig holds every knob of the genetic optimizer.
type OptimizerConfig struct {
	PopulationSize   int              `json:"population_size" mapstructure:"population_size"`
	Generations      int              `json:"generations" mapstructure:"generations"`
	MutationRate     float64          `json:"mutation_rate" mapstructure:"mutation_rate"`
	CrossoverRate    float64          `json:"crossover_rate" mapstructure:"crossover_rate"`
	ElitismCount     int              `json:"elitism_count" mapstructure:"elitism_count"`
	TournamentSize   int              `json:"tournament_size" mapstructure:"tournament_size"`
	MaxMedications   int              `json:"max_medications" mapstructure:"max_medications"`
	FitnessThreshold float64          `json:"fitness_threshold" mapstructure:"fitness_threshold"`
	StagnationWindow int              `json:"stagnation_window" mapstructure:"stagnation_window"`
	FitnessWeights   FitnessWeights   `json:"fitness_weights" mapstructure:"fitness_weights"`
	Mode             OptimizationMode `json:"mode,omitempty" mapstructure:"mode"`
	Workers          int              `json:"workers" mapstructure:"workers"`
	Seed             int64            `json:"seed" mapstructure:"seed"`
	Budget           time.Duration    `json:"budget" mapstructure:"budget"`
	Alternatives     int              `json:"alternatives" mapstructure:"alternatives"`
}

// DefaultOptimizerConfig returns the documented defaults.
func DefaultOptimizerConfig() OptimizerConfig {
	return OptimizerConfig{
		PopulationSize:   100,
		Generations:      50,
		MutationRate:     0.1,
		CrossoverRate:    0.7,
		ElitismCount:     5,
		TournamentSize:   3,
		MaxMedications:   3,
		FitnessThreshold: 0.95,
		StagnationWindow: 10,
		FitnessWeights:   DefaultFitnessWeights(),
		Workers:          1,
		Alternatives:     3,
	}
}

// Validate checks the optimizer configuration for internal consistency.
func (c *OptimizerConfig) Validate() error {
	if c.PopulationSize <= 0 {
		return fmt.Errorf("population_size must be > 0, got %d", c.PopulationSize)
	}
	if c.Generations <= 0 {
		return fmt.Errorf("generations must be > 0, got %d", c.Generations)
	}
	if c.MutationRate < 0 || c.MutationRate > 1 {
		return fmt.Errorf("mutation_rate must be in [0,1], got %f", c.MutationRate)
	}
	if c.CrossoverRate < 0 || c.CrossoverRate > 1 {
		return fmt.Errorf("crossover_rate must be in [0,1], got %f", c.CrossoverRate)
	}
	if c.ElitismCount < 0 || c.ElitismCount > c.PopulationSize {
		return fmt.Errorf("elitism_count must be in [0, population_size], got %d", c.ElitismCount)
	}
	if c.TournamentSize <= 0 || c.TournamentSize > c.PopulationSize {
		return fmt.Errorf("tournament_size must be in [1, population_size], got %d", c.TournamentSize)
	}
	if c.MaxMedications <= 0 {
		return fmt.Errorf("max_medications must be > 0, got %d", c.MaxMedications)
	}
	if c.StagnationWindow <= 0 {
		return fmt.Errorf("stagnation_window must be > 0, got %d", c.StagnationWindow)
	}
	if err := c.FitnessWeights.Validate(); err != nil {
		return fmt.Errorf("fitness_weights: %w", err)
	}
	return nil
}

// TrialConfig holds the adaptive trial engine's knobs. Per-rule parameters
// supplied on an AdaptiveRule override these defaults.
type TrialConfig struct {
	MinAllocation      float64            `json:"min_allocation" mapstructure:"min_allocation"`
	MinResponseRate    float64            `json:"min_response_rate" mapstructure:"min_response_rate"`
	ConfidenceLevel    float64            `json:"confidence_level" mapstructure:"confidence_level"`
	EnrichmentMargin   float64            `json:"enrichment_margin" mapstructure:"enrichment_margin"`
	SafetyEventCeiling float64            `json:"safety_event_ceiling" mapstructure:"safety_event_ceiling"`
	ResponseThreshold  float64            `json:"response_threshold" mapstructure:"response_threshold"`
	MaxAdaptations     int                `json:"max_adaptations" mapstructure:"max_adaptations"`
	Strategy           AllocationStrategy `json:"allocation_strategy" mapstructure:"allocation_strategy"`
	Seed               int64              `json:"seed" mapstructure:"seed"`
}

// DefaultTrialConfig returns the documented trial defaults.
func DefaultTrialConfig() TrialConfig {
	return TrialConfig{
		MinAllocation:      0.1,
		MinResponseRate:    0.2,
		ConfidenceLevel:    0.9,
		EnrichmentMargin:   0.15,
		SafetyEventCeiling: 0.5,
		ResponseThreshold:  0.5,
		MaxAdaptations:     10,
		Strategy:           STRATEGY_PROBABILITY,
	}
}

// Validate checks the trial configuration.
func (c *TrialConfig) Validate() error {
	if c.MinAllocation < 0 || c.MinAllocation > 1 {
		return fmt.Errorf("min_allocation must be in [0,1], got %f", c.MinAllocation)
	}
	if c.MinResponseRate < 0 || c.MinResponseRate > 1 {
		return fmt.Errorf("min_response_rate must be in [0,1], got %f", c.MinResponseRate)
	}
	if c.ConfidenceLevel <= 0 || c.ConfidenceLevel >= 1 {
		return fmt.Errorf("confidence_level must be in (0,1), got %f", c.ConfidenceLevel)
	}
	if c.ResponseThreshold < 0 || c.ResponseThreshold > 1 {
		return fmt.Errorf("response_threshold must be in [0,1], got %f", c.ResponseThreshold)
	}
	if c.MaxAdaptations <= 0 {
		return fmt.Errorf("max_adaptations must be > 0, got %d", c.MaxAdaptations)
	}
	if !c.Strategy.IsValid() {
		return fmt.Errorf("unknown allocation strategy %q", c.Strategy)
	}
	return nil
}
