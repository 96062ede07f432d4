// Package service wires the formulary, biomarker model, fitness evaluator,
// optimizer, and trial engine into one facade the CLI consumes.
package service

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/crohns-treatment-optimizer/internal/biomarker"
	"github.com/crohns-treatment-optimizer/internal/config"
	"github.com/crohns-treatment-optimizer/internal/domain"
	"github.com/crohns-treatment-optimizer/internal/fitness"
	"github.com/crohns-treatment-optimizer/internal/formulary"
	"github.com/crohns-treatment-optimizer/internal/optimizer"
	"github.com/crohns-treatment-optimizer/internal/trial"
)

// Planner is the application service for treatment optimization and
// adaptive trial simulation.
type Planner struct {
	cfg       *config.Config
	formulary *formulary.Formulary
	scorer    *biomarker.Model
	evaluator *fitness.Evaluator
	logger    *logrus.Logger
}

// NewPlanner assembles the service from configuration.
func NewPlanner(manager *config.Manager, logger *logrus.Logger) (*Planner, error) {
	if err := manager.Validate(); err != nil {
		return nil, fmt.Errorf("configuration invalid: %w", err)
	}
	cfg := manager.GetConfig()

	f := formulary.Default()
	scorer := biomarker.DefaultModel(logger)
	evaluator, err := fitness.NewEvaluator(f, cfg.Optimizer.FitnessWeights, logger)
	if err != nil {
		return nil, err
	}

	return &Planner{
		cfg:       cfg,
		formulary: f,
		scorer:    scorer,
		evaluator: evaluator,
		logger:    logger,
	}, nil
}

// OptimizePlan runs the genetic optimizer for one patient.
func (p *Planner) OptimizePlan(ctx context.Context, patient *domain.PatientProfile) (*domain.OptimizerResult, error) {
	engine, err := optimizer.NewEngine(p.cfg.Optimizer, p.formulary, p.evaluator, p.scorer, p.logger)
	if err != nil {
		return nil, err
	}
	return engine.Optimize(ctx, patient)
}

// RunTrial executes an adaptive trial over the cohort. When recorded
// outcomes are supplied they drive responses; otherwise outcomes are
// simulated from the fitness model.
func (p *Planner) RunTrial(ctx context.Context, protocol *domain.TrialProtocol, cohort []*domain.PatientProfile, recorded []domain.PatientOutcome) (*domain.TrialResult, error) {
	engine, err := trial.NewEngine(p.cfg.Trial, p.scorer, p.logger)
	if err != nil {
		return nil, err
	}

	var model domain.OutcomeModel
	if len(recorded) > 0 {
		model = trial.NewRecordedOutcomeModel(recorded)
	} else {
		model = trial.NewSimulatedOutcomeModel(p.evaluator, p.scorer, p.cfg.Trial.Seed, p.cfg.Trial.ResponseThreshold)
	}
	return engine.Run(ctx, protocol, cohort, model)
}
