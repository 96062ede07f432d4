// Command optimizer runs the treatment-plan optimizer or an adaptive trial
// simulation from JSON input files and writes the result as JSON to stdout.
//
// Usage:
//
//	optimizer -patient patient.json
//	optimizer -trial protocol.json -cohort cohort.json [-outcomes outcomes.json]
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"

	"github.com/crohns-treatment-optimizer/internal/config"
	"github.com/crohns-treatment-optimizer/internal/domain"
	"github.com/crohns-treatment-optimizer/internal/service"
)

func main() {
	var (
		patientPath  = flag.String("patient", "", "path to a patient profile JSON file")
		trialPath    = flag.String("trial", "", "path to a trial protocol JSON file")
		cohortPath   = flag.String("cohort", "", "path to a cohort JSON file (array of patient profiles)")
		outcomesPath = flag.String("outcomes", "", "optional path to recorded patient outcomes JSON")
	)
	flag.Parse()

	manager, err := config.NewManager()
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		os.Exit(1)
	}
	logger := manager.BuildLogger()

	planner, err := service.NewPlanner(manager, logger)
	if err != nil {
		logger.WithError(err).Fatal("failed to assemble planner")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	switch {
	case *trialPath != "":
		if *cohortPath == "" {
			logger.Fatal("-trial requires -cohort")
		}
		runTrial(ctx, planner, logger, *trialPath, *cohortPath, *outcomesPath)
	case *patientPath != "":
		runOptimizer(ctx, planner, logger, *patientPath)
	default:
		flag.Usage()
		os.Exit(2)
	}
}

func runOptimizer(ctx context.Context, planner *service.Planner, logger *logrus.Logger, patientPath string) {
	patient := &domain.PatientProfile{}
	if err := readJSON(patientPath, patient); err != nil {
		logger.WithError(err).Fatal("failed to read patient profile")
	}

	result, err := planner.OptimizePlan(ctx, patient)
	if err != nil {
		logger.WithError(err).Fatal("optimization failed")
	}
	writeJSON(logger, result)
}

func runTrial(ctx context.Context, planner *service.Planner, logger *logrus.Logger, trialPath, cohortPath, outcomesPath string) {
	protocol := &domain.TrialProtocol{}
	if err := readJSON(trialPath, protocol); err != nil {
		logger.WithError(err).Fatal("failed to read trial protocol")
	}

	var cohort []*domain.PatientProfile
	if err := readJSON(cohortPath, &cohort); err != nil {
		logger.WithError(err).Fatal("failed to read cohort")
	}

	var recorded []domain.PatientOutcome
	if outcomesPath != "" {
		if err := readJSON(outcomesPath, &recorded); err != nil {
			logger.WithError(err).Fatal("failed to read recorded outcomes")
		}
	}

	result, err := planner.RunTrial(ctx, protocol, cohort, recorded)
	if err != nil {
		logger.WithError(err).Fatal("trial failed")
	}
	writeJSON(logger, result)
}

func readJSON(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	return nil
}

func writeJSON(logger *logrus.Logger, v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		logger.WithError(err).Fatal("failed to encode result")
	}
}
