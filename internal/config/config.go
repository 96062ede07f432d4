// Package config loads application configuration from defaults, an optional
// YAML file, and environment variables, in ascending precedence.
package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"

	"github.com/crohns-treatment-optimizer/internal/domain"
)

// LoggingConfig controls the process-wide logger.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	Output string `mapstructure:"output"`
}

// Config is the complete application configuration.
type Config struct {
	Environment string                 `mapstructure:"environment"`
	Logging     LoggingConfig          `mapstructure:"logging"`
	Optimizer   domain.OptimizerConfig `mapstructure:"optimizer"`
	Trial       domain.TrialConfig     `mapstructure:"trial"`
}

// Manager loads, validates, and serves the configuration.
type Manager struct {
	v      *viper.Viper
	config *Config
}

// NewManager creates a new configuration manager
func NewManager() (*Manager, error) {
	m := &Manager{v: viper.New()}
	if err := m.loadConfig(); err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	return m, nil
}

// loadConfig loads configuration from various sources
func (m *Manager) loadConfig() error {
	m.v.SetConfigName("config")
	m.v.SetConfigType("yaml")
	m.v.AddConfigPath(".")
	m.v.AddConfigPath("./config")
	m.v.AddConfigPath("/etc/crohns-treatment-optimizer/")

	m.v.SetEnvPrefix("CTO")
	m.v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	m.v.AutomaticEnv()

	m.setDefaults()

	// Config file is optional; defaults and env vars suffice without it.
	if err := m.v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return fmt.Errorf("error reading config file: %w", err)
		}
	}

	config := &Config{}
	if err := m.v.Unmarshal(config); err != nil {
		return fmt.Errorf("error unmarshaling config: %w", err)
	}

	// A named optimization mode overrides the individual weights.
	if config.Optimizer.Mode != "" {
		weights, err := domain.WeightsForMode(config.Optimizer.Mode)
		if err != nil {
			return err
		}
		config.Optimizer.FitnessWeights = weights
	}

	m.config = config
	return nil
}

// setDefaults sets default configuration values
func (m *Manager) setDefaults() {
	optimizer := domain.DefaultOptimizerConfig()
	trial := domain.DefaultTrialConfig()
	weights := domain.DefaultFitnessWeights()

	m.v.SetDefault("optimizer.population_size", optimizer.PopulationSize)
	m.v.SetDefault("optimizer.generations", optimizer.Generations)
	m.v.SetDefault("optimizer.mutation_rate", optimizer.MutationRate)
	m.v.SetDefault("optimizer.crossover_rate", optimizer.CrossoverRate)
	m.v.SetDefault("optimizer.elitism_count", optimizer.ElitismCount)
	m.v.SetDefault("optimizer.tournament_size", optimizer.TournamentSize)
	m.v.SetDefault("optimizer.max_medications", optimizer.MaxMedications)
	m.v.SetDefault("optimizer.fitness_threshold", optimizer.FitnessThreshold)
	m.v.SetDefault("optimizer.stagnation_window", optimizer.StagnationWindow)
	m.v.SetDefault("optimizer.workers", optimizer.Workers)
	m.v.SetDefault("optimizer.alternatives", optimizer.Alternatives)
	m.v.SetDefault("optimizer.mode", "")
	m.v.SetDefault("optimizer.seed", optimizer.Seed)
	m.v.SetDefault("optimizer.budget", optimizer.Budget)
	m.v.SetDefault("optimizer.fitness_weights.efficacy", weights.Efficacy)
	m.v.SetDefault("optimizer.fitness_weights.safety", weights.Safety)
	m.v.SetDefault("optimizer.fitness_weights.adherence", weights.Adherence)
	m.v.SetDefault("optimizer.fitness_weights.cost", weights.Cost)

	m.v.SetDefault("trial.min_allocation", trial.MinAllocation)
	m.v.SetDefault("trial.min_response_rate", trial.MinResponseRate)
	m.v.SetDefault("trial.confidence_level", trial.ConfidenceLevel)
	m.v.SetDefault("trial.enrichment_margin", trial.EnrichmentMargin)
	m.v.SetDefault("trial.safety_event_ceiling", trial.SafetyEventCeiling)
	m.v.SetDefault("trial.response_threshold", trial.ResponseThreshold)
	m.v.SetDefault("trial.max_adaptations", trial.MaxAdaptations)
	m.v.SetDefault("trial.allocation_strategy", string(trial.Strategy))
	m.v.SetDefault("trial.seed", trial.Seed)

	m.v.SetDefault("logging.level", "info")
	m.v.SetDefault("logging.format", "json")
	m.v.SetDefault("logging.output", "stdout")
}

// GetConfig returns the complete configuration
func (m *Manager) GetConfig() *Config {
	return m.config
}

// GetOptimizerConfig returns the optimizer configuration
func (m *Manager) GetOptimizerConfig() *domain.OptimizerConfig {
	return &m.config.Optimizer
}

// GetTrialConfig returns the trial configuration
func (m *Manager) GetTrialConfig() *domain.TrialConfig {
	return &m.config.Trial
}

// Reload reloads the configuration
func (m *Manager) Reload() error {
	return m.loadConfig()
}

// Validate validates the configuration
func (m *Manager) Validate() error {
	if err := m.config.Optimizer.Validate(); err != nil {
		return fmt.Errorf("optimizer: %w", err)
	}
	if err := m.config.Trial.Validate(); err != nil {
		return fmt.Errorf("trial: %w", err)
	}

	validLogLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true, "fatal": true, "panic": true,
	}
	if !validLogLevels[strings.ToLower(m.config.Logging.Level)] {
		return fmt.Errorf("invalid log level: %s", m.config.Logging.Level)
	}
	return nil
}

// BuildLogger constructs the process logger from the logging configuration.
func (m *Manager) BuildLogger() *logrus.Logger {
	logger := logrus.New()

	level, err := logrus.ParseLevel(strings.ToLower(m.config.Logging.Level))
	if err != nil {
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)

	if strings.ToLower(m.config.Logging.Format) == "text" {
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	} else {
		logger.SetFormatter(&logrus.JSONFormatter{})
	}

	if strings.ToLower(m.config.Logging.Output) == "stderr" {
		logger.SetOutput(os.Stderr)
	} else {
		logger.SetOutput(os.Stdout)
	}
	return logger
}

// IsProduction returns true if running in production mode
func (m *Manager) IsProduction() bool {
	return strings.ToLower(m.config.Environment) == "production"
}
