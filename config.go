package sopflow

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ThresholdConfig holds the confidence cutoffs that separate coverage tiers.
type ThresholdConfig struct {
	High   float64 `yaml:"high" json:"high"`
	Medium float64 `yaml:"medium" json:"medium"`
}

// RoutingConfig tunes the optional-stage routing decision.
type RoutingConfig struct {
	// EarlyExit skips the optional verification stages entirely when a
	// full-answer strategy has no gaps and confidence above the bar.
	EarlyExit           bool    `yaml:"early_exit" json:"early_exit"`
	EarlyExitConfidence float64 `yaml:"early_exit_confidence" json:"early_exit_confidence"`
}

// RetryConfig bounds whole-graph restarts on transient node failures.
type RetryConfig struct {
	MaxRetries int `yaml:"max_retries" json:"max_retries"`
}

// CheckpointConfig controls checkpoint cadence and staleness.
type CheckpointConfig struct {
	// Interval is the number of completed nodes between checkpoints.
	Interval int `yaml:"interval" json:"interval"`

	// ImportantNodes are checkpointed immediately regardless of interval.
	ImportantNodes []string `yaml:"important_nodes" json:"important_nodes"`

	// MaxAge is how old a checkpoint may be before resume discards it.
	MaxAge time.Duration `yaml:"max_age" json:"max_age"`
}

// IsImportant reports whether a node triggers an immediate checkpoint.
func (c CheckpointConfig) IsImportant(id NodeID) bool {
	for _, name := range c.ImportantNodes {
		if name == id.String() {
			return true
		}
	}
	return false
}

// RefinementConfig bounds the iterative refinement loop used in deep mode.
type RefinementConfig struct {
	ConfidenceThreshold  float64       `yaml:"confidence_threshold" json:"confidence_threshold"`
	MaxIterations        int           `yaml:"max_iterations" json:"max_iterations"`
	ImprovementThreshold float64       `yaml:"improvement_threshold" json:"improvement_threshold"`
	IterationTimeout     time.Duration `yaml:"iteration_timeout" json:"iteration_timeout"`
	Stages               []string      `yaml:"stages" json:"stages"`
}

// ParallelConfig tunes the parallel execution utility.
type ParallelConfig struct {
	OperationTimeout time.Duration `yaml:"operation_timeout" json:"operation_timeout"`
}

// TemplateConfig holds the fixed response templates.
type TemplateConfig struct {
	// EscapeHatch is the gap-acknowledgment template. It receives the
	// query intent as its single formatting argument.
	EscapeHatch string `yaml:"escape_hatch" json:"escape_hatch"`
}

// ModelConfig carries the inference parameters passed on every call.
type ModelConfig struct {
	Model       string  `yaml:"model" json:"model"`
	Temperature float64 `yaml:"temperature" json:"temperature"`
	MaxTokens   int     `yaml:"max_tokens" json:"max_tokens"`
}

// Config is the immutable engine configuration. It is loaded once and
// injected at construction; reloading means constructing a new Engine.
type Config struct {
	Thresholds ThresholdConfig  `yaml:"thresholds" json:"thresholds"`
	Routing    RoutingConfig    `yaml:"routing" json:"routing"`
	Retry      RetryConfig      `yaml:"retry" json:"retry"`
	Checkpoint CheckpointConfig `yaml:"checkpoint" json:"checkpoint"`
	Refinement RefinementConfig `yaml:"refinement" json:"refinement"`
	Parallel   ParallelConfig   `yaml:"parallel" json:"parallel"`
	Model      ModelConfig      `yaml:"model" json:"model"`
	Templates  TemplateConfig   `yaml:"templates" json:"templates"`
}

// DefaultConfig returns the configuration used when none is provided.
func DefaultConfig() *Config {
	return &Config{
		Thresholds: ThresholdConfig{High: 0.8, Medium: 0.5},
		Routing:    RoutingConfig{EarlyExit: false, EarlyExitConfidence: 0.9},
		Retry:      RetryConfig{MaxRetries: 3},
		Checkpoint: CheckpointConfig{
			Interval: 2,
			ImportantNodes: []string{
				NodeEvidenceAssessment.String(),
				NodeResponseSynthesis.String(),
			},
			MaxAge: 60 * time.Minute,
		},
		Refinement: RefinementConfig{
			ConfidenceThreshold:  0.8,
			MaxIterations:        3,
			ImprovementThreshold: 0.1,
			IterationTimeout:     60 * time.Second,
			Stages: []string{
				NodeEvidenceAssessment.String(),
				NodeCoverageEvaluation.String(),
				NodeResponseSynthesis.String(),
			},
		},
		Parallel: ParallelConfig{OperationTimeout: 30 * time.Second},
		Model:    ModelConfig{Temperature: 0.2, MaxTokens: 2048},
		Templates: TemplateConfig{
			EscapeHatch: "I don't have procedures that reliably cover your question about %s, so rather than guess I'll tell you what would be needed to answer it properly.",
		},
	}
}

// Validate checks the configuration for internally consistent values.
func (c *Config) Validate() error {
	if c.Thresholds.High <= c.Thresholds.Medium {
		return fmt.Errorf("threshold high (%v) must exceed medium (%v)",
			c.Thresholds.High, c.Thresholds.Medium)
	}
	if c.Thresholds.Medium <= 0 || c.Thresholds.High > 1 {
		return fmt.Errorf("thresholds must lie in (0, 1]")
	}
	if c.Retry.MaxRetries < 0 {
		return fmt.Errorf("max_retries cannot be negative")
	}
	if c.Checkpoint.Interval < 1 {
		return fmt.Errorf("checkpoint interval must be at least 1")
	}
	if c.Refinement.MaxIterations < 0 {
		return fmt.Errorf("refinement max_iterations cannot be negative")
	}
	if c.Refinement.ImprovementThreshold < 0 {
		return fmt.Errorf("refinement improvement_threshold cannot be negative")
	}
	if !strings.Contains(c.Templates.EscapeHatch, "%s") {
		return fmt.Errorf("escape hatch template must contain a %%s placeholder")
	}
	for _, name := range c.Checkpoint.ImportantNodes {
		if _, err := ParseNodeID(name); err != nil {
			return fmt.Errorf("checkpoint important_nodes: %w", err)
		}
	}
	for _, name := range c.Refinement.Stages {
		if _, err := ParseNodeID(name); err != nil {
			return fmt.Errorf("refinement stages: %w", err)
		}
	}
	return nil
}

// RefinementStages returns the configured refinement stage subset as node IDs.
// Validate must have accepted the config first.
func (c *Config) RefinementStages() []NodeID {
	stages := make([]NodeID, 0, len(c.Refinement.Stages))
	for _, name := range c.Refinement.Stages {
		id, err := ParseNodeID(name)
		if err != nil {
			continue
		}
		stages = append(stages, id)
	}
	return stages
}

// LoadConfigFile loads a Config from a YAML file, filling unset sections with
// defaults.
func LoadConfigFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return LoadConfigString(string(data))
}

// LoadConfigString loads a Config from a YAML string, filling unset sections
// with defaults.
func LoadConfigString(data string) (*Config, error) {
	config := DefaultConfig()
	if err := yaml.Unmarshal([]byte(data), config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}
