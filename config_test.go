package sopflow

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestDefaultConfigIsValid(t *testing.T) {
	config := DefaultConfig()
	require.NoError(t, config.Validate())
	require.Equal(t, 0.8, config.Thresholds.High)
	require.Equal(t, 0.5, config.Thresholds.Medium)
	require.Equal(t, 3, config.Retry.MaxRetries)
	require.Equal(t, 60*time.Minute, config.Checkpoint.MaxAge)
}

func TestConfigValidation(t *testing.T) {
	t.Run("thresholds must be ordered", func(t *testing.T) {
		config := DefaultConfig()
		config.Thresholds.High = 0.4
		require.Error(t, config.Validate())
	})

	t.Run("escape hatch template needs a placeholder", func(t *testing.T) {
		config := DefaultConfig()
		config.Templates.EscapeHatch = "no placeholder here"
		require.Error(t, config.Validate())
	})

	t.Run("unknown refinement stage is rejected", func(t *testing.T) {
		config := DefaultConfig()
		config.Refinement.Stages = []string{"not_a_node"}
		err := config.Validate()
		require.Error(t, err)
		require.Contains(t, err.Error(), "refinement stages")
	})

	t.Run("unknown important node is rejected", func(t *testing.T) {
		config := DefaultConfig()
		config.Checkpoint.ImportantNodes = []string{"not_a_node"}
		require.Error(t, config.Validate())
	})
}

func TestLoadConfigString(t *testing.T) {
	config, err := LoadConfigString(`
thresholds:
  high: 0.9
  medium: 0.6
routing:
  early_exit: true
refinement:
  max_iterations: 5
`)
	require.NoError(t, err)
	require.Equal(t, 0.9, config.Thresholds.High)
	require.Equal(t, 0.6, config.Thresholds.Medium)
	require.True(t, config.Routing.EarlyExit)
	require.Equal(t, 5, config.Refinement.MaxIterations)

	// Unset sections keep their defaults
	require.Equal(t, 3, config.Retry.MaxRetries)
	require.NotEmpty(t, config.Templates.EscapeHatch)
}

func TestLoadConfigStringRejectsInvalid(t *testing.T) {
	_, err := LoadConfigString(`
thresholds:
  high: 0.3
  medium: 0.6
`)
	require.Error(t, err)
}

func TestCheckpointConfigIsImportant(t *testing.T) {
	config := DefaultConfig()
	require.True(t, config.Checkpoint.IsImportant(NodeEvidenceAssessment))
	require.True(t, config.Checkpoint.IsImportant(NodeResponseSynthesis))
	require.False(t, config.Checkpoint.IsImportant(NodeQueryAnalysis))
}

func TestRefinementStages(t *testing.T) {
	config := DefaultConfig()
	require.Equal(t, []NodeID{
		NodeEvidenceAssessment,
		NodeCoverageEvaluation,
		NodeResponseSynthesis,
	}, config.RefinementStages())
}
