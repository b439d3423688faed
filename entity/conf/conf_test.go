package conf

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleYAML = `
model:
  default_model:
    model_id: gpt-4o
    base_url: https://api.example.com/v1
    api_key: file-key
    timeout: 90s
mcp:
  servers:
    search:
      command: npx
      args: ["-y", "search-mcp"]
setting:
  max_plan_iterations: 2
  agent_recursion_limit: "30"
  executor_timeout: 10m
  planner_streaming: false
checkpoint:
  type: file
  dir: /tmp/deerflow
`

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoad(t *testing.T) {
	cfg, err := Load(writeConfig(t, sampleYAML))
	require.NoError(t, err)

	assert.Equal(t, "gpt-4o", cfg.Model.DefaultModel.ModelID)
	assert.Equal(t, 90*time.Second, cfg.Model.DefaultModel.Timeout)
	assert.Nil(t, cfg.Model.PlanModel)
	assert.Equal(t, []string{"-y", "search-mcp"}, cfg.MCP.Servers["search"].Args)

	assert.Equal(t, 2, cfg.Setting.MaxPlanIterations)
	assert.Equal(t, DefaultMaxStepNum, cfg.Setting.MaxStepNum)
	assert.Equal(t, DefaultMaxSearchResults, cfg.Setting.MaxSearchResults)
	assert.Equal(t, "30", cfg.Setting.AgentRecursionLimit)
	assert.Equal(t, 10*time.Minute, cfg.Setting.ExecutorTimeout)
	assert.True(t, cfg.BackgroundInvestigation())

	assert.Equal(t, "file", cfg.Checkpoint.Type)
	assert.Equal(t, DefaultCacheSize, cfg.Checkpoint.CacheSize)
	assert.Equal(t, DefaultServerAddr, cfg.Server.Addr)
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("MAX_PLAN_ITERATIONS", "4")
	t.Setenv("MAX_SEARCH_RESULTS", "7")
	t.Setenv("OPENAI_API_KEY", "env-key")
	t.Setenv("UNRELATED_VARIABLE", "ignored")

	cfg, err := Load(writeConfig(t, sampleYAML))
	require.NoError(t, err)

	assert.Equal(t, 4, cfg.Setting.MaxPlanIterations)
	assert.Equal(t, 7, cfg.Setting.MaxSearchResults)
	assert.Equal(t, "env-key", cfg.Model.DefaultModel.APIKey)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}

func TestRunConfig(t *testing.T) {
	cfg, err := Load(writeConfig(t, sampleYAML))
	require.NoError(t, err)

	rc := cfg.RunConfig()
	assert.Equal(t, 2, rc.MaxPlanIterations)
	assert.False(t, rc.PlannerStreaming)
	assert.Equal(t, "30", rc.AgentRecursionLimit)

	five, negative := 5, -1
	merged := rc.Override(&five, nil, &negative)
	assert.Equal(t, 5, merged.MaxPlanIterations)
	assert.Equal(t, rc.MaxStepNum, merged.MaxStepNum)
	assert.Equal(t, rc.MaxSearchResults, merged.MaxSearchResults)

	zero := 0
	merged = rc.Override(&zero, &zero, nil)
	assert.Equal(t, 0, merged.MaxPlanIterations)
	assert.Equal(t, 0, merged.MaxStepNum)
	assert.Equal(t, rc.MaxSearchResults, merged.MaxSearchResults)
	assert.Equal(t, 2, rc.MaxPlanIterations, "override must not mutate the base config")
}

func TestDefaultRunConfig(t *testing.T) {
	rc := DefaultRunConfig()
	assert.Equal(t, DefaultMaxPlanIterations, rc.MaxPlanIterations)
	assert.Equal(t, DefaultMaxStepNum, rc.MaxStepNum)
	assert.Equal(t, DefaultMaxSearchResults, rc.MaxSearchResults)
	assert.Equal(t, DefaultExecutorTimeout, rc.ExecutorTimeout)
	assert.True(t, rc.PlannerStreaming)
}
