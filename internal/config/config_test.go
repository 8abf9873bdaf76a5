package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultValidates(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, DefaultMaxActiveTasks, cfg.Workflow.MaxActiveTasks)
	assert.Equal(t, DefaultMaxActiveThoughts, cfg.Workflow.MaxActiveThoughts)
	assert.Equal(t, DefaultMaxPonderRounds, cfg.Workflow.MaxPonderRounds)
	assert.InDelta(t, DefaultRoundDelay, cfg.Workflow.RoundDelaySeconds, 0.001)
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	body := `
agent_mode: discord
workflow:
  max_active_tasks: 3
  max_ponder_rounds: 2
guardrails:
  entropy_threshold: 0.5
agent_profiles:
  moderator:
    name: moderator-bot
    permitted_actions: [speak, ponder, defer]
default_profile: moderator
`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "discord", cfg.AgentMode)
	assert.Equal(t, 3, cfg.Workflow.MaxActiveTasks)
	assert.Equal(t, 2, cfg.Workflow.MaxPonderRounds)
	// Unset keys keep their defaults.
	assert.Equal(t, DefaultMaxActiveThoughts, cfg.Workflow.MaxActiveThoughts)
	assert.InDelta(t, 0.5, cfg.Guardrails.EntropyThreshold, 0.001)
	assert.InDelta(t, DefaultCoherenceFloor, cfg.Guardrails.CoherenceThreshold, 0.001)

	profile, err := cfg.Profile("")
	require.NoError(t, err)
	assert.Equal(t, "moderator-bot", profile.Name)
	assert.Equal(t, []string{"speak", "ponder", "defer"}, profile.PermittedActions)
}

func TestLoadRejectsInvalid(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("workflow:\n  max_active_tasks: -1\n"), 0o644))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestApplyEnvOverrides(t *testing.T) {
	cfg := Default()
	env := map[string]string{
		EnvHomeChannelID:    "chan-123",
		EnvWAUserID:         "wa-9",
		EnvOpenAIAPIKey:     "sk-test",
		EnvCIRISNodeBaseURL: "https://node.example",
	}
	applyEnvOverrides(&cfg, func(k string) (string, bool) {
		v, ok := env[k]
		return v, ok
	})

	assert.Equal(t, "chan-123", cfg.Channels.HomeChannelID)
	assert.Equal(t, "wa-9", cfg.Channels.WAUserID)
	assert.Equal(t, "sk-test", cfg.LLM.APIKey)
	assert.Equal(t, "https://node.example", cfg.CIRISNode.BaseURL)
	assert.Empty(t, cfg.Channels.DeferralChannelID)
}

func TestProfileFallback(t *testing.T) {
	cfg := Default()
	p, err := cfg.Profile("nope")
	require.NoError(t, err)
	assert.Equal(t, DefaultProfileName, p.Name)
}
