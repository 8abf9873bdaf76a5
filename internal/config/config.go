// Package config loads the agent runtime configuration. Precedence is
// defaults, then the YAML config file, then environment overrides.
package config

import (
	"fmt"
	"time"

	"github.com/emooreatx/cirisagent/internal/telemetry"
)

const (
	DefaultProfileName       = "default"
	DefaultMaxActiveTasks    = 10
	DefaultMaxActiveThoughts = 50
	DefaultRoundDelay        = 1.0
	DefaultMaxPonderRounds   = 5
	DefaultEntropyThreshold  = 0.40
	DefaultCoherenceFloor    = 0.60
	DefaultSchedulerInterval = 60
	DefaultPassiveContext    = 10
	DefaultDMATimeout        = 30 * time.Second
)

// WorkflowConfig bounds the processor's round loop.
type WorkflowConfig struct {
	MaxActiveTasks    int     `mapstructure:"max_active_tasks" yaml:"max_active_tasks"`
	MaxActiveThoughts int     `mapstructure:"max_active_thoughts" yaml:"max_active_thoughts"`
	RoundDelaySeconds float64 `mapstructure:"round_delay_seconds" yaml:"round_delay_seconds"`
	MaxPonderRounds   int     `mapstructure:"max_ponder_rounds" yaml:"max_ponder_rounds"`
}

// RoundDelay returns the configured inter-round pause.
func (w WorkflowConfig) RoundDelay() time.Duration {
	return time.Duration(w.RoundDelaySeconds * float64(time.Second))
}

// GuardrailsConfig holds the epistemic thresholds. Entropy above the
// threshold or coherence below the floor forces an override.
type GuardrailsConfig struct {
	EntropyThreshold   float64 `mapstructure:"entropy_threshold" yaml:"entropy_threshold"`
	CoherenceThreshold float64 `mapstructure:"coherence_threshold" yaml:"coherence_threshold"`
}

// AgentProfile names a persona and restricts which actions it may select.
type AgentProfile struct {
	Name             string   `mapstructure:"name" yaml:"name"`
	Description      string   `mapstructure:"description" yaml:"description"`
	SystemPrompt     string   `mapstructure:"system_prompt" yaml:"system_prompt"`
	PermittedActions []string `mapstructure:"permitted_actions" yaml:"permitted_actions"`
	DSDMADomain      string   `mapstructure:"dsdma_domain" yaml:"dsdma_domain"`
}

// LLMConfig selects the model backend.
type LLMConfig struct {
	Provider    string  `mapstructure:"provider" yaml:"provider"`
	Model       string  `mapstructure:"model" yaml:"model"`
	BaseURL     string  `mapstructure:"base_url" yaml:"base_url"`
	APIKey      string  `mapstructure:"api_key" yaml:"api_key"`
	MaxTokens   int     `mapstructure:"max_tokens" yaml:"max_tokens"`
	Temperature float64 `mapstructure:"temperature" yaml:"temperature"`
	TimeoutSecs int     `mapstructure:"timeout_seconds" yaml:"timeout_seconds"`
}

// Timeout returns the per-attempt LLM deadline.
func (l LLMConfig) Timeout() time.Duration {
	if l.TimeoutSecs <= 0 {
		return DefaultDMATimeout
	}
	return time.Duration(l.TimeoutSecs) * time.Second
}

// SchedulerConfig controls the deferred-task scheduler tick.
type SchedulerConfig struct {
	CheckIntervalSeconds int `mapstructure:"check_interval_seconds" yaml:"check_interval_seconds"`
}

// CheckInterval returns the scheduler polling interval.
func (s SchedulerConfig) CheckInterval() time.Duration {
	if s.CheckIntervalSeconds <= 0 {
		return DefaultSchedulerInterval * time.Second
	}
	return time.Duration(s.CheckIntervalSeconds) * time.Second
}

// ObserverConfig bounds passive observation context.
type ObserverConfig struct {
	PassiveContextLimit int `mapstructure:"passive_context_limit" yaml:"passive_context_limit"`
}

// CIRISNodeConfig points at the external deferral/audit node.
type CIRISNodeConfig struct {
	BaseURL string `mapstructure:"base_url" yaml:"base_url"`
}

// DatabaseConfig selects the persistence backend.
type DatabaseConfig struct {
	// Path is the SQLite database file; ":memory:" keeps everything
	// in-process, "" selects the pure in-memory store.
	Path string `mapstructure:"path" yaml:"path"`
}

// ChannelsConfig carries adapter channel identities resolved from the
// environment.
type ChannelsConfig struct {
	HomeChannelID     string `mapstructure:"home_channel_id" yaml:"home_channel_id"`
	DeferralChannelID string `mapstructure:"deferral_channel_id" yaml:"deferral_channel_id"`
	WAUserID          string `mapstructure:"wa_user_id" yaml:"wa_user_id"`
	BotToken          string `mapstructure:"-" yaml:"-"`
}

// AppConfig is the root runtime configuration.
type AppConfig struct {
	AgentMode      string                  `mapstructure:"agent_mode" yaml:"agent_mode"`
	DefaultProfile string                  `mapstructure:"default_profile" yaml:"default_profile"`
	Profiles       map[string]AgentProfile `mapstructure:"agent_profiles" yaml:"agent_profiles"`
	Workflow       WorkflowConfig          `mapstructure:"workflow" yaml:"workflow"`
	Guardrails     GuardrailsConfig        `mapstructure:"guardrails" yaml:"guardrails"`
	LLM            LLMConfig               `mapstructure:"llm" yaml:"llm"`
	Scheduler      SchedulerConfig         `mapstructure:"scheduler" yaml:"scheduler"`
	Observer       ObserverConfig          `mapstructure:"observer" yaml:"observer"`
	CIRISNode      CIRISNodeConfig         `mapstructure:"cirisnode" yaml:"cirisnode"`
	Database       DatabaseConfig          `mapstructure:"database" yaml:"database"`
	Channels       ChannelsConfig          `mapstructure:"channels" yaml:"channels"`
	Telemetry      telemetry.Config        `mapstructure:"telemetry" yaml:"telemetry"`
}

// Default returns the built-in configuration.
func Default() AppConfig {
	return AppConfig{
		AgentMode:      "cli",
		DefaultProfile: DefaultProfileName,
		Profiles: map[string]AgentProfile{
			DefaultProfileName: {
				Name:        DefaultProfileName,
				Description: "General-purpose agent profile with the full action set.",
			},
		},
		Workflow: WorkflowConfig{
			MaxActiveTasks:    DefaultMaxActiveTasks,
			MaxActiveThoughts: DefaultMaxActiveThoughts,
			RoundDelaySeconds: DefaultRoundDelay,
			MaxPonderRounds:   DefaultMaxPonderRounds,
		},
		Guardrails: GuardrailsConfig{
			EntropyThreshold:   DefaultEntropyThreshold,
			CoherenceThreshold: DefaultCoherenceFloor,
		},
		LLM: LLMConfig{
			Provider:    "mock",
			Model:       "gpt-4o-mini",
			MaxTokens:   1024,
			Temperature: 0.0,
			TimeoutSecs: int(DefaultDMATimeout.Seconds()),
		},
		Scheduler: SchedulerConfig{CheckIntervalSeconds: DefaultSchedulerInterval},
		Observer:  ObserverConfig{PassiveContextLimit: DefaultPassiveContext},
	}
}

// Profile resolves the active agent profile, falling back to the default
// profile when the named one is missing.
func (c AppConfig) Profile(name string) (AgentProfile, error) {
	if name == "" {
		name = c.DefaultProfile
	}
	if p, ok := c.Profiles[name]; ok {
		return p, nil
	}
	if p, ok := c.Profiles[c.DefaultProfile]; ok {
		return p, nil
	}
	return AgentProfile{}, fmt.Errorf("no agent profile %q and no default profile", name)
}

// Validate rejects configurations the processor cannot run with.
func (c AppConfig) Validate() error {
	if c.Workflow.MaxActiveTasks <= 0 {
		return fmt.Errorf("workflow.max_active_tasks must be positive, got %d", c.Workflow.MaxActiveTasks)
	}
	if c.Workflow.MaxActiveThoughts <= 0 {
		return fmt.Errorf("workflow.max_active_thoughts must be positive, got %d", c.Workflow.MaxActiveThoughts)
	}
	if c.Workflow.MaxPonderRounds <= 0 {
		return fmt.Errorf("workflow.max_ponder_rounds must be positive, got %d", c.Workflow.MaxPonderRounds)
	}
	if c.Guardrails.EntropyThreshold < 0 || c.Guardrails.EntropyThreshold > 1 {
		return fmt.Errorf("guardrails.entropy_threshold out of range: %v", c.Guardrails.EntropyThreshold)
	}
	if c.Guardrails.CoherenceThreshold < 0 || c.Guardrails.CoherenceThreshold > 1 {
		return fmt.Errorf("guardrails.coherence_threshold out of range: %v", c.Guardrails.CoherenceThreshold)
	}
	if _, err := c.Profile(c.DefaultProfile); err != nil {
		return err
	}
	return nil
}
