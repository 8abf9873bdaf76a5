package config

import "os"

// Environment variable names recognized by the runtime. All ambient
// environment access funnels through here so tests can inject lookups.
const (
	EnvHomeChannelID     = "DISCORD_CHANNEL_ID"
	EnvBotToken          = "DISCORD_BOT_TOKEN"
	EnvDeferralChannelID = "DISCORD_DEFERRAL_CHANNEL_ID"
	EnvWAUserID          = "DISCORD_WA_USER_ID"
	EnvOpenAIAPIKey      = "OPENAI_API_KEY"
	EnvCIRISNodeBaseURL  = "CIRISNODE_BASE_URL"
)

// EnvLookup resolves one environment variable.
type EnvLookup func(key string) (string, bool)

func lookupProcessEnv(key string) (string, bool) {
	return os.LookupEnv(key)
}

// applyEnvOverrides copies recognized environment variables into cfg. Values
// already set by file or flags are only replaced when the variable is
// present and non-empty.
func applyEnvOverrides(cfg *AppConfig, lookup EnvLookup) {
	set := func(dst *string, key string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}
	set(&cfg.Channels.HomeChannelID, EnvHomeChannelID)
	set(&cfg.Channels.BotToken, EnvBotToken)
	set(&cfg.Channels.DeferralChannelID, EnvDeferralChannelID)
	set(&cfg.Channels.WAUserID, EnvWAUserID)
	set(&cfg.LLM.APIKey, EnvOpenAIAPIKey)
	set(&cfg.CIRISNode.BaseURL, EnvCIRISNodeBaseURL)
}
