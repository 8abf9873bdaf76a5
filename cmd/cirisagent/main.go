// Command cirisagent runs the autonomous agent runtime: wake-up, the work
// round loop, the scheduler, and a terminal observer, all against a SQLite
// or in-memory store.
package main

import (
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/emooreatx/cirisagent/internal/config"
	"github.com/emooreatx/cirisagent/internal/logging"
)

var version = "0.3.0"

var (
	flagConfig  string
	flagProfile string
	flagMode    string
	flagDB      string
	flagVerbose bool
)

func main() {
	root := &cobra.Command{
		Use:   "cirisagent",
		Short: "Autonomous agent runtime with a governed cognitive pipeline",
		Long: "cirisagent turns external events into governed, auditable actions.\n" +
			"Every thought passes ethical, common-sense, and domain evaluators\n" +
			"before an action is selected, guardrail-checked, and dispatched.",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVarP(&flagConfig, "config", "c", "", "path to a YAML config file")
	root.PersistentFlags().StringVarP(&flagProfile, "profile", "p", "", "agent profile to run under")
	root.PersistentFlags().StringVarP(&flagMode, "mode", "m", "", "agent mode (cli, api, discord)")
	root.PersistentFlags().StringVar(&flagDB, "db", "", "SQLite database path (empty selects the in-memory store)")
	root.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "enable debug logging")

	root.AddCommand(newRunCmd(), newConfigCmd(), newVersionCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, color.RedString("error: %v", err))
		os.Exit(1)
	}
}

// loadConfig resolves the layered configuration and applies flag overrides.
func loadConfig() (config.AppConfig, error) {
	cfg, err := config.Load(flagConfig)
	if err != nil {
		return config.AppConfig{}, err
	}
	if flagProfile != "" {
		cfg.DefaultProfile = flagProfile
	}
	if flagMode != "" {
		cfg.AgentMode = flagMode
	}
	if flagDB != "" {
		cfg.Database.Path = flagDB
	}
	if flagVerbose {
		logging.SetDefaultLevel(logging.LevelDebug)
	}
	return cfg, nil
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the runtime version",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "cirisagent %s\n", version)
		},
	}
}

func newConfigCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Print the fully resolved configuration as YAML",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			cfg.Channels.BotToken = "" // never echo credentials
			cfg.LLM.APIKey = ""
			out, err := yaml.Marshal(cfg)
			if err != nil {
				return fmt.Errorf("encode config: %w", err)
			}
			_, err = cmd.OutOrStdout().Write(out)
			return err
		},
	}
}

func banner(cfg config.AppConfig) {
	bold := color.New(color.Bold).SprintFunc()
	gray := color.New(color.FgHiBlack).SprintFunc()
	fmt.Printf("%s %s\n", bold("cirisagent"), version)
	fmt.Printf("%s\n", gray(fmt.Sprintf("mode=%s profile=%s llm=%s store=%s",
		cfg.AgentMode, cfg.DefaultProfile, cfg.LLM.Provider, storeLabel(cfg))))
}

func storeLabel(cfg config.AppConfig) string {
	if cfg.Database.Path == "" {
		return "memory"
	}
	return cfg.Database.Path
}
