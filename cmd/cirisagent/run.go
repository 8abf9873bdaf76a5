package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/emooreatx/cirisagent/internal/adapters"
	"github.com/emooreatx/cirisagent/internal/async"
	"github.com/emooreatx/cirisagent/internal/config"
	"github.com/emooreatx/cirisagent/internal/dma"
	ciriserrors "github.com/emooreatx/cirisagent/internal/errors"
	"github.com/emooreatx/cirisagent/internal/guardrails"
	"github.com/emooreatx/cirisagent/internal/handlers"
	"github.com/emooreatx/cirisagent/internal/llm"
	"github.com/emooreatx/cirisagent/internal/logging"
	"github.com/emooreatx/cirisagent/internal/model"
	"github.com/emooreatx/cirisagent/internal/observer"
	"github.com/emooreatx/cirisagent/internal/persistence"
	"github.com/emooreatx/cirisagent/internal/pipeline"
	"github.com/emooreatx/cirisagent/internal/ports"
	"github.com/emooreatx/cirisagent/internal/processor"
	"github.com/emooreatx/cirisagent/internal/registry"
	"github.com/emooreatx/cirisagent/internal/scheduler"
	"github.com/emooreatx/cirisagent/internal/telemetry"
)

const agentIdentity = "I am CIRIS, an autonomous agent. I act transparently, audit every action, and defer to a wise authority when a decision exceeds my context."

func newRunCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the agent: wake-up, work rounds, scheduler, and observer",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			banner(cfg)
			return runAgent(cmd.Context(), cfg)
		},
	}
}

func runAgent(ctx context.Context, cfg config.AppConfig) error {
	logger := logging.NewComponentLogger("runtime")

	metrics, err := telemetry.NewCollector(cfg.Telemetry, logging.NewComponentLogger("telemetry"))
	if err != nil {
		return fmt.Errorf("telemetry: %w", err)
	}
	defer func() { _ = metrics.Shutdown(context.Background()) }()

	store, closeStore, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer closeStore()

	profile, err := cfg.Profile(cfg.DefaultProfile)
	if err != nil {
		return err
	}

	llmClient, faculty, err := buildLLM(cfg, metrics)
	if err != nil {
		return err
	}

	memory := adapters.NewLocalMemory(agentIdentity)
	secrets := adapters.NewRegexSecrets()
	sink := adapters.NewConsoleSink(os.Stdout, true, cfg.Observer.PassiveContextLimit)
	audit := adapters.NewJSONLinesAudit(os.Stderr)

	reg := registry.New()
	reg.Register(ports.CapabilityLLM, llmClient)
	reg.Register(ports.CapabilityMemory, ports.MemoryService(memory))
	reg.Register(ports.CapabilitySecrets, ports.SecretsService(secrets))
	reg.Register(ports.CapabilityCommunication, ports.CommunicationSink(sink))
	reg.Register(ports.CapabilityAudit, ports.AuditSink(audit))
	reg.Register(ports.CapabilityFilter, ports.FilterService(adapters.NewStoreFilter(store)))

	opts := ports.StructuredOptions{MaxTokens: cfg.LLM.MaxTokens, Temperature: cfg.LLM.Temperature}
	var ds *dma.DSDMA
	if profile.DSDMADomain != "" {
		ds = dma.NewDSDMA(llmClient, opts, profile.DSDMADomain)
	}
	executor := dma.NewExecutor(
		dma.NewEthicalDMA(llmClient, opts),
		dma.NewCSDMA(llmClient, opts),
		ds,
		dma.NewActionSelectionDMA(llmClient, opts),
		cfg.LLM.Timeout(),
		ciriserrors.DefaultRetryConfig(),
		metrics,
		logging.NewComponentLogger("dma"),
	)

	guards := guardrails.New(cfg.Guardrails, faculty, metrics, logging.NewComponentLogger("guardrails"))
	snapshots := pipeline.NewSnapshotBuilder(store, memory, secrets, logging.NewComponentLogger("snapshot"))
	thoughts := pipeline.NewThoughtProcessor(store, executor, guards, snapshots, cfg, profile,
		metrics, logging.NewComponentLogger("pipeline"))
	thoughts.SetMemoryService(memory)

	dispatcher := handlers.NewDispatcher(store, reg, cfg, metrics, logging.NewComponentLogger("dispatcher"))
	engine := processor.NewEngine(store, thoughts, dispatcher, cfg.Workflow, metrics, logging.NewComponentLogger("engine"))

	wakeup := processor.NewWakeupProcessor(engine, store, nil, cfg.Channels.HomeChannelID,
		cfg.Workflow.MaxPonderRounds, metrics, logging.NewComponentLogger("wakeup"))
	work := processor.NewWorkProcessor(engine, store, "", metrics, logging.NewComponentLogger("work"))
	shutdown := processor.NewShutdownProcessor(engine, store, metrics, logging.NewComponentLogger("shutdown"))
	runtime := processor.NewRuntime(store, wakeup, work, shutdown, cfg.Workflow, logger)

	sched := scheduler.New(store, cfg.Scheduler, metrics, logging.NewComponentLogger("scheduler"))

	obs, err := observer.New(store, secrets, cfg.AgentMode, "cirisagent",
		logging.NewComponentLogger("observer"),
		observer.WithHistoryWindow(cfg.Observer.PassiveContextLimit),
		observer.WithWAUser(cfg.Channels.WAUserID),
		observer.WithMemory(memory))
	if err != nil {
		return err
	}

	loopCtx, cancelLoops := context.WithCancel(ctx)
	defer cancelLoops()

	async.Go(logger, "scheduler", func() {
		if err := sched.Run(loopCtx); err != nil && loopCtx.Err() == nil {
			logger.Error("Scheduler loop exited: %v", err)
		}
	})
	if cfg.AgentMode == "cli" {
		cli := observer.NewCLI(obs, os.Stdin, logging.NewComponentLogger("cli"))
		async.Go(logger, "cli-observer", func() {
			if err := cli.Run(loopCtx); err != nil && loopCtx.Err() == nil {
				logger.Error("CLI observer exited: %v", err)
			}
		})
	}

	runtimeErr := make(chan error, 1)
	async.Go(logger, "runtime", func() {
		runtimeErr <- runtime.Start(loopCtx)
	})

	signals := make(chan os.Signal, 2)
	signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(signals)

	for {
		select {
		case err := <-runtimeErr:
			sched.HandleShutdown(context.Background())
			return err
		case sig := <-signals:
			fmt.Println(color.YellowString("received %s, negotiating shutdown (send again to force)", sig))
			go forceOnSecondSignal(signals, runtime, logger)
			outcome, reason, err := runtime.RequestShutdown(loopCtx, model.ShutdownContext{
				Reason:        fmt.Sprintf("operator signal %s", sig),
				InitiatedBy:   "operator",
				AllowDeferral: false,
				IsTerminal:    true,
			})
			if err != nil {
				logger.Error("Shutdown negotiation error: %v", err)
				_ = runtime.Stop(0)
				sched.HandleShutdown(context.Background())
				return <-runtimeErr
			}
			switch outcome {
			case processor.ShutdownAccepted:
				logger.Info("Shutdown accepted, draining")
				_ = runtime.Stop(0)
				sched.HandleShutdown(context.Background())
				return <-runtimeErr
			case processor.ShutdownRejected:
				fmt.Println(color.YellowString("agent declined shutdown: %s", reason))
				// Terminal operator signals always win in the end.
				_ = runtime.Stop(0)
				sched.HandleShutdown(context.Background())
				return <-runtimeErr
			default:
				_ = runtime.Stop(0)
				sched.HandleShutdown(context.Background())
				return <-runtimeErr
			}
		}
	}
}

// forceOnSecondSignal hard-stops the loop when the operator signals twice.
func forceOnSecondSignal(signals <-chan os.Signal, runtime *processor.Runtime, logger logging.Logger) {
	if _, ok := <-signals; ok {
		logger.Warn("Second signal received, stopping hard")
		_ = runtime.Stop(time.Second)
	}
}

// openStore selects the persistence backend from config.
func openStore(cfg config.AppConfig) (persistence.Store, func(), error) {
	if cfg.Database.Path == "" {
		return persistence.NewMemStore(), func() {}, nil
	}
	store, err := persistence.NewSQLiteStore(cfg.Database.Path, logging.NewComponentLogger("store"))
	if err != nil {
		return nil, nil, fmt.Errorf("open store %s: %w", cfg.Database.Path, err)
	}
	return store, func() { _ = store.Close() }, nil
}

// buildLLM selects the model client and the guardrail faculty that matches
// it. The mock provider scores its own output heuristically instead of
// spending a second completion per thought.
func buildLLM(cfg config.AppConfig, metrics *telemetry.Collector) (ports.LLMClient, guardrails.EpistemicFaculty, error) {
	opts := ports.StructuredOptions{MaxTokens: cfg.LLM.MaxTokens, Temperature: cfg.LLM.Temperature}
	switch cfg.LLM.Provider {
	case "", "mock":
		return llm.NewMockClient(), guardrails.HeuristicFaculty{}, nil
	case "openai":
		client, err := llm.NewOpenAIClient(cfg.LLM, metrics, logging.NewComponentLogger("llm"))
		if err != nil {
			return nil, nil, err
		}
		return client, guardrails.NewLLMFaculty(client, opts), nil
	default:
		return nil, nil, fmt.Errorf("unknown llm provider %q", cfg.LLM.Provider)
	}
}
