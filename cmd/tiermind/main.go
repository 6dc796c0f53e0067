package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"text/tabwriter"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/tiermind/tiermind/pkg/backend"
	"github.com/tiermind/tiermind/pkg/budget"
	"github.com/tiermind/tiermind/pkg/config"
	"github.com/tiermind/tiermind/pkg/dispatch"
	"github.com/tiermind/tiermind/pkg/fallback"
	"github.com/tiermind/tiermind/pkg/metrics"
	"github.com/tiermind/tiermind/pkg/reasoning"
	"github.com/tiermind/tiermind/pkg/router"
	"github.com/tiermind/tiermind/pkg/store"
	"github.com/tiermind/tiermind/pkg/thinking"
	"github.com/tiermind/tiermind/pkg/tier"
)

var (
	configFile string
	tenantFlag string
	verbose    bool
)

func main() {
	// Local runs keep API keys in a .env file; absence is fine.
	_ = godotenv.Load()

	rootCmd := &cobra.Command{
		Use:   "tiermind",
		Short: "Tiered LLM routing with budget enforcement and verified reasoning",
		Long: `Tiermind routes work to light, standard or heavy model tiers based on
estimated complexity, enforces per-tenant token budgets, and runs an
observe/think/verify protocol with adversarial thinking tools on top.`,
	}

	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "path to config file")
	rootCmd.PersistentFlags().StringVar(&tenantFlag, "tenant", "default", "tenant id for budget accounting")
	rootCmd.PersistentFlags().BoolVar(&verbose, "verbose", false, "enable debug logging")

	rootCmd.AddCommand(askCmd())
	rootCmd.AddCommand(reasonCmd())
	rootCmd.AddCommand(estimateCmd())
	rootCmd.AddCommand(routeCmd())
	rootCmd.AddCommand(tiersCmd())
	rootCmd.AddCommand(budgetCmd())
	rootCmd.AddCommand(metricsCmd())
	rootCmd.AddCommand(validateCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// app is the wired system for one CLI invocation.
type app struct {
	cfg        *config.Config
	logger     *zap.Logger
	dispatcher *dispatch.Dispatcher
	budget     *budget.Manager
	metrics    *metrics.Collector
	engine     *reasoning.Engine
	store      *store.Store
}

func (a *app) close() {
	if a.store != nil {
		a.store.Close()
	}
	_ = a.logger.Sync()
}

func newApp() (*app, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	logCfg := zap.NewProductionConfig()
	if verbose {
		logCfg.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	}
	logger, err := logCfg.Build()
	if err != nil {
		return nil, err
	}

	catalog, err := cfg.Catalog()
	if err != nil {
		return nil, err
	}

	backends, err := createBackends()
	if err != nil {
		return nil, fmt.Errorf("failed to create backends: %w", err)
	}

	a := &app{cfg: cfg, logger: logger}

	metricsOpts := []metrics.Option{metrics.WithLogger(logger)}
	if cfg.Store.Path != "" {
		st, err := store.Open(cfg.Store.Path)
		if err != nil {
			return nil, err
		}
		a.store = st
		metricsOpts = append(metricsOpts, metrics.WithSink(st))
	}
	a.metrics = metrics.NewCollector(catalog, metricsOpts...)

	a.budget = budget.NewManager(cfg.BudgetFor, budget.WithLogger(logger))
	rtr := router.New(catalog, cfg.Overrides(),
		router.WithDefaultTier(cfg.DefaultTier()),
		router.WithLogger(logger))
	chain := fallback.NewChain(catalog, cfg.Retry, fallback.WithLogger(logger))
	a.dispatcher = dispatch.New(rtr, a.budget, chain, backends,
		dispatch.WithMetrics(a.metrics),
		dispatch.WithLogger(logger))

	tools, err := thinking.Build(a.dispatcher, cfg.Reasoning, logger)
	if err != nil {
		return nil, err
	}
	engineOpts := []reasoning.Option{
		reasoning.WithTools(tools...),
		reasoning.WithLogger(logger),
	}
	if a.store != nil {
		engineOpts = append(engineOpts, reasoning.WithSink(&traceSink{store: a.store}))
	}
	a.engine = reasoning.NewEngine(a.dispatcher, cfg.Reasoning, engineOpts...)

	return a, nil
}

// traceSink adapts the sqlite store to the engine's sink interface.
type traceSink struct {
	store *store.Store
}

func (s *traceSink) SaveTrace(trace *reasoning.Trace) error {
	return s.store.SaveTrace(store.TraceRecord{
		ID:             trace.ID,
		TenantID:       trace.TenantID,
		State:          string(trace.State),
		Confidence:     trace.Confidence,
		RequiresReview: trace.RequiresHumanReview,
		CreatedAt:      trace.CreatedAt,
		Payload:        store.MarshalTracePayload(trace),
	})
}

func askCmd() *cobra.Command {
	var taskType string
	var tierFlag string
	var contextLength int
	var capabilities []string

	cmd := &cobra.Command{
		Use:   "ask [prompt]",
		Short: "Route a prompt to the right tier and answer it",
		Long: `Estimates the prompt's complexity, selects a tier (task-type overrides
and --tier preference win over the estimate), checks the tenant budget,
and executes with upward fallback on failure.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.close()

			req := dispatch.Request{
				TenantID:      tenantFlag,
				TaskType:      taskType,
				Prompt:        args[0],
				ContextLength: contextLength,
				Capabilities:  capabilities,
			}
			if tierFlag != "" {
				preferred, err := tier.Parse(tierFlag)
				if err != nil {
					return err
				}
				req.Preference = &preferred
			}

			result, err := a.dispatcher.Dispatch(context.Background(), req)
			if err != nil {
				return err
			}

			fmt.Fprintf(os.Stderr, "Routed to %s (%s, score %.2f)\n",
				result.TierUsed, result.Rule, result.Score.Value)
			if result.FallbackUsed {
				fmt.Fprintln(os.Stderr, "Fallback escalated past the routed tier.")
			}
			fmt.Println(result.Response.Content)
			return nil
		},
	}

	cmd.Flags().StringVar(&taskType, "task", "chat", "task type for routing")
	cmd.Flags().StringVar(&tierFlag, "tier", "", "preferred tier (light, standard, heavy)")
	cmd.Flags().IntVar(&contextLength, "context", 0, "context length in tokens")
	cmd.Flags().StringSliceVar(&capabilities, "capability", nil, "agent capabilities")

	return cmd
}

func reasonCmd() *cobra.Command {
	var capabilities []string
	var jsonOut bool

	cmd := &cobra.Command{
		Use:   "reason [question]",
		Short: "Run the observe/think/verify protocol on a question",
		Long: `Runs the full reasoning protocol: observe the facts, reason in steps,
verify the conclusion, then apply the configured thinking tools. The
result is accepted or escalated for human review, never silently wrong.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.close()

			trace, err := a.engine.Run(context.Background(), reasoning.Request{
				TenantID:     tenantFlag,
				Question:     args[0],
				Capabilities: capabilities,
			})
			if err != nil {
				return err
			}

			if jsonOut {
				return printJSON(trace)
			}

			fmt.Printf("Outcome:    %s\n", trace.State)
			fmt.Printf("Confidence: %.2f\n", trace.Confidence)
			if trace.Explanation != "" {
				fmt.Printf("Reason:     %s\n", trace.Explanation)
			}
			for i, step := range trace.Steps {
				fmt.Printf("Step %d:     %s (%.2f)\n", i+1, step.Claim, step.Confidence)
			}
			for _, out := range trace.ToolOutputs {
				if !out.Invoked {
					continue
				}
				for _, f := range out.Findings {
					fmt.Printf("[%s/%s] %s\n", out.Tool, f.Severity, f.Description)
				}
			}
			return nil
		},
	}

	cmd.Flags().StringSliceVar(&capabilities, "capability", nil, "agent capabilities")
	cmd.Flags().BoolVar(&jsonOut, "json", false, "print the full trace as JSON")

	return cmd
}

func estimateCmd() *cobra.Command {
	var contextLength int
	var capabilities []string
	var historyLength int

	cmd := &cobra.Command{
		Use:   "estimate [prompt]",
		Short: "Show the complexity score a prompt would get",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.close()

			score := a.dispatcher.Estimate(dispatch.Request{
				Prompt:        args[0],
				ContextLength: contextLength,
				Capabilities:  capabilities,
				HistoryLength: historyLength,
			})

			fmt.Printf("Score: %.4f -> %s\n", score.Value, score.RecommendedTier)
			var names []string
			for name := range score.Factors {
				names = append(names, name)
			}
			sort.Strings(names)
			for _, name := range names {
				fmt.Printf("  %-12s %.4f\n", name, score.Factors[name])
			}
			return nil
		},
	}

	cmd.Flags().IntVar(&contextLength, "context", 0, "context length in tokens")
	cmd.Flags().StringSliceVar(&capabilities, "capability", nil, "agent capabilities")
	cmd.Flags().IntVar(&historyLength, "history", 0, "conversation turns so far")

	return cmd
}

func routeCmd() *cobra.Command {
	var taskType string

	cmd := &cobra.Command{
		Use:   "route [prompt]",
		Short: "Show where a prompt would be routed, without executing",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.close()

			cfg, rule, err := a.dispatcher.Route(dispatch.Request{
				TaskType: taskType,
				Prompt:   args[0],
			})
			if err != nil {
				return err
			}

			fmt.Printf("Tier:    %s (%s)\n", cfg.Tier, rule)
			fmt.Printf("Backend: %s\n", cfg.Backend)
			fmt.Printf("Model:   %s\n", cfg.Model)
			return nil
		},
	}

	cmd.Flags().StringVar(&taskType, "task", "chat", "task type for routing")

	return cmd
}

func tiersCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "tiers",
		Short: "Show the tier catalog and task overrides",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			catalog, err := cfg.Catalog()
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "TIER\tBACKEND\tMODEL\tCOST WEIGHT\tMAX CONTEXT")
			for _, t := range tier.All() {
				tc, err := catalog.Get(t)
				if err != nil {
					return err
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%.1f\t%d\n",
					tc.Tier, tc.Backend, tc.Model, tc.CostWeight, tc.MaxContextTokens)
			}

			fmt.Fprintln(w)
			fmt.Fprintln(w, "TASK TYPE\tPINNED TIER")
			overrides := cfg.Overrides()
			var taskTypes []string
			for name := range overrides {
				taskTypes = append(taskTypes, name)
			}
			sort.Strings(taskTypes)
			for _, name := range taskTypes {
				fmt.Fprintf(w, "%s\t%s\n", name, overrides[name])
			}
			fmt.Fprintf(w, "(default)\t%s\n", cfg.DefaultTier())

			return w.Flush()
		},
	}
}

func budgetCmd() *cobra.Command {
	var days int

	cmd := &cobra.Command{
		Use:   "budget",
		Short: "Show the tenant's budget status and tier savings",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.close()

			status := a.budget.Snapshot(tenantFlag)
			fmt.Printf("Tenant:  %s\n", status.TenantID)
			fmt.Printf("Daily:   %s\n", formatWindow(status.DailyUsed, status.DailyLimit))
			fmt.Printf("Monthly: %s\n", formatWindow(status.MonthlyUsed, status.MonthlyLimit))

			if a.store != nil {
				reporter, err := a.replayMetrics(days)
				if err != nil {
					return err
				}
				report := reporter.SavingsEstimate(tenantFlag, 0)
				if report.Decisions > 0 {
					fmt.Printf("\nLast %d days: %d decisions, %d tokens, %.0f%% saved vs all-heavy\n",
						days, report.Decisions, report.TotalTokens, report.SavingsFraction*100)
				}
			}
			return nil
		},
	}

	cmd.Flags().IntVar(&days, "days", 30, "savings window in days")

	return cmd
}

func metricsCmd() *cobra.Command {
	var days int

	cmd := &cobra.Command{
		Use:   "metrics",
		Short: "Show the tenant's tier distribution and cost savings",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.close()

			if a.store == nil {
				return fmt.Errorf("metrics needs persisted decisions; set store.path in the config")
			}

			reporter, err := a.replayMetrics(days)
			if err != nil {
				return err
			}
			distribution := reporter.TierDistribution(tenantFlag, 0)
			report := reporter.SavingsEstimate(tenantFlag, 0)

			fmt.Printf("Tenant: %s, last %d days, %d decisions\n\n", tenantFlag, days, report.Decisions)
			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "TIER\tSHARE")
			for _, t := range tier.All() {
				fmt.Fprintf(w, "%s\t%.1f%%\n", t, distribution[t]*100)
			}
			if err := w.Flush(); err != nil {
				return err
			}

			fmt.Printf("\nTokens:             %d\n", report.TotalTokens)
			fmt.Printf("Saved vs all-heavy: %.0f%%\n", report.SavingsFraction*100)
			return nil
		},
	}

	cmd.Flags().IntVar(&days, "days", 30, "reporting window in days")

	return cmd
}

// replayMetrics loads the tenant's persisted decisions into a fresh
// report-only collector. Replaying into the live collector would write
// every decision back through its store sink.
func (a *app) replayMetrics(days int) (*metrics.Collector, error) {
	catalog, err := a.cfg.Catalog()
	if err != nil {
		return nil, err
	}
	decisions, err := a.store.Decisions(tenantFlag, time.Now().AddDate(0, 0, -days))
	if err != nil {
		return nil, err
	}
	reporter := metrics.NewCollector(catalog)
	for _, d := range decisions {
		reporter.RecordDecision(d)
	}
	return reporter, nil
}

func validateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Validate the configuration without executing anything",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			fmt.Println("Configuration is valid.")
			return nil
		},
	}
}

func loadConfig() (*config.Config, error) {
	if configFile != "" {
		return config.Load(configFile)
	}
	return config.Default(), nil
}

// createBackends wires every backend with a key in the environment. The
// mock backend is always available for local runs.
func createBackends() (map[string]backend.Backend, error) {
	backends := make(map[string]backend.Backend)

	if key := os.Getenv("ANTHROPIC_API_KEY"); key != "" {
		b, err := backend.NewAnthropicBackend(key)
		if err != nil {
			return nil, fmt.Errorf("anthropic: %w", err)
		}
		backends["anthropic"] = b
	}
	if key := os.Getenv("OPENAI_API_KEY"); key != "" {
		b, err := backend.NewOpenAIBackend(key)
		if err != nil {
			return nil, fmt.Errorf("openai: %w", err)
		}
		backends["openai"] = b
	}
	if key := os.Getenv("GOOGLE_API_KEY"); key != "" {
		b, err := backend.NewGoogleBackend(key)
		if err != nil {
			return nil, fmt.Errorf("google: %w", err)
		}
		backends["google"] = b
	}
	if base := os.Getenv("COMPAT_BASE_URL"); base != "" {
		b, err := backend.NewCompatBackend("compat", base, os.Getenv("COMPAT_API_KEY"), nil)
		if err != nil {
			return nil, fmt.Errorf("compat: %w", err)
		}
		backends["compat"] = b
	}

	backends["mock"] = backend.NewMockBackend()

	return backends, nil
}

func formatWindow(used, limit int64) string {
	if limit <= 0 {
		return fmt.Sprintf("%d tokens used (unlimited)", used)
	}
	return fmt.Sprintf("%d / %d tokens (%d remaining)", used, limit, limit-used)
}

func printJSON(v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(data))
	return nil
}
