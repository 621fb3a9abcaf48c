package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"svcforge/internal/config"
	"svcforge/internal/deps"
	"svcforge/internal/grader"
	"svcforge/internal/logging"
	"svcforge/internal/oracle"
	"svcforge/internal/pipeline"
	"svcforge/internal/sandbox"
	"svcforge/internal/service"
	"svcforge/internal/store"
)

var (
	// Global flags
	verbose    bool
	apiKey     string
	configPath string

	cfg    *config.Config
	logger *zap.Logger
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "forge",
	Short: "svcforge - self-healing service generation pipeline",
	Long: `svcforge turns a natural-language description into a working service.

An LLM oracle drafts the service, a sandboxed interpreter activates and runs
its test cases, and failures feed a bounded repair loop until the candidate
is published or abandoned. Every record keeps its full lifecycle history.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		zcfg := zap.NewProductionConfig()
		if verbose {
			zcfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
		}
		var err error
		logger, err = zcfg.Build()
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}

		cfg, err = config.Load(configPath)
		if err != nil {
			return err
		}
		if apiKey != "" {
			cfg.Oracle.APIKey = apiKey
		}

		return logging.Initialize(logging.Options{
			Enabled:    cfg.Logging.Enabled,
			Dir:        cfg.Logging.Dir,
			Level:      cfg.Logging.Level,
			Categories: cfg.Logging.Categories,
		})
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		logging.Close()
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

// createCmd generates a new service from a description and drives it to a
// terminal verdict.
var createCmd = &cobra.Command{
	Use:   "create [description]",
	Short: "Generate, test, and repair a service until it publishes",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runCreate,
}

var serviceName string

// testCmd re-runs the full verification loop for a stored service.
var testCmd = &cobra.Command{
	Use:   "test [service-id]",
	Short: "Re-run a stored service's test suite through the pipeline",
	Args:  cobra.ExactArgs(1),
	RunE:  runTest,
}

// listCmd prints all stored services.
var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored services with status and attempt counts",
	RunE:  runList,
}

// showCmd prints one service with its full history.
var showCmd = &cobra.Command{
	Use:   "show [service-id]",
	Short: "Show a stored service, its code, and its lifecycle history",
	Args:  cobra.ExactArgs(1),
	RunE:  runShow,
}

func main() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
	rootCmd.PersistentFlags().StringVar(&apiKey, "api-key", "", "oracle API key (overrides config and FORGE_API_KEY)")
	rootCmd.PersistentFlags().StringVar(&configPath, "config", ".forge/config.yaml", "config file path")
	createCmd.Flags().StringVar(&serviceName, "name", "", "service name (derived from description if empty)")

	rootCmd.AddCommand(createCmd, testCmd, listCmd, showCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// signalContext returns a context cancelled by SIGINT/SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

// buildController assembles the pipeline from config.
func buildController(st store.Store) (*pipeline.Controller, error) {
	orc, err := oracle.NewFromConfig(cfg.Oracle)
	if err != nil {
		return nil, err
	}
	catalog := sandbox.NewCatalog()
	executor := sandbox.NewExecutor(catalog, cfg.ExecutionTimeout())
	installer := &deps.CatalogInstaller{Catalog: catalog}
	g := grader.New(grader.Mode(cfg.Pipeline.LeniencyMode))
	return pipeline.New(orc, executor, g, installer, st, cfg.Pipeline), nil
}

func runCreate(cmd *cobra.Command, args []string) error {
	ctx, cancel := signalContext()
	defer cancel()

	st, err := store.Open(cfg.Store.Path)
	if err != nil {
		return err
	}
	defer st.Close()

	ctrl, err := buildController(st)
	if err != nil {
		return err
	}

	description := args[0]
	name := serviceName
	if name == "" {
		name = deriveName(description)
	}

	logger.Info("creating service", zap.String("name", name))
	result, err := ctrl.Run(ctx, name, description)
	if err != nil {
		return err
	}
	printResult(result)
	return nil
}

func runTest(cmd *cobra.Command, args []string) error {
	ctx, cancel := signalContext()
	defer cancel()

	st, err := store.Open(cfg.Store.Path)
	if err != nil {
		return err
	}
	defer st.Close()

	rec, err := st.Get(ctx, args[0])
	if err != nil {
		return err
	}

	ctrl, err := buildController(st)
	if err != nil {
		return err
	}
	result, err := ctrl.Retest(ctx, rec)
	if err != nil {
		return err
	}
	printResult(result)
	return nil
}

func runList(cmd *cobra.Command, args []string) error {
	ctx, cancel := signalContext()
	defer cancel()

	st, err := store.Open(cfg.Store.Path)
	if err != nil {
		return err
	}
	defer st.Close()

	records, err := st.List(ctx)
	if err != nil {
		return err
	}
	if len(records) == 0 {
		fmt.Println("No services stored.")
		return nil
	}
	for _, rec := range records {
		fmt.Printf("%s  %-24s %-10s attempts=%d  %s\n",
			rec.Spec.ID, rec.Spec.Name, rec.Status, rec.Attempts,
			rec.UpdatedAt.Format("2006-01-02 15:04"))
	}
	return nil
}

func runShow(cmd *cobra.Command, args []string) error {
	ctx, cancel := signalContext()
	defer cancel()

	st, err := store.Open(cfg.Store.Path)
	if err != nil {
		return err
	}
	defer st.Close()

	rec, err := st.Get(ctx, args[0])
	if err != nil {
		return err
	}

	fmt.Printf("Service: %s (%s)\n", rec.Spec.Name, rec.Spec.ID)
	if rec.Spec.Route != "" {
		fmt.Printf("Endpoint: %s %s\n", rec.Spec.HTTPMethod, rec.Spec.Route)
	}
	fmt.Printf("Status:  %s (attempts: %d)\n", rec.Status, rec.Attempts)
	fmt.Printf("Description: %s\n", rec.Spec.Description)
	if len(rec.Spec.Dependencies) > 0 {
		fmt.Printf("Dependencies: %v\n", rec.Spec.Dependencies)
	}
	fmt.Printf("\nCode:\n%s\n", rec.Spec.Code)
	fmt.Println("\nHistory:")
	for _, ev := range rec.History {
		note := ev.Note
		if note != "" {
			note = "  " + note
		}
		fmt.Printf("  %s  %s -> %s (attempt %d)%s\n",
			ev.Time.Format("2006-01-02 15:04:05"), ev.From, ev.To, ev.Attempt, note)
	}
	return nil
}

func printResult(result *pipeline.Result) {
	rec := result.Record
	if result.Published {
		fmt.Printf("Published %s (%s) after %d repair cycles.\n",
			rec.Spec.Name, rec.Spec.ID, result.RepairCycles)
		if rec.Spec.Route != "" {
			fmt.Printf("Endpoint: %s %s\n", rec.Spec.HTTPMethod, rec.Spec.Route)
		}
		return
	}
	fmt.Printf("Abandoned %s (%s) after %d attempts.\n",
		rec.Spec.Name, rec.Spec.ID, rec.Attempts)
	if result.FinalClass != nil {
		fmt.Printf("Final defect: %s - %s\n", result.FinalClass.Class, result.FinalClass.Detail)
	}
}

// deriveName builds a short identifier from the first words of a description.
func deriveName(description string) string {
	name := service.SlugFromDescription(description)
	if name == "" {
		name = "service"
	}
	return name
}
