package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"gocausal/adapters/api"
	"gocausal/adapters/excel"
	"gocausal/adapters/rng"
	"gocausal/internal"
	"gocausal/internal/config"
	"gocausal/internal/container"
	"gocausal/internal/forest"
	"gocausal/internal/testkit"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configPath string

	rootCmd := &cobra.Command{
		Use:           "causalforest",
		Short:         "Honest causal forests for heterogeneous treatment effects",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			// .env is optional
			_ = godotenv.Load()
		},
	}
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "YAML config file overriding environment settings")

	loadConfig := func() (*config.Config, error) {
		var cfg *config.Config
		var err error
		if configPath != "" {
			cfg, err = config.LoadFile(configPath)
		} else {
			cfg, err = config.Load()
		}
		if err != nil {
			return nil, err
		}
		internal.DefaultLogger = internal.NewLogger(internal.ParseLogLevel(cfg.LogLevel))
		return cfg, nil
	}

	rootCmd.AddCommand(
		newSimulateCmd(),
		newFitCmd(loadConfig),
		newPredictCmd(),
		newServeCmd(loadConfig),
	)
	return rootCmd
}

func newSimulateCmd() *cobra.Command {
	gc := testkit.DefaultCausalGeneratorConfig()
	var scenario string
	var out string

	cmd := &cobra.Command{
		Use:   "simulate",
		Short: "Write a synthetic dataset with a known treatment effect",
		Long: `Generate a randomized experiment with covariates x0..xK-1, a binary
treatment column and an outcome, and write it as CSV or xlsx.

Example: causalforest simulate --rows 2000 --scenario step --out trial.csv`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := testkit.ParseScenario(scenario)
			if err != nil {
				return err
			}
			gc.Scenario = s
			data, err := testkit.NewCausalDataGenerator(gc).Generate()
			if err != nil {
				return err
			}

			headers := make([]string, 0, gc.Features+2)
			for j := 0; j < gc.Features; j++ {
				headers = append(headers, fmt.Sprintf("x%d", j))
			}
			headers = append(headers, "treatment", "outcome")
			rows := make([][]float64, len(data.X))
			for i := range data.X {
				rows[i] = append(append([]float64(nil), data.X[i]...), data.T[i], data.Y[i])
			}
			if err := excel.WriteTable(out, headers, rows); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %d rows (%s effect) to %s\n", len(rows), s, out)
			return nil
		},
	}

	cmd.Flags().IntVar(&gc.Rows, "rows", gc.Rows, "Number of observations")
	cmd.Flags().IntVar(&gc.Features, "features", gc.Features, "Number of covariates")
	cmd.Flags().Float64Var(&gc.Propensity, "propensity", gc.Propensity, "Treatment probability")
	cmd.Flags().Float64Var(&gc.Effect, "effect", gc.Effect, "Effect magnitude")
	cmd.Flags().Float64Var(&gc.Noise, "noise", gc.Noise, "Outcome noise standard deviation")
	cmd.Flags().Uint64Var(&gc.Seed, "seed", gc.Seed, "Random seed")
	cmd.Flags().StringVar(&scenario, "scenario", string(gc.Scenario), "Effect scenario: pure, constant, step or linear")
	cmd.Flags().StringVar(&out, "out", "simulated.csv", "Output file (.csv or .xlsx)")
	return cmd
}

func newFitCmd(loadConfig func() (*config.Config, error)) *cobra.Command {
	cols := excel.DefaultColumnConfig()
	var out string
	var trees, minLeaf int
	var seed int64

	cmd := &cobra.Command{
		Use:   "fit [data-file]",
		Short: "Fit a causal forest on a CSV or xlsx file",
		Long: `Fit a causal forest and print the build report, variable importance and
the average treatment effect. With --out the fitted forest is written as a
JSON snapshot for later prediction.

Example: causalforest fit trial.csv --trees 200 --out forest.json`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			fc := cfg.Forest
			if cmd.Flags().Changed("trees") {
				fc.NumTrees = trees
			}
			if cmd.Flags().Changed("min-leaf") {
				fc.MinLeaf = minLeaf
			}
			if cmd.Flags().Changed("seed") {
				fc.Seed = seed
			}

			table, err := excel.NewDataReader(args[0]).LoadCausalTable(cols)
			if err != nil {
				return err
			}
			f, err := forest.New(fc, forest.WithRNG(rng.NewSeededAdapter()))
			if err != nil {
				return err
			}
			if err := f.Fit(cmd.Context(), table.X, table.T, table.Y); err != nil {
				return err
			}

			if err := printFitSummary(cmd.OutOrStdout(), f, table.FeatureNames); err != nil {
				return err
			}
			if out == "" {
				return nil
			}
			file, err := os.Create(out)
			if err != nil {
				return fmt.Errorf("failed to create snapshot file: %w", err)
			}
			defer file.Close()
			if err := f.WriteJSON(file); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "snapshot written to %s\n", out)
			return nil
		},
	}

	cmd.Flags().StringVar(&cols.Treatment, "treatment", cols.Treatment, "Treatment column (0/1)")
	cmd.Flags().StringVar(&cols.Outcome, "outcome", cols.Outcome, "Outcome column")
	cmd.Flags().StringSliceVar(&cols.Features, "features", nil, "Feature columns (default: all other columns)")
	cmd.Flags().StringSliceVar(&cols.Ignore, "ignore", nil, "Columns to leave out of the features")
	cmd.Flags().StringVar(&cols.Sheet, "sheet", "", "Sheet name for xlsx files (default: first sheet)")
	cmd.Flags().StringVar(&out, "out", "", "Write the fitted forest snapshot to this file")
	cmd.Flags().IntVar(&trees, "trees", 0, "Override the number of trees")
	cmd.Flags().IntVar(&minLeaf, "min-leaf", 0, "Override the per-arm minimum leaf size")
	cmd.Flags().Int64Var(&seed, "seed", 0, "Override the random seed")
	return cmd
}

func printFitSummary(w io.Writer, f *forest.CausalForest, names []string) error {
	report := f.Report()
	fmt.Fprintf(w, "trees: %d grown, %d retried, %d dropped of %d in %v\n",
		report.Grown, report.Retried, report.Dropped, report.Requested, report.Duration.Round(time.Millisecond))

	ate, err := f.AverageTreatmentEffect()
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "average treatment effect: %.4f\n", ate)

	fmt.Fprintln(w, "variable importance:")
	for j, imp := range f.VariableImportance() {
		fmt.Fprintf(w, "  %-20s %.4f\n", names[j], imp)
	}
	return nil
}

func newPredictCmd() *cobra.Command {
	var features []string
	var sheet, out string
	var variance bool

	cmd := &cobra.Command{
		Use:   "predict [snapshot-file] [query-file]",
		Short: "Predict treatment effects for the rows of a query file",
		Long: `Load a forest snapshot written by fit --out and estimate the treatment
effect of every row in the query file. Results are printed as CSV unless
--out is given.

Example: causalforest predict forest.json patients.csv --variance`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			file, err := os.Open(args[0])
			if err != nil {
				return fmt.Errorf("failed to open snapshot: %w", err)
			}
			defer file.Close()
			f, err := forest.ReadJSON(file)
			if err != nil {
				return err
			}

			_, x, err := excel.NewDataReader(args[1]).LoadMatrix(features, sheet)
			if err != nil {
				return err
			}

			headers := []string{"tau"}
			var rows [][]float64
			if variance {
				headers = append(headers, "variance")
				estimates, err := f.PredictWithVariance(x)
				if err != nil {
					return err
				}
				for _, e := range estimates {
					rows = append(rows, []float64{e.Tau, e.Variance})
				}
			} else {
				taus, err := f.Predict(x)
				if err != nil {
					return err
				}
				for _, tau := range taus {
					rows = append(rows, []float64{tau})
				}
			}

			if out != "" {
				return excel.WriteTable(out, headers, rows)
			}
			w := cmd.OutOrStdout()
			fmt.Fprintln(w, strings.Join(headers, ","))
			for _, row := range rows {
				cells := make([]string, len(row))
				for j, v := range row {
					cells[j] = fmt.Sprintf("%g", v)
				}
				fmt.Fprintln(w, strings.Join(cells, ","))
			}
			return nil
		},
	}

	cmd.Flags().StringSliceVar(&features, "features", nil, "Query columns in training feature order (default: all columns)")
	cmd.Flags().StringVar(&sheet, "sheet", "", "Sheet name for xlsx files")
	cmd.Flags().StringVar(&out, "out", "", "Write predictions to a .csv or .xlsx file")
	cmd.Flags().BoolVar(&variance, "variance", false, "Include infinitesimal jackknife variances")
	return cmd
}

func newServeCmd(loadConfig func() (*config.Config, error)) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the forest HTTP API",
		Long: `Start the HTTP API on PORT. Fitted forests are stored in PostgreSQL when
DATABASE_URL is set and in memory otherwise.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			c, err := container.New(ctx, cfg)
			if err != nil {
				return err
			}
			defer c.Close()

			return serve(ctx, newHTTPServer(cfg, c))
		},
	}
}

func newHTTPServer(cfg *config.Config, c *container.Container) *http.Server {
	return &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           api.NewServer(c.EffectService, c.Registry).Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
}

// serve runs srv until it fails or ctx is done, then shuts it down.
func serve(ctx context.Context, srv *http.Server) error {
	logger := internal.DefaultLogger.WithComponent("serve")

	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening on %s", srv.Addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
