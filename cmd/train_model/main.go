package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"

	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"rebarquality/config"
	"rebarquality/db"
	"rebarquality/logging"
	"rebarquality/quality"
	"rebarquality/training"
)

var (
	configPath string
	dataDir    string
	modelDir   string
	sheet      string
	diameters  []int
	noRunLog   bool
)

var rootCmd = &cobra.Command{
	Use:   "train_model",
	Short: "Train rebar quality models from process data",
	Long: `Train one random forest per (target, diameter) pair from the
per-diameter data files in the data directory and write the models to the
model directory. A missing file or target column skips that pair.`,
	SilenceUsage: true,
	RunE:         runOnce,
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Train every configured pair once",
	RunE:  runOnce,
}

var scheduleCmd = &cobra.Command{
	Use:   "schedule",
	Short: "Retrain on a cron schedule until interrupted",
	RunE:  runSchedule,
}

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "Show recent training runs",
	RunE:  showRuns,
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringVarP(&configPath, "config", "c", "config.yaml", "path to the YAML config")
	flags.StringVar(&dataDir, "data-dir", "", "directory holding <diameter>.xlsx/.csv files")
	flags.StringVar(&modelDir, "model-dir", "", "directory receiving trained models")
	flags.StringVar(&sheet, "sheet", "", "worksheet to read from xlsx files")
	flags.IntSliceVar(&diameters, "diameter", nil, "diameters to train (default: all)")
	flags.BoolVar(&noRunLog, "no-run-log", false, "do not record runs in the database")

	scheduleCmd.Flags().String("cron", "", "cron expression (default: training.schedule from config)")
	runsCmd.Flags().Uint64("limit", 20, "maximum rows to show")
	runsCmd.Flags().String("status", "", "only show runs with this status")

	rootCmd.AddCommand(runCmd, scheduleCmd, runsCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// env is what every subcommand needs.
type env struct {
	cfg    *config.Config
	logger *zap.Logger
	runs   *db.RunLog
}

func setup(needRuns bool) (*env, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if dataDir != "" {
		cfg.Training.DataDir = dataDir
	}
	if modelDir != "" {
		cfg.Models.Dir = modelDir
	}
	if sheet != "" {
		cfg.Training.Sheet = sheet
	}
	if len(diameters) > 0 {
		cfg.Training.Diameters = cfg.Training.Diameters[:0]
		for _, d := range diameters {
			cfg.Training.Diameters = append(cfg.Training.Diameters, quality.Diameter(d))
		}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logger, err := logging.New(logging.Options{
		Level:    cfg.Log.Level,
		Encoding: cfg.Log.Encoding,
		File:     cfg.Log.File,
		MaxSize:  cfg.Log.MaxSize,
		MaxAge:   cfg.Log.MaxAge,
	})
	if err != nil {
		return nil, err
	}

	e := &env{cfg: cfg, logger: logger}
	if needRuns && cfg.Database.Path != "" {
		runs, err := db.Open(cfg.Database.Path)
		if err != nil {
			logger.Warn("training run log unavailable", zap.String("path", cfg.Database.Path), zap.Error(err))
		} else {
			e.runs = runs
		}
	}
	return e, nil
}

func (e *env) close() {
	if e.runs != nil {
		e.runs.Close()
	}
	_ = e.logger.Sync()
}

func (e *env) trainer() *training.Trainer {
	cfg := training.Config{
		DataDir:   e.cfg.Training.DataDir,
		ModelDir:  e.cfg.Models.Dir,
		Sheet:     e.cfg.Training.Sheet,
		Diameters: e.cfg.Training.Diameters,
		ML:        e.cfg.Training.ML,
	}
	if e.runs == nil {
		return training.NewTrainer(cfg, e.logger, nil)
	}
	return training.NewTrainer(cfg, e.logger, e.runs)
}

func runOnce(cmd *cobra.Command, args []string) error {
	e, err := setup(!noRunLog)
	if err != nil {
		return err
	}
	defer e.close()

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	report, err := e.trainer().Run(ctx)
	if report != nil {
		printReport(cmd, report)
	}
	return err
}

func printReport(cmd *cobra.Command, report *training.Report) {
	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "MODEL\tSTATUS\tR2\tMAE\tRMSE\tTRAIN\tTEST\tREASON")
	for _, r := range report.Results {
		fmt.Fprintf(w, "%s\t%s\t%.4f\t%.4f\t%.4f\t%d\t%d\t%s\n",
			r.Model, r.Status, r.Metrics.R2, r.Metrics.MAE, r.Metrics.RMSE, r.Train, r.Test, r.Reason)
	}
	w.Flush()
	fmt.Fprintf(cmd.OutOrStdout(), "run %s: %d trained, %d skipped, %d failed\n", report.RunID,
		report.Count(db.StatusTrained), report.Count(db.StatusSkipped), report.Count(db.StatusFailed))
}

func runSchedule(cmd *cobra.Command, args []string) error {
	e, err := setup(!noRunLog)
	if err != nil {
		return err
	}
	defer e.close()

	expr, _ := cmd.Flags().GetString("cron")
	if expr == "" {
		expr = e.cfg.Training.Schedule
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	trainer := e.trainer()
	logger := cronLogger{e.logger.Sugar()}
	c := cron.New(cron.WithLogger(logger), cron.WithChain(cron.SkipIfStillRunning(logger)))
	id, err := c.AddFunc(expr, func() {
		if _, err := trainer.Run(ctx); err != nil {
			e.logger.Error("scheduled training run failed", zap.Error(err))
		}
	})
	if err != nil {
		return fmt.Errorf("invalid schedule %q: %w", expr, err)
	}

	c.Start()
	e.logger.Info("training scheduler started",
		zap.String("schedule", expr),
		zap.Time("next", c.Entry(id).Next))
	<-ctx.Done()
	<-c.Stop().Done()
	e.logger.Info("training scheduler stopped")
	return nil
}

func showRuns(cmd *cobra.Command, args []string) error {
	e, err := setup(true)
	if err != nil {
		return err
	}
	defer e.close()
	if e.runs == nil {
		return fmt.Errorf("training run log unavailable")
	}

	limit, _ := cmd.Flags().GetUint64("limit")
	status, _ := cmd.Flags().GetString("status")
	runs, err := e.runs.Recent(cmd.Context(), db.Filter{Status: status, Limit: limit})
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "TIME\tRUN\tMODEL\tSTATUS\tR2\tTRAIN\tTEST\tREASON")
	for _, r := range runs {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%.4f\t%d\t%d\t%s\n",
			r.TrainedAt.Format("2006-01-02 15:04"), shortID(r.RunID), r.ModelName, r.Status, r.R2, r.TrainRows, r.TestRows, r.Reason)
	}
	return w.Flush()
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

// cronLogger adapts zap to cron.Logger.
type cronLogger struct {
	s *zap.SugaredLogger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.s.Debugw(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.s.Errorw(msg, append(keysAndValues, "error", err)...)
}
