package training

import (
	"context"
	"errors"
	"fmt"
	"math"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"rebarquality/db"
	"rebarquality/ml"
	"rebarquality/pipeline"
	"rebarquality/quality"
)

var ErrMissingTarget = errors.New("target column missing")

type Config struct {
	DataDir   string
	ModelDir  string
	Sheet     string
	Diameters []quality.Diameter
	Targets   []quality.Target
	ML        ml.TrainConfig
}

// RunRecorder persists the outcome of each attempted pair.
type RunRecorder interface {
	Record(ctx context.Context, runs ...db.TrainingRun) error
}

// Result is the outcome of one (target, diameter) pair.
type Result struct {
	Target   quality.Target   `json:"target"`
	Diameter quality.Diameter `json:"diameter"`
	Model    string           `json:"model"`
	Status   string           `json:"status"`
	Reason   string           `json:"reason,omitempty"`
	Path     string           `json:"path,omitempty"`
	Metrics  ml.Metrics       `json:"metrics"`
	Train    int              `json:"train_rows"`
	Test     int              `json:"test_rows"`
	Dropped  int              `json:"dropped_rows"`
	err      error
}

// Report collects every pair result of a run.
type Report struct {
	RunID    string    `json:"run_id"`
	Started  time.Time `json:"started"`
	Finished time.Time `json:"finished"`
	Results  []Result  `json:"results"`
}

// Err aggregates the errors of failed pairs. Skipped pairs are not errors.
func (r *Report) Err() error {
	var err error
	for _, res := range r.Results {
		if res.Status == db.StatusFailed {
			err = multierr.Append(err, fmt.Errorf("%s: %w", res.Model, res.err))
		}
	}
	return err
}

// Count returns the number of results with the given status.
func (r *Report) Count(status string) int {
	n := 0
	for _, res := range r.Results {
		if res.Status == status {
			n++
		}
	}
	return n
}

type Trainer struct {
	cfg    Config
	logger *zap.Logger
	runs   RunRecorder
	now    func() time.Time
}

// NewTrainer returns a trainer; runs may be nil when no run log is kept.
func NewTrainer(cfg Config, logger *zap.Logger, runs RunRecorder) *Trainer {
	if logger == nil {
		logger = zap.NewNop()
	}
	if len(cfg.Diameters) == 0 {
		cfg.Diameters = quality.Diameters()
	}
	if len(cfg.Targets) == 0 {
		cfg.Targets = quality.Targets()
	}
	if cfg.ML.TestRatio <= 0 {
		cfg.ML = ml.DefaultTrainConfig()
	}
	return &Trainer{cfg: cfg, logger: logger, runs: runs, now: time.Now}
}

// Run trains every configured pair sequentially. A failing pair never stops
// the others; the returned error aggregates failed pairs.
func (t *Trainer) Run(ctx context.Context) (*Report, error) {
	report := &Report{RunID: uuid.NewString(), Started: t.now()}
	log := t.logger.With(zap.String("run_id", report.RunID))
	log.Info("training run started",
		zap.String("data_dir", t.cfg.DataDir),
		zap.String("model_dir", t.cfg.ModelDir))

	for _, d := range t.cfg.Diameters {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		report.Results = append(report.Results, t.trainDiameter(ctx, log, d)...)
	}
	report.Finished = t.now()

	if t.runs != nil {
		if err := t.runs.Record(ctx, report.runLog()...); err != nil {
			log.Warn("failed to record training runs", zap.Error(err))
		}
	}

	err := report.Err()
	log.Info("training run finished",
		zap.Int("trained", report.Count(db.StatusTrained)),
		zap.Int("skipped", report.Count(db.StatusSkipped)),
		zap.Int("failed", report.Count(db.StatusFailed)),
		zap.Duration("elapsed", report.Finished.Sub(report.Started)))
	return report, err
}

func (t *Trainer) trainDiameter(ctx context.Context, log *zap.Logger, d quality.Diameter) []Result {
	log = log.With(zap.Int("diameter", int(d)))
	results := make([]Result, 0, len(t.cfg.Targets))
	skipAll := func(status string, err error) []Result {
		for _, target := range t.cfg.Targets {
			results = append(results, newResult(target, d, status, err))
		}
		return results
	}

	path, err := pipeline.SourcePath(t.cfg.DataDir, d)
	if err != nil {
		log.Warn("source table missing, diameter skipped", zap.Error(err))
		return skipAll(db.StatusSkipped, err)
	}
	table, err := pipeline.LoadTable(path, pipeline.LoadOptions{Sheet: t.cfg.Sheet})
	if err != nil {
		log.Error("failed to load source table", zap.String("path", path), zap.Error(err))
		return skipAll(db.StatusFailed, err)
	}
	log.Info("source table loaded", zap.String("path", path), zap.Int("rows", table.Len()))

	for _, target := range t.cfg.Targets {
		res := t.trainPair(ctx, log, table, d, target)
		if res.Status == db.StatusTrained {
			res.Dropped = table.Len() - res.Train - res.Test
		}
		fields := []zap.Field{zap.String("model", res.Model), zap.String("status", res.Status)}
		switch res.Status {
		case db.StatusTrained:
			log.Info("model trained", append(fields,
				zap.Float64("r2", res.Metrics.R2),
				zap.Float64("mae", res.Metrics.MAE),
				zap.Float64("rmse", res.Metrics.RMSE),
				zap.Int("train_rows", res.Train),
				zap.Int("test_rows", res.Test),
				zap.Int("dropped_rows", res.Dropped))...)
		case db.StatusSkipped:
			log.Warn("model skipped", append(fields, zap.String("reason", res.Reason))...)
		default:
			log.Error("model failed", append(fields, zap.String("reason", res.Reason))...)
		}
		results = append(results, res)
	}
	return results
}

// maxLoggedIssues bounds the per-row issues written to the log for one pair.
const maxLoggedIssues = 5

// newCleaner requires the target and rejects rows whose inputs fall outside
// the ranges the prediction form accepts.
func newCleaner(table *pipeline.Table, column string) *pipeline.DataCleaner {
	cleaner := pipeline.NewDataCleaner(pipeline.NewRequiredValueRule(column))
	for _, f := range quality.Fields() {
		if !table.Has(f.Name) {
			continue
		}
		hi := math.Inf(1)
		if f.Max != nil {
			hi = *f.Max
		}
		cleaner.AddRule(&pipeline.RangeRule{Column: f.Name, Min: f.Min, Max: hi})
	}
	return cleaner
}

func (t *Trainer) trainPair(ctx context.Context, log *zap.Logger, table *pipeline.Table, d quality.Diameter, target quality.Target) Result {
	column := string(target)
	if !table.Has(column) {
		return newResult(target, d, db.StatusSkipped, fmt.Errorf("%w: %s", ErrMissingTarget, column))
	}

	cleaner := newCleaner(table, column)
	cleaned, issues := cleaner.Clean(table)
	if len(issues) > 0 {
		stats := cleaner.GetStats()
		log.Info("rows rejected by cleaning",
			zap.String("target", column),
			zap.Int64("passed", stats.Passed),
			zap.Int64("rejected", stats.Rejected),
			zap.Any("by_rule", stats.Issues))
		for _, issue := range issues[:min(len(issues), maxLoggedIssues)] {
			log.Debug("row rejected",
				zap.String("target", column),
				zap.Int("row", issue.Row),
				zap.String("rule", issue.Rule),
				zap.String("message", issue.Message))
		}
	}
	columns, rows, err := ml.EncodeFeatures(cleaned, ml.DefaultFeatureOptions())
	if err != nil {
		return newResult(target, d, db.StatusFailed, err)
	}
	targets, err := ml.Targets(cleaned, column)
	if err != nil {
		return newResult(target, d, db.StatusFailed, err)
	}

	artifact, err := ml.Fit(ctx, columns, rows, targets, t.cfg.ML)
	if err != nil {
		return newResult(target, d, db.StatusFailed, err)
	}
	artifact.Target = target
	artifact.Diameter = d
	artifact.Source = filepath.Base(table.Name)
	artifact.TrainedAt = t.now().UTC()

	path, err := artifact.Save(t.cfg.ModelDir)
	if err != nil {
		return newResult(target, d, db.StatusFailed, fmt.Errorf("save: %w", err))
	}

	res := newResult(target, d, db.StatusTrained, nil)
	res.Path = path
	res.Metrics = artifact.Metrics
	res.Train = artifact.TrainRows
	res.Test = artifact.TestRows
	return res
}

func newResult(target quality.Target, d quality.Diameter, status string, err error) Result {
	res := Result{
		Target:   target,
		Diameter: d,
		Model:    ml.ArtifactName(target, d),
		Status:   status,
		err:      err,
	}
	if err != nil {
		res.Reason = err.Error()
	}
	return res
}

func (r *Report) runLog() []db.TrainingRun {
	runs := make([]db.TrainingRun, 0, len(r.Results))
	for _, res := range r.Results {
		runs = append(runs, db.TrainingRun{
			RunID:     r.RunID,
			ModelName: res.Model,
			Target:    string(res.Target),
			Diameter:  int(res.Diameter),
			Status:    res.Status,
			Reason:    res.Reason,
			R2:        res.Metrics.R2,
			MAE:       res.Metrics.MAE,
			RMSE:      res.Metrics.RMSE,
			TrainRows: res.Train,
			TestRows:  res.Test,
			TrainedAt: r.Finished,
		})
	}
	return runs
}
