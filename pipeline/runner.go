package pipeline

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"irisnet/config"
	"irisnet/dataset"
	"irisnet/db"
	"irisnet/ml"
	"irisnet/monitoring"
	"irisnet/nnet"
	"irisnet/report"
)

// ErrRunning is returned by Run while another run is in progress.
var ErrRunning = errors.New("a training run is already in progress")

// Publisher receives progress messages. *monitoring.Hub implements it.
type Publisher interface {
	Publish(kind monitoring.MessageType, data any) error
}

// Result is the outcome of one pipeline run.
type Result struct {
	RunID     int64           `json:"run_id"`
	Report    *ml.Report      `json:"report"`
	Training  nnet.Result     `json:"training"`
	Issues    []dataset.Issue `json:"issues"`
	ModelPath string          `json:"model_path"`
	PlotPath  string          `json:"plot_path"`
	Model     *ml.Model       `json:"-"`
}

// Runner loads the dataset, trains a network on it, evaluates it and records
// the run. Store and Publisher are optional.
type Runner struct {
	logger    *zap.Logger
	store     *db.Store
	publisher Publisher
	metrics   *monitoring.MetricsCollector

	mu      sync.RWMutex
	cfg     *config.Config
	running atomic.Bool

	// configPath is reloaded by Watch when it changes.
	configPath string
}

// Option configures a Runner.
type Option func(*Runner)

func WithStore(store *db.Store) Option {
	return func(r *Runner) { r.store = store }
}

func WithPublisher(p Publisher) Option {
	return func(r *Runner) { r.publisher = p }
}

func WithMetrics(metrics *monitoring.MetricsCollector) Option {
	return func(r *Runner) { r.metrics = metrics }
}

func WithLogger(logger *zap.Logger) Option {
	return func(r *Runner) { r.logger = logger }
}

// WithConfigPath names the file the config was loaded from so Watch can
// reload it.
func WithConfigPath(path string) Option {
	return func(r *Runner) { r.configPath = path }
}

// NewRunner creates a Runner for cfg. Without WithLogger it logs nothing.
func NewRunner(cfg *config.Config, opts ...Option) *Runner {
	r := &Runner{cfg: cfg, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Config returns the configuration the next run will use.
func (r *Runner) Config() *config.Config {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.cfg
}

// SetConfig replaces the configuration for later runs.
func (r *Runner) SetConfig(cfg *config.Config) {
	r.mu.Lock()
	r.cfg = cfg
	r.mu.Unlock()
}

// Running reports whether a run is in progress.
func (r *Runner) Running() bool {
	return r.running.Load()
}

// Run executes the whole pipeline once.
func (r *Runner) Run(ctx context.Context) (*Result, error) {
	if !r.running.CompareAndSwap(false, true) {
		return nil, ErrRunning
	}
	defer r.running.Store(false)
	return r.execute(ctx)
}

// Start runs the pipeline in the background and calls done, if set, when it
// finishes. It returns ErrRunning without starting when a run is in progress.
func (r *Runner) Start(ctx context.Context, done func(*Result, error)) error {
	if !r.running.CompareAndSwap(false, true) {
		return ErrRunning
	}
	go func() {
		result, err := r.execute(ctx)
		r.running.Store(false)
		if done != nil {
			done(result, err)
		}
	}()
	return nil
}

func (r *Runner) execute(ctx context.Context) (*Result, error) {
	started := time.Now()
	cfg := r.Config()
	result, err := r.run(ctx, cfg)
	if err != nil {
		r.logger.Error("training run failed", zap.Error(err), zap.Duration("elapsed", time.Since(started)))
		r.publish(monitoring.RunFailed, monitoring.RunMessage{Error: err.Error()})
		if r.metrics != nil {
			r.metrics.RecordFailure()
		}
		return nil, err
	}

	r.logger.Info("training run finished",
		zap.Int64("run_id", result.RunID),
		zap.Int("epochs", result.Training.Epochs),
		zap.Float64("error", result.Training.Error),
		zap.Bool("converged", result.Training.Converged),
		zap.Float64("accuracy", result.Report.Accuracy),
		zap.Duration("elapsed", time.Since(started)),
	)
	if r.metrics != nil {
		r.metrics.RecordRun(result.Training.Epochs, result.Training.Error, result.Report.Accuracy, len(result.Issues), time.Since(started))
	}
	r.publish(monitoring.RunComplete, monitoring.RunMessage{
		RunID:      result.RunID,
		Epochs:     result.Training.Epochs,
		FinalError: result.Training.Error,
		Accuracy:   result.Report.Accuracy,
		ModelPath:  result.ModelPath,
	})
	return result, nil
}

func (r *Runner) run(ctx context.Context, cfg *config.Config) (*Result, error) {
	table, err := loadTable(cfg.Dataset)
	if err != nil {
		return nil, err
	}
	r.logger.Info("dataset loaded", zap.String("dataset", datasetName(cfg.Dataset)), zap.Int("rows", table.Rows()))

	cleaned, issues := dataset.NewCleaner().Clean(table)
	if len(issues) > 0 {
		r.logger.Warn("rows rejected while cleaning", zap.Int("rejected", len(issues)))
		if err := r.saveIssues(ctx, cfg, issues); err != nil {
			return nil, err
		}
	}

	activation, err := nnet.ActivationByName(cfg.Training.Activation)
	if err != nil {
		return nil, err
	}
	low, high := activation.Range()
	prepared, err := ml.Prepare(cleaned, ml.PrepareConfig{
		Classifying:   cfg.Dataset.Classifying,
		TrainFraction: cfg.Training.TrainFraction,
		Encoding:      cfg.Training.LabelEncoding,
		Low:           low,
		High:          high,
	})
	if err != nil {
		return nil, fmt.Errorf("prepare dataset: %w", err)
	}

	sizes := []int{len(prepared.Preprocessor.Features())}
	sizes = append(sizes, cfg.Training.Hidden...)
	sizes = append(sizes, prepared.Encoder.Width())
	network, err := nnet.New(sizes, activation)
	if err != nil {
		return nil, err
	}
	network.Randomize(rand.New(rand.NewSource(cfg.Dataset.Seed)))
	r.logger.Info("network built",
		zap.Ints("sizes", network.Sizes()),
		zap.String("activation", activation.Name()),
		zap.Int("weights", network.WeightCount()),
	)

	trainer, err := nnet.NewResilient(network, prepared.TrainInputs, prepared.TrainIdeals)
	if err != nil {
		return nil, err
	}
	training, err := trainer.Train(ctx, nnet.TrainOptions{
		Threshold: cfg.Training.Threshold,
		MaxEpochs: cfg.Training.MaxEpochs,
		OnEpoch:   r.onEpoch,
	})
	if err != nil {
		return nil, fmt.Errorf("training stopped after %d epochs: %w", training.Epochs, err)
	}

	evaluation, err := ml.Evaluate(network, prepared.TestInputs, prepared.TestLabels, prepared.Classes, prepared.Encoder)
	if err != nil {
		return nil, err
	}

	model := ml.NewModel(network, prepared)
	if err := model.Save(cfg.Training.ModelPath); err != nil {
		return nil, fmt.Errorf("save model: %w", err)
	}

	result := &Result{
		Report:    evaluation,
		Training:  training,
		Issues:    issues,
		ModelPath: cfg.Training.ModelPath,
		Model:     model,
	}

	if r.store != nil {
		id, err := r.store.SaveRun(ctx, db.TrainingLog{
			ModelName:  prepared.Label,
			Dataset:    datasetName(cfg.Dataset),
			Accuracy:   evaluation.Accuracy,
			Precision:  evaluation.MacroPrecision(),
			Recall:     evaluation.MacroRecall(),
			Epochs:     training.Epochs,
			FinalError: training.Error,
			Converged:  training.Converged,
			TrainRows:  len(prepared.TrainInputs),
			TestRows:   len(prepared.TestInputs),
			DataPoints: cleaned.Rows(),
			ModelPath:  cfg.Training.ModelPath,
		})
		if err != nil {
			return nil, fmt.Errorf("save run: %w", err)
		}
		if err := r.store.SaveEpochs(ctx, id, training.History); err != nil {
			return nil, fmt.Errorf("save epochs: %w", err)
		}
		result.RunID = id
	}

	if cfg.Training.PlotPath != "" {
		if err := report.PlotErrors(training.History, cfg.Training.PlotPath); err != nil {
			// the model is already saved, a missing chart is not fatal
			r.logger.Warn("plot training error failed", zap.Error(err))
		} else {
			result.PlotPath = cfg.Training.PlotPath
		}
	}
	return result, nil
}

func (r *Runner) onEpoch(epoch int, e float64) {
	r.logger.Debug("epoch", zap.Int("epoch", epoch), zap.Float64("error", e))
	if epoch%100 == 0 {
		r.logger.Info("training progress", zap.Int("epoch", epoch), zap.Float64("error", e))
	}
	r.publish(monitoring.EpochProgress, monitoring.EpochMessage{Epoch: epoch, Error: e})
}

func (r *Runner) publish(kind monitoring.MessageType, data any) {
	if r.publisher == nil {
		return
	}
	if err := r.publisher.Publish(kind, data); err != nil {
		r.logger.Warn("publish failed", zap.String("type", string(kind)), zap.Error(err))
	}
}

func (r *Runner) saveIssues(ctx context.Context, cfg *config.Config, issues []dataset.Issue) error {
	if r.store == nil {
		return nil
	}
	records := make([]db.QualityIssue, len(issues))
	for i, issue := range issues {
		records[i] = db.QualityIssue{
			Dataset: datasetName(cfg.Dataset),
			Rule:    issue.Rule,
			Row:     issue.Row,
			Message: issue.Message,
			Time:    issue.Time,
		}
	}
	if err := r.store.SaveIssues(ctx, records); err != nil {
		return fmt.Errorf("save data quality issues: %w", err)
	}
	return nil
}

func loadTable(cfg config.DatasetConfig) (*dataset.Table, error) {
	types, err := dataset.ParseColumnTypes(cfg.Columns)
	if err != nil {
		return nil, err
	}
	opts := dataset.Options{
		Types:    types,
		Encoding: cfg.Encoding,
		Shuffle:  cfg.Shuffle,
		Seed:     cfg.Seed,
	}
	if cfg.Path == "" {
		return dataset.Iris(opts)
	}
	return dataset.LoadFile(cfg.Path, opts)
}

func datasetName(cfg config.DatasetConfig) string {
	if cfg.Path == "" {
		return "builtin:iris"
	}
	return cfg.Path
}
