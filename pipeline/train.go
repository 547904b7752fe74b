package pipeline

import (
	"time"

	"predmaint/ml"

	"github.com/pkg/errors"
	"go.uber.org/zap"
)

type TrainConfig struct {
	DataPath  string
	ModelPath string
	Forest    ml.ForestOptions
	TestRatio float64
	// Folds enables k-fold cross-validation when at least 2.
	Folds int
}

type TrainReport struct {
	Rows            int            `json:"rows"`
	Rejected        int            `json:"rejected"`
	Holdout         ml.Metrics     `json:"holdout"`
	CrossValidation []ml.Metrics   `json:"cross_validation,omitempty"`
	Stats           CleaningStats  `json:"cleaning"`
	Issues          []QualityIssue `json:"issues,omitempty"`
	TrainedAt       time.Time      `json:"trained_at"`
	Duration        time.Duration  `json:"duration"`
}

// Train reads and cleans the dataset, reports holdout (and optionally
// cross-validated) metrics, then fits the final pipeline on every clean row
// and writes it to cfg.ModelPath.
func Train(logger *zap.Logger, cfg TrainConfig) (*TrainReport, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	start := time.Now()

	points, err := ReadDatasetFile(cfg.DataPath)
	if err != nil {
		return nil, err
	}
	cleaner := NewDataCleaner(logger)
	cleaned, issues := cleaner.Clean(points)
	if len(cleaned) == 0 {
		return nil, errors.Errorf("no usable rows in %s", cfg.DataPath)
	}
	rows, labels := TrainingSet(cleaned)
	logger.Info("dataset loaded",
		zap.String("path", cfg.DataPath),
		zap.Int("rows", len(rows)),
		zap.Int("rejected", len(points)-len(cleaned)))

	report := &TrainReport{
		Rows:     len(rows),
		Rejected: len(points) - len(cleaned),
		Stats:    cleaner.GetStats(),
		Issues:   issues,
	}

	trainX, trainY, testX, testY := ml.SplitDataset(rows, labels, cfg.TestRatio, cfg.Forest.Seed)
	if len(trainX) > 0 && len(testX) > 0 {
		holdout := ml.NewPipeline(cfg.Forest)
		if err := holdout.Fit(trainX, trainY); err != nil {
			return nil, errors.Wrap(err, "fit holdout pipeline")
		}
		if report.Holdout, err = ml.Evaluate(holdout, testX, testY); err != nil {
			return nil, errors.Wrap(err, "evaluate holdout")
		}
		logger.Info("holdout evaluation",
			zap.Int("samples", report.Holdout.Samples),
			zap.Float64("accuracy", report.Holdout.Accuracy),
			zap.Float64("precision", report.Holdout.Precision),
			zap.Float64("recall", report.Holdout.Recall),
			zap.Float64("f1", report.Holdout.F1))
	}

	if cfg.Folds >= 2 {
		folds, err := ml.CrossValidate(rows, labels, cfg.Folds, cfg.Forest)
		if err != nil {
			return nil, errors.Wrap(err, "cross-validate")
		}
		report.CrossValidation = folds
		for i, m := range folds {
			logger.Info("cross-validation fold", zap.Int("fold", i), zap.Float64("accuracy", m.Accuracy), zap.Float64("f1", m.F1))
		}
	}

	final := ml.NewPipeline(cfg.Forest)
	if err := final.Fit(rows, labels); err != nil {
		return nil, errors.Wrap(err, "fit final pipeline")
	}
	if err := ml.SavePipeline(final, cfg.ModelPath); err != nil {
		return nil, errors.Wrap(err, "save pipeline")
	}
	report.TrainedAt = final.TrainedAt
	report.Duration = time.Since(start)
	logger.Info("model artifact written",
		zap.String("path", cfg.ModelPath),
		zap.Int("trees", len(final.Forest.Trees)),
		zap.Duration("duration", report.Duration))
	return report, nil
}
