package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"path/filepath"

	"predmaint/db"
	"predmaint/logging"
	"predmaint/ml"
	"predmaint/pipeline"

	"go.uber.org/zap"
)

func main() {
	dataPath := flag.String("data", "ai4i2020.csv", "training dataset (CSV)")
	modelPath := flag.String("model_path", "model_pipeline.json", "model artifact output path")
	trees := flag.Int("trees", ml.DefaultTrees, "number of trees in the forest")
	maxDepth := flag.Int("max_depth", 12, "max tree depth")
	minLeaf := flag.Int("min_leaf", 1, "minimum samples per leaf")
	testRatio := flag.Float64("test_ratio", 0.2, "holdout ratio for evaluation")
	folds := flag.Int("folds", 0, "k-fold cross-validation folds (0 disables)")
	seed := flag.Int64("seed", ml.DefaultSeed, "random seed")
	dbPath := flag.String("db", "", "optional SQLite database to append a training log row to")
	logLevel := flag.String("log_level", "info", "log level")
	flag.Parse()

	logger := logging.New(logging.Options{Level: *logLevel})
	defer logger.Sync()

	report, err := pipeline.Train(logger.Logger, pipeline.TrainConfig{
		DataPath:  *dataPath,
		ModelPath: *modelPath,
		Forest: ml.ForestOptions{
			Trees:          *trees,
			MaxDepth:       *maxDepth,
			MinSamplesLeaf: *minLeaf,
			Seed:           *seed,
		},
		TestRatio: *testRatio,
		Folds:     *folds,
	})
	if err != nil {
		logger.Error("training failed", zap.Error(err))
		logger.Sync()
		os.Exit(1)
	}

	if *dbPath != "" {
		if err := saveTrainingLog(*dbPath, filepath.Base(*dataPath), report); err != nil {
			logger.Error("failed to record training log", zap.Error(err))
		}
	}

	fmt.Printf("model saved to %s (rows=%d accuracy=%.3f f1=%.3f)\n",
		*modelPath, report.Rows, report.Holdout.Accuracy, report.Holdout.F1)
}

func saveTrainingLog(path, dataset string, report *pipeline.TrainReport) error {
	store, err := db.Open(path)
	if err != nil {
		return err
	}
	defer store.Close()

	ctx := context.Background()
	issues := make([]db.QualityIssue, 0, len(report.Issues))
	for _, issue := range report.Issues {
		issues = append(issues, db.QualityIssue{
			Dataset:   dataset,
			Line:      issue.Line,
			Rule:      issue.Rule,
			Message:   issue.Message,
			CreatedAt: issue.Timestamp,
		})
	}
	if err := store.SaveQualityIssues(ctx, issues); err != nil {
		return err
	}
	return store.SaveTrainingLog(ctx, db.TrainingLog{
		ModelName:  "random_forest",
		Dataset:    dataset,
		Accuracy:   report.Holdout.Accuracy,
		Precision:  report.Holdout.Precision,
		Recall:     report.Holdout.Recall,
		F1:         report.Holdout.F1,
		TrainedAt:  report.TrainedAt,
		DataPoints: report.Rows,
	})
}
