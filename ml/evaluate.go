package ml

import (
	"math"
	"math/rand"

	"github.com/pkg/errors"
)

// Metrics are computed for the failure class.
type Metrics struct {
	Samples   int     `json:"samples"`
	Accuracy  float64 `json:"accuracy"`
	Precision float64 `json:"precision"`
	Recall    float64 `json:"recall"`
	F1        float64 `json:"f1"`
}

func Evaluate(model ProbabilityModel, rows []FeatureRow, labels []int) (Metrics, error) {
	if len(rows) != len(labels) {
		return Metrics{}, errors.New("rows and labels size mismatch")
	}
	if len(rows) == 0 {
		return Metrics{}, nil
	}

	var correct, truePositive, predictedPositive, actualPositive int
	for i, row := range rows {
		p, err := model.PredictProbability(row)
		if err != nil {
			return Metrics{}, errors.Wrapf(err, "row %d", i)
		}
		label := classOf(p)
		if label == labels[i] {
			correct++
		}
		if label == 1 {
			predictedPositive++
		}
		if labels[i] == 1 {
			actualPositive++
			if label == 1 {
				truePositive++
			}
		}
	}

	m := Metrics{
		Samples:  len(rows),
		Accuracy: float64(correct) / float64(len(rows)),
	}
	if predictedPositive > 0 {
		m.Precision = float64(truePositive) / float64(predictedPositive)
	}
	if actualPositive > 0 {
		m.Recall = float64(truePositive) / float64(actualPositive)
	}
	if m.Precision+m.Recall > 0 {
		m.F1 = 2 * m.Precision * m.Recall / (m.Precision + m.Recall)
	}
	return m, nil
}

// SplitDataset shuffles with seed and holds out testRatio of the rows.
func SplitDataset(rows []FeatureRow, labels []int, testRatio float64, seed int64) (trainX []FeatureRow, trainY []int, testX []FeatureRow, testY []int) {
	if testRatio <= 0 || testRatio >= 1 {
		testRatio = 0.2
	}
	indices := rand.New(rand.NewSource(seed)).Perm(len(rows))
	split := int(math.Round(float64(len(rows)) * (1 - testRatio)))
	for i, idx := range indices {
		if i < split {
			trainX = append(trainX, rows[idx])
			trainY = append(trainY, labels[idx])
		} else {
			testX = append(testX, rows[idx])
			testY = append(testY, labels[idx])
		}
	}
	return trainX, trainY, testX, testY
}

// CrossValidate fits a fresh pipeline per fold and returns each fold's metrics.
func CrossValidate(rows []FeatureRow, labels []int, folds int, options ForestOptions) ([]Metrics, error) {
	if folds < 2 {
		return nil, errors.New("folds must be at least 2")
	}
	if len(rows) != len(labels) {
		return nil, errors.New("rows and labels size mismatch")
	}
	if len(rows) < folds {
		return nil, errors.Errorf("need at least %d rows for %d folds", folds, folds)
	}

	indices := rand.New(rand.NewSource(options.Seed)).Perm(len(rows))
	results := make([]Metrics, 0, folds)
	for fold := 0; fold < folds; fold++ {
		var trainX, testX []FeatureRow
		var trainY, testY []int
		for i, idx := range indices {
			if i%folds == fold {
				testX = append(testX, rows[idx])
				testY = append(testY, labels[idx])
			} else {
				trainX = append(trainX, rows[idx])
				trainY = append(trainY, labels[idx])
			}
		}
		p := NewPipeline(options)
		if err := p.Fit(trainX, trainY); err != nil {
			return nil, errors.Wrapf(err, "fold %d", fold)
		}
		m, err := Evaluate(p, testX, testY)
		if err != nil {
			return nil, errors.Wrapf(err, "fold %d", fold)
		}
		results = append(results, m)
	}
	return results, nil
}
