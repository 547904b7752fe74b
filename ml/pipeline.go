package ml

import (
	"time"

	"github.com/pkg/errors"
)

// Pipeline is the fitted transform+classifier pair persisted as one artifact.
type Pipeline struct {
	Preprocessor *Preprocessor
	Forest       *RandomForest
	TrainedAt    time.Time
	TrainingRows int
}

// ArtifactInfo describes a fitted pipeline without exposing its parameters.
type ArtifactInfo struct {
	TrainedAt           time.Time           `json:"trained_at"`
	TrainingRows        int                 `json:"training_rows"`
	Trees               int                 `json:"trees"`
	MaxDepth            int                 `json:"max_depth"`
	NumericalFeatures   []string            `json:"numerical_features"`
	CategoricalFeatures []string            `json:"categorical_features"`
	Categories          map[string][]string `json:"categories"`
}

func NewPipeline(options ForestOptions) *Pipeline {
	return &Pipeline{
		Preprocessor: &Preprocessor{},
		Forest:       NewRandomForest(options),
	}
}

func (p *Pipeline) Fit(rows []FeatureRow, labels []int) error {
	if len(rows) != len(labels) {
		return errors.New("rows and labels size mismatch")
	}
	if err := p.Preprocessor.Fit(rows); err != nil {
		return errors.Wrap(err, "fit preprocessor")
	}
	vectors, err := p.Preprocessor.TransformAll(rows)
	if err != nil {
		return errors.Wrap(err, "transform rows")
	}
	if err := p.Forest.Train(vectors, labels); err != nil {
		return errors.Wrap(err, "train forest")
	}
	p.TrainedAt = time.Now().UTC()
	p.TrainingRows = len(rows)
	return nil
}

func (p *Pipeline) PredictProbability(row FeatureRow) (float64, error) {
	if p.Preprocessor == nil || p.Forest == nil {
		return 0, errors.New("pipeline not fitted")
	}
	vector, err := p.Preprocessor.Transform(row)
	if err != nil {
		return 0, err
	}
	return p.Forest.PredictProbability(vector)
}

func (p *Pipeline) Info() ArtifactInfo {
	info := ArtifactInfo{
		TrainedAt:    p.TrainedAt,
		TrainingRows: p.TrainingRows,
		Categories:   make(map[string][]string),
	}
	if p.Forest != nil {
		info.Trees = len(p.Forest.Trees)
		info.MaxDepth = p.Forest.Options.MaxDepth
	}
	if p.Preprocessor != nil {
		info.NumericalFeatures = p.Preprocessor.numericalColumns()
		info.CategoricalFeatures = p.Preprocessor.categoricalColumns()
		for _, enc := range p.Preprocessor.Categorical {
			info.Categories[enc.Column] = append([]string(nil), enc.Categories...)
		}
	}
	return info
}
