package ml

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/pkg/errors"
)

const artifactKind = "predictive-maintenance-pipeline"

// ErrArtifactNotFound is matched by every LoadPipeline failure: a missing,
// unreadable, corrupt or schema-incompatible artifact.
var ErrArtifactNotFound = errors.New("model artifact not found")

type ArtifactError struct {
	Path string
	Err  error
}

func (e *ArtifactError) Error() string {
	return fmt.Sprintf("model artifact %s: %v", e.Path, e.Err)
}

func (e *ArtifactError) Unwrap() error { return e.Err }

func (e *ArtifactError) Is(target error) bool { return target == ErrArtifactNotFound }

type artifactFile struct {
	Kind                string        `json:"kind"`
	TrainedAt           time.Time     `json:"trained_at"`
	TrainingRows        int           `json:"training_rows"`
	NumericalFeatures   []string      `json:"numerical_features"`
	CategoricalFeatures []string      `json:"categorical_features"`
	Preprocessor        *Preprocessor `json:"preprocessor"`
	Forest              *RandomForest `json:"forest"`
}

// SavePipeline writes the artifact next to path and renames it into place.
func SavePipeline(p *Pipeline, path string) error {
	if p == nil || p.Preprocessor == nil || !p.Preprocessor.Fitted() || p.Forest == nil || len(p.Forest.Trees) == 0 {
		return errors.New("pipeline not fitted")
	}
	payload, err := json.Marshal(artifactFile{
		Kind:                artifactKind,
		TrainedAt:           p.TrainedAt,
		TrainingRows:        p.TrainingRows,
		NumericalFeatures:   NumericalFeatures(),
		CategoricalFeatures: CategoricalFeatures(),
		Preprocessor:        p.Preprocessor,
		Forest:              p.Forest,
	})
	if err != nil {
		return errors.Wrap(err, "encode artifact")
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return errors.Wrap(err, "create artifact dir")
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".*.tmp")
	if err != nil {
		return errors.Wrap(err, "create temp artifact")
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(payload); err != nil {
		tmp.Close()
		return errors.Wrap(err, "write artifact")
	}
	if err := tmp.Close(); err != nil {
		return errors.Wrap(err, "close artifact")
	}
	return errors.Wrap(os.Rename(tmp.Name(), path), "rename artifact")
}

// LoadPipeline reads the artifact at path. Any failure is an *ArtifactError.
func LoadPipeline(path string) (*Pipeline, error) {
	payload, err := os.ReadFile(path)
	if err != nil {
		return nil, &ArtifactError{Path: path, Err: err}
	}
	var file artifactFile
	if err := json.Unmarshal(payload, &file); err != nil {
		return nil, &ArtifactError{Path: path, Err: errors.Wrap(err, "decode")}
	}
	if err := file.validate(); err != nil {
		return nil, &ArtifactError{Path: path, Err: err}
	}
	return &Pipeline{
		Preprocessor: file.Preprocessor,
		Forest:       file.Forest,
		TrainedAt:    file.TrainedAt,
		TrainingRows: file.TrainingRows,
	}, nil
}

func (f *artifactFile) validate() error {
	if f.Kind != artifactKind {
		return errors.Errorf("unexpected artifact kind %q", f.Kind)
	}
	if !sameColumns(f.NumericalFeatures, NumericalFeatures()) || !sameColumns(f.CategoricalFeatures, CategoricalFeatures()) {
		return errors.New("artifact columns do not match the feature contract")
	}
	if f.Preprocessor == nil || !sameColumns(f.Preprocessor.numericalColumns(), NumericalFeatures()) ||
		!sameColumns(f.Preprocessor.categoricalColumns(), CategoricalFeatures()) {
		return errors.New("preprocessor columns do not match the feature contract")
	}
	for _, scaler := range f.Preprocessor.Numerical {
		if scaler.Scale == 0 {
			return errors.Errorf("column %q has zero scale", scaler.Column)
		}
	}
	if f.Forest == nil || len(f.Forest.Trees) == 0 {
		return errors.New("artifact has no trees")
	}
	width := f.Preprocessor.Width()
	for i, tree := range f.Forest.Trees {
		if tree == nil {
			return errors.Errorf("tree %d is empty", i)
		}
		if err := tree.validate(width); err != nil {
			return errors.Wrapf(err, "tree %d", i)
		}
	}
	return nil
}

func (dt *DecisionTree) validate(width int) error {
	if len(dt.nodes) == 0 {
		return errors.New("no nodes")
	}
	for i, node := range dt.nodes {
		if node.IsLeaf {
			if node.Probability < 0 || node.Probability > 1 {
				return errors.Errorf("node %d: probability %v out of range", i, node.Probability)
			}
			continue
		}
		if node.FeatureIdx < 0 || node.FeatureIdx >= width {
			return errors.Errorf("node %d: feature index %d out of range", i, node.FeatureIdx)
		}
		if node.LeftChild <= i || node.LeftChild >= len(dt.nodes) || node.RightChild <= i || node.RightChild >= len(dt.nodes) {
			return errors.Errorf("node %d: child index out of range", i)
		}
	}
	return nil
}
