package ml

import (
	"math"
	"math/rand"
	"runtime"

	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"
)

const (
	DefaultTrees = 100
	DefaultSeed  = 42
)

type ForestOptions struct {
	Trees          int   `json:"trees"`
	MaxDepth       int   `json:"max_depth"`
	MinSamplesLeaf int   `json:"min_samples_leaf"`
	MaxFeatures    int   `json:"max_features"`
	Seed           int64 `json:"seed"`
}

func DefaultForestOptions() ForestOptions {
	return ForestOptions{
		Trees:          DefaultTrees,
		MaxDepth:       12,
		MinSamplesLeaf: 1,
		Seed:           DefaultSeed,
	}
}

// RandomForest averages the leaf probabilities of bootstrap-trained trees.
type RandomForest struct {
	Options ForestOptions   `json:"options"`
	Trees   []*DecisionTree `json:"trees"`
}

func NewRandomForest(options ForestOptions) *RandomForest {
	defaults := DefaultForestOptions()
	if options.Trees <= 0 {
		options.Trees = defaults.Trees
	}
	if options.MaxDepth <= 0 {
		options.MaxDepth = defaults.MaxDepth
	}
	if options.MinSamplesLeaf <= 0 {
		options.MinSamplesLeaf = defaults.MinSamplesLeaf
	}
	return &RandomForest{Options: options}
}

// Train fits every tree on its own bootstrap sample. Each tree draws from an
// RNG seeded with Seed+index, so the result does not depend on scheduling.
func (f *RandomForest) Train(features [][]float64, labels []int) error {
	if err := checkTrainingSet(features, labels); err != nil {
		return err
	}
	maxFeatures := f.Options.MaxFeatures
	if maxFeatures <= 0 {
		maxFeatures = int(math.Max(1, math.Floor(math.Sqrt(float64(len(features[0]))))))
	}
	treeOptions := TreeOptions{
		MaxDepth:       f.Options.MaxDepth,
		MinSamplesLeaf: f.Options.MinSamplesLeaf,
		MaxFeatures:    maxFeatures,
	}

	trees := make([]*DecisionTree, f.Options.Trees)
	var g errgroup.Group
	g.SetLimit(runtime.NumCPU())
	for i := range trees {
		i := i
		g.Go(func() error {
			rng := rand.New(rand.NewSource(f.Options.Seed + int64(i)))
			indices := make([]int, len(features))
			for k := range indices {
				indices[k] = rng.Intn(len(features))
			}
			tree := NewDecisionTree(treeOptions)
			if err := tree.fit(features, labels, indices, rng); err != nil {
				return errors.Wrapf(err, "tree %d", i)
			}
			trees[i] = tree
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	f.Trees = trees
	return nil
}

func (f *RandomForest) PredictProbability(features []float64) (float64, error) {
	if len(f.Trees) == 0 {
		return 0, errors.New("model not trained")
	}
	sum := 0.0
	for i, tree := range f.Trees {
		p, err := tree.PredictProbability(features)
		if err != nil {
			return 0, errors.Wrapf(err, "tree %d", i)
		}
		sum += p
	}
	return sum / float64(len(f.Trees)), nil
}
