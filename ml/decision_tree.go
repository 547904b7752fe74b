package ml

import (
	"encoding/json"
	"math"
	"math/rand"
	"sort"

	"github.com/pkg/errors"
)

// DecisionTree is a binary CART classifier. Leaves carry the fraction of
// failure-class training samples that reached them.
type DecisionTree struct {
	nodes   []TreeNode
	options TreeOptions
}

type TreeNode struct {
	FeatureIdx  int     `json:"feature_idx"`
	Threshold   float64 `json:"threshold"`
	LeftChild   int     `json:"left_child"`
	RightChild  int     `json:"right_child"`
	Probability float64 `json:"probability"`
	Samples     int     `json:"samples"`
	IsLeaf      bool    `json:"is_leaf"`
}

type TreeOptions struct {
	MaxDepth       int
	MinSamplesLeaf int
	// MaxFeatures bounds the features tried per split; 0 tries all of them.
	MaxFeatures int
}

func NewDecisionTree(options TreeOptions) *DecisionTree {
	return &DecisionTree{options: options.withDefaults()}
}

func (o TreeOptions) withDefaults() TreeOptions {
	if o.MaxDepth <= 0 {
		o.MaxDepth = 3
	}
	if o.MinSamplesLeaf <= 0 {
		o.MinSamplesLeaf = 1
	}
	return o
}

func (dt *DecisionTree) fit(features [][]float64, labels []int, indices []int, rng *rand.Rand) error {
	dt.options = dt.options.withDefaults()
	b := &treeBuilder{
		features: features,
		labels:   labels,
		options:  dt.options,
		width:    len(features[0]),
		rng:      rng,
	}
	b.build(indices, 0)
	dt.nodes = b.nodes
	return nil
}

func (dt *DecisionTree) PredictProbability(features []float64) (float64, error) {
	if len(dt.nodes) == 0 {
		return 0, errors.New("model not trained")
	}
	idx := 0
	for steps := 0; steps <= len(dt.nodes); steps++ {
		node := dt.nodes[idx]
		if node.IsLeaf {
			return node.Probability, nil
		}
		if node.FeatureIdx < 0 || node.FeatureIdx >= len(features) {
			return 0, errors.New("feature index out of range")
		}
		if features[node.FeatureIdx] <= node.Threshold {
			idx = node.LeftChild
		} else {
			idx = node.RightChild
		}
		if idx <= 0 || idx >= len(dt.nodes) {
			return 0, errors.New("invalid tree state")
		}
	}
	return 0, errors.New("invalid tree state")
}

func (dt *DecisionTree) NodeCount() int {
	return len(dt.nodes)
}

func (dt *DecisionTree) MarshalJSON() ([]byte, error) {
	return json.Marshal(dt.nodes)
}

func (dt *DecisionTree) UnmarshalJSON(data []byte) error {
	var nodes []TreeNode
	if err := json.Unmarshal(data, &nodes); err != nil {
		return err
	}
	if len(nodes) == 0 {
		return errors.New("tree has no nodes")
	}
	dt.nodes = nodes
	return nil
}

type treeBuilder struct {
	features [][]float64
	labels   []int
	options  TreeOptions
	width    int
	rng      *rand.Rand
	nodes    []TreeNode
}

type splitCandidate struct {
	value float64
	label int
}

func (b *treeBuilder) build(indices []int, depth int) int {
	positives := 0
	for _, i := range indices {
		positives += b.labels[i]
	}
	idx := len(b.nodes)
	b.nodes = append(b.nodes, TreeNode{
		FeatureIdx:  -1,
		LeftChild:   -1,
		RightChild:  -1,
		Probability: float64(positives) / float64(len(indices)),
		Samples:     len(indices),
		IsLeaf:      true,
	})

	if depth >= b.options.MaxDepth || positives == 0 || positives == len(indices) {
		return idx
	}
	if len(indices) < 2*b.options.MinSamplesLeaf {
		return idx
	}

	feature, threshold, ok := b.findBestSplit(indices)
	if !ok {
		return idx
	}
	left, right := b.partition(indices, feature, threshold)
	if len(left) == 0 || len(right) == 0 {
		return idx
	}

	leftIdx := b.build(left, depth+1)
	rightIdx := b.build(right, depth+1)

	node := &b.nodes[idx]
	node.FeatureIdx = feature
	node.Threshold = threshold
	node.LeftChild = leftIdx
	node.RightChild = rightIdx
	node.IsLeaf = false
	return idx
}

func (b *treeBuilder) candidateFeatures() []int {
	if b.rng == nil || b.options.MaxFeatures <= 0 || b.options.MaxFeatures >= b.width {
		all := make([]int, b.width)
		for i := range all {
			all[i] = i
		}
		return all
	}
	return b.rng.Perm(b.width)[:b.options.MaxFeatures]
}

func (b *treeBuilder) findBestSplit(indices []int) (int, float64, bool) {
	total := len(indices)
	totalPositives := 0
	for _, i := range indices {
		totalPositives += b.labels[i]
	}

	bestFeature := -1
	bestThreshold := 0.0
	bestImpurity := math.MaxFloat64
	minLeaf := b.options.MinSamplesLeaf

	candidates := make([]splitCandidate, total)
	for _, featureIdx := range b.candidateFeatures() {
		for k, i := range indices {
			candidates[k] = splitCandidate{value: b.features[i][featureIdx], label: b.labels[i]}
		}
		sort.Slice(candidates, func(x, y int) bool { return candidates[x].value < candidates[y].value })

		leftCount, leftPositives := 0, 0
		for k := 0; k < total-1; k++ {
			leftCount++
			leftPositives += candidates[k].label
			if candidates[k].value == candidates[k+1].value {
				continue
			}
			rightCount := total - leftCount
			if leftCount < minLeaf || rightCount < minLeaf {
				continue
			}
			impurity := weightedGini(leftCount, leftPositives, rightCount, totalPositives-leftPositives)
			if impurity < bestImpurity {
				bestImpurity = impurity
				bestFeature = featureIdx
				bestThreshold = (candidates[k].value + candidates[k+1].value) / 2
			}
		}
	}
	if bestFeature == -1 {
		return -1, 0, false
	}
	return bestFeature, bestThreshold, true
}

func (b *treeBuilder) partition(indices []int, featureIdx int, threshold float64) ([]int, []int) {
	left := make([]int, 0, len(indices))
	right := make([]int, 0, len(indices))
	for _, i := range indices {
		if b.features[i][featureIdx] <= threshold {
			left = append(left, i)
		} else {
			right = append(right, i)
		}
	}
	return left, right
}

func weightedGini(leftCount, leftPositives, rightCount, rightPositives int) float64 {
	total := float64(leftCount + rightCount)
	return (float64(leftCount)/total)*gini(leftCount, leftPositives) +
		(float64(rightCount)/total)*gini(rightCount, rightPositives)
}

// gini is the impurity of a two-class node.
func gini(count, positives int) float64 {
	if count == 0 {
		return 0
	}
	p := float64(positives) / float64(count)
	return 2 * p * (1 - p)
}

func checkTrainingSet(features [][]float64, labels []int) error {
	if len(features) == 0 || len(labels) == 0 {
		return errors.New("features or labels empty")
	}
	if len(features) != len(labels) {
		return errors.New("features and labels size mismatch")
	}
	width := len(features[0])
	if width == 0 {
		return errors.New("feature vectors are empty")
	}
	for i, f := range features {
		if len(f) != width {
			return errors.Errorf("row %d: expected %d features, got %d", i, width, len(f))
		}
		if labels[i] != 0 && labels[i] != 1 {
			return errors.Errorf("row %d: label must be 0 or 1, got %d", i, labels[i])
		}
	}
	return nil
}

func classOf(probability float64) int {
	if probability > 0.5 {
		return 1
	}
	return 0
}
