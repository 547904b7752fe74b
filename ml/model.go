package ml

// Classifier scores an encoded feature vector with the probability of the
// failure class.
type Classifier interface {
	PredictProbability(features []float64) (float64, error)
}

// ProbabilityModel scores a name-indexed row. A fitted Pipeline satisfies it.
type ProbabilityModel interface {
	PredictProbability(row FeatureRow) (float64, error)
}

var (
	_ Classifier       = (*DecisionTree)(nil)
	_ Classifier       = (*RandomForest)(nil)
	_ ProbabilityModel = (*Pipeline)(nil)
)
