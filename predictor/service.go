package predictor

import (
	"math"
	"reflect"
	"strings"
	"sync"
	"sync/atomic"

	"predmaint/ml"

	"github.com/go-playground/validator/v10"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

const (
	// DecisionThreshold is exclusive: exactly 0.5 is Normal Operation.
	DecisionThreshold = 0.5

	LabelFailureImminent = "Failure Imminent"
	LabelNormalOperation = "Normal Operation"
)

type State int32

const (
	StateUnready State = iota
	StateReady
)

func (s State) String() string {
	if s == StateReady {
		return "ready"
	}
	return "unready"
}

type PredictionResult struct {
	Label       string  `json:"prediction_label"`
	Probability float64 `json:"failure_probability"`
}

// ModelLoader reads a trained artifact from path.
type ModelLoader func(path string) (ml.ProbabilityModel, error)

func loadPipeline(path string) (ml.ProbabilityModel, error) {
	p, err := ml.LoadPipeline(path)
	if err != nil {
		return nil, err
	}
	return p, nil
}

type Option func(*Service)

// WithLoader replaces the artifact loader.
func WithLoader(loader ModelLoader) Option {
	return func(s *Service) { s.loader = loader }
}

type loadedModel struct {
	model ml.ProbabilityModel
	path  string
}

// Service owns the trained model for the life of the process. The model is
// loaded at most once; after that it is only read.
type Service struct {
	logger   *zap.Logger
	validate *validator.Validate
	loader   ModelLoader

	once    sync.Once
	loadErr error
	model   atomic.Pointer[loadedModel]
}

func New(logger *zap.Logger, opts ...Option) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Service{
		logger:   logger.With(zap.String("component", "predictor")),
		validate: newValidator(),
		loader:   loadPipeline,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// NewWithModel returns a Ready service around an already loaded model.
func NewWithModel(logger *zap.Logger, model ml.ProbabilityModel) *Service {
	s := New(logger)
	s.once.Do(func() {
		s.model.Store(&loadedModel{model: model})
	})
	return s
}

// Load reads the artifact at path and makes the service Ready. Only the first
// call does any work; later calls return its result. On failure the service
// stays Unready and the error matches ml.ErrArtifactNotFound.
func (s *Service) Load(path string) error {
	s.once.Do(func() {
		model, err := s.loader(path)
		if err != nil {
			s.loadErr = err
			s.logger.Error("model artifact could not be loaded", zap.String("path", path), zap.Error(err))
			return
		}
		if model == nil {
			s.loadErr = &ml.ArtifactError{Path: path, Err: errors.New("loader returned no model")}
			return
		}
		s.model.Store(&loadedModel{model: model, path: path})
		s.logger.Info("model artifact loaded", zap.String("path", path))
	})
	return s.loadErr
}

func (s *Service) State() State {
	if s.model.Load() != nil {
		return StateReady
	}
	return StateUnready
}

func (s *Service) Ready() bool { return s.State() == StateReady }

// ModelInfo reports artifact metadata when the loaded model exposes it.
func (s *Service) ModelInfo() (ml.ArtifactInfo, bool) {
	loaded := s.model.Load()
	if loaded == nil {
		return ml.ArtifactInfo{}, false
	}
	described, ok := loaded.model.(interface{ Info() ml.ArtifactInfo })
	if !ok {
		return ml.ArtifactInfo{}, false
	}
	return described.Info(), true
}

// Validate reports the first missing or invalid field in request order.
func (s *Service) Validate(reading SensorReading) error {
	err := s.validate.Struct(reading)
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) || len(fieldErrs) == 0 {
		return errors.Wrap(err, "validate reading")
	}
	fe := fieldErrs[0]
	return &ValidationError{Field: fe.Field(), Reason: reasonFor(fe)}
}

// Predict validates reading, runs the loaded model and labels the result.
// Errors are *ValidationError, ErrServiceUnavailable or an internal failure.
func (s *Service) Predict(reading SensorReading) (PredictionResult, error) {
	if err := s.Validate(reading); err != nil {
		return PredictionResult{}, err
	}
	loaded := s.model.Load()
	if loaded == nil {
		return PredictionResult{}, ErrServiceUnavailable
	}

	p, err := loaded.model.PredictProbability(reading.featureRow())
	if err != nil {
		return PredictionResult{}, errors.Wrap(err, "model inference")
	}
	if math.IsNaN(p) || p < 0 || p > 1 {
		return PredictionResult{}, errors.Errorf("model returned probability %v outside [0, 1]", p)
	}
	return PredictionResult{Label: Decide(p), Probability: p}, nil
}

// Decide maps a failure probability to its operator-facing label.
func Decide(probability float64) string {
	if probability > DecisionThreshold {
		return LabelFailureImminent
	}
	return LabelNormalOperation
}

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

func reasonFor(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "oneof":
		return "must be one of " + strings.Join(ml.MachineTypes(), ", ")
	default:
		return "failed " + fe.Tag() + " check"
	}
}
