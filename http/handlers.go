package http

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"predmaint/db"
	"predmaint/history"
	"predmaint/ml"
	"predmaint/monitoring"
	"predmaint/predictor"

	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// TrainingHistory reports offline training runs and the rows they rejected.
type TrainingHistory interface {
	LoadTrainingLog(ctx context.Context, limit int) ([]db.TrainingLog, error)
	CountQualityIssues(ctx context.Context, dataset string) (map[string]int, error)
}

// Deps are the collaborators the API serves. Training, Feed, Alerts and
// Metrics are optional.
type Deps struct {
	Logger    *zap.Logger
	Predictor *predictor.Service
	History   *history.Recorder
	Training  TrainingHistory
	Alerts    *monitoring.AlertSystem
	Feed      http.Handler
	Metrics   *monitoring.Metrics
}

type API struct {
	logger    *zap.Logger
	predictor *predictor.Service
	history   *history.Recorder
	training  TrainingHistory
	alerts    *monitoring.AlertSystem
	feed      http.Handler
	metrics   *monitoring.Metrics
}

func NewAPI(deps Deps) *API {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &API{
		logger:    logger.With(zap.String("component", "api")),
		predictor: deps.Predictor,
		history:   deps.History,
		training:  deps.Training,
		alerts:    deps.Alerts,
		feed:      deps.Feed,
		metrics:   deps.Metrics,
	}
}

// RegisterHandlers mounts every route on mux.
func (a *API) RegisterHandlers(mux *http.ServeMux) {
	mux.Handle("POST /predict", a.instrument("/predict", a.handlePredict))
	mux.Handle("GET /api/health", a.instrument("/api/health", a.handleHealth))
	mux.Handle("GET /api/ready", a.instrument("/api/ready", a.handleReady))
	mux.Handle("GET /api/model", a.instrument("/api/model", a.handleModel))
	mux.Handle("GET /api/predictions", a.instrument("/api/predictions", a.handleListPredictions))
	mux.Handle("GET /api/predictions/{id}", a.instrument("/api/predictions/{id}", a.handleGetPrediction))
	if a.alerts != nil {
		mux.Handle("GET /api/alerts", a.instrument("/api/alerts", a.handleAlerts))
		mux.Handle("POST /api/alerts/{id}/resolve", a.instrument("/api/alerts/{id}/resolve", a.handleResolveAlert))
	}
	if a.feed != nil {
		mux.Handle("GET /api/ws/predictions", a.feed)
	}
	if a.metrics != nil {
		mux.Handle("GET /metrics", a.metrics.Handler())
	}
}

type predictResponse struct {
	PredictionID string  `json:"prediction_id"`
	Label        string  `json:"prediction_label"`
	Probability  float64 `json:"failure_probability"`
}

type modelResponse struct {
	ml.ArtifactInfo
	LastTraining  *db.TrainingLog `json:"last_training,omitempty"`
	QualityIssues map[string]int  `json:"quality_issues,omitempty"`
}

type errorResponse struct {
	Error  string `json:"error"`
	Field  string `json:"field,omitempty"`
	Reason string `json:"reason,omitempty"`
}

func (a *API) handlePredict(w http.ResponseWriter, r *http.Request) {
	var reading predictor.SensorReading
	if err := json.NewDecoder(r.Body).Decode(&reading); err != nil {
		a.countError("validation")
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			respondJSON(w, http.StatusRequestEntityTooLarge, errorResponse{Error: "request_too_large"})
			return
		}
		var verr *predictor.ValidationError
		if errors.As(err, &verr) {
			respondJSON(w, http.StatusUnprocessableEntity, validationResponse(verr))
			return
		}
		respondJSON(w, http.StatusUnprocessableEntity, errorResponse{Error: "validation_error", Field: "body", Reason: "malformed JSON"})
		return
	}

	start := time.Now()
	result, err := a.predictor.Predict(reading)
	if a.metrics != nil {
		a.metrics.InferenceLatency.Observe(time.Since(start).Seconds())
	}
	if err != nil {
		var verr *predictor.ValidationError
		switch {
		case errors.As(err, &verr):
			a.countError("validation")
			respondJSON(w, http.StatusUnprocessableEntity, validationResponse(verr))
		case errors.Is(err, predictor.ErrServiceUnavailable):
			a.countError("unavailable")
			respondJSON(w, http.StatusServiceUnavailable, errorResponse{Error: "service_unavailable", Reason: "model not loaded"})
		default:
			a.countError("internal")
			a.logger.Error("prediction failed", zap.String("request_id", GetRequestID(r.Context())), zap.Error(err))
			respondJSON(w, http.StatusInternalServerError, errorResponse{Error: "internal_error"})
		}
		return
	}

	record := a.history.Record(r.Context(), reading, result)
	if a.alerts != nil {
		a.alerts.Observe(record)
	}
	if a.metrics != nil {
		a.metrics.Predictions.WithLabelValues(result.Label).Inc()
		a.metrics.Probability.Observe(result.Probability)
	}
	respondJSON(w, http.StatusOK, predictResponse{
		PredictionID: record.ID,
		Label:        result.Label,
		Probability:  result.Probability,
	})
}

func (a *API) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"status":       "ok",
		"model_loaded": a.predictor.Ready(),
		"state":        a.predictor.State().String(),
	})
}

func (a *API) handleReady(w http.ResponseWriter, r *http.Request) {
	state := a.predictor.State()
	status := http.StatusOK
	if state != predictor.StateReady {
		status = http.StatusServiceUnavailable
	}
	respondJSON(w, status, map[string]string{"status": state.String()})
}

func (a *API) handleModel(w http.ResponseWriter, r *http.Request) {
	info, ok := a.predictor.ModelInfo()
	if !ok {
		respondJSON(w, http.StatusServiceUnavailable, errorResponse{Error: "service_unavailable", Reason: "model not loaded"})
		return
	}
	resp := modelResponse{ArtifactInfo: info}
	if a.training != nil {
		a.attachTraining(r.Context(), &resp)
	}
	respondJSON(w, http.StatusOK, resp)
}

// attachTraining adds the latest training run and its rejected-row counts.
// Lookup failures only drop the section.
func (a *API) attachTraining(ctx context.Context, resp *modelResponse) {
	logs, err := a.training.LoadTrainingLog(ctx, 1)
	if err != nil {
		a.logger.Warn("training log unavailable", zap.Error(err))
		return
	}
	if len(logs) == 0 {
		return
	}
	resp.LastTraining = &logs[0]
	if logs[0].Dataset == "" {
		return
	}
	counts, err := a.training.CountQualityIssues(ctx, logs[0].Dataset)
	if err != nil {
		a.logger.Warn("quality issue counts unavailable", zap.String("dataset", logs[0].Dataset), zap.Error(err))
		return
	}
	resp.QualityIssues = counts
}

func (a *API) handleListPredictions(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		l, err := strconv.Atoi(raw)
		if err != nil {
			respondJSON(w, http.StatusBadRequest, errorResponse{Error: "bad_request", Field: "limit", Reason: "must be an integer"})
			return
		}
		limit = l
	}

	records, err := a.history.List(r.Context(), limit)
	if err != nil {
		a.logger.Error("list predictions failed", zap.Error(err))
		respondJSON(w, http.StatusInternalServerError, errorResponse{Error: "internal_error"})
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"count":       len(records),
		"predictions": records,
	})
}

func (a *API) handleGetPrediction(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	record, err := a.history.Get(r.Context(), id)
	if errors.Is(err, db.ErrNotFound) {
		respondJSON(w, http.StatusNotFound, errorResponse{Error: "not_found"})
		return
	}
	if err != nil {
		a.logger.Error("get prediction failed", zap.String("prediction_id", id), zap.Error(err))
		respondJSON(w, http.StatusInternalServerError, errorResponse{Error: "internal_error"})
		return
	}
	respondJSON(w, http.StatusOK, record)
}

func (a *API) handleAlerts(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"alerts": a.alerts.ActiveAlerts(),
		"stats":  a.alerts.GetStats(),
	})
}

func (a *API) handleResolveAlert(w http.ResponseWriter, r *http.Request) {
	alert, err := a.alerts.ResolveAlert(r.PathValue("id"))
	if errors.Is(err, monitoring.ErrAlertNotFound) {
		respondJSON(w, http.StatusNotFound, errorResponse{Error: "not_found"})
		return
	}
	respondJSON(w, http.StatusOK, alert)
}

// instrument records request latency under a fixed route label.
func (a *API) instrument(route string, h http.HandlerFunc) http.Handler {
	if a.metrics == nil {
		return h
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		h(wrapped, r)
		a.metrics.HTTPDuration.WithLabelValues(route, strconv.Itoa(wrapped.statusCode)).Observe(time.Since(start).Seconds())
	})
}

func (a *API) countError(kind string) {
	if a.metrics != nil {
		a.metrics.RequestErrors.WithLabelValues(kind).Inc()
	}
}

func validationResponse(err *predictor.ValidationError) errorResponse {
	return errorResponse{Error: "validation_error", Field: err.Field, Reason: err.Reason}
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
