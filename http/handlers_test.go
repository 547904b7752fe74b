package http

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"predmaint/db"
	"predmaint/history"
	"predmaint/ml"
	"predmaint/monitoring"
	"predmaint/predictor"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeModel struct {
	probability float64
	calls       int
}

func (f *fakeModel) PredictProbability(row ml.FeatureRow) (float64, error) {
	f.calls++
	return f.probability, nil
}

func (f *fakeModel) Info() ml.ArtifactInfo {
	return ml.ArtifactInfo{Trees: 3, NumericalFeatures: ml.NumericalFeatures(), CategoricalFeatures: ml.CategoricalFeatures()}
}

const validBody = `{"type":"M","air_temperature_k":298.1,"process_temperature_k":308.6,"rotational_speed_rpm":1551,"torque_nm":42.8,"tool_wear_min":0}`

func newTestHandler(t *testing.T, svc *predictor.Service) (http.Handler, *monitoring.Metrics) {
	t.Helper()
	recorder, err := history.NewRecorder(nil, nil, nil, 16)
	require.NoError(t, err)
	metrics := monitoring.NewMetrics()
	api := NewAPI(Deps{Predictor: svc, History: recorder, Metrics: metrics})
	return NewHandler(DefaultServerConfig(), api, nil), metrics
}

func do(t *testing.T, h http.Handler, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, target, nil)
	} else {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var payload map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &payload), rec.Body.String())
	return payload
}

func TestPredictSuccess(t *testing.T) {
	h, metrics := newTestHandler(t, predictor.NewWithModel(nil, &fakeModel{probability: 0.73}))

	rec := do(t, h, http.MethodPost, "/predict", validBody)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.NotEmpty(t, rec.Header().Get(RequestIDHeader))

	payload := decode(t, rec)
	assert.Equal(t, predictor.LabelFailureImminent, payload["prediction_label"])
	assert.Equal(t, 0.73, payload["failure_probability"])
	assert.NotEmpty(t, payload["prediction_id"])
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.Predictions.WithLabelValues(predictor.LabelFailureImminent)))

	got := do(t, h, http.MethodGet, "/api/predictions/"+payload["prediction_id"].(string), "")
	require.Equal(t, http.StatusOK, got.Code)
	assert.Equal(t, "M", decode(t, got)["type"])
}

func TestPredictAcceptsColumnAliases(t *testing.T) {
	h, _ := newTestHandler(t, predictor.NewWithModel(nil, &fakeModel{probability: 0.5}))
	body := `{"Type":"L","Air temperature [K]":298.1,"Process temperature [K]":308.6,"Rotational speed [rpm]":1551,"Torque [Nm]":42.8,"Tool wear [min]":0}`

	rec := do(t, h, http.MethodPost, "/predict", body)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, predictor.LabelNormalOperation, decode(t, rec)["prediction_label"])
}

func TestPredictValidationErrors(t *testing.T) {
	cases := []struct {
		name  string
		body  string
		field string
	}{
		{"missing field", `{"type":"M","air_temperature_k":298.1,"process_temperature_k":308.6,"rotational_speed_rpm":1551,"tool_wear_min":0}`, "torque_nm"},
		{"bad type", strings.Replace(validBody, `"M"`, `"X"`, 1), "type"},
		{"wrong json type", strings.Replace(validBody, `298.1`, `"warm"`, 1), "air_temperature_k"},
		{"missing type before wrong json type", `{"air_temperature_k":"warm"}`, "type"},
		{"malformed", `{"type":`, "body"},
		{"empty", ``, "body"},
		{"array", `[]`, "body"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			model := &fakeModel{probability: 0.9}
			h, _ := newTestHandler(t, predictor.NewWithModel(nil, model))
			req := httptest.NewRequest(http.MethodPost, "/predict", strings.NewReader(tc.body))
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)

			require.Equal(t, http.StatusUnprocessableEntity, rec.Code, rec.Body.String())
			payload := decode(t, rec)
			assert.Equal(t, "validation_error", payload["error"])
			assert.Equal(t, tc.field, payload["field"])
			assert.Zero(t, model.calls)
		})
	}
}

func TestPredictUnavailableWithoutModel(t *testing.T) {
	h, metrics := newTestHandler(t, predictor.New(nil))

	rec := do(t, h, http.MethodPost, "/predict", validBody)
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "service_unavailable", decode(t, rec)["error"])
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.RequestErrors.WithLabelValues("unavailable")))

	// validation still comes first
	rec = do(t, h, http.MethodPost, "/predict", `{"type":"M"}`)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestPredictInternalError(t *testing.T) {
	h, _ := newTestHandler(t, predictor.NewWithModel(nil, &fakeModel{probability: 2}))
	rec := do(t, h, http.MethodPost, "/predict", validBody)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "internal_error", decode(t, rec)["error"])
}

func TestPredictRejectsOversizedBody(t *testing.T) {
	recorder, err := history.NewRecorder(nil, nil, nil, 4)
	require.NoError(t, err)
	api := NewAPI(Deps{Predictor: predictor.NewWithModel(nil, &fakeModel{}), History: recorder})
	config := DefaultServerConfig()
	config.MaxBodyBytes = 16
	h := NewHandler(config, api, nil)

	rec := do(t, h, http.MethodPost, "/predict", validBody)
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
}

func TestPredictMethodNotAllowed(t *testing.T) {
	h, _ := newTestHandler(t, predictor.New(nil))
	rec := do(t, h, http.MethodGet, "/predict", "")
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestHealthAndReadiness(t *testing.T) {
	unready, _ := newTestHandler(t, predictor.New(nil))
	rec := do(t, unready, http.MethodGet, "/api/health", "")
	require.Equal(t, http.StatusOK, rec.Code)
	payload := decode(t, rec)
	assert.Equal(t, "ok", payload["status"])
	assert.Equal(t, false, payload["model_loaded"])
	assert.Equal(t, "unready", payload["state"])

	assert.Equal(t, http.StatusServiceUnavailable, do(t, unready, http.MethodGet, "/api/ready", "").Code)
	assert.Equal(t, http.StatusServiceUnavailable, do(t, unready, http.MethodGet, "/api/model", "").Code)

	ready, _ := newTestHandler(t, predictor.NewWithModel(nil, &fakeModel{}))
	assert.Equal(t, http.StatusOK, do(t, ready, http.MethodGet, "/api/ready", "").Code)
	model := do(t, ready, http.MethodGet, "/api/model", "")
	require.Equal(t, http.StatusOK, model.Code)
	assert.Equal(t, 3.0, decode(t, model)["trees"])
}

func TestListPredictions(t *testing.T) {
	h, _ := newTestHandler(t, predictor.NewWithModel(nil, &fakeModel{probability: 0.1}))
	for i := 0; i < 3; i++ {
		require.Equal(t, http.StatusOK, do(t, h, http.MethodPost, "/predict", validBody).Code)
	}

	rec := do(t, h, http.MethodGet, "/api/predictions?limit=2", "")
	require.Equal(t, http.StatusOK, rec.Code)
	payload := decode(t, rec)
	assert.Equal(t, 2.0, payload["count"])

	assert.Equal(t, http.StatusBadRequest, do(t, h, http.MethodGet, "/api/predictions?limit=abc", "").Code)
	assert.Equal(t, http.StatusNotFound, do(t, h, http.MethodGet, "/api/predictions/unknown", "").Code)
}

func TestMetricsEndpoint(t *testing.T) {
	h, _ := newTestHandler(t, predictor.NewWithModel(nil, &fakeModel{probability: 0.1}))
	do(t, h, http.MethodPost, "/predict", validBody)

	rec := do(t, h, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "predmaint_predictions_total")
	assert.Contains(t, rec.Body.String(), `predmaint_http_request_seconds_count{code="200",route="/predict"} 1`)
}

func TestFailurePredictionRaisesAlert(t *testing.T) {
	recorder, err := history.NewRecorder(nil, nil, nil, 16)
	require.NoError(t, err)
	alerts := monitoring.NewAlertSystem(nil, nil, monitoring.DefaultAlertConfig())
	api := NewAPI(Deps{
		Predictor: predictor.NewWithModel(nil, &fakeModel{probability: 0.95}),
		History:   recorder,
		Alerts:    alerts,
	})
	h := NewHandler(DefaultServerConfig(), api, nil)

	require.Equal(t, http.StatusOK, do(t, h, http.MethodPost, "/predict", validBody).Code)

	rec := do(t, h, http.MethodGet, "/api/alerts", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var payload struct {
		Alerts []monitoring.Alert    `json:"alerts"`
		Stats  monitoring.AlertStats `json:"stats"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &payload))
	require.Len(t, payload.Alerts, 1)
	assert.Equal(t, monitoring.Critical, payload.Alerts[0].Level)

	resolved := do(t, h, http.MethodPost, "/api/alerts/"+payload.Alerts[0].ID+"/resolve", "")
	require.Equal(t, http.StatusOK, resolved.Code)
	assert.Equal(t, true, decode(t, resolved)["resolved"])
	assert.Empty(t, alerts.ActiveAlerts())

	assert.Equal(t, http.StatusNotFound, do(t, h, http.MethodPost, "/api/alerts/nope/resolve", "").Code)
}

func TestGetPredictionByID(t *testing.T) {
	h, _ := newTestHandler(t, predictor.NewWithModel(nil, &fakeModel{probability: 0.3}))
	created := do(t, h, http.MethodPost, "/predict", validBody)
	require.Equal(t, http.StatusOK, created.Code)
	id, ok := decode(t, created)["prediction_id"].(string)
	require.True(t, ok)
	require.NotEmpty(t, id)

	rec := do(t, h, http.MethodGet, "/api/predictions/"+id, "")
	require.Equal(t, http.StatusOK, rec.Code)
	payload := decode(t, rec)
	assert.Equal(t, id, payload["prediction_id"])
	assert.Equal(t, predictor.LabelNormalOperation, payload["prediction_label"])
	assert.Equal(t, "M", payload["type"])
}

type fakeTraining struct {
	logs    []db.TrainingLog
	counts  map[string]int
	dataset string
	err     error
}

func (f *fakeTraining) LoadTrainingLog(ctx context.Context, limit int) ([]db.TrainingLog, error) {
	if f.err != nil {
		return nil, f.err
	}
	if limit > 0 && limit < len(f.logs) {
		return f.logs[:limit], nil
	}
	return f.logs, nil
}

func (f *fakeTraining) CountQualityIssues(ctx context.Context, dataset string) (map[string]int, error) {
	f.dataset = dataset
	return f.counts, nil
}

func TestModelIncludesTrainingSummary(t *testing.T) {
	newTrainingHandler := func(training TrainingHistory) http.Handler {
		recorder, err := history.NewRecorder(nil, nil, nil, 16)
		require.NoError(t, err)
		api := NewAPI(Deps{
			Predictor: predictor.NewWithModel(nil, &fakeModel{}),
			History:   recorder,
			Training:  training,
		})
		return NewHandler(DefaultServerConfig(), api, nil)
	}

	training := &fakeTraining{
		logs: []db.TrainingLog{
			{ModelName: "random_forest", Dataset: "ai4i2020.csv", Accuracy: 0.97, DataPoints: 9999},
			{ModelName: "random_forest", Dataset: "older.csv", Accuracy: 0.9},
		},
		counts: map[string]int{"machine_type": 2},
	}
	rec := do(t, newTrainingHandler(training), http.MethodGet, "/api/model", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var payload struct {
		Trees         int             `json:"trees"`
		LastTraining  *db.TrainingLog `json:"last_training"`
		QualityIssues map[string]int  `json:"quality_issues"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &payload))
	assert.Equal(t, 3, payload.Trees)
	require.NotNil(t, payload.LastTraining)
	assert.Equal(t, 0.97, payload.LastTraining.Accuracy)
	assert.Equal(t, 9999, payload.LastTraining.DataPoints)
	assert.Equal(t, map[string]int{"machine_type": 2}, payload.QualityIssues)
	assert.Equal(t, "ai4i2020.csv", training.dataset)

	failing := do(t, newTrainingHandler(&fakeTraining{err: errors.New("locked")}), http.MethodGet, "/api/model", "")
	require.Equal(t, http.StatusOK, failing.Code)
	body := decode(t, failing)
	assert.Equal(t, 3.0, body["trees"])
	assert.NotContains(t, body, "last_training")
}
