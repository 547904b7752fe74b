package history

import (
	"context"
	"time"

	"predmaint/db"
	"predmaint/predictor"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

const (
	DefaultCacheSize = 1024
	DefaultLimit     = 20
	MaxLimit         = 500
)

// Store is the durable side of the history; db.Store implements it.
type Store interface {
	SavePrediction(ctx context.Context, r db.PredictionRecord) error
	ListPredictions(ctx context.Context, limit int) ([]db.PredictionRecord, error)
	GetPrediction(ctx context.Context, id string) (db.PredictionRecord, error)
}

// Broadcaster receives every recorded prediction.
type Broadcaster interface {
	Broadcast(messageType string, data interface{})
}

// Recorder keeps served predictions. Recent ones stay in an LRU cache; all of
// them go to the store when one is configured.
type Recorder struct {
	logger      *zap.Logger
	store       Store
	broadcaster Broadcaster
	cache       *lru.Cache[string, db.PredictionRecord]
	now         func() time.Time
}

// NewRecorder builds a recorder. store and broadcaster may be nil.
func NewRecorder(logger *zap.Logger, store Store, broadcaster Broadcaster, cacheSize int) (*Recorder, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cacheSize <= 0 {
		cacheSize = DefaultCacheSize
	}
	cache, err := lru.New[string, db.PredictionRecord](cacheSize)
	if err != nil {
		return nil, errors.Wrap(err, "create history cache")
	}
	return &Recorder{
		logger:      logger.With(zap.String("component", "history")),
		store:       store,
		broadcaster: broadcaster,
		cache:       cache,
		now:         time.Now,
	}, nil
}

// Record stores one prediction and returns it with its new id. A store
// failure is logged; the record is still cached and broadcast.
func (r *Recorder) Record(ctx context.Context, reading predictor.SensorReading, result predictor.PredictionResult) db.PredictionRecord {
	record := db.PredictionRecord{
		ID:          uuid.NewString(),
		Label:       result.Label,
		Probability: result.Probability,
		CreatedAt:   r.now().UTC(),
	}
	if reading.Type != nil {
		record.MachineType = *reading.Type
	}
	if reading.AirTemperatureK != nil {
		record.AirTemperatureK = *reading.AirTemperatureK
	}
	if reading.ProcessTemperatureK != nil {
		record.ProcessTemperatureK = *reading.ProcessTemperatureK
	}
	if reading.RotationalSpeedRPM != nil {
		record.RotationalSpeedRPM = *reading.RotationalSpeedRPM
	}
	if reading.TorqueNm != nil {
		record.TorqueNm = *reading.TorqueNm
	}
	if reading.ToolWearMin != nil {
		record.ToolWearMin = *reading.ToolWearMin
	}

	r.cache.Add(record.ID, record)
	if r.store != nil {
		if err := r.store.SavePrediction(ctx, record); err != nil {
			r.logger.Error("persist prediction failed", zap.String("prediction_id", record.ID), zap.Error(err))
		}
	}
	if r.broadcaster != nil {
		r.broadcaster.Broadcast("prediction", record)
	}
	return record
}

// Get looks the id up in the cache, then in the store.
func (r *Recorder) Get(ctx context.Context, id string) (db.PredictionRecord, error) {
	if record, ok := r.cache.Get(id); ok {
		return record, nil
	}
	if r.store == nil {
		return db.PredictionRecord{}, db.ErrNotFound
	}
	record, err := r.store.GetPrediction(ctx, id)
	if err != nil {
		return db.PredictionRecord{}, err
	}
	r.cache.Add(id, record)
	return record, nil
}

// List returns up to limit predictions, newest first. limit is clamped to
// [1, MaxLimit]; zero or negative means DefaultLimit.
func (r *Recorder) List(ctx context.Context, limit int) ([]db.PredictionRecord, error) {
	limit = ClampLimit(limit)
	if r.store != nil {
		return r.store.ListPredictions(ctx, limit)
	}

	keys := r.cache.Keys()
	records := make([]db.PredictionRecord, 0, limit)
	for i := len(keys) - 1; i >= 0 && len(records) < limit; i-- {
		if record, ok := r.cache.Peek(keys[i]); ok {
			records = append(records, record)
		}
	}
	return records, nil
}

func ClampLimit(limit int) int {
	if limit <= 0 {
		return DefaultLimit
	}
	if limit > MaxLimit {
		return MaxLimit
	}
	return limit
}
