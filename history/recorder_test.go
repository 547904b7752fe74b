package history

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"predmaint/db"
	"predmaint/predictor"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type captureBroadcaster struct {
	mu       sync.Mutex
	messages []interface{}
}

func (b *captureBroadcaster) Broadcast(messageType string, data interface{}) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.messages = append(b.messages, data)
}

type failingStore struct{}

func (failingStore) SavePrediction(context.Context, db.PredictionRecord) error {
	return errors.New("disk full")
}

func (failingStore) ListPredictions(context.Context, int) ([]db.PredictionRecord, error) {
	return nil, errors.New("disk full")
}

func (failingStore) GetPrediction(context.Context, string) (db.PredictionRecord, error) {
	return db.PredictionRecord{}, errors.New("disk full")
}

func reading() predictor.SensorReading {
	return predictor.NewSensorReading("H", 300.2, 310.9, 1400, 55.1, 120)
}

func result() predictor.PredictionResult {
	return predictor.PredictionResult{Label: predictor.LabelFailureImminent, Probability: 0.83}
}

func TestRecordCachesAndBroadcasts(t *testing.T) {
	b := &captureBroadcaster{}
	r, err := NewRecorder(nil, nil, b, 8)
	require.NoError(t, err)

	rec := r.Record(context.Background(), reading(), result())
	assert.NotEmpty(t, rec.ID)
	assert.Equal(t, "H", rec.MachineType)
	assert.Equal(t, int64(1400), rec.RotationalSpeedRPM)
	assert.Equal(t, 0.83, rec.Probability)

	got, err := r.Get(context.Background(), rec.ID)
	require.NoError(t, err)
	assert.Equal(t, rec, got)
	assert.Len(t, b.messages, 1)

	_, err = r.Get(context.Background(), "unknown")
	assert.ErrorIs(t, err, db.ErrNotFound)
}

func TestListFromCacheNewestFirst(t *testing.T) {
	r, err := NewRecorder(nil, nil, nil, 8)
	require.NoError(t, err)
	var ids []string
	for i := 0; i < 3; i++ {
		ids = append(ids, r.Record(context.Background(), reading(), result()).ID)
	}

	records, err := r.List(context.Background(), 2)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, ids[2], records[0].ID)
	assert.Equal(t, ids[1], records[1].ID)
}

func TestGetFallsBackToStore(t *testing.T) {
	store, err := db.Open(filepath.Join(t.TempDir(), "history.db"))
	require.NoError(t, err)
	defer store.Close()

	writer, err := NewRecorder(nil, store, nil, 8)
	require.NoError(t, err)
	rec := writer.Record(context.Background(), reading(), result())

	reader, err := NewRecorder(nil, store, nil, 8)
	require.NoError(t, err)
	got, err := reader.Get(context.Background(), rec.ID)
	require.NoError(t, err)
	assert.Equal(t, rec.ID, got.ID)
	assert.Equal(t, rec.Label, got.Label)
	assert.True(t, rec.CreatedAt.Equal(got.CreatedAt))

	listed, err := reader.List(context.Background(), 0)
	require.NoError(t, err)
	require.Len(t, listed, 1)
}

func TestStoreFailureDoesNotDropRecord(t *testing.T) {
	b := &captureBroadcaster{}
	r, err := NewRecorder(nil, failingStore{}, b, 8)
	require.NoError(t, err)
	r.now = func() time.Time { return time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC) }

	rec := r.Record(context.Background(), reading(), result())
	got, err := r.Get(context.Background(), rec.ID)
	require.NoError(t, err)
	assert.Equal(t, rec, got)
	assert.Len(t, b.messages, 1)
}

func TestClampLimit(t *testing.T) {
	assert.Equal(t, DefaultLimit, ClampLimit(0))
	assert.Equal(t, DefaultLimit, ClampLimit(-3))
	assert.Equal(t, 7, ClampLimit(7))
	assert.Equal(t, MaxLimit, ClampLimit(10000))
}
