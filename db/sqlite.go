package db

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"
)

// ErrNotFound is returned when a prediction id is unknown.
var ErrNotFound = errors.New("record not found")

const schema = `
    CREATE TABLE IF NOT EXISTS predictions (
        id INTEGER PRIMARY KEY AUTOINCREMENT,
        prediction_id TEXT NOT NULL,
        machine_type VARCHAR(1) NOT NULL,
        air_temperature_k REAL NOT NULL,
        process_temperature_k REAL NOT NULL,
        rotational_speed_rpm INTEGER NOT NULL,
        torque_nm REAL NOT NULL,
        tool_wear_min INTEGER NOT NULL,
        prediction_label VARCHAR(20) NOT NULL,
        failure_probability REAL NOT NULL,
        created_at DATETIME NOT NULL,
        UNIQUE(prediction_id)
    );
    CREATE INDEX IF NOT EXISTS idx_predictions_created_at ON predictions(created_at);
    CREATE TABLE IF NOT EXISTS training_log (
        id INTEGER PRIMARY KEY,
        model_name VARCHAR(50),
        dataset TEXT,
        accuracy REAL,
        precision REAL,
        recall REAL,
        f1 REAL,
        trained_at DATETIME,
        data_points INTEGER
    );
    CREATE TABLE IF NOT EXISTS data_quality (
        id INTEGER PRIMARY KEY AUTOINCREMENT,
        dataset TEXT NOT NULL,
        line INTEGER NOT NULL,
        rule TEXT NOT NULL,
        message TEXT,
        created_at DATETIME NOT NULL
    );
    CREATE INDEX IF NOT EXISTS idx_quality_dataset ON data_quality(dataset, line);
    `

// Store persists prediction history and training runs in SQLite.
type Store struct {
	db *sql.DB
}

// Open opens (creating if needed) the database at path and applies the schema.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, errors.Wrap(err, "create database dir")
		}
	}
	database, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL")
	if err != nil {
		return nil, errors.Wrapf(err, "open sqlite %s", path)
	}
	database.SetMaxOpenConns(10)
	database.SetMaxIdleConns(5)
	database.SetConnMaxLifetime(time.Hour)
	if _, err := database.Exec(schema); err != nil {
		database.Close()
		return nil, errors.Wrap(err, "apply schema")
	}
	return &Store{db: database}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// PredictionRecord is one served prediction together with its input.
type PredictionRecord struct {
	ID                  string    `json:"prediction_id"`
	MachineType         string    `json:"type"`
	AirTemperatureK     float64   `json:"air_temperature_k"`
	ProcessTemperatureK float64   `json:"process_temperature_k"`
	RotationalSpeedRPM  int64     `json:"rotational_speed_rpm"`
	TorqueNm            float64   `json:"torque_nm"`
	ToolWearMin         int64     `json:"tool_wear_min"`
	Label               string    `json:"prediction_label"`
	Probability         float64   `json:"failure_probability"`
	CreatedAt           time.Time `json:"created_at"`
}

func (s *Store) SavePrediction(ctx context.Context, r PredictionRecord) error {
	if r.ID == "" {
		return errors.New("prediction id required")
	}
	_, err := s.db.ExecContext(ctx, `
        INSERT INTO predictions (
            prediction_id, machine_type, air_temperature_k, process_temperature_k,
            rotational_speed_rpm, torque_nm, tool_wear_min,
            prediction_label, failure_probability, created_at
        ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.MachineType, r.AirTemperatureK, r.ProcessTemperatureK,
		r.RotationalSpeedRPM, r.TorqueNm, r.ToolWearMin,
		r.Label, r.Probability, r.CreatedAt.UTC())
	return errors.Wrap(err, "insert prediction")
}

const predictionColumns = `
        prediction_id, machine_type, air_temperature_k, process_temperature_k,
        rotational_speed_rpm, torque_nm, tool_wear_min,
        prediction_label, failure_probability, created_at`

// ListPredictions returns the newest predictions first.
func (s *Store) ListPredictions(ctx context.Context, limit int) ([]PredictionRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
        SELECT`+predictionColumns+`
        FROM predictions
        ORDER BY created_at DESC, id DESC
        LIMIT ?`, limit)
	if err != nil {
		return nil, errors.Wrap(err, "query predictions")
	}
	defer rows.Close()

	records := make([]PredictionRecord, 0)
	for rows.Next() {
		r, err := scanPrediction(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, r)
	}
	return records, errors.Wrap(rows.Err(), "iterate predictions")
}

func (s *Store) GetPrediction(ctx context.Context, id string) (PredictionRecord, error) {
	row := s.db.QueryRowContext(ctx, `
        SELECT`+predictionColumns+`
        FROM predictions
        WHERE prediction_id = ?`, id)
	r, err := scanPrediction(row)
	if errors.Is(err, sql.ErrNoRows) {
		return PredictionRecord{}, ErrNotFound
	}
	return r, err
}

type scanner interface {
	Scan(dest ...any) error
}

func scanPrediction(row scanner) (PredictionRecord, error) {
	var r PredictionRecord
	err := row.Scan(&r.ID, &r.MachineType, &r.AirTemperatureK, &r.ProcessTemperatureK,
		&r.RotationalSpeedRPM, &r.TorqueNm, &r.ToolWearMin,
		&r.Label, &r.Probability, &r.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return r, err
	}
	return r, errors.Wrap(err, "scan prediction")
}

type TrainingLog struct {
	ModelName  string    `json:"model_name"`
	Dataset    string    `json:"dataset"`
	Accuracy   float64   `json:"accuracy"`
	Precision  float64   `json:"precision"`
	Recall     float64   `json:"recall"`
	F1         float64   `json:"f1"`
	TrainedAt  time.Time `json:"trained_at"`
	DataPoints int       `json:"data_points"`
}

func (s *Store) SaveTrainingLog(ctx context.Context, log TrainingLog) error {
	_, err := s.db.ExecContext(ctx, `
        INSERT INTO training_log (model_name, dataset, accuracy, precision, recall, f1, trained_at, data_points)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		log.ModelName, log.Dataset, log.Accuracy, log.Precision, log.Recall, log.F1, log.TrainedAt.UTC(), log.DataPoints)
	return errors.Wrap(err, "insert training log")
}

// LoadTrainingLog returns training runs newest first, at most limit of them.
// A non-positive limit returns every run.
func (s *Store) LoadTrainingLog(ctx context.Context, limit int) ([]TrainingLog, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx, `
        SELECT model_name, COALESCE(dataset, ''), accuracy, precision, recall, f1, trained_at, data_points
        FROM training_log
        ORDER BY trained_at DESC, id DESC
        LIMIT ?
    `, limit)
	if err != nil {
		return nil, errors.Wrap(err, "query training log")
	}
	defer rows.Close()

	logs := make([]TrainingLog, 0)
	for rows.Next() {
		var log TrainingLog
		if err := rows.Scan(&log.ModelName, &log.Dataset, &log.Accuracy, &log.Precision, &log.Recall, &log.F1, &log.TrainedAt, &log.DataPoints); err != nil {
			return nil, errors.Wrap(err, "scan training log")
		}
		logs = append(logs, log)
	}
	return logs, errors.Wrap(rows.Err(), "iterate training log")
}

// QualityIssue is a dataset row rejected during cleaning.
type QualityIssue struct {
	Dataset   string    `json:"dataset"`
	Line      int       `json:"line"`
	Rule      string    `json:"rule"`
	Message   string    `json:"message"`
	CreatedAt time.Time `json:"created_at"`
}

// SaveQualityIssues writes issues in one transaction.
func (s *Store) SaveQualityIssues(ctx context.Context, issues []QualityIssue) error {
	if len(issues) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "begin tx")
	}
	stmt, err := tx.PrepareContext(ctx, `
        INSERT INTO data_quality (dataset, line, rule, message, created_at)
        VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		tx.Rollback()
		return errors.Wrap(err, "prepare quality insert")
	}
	defer stmt.Close()

	for _, issue := range issues {
		if _, err := stmt.ExecContext(ctx, issue.Dataset, issue.Line, issue.Rule, issue.Message, issue.CreatedAt.UTC()); err != nil {
			tx.Rollback()
			return errors.Wrap(err, "insert quality issue")
		}
	}
	return errors.Wrap(tx.Commit(), "commit quality issues")
}

// CountQualityIssues reports stored issues per rule for a dataset.
func (s *Store) CountQualityIssues(ctx context.Context, dataset string) (map[string]int, error) {
	rows, err := s.db.QueryContext(ctx, `
        SELECT rule, COUNT(*) FROM data_quality
        WHERE dataset = ?
        GROUP BY rule`, dataset)
	if err != nil {
		return nil, errors.Wrap(err, "query quality issues")
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var rule string
		var n int
		if err := rows.Scan(&rule, &n); err != nil {
			return nil, errors.Wrap(err, "scan quality issue count")
		}
		counts[rule] = n
	}
	return counts, errors.Wrap(rows.Err(), "iterate quality issues")
}
