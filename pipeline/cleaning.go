package pipeline

import (
	"math"
	"strings"
	"sync"
	"time"

	"predmaint/ml"

	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// CleaningRule validates a point. It may return a corrected copy; an error
// rejects the point.
type CleaningRule interface {
	Apply(*DataPoint) (*DataPoint, error)
	Name() string
}

type QualityIssue struct {
	Rule      string    `json:"rule"`
	Message   string    `json:"message"`
	Line      int       `json:"line"`
	Timestamp time.Time `json:"timestamp"`
}

type CleaningStats struct {
	TotalProcessed int64            `json:"total_processed"`
	Passed         int64            `json:"passed"`
	Rejected       int64            `json:"rejected"`
	Corrected      int64            `json:"corrected"`
	Issues         map[string]int64 `json:"issues"`
	LastClean      time.Time        `json:"last_clean"`
}

type DataCleaner struct {
	rules  []CleaningRule
	logger *zap.Logger

	mu    sync.RWMutex
	stats CleaningStats
}

// NewDataCleaner returns a cleaner with the default dataset rules.
func NewDataCleaner(logger *zap.Logger) *DataCleaner {
	if logger == nil {
		logger = zap.NewNop()
	}
	cleaner := &DataCleaner{
		logger: logger.With(zap.String("component", "cleaner")),
		stats:  CleaningStats{Issues: make(map[string]int64)},
	}
	cleaner.AddRule(NewMachineTypeRule())
	cleaner.AddRule(NewFiniteValueRule())
	cleaner.AddRule(NewRangeValidationRule())
	cleaner.AddRule(NewLabelValidationRule())
	cleaner.AddRule(NewDuplicateDetectionRule())
	return cleaner
}

func (dc *DataCleaner) AddRule(rule CleaningRule) {
	dc.rules = append(dc.rules, rule)
	dc.logger.Debug("added cleaning rule", zap.String("rule", rule.Name()))
}

// Clean runs every rule on every point and returns the points that passed.
// A point is rejected if any rule fails; all failures are reported.
func (dc *DataCleaner) Clean(points []*DataPoint) ([]*DataPoint, []QualityIssue) {
	var cleaned []*DataPoint
	var issues []QualityIssue

	dc.mu.Lock()
	defer dc.mu.Unlock()

	for _, point := range points {
		dc.stats.TotalProcessed++

		original := *point
		current := point
		var pointIssues []QualityIssue
		for _, rule := range dc.rules {
			next, err := rule.Apply(current)
			if err != nil {
				pointIssues = append(pointIssues, QualityIssue{
					Rule:      rule.Name(),
					Message:   err.Error(),
					Line:      point.Line,
					Timestamp: time.Now(),
				})
				dc.stats.Issues[rule.Name()]++
				continue
			}
			if next != nil {
				current = next
			}
		}

		if len(pointIssues) > 0 {
			dc.stats.Rejected++
			issues = append(issues, pointIssues...)
			continue
		}
		if original != *current {
			dc.stats.Corrected++
		}
		dc.stats.Passed++
		cleaned = append(cleaned, current)
	}
	dc.stats.LastClean = time.Now()

	if len(issues) > 0 {
		dc.logger.Warn("rejected dataset rows",
			zap.Int("rows", len(points)-len(cleaned)),
			zap.Int("issues", len(issues)))
	}
	return cleaned, issues
}

func (dc *DataCleaner) GetStats() CleaningStats {
	dc.mu.RLock()
	defer dc.mu.RUnlock()

	stats := dc.stats
	stats.Issues = make(map[string]int64, len(dc.stats.Issues))
	for k, v := range dc.stats.Issues {
		stats.Issues[k] = v
	}
	return stats
}

// MachineTypeRule upper-cases and trims the type symbol, then requires it to
// be one of L, M, H.
type MachineTypeRule struct{}

func NewMachineTypeRule() *MachineTypeRule { return &MachineTypeRule{} }

func (r *MachineTypeRule) Name() string { return "machine_type" }

func (r *MachineTypeRule) Apply(point *DataPoint) (*DataPoint, error) {
	normalized := strings.ToUpper(strings.TrimSpace(point.Type))
	if !ml.IsMachineType(normalized) {
		return nil, errors.Errorf("machine type %q not in %v", point.Type, ml.MachineTypes())
	}
	if normalized == point.Type {
		return point, nil
	}
	corrected := *point
	corrected.Type = normalized
	return &corrected, nil
}

type FiniteValueRule struct{}

func NewFiniteValueRule() *FiniteValueRule { return &FiniteValueRule{} }

func (r *FiniteValueRule) Name() string { return "finite_value" }

func (r *FiniteValueRule) Apply(point *DataPoint) (*DataPoint, error) {
	values := numericValues(point)
	for _, column := range ml.NumericalFeatures() {
		value := values[column]
		if math.IsNaN(value) || math.IsInf(value, 0) {
			return nil, errors.Errorf("%s is not a finite number", column)
		}
	}
	return point, nil
}

// RangeValidationRule rejects physically impossible readings.
type RangeValidationRule struct {
	MinTemperatureK float64
}

func NewRangeValidationRule() *RangeValidationRule {
	return &RangeValidationRule{MinTemperatureK: 0}
}

func (r *RangeValidationRule) Name() string { return "range_validation" }

func (r *RangeValidationRule) Apply(point *DataPoint) (*DataPoint, error) {
	if point.AirTemperature <= r.MinTemperatureK {
		return nil, errors.Errorf("%s %.2f must be above %.2f", ml.ColumnAirTemperature, point.AirTemperature, r.MinTemperatureK)
	}
	if point.ProcessTemperature <= r.MinTemperatureK {
		return nil, errors.Errorf("%s %.2f must be above %.2f", ml.ColumnProcessTemperature, point.ProcessTemperature, r.MinTemperatureK)
	}
	if point.RotationalSpeed < 0 {
		return nil, errors.Errorf("%s %.0f is negative", ml.ColumnRotationalSpeed, point.RotationalSpeed)
	}
	if point.Torque < 0 {
		return nil, errors.Errorf("%s %.2f is negative", ml.ColumnTorque, point.Torque)
	}
	if point.ToolWear < 0 {
		return nil, errors.Errorf("%s %.0f is negative", ml.ColumnToolWear, point.ToolWear)
	}
	return point, nil
}

type LabelValidationRule struct{}

func NewLabelValidationRule() *LabelValidationRule { return &LabelValidationRule{} }

func (r *LabelValidationRule) Name() string { return "label_validation" }

func (r *LabelValidationRule) Apply(point *DataPoint) (*DataPoint, error) {
	if point.Label != 0 && point.Label != 1 {
		return nil, errors.Errorf("%s must be 0 or 1", ml.ColumnTarget)
	}
	return point, nil
}

// DuplicateDetectionRule rejects a second row with the same UDI. Rows without
// a UDI are never considered duplicates.
type DuplicateDetectionRule struct {
	seen map[string]int
	mu   sync.Mutex
}

func NewDuplicateDetectionRule() *DuplicateDetectionRule {
	return &DuplicateDetectionRule{seen: make(map[string]int)}
}

func (r *DuplicateDetectionRule) Name() string { return "duplicate_detection" }

func (r *DuplicateDetectionRule) Apply(point *DataPoint) (*DataPoint, error) {
	if point.UDI == "" {
		return point, nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if line, exists := r.seen[point.UDI]; exists {
		return nil, errors.Errorf("duplicate UDI %s, first seen on line %d", point.UDI, line)
	}
	r.seen[point.UDI] = point.Line
	return point, nil
}

func numericValues(point *DataPoint) map[string]float64 {
	return map[string]float64{
		ml.ColumnAirTemperature:     point.AirTemperature,
		ml.ColumnProcessTemperature: point.ProcessTemperature,
		ml.ColumnRotationalSpeed:    point.RotationalSpeed,
		ml.ColumnTorque:             point.Torque,
		ml.ColumnToolWear:           point.ToolWear,
	}
}
