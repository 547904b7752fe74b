package monitoring

import (
	"sort"
	"sync"
	"time"

	"predmaint/db"
	"predmaint/predictor"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

type AlertLevel string

const (
	Warning  AlertLevel = "warning"
	Critical AlertLevel = "critical"
)

var ErrAlertNotFound = errors.New("alert not found")

// Alert is raised for every prediction labelled Failure Imminent.
type Alert struct {
	ID           string     `json:"id"`
	Level        AlertLevel `json:"level"`
	Title        string     `json:"title"`
	MachineType  string     `json:"type"`
	PredictionID string     `json:"prediction_id"`
	Probability  float64    `json:"failure_probability"`
	Timestamp    time.Time  `json:"timestamp"`
	Resolved     bool       `json:"resolved"`
	ResolvedAt   *time.Time `json:"resolved_at,omitempty"`
}

type AlertConfig struct {
	// CriticalProbability upgrades an alert from warning to critical.
	CriticalProbability float64 `yaml:"critical_probability"`
	// Cooldown suppresses repeat notifications for the same machine type.
	Cooldown time.Duration `yaml:"cooldown"`
	// MaxAlerts bounds how many alerts are retained; oldest resolved go first.
	MaxAlerts int `yaml:"max_alerts"`
}

func DefaultAlertConfig() AlertConfig {
	return AlertConfig{
		CriticalProbability: 0.9,
		Cooldown:            time.Minute,
		MaxAlerts:           1000,
	}
}

type AlertStats struct {
	TotalAlerts    int64                `json:"total_alerts"`
	ActiveAlerts   int64                `json:"active_alerts"`
	ResolvedAlerts int64                `json:"resolved_alerts"`
	Suppressed     int64                `json:"suppressed"`
	ByLevel        map[AlertLevel]int64 `json:"by_level"`
	LastAlert      time.Time            `json:"last_alert"`
}

// Broadcaster pushes a message to live-feed clients; *Hub implements it.
type Broadcaster interface {
	Broadcast(messageType string, data interface{})
}

type AlertSystem struct {
	logger      *zap.Logger
	broadcaster Broadcaster
	config      AlertConfig
	now         func() time.Time

	mu       sync.RWMutex
	alerts   map[string]*Alert
	order    []string
	lastSent map[string]time.Time
	stats    AlertStats
}

func NewAlertSystem(logger *zap.Logger, broadcaster Broadcaster, config AlertConfig) *AlertSystem {
	if logger == nil {
		logger = zap.NewNop()
	}
	defaults := DefaultAlertConfig()
	if config.CriticalProbability <= 0 || config.CriticalProbability > 1 {
		config.CriticalProbability = defaults.CriticalProbability
	}
	if config.MaxAlerts <= 0 {
		config.MaxAlerts = defaults.MaxAlerts
	}
	return &AlertSystem{
		logger:      logger.With(zap.String("component", "alerts")),
		broadcaster: broadcaster,
		config:      config,
		now:         time.Now,
		alerts:      make(map[string]*Alert),
		lastSent:    make(map[string]time.Time),
		stats:       AlertStats{ByLevel: make(map[AlertLevel]int64)},
	}
}

// Observe raises an alert when record predicts an imminent failure. The
// alert is always stored; it is broadcast unless the machine type is still
// in cooldown.
func (a *AlertSystem) Observe(record db.PredictionRecord) (*Alert, bool) {
	if record.Label != predictor.LabelFailureImminent {
		return nil, false
	}

	level := Warning
	if record.Probability >= a.config.CriticalProbability {
		level = Critical
	}
	now := a.now().UTC()
	alert := &Alert{
		ID:           uuid.NewString(),
		Level:        level,
		Title:        "Failure imminent on type " + record.MachineType + " machine",
		MachineType:  record.MachineType,
		PredictionID: record.ID,
		Probability:  record.Probability,
		Timestamp:    now,
	}

	a.mu.Lock()
	a.alerts[alert.ID] = alert
	a.order = append(a.order, alert.ID)
	a.stats.TotalAlerts++
	a.stats.ActiveAlerts++
	a.stats.ByLevel[level]++
	a.stats.LastAlert = now
	a.evictLocked()

	notify := true
	if last, ok := a.lastSent[record.MachineType]; ok && a.config.Cooldown > 0 && now.Sub(last) < a.config.Cooldown {
		notify = false
		a.stats.Suppressed++
	} else {
		a.lastSent[record.MachineType] = now
	}
	snapshot := *alert
	a.mu.Unlock()

	a.logger.Warn("failure alert raised",
		zap.String("alert_id", alert.ID),
		zap.String("level", string(level)),
		zap.String("prediction_id", record.ID),
		zap.Float64("failure_probability", record.Probability),
		zap.Bool("notified", notify))
	if notify && a.broadcaster != nil {
		a.broadcaster.Broadcast("alert", snapshot)
	}
	return &snapshot, true
}

// evictLocked drops the oldest resolved alerts, then the oldest active ones,
// until at most MaxAlerts remain.
func (a *AlertSystem) evictLocked() {
	for len(a.order) > a.config.MaxAlerts {
		victim := 0
		for i, id := range a.order {
			if a.alerts[id].Resolved {
				victim = i
				break
			}
		}
		id := a.order[victim]
		if !a.alerts[id].Resolved {
			a.stats.ActiveAlerts--
		}
		delete(a.alerts, id)
		a.order = append(a.order[:victim], a.order[victim+1:]...)
	}
}

func (a *AlertSystem) GetAlert(id string) (Alert, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	alert, ok := a.alerts[id]
	if !ok {
		return Alert{}, false
	}
	return *alert, true
}

// ActiveAlerts returns unresolved alerts, newest first.
func (a *AlertSystem) ActiveAlerts() []Alert {
	a.mu.RLock()
	defer a.mu.RUnlock()

	active := make([]Alert, 0)
	for _, alert := range a.alerts {
		if !alert.Resolved {
			active = append(active, *alert)
		}
	}
	sort.Slice(active, func(i, j int) bool {
		return active[i].Timestamp.After(active[j].Timestamp)
	})
	return active
}

func (a *AlertSystem) ResolveAlert(id string) (Alert, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	alert, ok := a.alerts[id]
	if !ok {
		return Alert{}, ErrAlertNotFound
	}
	if !alert.Resolved {
		now := a.now().UTC()
		alert.Resolved = true
		alert.ResolvedAt = &now
		a.stats.ActiveAlerts--
		a.stats.ResolvedAlerts++
	}
	return *alert, nil
}

func (a *AlertSystem) GetStats() AlertStats {
	a.mu.RLock()
	defer a.mu.RUnlock()

	stats := a.stats
	stats.ByLevel = make(map[AlertLevel]int64, len(a.stats.ByLevel))
	for k, v := range a.stats.ByLevel {
		stats.ByLevel[k] = v
	}
	return stats
}
