package predictor

import (
	"bytes"
	"encoding/json"
	"math"
	"strconv"
	"strings"

	"predmaint/ml"

	"github.com/pkg/errors"
)

// Canonical request field names. Each also decodes from its dataset column
// alias, e.g. "Air temperature [K]".
const (
	FieldType                = "type"
	FieldAirTemperatureK     = "air_temperature_k"
	FieldProcessTemperatureK = "process_temperature_k"
	FieldRotationalSpeedRPM  = "rotational_speed_rpm"
	FieldTorqueNm            = "torque_nm"
	FieldToolWearMin         = "tool_wear_min"
)

// SensorReading is one request record. Nil fields are absent; every field is
// required.
type SensorReading struct {
	Type                *string  `json:"type" validate:"required,oneof=L M H"`
	AirTemperatureK     *float64 `json:"air_temperature_k" validate:"required"`
	ProcessTemperatureK *float64 `json:"process_temperature_k" validate:"required"`
	RotationalSpeedRPM  *int64   `json:"rotational_speed_rpm" validate:"required"`
	TorqueNm            *float64 `json:"torque_nm" validate:"required"`
	ToolWearMin         *int64   `json:"tool_wear_min" validate:"required"`
}

// NewSensorReading builds a reading with every field present.
func NewSensorReading(machineType string, airTemperatureK, processTemperatureK float64, rotationalSpeedRPM int64, torqueNm float64, toolWearMin int64) SensorReading {
	return SensorReading{
		Type:                &machineType,
		AirTemperatureK:     &airTemperatureK,
		ProcessTemperatureK: &processTemperatureK,
		RotationalSpeedRPM:  &rotationalSpeedRPM,
		TorqueNm:            &torqueNm,
		ToolWearMin:         &toolWearMin,
	}
}

type readingField struct {
	name   string
	alias  string
	decode func(r *SensorReading, raw json.RawMessage) string
}

var readingFields = []readingField{
	{FieldType, ml.ColumnType, func(r *SensorReading, raw json.RawMessage) string {
		var v string
		if err := json.Unmarshal(raw, &v); err != nil {
			return "must be a string"
		}
		r.Type = &v
		return ""
	}},
	{FieldAirTemperatureK, ml.ColumnAirTemperature, func(r *SensorReading, raw json.RawMessage) string {
		return decodeFloat(raw, &r.AirTemperatureK)
	}},
	{FieldProcessTemperatureK, ml.ColumnProcessTemperature, func(r *SensorReading, raw json.RawMessage) string {
		return decodeFloat(raw, &r.ProcessTemperatureK)
	}},
	{FieldRotationalSpeedRPM, ml.ColumnRotationalSpeed, func(r *SensorReading, raw json.RawMessage) string {
		return decodeInt(raw, &r.RotationalSpeedRPM)
	}},
	{FieldTorqueNm, ml.ColumnTorque, func(r *SensorReading, raw json.RawMessage) string {
		return decodeFloat(raw, &r.TorqueNm)
	}},
	{FieldToolWearMin, ml.ColumnToolWear, func(r *SensorReading, raw json.RawMessage) string {
		return decodeInt(raw, &r.ToolWearMin)
	}},
}

// UnmarshalJSON accepts each field under its canonical name or its column
// alias. null counts as absent; unknown keys are ignored. Type mismatches are
// reported as *ValidationError. Decoding stops at the first bad field, and a
// field that is absent or invalid before it is reported instead.
func (r *SensorReading) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil || raw == nil {
		return &ValidationError{Field: "body", Reason: "must be a JSON object"}
	}

	var reading SensorReading
	for i, f := range readingFields {
		byName, hasName := present(raw, f.name)
		byAlias, hasAlias := present(raw, f.alias)
		if !hasName && !hasAlias {
			continue
		}
		reason := ""
		if hasName && hasAlias {
			reason = "given both as " + f.name + " and as " + f.alias
		} else {
			value := byName
			if hasAlias {
				value = byAlias
			}
			reason = f.decode(&reading, value)
		}
		if reason != "" {
			if earlier := reading.firstProblem(i); earlier != nil {
				return earlier
			}
			return &ValidationError{Field: f.name, Reason: reason}
		}
	}
	*r = reading
	return nil
}

// firstProblem reports the first of the leading n fields that is absent or
// holds an unknown machine type.
func (r *SensorReading) firstProblem(n int) *ValidationError {
	present := []bool{
		r.Type != nil,
		r.AirTemperatureK != nil,
		r.ProcessTemperatureK != nil,
		r.RotationalSpeedRPM != nil,
		r.TorqueNm != nil,
		r.ToolWearMin != nil,
	}
	for i := 0; i < n && i < len(readingFields); i++ {
		name := readingFields[i].name
		if !present[i] {
			return &ValidationError{Field: name, Reason: "is required"}
		}
		if name == FieldType && !ml.IsMachineType(*r.Type) {
			return &ValidationError{Field: name, Reason: "must be one of " + strings.Join(ml.MachineTypes(), ", ")}
		}
	}
	return nil
}

func (r SensorReading) featureRow() ml.FeatureRow {
	row := ml.NewFeatureRow()
	row.Categorical[ml.ColumnType] = *r.Type
	row.Numerical[ml.ColumnAirTemperature] = *r.AirTemperatureK
	row.Numerical[ml.ColumnProcessTemperature] = *r.ProcessTemperatureK
	row.Numerical[ml.ColumnRotationalSpeed] = float64(*r.RotationalSpeedRPM)
	row.Numerical[ml.ColumnTorque] = *r.TorqueNm
	row.Numerical[ml.ColumnToolWear] = float64(*r.ToolWearMin)
	return row
}

func present(raw map[string]json.RawMessage, key string) (json.RawMessage, bool) {
	value, ok := raw[key]
	if !ok || bytes.Equal(bytes.TrimSpace(value), []byte("null")) {
		return nil, false
	}
	return value, true
}

func decodeFloat(raw json.RawMessage, dst **float64) string {
	var v float64
	if err := json.Unmarshal(raw, &v); err != nil {
		return "must be a number"
	}
	*dst = &v
	return ""
}

// maxExactFloat is the largest magnitude below which every integer is exact in
// a float64.
const maxExactFloat = 1 << 53

// decodeInt accepts integer tokens exactly, and integral number tokens such as
// 1551.0 or 1.5e3 only while they are exactly representable.
func decodeInt(raw json.RawMessage, dst **int64) string {
	token := string(bytes.TrimSpace(raw))
	n, err := strconv.ParseInt(token, 10, 64)
	if err == nil {
		*dst = &n
		return ""
	}
	if errors.Is(err, strconv.ErrRange) {
		return "out of range for a 64-bit integer"
	}

	var v float64
	if err := json.Unmarshal(raw, &v); err != nil {
		return "must be an integer"
	}
	if v != math.Trunc(v) {
		return "must be an integer"
	}
	if v >= maxExactFloat || v <= -maxExactFloat {
		return "out of range for an exact integer"
	}
	n = int64(v)
	*dst = &n
	return ""
}
