package predictor

import (
	"encoding/json"
	"math"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUnmarshalCanonicalNames(t *testing.T) {
	var r SensorReading
	require.NoError(t, json.Unmarshal([]byte(`{
		"type": "M",
		"air_temperature_k": 298.1,
		"process_temperature_k": 308.6,
		"rotational_speed_rpm": 1551,
		"torque_nm": 42.8,
		"tool_wear_min": 0,
		"comment": "ignored"
	}`), &r))

	assert.Equal(t, validReading(), r)
}

func TestUnmarshalColumnAliases(t *testing.T) {
	var r SensorReading
	require.NoError(t, json.Unmarshal([]byte(`{
		"Type": "M",
		"Air temperature [K]": 298.1,
		"Process temperature [K]": 308.6,
		"Rotational speed [rpm]": 1551,
		"Torque [Nm]": 42.8,
		"Tool wear [min]": 0
	}`), &r))

	assert.Equal(t, validReading(), r)
}

func TestUnmarshalNullIsAbsent(t *testing.T) {
	var r SensorReading
	require.NoError(t, json.Unmarshal([]byte(`{"type": null, "torque_nm": 40}`), &r))
	assert.Nil(t, r.Type)
	require.NotNil(t, r.TorqueNm)
	assert.Equal(t, 40.0, *r.TorqueNm)
}

func TestUnmarshalRejects(t *testing.T) {
	cases := []struct {
		name  string
		body  string
		field string
	}{
		{"array body", `[1, 2]`, "body"},
		{"null body", `null`, "body"},
		{"string temperature", `{"type": "L", "air_temperature_k": "hot"}`, FieldAirTemperatureK},
		{"numeric type", `{"type": 1}`, FieldType},
		{"fractional speed", `{"type": "L", "air_temperature_k": 1, "process_temperature_k": 1, "rotational_speed_rpm": 1551.5}`, FieldRotationalSpeedRPM},
		{"boolean wear", `{"type": "L", "air_temperature_k": 1, "process_temperature_k": 1, "rotational_speed_rpm": 1, "torque_nm": 1, "tool_wear_min": true}`, FieldToolWearMin},
		{"name and alias", `{"type": "L", "air_temperature_k": 1, "process_temperature_k": 1, "rotational_speed_rpm": 1, "torque_nm": 40, "Torque [Nm]": 41}`, FieldTorqueNm},
		{"speed past int64", `{"type": "L", "air_temperature_k": 1, "process_temperature_k": 1, "rotational_speed_rpm": 9223372036854775808}`, FieldRotationalSpeedRPM},
		{"negative speed past int64", `{"type": "L", "air_temperature_k": 1, "process_temperature_k": 1, "rotational_speed_rpm": -9223372036854775809}`, FieldRotationalSpeedRPM},
		{"inexact float wear", `{"type": "L", "air_temperature_k": 1, "process_temperature_k": 1, "rotational_speed_rpm": 1, "torque_nm": 1, "tool_wear_min": 9007199254740993.0}`, FieldToolWearMin},
		{"huge exponent wear", `{"type": "L", "air_temperature_k": 1, "process_temperature_k": 1, "rotational_speed_rpm": 1, "torque_nm": 1, "tool_wear_min": 1e300}`, FieldToolWearMin},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var r SensorReading
			err := json.Unmarshal([]byte(tc.body), &r)
			var verr *ValidationError
			require.True(t, errors.As(err, &verr), "got %v", err)
			assert.Equal(t, tc.field, verr.Field)
		})
	}
}

func TestUnmarshalAcceptsIntegralFloatForIntegerField(t *testing.T) {
	var r SensorReading
	require.NoError(t, json.Unmarshal([]byte(`{"rotational_speed_rpm": 1551.0}`), &r))
	require.NotNil(t, r.RotationalSpeedRPM)
	assert.Equal(t, int64(1551), *r.RotationalSpeedRPM)
}

func TestUnmarshalKeepsLargeIntegersExact(t *testing.T) {
	var r SensorReading
	require.NoError(t, json.Unmarshal([]byte(`{"rotational_speed_rpm": 9223372036854775807, "tool_wear_min": 9007199254740993}`), &r))
	require.NotNil(t, r.RotationalSpeedRPM)
	require.NotNil(t, r.ToolWearMin)
	assert.Equal(t, int64(math.MaxInt64), *r.RotationalSpeedRPM)
	assert.Equal(t, int64(9007199254740993), *r.ToolWearMin)
}

func TestUnmarshalAcceptsExponentForIntegerField(t *testing.T) {
	var r SensorReading
	require.NoError(t, json.Unmarshal([]byte(`{"tool_wear_min": 1.5e2}`), &r))
	require.NotNil(t, r.ToolWearMin)
	assert.Equal(t, int64(150), *r.ToolWearMin)
}

func TestUnmarshalReportsEarlierFieldFirst(t *testing.T) {
	cases := []struct {
		name   string
		body   string
		field  string
		reason string
	}{
		{"missing type before bad temperature", `{"air_temperature_k": "hot"}`, FieldType, "is required"},
		{"unknown type before bad temperature", `{"type": "X", "air_temperature_k": "hot"}`, FieldType, "must be one of L, M, H"},
		{"missing temperature before bad torque", `{"type": "M", "process_temperature_k": 308.6, "rotational_speed_rpm": 1551, "torque_nm": "high"}`, FieldAirTemperatureK, "is required"},
		{"missing speed before name and alias", `{"type": "M", "air_temperature_k": 1, "process_temperature_k": 1, "torque_nm": 1, "Torque [Nm]": 2}`, FieldRotationalSpeedRPM, "is required"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var r SensorReading
			err := json.Unmarshal([]byte(tc.body), &r)
			var verr *ValidationError
			require.True(t, errors.As(err, &verr), "got %v", err)
			assert.Equal(t, tc.field, verr.Field)
			assert.Equal(t, tc.reason, verr.Reason)
		})
	}
}
