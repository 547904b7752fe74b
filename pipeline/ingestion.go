package pipeline

import (
	"encoding/csv"
	"io"
	"math"
	"os"
	"strconv"
	"strings"

	"predmaint/ml"

	"github.com/pkg/errors"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

// Optional dataset columns used for diagnostics and duplicate detection.
const (
	ColumnUDI       = "UDI"
	ColumnProductID = "Product ID"
)

// DataPoint is one labeled dataset row. Unparseable numbers are kept as NaN
// and an unparseable label as -1 so the cleaning rules reject them.
type DataPoint struct {
	Line      int    `json:"line"`
	UDI       string `json:"udi,omitempty"`
	ProductID string `json:"product_id,omitempty"`

	Type               string  `json:"type"`
	AirTemperature     float64 `json:"air_temperature_k"`
	ProcessTemperature float64 `json:"process_temperature_k"`
	RotationalSpeed    float64 `json:"rotational_speed_rpm"`
	Torque             float64 `json:"torque_nm"`
	ToolWear           float64 `json:"tool_wear_min"`

	Label int `json:"label"`
}

// FeatureRow keys the point's values by the feature contract column names.
func (dp *DataPoint) FeatureRow() ml.FeatureRow {
	row := ml.NewFeatureRow()
	row.Categorical[ml.ColumnType] = dp.Type
	row.Numerical[ml.ColumnAirTemperature] = dp.AirTemperature
	row.Numerical[ml.ColumnProcessTemperature] = dp.ProcessTemperature
	row.Numerical[ml.ColumnRotationalSpeed] = dp.RotationalSpeed
	row.Numerical[ml.ColumnTorque] = dp.Torque
	row.Numerical[ml.ColumnToolWear] = dp.ToolWear
	return row
}

func ReadDatasetFile(path string) ([]*DataPoint, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "open dataset")
	}
	defer f.Close()
	return ReadDataset(f)
}

// ReadDataset parses a CSV export with a header row. Columns are matched by
// name; columns outside the feature contract and target are ignored.
func ReadDataset(r io.Reader) ([]*DataPoint, error) {
	decoded := transform.NewReader(r, unicode.BOMOverride(unicode.UTF8.NewDecoder()))
	reader := csv.NewReader(decoded)
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err == io.EOF {
		return nil, errors.New("dataset is empty")
	}
	if err != nil {
		return nil, errors.Wrap(err, "read header")
	}
	index := make(map[string]int, len(header))
	for i, name := range header {
		index[strings.TrimSpace(name)] = i
	}
	required := append(append(ml.NumericalFeatures(), ml.CategoricalFeatures()...), ml.ColumnTarget)
	for _, column := range required {
		if _, ok := index[column]; !ok {
			return nil, errors.Errorf("dataset is missing column %q", column)
		}
	}

	field := func(record []string, column string) string {
		i, ok := index[column]
		if !ok || i >= len(record) {
			return ""
		}
		return strings.TrimSpace(record[i])
	}

	var points []*DataPoint
	line := 1
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		line++
		if err != nil {
			return nil, errors.Wrapf(err, "line %d", line)
		}
		points = append(points, &DataPoint{
			Line:               line,
			UDI:                field(record, ColumnUDI),
			ProductID:          field(record, ColumnProductID),
			Type:               field(record, ml.ColumnType),
			AirTemperature:     parseFloat(field(record, ml.ColumnAirTemperature)),
			ProcessTemperature: parseFloat(field(record, ml.ColumnProcessTemperature)),
			RotationalSpeed:    parseFloat(field(record, ml.ColumnRotationalSpeed)),
			Torque:             parseFloat(field(record, ml.ColumnTorque)),
			ToolWear:           parseFloat(field(record, ml.ColumnToolWear)),
			Label:              parseLabel(field(record, ml.ColumnTarget)),
		})
	}
	return points, nil
}

// TrainingSet converts cleaned points into the inputs of ml.Pipeline.Fit.
func TrainingSet(points []*DataPoint) ([]ml.FeatureRow, []int) {
	rows := make([]ml.FeatureRow, len(points))
	labels := make([]int, len(points))
	for i, p := range points {
		rows[i] = p.FeatureRow()
		labels[i] = p.Label
	}
	return rows, labels
}

func parseFloat(s string) float64 {
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return math.NaN()
	}
	return v
}

func parseLabel(s string) int {
	v, err := strconv.Atoi(s)
	if err != nil {
		return -1
	}
	return v
}
