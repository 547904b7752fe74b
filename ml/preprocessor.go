package ml

import (
	"sort"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/stat"
)

// NumericScaler standardizes one numerical column.
type NumericScaler struct {
	Column string  `json:"column"`
	Mean   float64 `json:"mean"`
	Scale  float64 `json:"scale"`
}

// CategoryEncoder one-hot encodes one categorical column. Values outside
// Categories encode to all zeros.
type CategoryEncoder struct {
	Column     string   `json:"column"`
	Categories []string `json:"categories"`
}

// Preprocessor is the fitted column transform applied before the classifier:
// scaled numerical columns followed by the one-hot categorical columns.
type Preprocessor struct {
	Numerical   []NumericScaler   `json:"numerical"`
	Categorical []CategoryEncoder `json:"categorical"`
}

func (p *Preprocessor) Fit(rows []FeatureRow) error {
	if len(rows) == 0 {
		return errors.New("rows is empty")
	}

	numerical := make([]NumericScaler, 0, len(NumericalFeatures()))
	for _, column := range NumericalFeatures() {
		values := make([]float64, len(rows))
		for i, row := range rows {
			value, ok := row.Numerical[column]
			if !ok {
				return errors.Errorf("row %d: missing column %q", i, column)
			}
			values[i] = value
		}
		mean, std := stat.PopMeanStdDev(values, nil)
		if std == 0 {
			std = 1
		}
		numerical = append(numerical, NumericScaler{Column: column, Mean: mean, Scale: std})
	}

	categorical := make([]CategoryEncoder, 0, len(CategoricalFeatures()))
	for _, column := range CategoricalFeatures() {
		seen := make(map[string]struct{})
		for i, row := range rows {
			value, ok := row.Categorical[column]
			if !ok {
				return errors.Errorf("row %d: missing column %q", i, column)
			}
			seen[value] = struct{}{}
		}
		categories := make([]string, 0, len(seen))
		for value := range seen {
			categories = append(categories, value)
		}
		sort.Strings(categories)
		categorical = append(categorical, CategoryEncoder{Column: column, Categories: categories})
	}

	p.Numerical = numerical
	p.Categorical = categorical
	return nil
}

func (p *Preprocessor) Fitted() bool {
	return len(p.Numerical) > 0 || len(p.Categorical) > 0
}

// Width is the length of the vectors Transform produces.
func (p *Preprocessor) Width() int {
	width := len(p.Numerical)
	for _, enc := range p.Categorical {
		width += len(enc.Categories)
	}
	return width
}

func (p *Preprocessor) Transform(row FeatureRow) ([]float64, error) {
	if !p.Fitted() {
		return nil, errors.New("preprocessor not fitted")
	}
	vector := make([]float64, 0, p.Width())
	for _, scaler := range p.Numerical {
		value, ok := row.Numerical[scaler.Column]
		if !ok {
			return nil, errors.Errorf("missing column %q", scaler.Column)
		}
		vector = append(vector, (value-scaler.Mean)/scaler.Scale)
	}
	for _, enc := range p.Categorical {
		value, ok := row.Categorical[enc.Column]
		if !ok {
			return nil, errors.Errorf("missing column %q", enc.Column)
		}
		for _, category := range enc.Categories {
			if category == value {
				vector = append(vector, 1)
			} else {
				vector = append(vector, 0)
			}
		}
	}
	return vector, nil
}

func (p *Preprocessor) TransformAll(rows []FeatureRow) ([][]float64, error) {
	vectors := make([][]float64, len(rows))
	for i, row := range rows {
		vector, err := p.Transform(row)
		if err != nil {
			return nil, errors.Wrapf(err, "row %d", i)
		}
		vectors[i] = vector
	}
	return vectors, nil
}

func (p *Preprocessor) numericalColumns() []string {
	columns := make([]string, len(p.Numerical))
	for i, scaler := range p.Numerical {
		columns[i] = scaler.Column
	}
	return columns
}

func (p *Preprocessor) categoricalColumns() []string {
	columns := make([]string, len(p.Categorical))
	for i, enc := range p.Categorical {
		columns[i] = enc.Column
	}
	return columns
}
