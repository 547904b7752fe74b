package ml

// Column names of the training dataset. The fitted preprocessor resolves
// columns by these names, so training and inference must both use them.
const (
	ColumnType               = "Type"
	ColumnAirTemperature     = "Air temperature [K]"
	ColumnProcessTemperature = "Process temperature [K]"
	ColumnRotationalSpeed    = "Rotational speed [rpm]"
	ColumnTorque             = "Torque [Nm]"
	ColumnToolWear           = "Tool wear [min]"

	ColumnTarget = "Machine failure"
)

// Machine type symbols accepted in the Type column.
const (
	MachineTypeLow    = "L"
	MachineTypeMedium = "M"
	MachineTypeHigh   = "H"
)

// NumericalFeatures returns the numerical columns in contract order.
func NumericalFeatures() []string {
	return []string{
		ColumnAirTemperature,
		ColumnProcessTemperature,
		ColumnRotationalSpeed,
		ColumnTorque,
		ColumnToolWear,
	}
}

// CategoricalFeatures returns the categorical columns in contract order.
func CategoricalFeatures() []string {
	return []string{ColumnType}
}

func MachineTypes() []string {
	return []string{MachineTypeLow, MachineTypeMedium, MachineTypeHigh}
}

func IsMachineType(value string) bool {
	for _, t := range MachineTypes() {
		if t == value {
			return true
		}
	}
	return false
}

// FeatureRow is a single record indexed by column name.
type FeatureRow struct {
	Numerical   map[string]float64
	Categorical map[string]string
}

func NewFeatureRow() FeatureRow {
	return FeatureRow{
		Numerical:   make(map[string]float64, len(NumericalFeatures())),
		Categorical: make(map[string]string, len(CategoricalFeatures())),
	}
}

func sameColumns(got, want []string) bool {
	if len(got) != len(want) {
		return false
	}
	for i := range want {
		if got[i] != want[i] {
			return false
		}
	}
	return true
}
