package ml

import "math/rand"

func makeRow(machineType string, air, process, speed, torque, wear float64) FeatureRow {
	row := NewFeatureRow()
	row.Categorical[ColumnType] = machineType
	row.Numerical[ColumnAirTemperature] = air
	row.Numerical[ColumnProcessTemperature] = process
	row.Numerical[ColumnRotationalSpeed] = speed
	row.Numerical[ColumnTorque] = torque
	row.Numerical[ColumnToolWear] = wear
	return row
}

// syntheticDataset labels a row as failing when torque and tool wear are
// both high, which a shallow forest separates easily.
func syntheticDataset(n int, seed int64) ([]FeatureRow, []int) {
	rng := rand.New(rand.NewSource(seed))
	types := MachineTypes()
	rows := make([]FeatureRow, n)
	labels := make([]int, n)
	for i := 0; i < n; i++ {
		torque := 20 + rng.Float64()*60
		wear := float64(rng.Intn(250))
		rows[i] = makeRow(
			types[rng.Intn(len(types))],
			295+rng.Float64()*10,
			305+rng.Float64()*10,
			float64(1200+rng.Intn(1600)),
			torque,
			wear,
		)
		if torque > 60 && wear > 180 {
			labels[i] = 1
		}
	}
	return rows, labels
}
