package classifier

import (
	"fmt"

	"github.com/montanaflynn/stats"
)

// Scaler standardizes features to zero mean and unit variance.
type Scaler struct {
	Mean  []float64 `json:"mean"`
	Scale []float64 `json:"scale"`
}

// fitScaler computes per-column mean and population standard deviation.
// Constant columns get a scale of 1.
func fitScaler(X [][]float64) (Scaler, error) {
	cols := len(X[0])
	s := Scaler{Mean: make([]float64, cols), Scale: make([]float64, cols)}
	for c := 0; c < cols; c++ {
		col := make(stats.Float64Data, len(X))
		for r := range X {
			col[r] = X[r][c]
		}
		mean, err := stats.Mean(col)
		if err != nil {
			return Scaler{}, fmt.Errorf("column %d mean: %w", c, err)
		}
		sd, err := stats.StandardDeviationPopulation(col)
		if err != nil {
			return Scaler{}, fmt.Errorf("column %d deviation: %w", c, err)
		}
		if sd == 0 {
			sd = 1
		}
		s.Mean[c], s.Scale[c] = mean, sd
	}
	return s, nil
}

// Transform returns a standardized copy of x.
func (s *Scaler) Transform(x []float64) []float64 {
	out := make([]float64, len(x))
	for i, v := range x {
		out[i] = (v - s.Mean[i]) / s.Scale[i]
	}
	return out
}

// TransformAll standardizes every row.
func (s *Scaler) TransformAll(X [][]float64) [][]float64 {
	out := make([][]float64, len(X))
	for i, row := range X {
		out[i] = s.Transform(row)
	}
	return out
}
