package effect

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"

	"gocausal/internal/errors"
)

// Dataset holds aligned covariates, binary treatment and outcome. It is
// read-only once constructed and shared by every tree of a forest.
type Dataset struct {
	X *mat.Dense
	T []float64
	Y []float64
}

// Estimate is a treatment-effect estimate with an optional variance.
type Estimate struct {
	Tau      float64 `json:"tau"`
	Variance float64 `json:"variance"`
}

// NewDataset validates and copies raw arrays into a Dataset. Shape
// mismatches, non-finite values and non-binary treatments are INVALID_INPUT.
func NewDataset(x [][]float64, t, y []float64) (*Dataset, error) {
	n := len(x)
	if n == 0 {
		return nil, errors.InvalidInput("covariate matrix is empty")
	}
	k := len(x[0])
	if k == 0 {
		return nil, errors.InvalidInput("covariate matrix has no columns")
	}
	if len(t) != n {
		return nil, errors.InvalidInput(fmt.Sprintf("treatment length %d does not match %d rows", len(t), n))
	}
	if len(y) != n {
		return nil, errors.InvalidInput(fmt.Sprintf("outcome length %d does not match %d rows", len(y), n))
	}

	data := make([]float64, 0, n*k)
	for i, row := range x {
		if len(row) != k {
			return nil, errors.InvalidInput(fmt.Sprintf("row %d has %d columns, expected %d", i, len(row), k))
		}
		for j, v := range row {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return nil, errors.InvalidInput(fmt.Sprintf("covariate (%d,%d) is not finite", i, j))
			}
		}
		data = append(data, row...)
	}

	var treated int
	for i := range t {
		if t[i] != 0 && t[i] != 1 {
			return nil, errors.InvalidInput(fmt.Sprintf("treatment at row %d is %v, must be 0 or 1", i, t[i]))
		}
		if math.IsNaN(y[i]) || math.IsInf(y[i], 0) {
			return nil, errors.InvalidInput(fmt.Sprintf("outcome at row %d is not finite", i))
		}
		if t[i] == 1 {
			treated++
		}
	}
	if treated == 0 || treated == n {
		return nil, errors.InvalidInput("both treated and control observations are required")
	}

	return &Dataset{
		X: mat.NewDense(n, k, data),
		T: append([]float64(nil), t...),
		Y: append([]float64(nil), y...),
	}, nil
}

// Rows returns the number of observations.
func (d *Dataset) Rows() int {
	r, _ := d.X.Dims()
	return r
}

// Cols returns the covariate dimensionality.
func (d *Dataset) Cols() int {
	_, c := d.X.Dims()
	return c
}

// Row returns a view of observation i's covariates. Callers must not modify it.
func (d *Dataset) Row(i int) []float64 {
	return d.X.RawRowView(i)
}

// Value returns covariate j of observation i.
func (d *Dataset) Value(i, j int) float64 {
	return d.X.At(i, j)
}

// Treated reports whether observation i received treatment.
func (d *Dataset) Treated(i int) bool {
	return d.T[i] == 1
}

// ArmCounts returns the number of treated and control observations.
func (d *Dataset) ArmCounts() (treated, control int) {
	for _, v := range d.T {
		if v == 1 {
			treated++
		} else {
			control++
		}
	}
	return treated, control
}

// NaiveEffect is the difference in mean outcome between treated and control
// over the whole dataset.
func (d *Dataset) NaiveEffect() float64 {
	var sumT, sumC float64
	var nT, nC int
	for i, v := range d.T {
		if v == 1 {
			sumT += d.Y[i]
			nT++
		} else {
			sumC += d.Y[i]
			nC++
		}
	}
	return sumT/float64(nT) - sumC/float64(nC)
}
