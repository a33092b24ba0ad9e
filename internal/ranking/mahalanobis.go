package ranking

import (
	"math"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

// Distribution is the reference a candidate is measured against: the mean of the
// clicked vectors and the pseudo-inverse of their covariance.
type Distribution struct {
	Mean    []float64
	Inverse *mat.Dense
}

// NewDistribution summarizes rows (one per clicked document). dim is used when rows is empty.
func NewDistribution(rows [][]float64, dim int) Distribution {
	if len(rows) > 0 {
		dim = len(rows[0])
	}
	mean := make([]float64, dim)
	if len(rows) == 0 || dim == 0 {
		return Distribution{Mean: mean, Inverse: mat.NewDense(max(dim, 1), max(dim, 1), nil)}
	}

	data := make([]float64, 0, len(rows)*dim)
	for _, r := range rows {
		row := make([]float64, dim)
		copy(row, r)
		data = append(data, row...)
	}
	x := mat.NewDense(len(rows), dim, data)
	for j := 0; j < dim; j++ {
		mean[j] = stat.Mean(mat.Col(nil, j, x), nil)
	}

	return Distribution{Mean: mean, Inverse: PseudoInverse(Covariance(x))}
}

// Covariance returns the sample covariance (n-1 denominator) of the rows of x.
// A single observation has zero covariance.
func Covariance(x *mat.Dense) *mat.SymDense {
	n, c := x.Dims()
	if n < 2 {
		return mat.NewSymDense(c, nil)
	}
	var cov mat.SymDense
	stat.CovarianceMatrix(&cov, x, nil)
	return &cov
}

// PseudoInverse computes the Moore-Penrose inverse of a through a thin SVD.
// Singular values at or below max(r,c)*sigmaMax*eps are treated as zero; if the
// factorization fails the zero matrix is returned.
func PseudoInverse(a mat.Matrix) *mat.Dense {
	r, c := a.Dims()
	zero := mat.NewDense(c, r, nil)

	var svd mat.SVD
	if ok := svd.Factorize(a, mat.SVDThin); !ok {
		return zero
	}
	values := svd.Values(nil)
	if len(values) == 0 || values[0] == 0 {
		return zero
	}
	tol := float64(max(r, c)) * values[0] * epsilon

	var u, v mat.Dense
	svd.UTo(&u)
	svd.VTo(&v)

	inv := make([]float64, len(values))
	for i, s := range values {
		if s > tol {
			inv[i] = 1 / s
		}
	}

	// V * diag(1/s) * U^T
	var vs mat.Dense
	vs.Apply(func(_, j int, x float64) float64 { return x * inv[j] }, &v)
	out := mat.NewDense(c, r, nil)
	out.Mul(&vs, u.T())
	return out
}

// epsilon is the float64 machine epsilon (2^-52).
var epsilon = math.Nextafter(1, 2) - 1

// Distance returns the Mahalanobis distance from the distribution mean to v.
// Vectors of the wrong dimension are infinitely far away.
func (d Distribution) Distance(v []float64) float64 {
	if len(v) != len(d.Mean) || len(v) == 0 {
		return math.Inf(1)
	}
	diff := make([]float64, len(v))
	for i := range v {
		diff[i] = v[i] - d.Mean[i]
	}
	dv := mat.NewVecDense(len(diff), diff)
	q := mat.Inner(dv, d.Inverse, dv)
	if q < 0 || math.IsNaN(q) {
		q = 0
	}
	return math.Sqrt(q)
}
