package distance

import (
	"fmt"
	"math"

	"github.com/hupe1980/vecshard/model"
)

// Dot calculates the dot product of two vectors.
// Assumes vectors are the same length (caller's responsibility).
func Dot(a, b []float32) float32 {
	var s0, s1, s2, s3 float32
	n := len(a)
	i := 0
	for ; i+4 <= n; i += 4 {
		s0 += a[i] * b[i]
		s1 += a[i+1] * b[i+1]
		s2 += a[i+2] * b[i+2]
		s3 += a[i+3] * b[i+3]
	}
	for ; i < n; i++ {
		s0 += a[i] * b[i]
	}
	return s0 + s1 + s2 + s3
}

// SquaredL2 calculates the squared L2 (Euclidean) distance between two vectors.
// Assumes vectors are the same length (caller's responsibility).
func SquaredL2(a, b []float32) float32 {
	var s0, s1, s2, s3 float32
	n := len(a)
	i := 0
	for ; i+4 <= n; i += 4 {
		d0 := a[i] - b[i]
		d1 := a[i+1] - b[i+1]
		d2 := a[i+2] - b[i+2]
		d3 := a[i+3] - b[i+3]
		s0 += d0 * d0
		s1 += d1 * d1
		s2 += d2 * d2
		s3 += d3 * d3
	}
	for ; i < n; i++ {
		d := a[i] - b[i]
		s0 += d * d
	}
	return s0 + s1 + s2 + s3
}

// Norm returns the L2 norm of v, accumulated in float64.
func Norm(v []float32) float64 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	return math.Sqrt(sum)
}

// NormalizeL2InPlace L2-normalizes v in place.
// Returns false if v has zero L2 norm; v is then left untouched.
func NormalizeL2InPlace(v []float32) bool {
	n := Norm(v)
	if n == 0 {
		return false
	}
	inv := float32(1 / n)
	for i := range v {
		v[i] *= inv
	}
	return true
}

// NormalizeRows L2-normalizes each dim-sized row of the row-major slice data
// in place. Rows with zero norm are left as-is. It returns the number of
// zero rows.
func NormalizeRows(data []float32, dim int) int {
	if dim <= 0 {
		return 0
	}
	zero := 0
	for off := 0; off+dim <= len(data); off += dim {
		if !NormalizeL2InPlace(data[off : off+dim]) {
			zero++
		}
	}
	return zero
}

// Func is a function type for distance calculation. Smaller is closer.
type Func func(a, b []float32) float32

// negDot turns the inner product into a distance so that smaller is closer.
func negDot(a, b []float32) float32 { return -Dot(a, b) }

// Provider returns the distance function for the given metric.
// For inner product the returned function yields the negated dot product.
func Provider(m model.Metric) (Func, error) {
	switch m {
	case model.MetricL2:
		return SquaredL2, nil
	case model.MetricInnerProduct:
		return negDot, nil
	default:
		return nil, fmt.Errorf("unsupported metric: %v", m)
	}
}
