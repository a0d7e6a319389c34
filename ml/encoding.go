package ml

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
)

const (
	EncodingEquilateral = "equilateral"
	EncodingOneOfN      = "one-of-n"
)

var ErrTooFewClasses = errors.New("need at least two classes")

// LabelEncoder maps class indexes to network targets and back.
type LabelEncoder interface {
	Name() string
	// Width is the number of network outputs needed.
	Width() int
	Encode(class int) []float64
	// Decode returns the class whose code is closest to out.
	Decode(out []float64) int
	// Distance is how far out lies from the code of class.
	Distance(out []float64, class int) float64
}

// NewLabelEncoder builds the encoder named kind for n classes scaled to [low, high].
func NewLabelEncoder(kind string, n int, low, high float64) (LabelEncoder, error) {
	switch kind {
	case "", EncodingEquilateral:
		return NewEquilateral(n, low, high)
	case EncodingOneOfN:
		return NewOneOfN(n, low, high)
	default:
		return nil, fmt.Errorf("unsupported label encoding %q", kind)
	}
}

// Equilateral encodes n classes as the vertices of a regular simplex in n-1
// dimensions, so every pair of classes is the same distance apart.
type Equilateral struct {
	matrix [][]float64
}

// NewEquilateral builds the codewords for n classes scaled into [low, high].
func NewEquilateral(n int, low, high float64) (*Equilateral, error) {
	if n < 2 {
		return nil, fmt.Errorf("%w: got %d", ErrTooFewClasses, n)
	}
	return &Equilateral{matrix: equilat(n, low, high)}, nil
}

func equilat(n int, low, high float64) [][]float64 {
	result := make([][]float64, n)
	for i := range result {
		result[i] = make([]float64, n-1)
	}
	result[0][0] = -1
	result[1][0] = 1

	for k := 2; k < n; k++ {
		// shrink the existing k vertices so adding a dimension keeps them unit length
		r := float64(k)
		f := math.Sqrt(r*r-1) / r
		for i := 0; i < k; i++ {
			for j := 0; j < k-1; j++ {
				result[i][j] *= f
			}
		}

		r = -1 / r
		for i := 0; i < k; i++ {
			result[i][k-1] = r
		}
		for i := 0; i < k-1; i++ {
			result[k][i] = 0
		}
		result[k][k-1] = 1
	}

	for _, row := range result {
		for j := range row {
			row[j] = NormalizeValue(row[j], -1, 1, low, high)
		}
	}
	return result
}

func (e *Equilateral) Name() string { return EncodingEquilateral }
func (e *Equilateral) Width() int   { return len(e.matrix) - 1 }

// Encode returns a copy of the codeword for class.
func (e *Equilateral) Encode(class int) []float64 {
	return append([]float64(nil), e.matrix[class]...)
}

// Decode picks the codeword at the smallest Euclidean distance; ties go to
// the lower class index.
func (e *Equilateral) Decode(out []float64) int {
	best := 0
	bestDistance := math.Inf(1)
	for class, code := range e.matrix {
		d := floats.Distance(out, code, 2)
		if d < bestDistance {
			bestDistance = d
			best = class
		}
	}
	return best
}

// Distance returns the Euclidean distance between out and the codeword for class.
func (e *Equilateral) Distance(out []float64, class int) float64 {
	return floats.Distance(out, e.matrix[class], 2)
}

// OneOfN sets the output of the class to high and every other output to low.
type OneOfN struct {
	n         int
	low, high float64
}

// NewOneOfN builds an encoder for n classes using low and high as the
// off and on values.
func NewOneOfN(n int, low, high float64) (*OneOfN, error) {
	if n < 2 {
		return nil, fmt.Errorf("%w: got %d", ErrTooFewClasses, n)
	}
	return &OneOfN{n: n, low: low, high: high}, nil
}

func (o *OneOfN) Name() string { return EncodingOneOfN }
func (o *OneOfN) Width() int   { return o.n }

// Encode returns a fresh code with only the class output set to high.
func (o *OneOfN) Encode(class int) []float64 {
	code := make([]float64, o.n)
	for i := range code {
		code[i] = o.low
	}
	code[class] = o.high
	return code
}

// Decode returns the index of the largest output.
func (o *OneOfN) Decode(out []float64) int {
	return floats.MaxIdx(out)
}

// Distance returns the Euclidean distance between out and the code for class.
func (o *OneOfN) Distance(out []float64, class int) float64 {
	return floats.Distance(out, o.Encode(class), 2)
}
