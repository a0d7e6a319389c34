package ml

import (
	"errors"
	"math"
	"testing"

	"gonum.org/v1/gonum/floats"
)

func TestEquilateralGeometry(t *testing.T) {
	for n := 2; n <= 7; n++ {
		eq, err := NewEquilateral(n, -1, 1)
		if err != nil {
			t.Fatalf("n=%d: unexpected error: %v", n, err)
		}
		if eq.Width() != n-1 {
			t.Fatalf("n=%d: expected width %d, got %d", n, n-1, eq.Width())
		}

		want := floats.Distance(eq.Encode(0), eq.Encode(1), 2)
		for i := 0; i < n; i++ {
			if norm := floats.Norm(eq.Encode(i), 2); math.Abs(norm-1) > 1e-9 {
				t.Fatalf("n=%d class %d: expected unit length, got %v", n, i, norm)
			}
			for j := i + 1; j < n; j++ {
				d := floats.Distance(eq.Encode(i), eq.Encode(j), 2)
				if math.Abs(d-want) > 1e-9 {
					t.Fatalf("n=%d: distance %d-%d is %v, want %v", n, i, j, d, want)
				}
			}
			if got := eq.Decode(eq.Encode(i)); got != i {
				t.Fatalf("n=%d: decode(encode(%d)) = %d", n, i, got)
			}
		}
	}
}

func TestEquilateralThreeClasses(t *testing.T) {
	eq, err := NewEquilateral(3, -1, 1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := [][]float64{
		{-math.Sqrt(3) / 2, -0.5},
		{math.Sqrt(3) / 2, -0.5},
		{0, 1},
	}
	for class, code := range want {
		got := eq.Encode(class)
		for i := range code {
			if math.Abs(got[i]-code[i]) > 1e-12 {
				t.Fatalf("class %d: expected %v, got %v", class, code, got)
			}
		}
	}

	// an output near the third vertex decodes to it
	if got := eq.Decode([]float64{0.1, 0.7}); got != 2 {
		t.Fatalf("expected class 2, got %d", got)
	}
}

func TestEquilateralDecodeTies(t *testing.T) {
	tests := []struct {
		name string
		n    int
		out  []float64
	}{
		{name: "two classes midpoint", n: 2, out: []float64{0}},
		// on the axis between the first two vertices, farther from the third
		{name: "three classes", n: 3, out: []float64{0, -0.5}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			eq, err := NewEquilateral(tt.n, -1, 1)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if d0, d1 := eq.Distance(tt.out, 0), eq.Distance(tt.out, 1); d0 != d1 {
				t.Fatalf("expected %v to be equidistant from classes 0 and 1, got %v and %v", tt.out, d0, d1)
			}
			if got := eq.Decode(tt.out); got != 0 {
				t.Fatalf("expected the first class to win the tie, got %d", got)
			}
		})
	}
}

func TestEncoderDistance(t *testing.T) {
	eq, err := NewEquilateral(2, -1, 1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if d := eq.Distance([]float64{0.5}, 1); math.Abs(d-0.5) > 1e-12 {
		t.Fatalf("expected 0.5, got %v", d)
	}

	oneOfN, err := NewOneOfN(2, 0, 1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if d := oneOfN.Distance([]float64{0, 1}, 1); d != 0 {
		t.Fatalf("expected 0, got %v", d)
	}
	if d := oneOfN.Distance([]float64{0, 1}, 0); math.Abs(d-math.Sqrt2) > 1e-12 {
		t.Fatalf("expected sqrt(2), got %v", d)
	}
}

func TestEquilateralScaling(t *testing.T) {
	eq, err := NewEquilateral(3, 0, 1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	code := eq.Encode(2)
	if code[0] != 0.5 || code[1] != 1 {
		t.Fatalf("unexpected scaled code: %v", code)
	}
}

func TestOneOfN(t *testing.T) {
	enc, err := NewOneOfN(3, -1, 1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	code := enc.Encode(1)
	if code[0] != -1 || code[1] != 1 || code[2] != -1 {
		t.Fatalf("unexpected code: %v", code)
	}
	if got := enc.Decode([]float64{0.2, -0.3, 0.9}); got != 2 {
		t.Fatalf("expected class 2, got %d", got)
	}
}

func TestNewLabelEncoder(t *testing.T) {
	tests := []struct {
		name    string
		kind    string
		n       int
		want    string
		wantErr error
	}{
		{name: "default", kind: "", n: 3, want: EncodingEquilateral},
		{name: "one of n", kind: EncodingOneOfN, n: 3, want: EncodingOneOfN},
		{name: "one class", kind: EncodingEquilateral, n: 1, wantErr: ErrTooFewClasses},
		{name: "one class one of n", kind: EncodingOneOfN, n: 1, wantErr: ErrTooFewClasses},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			enc, err := NewLabelEncoder(tt.kind, tt.n, -1, 1)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("expected %v, got %v", tt.wantErr, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if enc.Name() != tt.want {
				t.Fatalf("expected %s, got %s", tt.want, enc.Name())
			}
		})
	}

	if _, err := NewLabelEncoder("gray", 3, -1, 1); err == nil {
		t.Fatal("expected error for unknown encoding")
	}
}
