// Package nnet implements a small fully connected feed-forward network and a
// resilient propagation trainer on top of gonum matrices.
package nnet

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"math/rand"

	"gonum.org/v1/gonum/mat"
)

// Activation is applied element-wise to every layer output.
type Activation interface {
	Name() string
	Apply(x float64) float64
	// Derivative is expressed in terms of the activation output y.
	Derivative(y float64) float64
	// Range is the interval the outputs fall in. Training targets and
	// normalized inputs are scaled into it.
	Range() (low, high float64)
}

// Tanh is the hyperbolic tangent, with outputs in (-1, 1).
type Tanh struct{}

func (Tanh) Name() string                 { return "tanh" }
func (Tanh) Apply(x float64) float64      { return math.Tanh(x) }
func (Tanh) Derivative(y float64) float64 { return 1 - y*y }
func (Tanh) Range() (float64, float64)    { return -1, 1 }

// Sigmoid is the logistic function, with outputs in (0, 1).
type Sigmoid struct{}

func (Sigmoid) Name() string                 { return "sigmoid" }
func (Sigmoid) Apply(x float64) float64      { return 1 / (1 + math.Exp(-x)) }
func (Sigmoid) Derivative(y float64) float64 { return y * (1 - y) }
func (Sigmoid) Range() (float64, float64)    { return 0, 1 }

// ActivationByName resolves "tanh" or "sigmoid". An empty name means tanh.
func ActivationByName(name string) (Activation, error) {
	switch name {
	case "", "tanh":
		return Tanh{}, nil
	case "sigmoid":
		return Sigmoid{}, nil
	default:
		return nil, fmt.Errorf("unsupported activation %q", name)
	}
}

// Network is a stack of dense layers. Layer i has a weight matrix of shape
// sizes[i+1] x (sizes[i]+1); the last column holds the bias.
type Network struct {
	sizes      []int
	activation Activation
	weights    []*mat.Dense
}

// New builds a network with zero weights. sizes lists the neuron count of the
// input layer, each hidden layer and the output layer.
func New(sizes []int, activation Activation) (*Network, error) {
	if len(sizes) < 2 {
		return nil, errors.New("network needs at least an input and an output layer")
	}
	for i, n := range sizes {
		if n <= 0 {
			return nil, fmt.Errorf("layer %d has %d neurons", i, n)
		}
	}
	if activation == nil {
		activation = Tanh{}
	}

	net := &Network{
		sizes:      append([]int(nil), sizes...),
		activation: activation,
		weights:    make([]*mat.Dense, len(sizes)-1),
	}
	for i := range net.weights {
		net.weights[i] = mat.NewDense(sizes[i+1], sizes[i]+1, nil)
	}
	return net, nil
}

// Randomize sets every weight uniformly in [-1, 1].
func (n *Network) Randomize(rng *rand.Rand) {
	for _, w := range n.weights {
		raw := w.RawMatrix().Data
		for i := range raw {
			raw[i] = rng.Float64()*2 - 1
		}
	}
}

func (n *Network) InputCount() int  { return n.sizes[0] }
func (n *Network) OutputCount() int { return n.sizes[len(n.sizes)-1] }

// Sizes returns a copy of the neuron count of every layer.
func (n *Network) Sizes() []int { return append([]int(nil), n.sizes...) }

// Activation returns the activation used by every layer.
func (n *Network) Activation() Activation { return n.activation }

// WeightCount is the total number of trainable parameters.
func (n *Network) WeightCount() int {
	total := 0
	for _, w := range n.weights {
		r, c := w.Dims()
		total += r * c
	}
	return total
}

// Compute runs a forward pass and returns the output layer.
func (n *Network) Compute(input []float64) []float64 {
	outputs := n.forward(input)
	return outputs[len(outputs)-1].RawVector().Data
}

// forward returns the bias-free output of every layer, input layer included.
func (n *Network) forward(input []float64) []*mat.VecDense {
	if len(input) != n.sizes[0] {
		panic(fmt.Sprintf("nnet: input has %d values, network expects %d", len(input), n.sizes[0]))
	}
	outputs := make([]*mat.VecDense, len(n.sizes))
	outputs[0] = mat.NewVecDense(len(input), append([]float64(nil), input...))
	for i, w := range n.weights {
		z := mat.NewVecDense(n.sizes[i+1], nil)
		z.MulVec(w, withBias(outputs[i]))
		raw := z.RawVector().Data
		for j := range raw {
			raw[j] = n.activation.Apply(raw[j])
		}
		outputs[i+1] = z
	}
	return outputs
}

func withBias(v *mat.VecDense) *mat.VecDense {
	data := make([]float64, v.Len()+1)
	copy(data, v.RawVector().Data)
	data[len(data)-1] = 1
	return mat.NewVecDense(len(data), data)
}

// params returns every weight in layer order as one flat slice of views.
func (n *Network) params() [][]float64 {
	views := make([][]float64, len(n.weights))
	for i, w := range n.weights {
		views[i] = w.RawMatrix().Data
	}
	return views
}

type networkJSON struct {
	Sizes      []int       `json:"sizes"`
	Activation string      `json:"activation"`
	Weights    [][]float64 `json:"weights"`
}

func (n *Network) MarshalJSON() ([]byte, error) {
	payload := networkJSON{
		Sizes:      n.sizes,
		Activation: n.activation.Name(),
		Weights:    make([][]float64, len(n.weights)),
	}
	for i, w := range n.weights {
		payload.Weights[i] = append([]float64(nil), w.RawMatrix().Data...)
	}
	return json.Marshal(payload)
}

func (n *Network) UnmarshalJSON(data []byte) error {
	var payload networkJSON
	if err := json.Unmarshal(data, &payload); err != nil {
		return err
	}
	activation, err := ActivationByName(payload.Activation)
	if err != nil {
		return err
	}
	restored, err := New(payload.Sizes, activation)
	if err != nil {
		return err
	}
	if len(payload.Weights) != len(restored.weights) {
		return fmt.Errorf("expected %d weight layers, got %d", len(restored.weights), len(payload.Weights))
	}
	for i, w := range restored.weights {
		raw := w.RawMatrix().Data
		if len(payload.Weights[i]) != len(raw) {
			return fmt.Errorf("layer %d: expected %d weights, got %d", i, len(raw), len(payload.Weights[i]))
		}
		copy(raw, payload.Weights[i])
	}
	*n = *restored
	return nil
}
