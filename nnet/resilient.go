package nnet

import (
	"context"
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
)

// iRPROP+ constants.
const (
	DefaultInitialUpdate = 0.1
	DefaultMaxStep       = 50.0
	DefaultMinStep       = 1e-6
	PositiveEta          = 1.2
	NegativeEta          = 0.5
	ZeroTolerance        = 1e-17
)

// DefaultThreshold is the mean squared error at which training stops.
const DefaultThreshold = 0.01

// Resilient trains a network with the iRPROP+ variant of resilient
// propagation over the full batch.
type Resilient struct {
	net    *Network
	inputs [][]float64
	ideals [][]float64

	grads     []*mat.Dense
	lastGrad  [][]float64
	updates   [][]float64
	lastDelta [][]float64

	err     float64
	lastErr float64
	epoch   int
}

// NewResilient validates the training set against the network shape.
func NewResilient(net *Network, inputs, ideals [][]float64) (*Resilient, error) {
	if net == nil {
		return nil, errors.New("network is nil")
	}
	if len(inputs) == 0 {
		return nil, errors.New("training set is empty")
	}
	if len(inputs) != len(ideals) {
		return nil, fmt.Errorf("inputs and ideals size mismatch: %d vs %d", len(inputs), len(ideals))
	}
	for i := range inputs {
		if len(inputs[i]) != net.InputCount() {
			return nil, fmt.Errorf("row %d: %d inputs, network expects %d", i, len(inputs[i]), net.InputCount())
		}
		if len(ideals[i]) != net.OutputCount() {
			return nil, fmt.Errorf("row %d: %d ideals, network expects %d", i, len(ideals[i]), net.OutputCount())
		}
	}

	r := &Resilient{
		net:     net,
		inputs:  inputs,
		ideals:  ideals,
		grads:   make([]*mat.Dense, len(net.weights)),
		lastErr: math.Inf(1),
		err:     math.Inf(1),
	}
	for i, w := range net.weights {
		rows, cols := w.Dims()
		r.grads[i] = mat.NewDense(rows, cols, nil)
		r.lastGrad = append(r.lastGrad, make([]float64, rows*cols))
		r.lastDelta = append(r.lastDelta, make([]float64, rows*cols))
		updates := make([]float64, rows*cols)
		for j := range updates {
			updates[j] = DefaultInitialUpdate
		}
		r.updates = append(r.updates, updates)
	}
	return r, nil
}

// Error is the mean squared error measured by the last Iteration, before its
// weight update was applied.
func (r *Resilient) Error() float64 { return r.err }

// Epoch is the number of completed iterations.
func (r *Resilient) Epoch() int { return r.epoch }

// Iteration runs one full-batch epoch and returns the error.
func (r *Resilient) Iteration() float64 {
	r.lastErr = r.err
	r.err = r.net.gradient(r.inputs, r.ideals, r.grads)

	for layer, w := range r.net.weights {
		weights := w.RawMatrix().Data
		grads := r.grads[layer].RawMatrix().Data
		for i, g := range grads {
			weights[i] += r.step(layer, i, g)
		}
	}
	r.epoch++
	return r.err
}

func (r *Resilient) step(layer, i int, grad float64) float64 {
	change := sign(grad * r.lastGrad[layer][i])
	var delta float64

	switch {
	case change > 0:
		r.updates[layer][i] = math.Min(r.updates[layer][i]*PositiveEta, DefaultMaxStep)
		delta = -sign(grad) * r.updates[layer][i]
		r.lastGrad[layer][i] = grad
	case change < 0:
		r.updates[layer][i] = math.Max(r.updates[layer][i]*NegativeEta, DefaultMinStep)
		// weight backtracking only when the error went up
		if r.err > r.lastErr {
			delta = -r.lastDelta[layer][i]
		}
		r.lastGrad[layer][i] = 0
	default:
		delta = -sign(grad) * r.updates[layer][i]
		r.lastGrad[layer][i] = grad
	}

	r.lastDelta[layer][i] = delta
	return delta
}

func sign(x float64) float64 {
	switch {
	case math.Abs(x) < ZeroTolerance:
		return 0
	case x > 0:
		return 1
	default:
		return -1
	}
}

// TrainOptions bounds a training run.
type TrainOptions struct {
	// Threshold stops training once the error is at or below it.
	Threshold float64
	// MaxEpochs stops training after that many epochs; 0 means no limit.
	MaxEpochs int
	// OnEpoch is called after every epoch.
	OnEpoch func(epoch int, err float64)
}

// Result describes a finished training run.
type Result struct {
	Epochs    int       `json:"epochs"`
	Error     float64   `json:"error"`
	Converged bool      `json:"converged"`
	History   []float64 `json:"history"`
}

// Train iterates until the error drops to the threshold, the epoch limit is
// reached or ctx is done. A cancelled context returns the partial result
// together with ctx.Err().
func (r *Resilient) Train(ctx context.Context, opts TrainOptions) (Result, error) {
	threshold := opts.Threshold
	if threshold <= 0 {
		threshold = DefaultThreshold
	}

	var result Result
	for {
		select {
		case <-ctx.Done():
			return result, ctx.Err()
		default:
		}

		err := r.Iteration()
		result.Epochs = r.epoch
		result.Error = err
		result.History = append(result.History, err)
		if opts.OnEpoch != nil {
			opts.OnEpoch(r.epoch, err)
		}

		if err <= threshold {
			result.Converged = true
			return result, nil
		}
		if opts.MaxEpochs > 0 && r.epoch >= opts.MaxEpochs {
			return result, nil
		}
	}
}

// gradient fills grads with dE/dw for E the mean squared error over the set
// and returns E.
func (n *Network) gradient(inputs, ideals [][]float64, grads []*mat.Dense) float64 {
	for _, g := range grads {
		g.Zero()
	}

	count := float64(len(inputs) * n.OutputCount())
	scale := 2 / count
	var sse float64

	for s, input := range inputs {
		outputs := n.forward(input)
		out := outputs[len(outputs)-1].RawVector().Data

		delta := mat.NewVecDense(len(out), nil)
		for j, a := range out {
			diff := a - ideals[s][j]
			sse += diff * diff
			delta.SetVec(j, scale*diff*n.activation.Derivative(a))
		}

		for l := len(n.weights) - 1; l >= 0; l-- {
			grads[l].RankOne(grads[l], 1, delta, withBias(outputs[l]))
			if l == 0 {
				break
			}

			w := n.weights[l]
			rows, cols := w.Dims()
			back := mat.NewVecDense(cols-1, nil)
			back.MulVec(w.Slice(0, rows, 0, cols-1).T(), delta)
			prev := outputs[l].RawVector().Data
			for j, y := range prev {
				back.SetVec(j, back.AtVec(j)*n.activation.Derivative(y))
			}
			delta = back
		}
	}
	return sse / count
}
