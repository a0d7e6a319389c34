package ml

import (
	"errors"
	"fmt"

	"irisnet/dataset"
)

// DefaultTrainFraction keeps 120 of the 150 iris rows for training.
const DefaultTrainFraction = 0.8

// SplitIndex returns how many leading rows form the training set.
func SplitIndex(rows int, fraction float64) (int, error) {
	if rows <= 0 {
		return 0, errors.New("rows must be positive")
	}
	if fraction <= 0 || fraction > 1 {
		return 0, fmt.Errorf("train fraction must be in (0, 1], got %v", fraction)
	}
	n := int(float64(rows)*fraction + 0.5)
	if n < 1 {
		return 0, fmt.Errorf("train fraction %v leaves no training rows out of %d", fraction, rows)
	}
	if n > rows {
		n = rows
	}
	return n, nil
}

// PrepareConfig selects the label column and how the data is shaped.
type PrepareConfig struct {
	Classifying   string
	TrainFraction float64
	Encoding      string
	Low           float64
	High          float64
}

// Prepared holds everything the trainer and evaluator need.
type Prepared struct {
	TrainInputs [][]float64
	TrainIdeals [][]float64
	TrainLabels []int
	TestInputs  [][]float64
	TestLabels  []int

	Label        string
	Classes      []string
	Encoder      LabelEncoder
	Preprocessor *Preprocessor
}

// Prepare normalizes t, encodes its labels and splits it into training rows
// [0, n) and test rows [n, rows). The table should already be shuffled.
func Prepare(t *dataset.Table, cfg PrepareConfig) (*Prepared, error) {
	if cfg.TrainFraction == 0 {
		cfg.TrainFraction = DefaultTrainFraction
	}
	if cfg.Low == 0 && cfg.High == 0 {
		cfg.Low, cfg.High = -1, 1
	}

	label, err := t.LabelColumn(cfg.Classifying)
	if err != nil {
		return nil, err
	}
	classes := t.Classes(label)
	encoder, err := NewLabelEncoder(cfg.Encoding, len(classes), cfg.Low, cfg.High)
	if err != nil {
		return nil, err
	}

	split, err := SplitIndex(t.Rows(), cfg.TrainFraction)
	if err != nil {
		return nil, err
	}
	trainRows := rowRange(0, split)
	testRows := rowRange(split, t.Rows())

	pre := NewPreprocessor(cfg.Low, cfg.High)
	if err := pre.ComputeStats(t, trainRows, label.Name); err != nil {
		return nil, err
	}
	trainInputs, err := pre.Normalize(t, trainRows)
	if err != nil {
		return nil, err
	}
	testInputs, err := pre.Normalize(t, testRows)
	if err != nil {
		return nil, err
	}

	index := make(map[string]int, len(classes))
	for i, c := range classes {
		index[c] = i
	}
	labelsOf := func(rows []int) []int {
		labels := make([]int, len(rows))
		for i, row := range rows {
			labels[i] = index[label.Nominals[row]]
		}
		return labels
	}

	p := &Prepared{
		TrainInputs:  trainInputs,
		TrainLabels:  labelsOf(trainRows),
		TestInputs:   testInputs,
		TestLabels:   labelsOf(testRows),
		Label:        label.Name,
		Classes:      classes,
		Encoder:      encoder,
		Preprocessor: pre,
	}
	p.TrainIdeals = make([][]float64, len(p.TrainLabels))
	for i, class := range p.TrainLabels {
		p.TrainIdeals[i] = encoder.Encode(class)
	}
	return p, nil
}

func rowRange(from, to int) []int {
	rows := make([]int, 0, to-from)
	for i := from; i < to; i++ {
		rows = append(rows, i)
	}
	return rows
}
