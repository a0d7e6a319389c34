package ml

import (
	"errors"
	"math"

	"github.com/sjwhitworth/golearn/evaluation"
)

// Classifier produces raw network outputs for a normalized input vector.
type Classifier interface {
	Compute(input []float64) []float64
}

// Report is the outcome of evaluating a classifier on held-out rows.
type Report struct {
	Total     int                        `json:"total"`
	Correct   int                        `json:"correct"`
	Accuracy  float64                    `json:"accuracy"`
	Precision map[string]float64         `json:"precision"`
	Recall    map[string]float64         `json:"recall"`
	Confusion evaluation.ConfusionMatrix `json:"confusion"`
}

// MacroPrecision averages the per-class precision.
func (r *Report) MacroPrecision() float64 { return mean(r.Precision) }

// MacroRecall averages the per-class recall.
func (r *Report) MacroRecall() float64 { return mean(r.Recall) }

// Summary renders the per-class table.
func (r *Report) Summary() string {
	if r.Total == 0 {
		return "no test rows\n"
	}
	return evaluation.GetSummary(r.Confusion)
}

// Evaluate decodes the classifier output of every input and compares it to
// the expected class index. An empty test set yields an accuracy of 0.
func Evaluate(model Classifier, inputs [][]float64, labels []int, classes []string, enc LabelEncoder) (*Report, error) {
	if model == nil || enc == nil {
		return nil, errors.New("model and encoder are required")
	}
	if len(inputs) != len(labels) {
		return nil, errors.New("inputs and labels size mismatch")
	}

	report := &Report{
		Total:     len(inputs),
		Precision: make(map[string]float64, len(classes)),
		Recall:    make(map[string]float64, len(classes)),
		Confusion: make(evaluation.ConfusionMatrix, len(classes)),
	}
	for _, c := range classes {
		report.Confusion[c] = make(map[string]int, len(classes))
	}

	for i, input := range inputs {
		predicted := enc.Decode(model.Compute(input))
		if predicted == labels[i] {
			report.Correct++
		}
		report.Confusion[classes[labels[i]]][classes[predicted]]++
	}
	if report.Total == 0 {
		return report, nil
	}

	report.Accuracy = evaluation.GetAccuracy(report.Confusion)
	for _, c := range classes {
		report.Precision[c] = finite(evaluation.GetPrecision(c, report.Confusion))
		report.Recall[c] = finite(evaluation.GetRecall(c, report.Confusion))
	}
	return report, nil
}

func finite(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	return v
}

func mean(values map[string]float64) float64 {
	if len(values) == 0 {
		return 0
	}
	var sum float64
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}
