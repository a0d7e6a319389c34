package ml

import (
	"strings"
	"testing"
)

// echoClassifier returns its input, so inputs double as network outputs.
type echoClassifier struct{}

func (echoClassifier) Compute(input []float64) []float64 { return input }

func TestEvaluate(t *testing.T) {
	enc, err := NewOneOfN(3, -1, 1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	classes := []string{"setosa", "versicolor", "virginica"}
	inputs := [][]float64{
		enc.Encode(0),
		enc.Encode(1),
		enc.Encode(2),
		enc.Encode(2), // labelled versicolor, predicted virginica
	}
	labels := []int{0, 1, 2, 1}

	report, err := Evaluate(echoClassifier{}, inputs, labels, classes, enc)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if report.Total != 4 || report.Correct != 3 {
		t.Fatalf("unexpected counts: %d/%d", report.Correct, report.Total)
	}
	if report.Accuracy != 0.75 {
		t.Fatalf("expected accuracy 0.75, got %v", report.Accuracy)
	}
	if report.Confusion["versicolor"]["virginica"] != 1 {
		t.Fatalf("unexpected confusion matrix: %v", report.Confusion)
	}
	if report.Recall["versicolor"] != 0.5 {
		t.Fatalf("expected versicolor recall 0.5, got %v", report.Recall["versicolor"])
	}
	if report.Precision["virginica"] != 0.5 {
		t.Fatalf("expected virginica precision 0.5, got %v", report.Precision["virginica"])
	}
	if !strings.Contains(report.Summary(), "setosa") {
		t.Fatalf("summary should list classes: %s", report.Summary())
	}
}

func TestEvaluateEmpty(t *testing.T) {
	enc, _ := NewEquilateral(3, -1, 1)
	report, err := Evaluate(echoClassifier{}, nil, nil, []string{"a", "b", "c"}, enc)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if report.Accuracy != 0 || report.Total != 0 {
		t.Fatalf("unexpected report: %+v", report)
	}
	if _, err := Evaluate(echoClassifier{}, [][]float64{{0, 0}}, nil, []string{"a", "b", "c"}, enc); err == nil {
		t.Fatal("expected error for size mismatch")
	}
}
