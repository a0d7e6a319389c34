package report

import (
	"os"
	"path/filepath"
	"testing"
)

func TestPlotErrors(t *testing.T) {
	path := filepath.Join(t.TempDir(), "plots", "error.png")
	if err := PlotErrors([]float64{0.8, 0.3, 0.1, 0.05, 0.009}, path); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if info.Size() == 0 {
		t.Fatalf("expected non-empty plot")
	}
}

func TestPlotErrorsEmpty(t *testing.T) {
	if err := PlotErrors(nil, filepath.Join(t.TempDir(), "error.png")); err == nil {
		t.Fatalf("expected error")
	}
}
