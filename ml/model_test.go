package ml

import (
	"math/rand"
	"os"
	"path/filepath"
	"testing"

	"irisnet/nnet"
)

func TestModelSaveLoad(t *testing.T) {
	prepared, err := Prepare(sampleTable(), PrepareConfig{TrainFraction: 0.6})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	net, err := nnet.New([]int{2, 3, prepared.Encoder.Width()}, nnet.Tanh{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	net.Randomize(rand.New(rand.NewSource(5)))

	model := NewModel(net, prepared)
	path := filepath.Join(t.TempDir(), "models", "model.json")
	if err := model.Save(path); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	loaded, err := LoadModel(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if loaded.Label != "kind" || len(loaded.Classes) != 3 {
		t.Fatalf("unexpected model metadata: %s %v", loaded.Label, loaded.Classes)
	}
	if got := loaded.Features(); len(got) != 2 || got[0] != "a" || got[1] != "b" {
		t.Fatalf("unexpected features: %v", got)
	}

	raw := []float64{4, 10}
	wantClass, wantDist, err := model.Predict(raw)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	gotClass, gotDist, err := loaded.Predict(raw)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if wantClass != gotClass || wantDist != gotDist {
		t.Fatalf("loaded model predicts %d/%v, want %d/%v", gotClass, gotDist, wantClass, wantDist)
	}
	if loaded.ClassName(gotClass) == "" {
		t.Fatal("expected class name")
	}
}

func TestModelSaveReplacesFile(t *testing.T) {
	prepared, err := Prepare(sampleTable(), PrepareConfig{TrainFraction: 0.6, Low: 0, High: 1})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	dir := filepath.Join(t.TempDir(), "models")
	path := filepath.Join(dir, "model.json")

	var last *Model
	for seed := int64(1); seed <= 2; seed++ {
		net, err := nnet.New([]int{2, 3, prepared.Encoder.Width()}, nnet.Sigmoid{})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		net.Randomize(rand.New(rand.NewSource(seed)))
		last = NewModel(net, prepared)
		if err := last.Save(path); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(entries) != 1 || entries[0].Name() != "model.json" {
		names := make([]string, len(entries))
		for i, e := range entries {
			names[i] = e.Name()
		}
		t.Fatalf("expected only model.json in %s, got %v", dir, names)
	}

	loaded, err := LoadModel(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if loaded.Preprocessor.Low != 0 || loaded.Preprocessor.High != 1 {
		t.Fatalf("expected [0, 1] scaling, got [%v, %v]", loaded.Preprocessor.Low, loaded.Preprocessor.High)
	}
	raw := []float64{4, 10}
	wantClass, wantDist, err := last.Predict(raw)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	gotClass, gotDist, err := loaded.Predict(raw)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if wantClass != gotClass || wantDist != gotDist {
		t.Fatalf("expected the second save to win: got %d/%v, want %d/%v", gotClass, gotDist, wantClass, wantDist)
	}
}

func TestModelSaveParentIsFile(t *testing.T) {
	prepared, err := Prepare(sampleTable(), PrepareConfig{TrainFraction: 0.6})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	net, err := nnet.New([]int{2, 2, prepared.Encoder.Width()}, nnet.Tanh{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// a regular file where the parent directory should be
	blocker := filepath.Join(t.TempDir(), "blocker")
	if err := os.WriteFile(blocker, []byte("x"), 0o600); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := NewModel(net, prepared).Save(filepath.Join(blocker, "model.json")); err == nil {
		t.Fatal("expected error when the parent is a file")
	}
}

func TestModelNotTrained(t *testing.T) {
	model := &Model{}
	if _, _, err := model.Predict([]float64{1}); err == nil {
		t.Fatal("expected error")
	}
	if err := model.Save(filepath.Join(t.TempDir(), "m.json")); err == nil {
		t.Fatal("expected error")
	}
	if _, err := LoadModel(filepath.Join(t.TempDir(), "missing.json")); err == nil {
		t.Fatal("expected error for missing file")
	}
}
