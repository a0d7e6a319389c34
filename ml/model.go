package ml

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"irisnet/nnet"
)

// Model bundles a trained network with what is needed to classify raw
// measurements: column ranges, class names and the label encoding.
type Model struct {
	Network      *nnet.Network
	Preprocessor *Preprocessor
	Encoder      LabelEncoder
	Classes      []string
	Label        string
}

// NewModel ties a trained network to the preparation that produced its data.
func NewModel(net *nnet.Network, p *Prepared) *Model {
	return &Model{
		Network:      net,
		Preprocessor: p.Preprocessor,
		Encoder:      p.Encoder,
		Classes:      p.Classes,
		Label:        p.Label,
	}
}

// Predict classifies one raw measurement vector ordered as Features(). It
// returns the class index and the distance between the network output and
// that class's code.
func (m *Model) Predict(raw []float64) (int, float64, error) {
	if m.Network == nil || m.Preprocessor == nil || m.Encoder == nil {
		return 0, 0, errors.New("model not trained")
	}
	input, err := m.Preprocessor.NormalizeVector(raw)
	if err != nil {
		return 0, 0, err
	}
	out := m.Network.Compute(input)
	class := m.Encoder.Decode(out)

	return class, m.Encoder.Distance(out, class), nil
}

// ClassName returns the class label for an index from Predict.
func (m *Model) ClassName(class int) string {
	if class < 0 || class >= len(m.Classes) {
		return ""
	}
	return m.Classes[class]
}

// Features returns the raw input columns Predict expects, in order.
func (m *Model) Features() []string {
	return m.Preprocessor.Features()
}

type modelFile struct {
	Network  *nnet.Network    `json:"network"`
	Features []string         `json:"features"`
	Stats    map[string]Range `json:"stats"`
	Low      float64          `json:"low"`
	High     float64          `json:"high"`
	Encoding string           `json:"encoding"`
	Classes  []string         `json:"classes"`
	Label    string           `json:"label"`
}

// Save writes the model as JSON, creating the parent directory. The file is
// written next to path and renamed over it, so readers never see a partial
// model.
func (m *Model) Save(path string) error {
	if m.Network == nil || m.Preprocessor == nil || m.Encoder == nil {
		return errors.New("model not trained")
	}
	payload, err := json.Marshal(modelFile{
		Network:  m.Network,
		Features: m.Preprocessor.Features(),
		Stats:    m.Preprocessor.FeatureStats(),
		Low:      m.Preprocessor.Low,
		High:     m.Preprocessor.High,
		Encoding: m.Encoder.Name(),
		Classes:  m.Classes,
		Label:    m.Label,
	})
	if err != nil {
		return err
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	return writeFileAtomic(dir, path, payload)
}

func writeFileAtomic(dir, path string, payload []byte) error {
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+"-*.tmp")
	if err != nil {
		return err
	}
	name := tmp.Name()
	if _, err := tmp.Write(payload); err != nil {
		tmp.Close()
		os.Remove(name)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(name)
		return err
	}
	if err := os.Rename(name, path); err != nil {
		os.Remove(name)
		return fmt.Errorf("replace model %s: %w", path, err)
	}
	return nil
}

// Load replaces m with the model stored at path.
func (m *Model) Load(path string) error {
	payload, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	var file modelFile
	if err := json.Unmarshal(payload, &file); err != nil {
		return fmt.Errorf("decode model %s: %w", path, err)
	}
	if file.Network == nil {
		return fmt.Errorf("model %s has no network", path)
	}

	pre, err := restorePreprocessor(file.Low, file.High, file.Features, file.Stats)
	if err != nil {
		return err
	}
	enc, err := NewLabelEncoder(file.Encoding, len(file.Classes), file.Low, file.High)
	if err != nil {
		return err
	}
	if enc.Width() != file.Network.OutputCount() {
		return fmt.Errorf("model %s: encoder width %d does not match %d network outputs", path, enc.Width(), file.Network.OutputCount())
	}
	if len(file.Features) != file.Network.InputCount() {
		return fmt.Errorf("model %s: %d features for %d network inputs", path, len(file.Features), file.Network.InputCount())
	}

	*m = Model{
		Network:      file.Network,
		Preprocessor: pre,
		Encoder:      enc,
		Classes:      file.Classes,
		Label:        file.Label,
	}
	return nil
}
