package config

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v2"

	"irisnet/dataset"
	"irisnet/db"
	"irisnet/logging"
	"irisnet/ml"
	"irisnet/nnet"
)

// Config is the contents of config.yaml.
type Config struct {
	Dataset  DatasetConfig  `yaml:"dataset"`
	Training TrainingConfig `yaml:"training"`
	Database db.StoreConfig `yaml:"database"`
	Http     struct {
		Port int `yaml:"port"`
	} `yaml:"http"`
	Log   logging.Config `yaml:"log"`
	Watch bool           `yaml:"watch"`
}

// DatasetConfig describes the CSV to train on. An empty path uses the
// built-in iris data.
type DatasetConfig struct {
	Path        string `yaml:"path"`
	Encoding    string `yaml:"encoding"`
	Columns     string `yaml:"columns"`
	Classifying string `yaml:"classifying"`
	Shuffle     bool   `yaml:"shuffle"`
	Seed        int64  `yaml:"seed"`
}

type TrainingConfig struct {
	TrainFraction float64 `yaml:"train_fraction"`
	Hidden        []int   `yaml:"hidden"`
	Activation    string  `yaml:"activation"`
	Threshold     float64 `yaml:"threshold"`
	MaxEpochs     int     `yaml:"max_epochs"`
	LabelEncoding string  `yaml:"label_encoding"`
	ModelPath     string  `yaml:"model_path"`
	PlotPath      string  `yaml:"plot_path"`
}

// Default returns the settings used for keys missing from config.yaml.
func Default() *Config {
	cfg := &Config{
		Dataset: DatasetConfig{
			Columns:     dataset.IrisColumns,
			Classifying: dataset.IrisLabel,
			Shuffle:     true,
		},
		Training: TrainingConfig{
			TrainFraction: ml.DefaultTrainFraction,
			Hidden:        []int{4},
			Activation:    nnet.Tanh{}.Name(),
			Threshold:     nnet.DefaultThreshold,
			MaxEpochs:     100000,
			LabelEncoding: ml.EncodingEquilateral,
			ModelPath:     "models/iris.json",
			PlotPath:      "models/iris_error.png",
		},
		Database: db.StoreConfig{
			Path:      "data/irisnet.db",
			EnableWAL: true,
		},
		Log: logging.Config{
			Level:      "info",
			MaxSizeMB:  100,
			MaxBackups: 3,
		},
	}
	cfg.Http.Port = 8080
	return cfg
}

// Load reads path over the defaults and validates the result.
func Load(path string) (*Config, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	config := Default()
	if err := yaml.NewDecoder(file).Decode(config); err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return config, nil
}

// Validate rejects values the pipeline cannot run with.
func (c *Config) Validate() error {
	if _, err := dataset.ParseColumnTypes(c.Dataset.Columns); err != nil {
		return err
	}
	t := c.Training
	if t.TrainFraction <= 0 || t.TrainFraction > 1 {
		return fmt.Errorf("training.train_fraction must be in (0, 1], got %v", t.TrainFraction)
	}
	for _, h := range t.Hidden {
		if h <= 0 {
			return fmt.Errorf("training.hidden sizes must be positive, got %v", t.Hidden)
		}
	}
	if _, err := nnet.ActivationByName(t.Activation); err != nil {
		return err
	}
	if t.Threshold <= 0 {
		return fmt.Errorf("training.threshold must be positive, got %v", t.Threshold)
	}
	if t.MaxEpochs < 0 {
		return fmt.Errorf("training.max_epochs must not be negative, got %d", t.MaxEpochs)
	}
	switch t.LabelEncoding {
	case ml.EncodingEquilateral, ml.EncodingOneOfN:
	default:
		return fmt.Errorf("training.label_encoding %q is not supported", t.LabelEncoding)
	}
	if t.ModelPath == "" {
		return errors.New("training.model_path is required")
	}
	if c.Database.Path == "" {
		return errors.New("database.path is required")
	}
	if c.Http.Port < 0 || c.Http.Port > 65535 {
		return fmt.Errorf("http.port out of range: %d", c.Http.Port)
	}
	return nil
}
