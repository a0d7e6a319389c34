package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"go.uber.org/zap"

	"irisnet/config"
	"irisnet/db"
	"irisnet/logging"
	"irisnet/pipeline"
)

func main() {
	configPath := flag.String("config", "", "config file (defaults are used when empty)")
	dataPath := flag.String("data", "", "CSV dataset path; empty uses the built-in iris data")
	columns := flag.String("columns", "", "column types, e.g. DDDDN")
	classifying := flag.String("classifying", "", "label column header")
	hidden := flag.String("hidden", "", "comma separated hidden layer sizes")
	threshold := flag.Float64("threshold", 0, "stop when the training error reaches this value")
	maxEpochs := flag.Int("max_epochs", -1, "epoch limit, 0 for none")
	fraction := flag.Float64("train_fraction", 0, "share of rows used for training")
	seed := flag.Int64("seed", 0, "shuffle and weight seed")
	modelPath := flag.String("model_path", "", "model output path")
	plotPath := flag.String("plot_path", "", "training error plot path")
	noStore := flag.Bool("no_store", false, "do not record the run in the database")
	flag.Parse()

	cfg := config.Default()
	if *configPath != "" {
		loaded, err := config.Load(*configPath)
		if err != nil {
			log.Fatalf("failed to load config: %v", err)
		}
		cfg = loaded
	}

	// flags given on the command line override the config file
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "data":
			cfg.Dataset.Path = *dataPath
		case "columns":
			cfg.Dataset.Columns = *columns
		case "classifying":
			cfg.Dataset.Classifying = *classifying
		case "threshold":
			cfg.Training.Threshold = *threshold
		case "max_epochs":
			cfg.Training.MaxEpochs = *maxEpochs
		case "train_fraction":
			cfg.Training.TrainFraction = *fraction
		case "seed":
			cfg.Dataset.Seed = *seed
		case "model_path":
			cfg.Training.ModelPath = *modelPath
		case "plot_path":
			cfg.Training.PlotPath = *plotPath
		}
	})
	if *hidden != "" {
		sizes, err := parseSizes(*hidden)
		if err != nil {
			log.Fatalf("invalid -hidden: %v", err)
		}
		cfg.Training.Hidden = sizes
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("invalid configuration: %v", err)
	}

	logger, err := logging.New(cfg.Log)
	if err != nil {
		log.Fatalf("failed to create logger: %v", err)
	}
	defer logger.Sync()

	opts := []pipeline.Option{pipeline.WithLogger(logger)}
	if !*noStore {
		store, err := db.Open(cfg.Database)
		if err != nil {
			logger.Fatal("failed to open database", zap.Error(err))
		}
		defer store.Close()
		opts = append(opts, pipeline.WithStore(store))
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	result, err := pipeline.NewRunner(cfg, opts...).Run(ctx)
	if errors.Is(err, context.Canceled) {
		logger.Warn("training interrupted")
		return
	}
	if err != nil {
		logger.Fatal("training failed", zap.Error(err))
	}

	fmt.Printf("epochs=%d error=%.6f converged=%t\n", result.Training.Epochs, result.Training.Error, result.Training.Converged)
	fmt.Printf("accuracy=%.4f (%d/%d)\n", result.Report.Accuracy, result.Report.Correct, result.Report.Total)
	fmt.Print(result.Report.Summary())
	fmt.Printf("model saved to %s\n", result.ModelPath)
	if result.PlotPath != "" {
		fmt.Printf("error plot saved to %s\n", result.PlotPath)
	}
	if result.RunID > 0 {
		fmt.Printf("run id %d\n", result.RunID)
	}
}

func parseSizes(s string) ([]int, error) {
	parts := strings.Split(s, ",")
	sizes := make([]int, 0, len(parts))
	for _, p := range parts {
		n, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil {
			return nil, err
		}
		sizes = append(sizes, n)
	}
	return sizes, nil
}
