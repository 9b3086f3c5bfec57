package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/ledgersift/ledgersift/internal/aml"
	"github.com/ledgersift/ledgersift/internal/aml/reporting"
	"github.com/ledgersift/ledgersift/internal/config"
	"github.com/ledgersift/ledgersift/internal/ledger"
	"github.com/ledgersift/ledgersift/pkg/logger"
)

func main() {
	var (
		configPath = flag.String("config", "", "path to YAML configuration")
		ledgerPath = flag.String("ledger", "", "path to ledger CSV (overrides config)")
		outDir     = flag.String("out", ".", "directory for result files")
	)
	flag.Parse()

	// Load environment variables
	if err := godotenv.Load(); err != nil {
		log.Println("Warning: .env file not found, using environment variables")
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	if *ledgerPath != "" {
		cfg.Loader.Path = *ledgerPath
	}
	if cfg.Loader.Path == "" {
		log.Fatal("No ledger file given: set -ledger or loader.path in the config")
	}

	zapLogger := logger.New(cfg.LogLevel, os.Stdout)
	defer zapLogger.Sync()

	if cfg.MetricsAddr != "" {
		go serveMetrics(cfg.MetricsAddr, zapLogger)
	}

	if err := run(cfg, *outDir, zapLogger); err != nil {
		zapLogger.Fatal("Detection run failed", zap.Error(err))
	}
}

func run(cfg config.Config, outDir string, zapLogger *zap.Logger) error {
	sugar := zapLogger.Sugar()

	loader := ledger.NewLoader(cfg.Loader.Kinds, cfg.Loader.MaxRows, sugar)
	txs, skipped, err := loader.LoadFile(cfg.Loader.Path)
	if err != nil {
		return fmt.Errorf("load ledger: %w", err)
	}
	if skipped > 0 {
		sugar.Warnw("unparseable ledger rows skipped", "rows", skipped)
	}

	svc, err := aml.NewService(cfg, zapLogger)
	if err != nil {
		return err
	}

	result, err := svc.Run(context.Background(), txs)
	if errors.Is(err, aml.ErrEmptyGraph) {
		sugar.Warnw("no valid transactions, reporting empty result",
			"malformed", result.Summary.MalformedRecords)
	} else if err != nil {
		return err
	}

	if err := writeResults(outDir, result); err != nil {
		return err
	}

	sugar.Infow("results written",
		"dir", outDir,
		"risk_records", len(result.Records),
		"rings", len(result.Rings))
	return nil
}

func writeResults(dir string, result aml.Result) error {
	files := map[string]func(f *os.File) error{
		"risk_records.csv": func(f *os.File) error { return reporting.WriteRiskCSV(f, result) },
		"rings.csv":        func(f *os.File) error { return reporting.WriteRingsCSV(f, result) },
		"result.json":      func(f *os.File) error { return reporting.WriteJSON(f, result) },
	}
	for name, write := range files {
		f, err := os.Create(filepath.Join(dir, name))
		if err != nil {
			return fmt.Errorf("create %s: %w", name, err)
		}
		if err := write(f); err != nil {
			f.Close()
			return fmt.Errorf("write %s: %w", name, err)
		}
		if err := f.Close(); err != nil {
			return fmt.Errorf("close %s: %w", name, err)
		}
	}
	return nil
}

func serveMetrics(addr string, zapLogger *zap.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	zapLogger.Info("Prometheus metrics listening", zap.String("addr", addr))
	if err := http.ListenAndServe(addr, mux); err != nil {
		zapLogger.Warn("Metrics listener stopped", zap.Error(err))
	}
}
