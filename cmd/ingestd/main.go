// ingestd runs a bulk ingestion: it reads identifiers from a file (or
// stdin), fetches one enriched record per id from the configured remote
// service, and writes the collected records as JSON lines. Progress is
// logged, Prometheus metrics are served on /metrics, and SIGINT triggers
// a graceful stop that logs the frozen checkpoint before exiting.
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/Sternrassler/bulk-ingest/pkg/cache"
	"github.com/Sternrassler/bulk-ingest/pkg/logging"
	"github.com/Sternrassler/bulk-ingest/pkg/orchestrator"
	"github.com/Sternrassler/bulk-ingest/pkg/source"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
)

func main() {
	os.Exit(run())
}

func run() int {
	// Configuration from environment
	baseURL := getEnv("SOURCE_URL", "http://localhost:8080")
	credential := getEnv("SOURCE_TOKEN", "")
	userAgent := getEnv("USER_AGENT", "bulk-ingest/0.1.0")
	idsPath := getEnv("IDS_FILE", "-")
	outPath := getEnv("OUTPUT_FILE", "-")
	redisURL := getEnv("REDIS_URL", "")
	metricsPort := getEnv("METRICS_PORT", "9090")
	logLevel := getEnv("LOG_LEVEL", "info")

	logger := logging.Setup(logging.Config{
		Level:  logging.LogLevel(logLevel),
		Output: os.Stderr,
	})

	cfg := orchestrator.DefaultConfig()
	cfg.BatchSize = getEnvInt("BATCH_SIZE", cfg.BatchSize)
	cfg.Scheduler.MaxConcurrent = getEnvInt("MAX_CONCURRENT", cfg.Scheduler.MaxConcurrent)
	cfg.Scheduler.RequestsPerSecond = getEnvFloat("REQUESTS_PER_SECOND", cfg.Scheduler.RequestsPerSecond)
	cfg.Scheduler.RetryAttempts = getEnvInt("RETRY_ATTEMPTS", cfg.Scheduler.RetryAttempts)

	ids, err := readIDs(idsPath)
	if err != nil {
		logger.Error().Err(err).Str("path", idsPath).Msg("Failed to read ids")
		return 1
	}
	if len(ids) == 0 {
		logger.Error().Str("path", idsPath).Msg("No ids to ingest")
		return 1
	}

	httpCfg := source.DefaultHTTPConfig(baseURL)
	httpCfg.UserAgent = userAgent

	// Optional Redis record cache
	if redisURL != "" {
		redisClient := redis.NewClient(&redis.Options{Addr: redisURL})
		if perr := redisClient.Ping(context.Background()).Err(); perr != nil {
			logger.Error().Err(perr).Str("addr", redisURL).Msg("Failed to connect to Redis")
			return 1
		}
		logger.Info().Str("addr", redisURL).Msg("Connected to Redis")
		httpCfg.Cache = cache.NewManager(redisClient)
	}

	src, err := source.NewHTTP(httpCfg, logging.NewLogger("source"))
	if err != nil {
		logger.Error().Err(err).Msg("Failed to create record source")
		return 1
	}

	orch, err := orchestrator.New(src, cfg, logging.NewLogger("orchestrator"), orchestrator.Callbacks{
		OnProgress: func(s orchestrator.ProcessingState) {
			logger.Info().
				Int("processed", s.Processed).
				Int("total", s.TotalItems).
				Int("successful", s.Successful).
				Int("failed", s.Failed).
				Int("batch", s.CurrentBatch).
				Float64("throughput", s.Throughput()).
				Msg("Progress")
		},
	})
	if err != nil {
		logger.Error().Err(err).Msg("Failed to create orchestrator")
		return 1
	}

	// Metrics and health endpoints
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/health", healthHandler)
	go func() {
		addr := ":" + metricsPort
		logger.Info().Str("addr", addr).Msg("Serving metrics")
		if serr := http.ListenAndServe(addr, mux); serr != nil {
			logger.Warn().Err(serr).Msg("Metrics server stopped")
		}
	}()

	// SIGINT/SIGTERM request a graceful stop: the in-flight batch
	// finishes and a checkpoint is logged before exit.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Info().Str("signal", sig.String()).Msg("Stop requested")
		if serr := orch.Stop(); serr != nil {
			logger.Warn().Err(serr).Msg("Stop request rejected")
		}
	}()

	logger.Info().
		Int("ids", len(ids)).
		Str("source", baseURL).
		Msg("Starting ingestion")

	results, err := orch.Run(context.Background(), ids, credential, nil)
	if err != nil {
		logger.Error().Err(err).Msg("Run failed")
	}

	if cp := orch.Checkpoint(); cp != nil {
		logger.Info().
			Str("reason", string(cp.Reason)).
			Int("processed", len(cp.ProcessedIDs)).
			Int("remaining", len(cp.RemainingIDs)).
			Msg("Run interrupted - checkpoint frozen")
	}

	if werr := writeRecords(outPath, results); werr != nil {
		logger.Error().Err(werr).Str("path", outPath).Msg("Failed to write results")
		return 1
	}

	final := orch.Progress()
	logger.Info().
		Str("state", string(final.State)).
		Int("successful", final.Successful).
		Int("failed", final.Failed).
		Int("skipped", final.Skipped).
		Int("duplicates", final.Duplicates).
		Msg("Ingestion finished")

	if err != nil {
		return 1
	}
	return 0
}

func healthHandler(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, "OK")
}

// readIDs loads one id per line, skipping blanks and # comments.
// Path "-" reads stdin.
func readIDs(path string) ([]string, error) {
	var r io.Reader
	if path == "-" {
		r = os.Stdin
	} else {
		f, err := os.Open(path)
		if err != nil {
			return nil, err
		}
		defer f.Close()
		r = f
	}
	return parseIDs(r)
}

func parseIDs(r io.Reader) ([]string, error) {
	var ids []string
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		ids = append(ids, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return ids, nil
}

// writeRecords emits one JSON object per line. Path "-" writes stdout.
func writeRecords(path string, records []*source.Record) error {
	var w io.Writer
	if path == "-" {
		w = os.Stdout
	} else {
		f, err := os.Create(path)
		if err != nil {
			return err
		}
		defer f.Close()
		w = f
	}
	return encodeRecords(w, records)
}

func encodeRecords(w io.Writer, records []*source.Record) error {
	enc := json.NewEncoder(w)
	for _, rec := range records {
		if err := enc.Encode(rec); err != nil {
			return err
		}
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}
