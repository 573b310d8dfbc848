package main

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"time"
	"unicode/utf8"

	"cloud.google.com/go/storage"
	"github.com/joho/godotenv"

	"github.com/joseph-ayodele/plan-analyzer/internal/admission"
	"github.com/joseph-ayodele/plan-analyzer/internal/common"
	"github.com/joseph-ayodele/plan-analyzer/internal/ocr"
)

// admitcheck runs the admission gate over OCR output and prints the verdict.
// The argument is a local text file or an OCR result location (folder API
// path or gs://bucket/prefix).
func main() {
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	if len(os.Args) < 2 {
		logger.Error("usage: admitcheck <ocr-text-file | result-location>")
		os.Exit(2)
	}
	_ = godotenv.Load()
	cfg := common.LoadConfig()
	arg := os.Args[1]

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	content, err := load(ctx, cfg, arg, logger)
	if err != nil {
		logger.Error("load ocr text", "source", arg, "error", err)
		os.Exit(1)
	}

	gate := admission.Gate{
		MinContentLength: cfg.Admission.MinContentLength,
		MinTableLength:   cfg.Admission.MinTableLength,
	}
	res := gate.Check(content)
	tableSource := admission.TableSource(content)

	out := map[string]any{
		"source":       arg,
		"accepted":     res.Accepted,
		"reason":       res.Reason,
		"content_len":  utf8.RuneCountInString(content),
		"tables":       len(admission.ExtractTables(content)),
		"table_source": utf8.RuneCountInString(tableSource),
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(out)
	if !res.Accepted {
		os.Exit(3)
	}
}

func load(ctx context.Context, cfg *common.Config, arg string, logger *slog.Logger) (string, error) {
	if b, err := os.ReadFile(arg); err == nil {
		return string(b), nil
	}
	router := ocr.Router{
		Folder: ocr.NewFolderClient(ocr.FolderConfig{
			BaseURL:      cfg.OCR.FolderBaseURL,
			ListTimeout:  cfg.OCR.ListTimeout,
			FetchTimeout: cfg.OCR.FetchTimeout,
		}, logger),
	}
	if cfg.OCR.GCSEnabled {
		gcs, err := storage.NewClient(ctx)
		if err != nil {
			return "", err
		}
		defer gcs.Close()
		router.GCS = ocr.NewGCSFetcher(gcs, logger)
	}
	return router.Fetch(ctx, arg)
}
