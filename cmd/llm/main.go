package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/joseph-ayodele/plan-analyzer/internal/admission"
	"github.com/joseph-ayodele/plan-analyzer/internal/common"
	"github.com/joseph-ayodele/plan-analyzer/internal/entity"
	"github.com/joseph-ayodele/plan-analyzer/internal/extract"
	"github.com/joseph-ayodele/plan-analyzer/internal/llm/provider"
)

// llm runs one extraction step against a local OCR text file with the
// configured backend, for prompt debugging. Steps that depend on earlier
// ones run those first.
func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	if len(os.Args) < 3 {
		logger.Error("usage: llm <basic_info|table_summary|primary_table|secondary_table|summary> <ocr-text-file>")
		os.Exit(2)
	}
	step, path := os.Args[1], os.Args[2]

	_ = godotenv.Load()
	cfg := common.LoadConfig()

	raw, err := os.ReadFile(path)
	if err != nil {
		logger.Error("read ocr text", "path", path, "error", err)
		os.Exit(2)
	}
	content := string(raw)

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Minute)
	defer cancel()

	client, closeFn, err := provider.New(ctx, cfg.LLM, logger)
	if err != nil {
		logger.Error("build llm client", "error", err)
		os.Exit(1)
	}
	defer closeFn()
	ex := extract.NewService(client, extract.Options{Timeout: cfg.LLM.Timeout, SummaryTimeout: cfg.LLM.SummaryTimeout}, logger)

	start := time.Now()
	out, err := run(ctx, ex, step, content)
	if err != nil {
		logger.Error("llm.run.error", "step", step, "backend", client.Name(), "error", err)
		os.Exit(1)
	}
	logger.Info("llm.run.ok", "step", step, "backend", client.Name(), "elapsed_ms", time.Since(start).Milliseconds())
	fmt.Println(out)
}

func run(ctx context.Context, ex *extract.Service, step, content string) (string, error) {
	switch step {
	case "table_source":
		return admission.TableSource(content), nil
	case "basic_info":
		info, _, err := ex.BasicInfo(ctx, content)
		if err != nil {
			return "", err
		}
		return pretty(info)
	case "table_summary":
		return ex.TableSummary(ctx, content)
	case "primary_table", "secondary_table":
		summary, err := ex.TableSummary(ctx, content)
		if err != nil {
			return "", err
		}
		kind := extract.TableSurrender
		if step == "secondary_table" {
			kind = extract.TableIncome
		}
		desc, found, err := ex.FindTable(ctx, kind, summary)
		if err != nil {
			return "", err
		}
		if !found {
			return "table not present", nil
		}
		if kind == extract.TableSurrender {
			t, err := ex.SurrenderTable(ctx, desc, content)
			if err != nil {
				return "", err
			}
			return pretty(t)
		}
		t, err := ex.IncomeTable(ctx, desc, content)
		if err != nil {
			return "", err
		}
		return pretty(t)
	case "summary":
		info, _, err := ex.BasicInfo(ctx, content)
		if err != nil {
			return "", err
		}
		in := extract.SummaryInput{Content: content, BasicInfo: info}
		if summary, err := ex.TableSummary(ctx, content); err == nil {
			in.Primary = surrender(ctx, ex, summary, content)
		}
		return ex.Summary(ctx, in)
	default:
		return "", fmt.Errorf("unknown step %q", strings.TrimSpace(step))
	}
}

func surrender(ctx context.Context, ex *extract.Service, summary, content string) *entity.SurrenderTable {
	desc, found, err := ex.FindTable(ctx, extract.TableSurrender, summary)
	if err != nil || !found {
		return nil
	}
	t, err := ex.SurrenderTable(ctx, desc, content)
	if err != nil {
		return nil
	}
	return t
}

func pretty(v any) (string, error) {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return "", err
	}
	return string(b), nil
}
