package extract

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"math"
	"strings"
	"time"

	"github.com/joseph-ayodele/plan-analyzer/internal/entity"
	"github.com/joseph-ayodele/plan-analyzer/internal/llm"
)

// Options tune the model calls. Zero values take the defaults.
type Options struct {
	Timeout        time.Duration // per call, default 120s
	SummaryTimeout time.Duration // narrative summary, default 300s
}

// Service implements Extractor on top of an llm.Client.
type Service struct {
	client llm.Client
	opts   Options
	logger *slog.Logger
}

var _ Extractor = (*Service)(nil)

func NewService(client llm.Client, opts Options, logger *slog.Logger) *Service {
	if opts.Timeout <= 0 {
		opts.Timeout = 120 * time.Second
	}
	if opts.SummaryTimeout <= 0 {
		opts.SummaryTimeout = 300 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{client: client, opts: opts, logger: logger}
}

// ErrEmptyResponse is returned when the model answers with nothing usable.
var ErrEmptyResponse = errors.New("empty model response")

type basicInfoResponse struct {
	InsuredName      *string  `json:"insured_name"`
	InsuredAge       *float64 `json:"insured_age"`
	InsuredGender    *string  `json:"insured_gender"`
	InsuranceProduct *string  `json:"insurance_product"`
	InsuranceCompany *string  `json:"insurance_company"`
	SumAssured       *float64 `json:"sum_assured"`
	AnnualPremium    *float64 `json:"annual_premium"`
	PaymentYears     *float64 `json:"payment_years"`
	InsurancePeriod  *string  `json:"insurance_period"`
}

func (s *Service) BasicInfo(ctx context.Context, content string) (entity.BasicInfo, json.RawMessage, error) {
	text, err := s.client.Complete(ctx, llm.Request{
		System:      basicInfoSystem,
		User:        basicInfoPrompt(content),
		MaxTokens:   1000,
		Temperature: 0.1,
		JSON:        true,
		Timeout:     s.opts.Timeout,
	})
	if err != nil {
		return entity.BasicInfo{}, nil, err
	}
	resp, raw, err := llm.ParseJSON[basicInfoResponse](text, basicInfoSchema, s.logger)
	if err != nil {
		return entity.BasicInfo{}, nil, err
	}
	info := entity.BasicInfo{
		InsuredName:      nonEmpty(resp.InsuredName),
		InsuredAge:       toInt(resp.InsuredAge),
		InsuredGender:    nonEmpty(resp.InsuredGender),
		InsuranceProduct: nonEmpty(resp.InsuranceProduct),
		InsuranceCompany: nonEmpty(resp.InsuranceCompany),
		SumAssured:       toInt64(resp.SumAssured),
		AnnualPremium:    toInt64(resp.AnnualPremium),
		PaymentYears:     toInt(resp.PaymentYears),
		InsurancePeriod:  nonEmpty(resp.InsurancePeriod),
	}
	s.logger.Info("extract.basic_info.ok", "fields", countSet(info))
	return info, raw, nil
}

func (s *Service) TableSummary(ctx context.Context, content string) (string, error) {
	text, err := s.client.Complete(ctx, llm.Request{
		System:      tableSummarySystem,
		User:        tableSummaryPrompt(content),
		MaxTokens:   2000,
		Temperature: 0.3,
		Timeout:     s.opts.Timeout,
	})
	if err != nil {
		return "", err
	}
	out := llm.StripFences(text)
	if out == "" {
		return "", ErrEmptyResponse
	}
	return out, nil
}

func (s *Service) FindTable(ctx context.Context, kind TableKind, tableSummary string) (string, bool, error) {
	text, err := s.client.Complete(ctx, llm.Request{
		System:      checkSystem,
		User:        checkPrompt(kind, tableSummary),
		MaxTokens:   200,
		Temperature: 0.1,
		Timeout:     s.opts.Timeout,
	})
	if err != nil {
		return "", false, err
	}
	answer := strings.TrimSpace(llm.StripFences(text))
	if answer == "" {
		return "", false, ErrEmptyResponse
	}
	if IsSentinel(answer) {
		s.logger.Info("extract.find_table.absent", "kind", kind)
		return "", false, nil
	}
	s.logger.Info("extract.find_table.found", "kind", kind, "descriptor", answer)
	return answer, true, nil
}

func (s *Service) SurrenderTable(ctx context.Context, descriptor, content string) (*entity.SurrenderTable, error) {
	text, err := s.client.Complete(ctx, s.tableRequest(surrenderPrompt(descriptor, content)))
	if err != nil {
		return nil, err
	}
	t, _, err := llm.ParseJSON[entity.SurrenderTable](text, surrenderTableSchema, s.logger)
	if err != nil {
		return nil, err
	}
	s.logger.Info("extract.surrender_table.ok", "rows", len(t.Years))
	return &t, nil
}

func (s *Service) IncomeTable(ctx context.Context, descriptor, content string) (*entity.IncomeTable, error) {
	text, err := s.client.Complete(ctx, s.tableRequest(incomePrompt(descriptor, content)))
	if err != nil {
		return nil, err
	}
	t, _, err := llm.ParseJSON[entity.IncomeTable](text, incomeTableSchema, s.logger)
	if err != nil {
		return nil, err
	}
	s.logger.Info("extract.income_table.ok", "rows", len(t.Years))
	return &t, nil
}

func (s *Service) tableRequest(prompt string) llm.Request {
	return llm.Request{
		System:      extractSystem,
		User:        prompt,
		MaxTokens:   8000,
		Temperature: 0.1,
		JSON:        true,
		Timeout:     s.opts.Timeout,
	}
}

func (s *Service) Summary(ctx context.Context, in SummaryInput) (string, error) {
	ms := Milestones(in.Primary, in.BasicInfo)
	text, err := s.client.Complete(ctx, llm.Request{
		System:      summarySystem,
		User:        summaryPrompt(in, ms),
		MaxTokens:   2000,
		Temperature: 0.3,
		Timeout:     s.opts.SummaryTimeout,
	})
	if err != nil {
		return "", err
	}
	out := llm.StripFences(text)
	if out == "" {
		return "", ErrEmptyResponse
	}
	s.logger.Info("extract.summary.ok", "len", len(out), "milestones", len(ms))
	return out, nil
}

func nonEmpty(s *string) *string {
	if s == nil {
		return nil
	}
	v := strings.TrimSpace(*s)
	if v == "" {
		return nil
	}
	return &v
}

func toInt(f *float64) *int {
	if f == nil {
		return nil
	}
	v := int(math.Round(*f))
	return &v
}

func toInt64(f *float64) *int64 {
	if f == nil {
		return nil
	}
	v := int64(math.Round(*f))
	return &v
}

func countSet(b entity.BasicInfo) int {
	n := 0
	for _, set := range []bool{
		b.InsuredName != nil, b.InsuredAge != nil, b.InsuredGender != nil,
		b.InsuranceProduct != nil, b.InsuranceCompany != nil, b.SumAssured != nil,
		b.AnnualPremium != nil, b.PaymentYears != nil, b.InsurancePeriod != nil,
	} {
		if set {
			n++
		}
	}
	return n
}
