package extract

import "github.com/joseph-ayodele/plan-analyzer/internal/llm"

func nullable(t string) map[string]any {
	return map[string]any{"type": []any{t, "null"}}
}

var basicInfoSchema = llm.NewSchema("basic_info", map[string]any{
	"type": "object",
	"properties": map[string]any{
		"insured_name":      nullable("string"),
		"insured_age":       nullable("number"),
		"insured_gender":    nullable("string"),
		"insurance_product": nullable("string"),
		"insurance_company": nullable("string"),
		"sum_assured":       nullable("number"),
		"annual_premium":    nullable("number"),
		"payment_years":     nullable("number"),
		"insurance_period":  nullable("string"),
	},
}, "insured_age", "sum_assured", "annual_premium", "payment_years")

func yearsSchema(name string, fields ...string) *llm.Schema {
	props := map[string]any{}
	required := make([]any, 0, len(fields))
	for _, f := range fields {
		props[f] = map[string]any{"type": "number"}
		required = append(required, f)
	}
	return llm.NewSchema(name, map[string]any{
		"type":     "object",
		"required": []any{"years"},
		"properties": map[string]any{
			"years": map[string]any{
				"type": "array",
				"items": map[string]any{
					"type":       "object",
					"required":   required,
					"properties": props,
				},
			},
		},
	}, fields...)
}

var (
	surrenderTableSchema = yearsSchema("surrender_table", "policy_year", "guaranteed", "total")
	incomeTableSchema    = yearsSchema("income_table", "policy_year", "withdraw", "withdraw_total", "total")
)
