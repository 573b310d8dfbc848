package extract

import (
	"encoding/json"
	"fmt"
	"strings"
)

const basicInfoSystem = "You are an insurance plan analyst. Return ONLY a JSON object, no markdown."

func basicInfoPrompt(content string) string {
	var b strings.Builder
	b.WriteString("Extract the following fields from the insurance plan text below. ")
	b.WriteString("Use null for anything that is not stated.\n\n")
	b.WriteString(`{
  "insured_name": string,
  "insured_age": number,
  "insured_gender": string,
  "insurance_product": string,
  "insurance_company": string,
  "sum_assured": number,
  "annual_premium": number,
  "payment_years": number,
  "insurance_period": string
}`)
	b.WriteString("\n\nAmounts are plain numbers without currency symbols or separators.\n\nPlan text:\n")
	b.WriteString(Window(content, BasicInfoWindow))
	return b.String()
}

const tableSummarySystem = "You are an insurance plan analyst. You describe the tables a plan document contains."

func tableSummaryPrompt(content string) string {
	return "List every table in the plan text below. For each table give its title, " +
		"what it contains, its columns and roughly how many rows it has. " +
		"Answer as a numbered Markdown list.\n\nPlan text:\n" + Window(content, TableSummaryWindow)
}

const checkSystem = "You are an insurance plan analyst. You decide from a table inventory whether a specific table exists."

func checkPrompt(kind TableKind, tableSummary string) string {
	var target string
	switch kind {
	case TableIncome:
		target = "an income or withdrawal value table (cash withdrawn per policy year with the remaining value)"
	default:
		target = "the base plan's surrender value table (guaranteed and total surrender value per policy year, not an income or withdrawal table)"
	}
	return fmt.Sprintf(`Based on the table inventory below, decide whether the document contains %s.

Table inventory:
%s

Answer briefly:
- if such a table exists, give its title, its row count and its columns
- if more than one exists, describe the most complete one (the one with the most rows)
- if none exists, answer 0`, target, tableSummary)
}

const extractSystem = "You are an insurance plan data extractor. Return ONLY a JSON object that matches the requested format."

func surrenderPrompt(descriptor, content string) string {
	return fmt.Sprintf(`Extract the base plan's surrender value table from the plan text.

Table: %s

Rules:
1. policy_year is the end of policy year as an integer. If the table is keyed by age, convert it to the policy year.
2. guaranteed is the guaranteed surrender value, total is the total surrender value.
3. Return JSON in exactly this shape:
{"years":[{"policy_year":1,"guaranteed":1000,"total":1500}]}

Plan text:
%s`, descriptor, Window(content, ValueTableWindow))
}

func incomePrompt(descriptor, content string) string {
	return fmt.Sprintf(`Extract the income withdrawal value table from the plan text.

Table: %s

Rules:
1. policy_year is the end of policy year as an integer. If the table is keyed by age, convert it to the policy year.
2. withdraw is the amount withdrawn that year, withdraw_total the cumulative amount withdrawn, total the remaining total value.
3. Return JSON in exactly this shape:
{"years":[{"policy_year":1,"withdraw":0,"withdraw_total":0,"total":1500}]}

Plan text:
%s`, descriptor, Window(content, ValueTableWindow))
}

const summarySystem = "You are an insurance advisor writing a concise plan summary for a client, in Markdown."

func summaryPrompt(in SummaryInput, ms []Milestone) string {
	var b strings.Builder
	b.WriteString("Write a Markdown summary of this insurance plan: product and insurer, who is insured, ")
	b.WriteString("premium and payment term, coverage period, key benefits, and notable terms.\n")

	if in.Primary != nil && len(ms) > 0 {
		b.WriteString("\nInclude a section on return milestones using these computed points:\n")
		for _, m := range ms {
			b.WriteString("- ")
			b.WriteString(m.String())
			b.WriteString("\n")
		}
		b.WriteString("\nSurrender value table:\n")
		b.WriteString(compactJSON(in.Primary))
		b.WriteString("\n")
	}
	if in.Secondary != nil && len(in.Secondary.Years) > 0 {
		b.WriteString("\nInclude a section on income planning based on this withdrawal table:\n")
		b.WriteString(compactJSON(in.Secondary))
		b.WriteString("\n")
	}
	if in.BasicInfo.InsuredAge != nil {
		fmt.Fprintf(&b, "\nThe insured is currently %d years old; express milestones with the insured's age too.\n", *in.BasicInfo.InsuredAge)
	}
	b.WriteString("\nPlan text:\n")
	b.WriteString(Window(in.Content, SummaryWindow))
	return b.String()
}

func compactJSON(v any) string {
	bs, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	return string(bs)
}
