package repository

import (
	"context"
	"fmt"
	"strings"

	"entgo.io/ent/dialect"
)

const documentsTable = "plan_documents"

// schemaStatements returns the DDL for the given ent dialect.
func schemaStatements(d string) []string {
	ts := "TIMESTAMP"
	if d == dialect.Postgres {
		ts = "TIMESTAMPTZ"
	}
	create := `CREATE TABLE IF NOT EXISTS plan_documents (
	id TEXT PRIMARY KEY,
	user_id TEXT NOT NULL DEFAULT '',
	file_name TEXT NOT NULL DEFAULT '',
	file_ref TEXT NOT NULL DEFAULT '',
	file_size BIGINT NOT NULL DEFAULT 0,
	content TEXT NOT NULL DEFAULT '',
	ocr_meta TEXT NOT NULL DEFAULT '',
	insured_name TEXT,
	insured_age INTEGER,
	insured_gender TEXT,
	insurance_product TEXT,
	insurance_company TEXT,
	sum_assured BIGINT,
	annual_premium BIGINT,
	payment_years INTEGER,
	insurance_period TEXT,
	basic_info_raw TEXT NOT NULL DEFAULT '',
	table_source TEXT NOT NULL DEFAULT '',
	table_summary TEXT NOT NULL DEFAULT '',
	primary_table TEXT NOT NULL DEFAULT '',
	secondary_table TEXT NOT NULL DEFAULT '',
	narrative_summary TEXT NOT NULL DEFAULT '',
	processing_stage TEXT NOT NULL,
	status TEXT NOT NULL,
	error_message TEXT NOT NULL DEFAULT '',
	stage_claim TEXT NOT NULL DEFAULT '',
	created_at {{ts}} NOT NULL,
	updated_at {{ts}} NOT NULL,
	last_processed_at {{ts}}
)`
	return []string{
		strings.ReplaceAll(create, "{{ts}}", ts),
		`CREATE INDEX IF NOT EXISTS plan_documents_stage_idx ON plan_documents (processing_stage)`,
		`CREATE INDEX IF NOT EXISTS plan_documents_user_idx ON plan_documents (user_id)`,
	}
}

// EnsureSchema creates the tables if they do not exist.
func EnsureSchema(ctx context.Context, db *DB) error {
	for _, stmt := range schemaStatements(db.Dialect) {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}
