package postgres

import (
	"fmt"
	"strings"
)

// pgIdent quotes an identifier for Postgres.
func pgIdent(s string) string {
	return `"` + strings.ReplaceAll(s, `"`, `""`) + `"`
}

// buildDimensionUpsertSQL constructs a multi-row dimension upsert and its args.
//
// The statement is:
//
//	INSERT INTO t (key, attrs...) VALUES ... ON CONFLICT (key) DO UPDATE SET attr = EXCLUDED.attr, ...
//
// so existing rows keep their surrogate key and only mutable attributes move.
//
// Constraints:
//   - Every row must align with columns (natural key first).
//   - The natural key must be unique within rows: a multi-row ON CONFLICT DO
//     UPDATE cannot touch the same target row twice. The transform stage
//     guarantees this.
//
// The builder is pure so placeholder numbering and conflict behavior can be
// unit tested without a database.
func buildDimensionUpsertSQL(table string, columns []string, rows [][]any) (string, []any) {
	var b strings.Builder
	b.WriteString("INSERT INTO ")
	b.WriteString(pgIdent(table))
	b.WriteString(" (")
	writeIdentList(&b, columns)
	b.WriteString(") VALUES ")

	args := writeValuePlaceholders(&b, columns, rows)

	b.WriteString(" ON CONFLICT (")
	b.WriteString(pgIdent(columns[0]))
	b.WriteString(") DO UPDATE SET ")
	for i, c := range columns[1:] {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(pgIdent(c))
		b.WriteString(" = EXCLUDED.")
		b.WriteString(pgIdent(c))
	}
	b.WriteString(";")
	return b.String(), args
}

// buildFactUpsertSQL constructs a multi-row fact upsert deduped on the
// natural-identity columns, updating measure columns on conflict so re-runs
// are idempotent without inflating fact counts.
func buildFactUpsertSQL(table string, columns []string, rows [][]any, dedupeColumns []string) (string, []any) {
	var b strings.Builder
	b.WriteString("INSERT INTO ")
	b.WriteString(pgIdent(table))
	b.WriteString(" (")
	writeIdentList(&b, columns)
	b.WriteString(") VALUES ")

	args := writeValuePlaceholders(&b, columns, rows)

	b.WriteString(" ON CONFLICT (")
	writeIdentList(&b, dedupeColumns)
	b.WriteString(") DO UPDATE SET ")

	dedupe := make(map[string]bool, len(dedupeColumns))
	for _, c := range dedupeColumns {
		dedupe[c] = true
	}
	first := true
	for _, c := range columns {
		if dedupe[c] {
			continue
		}
		if !first {
			b.WriteString(", ")
		}
		first = false
		b.WriteString(pgIdent(c))
		b.WriteString(" = EXCLUDED.")
		b.WriteString(pgIdent(c))
	}
	b.WriteString(";")
	return b.String(), args
}

// buildCalendarInsertSQL constructs an idempotent dim_date insert.
func buildCalendarInsertSQL(table string, columns []string, rows [][]any) (string, []any) {
	var b strings.Builder
	b.WriteString("INSERT INTO ")
	b.WriteString(pgIdent(table))
	b.WriteString(" (")
	writeIdentList(&b, columns)
	b.WriteString(") VALUES ")

	args := writeValuePlaceholders(&b, columns, rows)

	b.WriteString(" ON CONFLICT (")
	b.WriteString(pgIdent(columns[0]))
	b.WriteString(") DO NOTHING;")
	return b.String(), args
}

// buildSurrogateSelectSQL constructs the surrogate lookup for a key batch.
func buildSurrogateSelectSQL(table, keyColumn, surrogateColumn string, keys []any) (string, []any) {
	var b strings.Builder
	b.WriteString("SELECT ")
	b.WriteString(pgIdent(keyColumn))
	b.WriteString(", ")
	b.WriteString(pgIdent(surrogateColumn))
	b.WriteString(" FROM ")
	b.WriteString(pgIdent(table))
	b.WriteString(" WHERE ")
	b.WriteString(pgIdent(keyColumn))
	b.WriteString(" IN (")

	args := make([]any, 0, len(keys))
	for i, k := range keys {
		if i > 0 {
			b.WriteString(", ")
		}
		fmt.Fprintf(&b, "$%d", i+1)
		args = append(args, k)
	}
	b.WriteString(");")
	return b.String(), args
}

func writeIdentList(b *strings.Builder, columns []string) {
	for i, c := range columns {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(pgIdent(c))
	}
}

func writeValuePlaceholders(b *strings.Builder, columns []string, rows [][]any) []any {
	args := make([]any, 0, len(rows)*len(columns))
	p := 1
	for i, row := range rows {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString("(")
		for j := range columns {
			if j > 0 {
				b.WriteString(", ")
			}
			fmt.Fprintf(b, "$%d", p)
			args = append(args, row[j])
			p++
		}
		b.WriteString(")")
	}
	return args
}
