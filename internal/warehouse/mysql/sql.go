package mysql

import "strings"

// myIdent quotes an identifier for MySQL.
func myIdent(s string) string {
	return "`" + strings.ReplaceAll(s, "`", "``") + "`"
}

// buildDimensionUpsertSQL constructs a multi-row dimension upsert:
//
//	INSERT INTO t (key, attrs...) VALUES (?,...),... AS new
//	ON DUPLICATE KEY UPDATE attr = new.attr, ...
//
// The natural key must be the first column and carry a UNIQUE index so the
// surrogate AUTO_INCREMENT key is never reassigned on update.
func buildDimensionUpsertSQL(table string, columns []string, rows [][]any) (string, []any) {
	var b strings.Builder
	b.WriteString("INSERT INTO ")
	b.WriteString(myIdent(table))
	b.WriteString(" (")
	writeIdentList(&b, columns)
	b.WriteString(") VALUES ")

	args := writeValuePlaceholders(&b, columns, rows)

	b.WriteString(" AS new ON DUPLICATE KEY UPDATE ")
	for i, c := range columns[1:] {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(myIdent(c))
		b.WriteString(" = new.")
		b.WriteString(myIdent(c))
	}
	b.WriteString(";")
	return b.String(), args
}

// buildFactUpsertSQL constructs a multi-row fact upsert. MySQL's ON DUPLICATE
// KEY fires on any unique index, which for fact_sales is exactly the
// order_number natural identity; non-identity columns are refreshed so
// re-runs stay idempotent.
func buildFactUpsertSQL(table string, columns []string, rows [][]any, dedupeColumns []string) (string, []any) {
	var b strings.Builder
	b.WriteString("INSERT INTO ")
	b.WriteString(myIdent(table))
	b.WriteString(" (")
	writeIdentList(&b, columns)
	b.WriteString(") VALUES ")

	args := writeValuePlaceholders(&b, columns, rows)

	b.WriteString(" AS new ON DUPLICATE KEY UPDATE ")

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
		b.WriteString(myIdent(c))
		b.WriteString(" = new.")
		b.WriteString(myIdent(c))
	}
	b.WriteString(";")
	return b.String(), args
}

// buildCalendarInsertSQL constructs an idempotent dim_date insert.
func buildCalendarInsertSQL(table string, columns []string, rows [][]any) (string, []any) {
	var b strings.Builder
	b.WriteString("INSERT IGNORE INTO ")
	b.WriteString(myIdent(table))
	b.WriteString(" (")
	writeIdentList(&b, columns)
	b.WriteString(") VALUES ")
	args := writeValuePlaceholders(&b, columns, rows)
	b.WriteString(";")
	return b.String(), args
}

// buildSurrogateSelectSQL constructs the surrogate lookup for a key batch.
func buildSurrogateSelectSQL(table, keyColumn, surrogateColumn string, keys []any) (string, []any) {
	var b strings.Builder
	b.WriteString("SELECT ")
	b.WriteString(myIdent(keyColumn))
	b.WriteString(", ")
	b.WriteString(myIdent(surrogateColumn))
	b.WriteString(" FROM ")
	b.WriteString(myIdent(table))
	b.WriteString(" WHERE ")
	b.WriteString(myIdent(keyColumn))
	b.WriteString(" IN (")

	args := make([]any, 0, len(keys))
	for i, k := range keys {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString("?")
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
		b.WriteString(myIdent(c))
	}
}

func writeValuePlaceholders(b *strings.Builder, columns []string, rows [][]any) []any {
	args := make([]any, 0, len(rows)*len(columns))
	for i, row := range rows {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString("(")
		for j := range columns {
			if j > 0 {
				b.WriteString(", ")
			}
			b.WriteString("?")
			args = append(args, row[j])
		}
		b.WriteString(")")
	}
	return args
}
