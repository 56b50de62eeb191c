package mssql

import (
	"fmt"
	"strings"
)

// msIdent quotes an identifier for SQL Server.
func msIdent(s string) string {
	return "[" + strings.ReplaceAll(s, "]", "]]") + "]"
}

// SQL Server upserts avoid MERGE on purpose: under concurrency MERGE is
// notoriously racy and its plans are hard to reason about. Instead an upsert
// is two statements inside one transaction:
//
//  1. UPDATE ... FROM (VALUES ...) joined on the natural key
//  2. INSERT ... SELECT over the same VALUES with a LEFT JOIN anti-join
//
// Both are pure builders so placeholder numbering can be unit tested.

// buildUpdateFromValuesSQL builds statement 1 of the upsert.
func buildUpdateFromValuesSQL(table string, columns []string, keyColumns []string, rows [][]any) (string, []any) {
	keySet := make(map[string]bool, len(keyColumns))
	for _, c := range keyColumns {
		keySet[c] = true
	}

	var b strings.Builder
	b.WriteString("UPDATE t SET ")

	first := true
	for _, c := range columns {
		if keySet[c] {
			continue
		}
		if !first {
			b.WriteString(", ")
		}
		first = false
		b.WriteString("t.")
		b.WriteString(msIdent(c))
		b.WriteString(" = v.")
		b.WriteString(msIdent(c))
	}

	b.WriteString(" FROM ")
	b.WriteString(msIdent(table))
	b.WriteString(" t JOIN (VALUES ")
	args := writeValuePlaceholders(&b, columns, rows, 1)
	b.WriteString(") AS v(")
	writeIdentList(&b, columns)
	b.WriteString(") ON ")
	writeJoinOn(&b, keyColumns)

	return b.String(), args
}

// buildInsertMissingSQL builds statement 2 of the upsert.
func buildInsertMissingSQL(table string, columns []string, keyColumns []string, rows [][]any) (string, []any) {
	var b strings.Builder
	b.WriteString("INSERT INTO ")
	b.WriteString(msIdent(table))
	b.WriteString(" (")
	writeIdentList(&b, columns)
	b.WriteString(") SELECT ")

	for i, c := range columns {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString("v.")
		b.WriteString(msIdent(c))
	}

	b.WriteString(" FROM (VALUES ")
	args := writeValuePlaceholders(&b, columns, rows, 1)
	b.WriteString(") AS v(")
	writeIdentList(&b, columns)
	b.WriteString(") LEFT JOIN ")
	b.WriteString(msIdent(table))
	b.WriteString(" t ON ")
	writeJoinOn(&b, keyColumns)
	b.WriteString(" WHERE t.")
	b.WriteString(msIdent(keyColumns[0]))
	b.WriteString(" IS NULL")

	return b.String(), args
}

// buildSurrogateSelectSQL constructs the surrogate lookup for a key batch.
func buildSurrogateSelectSQL(table, keyColumn, surrogateColumn string, keys []any) (string, []any) {
	var b strings.Builder
	b.WriteString("SELECT ")
	b.WriteString(msIdent(keyColumn))
	b.WriteString(", ")
	b.WriteString(msIdent(surrogateColumn))
	b.WriteString(" FROM ")
	b.WriteString(msIdent(table))
	b.WriteString(" WHERE ")
	b.WriteString(msIdent(keyColumn))
	b.WriteString(" IN (")

	args := make([]any, 0, len(keys))
	for i, k := range keys {
		if i > 0 {
			b.WriteString(", ")
		}
		fmt.Fprintf(&b, "@p%d", i+1)
		args = append(args, k)
	}
	b.WriteString(")")
	return b.String(), args
}

func writeJoinOn(b *strings.Builder, keyColumns []string) {
	for i, c := range keyColumns {
		if i > 0 {
			b.WriteString(" AND ")
		}
		b.WriteString("t.")
		b.WriteString(msIdent(c))
		b.WriteString(" = v.")
		b.WriteString(msIdent(c))
	}
}

func writeIdentList(b *strings.Builder, columns []string) {
	for i, c := range columns {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(msIdent(c))
	}
}

func writeValuePlaceholders(b *strings.Builder, columns []string, rows [][]any, start int) []any {
	args := make([]any, 0, len(rows)*len(columns))
	p := start
	for i, row := range rows {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString("(")
		for j := range columns {
			if j > 0 {
				b.WriteString(", ")
			}
			fmt.Fprintf(b, "@p%d", p)
			args = append(args, row[j])
			p++
		}
		b.WriteString(")")
	}
	return args
}
