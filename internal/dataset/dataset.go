package dataset

// Raw is a dataset exactly as it came off the source file: the original
// header and untyped string cells. Raw datasets are consumed once per run and
// never persisted.
type Raw struct {
	Kind   Kind
	Header []string
	Rows   [][]string
}

// Canonical is a dataset after transformation: columns renamed to the
// schema's canonical names, cells coerced to their declared types, and rows
// deduplicated by the natural-key subset. The natural key is unique within a
// canonical dataset.
type Canonical struct {
	Kind    Kind
	Columns []string
	Rows    [][]any
}

// ColumnIndex returns the position of a canonical column, or -1.
func (c *Canonical) ColumnIndex(name string) int {
	for i, col := range c.Columns {
		if col == name {
			return i
		}
	}
	return -1
}

// Len returns the row count.
func (c *Canonical) Len() int {
	if c == nil {
		return 0
	}
	return len(c.Rows)
}
