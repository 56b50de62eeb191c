package dataset

// FieldType is the coercion target for a canonical column.
type FieldType int

const (
	TypeString FieldType = iota
	TypeInt
	TypeFloat
	TypeDate
)

// Field describes one canonical column of a dataset.
type Field struct {
	Name     string
	Type     FieldType
	Required bool
}

// Schema declares the canonical shape of one dataset kind: which file it is
// extracted from, which columns it carries after transformation, and which
// subset of columns forms its natural key.
type Schema struct {
	Kind Kind

	// BaseName is the source file name without extension; the extractor
	// probes BaseName + a known extension (.csv, .html) in the source dir.
	BaseName string

	Fields []Field

	// NaturalKey is the column subset rows are deduplicated by during
	// transform, and upserted by during load.
	NaturalKey []string
}

var schemas = map[Kind]Schema{
	Sales: {
		Kind:     Sales,
		BaseName: "sales_transactions",
		Fields: []Field{
			{Name: "order_number", Type: TypeString, Required: true},
			{Name: "order_date", Type: TypeDate, Required: true},
			{Name: "customer_code", Type: TypeString, Required: true},
			{Name: "product_code", Type: TypeString, Required: true},
			{Name: "rep_code", Type: TypeString, Required: true},
			{Name: "quantity", Type: TypeInt, Required: true},
			{Name: "unit_price", Type: TypeFloat, Required: true},
			{Name: "total_amount", Type: TypeFloat},
		},
		NaturalKey: []string{"order_number"},
	},
	Customers: {
		Kind:     Customers,
		BaseName: "customers",
		Fields: []Field{
			{Name: "customer_code", Type: TypeString, Required: true},
			{Name: "customer_name", Type: TypeString, Required: true},
			{Name: "city", Type: TypeString},
			{Name: "state", Type: TypeString},
			{Name: "region", Type: TypeString},
			{Name: "segment", Type: TypeString},
		},
		NaturalKey: []string{"customer_code"},
	},
	Products: {
		Kind:     Products,
		BaseName: "products",
		Fields: []Field{
			{Name: "product_code", Type: TypeString, Required: true},
			{Name: "product_name", Type: TypeString, Required: true},
			{Name: "category", Type: TypeString},
			{Name: "unit_cost", Type: TypeFloat},
			{Name: "unit_price", Type: TypeFloat},
		},
		NaturalKey: []string{"product_code"},
	},
	SalesReps: {
		Kind:     SalesReps,
		BaseName: "sales_reps",
		Fields: []Field{
			{Name: "rep_code", Type: TypeString, Required: true},
			{Name: "rep_name", Type: TypeString, Required: true},
			{Name: "region", Type: TypeString},
			{Name: "hire_date", Type: TypeDate},
		},
		NaturalKey: []string{"rep_code"},
	},
}

// SchemaFor returns the declared schema for a kind.
func SchemaFor(k Kind) Schema {
	return schemas[k]
}

// Columns returns the canonical column names in schema order.
func (s Schema) Columns() []string {
	out := make([]string, len(s.Fields))
	for i, f := range s.Fields {
		out[i] = f.Name
	}
	return out
}

// FieldIndex returns the position of a canonical column, or -1.
func (s Schema) FieldIndex(name string) int {
	for i, f := range s.Fields {
		if f.Name == name {
			return i
		}
	}
	return -1
}
