// Package dataset defines the closed set of source datasets the pipeline
// understands, together with their canonical schemas. Keeping the set closed
// (instead of dispatching on raw name strings) means an unknown dataset is a
// compile-time or parse-time error, never a silent runtime mismatch.
package dataset

import "fmt"

// Kind identifies one of the known source datasets.
type Kind int

const (
	Sales Kind = iota
	Customers
	Products
	SalesReps
)

// Kinds returns all known kinds in a stable order. Dimension kinds come
// before the fact kind so callers iterating for loads get the required
// ordering for free.
func Kinds() []Kind {
	return []Kind{Customers, Products, SalesReps, Sales}
}

func (k Kind) String() string {
	switch k {
	case Sales:
		return "sales"
	case Customers:
		return "customers"
	case Products:
		return "products"
	case SalesReps:
		return "sales_reps"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// IsDimension reports whether the kind feeds a dimension table. Sales is the
// only fact-shaped dataset.
func (k Kind) IsDimension() bool {
	return k == Customers || k == Products || k == SalesReps
}

// KindFromName maps a dataset name ("sales", "customers", ...) back to its
// Kind. The second result is false for unknown names.
func KindFromName(name string) (Kind, bool) {
	switch name {
	case "sales":
		return Sales, true
	case "customers":
		return Customers, true
	case "products":
		return Products, true
	case "sales_reps":
		return SalesReps, true
	default:
		return 0, false
	}
}
