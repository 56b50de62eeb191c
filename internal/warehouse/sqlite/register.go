package sqlite

import "salesetl/internal/warehouse"

func init() {
	// registers the sqlite backend factory
	warehouse.Register("sqlite", New)
}
