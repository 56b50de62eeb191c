package postgres

import "salesetl/internal/warehouse"

func init() {
	// registers the postgres backend factory
	warehouse.Register("postgres", New)
}
