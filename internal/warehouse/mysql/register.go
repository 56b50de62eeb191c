package mysql

import "salesetl/internal/warehouse"

func init() {
	// registers the mysql backend factory
	warehouse.Register("mysql", New)
}
