package mssql

import "salesetl/internal/warehouse"

func init() {
	warehouse.Register("mssql", New)
}
