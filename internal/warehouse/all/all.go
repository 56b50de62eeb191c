// Package all registers every warehouse backend. Import it for side effects:
//
//	import _ "salesetl/internal/warehouse/all"
package all

import (
	_ "salesetl/internal/warehouse/mssql"
	_ "salesetl/internal/warehouse/mysql"
	_ "salesetl/internal/warehouse/postgres"
	_ "salesetl/internal/warehouse/sqlite"
)
