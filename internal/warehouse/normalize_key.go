package warehouse

import (
	"fmt"
	"strconv"
	"strings"
)

// NormalizeKey converts a natural-key value to a canonical string form,
// suitable for in-memory key maps (e.g. "CUST001" or "8429529").
//
// Backends and loaders must not assume a particular underlying type for
// keys; this helper keeps key maps consistent across backends.
func NormalizeKey(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(t)
	case []byte:
		return strings.TrimSpace(string(t))
	case int64:
		return strconv.FormatInt(t, 10)
	case int:
		return strconv.Itoa(t)
	case float64:
		return strconv.FormatFloat(t, 'g', -1, 64)
	default:
		return strings.TrimSpace(fmt.Sprint(v))
	}
}
