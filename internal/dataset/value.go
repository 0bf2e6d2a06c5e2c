package dataset

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

// Stringify converts a raw cell value to the text stored in the database.
//
// Every destination column is text, so this is the only coercion the
// pipeline performs:
//   - nil => ""
//   - string / []byte => unchanged
//   - integers and floats => shortest decimal form (no exponent for floats)
//   - json.Number => its literal text
//   - bool => "true" / "false"
//   - time.Time => RFC3339Nano
//   - maps and slices (nested JSON) => compact JSON
//   - anything else => fmt.Sprint
func Stringify(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case []byte:
		return string(t)
	case json.Number:
		return t.String()
	case int:
		return strconv.Itoa(t)
	case int64:
		return strconv.FormatInt(t, 10)
	case int32:
		return strconv.FormatInt(int64(t), 10)
	case uint64:
		return strconv.FormatUint(t, 10)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(t), 'f', -1, 32)
	case bool:
		return strconv.FormatBool(t)
	case time.Time:
		return t.Format(time.RFC3339Nano)
	case map[string]any, []any:
		b, err := json.Marshal(t)
		if err != nil {
			return fmt.Sprint(t)
		}
		return string(b)
	case fmt.Stringer:
		return t.String()
	default:
		return fmt.Sprint(v)
	}
}
