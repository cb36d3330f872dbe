package retell

import (
	"encoding/json"
	"fmt"
	"strconv"
)

// ToProviderVariables converts a free-form variable map into the string-only
// map Retell's variable interpolation accepts. This is the single
// serialization boundary for the provider wire format: booleans become the
// literals "TRUE"/"FALSE", numbers their decimal form, nil the empty string,
// and anything else JSON text.
func ToProviderVariables(values map[string]interface{}) map[string]string {
	out := make(map[string]string, len(values))
	for key, value := range values {
		out[key] = stringifyValue(value)
	}
	return out
}

func stringifyValue(value interface{}) string {
	switch v := value.(type) {
	case nil:
		return ""
	case string:
		return v
	case bool:
		if v {
			return "TRUE"
		}
		return "FALSE"
	case int:
		return strconv.Itoa(v)
	case int64:
		return strconv.FormatInt(v, 10)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	default:
		data, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprintf("%v", v)
		}
		return string(data)
	}
}
