// pkg/driver/format.go
package driver

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
)

// FormatValue renders a parameter value the way controllers expect it:
// plain decimals without exponent, integers as is, booleans as 1/0
func FormatValue(v interface{}) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case decimal.Decimal:
		return val.String()
	case float64:
		return decimal.NewFromFloat(val).String()
	case float32:
		return decimal.NewFromFloat32(val).String()
	case int:
		return strconv.Itoa(val)
	case int32:
		return strconv.FormatInt(int64(val), 10)
	case int64:
		return strconv.FormatInt(val, 10)
	case uint:
		return strconv.FormatUint(uint64(val), 10)
	case uint32:
		return strconv.FormatUint(uint64(val), 10)
	case uint64:
		return strconv.FormatUint(val, 10)
	case bool:
		if val {
			return "1"
		}
		return "0"
	case fmt.Stringer:
		return val.String()
	}
	return fmt.Sprintf("%v", v)
}

// SortedKeys returns parameter names in stable order
func SortedKeys(params map[string]interface{}) []string {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// JoinParameters renders params as k=v pairs joined by sep
func JoinParameters(params map[string]interface{}, sep string) string {
	pairs := make([]string, 0, len(params))
	for _, k := range SortedKeys(params) {
		pairs = append(pairs, k+"="+FormatValue(params[k]))
	}
	return strings.Join(pairs, sep)
}

// ParsePairs splits "k<kv>v<sep>k<kv>v" text into a map, ignoring malformed items
func ParsePairs(text, sep, kv string) map[string]string {
	out := make(map[string]string)
	for _, item := range strings.Split(text, sep) {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		k, v, ok := strings.Cut(item, kv)
		if !ok {
			continue
		}
		out[strings.ToLower(strings.TrimSpace(k))] = strings.TrimSpace(v)
	}
	return out
}
