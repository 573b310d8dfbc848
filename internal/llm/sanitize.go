package llm

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

var reNumber = regexp.MustCompile(`-?\d[\d,]*(\.\d+)?`)

// Sanitize walks a decoded JSON document and:
//   - drops null values (every nullable field we ask for is optional)
//   - coerces string values of numeric keys ("HK$1,234.50", "20年") to numbers
//   - drops numeric keys whose string value holds no number at all
//
// It returns the re-encoded document and the keys it touched.
func Sanitize(doc []byte, numericKeys []string) ([]byte, []string, error) {
	var v any
	if err := json.Unmarshal(doc, &v); err != nil {
		return nil, nil, fmt.Errorf("sanitize: decode: %w", err)
	}
	numeric := make(map[string]struct{}, len(numericKeys))
	for _, k := range numericKeys {
		numeric[k] = struct{}{}
	}

	var changed []string
	var walk func(any) any
	walk = func(node any) any {
		switch t := node.(type) {
		case map[string]any:
			for k, val := range t {
				if val == nil {
					delete(t, k)
					changed = append(changed, k+"(null)")
					continue
				}
				if s, ok := val.(string); ok {
					if _, isNum := numeric[k]; isNum {
						if f, ok := ParseNumber(s); ok {
							t[k] = f
							changed = append(changed, k)
						} else {
							delete(t, k)
							changed = append(changed, k+"(nan)")
						}
						continue
					}
					t[k] = strings.TrimSpace(s)
					continue
				}
				t[k] = walk(val)
			}
			return t
		case []any:
			for i := range t {
				t[i] = walk(t[i])
			}
			return t
		default:
			return node
		}
	}
	v = walk(v)

	out, err := json.Marshal(v)
	if err != nil {
		return nil, changed, fmt.Errorf("sanitize: encode: %w", err)
	}
	return out, changed, nil
}

// ParseNumber pulls the first number out of free text, ignoring thousands separators.
func ParseNumber(s string) (float64, bool) {
	m := reNumber.FindString(strings.TrimSpace(s))
	if m == "" {
		return 0, false
	}
	f, err := strconv.ParseFloat(strings.ReplaceAll(m, ",", ""), 64)
	if err != nil {
		return 0, false
	}
	return f, true
}
