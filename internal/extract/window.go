package extract

import "strings"

// Content windows, in runes.
const (
	BasicInfoWindow    = 4000
	TableSummaryWindow = 12000
	ValueTableWindow   = 120000
	SummaryWindow      = 8000
)

// Window returns at most n runes of s.
func Window(s string, n int) string {
	if n <= 0 {
		return ""
	}
	i := 0
	for pos := range s {
		if i == n {
			return s[:pos]
		}
		i++
	}
	return s
}

var sentinels = map[string]struct{}{
	"0":    {},
	"不存在":  {},
	"没有":   {},
	"none": {},
	"no":   {},
}

// IsSentinel reports whether a check-call answer means "no such table".
func IsSentinel(answer string) bool {
	a := strings.ToLower(strings.TrimSpace(answer))
	a = strings.TrimRight(a, ".。!！")
	a = strings.Trim(a, "\"'`")
	_, ok := sentinels[strings.TrimSpace(a)]
	return ok
}
