package admission

import (
	"regexp"
	"strings"
)

var tableRe = regexp.MustCompile(`(?i)<table[^>]*>[\s\S]*?</table>`)

// ExtractTables returns every <table>...</table> region of content, in order.
func ExtractTables(content string) []string {
	return tableRe.FindAllString(content, -1)
}

// TableSource joins the table regions with blank lines. It is empty when the
// content has no tables.
func TableSource(content string) string {
	return strings.TrimSpace(strings.Join(ExtractTables(content), "\n\n"))
}
