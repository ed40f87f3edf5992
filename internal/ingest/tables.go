package ingest

import (
	"strconv"
	"strings"

	"github.com/vinay10110/FinCompilance/internal/crawler"
)

// SerializeTable renders a table as one standalone chunk: a TABLE_<index> header followed by
// one line per non-empty row with cells joined by ", ".
func SerializeTable(index int, table crawler.Table) string {
	var b strings.Builder
	b.WriteString("TABLE_")
	b.WriteString(strconv.Itoa(index))
	b.WriteString(":\n")
	first := true
	for _, row := range table {
		if len(row) == 0 {
			continue
		}
		if !first {
			b.WriteByte('\n')
		}
		first = false
		b.WriteString(strings.Join(row, ", "))
	}
	return b.String()
}
