package dataset

import (
	"regexp"
	"strings"
)

var (
	lineBreaks = strings.NewReplacer("\r\n", " ", "\r", " ", "\n", " ")
	decimalRe  = regexp.MustCompile(`^[-+]?\d+\.\d+$`)
)

// Transform prepares a row's cells for display. It only depends on the given cells.
func Transform(cells Cells) Cells {
	out := make(Cells, len(cells))
	for i, c := range cells {
		out[i] = transformCell(c)
	}
	return out
}

func transformCell(s string) string {
	s = strings.TrimSpace(lineBreaks.Replace(s))
	if decimalRe.MatchString(s) {
		s = strings.TrimRight(s, "0")
		s = strings.TrimSuffix(s, ".")
	}
	return s
}

func transformRows(rows []Row) []Row {
	for i := range rows {
		rows[i].Data = Transform(rows[i].Data)
	}
	return rows
}
