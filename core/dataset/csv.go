package dataset

import (
	"bufio"
	"io"
	"strings"
)

// csvWriter quotes every field, which encoding/csv cannot be told to do.
type csvWriter struct {
	w *bufio.Writer
}

func newCSVWriter(w io.Writer) *csvWriter {
	return &csvWriter{w: bufio.NewWriter(w)}
}

func (cw *csvWriter) Write(cells Cells) error {
	for i, c := range cells {
		if i > 0 {
			if err := cw.w.WriteByte(','); err != nil {
				return err
			}
		}
		if _, err := cw.w.WriteString(QuoteCell(c)); err != nil {
			return err
		}
	}
	_, err := cw.w.WriteString("\r\n")
	return err
}

func (cw *csvWriter) Flush() error {
	return cw.w.Flush()
}

// QuoteCell wraps s in double quotes, doubling the quotes it contains.
func QuoteCell(s string) string {
	return `"` + strings.ReplaceAll(s, `"`, `""`) + `"`
}
