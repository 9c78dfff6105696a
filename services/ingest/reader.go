package ingest

import (
	"bufio"
	"bytes"
	"encoding/csv"
	"io"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/pkg/errors"
	"github.com/saintfish/chardet"
	"github.com/tealeg/xlsx/v3"
	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/htmlindex"
	"golang.org/x/text/encoding/ianaindex"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"

	"github.com/trezcool/tabula/core/dataset"
)

const sniffSize = 32 << 10

// Source yields the rows of a merged upload in file order.
type Source interface {
	Each(fn func(cells dataset.Cells) error) error
}

// OpenSource picks a Source from the file extension; anything but .xlsx is read as CSV.
func OpenSource(path string) Source {
	if strings.EqualFold(filepath.Ext(path), ".xlsx") {
		return xlsxSource{path: path}
	}
	return csvSource{path: path}
}

func blank(cells dataset.Cells) bool {
	for _, c := range cells {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}

type csvSource struct {
	path string
}

func (s csvSource) Each(fn func(cells dataset.Cells) error) error {
	f, err := os.Open(s.path)
	if err != nil {
		return errors.Wrap(err, "opening csv")
	}
	defer func() { _ = f.Close() }()

	br := bufio.NewReaderSize(f, sniffSize)
	sample, err := br.Peek(sniffSize)
	if err != nil && err != io.EOF && err != bufio.ErrBufferFull {
		return errors.Wrap(err, "reading csv")
	}

	dec := transform.NewReader(br, unicode.BOMOverride(detectEncoding(sample).NewDecoder()))
	r := csv.NewReader(dec)
	r.Comma = sniffDelimiter(sample)
	r.FieldsPerRecord = -1
	r.LazyQuotes = true

	for {
		rec, err := r.Read()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return errors.Wrap(err, "parsing csv")
		}
		cells := dataset.Cells(rec)
		if blank(cells) {
			continue
		}
		if err = fn(cells); err != nil {
			return err
		}
	}
}

// detectEncoding guesses the charset of sample, defaulting to UTF-8.
func detectEncoding(sample []byte) encoding.Encoding {
	if len(sample) == 0 || validUTF8(sample) {
		return unicode.UTF8
	}
	res, err := chardet.NewTextDetector().DetectBest(sample)
	if err != nil || res == nil {
		return unicode.UTF8
	}
	if enc, err := htmlindex.Get(res.Charset); err == nil && enc != nil {
		return enc
	}
	if enc, err := ianaindex.IANA.Encoding(res.Charset); err == nil && enc != nil {
		return enc
	}
	return unicode.UTF8
}

// validUTF8 tolerates a rune cut off at the end of the sample.
func validUTF8(sample []byte) bool {
	for cut := 0; cut < utf8.UTFMax && cut < len(sample); cut++ {
		if utf8.Valid(sample[:len(sample)-cut]) {
			return true
		}
	}
	return false
}

// sniffDelimiter returns the most frequent of , ; \t on the first line.
func sniffDelimiter(sample []byte) rune {
	line := sample
	if i := bytes.IndexByte(sample, '\n'); i >= 0 {
		line = sample[:i]
	}
	best, bestN := ',', bytes.Count(line, []byte{','})
	for _, d := range []rune{';', '\t'} {
		if n := bytes.Count(line, []byte(string(d))); n > bestN {
			best, bestN = d, n
		}
	}
	return best
}

type xlsxSource struct {
	path string
}

// Each reads the first sheet only.
func (s xlsxSource) Each(fn func(cells dataset.Cells) error) error {
	wb, err := xlsx.OpenFile(s.path)
	if err != nil {
		return errors.Wrap(err, "opening xlsx")
	}
	if len(wb.Sheets) == 0 {
		return nil
	}
	return wb.Sheets[0].ForEachRow(func(row *xlsx.Row) error {
		var cells dataset.Cells
		if err := row.ForEachCell(func(cell *xlsx.Cell) error {
			cells = append(cells, cell.String())
			return nil
		}); err != nil {
			return err
		}
		if blank(cells) {
			return nil
		}
		return fn(cells)
	})
}
