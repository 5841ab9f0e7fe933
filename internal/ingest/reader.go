package ingest

import (
	"bufio"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/xuri/excelize/v2"
	"golang.org/x/net/html/charset"

	"github.com/nandu3112/product-importer/internal/mapper"
)

// ErrEmptyFile is returned for files with no header row.
var ErrEmptyFile = errors.New("file is empty")

// ErrNoSKUColumn is returned when no header could yield a SKU.
var ErrNoSKUColumn = errors.New("no SKU column found, expected one of: sku, product_sku, item_sku, code, id")

// encodingSampleSize is how many leading bytes feed encoding detection.
const encodingSampleSize = 4096

// row is one data row as read from the file. Rows are numbered the way a
// spreadsheet shows them: the header is row 1, data starts at 2. A row
// that could not be parsed carries err instead of values.
type row struct {
	num    int
	values map[string]string
	err    error
}

// rowSource streams data rows out of an uploaded file in chunks.
type rowSource interface {
	Headers() []string
	// ReadChunk returns up to n rows. io.EOF accompanies (or follows) the
	// final rows.
	ReadChunk(n int) ([]row, error)
	Close() error
}

// openSource picks a reader by file extension. Anything that is not a
// spreadsheet is treated as CSV.
func openSource(path string) (rowSource, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".xlsx", ".xlsm", ".xls":
		return newXLSXSource(path)
	default:
		return newCSVSource(path)
	}
}

type csvSource struct {
	file    *os.File
	reader  *csv.Reader
	headers []string
	nextNum int
}

// newCSVSource opens a CSV file, sniffing its encoding from the leading
// bytes so that non-UTF-8 exports decode correctly.
func newCSVSource(path string) (*csvSource, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open csv: %w", err)
	}

	sample := make([]byte, encodingSampleSize)
	n, err := f.Read(sample)
	if err != nil && err != io.EOF {
		f.Close()
		return nil, fmt.Errorf("sample csv: %w", err)
	}
	enc, _, _ := charset.DetermineEncoding(sample[:n], "text/csv")
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		f.Close()
		return nil, fmt.Errorf("rewind csv: %w", err)
	}

	reader := csv.NewReader(enc.NewDecoder().Reader(bufio.NewReader(f)))
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true
	reader.TrimLeadingSpace = true

	headers, err := reader.Read()
	if err == io.EOF {
		f.Close()
		return nil, ErrEmptyFile
	}
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("read csv header: %w", err)
	}
	for i, h := range headers {
		headers[i] = strings.TrimSpace(strings.TrimPrefix(h, "\uFEFF"))
	}

	return &csvSource{file: f, reader: reader, headers: headers, nextNum: 2}, nil
}

func (s *csvSource) Headers() []string {
	return s.headers
}

func (s *csvSource) ReadChunk(n int) ([]row, error) {
	rows := make([]row, 0, n)
	for len(rows) < n {
		record, err := s.reader.Read()
		if err == io.EOF {
			return rows, io.EOF
		}
		num := s.nextNum
		s.nextNum++
		if err != nil {
			// Parse errors are row-level: record and keep reading.
			var parseErr *csv.ParseError
			if errors.As(err, &parseErr) {
				rows = append(rows, row{num: num, err: err})
				continue
			}
			return rows, fmt.Errorf("read csv row %d: %w", num, err)
		}

		values := make(map[string]string, len(s.headers))
		empty := true
		for i, h := range s.headers {
			if i < len(record) {
				values[h] = record[i]
				if strings.TrimSpace(record[i]) != "" {
					empty = false
				}
			}
		}
		if empty {
			continue
		}
		rows = append(rows, row{num: num, values: values})
	}
	return rows, nil
}

func (s *csvSource) Close() error {
	return s.file.Close()
}

type xlsxSource struct {
	file    *excelize.File
	rows    *excelize.Rows
	headers []string
	nextNum int
}

// newXLSXSource streams the first sheet of a workbook row by row.
func newXLSXSource(path string) (*xlsxSource, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("open xlsx: %w", err)
	}

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		f.Close()
		return nil, ErrEmptyFile
	}
	rows, err := f.Rows(sheets[0])
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("read xlsx sheet: %w", err)
	}
	if !rows.Next() {
		rows.Close()
		f.Close()
		return nil, ErrEmptyFile
	}
	headers, err := rows.Columns()
	if err != nil {
		rows.Close()
		f.Close()
		return nil, fmt.Errorf("read xlsx header: %w", err)
	}
	for i, h := range headers {
		headers[i] = strings.TrimSpace(h)
	}

	return &xlsxSource{file: f, rows: rows, headers: headers, nextNum: 2}, nil
}

func (s *xlsxSource) Headers() []string {
	return s.headers
}

func (s *xlsxSource) ReadChunk(n int) ([]row, error) {
	rows := make([]row, 0, n)
	for len(rows) < n {
		if !s.rows.Next() {
			return rows, io.EOF
		}
		num := s.nextNum
		s.nextNum++
		cols, err := s.rows.Columns()
		if err != nil {
			rows = append(rows, row{num: num, err: err})
			continue
		}

		values := make(map[string]string, len(s.headers))
		empty := true
		for i, h := range s.headers {
			if i < len(cols) {
				values[h] = cols[i]
				if strings.TrimSpace(cols[i]) != "" {
					empty = false
				}
			}
		}
		if empty {
			continue
		}
		rows = append(rows, row{num: num, values: values})
	}
	return rows, nil
}

func (s *xlsxSource) Close() error {
	s.rows.Close()
	return s.file.Close()
}

// CountRows scans the file once and returns the exact number of data rows.
func CountRows(path string) (int, error) {
	src, err := openSource(path)
	if err != nil {
		return 0, err
	}
	defer src.Close()

	total := 0
	for {
		rows, err := src.ReadChunk(1024)
		total += len(rows)
		if err == io.EOF {
			return total, nil
		}
		if err != nil {
			return 0, err
		}
	}
}

// ValidateStructure rejects files the mapper has no chance with before a
// batch is created: empty files and files without a SKU-bearing column.
func ValidateStructure(path string, strategy mapper.Strategy) error {
	src, err := openSource(path)
	if err != nil {
		return err
	}
	defer src.Close()

	if !mapper.HasSKUColumn(src.Headers(), strategy) {
		return ErrNoSKUColumn
	}
	return nil
}
