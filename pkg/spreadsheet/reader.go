package spreadsheet

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/xuri/excelize/v2"
)

// ErrUnsupportedFormat is returned for files that are neither CSV nor XLSX.
var ErrUnsupportedFormat = errors.New("unsupported spreadsheet format")

// Row is one data line. Line counts data lines from 1 directly below the header, blank lines
// included, so it matches what the uploader sees in the sheet.
type Row struct {
	Line  int
	Cells map[string]string
}

// NewRow builds a row from cells keyed by header.
func NewRow(line int, cells map[string]string) Row {
	normalized := make(map[string]string, len(cells))
	for k, v := range cells {
		normalized[strings.ToLower(k)] = v
	}
	return Row{Line: line, Cells: normalized}
}

// Get returns the trimmed cell for column, matching headers case-insensitively.
func (r Row) Get(column string) string {
	return strings.TrimSpace(r.Cells[strings.ToLower(column)])
}

// Read parses the first sheet of an .xlsx workbook or a .csv file into rows. The first line is
// the header. Fully blank lines are skipped. Workbook cells are returned unformatted, so dates
// arrive as Excel serial numbers.
func Read(filename string, r io.Reader) ([]Row, error) {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".xlsx", ".xlsm":
		return readWorkbook(r)
	case ".csv":
		return readCSV(r)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, filepath.Ext(filename))
	}
}

func readWorkbook(r io.Reader) ([]Row, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, fmt.Errorf("open workbook: %w", err)
	}
	defer f.Close() //nolint:errcheck

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, fmt.Errorf("workbook has no sheets")
	}
	lines, err := f.GetRows(sheets[0], excelize.Options{RawCellValue: true})
	if err != nil {
		return nil, fmt.Errorf("read sheet %q: %w", sheets[0], err)
	}
	sheetLines := make([]int, len(lines))
	for i := range lines {
		sheetLines[i] = i + 1
	}
	return toRows(lines, sheetLines)
}

func readCSV(r io.Reader) ([]Row, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	// encoding/csv drops empty lines, so keep each record's position in the file.
	var (
		lines     [][]string
		fileLines []int
	)
	for {
		line, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read csv: %w", err)
		}
		pos, _ := reader.FieldPos(0)
		lines = append(lines, line)
		fileLines = append(fileLines, pos)
	}
	return toRows(lines, fileLines)
}

// toRows turns raw lines into rows keyed by the first line. positions holds the 1-based source
// line of each entry in lines.
func toRows(lines [][]string, positions []int) ([]Row, error) {
	if len(lines) == 0 {
		return nil, fmt.Errorf("spreadsheet is empty")
	}
	headers := make([]string, len(lines[0]))
	for i, h := range lines[0] {
		headers[i] = strings.ToLower(strings.TrimSpace(strings.TrimPrefix(h, "\ufeff")))
	}

	headerLine := positions[0]
	rows := make([]Row, 0, len(lines)-1)
	for n, line := range lines[1:] {
		if blank(line) {
			continue
		}
		cells := make(map[string]string, len(headers))
		for i, header := range headers {
			if header == "" || i >= len(line) {
				continue
			}
			cells[header] = line[i]
		}
		rows = append(rows, Row{Line: positions[n+1] - headerLine, Cells: cells})
	}
	return rows, nil
}

func blank(line []string) bool {
	for _, cell := range line {
		if strings.TrimSpace(cell) != "" {
			return false
		}
	}
	return true
}
