package internal

import (
	"strconv"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/opensurvey/fieldform"
)

// XLSXSource reads workbook sheets from an .xlsx file via excelize.
type XLSXSource struct {
	file   *excelize.File
	sheets map[string]bool
}

var _ fieldform.SheetSource = (*XLSXSource)(nil)

// OpenXLSX opens the workbook at path. Callers must Close the source when
// done with it.
func OpenXLSX(path string) (*XLSXSource, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, fieldform.NewError(fieldform.KindIO, "cannot open workbook %s", path).WithCause(err)
	}
	sheets := make(map[string]bool)
	for _, name := range f.GetSheetList() {
		sheets[name] = true
	}
	return &XLSXSource{file: f, sheets: sheets}, nil
}

func (s *XLSXSource) Close() error {
	return s.file.Close()
}

func (s *XLSXSource) HasSheet(name string) bool {
	return s.sheets[name]
}

func (s *XLSXSource) Sheet(name string) (*fieldform.SheetData, error) {
	rows, err := s.file.GetRows(name)
	if err != nil {
		return nil, fieldform.NewError(fieldform.KindIO, "cannot read sheet").
			WithSheet(name).WithCause(err)
	}
	data := &fieldform.SheetData{Name: name}
	if len(rows) == 0 {
		return data, nil
	}
	for _, c := range rows[0] {
		data.Columns = append(data.Columns, strings.TrimSpace(c))
	}
	for _, raw := range rows[1:] {
		cells := make([]fieldform.Cell, len(raw))
		for i, c := range raw {
			cells[i] = parseCell(c)
		}
		data.Rows = append(data.Rows, cells)
	}
	return data, nil
}

// parseCell types a cell's text the way spreadsheet editors store it:
// numeric text becomes a number cell, everything else stays text.
func parseCell(raw string) fieldform.Cell {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return fieldform.Cell{}
	}
	if n, err := strconv.ParseFloat(trimmed, 64); err == nil {
		return fieldform.NumberCell(n)
	}
	return fieldform.TextCell(trimmed)
}
