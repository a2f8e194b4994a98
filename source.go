package fieldform

// Well-known XLSForm sheet names.
const (
	SheetSurvey   = "survey"
	SheetChoices  = "choices"
	SheetSettings = "settings"
)

// SheetData is one sheet of a workbook: a header of column names plus the
// data rows in original sheet order. Row order is semantically significant;
// it defines field order and nesting.
type SheetData struct {
	Name    string   `json:"name"`
	Columns []string `json:"columns"`
	Rows    [][]Cell `json:"rows"`
}

// SheetSource abstracts the workbook reader. The concrete implementation
// (an xlsx file, an in-memory fixture) is glue; the pipeline only sees typed
// cells.
type SheetSource interface {
	// HasSheet reports whether the named sheet exists.
	HasSheet(name string) bool
	// Sheet reads the named sheet. Implementations return rows in
	// original order and must not reorder or merge columns.
	Sheet(name string) (*SheetData, error)
}

// MemorySource is an in-memory SheetSource, used by tests and by callers
// that assemble forms programmatically.
type MemorySource struct {
	Sheets map[string]*SheetData
}

// NewMemorySource builds a MemorySource from sheets.
func NewMemorySource(sheets ...*SheetData) *MemorySource {
	m := &MemorySource{Sheets: make(map[string]*SheetData, len(sheets))}
	for _, s := range sheets {
		m.Sheets[s.Name] = s
	}
	return m
}

func (m *MemorySource) HasSheet(name string) bool {
	_, ok := m.Sheets[name]
	return ok
}

func (m *MemorySource) Sheet(name string) (*SheetData, error) {
	s, ok := m.Sheets[name]
	if !ok {
		return nil, NewError(KindSchema, "sheet %q not found", name)
	}
	return s, nil
}

// TextRow converts plain strings into a row of typed cells, a convenience
// for fixtures.
func TextRow(values ...string) []Cell {
	row := make([]Cell, len(values))
	for i, v := range values {
		row[i] = TextCell(v)
	}
	return row
}
