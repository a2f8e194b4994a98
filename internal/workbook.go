package internal

import (
	"strings"

	"github.com/opensurvey/fieldform"
)

// Column vocabulary of the survey sheet. Matching is case-sensitive;
// unrecognized columns are preserved verbatim and ignored downstream.
const (
	colType              = "type"
	colName              = "name"
	colLabel             = "label"
	colHint              = "hint"
	colRelevant          = "relevant"
	colConstraint        = "constraint"
	colConstraintMessage = "constraint_message"
	colRequired          = "required"
	colDefault           = "default"
	colCalculation       = "calculation"
	colChoiceFilter      = "choice_filter"
	colParameters        = "parameters"
	colAppearance        = "appearance"
	colReadOnly          = "read_only"
	colListName          = "list_name"
)

// SurveyRow is one typed survey sheet record. The loader resolves the raw
// `type` cell once so later stages never re-parse cell text.
type SurveyRow struct {
	Row      int // 1-based sheet row (header is row 1)
	RawType  string
	Type     fieldform.QuestionType // empty when RawType is outside the closed set
	ListName string
	Question fieldform.Question
	Extra    map[string]string
}

// Settings holds the recognized settings sheet entries.
type Settings struct {
	FormTitle       string
	FormID          string
	DefaultLanguage string
	Extra           map[string]string
}

// Workbook is the normalized model of the three XLSForm sheets.
type Workbook struct {
	Survey      []SurveyRow
	Choices     map[string]*fieldform.ChoiceList
	ChoiceOrder []string // list names in first-appearance order
	// ChoiceColumns preserves the choices sheet header so emitted list
	// tables keep the original column layout.
	ChoiceColumns []string
	Settings      Settings
	// Languages are the label/hint languages declared across sheets, in
	// column order of first appearance. Used for label fallback.
	Languages []string
}

// ChoiceListsInOrder returns the lists in first-appearance order.
func (w *Workbook) ChoiceListsInOrder() []*fieldform.ChoiceList {
	out := make([]*fieldform.ChoiceList, 0, len(w.ChoiceOrder))
	for _, name := range w.ChoiceOrder {
		out = append(out, w.Choices[name])
	}
	return out
}

// sheetTable gives column-name access over one sheet's rows.
type sheetTable struct {
	name    string
	columns []string
	index   map[string]int
	rows    [][]fieldform.Cell
}

func newSheetTable(data *fieldform.SheetData) *sheetTable {
	t := &sheetTable{
		name:    data.Name,
		columns: data.Columns,
		index:   make(map[string]int, len(data.Columns)),
		rows:    data.Rows,
	}
	for i, c := range data.Columns {
		if _, dup := t.index[c]; !dup {
			t.index[c] = i
		}
	}
	return t
}

func (t *sheetTable) has(col string) bool {
	_, ok := t.index[col]
	return ok
}

// text returns the trimmed text of a cell, empty when the column is absent
// or the row is short.
func (t *sheetTable) text(row int, col string) string {
	i, ok := t.index[col]
	if !ok || row >= len(t.rows) || i >= len(t.rows[row]) {
		return ""
	}
	return t.rows[row][i].String()
}

// blank reports whether a data row has no values at all.
func (t *sheetTable) blank(row int) bool {
	for _, c := range t.rows[row] {
		if !c.IsEmpty() {
			return false
		}
	}
	return true
}

// sheetRow converts a 0-based data row index to the 1-based sheet row,
// accounting for the header row.
func (t *sheetTable) sheetRow(row int) int { return row + 2 }

// LoadWorkbook normalizes the survey, choices and settings sheets into a
// Workbook. It fails with a schema error when the survey sheet is absent or
// a row lacks a column its type requires, and with a reference error when a
// select row names a choice list the choices sheet does not declare.
func LoadWorkbook(src fieldform.SheetSource) (*Workbook, error) {
	if !src.HasSheet(fieldform.SheetSurvey) {
		return nil, fieldform.NewError(fieldform.KindSchema, "workbook has no survey sheet")
	}
	surveyData, err := src.Sheet(fieldform.SheetSurvey)
	if err != nil {
		return nil, err
	}
	survey := newSheetTable(surveyData)
	if !survey.has(colType) || !survey.has(colName) {
		return nil, fieldform.NewError(fieldform.KindSchema,
			"survey sheet must declare 'type' and 'name' columns").WithSheet(fieldform.SheetSurvey)
	}

	wb := &Workbook{Choices: make(map[string]*fieldform.ChoiceList)}

	langSeen := make(map[string]bool)
	collectLangs := func(columns []string) {
		for _, c := range columns {
			for _, prefix := range []string{colLabel + "::", colHint + "::"} {
				if strings.HasPrefix(c, prefix) {
					lang := strings.TrimPrefix(c, prefix)
					if lang != "" && !langSeen[lang] {
						langSeen[lang] = true
						wb.Languages = append(wb.Languages, lang)
					}
				}
			}
		}
	}
	collectLangs(survey.columns)

	if src.HasSheet(fieldform.SheetChoices) {
		choicesData, err := src.Sheet(fieldform.SheetChoices)
		if err != nil {
			return nil, err
		}
		collectLangs(choicesData.Columns)
		if err := loadChoices(wb, newSheetTable(choicesData)); err != nil {
			return nil, err
		}
	}

	if src.HasSheet(fieldform.SheetSettings) {
		settingsData, err := src.Sheet(fieldform.SheetSettings)
		if err != nil {
			return nil, err
		}
		loadSettings(wb, newSheetTable(settingsData))
	}

	if err := loadSurvey(wb, survey); err != nil {
		return nil, err
	}
	return wb, nil
}

func loadSurvey(wb *Workbook, t *sheetTable) error {
	for i := range t.rows {
		if t.blank(i) {
			continue
		}
		rawType := t.text(i, colType)
		name := t.text(i, colName)
		row := t.sheetRow(i)
		if rawType == "" {
			continue
		}

		qt, arg, _ := fieldform.ParseQuestionType(rawType)
		if qt.IsSelect() && arg == "" {
			return fieldform.NewError(fieldform.KindSchema,
				"%s requires a list_name suffix", qt).
				WithSheet(fieldform.SheetSurvey).WithRow(row).WithField(name)
		}
		if qt.IsSelect() {
			if _, ok := wb.Choices[arg]; !ok {
				return fieldform.NewError(fieldform.KindReference,
					"choice list %q is not declared in the choices sheet", arg).
					WithSheet(fieldform.SheetSurvey).WithRow(row).WithField(name)
			}
		}
		// Closers and device metadata rows may be unnamed; anything that
		// produces a field or container must carry a name.
		if name == "" && qt != fieldform.TypeEndGroup && qt != fieldform.TypeEndRepeat && !qt.IsMetadata() {
			return fieldform.NewError(fieldform.KindSchema,
				"row of type %q has no name", rawType).
				WithSheet(fieldform.SheetSurvey).WithRow(row)
		}
		if name == "" && qt.IsMetadata() {
			name = string(qt)
		}

		q := fieldform.Question{
			Name:              name,
			Type:              qt,
			RawType:           rawType,
			ListName:          arg,
			Labels:            labelsAt(t, i, colLabel),
			Hints:             labelsAt(t, i, colHint),
			Relevant:          t.text(i, colRelevant),
			Constraint:        t.text(i, colConstraint),
			ConstraintMessage: t.text(i, colConstraintMessage),
			Required:          parseBoolCell(t.text(i, colRequired)),
			Default:           t.text(i, colDefault),
			Calculation:       t.text(i, colCalculation),
			ChoiceFilter:      t.text(i, colChoiceFilter),
			Parameters:        t.text(i, colParameters),
			Appearance:        t.text(i, colAppearance),
			ReadOnly:          parseBoolCell(t.text(i, colReadOnly)),
			Row:               row,
		}
		wb.Survey = append(wb.Survey, SurveyRow{
			Row:      row,
			RawType:  rawType,
			Type:     qt,
			ListName: arg,
			Question: q,
			Extra:    extraColumns(t, i, surveyVocabulary),
		})
	}
	return nil
}

func loadChoices(wb *Workbook, t *sheetTable) error {
	listCol := colListName
	if !t.has(listCol) && t.has("list name") {
		listCol = "list name"
	}
	wb.ChoiceColumns = t.columns

	closed := make(map[string]bool)
	last := ""
	for i := range t.rows {
		if t.blank(i) {
			continue
		}
		listName := t.text(i, listCol)
		if listName == "" {
			continue
		}
		if listName != last {
			if last != "" {
				closed[last] = true
			}
			if closed[listName] {
				return fieldform.NewError(fieldform.KindDuplicateList,
					"choice list %q is declared in non-contiguous row blocks", listName).
					WithSheet(fieldform.SheetChoices).WithRow(t.sheetRow(i))
			}
			last = listName
		}
		value := t.text(i, colName)
		if value == "" {
			return fieldform.NewError(fieldform.KindSchema,
				"choice entry of list %q has no value", listName).
				WithSheet(fieldform.SheetChoices).WithRow(t.sheetRow(i))
		}
		list, ok := wb.Choices[listName]
		if !ok {
			list = &fieldform.ChoiceList{Name: listName}
			wb.Choices[listName] = list
			wb.ChoiceOrder = append(wb.ChoiceOrder, listName)
		}
		list.Entries = append(list.Entries, fieldform.ChoiceEntry{
			Value:  value,
			Labels: labelsAt(t, i, colLabel),
			Extra:  extraColumns(t, i, choicesVocabulary),
		})
	}
	return nil
}

func loadSettings(wb *Workbook, t *sheetTable) {
	if len(t.rows) == 0 {
		return
	}
	// The settings sheet is a header plus one value row.
	wb.Settings = Settings{
		FormTitle:       t.text(0, "form_title"),
		FormID:          t.text(0, "form_id"),
		DefaultLanguage: t.text(0, "default_language"),
		Extra:           extraColumns(t, 0, settingsVocabulary),
	}
}

// labelsAt collects the bare column plus all `col::lang` translations.
func labelsAt(t *sheetTable, row int, col string) fieldform.LabelSet {
	set := fieldform.LabelSet{}
	if v := t.text(row, col); v != "" {
		set[""] = v
	}
	prefix := col + "::"
	for _, c := range t.columns {
		if strings.HasPrefix(c, prefix) {
			if v := t.text(row, c); v != "" {
				set[strings.TrimPrefix(c, prefix)] = v
			}
		}
	}
	if len(set) == 0 {
		return nil
	}
	return set
}

var surveyVocabulary = map[string]bool{
	colType: true, colName: true, colLabel: true, colHint: true,
	colRelevant: true, colConstraint: true, colConstraintMessage: true,
	colRequired: true, colDefault: true, colCalculation: true,
	colChoiceFilter: true, colParameters: true, colAppearance: true,
	colReadOnly: true,
}

var choicesVocabulary = map[string]bool{
	colListName: true, "list name": true, colName: true, colLabel: true,
}

var settingsVocabulary = map[string]bool{
	"form_title": true, "form_id": true, "default_language": true,
}

// extraColumns returns values of columns outside the closed vocabulary,
// excluding translated label/hint columns.
func extraColumns(t *sheetTable, row int, vocab map[string]bool) map[string]string {
	var extra map[string]string
	for _, c := range t.columns {
		if vocab[c] || strings.HasPrefix(c, colLabel+"::") || strings.HasPrefix(c, colHint+"::") {
			continue
		}
		v := t.text(row, c)
		if v == "" {
			continue
		}
		if extra == nil {
			extra = make(map[string]string)
		}
		extra[c] = v
	}
	return extra
}

func parseBoolCell(s string) bool {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "yes", "true", "true()", "1":
		return true
	}
	return false
}
