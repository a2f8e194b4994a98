package fieldform

import (
	"strconv"
	"strings"
)

// CellKind tags the value type of a single spreadsheet cell.
type CellKind string

const (
	CellEmpty  CellKind = "empty"
	CellText   CellKind = "text"
	CellNumber CellKind = "number"
)

// Cell is a tagged spreadsheet cell value. Workbook readers classify every
// cell at the boundary so no untyped data travels through the pipeline.
type Cell struct {
	Kind   CellKind `json:"kind"`
	Text   string   `json:"text,omitempty"`
	Number float64  `json:"number,omitempty"`
}

// TextCell builds a text cell; blank strings collapse to an empty cell.
func TextCell(s string) Cell {
	if strings.TrimSpace(s) == "" {
		return Cell{Kind: CellEmpty}
	}
	return Cell{Kind: CellText, Text: s}
}

// NumberCell builds a number cell.
func NumberCell(n float64) Cell {
	return Cell{Kind: CellNumber, Number: n}
}

// IsEmpty reports whether the cell carries no value.
func (c Cell) IsEmpty() bool {
	return c.Kind == CellEmpty || (c.Kind == CellText && strings.TrimSpace(c.Text) == "")
}

// String renders the cell as the trimmed text a form author wrote. Numbers
// keep their shortest representation (no trailing zeros).
func (c Cell) String() string {
	switch c.Kind {
	case CellText:
		return strings.TrimSpace(c.Text)
	case CellNumber:
		return strconv.FormatFloat(c.Number, 'f', -1, 64)
	default:
		return ""
	}
}

// QuestionType enumerates the closed set of supported survey row types.
type QuestionType string

const (
	TypeText           QuestionType = "text"
	TypeInteger        QuestionType = "integer"
	TypeDecimal        QuestionType = "decimal"
	TypeRange          QuestionType = "range"
	TypeDate           QuestionType = "date"
	TypeTime           QuestionType = "time"
	TypeDateTime       QuestionType = "datetime"
	TypeSelectOne      QuestionType = "select_one"
	TypeSelectMultiple QuestionType = "select_multiple"
	TypeGeopoint       QuestionType = "geopoint"
	TypeGeotrace       QuestionType = "geotrace"
	TypeGeoshape       QuestionType = "geoshape"
	TypeCalculate      QuestionType = "calculate"
	TypeHidden         QuestionType = "hidden"
	TypeAcknowledge    QuestionType = "acknowledge"
	TypeBarcode        QuestionType = "barcode"
	TypeNote           QuestionType = "note"
	TypeImage          QuestionType = "image"
	TypeAudio          QuestionType = "audio"
	TypeVideo          QuestionType = "video"
	TypeFile           QuestionType = "file"
	TypeBeginGroup     QuestionType = "begin_group"
	TypeEndGroup       QuestionType = "end_group"
	TypeBeginRepeat    QuestionType = "begin_repeat"
	TypeEndRepeat      QuestionType = "end_repeat"

	// Metadata rows captured automatically by the collection client.
	TypeStart       QuestionType = "start"
	TypeEnd         QuestionType = "end"
	TypeToday       QuestionType = "today"
	TypeDeviceID    QuestionType = "deviceid"
	TypePhoneNumber QuestionType = "phonenumber"
	TypeUsername    QuestionType = "username"
	TypeEmail       QuestionType = "email"

	// TypeRoot marks the synthetic node wrapping the whole form.
	TypeRoot QuestionType = "root"
)

// ParseQuestionType normalizes a raw `type` cell into a QuestionType plus the
// trailing argument (the list name for select types). The XLSForm convention
// accepts both space and underscore separators for container rows.
func ParseQuestionType(raw string) (qt QuestionType, arg string, ok bool) {
	parts := strings.Fields(strings.TrimSpace(raw))
	if len(parts) == 0 {
		return "", "", false
	}
	head := strings.ToLower(parts[0])
	if len(parts) > 1 {
		arg = strings.Join(parts[1:], " ")
	}

	switch head {
	case "begin":
		switch strings.ToLower(arg) {
		case "group":
			return TypeBeginGroup, "", true
		case "repeat":
			return TypeBeginRepeat, "", true
		}
		return "", "", false
	case "end":
		switch strings.ToLower(arg) {
		case "group":
			return TypeEndGroup, "", true
		case "repeat":
			return TypeEndRepeat, "", true
		}
		// A bare "end" row is the capture-finished metadata timestamp.
		if arg == "" {
			return TypeEnd, "", true
		}
		return "", "", false
	case "begin_group":
		return TypeBeginGroup, "", true
	case "end_group":
		return TypeEndGroup, "", true
	case "begin_repeat":
		return TypeBeginRepeat, "", true
	case "end_repeat":
		return TypeEndRepeat, "", true
	}

	known := QuestionType(head)
	switch known {
	case TypeText, TypeInteger, TypeDecimal, TypeRange, TypeDate, TypeTime,
		TypeDateTime, TypeSelectOne, TypeSelectMultiple,
		TypeGeopoint, TypeGeotrace, TypeGeoshape,
		TypeCalculate, TypeHidden, TypeAcknowledge, TypeBarcode, TypeNote,
		TypeImage, TypeAudio, TypeVideo, TypeFile,
		TypeStart, TypeEnd, TypeToday, TypeDeviceID, TypePhoneNumber,
		TypeUsername, TypeEmail:
		return known, arg, true
	}
	return "", "", false
}

// IsContainer reports whether the type opens or closes a group/repeat block.
func (t QuestionType) IsContainer() bool {
	switch t {
	case TypeBeginGroup, TypeEndGroup, TypeBeginRepeat, TypeEndRepeat:
		return true
	}
	return false
}

// IsSelect reports whether the type binds to a choice list.
func (t QuestionType) IsSelect() bool {
	return t == TypeSelectOne || t == TypeSelectMultiple
}

// IsGeometry reports whether the row attaches a geometry to its layer
// instead of producing an attribute field.
func (t QuestionType) IsGeometry() bool {
	switch t {
	case TypeGeopoint, TypeGeotrace, TypeGeoshape:
		return true
	}
	return false
}

// IsMetadata reports whether the row is a device-captured metadata value.
func (t QuestionType) IsMetadata() bool {
	switch t {
	case TypeStart, TypeEnd, TypeToday, TypeDeviceID, TypePhoneNumber, TypeUsername, TypeEmail:
		return true
	}
	return false
}

// IsMedia reports whether the row captures an attachment file.
func (t QuestionType) IsMedia() bool {
	switch t {
	case TypeImage, TypeAudio, TypeVideo, TypeFile:
		return true
	}
	return false
}

// LabelSet maps a language code to a translated string. The empty key holds
// the bare (untranslated) `label` column.
type LabelSet map[string]string

// Resolve picks the best translation for lang. Fallback order: exact language,
// bare label, first declared language. declared preserves the column order of
// the source sheet so the fallback is stable across runs.
func (l LabelSet) Resolve(lang string, declared []string) string {
	if len(l) == 0 {
		return ""
	}
	if lang != "" {
		if v, ok := l[lang]; ok && v != "" {
			return v
		}
	}
	if v, ok := l[""]; ok && v != "" {
		return v
	}
	for _, d := range declared {
		if v, ok := l[d]; ok && v != "" {
			return v
		}
	}
	return ""
}

// ChoiceEntry is one `(value, labels)` pair of a choice list.
type ChoiceEntry struct {
	Value  string            `json:"value"`
	Labels LabelSet          `json:"labels"`
	Extra  map[string]string `json:"extra,omitempty"` // verbatim unrecognized columns
}

// ChoiceList is an ordered, named list of selectable values. Lists with the
// same name are only merged when their source rows are contiguous.
type ChoiceList struct {
	Name    string        `json:"name"`
	Entries []ChoiceEntry `json:"entries"`
}

// Question is one parsed survey row. Container rows (begin/end group/repeat)
// and leaf questions share this representation; FormNode keeps them apart.
type Question struct {
	Name              string       `json:"name"`
	Type              QuestionType `json:"type"`
	RawType           string       `json:"rawType"`
	ListName          string       `json:"listName,omitempty"`
	Labels            LabelSet     `json:"labels,omitempty"`
	Hints             LabelSet     `json:"hints,omitempty"`
	Relevant          string       `json:"relevant,omitempty"`
	Constraint        string       `json:"constraint,omitempty"`
	ConstraintMessage string       `json:"constraintMessage,omitempty"`
	Required          bool         `json:"required,omitempty"`
	Default           string       `json:"default,omitempty"`
	Calculation       string       `json:"calculation,omitempty"`
	ChoiceFilter      string       `json:"choiceFilter,omitempty"`
	Parameters        string       `json:"parameters,omitempty"`
	Appearance        string       `json:"appearance,omitempty"`
	ReadOnly          bool         `json:"readOnly,omitempty"`
	Row               int          `json:"row"` // 1-based survey sheet row
}

// FormNode is a node of the hierarchical form tree. Children are present only
// on the root and on group/repeat containers.
type FormNode struct {
	Question Question    `json:"question"`
	Children []*FormNode `json:"children,omitempty"`
}

// IsRoot reports whether the node is the synthetic tree root.
func (n *FormNode) IsRoot() bool { return n.Question.Type == TypeRoot }

// IsRepeat reports whether the node is a repeat container.
func (n *FormNode) IsRepeat() bool { return n.Question.Type == TypeBeginRepeat }

// IsGroup reports whether the node is a non-repeat group container.
func (n *FormNode) IsGroup() bool { return n.Question.Type == TypeBeginGroup }

// Walk visits the node and all descendants depth-first in document order.
func (n *FormNode) Walk(fn func(*FormNode)) {
	fn(n)
	for _, c := range n.Children {
		c.Walk(fn)
	}
}

// GeometryKind is the spatial type attached to a layer, if any.
type GeometryKind string

const (
	GeometryNone    GeometryKind = ""
	GeometryPoint   GeometryKind = "point"
	GeometryLine    GeometryKind = "line"
	GeometryPolygon GeometryKind = "polygon"
)

// ValueType enumerates the storage types of resolved fields.
type ValueType string

const (
	ValueText     ValueType = "text"
	ValueInteger  ValueType = "integer"
	ValueReal     ValueType = "real"
	ValueDate     ValueType = "date"
	ValueTime     ValueType = "time"
	ValueDateTime ValueType = "datetime"
	ValueBool     ValueType = "bool"
)

// WidgetKind enumerates the attribute editor widgets of the target application.
type WidgetKind string

const (
	WidgetTextEdit      WidgetKind = "TextEdit"
	WidgetRange         WidgetKind = "Range"
	WidgetDateTime      WidgetKind = "DateTime"
	WidgetCheckBox      WidgetKind = "CheckBox"
	WidgetValueRelation WidgetKind = "ValueRelation"
	WidgetAttachment    WidgetKind = "ExternalResource"
	WidgetHidden        WidgetKind = "Hidden"
)

// WidgetConfig is a display widget plus its free-form setup options
// (bound choice list, slider bounds, display formats, filter expressions).
type WidgetConfig struct {
	Kind    WidgetKind        `json:"kind"`
	Options map[string]string `json:"options,omitempty"`
}

// Option reads a widget setup option, empty when unset.
func (w WidgetConfig) Option(key string) string {
	return w.Options[key]
}

// Field is one resolved attribute of a Layer.
type Field struct {
	Name                 string       `json:"name"` // group-qualified, unique per layer
	ValueType            ValueType    `json:"valueType"`
	Labels               LabelSet     `json:"labels,omitempty"`
	Hints                LabelSet     `json:"hints,omitempty"`
	Widget               WidgetConfig `json:"widget"`
	ConstraintExpression string       `json:"constraintExpression,omitempty"`
	ConstraintMessage    string       `json:"constraintMessage,omitempty"`
	RelevantExpression   string       `json:"relevantExpression,omitempty"`
	DefaultExpression    string       `json:"defaultExpression,omitempty"`
	DefaultOnUpdate      bool         `json:"defaultOnUpdate,omitempty"`
	Required             bool         `json:"required,omitempty"`
	ReadOnly             bool         `json:"readOnly,omitempty"`
	DisplayOnly          bool         `json:"displayOnly,omitempty"` // notes: no user input is stored
	SourceRow            int          `json:"sourceRow,omitempty"`
}

// Layer is one resolved output table or feature class.
type Layer struct {
	ID         string       `json:"id"` // content-derived, stable across runs
	Name       string       `json:"name"`
	Title      string       `json:"title,omitempty"`
	Fields     []Field      `json:"fields"`
	Geometry   GeometryKind `json:"geometry,omitempty"`
	SRID       int          `json:"srid,omitempty"`
	PrimaryKey string       `json:"primaryKey"`
	ParentKey  string       `json:"parentKey,omitempty"` // repeat layers only
}

// FieldIndex returns the position of the named field, or -1.
func (l *Layer) FieldIndex(name string) int {
	for i := range l.Fields {
		if l.Fields[i].Name == name {
			return i
		}
	}
	return -1
}

// Relation links a repeat layer back to its parent layer.
type Relation struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	ParentLayer string `json:"parentLayer"`
	ChildLayer  string `json:"childLayer"`
	ParentKey   string `json:"parentKey"`
	ChildKey    string `json:"childKey"`
	// CascadeDelete mirrors repeat deletion: removing a parent record
	// removes its repeat entries.
	CascadeDelete bool `json:"cascadeDelete"`
	// RelevantExpression gates the repeat's editor visibility.
	RelevantExpression string `json:"relevantExpression,omitempty"`
}

// Schema is the fully resolved layer/relation graph. It is produced once per
// conversion run and consumed read-only by the emitter.
type Schema struct {
	Layers    []*Layer   `json:"layers"`
	Relations []Relation `json:"relations"`
	Languages []string   `json:"languages,omitempty"` // declared label languages, sheet order
}

// Layer returns the named layer, nil when absent.
func (s *Schema) Layer(name string) *Layer {
	for _, l := range s.Layers {
		if l.Name == name {
			return l
		}
	}
	return nil
}

// Warning is a non-fatal conversion diagnostic. Warnings degrade fidelity
// (best-effort expressions, skipped hints) without aborting the run.
type Warning struct {
	Stage   string `json:"stage"`
	Message string `json:"message"`
	Sheet   string `json:"sheet,omitempty"`
	Row     int    `json:"row,omitempty"`
	Field   string `json:"field,omitempty"`
}

// Result summarizes a successful conversion run.
type Result struct {
	ContainerPath string    `json:"containerPath"`
	ProjectPath   string    `json:"projectPath"`
	Title         string    `json:"title"`
	FormID        string    `json:"formId,omitempty"`
	Warnings      []Warning `json:"warnings,omitempty"`
}
