package internal

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/opensurvey/fieldform"
)

// Field names of the synthetic key columns on every emitted layer.
const (
	PrimaryKeyField = "uuid"
	ParentKeyField  = "uuid_parent"
)

// RootLayerName is the table name of the main survey layer.
const RootLayerName = "survey"

// idNamespace seeds content-derived layer and relation identifiers so
// repeated runs over identical input emit identical IDs.
var idNamespace = uuid.MustParse("6ba7b810-9dad-11d1-80b4-00c04fd430c8")

func stableID(kind, name string) string {
	return uuid.NewSHA1(idNamespace, []byte(kind+":"+name)).String()
}

var paramRe = regexp.MustCompile(`(?i)(start|end|step)\s*=\s*([0-9]+(?:\.[0-9]+)?)`)

type resolver struct {
	wb       *Workbook
	opts     fieldform.Options
	tr       *Translator
	scopes   map[*fieldform.FormNode]*Scope
	schema   *fieldform.Schema
	warnings []fieldform.Warning
}

// ResolveSchema flattens the form tree into the layer/field/relation graph.
// The root and non-repeat groups collapse into one root layer (groups only
// contribute a dotted field-name prefix); every repeat becomes a child layer
// keyed back to its nearest enclosing layer.
func ResolveSchema(tree *fieldform.FormNode, wb *Workbook, opts fieldform.Options, tr *Translator) (*fieldform.Schema, []fieldform.Warning, error) {
	r := &resolver{
		wb:     wb,
		opts:   opts,
		tr:     tr,
		scopes: make(map[*fieldform.FormNode]*Scope),
		schema: &fieldform.Schema{Languages: wb.Languages},
	}

	// Names are resolvable before their declaration row (an early question
	// may reference a later one), so scopes are collected up front.
	r.collectScopes(tree, nil, nil)

	root := r.newLayer(RootLayerName, "")
	title := wb.Settings.FormTitle
	if opts.Title != "" {
		title = opts.Title
	}
	root.Title = title

	if err := r.resolveInto(tree, root, nil); err != nil {
		return nil, nil, err
	}
	return r.schema, r.warnings, nil
}

// collectScopes builds the scope chain ahead of field resolution. Each
// container owns one scope; leaf names bind to their qualified field name.
func (r *resolver) collectScopes(node *fieldform.FormNode, parent *Scope, prefix []string) {
	scope := NewScope(parent)
	r.scopes[node] = scope
	for _, child := range node.Children {
		q := child.Question
		switch {
		case child.IsRepeat():
			// A repeat starts a fresh layer; qualification restarts.
			r.collectScopes(child, scope, nil)
		case child.IsGroup():
			r.collectScopes(child, scope, append(prefix, q.Name))
		case q.Type.IsGeometry():
			// Geometry rows own no field and cannot be referenced.
		default:
			if q.Name != "" {
				scope.Define(q.Name, qualifiedName(prefix, q.Name))
			}
		}
	}
}

func qualifiedName(prefix []string, name string) string {
	if len(prefix) == 0 {
		return name
	}
	return strings.Join(append(append([]string{}, prefix...), name), ".")
}

func (r *resolver) newLayer(name, parentLayer string) *fieldform.Layer {
	layer := &fieldform.Layer{
		ID:         stableID("layer", name),
		Name:       name,
		SRID:       r.opts.SRID,
		PrimaryKey: PrimaryKeyField,
	}
	layer.Fields = append(layer.Fields, fieldform.Field{
		Name:              PrimaryKeyField,
		ValueType:         fieldform.ValueText,
		Widget:            fieldform.WidgetConfig{Kind: fieldform.WidgetHidden},
		DefaultExpression: "uuid()",
	})
	if parentLayer != "" {
		layer.ParentKey = ParentKeyField
		layer.Fields = append(layer.Fields, fieldform.Field{
			Name:      ParentKeyField,
			ValueType: fieldform.ValueText,
			Widget:    fieldform.WidgetConfig{Kind: fieldform.WidgetHidden},
		})
	}
	r.schema.Layers = append(r.schema.Layers, layer)
	return layer
}

// resolveInto walks one container's children, appending fields to layer.
// Group nesting passes the same layer down with a longer name prefix.
func (r *resolver) resolveInto(node *fieldform.FormNode, layer *fieldform.Layer, prefix []string) error {
	scope := r.scopes[node]
	for _, child := range node.Children {
		q := child.Question
		switch {
		case child.IsRepeat():
			if err := r.resolveRepeat(child, layer, scope); err != nil {
				return err
			}
		case child.IsGroup():
			if err := r.resolveGroup(child, layer, prefix, scope); err != nil {
				return err
			}
		case q.Type.IsGeometry():
			if err := r.attachGeometry(layer, q); err != nil {
				return err
			}
		case q.Type == "":
			return fieldform.NewError(fieldform.KindUnsupportedType,
				"unsupported question type %q", q.RawType).
				WithSheet(fieldform.SheetSurvey).WithRow(q.Row).WithField(q.Name)
		default:
			field, err := r.buildField(q, qualifiedName(prefix, q.Name), scope)
			if err != nil {
				return err
			}
			layer.Fields = append(layer.Fields, *field)
		}
	}
	return nil
}

func (r *resolver) resolveRepeat(node *fieldform.FormNode, parent *fieldform.Layer, scope *Scope) error {
	q := node.Question
	if err := r.checkLayerName(q); err != nil {
		return err
	}
	child := r.newLayer(q.Name, parent.Name)
	child.Title = r.displayLabel(q.Labels)

	rel := fieldform.Relation{
		ID:            stableID("relation", parent.Name+"/"+q.Name),
		Name:          q.Name,
		ParentLayer:   parent.Name,
		ChildLayer:    child.Name,
		ParentKey:     PrimaryKeyField,
		ChildKey:      ParentKeyField,
		CascadeDelete: true,
	}
	if q.Relevant != "" {
		translated, err := r.translate(q, q.Relevant, scope, TranslateOptions{Mode: RefField})
		if err != nil {
			return err
		}
		rel.RelevantExpression = translated
	}
	r.schema.Relations = append(r.schema.Relations, rel)

	return r.resolveInto(node, child, nil)
}

// checkLayerName rejects repeat names that would collide with another table
// in the data container: the root layer, a previous repeat, or a choice
// list's emitted table.
func (r *resolver) checkLayerName(q fieldform.Question) error {
	if r.schema.Layer(q.Name) != nil {
		return fieldform.NewError(fieldform.KindSchema,
			"repeat %q collides with an existing layer name", q.Name).
			WithSheet(fieldform.SheetSurvey).WithRow(q.Row).WithField(q.Name)
	}
	for _, listName := range r.wb.ChoiceOrder {
		if ChoiceTableName(listName) == q.Name {
			return fieldform.NewError(fieldform.KindSchema,
				"repeat %q collides with the table of choice list %q", q.Name, listName).
				WithSheet(fieldform.SheetSurvey).WithRow(q.Row).WithField(q.Name)
		}
	}
	return nil
}

// resolveGroup collapses a non-repeat group into the enclosing layer. A
// group-level relevant expression cascades onto contained fields that carry
// none of their own.
func (r *resolver) resolveGroup(node *fieldform.FormNode, layer *fieldform.Layer, prefix []string, scope *Scope) error {
	q := node.Question
	groupRelevant := ""
	if q.Relevant != "" {
		translated, err := r.translate(q, q.Relevant, scope, TranslateOptions{Mode: RefField})
		if err != nil {
			return err
		}
		groupRelevant = translated
	}

	before := len(layer.Fields)
	if err := r.resolveInto(node, layer, append(prefix, q.Name)); err != nil {
		return err
	}
	if groupRelevant != "" {
		for i := before; i < len(layer.Fields); i++ {
			if layer.Fields[i].RelevantExpression == "" {
				layer.Fields[i].RelevantExpression = groupRelevant
			}
		}
	}
	return nil
}

func (r *resolver) attachGeometry(layer *fieldform.Layer, q fieldform.Question) error {
	var kind fieldform.GeometryKind
	switch q.Type {
	case fieldform.TypeGeopoint:
		kind = fieldform.GeometryPoint
	case fieldform.TypeGeotrace:
		kind = fieldform.GeometryLine
	case fieldform.TypeGeoshape:
		kind = fieldform.GeometryPolygon
	}
	if layer.Geometry != fieldform.GeometryNone {
		return fieldform.NewError(fieldform.KindMultipleGeometry,
			"layer %q already has %s geometry, cannot add %s from %q",
			layer.Name, layer.Geometry, kind, q.Name).
			WithSheet(fieldform.SheetSurvey).WithRow(q.Row).WithField(q.Name)
	}
	layer.Geometry = kind
	return nil
}

func (r *resolver) buildField(q fieldform.Question, name string, scope *Scope) (*fieldform.Field, error) {
	field := &fieldform.Field{
		Name:              name,
		Labels:            q.Labels,
		Hints:             q.Hints,
		ConstraintMessage: q.ConstraintMessage,
		Required:          q.Required,
		ReadOnly:          q.ReadOnly,
		SourceRow:         q.Row,
	}

	switch q.Type {
	case fieldform.TypeText, fieldform.TypeBarcode:
		field.ValueType = fieldform.ValueText
		field.Widget = fieldform.WidgetConfig{Kind: fieldform.WidgetTextEdit}
	case fieldform.TypeInteger:
		field.ValueType = fieldform.ValueInteger
		field.Widget = fieldform.WidgetConfig{Kind: fieldform.WidgetRange}
	case fieldform.TypeDecimal:
		field.ValueType = fieldform.ValueReal
		field.Widget = fieldform.WidgetConfig{Kind: fieldform.WidgetRange}
	case fieldform.TypeRange:
		field.ValueType = fieldform.ValueReal
		field.Widget = rangeWidget(q.Parameters)
	case fieldform.TypeDate, fieldform.TypeToday:
		field.ValueType = fieldform.ValueDate
		field.Widget = dateTimeWidget("yyyy-MM-dd")
	case fieldform.TypeTime:
		field.ValueType = fieldform.ValueTime
		field.Widget = dateTimeWidget("HH:mm:ss")
	case fieldform.TypeDateTime, fieldform.TypeStart, fieldform.TypeEnd:
		field.ValueType = fieldform.ValueDateTime
		field.Widget = dateTimeWidget("yyyy-MM-dd HH:mm:ss")
	case fieldform.TypeAcknowledge:
		field.ValueType = fieldform.ValueBool
		field.Widget = fieldform.WidgetConfig{Kind: fieldform.WidgetCheckBox}
	case fieldform.TypeSelectOne, fieldform.TypeSelectMultiple:
		field.ValueType = fieldform.ValueText
		widget, err := r.valueRelationWidget(q, scope)
		if err != nil {
			return nil, err
		}
		field.Widget = *widget
	case fieldform.TypeCalculate, fieldform.TypeHidden:
		field.ValueType = fieldform.ValueText
		field.Widget = fieldform.WidgetConfig{Kind: fieldform.WidgetHidden}
		field.ReadOnly = true
	case fieldform.TypeNote:
		field.ValueType = fieldform.ValueText
		field.Widget = fieldform.WidgetConfig{Kind: fieldform.WidgetTextEdit}
		field.ReadOnly = true
		field.DisplayOnly = true
		// Note text may embed ${ref} placeholders that render live values.
		field.Labels = insertLabels(r.tr, q.Labels)
	case fieldform.TypeImage, fieldform.TypeAudio, fieldform.TypeVideo, fieldform.TypeFile:
		field.ValueType = fieldform.ValueText
		field.Widget = attachmentWidget(q.Type)
	case fieldform.TypeDeviceID, fieldform.TypePhoneNumber, fieldform.TypeUsername, fieldform.TypeEmail:
		field.ValueType = fieldform.ValueText
		field.Widget = fieldform.WidgetConfig{Kind: fieldform.WidgetHidden}
		field.ReadOnly = true
	default:
		return nil, fieldform.NewError(fieldform.KindUnsupportedType,
			"unsupported question type %q", q.RawType).
			WithSheet(fieldform.SheetSurvey).WithRow(q.Row).WithField(q.Name)
	}

	// Device metadata is filled by the client, never typed in.
	if q.Type.IsMetadata() {
		field.Widget = fieldform.WidgetConfig{Kind: fieldform.WidgetHidden}
		field.ReadOnly = true
	}

	// Appearance is advisory; renderers that don't know it ignore it.
	if q.Appearance != "" {
		if field.Widget.Options == nil {
			field.Widget.Options = make(map[string]string)
		}
		field.Widget.Options["Appearance"] = q.Appearance
	}

	if q.Constraint != "" {
		translated, err := r.translate(q, q.Constraint, scope,
			TranslateOptions{Mode: RefField, SelfField: q.Name})
		if err != nil {
			return nil, err
		}
		field.ConstraintExpression = translated
	}
	if q.Relevant != "" {
		translated, err := r.translate(q, q.Relevant, scope, TranslateOptions{Mode: RefField})
		if err != nil {
			return nil, err
		}
		field.RelevantExpression = translated
	}

	if err := r.applyDefault(field, q, scope); err != nil {
		return nil, err
	}
	return field, nil
}

// applyDefault wires the calculation expression, the metadata auto-values,
// or the literal default, in that priority order.
func (r *resolver) applyDefault(field *fieldform.Field, q fieldform.Question, scope *Scope) error {
	if q.Calculation != "" {
		translated, err := r.translate(q, q.Calculation, scope, TranslateOptions{Mode: RefField})
		if err != nil {
			return err
		}
		field.DefaultExpression = translated
		// Calculations re-evaluate whenever their inputs change.
		field.DefaultOnUpdate = q.Type == fieldform.TypeCalculate || q.Type == fieldform.TypeHidden
		return nil
	}

	switch q.Type {
	case fieldform.TypeToday:
		field.DefaultExpression = "format_date(now(),'yyyy-MM-dd')"
		return nil
	case fieldform.TypeStart:
		field.DefaultExpression = "format_date(now(),'yyyy-MM-dd hh:mm:ss')"
		return nil
	case fieldform.TypeEnd:
		field.DefaultExpression = "format_date(now(),'yyyy-MM-dd hh:mm:ss')"
		field.DefaultOnUpdate = true
		return nil
	case fieldform.TypeUsername:
		field.DefaultExpression = "@cloud_username"
		return nil
	case fieldform.TypeEmail:
		field.DefaultExpression = "@cloud_useremail"
		return nil
	}

	if q.Default == "" {
		return nil
	}
	if strings.Contains(q.Default, "${last-saved") {
		r.warn(q, "last-saved defaults are not supported, ignored")
		return nil
	}
	if _, err := strconv.ParseFloat(q.Default, 64); err == nil {
		field.DefaultExpression = q.Default
	} else {
		field.DefaultExpression = "'" + strings.ReplaceAll(q.Default, "'", "\\'") + "'"
	}
	return nil
}

func (r *resolver) valueRelationWidget(q fieldform.Question, scope *Scope) (*fieldform.WidgetConfig, error) {
	allowMulti := q.Type == fieldform.TypeSelectMultiple

	filter := ""
	if q.ChoiceFilter != "" {
		// Choice filters run against the live form state, not stored rows.
		translated, err := r.tr.TranslateCurrentValue(q.ChoiceFilter, scope)
		if err != nil {
			return nil, wrapExprError(err, q)
		}
		r.collect(q, translated)
		filter = translated.Text
	}
	if allowMulti {
		// The pseudo-NULL list entry must never satisfy a multi-select.
		if filter != "" {
			filter = `"name" != '' and (` + filter + `)`
		} else {
			filter = `"name" != ''`
		}
	}

	options := map[string]string{
		"List":       ChoiceTableName(q.ListName),
		"Key":        "name",
		"Value":      "label",
		"AllowMulti": strconv.FormatBool(allowMulti),
		"AllowNull":  "false",
	}
	if filter != "" {
		options["FilterExpression"] = filter
	}
	return &fieldform.WidgetConfig{Kind: fieldform.WidgetValueRelation, Options: options}, nil
}

// insertLabels rewrites embedded references in every translation of a label
// set. Labels without references pass through unchanged.
func insertLabels(tr *Translator, labels fieldform.LabelSet) fieldform.LabelSet {
	if len(labels) == 0 {
		return labels
	}
	out := make(fieldform.LabelSet, len(labels))
	for lang, v := range labels {
		out[lang] = tr.TranslateInsert(v)
	}
	return out
}

func rangeWidget(parameters string) fieldform.WidgetConfig {
	options := map[string]string{"Min": "0", "Max": "10", "Step": "1", "Style": "Slider"}
	for _, m := range paramRe.FindAllStringSubmatch(parameters, -1) {
		switch strings.ToLower(m[1]) {
		case "start":
			options["Min"] = m[2]
		case "end":
			options["Max"] = m[2]
		case "step":
			options["Step"] = m[2]
		}
	}
	return fieldform.WidgetConfig{Kind: fieldform.WidgetRange, Options: options}
}

func dateTimeWidget(format string) fieldform.WidgetConfig {
	return fieldform.WidgetConfig{
		Kind: fieldform.WidgetDateTime,
		Options: map[string]string{
			"field_format":   format,
			"display_format": format,
			"calendar_popup": "true",
		},
	}
}

func attachmentWidget(t fieldform.QuestionType) fieldform.WidgetConfig {
	viewer := "0"
	switch t {
	case fieldform.TypeImage:
		viewer = "1"
	case fieldform.TypeAudio:
		viewer = "3"
	case fieldform.TypeVideo:
		viewer = "4"
	}
	return fieldform.WidgetConfig{
		Kind: fieldform.WidgetAttachment,
		Options: map[string]string{
			"DocumentViewer":  viewer,
			"RelativeStorage": "1",
		},
	}
}

// translate runs one expression through the translator and folds its
// non-fatal diagnostics into the warning list.
func (r *resolver) translate(q fieldform.Question, expr string, scope *Scope, opts TranslateOptions) (string, error) {
	translated, err := r.tr.TranslateWith(expr, scope, opts)
	if err != nil {
		return "", wrapExprError(err, q)
	}
	r.collect(q, translated)
	return translated.Text, nil
}

func (r *resolver) collect(q fieldform.Question, translated Translated) {
	for _, w := range translated.Warnings {
		r.warnings = append(r.warnings, fieldform.Warning{
			Stage:   "resolve",
			Message: w,
			Sheet:   fieldform.SheetSurvey,
			Row:     q.Row,
			Field:   q.Name,
		})
	}
}

func (r *resolver) warn(q fieldform.Question, msg string) {
	r.warnings = append(r.warnings, fieldform.Warning{
		Stage:   "resolve",
		Message: msg,
		Sheet:   fieldform.SheetSurvey,
		Row:     q.Row,
		Field:   q.Name,
	})
}

func (r *resolver) displayLabel(labels fieldform.LabelSet) string {
	lang := r.opts.Language
	if lang == "" {
		lang = r.wb.Settings.DefaultLanguage
	}
	return StripTags(labels.Resolve(lang, r.wb.Languages))
}

func wrapExprError(err error, q fieldform.Question) error {
	var ce *fieldform.ConversionError
	if asConversionError(err, &ce) {
		return ce.WithSheet(fieldform.SheetSurvey).WithRow(q.Row).WithField(q.Name)
	}
	return err
}
