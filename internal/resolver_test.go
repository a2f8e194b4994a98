package internal

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opensurvey/fieldform"
)

func resolve(t *testing.T, src fieldform.SheetSource, opts fieldform.Options) (*fieldform.Schema, []fieldform.Warning) {
	t.Helper()
	schema, warnings, err := resolveErr(src, opts)
	require.NoError(t, err)
	return schema, warnings
}

func resolveErr(src fieldform.SheetSource, opts fieldform.Options) (*fieldform.Schema, []fieldform.Warning, error) {
	wb, err := LoadWorkbook(src)
	if err != nil {
		return nil, nil, err
	}
	tree, err := BuildFormTree(wb.Survey)
	if err != nil {
		return nil, nil, err
	}
	return ResolveSchema(tree, wb, opts, NewTranslator())
}

func householdForm() *fieldform.MemorySource {
	return fieldform.NewMemorySource(
		surveySheet(
			[]string{"type", "name", "label", "relevant", "constraint", "required"},
			fieldform.TextRow("text", "farmer", "Farmer name", "", "", "yes"),
			fieldform.TextRow("integer", "age", "Age", "", ". >= 18", ""),
			fieldform.TextRow("geopoint", "location", "Homestead", "", "", ""),
			fieldform.TextRow("begin group", "details", "Details", "${age} > 18", "", ""),
			fieldform.TextRow("select_one crops", "main_crop", "Main crop", "", "", ""),
			fieldform.TextRow("end group", "", "", "", "", ""),
			fieldform.TextRow("begin repeat", "plots", "Plots", "${age} > 18", "", ""),
			fieldform.TextRow("decimal", "size_ha", "Size (ha)", "", "", ""),
			fieldform.TextRow("geopoint", "corner", "Plot corner", "", "", ""),
			fieldform.TextRow("end repeat", "", "", "", "", ""),
		),
		choicesSheet(
			[]string{"list_name", "name", "label"},
			fieldform.TextRow("crops", "maize", "Maize"),
			fieldform.TextRow("crops", "beans", "Beans"),
		),
		settingsSheet(
			[]string{"form_title", "form_id"},
			fieldform.TextRow("Household Survey", "hh_2026"),
		),
	)
}

func TestResolveSchemaHouseholdForm(t *testing.T) {
	schema, _ := resolve(t, householdForm(), fieldform.DefaultOptions())

	require.Len(t, schema.Layers, 2)
	root := schema.Layer(RootLayerName)
	require.NotNil(t, root)
	assert.Equal(t, "Household Survey", root.Title)
	assert.Equal(t, fieldform.GeometryPoint, root.Geometry)
	assert.Equal(t, 4326, root.SRID)
	assert.Equal(t, PrimaryKeyField, root.PrimaryKey)
	assert.Empty(t, root.ParentKey)

	// Groups collapse into the root layer with dotted field names.
	require.GreaterOrEqual(t, root.FieldIndex("details.main_crop"), 0)
	assert.Equal(t, -1, root.FieldIndex("main_crop"))

	plots := schema.Layer("plots")
	require.NotNil(t, plots)
	assert.Equal(t, ParentKeyField, plots.ParentKey)
	assert.Equal(t, fieldform.GeometryPoint, plots.Geometry)
	require.GreaterOrEqual(t, plots.FieldIndex("size_ha"), 0)
	// Repeat fields never leak into the parent layer.
	assert.Equal(t, -1, root.FieldIndex("size_ha"))
}

func TestResolveSchemaKeysAndRelation(t *testing.T) {
	schema, _ := resolve(t, householdForm(), fieldform.DefaultOptions())

	root := schema.Layer(RootLayerName)
	pk := root.Fields[root.FieldIndex(PrimaryKeyField)]
	assert.Equal(t, "uuid()", pk.DefaultExpression)
	assert.Equal(t, fieldform.WidgetHidden, pk.Widget.Kind)

	plots := schema.Layer("plots")
	require.GreaterOrEqual(t, plots.FieldIndex(ParentKeyField), 0)

	require.Len(t, schema.Relations, 1)
	rel := schema.Relations[0]
	assert.Equal(t, RootLayerName, rel.ParentLayer)
	assert.Equal(t, "plots", rel.ChildLayer)
	assert.Equal(t, PrimaryKeyField, rel.ParentKey)
	assert.Equal(t, ParentKeyField, rel.ChildKey)
	assert.True(t, rel.CascadeDelete)
	assert.Equal(t, `"age" > 18`, rel.RelevantExpression)
}

func TestResolveSchemaRepeatCountMatchesChildLayers(t *testing.T) {
	schema, _ := resolve(t, householdForm(), fieldform.DefaultOptions())
	assert.Equal(t, len(schema.Layers)-1, len(schema.Relations))
}

func TestResolveSchemaDeterministic(t *testing.T) {
	first, _ := resolve(t, householdForm(), fieldform.DefaultOptions())
	second, _ := resolve(t, householdForm(), fieldform.DefaultOptions())

	require.Equal(t, len(first.Layers), len(second.Layers))
	for i := range first.Layers {
		assert.Equal(t, first.Layers[i].ID, second.Layers[i].ID)
		assert.Equal(t, first.Layers[i].Name, second.Layers[i].Name)
	}
	require.Equal(t, first.Relations, second.Relations)
}

func TestResolveSchemaGroupRelevantCascades(t *testing.T) {
	schema, _ := resolve(t, householdForm(), fieldform.DefaultOptions())
	root := schema.Layer(RootLayerName)

	crop := root.Fields[root.FieldIndex("details.main_crop")]
	assert.Equal(t, `"age" > 18`, crop.RelevantExpression)
}

func TestResolveSchemaConstraintSelfReference(t *testing.T) {
	schema, _ := resolve(t, householdForm(), fieldform.DefaultOptions())
	root := schema.Layer(RootLayerName)

	age := root.Fields[root.FieldIndex("age")]
	assert.Equal(t, `"age" >= 18`, age.ConstraintExpression)
}

func TestResolveSchemaForwardReference(t *testing.T) {
	src := fieldform.NewMemorySource(surveySheet(
		[]string{"type", "name", "relevant"},
		fieldform.TextRow("note", "warning", "${age} < 18"),
		fieldform.TextRow("integer", "age", ""),
	))
	schema, warnings := resolve(t, src, fieldform.DefaultOptions())

	root := schema.Layer(RootLayerName)
	note := root.Fields[root.FieldIndex("warning")]
	assert.Equal(t, `"age" < 18`, note.RelevantExpression)
	assert.Empty(t, warnings)
}

func TestResolveSchemaMultipleGeometry(t *testing.T) {
	src := fieldform.NewMemorySource(surveySheet(
		[]string{"type", "name"},
		fieldform.TextRow("geopoint", "home"),
		fieldform.TextRow("geoshape", "farm"),
	))
	_, _, err := resolveErr(src, fieldform.DefaultOptions())
	require.Error(t, err)
	assert.True(t, fieldform.IsKind(err, fieldform.KindMultipleGeometry))

	var ce *fieldform.ConversionError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, "farm", ce.Field)
}

func TestResolveSchemaGeometryPerLayer(t *testing.T) {
	// One geometry per layer: a point on the root plus a shape in a repeat.
	src := fieldform.NewMemorySource(surveySheet(
		[]string{"type", "name"},
		fieldform.TextRow("geopoint", "home"),
		fieldform.TextRow("begin repeat", "fields"),
		fieldform.TextRow("geoshape", "boundary"),
		fieldform.TextRow("end repeat", ""),
	))
	schema, _ := resolve(t, src, fieldform.DefaultOptions())
	assert.Equal(t, fieldform.GeometryPoint, schema.Layer(RootLayerName).Geometry)
	assert.Equal(t, fieldform.GeometryPolygon, schema.Layer("fields").Geometry)
}

func TestResolveSchemaUnsupportedType(t *testing.T) {
	src := fieldform.NewMemorySource(surveySheet(
		[]string{"type", "name"},
		fieldform.TextRow("matrix", "grid"),
	))
	_, _, err := resolveErr(src, fieldform.DefaultOptions())
	require.Error(t, err)
	assert.True(t, fieldform.IsKind(err, fieldform.KindUnsupportedType))
}

func TestResolveSchemaSelectWidgets(t *testing.T) {
	src := fieldform.NewMemorySource(
		surveySheet(
			[]string{"type", "name", "choice_filter"},
			fieldform.TextRow("select_one regions", "region", ""),
			fieldform.TextRow("select_one towns", "town", "region = ${region}"),
			fieldform.TextRow("select_multiple crops", "crops_grown", ""),
		),
		choicesSheet(
			[]string{"list_name", "name", "label"},
			fieldform.TextRow("regions", "north", "North"),
			fieldform.TextRow("towns", "alpha", "Alpha"),
			fieldform.TextRow("crops", "maize", "Maize"),
		),
	)
	schema, _ := resolve(t, src, fieldform.DefaultOptions())
	root := schema.Layer(RootLayerName)

	region := root.Fields[root.FieldIndex("region")]
	assert.Equal(t, fieldform.WidgetValueRelation, region.Widget.Kind)
	assert.Equal(t, "list_regions", region.Widget.Option("List"))
	assert.Equal(t, "false", region.Widget.Option("AllowMulti"))
	assert.Empty(t, region.Widget.Option("FilterExpression"))

	town := root.Fields[root.FieldIndex("town")]
	assert.Equal(t, "region = current_value('region')", town.Widget.Option("FilterExpression"))

	multi := root.Fields[root.FieldIndex("crops_grown")]
	assert.Equal(t, "true", multi.Widget.Option("AllowMulti"))
	// Multi-selects must exclude the pseudo-NULL list entry.
	assert.Equal(t, `"name" != ''`, multi.Widget.Option("FilterExpression"))
}

func TestResolveSchemaRangeWidget(t *testing.T) {
	src := fieldform.NewMemorySource(surveySheet(
		[]string{"type", "name", "parameters"},
		fieldform.TextRow("range", "rating", "start=1;end=5;step=1"),
		fieldform.TextRow("range", "score", ""),
	))
	schema, _ := resolve(t, src, fieldform.DefaultOptions())
	root := schema.Layer(RootLayerName)

	rating := root.Fields[root.FieldIndex("rating")]
	assert.Equal(t, fieldform.WidgetRange, rating.Widget.Kind)
	assert.Equal(t, "1", rating.Widget.Option("Min"))
	assert.Equal(t, "5", rating.Widget.Option("Max"))

	score := root.Fields[root.FieldIndex("score")]
	assert.Equal(t, "0", score.Widget.Option("Min"))
	assert.Equal(t, "10", score.Widget.Option("Max"))
}

func TestResolveSchemaMetadataDefaults(t *testing.T) {
	src := fieldform.NewMemorySource(surveySheet(
		[]string{"type", "name"},
		fieldform.TextRow("start", ""),
		fieldform.TextRow("end", ""),
		fieldform.TextRow("today", ""),
		fieldform.TextRow("username", ""),
	))
	schema, _ := resolve(t, src, fieldform.DefaultOptions())
	root := schema.Layer(RootLayerName)

	start := root.Fields[root.FieldIndex("start")]
	assert.Equal(t, fieldform.WidgetHidden, start.Widget.Kind)
	assert.True(t, start.ReadOnly)
	assert.False(t, start.DefaultOnUpdate)

	end := root.Fields[root.FieldIndex("end")]
	assert.True(t, end.DefaultOnUpdate)

	today := root.Fields[root.FieldIndex("today")]
	assert.Equal(t, "format_date(now(),'yyyy-MM-dd')", today.DefaultExpression)

	user := root.Fields[root.FieldIndex("username")]
	assert.Equal(t, "@cloud_username", user.DefaultExpression)
}

func TestResolveSchemaCalculation(t *testing.T) {
	src := fieldform.NewMemorySource(surveySheet(
		[]string{"type", "name", "calculation"},
		fieldform.TextRow("integer", "a", ""),
		fieldform.TextRow("integer", "b", ""),
		fieldform.TextRow("calculate", "total", "${a} + ${b}"),
	))
	schema, _ := resolve(t, src, fieldform.DefaultOptions())
	root := schema.Layer(RootLayerName)

	total := root.Fields[root.FieldIndex("total")]
	assert.Equal(t, `"a" + "b"`, total.DefaultExpression)
	assert.True(t, total.DefaultOnUpdate)
	assert.True(t, total.ReadOnly)
	assert.Equal(t, fieldform.WidgetHidden, total.Widget.Kind)
}

func TestResolveSchemaDefaults(t *testing.T) {
	src := fieldform.NewMemorySource(surveySheet(
		[]string{"type", "name", "default"},
		fieldform.TextRow("integer", "count", "3"),
		fieldform.TextRow("text", "country", "Kenya"),
		fieldform.TextRow("text", "prev", "${last-saved#prev}"),
	))
	schema, warnings := resolve(t, src, fieldform.DefaultOptions())
	root := schema.Layer(RootLayerName)

	assert.Equal(t, "3", root.Fields[root.FieldIndex("count")].DefaultExpression)
	assert.Equal(t, "'Kenya'", root.Fields[root.FieldIndex("country")].DefaultExpression)
	assert.Empty(t, root.Fields[root.FieldIndex("prev")].DefaultExpression)
	require.Len(t, warnings, 1)
	assert.Contains(t, warnings[0].Message, "last-saved")
}

func TestResolveSchemaNoteDisplayOnly(t *testing.T) {
	src := fieldform.NewMemorySource(surveySheet(
		[]string{"type", "name", "label"},
		fieldform.TextRow("note", "intro", "Welcome"),
	))
	schema, _ := resolve(t, src, fieldform.DefaultOptions())
	root := schema.Layer(RootLayerName)

	intro := root.Fields[root.FieldIndex("intro")]
	assert.True(t, intro.DisplayOnly)
	assert.True(t, intro.ReadOnly)
}

func TestResolveSchemaNoteLabelReferences(t *testing.T) {
	src := fieldform.NewMemorySource(surveySheet(
		[]string{"type", "name", "label", "label::swahili"},
		fieldform.TextRow("text", "farmer", "Farmer name", ""),
		fieldform.TextRow("note", "summary", "Recorded ${farmer}.", "Imerekodiwa ${farmer}."),
	))
	schema, _ := resolve(t, src, fieldform.DefaultOptions())
	root := schema.Layer(RootLayerName)

	summary := root.Fields[root.FieldIndex("summary")]
	assert.Equal(t, "Recorded [% current_value('farmer') %].", summary.Labels[""])
	assert.Equal(t, "Imerekodiwa [% current_value('farmer') %].", summary.Labels["swahili"])

	// Non-note labels keep their references verbatim.
	farmer := root.Fields[root.FieldIndex("farmer")]
	assert.Equal(t, "Farmer name", farmer.Labels[""])
}

func TestResolveSchemaRepeatNameCollidesWithRoot(t *testing.T) {
	src := fieldform.NewMemorySource(surveySheet(
		[]string{"type", "name"},
		fieldform.TextRow("begin repeat", "survey"),
		fieldform.TextRow("text", "q"),
		fieldform.TextRow("end repeat", ""),
	))
	_, _, err := resolveErr(src, fieldform.DefaultOptions())
	require.Error(t, err)
	assert.True(t, fieldform.IsKind(err, fieldform.KindSchema))

	var ce *fieldform.ConversionError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, 2, ce.Row)
	assert.Equal(t, "survey", ce.Field)
}

func TestResolveSchemaRepeatNameCollidesWithChoiceTable(t *testing.T) {
	src := fieldform.NewMemorySource(
		surveySheet(
			[]string{"type", "name"},
			fieldform.TextRow("select_one crops", "crop"),
			fieldform.TextRow("begin repeat", "list_crops"),
			fieldform.TextRow("text", "q"),
			fieldform.TextRow("end repeat", ""),
		),
		choicesSheet(
			[]string{"list_name", "name", "label"},
			fieldform.TextRow("crops", "maize", "Maize"),
		),
	)
	_, _, err := resolveErr(src, fieldform.DefaultOptions())
	require.Error(t, err)
	assert.True(t, fieldform.IsKind(err, fieldform.KindSchema))

	var ce *fieldform.ConversionError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, 3, ce.Row)
	assert.Contains(t, ce.Message, "crops")
}

func TestResolveSchemaDuplicateRepeatNames(t *testing.T) {
	// Sibling containers may reuse question names, but repeat names become
	// tables and must be unique across the whole form.
	src := fieldform.NewMemorySource(surveySheet(
		[]string{"type", "name"},
		fieldform.TextRow("begin group", "a"),
		fieldform.TextRow("begin repeat", "plots"),
		fieldform.TextRow("text", "q"),
		fieldform.TextRow("end repeat", ""),
		fieldform.TextRow("end group", ""),
		fieldform.TextRow("begin group", "b"),
		fieldform.TextRow("begin repeat", "plots"),
		fieldform.TextRow("text", "q"),
		fieldform.TextRow("end repeat", ""),
		fieldform.TextRow("end group", ""),
	))
	_, _, err := resolveErr(src, fieldform.DefaultOptions())
	require.Error(t, err)
	assert.True(t, fieldform.IsKind(err, fieldform.KindSchema))
	var ce *fieldform.ConversionError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, 8, ce.Row)
}

func TestResolveSchemaMediaWidgets(t *testing.T) {
	src := fieldform.NewMemorySource(surveySheet(
		[]string{"type", "name"},
		fieldform.TextRow("image", "photo"),
		fieldform.TextRow("audio", "recording"),
	))
	schema, _ := resolve(t, src, fieldform.DefaultOptions())
	root := schema.Layer(RootLayerName)

	photo := root.Fields[root.FieldIndex("photo")]
	assert.Equal(t, fieldform.WidgetAttachment, photo.Widget.Kind)
	assert.Equal(t, "1", photo.Widget.Option("DocumentViewer"))

	rec := root.Fields[root.FieldIndex("recording")]
	assert.Equal(t, "3", rec.Widget.Option("DocumentViewer"))
}

func TestResolveSchemaHintsAndAppearance(t *testing.T) {
	src := fieldform.NewMemorySource(surveySheet(
		[]string{"type", "name", "hint", "hint::swahili", "appearance"},
		fieldform.TextRow("text", "village", "Nearest village", "Kijiji", "minimal"),
	))
	schema, _ := resolve(t, src, fieldform.DefaultOptions())
	root := schema.Layer(RootLayerName)

	village := root.Fields[root.FieldIndex("village")]
	assert.Equal(t, "Nearest village", village.Hints[""])
	assert.Equal(t, "Kijiji", village.Hints["swahili"])
	assert.Equal(t, "minimal", village.Widget.Option("Appearance"))
}

func TestResolveSchemaTitleOverride(t *testing.T) {
	opts := fieldform.DefaultOptions()
	opts.Title = "Renamed"
	schema, _ := resolve(t, householdForm(), opts)
	assert.Equal(t, "Renamed", schema.Layer(RootLayerName).Title)
}

func TestResolveSchemaWarningsCarryLocation(t *testing.T) {
	src := fieldform.NewMemorySource(surveySheet(
		[]string{"type", "name", "relevant"},
		fieldform.TextRow("text", "q", "${ghost} = 1"),
	))
	_, warnings := resolve(t, src, fieldform.DefaultOptions())
	require.Len(t, warnings, 1)
	assert.Equal(t, "resolve", warnings[0].Stage)
	assert.Equal(t, fieldform.SheetSurvey, warnings[0].Sheet)
	assert.Equal(t, 2, warnings[0].Row)
	assert.Equal(t, "q", warnings[0].Field)
}

func TestResolveSchemaBadExpressionFails(t *testing.T) {
	src := fieldform.NewMemorySource(surveySheet(
		[]string{"type", "name", "constraint"},
		fieldform.TextRow("integer", "age", "(${age} > 0"),
	))
	_, _, err := resolveErr(src, fieldform.DefaultOptions())
	require.Error(t, err)
	assert.True(t, fieldform.IsKind(err, fieldform.KindExpression))

	var ce *fieldform.ConversionError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, 2, ce.Row)
	assert.Equal(t, "age", ce.Field)
}
