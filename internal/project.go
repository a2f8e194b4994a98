package internal

import (
	"encoding/xml"
	"os"
	"sort"

	"github.com/opensurvey/fieldform"
)

const projectFormatVersion = "1.0"

// The descriptor mirrors the schema one-to-one: layers point into the data
// container by table name, fields carry their widget setup, constraints and
// defaults, and relations wire repeat layers to their parents.
type projectDoc struct {
	XMLName     xml.Name          `xml:"fieldProject"`
	Version     string            `xml:"version,attr"`
	Title       string            `xml:"title,attr"`
	FormID      string            `xml:"formId,attr,omitempty"`
	SRID        int               `xml:"srid,attr"`
	Container   projectContainer  `xml:"container"`
	Languages   []projectLanguage `xml:"languages>language,omitempty"`
	Basemap     *projectBasemap   `xml:"basemap,omitempty"`
	Form        projectForm       `xml:"form"`
	Layers      []projectLayer    `xml:"layers>layer"`
	Relations   []projectRelation `xml:"relations>relation,omitempty"`
	ChoiceLists []projectList     `xml:"choiceLists>list,omitempty"`
}

type projectContainer struct {
	File string `xml:"file,attr"`
}

type projectLanguage struct {
	Code    string `xml:"code,attr"`
	Default bool   `xml:"default,attr,omitempty"`
}

type projectBasemap struct {
	Name string `xml:"name,attr"`
	URI  string `xml:"uri,attr"`
}

type projectForm struct {
	GroupsAsTabs bool `xml:"groupsAsTabs,attr"`
}

type projectLayer struct {
	ID         string         `xml:"id,attr"`
	Name       string         `xml:"name,attr"`
	Title      string         `xml:"title,attr,omitempty"`
	Geometry   string         `xml:"geometry,attr,omitempty"`
	SRID       int            `xml:"srid,attr,omitempty"`
	PrimaryKey string         `xml:"primaryKey,attr"`
	ParentKey  string         `xml:"parentKey,attr,omitempty"`
	Fields     []projectField `xml:"field"`
}

type projectField struct {
	Name        string           `xml:"name,attr"`
	Type        string           `xml:"type,attr"`
	Required    bool             `xml:"required,attr,omitempty"`
	ReadOnly    bool             `xml:"readOnly,attr,omitempty"`
	DisplayOnly bool             `xml:"displayOnly,attr,omitempty"`
	Widget      projectWidget    `xml:"widget"`
	Aliases     []projectAlias   `xml:"alias,omitempty"`
	Hints       []projectAlias   `xml:"hint,omitempty"`
	Constraint  *projectExpr     `xml:"constraint,omitempty"`
	Relevant    *projectExpr     `xml:"relevant,omitempty"`
	Default     *projectDefault  `xml:"default,omitempty"`
}

type projectWidget struct {
	Kind    string          `xml:"kind,attr"`
	Options []projectOption `xml:"option,omitempty"`
}

type projectOption struct {
	Key   string `xml:"key,attr"`
	Value string `xml:"value,attr"`
}

type projectAlias struct {
	Lang string `xml:"lang,attr,omitempty"`
	Text string `xml:",chardata"`
}

type projectExpr struct {
	Expression string `xml:"expression,attr"`
	Message    string `xml:"message,attr,omitempty"`
}

type projectDefault struct {
	Expression    string `xml:"expression,attr"`
	ApplyOnUpdate bool   `xml:"applyOnUpdate,attr,omitempty"`
}

type projectRelation struct {
	ID            string       `xml:"id,attr"`
	Name          string       `xml:"name,attr"`
	ParentLayer   string       `xml:"parentLayer,attr"`
	ChildLayer    string       `xml:"childLayer,attr"`
	ParentKey     string       `xml:"parentKey,attr"`
	ChildKey      string       `xml:"childKey,attr"`
	CascadeDelete bool         `xml:"cascadeDelete,attr"`
	Relevant      *projectExpr `xml:"relevant,omitempty"`
}

type projectList struct {
	Name    string             `xml:"name,attr"`
	Table   string             `xml:"table,attr"`
	Entries []projectListEntry `xml:"entry"`
}

type projectListEntry struct {
	Value  string         `xml:"value,attr"`
	Labels []projectAlias `xml:"label,omitempty"`
}

// EmitProject writes the XML project descriptor referencing the data
// container by file name. The descriptor is rendered deterministically so
// identical schemas produce byte-identical files.
func EmitProject(schema *fieldform.Schema, wb *Workbook, opts fieldform.Options, title, formID, containerFile, path string) error {
	doc := buildProjectDoc(schema, wb, opts, title, formID, containerFile)

	data, err := xml.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fieldform.NewError(fieldform.KindIO, "cannot render project descriptor").WithCause(err)
	}
	data = append([]byte(xml.Header), data...)
	data = append(data, '\n')
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fieldform.NewError(fieldform.KindIO, "cannot write project descriptor").WithCause(err)
	}
	return nil
}

func buildProjectDoc(schema *fieldform.Schema, wb *Workbook, opts fieldform.Options, title, formID, containerFile string) *projectDoc {
	doc := &projectDoc{
		Version:   projectFormatVersion,
		Title:     title,
		FormID:    formID,
		SRID:      opts.SRID,
		Container: projectContainer{File: containerFile},
		Form:      projectForm{GroupsAsTabs: opts.GroupsAsTabs},
	}

	defaultLang := opts.Language
	if defaultLang == "" {
		defaultLang = wb.Settings.DefaultLanguage
	}
	for _, lang := range schema.Languages {
		doc.Languages = append(doc.Languages, projectLanguage{
			Code:    lang,
			Default: lang == defaultLang,
		})
	}

	if opts.Basemap != "" {
		if uri, ok := fieldform.Basemaps[opts.Basemap]; ok {
			doc.Basemap = &projectBasemap{Name: opts.Basemap, URI: uri}
		}
	}

	referenced := make(map[string]bool)
	for _, layer := range schema.Layers {
		pl := projectLayer{
			ID:         layer.ID,
			Name:       layer.Name,
			Title:      layer.Title,
			Geometry:   string(layer.Geometry),
			PrimaryKey: layer.PrimaryKey,
			ParentKey:  layer.ParentKey,
		}
		if layer.Geometry != fieldform.GeometryNone {
			pl.SRID = layer.SRID
		}
		for i := range layer.Fields {
			f := &layer.Fields[i]
			pl.Fields = append(pl.Fields, projectFieldOf(f, schema.Languages))
			if f.Widget.Kind == fieldform.WidgetValueRelation {
				referenced[f.Widget.Option("List")] = true
			}
		}
		doc.Layers = append(doc.Layers, pl)
	}

	for _, rel := range schema.Relations {
		pr := projectRelation{
			ID:            rel.ID,
			Name:          rel.Name,
			ParentLayer:   rel.ParentLayer,
			ChildLayer:    rel.ChildLayer,
			ParentKey:     rel.ParentKey,
			ChildKey:      rel.ChildKey,
			CascadeDelete: rel.CascadeDelete,
		}
		if rel.RelevantExpression != "" {
			pr.Relevant = &projectExpr{Expression: rel.RelevantExpression}
		}
		doc.Relations = append(doc.Relations, pr)
	}

	// Referenced lists only, each exactly once, entries in sheet order.
	for _, list := range wb.ChoiceListsInOrder() {
		table := ChoiceTableName(list.Name)
		if !referenced[table] {
			continue
		}
		pl := projectList{Name: list.Name, Table: table}
		for _, entry := range list.Entries {
			pl.Entries = append(pl.Entries, projectListEntry{
				Value:  entry.Value,
				Labels: aliasesOf(entry.Labels, schema.Languages),
			})
		}
		doc.ChoiceLists = append(doc.ChoiceLists, pl)
	}
	return doc
}

func projectFieldOf(f *fieldform.Field, languages []string) projectField {
	pf := projectField{
		Name:        f.Name,
		Type:        string(f.ValueType),
		Required:    f.Required,
		ReadOnly:    f.ReadOnly,
		DisplayOnly: f.DisplayOnly,
		Widget:      projectWidget{Kind: string(f.Widget.Kind)},
		Aliases:     aliasesOf(f.Labels, languages),
		Hints:       aliasesOf(f.Hints, languages),
	}
	keys := make([]string, 0, len(f.Widget.Options))
	for k := range f.Widget.Options {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		pf.Widget.Options = append(pf.Widget.Options, projectOption{Key: k, Value: f.Widget.Options[k]})
	}

	if f.ConstraintExpression != "" {
		pf.Constraint = &projectExpr{
			Expression: f.ConstraintExpression,
			Message:    f.ConstraintMessage,
		}
	}
	if f.RelevantExpression != "" {
		pf.Relevant = &projectExpr{Expression: f.RelevantExpression}
	}
	if f.DefaultExpression != "" {
		pf.Default = &projectDefault{
			Expression:    f.DefaultExpression,
			ApplyOnUpdate: f.DefaultOnUpdate,
		}
	}
	return pf
}

// aliasesOf renders a label set in stable order: the bare label first, then
// the declared languages in sheet column order.
func aliasesOf(labels fieldform.LabelSet, languages []string) []projectAlias {
	if len(labels) == 0 {
		return nil
	}
	var out []projectAlias
	if v, ok := labels[""]; ok && v != "" {
		out = append(out, projectAlias{Text: StripTags(v)})
	}
	for _, lang := range languages {
		if v, ok := labels[lang]; ok && v != "" {
			out = append(out, projectAlias{Lang: lang, Text: StripTags(v)})
		}
	}
	return out
}
