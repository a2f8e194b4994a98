package internal

import (
	"context"

	"go.uber.org/zap"

	"github.com/opensurvey/fieldform"
)

type converter struct {
	opts fieldform.Options
	log  *zap.SugaredLogger
}

// NewConverter builds a Converter with the given options. A nil logger
// disables logging.
func NewConverter(opts fieldform.Options, logger *zap.Logger) fieldform.Converter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &converter{opts: opts, log: logger.Sugar()}
}

func (c *converter) Convert(ctx context.Context, source fieldform.SheetSource, outputDir string) (*fieldform.Result, error) {
	if err := c.opts.Validate(); err != nil {
		return nil, err
	}

	wb, err := LoadWorkbook(source)
	if err != nil {
		return nil, err
	}
	c.log.Infow("workbook loaded",
		"questions", len(wb.Survey),
		"choiceLists", len(wb.ChoiceOrder),
		"languages", wb.Languages)
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	tree, err := BuildFormTree(wb.Survey)
	if err != nil {
		return nil, err
	}

	schema, warnings, err := ResolveSchema(tree, wb, c.opts, NewTranslator())
	if err != nil {
		return nil, err
	}
	c.log.Infow("schema resolved",
		"layers", len(schema.Layers),
		"relations", len(schema.Relations),
		"warnings", len(warnings))
	for _, w := range warnings {
		c.log.Warnw(w.Message, "sheet", w.Sheet, "row", w.Row, "field", w.Field)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	title := c.title(wb)
	emitted, err := Emit(schema, wb, c.opts, title, wb.Settings.FormID, outputDir)
	if err != nil {
		return nil, err
	}
	c.log.Infow("project emitted",
		"container", emitted.ContainerPath,
		"project", emitted.ProjectPath)

	return &fieldform.Result{
		ContainerPath: emitted.ContainerPath,
		ProjectPath:   emitted.ProjectPath,
		Title:         title,
		FormID:        wb.Settings.FormID,
		Warnings:      warnings,
	}, nil
}

func (c *converter) title(wb *Workbook) string {
	if c.opts.Title != "" {
		return c.opts.Title
	}
	if wb.Settings.FormTitle != "" {
		return wb.Settings.FormTitle
	}
	return RootLayerName
}
