// Package factory wires the conversion pipeline together for embedding
// applications and the command line tool.
package factory

import (
	"context"

	"go.uber.org/zap"

	"github.com/opensurvey/fieldform"
	"github.com/opensurvey/fieldform/internal"
)

// NewConverter builds a ready-to-use converter. A nil logger disables
// logging.
func NewConverter(opts fieldform.Options, logger *zap.Logger) fieldform.Converter {
	return internal.NewConverter(opts, logger)
}

// OpenWorkbook opens an .xlsx workbook as a sheet source. The caller owns the
// returned source and must close it.
func OpenWorkbook(path string) (fieldform.SheetSource, error) {
	return internal.OpenXLSX(path)
}

// ConvertFile converts one .xlsx form file into a project under outputDir.
func ConvertFile(ctx context.Context, inputPath, outputDir string, opts fieldform.Options, logger *zap.Logger) (*fieldform.Result, error) {
	src, err := internal.OpenXLSX(inputPath)
	if err != nil {
		return nil, err
	}
	defer src.Close()
	return NewConverter(opts, logger).Convert(ctx, src, outputDir)
}
