package fieldform

import (
	"context"
)

// Converter turns an XLSForm workbook into a geospatial data-collection
// project: a GeoPackage data container plus a project descriptor.
type Converter interface {
	// Convert runs the full pipeline against source and writes both output
	// artifacts under outputDir. On any fatal error no output is left
	// behind. Non-fatal diagnostics are returned in Result.Warnings.
	Convert(ctx context.Context, source SheetSource, outputDir string) (*Result, error)
}
