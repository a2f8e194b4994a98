package internal

import (
	"os"
	"path/filepath"

	"github.com/opensurvey/fieldform"
)

// Output file extensions. The container is a GeoPackage; the descriptor is
// the XML project definition next to it.
const (
	ContainerExt = ".gpkg"
	ProjectExt   = ".qfp"
)

// EmitResult reports the committed output paths.
type EmitResult struct {
	ContainerPath string
	ProjectPath   string
}

// Emit writes the data container and the project descriptor into outputDir
// under the given file stem. Both files are staged under temporary names and
// renamed only when complete, so a failed run leaves no partial output. The
// lone exception is a descriptor commit failing after the container commit,
// which surfaces as a partial-write error naming the surviving container.
func Emit(schema *fieldform.Schema, wb *Workbook, opts fieldform.Options, title, formID, outputDir string) (*EmitResult, error) {
	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return nil, fieldform.NewError(fieldform.KindIO, "cannot create output directory %s", outputDir).WithCause(err)
	}

	stem := Slugify(title)
	containerPath := filepath.Join(outputDir, stem+ContainerExt)
	projectPath := filepath.Join(outputDir, stem+ProjectExt)
	containerTmp := containerPath + ".tmp"
	projectTmp := projectPath + ".tmp"

	cleanup := func(paths ...string) {
		for _, p := range paths {
			os.Remove(p)
		}
	}

	if err := EmitGeoPackage(schema, wb, containerTmp); err != nil {
		cleanup(containerTmp)
		return nil, err
	}
	if err := EmitProject(schema, wb, opts, title, formID, stem+ContainerExt, projectTmp); err != nil {
		cleanup(containerTmp, projectTmp)
		return nil, err
	}

	if err := os.Rename(containerTmp, containerPath); err != nil {
		cleanup(containerTmp, projectTmp)
		return nil, fieldform.NewError(fieldform.KindIO, "cannot commit data container").WithCause(err)
	}
	if err := os.Rename(projectTmp, projectPath); err != nil {
		cleanup(projectTmp)
		return nil, fieldform.NewError(fieldform.KindPartialWrite,
			"data container %s committed but project descriptor failed", containerPath).WithCause(err)
	}

	return &EmitResult{ContainerPath: containerPath, ProjectPath: projectPath}, nil
}
