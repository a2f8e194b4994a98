package internal

import (
	"database/sql"
	"fmt"
	"strings"

	_ "github.com/mattn/go-sqlite3"

	"github.com/opensurvey/fieldform"
)

// GeoPackage well-known constants.
const (
	gpkgApplicationID = 0x47504B47 // "GPKG"
	gpkgUserVersion   = 10300      // GeoPackage 1.3
	// Fixed last_change so identical input produces identical output.
	gpkgEpoch = "2000-01-01T00:00:00.000Z"
)

// EmitGeoPackage writes all layers and choice lists of schema into one
// GeoPackage file at path. The file is created from scratch; callers stage
// the path and rename on commit.
func EmitGeoPackage(schema *fieldform.Schema, wb *Workbook, path string) error {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return fieldform.NewError(fieldform.KindIO, "cannot create data container").WithCause(err)
	}
	defer db.Close()

	if err := writeGeoPackage(db, schema, wb); err != nil {
		return err
	}
	if err := db.Close(); err != nil {
		return fieldform.NewError(fieldform.KindIO, "cannot finalize data container").WithCause(err)
	}
	return nil
}

func writeGeoPackage(db *sql.DB, schema *fieldform.Schema, wb *Workbook) error {
	stmts := []string{
		fmt.Sprintf("PRAGMA application_id = %d", gpkgApplicationID),
		fmt.Sprintf("PRAGMA user_version = %d", gpkgUserVersion),
		`CREATE TABLE gpkg_spatial_ref_sys (
			srs_name TEXT NOT NULL,
			srs_id INTEGER PRIMARY KEY,
			organization TEXT NOT NULL,
			organization_coordsys_id INTEGER NOT NULL,
			definition TEXT NOT NULL,
			description TEXT
		)`,
		`CREATE TABLE gpkg_contents (
			table_name TEXT PRIMARY KEY,
			data_type TEXT NOT NULL,
			identifier TEXT UNIQUE,
			description TEXT DEFAULT '',
			last_change DATETIME NOT NULL,
			min_x DOUBLE, min_y DOUBLE, max_x DOUBLE, max_y DOUBLE,
			srs_id INTEGER,
			CONSTRAINT fk_gc_r_srs_id FOREIGN KEY (srs_id) REFERENCES gpkg_spatial_ref_sys(srs_id)
		)`,
		`CREATE TABLE gpkg_geometry_columns (
			table_name TEXT NOT NULL,
			column_name TEXT NOT NULL,
			geometry_type_name TEXT NOT NULL,
			srs_id INTEGER NOT NULL,
			z TINYINT NOT NULL,
			m TINYINT NOT NULL,
			CONSTRAINT pk_geom_cols PRIMARY KEY (table_name, column_name)
		)`,
	}
	for _, s := range stmts {
		if _, err := db.Exec(s); err != nil {
			return containerErr(err)
		}
	}

	srs := [][]any{
		{"Undefined Cartesian SRS", -1, "NONE", -1, "undefined", "undefined cartesian coordinate reference system"},
		{"Undefined Geographic SRS", 0, "NONE", 0, "undefined", "undefined geographic coordinate reference system"},
		{"WGS 84", 4326, "EPSG", 4326,
			`GEOGCS["WGS 84",DATUM["WGS_1984",SPHEROID["WGS 84",6378137,298.257223563]],PRIMEM["Greenwich",0],UNIT["degree",0.0174532925199433]]`,
			"World Geodetic System 1984"},
	}
	for _, row := range srs {
		if _, err := db.Exec(
			`INSERT INTO gpkg_spatial_ref_sys (srs_name, srs_id, organization, organization_coordsys_id, definition, description) VALUES (?, ?, ?, ?, ?, ?)`,
			row...); err != nil {
			return containerErr(err)
		}
	}

	for _, layer := range schema.Layers {
		if err := writeLayerTable(db, layer); err != nil {
			return err
		}
	}
	for _, list := range wb.ChoiceListsInOrder() {
		if err := writeChoiceTable(db, wb, list); err != nil {
			return err
		}
	}
	return nil
}

func writeLayerTable(db *sql.DB, layer *fieldform.Layer) error {
	cols := []string{`"fid" INTEGER PRIMARY KEY AUTOINCREMENT`}
	if layer.Geometry != fieldform.GeometryNone {
		cols = append(cols, fmt.Sprintf("%s %s", quoteIdent("geom"), geometryTypeName(layer.Geometry)))
	}
	// Display-only fields keep their column too; the descriptor references
	// every field by name and the schemas must agree.
	for _, f := range layer.Fields {
		cols = append(cols, fmt.Sprintf("%s %s", quoteIdent(f.Name), sqliteType(f.ValueType)))
	}
	create := fmt.Sprintf("CREATE TABLE %s (%s)", quoteIdent(layer.Name), strings.Join(cols, ", "))
	if _, err := db.Exec(create); err != nil {
		return containerErr(err)
	}

	dataType := "attributes"
	var srs any
	if layer.Geometry != fieldform.GeometryNone {
		dataType = "features"
		srs = layer.SRID
		if _, err := db.Exec(
			`INSERT INTO gpkg_geometry_columns (table_name, column_name, geometry_type_name, srs_id, z, m) VALUES (?, 'geom', ?, ?, 0, 0)`,
			layer.Name, geometryTypeName(layer.Geometry), layer.SRID); err != nil {
			return containerErr(err)
		}
	}
	identifier := layer.Title
	if identifier == "" {
		identifier = layer.Name
	}
	if _, err := db.Exec(
		`INSERT INTO gpkg_contents (table_name, data_type, identifier, last_change, srs_id) VALUES (?, ?, ?, ?, ?)`,
		layer.Name, dataType, identifier, gpkgEpoch, srs); err != nil {
		return containerErr(err)
	}
	return nil
}

// writeChoiceTable materializes one choice list as an attribute table,
// keeping the source sheet's column layout. The leading pseudo-NULL row
// gives single-selects an explicit "no choice" entry.
func writeChoiceTable(db *sql.DB, wb *Workbook, list *fieldform.ChoiceList) error {
	table := ChoiceTableName(list.Name)
	columns := wb.ChoiceColumns
	if len(columns) == 0 {
		columns = []string{"list_name", "name", "label"}
	}

	defs := []string{`"fid" INTEGER PRIMARY KEY AUTOINCREMENT`}
	for _, c := range columns {
		defs = append(defs, quoteIdent(c)+" TEXT")
	}
	if _, err := db.Exec(fmt.Sprintf("CREATE TABLE %s (%s)", quoteIdent(table), strings.Join(defs, ", "))); err != nil {
		return containerErr(err)
	}
	if _, err := db.Exec(
		`INSERT INTO gpkg_contents (table_name, data_type, identifier, last_change) VALUES (?, 'attributes', ?, ?)`,
		table, table, gpkgEpoch); err != nil {
		return containerErr(err)
	}

	quoted := make([]string, len(columns))
	marks := make([]string, len(columns))
	for i, c := range columns {
		quoted[i] = quoteIdent(c)
		marks[i] = "?"
	}
	insert := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		quoteIdent(table), strings.Join(quoted, ", "), strings.Join(marks, ", "))

	// Pseudo-NULL entry first, then the declared entries in sheet order.
	rows := [][]any{choiceRow(columns, list.Name, fieldform.ChoiceEntry{})}
	for _, entry := range list.Entries {
		rows = append(rows, choiceRow(columns, list.Name, entry))
	}
	for _, args := range rows {
		if _, err := db.Exec(insert, args...); err != nil {
			return containerErr(err)
		}
	}
	return nil
}

func choiceRow(columns []string, listName string, entry fieldform.ChoiceEntry) []any {
	args := make([]any, len(columns))
	for i, c := range columns {
		switch {
		case c == colListName || c == "list name":
			args[i] = listName
		case c == colName:
			args[i] = entry.Value
		case c == colLabel:
			args[i] = StripTags(entry.Labels[""])
		case strings.HasPrefix(c, colLabel+"::"):
			args[i] = StripTags(entry.Labels[strings.TrimPrefix(c, colLabel+"::")])
		default:
			args[i] = entry.Extra[c]
		}
	}
	return args
}

func geometryTypeName(kind fieldform.GeometryKind) string {
	switch kind {
	case fieldform.GeometryPoint:
		return "MULTIPOINT"
	case fieldform.GeometryLine:
		return "MULTILINESTRING"
	case fieldform.GeometryPolygon:
		return "MULTIPOLYGON"
	}
	return "GEOMETRY"
}

func sqliteType(vt fieldform.ValueType) string {
	switch vt {
	case fieldform.ValueInteger:
		return "INTEGER"
	case fieldform.ValueReal:
		return "REAL"
	case fieldform.ValueDate:
		return "DATE"
	case fieldform.ValueDateTime:
		return "DATETIME"
	case fieldform.ValueBool:
		return "BOOLEAN"
	default:
		return "TEXT"
	}
}

func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

func containerErr(err error) error {
	return fieldform.NewError(fieldform.KindIO, "data container write failed").WithCause(err)
}
