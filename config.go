package fieldform

// Basemaps enumerates the XYZ basemap presets that can be recorded in the
// emitted project descriptor.
var Basemaps = map[string]string{
	"OpenStreetMap": "type=xyz&tilePixelRatio=1&url=https://tile.openstreetmap.org/%7Bz%7D/%7Bx%7D/%7By%7D.png&zmax=19&zmin=0&crs=EPSG3857",
	"HOT":           "type=xyz&tilePixelRatio=1&url=https://a.tile.openstreetmap.fr/hot/%7Bz%7D/%7Bx%7D/%7By%7D.png&zmax=19&zmin=0&crs=EPSG3857",
}

// Options configures a conversion run. The zero value is not usable; start
// from DefaultOptions.
type Options struct {
	// Title overrides the form_title settings entry.
	Title string `json:"title,omitempty"`
	// Language selects the preferred label language (overrides
	// default_language from the settings sheet). Empty means the bare
	// label column.
	Language string `json:"language,omitempty"`
	// GroupsAsTabs renders top-level groups as form tabs instead of
	// nested group boxes.
	GroupsAsTabs bool `json:"groupsAsTabs,omitempty"`
	// Basemap names a Basemaps preset to record in the project descriptor.
	Basemap string `json:"basemap,omitempty"`
	// SRID is the spatial reference of emitted geometry layers.
	SRID int `json:"srid,omitempty"`
}

// DefaultOptions returns the default conversion options.
func DefaultOptions() Options {
	return Options{
		SRID: 4326,
	}
}

// Validate checks option consistency.
func (o Options) Validate() error {
	if o.SRID <= 0 {
		return &OptionError{Option: "srid", Message: "must be a positive EPSG code"}
	}
	if o.Basemap != "" {
		if _, ok := Basemaps[o.Basemap]; !ok {
			return &OptionError{Option: "basemap", Message: "unknown basemap preset " + o.Basemap}
		}
	}
	return nil
}

// OptionError represents an option validation error.
type OptionError struct {
	Option  string `json:"option"`
	Message string `json:"message"`
}

func (e *OptionError) Error() string {
	return "invalid option '" + e.Option + "': " + e.Message
}
