package internal

import (
	"errors"
	"html"
	"regexp"
	"strings"

	"github.com/opensurvey/fieldform"
)

var (
	tagRe      = regexp.MustCompile(`<[^>]*>`)
	nonSlugRe  = regexp.MustCompile(`[^\w\s-]`)
	slugSepRe  = regexp.MustCompile(`[-\s]+`)
	nonASCIIRe = regexp.MustCompile(`[^\x00-\x7F]`)
)

// StripTags removes HTML markup from a label and unescapes entities. Form
// authors routinely paste rich text into label cells.
func StripTags(s string) string {
	return strings.TrimSpace(html.UnescapeString(tagRe.ReplaceAllString(s, "")))
}

// Slugify reduces a form title to a safe output file stem.
func Slugify(title string) string {
	s := nonASCIIRe.ReplaceAllString(title, "")
	s = nonSlugRe.ReplaceAllString(s, "")
	s = slugSepRe.ReplaceAllString(strings.TrimSpace(s), "-")
	if s == "" {
		return RootLayerName
	}
	return s
}

// ChoiceTableName is the container table name of a choice list.
func ChoiceTableName(listName string) string {
	return "list_" + listName
}

func asConversionError(err error, target **fieldform.ConversionError) bool {
	return errors.As(err, target)
}
