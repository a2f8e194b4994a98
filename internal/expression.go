package internal

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/opensurvey/fieldform"
)

// Translated is the result of rewriting one XLSForm expression into the
// target query dialect. BestEffort marks expressions containing constructs
// outside the supported subset which were preserved verbatim.
type Translated struct {
	Text       string
	BestEffort bool
	Warnings   []string
}

// RefMode selects how `${name}` references are rendered.
type RefMode int

const (
	// RefField renders references as quoted field names.
	RefField RefMode = iota
	// RefCurrentValue renders references as current_value('name') calls,
	// used in choice filter expressions evaluated against the form state.
	RefCurrentValue
)

// TranslateOptions tunes a single translation.
type TranslateOptions struct {
	Mode RefMode
	// SelfField expands the XLSForm `.` shorthand inside constraints to
	// the owning question's own reference.
	SelfField string
}

// Scope resolves question names to group-qualified field names. Lookups walk
// the ancestor chain, so an inner question can reference siblings and
// ancestor-scope questions but never a descendant scope.
type Scope struct {
	parent *Scope
	names  map[string]string
}

// NewScope creates a child scope of parent (nil for the root scope).
func NewScope(parent *Scope) *Scope {
	return &Scope{parent: parent, names: make(map[string]string)}
}

// Define binds a question name to its qualified field name.
func (s *Scope) Define(name, qualified string) {
	s.names[name] = qualified
}

// Lookup resolves name against this scope and its ancestors.
func (s *Scope) Lookup(name string) (string, bool) {
	for cur := s; cur != nil; cur = cur.parent {
		if q, ok := cur.names[name]; ok {
			return q, true
		}
	}
	return "", false
}

var (
	varRe      = regexp.MustCompile(`\$\{([^}]+)\}`)
	selectedRe = regexp.MustCompile(`selected\s*\(\s*(\$\{[^}]+\})\s*,([^)]+)\)`)
	regexFnRe  = regexp.MustCompile(`\bregex\s*\(`)
	strlenRe   = regexp.MustCompile(`\bstring-length\s*\(`)
	todayRe    = regexp.MustCompile(`\btoday\(\)`)
	dotRe      = regexp.MustCompile(`(^|[\s<>=(),])\.($|[\s<>=(),])`)
	funcNameRe = regexp.MustCompile(`([a-zA-Z_][\w:-]*)\s*\(`)
)

// supportedFunctions are the built-ins with a known target-dialect
// equivalent. Anything else is preserved as an opaque best-effort
// passthrough instead of failing the conversion.
var supportedFunctions = map[string]bool{
	"selected": true, "regex": true, "regexp_match": true,
	"string-length": true, "length": true,
	"today": true, "now": true, "format_date": true,
	"if": true, "not": true, "concat": true, "contains": true,
	"round": true, "abs": true, "number": true, "coalesce": true,
	"count": true, "sum": true, "min": true, "max": true,
	"current_value": true,
}

// Translator rewrites XLSForm expressions into the target dialect. It is
// stateless: identical input and scope always produce identical output.
type Translator struct{}

// NewTranslator constructs a Translator.
func NewTranslator() *Translator {
	return &Translator{}
}

// Translate rewrites expr with field-style references.
func (t *Translator) Translate(expr string, scope *Scope) (Translated, error) {
	return t.TranslateWith(expr, scope, TranslateOptions{Mode: RefField})
}

// TranslateCurrentValue rewrites expr with current_value references.
func (t *Translator) TranslateCurrentValue(expr string, scope *Scope) (Translated, error) {
	return t.TranslateWith(expr, scope, TranslateOptions{Mode: RefCurrentValue})
}

// TranslateInsert rewrites ${name} references inside display text into live
// evaluation placeholders, so labels render the current form state. The input
// is prose, not an expression: no syntax checking applies.
func (t *Translator) TranslateInsert(text string) string {
	return varRe.ReplaceAllStringFunc(text, func(m string) string {
		name := strings.TrimSpace(varRe.FindStringSubmatch(m)[1])
		return "[% current_value('" + name + "') %]"
	})
}

// TranslateWith rewrites expr according to opts. Only unbalanced syntax is
// fatal; unknown identifiers and functions degrade to warnings.
func (t *Translator) TranslateWith(expr string, scope *Scope, opts TranslateOptions) (Translated, error) {
	out := Translated{}
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return out, nil
	}

	// Some authoring tools substitute typographic quotes.
	expr = strings.NewReplacer("‘", "'", "’", "'").Replace(expr)

	if err := checkBalanced(expr); err != nil {
		return out, err
	}

	if opts.SelfField != "" {
		self := "${" + opts.SelfField + "}"
		expr = dotRe.ReplaceAllStringFunc(expr, func(m string) string {
			sub := dotRe.FindStringSubmatch(m)
			return sub[1] + self + sub[2]
		})
	}

	// selected(${q}, v) is equality against the stored value.
	for selectedRe.MatchString(expr) {
		expr = selectedRe.ReplaceAllStringFunc(expr, func(m string) string {
			sub := selectedRe.FindStringSubmatch(m)
			return sub[1] + " = " + strings.TrimSpace(sub[2])
		})
	}

	expr = regexFnRe.ReplaceAllString(expr, "regexp_match(")
	expr = strlenRe.ReplaceAllString(expr, "length(")
	expr = todayRe.ReplaceAllString(expr, "format_date(now(),'yyyy-MM-dd')")

	for _, m := range funcNameRe.FindAllStringSubmatch(expr, -1) {
		// Boolean keywords followed by a parenthesized group are not calls.
		if m[1] == "and" || m[1] == "or" {
			continue
		}
		if !supportedFunctions[m[1]] {
			out.BestEffort = true
			out.Warnings = append(out.Warnings,
				fmt.Sprintf("unsupported function %s() preserved as-is", m[1]))
		}
	}

	expr = varRe.ReplaceAllStringFunc(expr, func(m string) string {
		name := strings.TrimSpace(varRe.FindStringSubmatch(m)[1])
		if opts.Mode == RefCurrentValue {
			return "current_value('" + name + "')"
		}
		if qualified, ok := scope.lookupOrSelf(name); ok {
			return `"` + qualified + `"`
		}
		out.Warnings = append(out.Warnings,
			fmt.Sprintf("reference ${%s} does not resolve to a question in scope, forwarded unresolved", name))
		return `"` + name + `"`
	})

	out.Text = expr
	return out, nil
}

// lookupOrSelf tolerates a nil scope so pure-syntax translations work.
func (s *Scope) lookupOrSelf(name string) (string, bool) {
	if s == nil {
		return "", false
	}
	return s.Lookup(name)
}

// checkBalanced verifies parentheses and braces pair up, ignoring characters
// inside single-quoted string literals.
func checkBalanced(expr string) error {
	var parens, braces int
	inString := false
	for i := 0; i < len(expr); i++ {
		ch := expr[i]
		if ch == '\'' {
			inString = !inString
			continue
		}
		if inString {
			continue
		}
		switch ch {
		case '(':
			parens++
		case ')':
			parens--
			if parens < 0 {
				return fieldform.NewError(fieldform.KindExpression,
					"unbalanced ')' at offset %d in %q", i, expr)
			}
		case '{':
			braces++
		case '}':
			braces--
			if braces < 0 {
				return fieldform.NewError(fieldform.KindExpression,
					"unbalanced '}' at offset %d in %q", i, expr)
			}
		}
	}
	if inString {
		return fieldform.NewError(fieldform.KindExpression, "unterminated string literal in %q", expr)
	}
	if parens != 0 || braces != 0 {
		return fieldform.NewError(fieldform.KindExpression, "unbalanced delimiters in %q", expr)
	}
	return nil
}
