package inventory

import (
	"fmt"
	"strings"

	"github.com/alecthomas/participle/v2"
	"github.com/alecthomas/participle/v2/lexer"
	"gorm.io/gorm"
)

// Filter is a parsed component filter expression:
//
//	field op value [AND field op value ...]
//
// where op is = (equals), != (differs) or ~ (contains, case-insensitive).
// Values containing spaces must be double-quoted.
type Filter struct {
	Terms []*FilterTerm `parser:"@@ ( And @@ )*"`
}

// FilterTerm is a single comparison.
type FilterTerm struct {
	Field string `parser:"@Word"`
	Op    string `parser:"@Op"`
	Value string `parser:"@(String | Word)"`
}

var filterLexer = lexer.MustSimple([]lexer.SimpleRule{
	{Name: "Whitespace", Pattern: `\s+`},
	{Name: "And", Pattern: `(?i)\bAND\b`},
	{Name: "Op", Pattern: `!=|=|~`},
	{Name: "String", Pattern: `"(?:\\.|[^"\\])*"`},
	{Name: "Word", Pattern: `[^\s=!~"]+`},
})

var filterParser = participle.MustBuild[Filter](
	participle.Lexer(filterLexer),
	participle.Elide("Whitespace"),
	participle.Unquote("String"),
)

// filterColumns whitelists the fields a filter may reference.
var filterColumns = map[string]string{
	"id":           "id",
	"type":         "type",
	"status":       "installation_status",
	"location":     "current_location",
	"position":     "installed_position",
	"manufacturer": "manufacturer",
	"serial":       "serial_number",
}

// ParseFilter parses and validates a filter expression.
func ParseFilter(expr string) (*Filter, error) {
	f, err := filterParser.ParseString("", expr)
	if err != nil {
		return nil, invalid("invalid filter %q: %v", expr, err)
	}
	for _, t := range f.Terms {
		t.Field = strings.ToLower(t.Field)
		if _, ok := filterColumns[t.Field]; !ok {
			return nil, invalid("unknown filter field %q", t.Field)
		}
		if t.Op == "~" {
			continue
		}
		switch t.Field {
		case "type":
			if !ComponentType(t.Value).Valid() {
				return nil, invalid("invalid component type %q in filter", t.Value)
			}
		case "status":
			if !Status(t.Value).Valid() {
				return nil, invalid("invalid installation status %q in filter", t.Value)
			}
		}
	}
	return f, nil
}

var likeEscaper = strings.NewReplacer(`!`, `!!`, `%`, `!%`, `_`, `!_`)

// Apply adds the filter's conditions to q.
func (f *Filter) Apply(q *gorm.DB) *gorm.DB {
	for _, t := range f.Terms {
		col := filterColumns[t.Field]
		switch t.Op {
		case "=":
			q = q.Where(col+" = ?", t.Value)
		case "!=":
			q = q.Where("("+col+" IS NULL OR "+col+" <> ?)", t.Value)
		case "~":
			pattern := "%" + likeEscaper.Replace(strings.ToLower(t.Value)) + "%"
			q = q.Where("LOWER("+col+") LIKE ? ESCAPE '!'", pattern)
		}
	}
	return q
}

func (f *Filter) String() string {
	parts := make([]string, len(f.Terms))
	for i, t := range f.Terms {
		parts[i] = fmt.Sprintf("%s%s%q", t.Field, t.Op, t.Value)
	}
	return strings.Join(parts, " AND ")
}
