package schema

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"unicode"
)

// Naming controls how generated identifiers are derived from model names.
type Naming struct {
	TableStyle        string // snake_case, camel_case, pascal_case
	ColumnStyle       string
	IndexPattern      string // e.g. "ix_{table}_{columns}"
	ConstraintPattern string // e.g. "fk_{table}_{column}"
	PluralizeTables   bool
}

// DefaultNaming mirrors the conventional patterns used by generated schemas.
func DefaultNaming() Naming {
	return Naming{
		TableStyle:        "snake_case",
		ColumnStyle:       "snake_case",
		IndexPattern:      "ix_{table}_{columns}",
		ConstraintPattern: "fk_{table}_{column}",
		PluralizeTables:   true,
	}
}

// TableName derives a table name from a model name.
func (n Naming) TableName(model string) string {
	name := ApplyStyle(model, n.TableStyle)
	if n.PluralizeTables {
		name = Pluralize(name)
	}
	return name
}

// ColumnName derives a column name from a field name.
func (n Naming) ColumnName(field string) string {
	return ApplyStyle(field, n.ColumnStyle)
}

// IndexName expands the index pattern for a table and column list.
func (n Naming) IndexName(table string, columns []string) string {
	out := strings.ReplaceAll(n.IndexPattern, "{table}", table)
	out = strings.ReplaceAll(out, "{columns}", strings.Join(columns, "_"))
	return TruncateIdentifier(out, 63)
}

// ConstraintName expands the constraint pattern for a table and column list.
// The pattern carries the foreign key prefix; other kinds ("pk", "uq", "ck")
// substitute their own.
func (n Naming) ConstraintName(kind, table string, columns ...string) string {
	out := strings.ReplaceAll(n.ConstraintPattern, "{table}", table)
	out = strings.ReplaceAll(out, "{column}", strings.Join(columns, "_"))
	out = strings.ReplaceAll(out, "{columns}", strings.Join(columns, "_"))
	if kind != "fk" && strings.HasPrefix(out, "fk_") {
		out = kind + "_" + strings.TrimPrefix(out, "fk_")
	}
	out = strings.TrimRight(out, "_")
	return TruncateIdentifier(out, 63)
}

// ApplyStyle converts name into the given identifier style.
func ApplyStyle(name, style string) string {
	switch style {
	case "camel_case":
		words := splitWords(name)
		for i := 1; i < len(words); i++ {
			words[i] = capitalize(words[i])
		}
		return strings.Join(words, "")
	case "pascal_case":
		words := splitWords(name)
		for i := range words {
			words[i] = capitalize(words[i])
		}
		return strings.Join(words, "")
	case "snake_case":
		return strings.Join(splitWords(name), "_")
	default:
		return name
	}
}

// Pluralize applies basic English pluralization rules; the irregular cases
// relevant to common model names are handled explicitly.
func Pluralize(name string) string {
	irregular := map[string]string{
		"person": "people",
		"child":  "children",
		"datum":  "data",
		"status": "statuses",
	}
	if p, ok := irregular[name]; ok {
		return p
	}
	switch {
	case strings.HasSuffix(name, "s"), strings.HasSuffix(name, "x"),
		strings.HasSuffix(name, "z"), strings.HasSuffix(name, "ch"),
		strings.HasSuffix(name, "sh"):
		return name + "es"
	case strings.HasSuffix(name, "y") && !hasVowelBefore(name, len(name)-1):
		return name[:len(name)-1] + "ies"
	default:
		return name + "s"
	}
}

// SanitizeIdentifier replaces characters not allowed in SQL identifiers.
func SanitizeIdentifier(name string) string {
	var b strings.Builder
	for _, r := range name {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_' {
			b.WriteRune(r)
		} else {
			b.WriteByte('_')
		}
	}
	out := b.String()
	if out != "" && unicode.IsDigit(rune(out[0])) {
		out = "_" + out
	}
	return out
}

// TruncateIdentifier shortens an identifier to max bytes, keeping it unique
// via a hash suffix.
func TruncateIdentifier(name string, max int) string {
	if len(name) <= max {
		return name
	}
	sum := sha256.Sum256([]byte(name))
	suffix := hex.EncodeToString(sum[:4])
	return name[:max-len(suffix)-1] + "_" + suffix
}

// splitWords breaks identifiers on separators and case boundaries. Runs of
// capitals stay together: "UserID" gives ["user", "id"].
func splitWords(name string) []string {
	runes := []rune(name)
	var words []string
	var current []rune
	flush := func() {
		if len(current) > 0 {
			words = append(words, strings.ToLower(string(current)))
			current = nil
		}
	}
	for i, r := range runes {
		switch {
		case r == '_' || r == '-' || r == ' ':
			flush()
		case unicode.IsUpper(r):
			prevLower := i > 0 && (unicode.IsLower(runes[i-1]) || unicode.IsDigit(runes[i-1]))
			nextLower := i+1 < len(runes) && unicode.IsLower(runes[i+1])
			if prevLower || (nextLower && len(current) > 0) {
				flush()
			}
			current = append(current, r)
		default:
			current = append(current, r)
		}
	}
	flush()
	return words
}

func capitalize(word string) string {
	if word == "" {
		return word
	}
	return strings.ToUpper(word[:1]) + word[1:]
}

func hasVowelBefore(name string, i int) bool {
	if i == 0 {
		return false
	}
	return strings.ContainsRune("aeiou", rune(name[i-1]))
}
