package inspect

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// SharePoint internal field names reject a set of punctuation characters and
// cap out at 32 characters.
const maxFieldNameLen = 32

// deburr strips combining marks, folding accented letters to their ASCII
// base form.
var deburr = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

var titleCaser = cases.Title(language.Und, cases.NoLower)

// FieldName derives a SharePoint-safe internal field name from a source
// column name: accents folded, words split on any non-alphanumeric rune,
// joined in PascalCase and truncated to the 32-character limit. A name with
// no usable runes becomes "Field".
func FieldName(column string) string {
	folded, _, err := transform.String(deburr, column)
	if err != nil {
		folded = column
	}

	words := strings.FieldsFunc(folded, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})

	var b strings.Builder
	for _, w := range words {
		// Preserve existing interior capitals (CustomerID stays CustomerID),
		// only lift the first letter.
		if w == strings.ToLower(w) {
			b.WriteString(titleCaser.String(w))
		} else {
			r := []rune(w)
			b.WriteRune(unicode.ToUpper(r[0]))
			b.WriteString(string(r[1:]))
		}
	}

	name := b.String()
	if name == "" {
		return "Field"
	}
	if len(name) > maxFieldNameLen {
		// Letters outside ASCII survive deburring; never cut one in half.
		cut := maxFieldNameLen
		for cut > 0 && !utf8.RuneStart(name[cut]) {
			cut--
		}
		name = name[:cut]
	}
	return name
}
