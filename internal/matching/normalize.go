package matching

import (
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Normalized is the comparable form of a piece of song metadata.
type Normalized struct {
	Text       string   // folded text without qualifiers
	Qualifiers []string // normalized qualifier phrases, in order of appearance
}

var (
	bracketed  = regexp.MustCompile(`[\(\[\{]([^\)\]\}]*)[\)\]\}]`)
	featClause = regexp.MustCompile(`(?:^|\s)(?:feat\.|ft\.|featuring)\s+(.+)$`) // bare "feat" is a word

	dashSplit  = regexp.MustCompile(`\s+[-‐‑‒–—]\s+`)
)

// qualifierKeywords mark a dash suffix as a release qualifier rather than part of the title.
var qualifierKeywords = []string{
	"remaster", "version", "edit", "mix", "remix", "live", "mono", "stereo", "single",
	"deluxe", "acoustic", "demo", "instrumental", "radio", "bonus", "explicit", "clean",
}

// Normalize folds case, strips diacritics and pulls qualifiers out of text.
func Normalize(text string) Normalized {
	folded := fold(text)
	if strings.TrimSpace(folded) == "" {
		return Normalized{}
	}

	var qualifiers []string
	addQualifier := func(q string) {
		if q = clean(q); q != "" {
			qualifiers = append(qualifiers, q)
		}
	}

	folded = bracketed.ReplaceAllStringFunc(folded, func(m string) string {
		addQualifier(bracketed.FindStringSubmatch(m)[1])
		return " "
	})

	parts := dashSplit.Split(folded, -1)
	kept := parts[:1]
	for _, part := range parts[1:] {
		if isQualifier(part) {
			addQualifier(part)
			continue
		}
		kept = append(kept, part)
	}
	folded = strings.Join(kept, " ")

	if loc := featClause.FindStringSubmatchIndex(folded); loc != nil && loc[0] > 0 {
		addQualifier("feat " + folded[loc[2]:loc[3]])
		folded = folded[:loc[0]]
	}

	return Normalized{Text: clean(folded), Qualifiers: qualifiers}
}

// NormalizeText is [Normalize] without the qualifier side-channel.
func NormalizeText(text string) string {
	return Normalize(text).Text
}

// fold lower-cases text and removes combining marks. A fresh transformer is
// built per call since transformers carry state.
func fold(text string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	stripped, _, err := transform.String(t, text)
	if err != nil {
		stripped = text
	}
	return cases.Fold().String(stripped)
}

// clean drops punctuation and collapses whitespace. Apostrophes join words, "&" reads as "and".
func clean(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		switch {
		case r == '\'' || r == '’' || r == '`':
		case r == '&':
			b.WriteString(" and ")
		case unicode.IsLetter(r) || unicode.IsNumber(r):
			b.WriteRune(r)
		default:
			b.WriteRune(' ')
		}
	}
	return strings.Join(strings.Fields(b.String()), " ")
}

// isQualifier reports whether any word of part starts with a qualifier keyword.
func isQualifier(part string) bool {
	for _, word := range strings.FieldsFunc(part, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	}) {
		for _, kw := range qualifierKeywords {
			if strings.HasPrefix(word, kw) {
				return true
			}
		}
	}
	return false
}
