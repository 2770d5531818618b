package indexer

import (
	"regexp"
	"strings"
	"unicode"
)

var punctuationFolder = strings.NewReplacer(
	"\r\n", "\n",
	"\r", "\n",
	"\f", "\n",
	"\u2018", "'", "\u2019", "'", "\u201a", "'",
	"\u201c", `"`, "\u201d", `"`, "\u201e", `"`,
	"\u2013", "-", "\u2014", "-", "\u2212", "-",
	"\u2026", "...",
	"\u00a0", " ", "\u2009", " ", "\u202f", " ",
	"\ufb00", "ff", "\ufb01", "fi", "\ufb02", "fl", "\ufb03", "ffi", "\ufb04", "ffl",
	"\u00ad", "", "\u200b", "", "\u200c", "", "\u200d", "", "\ufeff", "",
)

var (
	// A word split across a line break by a hyphen: "exam-\nple".
	lineBreakHyphen = regexp.MustCompile(`(\p{L})-[ \t]*\n[ \t]*(\p{Ll})`)
	// Lines holding nothing but a page number.
	pageNumberLine = regexp.MustCompile(`(?m)^[ \t]*(?:[Pp]age[ \t]+)?\d{1,4}(?:[ \t]+of[ \t]+\d{1,4})?[ \t]*$`)
)

// Normalize cleans raw extracted text for chunking: folds typographic punctuation and
// ligatures, strips control and invisible characters, repairs line-break hyphenation,
// drops page-number lines, and collapses all whitespace to single spaces.
// Empty input yields empty output.
func Normalize(text string) string {
	if text == "" {
		return ""
	}
	text = punctuationFolder.Replace(text)
	text = strings.Map(func(r rune) rune {
		switch {
		case r == '\n' || r == '\t':
			return r
		case unicode.IsControl(r):
			return ' '
		case unicode.Is(unicode.Cf, r):
			return -1
		case r == unicode.ReplacementChar:
			return ' '
		}
		return r
	}, text)
	text = lineBreakHyphen.ReplaceAllString(text, "$1$2")
	text = pageNumberLine.ReplaceAllString(text, "")
	return strings.Join(strings.Fields(text), " ")
}
