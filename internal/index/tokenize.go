package index

import (
	"regexp"
	"strings"
)

var (
	camelLowerUpper = regexp.MustCompile(`([a-z])([A-Z])`)
	camelAcronym    = regexp.MustCompile(`([A-Z]+)([A-Z][a-z])`)
	separators      = regexp.MustCompile(`[_\-./\\]`)
	nonAlnum        = regexp.MustCompile(`[^a-z0-9\s]`)
)

// stopwords are terms too common in code text to discriminate.
var stopwords = map[string]bool{
	"the": true, "and": true, "for": true, "with": true,
	"this": true, "that": true, "from": true, "are": true,
	"is": true, "of": true, "to": true, "in": true, "as": true,
}

// Tokenize splits text into lexical search terms. CamelCase boundaries
// split before lowercasing so parseJSON yields parse and json, then
// snake_case and path separators split, punctuation drops, and tokens
// shorter than two runes or on the stopword list drop.
func Tokenize(text string) []string {
	text = camelLowerUpper.ReplaceAllString(text, "$1 $2")
	text = camelAcronym.ReplaceAllString(text, "$1 $2")
	text = strings.ToLower(text)
	text = separators.ReplaceAllString(text, " ")
	text = nonAlnum.ReplaceAllString(text, " ")

	fields := strings.Fields(text)
	tokens := make([]string, 0, len(fields))
	for _, t := range fields {
		if len(t) < 2 || stopwords[t] {
			continue
		}
		tokens = append(tokens, t)
	}
	return tokens
}
