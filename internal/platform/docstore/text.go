package docstore

import (
	"regexp"
	"slices"
	"strings"
	"unicode"
)

var markupPattern = regexp.MustCompile(`<[^>]*>`)

// TextTerm is a word or phrase of a $text search.
type TextTerm struct {
	Words  []string
	Phrase bool
	Negate bool
}

// TextQuery is a disjunction of conjunctions of terms.
type TextQuery [][]TextTerm

// ParseTextQuery parses the web-search grammar used by $text: whitespace
// separates terms that must all occur, the word "or" separates
// alternatives, double quotes delimit a phrase and a leading "-" excludes
// a term.
func ParseTextQuery(s string) TextQuery {
	var (
		query TextQuery
		group []TextTerm
	)
	runes := []rune(s)
	for i := 0; i < len(runes); {
		if unicode.IsSpace(runes[i]) {
			i++
			continue
		}

		negate := false
		if runes[i] == '-' && i+1 < len(runes) && !unicode.IsSpace(runes[i+1]) {
			negate = true
			i++
		}

		var raw string
		phrase := false
		if runes[i] == '"' {
			end := i + 1
			for end < len(runes) && runes[end] != '"' {
				end++
			}
			raw = string(runes[i+1 : end])
			phrase = true
			i = end + 1
		} else {
			end := i
			for end < len(runes) && !unicode.IsSpace(runes[end]) {
				end++
			}
			raw = string(runes[i:end])
			i = end
		}

		if !phrase && !negate && strings.EqualFold(raw, "or") {
			if len(group) > 0 {
				query = append(query, group)
				group = nil
			}
			continue
		}

		words := Words(raw)
		if len(words) == 0 {
			continue
		}
		group = append(group, TextTerm{Words: words, Phrase: phrase || len(words) > 1, Negate: negate})
	}
	if len(group) > 0 {
		query = append(query, group)
	}
	return query
}

// Match reports whether the narrative satisfies the query. An empty query
// matches nothing.
func (q TextQuery) Match(narrative string) bool {
	words := Words(markupPattern.ReplaceAllString(narrative, " "))
	for _, group := range q {
		if matchGroup(group, words) {
			return true
		}
	}
	return false
}

func matchGroup(group []TextTerm, words []string) bool {
	for _, term := range group {
		found := containsSequence(words, term.Words)
		if term.Negate {
			if found {
				return false
			}
			continue
		}
		if !found {
			return false
		}
	}
	return true
}

func containsSequence(words, seq []string) bool {
	if len(seq) == 1 {
		return slices.Contains(words, seq[0])
	}
	for i := 0; i+len(seq) <= len(words); i++ {
		if slices.Equal(words[i:i+len(seq)], seq) {
			return true
		}
	}
	return false
}

// Words lower-cases s and splits it on anything that is not a letter or digit.
func Words(s string) []string {
	return strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}
