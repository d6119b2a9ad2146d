package model

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Fold lowercases s, strips diacritics and collapses separators so that
// "Pizzería" and "pizzeria" or "pizza_restaurant" and "Pizza Restaurant"
// compare equal.
func Fold(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, s)
	if err != nil {
		out = s
	}
	out = strings.Map(func(r rune) rune {
		if r == '_' || r == '-' || r == '/' {
			return ' '
		}
		return unicode.ToLower(r)
	}, out)
	return strings.Join(strings.Fields(out), " ")
}

// SearchTextFor is the folded text a cached prospect is matched against.
func SearchTextFor(category, name string) string {
	return Fold(category + " " + name)
}

// MatchesTerm reports whether the folded search text contains the folded term.
func MatchesTerm(searchText, term string) bool {
	term = Fold(term)
	return term == "" || strings.Contains(searchText, term)
}
