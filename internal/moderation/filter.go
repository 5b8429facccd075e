// Package moderation screens chat text before the room server relays it.
// A Filter blocks configured words and phrases and, optionally, common spam
// patterns.
package moderation

import (
	"strings"
	"unicode"
)

// Reasons reported in FilterResult.
const (
	ReasonKeyword = "blocked_keyword"
	ReasonSpam    = "spam_pattern"
)

// FilterResult is the outcome of Filter.Check. Term names the matched word,
// phrase or spam check.
type FilterResult struct {
	Blocked bool
	Reason  string
	Term    string
}

// Filter is safe for concurrent use once built.
type Filter struct {
	words   map[string]struct{}
	phrases []string
	spam    bool
}

// NewFilter builds a filter from terms. Single words match whole tokens,
// terms with spaces match as substrings of the normalized text. When spam is
// true, URLs, phone numbers and flooding are blocked too.
func NewFilter(terms []string, spam bool) *Filter {
	f := &Filter{words: make(map[string]struct{}), spam: spam}
	for _, term := range terms {
		term = strings.ToLower(strings.TrimSpace(term))
		switch {
		case term == "":
		case strings.ContainsFunc(term, unicode.IsSpace):
			f.phrases = append(f.phrases, strings.Join(strings.Fields(term), " "))
		default:
			f.words[term] = struct{}{}
		}
	}
	return f
}

// Enabled reports whether the filter can block anything.
func (f *Filter) Enabled() bool {
	return f != nil && (f.spam || len(f.words) > 0 || len(f.phrases) > 0)
}

// Check screens text. Keywords are checked before spam patterns.
func (f *Filter) Check(text string) FilterResult {
	if !f.Enabled() {
		return FilterResult{}
	}

	tokens := tokenize(text)
	for _, tok := range tokens {
		if _, ok := f.words[tok]; ok {
			return FilterResult{Blocked: true, Reason: ReasonKeyword, Term: tok}
		}
	}
	if len(f.phrases) > 0 {
		joined := " " + strings.Join(tokens, " ") + " "
		for _, phrase := range f.phrases {
			if strings.Contains(joined, " "+phrase+" ") {
				return FilterResult{Blocked: true, Reason: ReasonKeyword, Term: phrase}
			}
		}
	}

	if f.spam {
		if name, ok := spamMatch(text); ok {
			return FilterResult{Blocked: true, Reason: ReasonSpam, Term: name}
		}
	}
	return FilterResult{}
}

// tokenize lowercases text and splits it on anything that is not a letter
// or digit.
func tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}
