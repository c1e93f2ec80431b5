package bm25

import (
	"strings"
	"unicode"
)

// TokenizerVersion must be bumped whenever the tokenization algorithm below
// changes. Persisted index files carry it in their header; a mismatch on
// load forces a rebuild rather than trusting stale postings (§4.2, §9).
const TokenizerVersion = 1

var englishStopwords = map[string]struct{}{
	"a": {}, "an": {}, "and": {}, "are": {}, "as": {}, "at": {}, "be": {},
	"by": {}, "for": {}, "from": {}, "has": {}, "he": {}, "in": {}, "is": {},
	"it": {}, "its": {}, "of": {}, "on": {}, "that": {}, "the": {}, "to": {},
	"was": {}, "were": {}, "will": {}, "with": {}, "this": {}, "but": {},
	"or": {}, "not": {}, "you": {}, "i": {}, "we": {}, "they": {},
}

// DetectLanguage classifies text as "zh" when the Chinese-character ratio
// exceeds 0.3, "en" otherwise (§4.2).
func DetectLanguage(text string) string {
	runes := []rune(text)
	if len(runes) == 0 {
		return "en"
	}
	var cjk int
	for _, r := range runes {
		if isCJK(r) {
			cjk++
		}
	}
	if float64(cjk)/float64(len(runes)) > 0.3 {
		return "zh"
	}
	return "en"
}

func isCJK(r rune) bool {
	return unicode.Is(unicode.Han, r)
}

// Tokenize splits text into index terms per the language-aware strategy:
// zh text yields each CJK character plus consecutive-character bigrams
// (whitespace-delimited runs handled separately from latin substrings);
// en text is unicode word-segmented, lowercased, and stopword-filtered.
func Tokenize(text string) []string {
	if DetectLanguage(text) == "zh" {
		return tokenizeZH(text)
	}
	return tokenizeEN(text)
}

func tokenizeZH(text string) []string {
	var tokens []string
	var run []rune
	flush := func() {
		for i, r := range run {
			tokens = append(tokens, string(r))
			if i+1 < len(run) {
				tokens = append(tokens, string(run[i])+string(run[i+1]))
			}
		}
		run = run[:0]
	}

	for _, r := range text {
		switch {
		case isCJK(r):
			run = append(run, r)
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			flush()
			tokens = append(tokens, strings.ToLower(string(r)))
		default:
			flush()
		}
	}
	flush()
	return mergeAdjacentLatin(tokens)
}

// mergeAdjacentLatin re-joins consecutive single-rune latin/digit tokens
// produced by tokenizeZH's default loop back into whole words, so an ASCII
// term embedded in Chinese text ("GPT-4") isn't shredded to single chars.
func mergeAdjacentLatin(tokens []string) []string {
	var out []string
	var buf strings.Builder
	flush := func() {
		if buf.Len() > 0 {
			out = append(out, buf.String())
			buf.Reset()
		}
	}
	for _, t := range tokens {
		r := []rune(t)
		if len(r) == 1 && (unicode.IsLetter(r[0]) || unicode.IsDigit(r[0])) && !isCJK(r[0]) {
			buf.WriteRune(r[0])
			continue
		}
		flush()
		out = append(out, t)
	}
	flush()
	return out
}

func tokenizeEN(text string) []string {
	var tokens []string
	var buf strings.Builder
	flush := func() {
		if buf.Len() == 0 {
			return
		}
		word := strings.ToLower(buf.String())
		buf.Reset()
		if _, stop := englishStopwords[word]; stop {
			return
		}
		tokens = append(tokens, word)
	}
	for _, r := range text {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			buf.WriteRune(r)
		} else {
			flush()
		}
	}
	flush()
	return tokens
}
