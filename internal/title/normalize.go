// Package title turns document titles into weighted word-embedding vectors.
package title

import "strings"

// punctuation is ASCII punctuation plus the curly quote variants.
const punctuation = "!\"#$%&'()*+,-./:;<=>?@[\\]^_`{|}~" + "’”‘“"

var stripper = func() *strings.Replacer {
	var pairs []string
	for _, r := range punctuation {
		pairs = append(pairs, string(r), "")
	}
	return strings.NewReplacer(pairs...)
}()

// NormalizeWord lowercases w and strips punctuation.
func NormalizeWord(w string) string {
	return stripper.Replace(strings.ToLower(w))
}

// Normalize splits a raw title into canonical tokens. Splitting happens on single
// spaces, so runs of whitespace or punctuation-only words produce empty tokens;
// callers must tolerate them.
func Normalize(raw string) []string {
	return strings.Split(NormalizeWord(raw), " ")
}

// NormalizeAll normalizes each title, preserving order.
func NormalizeAll(titles []string) [][]string {
	out := make([][]string, len(titles))
	for i, t := range titles {
		out[i] = Normalize(t)
	}
	return out
}

// Vocabulary returns the distinct non-empty tokens across titles in first-seen order.
func Vocabulary(titles [][]string) []string {
	seen := make(map[string]struct{})
	var words []string
	for _, tokens := range titles {
		for _, tok := range tokens {
			if tok == "" {
				continue
			}
			if _, ok := seen[tok]; ok {
				continue
			}
			seen[tok] = struct{}{}
			words = append(words, tok)
		}
	}
	return words
}
