// Package search provides the in-process inverted text index used to match
// subscriber locations against announced outage lines and areas, plus the
// token normalisation shared with the bulletin scanner. Tokens are
// lower-cased and run through the utility's acronym dictionary so that
// "Thika Rd" and "THIKA ROAD" index identically.
package search

import "strings"

// acronyms maps the abbreviations the utility prints in bulletins to their
// expanded forms. Keys are lower-case with trailing punctuation stripped.
var acronyms = map[string]string{
	"rd":     "Road",
	"rds":    "Roads",
	"ave":    "Avenue",
	"sch":    "School",
	"schs":   "Schools",
	"pri":    "Primary",
	"pry":    "Primary",
	"sec":    "Secondary",
	"mkt":    "Market",
	"mkts":   "Markets",
	"est":    "Estate",
	"ests":   "Estates",
	"stn":    "Station",
	"stns":   "Stations",
	"hosp":   "Hospital",
	"univ":   "University",
	"fact":   "Factory",
	"t/fact": "Tea Factory",
	"c/fact": "Coffee Factory",
	"pl":     "Plaza",
	"hse":    "House",
}

// NormalizeWord expands a single bulletin word through the acronym
// dictionary, preserving the expansion's canonical casing. Unknown words are
// returned unchanged.
func NormalizeWord(word string) string {
	key := strings.ToLower(strings.TrimRight(word, ".,"))
	if full, ok := acronyms[key]; ok {
		return full
	}
	return word
}

// Sanitize expands every whitespace-separated word of text through the
// acronym dictionary, leaving everything else as written. Slash-joined
// abbreviations such as "T/Fact" survive as single words here, which is why
// addresses are sanitized before they are tokenized.
func Sanitize(text string) string {
	fields := strings.Fields(text)
	for i, f := range fields {
		fields[i] = NormalizeWord(f)
	}
	return strings.Join(fields, " ")
}

// Tokenize splits text into lower-case alphanumeric tokens with acronyms
// expanded. It is the canonical tokenisation for both index and query sides.
func Tokenize(text string) []string {
	var tokens []string
	var b strings.Builder
	flush := func() {
		if b.Len() == 0 {
			return
		}
		word := b.String()
		b.Reset()
		if full, ok := acronyms[word]; ok {
			tokens = append(tokens, strings.Fields(strings.ToLower(full))...)
			return
		}
		tokens = append(tokens, word)
	}
	for _, r := range strings.ToLower(text) {
		if r >= 'a' && r <= 'z' || r >= '0' && r <= '9' {
			b.WriteRune(r)
			continue
		}
		flush()
	}
	flush()
	return tokens
}

// Match reports whether every token of candidate occurs in text. It is the
// containment test used when only a single document needs checking and
// building an index would be wasteful.
func Match(candidate, text string) bool {
	want := Tokenize(candidate)
	if len(want) == 0 {
		return false
	}
	have := make(map[string]struct{})
	for _, tok := range Tokenize(text) {
		have[tok] = struct{}{}
	}
	for _, tok := range want {
		if _, ok := have[tok]; !ok {
			return false
		}
	}
	return true
}
