package bulletin

import (
	"regexp"
	"strings"

	"github.com/stima/stima/internal/platform/search"
)

// endOfLocations is the sentinel the pre-processing step substitutes for the
// "& adjacent customers" closer the utility prints after each area listing.
const endOfLocations = "ENDOFLOCATIONS"

var (
	adjacentCustomersRe = regexp.MustCompile(`(?i)(?:&|\band\b)\s+adjacent\s+customers?\s*[.,]?`)
	timeKeywordRe       = regexp.MustCompile(`(?i)\bTIME\b`)
	timeRangeSplitRe    = regexp.MustCompile(`\s*(?:\x{2013}|\x{2014}|\x{2212}|-|\b[Tt][Oo]\b)\s*`)
	partOfPrefixRe      = regexp.MustCompile(`(?i)^parts?\s+of\s+`)
)

// scan lexes bulletin text into the token stream the parser consumes. The
// scanner itself never fails; malformed dates and times surface as raw
// substrings for the parser to reject.
func scan(text string) []Token {
	lines := strings.Split(preprocess(text), "\n")
	var tokens []Token
	for i := 0; i < len(lines); i++ {
		line := strings.TrimSpace(lines[i])
		if line == "" {
			continue
		}
		upper := strings.ToUpper(line)
		switch {
		case strings.HasPrefix(upper, "AREA:") || strings.HasPrefix(upper, "AREA;"):
			// The area name runs to the start of the DATE line.
			parts := []string{strings.TrimSpace(line[len("AREA:"):])}
			for i+1 < len(lines) {
				next := strings.TrimSpace(lines[i+1])
				if strings.HasPrefix(strings.ToUpper(next), "DATE") {
					break
				}
				if next != "" {
					parts = append(parts, next)
				}
				i++
			}
			name := partOfPrefixRe.ReplaceAllString(strings.Join(parts, " "), "")
			tokens = append(tokens, Token{Kind: KindArea, Text: strings.TrimSpace(name)})

		case strings.HasPrefix(upper, "DATE"):
			rest := strings.TrimLeft(line[len("DATE"):], ":; \t")
			var timePart string
			if loc := timeKeywordRe.FindStringIndex(rest); loc != nil {
				timePart = rest[loc[1]:]
				rest = rest[:loc[0]]
			}
			tok := Token{Kind: KindDate}
			if fields := strings.Fields(rest); len(fields) > 0 {
				tok.DayOfWeek = strings.TrimRight(fields[0], ",")
				if len(fields) > 1 {
					tok.Date = fields[1]
				}
			}
			tokens = append(tokens, tok)
			if timePart != "" {
				tokens = append(tokens, scanTimeRange(timePart))
			}

		case strings.HasPrefix(upper, "TIME"):
			tokens = append(tokens, scanTimeRange(line[len("TIME"):]))

		case headsLine(line, "REGION"):
			tokens = append(tokens, Token{Kind: KindRegion, Text: line})

		case headsLine(line, "COUNTY"):
			tokens = append(tokens, Token{Kind: KindCounty, Text: line})

		default:
			tokens = append(tokens, scanWords(line)...)
		}
	}
	return tokens
}

// preprocess normalises the raw extraction before lexing: the area closer
// phrase becomes the ENDOFLOCATIONS sentinel, and a bare NAIROBI REGION
// heading gains the synthetic county the utility leaves implicit.
func preprocess(text string) string {
	text = adjacentCustomersRe.ReplaceAllString(text, " "+endOfLocations+" ")
	lines := strings.Split(text, "\n")
	out := make([]string, 0, len(lines)+1)
	for i, line := range lines {
		out = append(out, line)
		if !strings.EqualFold(strings.TrimSpace(line), "NAIROBI REGION") {
			continue
		}
		next := ""
		for j := i + 1; j < len(lines); j++ {
			if s := strings.TrimSpace(lines[j]); s != "" {
				next = s
				break
			}
		}
		if !headsLine(next, "COUNTY") {
			out = append(out, "PARTS OF NAIROBI COUNTY")
		}
	}
	return strings.Join(out, "\n")
}

// headsLine reports whether the heading word terminates the line, which is
// how the utility marks region and county headings.
func headsLine(line, word string) bool {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return false
	}
	last := strings.TrimRight(fields[len(fields)-1], ".")
	return strings.EqualFold(last, word)
}

// scanTimeRange splits "8.00 A.M. – 5.00 P.M." into its raw start and end
// clock expressions. A missing separator leaves End empty for the parser to
// reject.
func scanTimeRange(raw string) Token {
	raw = strings.TrimLeft(raw, ":; \t")
	parts := timeRangeSplitRe.Split(strings.TrimSpace(raw), 2)
	tok := Token{Kind: KindTime, Start: strings.TrimSpace(parts[0])}
	if len(parts) > 1 {
		tok.End = strings.TrimSpace(parts[1])
	}
	return tok
}

// scanWords lexes a plain listing line into comma and identifier tokens,
// expanding acronyms as it goes.
func scanWords(line string) []Token {
	var tokens []Token
	for _, field := range strings.Fields(line) {
		for field != "" {
			if field[0] == ',' {
				tokens = append(tokens, Token{Kind: KindComma})
				field = field[1:]
				continue
			}
			word := field
			if cut := strings.IndexByte(field, ','); cut >= 0 {
				word, field = field[:cut], field[cut:]
			} else {
				field = ""
			}
			if word == "" {
				continue
			}
			if word == endOfLocations {
				tokens = append(tokens, Token{Kind: KindKeyword})
				continue
			}
			tokens = append(tokens, Token{Kind: KindIdentifier, Text: search.NormalizeWord(word)})
		}
	}
	return tokens
}
