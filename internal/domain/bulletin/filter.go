package bulletin

import "strings"

// commentFilters are the boilerplate blocks the utility prints on every
// bulletin page, identified by their opening and closing phrases. Both
// anchors are removed together with everything between them.
var commentFilters = []struct {
	open  []Token
	close []Token
}{
	{
		open:  scanWords("For further information, contact"),
		close: scanWords("Interruption notices may be viewed at www.kplc.co.ke"),
	},
	{
		open:  scanWords("Interruption of Electricity Supply"),
		close: scanWords("road construction, etc.)"),
	},
}

// stripComments removes every occurrence of the known boilerplate blocks
// from the token stream. The blocks repeat once per page, so each filter
// runs until it stops matching. An opener without a closer is left alone.
func stripComments(tokens []Token) []Token {
	for _, f := range commentFilters {
		for {
			start := indexTokens(tokens, f.open, 0)
			if start < 0 {
				break
			}
			end := indexTokens(tokens, f.close, start+len(f.open))
			if end < 0 {
				break
			}
			tokens = append(tokens[:start], tokens[end+len(f.close):]...)
		}
	}
	return tokens
}

// indexTokens returns the index of the first occurrence of needle in tokens
// at or after from, or -1.
func indexTokens(tokens, needle []Token, from int) int {
	if len(needle) == 0 {
		return -1
	}
	for i := from; i+len(needle) <= len(tokens); i++ {
		if matchTokens(tokens[i:i+len(needle)], needle) {
			return i
		}
	}
	return -1
}

func matchTokens(window, needle []Token) bool {
	for i, want := range needle {
		got := window[i]
		if got.Kind != want.Kind {
			return false
		}
		if want.Kind == KindIdentifier && !strings.EqualFold(got.Text, want.Text) {
			return false
		}
	}
	return true
}
