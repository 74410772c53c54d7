package bulletin

import (
	"regexp"
	"strings"
)

var (
	framingWordsRe = regexp.MustCompile(`(?i)\b(?:parts?\s+of|whole\s+of|region|county)\b`)
	phaseListRe    = regexp.MustCompile(`(?i)^(.*phase)\s+(\d+(?:\s*[,&]\s*\d+)+)$`)
	numberRe       = regexp.MustCompile(`\d+`)
)

// sanitizeName drops the utility's framing words ("Parts of", "Whole of",
// "Region", "County") and collapses whitespace.
func sanitizeName(s string) string {
	s = framingWordsRe.ReplaceAllString(s, " ")
	return strings.Join(strings.Fields(s), " ")
}

// sanitizeLocations cleans each captured location and expands phase
// shorthand: "Dandora Phase 3, 4 & 5" becomes one location per number.
func sanitizeLocations(raw []string) []string {
	var out []string
	for _, loc := range raw {
		name := sanitizeName(loc)
		if name == "" {
			continue
		}
		m := phaseListRe.FindStringSubmatch(name)
		if m == nil {
			out = append(out, name)
			continue
		}
		base := strings.TrimSpace(m[1])
		for _, num := range numberRe.FindAllString(m[2], -1) {
			out = append(out, base+" "+num)
		}
	}
	return out
}
