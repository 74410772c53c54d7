// Package match classifies subscriber locations against upcoming outages.
// A location whose own text contains an announced line name under the right
// area is directly affected; one whose cached neighbour payload mentions an
// announced line or area is potentially affected. The engine turns those
// hits into per-subscriber notification payloads.
package match

import (
	"strings"

	"github.com/samber/lo"
)

// Candidates expands a raw announced name into the complete noun phrases
// its ampersands abbreviate. "Makueni Boys & Girls" shares its head across
// the split, "Shell & Total Petrol Stns Kiambu Road" shares its tail, and
// "GSU & AP" shares nothing. Multi-ampersand names fold right to left,
// expanding every branch, and the result set is de-duplicated.
func Candidates(name string) []string {
	segments := strings.Split(name, "&")
	for i := range segments {
		segments[i] = strings.TrimSpace(segments[i])
	}
	if len(segments) == 1 {
		if segments[0] == "" {
			return nil
		}
		return segments
	}

	expanded := []string{segments[len(segments)-1]}
	for i := len(segments) - 2; i >= 0; i-- {
		next := make([]string, 0, 2*len(expanded))
		for _, right := range expanded {
			head, tail := merge(segments[i], right)
			next = append(next, head, tail)
		}
		expanded = lo.Uniq(next)
	}
	return lo.Filter(expanded, func(c string, _ int) bool { return c != "" })
}

// merge builds the two readings of "L & R": L completed with R's surplus
// tail, and R completed with L's surplus head. Equal token counts leave
// both sides as written.
func merge(left, right string) (string, string) {
	l := strings.Fields(left)
	r := strings.Fields(right)
	m, n := len(l), len(r)

	head := append(append(make([]string, 0, m+n), l...), r[min(m, n):]...)
	tail := append(append(make([]string, 0, m+n), l[:max(0, m-n)]...), r...)
	return strings.Join(head, " "), strings.Join(tail, " ")
}

// AreaNames splits a comma-separated area heading into the individual
// areas it announces. "WESTLANDS, PARKLANDS" schedules two areas under one
// time frame.
func AreaNames(heading string) []string {
	parts := strings.Split(heading, ",")
	names := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			names = append(names, p)
		}
	}
	return lo.Uniq(names)
}
