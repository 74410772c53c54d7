package bulletin

import "fmt"

// TokenKind discriminates the scanner's output stream.
type TokenKind int

const (
	// KindComma separates locations within an area listing.
	KindComma TokenKind = iota
	// KindIdentifier is a single word of a location name, acronym-expanded.
	KindIdentifier
	// KindKeyword is the end-of-locations sentinel for one area.
	KindKeyword
	// KindRegion is a region heading; Text carries the whole heading line.
	KindRegion
	// KindCounty is a county heading; Text carries the whole heading line.
	KindCounty
	// KindArea is an area header; Text carries the captured area name.
	KindArea
	// KindDate carries the raw day-of-week and dd.mm.yyyy date.
	KindDate
	// KindTime carries the raw start and end clock expressions.
	KindTime
)

// Token is one lexical unit of a bulletin. Date and Time tokens keep their
// raw substrings; interpretation is the parser's job.
type Token struct {
	Kind      TokenKind
	Text      string
	DayOfWeek string
	Date      string
	Start     string
	End       string
}

func (t Token) String() string {
	switch t.Kind {
	case KindComma:
		return "comma"
	case KindIdentifier:
		return fmt.Sprintf("identifier %q", t.Text)
	case KindKeyword:
		return "end-of-locations"
	case KindRegion:
		return fmt.Sprintf("region heading %q", t.Text)
	case KindCounty:
		return fmt.Sprintf("county heading %q", t.Text)
	case KindArea:
		return fmt.Sprintf("area header %q", t.Text)
	case KindDate:
		return fmt.Sprintf("date %q", t.Date)
	case KindTime:
		return fmt.Sprintf("time %q – %q", t.Start, t.End)
	}
	return "unknown token"
}
