package bulletin

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// ParseBulletin turns extracted bulletin text into the outage schedule it
// announces. now anchors the past-date check: an area whose local date in
// Africa/Nairobi is before now's local date is dropped, and a bulletin with
// no surviving region fails validation. The first error encountered aborts
// the whole bulletin.
func ParseBulletin(text string, now time.Time) ([]Region, error) {
	local := now.In(nairobiTZ)
	p := &parser{
		toks:  stripComments(scan(text)),
		today: time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, nairobiTZ),
	}
	return p.parseBulletin()
}

type parser struct {
	toks  []Token
	pos   int
	today time.Time
}

func (p *parser) peek() (Token, bool) {
	if p.pos >= len(p.toks) {
		return Token{}, false
	}
	return p.toks[p.pos], true
}

func (p *parser) next() (Token, bool) {
	tok, ok := p.peek()
	if ok {
		p.pos++
	}
	return tok, ok
}

func (p *parser) parseBulletin() ([]Region, error) {
	if _, ok := p.peek(); !ok {
		return nil, ErrUnexpectedEOF
	}
	var regions []Region
	for {
		tok, ok := p.peek()
		if !ok {
			break
		}
		if tok.Kind != KindRegion {
			return nil, &UnexpectedTokenError{Found: tok, Expected: "region heading"}
		}
		region, err := p.parseRegion()
		if err != nil {
			return nil, err
		}
		if region != nil {
			regions = append(regions, *region)
		}
	}
	if len(regions) == 0 {
		return nil, &ValidationError{Context: "no current or future outage dates"}
	}
	return regions, nil
}

// parseRegion consumes one region heading and its counties. It returns a nil
// region when every area under it was dated in the past.
func (p *parser) parseRegion() (*Region, error) {
	head, _ := p.next()
	region := Region{Name: sanitizeName(head.Text)}

	tok, ok := p.peek()
	if !ok {
		return nil, ErrUnexpectedEOF
	}
	if tok.Kind != KindCounty {
		return nil, &UnexpectedTokenError{Found: tok, Expected: "county heading"}
	}
	for {
		tok, ok := p.peek()
		if !ok || tok.Kind != KindCounty {
			break
		}
		county, err := p.parseCounty()
		if err != nil {
			return nil, err
		}
		if county != nil {
			region.Counties = append(region.Counties, *county)
		}
	}
	if tok, ok := p.peek(); ok && tok.Kind != KindRegion {
		return nil, &UnexpectedTokenError{Found: tok, Expected: "county or region heading"}
	}
	if len(region.Counties) == 0 {
		return nil, nil
	}
	return &region, nil
}

func (p *parser) parseCounty() (*County, error) {
	head, _ := p.next()
	county := County{Name: sanitizeName(head.Text)}

	tok, ok := p.peek()
	if !ok {
		return nil, ErrUnexpectedEOF
	}
	if tok.Kind != KindArea {
		return nil, &UnexpectedTokenError{Found: tok, Expected: "area header"}
	}
	for {
		tok, ok := p.peek()
		if !ok || tok.Kind != KindArea {
			break
		}
		area, err := p.parseArea()
		if err != nil {
			return nil, err
		}
		if area != nil {
			county.Areas = append(county.Areas, *area)
		}
	}
	if len(county.Areas) == 0 {
		return nil, nil
	}
	return &county, nil
}

// parseArea consumes one area header with its date, time and locations. A
// past-dated area is parsed to its end but dropped from the result.
func (p *parser) parseArea() (*Area, error) {
	head, _ := p.next()
	area := Area{Name: sanitizeName(head.Text)}

	dateTok, ok := p.next()
	if !ok {
		return nil, ErrUnexpectedEOF
	}
	if dateTok.Kind != KindDate {
		return nil, &UnexpectedTokenError{Found: dateTok, Expected: "outage date"}
	}
	timeTok, ok := p.next()
	if !ok {
		return nil, ErrUnexpectedEOF
	}
	if timeTok.Kind != KindTime {
		return nil, &UnexpectedTokenError{Found: timeTok, Expected: "outage time"}
	}
	frame, err := p.resolveTimeFrame(dateTok, timeTok)
	if err != nil {
		return nil, err
	}

	var buf []string
	var locations []string
	flush := func() {
		if len(buf) > 0 {
			locations = append(locations, strings.Join(buf, " "))
			buf = nil
		}
	}
	for {
		tok, ok := p.peek()
		if !ok {
			return nil, ErrUnexpectedEOF
		}
		switch tok.Kind {
		case KindIdentifier:
			p.next()
			buf = append(buf, tok.Text)
		case KindComma:
			p.next()
			// "Phase 3, 4" is one location; the comma only resets the
			// buffer when the next word is not a bare number.
			if nxt, ok := p.peek(); ok && nxt.Kind == KindIdentifier && isDigits(nxt.Text) && len(buf) > 0 {
				buf[len(buf)-1] += ","
				continue
			}
			flush()
		case KindKeyword:
			p.next()
			flush()
			if frame == nil {
				return nil, nil
			}
			area.TimeFrame = *frame
			area.Locations = sanitizeLocations(locations)
			return &area, nil
		default:
			return nil, &UnexpectedTokenError{Found: tok, Expected: "location name or end of locations"}
		}
	}
}

// resolveTimeFrame interprets the raw date and clock captures. Malformed
// values are validation errors; a date before today yields a nil frame so
// the caller can drop the area.
func (p *parser) resolveTimeFrame(dateTok, timeTok Token) (*TimeFrame, error) {
	day, err := parseDate(dateTok.Date)
	if err != nil {
		return nil, &ValidationError{Context: fmt.Sprintf("invalid outage date %q", dateTok.Date)}
	}
	startH, startM, err := parseClock(timeTok.Start)
	if err != nil {
		return nil, &ValidationError{Context: fmt.Sprintf("invalid start time %q", timeTok.Start)}
	}
	endH, endM, err := parseClock(timeTok.End)
	if err != nil {
		return nil, &ValidationError{Context: fmt.Sprintf("invalid end time %q", timeTok.End)}
	}
	if day.Before(p.today) {
		return nil, nil
	}
	from := time.Date(day.Year(), day.Month(), day.Day(), startH, startM, 0, 0, nairobiTZ)
	to := time.Date(day.Year(), day.Month(), day.Day(), endH, endM, 0, 0, nairobiTZ)
	if !to.After(from) {
		// Overnight maintenance windows print an end clock on the next day.
		to = to.Add(24 * time.Hour)
	}
	return &TimeFrame{From: from, To: to}, nil
}

func parseDate(raw string) (time.Time, error) {
	for _, layout := range []string{"02.01.2006", "2.1.2006"} {
		if t, err := time.ParseInLocation(layout, raw, nairobiTZ); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognised date %q", raw)
}

var clockRe = regexp.MustCompile(`^(\d{1,2})(?:[.:]([0-5]\d))?\s*([AaPp])\.?\s*[Mm]\.?$`)

// parseClock reads a bulletin clock such as "8.00 A.M." or "5 PM" into
// 24-hour parts.
func parseClock(raw string) (hour, minute int, err error) {
	m := clockRe.FindStringSubmatch(strings.TrimSpace(raw))
	if m == nil {
		return 0, 0, fmt.Errorf("unrecognised clock %q", raw)
	}
	hour, _ = strconv.Atoi(m[1])
	if hour < 1 || hour > 12 {
		return 0, 0, fmt.Errorf("clock hour out of range in %q", raw)
	}
	if m[2] != "" {
		minute, _ = strconv.Atoi(m[2])
	}
	if hour == 12 {
		hour = 0
	}
	if m[3] == "P" || m[3] == "p" {
		hour += 12
	}
	return hour, minute, nil
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
