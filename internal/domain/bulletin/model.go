// Package bulletin parses the text of a scheduled-interruption bulletin into
// the outage schedule it announces. The pipeline is pure: text in, regions
// out. Extraction of the text from the PDF itself lives in
// internal/platform/pdftext.
package bulletin

import (
	"fmt"
	"strings"
	"time"
)

// TimeFrame is one announced outage window. From and To are instants in
// Africa/Nairobi; To is always after From (an end clock at or before the
// start clock rolls over to the next day).
type TimeFrame struct {
	From time.Time
	To   time.Time
}

// Area is the utility's unit of scheduling: a named locality with one outage
// window and the customer lines it affects.
type Area struct {
	Name      string
	TimeFrame TimeFrame
	Locations []string
}

// County groups the areas announced under one county heading.
type County struct {
	Name  string
	Areas []Area
}

// Region is the top of the bulletin hierarchy.
type Region struct {
	Name     string
	Counties []County
}

var nairobiTZ = loadNairobi()

func loadNairobi() *time.Location {
	loc, err := time.LoadLocation("Africa/Nairobi")
	if err != nil {
		// Kenya has no DST; a fixed offset is an exact substitute when the
		// tzdata is absent from the host.
		return time.FixedZone("EAT", 3*60*60)
	}
	return loc
}

// Nairobi returns the time zone bulletins are published in. All schedule
// times are interpreted and displayed in it.
func Nairobi() *time.Location {
	return nairobiTZ
}

// Render prints regions back into bulletin text form. Parsing the rendered
// text yields the same regions, which keeps the schedule reproducible from
// its own parse.
func Render(regions []Region) string {
	var b strings.Builder
	for _, region := range regions {
		fmt.Fprintf(&b, "%s REGION\n", region.Name)
		for _, county := range region.Counties {
			fmt.Fprintf(&b, "PARTS OF %s COUNTY\n", county.Name)
			for _, area := range county.Areas {
				from := area.TimeFrame.From.In(nairobiTZ)
				to := area.TimeFrame.To.In(nairobiTZ)
				fmt.Fprintf(&b, "AREA: %s\n", area.Name)
				fmt.Fprintf(&b, "DATE: %s %s\n", from.Weekday(), from.Format("02.01.2006"))
				fmt.Fprintf(&b, "TIME: %s – %s\n", renderClock(from), renderClock(to))
				if len(area.Locations) > 0 {
					b.WriteString(strings.Join(area.Locations, ", "))
					b.WriteString(" ")
				}
				b.WriteString("ENDOFLOCATIONS\n")
			}
		}
	}
	return b.String()
}

func renderClock(t time.Time) string {
	hour := t.Hour()
	meridian := "A.M."
	switch {
	case hour == 0:
		hour = 12
	case hour == 12:
		meridian = "P.M."
	case hour > 12:
		hour -= 12
		meridian = "P.M."
	}
	return fmt.Sprintf("%d.%02d %s", hour, t.Minute(), meridian)
}
