package outage

import "strings"

// matchCounty resolves a bulletin county heading against the seed. Exact
// case-insensitive match first, dashes and spaces interchangeable, then a
// substring match on the heading's first word for spellings like
// "ELGEYO" against "Elgeyo-Marakwet".
func matchCounty(counties []County, name string) (County, bool) {
	target := normalizeCounty(name)
	if target == "" {
		return County{}, false
	}
	for _, county := range counties {
		if normalizeCounty(county.Name) == target {
			return county, true
		}
	}

	first := strings.Fields(target)[0]
	for _, county := range counties {
		seeded := normalizeCounty(county.Name)
		if strings.Contains(seeded, first) || strings.Contains(first, seeded) {
			return county, true
		}
	}
	return County{}, false
}

func normalizeCounty(name string) string {
	name = strings.ReplaceAll(name, "-", " ")
	return strings.ToLower(strings.Join(strings.Fields(name), " "))
}
