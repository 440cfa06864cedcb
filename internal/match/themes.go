package match

// themePrefixes maps charity-register classification themes to UKCAT code
// prefixes. A theme can map to a whole family ("HO") or a single code
// ("EC103"). Themes without an entry contribute nothing.
var themePrefixes = map[string]string{
	"Accommodation/housing":                     "HO",
	"Arts/culture/heritage/science":             "AR",
	"Disability":                                "BE",
	"Economic/community Development/employment": "EC",
	"Education/training":                        "ED",
	"Environment/conservation/heritage":         "EN",
	"General Charitable Purposes":               "CA",
	"Human Rights/religious Or Racial Harmony/equality Or Diversity": "SO",
	"Overseas Aid/famine Relief":                  "EC103",
	"The Advancement Of Health Or Saving Of Lives": "HE",
	"The Prevention Or Relief Of Poverty":          "BE",
}

// profileThemePrefixes maps a profile's register themes to the UKCAT
// prefixes they cover, deduplicated in first-seen order.
func profileThemePrefixes(themes []string) []string {
	seen := make(map[string]struct{}, len(themes))
	var out []string
	for _, t := range themes {
		p, ok := themePrefixes[t]
		if !ok {
			continue
		}
		if _, dup := seen[p]; dup {
			continue
		}
		seen[p] = struct{}{}
		out = append(out, p)
	}
	return out
}

// themeScore measures how much of the charity's theme footprint the
// notice's UKCAT tags cover. With no mapped themes the signal is neutral.
func themeScore(profileThemes, noticeTags []string) float64 {
	prefixes := profileThemePrefixes(profileThemes)
	if len(prefixes) == 0 {
		return 0.5
	}

	matched := 0
	for _, p := range prefixes {
		if anyTagHasPrefix(noticeTags, p) {
			matched++
		}
	}
	return float64(matched) / float64(len(prefixes))
}

func anyTagHasPrefix(tags []string, prefix string) bool {
	for _, t := range tags {
		if len(t) >= len(prefix) && t[:len(prefix)] == prefix {
			return true
		}
	}
	return false
}
