package census

import (
	"regexp"
	"strings"
)

var geoLabelPattern = regexp.MustCompile(`^ZIP \d+ \((.+), (.+)\)`)

// ParseGeoLabel extracts city and state from a label such as "ZIP 94103 (San Francisco, CA)".
// ok is false when the label does not follow that shape.
func ParseGeoLabel(label string) (city, state string, ok bool) {
	m := geoLabelPattern.FindStringSubmatch(strings.TrimSpace(label))
	if m == nil {
		return "", "", false
	}
	return m[1], m[2], true
}
