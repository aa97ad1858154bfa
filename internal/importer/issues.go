package importer

import "strings"

// issueCodes maps tracker issue tags to universal reform type codes.
var issueCodes = map[string]string{
	"adu":               "housing:adu",
	"adus":              "housing:adu",
	"building code":     "building:staircases",
	"permitting":        "process:permitting",
	"urbanity":          "landuse:zoning",
	"parking":           "parking:general",
	"minimum lot size":  "landuse:lot_size",
	"tod":               "landuse:tod",
	"far":               "landuse:far",
	"floor area ratio":  "landuse:far",
	"height limit":      "landuse:height",
	"missing middle":    "housing:plex",
	"shot clock":        "process:permitting",
	"shot clocks":       "process:permitting",
	"vesting":           "process:permitting",
	"townhouses":        "housing:plex",
	"tiffs":             "process:impact_fees",
	"tif":               "process:impact_fees",
	"anti-investor":     "other:general",
	"land value tax":    "other:land_value_tax",
	"single stair":      "building:staircases",
	"elevators":         "building:elevators",
	"parking minimums":  "parking:reduced",
	"parking mandates":  "parking:reduced",
	"parking reform":    "parking:general",
	"lot size":          "landuse:lot_size",
	"transit-oriented":  "landuse:tod",
	"impact fees":       "process:impact_fees",
	"by-right approval": "process:permitting",
}

// IssueCode maps one issue tag. Unknown tags fall back on keyword
// heuristics and finally other:general.
func IssueCode(issue string) string {
	s := strings.ToLower(strings.TrimSpace(issue))
	if code, ok := issueCodes[s]; ok {
		return code
	}
	switch {
	case strings.Contains(s, "adu"):
		return "housing:adu"
	case strings.Contains(s, "parking"):
		return "parking:general"
	case strings.Contains(s, "permit"):
		return "process:permitting"
	case strings.Contains(s, "zoning"):
		return "landuse:zoning"
	case strings.Contains(s, "stair"):
		return "building:staircases"
	}
	return "other:general"
}

// IssueCodes maps a comma separated issue list, dropping blanks and
// duplicate codes.
func IssueCodes(issues string) []string {
	var out []string
	seen := map[string]bool{}
	for _, part := range strings.Split(issues, ",") {
		if strings.TrimSpace(part) == "" {
			continue
		}
		code := IssueCode(part)
		if seen[code] {
			continue
		}
		seen[code] = true
		out = append(out, code)
	}
	return out
}
