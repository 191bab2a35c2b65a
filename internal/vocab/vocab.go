// Package vocab holds the static GIS vocabulary: operation synonyms,
// spatial-relationship terms, unit conversions, and the shared distance
// pattern. Pure data and pure functions, no state.
package vocab

import (
	"regexp"
	"strings"
)

// OperationSynonyms maps canonical operation names to the natural-language
// phrases users type for them. Checked in iteration order by callers that
// range over Operations, so the match order is deterministic.
var OperationSynonyms = map[string][]string{
	"buffer":       {"buffer", "create buffer", "make buffer", "buffering"},
	"intersection": {"intersect", "intersection", "overlapping", "overlap", "overlaps with"},
	"clip":         {"clip", "cut", "extract", "trim"},
	"merge":        {"merge", "combine", "join", "dissolve"},
	"union":        {"union", "unite", "combine"},
	"split":        {"split", "divide", "separate"},
	"select":       {"select", "choose", "pick", "filter", "find", "get"},
	"query":        {"query", "search", "find", "where"},
	"proximity":    {"near", "close to", "within", "distance", "proximity"},
	"density":      {"density", "concentration", "hotspot", "cluster"},
	"statistics":   {"statistics", "calculate", "compute", "stats", "mean", "average", "sum"},
}

// Operations is the fixed lookup order for OperationSynonyms. More specific
// geometric operations come before generic selection verbs so that "clip the
// roads" is not swallowed by select's "get".
var Operations = []string{
	"buffer", "intersection", "clip", "merge", "union", "split",
	"select", "query", "proximity", "density", "statistics",
}

// SpatialRelationships lists recognised spatial-relationship terms, most
// specific first.
var SpatialRelationships = []string{
	"close to", "far from", "adjacent to", "near", "within", "contains",
	"inside", "outside", "intersects", "overlaps", "crosses", "touches",
}

// Unit multipliers to meters.
const (
	MetersPerKilometer = 1000.0
	MetersPerFoot      = 0.3048
	MetersPerMile      = 1609.34
)

// DistancePattern matches "500 meters", "2.5 km", "3 ft" and friends. Group 1
// is the numeric value, group 2 the unit.
var DistancePattern = regexp.MustCompile(`(?i)(\d+\.?\d*)\s*(meters|meter|m|kilometers|kilometer|km|feet|foot|ft|miles|mile|mi)\b`)

// ToMeters converts a value in the given unit to meters. Unknown units are
// treated as meters.
func ToMeters(value float64, unit string) float64 {
	switch strings.ToLower(strings.TrimSpace(unit)) {
	case "kilometer", "kilometers", "km":
		return value * MetersPerKilometer
	case "feet", "foot", "ft":
		return value * MetersPerFoot
	case "mile", "miles", "mi":
		return value * MetersPerMile
	default:
		return value
	}
}

// ActionVerbs are verbs that signal an operation during disambiguation.
// The closed keyword sets below pair with them; both must occur in the text
// for an operation to be inferred.
var ActionVerbs = []string{"create", "make", "generate", "find", "show", "compute", "calculate"}

// DisambiguationKeywords maps operations in the closed disambiguation set to
// the domain keywords that, together with an action verb, imply them.
var DisambiguationKeywords = map[string][]string{
	"buffer":       {"buffer", "zone", "around", "radius"},
	"clip":         {"clip", "cut", "crop", "boundary"},
	"select":       {"select", "features", "where", "matching"},
	"intersection": {"intersection", "intersect", "common", "overlap"},
}
