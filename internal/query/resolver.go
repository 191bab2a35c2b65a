package query

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/mapspeak/mapspeak/internal/gis"
	"github.com/mapspeak/mapspeak/internal/intent"
)

// Endcap and join style codes as used by the buffer algorithm.
var (
	capStyles = map[string]int{
		"round":  0,
		"flat":   1,
		"square": 2,
	}
	joinStyles = map[string]int{
		"round": 0,
		"miter": 1,
		"bevel": 2,
	}
)

// operatorSubstitutions maps natural-language comparison phrases onto SQL
// operators. Applied longest phrase first so "greater than or equal to"
// wins over "greater than".
var operatorSubstitutions = map[string]string{
	"greater than or equal to": ">=",
	"less than or equal to":    "<=",
	"greater than":             ">",
	"more than":                ">",
	"less than":                "<",
	"fewer than":               "<",
	"at least":                 ">=",
	"at most":                  "<=",
	"not equal to":             "!=",
	"equal to":                 "=",
	"equals":                   "=",
	"is not":                   "!=",
	"is":                       "=",
	"contains":                 "LIKE",
}

var orderedSubstitutions = func() []string {
	phrases := make([]string, 0, len(operatorSubstitutions))
	for phrase := range operatorSubstitutions {
		phrases = append(phrases, phrase)
	}
	sort.Slice(phrases, func(i, j int) bool {
		return len(phrases[i]) > len(phrases[j])
	})
	return phrases
}()

// spatialPredicates maps relationship phrases onto spatial predicates.
var spatialPredicates = map[string]string{
	"within":       "within",
	"near":         "within_distance",
	"close to":     "within_distance",
	"inside":       "within",
	"outside":      "disjoint",
	"intersecting": "intersects",
	"touching":     "touches",
	"containing":   "contains",
	"crossing":     "crosses",
	"overlapping":  "overlaps",
}

// bufferDistanceForScale returns a sensible default buffer distance in
// meters for a map scale denominator.
func bufferDistanceForScale(scale float64) float64 {
	switch {
	case scale > 1_000_000:
		return 5000
	case scale > 100_000:
		return 1000
	case scale > 10_000:
		return 200
	case scale > 1_000:
		return 50
	default:
		return 10
	}
}

// Resolver fills in unstated operation parameters with defaults derived
// from the session and the command text itself.
type Resolver struct{}

// NewResolver creates a Resolver.
func NewResolver() *Resolver { return &Resolver{} }

// Resolve completes the intent's parameter set in place. Explicitly
// stated parameters are never overwritten.
func (r *Resolver) Resolve(in *intent.Intent, session *gis.Session) {
	switch in.Operation {
	case intent.OpBuffer:
		r.resolveBuffer(in, session)
	case intent.OpClip, intent.OpIntersection, intent.OpUnion:
		r.resolveOverlay(in)
	case intent.OpSelect, intent.OpQuery:
		r.resolveSelect(in)
	}
}

func (r *Resolver) resolveBuffer(in *intent.Intent, session *gis.Session) {
	if _, ok := in.Distance(); !ok {
		distance := 100.0
		if session != nil && session.Scale > 0 {
			distance = bufferDistanceForScale(session.Scale)
		}
		in.SetParam("distance", distance)
		in.SetParam("unit", "meters")
		in.SetParam("auto_completed_distance", true)
	}

	r.extractStyleParams(in)

	setDefault(in, "segments", 5)
	setDefault(in, "end_cap_style", capStyles["round"])
	setDefault(in, "join_style", joinStyles["round"])
	setDefault(in, "miter_limit", 2.0)
	setDefault(in, "dissolve", false)
}

func (r *Resolver) resolveOverlay(in *intent.Intent) {
	setDefault(in, "output_geometry", "intersection")
	setDefault(in, "keep_attributes", true)
}

func (r *Resolver) resolveSelect(in *intent.Intent) {
	if expr, ok := in.Parameters["expression"].(string); ok {
		in.SetParam("expression", translateExpression(expr))
	}
	if in.SpatialRelationship != "" {
		if predicate, ok := spatialPredicates[in.SpatialRelationship]; ok {
			in.SetParam("spatial_predicate", predicate)
		}
	}
	setDefault(in, "selection_mode", "new")
}

var (
	segmentsPattern = regexp.MustCompile(`(?i)(\d+)\s+segments?`)
	flatCapPattern  = regexp.MustCompile(`(?i)\b(flat|square)\s+(?:cap|end)s?\b`)
	joinPattern     = regexp.MustCompile(`(?i)\b(miter|bevel)\s+joins?\b`)
	dissolvePattern = regexp.MustCompile(`(?i)\b(dissolve[d]?|merge[d]?|combined?)\b`)
)

// extractStyleParams scans the original command text for buffer styling
// hints the entity extractor does not capture.
func (r *Resolver) extractStyleParams(in *intent.Intent) {
	text := in.OriginalText

	if groups := segmentsPattern.FindStringSubmatch(text); groups != nil {
		if n, err := strconv.Atoi(groups[1]); err == nil && n > 0 {
			in.SetParam("segments", n)
		}
	}
	if groups := flatCapPattern.FindStringSubmatch(text); groups != nil {
		if code, ok := capStyles[strings.ToLower(groups[1])]; ok {
			in.SetParam("end_cap_style", code)
		}
	}
	if groups := joinPattern.FindStringSubmatch(text); groups != nil {
		if code, ok := joinStyles[strings.ToLower(groups[1])]; ok {
			in.SetParam("join_style", code)
		}
	}
	if dissolvePattern.MatchString(text) {
		in.SetParam("dissolve", true)
	}
}

var (
	startsWithPattern = regexp.MustCompile(`(?i)\bstarts with\s+['"]?([^'"]+?)['"]?\s*$`)
	endsWithPattern   = regexp.MustCompile(`(?i)\bends with\s+['"]?([^'"]+?)['"]?\s*$`)
)

// translateExpression rewrites natural-language comparisons into a SQL-like
// expression. Longest phrases substitute first to avoid partial matches.
// Substring matches become LIKE with the wildcard placed by phrase:
// "contains" wraps both sides, "starts with" appends, "ends with" prepends.
func translateExpression(expr string) string {
	result := startsWithPattern.ReplaceAllString(expr, "LIKE '$1%'")
	result = endsWithPattern.ReplaceAllString(result, "LIKE '%$1'")

	for _, phrase := range orderedSubstitutions {
		op := operatorSubstitutions[phrase]
		pattern := regexp.MustCompile(`(?i)\b` + regexp.QuoteMeta(phrase) + `\b`)
		result = pattern.ReplaceAllString(result, op)
	}

	// Wrap the LIKE operand in wildcards when the user asked for "contains".
	// Prefix and suffix matches already carry their wildcard.
	if strings.Contains(result, "LIKE") {
		parts := strings.SplitN(result, "LIKE", 2)
		if len(parts) == 2 {
			operand := strings.TrimSpace(parts[1])
			operand = strings.Trim(operand, `'"`)
			if !strings.Contains(operand, "%") {
				result = fmt.Sprintf("%s LIKE '%%%s%%'", strings.TrimSpace(parts[0]), operand)
			}
		}
	}

	return result
}

func setDefault(in *intent.Intent, key string, value any) {
	if _, ok := in.Parameters[key]; !ok {
		in.SetParam(key, value)
	}
}
