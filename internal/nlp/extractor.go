// Package nlp turns raw command text into a structured interpretation. It
// combines a model-backed entity extractor (optional collaborator), a
// pattern-backed fallback, and a context-aware parser, then merges and
// disambiguates the two readings.
package nlp

import (
	"context"
	"log/slog"
	"regexp"
	"strconv"
	"strings"

	"github.com/mapspeak/mapspeak/internal/intent"
	"github.com/mapspeak/mapspeak/internal/vocab"
)

// Extraction is the entity-extraction result shape shared by both extractor
// variants. Action "" means no operation was identified.
type Extraction struct {
	Action           string         `json:"action"`
	PrimaryTarget    string         `json:"primary_target"`
	SecondaryTarget  string         `json:"secondary_target"`
	Parameters       map[string]any `json:"parameters"`
	Confidence       float64        `json:"confidence"`
	ProcessingMethod string         `json:"processing_method"`
}

// Tagger is the trained-model collaborator. It may be entirely absent; the
// pipeline degrades to pattern extraction and must never hard-fail on it.
type Tagger interface {
	Tag(ctx context.Context, text string, activeLayers []string, crs string) (Extraction, error)
}

// Extractor extracts an action, targets, and parameters from raw text,
// preferring the model collaborator and falling back to patterns. It never
// returns an error: extraction is always best-effort.
type Extractor struct {
	tagger   Tagger // nil means pattern-only
	patterns *PatternExtractor
}

// NewExtractor creates an Extractor. tagger may be nil.
func NewExtractor(tagger Tagger) *Extractor {
	return &Extractor{tagger: tagger, patterns: NewPatternExtractor()}
}

// Extract analyses the text and returns a best-effort extraction. On any
// tagger failure it falls back to pattern matching.
func (e *Extractor) Extract(ctx context.Context, text string, activeLayers []string, crs string) Extraction {
	if e.tagger != nil {
		ext, err := e.tagger.Tag(ctx, text, activeLayers, crs)
		if err != nil {
			slog.Warn("model extraction failed, falling back to patterns", "error", err)
		} else {
			if ext.Parameters == nil {
				ext.Parameters = map[string]any{}
			}
			if ext.ProcessingMethod == "" {
				ext.ProcessingMethod = "model"
			}
			return ext
		}
	}
	return e.patterns.Extract(text)
}

// operationTemplate is one ordered regex template for an operation. First
// match wins.
type operationTemplate struct {
	op      intent.Operation
	pattern *regexp.Regexp
	// bind maps capture groups onto the extraction record. Returning false
	// rejects the match (degenerate capture) and moves to the next template.
	bind func(groups []string, ext *Extraction) bool
}

// PatternExtractor is the pattern-backed fallback extractor.
type PatternExtractor struct {
	templates []operationTemplate
}

const unitAlt = `meters|meter|m|kilometers|kilometer|km|feet|foot|ft|miles|mile|mi`

// NewPatternExtractor compiles the ordered template list.
func NewPatternExtractor() *PatternExtractor {
	bindBuffer := func(groups []string, ext *Extraction) bool {
		target := cleanTarget(groups[1])
		if target == "" {
			return false
		}
		ext.PrimaryTarget = target
		if d, err := strconv.ParseFloat(groups[2], 64); err == nil {
			ext.Parameters["distance"] = vocab.ToMeters(d, groups[3])
			ext.Parameters["unit"] = "meters"
		}
		return true
	}
	bindOverlay := func(groups []string, ext *Extraction) bool {
		primary, secondary := cleanTarget(groups[1]), cleanTarget(groups[2])
		if primary == "" || secondary == "" {
			return false
		}
		ext.PrimaryTarget = primary
		ext.SecondaryTarget = secondary
		return true
	}
	bindSelect := func(groups []string, ext *Extraction) bool {
		target := cleanTarget(groups[1])
		if target == "" {
			return false
		}
		ext.PrimaryTarget = target
		ext.Parameters["expression"] = strings.TrimSpace(groups[2])
		return true
	}

	ts := []operationTemplate{
		{intent.OpBuffer, regexp.MustCompile(`(?i)(?:create|make)?\s*(?:a|the)?\s*buffer\s+(?:of|around|for)?\s*([\w\s]+?)\s+(?:by|of|with)?\s*([\d\.]+)\s*(` + unitAlt + `)\b`), bindBuffer},
		{intent.OpBuffer, regexp.MustCompile(`(?i)buffer\s+(?:the|a)?\s*([\w\s]+?)\s+(?:by|with)?\s*([\d\.]+)\s*(` + unitAlt + `)\b`), bindBuffer},
		{intent.OpClip, regexp.MustCompile(`(?i)clip\s+(?:the|a)?\s*([\w\s]+?)\s+(?:with|using|by)\s+(?:the|a)?\s*([\w\s]+)`), bindOverlay},
		{intent.OpClip, regexp.MustCompile(`(?i)extract\s+(?:the|a)?\s*([\w\s]+?)\s+from\s+(?:the|a)?\s*([\w\s]+)`), bindOverlay},
		{intent.OpIntersection, regexp.MustCompile(`(?i)(?:find|get|compute|calculate)\s+(?:the)?\s*intersection\s+(?:of|between)?\s+(?:the|a)?\s*([\w\s]+?)\s+(?:and|with)\s+(?:the|a)?\s*([\w\s]+)`), bindOverlay},
		{intent.OpIntersection, regexp.MustCompile(`(?i)intersect\s+(?:the|a)?\s*([\w\s]+?)\s+(?:with|and)\s+(?:the|a)?\s*([\w\s]+)`), bindOverlay},
		{intent.OpUnion, regexp.MustCompile(`(?i)union\s+(?:of\s+)?(?:the|a)?\s*([\w\s]+?)\s+(?:and|with)\s+(?:the|a)?\s*([\w\s]+)`), bindOverlay},
		{intent.OpSelect, regexp.MustCompile(`(?i)select\s+(?:from|in)?\s*(?:the|a)?\s*([\w\s]+?)\s+where\s+(.*)`), bindSelect},
		{intent.OpSelect, regexp.MustCompile(`(?i)find\s+(?:all)?\s*([\w\s]+?)\s+where\s+(.*)`), bindSelect},
		{intent.OpSelect, regexp.MustCompile(`(?i)show\s+(?:me)?\s+(?:all)?\s*([\w\s]+?)\s+(?:that|which)\s+(.*)`), bindSelect},
	}
	return &PatternExtractor{templates: ts}
}

// Extract runs the ordered template list; the first match wins. If nothing
// matches it falls back to a vocabulary substring scan at low confidence.
func (p *PatternExtractor) Extract(text string) Extraction {
	normalized := strings.TrimSpace(text)

	for _, t := range p.templates {
		groups := t.pattern.FindStringSubmatch(normalized)
		if groups == nil {
			continue
		}
		ext := Extraction{
			Action:           string(t.op),
			Parameters:       map[string]any{},
			ProcessingMethod: "pattern",
		}
		if !t.bind(groups, &ext) {
			continue
		}

		switch t.op {
		case intent.OpSelect:
			ext.Confidence = intent.ConfidenceExpressionMatch
		default:
			ext.Confidence = intent.ConfidencePatternMatch
		}
		return ext
	}

	return p.vocabScan(normalized)
}

// vocabScan is the last-resort extractor: scan for any operation synonym and
// a distance; confidence tops out low.
func (p *PatternExtractor) vocabScan(text string) Extraction {
	ext := Extraction{
		Parameters:       map[string]any{},
		Confidence:       intent.ConfidenceFloor,
		ProcessingMethod: "vocab_scan",
	}
	lower := strings.ToLower(text)

	for _, op := range vocab.Operations {
		for _, phrase := range vocab.OperationSynonyms[op] {
			if strings.Contains(lower, phrase) {
				ext.Action = op
				break
			}
		}
		if ext.Action != "" {
			break
		}
	}

	if groups := vocab.DistancePattern.FindStringSubmatch(text); groups != nil {
		if d, err := strconv.ParseFloat(groups[1], 64); err == nil {
			ext.Parameters["distance"] = vocab.ToMeters(d, groups[2])
			ext.Parameters["unit"] = "meters"
		}
	}

	if ext.Action != "" {
		ext.Confidence = intent.ConfidenceVocabFallback
	}
	return ext
}

// connectives that a loose capture group sometimes swallows as a "target".
var connectives = map[string]bool{
	"by": true, "with": true, "of": true, "for": true, "around": true,
	"the": true, "a": true, "an": true, "it": true, "and": true,
}

// cleanTarget trims articles and trailing "layer" noise off a captured
// target phrase. Returns "" for degenerate captures.
func cleanTarget(s string) string {
	s = strings.TrimSpace(strings.ToLower(s))
	for _, prefix := range []string{"the ", "a ", "an "} {
		s = strings.TrimPrefix(s, prefix)
	}
	s = strings.TrimSuffix(s, " layer")
	s = strings.TrimSpace(s)
	if s == "layer" || connectives[s] {
		return ""
	}
	return s
}
