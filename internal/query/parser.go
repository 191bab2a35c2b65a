// Package query turns an interpreted intent into a concrete,
// parameter-complete, optimized operation plan: parse, validate, resolve
// defaults, then tune against layer statistics.
package query

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/mapspeak/mapspeak/internal/gis"
	"github.com/mapspeak/mapspeak/internal/intent"
	"github.com/mapspeak/mapspeak/internal/nlp"
	"github.com/mapspeak/mapspeak/internal/vocab"
)

// Interpreter is the NLP front end the parser delegates to. Satisfied by
// *nlp.Engine; may be nil, in which case only pattern extraction runs.
type Interpreter interface {
	Interpret(ctx context.Context, text string, session *gis.Session) *intent.Intent
}

// Parser re-validates and enriches interpreted intents, filling missing
// fields from session context.
type Parser struct {
	interpreter Interpreter
	patterns    *nlp.PatternExtractor
}

// NewParser creates a Parser. interpreter may be nil.
func NewParser(interpreter Interpreter) *Parser {
	return &Parser{interpreter: interpreter, patterns: nlp.NewPatternExtractor()}
}

var (
	secondaryPattern  = regexp.MustCompile(`(?i)(?:with|using|by|over|against)\s+(?:the|a)?\s*([\w\s]+)`)
	wherePattern      = regexp.MustCompile(`(?i)(?:where|that|which|with)\s+([\w\s]+?\s*(?:>|<|=|is|equals|contains|in)\s*[\w\s\.]+)`)
	bufferDefaultFrac = 0.01 // default buffer distance: 1% of average view dimension
)

// ParseQuery interprets the text and enriches the result: regex enhancement
// recovers parameters the NLP path missed (only below the confidence
// ceiling), and missing fields are auto-filled from context with
// auto_completed_* markers.
func (p *Parser) ParseQuery(ctx context.Context, text string, session *gis.Session) *intent.Intent {
	var in *intent.Intent
	if p.interpreter != nil {
		in = p.interpreter.Interpret(ctx, text, session)
	} else {
		in = p.parseWithPatterns(text)
	}

	p.enhance(in, text)
	p.fillFromContext(in, session)
	return in
}

// parseWithPatterns is the interpreter-less fallback.
func (p *Parser) parseWithPatterns(text string) *intent.Intent {
	ext := p.patterns.Extract(text)
	in := intent.New(strings.ToLower(strings.TrimSpace(text)))
	in.Operation = intent.ParseOperation(ext.Action)
	in.InputLayer = ext.PrimaryTarget
	in.SecondaryLayer = ext.SecondaryTarget
	for k, v := range ext.Parameters {
		in.Parameters[k] = v
	}
	in.Confidence = ext.Confidence
	in.ProcessingMethod = ext.ProcessingMethod
	return in
}

// enhance re-applies pattern matching for parameters the NLP path missed.
// Confident results are left untouched.
func (p *Parser) enhance(in *intent.Intent, text string) {
	if in.Confidence > intent.EnhancementCeiling {
		return
	}

	switch {
	case in.Operation == intent.OpBuffer:
		if _, ok := in.Distance(); !ok {
			if groups := vocab.DistancePattern.FindStringSubmatch(text); groups != nil {
				if d, err := strconv.ParseFloat(groups[1], 64); err == nil {
					in.SetParam("distance", vocab.ToMeters(d, groups[2]))
					in.SetParam("unit", "meters")
					in.RaiseConfidence(intent.BoostEnhancement)
				}
			}
		}
	case in.Operation.IsOverlay():
		if in.SecondaryLayer == "" {
			if groups := secondaryPattern.FindStringSubmatch(text); groups != nil {
				in.SecondaryLayer = strings.TrimSpace(groups[1])
				in.RaiseConfidence(intent.BoostEnhancement)
			}
		}
	case in.Operation == intent.OpSelect:
		if _, ok := in.Parameters["expression"]; !ok {
			if groups := wherePattern.FindStringSubmatch(text); groups != nil {
				in.SetParam("expression", strings.TrimSpace(groups[1]))
				in.RaiseConfidence(intent.BoostEnhancement)
			}
		}
	}
}

// fillFromContext fills missing layers and distances from the session.
// Every auto-filled field carries an auto_completed_<field> marker so
// downstream consumers can tell inferred from stated values.
func (p *Parser) fillFromContext(in *intent.Intent, session *gis.Session) {
	if session == nil {
		return
	}

	if in.InputLayer == "" && len(session.ActiveLayers) > 0 {
		if session.SelectedLayer != "" {
			in.InputLayer = session.SelectedLayer
			in.SetParam("auto_completed_input", true)
		} else if visible := session.VisibleLayerNames(); len(visible) > 0 {
			in.InputLayer = visible[0]
			in.SetParam("auto_completed_input", true)
		}
	}

	switch {
	case in.Operation == intent.OpBuffer:
		if _, ok := in.Distance(); !ok && session.Extent != nil {
			in.SetParam("distance", session.Extent.AvgDimension()*bufferDefaultFrac)
			in.SetParam("unit", "meters")
			in.SetParam("auto_completed_distance", true)
		}
	case in.Operation.IsOverlay():
		if in.SecondaryLayer == "" {
			for _, name := range session.LayerNames() {
				if name != in.InputLayer {
					in.SecondaryLayer = name
					in.SetParam("auto_completed_secondary", true)
					break
				}
			}
		}
	}
}

// Validation issue types.
const (
	IssueUnknownOperation  = "unrecognized_operation"
	IssueMissingInput      = "missing_input_layer"
	IssueMissingParameter  = "missing_parameter"
	IssueInvalidParameter  = "invalid_parameter"
	IssueLargeDistance     = "large_buffer_distance"
	IssueMissingSecondary  = "missing_secondary_layer"
	IssueMissingCriteria   = "missing_selection_criteria"
	IssueLowConfidence     = "low_confidence"
	largeBufferDistance    = 10000.0
)

// Validate checks the intent for completeness and correctness. An unknown
// operation is an immediate error and short-circuits further checks.
func Validate(in *intent.Intent) []intent.Issue {
	var issues []intent.Issue

	if in.Operation == intent.OpUnknown {
		return append(issues, intent.Issue{
			Type:     IssueUnknownOperation,
			Message:  "Unknown or missing operation type.",
			Severity: intent.SeverityError,
		})
	}

	if in.InputLayer == "" {
		issues = append(issues, intent.Issue{
			Type:     IssueMissingInput,
			Message:  fmt.Sprintf("No input layer specified for %s operation.", in.Operation),
			Severity: intent.SeverityError,
		})
	}

	switch {
	case in.Operation == intent.OpBuffer:
		if d, ok := in.Distance(); !ok {
			issues = append(issues, intent.Issue{
				Type:     IssueMissingParameter,
				Message:  "No buffer distance specified.",
				Severity: intent.SeverityError,
			})
		} else if d <= 0 {
			issues = append(issues, intent.Issue{
				Type:     IssueInvalidParameter,
				Message:  "Buffer distance must be greater than zero.",
				Severity: intent.SeverityError,
			})
		} else if d > largeBufferDistance {
			issues = append(issues, intent.Issue{
				Type:     IssueLargeDistance,
				Message:  "Very large buffer distance may cause performance issues.",
				Severity: intent.SeverityWarning,
			})
		}
	case in.Operation.IsOverlay():
		if in.SecondaryLayer == "" {
			issues = append(issues, intent.Issue{
				Type:     IssueMissingSecondary,
				Message:  fmt.Sprintf("No overlay layer specified for %s operation.", in.Operation),
				Severity: intent.SeverityError,
			})
		}
	case in.Operation == intent.OpSelect:
		if _, ok := in.Parameters["expression"]; !ok && in.SpatialRelationship == "" {
			issues = append(issues, intent.Issue{
				Type:     IssueMissingCriteria,
				Message:  "No selection criteria specified.",
				Severity: intent.SeverityError,
			})
		}
	}

	if in.Confidence < intent.DisambiguationThreshold {
		issues = append(issues, intent.Issue{
			Type:     IssueLowConfidence,
			Message:  fmt.Sprintf("Low confidence in query interpretation (%.2f). Please clarify the command.", in.Confidence),
			Severity: intent.SeverityWarning,
		})
	}

	return issues
}

// CompletionSuggestions proposes ways to complete a partial query.
func CompletionSuggestions(in *intent.Intent) []string {
	var suggestions []string

	if in.Operation == intent.OpUnknown {
		return append(suggestions,
			"Try specifying an operation like 'buffer', 'clip', 'select', or 'intersection'")
	}

	switch {
	case in.Operation == intent.OpBuffer:
		if in.InputLayer == "" {
			suggestions = append(suggestions, "Specify which layer to buffer, e.g., 'buffer the roads layer'")
		}
		if _, ok := in.Distance(); !ok {
			suggestions = append(suggestions, "Specify a buffer distance, e.g., 'buffer by 500 meters'")
		}
	case in.Operation.IsOverlay():
		if in.InputLayer == "" {
			suggestions = append(suggestions,
				fmt.Sprintf("Specify the input layer for %s, e.g., '%s the roads layer'", in.Operation, in.Operation))
		}
		if in.SecondaryLayer == "" {
			suggestions = append(suggestions,
				fmt.Sprintf("Specify the overlay layer, e.g., '%s with city boundaries'", in.Operation))
		}
	case in.Operation == intent.OpSelect:
		if in.InputLayer == "" {
			suggestions = append(suggestions, "Specify which layer to select from, e.g., 'select from buildings'")
		}
		if _, ok := in.Parameters["expression"]; !ok {
			suggestions = append(suggestions,
				"Specify selection criteria, e.g., 'where area > 1000' or 'within 500m of rivers'")
		}
	}

	return suggestions
}
