// Package intent defines the operation-intent record that flows through the
// interpretation pipeline, and the closed set of operations the pipeline
// understands.
package intent

import (
	"encoding/json"
)

// Operation is the closed set of GIS operations the pipeline can produce.
// Keeping it a declared type (rather than free strings) forces every
// component to handle the full set explicitly.
type Operation string

const (
	OpBuffer       Operation = "buffer"
	OpClip         Operation = "clip"
	OpIntersection Operation = "intersection"
	OpUnion        Operation = "union"
	OpSelect       Operation = "select"
	OpMerge        Operation = "merge"
	OpSplit        Operation = "split"
	OpQuery        Operation = "query"
	OpProximity    Operation = "proximity"
	OpDensity      Operation = "density"
	OpStatistics   Operation = "statistics"
	OpUnknown      Operation = "unknown"
)

// ParseOperation maps a raw tag to an Operation, defaulting to OpUnknown.
func ParseOperation(s string) Operation {
	switch Operation(s) {
	case OpBuffer, OpClip, OpIntersection, OpUnion, OpSelect, OpMerge,
		OpSplit, OpQuery, OpProximity, OpDensity, OpStatistics:
		return Operation(s)
	default:
		return OpUnknown
	}
}

// IsOverlay reports whether the operation combines two layers.
func (o Operation) IsOverlay() bool {
	return o == OpClip || o == OpIntersection || o == OpUnion
}

// Severity of a validation issue or warning.
const (
	SeverityError   = "error"
	SeverityWarning = "warning"
)

// Issue is one validation finding. Severity "error" blocks execution.
type Issue struct {
	Type     string `json:"type"`
	Message  string `json:"message"`
	Severity string `json:"severity"`
}

// Warning is an advisory attached by the optimizer; it never blocks.
type Warning struct {
	Type     string `json:"type"`
	Message  string `json:"message"`
	Severity string `json:"severity"`
}

// Intent is the central record of the pipeline: one interpreted command.
// Confidence only ever rises as the record moves through merge, enhancement,
// and disambiguation, capped at 1.0.
type Intent struct {
	Operation           Operation      `json:"operation"`
	InputLayer          string         `json:"input_layer,omitempty"`
	SecondaryLayer      string         `json:"secondary_layer,omitempty"`
	Parameters          map[string]any `json:"parameters"`
	SpatialRelationship string         `json:"spatial_relationship,omitempty"`
	Confidence          float64        `json:"confidence"`
	OriginalText        string         `json:"original_text"`
	Warnings            []Warning      `json:"warnings,omitempty"`
	ValidationIssues    []Issue        `json:"validation_issues,omitempty"`
	Optimizations       map[string]any `json:"optimizations,omitempty"`
	ProcessingMethod    string         `json:"processing_method,omitempty"`
}

// New returns an empty intent for the given text with an initialized
// parameter map.
func New(text string) *Intent {
	return &Intent{
		Operation:    OpUnknown,
		Parameters:   map[string]any{},
		OriginalText: text,
	}
}

// Clone returns a deep copy. Cache hits hand out clones so no two commands
// ever share a mutable intent.
func (in *Intent) Clone() *Intent {
	if in == nil {
		return nil
	}
	out := *in
	out.Parameters = cloneMap(in.Parameters)
	out.Optimizations = cloneMap(in.Optimizations)
	out.Warnings = append([]Warning(nil), in.Warnings...)
	out.ValidationIssues = append([]Issue(nil), in.ValidationIssues...)
	return &out
}

// RaiseConfidence adds delta to the confidence without ever lowering it or
// exceeding 1.0.
func (in *Intent) RaiseConfidence(delta float64) {
	c := in.Confidence + delta
	if c > 1.0 {
		c = 1.0
	}
	if c > in.Confidence {
		in.Confidence = c
	}
}

// Distance returns parameters["distance"] as a float64 if present.
func (in *Intent) Distance() (float64, bool) {
	return floatParam(in.Parameters, "distance")
}

// FloatParam returns the named parameter as a float64 if present and numeric.
func (in *Intent) FloatParam(key string) (float64, bool) {
	return floatParam(in.Parameters, key)
}

// SetParam sets a parameter, allocating the map if needed.
func (in *Intent) SetParam(key string, value any) {
	if in.Parameters == nil {
		in.Parameters = map[string]any{}
	}
	in.Parameters[key] = value
}

// SetOptimization records an optimizer hint, allocating the map if needed.
func (in *Intent) SetOptimization(key string, value any) {
	if in.Optimizations == nil {
		in.Optimizations = map[string]any{}
	}
	in.Optimizations[key] = value
}

func floatParam(params map[string]any, key string) (float64, bool) {
	v, ok := params[key]
	if !ok {
		return 0, false
	}
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}

// FloatParam exposes floatParam for sibling packages working on raw
// parameter maps.
func FloatParam(params map[string]any, key string) (float64, bool) {
	return floatParam(params, key)
}

func cloneMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
