package nlp

import (
	"context"
	"log/slog"
	"strings"

	"github.com/mapspeak/mapspeak/internal/gis"
	"github.com/mapspeak/mapspeak/internal/intent"
	"github.com/mapspeak/mapspeak/internal/vocab"
)

// Engine is the full interpretation front end: entity extraction and context
// parsing merged into one intent, with fallback disambiguation and a
// per-session result cache.
type Engine struct {
	extractor *Extractor
	cache     *interpretationCache
}

// NewEngine creates an Engine. tagger may be nil for pattern-only operation.
func NewEngine(tagger Tagger) *Engine {
	return &Engine{
		extractor: NewExtractor(tagger),
		cache:     newInterpretationCache(cacheCapacity),
	}
}

// Interpret runs both readers over the text and merges their outputs. Cached
// results are returned as value copies with a from_cache marker.
func (e *Engine) Interpret(ctx context.Context, text string, session *gis.Session) *intent.Intent {
	layers := session.LayerNames()
	crs := ""
	if session != nil {
		crs = session.CRS
	}

	key := cacheKey(text, layers, crs)
	if hit, ok := e.cache.get(key); ok {
		hit.SetParam("from_cache", true)
		return hit
	}

	extraction := e.extractor.Extract(ctx, text, layers, crs)
	fragment := NewContextParser(layers, crs).ParseCommand(text)

	merged := e.merge(extraction, fragment, text, layers)
	if merged.Confidence < intent.DisambiguationThreshold {
		e.disambiguate(merged, text, layers)
	}

	e.cache.put(key, merged)
	return merged
}

// merge combines the two readings. The context parser names the operation
// unless it came up unknown and the extractor has an action; layer targets
// prefer the extractor; parameters shallow-merge with extractor values
// winning; confidence is the max of both plus active-layer confirmation
// boosts.
func (e *Engine) merge(ext Extraction, frag Fragment, text string, activeLayers []string) *intent.Intent {
	out := intent.New(text)

	out.Operation = frag.Operation
	if out.Operation == intent.OpUnknown && ext.Action != "" {
		out.Operation = intent.ParseOperation(ext.Action)
	}

	out.InputLayer = firstNonEmpty(ext.PrimaryTarget, frag.InputLayer())
	out.SecondaryLayer = firstNonEmpty(ext.SecondaryTarget, frag.SecondaryLayer())

	for k, v := range frag.Parameters {
		out.Parameters[k] = v
	}
	for k, v := range ext.Parameters {
		out.Parameters[k] = v
	}

	out.SpatialRelationship = frag.SpatialRelationship
	out.Confidence = max(ext.Confidence, 0)
	out.ProcessingMethod = ext.ProcessingMethod
	if out.ProcessingMethod == "" {
		out.ProcessingMethod = "context"
	}

	if out.InputLayer != "" && matchesActiveLayer(out.InputLayer, activeLayers) {
		out.RaiseConfidence(intent.BoostInputConfirmed)
	}
	if out.SecondaryLayer != "" && matchesActiveLayer(out.SecondaryLayer, activeLayers) {
		out.RaiseConfidence(intent.BoostSecondaryConfirmed)
	}

	return out
}

// disambiguate applies fallback inference when confidence is low: action
// verbs co-occurring with domain keywords pin the operation to a closed set,
// and a missing input layer defaults to the first active layer. The original
// confidence is preserved for audit.
func (e *Engine) disambiguate(in *intent.Intent, text string, activeLayers []string) {
	in.SetParam("original_confidence", in.Confidence)

	lower := strings.ToLower(text)
	if in.Operation == intent.OpUnknown {
		if op := inferOperation(lower); op != intent.OpUnknown {
			in.Operation = op
			in.ProcessingMethod = "disambiguation"
			in.RaiseConfidence(intent.BoostOperationFound)
		}
	}

	if in.InputLayer == "" && len(activeLayers) > 0 {
		in.InputLayer = activeLayers[0]
		in.SetParam("auto_inferred_layer", true)
		slog.Debug("disambiguation inferred input layer",
			"layer", in.InputLayer, "text", text)
	}

	in.SetParam("disambiguation_applied", true)
}

// inferOperation scans for an action verb co-occurring with domain keywords.
// Only buffer, clip, select, and intersection can be inferred this way.
func inferOperation(lower string) intent.Operation {
	verb := false
	for _, v := range vocab.ActionVerbs {
		if strings.Contains(lower, v) {
			verb = true
			break
		}
	}
	if !verb {
		return intent.OpUnknown
	}
	for _, op := range []intent.Operation{intent.OpBuffer, intent.OpClip, intent.OpSelect, intent.OpIntersection} {
		for _, kw := range vocab.DisambiguationKeywords[string(op)] {
			if strings.Contains(lower, kw) {
				return op
			}
		}
	}
	return intent.OpUnknown
}

func matchesActiveLayer(name string, activeLayers []string) bool {
	for _, l := range activeLayers {
		if strings.EqualFold(l, name) {
			return true
		}
	}
	return false
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
