package nlp

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/mapspeak/mapspeak/internal/intent"
	"github.com/mapspeak/mapspeak/internal/vocab"
)

// Fragment is the context parser's reading of a command, produced
// independently of entity extraction.
type Fragment struct {
	Operation           intent.Operation
	Layers              []string
	Parameters          map[string]any
	SpatialRelationship string
	OriginalText        string
}

// InputLayer is the first mentioned layer, or "".
func (f Fragment) InputLayer() string {
	if len(f.Layers) > 0 {
		return f.Layers[0]
	}
	return ""
}

// SecondaryLayer is the second mentioned layer, or "".
func (f Fragment) SecondaryLayer() string {
	if len(f.Layers) > 1 {
		return f.Layers[1]
	}
	return ""
}

// ContextParser maps raw text to a coarse operation category and matches
// layer-name mentions against the active layer list.
type ContextParser struct {
	activeLayers []string
	crs          string
}

// NewContextParser creates a parser for the given active layers and CRS.
func NewContextParser(activeLayers []string, crs string) *ContextParser {
	return &ContextParser{activeLayers: activeLayers, crs: crs}
}

// IdentifyOperation returns the most likely operation tag for the text, or
// OpUnknown.
func (c *ContextParser) IdentifyOperation(text string) intent.Operation {
	lower := strings.ToLower(text)
	for _, op := range vocab.Operations {
		for _, phrase := range vocab.OperationSynonyms[op] {
			if strings.Contains(lower, phrase) {
				return intent.ParseOperation(op)
			}
		}
	}
	return intent.OpUnknown
}

var layerTokenSplit = regexp.MustCompile(`[_\s-]+`)

// IdentifyLayers returns active layers mentioned in the text, in mention
// order. Exact case-sensitive substring matches are tried first; only if
// none exist does case-insensitive token matching run, where layer-name
// tokens longer than three characters are searched for individually.
func (c *ContextParser) IdentifyLayers(text string) []string {
	lower := strings.ToLower(text)

	type hit struct {
		layer string
		pos   int
	}
	var hits []hit
	for _, layer := range c.activeLayers {
		if pos := strings.Index(text, layer); pos >= 0 {
			hits = append(hits, hit{layer, pos})
		}
	}

	if len(hits) == 0 {
		for _, layer := range c.activeLayers {
			for _, token := range layerTokenSplit.Split(strings.ToLower(layer), -1) {
				if len(token) > 3 {
					if pos := strings.Index(lower, token); pos >= 0 {
						hits = append(hits, hit{layer, pos})
						break
					}
				}
			}
		}
	}

	// Mention order, not active-layer order: the first mentioned layer
	// becomes the input layer downstream.
	for i := 1; i < len(hits); i++ {
		for j := i; j > 0 && hits[j].pos < hits[j-1].pos; j-- {
			hits[j], hits[j-1] = hits[j-1], hits[j]
		}
	}

	layers := make([]string, 0, len(hits))
	for _, h := range hits {
		layers = append(layers, h.layer)
	}
	return layers
}

// ExtractNumericParameters pulls distances out of the text, converted to
// meters.
func (c *ContextParser) ExtractNumericParameters(text string) map[string]any {
	params := map[string]any{}
	if groups := vocab.DistancePattern.FindStringSubmatch(text); groups != nil {
		if d, err := strconv.ParseFloat(groups[1], 64); err == nil {
			params["distance"] = vocab.ToMeters(d, groups[2])
			params["unit"] = "meters"
		}
	}
	return params
}

// IdentifySpatialRelationship returns the first spatial-relationship term
// found in the text, or "".
func (c *ContextParser) IdentifySpatialRelationship(text string) string {
	lower := strings.ToLower(text)
	for _, rel := range vocab.SpatialRelationships {
		if strings.Contains(lower, rel) {
			return rel
		}
	}
	return ""
}

// ParseCommand composes the individual identifiers into one fragment.
func (c *ContextParser) ParseCommand(text string) Fragment {
	return Fragment{
		Operation:           c.IdentifyOperation(text),
		Layers:              c.IdentifyLayers(text),
		Parameters:          c.ExtractNumericParameters(text),
		SpatialRelationship: c.IdentifySpatialRelationship(text),
		OriginalText:        text,
	}
}
