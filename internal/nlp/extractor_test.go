package nlp

import (
	"context"
	"errors"
	"testing"

	"github.com/mapspeak/mapspeak/internal/intent"
)

func TestPatternExtract(t *testing.T) {
	p := NewPatternExtractor()

	tests := []struct {
		name          string
		text          string
		wantAction    string
		wantPrimary   string
		wantSecondary string
		wantDistance  float64
		wantConf      float64
	}{
		{
			name:         "buffer with unit conversion",
			text:         "Buffer the rivers layer by 2 kilometers",
			wantAction:   "buffer",
			wantPrimary:  "rivers",
			wantDistance: 2000,
			wantConf:     intent.ConfidencePatternMatch,
		},
		{
			name:         "buffer meters",
			text:         "buffer roads by 100 meters",
			wantAction:   "buffer",
			wantPrimary:  "roads",
			wantDistance: 100,
			wantConf:     intent.ConfidencePatternMatch,
		},
		{
			name:          "clip with overlay",
			text:          "clip the roads layer with city boundaries",
			wantAction:    "clip",
			wantPrimary:   "roads",
			wantSecondary: "city boundaries",
			wantConf:      intent.ConfidencePatternMatch,
		},
		{
			name:          "intersection phrasing",
			text:          "find the intersection of parcels and flood zones",
			wantAction:    "intersection",
			wantPrimary:   "parcels",
			wantSecondary: "flood zones",
			wantConf:      intent.ConfidencePatternMatch,
		},
		{
			name:        "select where",
			text:        "select from buildings where area > 1000",
			wantAction:  "select",
			wantPrimary: "buildings",
			wantConf:    intent.ConfidenceExpressionMatch,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ext := p.Extract(tt.text)
			if ext.Action != tt.wantAction {
				t.Errorf("action = %q, want %q", ext.Action, tt.wantAction)
			}
			if ext.PrimaryTarget != tt.wantPrimary {
				t.Errorf("primary = %q, want %q", ext.PrimaryTarget, tt.wantPrimary)
			}
			if tt.wantSecondary != "" && ext.SecondaryTarget != tt.wantSecondary {
				t.Errorf("secondary = %q, want %q", ext.SecondaryTarget, tt.wantSecondary)
			}
			if tt.wantDistance != 0 {
				d, ok := ext.Parameters["distance"].(float64)
				if !ok || d != tt.wantDistance {
					t.Errorf("distance = %v, want %v", ext.Parameters["distance"], tt.wantDistance)
				}
			}
			if ext.Confidence != tt.wantConf {
				t.Errorf("confidence = %v, want %v", ext.Confidence, tt.wantConf)
			}
		})
	}
}

func TestPatternExtractRejectsConnectiveTarget(t *testing.T) {
	p := NewPatternExtractor()

	// "buffer by 100 meters" names no layer; the capture group would
	// otherwise swallow "by". The match must be rejected and extraction
	// fall through to the vocabulary scan at low confidence.
	ext := p.Extract("buffer by 100 meters")
	if ext.PrimaryTarget != "" {
		t.Errorf("primary = %q, want empty", ext.PrimaryTarget)
	}
	if ext.Action != "buffer" {
		t.Errorf("action = %q, want buffer from vocab scan", ext.Action)
	}
	if ext.Confidence != intent.ConfidenceVocabFallback {
		t.Errorf("confidence = %v, want %v", ext.Confidence, intent.ConfidenceVocabFallback)
	}
	if d, _ := ext.Parameters["distance"].(float64); d != 100 {
		t.Errorf("distance = %v, want 100", ext.Parameters["distance"])
	}
}

func TestPatternExtractNoMatch(t *testing.T) {
	p := NewPatternExtractor()

	ext := p.Extract("hello there")
	if ext.Action != "" {
		t.Errorf("action = %q, want empty", ext.Action)
	}
	if ext.Confidence != intent.ConfidenceFloor {
		t.Errorf("confidence = %v, want floor %v", ext.Confidence, intent.ConfidenceFloor)
	}
}

type stubTagger struct {
	ext Extraction
	err error
}

func (s stubTagger) Tag(ctx context.Context, text string, activeLayers []string, crs string) (Extraction, error) {
	return s.ext, s.err
}

func TestExtractorPrefersTagger(t *testing.T) {
	e := NewExtractor(stubTagger{ext: Extraction{
		Action:        "buffer",
		PrimaryTarget: "rivers",
		Confidence:    0.95,
	}})

	ext := e.Extract(context.Background(), "anything", nil, "")
	if ext.Action != "buffer" || ext.PrimaryTarget != "rivers" || ext.Confidence != 0.95 {
		t.Errorf("unexpected extraction: %+v", ext)
	}
	if ext.ProcessingMethod != "model" {
		t.Errorf("processing method = %q, want model", ext.ProcessingMethod)
	}
	if ext.Parameters == nil {
		t.Error("parameters map not initialized")
	}
}

func TestExtractorFallsBackOnTaggerError(t *testing.T) {
	e := NewExtractor(stubTagger{err: errors.New("connection refused")})

	ext := e.Extract(context.Background(), "buffer roads by 100 meters", nil, "")
	if ext.Action != "buffer" {
		t.Errorf("action = %q, want buffer from pattern fallback", ext.Action)
	}
	if ext.ProcessingMethod != "pattern" {
		t.Errorf("processing method = %q, want pattern", ext.ProcessingMethod)
	}
}
