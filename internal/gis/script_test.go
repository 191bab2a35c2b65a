package gis

import (
	"strings"
	"testing"
)

func TestRenderBufferScript(t *testing.T) {
	script, err := RenderScript("buffer", map[string]any{
		"input_layer": "rivers",
		"distance":    2000.0,
		"segments":    5,
		"dissolve":    true,
	})
	if err != nil {
		t.Fatalf("RenderScript: %v", err)
	}

	for _, want := range []string{
		"native:buffer",
		"'INPUT': 'rivers'",
		"'DISTANCE': 2000",
		"'SEGMENTS': 5",
		"'DISSOLVE': True",
		"TEMPORARY_OUTPUT",
	} {
		if !strings.Contains(script, want) {
			t.Errorf("script missing %q:\n%s", want, script)
		}
	}
}

func TestRenderBufferScriptDefaults(t *testing.T) {
	script, err := RenderScript("buffer", map[string]any{"input_layer": "rivers", "distance": 100.0})
	if err != nil {
		t.Fatalf("RenderScript: %v", err)
	}
	if !strings.Contains(script, "'DISSOLVE': False") {
		t.Errorf("dissolve should default to False:\n%s", script)
	}
	if !strings.Contains(script, "'SEGMENTS': 5") {
		t.Errorf("segments should default to 5:\n%s", script)
	}
}

func TestRenderOverlayScripts(t *testing.T) {
	for _, op := range []string{"clip", "intersection", "union"} {
		t.Run(op, func(t *testing.T) {
			script, err := RenderScript(op, map[string]any{
				"input_layer":   "roads",
				"overlay_layer": "districts",
			})
			if err != nil {
				t.Fatalf("RenderScript: %v", err)
			}
			if !strings.Contains(script, "native:"+op) {
				t.Errorf("script missing algorithm id:\n%s", script)
			}
			if !strings.Contains(script, "'INPUT': 'roads'") || !strings.Contains(script, "'OVERLAY': 'districts'") {
				t.Errorf("script missing layers:\n%s", script)
			}
		})
	}
}

func TestRenderSelectScript(t *testing.T) {
	script, err := RenderScript("select", map[string]any{
		"input_layer": "buildings",
		"expression":  "area > 1000",
	})
	if err != nil {
		t.Fatalf("RenderScript: %v", err)
	}
	if !strings.Contains(script, "mapLayersByName('buildings')") {
		t.Errorf("script missing layer lookup:\n%s", script)
	}
	if !strings.Contains(script, `selectByExpression("area > 1000")`) {
		t.Errorf("script missing expression:\n%s", script)
	}
}

func TestRenderUnknownOperation(t *testing.T) {
	if _, err := RenderScript("teleport", nil); err == nil {
		t.Error("want error for unsupported operation")
	}
}

func TestScriptExecutor(t *testing.T) {
	result := ScriptExecutor{}.Execute("buffer", map[string]any{
		"input_layer": "rivers",
		"distance":    100.0,
	})
	if !result.Success {
		t.Fatalf("result = %+v", result)
	}
	if !strings.Contains(result.Handle, "native:buffer") {
		t.Errorf("handle missing script:\n%s", result.Handle)
	}

	bad := ScriptExecutor{}.Execute("teleport", nil)
	if bad.Success {
		t.Error("unsupported operation must fail")
	}
}
