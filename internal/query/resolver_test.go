package query

import (
	"testing"

	"github.com/mapspeak/mapspeak/internal/gis"
	"github.com/mapspeak/mapspeak/internal/intent"
)

func TestBufferDistanceForScale(t *testing.T) {
	tests := []struct {
		scale float64
		want  float64
	}{
		{2_000_000, 5000},
		{1_000_000, 1000},
		{500_000, 1000},
		{50_000, 200},
		{5_000, 50},
		{500, 10},
	}
	for _, tt := range tests {
		if got := bufferDistanceForScale(tt.scale); got != tt.want {
			t.Errorf("bufferDistanceForScale(%v) = %v, want %v", tt.scale, got, tt.want)
		}
	}
}

func TestResolveBufferDefaults(t *testing.T) {
	in := intent.New("buffer rivers by 200 meters")
	in.Operation = intent.OpBuffer
	in.InputLayer = "rivers"
	in.SetParam("distance", 200.0)

	NewResolver().Resolve(in, nil)

	if got := in.Parameters["segments"]; got != 5 {
		t.Errorf("segments = %v, want 5", got)
	}
	if got := in.Parameters["end_cap_style"]; got != 0 {
		t.Errorf("end_cap_style = %v, want 0 (round)", got)
	}
	if got := in.Parameters["join_style"]; got != 0 {
		t.Errorf("join_style = %v, want 0 (round)", got)
	}
	if got := in.Parameters["miter_limit"]; got != 2.0 {
		t.Errorf("miter_limit = %v, want 2.0", got)
	}
	if got := in.Parameters["dissolve"]; got != false {
		t.Errorf("dissolve = %v, want false", got)
	}
	if _, auto := in.Parameters["auto_completed_distance"]; auto {
		t.Error("stated distance must not be marked auto completed")
	}
}

func TestResolveBufferScaleDefaultDistance(t *testing.T) {
	in := intent.New("buffer rivers")
	in.Operation = intent.OpBuffer
	in.InputLayer = "rivers"

	NewResolver().Resolve(in, &gis.Session{Scale: 250_000})

	if d, _ := in.Distance(); d != 1000 {
		t.Errorf("distance = %v, want 1000 for 1:250000", d)
	}
	if auto, _ := in.Parameters["auto_completed_distance"].(bool); !auto {
		t.Error("auto_completed_distance marker missing")
	}
}

func TestResolveBufferFallbackDistance(t *testing.T) {
	in := intent.New("buffer rivers")
	in.Operation = intent.OpBuffer

	NewResolver().Resolve(in, nil)

	if d, _ := in.Distance(); d != 100 {
		t.Errorf("distance = %v, want the 100 meter fallback", d)
	}
}

func TestExtractStyleParams(t *testing.T) {
	in := intent.New("buffer rivers by 100 meters with 8 segments, flat caps and miter joins, dissolved")
	in.Operation = intent.OpBuffer
	in.SetParam("distance", 100.0)

	NewResolver().Resolve(in, nil)

	if got := in.Parameters["segments"]; got != 8 {
		t.Errorf("segments = %v, want 8", got)
	}
	if got := in.Parameters["end_cap_style"]; got != 1 {
		t.Errorf("end_cap_style = %v, want 1 (flat)", got)
	}
	if got := in.Parameters["join_style"]; got != 1 {
		t.Errorf("join_style = %v, want 1 (miter)", got)
	}
	if got := in.Parameters["dissolve"]; got != true {
		t.Errorf("dissolve = %v, want true", got)
	}
}

func TestResolveOverlayDefaults(t *testing.T) {
	in := intent.New("clip roads with districts")
	in.Operation = intent.OpClip
	in.InputLayer = "roads"
	in.SecondaryLayer = "districts"

	NewResolver().Resolve(in, nil)

	if got := in.Parameters["output_geometry"]; got != "intersection" {
		t.Errorf("output_geometry = %v", got)
	}
	if got := in.Parameters["keep_attributes"]; got != true {
		t.Errorf("keep_attributes = %v", got)
	}
}

func TestResolveSelect(t *testing.T) {
	in := intent.New("select parcels near rivers where name contains oak")
	in.Operation = intent.OpSelect
	in.InputLayer = "parcels"
	in.SpatialRelationship = "near"
	in.SetParam("expression", "name contains oak")

	NewResolver().Resolve(in, nil)

	if got := in.Parameters["expression"]; got != "name LIKE '%oak%'" {
		t.Errorf("expression = %q, want name LIKE '%%oak%%'", got)
	}
	if got := in.Parameters["spatial_predicate"]; got != "within_distance" {
		t.Errorf("spatial_predicate = %v, want within_distance", got)
	}
	if got := in.Parameters["selection_mode"]; got != "new" {
		t.Errorf("selection_mode = %v, want new", got)
	}
}

func TestTranslateExpression(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"area greater than 1000", "area > 1000"},
		{"area is greater than 1000", "area = > 1000"},
		{"population at least 500", "population >= 500"},
		{"height less than or equal to 20", "height <= 20"},
		{"type is residential", "type = residential"},
		{"status is not active", "status != active"},
		{"name equals Main", "name = Main"},
		{"name contains 'oak'", "name LIKE '%oak%'"},
		{"name starts with Main", "name LIKE 'Main%'"},
		{"name starts with 'Main'", "name LIKE 'Main%'"},
		{"street ends with Avenue", "street LIKE '%Avenue'"},
		{"area > 1000", "area > 1000"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			if got := translateExpression(tt.in); got != tt.want {
				t.Errorf("translateExpression(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}
