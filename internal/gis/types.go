// Package gis defines the contracts with the host GIS application: the
// read-only session snapshot, layer statistics, and the execution
// collaborator. The pipeline never performs spatial computation itself.
package gis

// Layer describes one layer loaded in the host session.
type Layer struct {
	Name    string `json:"name"`
	Type    string `json:"type"`
	Visible bool   `json:"visible"`
}

// Extent is a bounding box in map units.
type Extent struct {
	XMin float64 `json:"xmin"`
	YMin float64 `json:"ymin"`
	XMax float64 `json:"xmax"`
	YMax float64 `json:"ymax"`
}

// Width returns the extent width in map units.
func (e Extent) Width() float64 { return e.XMax - e.XMin }

// Height returns the extent height in map units.
func (e Extent) Height() float64 { return e.YMax - e.YMin }

// AvgDimension returns the mean of width and height, the basis for the
// default-buffer-distance heuristic (1% of view size).
func (e Extent) AvgDimension() float64 { return (e.Width() + e.Height()) / 2 }

// Area returns width times height.
func (e Extent) Area() float64 { return e.Width() * e.Height() }

// Session is a read-only snapshot of host state, valid for one command.
type Session struct {
	ActiveLayers  []Layer `json:"active_layers"`
	SelectedLayer string  `json:"selected_layer,omitempty"`
	CRS           string  `json:"crs,omitempty"`
	Extent        *Extent `json:"extent,omitempty"`
	Scale         float64 `json:"scale,omitempty"`
}

// LayerNames returns the names of all active layers in order.
func (s *Session) LayerNames() []string {
	if s == nil {
		return nil
	}
	names := make([]string, 0, len(s.ActiveLayers))
	for _, l := range s.ActiveLayers {
		names = append(names, l.Name)
	}
	return names
}

// VisibleLayerNames returns the names of visible layers in order.
func (s *Session) VisibleLayerNames() []string {
	if s == nil {
		return nil
	}
	var names []string
	for _, l := range s.ActiveLayers {
		if l.Visible {
			names = append(names, l.Name)
		}
	}
	return names
}

// LayerStats carries per-layer statistics used by the query optimizer.
type LayerStats struct {
	FeatureCount    int     `json:"feature_count"`
	HasSpatialIndex bool    `json:"has_spatial_index"`
	GeometryType    string  `json:"geometry_type"`
	FieldCount      int     `json:"field_count"`
	ExtentArea      float64 `json:"extent_area"`
	EstimatedSizeMB float64 `json:"estimated_size_mb"`
}

// StatsProvider supplies layer statistics. An unknown layer yields zero
// stats and ok=false, never an error.
type StatsProvider interface {
	LayerStats(name string) (stats LayerStats, ok bool)
}

// StaticStats is a StatsProvider backed by a fixed map. Used by tests and by
// hosts that push statistics with the session.
type StaticStats map[string]LayerStats

func (s StaticStats) LayerStats(name string) (LayerStats, bool) {
	st, ok := s[name]
	return st, ok
}

// ExecResult is the outcome reported by the execution collaborator. Handle is
// opaque to the pipeline and only recorded for logging.
type ExecResult struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Handle  string `json:"handle,omitempty"`
}

// Executor runs a resolved, optimized operation. The pipeline never inspects
// geometry; it passes the operation name and the complete parameter map.
type Executor interface {
	Execute(operation string, params map[string]any) ExecResult
}
