package query

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/mapspeak/mapspeak/internal/gis"
	"github.com/mapspeak/mapspeak/internal/intent"
)

// Limits are the dataset-size thresholds the optimizer tunes and warns
// against. Zero fields fall back to the defaults.
type Limits struct {
	MaxFeatures           int
	LargeDatasetThreshold int
	MemoryLimitMB         int
}

const (
	defaultMaxFeatures           = 10_000
	defaultLargeDatasetThreshold = 50_000
	defaultMemoryLimitMB         = 512
)

func (l Limits) withDefaults() Limits {
	if l.MaxFeatures <= 0 {
		l.MaxFeatures = defaultMaxFeatures
	}
	if l.LargeDatasetThreshold <= 0 {
		l.LargeDatasetThreshold = defaultLargeDatasetThreshold
	}
	if l.MemoryLimitMB <= 0 {
		l.MemoryLimitMB = defaultMemoryLimitMB
	}
	return l
}

// Optimizer tunes operation parameters against layer statistics and warns
// about expensive operations before they run.
type Optimizer struct {
	stats  gis.StatsProvider
	limits Limits
}

// NewOptimizer creates an Optimizer. stats may be nil, in which case only
// text-derived tuning applies.
func NewOptimizer(stats gis.StatsProvider, limits Limits) *Optimizer {
	return &Optimizer{stats: stats, limits: limits.withDefaults()}
}

const (
	memoryEfficientUnion = 5_000
	swapRatio            = 10.0
	bufferAreaRatioLimit = 0.5
	smallBufferDistance  = 10.0
	bytesPerFeatureEst   = 2048.0
)

// Optimize adjusts the intent's parameters in place and records what it
// changed as hints in intent.Optimizations.
func (o *Optimizer) Optimize(in *intent.Intent, session *gis.Session) {
	switch in.Operation {
	case intent.OpBuffer:
		o.optimizeBuffer(in)
	case intent.OpClip, intent.OpIntersection:
		o.optimizeOverlay(in)
	case intent.OpUnion:
		o.optimizeUnion(in)
	case intent.OpSelect, intent.OpQuery:
		o.optimizeSelect(in)
	}

	if stats, ok := o.layerStats(in.InputLayer); ok {
		overlay, _ := o.layerStats(in.SecondaryLayer)
		in.SetOptimization("estimated_processing_time",
			EstimateProcessingTime(in.Operation, stats, overlay))
	}

	o.addWarnings(in, session)
}

func (o *Optimizer) optimizeBuffer(in *intent.Intent) {
	stats, ok := o.layerStats(in.InputLayer)
	if ok && stats.FeatureCount > o.limits.MaxFeatures {
		tuned := false
		if segments, _ := in.FloatParam("segments"); segments > 5 {
			in.SetParam("segments", 5)
			in.SetOptimization("reduced_segments", true)
			tuned = true
		}
		if dissolve, _ := in.Parameters["dissolve"].(bool); dissolve {
			in.SetParam("dissolve", false)
			in.SetOptimization("dissolve_deferred", true)
			tuned = true
		}
		if tuned {
			in.SetOptimization("reason", "large dataset")
		}
	}

	if d, ok := in.Distance(); ok && d < smallBufferDistance {
		if segments, _ := in.FloatParam("segments"); segments > 4 {
			in.SetParam("segments", 4)
			in.SetOptimization("reduced_segments_small_buffer", true)
		}
	}
}

// optimizeOverlay swaps input and overlay when the input is much larger,
// so the spatial index is built over the smaller layer.
func (o *Optimizer) optimizeOverlay(in *intent.Intent) {
	inputStats, okA := o.layerStats(in.InputLayer)
	overlayStats, okB := o.layerStats(in.SecondaryLayer)
	if !okA || !okB || overlayStats.FeatureCount == 0 {
		return
	}

	ratio := float64(inputStats.FeatureCount) / float64(overlayStats.FeatureCount)
	if ratio > swapRatio && in.Operation == intent.OpIntersection {
		in.InputLayer, in.SecondaryLayer = in.SecondaryLayer, in.InputLayer
		in.SetOptimization("layers_swapped", true)
		in.SetOptimization("reason", "size difference between input and overlay")
	}

	if !inputStats.HasSpatialIndex {
		in.SetOptimization("build_spatial_index", true)
	}
}

func (o *Optimizer) optimizeUnion(in *intent.Intent) {
	stats, ok := o.layerStats(in.InputLayer)
	if ok && stats.FeatureCount > memoryEfficientUnion {
		in.SetParam("processing_method", "memory_efficient")
		in.SetOptimization("memory_efficient", true)
	}
}

// spatialExpressionKeywords mark selection expressions that filter on
// geometry rather than attributes alone.
var spatialExpressionKeywords = []string{"intersects", "contains", "within", "distance"}

func (o *Optimizer) optimizeSelect(in *intent.Intent) {
	stats, ok := o.layerStats(in.InputLayer)
	if !ok || stats.FeatureCount <= o.limits.MaxFeatures {
		return
	}

	if stats.HasSpatialIndex {
		in.SetOptimization("use_spatial_index", true)
	}

	if expr, _ := in.Parameters["expression"].(string); expr != "" {
		lower := strings.ToLower(expr)
		for _, keyword := range spatialExpressionKeywords {
			if strings.Contains(lower, keyword) {
				in.SetOptimization("spatial_first", true)
				in.SetOptimization("reason", "spatial query on large dataset")
				break
			}
		}
	}
}

// EstimateProcessingTime returns a coarse duration bucket for an operation
// given the layer statistics involved. overlay is ignored for single-layer
// operations.
func EstimateProcessingTime(op intent.Operation, input, overlay gis.LayerStats) string {
	inputCount := input.FeatureCount
	overlayCount := overlay.FeatureCount

	switch op {
	case intent.OpBuffer:
		switch {
		case inputCount < 1_000:
			return "< 5 seconds"
		case inputCount < 10_000:
			return "5-30 seconds"
		default:
			return "30+ seconds"
		}
	case intent.OpClip, intent.OpIntersection:
		complexity := float64(inputCount) * (float64(overlayCount)/1000 + 1)
		switch {
		case complexity < 10_000:
			return "< 10 seconds"
		case complexity < 100_000:
			return "10-60 seconds"
		default:
			return "1+ minutes"
		}
	case intent.OpSelect, intent.OpQuery:
		switch {
		case inputCount < 5_000:
			return "< 2 seconds"
		case inputCount < 50_000:
			return "2-10 seconds"
		default:
			return "10+ seconds"
		}
	default:
		return "unknown"
	}
}

// addWarnings flags operations likely to be slow or to blow past the
// memory budget.
func (o *Optimizer) addWarnings(in *intent.Intent, session *gis.Session) {
	stats, ok := o.layerStats(in.InputLayer)
	if ok {
		if stats.FeatureCount > o.limits.LargeDatasetThreshold {
			in.Warnings = append(in.Warnings, intent.Warning{
				Type: "large_dataset",
				Message: fmt.Sprintf("Layer %s has %d features. This operation may take a while.",
					in.InputLayer, stats.FeatureCount),
				Severity: intent.SeverityWarning,
			})
		}

		if mb := o.estimateMemoryMB(in, stats); mb > float64(o.limits.MemoryLimitMB) {
			in.Warnings = append(in.Warnings, intent.Warning{
				Type: "memory_pressure",
				Message: fmt.Sprintf("Estimated memory usage %.0f MB exceeds the %d MB budget.",
					mb, o.limits.MemoryLimitMB),
				Severity: intent.SeverityWarning,
			})
		}
	}

	if in.Operation == intent.OpBuffer && session != nil && session.Extent != nil {
		if d, ok := in.Distance(); ok {
			extentArea := session.Extent.Area()
			if extentArea > 0 && math.Pi*d*d/extentArea > bufferAreaRatioLimit {
				in.Warnings = append(in.Warnings, intent.Warning{
					Type:     "buffer_covers_view",
					Message:  "Buffer distance is large relative to the current view; results may cover most of the map.",
					Severity: intent.SeverityWarning,
				})
			}
		}
	}
}

// estimateMemoryMB is a rough upper bound on working-set size.
func (o *Optimizer) estimateMemoryMB(in *intent.Intent, stats gis.LayerStats) float64 {
	features := float64(stats.FeatureCount)
	if in.Operation.IsOverlay() {
		if overlay, ok := o.layerStats(in.SecondaryLayer); ok {
			features += float64(overlay.FeatureCount)
		}
	}
	mb := features * bytesPerFeatureEst / (1024 * 1024)
	if stats.EstimatedSizeMB > mb {
		mb = stats.EstimatedSizeMB
	}
	return mb
}

func (o *Optimizer) layerStats(name string) (gis.LayerStats, bool) {
	if o.stats == nil || name == "" {
		return gis.LayerStats{}, false
	}
	return o.stats.LayerStats(name)
}

// operationPriority orders operations so that selections run before
// geometry work and overlays run last. Unknown operations sort after
// everything else.
var operationPriority = map[intent.Operation]int{
	intent.OpSelect:       1,
	intent.OpBuffer:       2,
	intent.OpClip:         3,
	intent.OpIntersection: 4,
	intent.OpUnion:        5,
}

// OptimizeSequence reorders a batch of operations into a cheaper execution
// order. Each intent records its position in the original request under
// original_sequence_index. The sort is stable so equal-priority operations
// keep their relative order.
func OptimizeSequence(intents []*intent.Intent) []*intent.Intent {
	ordered := make([]*intent.Intent, len(intents))
	for i, in := range intents {
		in.SetParam("original_sequence_index", i)
		ordered[i] = in
	}

	sort.SliceStable(ordered, func(i, j int) bool {
		return priorityOf(ordered[i].Operation) < priorityOf(ordered[j].Operation)
	})
	return ordered
}

func priorityOf(op intent.Operation) int {
	if p, ok := operationPriority[op]; ok {
		return p
	}
	return len(operationPriority) + 1
}
