package gis

import (
	"fmt"

	"github.com/google/uuid"
)

// ScriptExecutor is the default plan-only executor. It renders the operation
// as a QGIS processing script and returns the script as the result handle;
// a host with a live geoprocessing engine substitutes its own Executor.
type ScriptExecutor struct{}

func (ScriptExecutor) Execute(operation string, params map[string]any) ExecResult {
	script, err := RenderScript(operation, params)
	if err != nil {
		return ExecResult{Success: false, Message: err.Error()}
	}
	return ExecResult{
		Success: true,
		Message: fmt.Sprintf("planned %s operation (script generated)", operation),
		Handle:  uuid.NewString() + "\n" + script,
	}
}

// RenderScript formats a resolved operation as a QGIS processing command.
func RenderScript(operation string, params map[string]any) (string, error) {
	switch operation {
	case "buffer":
		return fmt.Sprintf(
			"processing.run('native:buffer', {'INPUT': '%v', 'DISTANCE': %v, 'SEGMENTS': %v, "+
				"'END_CAP_STYLE': %v, 'JOIN_STYLE': %v, 'MITER_LIMIT': %v, 'DISSOLVE': %v, "+
				"'OUTPUT': 'TEMPORARY_OUTPUT'})",
			param(params, "input_layer", "input_layer"),
			param(params, "distance", 0),
			param(params, "segments", 5),
			param(params, "end_cap_style", 0),
			param(params, "join_style", 0),
			param(params, "miter_limit", 2),
			pyBool(params, "dissolve"),
		), nil
	case "clip":
		return fmt.Sprintf(
			"processing.run('native:clip', {'INPUT': '%v', 'OVERLAY': '%v', 'OUTPUT': 'TEMPORARY_OUTPUT'})",
			param(params, "input_layer", "input_layer"),
			param(params, "overlay_layer", "overlay_layer"),
		), nil
	case "intersection":
		return fmt.Sprintf(
			"processing.run('native:intersection', {'INPUT': '%v', 'OVERLAY': '%v', "+
				"'INPUT_FIELDS': [], 'OVERLAY_FIELDS': [], 'OUTPUT': 'TEMPORARY_OUTPUT'})",
			param(params, "input_layer", "input_layer"),
			param(params, "overlay_layer", "overlay_layer"),
		), nil
	case "union":
		return fmt.Sprintf(
			"processing.run('native:union', {'INPUT': '%v', 'OVERLAY': '%v', 'OUTPUT': 'TEMPORARY_OUTPUT'})",
			param(params, "input_layer", "input_layer"),
			param(params, "overlay_layer", "overlay_layer"),
		), nil
	case "select":
		return fmt.Sprintf(
			"layer = QgsProject.instance().mapLayersByName('%v')[0]\nlayer.selectByExpression(\"%v\")",
			param(params, "input_layer", "input_layer"),
			param(params, "expression", ""),
		), nil
	default:
		return "", fmt.Errorf("no script template for operation %q", operation)
	}
}

func param(params map[string]any, key string, fallback any) any {
	if v, ok := params[key]; ok && v != nil {
		return v
	}
	return fallback
}

func pyBool(params map[string]any, key string) string {
	if v, ok := params[key].(bool); ok && v {
		return "True"
	}
	return "False"
}
