// Package safety screens operations before execution. Rules detect risky
// commands; any error-severity finding blocks execution, warnings pass
// through with the result.
package safety

import (
	"fmt"
	"log/slog"

	"github.com/mapspeak/mapspeak/internal/gis"
	"github.com/mapspeak/mapspeak/internal/intent"
)

// ErrorStats reports aggregate error history. Implemented by the error
// logger; may be nil when no history is available.
type ErrorStats interface {
	// MostCommonPrecedingOperation returns the operation most often
	// recorded immediately before an error, and how many times it
	// preceded one.
	MostCommonPrecedingOperation() (string, int)
}

// Rule is a single risk check. Detect returns a finding or nil. A rule
// that panics is skipped and logged; one broken rule must not take down
// the whole check.
type Rule struct {
	ID        string
	AppliesTo []intent.Operation // empty means all operations
	Detect    func(in *intent.Intent) *intent.Issue
}

func (r Rule) appliesTo(op intent.Operation) bool {
	if len(r.AppliesTo) == 0 {
		return true
	}
	for _, candidate := range r.AppliesTo {
		if candidate == op {
			return true
		}
	}
	return false
}

const (
	riskLargeBuffer     = "large_buffer_distance"
	riskLargeLayer      = "large_layer_operation"
	riskMissingParams   = "missing_required_parameters"
	riskErrorProne      = "error_prone_operation"
	errorProneMinCount  = 3
	defaultMaxFeatures  = 10000
	largeBufferDistance = 10000.0
)

// requiredParams lists the parameters each operation cannot run without.
var requiredParams = map[intent.Operation][]string{
	intent.OpBuffer: {"distance"},
}

// Checker evaluates prevention rules against an intent.
type Checker struct {
	rules       []Rule
	stats       gis.StatsProvider
	errors      ErrorStats
	maxFeatures int
	logger      *slog.Logger
}

// NewChecker creates a Checker with the default rule set. stats and
// errors may be nil; maxFeatures <= 0 falls back to the default.
func NewChecker(stats gis.StatsProvider, errors ErrorStats, maxFeatures int, logger *slog.Logger) *Checker {
	if logger == nil {
		logger = slog.Default()
	}
	if maxFeatures <= 0 {
		maxFeatures = defaultMaxFeatures
	}
	c := &Checker{stats: stats, errors: errors, maxFeatures: maxFeatures, logger: logger}
	c.rules = c.defaultRules()
	return c
}

// AddRule registers an additional rule.
func (c *Checker) AddRule(rule Rule) {
	c.rules = append(c.rules, rule)
}

func (c *Checker) defaultRules() []Rule {
	return []Rule{
		{
			ID:        riskLargeBuffer,
			AppliesTo: []intent.Operation{intent.OpBuffer},
			Detect: func(in *intent.Intent) *intent.Issue {
				d, ok := in.Distance()
				if !ok || d <= largeBufferDistance {
					return nil
				}
				return &intent.Issue{
					Type:     riskLargeBuffer,
					Message:  fmt.Sprintf("Buffer distance of %.0f meters is unusually large and may produce unusable output.", d),
					Severity: intent.SeverityWarning,
				}
			},
		},
		{
			ID: riskLargeLayer,
			AppliesTo: []intent.Operation{
				intent.OpBuffer, intent.OpClip, intent.OpIntersection, intent.OpUnion,
			},
			Detect: func(in *intent.Intent) *intent.Issue {
				if c.stats == nil {
					return nil
				}
				stats, ok := c.stats.LayerStats(in.InputLayer)
				if !ok || stats.FeatureCount <= c.maxFeatures {
					return nil
				}
				return &intent.Issue{
					Type: riskLargeLayer,
					Message: fmt.Sprintf("Layer %s has %d features. Consider selecting a subset first.",
						in.InputLayer, stats.FeatureCount),
					Severity: intent.SeverityWarning,
				}
			},
		},
		{
			ID: riskMissingParams,
			Detect: func(in *intent.Intent) *intent.Issue {
				required, ok := requiredParams[in.Operation]
				if !ok {
					return nil
				}
				for _, param := range required {
					if _, present := in.Parameters[param]; !present {
						return &intent.Issue{
							Type:     riskMissingParams,
							Message:  fmt.Sprintf("Required parameter %q is missing for %s.", param, in.Operation),
							Severity: intent.SeverityError,
						}
					}
				}
				return nil
			},
		},
		{
			ID: riskErrorProne,
			Detect: func(in *intent.Intent) *intent.Issue {
				if c.errors == nil {
					return nil
				}
				op, count := c.errors.MostCommonPrecedingOperation()
				if op == "" || op != string(in.Operation) || count < errorProneMinCount {
					return nil
				}
				return &intent.Issue{
					Type: riskErrorProne,
					Message: fmt.Sprintf("The %s operation preceded %d recent errors. Double-check parameters before running.",
						op, count),
					Severity: intent.SeverityWarning,
				}
			},
		},
	}
}

// CheckOperationRisks runs every applicable rule and collects findings.
func (c *Checker) CheckOperationRisks(in *intent.Intent) []intent.Issue {
	var findings []intent.Issue
	for _, rule := range c.rules {
		if !rule.appliesTo(in.Operation) {
			continue
		}
		if issue := c.runRule(rule, in); issue != nil {
			findings = append(findings, *issue)
		}
	}
	return findings
}

func (c *Checker) runRule(rule Rule, in *intent.Intent) (issue *intent.Issue) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("prevention rule panicked",
				"rule", rule.ID,
				"panic", fmt.Sprint(r))
			issue = nil
		}
	}()
	return rule.Detect(in)
}

// ValidateCommand runs risk checks and appends findings to the intent's
// validation issues.
func (c *Checker) ValidateCommand(in *intent.Intent) []intent.Issue {
	findings := c.CheckOperationRisks(in)
	in.ValidationIssues = append(in.ValidationIssues, findings...)
	return findings
}

// ShouldPreventExecution reports whether any finding is severe enough to
// block the operation.
func ShouldPreventExecution(findings []intent.Issue) bool {
	for _, finding := range findings {
		if finding.Severity == intent.SeverityError {
			return true
		}
	}
	return false
}

// AlternativeSuggestions proposes safer variants for blocked or risky
// operations.
func AlternativeSuggestions(in *intent.Intent, findings []intent.Issue) []string {
	var suggestions []string
	for _, finding := range findings {
		switch finding.Type {
		case riskLargeBuffer:
			suggestions = append(suggestions,
				"Try a smaller buffer distance, or buffer a selection instead of the whole layer")
		case riskLargeLayer:
			suggestions = append(suggestions,
				fmt.Sprintf("Select the features of interest in %s first, then run %s on the selection",
					in.InputLayer, in.Operation))
		case riskMissingParams:
			suggestions = append(suggestions,
				"Restate the command with all parameters, e.g., 'buffer roads by 100 meters'")
		case riskErrorProne:
			suggestions = append(suggestions,
				"Review the recent error log before retrying this operation")
		}
	}
	return suggestions
}
