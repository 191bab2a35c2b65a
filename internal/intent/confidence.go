package intent

// Confidence arithmetic used across the pipeline. The exact values are part
// of the behavioral contract: validation and disambiguation key off them.
const (
	// ConfidenceFloor is assigned when nothing at all matched.
	ConfidenceFloor = 0.1

	// ConfidenceVocabFallback is the ceiling for vocabulary-substring scans.
	ConfidenceVocabFallback = 0.3

	// ConfidencePatternMatch is assigned by a full pattern-template match.
	ConfidencePatternMatch = 0.8

	// ConfidenceExpressionMatch is used for matched select expressions,
	// which are easier to misread than geometric templates.
	ConfidenceExpressionMatch = 0.7

	// ConfidenceModelBase is the model-backed extractor's baseline before
	// per-finding boosts.
	ConfidenceModelBase = 0.5

	// BoostOperationFound is added when an operation is identified.
	BoostOperationFound = 0.2

	// BoostEntityFound is added per extracted entity (target, distance).
	BoostEntityFound = 0.1

	// BoostInputConfirmed is added when the input layer matches an active
	// layer during merging.
	BoostInputConfirmed = 0.1

	// BoostSecondaryConfirmed is added when the secondary layer matches an
	// active layer during merging.
	BoostSecondaryConfirmed = 0.05

	// BoostEnhancement is added when regex enhancement recovers a missing
	// parameter after the NLP pass.
	BoostEnhancement = 0.1

	// DisambiguationThreshold triggers fallback inference below it; it is
	// also the low-confidence validation warning cutoff.
	DisambiguationThreshold = 0.6

	// EnhancementCeiling: results above it are left alone by regex
	// enhancement so a confident interpretation is never overridden.
	EnhancementCeiling = 0.8
)
