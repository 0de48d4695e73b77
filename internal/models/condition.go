package models

import "fmt"

// Condition is one experimental treatment applied before the
// assistant attempts a fix.
type Condition string

const (
	// ConditionBaseline gives the assistant no context aid.
	ConditionBaseline Condition = "baseline"

	// ConditionFlatContext injects a single flat context dump
	// (a generated repo-level CLAUDE.md/AGENTS.md pair).
	ConditionFlatContext Condition = "flat_context"

	// ConditionStructuredLayer injects a structured knowledge layer
	// (per-package AGENTS.md files).
	ConditionStructuredLayer Condition = "structured_layer"
)

// AllConditions lists the supported conditions in report order.
var AllConditions = []Condition{
	ConditionBaseline,
	ConditionFlatContext,
	ConditionStructuredLayer,
}

// ParseCondition validates a condition name.
func ParseCondition(s string) (Condition, error) {
	for _, c := range AllConditions {
		if string(c) == s {
			return c, nil
		}
	}
	return "", fmt.Errorf("unknown condition %q", s)
}

// RequiresArtifact reports whether the condition depends on a
// precomputed treatment artifact from the cache.
func (c Condition) RequiresArtifact() bool {
	return c == ConditionFlatContext || c == ConditionStructuredLayer
}
