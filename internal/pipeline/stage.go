// Package pipeline composes stages into multi-step reasoning pipelines and
// runs them against a session. A stage tree is stateless across runs; all
// run-scoped data lives in the session, and mutation goes through the
// runner's merge step so the mutation path stays auditable.
package pipeline

import (
	"fmt"
)

// Kind discriminates the stage variants. Stage is a tagged variant rather
// than an interface hierarchy so the single dispatch in the runner stays
// exhaustiveness-checkable.
type Kind string

const (
	// KindLeaf delegates to the external reasoning engine.
	KindLeaf Kind = "leaf"
	// KindSequential runs children in listed order, draining each fully.
	KindSequential Kind = "sequential"
	// KindLoop repeats its children up to MaxIterations, terminating early
	// when a forwarded event escalates.
	KindLoop Kind = "loop"
	// KindChecker deterministically reads the status key and emits either
	// an escalate event or a continue event. No engine call.
	KindChecker Kind = "checker"
)

// DefaultStatusKey is the state key a checker inspects when none is set.
const DefaultStatusKey = "judge_output"

// Stage is one unit of pipeline logic. Only the fields for its Kind are
// meaningful; constructors enforce that.
type Stage struct {
	Kind Kind   `json:"kind"`
	Name string `json:"name"`

	// Leaf fields.
	Instruction string `json:"instruction,omitempty"`
	// OutputKey, when set on a leaf, is the state key the stage's final
	// output is merged under (last-write-wins).
	OutputKey string `json:"output_key,omitempty"`

	// Composite fields (sequential, loop).
	SubStages []*Stage `json:"sub_stages,omitempty"`

	// Loop fields. MaxIterations bounds total body passes.
	MaxIterations int `json:"max_iterations,omitempty"`

	// Checker fields.
	StatusKey string `json:"status_key,omitempty"`
}

// NewLeaf creates a leaf stage that delegates to the reasoning engine.
// outputKey may be empty when the stage's output is not merged into state.
func NewLeaf(name, instruction, outputKey string) *Stage {
	return &Stage{
		Kind:        KindLeaf,
		Name:        name,
		Instruction: instruction,
		OutputKey:   outputKey,
	}
}

// NewSequential creates an ordered composition of sub-stages.
func NewSequential(name string, subStages ...*Stage) *Stage {
	return &Stage{
		Kind:      KindSequential,
		Name:      name,
		SubStages: subStages,
	}
}

// NewLoop creates a bounded loop over sub-stages.
func NewLoop(name string, maxIterations int, subStages ...*Stage) *Stage {
	return &Stage{
		Kind:          KindLoop,
		Name:          name,
		MaxIterations: maxIterations,
		SubStages:     subStages,
	}
}

// NewChecker creates a checker stage reading statusKey. An empty statusKey
// falls back to DefaultStatusKey.
func NewChecker(name, statusKey string) *Stage {
	if statusKey == "" {
		statusKey = DefaultStatusKey
	}
	return &Stage{
		Kind:      KindChecker,
		Name:      name,
		StatusKey: statusKey,
	}
}

// Validate checks the stage tree for structural errors.
func (s *Stage) Validate() error {
	if s == nil {
		return fmt.Errorf("pipeline: stage is nil")
	}
	if s.Name == "" {
		return fmt.Errorf("pipeline: stage name is required")
	}
	switch s.Kind {
	case KindLeaf:
		if len(s.SubStages) > 0 {
			return fmt.Errorf("pipeline: leaf stage %q cannot have sub-stages", s.Name)
		}
	case KindChecker:
		if len(s.SubStages) > 0 {
			return fmt.Errorf("pipeline: checker stage %q cannot have sub-stages", s.Name)
		}
		if s.StatusKey == "" {
			return fmt.Errorf("pipeline: checker stage %q requires a status key", s.Name)
		}
	case KindSequential:
		if len(s.SubStages) == 0 {
			return fmt.Errorf("pipeline: sequential stage %q requires sub-stages", s.Name)
		}
	case KindLoop:
		if len(s.SubStages) == 0 {
			return fmt.Errorf("pipeline: loop stage %q requires sub-stages", s.Name)
		}
		if s.MaxIterations <= 0 {
			return fmt.Errorf("pipeline: loop stage %q requires max iterations > 0, got %d", s.Name, s.MaxIterations)
		}
	default:
		return fmt.Errorf("pipeline: unknown stage kind %q", s.Kind)
	}
	for _, sub := range s.SubStages {
		if err := sub.Validate(); err != nil {
			return err
		}
	}
	return nil
}
