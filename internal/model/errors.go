package model

import (
	"errors"
	"fmt"
)

var (
	// ErrExtractionSkip marks a unit without a language-version pragma. Not a failure.
	ErrExtractionSkip = errors.New("extraction skipped: no version pragma")
	// ErrCompilerUnavailable is returned when the external compiler cannot be started.
	ErrCompilerUnavailable = errors.New("compiler unavailable")
	// ErrNoRuleStore is fatal for an obfuscation run.
	ErrNoRuleStore = errors.New("no rule store found")
)

// ValidationError reports a unit rejected by the external compiler.
type ValidationError struct {
	Unit    string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed for %s: %s", e.Unit, e.Message)
}

// CollisionError reports two signatures mapping to the same obfuscated selector.
type CollisionError struct {
	Selector string
	Existing string
	Incoming string
}

func (e *CollisionError) Error() string {
	return fmt.Sprintf("selector collision on %s: %q already registered, refusing %q", e.Selector, e.Existing, e.Incoming)
}

// UnsupportedCombinationError is returned for a (role, kind) pair absent from the catalog.
type UnsupportedCombinationError struct {
	Role Role
	Kind InteractionKind
}

func (e *UnsupportedCombinationError) Error() string {
	return fmt.Sprintf("no predicate for role %q and kind %q", e.Role, e.Kind)
}

// MissingSelectorError means no verified selector exists for a custom function.
type MissingSelectorError struct {
	Function string
	Arity    int
}

func (e *MissingSelectorError) Error() string {
	return fmt.Sprintf("no verified selector for %s/%d", e.Function, e.Arity)
}

// IOError wraps a per-unit file failure.
type IOError struct {
	Unit string
	Op   string
	Err  error
}

func (e *IOError) Error() string { return fmt.Sprintf("%s %s: %v", e.Op, e.Unit, e.Err) }
func (e *IOError) Unwrap() error { return e.Err }

// Error classes used in diagnostics.
const (
	ClassValidation  = "ValidationError"
	ClassSkip        = "ExtractionSkip"
	ClassCollision   = "CollisionError"
	ClassUnsupported = "UnsupportedCombination"
	ClassMissing     = "MissingSelector"
	ClassIO          = "IOFailure"
	ClassTransform   = "TransformNote"
	ClassPipeline    = "PipelineError"
)

// Classify maps an error onto the taxonomy.
func Classify(err error) string {
	var (
		ve *ValidationError
		ce *CollisionError
		ue *UnsupportedCombinationError
		me *MissingSelectorError
		ie *IOError
	)
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrExtractionSkip):
		return ClassSkip
	case errors.As(err, &ve):
		return ClassValidation
	case errors.As(err, &ce):
		return ClassCollision
	case errors.As(err, &ue):
		return ClassUnsupported
	case errors.As(err, &me):
		return ClassMissing
	case errors.As(err, &ie):
		return ClassIO
	default:
		return ClassPipeline
	}
}
