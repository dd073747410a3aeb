package retrieval

import (
	"errors"
	"fmt"
)

// ErrUnavailable marks hard failures of an external dependency (graph store
// or embedding provider). It always bubbles to the caller so an empty result
// stays distinguishable from a failed retrieval.
var ErrUnavailable = errors.New("retrieval unavailable")

// Stage identifies which part of a strategy failed.
type Stage string

const (
	StageEmbedding     Stage = "embedding"
	StageGraph         Stage = "graph"
	StageVectorIndex   Stage = "vector_index"
	StageFulltextIndex Stage = "fulltext_index"
	StageCommunity     Stage = "community"
)

// StageError tags a hard error with the stage that produced it. Strategies
// never partially succeed: the first stage failure aborts the call.
type StageError struct {
	Stage Stage
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("retrieval: stage %s: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }

func unavailable(stage Stage, err error) error {
	return &StageError{Stage: stage, Err: errors.Join(ErrUnavailable, err)}
}

// FailedStage returns the stage recorded on err, or "" when err carries none.
func FailedStage(err error) Stage {
	var se *StageError
	if errors.As(err, &se) {
		return se.Stage
	}
	return ""
}

// ValidationError rejects malformed input before any external call is made.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("retrieval: invalid %s: %s", e.Field, e.Reason)
}

func invalid(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}

func errEmbedCount(n int) error {
	return fmt.Errorf("expected 1 embedding, got %d", n)
}
