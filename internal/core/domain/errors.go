package domain

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidInput = errors.New("invalid input")
	ErrTemporary    = errors.New("temporary failure")

	// ErrBackendUnavailable: search backend unreachable or timed out.
	// Fatal to the run; retried by the caller if desired, never internally.
	ErrBackendUnavailable = errors.New("search backend unavailable")

	// ErrRerankUnavailable: every judge call failed at service level.
	// Non-fatal; the run proceeds with the un-reranked fused order.
	ErrRerankUnavailable = errors.New("rerank unavailable")

	// ErrMalformedJudgeResponse: one judge response could not be parsed
	// into a score. Absorbed per candidate inside the rerank stage.
	ErrMalformedJudgeResponse = errors.New("malformed judge response")

	// ErrGenerationUnavailable: generator unreachable or timed out.
	// Terminal for the run; no partial answer is fabricated.
	ErrGenerationUnavailable = errors.New("generation service unavailable")

	ErrChunkNotFound = errors.New("chunk not found")
)

// WrapError preserves typed semantic errors with operation context.
func WrapError(kind error, operation string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w: %w", operation, kind, err)
}

func IsKind(err error, kind error) bool {
	return errors.Is(err, kind)
}

// StageError attributes a pipeline failure to the stage it happened in.
type StageError struct {
	Stage Stage
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("pipeline stage %s: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}

func FailStage(stage Stage, err error) error {
	if err == nil {
		return nil
	}
	return &StageError{Stage: stage, Err: err}
}

// FailedStage extracts the stage a pipeline error happened in.
func FailedStage(err error) (Stage, bool) {
	var stageErr *StageError
	if errors.As(err, &stageErr) {
		return stageErr.Stage, true
	}
	return "", false
}
