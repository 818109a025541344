package models

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrorKind classifies failures as they move through the pipeline.
type ErrorKind string

const (
	KindTimeout             ErrorKind = "timeout"
	KindAuthentication      ErrorKind = "authentication"
	KindNotFound            ErrorKind = "not_found"
	KindUnknownAgent        ErrorKind = "unknown_agent"
	KindAgentFailure        ErrorKind = "agent_failure"
	KindAnalyzerUnavailable ErrorKind = "analyzer_unavailable"
	KindGeneral             ErrorKind = "general"
)

// PipelineError wraps an error with the stage that produced it and its kind.
type PipelineError struct {
	Kind ErrorKind
	Op   string
	Err  error
}

func (e *PipelineError) Error() string {
	if e.Op == "" {
		return e.Err.Error()
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *PipelineError) Unwrap() error { return e.Err }

// NewError builds a PipelineError.
func NewError(kind ErrorKind, op string, err error) *PipelineError {
	if err == nil {
		err = errors.New(string(kind))
	}
	return &PipelineError{Kind: kind, Op: op, Err: err}
}

// KindOf extracts the kind carried by err. Errors without one are classified
// from context sentinels first and from their text as a last resort.
func KindOf(err error) ErrorKind {
	if err == nil {
		return ""
	}
	var pe *PipelineError
	if errors.As(err, &pe) && pe.Kind != "" {
		return pe.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTimeout
	}
	return sniffKind(err.Error())
}

func sniffKind(msg string) ErrorKind {
	lower := strings.ToLower(msg)
	switch {
	case strings.Contains(lower, "timeout"), strings.Contains(lower, "timed out"):
		return KindTimeout
	case strings.Contains(lower, "authentication"), strings.Contains(lower, "unauthorized"):
		return KindAuthentication
	case strings.Contains(lower, "not found"):
		return KindNotFound
	default:
		return KindGeneral
	}
}

// UserFacingClass folds any kind into one of the four user-visible classes.
func (k ErrorKind) UserFacingClass() string {
	switch k {
	case KindTimeout:
		return string(KindTimeout)
	case KindAuthentication:
		return string(KindAuthentication)
	case KindNotFound:
		return string(KindNotFound)
	default:
		return string(KindGeneral)
	}
}
