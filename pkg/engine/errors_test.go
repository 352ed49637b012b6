package engine

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestErrorPredicates(t *testing.T) {
	tests := []struct {
		name  string
		err   error
		check func(error) bool
	}{
		{name: "not found", err: NewNotFoundError("prop", "p1"), check: IsNotFound},
		{name: "edge exists", err: NewEdgeExistsError("h", "t", "configures", nil), check: IsEdgeExists},
		{name: "invalid value", err: NewInvalidValueError("string", 42), check: IsInvalidValue},
		{name: "missing value", err: NewMissingValueError("workspace:w1", "head", "proto", ""), check: IsMissingValue},
		{name: "execution", err: NewExecutionError("si:setString", errors.New("boom")), check: IsExecutionFailure},
		{name: "wrapped not found", err: fmt.Errorf("lookup: %w", NewNotFoundError("func", "f1")), check: IsNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if !tt.check(tt.err) {
				t.Errorf("predicate did not match %v", tt.err)
			}
		})
	}
}

func TestEdgeExistsIsConflict(t *testing.T) {
	err := NewEdgeExistsError("h", "t", "configures", errors.New("unique"))
	if !IsConflict(err) {
		t.Error("edge exists must be a conflict")
	}
	if IsNotFound(err) {
		t.Error("edge exists must not be a not-found")
	}
}

func TestErrorMessage(t *testing.T) {
	err := NewExecutionError("si:setString", errors.New("boom"))
	msg := err.Error()
	for _, want := range []string{"permanent", "function execution failed", "si:setString", "boom"} {
		if !strings.Contains(msg, want) {
			t.Errorf("error %q missing %q", msg, want)
		}
	}
}

func TestInvalidValueDetails(t *testing.T) {
	err := NewInvalidValueError("string", 42)
	if err.Details["expected"] != "string" || err.Details["actual"] != 42 {
		t.Errorf("unexpected details: %v", err.Details)
	}
}

func TestErrorsIs(t *testing.T) {
	err := fmt.Errorf("wrap: %w", NewNotFoundError("component", "c1"))
	if !errors.Is(err, &EngineError{Class: ErrorClassPermanent, Code: ErrCodeNotFound}) {
		t.Error("errors.Is should match class and code")
	}
}
