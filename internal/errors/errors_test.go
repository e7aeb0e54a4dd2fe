package errors

import (
	"fmt"
	"testing"
)

func TestGovernorError_Error(t *testing.T) {
	err := &GovernorError{
		Code:    ErrNotFound,
		Status:  404,
		Message: "plan not found",
	}

	expected := "NOT_FOUND: plan not found"
	if err.Error() != expected {
		t.Errorf("Error() = %q, want %q", err.Error(), expected)
	}
}

func TestNewInvalidRequest(t *testing.T) {
	err := NewInvalidRequest("units are required")

	if err.Code != ErrInvalidRequest {
		t.Errorf("Code = %q, want %q", err.Code, ErrInvalidRequest)
	}
	if err.Status != 400 {
		t.Errorf("Status = %d, want 400", err.Status)
	}
	if err.Message != "units are required" {
		t.Errorf("Message = %q, want %q", err.Message, "units are required")
	}
}

func TestNewInvalidConfig(t *testing.T) {
	err := NewInvalidConfig("budget", "total must be positive")

	if err.Code != ErrInvalidConfig {
		t.Errorf("Code = %q, want %q", err.Code, ErrInvalidConfig)
	}
	if err.Status != 400 {
		t.Errorf("Status = %d, want 400", err.Status)
	}
	if err.Message != "budget: total must be positive" {
		t.Errorf("Message = %q", err.Message)
	}
	if err.Details["field"] != "budget" {
		t.Errorf("Details[field] = %v, want %q", err.Details["field"], "budget")
	}
}

func TestNewNotFound(t *testing.T) {
	err := NewNotFound("01HX")

	if err.Code != ErrNotFound {
		t.Errorf("Code = %q, want %q", err.Code, ErrNotFound)
	}
	if err.Status != 404 {
		t.Errorf("Status = %d, want 404", err.Status)
	}
	if err.Details["identifier"] != "01HX" {
		t.Errorf("Details[identifier] = %v, want %q", err.Details["identifier"], "01HX")
	}
}

func TestNewClaimNotReady(t *testing.T) {
	err := NewClaimNotReady([]string{"intent_balanced_coverage"}, []string{"review"})

	if err.Code != ErrClaimNotReady {
		t.Errorf("Code = %q, want %q", err.Code, ErrClaimNotReady)
	}
	if err.Status != 412 {
		t.Errorf("Status = %d, want 412", err.Status)
	}

	gates, intents, ok := ClaimFailure(err)
	if !ok {
		t.Fatal("ClaimFailure should recognize CLAIM_NOT_READY")
	}
	if len(gates) != 1 || gates[0] != "intent_balanced_coverage" {
		t.Errorf("gates = %v", gates)
	}
	if len(intents) != 1 || intents[0] != "review" {
		t.Errorf("intents = %v", intents)
	}
}

func TestNewClaimNotReady_NilSlices(t *testing.T) {
	err := NewClaimNotReady(nil, nil)
	gates, intents, ok := ClaimFailure(err)
	if !ok {
		t.Fatal("expected claim failure")
	}
	if gates == nil || intents == nil {
		t.Error("nil slices should be normalized to empty")
	}
}

func TestClaimFailure_OtherError(t *testing.T) {
	if _, _, ok := ClaimFailure(NewInternal(nil)); ok {
		t.Error("ClaimFailure should reject non-claim errors")
	}
	if _, _, ok := ClaimFailure(fmt.Errorf("plain")); ok {
		t.Error("ClaimFailure should reject plain errors")
	}
}

func TestNewInternal(t *testing.T) {
	err := NewInternal(fmt.Errorf("database connection failed"))

	if err.Code != ErrInternal {
		t.Errorf("Code = %q, want %q", err.Code, ErrInternal)
	}
	if err.Message != "database connection failed" {
		t.Errorf("Message = %q", err.Message)
	}

	if NewInternal(nil).Message != "internal error" {
		t.Error("nil error should produce generic message")
	}
}

func TestIs(t *testing.T) {
	tests := []struct {
		name string
		err  error
		code ErrorCode
		want bool
	}{
		{"matching code", NewNotFound("x"), ErrNotFound, true},
		{"different code", NewNotFound("x"), ErrInternal, false},
		{"wrapped", fmt.Errorf("wrap: %w", NewInvalidConfig("intent", "unknown")), ErrInvalidConfig, true},
		{"plain error", fmt.Errorf("plain"), ErrInternal, false},
		{"nil", nil, ErrInternal, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Is(tt.err, tt.code); got != tt.want {
				t.Errorf("Is() = %v, want %v", got, tt.want)
			}
		})
	}
}
