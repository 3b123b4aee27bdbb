package errors

import (
	"fmt"
	"strings"
	"testing"
)

func TestOperationError(t *testing.T) {
	tests := []struct {
		name     string
		err      *OperationError
		expected string
	}{
		{
			name: "full error",
			err: &OperationError{
				Operation: "append audit entry",
				Component: "auditstore",
				Resource:  "tenant=local",
				Cause:     fmt.Errorf("advisory lock timeout"),
			},
			expected: "failed to append audit entry, component: auditstore, resource: tenant=local, cause: advisory lock timeout",
		},
		{
			name: "minimal error",
			err: &OperationError{
				Operation: "parse policy",
				Cause:     fmt.Errorf("invalid conditions map"),
			},
			expected: "failed to parse policy, cause: invalid conditions map",
		},
		{
			name: "no cause",
			err: &OperationError{
				Operation: "resolve template variable",
				Component: "conditions",
			},
			expected: "failed to resolve template variable, component: conditions",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.expected {
				t.Errorf("OperationError.Error() = %q, want %q", got, tt.expected)
			}
		})
	}
}

func TestOperationError_Unwrap(t *testing.T) {
	cause := fmt.Errorf("pool exhausted")
	err := &OperationError{Operation: "query decisions", Cause: cause}

	if unwrapped := err.Unwrap(); unwrapped != cause {
		t.Errorf("Unwrap() = %v, want %v", unwrapped, cause)
	}

	errNoCause := &OperationError{Operation: "query decisions"}
	if unwrapped := errNoCause.Unwrap(); unwrapped != nil {
		t.Errorf("Unwrap() with no cause = %v, want nil", unwrapped)
	}
}

func TestFailedTo(t *testing.T) {
	tests := []struct {
		name     string
		action   string
		cause    error
		expected string
	}{
		{
			name:     "with cause",
			action:   "mint decision token",
			cause:    fmt.Errorf("signing key unavailable"),
			expected: "failed to mint decision token: signing key unavailable",
		},
		{
			name:     "without cause",
			action:   "start adapter listener",
			cause:    nil,
			expected: "failed to start adapter listener",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := FailedTo(tt.action, tt.cause)
			if err.Error() != tt.expected {
				t.Errorf("FailedTo() = %q, want %q", err.Error(), tt.expected)
			}
		})
	}
}

func TestFailedToWithDetails(t *testing.T) {
	cause := fmt.Errorf("deadline exceeded")
	err := FailedToWithDetails("evaluate policy", "policy", "tenant-scope", cause)

	opErr, ok := err.(*OperationError)
	if !ok {
		t.Fatalf("FailedToWithDetails() should return *OperationError, got %T", err)
	}
	if opErr.Operation != "evaluate policy" {
		t.Errorf("Operation = %q, want %q", opErr.Operation, "evaluate policy")
	}
	if opErr.Component != "policy" {
		t.Errorf("Component = %q, want %q", opErr.Component, "policy")
	}
	if opErr.Resource != "tenant-scope" {
		t.Errorf("Resource = %q, want %q", opErr.Resource, "tenant-scope")
	}
	if opErr.Cause != cause {
		t.Errorf("Cause = %v, want %v", opErr.Cause, cause)
	}
}

func TestWrapf(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		format   string
		args     []interface{}
		expected string
	}{
		{
			name:     "wrap with message",
			err:      fmt.Errorf("pool busy"),
			format:   "acquiring conn for %s",
			args:     []interface{}{"audit"},
			expected: "acquiring conn for audit: pool busy",
		},
		{
			name:     "nil error",
			err:      nil,
			format:   "should not wrap",
			args:     nil,
			expected: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := Wrapf(tt.err, tt.format, tt.args...)
			if tt.err == nil {
				if result != nil {
					t.Errorf("Wrapf(nil, ...) = %v, want nil", result)
				}
				return
			}
			if result.Error() != tt.expected {
				t.Errorf("Wrapf() = %q, want %q", result.Error(), tt.expected)
			}
		})
	}
}

func TestDatabaseError(t *testing.T) {
	cause := fmt.Errorf("connection lost")
	err := DatabaseError("insert audit entry", cause)

	if !strings.Contains(err.Error(), "failed to insert audit entry") {
		t.Errorf("DatabaseError should contain operation, got %q", err.Error())
	}
	if !strings.Contains(err.Error(), "database") {
		t.Errorf("DatabaseError should contain component, got %q", err.Error())
	}
}

func TestNetworkError(t *testing.T) {
	cause := fmt.Errorf("timeout")
	err := NetworkError("notify", "https://hooks.slack.com/services/x", cause)

	if !strings.Contains(err.Error(), "failed to notify") {
		t.Errorf("NetworkError should contain operation, got %q", err.Error())
	}
	if !strings.Contains(err.Error(), "network") {
		t.Errorf("NetworkError should contain component, got %q", err.Error())
	}
	if !strings.Contains(err.Error(), "https://hooks.slack.com/services/x") {
		t.Errorf("NetworkError should contain endpoint, got %q", err.Error())
	}
}

func TestValidationError(t *testing.T) {
	err := ValidationError("scope.tenant_id", "must not be empty")
	expected := "validation failed for field scope.tenant_id: must not be empty"
	if err.Error() != expected {
		t.Errorf("ValidationError() = %q, want %q", err.Error(), expected)
	}
}

func TestConfigurationError(t *testing.T) {
	err := ConfigurationError("approval_mode", "must be simulate or enforce")
	expected := "configuration error for setting approval_mode: must be simulate or enforce"
	if err.Error() != expected {
		t.Errorf("ConfigurationError() = %q, want %q", err.Error(), expected)
	}
}

func TestTimeoutError(t *testing.T) {
	err := TimeoutError("polling decision", "5m0s")
	expected := "timeout while polling decision after 5m0s"
	if err.Error() != expected {
		t.Errorf("TimeoutError() = %q, want %q", err.Error(), expected)
	}
}

func TestAuthenticationError(t *testing.T) {
	err := AuthenticationError("adapter token signature mismatch")
	expected := "authentication failed: adapter token signature mismatch"
	if err.Error() != expected {
		t.Errorf("AuthenticationError() = %q, want %q", err.Error(), expected)
	}
}

func TestAuthorizationError(t *testing.T) {
	err := AuthorizationError("resolve", "pending decision")
	expected := "authorization failed: insufficient permissions to resolve pending decision"
	if err.Error() != expected {
		t.Errorf("AuthorizationError() = %q, want %q", err.Error(), expected)
	}
}

func TestParseError(t *testing.T) {
	cause := fmt.Errorf("unexpected token")
	err := ParseError("policy document", "YAML", cause)
	if !strings.Contains(err.Error(), "parse policy document as YAML") {
		t.Errorf("ParseError should contain parse operation, got %q", err.Error())
	}
}

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected bool
	}{
		{name: "nil error", err: nil, expected: false},
		{name: "timeout error", err: fmt.Errorf("context deadline exceeded: timeout"), expected: true},
		{name: "connection refused", err: fmt.Errorf("dial tcp: connection refused"), expected: true},
		{name: "service unavailable", err: fmt.Errorf("503 service unavailable"), expected: true},
		{name: "permanent error", err: fmt.Errorf("invalid policy precedence"), expected: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsRetryable(tt.err); got != tt.expected {
				t.Errorf("IsRetryable() = %v, want %v", got, tt.expected)
			}
		})
	}
}

func TestChain(t *testing.T) {
	tests := []struct {
		name     string
		errors   []error
		expected string
		isNil    bool
	}{
		{name: "no errors", errors: []error{nil, nil}, isNil: true},
		{name: "single error", errors: []error{fmt.Errorf("single error"), nil}, expected: "single error"},
		{
			name:     "multiple errors",
			errors:   []error{fmt.Errorf("risk scorer panic"), fmt.Errorf("budget check failed"), nil, fmt.Errorf("policy store unreachable")},
			expected: "multiple errors: risk scorer panic; budget check failed; policy store unreachable",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := Chain(tt.errors...)
			if tt.isNil {
				if result != nil {
					t.Errorf("Chain() = %v, want nil", result)
				}
				return
			}
			if result.Error() != tt.expected {
				t.Errorf("Chain() = %q, want %q", result.Error(), tt.expected)
			}
		})
	}
}
