package errors

import (
	"context"
	"errors"
	"strings"
	"testing"
)

func TestServiceError_Error(t *testing.T) {
	tests := []struct {
		name     string
		err      *ServiceError
		expected string
	}{
		{
			name: "error with cause",
			err: &ServiceError{
				Type:      ErrorTypeNetwork,
				Operation: "fetch_work",
				Message:   "job request failed",
				Cause:     errors.New("dial tcp: connection refused"),
			},
			expected: "network operation 'fetch_work' failed: job request failed (caused by: dial tcp: connection refused)",
		},
		{
			name: "error without cause",
			err: &ServiceError{
				Type:      ErrorTypeValidation,
				Operation: "refresh_work",
				Message:   "challenge too long",
			},
			expected: "validation operation 'refresh_work' failed: challenge too long",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.expected {
				t.Errorf("ServiceError.Error() = %q, want %q", got, tt.expected)
			}
		})
	}
}

func TestServiceError_Unwrap(t *testing.T) {
	cause := errors.New("underlying error")
	err := &ServiceError{Type: ErrorTypeNetwork, Operation: "submit_solution", Cause: cause}

	if unwrapped := err.Unwrap(); unwrapped != cause {
		t.Errorf("ServiceError.Unwrap() = %v, want %v", unwrapped, cause)
	}

	if !errors.Is(err, cause) {
		t.Error("errors.Is() should find the cause through Unwrap")
	}

	errNoCause := &ServiceError{Type: ErrorTypeNetwork, Operation: "submit_solution"}
	if unwrapped := errNoCause.Unwrap(); unwrapped != nil {
		t.Errorf("ServiceError.Unwrap() = %v, want nil", unwrapped)
	}
}

func TestServiceError_WithContext(t *testing.T) {
	err := New(ErrorTypeValidation, "refresh_work", "bad challenge").
		WithContext("challenge_len", 60).
		WithContext("ticker", "PEPE")

	if len(err.Context) != 2 {
		t.Errorf("Expected 2 context items, got %d", len(err.Context))
	}

	if err.Context["challenge_len"] != 60 {
		t.Errorf("Expected challenge_len = 60, got %v", err.Context["challenge_len"])
	}

	if err.Context["ticker"] != "PEPE" {
		t.Errorf("Expected ticker = 'PEPE', got %v", err.Context["ticker"])
	}
}

func TestNew(t *testing.T) {
	tests := []struct {
		errorType ErrorType
		retryable bool
	}{
		{ErrorTypeNetwork, true},
		{ErrorTypeTimeout, true},
		{ErrorTypeKafka, true},
		{ErrorTypeValidation, false},
		{ErrorTypeAPI, false},
		{ErrorTypeDatabase, false},
		{ErrorTypeBitcoin, false},
		{ErrorTypeInternal, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.errorType), func(t *testing.T) {
			err := New(tt.errorType, "op", "message")
			if err.Type != tt.errorType {
				t.Errorf("New() type = %v, want %v", err.Type, tt.errorType)
			}
			if err.Timestamp.IsZero() {
				t.Error("New() should set timestamp")
			}
			if err.Retryable != tt.retryable {
				t.Errorf("New() retryable = %v, want %v", err.Retryable, tt.retryable)
			}
		})
	}
}

func TestWrap(t *testing.T) {
	cause := errors.New("original error")
	err := Wrap(cause, ErrorTypeNetwork, "fetch_work", "wrapped message")

	if err.Type != ErrorTypeNetwork {
		t.Errorf("Expected type %v, got %v", ErrorTypeNetwork, err.Type)
	}

	if err.Cause != cause {
		t.Errorf("Expected cause %v, got %v", cause, err.Cause)
	}

	if Wrap(nil, ErrorTypeNetwork, "test", "test") != nil {
		t.Error("Expected nil when wrapping nil error")
	}

	inner := FromStatus("fetch_work", 503, "")
	outer := Wrap(inner, ErrorTypeNetwork, "bootstrap", "initial fetch failed")
	if outer.Cause != inner {
		t.Error("Expected wrapped ServiceError as cause")
	}
	if !outer.Retryable {
		t.Error("Wrap() should keep the retry decision of a wrapped ServiceError")
	}

	timeoutErr := Wrap(context.DeadlineExceeded, ErrorTypeTimeout, "submit_solution", "deadline")
	if !timeoutErr.Retryable {
		t.Error("Wrap() with ErrorTypeTimeout should be retryable")
	}
}

func TestFromStatus(t *testing.T) {
	tests := []struct {
		status    int
		retryable bool
	}{
		{400, false},
		{404, false},
		{409, false},
		{429, true},
		{500, true},
		{502, true},
	}

	for _, tt := range tests {
		err := FromStatus("fetch_work", tt.status, "body")
		if err.Retryable != tt.retryable {
			t.Errorf("FromStatus(%d) retryable = %v, want %v", tt.status, err.Retryable, tt.retryable)
		}
		if !IsType(err, ErrorTypeAPI) {
			t.Errorf("FromStatus(%d) should be an api error", tt.status)
		}
		if GetContext(err)["status_code"] != tt.status {
			t.Errorf("FromStatus(%d) status_code context = %v", tt.status, GetContext(err)["status_code"])
		}
	}

	long := strings.Repeat("x", 1000)
	body, _ := GetContext(FromStatus("submit_solution", 400, long))["body"].(string)
	if len(body) > 260 {
		t.Errorf("FromStatus() body context length = %d, want truncated", len(body))
	}

	if _, ok := GetContext(FromStatus("submit_solution", 400, ""))["body"]; ok {
		t.Error("FromStatus() should omit empty body")
	}
}

func TestIsType(t *testing.T) {
	err := New(ErrorTypeNetwork, "test", "test")

	if !IsType(err, ErrorTypeNetwork) {
		t.Error("Expected IsType to return true for matching type")
	}

	if IsType(err, ErrorTypeDatabase) {
		t.Error("Expected IsType to return false for non-matching type")
	}

	if IsType(errors.New("regular error"), ErrorTypeNetwork) {
		t.Error("Expected IsType to return false for regular error")
	}
}

func TestIsRetryable(t *testing.T) {
	if !IsRetryable(New(ErrorTypeNetwork, "test", "test")) {
		t.Error("Expected network error to be retryable")
	}

	if IsRetryable(New(ErrorTypeValidation, "test", "test")) {
		t.Error("Expected validation error to not be retryable")
	}

	if IsRetryable(context.Canceled) {
		t.Error("Expected context.Canceled to not be retryable")
	}

	if IsRetryable(context.DeadlineExceeded) {
		t.Error("Expected context.DeadlineExceeded to not be retryable")
	}

	if !IsRetryable(errors.New("connection refused")) {
		t.Error("Expected 'connection refused' error to be retryable")
	}

	if IsRetryable(errors.New("unknown error")) {
		t.Error("Expected unknown error to not be retryable")
	}
}

func TestGetContext(t *testing.T) {
	err := New(ErrorTypeDatabase, "record_share", "insert failed").
		WithContext("job_id", "abc")

	if GetContext(err)["job_id"] != "abc" {
		t.Errorf("GetContext() job_id = %v, want abc", GetContext(err)["job_id"])
	}

	if GetContext(errors.New("regular error")) != nil {
		t.Error("Expected nil context for regular error")
	}
}

func TestIsRetryableByDefault(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected bool
	}{
		{"nil error", nil, false},
		{"context canceled", context.Canceled, false},
		{"context timeout", context.DeadlineExceeded, false},
		{"connection refused", errors.New("connection refused"), true},
		{"connection reset", errors.New("connection reset by peer"), true},
		{"no such host", errors.New("dial tcp: lookup api.pow20.io: no such host"), true},
		{"timeout error", errors.New("i/o timeout"), true},
		{"unexpected eof", errors.New("unexpected EOF"), true},
		{"unknown error", errors.New("unknown error"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := isRetryableByDefault(tt.err); got != tt.expected {
				t.Errorf("isRetryableByDefault() = %v, want %v", got, tt.expected)
			}
		})
	}
}
