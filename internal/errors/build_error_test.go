package errors

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	err := New(CodeSandboxCreateFailed, "permission denied")
	assert.Equal(t, CodeSandboxCreateFailed, err.Code)
	assert.Equal(t, "permission denied", err.Message)
	assert.False(t, err.Retryable)
}

func TestNewf(t *testing.T) {
	err := Newf(CodeGraphCycle, "cycle detected at node %d", 42)
	assert.Equal(t, CodeGraphCycle, err.Code)
	assert.Contains(t, err.Message, "42")
}

func TestWithCause(t *testing.T) {
	cause := errors.New("underlying error")
	err := New(CodeInternal, "something went wrong").WithCause(cause)

	assert.Equal(t, cause, err.Cause)
	assert.Contains(t, err.Error(), "underlying error")
}

func TestWithContext(t *testing.T) {
	err := New(CodeSandboxCreateFailed, "denied").
		WithContext("action_id", "abc123").
		WithContext("target", "//lib:build")

	require.NotNil(t, err.Context)
	assert.Equal(t, "abc123", err.Context["action_id"])
}

func TestWrap(t *testing.T) {
	original := errors.New("something failed")
	wrapped := Wrap(original, CodeSandboxExecFailed, "execution failed")

	assert.Equal(t, CodeSandboxExecFailed, wrapped.Code)
	assert.Equal(t, original, wrapped.Cause)

	buildErr := New(CodeSandboxCreateFailed, "denied")
	wrapped2 := Wrap(buildErr, CodeInternal, "internal")
	assert.Same(t, buildErr, wrapped2, "wrapping a BuildError should return the same error")

	assert.Nil(t, Wrap(nil, CodeInternal, "test"))
}

func TestIsBuildError(t *testing.T) {
	assert.False(t, IsBuildError(nil))
	assert.False(t, IsBuildError(errors.New("regular")))
	assert.True(t, IsBuildError(New(CodeInternal, "build error")))
}

func TestGetCode(t *testing.T) {
	assert.Equal(t, Code(""), GetCode(nil))
	assert.Equal(t, CodeUnknown, GetCode(errors.New("regular")))
	assert.Equal(t, CodeSandboxCreateFailed, GetCode(New(CodeSandboxCreateFailed, "denied")))
}

func TestIsRetryable(t *testing.T) {
	assert.False(t, IsRetryable(nil))
	assert.False(t, IsRetryable(errors.New("regular")))
	assert.True(t, IsRetryable(New(CodeTimeout, "timeout")))
	assert.False(t, IsRetryable(New(CodeSandboxCreateFailed, "denied")))
}

func TestSafeError(t *testing.T) {
	cause := errors.New("sensitive details")
	err := New(CodeInternal, "something failed").WithCause(cause)

	safe := err.SafeError()
	assert.NotContains(t, safe, "sensitive")
	assert.Contains(t, safe, "INTERNAL_ERROR")
}

func TestMarshalJSON(t *testing.T) {
	err := New(CodeSandboxCreateFailed, "access denied").
		WithContext("user", "testuser").
		SetRetryable(false)

	data, marshalErr := err.MarshalJSON()
	require.NoError(t, marshalErr)

	assert.Contains(t, string(data), "SANDBOX_CREATE_FAILED")
	assert.Contains(t, string(data), "access denied")
	assert.NotContains(t, string(data), "Cause")
}

func TestCodeCategory(t *testing.T) {
	tests := []struct {
		code     Code
		expected string
	}{
		{CodeUnknown, "general"},
		{CodeInternal, "general"},
		{CodeSandboxExecFailed, "sandbox"},
		{CodeGraphCycle, "graph"},
		{CodeRepoNotFound, "repository"},
		{CodeClusterHandshakeFailed, "cluster"},
		{CodeCacheLeaseHeld, "actioncache"},
		{CodeConfigInvalid, "config"},
		{CodeStorageReadFailed, "storage"},
		{CodeCASNotFound, "cas"},
		{Code("custom"), "other"},
	}

	for _, tt := range tests {
		t.Run(string(tt.code), func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.code.Category())
		})
	}
}

func TestCodeIsRetryable(t *testing.T) {
	retryableCodes := []Code{
		CodeTimeout,
		CodeClusterPeerUnreachable,
		CodeClusterHandshakeFailed,
		CodeStorageReadFailed,
		CodeStorageWriteFailed,
		CodeResourceExhausted,
		CodeRepoFetchFailed,
	}

	for _, code := range retryableCodes {
		assert.Truef(t, code.IsRetryable(), "%s should be retryable", code)
	}

	nonRetryableCodes := []Code{
		CodeSandboxCreateFailed,
		CodeGraphCycle,
		CodeInvalidArgument,
	}

	for _, code := range nonRetryableCodes {
		assert.Falsef(t, code.IsRetryable(), "%s should not be retryable", code)
	}
}
