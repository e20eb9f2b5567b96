package errors

import (
	stderrors "errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWrapPreservesStack(t *testing.T) {
	inner := New(ErrorTypeConnection, "dial failed")
	outer := Wrap(inner, ErrorTypeConfig, "source unreachable")

	require.NotNil(t, outer)
	assert.Equal(t, inner.Stack, outer.Stack)
	assert.True(t, stderrors.Is(outer, inner))
	assert.Equal(t, ErrorTypeConfig, TypeOf(outer))
	assert.Nil(t, Wrap(nil, ErrorTypeInternal, "nothing"))
}

func TestTaxonomy(t *testing.T) {
	tests := []struct {
		name        string
		err         error
		recoverable bool
		retryable   bool
		exitCode    int
	}{
		{"config", New(ErrorTypeConfig, "x"), true, false, 2},
		{"connection", New(ErrorTypeConnection, "x"), true, false, 1},
		{"permission", New(ErrorTypePermission, "x"), false, false, 3},
		{"format", New(ErrorTypeFormat, "x"), false, false, 1},
		{"internal", New(ErrorTypeInternal, "x"), false, false, 1},
		{"timeout", New(ErrorTypeTimeout, "x"), false, true, 1},
		{"plain", fmt.Errorf("boom"), false, false, 1},
		{"nil", nil, false, false, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.recoverable, IsRecoverable(tt.err))
			assert.Equal(t, tt.retryable, IsRetryable(tt.err))
			assert.Equal(t, tt.exitCode, ExitCode(tt.err))
		})
	}
}

func TestNewfAndDetails(t *testing.T) {
	err := Newf(ErrorTypeNotFound, "package %s not found", "acme/people").WithDetail("reference", "acme/people")
	assert.Equal(t, "not_found: package acme/people not found", err.Error())
	assert.Equal(t, "acme/people", err.Details["reference"])
	assert.NotEmpty(t, err.Stack)
}
