package woerrors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassifiedError_Error(t *testing.T) {
	withCause := Wrap(NetworkTimeout, "dialing sandbox", errors.New("dial tcp: i/o timeout"))
	assert.Contains(t, withCause.Error(), "network_timeout")
	assert.Contains(t, withCause.Error(), "dialing sandbox")
	assert.Contains(t, withCause.Error(), "i/o timeout")

	bare := New(InvalidInput, "missing field 'tool_name'")
	assert.Equal(t, "invalid_input: missing field 'tool_name'", bare.Error())
}

func TestClassOf(t *testing.T) {
	ce := New(LockContention, "advisory lock timeout")
	assert.Equal(t, LockContention, ClassOf(ce))

	wrapped := fmt.Errorf("dispatch failed: %w", ce)
	assert.Equal(t, LockContention, ClassOf(wrapped))

	assert.Equal(t, ExternalFailure, ClassOf(errors.New("opaque failure")))
}

func TestDetailOf(t *testing.T) {
	ce := New(StatusMismatch, "expected in_progress, got blocked")
	assert.Equal(t, "expected in_progress, got blocked", DetailOf(ce))
	assert.Equal(t, "plain error", DetailOf(errors.New("plain error")))
	assert.Equal(t, "", DetailOf(nil))
}
