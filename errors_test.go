package dynconfig

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKeyVaultReferenceErrorUnwrap(t *testing.T) {
	cause := errors.New("boom")
	err := &KeyVaultReferenceError{Key: "k", Label: "l", ETag: "e", SecretID: "s", Err: cause}

	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "k")
	assert.Contains(t, err.Error(), "boom")
}

func TestStartupErrorUnwrap(t *testing.T) {
	cause := errors.New("no route to host")
	err := &StartupError{Err: cause}

	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "startup failed")
}
