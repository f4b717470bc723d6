package dynconfig

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseConnectionStringValid(t *testing.T) {
	raw := "Endpoint=https://my-store.azconfig.io;Id=abcd-l2;Secret=c2VjcmV0"

	cs, err := ParseConnectionString(raw)
	require.NoError(t, err)

	assert.Equal(t, "https://my-store.azconfig.io", cs.Endpoint)
	assert.Equal(t, "abcd-l2", cs.ID)
	assert.Equal(t, []byte("secret"), cs.Secret)
}

func TestParseConnectionStringMissingToken(t *testing.T) {
	_, err := ParseConnectionString("Endpoint=https://my-store.azconfig.io;Id=abcd-l2")
	assert.ErrorIs(t, err, ErrInvalidArgument)
}

func TestParseConnectionStringNonAbsoluteEndpoint(t *testing.T) {
	_, err := ParseConnectionString("Endpoint=my-store.azconfig.io;Id=abcd-l2;Secret=c2VjcmV0")
	assert.ErrorIs(t, err, ErrInvalidArgument)
}

func TestParseConnectionStringMalformedSecret(t *testing.T) {
	_, err := ParseConnectionString("Endpoint=https://my-store.azconfig.io;Id=abcd-l2;Secret=not-base64!!")
	assert.ErrorIs(t, err, ErrInvalidArgument)
}
