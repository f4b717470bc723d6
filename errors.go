package dynconfig

import (
	"errors"
	"fmt"

	"github.com/carverauto/dynconfig/internal/client"
)

// Error taxonomy. Sentinels are matched with errors.Is; the two
// structured types (KeyVaultReferenceError, StartupError) additionally
// expose Unwrap so callers can reach the underlying transport/auth error.

// ErrInvalidArgument covers malformed connection strings, invalid selectors,
// invalid separators, sentinels with reserved characters, and refresh
// intervals below the configured minimums.
var ErrInvalidArgument = errors.New("dynconfig: invalid argument")

// ErrNotEnabled is returned by Refresh when neither kv nor feature flag
// refresh is enabled. OnRefresh does not check this and always registers
// the listener.
var ErrNotEnabled = errors.New("dynconfig: refresh is not enabled")

// ErrAmbiguousPath is returned by ConstructConfigurationObject when a path
// segment is both an intermediate node and a leaf, or a leaf is revisited.
var ErrAmbiguousPath = errors.New("dynconfig: ambiguous configuration path")

// ErrInvalidKey is returned by ConstructConfigurationObject for an empty
// path segment.
var ErrInvalidKey = errors.New("dynconfig: invalid configuration key")

// ErrAllClientsFailed is surfaced when every available client returned a
// failover-eligible error during execute_with_failover. It is the same value
// the internal client manager returns, so errors.Is matches it through any
// wrapping (including StartupError).
var ErrAllClientsFailed = client.ErrAllClientsFailed

// KeyVaultReferenceError wraps a secret-reference resolution failure with
// the key/label/etag/secret-identifier context that produced it.
type KeyVaultReferenceError struct {
	Key      string
	Label    string
	ETag     string
	SecretID string
	Err      error
}

func (e *KeyVaultReferenceError) Error() string {
	return fmt.Sprintf("dynconfig: key vault reference %s (key=%s label=%s): %v", e.SecretID, e.Key, e.Label, e.Err)
}

func (e *KeyVaultReferenceError) Unwrap() error { return e.Err }

// StartupError wraps a fatal error raised from Load, after the minimum
// unhandled-error propagation delay has elapsed.
type StartupError struct {
	Err error
}

func (e *StartupError) Error() string {
	return fmt.Sprintf("dynconfig: startup failed: %v", e.Err)
}

func (e *StartupError) Unwrap() error { return e.Err }
