package adapter

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"

	"github.com/carverauto/dynconfig/internal/transport"
)

// SecretResolver is the narrow view of internal/secret.Provider this adapter
// needs, kept here to avoid a dependency cycle between adapter and secret.
type SecretResolver interface {
	ResolveSecret(ctx context.Context, ref SecretReference) (string, error)
	// InvalidateIfVersionChanged evicts any cached value for ref's SourceID
	// when ref's version differs from the one last resolved under that
	// SourceID, so a newly-reloaded secretId document that rotated its
	// pinned version is never served the previous version's cached value.
	InvalidateIfVersionChanged(ref SecretReference) bool
}

// SecretReference is the value extracted from a secret-reference setting's
// `secretId` field: a Key Vault secret URI decomposed into its parts, plus
// SourceID used for unversioned-reference change tracking.
type SecretReference struct {
	VaultHost  string
	SecretName string
	Version    string
	SourceID   string
}

type secretIDDocument struct {
	SecretID string `json:"secretId"`
}

// SecretReferenceAdapter resolves `application/vnd.microsoft.appconfig.keyvaultref+json`
// settings through a SecretResolver.
type SecretReferenceAdapter struct {
	Resolver SecretResolver
}

func (a SecretReferenceAdapter) CanProcess(s transport.Setting) bool {
	return a.Resolver != nil && s.ContentType == SecretReferenceContentType
}

func (a SecretReferenceAdapter) Process(ctx context.Context, s transport.Setting) (string, any, error) {
	ref, _, err := ExtractSecretReference(s)
	if err != nil {
		return s.Key, nil, err
	}

	a.Resolver.InvalidateIfVersionChanged(ref)

	value, err := a.Resolver.ResolveSecret(ctx, ref)
	if err != nil {
		return s.Key, nil, &SecretResolutionError{
			Key:      s.Key,
			Label:    s.Label,
			ETag:     s.ETag,
			SecretID: ref.SourceID,
			Err:      err,
		}
	}

	return s.Key, value, nil
}

// SecretResolutionError carries the key/label/etag/secret-identifier context
// of a setting whose secret-reference resolution failed, so a caller that
// wants that context (the Provider's processSettings, which wraps this into
// a KeyVaultReferenceError) can recover it with errors.As.
type SecretResolutionError struct {
	Key      string
	Label    string
	ETag     string
	SecretID string
	Err      error
}

func (e *SecretResolutionError) Error() string {
	return fmt.Sprintf("adapter: resolving secret %s for key %q: %v", e.SecretID, e.Key, e.Err)
}

func (e *SecretResolutionError) Unwrap() error { return e.Err }

// ExtractSecretReference parses a secret-reference setting's secretId
// document into a SecretReference. ok is false when s is not a
// secret-reference setting (err is always nil in that case); a secret-reference
// setting with a missing or malformed value reports ok=true and a non-nil err.
func ExtractSecretReference(s transport.Setting) (ref SecretReference, ok bool, err error) {
	if s.ContentType != SecretReferenceContentType {
		return SecretReference{}, false, nil
	}
	if s.Value == nil {
		return SecretReference{}, true, fmt.Errorf("adapter: secret reference %q has no value", s.Key)
	}

	var doc secretIDDocument
	if err := json.Unmarshal([]byte(*s.Value), &doc); err != nil {
		return SecretReference{}, true, fmt.Errorf("adapter: secret reference %q: invalid secretId document: %w", s.Key, err)
	}

	ref, err = ParseSecretURI(doc.SecretID)
	if err != nil {
		return SecretReference{}, true, fmt.Errorf("adapter: secret reference %q: %w", s.Key, err)
	}
	return ref, true, nil
}

// ParseSecretURI decomposes a Key Vault secret URI
// (https://<vault_host>/secrets/<name>[/<version>]) into a SecretReference.
// SourceID is the unversioned URI (vault host + secret name), used to detect
// a reference pointing at a new version even when its own etag is stable.
func ParseSecretURI(raw string) (SecretReference, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return SecretReference{}, fmt.Errorf("invalid secretId uri %q: %w", raw, err)
	}

	segments := strings.Split(strings.Trim(u.Path, "/"), "/")
	if len(segments) < 2 || segments[0] != "secrets" {
		return SecretReference{}, fmt.Errorf("secretId uri %q: expected /secrets/<name>[/<version>] path", raw)
	}

	ref := SecretReference{
		VaultHost:  u.Host,
		SecretName: segments[1],
		SourceID:   fmt.Sprintf("https://%s/secrets/%s", u.Host, segments[1]),
	}
	if len(segments) >= 3 {
		ref.Version = segments[2]
	}
	return ref, nil
}
