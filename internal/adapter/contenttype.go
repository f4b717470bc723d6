package adapter

import "strings"

// Reserved setting content-types ("Setting content-types recognized").
const (
	FeatureFlagContentType     = "application/vnd.microsoft.appconfig.ff+json"
	SecretReferenceContentType = "application/vnd.microsoft.appconfig.keyvaultref+json"
	SnapshotReferenceContentType = "application/vnd.microsoft.appconfig.snapshotref+json"
)

// isEligibleJSON reports whether contentType is JSON eligible for parsing:
// "application/json" or any "...+json" content-type that is not one of the
// three reserved types
// (feature flag settings never reach the kv adapter chain; secret and
// snapshot references are claimed by their own adapters first).
func isEligibleJSON(contentType string) bool {
	if contentType == "" {
		return false
	}
	switch contentType {
	case SecretReferenceContentType, FeatureFlagContentType, SnapshotReferenceContentType:
		return false
	}
	return strings.HasSuffix(contentType, "+json") || contentType == "application/json"
}
