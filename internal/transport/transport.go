// Package transport defines the wire-level contract between the provider
// core and a configuration-service endpoint, plus the default HTTP
// implementation of that contract, narrow enough that a caller can supply
// their own implementation (e.g. backed by a generated SDK client) via the
// Transport interface.
package transport

import (
	"context"
	"errors"
	"net"
	"time"
)

// Setting is one remote configuration record.
type Setting struct {
	Key          string
	Label        string
	Value        *string
	ContentType  string
	ETag         string
	Tags         map[string]string
	LastModified time.Time
}

// Page is one page of a paginated list response, carrying its own etag for
// cheap conditional re-listing.
type Page struct {
	Settings []Setting
	ETag     string
	// Changed reports whether the server returned 200 (new/changed content)
	// as opposed to 304 (not modified) for this page, relevant only when
	// the request carried a prior page etag.
	Changed bool
}

// Filter describes a non-snapshot selector request.
type Filter struct {
	KeyFilter      string
	LabelFilter    string
	TagFilters     []string
	PriorPageETags []string
}

// SnapshotMetadata describes a server-side pre-materialized snapshot.
type SnapshotMetadata struct {
	Name        string
	Composition string // "key" or "key_label"
}

// PointResult is the outcome of a conditional point Get: Status is 200
// (created/changed), 304 (not modified), or 404 (absent/deleted).
type PointResult struct {
	Setting *Setting
	Status  int
}

// Transport is the external collaborator: the actual REST/HTTP client for
// one configuration-service endpoint.
type Transport interface {
	// List returns the pages matching filter. When filter.PriorPageETags is
	// non-empty, implementations should issue conditional requests per page
	// and report Page.Changed accordingly.
	List(ctx context.Context, filter Filter) ([]Page, error)

	// Get performs an unconditional point lookup; returns found=false (no
	// error) when the key/label pair does not exist.
	Get(ctx context.Context, key, label string) (setting *Setting, found bool, err error)

	// GetConditional performs a point lookup carrying ifETagChanged as an
	// If-None-Match-style precondition. See PointResult for status semantics.
	GetConditional(ctx context.Context, key, label, ifETagChanged string) (PointResult, error)

	// GetSnapshot resolves snapshot metadata by name.
	GetSnapshot(ctx context.Context, name string) (*SnapshotMetadata, error)

	// ListSnapshotSettings returns the settings contained in a snapshot.
	ListSnapshotSettings(ctx context.Context, name string) ([]Setting, error)

	// Endpoint reports the service endpoint this transport talks to, used
	// by the client manager for failover bookkeeping and logging.
	Endpoint() string
}

// HTTPError classifies a non-2xx HTTP response for failover eligibility.
type HTTPError struct {
	StatusCode int
	Endpoint   string
	Err        error
}

func (e *HTTPError) Error() string {
	if e.Err != nil {
		return e.Err.Error()
	}
	return "transport: unexpected http status"
}

func (e *HTTPError) Unwrap() error { return e.Err }

// IsFailoverEligible classifies an error: DNS not-found, file-not-found, or
// HTTP status in {401,403,408,429} ∪ [500,600).
func IsFailoverEligible(err error) bool {
	if err == nil {
		return false
	}

	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		switch httpErr.StatusCode {
		case 401, 403, 408, 429:
			return true
		default:
			if httpErr.StatusCode >= 500 && httpErr.StatusCode < 600 {
				return true
			}
		}
		return false
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return dnsErr.IsNotFound
	}

	if errors.Is(err, errFileNotFound) {
		return true
	}

	return false
}

var errFileNotFound = errors.New("transport: file not found")

// ErrFileNotFound is the file-not-found error that IsFailoverEligible
// classifies as failover-eligible; a Transport implementation may return it.
var ErrFileNotFound = errFileNotFound
