package dynconfig

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/carverauto/dynconfig/internal/obslog"
	"github.com/carverauto/dynconfig/internal/secret"
	"github.com/carverauto/dynconfig/internal/selector"
)

var validate = validator.New()

// Selector declares which settings to pull: exactly one of the (KeyFilter,
// LabelFilter, TagFilters) triple or SnapshotName is meaningful.
type Selector struct {
	KeyFilter    string
	LabelFilter  string
	TagFilters   []string
	SnapshotName string
}

func (s Selector) toInternal() selector.Selector {
	return selector.Selector{
		KeyFilter:    s.KeyFilter,
		LabelFilter:  s.LabelFilter,
		TagFilters:   s.TagFilters,
		SnapshotName: s.SnapshotName,
	}
}

// WatchedSetting is a sentinel: a single (key, label) whose etag
// change triggers a full kv reload. Keys and labels must be literal values,
// no '*' and no ','.
type WatchedSetting struct {
	Key   string `validate:"required"`
	Label string
}

func (w WatchedSetting) validateLiteral() error {
	if strings.Contains(w.Key, "*") || strings.Contains(w.Key, ",") {
		return fmt.Errorf("%w: watched setting key %q must not contain '*' or ','", ErrInvalidArgument, w.Key)
	}
	if strings.Contains(w.Label, "*") || strings.Contains(w.Label, ",") {
		return fmt.Errorf("%w: watched setting label %q must not contain '*' or ','", ErrInvalidArgument, w.Label)
	}
	return nil
}

// KeyVaultOptions configures secret-reference resolution.
type KeyVaultOptions struct {
	SecretClients        map[string]secret.Client
	DefaultClientFactory secret.ClientFactory
	SecretResolver       func(sourceID string) (string, error)
	SecretRefreshInterval time.Duration `validate:"omitempty,min=60000000000"` // 60s in ns
}

// RefreshOptions configures kv refresh.
type RefreshOptions struct {
	Enabled         bool
	RefreshInterval time.Duration `validate:"omitempty,min=1000000000"` // 1s in ns
	WatchedSettings []WatchedSetting
}

// FeatureFlagRefreshOptions configures feature-flag refresh independently of
// kv refresh.
type FeatureFlagRefreshOptions struct {
	Enabled         bool
	RefreshInterval time.Duration `validate:"omitempty,min=1000000000"`
}

// FeatureFlagOptions configures feature-flag loading.
type FeatureFlagOptions struct {
	Enabled   bool
	Selectors []Selector
	Refresh   FeatureFlagRefreshOptions
}

// ClientOptions configures the transport-level client. Retry is
// externalized to the transport. UserAgentPrefix is accepted but not
// applied: requests carry the HTTP client's default User-Agent.
type ClientOptions struct {
	UserAgentPrefix string
}

// StartupOptions configures the minimum-delay behavior applied to a fatal
// error raised during the initial load, before it is wrapped as a
// StartupError and returned to the caller.
type StartupOptions struct {
	Timeout      time.Duration
	RetryEnabled bool
}

// Options configures Load.
type Options struct {
	Selectors               []Selector
	TrimKeyPrefixes         []string
	KeyVaultOptions         KeyVaultOptions
	RefreshOptions          RefreshOptions
	FeatureFlagOptions      FeatureFlagOptions
	ClientOptions           ClientOptions
	StartupOptions          StartupOptions
	ReplicaDiscoveryEnabled *bool // default true
	LoadBalancingEnabled    bool

	Logger  obslog.Logger
	Metrics *obslog.Metrics
}

func (o Options) replicaDiscoveryEnabled() bool {
	if o.ReplicaDiscoveryEnabled == nil {
		return true
	}
	return *o.ReplicaDiscoveryEnabled
}

// Validate rejects refresh intervals below the configured minimums,
// malformed watched settings, and struct-tag rule violations, all as
// ErrInvalidArgument.
func (o Options) Validate() error {
	if err := validate.Struct(o.RefreshOptions); err != nil {
		return fmt.Errorf("%w: refresh_options: %v", ErrInvalidArgument, err)
	}
	if err := validate.Struct(o.FeatureFlagOptions.Refresh); err != nil {
		return fmt.Errorf("%w: feature_flag_options.refresh: %v", ErrInvalidArgument, err)
	}
	if err := validate.Struct(o.KeyVaultOptions); err != nil {
		return fmt.Errorf("%w: key_vault_options: %v", ErrInvalidArgument, err)
	}

	for _, ws := range o.RefreshOptions.WatchedSettings {
		if err := validate.Struct(ws); err != nil {
			return fmt.Errorf("%w: watched_settings: %v", ErrInvalidArgument, err)
		}
		if err := ws.validateLiteral(); err != nil {
			return err
		}
	}

	return nil
}
