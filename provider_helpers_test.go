package dynconfig

import (
	"context"

	"github.com/carverauto/dynconfig/internal/client"
	"github.com/carverauto/dynconfig/internal/obslog"
	"github.com/carverauto/dynconfig/internal/transport"
	"github.com/carverauto/dynconfig/internal/transport/transporttest"
)

// newTestProvider builds a Provider around an in-memory transporttest.Fake,
// bypassing endpoint resolution and real HTTP, for white-box testing of the
// load/refresh algorithms.
func newTestProvider(ctx context.Context, opts Options, fake *transporttest.Fake) (*Provider, error) {
	p := &Provider{
		opts:          opts,
		primaryHost:   fake.Endpoint(),
		primaryOrigin: "https://" + fake.Endpoint(),
		trimPrefixes:  sortedTrimPrefixes(opts.TrimKeyPrefixes),
		configMap:     newConfigMap(),
		log:           obslog.Default(),
		metrics:       obslog.Noop(),
	}

	mgr := client.NewManager(fake, client.ManagerOptions{
		Logger:  p.log,
		Metrics: p.metrics,
	})

	return finishLoad(ctx, p, mgr, opts)
}

var _ transport.Transport = (*transporttest.Fake)(nil)
