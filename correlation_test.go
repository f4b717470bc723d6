package dynconfig

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCorrelationContextHeaderFormatting(t *testing.T) {
	cc := CorrelationContext{
		RequestType:  RequestTypeWatch,
		ReplicaCount: 2,
		FilterTags:   []string{"CSTM", "TRGT"},
		UsesKeyVault: true,
		Failover:     true,
	}

	header := cc.Header()
	assert.Contains(t, header, "RequestType=Watch")
	assert.Contains(t, header, "ReplicaCount=2")
	assert.Contains(t, header, "Filter=CSTM+TRGT")
	assert.Contains(t, header, "UsesKeyVault")
	assert.Contains(t, header, "Failover")
}

func TestCorrelationContextSuppressedByEnv(t *testing.T) {
	t.Setenv("AZAPPCONFIG_TRACING_DISABLED", "true")

	cc := CorrelationContext{RequestType: RequestTypeStartup}
	assert.Empty(t, cc.Header())
}

func TestCorrelationContextHostType(t *testing.T) {
	t.Setenv("KUBERNETES_SERVICE_HOST", "10.0.0.1")
	os.Unsetenv("WEBSITE_SITE_NAME")
	os.Unsetenv("FUNCTIONS_EXTENSION_VERSION")

	cc := CorrelationContext{RequestType: RequestTypeStartup}
	assert.Contains(t, cc.Header(), "Host=Kubernetes")
}
