package dynconfig

import (
	"os"
	"strconv"
	"strings"
)

// Environment variables read once per header-construction call, named
// after the getEnvOrDefault/getEnvBoolOrDefault helper convention used
// throughout this module.
const (
	envTracingDisabled = "AZAPPCONFIG_TRACING_DISABLED"
	envHostFunctions    = "FUNCTIONS_EXTENSION_VERSION"
	envHostWebApp       = "WEBSITE_SITE_NAME"
	envHostContainerApp = "CONTAINER_APP_NAME"
	envHostKubernetes   = "KUBERNETES_SERVICE_HOST"
	envHostServiceFabric = "Fabric_NodeName"
	envDeveloperEnv     = "AZAPPCONFIG_DEV_ENVIRONMENT"
)

// RequestType discriminates a Correlation-Context header's RequestType tag.
type RequestType string

const (
	RequestTypeStartup RequestType = "Startup"
	RequestTypeWatch   RequestType = "Watch"
)

// CorrelationContext holds the fields used to build the opaque
// Correlation-Context request header.
type CorrelationContext struct {
	RequestType   RequestType
	ReplicaCount  int
	FilterTags    []string // subset of {"CSTM", "TIME", "TRGT"}
	MaxVariants   int
	FFFeatures    []string // subset of {"Seed", "Telemetry"}
	UsesKeyVault  bool
	Failover      bool
}

// Header renders the Correlation-Context value, or "" when emission is
// suppressed by envTracingDisabled.
func (c CorrelationContext) Header() string {
	if tracingDisabled() {
		return ""
	}

	var parts []string
	parts = append(parts, "RequestType="+string(c.RequestType))

	if host, ok := hostType(); ok {
		parts = append(parts, "Host="+host)
	}
	if isDeveloperEnvironment() {
		parts = append(parts, "Env=Dev")
	}
	if c.ReplicaCount > 0 {
		parts = append(parts, "ReplicaCount="+strconv.Itoa(c.ReplicaCount))
	}
	if len(c.FilterTags) > 0 {
		parts = append(parts, "Filter="+strings.Join(c.FilterTags, "+"))
	}
	if c.MaxVariants > 0 {
		parts = append(parts, "MaxVariants="+strconv.Itoa(c.MaxVariants))
	}
	if len(c.FFFeatures) > 0 {
		parts = append(parts, "FFFeatures="+strings.Join(c.FFFeatures, "+"))
	}
	if c.UsesKeyVault {
		parts = append(parts, "UsesKeyVault")
	}
	if c.Failover {
		parts = append(parts, "Failover")
	}

	return strings.Join(parts, ",")
}

func tracingDisabled() bool {
	return getEnvBoolOrDefault(envTracingDisabled, false)
}

func isDeveloperEnvironment() bool {
	return getEnvBoolOrDefault(envDeveloperEnv, false)
}

// hostType identifies the hosting platform via the first discriminator env
// var present, checked in priority order.
func hostType() (string, bool) {
	switch {
	case os.Getenv(envHostFunctions) != "":
		return "AzureFunction", true
	case os.Getenv(envHostWebApp) != "":
		return "AzureWebApp", true
	case os.Getenv(envHostContainerApp) != "":
		return "ContainerApp", true
	case os.Getenv(envHostKubernetes) != "":
		return "Kubernetes", true
	case os.Getenv(envHostServiceFabric) != "":
		return "ServiceFabric", true
	default:
		return "", false
	}
}

func getEnvOrDefault(key, def string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return def
}

func getEnvBoolOrDefault(key string, def bool) bool {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}
