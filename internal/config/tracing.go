package config

// TracingConfig holds OTLP trace export configuration.
//
// Spans are shipped to a local collector agent over OTLP HTTP.
// See internal/observability for setup details.
type TracingConfig struct {
	// Enabled turns span export on. Default: false
	Enabled bool `mapstructure:"enabled"`
	// AgentHost is the collector OTLP endpoint (default: localhost:4318)
	AgentHost string `mapstructure:"agent_host"`
	// Environment is the deployment environment tag (default: dev)
	Environment string `mapstructure:"environment"`
	// ServiceName is the service name reported on spans (default: parley)
	ServiceName string `mapstructure:"service_name"`
}
