package config

// RateLimit throttles RPC callers per client address.
type RateLimit struct {
	RequestsPerSecond float64  `toml:"RequestsPerSecond"`
	Burst             int      `toml:"Burst"`
	TrustedProxies    []string `toml:"TrustedProxies,omitempty"`
	TrustProxyHeaders bool     `toml:"TrustProxyHeaders"`
}

// Telemetry configures OTLP export of traces and metrics.
type Telemetry struct {
	Enabled  bool              `toml:"Enabled"`
	Endpoint string            `toml:"Endpoint"`
	Insecure bool              `toml:"Insecure"`
	Headers  map[string]string `toml:"Headers"`
}

// Log controls the structured logger and its optional rotating file sink.
type Log struct {
	Level      string `toml:"Level"`
	File       string `toml:"File"`
	MaxSizeMB  int    `toml:"MaxSizeMB"`
	MaxBackups int    `toml:"MaxBackups"`
	MaxAgeDays int    `toml:"MaxAgeDays"`
}

// Allocation credits an address with tokens at genesis. Amount is a decimal
// integer in the token minor unit.
type Allocation struct {
	Address string `toml:"Address"`
	Amount  string `toml:"Amount"`
}
