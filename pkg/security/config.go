// Package security provides platform-wide security configuration types.
package security

// Config holds platform-wide security configuration for the gateway.
type Config struct {
	TLS  TLSConfig  `json:"tls,omitempty" yaml:"tls,omitempty"`
	Auth AuthConfig `json:"auth,omitempty" yaml:"auth,omitempty"`
	CORS CORSConfig `json:"cors,omitempty" yaml:"cors,omitempty"`
}

// TLSConfig holds TLS configuration for the HTTP server.
type TLSConfig struct {
	Enabled    bool   `json:"enabled" yaml:"enabled"`
	CertFile   string `json:"cert_file,omitempty" yaml:"cert_file,omitempty"`
	KeyFile    string `json:"key_file,omitempty" yaml:"key_file,omitempty"`
	MinVersion string `json:"min_version,omitempty" yaml:"min_version,omitempty"` // "1.2" or "1.3"
}

// AuthConfig holds bearer-token authentication settings. Tokens are opaque:
// the gateway only verifies presence and shape of the Authorization header;
// issuance and verification live outside this service.
type AuthConfig struct {
	// Required controls whether subscription endpoints reject requests
	// without a bearer token. Streaming endpoints always honor this too.
	Required bool `json:"required" yaml:"required"`
}

// CORSConfig holds cross-origin settings for browser clients.
type CORSConfig struct {
	Enabled bool     `json:"enabled" yaml:"enabled"`
	Origins []string `json:"origins,omitempty" yaml:"origins,omitempty"`
}
