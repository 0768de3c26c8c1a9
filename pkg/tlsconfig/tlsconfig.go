// Package tlsconfig provides server-side tls.Config profile helpers used by
// the upgrade decision (ForceEncrypt / MaybeEncrypt).
package tlsconfig

import "crypto/tls"

// Version identifiers, re-exported for readability at call sites.
const (
	VersionTLS10 uint16 = tls.VersionTLS10
	VersionTLS11 uint16 = tls.VersionTLS11
	VersionTLS12 uint16 = tls.VersionTLS12
	VersionTLS13 uint16 = tls.VersionTLS13
)

// VersionProfile names a Min/Max TLS version range.
type VersionProfile struct {
	Min         uint16
	Max         uint16
	Description string
}

var (
	// ProfileModern restricts to TLS 1.3 only.
	ProfileModern = VersionProfile{Min: VersionTLS13, Max: VersionTLS13, Description: "TLS 1.3 only"}

	// ProfileSecure is the recommended default for a plaintext/TLS dual-port server.
	ProfileSecure = VersionProfile{Min: VersionTLS12, Max: VersionTLS13, Description: "TLS 1.2+"}

	// ProfileCompatible extends down to TLS 1.0 for legacy clients.
	ProfileCompatible = VersionProfile{Min: VersionTLS10, Max: VersionTLS13, Description: "TLS 1.0+"}
)

// GetVersionName returns a human-readable TLS version name.
func GetVersionName(version uint16) string {
	switch version {
	case VersionTLS10:
		return "TLS 1.0"
	case VersionTLS11:
		return "TLS 1.1"
	case VersionTLS12:
		return "TLS 1.2"
	case VersionTLS13:
		return "TLS 1.3"
	default:
		return "Unknown"
	}
}

// IsVersionDeprecated reports whether version is below TLS 1.2.
func IsVersionDeprecated(version uint16) bool {
	return version < VersionTLS12
}

// CipherSuitesSecure is the ECDHE+AEAD preference list used below TLS 1.3
// (1.3 negotiates its own suites and ignores this list).
var CipherSuitesSecure = []uint16{
	tls.TLS_ECDHE_RSA_WITH_AES_128_GCM_SHA256,
	tls.TLS_ECDHE_RSA_WITH_AES_256_GCM_SHA384,
	tls.TLS_ECDHE_ECDSA_WITH_AES_128_GCM_SHA256,
	tls.TLS_ECDHE_ECDSA_WITH_AES_256_GCM_SHA384,
	tls.TLS_ECDHE_RSA_WITH_CHACHA20_POLY1305_SHA256,
	tls.TLS_ECDHE_ECDSA_WITH_CHACHA20_POLY1305_SHA256,
}

// ApplyProfile sets MinVersion/MaxVersion on config from profile.
func ApplyProfile(config *tls.Config, profile VersionProfile) {
	config.MinVersion = profile.Min
	config.MaxVersion = profile.Max
}

// ApplyCipherSuites sets a secure cipher suite list on config, unless
// minVersion is TLS 1.3-only (which ignores CipherSuites entirely).
func ApplyCipherSuites(config *tls.Config, minVersion uint16) {
	if minVersion >= VersionTLS13 {
		config.CipherSuites = nil
		return
	}
	config.CipherSuites = CipherSuitesSecure
}

// NewServerConfig builds a server-side tls.Config for the given certificate
// pair and profile, ready to pass to ForceEncrypt/MaybeEncrypt.
func NewServerConfig(cert tls.Certificate, profile VersionProfile) *tls.Config {
	cfg := &tls.Config{Certificates: []tls.Certificate{cert}}
	ApplyProfile(cfg, profile)
	ApplyCipherSuites(cfg, profile.Min)
	return cfg
}
