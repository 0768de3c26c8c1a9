package syncwsgi

import (
	"crypto/tls"
	"io"
	"net"

	"github.com/WhileEndless/syncwsgi/pkg/tlsconfig"
)

// NewTLSServerConfig loads a certificate/key pair from disk and builds a
// *tls.Config pinned to profile's minimum/maximum TLS version and cipher
// suite list, ready to hand to MaybeEncrypt or ForceEncrypt.
func NewTLSServerConfig(certFile, keyFile string, profile tlsconfig.VersionProfile) (*tls.Config, error) {
	cert, err := tls.LoadX509KeyPair(certFile, keyFile)
	if err != nil {
		return nil, err
	}
	return tlsconfig.NewServerConfig(cert, profile), nil
}

// UpgradeFunc inspects a freshly accepted connection's first byte and
// decides whether to wrap it in TLS before the Worker ever sees it. It
// receives conn already primed to replay that first byte, so it is always
// safe to pass conn straight to tls.Server.
type UpgradeFunc func(conn net.Conn, firstByte byte) (net.Conn, error)

// MaybeEncrypt upgrades a connection to TLS only when its first byte looks
// like a TLS record header or an SSLv2 ClientHello (0x16 or 0x80), leaving
// ordinary plaintext traffic on the same listener untouched. This lets one
// port serve both http and a client that mistakenly dialed it as https. The
// returned net.Conn is a *tls.Conn whenever it upgraded; Worker.Serve type-
// asserts that to report wsgi.url_scheme/HTTPS correctly per connection.
func MaybeEncrypt(tlsConfig *tls.Config) UpgradeFunc {
	return func(conn net.Conn, firstByte byte) (net.Conn, error) {
		if firstByte != 0x16 && firstByte != 0x80 {
			return conn, nil
		}
		return tls.Server(conn, tlsConfig), nil
	}
}

// ForceEncrypt always wraps the connection in TLS, for a listener
// dedicated to HTTPS.
func ForceEncrypt(tlsConfig *tls.Config) UpgradeFunc {
	return func(conn net.Conn, _ byte) (net.Conn, error) {
		return tls.Server(conn, tlsConfig), nil
	}
}

// prefixedConn replays a held-back prefix before resuming reads from the
// wrapped connection, so peeking a byte to decide on upgrade never loses
// it.
type prefixedConn struct {
	net.Conn
	prefix []byte
}

func (c *prefixedConn) Read(p []byte) (int, error) {
	if len(c.prefix) > 0 {
		n := copy(p, c.prefix)
		c.prefix = c.prefix[n:]
		return n, nil
	}
	return c.Conn.Read(p)
}

// acceptUpgrade peeks the connection's first byte (by actually reading it,
// then holding it back for replay) and applies upgrade. A nil upgrade
// leaves the connection untouched.
func acceptUpgrade(conn net.Conn, upgrade UpgradeFunc) (net.Conn, error) {
	if upgrade == nil {
		return conn, nil
	}
	var b [1]byte
	if _, err := io.ReadFull(conn, b[:]); err != nil {
		return nil, err
	}
	pc := &prefixedConn{Conn: conn, prefix: b[:]}
	return upgrade(pc, b[0])
}
