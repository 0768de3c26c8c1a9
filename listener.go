package syncwsgi

import (
	"net"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/WhileEndless/syncwsgi/internal/worker"
	"github.com/WhileEndless/syncwsgi/pkg/constants"
)

// Config configures a Listener. Application is the only required field.
type Config struct {
	Application Application

	// ServerName and ServerSoftware populate SERVER_NAME and the Server
	// response header; ServerSoftware defaults to constants.ServerSoftware.
	ServerName     string
	ServerSoftware string

	// URLScheme is reported to the application as wsgi.url_scheme and
	// defaults to "http". Set it to "https" when Upgrade is ForceEncrypt,
	// or when a MaybeEncrypt listener is dedicated to TLS clients only.
	URLScheme string

	// MaxHeadBytes caps a request's status line + headers; it defaults to
	// constants.MaxRequestHeadBytes.
	MaxHeadBytes int

	// PolicyFile, when set, answers Flash's <policy-file-request/> probe.
	// See WildcardPolicyFile.
	PolicyFile []byte

	// Upgrade decides, per accepted connection, whether to wrap it in TLS.
	// Nil means never.
	Upgrade UpgradeFunc

	// Logger receives structured diagnostics for every connection and
	// request. The zero value logs to nowhere; use accesslog.NewLogger.
	Logger zerolog.Logger
}

// Listener accepts connections on a net.Listener and serves each one with
// a Worker.
type Listener struct {
	ln     net.Listener
	worker *worker.Worker
	upgrade UpgradeFunc
	log    zerolog.Logger
	dates  *dateCache
	wg     sync.WaitGroup
}

// Listen opens ln via net.Listen(network, addr) and returns a Listener
// ready to Serve. The caller owns the Listener's lifetime and must call
// Close (and then Wait, to let in-flight connections finish) when done.
func Listen(network, addr string, cfg Config) (*Listener, error) {
	ln, err := net.Listen(network, addr)
	if err != nil {
		return nil, err
	}
	return newListener(ln, cfg), nil
}

func newListener(ln net.Listener, cfg Config) *Listener {
	if cfg.ServerSoftware == "" {
		cfg.ServerSoftware = constants.ServerSoftware
	}
	if cfg.URLScheme == "" {
		cfg.URLScheme = "http"
	}
	if cfg.MaxHeadBytes == 0 {
		cfg.MaxHeadBytes = constants.MaxRequestHeadBytes
	}

	host, port, _ := net.SplitHostPort(ln.Addr().String())
	serverName := cfg.ServerName
	if serverName == "" {
		serverName = host
	}

	dates := newDateCache()

	w := worker.New(worker.Config{
		App:            cfg.Application,
		Log:            cfg.Logger,
		ServerSoftware: cfg.ServerSoftware,
		ServerAddr:     host,
		ServerName:     serverName,
		ServerPort:     port,
		URLScheme:      cfg.URLScheme,
		MaxHeadBytes:   cfg.MaxHeadBytes,
		DateString:     dates.String,
		PolicyFile:     cfg.PolicyFile,
		NewID:          uuid.NewString,
	})

	return &Listener{
		ln:      ln,
		worker:  w,
		upgrade: cfg.Upgrade,
		log:     cfg.Logger,
		dates:   dates,
	}
}

// Addr returns the listener's bound address.
func (l *Listener) Addr() net.Addr { return l.ln.Addr() }

// Serve blocks, accepting and dispatching connections until the listener
// is closed, at which point it returns the error Accept reported.
func (l *Listener) Serve() error {
	defer l.dates.Stop()
	for {
		conn, err := l.ln.Accept()
		if err != nil {
			return err
		}
		go l.handle(conn)
	}
}

func (l *Listener) handle(conn net.Conn) {
	l.wg.Add(1)
	defer l.wg.Done()

	upgraded, err := acceptUpgrade(conn, l.upgrade)
	if err != nil {
		l.log.Debug().Err(err).Msg("connection upgrade failed")
		conn.Close()
		return
	}
	l.worker.Serve(upgraded)
}

// Close stops accepting new connections. In-flight connections continue
// until their workers return; call Wait to block for that.
func (l *Listener) Close() error {
	return l.ln.Close()
}

// Wait blocks until every accepted connection's worker has returned.
func (l *Listener) Wait() {
	l.wg.Wait()
}
