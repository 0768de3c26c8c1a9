// Command syncwsgi-example runs a small demo application: a static
// greeting over plain HTTP, a chunked counter over a lazy iterator, and an
// echo endpoint over the WebSocket extension. It exists to exercise every
// branch of the library end to end, not as a production server.
package main

import (
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
	"github.com/spf13/pflag"

	"github.com/WhileEndless/syncwsgi"
	"github.com/WhileEndless/syncwsgi/internal/accesslog"
	"github.com/WhileEndless/syncwsgi/pkg/tlsconfig"
)

// fileConfig is the shape of an optional TOML config file; flags passed on
// the command line override whatever it sets.
type fileConfig struct {
	Addr       string `toml:"addr"`
	ServerName string `toml:"server_name"`
	Debug      bool   `toml:"debug"`
}

func main() {
	var (
		addr       = pflag.StringP("addr", "a", ":8080", "address to listen on")
		serverName = pflag.String("server-name", "", "SERVER_NAME to report (defaults to the bind address)")
		debug      = pflag.Bool("debug", false, "enable debug-level logging")
		configPath = pflag.String("config", "", "optional TOML config file")
		tlsCert    = pflag.String("tls-cert", "", "TLS certificate file; enables HTTPS sniffing on the same port when set with --tls-key")
		tlsKey     = pflag.String("tls-key", "", "TLS private key file")
		tlsProfile = pflag.String("tls-profile", "secure", "TLS version/cipher profile: modern, secure, or compatible")
	)
	pflag.Parse()

	cfg := fileConfig{Addr: *addr, ServerName: *serverName, Debug: *debug}
	if *configPath != "" {
		if _, err := toml.DecodeFile(*configPath, &cfg); err != nil {
			fmt.Fprintln(os.Stderr, "syncwsgi-example: reading config:", err)
			os.Exit(1)
		}
		if pflag.CommandLine.Changed("addr") {
			cfg.Addr = *addr
		}
		if pflag.CommandLine.Changed("server-name") {
			cfg.ServerName = *serverName
		}
		if pflag.CommandLine.Changed("debug") {
			cfg.Debug = *debug
		}
	}

	log := accesslog.NewLogger(cfg.Debug)

	listenCfg := syncwsgi.Config{
		Application:    demoApplication,
		ServerName:     cfg.ServerName,
		ServerSoftware: "syncwsgi-example",
		Logger:         log,
		PolicyFile:     syncwsgi.WildcardPolicyFile(),
	}

	if *tlsCert != "" && *tlsKey != "" {
		profile, err := tlsVersionProfile(*tlsProfile)
		if err != nil {
			fmt.Fprintln(os.Stderr, "syncwsgi-example:", err)
			os.Exit(1)
		}
		tlsCfg, err := syncwsgi.NewTLSServerConfig(*tlsCert, *tlsKey, profile)
		if err != nil {
			fmt.Fprintln(os.Stderr, "syncwsgi-example: loading TLS certificate:", err)
			os.Exit(1)
		}
		// MaybeEncrypt, not ForceEncrypt: a client that dials the same port
		// with plain HTTP still gets served instead of failing the TLS
		// handshake.
		listenCfg.Upgrade = syncwsgi.MaybeEncrypt(tlsCfg)
	}

	ln, err := syncwsgi.Listen("tcp", cfg.Addr, listenCfg)
	if err != nil {
		fmt.Fprintln(os.Stderr, "syncwsgi-example: listen:", err)
		os.Exit(1)
	}

	log.Info().Str("addr", ln.Addr().String()).Msg("listening")
	if err := ln.Serve(); err != nil {
		log.Error().Err(err).Msg("listener stopped")
	}
}

func tlsVersionProfile(name string) (tlsconfig.VersionProfile, error) {
	switch name {
	case "modern":
		return tlsconfig.ProfileModern, nil
	case "secure":
		return tlsconfig.ProfileSecure, nil
	case "compatible":
		return tlsconfig.ProfileCompatible, nil
	default:
		return tlsconfig.VersionProfile{}, fmt.Errorf("unknown --tls-profile %q (want modern, secure, or compatible)", name)
	}
}
