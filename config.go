/*
Copyright © 2026 triviahost contributors
*/

package main

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Config holds everything the server needs to start. bind/TLS/verbose/version
// are ambient operational knobs carried forward
// regardless of what the game protocol itself requires.
type Config struct {
	bind            string
	port            int
	clientURL       string
	janitorInterval time.Duration
	tlsCert         string
	tlsKey          string
	profile         bool
	verbose         bool
	version         bool
}

func (c *Config) validate() error {
	if (c.tlsCert == "") != (c.tlsKey == "") {
		return errors.New("both --tls-cert and --tls-key must be provided together")
	}
	if c.port < 1 || c.port > 65535 {
		return fmt.Errorf("invalid port (must be between 1-65535 inclusive): %d", c.port)
	}
	return nil
}

func (c *Config) scheme() string {
	if c.tlsCert != "" && c.tlsKey != "" {
		return "https"
	}
	return "http"
}

// envBinding pairs a flag name with the exact environment variable name it
// binds to. PORT and CLIENT_URL must stay unprefixed for compatibility with
// the client; everything else is an ambient knob with no external
// constraint, so it gets a project-prefixed name instead of riding on a
// single blanket SetEnvPrefix (which would have forced PORT into
// TRIVIAHOST_PORT).
type envBinding struct {
	flag string
	env  string
}

func newCmd(cfg *Config) *cobra.Command {
	v := viper.New()

	cmd := &cobra.Command{
		Use:           "triviahost",
		Short:         "Real-time multiplayer trivia game server.",
		Args:          cobra.ExactArgs(0),
		SilenceErrors: true,
		Version:       releaseVersion,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := cfg.validate(); err != nil {
				return err
			}
			return ServePage(cmd.Context(), cfg)
		},
	}

	fs := cmd.Flags()

	fs.SetNormalizeFunc(func(_ *pflag.FlagSet, name string) pflag.NormalizedName {
		return pflag.NormalizedName(strings.ReplaceAll(name, "_", "-"))
	})

	fs.StringVarP(&cfg.bind, "bind", "b", "0.0.0.0", "address to bind to (env: TRIVIAHOST_BIND)")
	fs.IntVarP(&cfg.port, "port", "p", 3001, "port to listen on (env: PORT)")
	fs.StringVar(&cfg.clientURL, "client-url", "http://localhost:5173", "allowed cross-origin client for the transport and REST surface (env: CLIENT_URL)")
	fs.DurationVar(&cfg.janitorInterval, "janitor-interval", 30*time.Minute, "interval between sweeps removing ended sessions (env: TRIVIAHOST_JANITOR_INTERVAL)")
	fs.BoolVar(&cfg.profile, "profile", false, "register net/http/pprof handlers (env: TRIVIAHOST_PROFILE)")
	fs.StringVar(&cfg.tlsCert, "tls-cert", "", "path to tls certificate (env: TRIVIAHOST_TLS_CERT)")
	fs.StringVar(&cfg.tlsKey, "tls-key", "", "path to tls keyfile (env: TRIVIAHOST_TLS_KEY)")
	fs.BoolVarP(&cfg.verbose, "verbose", "v", false, "display additional output (env: TRIVIAHOST_VERBOSE)")
	fs.BoolVarP(&cfg.version, "version", "V", false, "display version and exit (env: TRIVIAHOST_VERSION)")

	bindings := []envBinding{
		{"bind", "TRIVIAHOST_BIND"},
		{"port", "PORT"},
		{"client-url", "CLIENT_URL"},
		{"janitor-interval", "TRIVIAHOST_JANITOR_INTERVAL"},
		{"profile", "TRIVIAHOST_PROFILE"},
		{"tls-cert", "TRIVIAHOST_TLS_CERT"},
		{"tls-key", "TRIVIAHOST_TLS_KEY"},
		{"verbose", "TRIVIAHOST_VERBOSE"},
		{"version", "TRIVIAHOST_VERSION"},
	}

	for _, b := range bindings {
		f := fs.Lookup(b.flag)
		_ = v.BindPFlag(b.flag, f)
		_ = v.BindEnv(b.flag, b.env)
		if !f.Changed && v.IsSet(b.flag) {
			_ = fs.Set(b.flag, fmt.Sprintf("%v", v.Get(b.flag)))
		}
	}

	cmd.CompletionOptions.HiddenDefaultCmd = true
	cmd.SetHelpCommand(&cobra.Command{Hidden: true})
	cmd.SetVersionTemplate("triviahost v{{.Version}}\n")

	cmd.SilenceErrors = true
	cmd.SilenceUsage = true

	return cmd
}
