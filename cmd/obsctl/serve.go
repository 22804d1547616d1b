package main

import (
	"fmt"
	"io"
	"net/url"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/hupe1980/obsmesh"
	"github.com/hupe1980/obsmesh/config"
	"github.com/hupe1980/obsmesh/orchestrator"
	"github.com/hupe1980/obsmesh/server"
)

func (c *cli) newServeCmd() *cobra.Command {
	var (
		addr     string
		readOnly bool
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the mesh over HTTP",
		Long: "Serve starts the orchestrator loop behind an HTTP API. Producers POST wire\n" +
			"observations to /v1/observations, clients run actions via /v1/actions and read\n" +
			"session history from /v1/sessions. Loop metrics are exposed on /metrics.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if cmd.Flags().Changed("addr") {
				c.cfg.Server.Addr = addr
			}
			if cmd.Flags().Changed("read-only") {
				c.cfg.Server.ReadOnly = readOnly
			}

			reg := prometheus.NewRegistry()
			var metrics *orchestrator.Metrics
			if c.cfg.Server.Metrics {
				metrics = orchestrator.MustNewMetrics(reg)
			}

			mesh, err := obsmesh.New(c.cfg, func(o *obsmesh.Options) {
				o.Registry = c.codec.Registry()
				o.Logger = c.logger
				o.Metrics = metrics
			})
			if err != nil {
				return err
			}
			defer mesh.Close()

			srv := server.New(mesh, func(o *server.Options) {
				o.ReadOnly = c.cfg.Server.ReadOnly
				o.AllowOrigins = c.cfg.Server.AllowOrigins
				o.Logger = c.logger
				if metrics != nil {
					o.Gatherer = reg
				}
			})
			fmt.Fprintf(cmd.ErrOrStderr(), "obsctl: serving session %s on %s\n", mesh.Loop().SessionID(), c.cfg.Server.Addr)
			return srv.Run(cmd.Context(), c.cfg.Server.Addr)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (defaults to server.addr)")
	cmd.Flags().BoolVar(&readOnly, "read-only", false, "reject requests that run actions or inject observations")
	return cmd
}

func (c *cli) newConfigCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration as YAML",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return writeConfig(cmd.OutOrStdout(), c.cfg)
		},
	}
}

// writeConfig encodes cfg with the history DSN password masked.
func writeConfig(w io.Writer, cfg *config.Config) error {
	redacted := *cfg
	redacted.History.DSN = redactDSN(cfg.History.DSN)

	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(&redacted); err != nil {
		return err
	}
	return enc.Close()
}

func redactDSN(dsn string) string {
	u, err := url.Parse(dsn)
	if err != nil || u.User == nil {
		return dsn
	}
	if _, ok := u.User.Password(); !ok {
		return dsn
	}
	return u.Redacted()
}
