package main

import (
	"github.com/spf13/cobra"

	"github.com/hupe1980/obsmesh/config"
	"github.com/hupe1980/obsmesh/logging"
	"github.com/hupe1980/obsmesh/observation"
)

// cli holds flag values and the state initialized before every command.
type cli struct {
	cfgFile  string
	logLevel string
	policy   string

	cfg    *config.Config
	logger logging.CloseableLogger
	codec  *observation.Codec
}

func newRootCmd() *cobra.Command {
	c := &cli{}

	root := &cobra.Command{
		Use:           "obsctl",
		Short:         "Inspect, convert and produce agent observations.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return c.initialize(cmd)
		},
		PersistentPostRunE: func(*cobra.Command, []string) error {
			return c.shutdown()
		},
	}

	root.PersistentFlags().StringVarP(&c.cfgFile, "config", "c", "", "config file (default is ./obsmesh.yaml)")
	root.PersistentFlags().StringVar(&c.logLevel, "log-level", "", "log level override (debug, info, warn, error)")
	root.PersistentFlags().StringVar(&c.policy, "policy", "", "unknown-kind policy override (strict, lenient)")

	root.AddCommand(
		c.newKindsCmd(),
		c.newDescribeCmd(),
		c.newSchemaCmd(),
		c.newClassifyCmd(),
		c.newDecodeCmd(),
		c.newExecCmd(),
		c.newServeCmd(),
		c.newConfigCmd(),
	)
	return root
}

// initialize loads configuration, applies flag overrides and builds the
// logger and codec shared by all subcommands.
func (c *cli) initialize(cmd *cobra.Command) error {
	cfg, err := config.Load(c.cfgFile)
	if err != nil {
		return err
	}
	if c.logLevel != "" {
		cfg.Logging.Level = c.logLevel
	}
	if c.policy != "" {
		cfg.Codec.Policy = c.policy
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	c.cfg = cfg

	lc := cfg.LoggerConfig()
	lc.Output = cmd.ErrOrStderr()
	lc.Component = "obsctl"
	c.logger = logging.NewBackend(cfg.Logging.Backend, lc)

	c.codec, err = observation.NewCodec(cfg.Policy(), func(o *observation.CodecOptions) {
		o.Logger = c.logger
	})
	return err
}

func (c *cli) shutdown() error {
	if c.logger == nil {
		return nil
	}
	return c.logger.Close()
}
