package main

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"golang.org/x/term"
)

// cli carries the state shared by all subcommands.
type cli struct {
	v      *viper.Viper
	logger *slog.Logger
}

func newRootCmd() *cobra.Command {
	c := &cli{v: viper.New()}
	setDefaults(c.v)

	root := &cobra.Command{
		Use:   "nwhost",
		Short: "Launch a desktop app backed by an in-process HTTP API",
		Long: `nwhost starts an HTTP API on a free ephemeral port, publishes the port to
the front end through js/tempPort.js in the asset directory, launches the
NW.js runtime from $NW_HOME on that directory and stops the API once the
window is closed.

Settings are read from flags, NWHOST_* environment variables and an
optional YAML file (./nwhost.yaml or --config).`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return c.init(cmd)
		},
	}

	flags := root.PersistentFlags()
	flags.StringP("config", "c", "", "config file (default is ./nwhost.yaml)")
	flags.String("log-level", "info", "log level: debug, info, warn or error")
	flags.String("journal", "", "sqlite launch journal path (disabled when empty)")
	bindFlags(c.v, flags, map[string]string{
		"config":    "config",
		"log_level": "log-level",
		"journal":   "journal",
	})

	root.AddCommand(newRunCmd(c))
	root.AddCommand(newJournalCmd(c))
	root.AddCommand(newConfigCmd(c))
	root.AddCommand(newVersionCmd())
	return root
}

func bindFlags(v *viper.Viper, flags *pflag.FlagSet, keys map[string]string) {
	for key, name := range keys {
		_ = v.BindPFlag(key, flags.Lookup(name))
	}
}

// init reads the config file and installs the logger.
func (c *cli) init(cmd *cobra.Command) error {
	c.v.SetEnvPrefix("NWHOST")
	// NWHOST_SHUTDOWN_GRACE for shutdown_grace
	c.v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	c.v.AutomaticEnv()

	if cfgFile := c.v.GetString("config"); cfgFile != "" {
		c.v.SetConfigFile(cfgFile)
		if err := c.v.ReadInConfig(); err != nil {
			return fmt.Errorf("failed to read config file %s: %w", cfgFile, err)
		}
	} else {
		c.v.SetConfigName("nwhost")
		c.v.SetConfigType("yaml")
		c.v.AddConfigPath(".")
		var notFound viper.ConfigFileNotFoundError
		if err := c.v.ReadInConfig(); err != nil && !errors.As(err, &notFound) {
			return fmt.Errorf("failed to read config file: %w", err)
		}
	}

	logger, err := newLogger(cmd.ErrOrStderr(), c.v.GetString("log_level"))
	if err != nil {
		return err
	}
	c.logger = logger
	slog.SetDefault(logger)
	return nil
}

// newLogger logs JSON, or text when w is an interactive terminal.
func newLogger(w io.Writer, level string) (*slog.Logger, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", level, err)
	}
	opts := &slog.HandlerOptions{Level: lvl}
	if f, ok := w.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		return slog.New(slog.NewTextHandler(w, opts)), nil
	}
	return slog.New(slog.NewJSONHandler(w, opts)), nil
}
