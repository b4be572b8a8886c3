// Package cmd implements the webcat command line.
package cmd

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/fatih/color"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"gopkg.in/guregu/null.v3"

	"github.com/grafana/webcat/config"
	"github.com/grafana/webcat/log"
)

// BannerColor is the colour of headings printed by the commands.
var BannerColor = color.New(color.FgCyan, color.Bold) //nolint:gochecknoglobals

// rootCommand keeps the state shared by the subcommands.
type rootCommand struct {
	ctx    context.Context
	cmd    *cobra.Command
	stdout io.Writer
	stderr io.Writer

	cfg    config.Config
	logger *log.Logger

	flags   config.Config
	noColor bool
}

func newRootCommand(ctx context.Context, stdout, stderr io.Writer) *rootCommand {
	c := &rootCommand{
		ctx:    ctx,
		stdout: stdout,
		stderr: stderr,
	}
	c.cmd = &cobra.Command{
		Use:               "webcat",
		Short:             "drive web applications through pluggable browser drivers",
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: c.persistentPreRunE,
	}
	c.cmd.SetOut(stdout)
	c.cmd.SetErr(stderr)
	c.cmd.PersistentFlags().AddFlagSet(c.persistentFlagSet())

	c.cmd.AddCommand(
		getCmdServe(c),
		getCmdVisit(c),
		getCmdInspect(c),
		getCmdDrivers(c),
	)
	return c
}

func (c *rootCommand) persistentFlagSet() *pflag.FlagSet {
	flags := pflag.NewFlagSet("", pflag.ContinueOnError)
	flags.SortFlags = false

	flags.StringVarP(&c.flags.Driver.String, "driver", "d", "", "driver to use, see `webcat drivers`")
	flags.StringVar(&c.flags.Timeout.String, "timeout", "", "timeout of remote driver steps")
	flags.Int64Var(&c.flags.MaxRedirects.Int64, "max-redirects", 0, "redirects followed before giving up")
	flags.StringVar(&c.flags.LocatorOrder.String, "locator-order", "", "strategy or document")
	flags.StringVar(&c.flags.BridgeURL.String, "bridge-url", "", "websocket URL of a bridge server")
	flags.StringVar(&c.flags.ChromiumPath.String, "chromium-path", "", "path of the browser executable")
	flags.BoolVar(&c.flags.ChromiumHeadless.Bool, "headless", true, "run the browser without a window")
	flags.StringVarP(&c.flags.LogLevel.String, "log-level", "l", "", "log level")
	flags.StringVar(&c.flags.LogCategoryFilter.String, "log-category-filter", "", "only log categories matching this regexp")
	flags.BoolVarP(&c.flags.Debug.Bool, "verbose", "v", false, "log every category at debug level")
	flags.BoolVar(&c.noColor, "no-color", false, "disable colored output")

	return flags
}

// flagConfig returns the config set through flags the user changed.
func (c *rootCommand) flagConfig(flags *pflag.FlagSet) config.Config {
	var fc config.Config
	changed := func(name string) bool { return flags.Changed(name) }

	if changed("driver") {
		fc.Driver = null.StringFrom(c.flags.Driver.String)
	}
	if changed("timeout") {
		fc.Timeout = null.StringFrom(c.flags.Timeout.String)
	}
	if changed("max-redirects") {
		fc.MaxRedirects = null.IntFrom(c.flags.MaxRedirects.Int64)
	}
	if changed("locator-order") {
		fc.LocatorOrder = null.StringFrom(c.flags.LocatorOrder.String)
	}
	if changed("bridge-url") {
		fc.BridgeURL = null.StringFrom(c.flags.BridgeURL.String)
	}
	if changed("chromium-path") {
		fc.ChromiumPath = null.StringFrom(c.flags.ChromiumPath.String)
	}
	if changed("headless") {
		fc.ChromiumHeadless = null.BoolFrom(c.flags.ChromiumHeadless.Bool)
	}
	if changed("log-level") {
		fc.LogLevel = null.StringFrom(c.flags.LogLevel.String)
	}
	if changed("log-category-filter") {
		fc.LogCategoryFilter = null.StringFrom(c.flags.LogCategoryFilter.String)
	}
	if changed("verbose") {
		fc.Debug = null.BoolFrom(c.flags.Debug.Bool)
	}
	return fc
}

func (c *rootCommand) persistentPreRunE(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Consolidate(nil)
	if err != nil {
		return errors.Wrap(err, "loading configuration")
	}
	c.cfg = cfg.Apply(c.flagConfig(cmd.Flags()))
	if err := c.cfg.Validate(); err != nil {
		return errors.Wrap(err, "invalid configuration")
	}

	if c.noColor {
		color.NoColor = true
	}
	return c.setupLogger()
}

func (c *rootCommand) setupLogger() error {
	l := logrus.New()
	l.SetOutput(c.stderr)
	l.SetFormatter(&logrus.TextFormatter{
		ForceColors:   !color.NoColor,
		DisableColors: color.NoColor,
	})
	c.logger = log.New(l, c.cfg.Debug.Bool, nil)

	level := c.cfg.LogLevel.String
	if c.cfg.Debug.Bool {
		level = logrus.DebugLevel.String()
	}
	if err := c.logger.SetLevel(level); err != nil {
		return errors.Wrapf(err, "invalid log level %q", level)
	}
	return errors.Wrap(c.logger.SetCategoryFilter(c.cfg.LogCategoryFilter.String), "setting up the logger")
}

func (c *rootCommand) printf(format string, args ...any) {
	if _, err := fmt.Fprintf(c.stdout, format, args...); err != nil && c.logger != nil {
		c.logger.Errorf("cmd:printf", "writing to stdout: %v", err)
	}
}

// Execute runs the command line with os.Args and exits on failure.
func Execute() {
	ctx, cancel := signalContext(context.Background())
	defer cancel()

	c := newRootCommand(ctx, os.Stdout, os.Stderr)
	if err := c.cmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, color.RedString("error: %v", err)) //nolint:errcheck
		cancel()
		os.Exit(1) //nolint:gocritic
	}
}
