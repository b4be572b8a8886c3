package cmd

import (
	"context"
	"net"
	"net/http"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/grafana/webcat/api"
	"github.com/grafana/webcat/bridge"
	"github.com/grafana/webcat/browser"
)

const shutdownTimeout = 5 * time.Second

type serveCmd struct {
	root   *rootCommand
	listen string
	tmpDir string
}

func (c *serveCmd) flagSet() *pflag.FlagSet {
	flags := pflag.NewFlagSet("", pflag.ContinueOnError)
	flags.SortFlags = false
	flags.StringVar(&c.listen, "listen", "127.0.0.1:9515", "address the bridge server listens on")
	flags.StringVar(&c.tmpDir, "tmp-dir", "", "directory for uploaded files")
	return flags
}

// opener starts sessions with the configured driver.
func (c *serveCmd) opener() (bridge.Opener, error) {
	name := c.root.cfg.Driver.String
	if name == browser.DriverBridge {
		return nil, errors.New("a bridge server cannot host the bridge driver")
	}
	factory, ok := browser.Lookup(name)
	if !ok {
		return nil, errors.Errorf("no driver called %q was found", name)
	}
	cfg, logger := c.root.cfg, c.root.logger
	return func(ctx context.Context, target string) (api.Driver, error) {
		return factory(ctx, target, cfg, logger)
	}, nil
}

func (c *serveCmd) run(cmd *cobra.Command, _ []string) error {
	open, err := c.opener()
	if err != nil {
		return err
	}

	ln, err := net.Listen("tcp", c.listen)
	if err != nil {
		return errors.Wrap(err, "listening")
	}
	srv := &http.Server{
		Handler:           bridge.NewServer(open, bridge.ServerOptions{TmpDir: c.tmpDir, Logger: c.root.logger}),
		ReadHeaderTimeout: 10 * time.Second,
	}

	c.root.printf("%s serving the %s driver on ws://%s/\n",
		BannerColor.Sprint("webcat bridge"), c.root.cfg.Driver.String, ln.Addr())

	errc := make(chan error, 1)
	go func() { errc <- srv.Serve(ln) }()

	select {
	case err := <-errc:
		return errors.Wrap(err, "serving")
	case <-cmd.Context().Done():
	}

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		return errors.Wrap(err, "shutting down")
	}
	return nil
}

func getCmdServe(root *rootCommand) *cobra.Command {
	c := &serveCmd{root: root}
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve a driver over the bridge protocol",
		Long: `Serve a driver over the bridge protocol.

Every websocket connection gets its own driver, started with the
configured driver name. Sessions using the bridge driver connect to it
through WEBCAT_BRIDGE_URL.`,
		Args: cobra.NoArgs,
		RunE: c.run,
	}
	cmd.Flags().AddFlagSet(c.flagSet())
	return cmd
}
