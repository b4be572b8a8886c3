package cmd

import (
	"net/url"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/grafana/webcat/browser"
)

// splitTarget splits an absolute URL into the application base URL and
// the path visited on it.
func splitTarget(raw string) (base, path string, err error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", "", errors.Wrapf(err, "parsing %q", raw)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return "", "", errors.Errorf("%q is not an absolute http(s) URL", raw)
	}
	return u.Scheme + "://" + u.Host, u.RequestURI(), nil
}

// openSession starts a session for the application serving raw and visits
// raw.
func (c *rootCommand) openSession(cmd *cobra.Command, raw string) (*browser.Session, error) {
	base, path, err := splitTarget(raw)
	if err != nil {
		return nil, err
	}
	s := browser.New(cmd.Context(), c.cfg.Driver.String, base,
		browser.WithConfig(c.cfg),
		browser.WithLogger(c.logger),
	)
	if err := s.Visit(path); err != nil {
		_ = s.Close()
		return nil, err
	}
	return s, nil
}

type visitCmd struct {
	root *rootCommand
	body bool
	save string
}

func (c *visitCmd) flagSet() *pflag.FlagSet {
	flags := pflag.NewFlagSet("", pflag.ContinueOnError)
	flags.SortFlags = false
	flags.BoolVar(&c.body, "body", false, "print the markup instead of the text")
	flags.StringVar(&c.save, "save", "", "also save the markup to this file")
	return flags
}

func (c *visitCmd) run(cmd *cobra.Command, args []string) (err error) {
	s, err := c.root.openSession(cmd, args[0])
	if err != nil {
		return err
	}
	defer func() {
		if cerr := s.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()

	doc, err := s.Document()
	if err != nil {
		return err
	}
	if c.save != "" {
		if err := s.SavePage(c.save); err != nil {
			return err
		}
	}

	c.root.printf("%s %s\n", BannerColor.Sprint("URL:"), doc.URL())
	if code, err := s.StatusCode(); err == nil {
		c.root.printf("%s %d\n", BannerColor.Sprint("Status:"), code)
	}
	if c.body {
		c.root.printf("\n%s\n", doc.Body())
		return nil
	}
	c.root.printf("\n%s\n", doc.Text())
	return nil
}

func getCmdVisit(root *rootCommand) *cobra.Command {
	c := &visitCmd{root: root}
	cmd := &cobra.Command{
		Use:   "visit URL",
		Short: "Visit a page and print it",
		Args:  cobra.ExactArgs(1),
		RunE:  c.run,
	}
	cmd.Flags().AddFlagSet(c.flagSet())
	return cmd
}
