package cmd

import (
	"github.com/spf13/cobra"

	"github.com/grafana/webcat/browser"
)

func getCmdDrivers(root *rootCommand) *cobra.Command {
	return &cobra.Command{
		Use:   "drivers",
		Short: "List the registered drivers",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			for _, name := range browser.Drivers() {
				if name == root.cfg.Driver.String {
					root.printf("%s (default)\n", BannerColor.Sprint(name))
					continue
				}
				root.printf("%s\n", name)
			}
			return nil
		},
	}
}
