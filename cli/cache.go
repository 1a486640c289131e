package cli

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/zot/snippets/internal/assetcache"
	"github.com/zot/snippets/internal/server"
)

func (a *app) newCache() *assetcache.Cache {
	return assetcache.New(a.cfg, server.SiteFetcher(a.cfg, a.siteFS()))
}

func (a *app) cacheCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Manage the offline asset cache",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "install",
			Short: "Fetch every cached path into the current generation",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				c := a.newCache()
				if err := c.Install(cmd.Context()); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Installed %s (%d files)\n", c.Name(), len(c.Entries()))
				return nil
			},
		},
		&cobra.Command{
			Use:   "activate",
			Short: "Delete every generation except the current one",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				deleted, err := a.newCache().Activate()
				if err != nil {
					return err
				}
				for _, name := range deleted {
					fmt.Fprintf(cmd.OutOrStdout(), "Deleted %s\n", name)
				}
				return nil
			},
		},
		&cobra.Command{
			Use:   "ls",
			Short: "List cache generations and the current entries",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				c := a.newCache()
				gens, err := c.Generations()
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				for _, g := range gens {
					marker := " "
					if g == c.Name() {
						marker = "*"
					}
					fmt.Fprintf(out, "%s %s\n", marker, g)
				}
				if err := c.Load(); err != nil {
					// not installed yet
					return nil
				}
				tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
				fmt.Fprintln(tw, "\nPATH\tTYPE\tSIZE")
				for _, e := range c.Entries() {
					fmt.Fprintf(tw, "./%s\t%s\t%d\n", e.Key, e.ContentType, e.Size)
				}
				return tw.Flush()
			},
		},
	)
	return cmd
}
