package cli

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/zot/snippets/internal/bundle"
	"github.com/zot/snippets/internal/mcp"
	"github.com/zot/snippets/internal/server"
)

func (a *app) serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the page and the JSON API",
		Long: `Serve the page, the JSON API and the notice feed until interrupted.

The page comes from --dir when given, else the site bundled on the binary,
else the built-in page.`,
		Args: cobra.NoArgs,
		RunE: a.runServe,
	}
}

func (a *app) runServe(cmd *cobra.Command, args []string) error {
	srv, err := server.New(a.cfg, a.siteFS())
	if err != nil {
		return err
	}
	url, err := srv.StartHTTP(a.cfg.Server.Port)
	if err != nil {
		srv.Shutdown(cmd.Context())
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Serving on %s\n", url)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return srv.Run(ctx)
}

func (a *app) mcpCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "mcp",
		Short: "Serve the snippet tools over MCP on stdio",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			repo, release, err := a.openRepo()
			if err != nil {
				return err
			}
			defer release()
			return mcp.NewServer(a.cfg, repo, Version).ServeStdio()
		},
	}
}

func (a *app) bundleCmd() *cobra.Command {
	var output string
	cmd := &cobra.Command{
		Use:   "bundle SITE_DIR",
		Short: "Create a copy of this binary that serves SITE_DIR",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			exe, err := os.Executable()
			if err != nil {
				return err
			}
			if err := bundle.Create(exe, args[0], output); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Created %s\n", output)
			return nil
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "snippets-bundled", "Output binary")
	return cmd
}

func (a *app) extractCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "extract DIR",
		Short: "Write the served site to DIR for editing",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			site := a.siteFS()
			if err := bundle.Extract(site, args[0]); err != nil {
				return err
			}
			names, err := bundle.List(site)
			if err != nil {
				return err
			}
			for _, name := range names {
				fmt.Fprintln(cmd.OutOrStdout(), name)
			}
			return nil
		},
	}
}
