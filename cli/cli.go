// Package cli provides the command-line interface for snippets.
// It exports Run() and RunWithHooks() to allow extension by wrapper projects.
package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"

	"github.com/spf13/cobra"

	"github.com/zot/snippets/internal/bundle"
	"github.com/zot/snippets/internal/config"
	"github.com/zot/snippets/internal/repository"
	"github.com/zot/snippets/internal/server"
	"github.com/zot/snippets/internal/storage"
	"github.com/zot/snippets/web"
)

// Version is the program version.
const Version = "0.1.0"

// Hooks allows extending the CLI with additional commands.
type Hooks struct {
	// Commands are added to the root command.
	Commands []*cobra.Command

	// CustomVersion returns version info to append (optional).
	CustomVersion func() string
}

// Run executes the CLI with the given arguments.
// Returns exit code (0 = success, non-zero = error).
func Run(args []string) int {
	return RunWithHooks(args, nil)
}

// RunWithHooks executes CLI with extension hooks.
func RunWithHooks(args []string, hooks *Hooks) int {
	return execute(context.Background(), newRootCmd(hooks), args, os.Stderr)
}

func execute(ctx context.Context, root *cobra.Command, args []string, stderr io.Writer) int {
	root.SetArgs(args)
	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	return 0
}

// app is the state shared by one command invocation.
type app struct {
	cfg   *config.Config
	hooks *Hooks
	site  fs.FS
}

func newRootCmd(hooks *Hooks) *cobra.Command {
	a := &app{hooks: hooks}
	root := &cobra.Command{
		Use:   "snippets",
		Short: "Local code snippet manager",
		Long: `Store, search, back up and restore code snippets.

With no command, snippets serves the page (same as 'snippets serve').`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(cmd.Flags())
			if err != nil {
				return fmt.Errorf("config: %w", err)
			}
			a.cfg = cfg
			return nil
		},
		RunE: a.runServe,
	}
	config.RegisterFlags(root.PersistentFlags())

	root.AddCommand(
		a.serveCmd(),
		a.mcpCmd(),
		a.listCmd(),
		a.getCmd(),
		a.addCmd(),
		a.editCmd(),
		a.rmCmd(),
		a.searchCmd(),
		a.exportCmd(),
		a.importCmd(),
		a.cacheCmd(),
		a.bundleCmd(),
		a.extractCmd(),
		a.versionCmd(),
	)
	if hooks != nil {
		root.AddCommand(hooks.Commands...)
	}
	return root
}

// siteFS returns the site bundled on the executable, else the embedded one.
func (a *app) siteFS() fs.FS {
	if a.site != nil {
		return a.site
	}
	site, err := bundle.Site()
	if err != nil {
		if !errors.Is(err, bundle.ErrNotBundled) {
			a.cfg.Log(0, "Warning: cannot read bundled site: %v", err)
		}
		site = web.Site
	}
	a.site = site
	return site
}

// openRepo opens the configured store. The returned func releases it.
func (a *app) openRepo() (*repository.Repository, func(), error) {
	h, err := storage.Open(server.StorageOptions(a.cfg))
	if err != nil {
		return nil, nil, err
	}
	release := func() {
		if err := h.Close(); err != nil {
			a.cfg.Error("close store", err)
		}
	}
	return repository.New(h), release, nil
}

func (a *app) versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "snippets v%s\n", Version)
			if a.hooks != nil && a.hooks.CustomVersion != nil {
				fmt.Fprintln(cmd.OutOrStdout(), a.hooks.CustomVersion())
			}
		},
	}
}
