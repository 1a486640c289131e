package cli

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/zot/snippets/internal/backup"
)

func (a *app) exportCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "export [FILE]",
		Short: "Write a JSON backup to FILE (default " + backup.Filename + "), or - for stdout",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			name := backup.Filename
			if len(args) == 1 {
				name = args[0]
			}
			repo, release, err := a.openRepo()
			if err != nil {
				return err
			}
			defer release()

			svc := backup.New(repo)
			if name == "-" {
				return svc.Export(cmd.Context(), cmd.OutOrStdout())
			}
			f, err := os.Create(name)
			if err != nil {
				return err
			}
			if err := svc.Export(cmd.Context(), f); err != nil {
				f.Close()
				return err
			}
			if err := f.Close(); err != nil {
				return err
			}
			fmt.Fprintf(cmd.ErrOrStderr(), "Exported to %s\n", name)
			return nil
		},
	}
}

func (a *app) importCmd() *cobra.Command {
	var policyName string
	cmd := &cobra.Command{
		Use:   "import FILE",
		Short: "Restore a JSON backup; records with an existing id are replaced",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			policy, err := backup.ParsePolicy(policyName)
			if err != nil {
				return err
			}
			var in io.Reader = cmd.InOrStdin()
			if args[0] != "-" {
				f, err := os.Open(args[0])
				if err != nil {
					return err
				}
				defer f.Close()
				in = f
			}
			repo, release, err := a.openRepo()
			if err != nil {
				return err
			}
			defer release()

			report, err := backup.New(repo).Import(cmd.Context(), in, policy)
			for _, failure := range report.Failed {
				fmt.Fprintf(cmd.ErrOrStderr(), "record %d (id %d): %v\n", failure.Index, failure.ID, failure.Err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Imported %d records\n", report.Imported)
			if err != nil && len(report.Failed) > 0 {
				return errors.New("some records were not imported")
			}
			return err
		},
	}
	cmd.Flags().StringVar(&policyName, "policy", "atomic", "Import policy: atomic or independent")
	return cmd
}
