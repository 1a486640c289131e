package cli

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/zot/snippets/internal/search"
	"github.com/zot/snippets/internal/storage"
)

// codeFlags are the record fields given on the command line.
type codeFlags struct {
	title   string
	content string
	image   string
}

func (f *codeFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.title, "title", "", "Snippet title")
	cmd.Flags().StringVar(&f.content, "content", "", "Snippet content, or @FILE to read it from a file")
	cmd.Flags().StringVar(&f.image, "image", "", "Image file stored as a data URI")
	cmd.MarkFlagRequired("title")
	cmd.MarkFlagRequired("content")
}

// values resolves @FILE content and converts the image file.
func (f *codeFlags) values() (content string, image *string, err error) {
	content = f.content
	if name, ok := strings.CutPrefix(content, "@"); ok {
		data, err := os.ReadFile(name)
		if err != nil {
			return "", nil, err
		}
		content = string(data)
	}
	if f.image != "" {
		uri, err := dataURI(f.image)
		if err != nil {
			return "", nil, err
		}
		image = &uri
	}
	return content, image, nil
}

// dataURI reads path as a base64 data URI, typed by extension or content.
func dataURI(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	typ := mime.TypeByExtension(filepath.Ext(path))
	if typ == "" {
		typ = http.DetectContentType(data)
	}
	if i := strings.IndexByte(typ, ';'); i >= 0 {
		typ = strings.TrimSpace(typ[:i])
	}
	return "data:" + typ + ";base64," + base64.StdEncoding.EncodeToString(data), nil
}

func parseID(s string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid id %q", s)
	}
	return id, nil
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// writeTable prints one line per record: id, title, and an image marker.
func writeTable(w io.Writer, records []storage.Record) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tTITLE\tIMAGE")
	for _, rec := range records {
		img := ""
		if rec.Image != nil {
			img = "yes"
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\n", rec.ID, rec.Title, img)
	}
	return tw.Flush()
}

func (a *app) listCmd() *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List every snippet",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			repo, release, err := a.openRepo()
			if err != nil {
				return err
			}
			defer release()
			records, err := repo.All(cmd.Context())
			if err != nil {
				return err
			}
			if asJSON {
				return writeJSON(cmd.OutOrStdout(), records)
			}
			return writeTable(cmd.OutOrStdout(), records)
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print JSON")
	return cmd
}

func (a *app) getCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get ID",
		Short: "Print one snippet as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			repo, release, err := a.openRepo()
			if err != nil {
				return err
			}
			defer release()
			rec, err := repo.Get(cmd.Context(), id)
			if err != nil {
				return err
			}
			if rec == nil {
				return fmt.Errorf("no snippet with id %d", id)
			}
			return writeJSON(cmd.OutOrStdout(), rec)
		},
	}
}

func (a *app) addCmd() *cobra.Command {
	var f codeFlags
	cmd := &cobra.Command{
		Use:   "add --title TITLE --content CONTENT [--image FILE]",
		Short: "Add a snippet and print its id",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			content, image, err := f.values()
			if err != nil {
				return err
			}
			repo, release, err := a.openRepo()
			if err != nil {
				return err
			}
			defer release()
			id, err := repo.Create(cmd.Context(), f.title, content, image)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), id)
			return nil
		},
	}
	f.register(cmd)
	return cmd
}

func (a *app) editCmd() *cobra.Command {
	var f codeFlags
	cmd := &cobra.Command{
		Use:   "edit ID --title TITLE --content CONTENT [--image FILE]",
		Short: "Replace a snippet",
		Long:  "Replace every field of a snippet. Without --image the stored image is removed.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			content, image, err := f.values()
			if err != nil {
				return err
			}
			repo, release, err := a.openRepo()
			if err != nil {
				return err
			}
			defer release()
			return repo.Update(cmd.Context(), id, f.title, content, image)
		},
	}
	f.register(cmd)
	return cmd
}

func (a *app) rmCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "rm ID...",
		Aliases: []string{"delete"},
		Short:   "Delete snippets",
		Args:    cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ids := make([]int64, len(args))
			for i, arg := range args {
				id, err := parseID(arg)
				if err != nil {
					return err
				}
				ids[i] = id
			}
			repo, release, err := a.openRepo()
			if err != nil {
				return err
			}
			defer release()
			for _, id := range ids {
				if err := repo.Delete(cmd.Context(), id); err != nil {
					return err
				}
			}
			return nil
		},
	}
}

func (a *app) searchCmd() *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "search TERM",
		Short: "List snippets whose title or content contains TERM",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			records := []storage.Record{}
			if args[0] != "" {
				repo, release, err := a.openRepo()
				if err != nil {
					return err
				}
				defer release()
				records, err = search.New(repo.Backend()).Search(cmd.Context(), args[0])
				if err != nil {
					return err
				}
			}
			if asJSON {
				return writeJSON(cmd.OutOrStdout(), records)
			}
			return writeTable(cmd.OutOrStdout(), records)
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print JSON")
	return cmd
}
