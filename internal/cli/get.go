package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/jsondb/internal/jsondb"
)

// GetOptions holds flags for the get command.
type GetOptions struct {
	*RootOptions
	Query jsondb.GetOptions
}

// NewGetCommand creates the get command.
func NewGetCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &GetOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "get <path>",
		Short: "Print the document stored at a path",
		Long: `Print the JSON document stored at a path.

Children can be windowed by name with --start-at, --start-after, --end-at and
--end-before, ordered with --order and capped with --limit. Array positions
are given as numbers.

Example:
  jsondb get /users/ada
  jsondb get /messages --order desc --limit 10 --shallow`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runGet(opts, args[0], cmd)
		},
	}

	q := &opts.Query
	cmd.Flags().BoolVar(&q.Pretty, "pretty", false, "indent the output")
	cmd.Flags().BoolVar(&q.Shallow, "shallow", false, "print nested containers as true")
	cmd.Flags().IntVar(&q.Depth, "depth", 0, "print containers deeper than this as true (0 = unlimited)")
	cmd.Flags().StringVar(&q.Callback, "callback", "", "wrap the output as callback(...)")
	cmd.Flags().StringVar(&q.Order, "order", jsondb.OrderAsc, "child order (asc|desc)")
	cmd.Flags().StringVar(&q.StartAt, "start-at", "", "first child name to include")
	cmd.Flags().StringVar(&q.StartAfter, "start-after", "", "include children after this name")
	cmd.Flags().StringVar(&q.EndAt, "end-at", "", "last child name to include")
	cmd.Flags().StringVar(&q.EndBefore, "end-before", "", "include children before this name")
	cmd.Flags().IntVar(&q.Limit, "limit", 0, "maximum number of children (0 = unlimited)")

	return cmd
}

func runGet(opts *GetOptions, path string, cmd *cobra.Command) error {
	formatter := opts.formatter(cmd)
	if opts.Format == "json" && opts.Query.Callback != "" {
		return formatter.Fail("invalid flags", NewExitError(ExitCommandError, "--callback cannot be used with --format json"))
	}

	db, _, err := opts.open(cmd, nil)
	if err != nil {
		return formatter.Fail("open", err)
	}
	defer closeDB(formatter, db)

	if opts.Format == "json" {
		doc, err := db.Get(cmd.Context(), path, opts.Query)
		if err != nil {
			return formatter.Fail("get "+path, err)
		}
		return formatter.Success(json.RawMessage(doc))
	}

	if err := db.Stream(cmd.Context(), path, cmd.OutOrStdout(), opts.Query); err != nil {
		return formatter.Fail("get "+path, err)
	}
	fmt.Fprintln(cmd.OutOrStdout())
	return nil
}

// NewExistsCommand creates the exists command.
func NewExistsCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "exists <path>",
		Short: "Report whether anything is stored at a path",
		Long: `Report whether anything is stored at or below a path.

Prints true or false. Exits with status 1 when nothing is stored.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runExists(rootOpts, args[0], cmd)
		},
	}

	return cmd
}

func runExists(opts *RootOptions, path string, cmd *cobra.Command) error {
	formatter := opts.formatter(cmd)

	db, _, err := opts.open(cmd, nil)
	if err != nil {
		return formatter.Fail("open", err)
	}
	defer closeDB(formatter, db)

	ok, err := db.Exists(cmd.Context(), path)
	if err != nil {
		return formatter.Fail("exists "+path, err)
	}

	var data any = ok
	if opts.Format == "json" {
		data = map[string]any{"path": path, "exists": ok}
	}
	if err := formatter.Success(data); err != nil {
		return err
	}
	if !ok {
		return NewExitError(ExitFailure, "not found")
	}
	return nil
}
