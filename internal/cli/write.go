package cli

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/roach88/jsondb/internal/jsondb"
)

// WriteOptions holds flags for the set, push and update commands.
type WriteOptions struct {
	*RootOptions
	File string
}

// WriteSummary is the JSON payload of set and update.
type WriteSummary struct {
	Path      string   `json:"path"`
	Written   int      `json:"written"`
	Deleted   int      `json:"deleted"`
	Conflicts []string `json:"conflicts,omitempty"`
}

func (s WriteSummary) String() string {
	msg := fmt.Sprintf("%s: %d written, %d deleted", s.Path, s.Written, s.Deleted)
	if n := len(s.Conflicts); n > 0 {
		msg += fmt.Sprintf(", %d conflicts resolved", n)
	}
	return msg
}

func summarize(path string, res jsondb.WriteResult) WriteSummary {
	s := WriteSummary{Path: path, Written: res.Written, Deleted: res.Deleted}
	for _, c := range res.Conflicts {
		s.Conflicts = append(s.Conflicts, c.Path)
	}
	return s
}

func newWriteCommand(rootOpts *RootOptions, use, short, long string, run func(*WriteOptions, []string, *cobra.Command) error) *cobra.Command {
	opts := &WriteOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:           use,
		Short:         short,
		Long:          long,
		Args:          cobra.RangeArgs(1, 2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(opts, args, cmd)
		},
	}

	cmd.Flags().StringVarP(&opts.File, "file", "f", "", "read the document from a file (- for stdin)")

	return cmd
}

// NewSetCommand creates the set command.
func NewSetCommand(rootOpts *RootOptions) *cobra.Command {
	return newWriteCommand(rootOpts, "set <path> [json]",
		"Replace the document at a path",
		`Replace the document stored at a path.

The document is taken from the argument, from --file, or from stdin.
Setting null deletes the path.

Example:
  jsondb set /users/ada '{"name":"Ada","born":1815}'
  jsondb set / --file backup.json`,
		runSet)
}

func runSet(opts *WriteOptions, args []string, cmd *cobra.Command) error {
	return runWrite(opts, args, cmd, "set", func(ctx context.Context, db *jsondb.DB, path string, body io.Reader) (jsondb.WriteResult, error) {
		return db.Set(ctx, path, body)
	})
}

// NewUpdateCommand creates the update command.
func NewUpdateCommand(rootOpts *RootOptions) *cobra.Command {
	return newWriteCommand(rootOpts, "update <path> [json]",
		"Replace the named children of a path",
		`Replace each child of a path named in a JSON object.

Children not named in the object are left alone. A null member deletes that
child.

Example:
  jsondb update /users/ada '{"born":1815,"nickname":null}'`,
		runUpdate)
}

func runUpdate(opts *WriteOptions, args []string, cmd *cobra.Command) error {
	return runWrite(opts, args, cmd, "update", func(ctx context.Context, db *jsondb.DB, path string, body io.Reader) (jsondb.WriteResult, error) {
		return db.Update(ctx, path, body)
	})
}

func runWrite(opts *WriteOptions, args []string, cmd *cobra.Command, op string,
	write func(context.Context, *jsondb.DB, string, io.Reader) (jsondb.WriteResult, error)) error {
	formatter := opts.formatter(cmd)
	path := args[0]

	body, err := readBody(cmd, args, 1, opts.File)
	if err != nil {
		return formatter.Fail("read document", err)
	}
	defer body.Close()

	db, _, err := opts.open(cmd, nil)
	if err != nil {
		return formatter.Fail("open", err)
	}
	defer closeDB(formatter, db)

	res, err := write(cmd.Context(), db, path, body)
	if err != nil {
		return formatter.Fail(op+" "+path, err)
	}
	for _, c := range res.Conflicts {
		formatter.VerboseLog("conflict at %s: %s", c.Path, c.Message)
	}
	return formatter.Success(summarize(path, res))
}

// NewPushCommand creates the push command.
func NewPushCommand(rootOpts *RootOptions) *cobra.Command {
	return newWriteCommand(rootOpts, "push <path> [json]",
		"Store a document under a new push key",
		`Store a document under a new, time-ordered key below a path.

Prints the new key. Keys sort in creation order.

Example:
  jsondb push /messages '{"text":"hello"}'`,
		runPush)
}

func runPush(opts *WriteOptions, args []string, cmd *cobra.Command) error {
	formatter := opts.formatter(cmd)
	path := args[0]

	body, err := readBody(cmd, args, 1, opts.File)
	if err != nil {
		return formatter.Fail("read document", err)
	}
	defer body.Close()

	db, _, err := opts.open(cmd, nil)
	if err != nil {
		return formatter.Fail("open", err)
	}
	defer closeDB(formatter, db)

	key, err := db.Push(cmd.Context(), path, body)
	if err != nil {
		return formatter.Fail("push "+path, err)
	}

	var data any = key
	if opts.Format == "json" {
		data = map[string]string{"path": path, "key": key}
	}
	return formatter.Success(data)
}

// NewDeleteCommand creates the delete command.
func NewDeleteCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "delete <path>",
		Short: "Delete the subtree at a path",
		Long: `Delete everything stored at or below a path.

Deleting a path that holds nothing succeeds and reports false.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDelete(rootOpts, args[0], cmd)
		},
	}

	return cmd
}

func runDelete(opts *RootOptions, path string, cmd *cobra.Command) error {
	formatter := opts.formatter(cmd)

	db, _, err := opts.open(cmd, nil)
	if err != nil {
		return formatter.Fail("open", err)
	}
	defer closeDB(formatter, db)

	deleted, err := db.Delete(cmd.Context(), path)
	if err != nil {
		return formatter.Fail("delete "+path, err)
	}

	var data any = deleted
	if opts.Format == "json" {
		data = map[string]any{"path": path, "deleted": deleted}
	}
	return formatter.Success(data)
}
