package cli

import (
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/roach88/jsondb/internal/snapshot"
)

// ExportOptions holds flags for the export command.
type ExportOptions struct {
	*RootOptions
	Output      string
	Compression string
}

// SnapshotSummary is the JSON payload of export and import.
type SnapshotSummary struct {
	Path          string `json:"path"`
	Codec         string `json:"codec"`
	SchemaVersion int    `json:"schema_version"`
	Written       int    `json:"written,omitempty"`
	File          string `json:"file,omitempty"`
}

func (s SnapshotSummary) String() string {
	return s.Path + " (" + s.Codec + ")"
}

// NewExportCommand creates the export command.
func NewExportCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ExportOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "export <path>",
		Short: "Write a snapshot of a subtree",
		Long: `Write a compressed snapshot of the subtree at a path.

Encrypted values stay encrypted in the snapshot. Without --output the
snapshot is written to stdout.

Example:
  jsondb export / --output backup.snap
  jsondb export /users --compression lz4 > users.snap`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runExport(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVarP(&opts.Output, "output", "o", "", "snapshot file (default stdout)")
	cmd.Flags().StringVar(&opts.Compression, "compression", "", "none, zstd, snappy or lz4 (default from config)")

	return cmd
}

func runExport(opts *ExportOptions, path string, cmd *cobra.Command) error {
	formatter := opts.formatter(cmd)

	db, cfg, err := opts.open(cmd, nil)
	if err != nil {
		return formatter.Fail("open", err)
	}
	defer closeDB(formatter, db)

	name := opts.Compression
	if name == "" {
		name = cfg.SnapshotCompression
	}
	codec, err := snapshot.ParseCodec(name)
	if err != nil {
		return formatter.Fail("invalid flags", WrapExitError(ExitCommandError, "bad compression", err))
	}

	var w io.Writer = cmd.OutOrStdout()
	if opts.Output != "" {
		f, err := os.Create(opts.Output)
		if err != nil {
			return formatter.Fail("export", WrapExitError(ExitCommandError, "failed to create output", err))
		}
		defer f.Close()
		w = f
	}

	h, err := db.Export(cmd.Context(), path, w, codec)
	if err != nil {
		return formatter.Fail("export "+path, err)
	}

	summary := SnapshotSummary{Path: h.Path, Codec: string(h.Codec), SchemaVersion: h.SchemaVersion, File: opts.Output}
	if opts.Output == "" {
		// stdout carries the snapshot itself
		formatter.VerboseLog("exported %s", summary)
		return nil
	}
	return formatter.Success(summary)
}

// NewImportCommand creates the import command.
func NewImportCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "import [file]",
		Short: "Restore a snapshot",
		Long: `Replace the subtree named in a snapshot with its contents.

Reads the snapshot from the file, or from stdin when no file is given. The
store is migrated afterwards if a migration plan is configured.`,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runImport(rootOpts, args, cmd)
		},
	}

	return cmd
}

func runImport(opts *RootOptions, args []string, cmd *cobra.Command) error {
	formatter := opts.formatter(cmd)

	var (
		r    io.Reader = cmd.InOrStdin()
		file string
	)
	if len(args) == 1 && args[0] != "-" {
		f, err := os.Open(args[0])
		if err != nil {
			return formatter.Fail("import", WrapExitError(ExitCommandError, "failed to open snapshot", err))
		}
		defer f.Close()
		r, file = f, args[0]
	}

	db, _, err := opts.open(cmd, nil)
	if err != nil {
		return formatter.Fail("open", err)
	}
	defer closeDB(formatter, db)

	h, res, err := db.Import(cmd.Context(), r)
	if err != nil {
		return formatter.Fail("import", err)
	}
	return formatter.Success(SnapshotSummary{
		Path:          h.Path,
		Codec:         string(h.Codec),
		SchemaVersion: h.SchemaVersion,
		Written:       res.Written,
		File:          file,
	})
}

// NewBootstrapCommand creates the bootstrap command.
func NewBootstrapCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "bootstrap <path> <file>",
		Short: "Load a seed document if the path is empty",
		Long: `Load a seed document at a path unless something is already stored there.

Placeholders of the form @NAME@ are replaced with the environment variable
NAME. @ENC:NAME@ stores the variable's value encrypted, which requires an
encryption key.

Example:
  DB_PASSWORD=secret jsondb bootstrap /config seed.json`,
		Args:          cobra.ExactArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBootstrap(rootOpts, args[0], args[1], cmd)
		},
	}

	return cmd
}

func runBootstrap(opts *RootOptions, path, file string, cmd *cobra.Command) error {
	formatter := opts.formatter(cmd)

	doc, err := os.ReadFile(file)
	if err != nil {
		return formatter.Fail("bootstrap", WrapExitError(ExitCommandError, "failed to read seed document", err))
	}

	db, _, err := opts.open(cmd, nil)
	if err != nil {
		return formatter.Fail("open", err)
	}
	defer closeDB(formatter, db)

	loaded, err := db.Bootstrap(cmd.Context(), path, doc, opts.lookupEnv)
	if err != nil {
		return formatter.Fail("bootstrap "+path, err)
	}

	if opts.Format == "json" {
		return formatter.Success(map[string]any{"path": path, "loaded": loaded})
	}
	if loaded {
		return formatter.Success("loaded " + path)
	}
	return formatter.Success(path + " already present, nothing loaded")
}
