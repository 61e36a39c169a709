package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/jsondb/internal/jsondb"
	"github.com/roach88/jsondb/internal/keygen"
)

// KeyOptions holds flags for the key command.
type KeyOptions struct {
	*RootOptions
	Count int

	// Keys allows overriding the key source (for testing).
	// If nil, defaults to keygen.New().
	Keys keygen.KeySource
}

// NewKeyCommand creates the key command.
func NewKeyCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &KeyOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "key",
		Short: "Generate push keys",
		Long: `Generate push keys without touching a database.

Keys generated by one process sort in creation order.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runKey(opts, cmd)
		},
	}

	cmd.Flags().IntVarP(&opts.Count, "count", "n", 1, "number of keys")

	return cmd
}

func runKey(opts *KeyOptions, cmd *cobra.Command) error {
	formatter := opts.formatter(cmd)
	if opts.Count < 1 {
		return formatter.Fail("invalid flags", NewExitError(ExitCommandError, "--count must be at least 1"))
	}

	keys := opts.Keys
	if keys == nil {
		keys = keygen.New()
	}
	out := make([]string, opts.Count)
	for i := range out {
		out[i] = keys.CreateKey()
	}

	if opts.Format == "json" {
		return formatter.Success(out)
	}
	for _, k := range out {
		if err := formatter.Success(k); err != nil {
			return err
		}
	}
	return nil
}

// NewVersionCommand creates the version command.
func NewVersionCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:           "version",
		Short:         "Print the schema version of the store",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runVersion(rootOpts, cmd)
		},
	}

	return cmd
}

func runVersion(opts *RootOptions, cmd *cobra.Command) error {
	formatter := opts.formatter(cmd)

	// Report the stored version as is; opening must not migrate.
	db, _, err := opts.open(cmd, func(o *jsondb.Options) error {
		o.ManualMigrate = true
		return nil
	})
	if err != nil {
		return formatter.Fail("open", err)
	}
	defer closeDB(formatter, db)

	v, err := db.SchemaVersion(cmd.Context())
	if err != nil {
		return formatter.Fail("version", err)
	}

	var data any = v
	if opts.Format == "json" {
		data = map[string]int{"schema_version": v}
	}
	return formatter.Success(data)
}

// MigrateOptions holds flags for the migrate command.
type MigrateOptions struct {
	*RootOptions
	To int
}

// MigrationSummary is the JSON payload of migrate.
type MigrationSummary struct {
	RunID   string `json:"run_id"`
	From    int    `json:"from"`
	To      int    `json:"to"`
	Applied []int  `json:"applied"`
}

func (s MigrationSummary) String() string {
	if len(s.Applied) == 0 {
		return fmt.Sprintf("already at version %d", s.To)
	}
	return fmt.Sprintf("migrated from version %d to %d (applied %v)", s.From, s.To, s.Applied)
}

// NewMigrateCommand creates the migrate command.
func NewMigrateCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &MigrateOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply the configured migration plan",
		Long: `Apply the migration plan named by the migrations config field.

Each version runs in its own transaction together with the version marker,
so an interrupted run resumes where it stopped.

Example:
  JSONDB_MIGRATIONS=plan.yaml jsondb migrate --db app.db
  jsondb migrate --config jsondb.yaml --to 3`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMigrate(opts, cmd)
		},
	}

	cmd.Flags().IntVar(&opts.To, "to", 0, "target schema version (0 = schema_version from config, else the latest in the plan)")

	return cmd
}

func runMigrate(opts *MigrateOptions, cmd *cobra.Command) error {
	formatter := opts.formatter(cmd)

	db, _, err := opts.open(cmd, func(o *jsondb.Options) error {
		if o.Migrator == nil {
			return NewExitError(ExitCommandError, "no migration plan configured")
		}
		o.ManualMigrate = true
		return nil
	})
	if err != nil {
		return formatter.Fail("open", err)
	}
	defer closeDB(formatter, db)

	res, err := db.Migrate(cmd.Context(), opts.To)
	if err != nil {
		return formatter.Fail("migrate", err)
	}
	applied := res.Applied
	if applied == nil {
		applied = []int{}
	}
	return formatter.Success(MigrationSummary{
		RunID:   res.RunID,
		From:    res.From,
		To:      res.To,
		Applied: applied,
	})
}
