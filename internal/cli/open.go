package cli

import (
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/jsondb/internal/config"
	"github.com/roach88/jsondb/internal/jsondb"
)

func (o *RootOptions) formatter(cmd *cobra.Command) *OutputFormatter {
	return &OutputFormatter{
		Format:    o.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(), // Verbose logs go to stderr to avoid corrupting JSON
		Verbose:   o.Verbose,
	}
}

// loadConfig reads the config file and environment, then applies the global
// flag overrides.
func (o *RootOptions) loadConfig() (*config.Config, error) {
	cfg, err := config.Load(o.ConfigPath, o.Environ)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to load config", err)
	}

	overridden := false
	if o.Backend != "" {
		cfg.Backend = o.Backend
		overridden = true
	}
	if o.Database != "" {
		cfg.Path = o.Database
		overridden = true
	}
	if o.Verbose {
		cfg.LogLevel = "debug"
	}
	if overridden {
		if err := cfg.Validate(); err != nil {
			return nil, WrapExitError(ExitCommandError, "invalid flags", err)
		}
	}
	return cfg, nil
}

// open opens the store described by the config and flags. prepare may adjust
// the options before the store is opened.
func (o *RootOptions) open(cmd *cobra.Command, prepare func(*jsondb.Options) error) (*jsondb.DB, *config.Config, error) {
	cfg, err := o.loadConfig()
	if err != nil {
		return nil, nil, err
	}
	logger := cfg.NewLogger(cmd.ErrOrStderr())

	opts, err := jsondb.FromConfig(cfg, logger, nil)
	if err != nil {
		return nil, nil, WrapExitError(ExitCommandError, "failed to open database", err)
	}
	if prepare != nil {
		if err := prepare(&opts); err != nil {
			opts.Backend.Close()
			return nil, nil, err
		}
	}

	db, err := jsondb.Open(cmd.Context(), opts)
	if err != nil {
		return nil, nil, WrapExitError(ExitFailure, "failed to open database", err)
	}
	return db, cfg, nil
}

func (o *RootOptions) lookupEnv(name string) (string, bool) {
	if o.Environ != nil {
		v, ok := o.Environ[name]
		return v, ok
	}
	return os.LookupEnv(name)
}

// readBody returns the document from --file, from the argument at index i,
// or from stdin, in that order.
func readBody(cmd *cobra.Command, args []string, i int, file string) (io.ReadCloser, error) {
	switch {
	case file == "-":
		return io.NopCloser(cmd.InOrStdin()), nil
	case file != "":
		f, err := os.Open(file)
		if err != nil {
			return nil, WrapExitError(ExitCommandError, "failed to open document", err)
		}
		return f, nil
	case len(args) > i:
		return io.NopCloser(strings.NewReader(args[i])), nil
	}
	return io.NopCloser(cmd.InOrStdin()), nil
}

func closeDB(f *OutputFormatter, db *jsondb.DB) {
	if err := db.Close(); err != nil {
		f.VerboseLog("error closing database: %v", err)
	}
}
