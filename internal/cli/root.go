// Package cli wires the stratum command surface: schema authoring from CUE
// definitions, YAML seeding, and per-record read/mutate commands.
package cli

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Verbose  bool
	Format   string // "json" | "text"
	Database string
	Config   string

	// DefaultConditions come from the config file and apply to every
	// command unless overridden by flags.
	DefaultConditions map[string]string
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// Config is the optional YAML config file shape.
type Config struct {
	Database   string            `yaml:"db"`
	Conditions map[string]string `yaml:"conditions"`
}

// NewRootCommand creates the root command for the stratum CLI.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "stratum",
		Short: "Stratum - versioned schema-flexible record store",
		Long: `Stratum stores records as append-only version history: every mutation
adds a new version, reads resolve "latest version at or below a bound",
and values can carry condition overlays (per locale, per context).`,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !isValidFormat(opts.Format) {
				return fmt.Errorf("invalid format %q: must be one of %v", opts.Format, ValidFormats)
			}
			if err := applyConfig(opts); err != nil {
				return err
			}

			logLevel := slog.LevelInfo
			if opts.Verbose {
				logLevel = slog.LevelDebug
			}
			slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
				Level: logLevel,
			})))
			return nil
		},
	}

	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")
	cmd.PersistentFlags().StringVar(&opts.Database, "db", "", "path to SQLite database")
	cmd.PersistentFlags().StringVar(&opts.Config, "config", "", "path to YAML config file")

	cmd.AddCommand(NewApplyCommand(opts))
	cmd.AddCommand(NewSeedCommand(opts))
	cmd.AddCommand(NewGetCommand(opts))
	cmd.AddCommand(NewFindCommand(opts))
	cmd.AddCommand(NewInsertCommand(opts))
	cmd.AddCommand(NewUpdateCommand(opts))
	cmd.AddCommand(NewDeleteCommand(opts))

	return cmd
}

// applyConfig merges the optional config file into the options. Flags win
// over config values.
func applyConfig(opts *RootOptions) error {
	if opts.Config == "" {
		return nil
	}

	raw, err := os.ReadFile(opts.Config)
	if err != nil {
		return fmt.Errorf("read config %s: %w", opts.Config, err)
	}
	var cfg Config
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return fmt.Errorf("parse config %s: %w", opts.Config, err)
	}

	if opts.Database == "" {
		opts.Database = cfg.Database
	}
	opts.DefaultConditions = cfg.Conditions
	return nil
}

// isValidFormat checks if the format is one of the allowed values.
func isValidFormat(format string) bool {
	for _, f := range ValidFormats {
		if f == format {
			return true
		}
	}
	return false
}
