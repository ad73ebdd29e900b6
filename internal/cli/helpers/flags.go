package helpers

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/coral-mesh/zoltan/internal/config"
)

// AddFormatFlag adds a standard --format/-f flag to a command.
func AddFormatFlag(cmd *cobra.Command, formatVar *string, defaultFormat OutputFormat, supportedFormats []OutputFormat) {
	formatNames := make([]string, len(supportedFormats))
	for i, f := range supportedFormats {
		formatNames[i] = string(f)
	}

	description := fmt.Sprintf("Output format (%s)", strings.Join(formatNames, ", "))
	cmd.Flags().StringVarP(formatVar, "format", "f", string(defaultFormat), description)

	_ = cmd.RegisterFlagCompletionFunc("format", func(cmd *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
		return formatNames, cobra.ShellCompDirectiveNoFileComp
	})
}

// ValidateFormat checks if the format is in the supported list.
func ValidateFormat(format string, supported []OutputFormat) error {
	for _, s := range supported {
		if format == string(s) {
			return nil
		}
	}

	supportedNames := make([]string, len(supported))
	for i, s := range supported {
		supportedNames[i] = string(s)
	}

	return fmt.Errorf("unsupported format %q, must be one of: %s",
		format, strings.Join(supportedNames, ", "))
}

// GlobalFlags are the persistent flags shared by every command. They
// override the configuration file and environment.
type GlobalFlags struct {
	ConfigPath  string
	Frontend    string
	DataModel   string
	Workers     int
	Sections    []string
	AllSections bool
	LogLevel    string
	Verbose     bool
}

// Register adds the flags to fs.
func (f *GlobalFlags) Register(fs *pflag.FlagSet) {
	fs.StringVar(&f.ConfigPath, "config", "", "Configuration file (default: zoltan.yaml next to the declaration source)")
	fs.StringVar(&f.Frontend, "frontend", "", "Declaration frontend (cdecl, manifest); detected from the source extension by default")
	fs.StringVar(&f.DataModel, "data-model", "", "C data model used for type layout (llp64, lp64, ilp32)")
	fs.IntVarP(&f.Workers, "workers", "j", 0, "Concurrent section scans and resolutions")
	fs.StringSliceVar(&f.Sections, "section", nil, "Section to scan, repeatable (default: executable sections)")
	fs.BoolVar(&f.AllSections, "all-sections", false, "Scan every file-backed section, data included")
	fs.StringVar(&f.LogLevel, "log-level", "", "Log level (trace, debug, info, warn, error)")
	fs.BoolVarP(&f.Verbose, "verbose", "v", false, "Shorthand for --log-level debug")
}

// Apply copies the flags that were set on the command line into cfg.
func (f *GlobalFlags) Apply(fs *pflag.FlagSet, cfg *config.Config) {
	if fs.Changed("frontend") {
		cfg.Frontend = f.Frontend
	}
	if fs.Changed("data-model") {
		cfg.DataModel = f.DataModel
	}
	if fs.Changed("workers") {
		cfg.Workers = f.Workers
	}
	if fs.Changed("section") {
		cfg.Scan.Sections = f.Sections
	}
	if fs.Changed("all-sections") {
		cfg.Scan.AllSections = f.AllSections
	}
	switch {
	case fs.Changed("log-level"):
		cfg.Log.Level = f.LogLevel
	case f.Verbose:
		cfg.Log.Level = "debug"
	}
}
