package helpers

import (
	"io"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/coral-mesh/zoltan/internal/config"
	"github.com/coral-mesh/zoltan/internal/logging"
)

// LoadConfig builds the configuration for a command working on the
// declaration source at sourcePath: defaults, then the project file, then
// ZOLTAN_* variables, then command-line flags.
func LoadConfig(cmd *cobra.Command, flags *GlobalFlags, sourcePath string) (*config.Config, error) {
	path := flags.ConfigPath
	if path == "" {
		path = config.FindConfigFile(sourcePath)
	}

	cfg, err := config.NewLayeredLoader().Load(path)
	if err != nil {
		return nil, err
	}
	flags.Apply(cmd.Flags(), cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// NewLogger returns the logger configured by cfg, writing to w.
func NewLogger(cfg *config.Config, w io.Writer) zerolog.Logger {
	lc := logging.DefaultConfig()
	lc.Level = cfg.Log.Level
	lc.Pretty = cfg.Log.Pretty
	lc.Output = w
	return logging.New(lc)
}
