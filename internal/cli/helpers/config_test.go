package helpers

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coral-mesh/zoltan/internal/config"
	"github.com/coral-mesh/zoltan/internal/constants"
)

func newCommand(t *testing.T, flags *GlobalFlags, args ...string) *cobra.Command {
	t.Helper()
	cmd := &cobra.Command{Use: "test"}
	flags.Register(cmd.Flags())
	require.NoError(t, cmd.ParseFlags(args))
	return cmd
}

func TestLoadConfig_Precedence(t *testing.T) {
	dir := t.TempDir()
	source := filepath.Join(dir, "game.h")
	require.NoError(t, os.WriteFile(filepath.Join(dir, constants.ConfigFile), []byte(
		"data_model: lp64\nworkers: 2\nlog:\n  level: warn\n"), 0o644))
	t.Setenv("ZOLTAN_WORKERS", "3")

	var flags GlobalFlags
	cmd := newCommand(t, &flags, "--section", ".text", "--section", ".init", "-v")

	cfg, err := LoadConfig(cmd, &flags, source)
	require.NoError(t, err)
	assert.Equal(t, constants.DataModelLP64, cfg.DataModel)
	assert.Equal(t, 3, cfg.Workers)
	assert.Equal(t, []string{".text", ".init"}, cfg.Scan.Sections)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, constants.DefaultDWARFOutput, cfg.Output.DWARF)
}

func TestLoadConfig_FlagsOverrideFile(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "custom.yaml")
	require.NoError(t, config.Save(&config.Config{DataModel: constants.DataModelLP64, Workers: 2}, cfgPath))

	var flags GlobalFlags
	cmd := newCommand(t, &flags, "--config", cfgPath, "--data-model", "ilp32", "-j", "16", "--log-level", "error", "-v")

	cfg, err := LoadConfig(cmd, &flags, filepath.Join(dir, "game.h"))
	require.NoError(t, err)
	assert.Equal(t, constants.DataModelILP32, cfg.DataModel)
	assert.Equal(t, 16, cfg.Workers)
	assert.Equal(t, "error", cfg.Log.Level)
}

func TestLoadConfig_Invalid(t *testing.T) {
	var flags GlobalFlags
	cmd := newCommand(t, &flags, "--all-sections", "--section", ".text", "--frontend", "clang")

	_, err := LoadConfig(cmd, &flags, filepath.Join(t.TempDir(), "game.h"))
	var verr *config.MultiValidationError
	require.ErrorAs(t, err, &verr)
	assert.Len(t, verr.Errors, 2)
}

func TestValidateFormat(t *testing.T) {
	assert.NoError(t, ValidateFormat("csv", SupportedFormats))
	assert.EqualError(t, ValidateFormat("xml", SupportedFormats), `unsupported format "xml", must be one of: table, json, csv`)
}
