package cli

import (
	"context"
	"os"
	"os/signal"

	"github.com/spf13/cobra"

	"github.com/coral-mesh/zoltan/internal/cli/check"
	"github.com/coral-mesh/zoltan/internal/cli/generate"
	"github.com/coral-mesh/zoltan/internal/cli/helpers"
	"github.com/coral-mesh/zoltan/internal/cli/scan"
	"github.com/coral-mesh/zoltan/pkg/version"
)

// NewRootCmd builds the zoltan command tree.
func NewRootCmd() *cobra.Command {
	flags := &helpers.GlobalFlags{}

	rootCmd := &cobra.Command{
		Use:   "zoltan",
		Short: "Zoltan - recover symbols from stripped executables with byte patterns",
		Long: `Turn annotated declarations into debug information for a stripped executable.

Each declaration of a C header or YAML manifest carries a byte pattern. Zoltan
scans the executable for every pattern in a single pass, resolves the symbol
addresses and emits:
- an ELF object with DWARF describing the functions, variables and types,
  ready to be loaded next to the executable by a debugger or disassembler
- optional C, Rust and Go headers listing the offsets from the image base

Settings come from zoltan.yaml next to the source, ZOLTAN_* variables and flags.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	flags.Register(rootCmd.PersistentFlags())

	rootCmd.AddCommand(generate.NewGenerateCmd(flags))
	rootCmd.AddCommand(scan.NewScanCmd(flags))
	rootCmd.AddCommand(check.NewCheckCmd(flags))
	rootCmd.AddCommand(newVersionCmd())

	return rootCmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			cmd.Printf("Zoltan version %s\n", version.Version)
			cmd.Printf("Git commit: %s\n", version.GitCommit)
			cmd.Printf("Build date: %s\n", version.BuildDate)
			cmd.Printf("Go version: %s\n", version.GoVersion)
		},
	}
}

// Execute runs the root command. An interrupt cancels the running scan.
func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	return NewRootCmd().ExecuteContext(ctx)
}
