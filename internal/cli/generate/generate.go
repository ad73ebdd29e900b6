// Package generate provides the generate command.
package generate

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/multierr"

	"github.com/coral-mesh/zoltan/internal/cli/helpers"
	"github.com/coral-mesh/zoltan/internal/pipeline"
)

// NewGenerateCmd creates the generate command.
func NewGenerateCmd(flags *helpers.GlobalFlags) *cobra.Command {
	var (
		dwarfOutput     string
		cOutput         string
		rustOutput      string
		goOutput        string
		goPackage       string
		eagerTypeExport bool
		stripNamespaces bool
	)

	cmd := &cobra.Command{
		Use:   "generate SOURCE EXE",
		Short: "Recover annotated symbols and write debug information",
		Long: `Locate every annotated declaration of SOURCE in the executable EXE and
write an ELF object carrying DWARF for the recovered functions, variables and
their types. Optional headers list the symbols as offsets from the image base.

Annotations are "///" comment blocks placed right above a declaration:

  /// @pattern E8 (fn:rel) 45 8B 86 ? ? ? ?
  /// @eval fn
  typedef struct Entity *SpawnEntity(World *world);

Artifacts are written for the symbols that resolved even when others fail;
the command then exits non-zero after listing every failure.`,
		Example: `  zoltan generate game.h game.exe -o game.debug --c-output offsets.h
  zoltan generate offsets.yaml server --data-model lp64 --go-output offsets.go`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			source, exe := args[0], args[1]
			cfg, err := helpers.LoadConfig(cmd, flags, source)
			if err != nil {
				return err
			}

			fs := cmd.Flags()
			if fs.Changed("output") {
				cfg.Output.DWARF = dwarfOutput
			}
			if fs.Changed("c-output") {
				cfg.Output.CHeader = cOutput
			}
			if fs.Changed("rust-output") {
				cfg.Output.Rust = rustOutput
			}
			if fs.Changed("go-output") {
				cfg.Output.Go = goOutput
			}
			if fs.Changed("go-package") {
				cfg.Output.GoPackage = goPackage
			}
			if fs.Changed("eager-type-export") {
				cfg.EagerTypeExport = eagerTypeExport
			}
			if fs.Changed("strip-namespaces") {
				cfg.StripNamespaces = stripNamespaces
			}
			if err := cfg.Validate(); err != nil {
				return err
			}

			logger := helpers.NewLogger(cfg, cmd.ErrOrStderr())
			res, outputs, err := pipeline.New(cfg, logger).Generate(cmd.Context(), source, exe)
			failures := multierr.Errors(err)
			for _, f := range failures {
				cmd.PrintErrf("  %v\n", f)
			}
			if res == nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Resolved %d of %d annotated declarations\n", len(res.Symbols), res.Plan.Annotated)
			for _, o := range outputs {
				fmt.Fprintf(cmd.OutOrStdout(), "  %-6s %s (%d bytes)\n", o.Kind, o.Path, o.Size)
			}
			if len(failures) > 0 {
				return fmt.Errorf("%d declarations failed", len(failures))
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&dwarfOutput, "output", "o", "", "Debug object path (default zoltan.o)")
	cmd.Flags().StringVar(&cOutput, "c-output", "", "Write a C header of symbol offsets")
	cmd.Flags().StringVar(&rustOutput, "rust-output", "", "Write a Rust module of symbol offsets")
	cmd.Flags().StringVar(&goOutput, "go-output", "", "Write a Go file of symbol offsets")
	cmd.Flags().StringVar(&goPackage, "go-package", "", "Package clause of the Go output (default offsets)")
	cmd.Flags().BoolVar(&eagerTypeExport, "eager-type-export", false, "Emit every type of the source, not only reachable ones")
	cmd.Flags().BoolVar(&stripNamespaces, "strip-namespaces", false, "Drop ns:: qualifiers from emitted names")

	return cmd
}
