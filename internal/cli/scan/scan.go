// Package scan provides the scan command.
package scan

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/multierr"

	"github.com/coral-mesh/zoltan/internal/cli/helpers"
	"github.com/coral-mesh/zoltan/internal/pipeline"
)

// SymbolRow is one line of the scan report.
type SymbolRow struct {
	Name    string `header:"NAME" json:"name"`
	Kind    string `header:"KIND" json:"kind"`
	Address uint64 `header:"ADDRESS,hex" json:"address"`
	Offset  uint64 `header:"OFFSET,hex" json:"offset"`
	Matches int    `header:"MATCHES" json:"matches"`
	Status  string `header:"STATUS" json:"status"`
	Line    int    `json:"line"`
}

// NewScanCmd creates the scan command.
func NewScanCmd(flags *helpers.GlobalFlags) *cobra.Command {
	var format string

	cmd := &cobra.Command{
		Use:   "scan SOURCE EXE",
		Short: "Resolve annotated symbols and print their addresses",
		Long: `Locate every annotated declaration of SOURCE in EXE and print one row
per declaration: its address, its offset from the image base, how many times
the pattern matched and whether it resolved. No artifact is written.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := helpers.ValidateFormat(format, helpers.SupportedFormats); err != nil {
				return err
			}
			formatter, err := helpers.NewFormatter(helpers.OutputFormat(format))
			if err != nil {
				return err
			}

			cfg, err := helpers.LoadConfig(cmd, flags, args[0])
			if err != nil {
				return err
			}
			logger := helpers.NewLogger(cfg, cmd.ErrOrStderr())

			res, err := pipeline.New(cfg, logger).Run(cmd.Context(), args[0], args[1])
			if res == nil {
				return err
			}

			rows, failed := Rows(res, err)
			if err := formatter.Format(rows, cmd.OutOrStdout()); err != nil {
				return fmt.Errorf("failed to write report: %w", err)
			}
			if failed > 0 {
				return fmt.Errorf("%d declarations failed", failed)
			}
			return nil
		},
	}

	helpers.AddFormatFlag(cmd, &format, helpers.FormatTable, helpers.SupportedFormats)
	return cmd
}

// Rows builds the report for every annotated declaration of res, in source
// order, from the resolved symbols and the failures in runErr. It returns
// the number of failed declarations.
func Rows(res *pipeline.Result, runErr error) ([]SymbolRow, int) {
	g := res.Plan.Graph
	rows := make(map[int]*SymbolRow)
	row := func(ref int) *SymbolRow {
		if r, ok := rows[ref]; ok {
			return r
		}
		d := g.Decls[ref]
		r := &SymbolRow{Name: d.Name, Kind: d.Kind.String(), Line: d.Pos.Line}
		rows[ref] = r
		return r
	}

	for i, ref := range res.Plan.Refs {
		if i < len(res.Matches) {
			row(ref).Matches = len(res.Matches[i])
		}
	}
	for _, s := range res.Symbols {
		r := row(s.Ref)
		r.Address = s.Address
		r.Offset = s.Address - res.Image.Base
		r.Status = "ok"
	}

	failed := 0
	for _, err := range multierr.Errors(runErr) {
		var de *pipeline.DeclError
		if !errors.As(err, &de) {
			continue
		}
		failed++
		for ref, d := range g.Decls {
			if d.Name == de.Decl && d.Pos == de.Pos {
				row(ref).Status = fmt.Sprintf("%s: %v", de.Phase, de.Err)
				break
			}
		}
	}

	out := make([]SymbolRow, 0, len(rows))
	for ref := range g.Decls {
		if r, ok := rows[ref]; ok {
			out = append(out, *r)
		}
	}
	return out, failed
}
