// Package pipeline runs the stages of a generation: parse declarations,
// compile their patterns, scan the executable, resolve addresses and emit
// the artifacts.
package pipeline

import (
	"bytes"
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"
	"go.uber.org/multierr"

	"github.com/coral-mesh/zoltan/internal/config"
	"github.com/coral-mesh/zoltan/internal/constants"
	"github.com/coral-mesh/zoltan/internal/frontend"
	"github.com/coral-mesh/zoltan/internal/frontend/ctype"
	"github.com/coral-mesh/zoltan/internal/safe"
	"github.com/coral-mesh/zoltan/pkg/decl"
	"github.com/coral-mesh/zoltan/pkg/dwarfgen"
	"github.com/coral-mesh/zoltan/pkg/header"
	"github.com/coral-mesh/zoltan/pkg/image"
	"github.com/coral-mesh/zoltan/pkg/pattern"
	"github.com/coral-mesh/zoltan/pkg/resolve"
	"github.com/coral-mesh/zoltan/pkg/scan"
)

// Plan is a parsed source with its compiled patterns.
type Plan struct {
	Source string
	Graph  *decl.Graph
	// Patterns holds one compiled pattern per locatable declaration; Refs[i]
	// indexes Graph.Decls for Patterns[i].
	Patterns []*scan.Compiled
	Refs     []int
	// Annotated counts declarations carrying a pattern annotation,
	// including those that failed to compile.
	Annotated int
}

// Result is the outcome of resolving a plan against an image.
type Result struct {
	Plan    *Plan
	Image   *image.Image
	Symbols []resolve.Symbol
	// Matches holds the scan results in Plan.Patterns order.
	Matches [][]scan.Match
}

// Output is a written artifact.
type Output struct {
	Kind string
	Path string
	Size int
}

// Pipeline runs generations for one configuration.
type Pipeline struct {
	cfg    *config.Config
	logger zerolog.Logger
}

// New creates a pipeline.
func New(cfg *config.Config, logger zerolog.Logger) *Pipeline {
	return &Pipeline{
		cfg:    cfg,
		logger: logger.With().Str("component", "pipeline").Logger(),
	}
}

// Load parses the declaration source at path.
func (p *Pipeline) Load(ctx context.Context, path string) (*decl.Graph, error) {
	fe, err := frontend.New(p.cfg.Frontend, path, p.cfg.DataModel, p.logger)
	if err != nil {
		return nil, err
	}
	data, err := safe.ReadFile(path, &safe.FileOptions{MaxSize: constants.MaxSourceSize, Logger: p.logger})
	if err != nil {
		return nil, fmt.Errorf("failed to read declarations %s: %w", path, err)
	}
	g, err := fe.Parse(ctx, decl.Source{Path: path, Data: data})
	if err != nil {
		return nil, err
	}
	if p.cfg.StripNamespaces {
		g.StripNamespaces()
	}
	return g, nil
}

// Prepare parses and compiles every annotation of g for the given address
// size. Declarations that fail are reported in the returned error, which
// combines *DeclError values; the plan holds the others.
func (p *Pipeline) Prepare(source string, g *decl.Graph, addrSize int) (*Plan, error) {
	plan := &Plan{Source: source, Graph: g}
	var errs error
	for i, d := range g.Decls {
		spec, ok, err := pattern.ParseAnnotation(d.Name, d.Annotation)
		if !ok {
			continue
		}
		plan.Annotated++
		if err != nil {
			errs = multierr.Append(errs, &DeclError{Decl: d.Name, Pos: d.Pos, Phase: PhaseAnnotation, Err: err})
			continue
		}
		c, err := scan.Compile(spec, addrSize)
		if err != nil {
			errs = multierr.Append(errs, &DeclError{Decl: d.Name, Pos: d.Pos, Phase: PhaseCompile, Err: err})
			continue
		}
		plan.Patterns = append(plan.Patterns, c)
		plan.Refs = append(plan.Refs, i)
	}

	p.logger.Info().
		Str("source", source).
		Int("declarations", len(g.Decls)).
		Int("annotated", plan.Annotated).
		Int("patterns", len(plan.Patterns)).
		Msg("Compiled patterns")
	return plan, errs
}

// Check parses the source at path and compiles its patterns for the
// configured data model, without an executable.
func (p *Pipeline) Check(ctx context.Context, path string) (*Plan, error) {
	model, err := ctype.ModelByName(p.cfg.DataModel)
	if err != nil {
		return nil, err
	}
	g, err := p.Load(ctx, path)
	if err != nil {
		return nil, err
	}
	return p.Prepare(path, g, int(model.Pointer))
}

// Resolve scans img for the patterns of plan and computes their addresses.
// Per-declaration failures come back as *DeclError values in the combined
// error next to the symbols that did resolve.
func (p *Pipeline) Resolve(ctx context.Context, plan *Plan, img *image.Image) (*Result, error) {
	res := &Result{Plan: plan, Image: img}
	if len(plan.Patterns) == 0 {
		return res, nil
	}

	scanner := scan.NewScanner(plan.Patterns, scan.Options{
		Sections:    p.cfg.Scan.Sections,
		AllSections: p.cfg.Scan.AllSections,
		Workers:     p.cfg.EffectiveWorkers(),
	}, p.logger)
	matches, err := scanner.Scan(ctx, img)
	if err != nil {
		return nil, fmt.Errorf("failed to scan %s: %w", img.Path, err)
	}
	res.Matches = matches

	reqs := make([]resolve.Request, len(plan.Patterns))
	for i, c := range plan.Patterns {
		reqs[i] = resolve.Request{Spec: c.Spec, Matches: matches[i], Ref: plan.Refs[i]}
	}
	symbols, rerr := resolve.New(img, p.cfg.EffectiveWorkers(), p.logger).ResolveAll(ctx, reqs)
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	res.Symbols = symbols

	var errs error
	for _, err := range multierr.Errors(rerr) {
		var re *resolve.Error
		if !errors.As(err, &re) {
			return nil, err
		}
		d := plan.Graph.Decls[re.Ref]
		errs = multierr.Append(errs, &DeclError{Decl: d.Name, Pos: d.Pos, Phase: PhaseResolve, Err: re.Err})
	}
	return res, errs
}

// Run parses the source, loads the executable and resolves every annotated
// declaration. The result is non-nil whenever the source and the executable
// could be loaded, even when declarations failed.
func (p *Pipeline) Run(ctx context.Context, sourcePath, exePath string) (*Result, error) {
	img, err := image.Open(exePath, p.logger)
	if err != nil {
		return nil, err
	}
	if model, err := ctype.ModelByName(p.cfg.DataModel); err == nil && int(model.Pointer) != img.AddrSize() {
		p.logger.Warn().
			Str("data_model", model.Name).
			Int("model_pointer_size", int(model.Pointer)).
			Int("image_pointer_size", img.AddrSize()).
			Msg("Data model does not match the executable, type layouts may be wrong")
	}

	g, err := p.Load(ctx, sourcePath)
	if err != nil {
		return nil, err
	}
	plan, prepErr := p.Prepare(sourcePath, g, img.AddrSize())
	res, err := p.Resolve(ctx, plan, img)
	if res == nil {
		return nil, err
	}
	return res, multierr.Combine(prepErr, err)
}

// Emit synthesizes the debug object and the configured headers for the
// resolved symbols and writes them atomically. Headers only depend on the
// symbols, so they are still written when the debug information cannot be
// generated; the returned error then carries the generation failure.
func (p *Pipeline) Emit(res *Result) ([]Output, error) {
	type pending struct {
		kind string
		path string
		data []byte
	}
	var files []pending

	var genErr error
	art, err := dwarfgen.Generate(res.Plan.Graph, res.Symbols, res.Image.Arch, dwarfgen.Options{
		Name:       res.Plan.Source,
		EagerTypes: p.cfg.EagerTypeExport,
	}, p.logger)
	if err != nil {
		genErr = fmt.Errorf("failed to generate debug information: %w", err)
		p.logger.Error().Err(err).Msg("Skipping debug object")
	} else {
		files = append(files, pending{kind: "dwarf", path: p.dwarfPath(), data: art.Object})
	}

	entries := header.Entries(res.Symbols, res.Image.Base)
	for _, h := range []struct {
		dialect header.Dialect
		path    string
	}{
		{dialect: header.DialectC, path: p.cfg.Output.CHeader},
		{dialect: header.DialectRust, path: p.cfg.Output.Rust},
		{dialect: header.DialectGo, path: p.cfg.Output.Go},
	} {
		if h.path == "" {
			continue
		}
		var buf bytes.Buffer
		if err := header.Write(&buf, h.dialect, entries, header.Options{Package: p.cfg.Output.GoPackage}); err != nil {
			return nil, multierr.Append(genErr, fmt.Errorf("failed to render %s header: %w", h.dialect, err))
		}
		files = append(files, pending{kind: string(h.dialect), path: h.path, data: buf.Bytes()})
	}

	outputs := make([]Output, 0, len(files))
	for _, f := range files {
		if err := safe.WriteFile(f.path, f.data, &safe.FileOptions{Logger: p.logger}); err != nil {
			return outputs, multierr.Append(genErr, fmt.Errorf("failed to write %s output %s: %w", f.kind, f.path, err))
		}
		p.logger.Info().
			Str("kind", f.kind).
			Str("path", f.path).
			Int("bytes", len(f.data)).
			Msg("Wrote artifact")
		outputs = append(outputs, Output{Kind: f.kind, Path: f.path, Size: len(f.data)})
	}
	return outputs, genErr
}

// Generate runs the whole pipeline. Artifacts are written for the symbols
// that resolved even when some declarations failed; the returned error then
// lists every failure.
func (p *Pipeline) Generate(ctx context.Context, sourcePath, exePath string) (*Result, []Output, error) {
	res, runErr := p.Run(ctx, sourcePath, exePath)
	if res == nil {
		return nil, nil, runErr
	}
	for _, err := range multierr.Errors(runErr) {
		p.logger.Warn().Err(err).Msg("Declaration failed")
	}

	outputs, err := p.Emit(res)
	if err != nil {
		return res, outputs, multierr.Append(runErr, err)
	}
	if runErr != nil {
		p.logger.Warn().
			Int("resolved", len(res.Symbols)).
			Int("failed", len(multierr.Errors(runErr))).
			Msg("Artifacts written with failures")
	}
	return res, outputs, runErr
}

func (p *Pipeline) dwarfPath() string {
	if p.cfg.Output.DWARF != "" {
		return p.cfg.Output.DWARF
	}
	return constants.DefaultDWARFOutput
}
