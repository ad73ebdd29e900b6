// Package cdecl is a declaration frontend for C headers. It understands the
// subset of C that describes data layout and function signatures, and
// collects the "///" annotation blocks written above declarations.
//
// A block annotates the declaration that starts on the line right after it:
//
//	/// @pattern E8 (fn:rel) 45 8B 86
//	/// @eval fn
//	typedef void SpawnEntity(struct World *world, int kind);
//
// Functions are declared as prototypes, as function typedefs or as function
// pointer typedefs; any other annotated declaration names a global variable.
// Preprocessor lines are skipped, so macros are not expanded.
package cdecl

import (
	"context"
	"errors"

	"github.com/rs/zerolog"

	"github.com/coral-mesh/zoltan/internal/constants"
	"github.com/coral-mesh/zoltan/internal/frontend/ctype"
	"github.com/coral-mesh/zoltan/pkg/decl"
)

// Frontend parses C declarations laid out for a data model.
type Frontend struct {
	model  ctype.DataModel
	logger zerolog.Logger
}

var _ decl.Frontend = (*Frontend)(nil)

// New returns a C frontend.
func New(model ctype.DataModel, logger zerolog.Logger) *Frontend {
	return &Frontend{
		model:  model,
		logger: logger.With().Str("component", "frontend").Str("frontend", constants.FrontendCDecl).Logger(),
	}
}

// Name implements decl.Frontend.
func (f *Frontend) Name() string {
	return constants.FrontendCDecl
}

// Parse implements decl.Frontend.
func (f *Frontend) Parse(ctx context.Context, src decl.Source) (*decl.Graph, error) {
	toks, docs, err := lex(string(src.Data))
	if err != nil {
		var pe *ParseError
		if errors.As(err, &pe) {
			pe.File = src.Path
		}
		return nil, err
	}

	g := decl.NewGraph()
	p := &parser{
		ctx:      ctx,
		file:     src.Path,
		toks:     toks,
		docs:     docs,
		tab:      ctype.NewTable(g, f.model),
		g:        g,
		typedefs: make(map[string]decl.TypeID),
		tags:     make(map[string]decl.TypeID),
		consts:   make(map[string]int64),
	}
	if err := p.parseFile(); err != nil {
		return nil, err
	}
	if err := g.Validate(); err != nil {
		return nil, err
	}

	f.logger.Debug().
		Str("path", src.Path).
		Str("data_model", f.model.Name).
		Int("types", g.Len()-1).
		Int("declarations", len(g.Decls)).
		Msg("Parsed C declarations")
	return g, nil
}
