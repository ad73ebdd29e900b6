// Package resolve turns pattern matches into symbol addresses.
package resolve

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/coral-mesh/zoltan/internal/constants"
	zerrors "github.com/coral-mesh/zoltan/internal/errors"
	"github.com/coral-mesh/zoltan/pkg/image"
	"github.com/coral-mesh/zoltan/pkg/pattern"
	"github.com/coral-mesh/zoltan/pkg/scan"
)

// Symbol is a declaration whose address has been recovered.
type Symbol struct {
	Name string
	// Address is the virtual address of the symbol.
	Address uint64
	// Ref is copied from the Request and identifies the declaration.
	Ref int
	// Match is the occurrence the address was computed from.
	Match scan.Match
}

// Request asks for the address of one pattern given its matches.
type Request struct {
	Spec    *pattern.Spec
	Matches []scan.Match
	// Ref is an opaque caller reference carried into the Symbol.
	Ref int
}

// Resolver computes symbol addresses against an image.
type Resolver struct {
	img     *image.Image
	workers int
	logger  zerolog.Logger
}

// New creates a resolver for img. Workers bounds ResolveAll; zero uses the
// default.
func New(img *image.Image, workers int, logger zerolog.Logger) *Resolver {
	if workers <= 0 {
		workers = constants.DefaultWorkers
	}
	return &Resolver{
		img:     img,
		workers: workers,
		logger:  logger.With().Str("component", "resolver").Logger(),
	}
}

// Select picks the match an address is computed from.
func Select(spec *pattern.Spec, matches []scan.Match) (scan.Match, error) {
	if spec.Nth != nil {
		if len(matches) != spec.Nth.Total {
			return scan.Match{}, &MatchCountMismatchError{Name: spec.Name, Expected: spec.Nth.Total, Actual: len(matches)}
		}
		return matches[spec.Nth.Index], nil
	}
	switch len(matches) {
	case 0:
		return scan.Match{}, &NotFoundError{Name: spec.Name}
	case 1:
		return matches[0], nil
	default:
		addrs := make([]uint64, len(matches))
		for i, m := range matches {
			addrs[i] = m.Address
		}
		return scan.Match{}, &AmbiguousMatchError{Name: spec.Name, Addresses: addrs}
	}
}

// CaptureValues decodes the captures of m. Rel captures are signed
// little-endian displacements added to the address just past the capture;
// abs captures are taken as is.
func CaptureValues(spec *pattern.Spec, m scan.Match, addrSize int) map[string]uint64 {
	values := make(map[string]uint64)
	for _, span := range spec.Captures(addrSize) {
		raw := m.Captures[span.Name]
		switch span.Kind {
		case pattern.KindRel:
			end := m.Address + uint64(span.End())
			values[span.Name] = end + uint64(image.DecodeInt(raw))
		default:
			values[span.Name] = image.DecodeUint(raw)
		}
	}
	return values
}

// Resolve computes the address of spec from its matches. It reads image
// memory only through eval dereferences.
func (r *Resolver) Resolve(spec *pattern.Spec, matches []scan.Match) (Symbol, error) {
	m, err := Select(spec, matches)
	if err != nil {
		return Symbol{}, err
	}

	addr := m.Address + uint64(spec.Offset)
	if spec.Eval != nil {
		env := &imageEnv{img: r.img, vars: CaptureValues(spec, m, r.img.AddrSize())}
		addr, err = pattern.Eval(spec.Eval, env)
		if err != nil {
			return Symbol{}, fmt.Errorf("evaluating %s: %w", spec.Eval, err)
		}
	}

	r.logger.Debug().
		Str("symbol", spec.Name).
		Str("match", fmt.Sprintf("0x%X", m.Address)).
		Str("address", fmt.Sprintf("0x%X", addr)).
		Msg("Resolved symbol")
	return Symbol{Name: spec.Name, Address: addr, Match: m}, nil
}

// ResolveAll resolves every request concurrently. Symbols come back in
// request order for the requests that succeeded; every failure is reported
// as an *Error in the combined error without stopping the others.
func (r *Resolver) ResolveAll(ctx context.Context, reqs []Request) ([]Symbol, error) {
	slots := make([]*Symbol, len(reqs))
	errs := make([]error, len(reqs))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(r.workers)
	for i, req := range reqs {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			sym, err := r.Resolve(req.Spec, req.Matches)
			if err != nil {
				r.logger.Warn().Err(err).Str("symbol", req.Spec.Name).Msg("Failed to resolve symbol")
				errs[i] = &Error{Name: req.Spec.Name, Ref: req.Ref, Err: err}
				return nil
			}
			sym.Ref = req.Ref
			slots[i] = &sym
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var failures zerrors.Collector
	symbols := make([]Symbol, 0, len(reqs))
	for i, s := range slots {
		if s != nil {
			symbols = append(symbols, *s)
		}
		failures.Add(errs[i])
	}
	r.logger.Info().
		Int("resolved", len(symbols)).
		Int("failed", failures.Len()).
		Msg("Resolution complete")
	return symbols, failures.Err()
}

// imageEnv evaluates expressions over capture values and image memory.
type imageEnv struct {
	img  *image.Image
	vars map[string]uint64
}

func (e *imageEnv) Lookup(name string) (uint64, bool) {
	v, ok := e.vars[name]
	return v, ok
}

func (e *imageEnv) Deref(addr uint64) (uint64, error) {
	return e.img.ReadPointer(addr)
}

func (e *imageEnv) SlotSize() uint64 {
	return uint64(e.img.AddrSize())
}
