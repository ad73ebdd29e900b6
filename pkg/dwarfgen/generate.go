// Package dwarfgen synthesizes DWARF debug information for recovered symbols
// and wraps it in an ELF relocatable object that debuggers and disassemblers
// can load next to the original executable.
package dwarfgen

import (
	"debug/dwarf"
	"errors"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/zeebo/xxh3"
	"go.uber.org/multierr"

	"github.com/coral-mesh/zoltan/pkg/decl"
	"github.com/coral-mesh/zoltan/pkg/image"
	"github.com/coral-mesh/zoltan/pkg/resolve"
	"github.com/coral-mesh/zoltan/pkg/version"
)

// Options tunes the generated compile unit.
type Options struct {
	// Name is the compile unit name, usually the declaration source path.
	Name string
	// Producer overrides the DW_AT_producer string.
	Producer string
	// EagerTypes emits every type of the graph instead of only those
	// reachable from the symbols.
	EagerTypes bool
}

// Artifact is the synthesized debug information.
type Artifact struct {
	Abbrev []byte
	Info   []byte
	Str    []byte
	// Object is the ELF relocatable holding the sections above.
	Object []byte
	// Fingerprint is the xxh3 hash of Object.
	Fingerprint uint64

	Types     int
	Functions int
	Variables int
}

// Generate emits one compile unit describing symbols, whose Ref fields index
// g.Decls, and every type they reach. Any unrepresentable type aborts the
// unit; all such types are reported together.
func Generate(g *decl.Graph, symbols []resolve.Symbol, arch image.Arch, opts Options, logger zerolog.Logger) (*Artifact, error) {
	logger = logger.With().Str("component", "dwarfgen").Logger()

	roots, err := symbolRoots(g, symbols)
	if err != nil {
		return nil, err
	}
	if opts.EagerTypes {
		for id := 1; id < g.Len(); id++ {
			roots = append(roots, decl.TypeID(id))
		}
	}
	closure := g.Closure(roots)
	g, vptrs, tables := withVirtualTables(g, closure, int64(arch.AddrSize))
	if len(tables) > 0 {
		closure = g.Closure(append(roots, tables...))
	}

	var errs error
	keys := newKeyer(g)
	types := newDedup()
	for _, id := range closure {
		if err := checkType(g, id); err != nil {
			errs = multierr.Append(errs, err)
			continue
		}
		key, err := keys.key(id)
		if errors.Is(err, errReported) {
			continue
		}
		if err != nil {
			errs = multierr.Append(errs, err)
			continue
		}
		types.add(g, key, id)
	}
	if errs != nil {
		return nil, errs
	}

	slots := make(map[decl.TypeID]int, len(types.order))
	for i, id := range types.order {
		slots[id] = i
	}
	slotOf := func(id decl.TypeID) int {
		if id == decl.Void {
			return -1
		}
		return slots[types.canonical[id]]
	}

	producer := opts.Producer
	if producer == "" {
		producer = version.Producer()
	}

	abbrevs := newAbbrevTable()
	strs := newStrTable()
	w := newInfoWriter(abbrevs, strs, arch.AddrSize, len(types.order))

	w.begin(dwarf.TagCompileUnit, true).
		str(dwarf.AttrProducer, producer).
		data2(dwarf.AttrLanguage, langC99).
		name(opts.Name).
		end()

	for i, id := range types.order {
		writeType(w, g, id, i, arch.AddrSize, vptrs, slotOf)
	}

	art := &Artifact{Types: len(types.order)}
	for _, sym := range symbols {
		d := g.Decls[sym.Ref]
		if d.Kind == decl.DeclFunction {
			writeSubprogram(w, g, sym.Name, sym.Address, d.Type, slotOf)
			art.Functions++
		} else {
			w.begin(dwarf.TagVariable, false).
				name(sym.Name).
				ref(dwarf.AttrType, slotOf(d.Type)).
				flag(dwarf.AttrExternal).
				location(sym.Address).
				end()
			art.Variables++
		}
	}
	w.endChildren()

	info, err := w.finish()
	if err != nil {
		return nil, err
	}
	art.Info = info
	art.Abbrev = abbrevs.bytes()
	art.Str = strs.bytes()

	art.Object, err = writeObject(arch, []objectSection{
		{name: ".debug_abbrev", data: art.Abbrev},
		{name: ".debug_info", data: art.Info},
		{name: ".debug_str", data: art.Str},
	})
	if err != nil {
		return nil, err
	}
	art.Fingerprint = xxh3.Hash(art.Object)

	logger.Info().
		Int("types", art.Types).
		Int("functions", art.Functions).
		Int("variables", art.Variables).
		Int("abbrevs", abbrevs.len()).
		Str("fingerprint", fmt.Sprintf("%016x", art.Fingerprint)).
		Msg("Generated debug information")
	return art, nil
}

// symbolRoots returns the types referenced by the symbols' declarations. A
// function contributes its return and parameter types.
func symbolRoots(g *decl.Graph, symbols []resolve.Symbol) ([]decl.TypeID, error) {
	var roots []decl.TypeID
	for _, sym := range symbols {
		if sym.Ref < 0 || sym.Ref >= len(g.Decls) {
			return nil, fmt.Errorf("symbol %s refers to missing declaration %d", sym.Name, sym.Ref)
		}
		d := g.Decls[sym.Ref]
		if !g.Valid(d.Type) {
			return nil, fmt.Errorf("declaration %s refers to missing type %d", d.Name, d.Type)
		}
		if d.Kind != decl.DeclFunction {
			roots = append(roots, d.Type)
			continue
		}
		fn := g.Node(d.Type)
		if fn.Kind != decl.KindFunction {
			return nil, fmt.Errorf("function %s has non-function type %s", d.Name, g.Describe(d.Type))
		}
		roots = append(roots, fn.Children()...)
	}
	return roots, nil
}

// writeType emits the DIE of id. vptrs holds the virtual table pointer type
// of every struct that has one.
func writeType(w *infoWriter, g *decl.Graph, id decl.TypeID, slot, addrSize int, vptrs map[decl.TypeID]decl.TypeID, slotOf func(decl.TypeID) int) {
	n := g.Node(id)
	switch n.Kind {
	case decl.KindBase:
		w.begin(dwarf.TagBaseType, false).place(slot).
			name(n.Name).
			data1(dwarf.AttrEncoding, baseEncoding(n.Encoding)).
			udata(dwarf.AttrByteSize, uint64(n.Size)).
			end()

	case decl.KindPointer:
		size := n.Size
		if size == 0 {
			size = int64(addrSize)
		}
		w.begin(dwarf.TagPointerType, false).place(slot).
			udata(dwarf.AttrByteSize, uint64(size)).
			ref(dwarf.AttrType, slotOf(n.Elem)).
			end()

	case decl.KindArray:
		w.begin(dwarf.TagArrayType, true).place(slot).
			ref(dwarf.AttrType, slotOf(n.Elem)).
			end()
		sub := w.begin(dwarf.TagSubrangeType, false)
		if n.Count != decl.Unbounded {
			sub.udata(dwarf.AttrCount, uint64(n.Count))
		}
		sub.end()
		w.endChildren()

	case decl.KindStruct, decl.KindUnion:
		tag := dwarf.TagStructType
		if n.Kind == decl.KindUnion {
			tag = dwarf.TagUnionType
		}
		if n.Incomplete {
			w.begin(tag, false).place(slot).
				name(n.Name).
				flag(dwarf.AttrDeclaration).
				end()
			return
		}
		vptr, virtual := vptrs[id]
		children := len(n.Members) > 0 || n.Base != decl.Void || virtual
		w.begin(tag, children).place(slot).
			name(n.Name).
			udata(dwarf.AttrByteSize, uint64(n.Size)).
			end()
		if !children {
			return
		}
		if n.Base != decl.Void {
			w.begin(dwarf.TagInheritance, false).
				ref(dwarf.AttrType, slotOf(n.Base)).
				udata(dwarf.AttrDataMemberLoc, uint64(n.BaseOffset)).
				end()
		}
		if virtual {
			w.begin(dwarf.TagMember, false).
				name("vft").
				ref(dwarf.AttrType, slotOf(vptr)).
				udata(dwarf.AttrDataMemberLoc, 0).
				flag(dwarf.AttrArtificial).
				end()
		}
		for _, m := range n.Members {
			die := w.begin(dwarf.TagMember, false).
				name(m.Name).
				ref(dwarf.AttrType, slotOf(m.Type))
			if m.BitSize > 0 {
				die.udata(dwarf.AttrDataBitOffset, uint64(m.BitOffset)).
					udata(dwarf.AttrBitSize, uint64(m.BitSize))
			} else {
				die.udata(dwarf.AttrDataMemberLoc, uint64(m.Offset))
			}
			die.end()
		}
		w.endChildren()

	case decl.KindEnum:
		w.begin(dwarf.TagEnumerationType, len(n.Enumerators) > 0).place(slot).
			name(n.Name).
			udata(dwarf.AttrByteSize, uint64(n.Size)).
			ref(dwarf.AttrType, slotOf(n.Elem)).
			end()
		if len(n.Enumerators) == 0 {
			return
		}
		for _, e := range n.Enumerators {
			w.begin(dwarf.TagEnumerator, false).
				name(e.Name).
				sdata(dwarf.AttrConstValue, e.Value).
				end()
		}
		w.endChildren()

	case decl.KindFunction:
		children := len(n.Params) > 0 || n.Variadic
		w.begin(dwarf.TagSubroutineType, children).place(slot).
			ref(dwarf.AttrType, slotOf(n.Elem)).
			flag(dwarf.AttrPrototyped).
			end()
		if !children {
			return
		}
		writeParams(w, n, slotOf)
	}
}

func writeSubprogram(w *infoWriter, g *decl.Graph, name string, addr uint64, fnType decl.TypeID, slotOf func(decl.TypeID) int) {
	fn := g.Node(fnType)
	children := len(fn.Params) > 0 || fn.Variadic
	w.begin(dwarf.TagSubprogram, children).
		name(name).
		flag(dwarf.AttrExternal).
		addr(dwarf.AttrLowpc, addr).
		ref(dwarf.AttrType, slotOf(fn.Elem)).
		flag(dwarf.AttrPrototyped).
		end()
	if children {
		writeParams(w, fn, slotOf)
	}
}

func writeParams(w *infoWriter, fn *decl.TypeNode, slotOf func(decl.TypeID) int) {
	for _, p := range fn.Params {
		die := w.begin(dwarf.TagFormalParameter, false).
			name(p.Name).
			ref(dwarf.AttrType, slotOf(p.Type))
		if p.Artificial {
			die.flag(dwarf.AttrArtificial)
		}
		die.end()
	}
	if fn.Variadic {
		w.begin(dwarf.TagUnspecifiedParameters, false).end()
	}
	w.endChildren()
}

func baseEncoding(e decl.Encoding) uint8 {
	switch e {
	case decl.EncodingUnsigned:
		return ateUnsigned
	case decl.EncodingSignedChar:
		return ateSignedChar
	case decl.EncodingUnsignedChar:
		return ateUnsignedChar
	case decl.EncodingFloat:
		return ateFloat
	case decl.EncodingBool:
		return ateBoolean
	default:
		return ateSigned
	}
}
