package ctype

import (
	"fmt"

	"github.com/coral-mesh/zoltan/pkg/decl"
)

// Field is a struct or union member before layout. Bits is the width of a
// bit field; IsBitField distinguishes a zero-width field from a plain member.
type Field struct {
	Name       string
	Type       decl.TypeID
	Bits       int64
	IsBitField bool
}

// Define lays out fields and stores the aggregate at id, which is usually a
// node obtained from Graph.Reserve.
//
// Plain members are placed at the next offset aligned for their type. Bit
// fields follow the rules of the data model: LP64 packs them across
// declared types as long as a field does not straddle a storage unit of its
// own type, while LLP64 and ILP32 open a new storage unit whenever the
// declared type size changes.
func (t *Table) Define(id decl.TypeID, kind decl.Kind, name string, fields []Field) error {
	node, align, err := t.layout(kind, fields, 0, 1)
	if err != nil {
		return err
	}
	node.Name = name
	t.g.Set(id, node)
	t.align[id] = align
	return nil
}

// DefineClass lays out a struct with an optional base and virtual methods
// and stores it at id. A struct with a virtual table starts with the table
// pointer unless its base already provides one; the base subobject comes
// next, then the fields.
func (t *Table) DefineClass(id decl.TypeID, name string, base decl.TypeID, methods []decl.Method, fields []Field) error {
	var (
		start    int64
		align    int64 = 1
		baseOff  int64
		baseVPtr bool
	)
	if base != decl.Void {
		bn := t.g.Node(base)
		if bn.Kind != decl.KindStruct {
			return fmt.Errorf("base %s is not a struct", t.g.Describe(base))
		}
		if !t.Complete(base) {
			return fmt.Errorf("base %s is incomplete", t.g.Describe(base))
		}
		baseVPtr = len(t.g.VirtualTable(base)) > 0
	}
	for _, m := range methods {
		if t.g.Node(m.Type).Kind != decl.KindFunction {
			return fmt.Errorf("virtual method %q has non-function type %s", m.Name, t.g.Describe(m.Type))
		}
	}
	if len(methods) > 0 && !baseVPtr {
		start = t.model.Pointer
		align = t.model.Pointer
	}
	if base != decl.Void {
		ba := t.AlignOf(base)
		baseOff = alignUp(start, ba)
		start = baseOff + t.g.Node(base).Size
		align = max(align, ba)
	}

	node, align, err := t.layout(decl.KindStruct, fields, start, align)
	if err != nil {
		return err
	}
	node.Name = name
	node.Base = base
	node.BaseOffset = baseOff
	node.VirtualMethods = methods
	t.g.Set(id, node)
	t.align[id] = align
	return nil
}

// layout places fields after the first start bytes, which are already
// occupied and require startAlign.
func (t *Table) layout(kind decl.Kind, fields []Field, start, startAlign int64) (decl.TypeNode, int64, error) {
	var (
		members  []decl.Member
		bitPos   = start * 8 // next free bit
		maxAlign = startAlign
		size     = start

		unitStart int64 = -1 // first bit of the open bit-field unit, LLP64
		unitBits  int64
	)
	msvc := t.model.Name != LP64.Name

	for i, f := range fields {
		ft := t.g.Node(f.Type)
		last := i == len(fields)-1
		if !t.Complete(f.Type) {
			if !(kind == decl.KindStruct && last && ft.Kind == decl.KindArray && ft.Count == decl.Unbounded) {
				return decl.TypeNode{}, 0, fmt.Errorf("member %q has incomplete type %s", f.Name, t.g.Describe(f.Type))
			}
		}
		align := t.AlignOf(f.Type)

		if f.IsBitField {
			if !Integral(ft) {
				return decl.TypeNode{}, 0, fmt.Errorf("bit field %q has non-integral type %s", f.Name, t.g.Describe(f.Type))
			}
			unit := ft.Size * 8
			if f.Bits < 0 || f.Bits > unit {
				return decl.TypeNode{}, 0, fmt.Errorf("bit field %q width %d exceeds its type (%d bits)", f.Name, f.Bits, unit)
			}
			if f.Bits == 0 && f.Name != "" {
				return decl.TypeNode{}, 0, fmt.Errorf("zero-width bit field %q must be unnamed", f.Name)
			}
			if kind == decl.KindUnion {
				bitPos = 0
				unitStart = -1
			}

			var pos int64
			switch {
			case f.Bits == 0:
				// Closes the current unit.
				if msvc && unitStart >= 0 {
					bitPos = unitStart + unitBits
				}
				bitPos = alignUp(bitPos, unit)
				unitStart = -1
				continue
			case msvc:
				if unitStart < 0 || unitBits != unit || bitPos+f.Bits > unitStart+unit {
					if unitStart >= 0 {
						bitPos = unitStart + unitBits
					}
					unitStart = alignUp(alignUp(bitPos, 8)/8, align) * 8
					unitBits = unit
					bitPos = unitStart
				}
				pos = bitPos
			default:
				pos = bitPos
				if pos/unit != (pos+f.Bits-1)/unit {
					pos = alignUp(pos, unit)
				}
			}
			if f.Name != "" || !msvc {
				maxAlign = max(maxAlign, align)
			}
			if f.Name != "" {
				members = append(members, decl.Member{
					Name:      f.Name,
					Type:      f.Type,
					Offset:    alignDown(pos, unit) / 8,
					BitSize:   f.Bits,
					BitOffset: pos,
				})
			}
			bitPos = pos + f.Bits
			size = max(size, alignUp(bitPos, 8)/8)
			if msvc {
				size = max(size, (unitStart+unitBits)/8)
			}
			if kind == decl.KindUnion {
				bitPos = 0
			}
			continue
		}

		if msvc && unitStart >= 0 {
			bitPos = unitStart + unitBits
		}
		unitStart = -1
		off := alignUp(alignUp(bitPos, 8)/8, align)
		if kind == decl.KindUnion {
			off = 0
		}
		maxAlign = max(maxAlign, align)
		members = append(members, decl.Member{Name: f.Name, Type: f.Type, Offset: off})
		end := off + ft.Size
		if ft.Kind == decl.KindArray && ft.Count == decl.Unbounded {
			end = off
		}
		size = max(size, end)
		if kind == decl.KindStruct {
			bitPos = end * 8
		}
	}

	return decl.TypeNode{
		Kind:    kind,
		Size:    alignUp(size, maxAlign),
		Members: members,
	}, maxAlign, nil
}

func alignUp(v, a int64) int64 {
	if a <= 1 {
		return v
	}
	return (v + a - 1) / a * a
}

func alignDown(v, a int64) int64 {
	if a <= 1 {
		return v
	}
	return v / a * a
}

// Integral reports whether n can hold a bit field.
func Integral(n *decl.TypeNode) bool {
	switch n.Kind {
	case decl.KindEnum:
		return true
	case decl.KindBase:
		return n.Encoding != decl.EncodingFloat
	}
	return false
}
