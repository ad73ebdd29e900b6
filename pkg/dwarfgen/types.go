package dwarfgen

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/zeebo/xxh3"

	"github.com/coral-mesh/zoltan/pkg/decl"
)

// UnrepresentableTypeError is returned for a type that cannot be expressed
// in the emitted debug information.
type UnrepresentableTypeError struct {
	// Type describes the offending type.
	Type   string
	Reason string
}

// Error implements the error interface.
func (e *UnrepresentableTypeError) Error() string {
	return fmt.Sprintf("type %s cannot be represented: %s", e.Type, e.Reason)
}

// checkType validates the node at id on its own; references are checked by
// the structural key computation.
func checkType(g *decl.Graph, id decl.TypeID) error {
	n := g.Node(id)
	bad := func(format string, args ...any) error {
		return &UnrepresentableTypeError{Type: g.Describe(id), Reason: fmt.Sprintf(format, args...)}
	}

	switch n.Kind {
	case decl.KindVoid, decl.KindPointer, decl.KindFunction:
	case decl.KindBase:
		if n.Size <= 0 {
			return bad("base type without size")
		}
	case decl.KindArray:
		if n.Elem == decl.Void {
			return bad("array of void")
		}
		if n.Count < decl.Unbounded {
			return bad("negative element count %d", n.Count)
		}
	case decl.KindEnum:
		if n.Name == "" && len(n.Enumerators) == 0 {
			return bad("unnamed enum without enumerators")
		}
	case decl.KindStruct, decl.KindUnion:
		if n.Name == "" && n.Incomplete {
			return bad("unnamed aggregate without a definition")
		}
		if n.Base != decl.Void && g.Node(n.Base).Incomplete {
			return bad("base %s has no definition", g.Describe(n.Base))
		}
		for _, m := range n.Members {
			if m.BitSize == 0 {
				continue
			}
			mt := g.Node(m.Type)
			if (mt.Kind != decl.KindBase && mt.Kind != decl.KindEnum) || mt.Encoding == decl.EncodingFloat {
				return bad("bit field %q has non-integral type %s", m.Name, g.Describe(m.Type))
			}
			if m.BitSize < 0 || m.BitSize > mt.Size*8 {
				return bad("bit field %q has width %d, type %s holds %d bits", m.Name, m.BitSize, g.Describe(m.Type), mt.Size*8)
			}
		}
	default:
		return bad("unknown kind %s", n.Kind)
	}
	return nil
}

// keyer computes structural keys. Named aggregates and enums are keyed by
// kind and name, which cuts recursion through self-referential types; other
// types are keyed by their shape. Two complete definitions sharing a name
// must also share a shape, since references to them are keyed by name.
type keyer struct {
	g     *decl.Graph
	keys  map[decl.TypeID]string
	state map[decl.TypeID]bool
	// bad holds the types on a cycle that was already reported.
	bad map[decl.TypeID]bool
	// shapes holds the first complete definition seen for each nominal key.
	shapes map[string]definition
}

type definition struct {
	id    decl.TypeID
	shape string
}

// errReported is returned for types whose failure was reported through
// another type of the same cycle.
var errReported = errors.New("already reported")

func newKeyer(g *decl.Graph) *keyer {
	return &keyer{
		g:      g,
		keys:   make(map[decl.TypeID]string),
		state:  make(map[decl.TypeID]bool),
		bad:    make(map[decl.TypeID]bool),
		shapes: make(map[string]definition),
	}
}

func (k *keyer) key(id decl.TypeID) (string, error) {
	if s, ok := k.keys[id]; ok {
		return s, nil
	}
	n := k.g.Node(id)
	if isNominal(n) {
		return k.nominal(id, n)
	}
	if k.bad[id] {
		return "", errReported
	}
	if k.state[id] {
		for on := range k.state {
			k.bad[on] = true
		}
		return "", &UnrepresentableTypeError{Type: k.g.Describe(id), Reason: "anonymous type refers to itself"}
	}
	k.state[id] = true
	defer delete(k.state, id)

	s, err := k.shape(n)
	if err != nil {
		return "", err
	}
	k.keys[id] = s
	return s, nil
}

// nominal keys a named aggregate or enum by kind and name. The key is
// recorded before the members are walked so that references back to the
// type resolve to it. A named type breaks any anonymous cycle running
// through it, so the members are walked with a fresh cycle state.
func (k *keyer) nominal(id decl.TypeID, n *decl.TypeNode) (string, error) {
	s := n.Kind.String() + " " + n.Name
	k.keys[id] = s
	if n.Incomplete {
		return s, nil
	}

	outer := k.state
	k.state = make(map[decl.TypeID]bool)
	shape, err := k.shape(n)
	k.state = outer
	if err != nil {
		return "", err
	}
	prev, ok := k.shapes[s]
	if !ok {
		k.shapes[s] = definition{id: id, shape: shape}
		return s, nil
	}
	if prev.shape != shape {
		return "", &UnrepresentableTypeError{
			Type:   k.g.Describe(id),
			Reason: fmt.Sprintf("conflicts with another definition of the same name (types %d and %d)", prev.id, id),
		}
	}
	return s, nil
}

// shape encodes n with its references replaced by their keys.
func (k *keyer) shape(n *decl.TypeNode) (string, error) {
	var sb strings.Builder
	sb.WriteString(n.Kind.String())
	sb.WriteByte('|')
	sb.WriteString(n.Name)
	sb.WriteByte('|')
	sb.WriteString(strconv.FormatInt(n.Size, 10))

	sub := func(id decl.TypeID) error {
		s, err := k.key(id)
		if err != nil {
			return err
		}
		sb.WriteByte('(')
		sb.WriteString(s)
		sb.WriteByte(')')
		return nil
	}

	switch n.Kind {
	case decl.KindBase:
		sb.WriteString("|" + n.Encoding.String())
	case decl.KindPointer:
		if err := sub(n.Elem); err != nil {
			return "", err
		}
	case decl.KindArray:
		sb.WriteString("|" + strconv.FormatInt(n.Count, 10))
		if err := sub(n.Elem); err != nil {
			return "", err
		}
	case decl.KindStruct, decl.KindUnion:
		if n.Base != decl.Void {
			fmt.Fprintf(&sb, "|:%d", n.BaseOffset)
			if err := sub(n.Base); err != nil {
				return "", err
			}
		}
		for _, m := range n.Members {
			fmt.Fprintf(&sb, "|%s@%d:%d:%d", m.Name, m.Offset, m.BitSize, m.BitOffset)
			if err := sub(m.Type); err != nil {
				return "", err
			}
		}
		for _, m := range n.VirtualMethods {
			sb.WriteString("|virtual " + m.Name)
			if err := sub(m.Type); err != nil {
				return "", err
			}
		}
	case decl.KindEnum:
		for _, e := range n.Enumerators {
			fmt.Fprintf(&sb, "|%s=%d", e.Name, e.Value)
		}
		if err := sub(n.Elem); err != nil {
			return "", err
		}
	case decl.KindFunction:
		if err := sub(n.Elem); err != nil {
			return "", err
		}
		for _, p := range n.Params {
			if p.Artificial {
				sb.WriteByte('!')
			}
			if err := sub(p.Type); err != nil {
				return "", err
			}
		}
		if n.Variadic {
			sb.WriteString("...")
		}
	}

	return sb.String(), nil
}

func isNominal(n *decl.TypeNode) bool {
	switch n.Kind {
	case decl.KindStruct, decl.KindUnion, decl.KindEnum:
		return n.Name != ""
	}
	return false
}

// dedup maps structurally equal types onto one canonical id. Keys are
// bucketed by their xxh3 hash and compared in full within a bucket.
type dedup struct {
	buckets   map[uint64][]canonical
	canonical map[decl.TypeID]decl.TypeID
	order     []decl.TypeID
}

type canonical struct {
	key string
	id  decl.TypeID
}

func newDedup() *dedup {
	return &dedup{
		buckets:   make(map[uint64][]canonical),
		canonical: make(map[decl.TypeID]decl.TypeID),
	}
}

// add registers id under key and returns its canonical id. A complete
// definition replaces an incomplete one registered under the same key.
func (d *dedup) add(g *decl.Graph, key string, id decl.TypeID) decl.TypeID {
	h := xxh3.HashString(key)
	for i, c := range d.buckets[h] {
		if c.key != key {
			continue
		}
		if g.Node(c.id).Incomplete && !g.Node(id).Incomplete {
			for j, o := range d.order {
				if o == c.id {
					d.order[j] = id
				}
			}
			for from, to := range d.canonical {
				if to == c.id {
					d.canonical[from] = id
				}
			}
			d.buckets[h][i].id = id
			d.canonical[id] = id
			return id
		}
		d.canonical[id] = c.id
		return c.id
	}
	d.buckets[h] = append(d.buckets[h], canonical{key: key, id: id})
	d.canonical[id] = id
	d.order = append(d.order, id)
	return id
}
