package dwarfgen

import (
	"github.com/coral-mesh/zoltan/pkg/decl"
)

// vtableSuffix names the struct describing a virtual table after its owner.
const vtableSuffix = "_vft"

// withVirtualTables describes the virtual tables of the structs in closure.
// For a struct S it adds S_vft, a struct of function pointers in slot order
// whose functions take an artificial this pointer to S, and a pointer to
// S_vft. The types are added to a clone of g, which is returned together
// with the table pointer of every struct and those pointers in closure
// order. Without any virtual table g is returned as is.
func withVirtualTables(g *decl.Graph, closure []decl.TypeID, ptrSize int64) (*decl.Graph, map[decl.TypeID]decl.TypeID, []decl.TypeID) {
	var owners []decl.TypeID
	for _, id := range closure {
		if n := g.Node(id); n.Kind == decl.KindStruct && !n.Incomplete && len(g.VirtualTable(id)) > 0 {
			owners = append(owners, id)
		}
	}
	if len(owners) == 0 {
		return g, nil, nil
	}

	g = g.Clone()
	vptrs := make(map[decl.TypeID]decl.TypeID, len(owners))
	roots := make([]decl.TypeID, 0, len(owners))
	for _, id := range owners {
		name := g.Node(id).Name
		if name != "" {
			name += vtableSuffix
		}
		this := g.Add(decl.TypeNode{Kind: decl.KindPointer, Size: ptrSize, Elem: id})

		table := g.VirtualTable(id)
		members := make([]decl.Member, 0, len(table))
		for i, m := range table {
			fn := *g.Node(m.Type)
			params := make([]decl.Param, 0, len(fn.Params)+1)
			params = append(params, decl.Param{Name: "this", Type: this, Artificial: true})
			params = append(params, fn.Params...)
			sig := g.Add(decl.TypeNode{Kind: decl.KindFunction, Elem: fn.Elem, Params: params, Variadic: fn.Variadic})
			members = append(members, decl.Member{
				Name:   m.Name,
				Type:   g.Add(decl.TypeNode{Kind: decl.KindPointer, Size: ptrSize, Elem: sig}),
				Offset: int64(i) * ptrSize,
			})
		}
		vft := g.Add(decl.TypeNode{Kind: decl.KindStruct, Name: name, Size: int64(len(table)) * ptrSize, Members: members})
		vptrs[id] = g.Add(decl.TypeNode{Kind: decl.KindPointer, Size: ptrSize, Elem: vft})
		roots = append(roots, vptrs[id])
	}
	return g, vptrs, roots
}
