package decl

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// listGraph builds struct Node { int value; struct Node* next; } and a
// function int Sum(struct Node*, ...).
func listGraph() (*Graph, TypeID, TypeID) {
	g := NewGraph()
	intT := g.Add(TypeNode{Kind: KindBase, Name: "int", Size: 4, Encoding: EncodingSigned})
	node := g.Reserve(KindStruct, "Node")
	ptr := g.Add(TypeNode{Kind: KindPointer, Size: 8, Elem: node})
	g.Set(node, TypeNode{
		Kind: KindStruct,
		Name: "Node",
		Size: 16,
		Members: []Member{
			{Name: "value", Type: intT},
			{Name: "next", Type: ptr, Offset: 8},
		},
	})
	fn := g.Add(TypeNode{Kind: KindFunction, Elem: intT, Params: []Param{{Name: "head", Type: ptr}}, Variadic: true})
	g.AddDecl(Decl{Name: "Sum", Kind: DeclFunction, Type: fn, Pos: Pos{File: "list.h", Line: 3}})
	return g, fn, node
}

func TestGraph_Closure(t *testing.T) {
	g, fn, node := listGraph()

	got := g.Closure([]TypeID{fn})
	assert.Equal(t, []TypeID{fn, 1, 3, node}, got)

	assert.Empty(t, g.Closure([]TypeID{Void}))
	assert.Equal(t, []TypeID{node, 1, 3}, g.Closure([]TypeID{node, node}))
}

func TestGraph_Reserve(t *testing.T) {
	g := NewGraph()
	id := g.Reserve(KindStruct, "Fwd")
	assert.True(t, g.Node(id).Incomplete)
	assert.Equal(t, "Fwd", g.Node(id).Name)
	assert.Equal(t, 2, g.Len())
}

func TestGraph_Validate(t *testing.T) {
	g, _, _ := listGraph()
	require.NoError(t, g.Validate())

	bad := g.Add(TypeNode{Kind: KindPointer, Elem: 99})
	assert.ErrorContains(t, g.Validate(), "refers to missing type 99")
	g.Set(bad, TypeNode{Kind: KindPointer, Elem: Void})

	g.AddDecl(Decl{Name: "Bogus", Kind: DeclFunction, Type: 1})
	assert.ErrorContains(t, g.Validate(), "function Bogus at line 0 has non-function type int")
}

// classGraph builds Shape { virtual void Draw(); virtual int Area(); } and
// Circle : Shape { virtual int Area(); virtual void Scale(int); }.
func classGraph() (g *Graph, shape, circle TypeID) {
	g = NewGraph()
	intT := g.Add(TypeNode{Kind: KindBase, Name: "int", Size: 4, Encoding: EncodingSigned})
	draw := g.Add(TypeNode{Kind: KindFunction})
	area := g.Add(TypeNode{Kind: KindFunction, Elem: intT})
	scale := g.Add(TypeNode{Kind: KindFunction, Params: []Param{{Type: intT}}})
	shape = g.Add(TypeNode{
		Kind:           KindStruct,
		Name:           "Shape",
		Size:           8,
		VirtualMethods: []Method{{Name: "Draw", Type: draw}, {Name: "Area", Type: area}},
	})
	circle = g.Add(TypeNode{
		Kind:           KindStruct,
		Name:           "Circle",
		Size:           16,
		Base:           shape,
		Members:        []Member{{Name: "radius", Type: intT, Offset: 8}},
		VirtualMethods: []Method{{Name: "Area", Type: area}, {Name: "Scale", Type: scale}},
	})
	return g, shape, circle
}

func TestGraph_VirtualTable(t *testing.T) {
	g, shape, circle := classGraph()
	require.NoError(t, g.Validate())

	names := func(ms []Method) []string {
		var out []string
		for _, m := range ms {
			out = append(out, m.Name)
		}
		return out
	}
	assert.Equal(t, []string{"Draw", "Area"}, names(g.VirtualTable(shape)))
	assert.Equal(t, []string{"Draw", "Area", "Scale"}, names(g.VirtualTable(circle)))
	assert.Empty(t, g.VirtualTable(1))

	assert.Contains(t, g.Closure([]TypeID{circle}), shape)
}

func TestGraph_ValidateBases(t *testing.T) {
	t.Run("cycle", func(t *testing.T) {
		g, shape, circle := classGraph()
		g.Node(shape).Base = circle
		assert.ErrorContains(t, g.Validate(), "derives from itself")
		// The walk stops at the repeated struct.
		assert.Len(t, g.VirtualTable(circle), 3)
	})
	t.Run("non-struct base", func(t *testing.T) {
		g, _, circle := classGraph()
		g.Node(circle).Base = 1
		assert.ErrorContains(t, g.Validate(), "only structs can have a base")
	})
	t.Run("method without function type", func(t *testing.T) {
		g, shape, _ := classGraph()
		g.Node(shape).VirtualMethods[0].Type = 1
		assert.ErrorContains(t, g.Validate(), "virtual method Draw of non-function type int")
	})
}

func TestGraph_Describe(t *testing.T) {
	g, fn, node := listGraph()
	assert.Equal(t, "int(struct Node*, ...)", g.Describe(fn))
	assert.Equal(t, "struct Node", g.Describe(node))

	arr := g.Add(TypeNode{Kind: KindArray, Elem: 1, Count: 4})
	assert.Equal(t, "int[4]", g.Describe(arr))
	open := g.Add(TypeNode{Kind: KindArray, Elem: 1, Count: Unbounded})
	assert.Equal(t, "int[]", g.Describe(open))
	anon := g.Add(TypeNode{Kind: KindUnion})
	assert.Contains(t, g.Describe(anon), "union <anonymous")
	assert.Equal(t, "void*", g.Describe(g.Add(TypeNode{Kind: KindPointer})))
	assert.Contains(t, g.Describe(1000), "invalid")
}

func TestGraph_StripNamespaces(t *testing.T) {
	g := NewGraph()
	g.Add(TypeNode{Kind: KindStruct, Name: "game::world::Entity"})
	g.AddDecl(Decl{Name: "game::Spawn"})
	g.StripNamespaces()

	assert.Equal(t, "Entity", g.Node(1).Name)
	assert.Equal(t, "Spawn", g.Decls[0].Name)
}

func TestKindAndEncodingNames(t *testing.T) {
	for k := KindVoid; k <= KindFunction; k++ {
		got, ok := ParseKind(k.String())
		require.True(t, ok)
		assert.Equal(t, k, got)
	}
	_, ok := ParseKind("class")
	assert.False(t, ok)

	for e := EncodingSigned; e <= EncodingBool; e++ {
		got, ok := ParseEncoding(e.String())
		require.True(t, ok)
		assert.Equal(t, e, got)
	}
	assert.Equal(t, "variable", DeclVariable.String())
	assert.Equal(t, "list.h:3", Pos{File: "list.h", Line: 3}.String())
}
