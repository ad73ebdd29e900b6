package ctype

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coral-mesh/zoltan/pkg/decl"
)

func mustBase(t *testing.T, tab *Table, name string) decl.TypeID {
	t.Helper()
	id, ok := tab.Base(name)
	require.True(t, ok, "unknown base type %q", name)
	return id
}

func TestTable_BaseTypes(t *testing.T) {
	tests := []struct {
		model DataModel
		name  string
		size  int64
	}{
		{LLP64, "long", 4},
		{LP64, "long", 8},
		{ILP32, "long", 4},
		{LLP64, "unsigned long int", 4},
		{LP64, "long double", 16},
		{LLP64, "wchar_t", 2},
		{LP64, "wchar_t", 4},
		{LLP64, "size_t", 8},
		{ILP32, "uintptr_t", 4},
		{LLP64, "signed", 4},
		{LLP64, "_Bool", 1},
	}
	for _, tt := range tests {
		t.Run(tt.model.Name+"/"+tt.name, func(t *testing.T) {
			tab := NewTable(decl.NewGraph(), tt.model)
			id := mustBase(t, tab, tt.name)
			assert.Equal(t, tt.size, tab.Graph().Node(id).Size)
			assert.Equal(t, tt.size, tab.AlignOf(id))
		})
	}

	tab := NewTable(decl.NewGraph(), LLP64)
	a := mustBase(t, tab, "unsigned")
	b := mustBase(t, tab, "unsigned int")
	assert.Equal(t, a, b)
	assert.Equal(t, "unsigned int", tab.Graph().Node(a).Name)

	void, ok := tab.Base("void")
	require.True(t, ok)
	assert.Equal(t, decl.Void, void)

	_, ok = tab.Base("HANDLE")
	assert.False(t, ok)
}

func TestModelByName(t *testing.T) {
	m, err := ModelByName("")
	require.NoError(t, err)
	assert.Equal(t, LLP64, m)
	m, err = ModelByName("lp64")
	require.NoError(t, err)
	assert.Equal(t, LP64, m)
	_, err = ModelByName("silp64")
	assert.ErrorContains(t, err, "unknown data model")
}

func TestTable_PointerInterned(t *testing.T) {
	tab := NewTable(decl.NewGraph(), ILP32)
	i := mustBase(t, tab, "int")
	p := tab.Pointer(i)
	assert.Equal(t, p, tab.Pointer(i))
	assert.Equal(t, int64(4), tab.Graph().Node(p).Size)
}

func TestTable_Array(t *testing.T) {
	tab := NewTable(decl.NewGraph(), LLP64)
	i := mustBase(t, tab, "int")
	arr, err := tab.Array(i, 4)
	require.NoError(t, err)
	assert.Equal(t, int64(16), tab.Graph().Node(arr).Size)
	assert.Equal(t, int64(4), tab.AlignOf(arr))

	_, err = tab.Array(decl.Void, 2)
	assert.ErrorContains(t, err, "array of void")

	fwd := tab.Graph().Reserve(decl.KindStruct, "Later")
	_, err = tab.Array(fwd, 2)
	assert.ErrorContains(t, err, "incomplete type struct Later")
	_, err = tab.Array(fwd, decl.Unbounded)
	assert.NoError(t, err)
}

type field struct {
	name string
	typ  string
	bits int64
}

func define(t *testing.T, model DataModel, kind decl.Kind, fields ...field) *decl.TypeNode {
	t.Helper()
	tab := NewTable(decl.NewGraph(), model)
	fs := make([]Field, 0, len(fields))
	for _, f := range fields {
		fs = append(fs, Field{Name: f.name, Type: mustBase(t, tab, f.typ), Bits: f.bits, IsBitField: f.bits > 0})
	}
	id := tab.Graph().Reserve(kind, "S")
	require.NoError(t, tab.Define(id, kind, "S", fs))
	return tab.Graph().Node(id)
}

func offsets(n *decl.TypeNode) []int64 {
	var out []int64
	for _, m := range n.Members {
		if m.BitSize > 0 {
			out = append(out, m.BitOffset)
		} else {
			out = append(out, m.Offset*8)
		}
	}
	return out
}

func TestDefine_Layout(t *testing.T) {
	tests := []struct {
		name     string
		model    DataModel
		kind     decl.Kind
		fields   []field
		wantBits []int64
		wantSize int64
	}{
		{
			name:     "padding between members",
			model:    LLP64,
			kind:     decl.KindStruct,
			fields:   []field{{"c", "char", 0}, {"i", "int", 0}, {"s", "short", 0}},
			wantBits: []int64{0, 32, 64},
			wantSize: 12,
		},
		{
			name:     "double alignment",
			model:    LP64,
			kind:     decl.KindStruct,
			fields:   []field{{"c", "char", 0}, {"d", "double", 0}},
			wantBits: []int64{0, 64},
			wantSize: 16,
		},
		{
			name:     "bit fields share a unit",
			model:    LP64,
			kind:     decl.KindStruct,
			fields:   []field{{"a", "unsigned int", 3}, {"b", "unsigned int", 5}, {"c", "int", 0}},
			wantBits: []int64{0, 3, 32},
			wantSize: 8,
		},
		{
			name:     "bit field does not straddle its unit",
			model:    LP64,
			kind:     decl.KindStruct,
			fields:   []field{{"a", "unsigned int", 30}, {"b", "unsigned int", 4}},
			wantBits: []int64{0, 32},
			wantSize: 8,
		},
		{
			name:     "lp64 packs across declared types",
			model:    LP64,
			kind:     decl.KindStruct,
			fields:   []field{{"a", "unsigned int", 3}, {"b", "unsigned char", 2}},
			wantBits: []int64{0, 3},
			wantSize: 4,
		},
		{
			name:     "llp64 opens a unit when the type changes",
			model:    LLP64,
			kind:     decl.KindStruct,
			fields:   []field{{"a", "unsigned int", 3}, {"b", "unsigned char", 2}},
			wantBits: []int64{0, 32},
			wantSize: 8,
		},
		{
			name:     "lp64 bit field after a char",
			model:    LP64,
			kind:     decl.KindStruct,
			fields:   []field{{"x", "char", 0}, {"y", "int", 4}},
			wantBits: []int64{0, 8},
			wantSize: 4,
		},
		{
			name:     "llp64 bit field after a char",
			model:    LLP64,
			kind:     decl.KindStruct,
			fields:   []field{{"x", "char", 0}, {"y", "int", 4}},
			wantBits: []int64{0, 32},
			wantSize: 8,
		},
		{
			name:     "union",
			model:    LLP64,
			kind:     decl.KindUnion,
			fields:   []field{{"i", "int", 0}, {"d", "double", 0}, {"c", "char", 0}},
			wantBits: []int64{0, 0, 0},
			wantSize: 8,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			n := define(t, tt.model, tt.kind, tt.fields...)
			assert.Equal(t, tt.wantBits, offsets(n))
			assert.Equal(t, tt.wantSize, n.Size)
			assert.False(t, n.Incomplete)
		})
	}
}

func TestDefine_FlexibleArray(t *testing.T) {
	tab := NewTable(decl.NewGraph(), LLP64)
	i := mustBase(t, tab, "int")
	data, err := tab.Array(mustBase(t, tab, "char"), decl.Unbounded)
	require.NoError(t, err)

	id := tab.Graph().Reserve(decl.KindStruct, "Packet")
	require.NoError(t, tab.Define(id, decl.KindStruct, "Packet", []Field{{Name: "len", Type: i}, {Name: "data", Type: data}}))
	n := tab.Graph().Node(id)
	assert.Equal(t, int64(4), n.Size)
	assert.Equal(t, int64(4), n.Members[1].Offset)

	id = tab.Graph().Reserve(decl.KindStruct, "Bad")
	err = tab.Define(id, decl.KindStruct, "Bad", []Field{{Name: "data", Type: data}, {Name: "len", Type: i}})
	assert.ErrorContains(t, err, `member "data" has incomplete type`)
}

func TestDefine_Errors(t *testing.T) {
	tab := NewTable(decl.NewGraph(), LLP64)
	f := mustBase(t, tab, "float")
	c := mustBase(t, tab, "char")
	fwd := tab.Graph().Reserve(decl.KindStruct, "Fwd")

	tests := []struct {
		name    string
		field   Field
		wantMsg string
	}{
		{name: "incomplete member", field: Field{Name: "f", Type: fwd}, wantMsg: "incomplete type struct Fwd"},
		{name: "float bit field", field: Field{Name: "f", Type: f, Bits: 2, IsBitField: true}, wantMsg: "non-integral type float"},
		{name: "too wide", field: Field{Name: "c", Type: c, Bits: 9, IsBitField: true}, wantMsg: "exceeds its type (8 bits)"},
		{name: "named zero width", field: Field{Name: "c", Type: c, IsBitField: true}, wantMsg: "must be unnamed"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			id := tab.Graph().Reserve(decl.KindStruct, "S")
			assert.ErrorContains(t, tab.Define(id, decl.KindStruct, "S", []Field{tt.field}), tt.wantMsg)
		})
	}
}

func TestDefineClass(t *testing.T) {
	tab := NewTable(decl.NewGraph(), LP64)
	g := tab.Graph()
	i := mustBase(t, tab, "int")
	c := mustBase(t, tab, "char")
	d := mustBase(t, tab, "double")
	fn := tab.Function(decl.Void, nil, false)

	class := func(name string, base decl.TypeID, methods []decl.Method, fields ...Field) decl.TypeID {
		t.Helper()
		id := g.Reserve(decl.KindStruct, name)
		require.NoError(t, tab.DefineClass(id, name, base, methods, fields))
		return id
	}

	point := class("Point", decl.Void, nil, Field{Name: "x", Type: i}, Field{Name: "y", Type: i})
	assert.Equal(t, int64(8), g.Node(point).Size)

	point3 := g.Node(class("Point3", point, nil, Field{Name: "z", Type: i}))
	assert.Equal(t, int64(0), point3.BaseOffset)
	assert.Equal(t, []int64{64}, offsets(point3))
	assert.Equal(t, int64(12), point3.Size)

	shape := class("Shape", decl.Void, []decl.Method{{Name: "Draw", Type: fn}}, Field{Name: "id", Type: i})
	assert.Equal(t, []int64{64}, offsets(g.Node(shape)), "the table pointer comes first")
	assert.Equal(t, int64(16), g.Node(shape).Size)

	circle := g.Node(class("Circle", shape, []decl.Method{{Name: "Area", Type: fn}}, Field{Name: "r", Type: d}))
	assert.Equal(t, int64(0), circle.BaseOffset, "the base carries the table pointer")
	assert.Equal(t, []int64{128}, offsets(circle))
	assert.Equal(t, int64(24), circle.Size)
	assert.Len(t, circle.VirtualMethods, 1)

	tagged := g.Node(class("Tagged", point, []decl.Method{{Name: "Print", Type: fn}}, Field{Name: "c", Type: c}))
	assert.Equal(t, int64(8), tagged.BaseOffset)
	assert.Equal(t, []int64{128}, offsets(tagged))
	assert.Equal(t, int64(24), tagged.Size)

	t.Run("errors", func(t *testing.T) {
		fwd := g.Reserve(decl.KindStruct, "Fwd")
		id := g.Reserve(decl.KindStruct, "Bad")
		assert.ErrorContains(t, tab.DefineClass(id, "Bad", fwd, nil, nil), "base struct Fwd is incomplete")
		assert.ErrorContains(t, tab.DefineClass(id, "Bad", i, nil, nil), "base int is not a struct")
		assert.ErrorContains(t, tab.DefineClass(id, "Bad", decl.Void, []decl.Method{{Name: "M", Type: i}}, nil),
			`virtual method "M" has non-function type int`)
	})
}
