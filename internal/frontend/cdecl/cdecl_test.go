package cdecl

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coral-mesh/zoltan/internal/frontend/ctype"
	"github.com/coral-mesh/zoltan/internal/testutil"
	"github.com/coral-mesh/zoltan/pkg/decl"
)

const gameHeader = `#include <stdint.h>
#pragma once
#define MAX_ENTITIES \
	1024

typedef struct World World;

enum Kind { KIND_NONE, KIND_PLAYER = 4, KIND_MAX = KIND_PLAYER << 2 };

/* Entities form an intrusive list. */
struct Entity {
    int id;
    struct Entity *next;
    World *world;
    unsigned flags : 3;
    unsigned alive : 1;
    enum Kind kind;
    char name[16];
    union {
        float f;
        int32_t i;
    } value;
};

typedef struct {
    uint8_t r, g, b, a;
} Color;

/// Spawns an entity.
/// @pattern E8 (fn:rel) 45 8B 86
/// @eval fn
typedef struct Entity *SpawnEntity(World *world, enum Kind kind, ...);

/// @pattern 48 8B 0D (g:rel)
/// @eval *g
extern World *g_world;

/// @pattern 40 53 48 83 EC 20
typedef void (__fastcall *Tick)(float dt);

/// @pattern 48 89 5C 24 08
int __cdecl Damage(struct Entity *target, int amount);

int Unannotated(void);

Color g_palette[sizeof(Color) * 2];
`

func parse(t *testing.T, model ctype.DataModel, src string) *decl.Graph {
	t.Helper()
	g, err := New(model, testutil.NewTestLogger(t)).Parse(context.Background(), decl.Source{Path: "game.h", Data: []byte(src)})
	require.NoError(t, err)
	return g
}

func findDecl(t *testing.T, g *decl.Graph, name string) decl.Decl {
	t.Helper()
	for _, d := range g.Decls {
		if d.Name == name {
			return d
		}
	}
	t.Fatalf("declaration %s not found", name)
	return decl.Decl{}
}

func TestParse_GameHeader(t *testing.T) {
	g := parse(t, ctype.LLP64, gameHeader)

	var names []string
	for _, d := range g.Decls {
		names = append(names, d.Name)
	}
	assert.Equal(t, []string{"SpawnEntity", "g_world", "Tick", "Damage", "Unannotated", "g_palette"}, names)

	t.Run("function typedef", func(t *testing.T) {
		d := findDecl(t, g, "SpawnEntity")
		assert.Equal(t, decl.DeclFunction, d.Kind)
		assert.Equal(t, []string{
			"/// Spawns an entity.",
			"/// @pattern E8 (fn:rel) 45 8B 86",
			"/// @eval fn",
		}, d.Annotation)
		assert.Equal(t, decl.Pos{File: "game.h", Line: 32}, d.Pos)

		fn := g.Node(d.Type)
		require.Equal(t, decl.KindFunction, fn.Kind)
		assert.True(t, fn.Variadic)
		require.Len(t, fn.Params, 2)
		assert.Equal(t, "world", fn.Params[0].Name)
		assert.Equal(t, "struct World*", g.Describe(fn.Params[0].Type))
		assert.Equal(t, "enum Kind", g.Describe(fn.Params[1].Type))
		assert.Equal(t, "struct Entity*", g.Describe(fn.Elem))
	})

	t.Run("variable", func(t *testing.T) {
		d := findDecl(t, g, "g_world")
		assert.Equal(t, decl.DeclVariable, d.Kind)
		assert.Equal(t, []string{"/// @pattern 48 8B 0D (g:rel)", "/// @eval *g"}, d.Annotation)
		ptr := g.Node(d.Type)
		require.Equal(t, decl.KindPointer, ptr.Kind)
		assert.Equal(t, int64(8), ptr.Size)
		assert.True(t, g.Node(ptr.Elem).Incomplete)
	})

	t.Run("function pointer typedef", func(t *testing.T) {
		d := findDecl(t, g, "Tick")
		assert.Equal(t, decl.DeclFunction, d.Kind)
		assert.Equal(t, "void(float)", g.Describe(d.Type))
	})

	t.Run("prototype", func(t *testing.T) {
		d := findDecl(t, g, "Damage")
		assert.Equal(t, decl.DeclFunction, d.Kind)
		assert.Equal(t, "int(struct Entity*, int)", g.Describe(d.Type))
		assert.Empty(t, findDecl(t, g, "Unannotated").Annotation)
	})

	t.Run("struct layout", func(t *testing.T) {
		fn := g.Node(findDecl(t, g, "SpawnEntity").Type)
		entity := g.Node(g.Node(fn.Elem).Elem)
		assert.Equal(t, "Entity", entity.Name)
		assert.Equal(t, int64(56), entity.Size)
		assert.False(t, entity.Incomplete)

		type layout struct {
			name      string
			offset    int64
			bitSize   int64
			bitOffset int64
		}
		var got []layout
		for _, m := range entity.Members {
			got = append(got, layout{m.Name, m.Offset, m.BitSize, m.BitOffset})
		}
		assert.Equal(t, []layout{
			{"id", 0, 0, 0},
			{"next", 8, 0, 0},
			{"world", 16, 0, 0},
			{"flags", 24, 3, 192},
			{"alive", 24, 1, 195},
			{"kind", 28, 0, 0},
			{"name", 32, 0, 0},
			{"value", 48, 0, 0},
		}, got)

		next := g.Node(entity.Members[1].Type)
		assert.Equal(t, fn.Elem, entity.Members[1].Type)
		assert.Equal(t, g.Node(fn.Elem).Elem, next.Elem)

		value := g.Node(entity.Members[7].Type)
		assert.Equal(t, decl.KindUnion, value.Kind)
		assert.Empty(t, value.Name)
		assert.Equal(t, int64(4), value.Size)
	})

	t.Run("enum", func(t *testing.T) {
		kind := g.Node(g.Node(findDecl(t, g, "SpawnEntity").Type).Params[1].Type)
		assert.Equal(t, []decl.Enumerator{
			{Name: "KIND_NONE", Value: 0},
			{Name: "KIND_PLAYER", Value: 4},
			{Name: "KIND_MAX", Value: 16},
		}, kind.Enumerators)
		assert.Equal(t, int64(4), kind.Size)
	})

	t.Run("typedef names anonymous struct", func(t *testing.T) {
		palette := g.Node(findDecl(t, g, "g_palette").Type)
		require.Equal(t, decl.KindArray, palette.Kind)
		assert.Equal(t, int64(8), palette.Count)
		color := g.Node(palette.Elem)
		assert.Equal(t, "Color", color.Name)
		assert.Equal(t, int64(4), color.Size)
		require.Len(t, color.Members, 4)
		assert.Equal(t, int64(3), color.Members[3].Offset)
	})
}

func TestParse_Declarators(t *testing.T) {
	src := `
int *a[3];
int (*b)[3];
int (*(*c)(void))[2];
void f(int x[4], void g(int), const char *const fmt);
unsigned long long *const *volatile d;
`
	g := parse(t, ctype.LP64, src)
	want := map[string]string{
		"a": "int*[3]",
		"b": "int[3]*",
		"c": "int[2]*()*",
		"f": "void(int*, void(int)*, char*)",
		"d": "unsigned long long**",
	}
	for name, desc := range want {
		assert.Equal(t, desc, g.Describe(findDecl(t, g, name).Type), name)
	}
}

func TestParse_DataModels(t *testing.T) {
	src := "long x; void *p; long double ld;"
	tests := []struct {
		model     ctype.DataModel
		long, ptr int64
		ld        int64
	}{
		{ctype.LLP64, 4, 8, 8},
		{ctype.LP64, 8, 8, 16},
		{ctype.ILP32, 4, 4, 8},
	}
	for _, tt := range tests {
		t.Run(tt.model.Name, func(t *testing.T) {
			g := parse(t, tt.model, src)
			assert.Equal(t, tt.long, g.Node(findDecl(t, g, "x").Type).Size)
			assert.Equal(t, tt.ptr, g.Node(findDecl(t, g, "p").Type).Size)
			assert.Equal(t, tt.ld, g.Node(findDecl(t, g, "ld").Type).Size)
		})
	}
}

func TestParse_AnnotationMustBeAdjacent(t *testing.T) {
	src := `/// @pattern 90 90

int detached;
/// @pattern C3
int attached; // trailing comment
int next;`
	g := parse(t, ctype.LLP64, src)
	assert.Empty(t, findDecl(t, g, "detached").Annotation)
	assert.Equal(t, []string{"/// @pattern C3"}, findDecl(t, g, "attached").Annotation)
	assert.Empty(t, findDecl(t, g, "next").Annotation)
}

func TestParse_SkipsDefinitions(t *testing.T) {
	src := `extern "C" {
int table[] = { 1, 2, 3 };
static int twice(int a) { if (a) { return a * 2; } return 0; }
enum : unsigned char { SMALL = 'a', ESC = '\0' } tiny;
}
int after;`
	g := parse(t, ctype.LLP64, src)
	assert.Equal(t, "int[]", g.Describe(findDecl(t, g, "table").Type))
	assert.Equal(t, decl.DeclFunction, findDecl(t, g, "twice").Kind)
	tiny := g.Node(findDecl(t, g, "tiny").Type)
	assert.Equal(t, int64(1), tiny.Size)
	assert.Equal(t, []decl.Enumerator{{Name: "SMALL", Value: 'a'}, {Name: "ESC", Value: 0}}, tiny.Enumerators)
	findDecl(t, g, "after")
}

func TestParse_Errors(t *testing.T) {
	tests := []struct {
		name     string
		src      string
		wantLine int
		wantMsg  string
	}{
		{name: "unknown type", src: "\nFoo x;", wantLine: 2, wantMsg: `unknown type name "Foo"`},
		{name: "missing semicolon", src: "int x\nint y;", wantLine: 2, wantMsg: `expected ";"`},
		{name: "redefinition", src: "struct S { int a; };\nstruct S { int b; };", wantLine: 2, wantMsg: "redefinition of struct S"},
		{name: "bit field too wide", src: "struct S {\n char c : 9;\n};", wantLine: 1, wantMsg: `struct S: bit field "c" width 9 exceeds`},
		{name: "incomplete member", src: "struct A;\nstruct B { struct A a; };", wantLine: 2, wantMsg: "incomplete type struct A"},
		{name: "array of void", src: "void arr[3];", wantLine: 1, wantMsg: "arr: array of void"},
		{name: "unterminated comment", src: "int x; /* open", wantLine: 1, wantMsg: "unterminated block comment"},
		{name: "unknown constant", src: "int arr[N];", wantLine: 1, wantMsg: `"N" is not a constant`},
		{name: "division by zero", src: "int arr[4 / 0];", wantLine: 1, wantMsg: "division by zero"},
		{name: "function returning array", src: "typedef int F(void)[3];", wantLine: 1, wantMsg: "function cannot return int[3]"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(ctype.LLP64, testutil.NewTestLogger(t)).Parse(context.Background(), decl.Source{Path: "bad.h", Data: []byte(tt.src)})
			require.Error(t, err)
			var pe *ParseError
			require.True(t, errors.As(err, &pe), "got %T: %v", err, err)
			assert.Equal(t, "bad.h", pe.File)
			assert.Equal(t, tt.wantLine, pe.Line)
			assert.Contains(t, pe.Error(), tt.wantMsg)
		})
	}
}

func TestParse_Canceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := New(ctype.LLP64, testutil.NewTestLogger(t)).Parse(ctx, decl.Source{Path: "x.h", Data: []byte("int x;")})
	assert.ErrorIs(t, err, context.Canceled)
}
