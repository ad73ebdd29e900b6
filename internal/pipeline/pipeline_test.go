package pipeline

import (
	"bytes"
	"debug/dwarf"
	"debug/elf"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/multierr"

	"github.com/coral-mesh/zoltan/internal/config"
	"github.com/coral-mesh/zoltan/internal/constants"
	"github.com/coral-mesh/zoltan/internal/testutil"
	"github.com/coral-mesh/zoltan/pkg/decl"
	"github.com/coral-mesh/zoltan/pkg/dwarfgen"
	"github.com/coral-mesh/zoltan/pkg/image"
	"github.com/coral-mesh/zoltan/pkg/pattern"
	"github.com/coral-mesh/zoltan/pkg/resolve"
)

const playerHeader = `struct Player {
    int health;
    struct Player *target;
};

/// @pattern 48 83 EC 30 48 8B 09
typedef void Init(void);

/// @pattern E8 (fn:rel)
/// @eval fn
typedef struct Player *GetPlayer(int index);

/// @pattern 48 8B 05 (g:rel)
/// @eval g
extern struct Player *g_local;

/// @pattern DE AD BE EF
typedef void Missing(void);

/// @pattern CC 90 CC C3
/// @nth 1/2
typedef void Stub(void);

/// @pattern ZZ
typedef void Broken(void);

int NotLocated(void);
`

func playerExe(t *testing.T) testutil.Exe {
	t.Helper()
	text := make([]byte, 0x400)
	copy(text[0x000:], []byte{0x48, 0x83, 0xEC, 0x30, 0x48, 0x8B, 0x09})
	copy(text[0x100:], []byte{0xE8, 0x10, 0x00, 0x00, 0x00})
	copy(text[0x200:], []byte{0x48, 0x8B, 0x05, 0xF9, 0x0D, 0x00, 0x00})
	for _, off := range []int{0x300, 0x310, 0x320} {
		copy(text[off:], []byte{0xCC, 0x90, 0xCC, 0xC3})
	}
	return testutil.Exe{
		Base: 0x400000,
		Arch: image.ArchAMD64,
		Sections: []testutil.Section{
			{Name: ".text", Addr: 0x401000, Data: text, Exec: true},
			{Name: ".data", Addr: 0x402000, Data: make([]byte, 0x10)},
		},
	}
}

type fixture struct {
	dir    string
	source string
	exe    string
	cfg    *config.Config
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	dir := t.TempDir()
	source := filepath.Join(dir, "player.h")
	require.NoError(t, os.WriteFile(source, []byte(playerHeader), 0o644))
	exe := filepath.Join(dir, "game")
	require.NoError(t, os.WriteFile(exe, playerExe(t).ELF(t), 0o644))

	cfg := config.DefaultConfig()
	cfg.DataModel = constants.DataModelLP64
	cfg.Output.DWARF = filepath.Join(dir, "game.debug")
	cfg.Output.CHeader = filepath.Join(dir, "offsets.h")
	cfg.Output.Rust = filepath.Join(dir, "offsets.rs")
	cfg.Output.Go = filepath.Join(dir, "offsets.go")
	return fixture{dir: dir, source: source, exe: exe, cfg: cfg}
}

func declErrors(t *testing.T, err error) map[string]*DeclError {
	t.Helper()
	out := make(map[string]*DeclError)
	for _, e := range multierr.Errors(err) {
		var de *DeclError
		require.True(t, errors.As(e, &de), "unexpected error %v", e)
		out[de.Decl] = de
	}
	return out
}

func TestPipeline_Generate(t *testing.T) {
	f := newFixture(t)
	p := New(f.cfg, testutil.NewTestLoggerWithOutput(t))

	res, outputs, err := p.Generate(testutil.Context(t), f.source, f.exe)
	require.Error(t, err)
	require.NotNil(t, res)

	t.Run("failures are attributed to declarations", func(t *testing.T) {
		failed := declErrors(t, err)
		require.Len(t, failed, 3)

		assert.Equal(t, PhaseAnnotation, failed["Broken"].Phase)
		var syntaxErr *pattern.SyntaxError
		assert.True(t, errors.As(failed["Broken"], &syntaxErr))

		assert.Equal(t, PhaseResolve, failed["Missing"].Phase)
		var notFound *resolve.NotFoundError
		assert.True(t, errors.As(failed["Missing"], &notFound))

		var mismatch *resolve.MatchCountMismatchError
		require.True(t, errors.As(failed["Stub"], &mismatch))
		assert.Equal(t, 2, mismatch.Expected)
		assert.Equal(t, 3, mismatch.Actual)
		assert.Equal(t, 22, failed["Stub"].Pos.Line)
	})

	t.Run("resolved symbols", func(t *testing.T) {
		got := make(map[string]uint64)
		for _, s := range res.Symbols {
			got[s.Name] = s.Address
		}
		assert.Equal(t, map[string]uint64{
			"Init":      0x401000,
			"GetPlayer": 0x401115,
			"g_local":   0x402000,
		}, got)
		assert.Equal(t, 6, res.Plan.Annotated)
	})

	t.Run("artifacts are written despite failures", func(t *testing.T) {
		kinds := make([]string, 0, len(outputs))
		for _, o := range outputs {
			kinds = append(kinds, o.Kind)
		}
		assert.Equal(t, []string{"dwarf", "c", "rust", "go"}, kinds)

		c, err := os.ReadFile(f.cfg.Output.CHeader)
		require.NoError(t, err)
		assert.Equal(t, "// Code generated by zoltan. DO NOT EDIT.\n\n#pragma once\n\n"+
			"#define INIT_ADDR 0x1000\n"+
			"#define GETPLAYER_ADDR 0x1115\n"+
			"#define G_LOCAL_ADDR 0x2000\n", string(c))

		rust, err := os.ReadFile(f.cfg.Output.Rust)
		require.NoError(t, err)
		assert.Contains(t, string(rust), "pub const G_LOCAL_ADDR: usize = 0x2000;\n")

		goSrc, err := os.ReadFile(f.cfg.Output.Go)
		require.NoError(t, err)
		assert.Contains(t, string(goSrc), "package offsets\n")
		assert.Contains(t, string(goSrc), "GetPlayerAddr uintptr = 0x1115\n")
	})

	t.Run("debug object describes the resolved symbols", func(t *testing.T) {
		obj, err := os.ReadFile(f.cfg.Output.DWARF)
		require.NoError(t, err)
		ef, err := elf.NewFile(bytes.NewReader(obj))
		require.NoError(t, err)
		assert.Equal(t, elf.EM_X86_64, ef.Machine)
		d, err := ef.DWARF()
		require.NoError(t, err)

		names := make(map[string]dwarf.Tag)
		r := d.Reader()
		for {
			e, err := r.Next()
			require.NoError(t, err)
			if e == nil {
				break
			}
			if name, ok := e.Val(dwarf.AttrName).(string); ok {
				names[name] = e.Tag
			}
		}
		assert.Equal(t, dwarf.TagSubprogram, names["Init"])
		assert.Equal(t, dwarf.TagSubprogram, names["GetPlayer"])
		assert.Equal(t, dwarf.TagVariable, names["g_local"])
		assert.Equal(t, dwarf.TagStructType, names["Player"])
		assert.NotContains(t, names, "Missing")
	})
}

func TestPipeline_Check(t *testing.T) {
	f := newFixture(t)
	plan, err := New(f.cfg, testutil.NewTestLogger(t)).Check(testutil.Context(t), f.source)
	require.NotNil(t, plan)

	failed := declErrors(t, err)
	require.Len(t, failed, 1)
	assert.Contains(t, failed, "Broken")

	assert.Len(t, plan.Patterns, 5)
	for i, c := range plan.Patterns {
		assert.Equal(t, plan.Graph.Decls[plan.Refs[i]].Name, c.Name())
	}
}

func TestPipeline_CompileFailure(t *testing.T) {
	f := newFixture(t)
	src := "/// @pattern ? ? (x:abs)\ntypedef void Wild(void);\n"
	require.NoError(t, os.WriteFile(f.source, []byte(src), 0o644))

	_, err := New(f.cfg, testutil.NewTestLogger(t)).Check(testutil.Context(t), f.source)
	failed := declErrors(t, err)
	require.Contains(t, failed, "Wild")
	assert.Equal(t, PhaseCompile, failed["Wild"].Phase)
}

func TestPipeline_AllResolved(t *testing.T) {
	f := newFixture(t)
	src := `/// @pattern 48 83 EC 30 48 8B 09
typedef void ns::Init(void);
`
	f.cfg.Frontend = constants.FrontendCDecl
	f.cfg.StripNamespaces = true
	f.cfg.EagerTypeExport = true
	f.cfg.Output.Rust = ""
	f.cfg.Output.Go = ""
	require.NoError(t, os.WriteFile(f.source, []byte(src), 0o644))

	res, outputs, err := New(f.cfg, testutil.NewTestLogger(t)).Generate(testutil.Context(t), f.source, f.exe)
	require.NoError(t, err)
	require.Len(t, res.Symbols, 1)
	assert.Equal(t, "Init", res.Symbols[0].Name)
	assert.Len(t, outputs, 2)

	c, err := os.ReadFile(f.cfg.Output.CHeader)
	require.NoError(t, err)
	assert.Contains(t, string(c), "#define INIT_ADDR 0x1000\n")
}

func TestEmit_HeadersSurviveDebugFailure(t *testing.T) {
	f := newFixture(t)
	f.cfg.Output.Rust = ""
	f.cfg.Output.Go = ""

	g := decl.NewGraph()
	voids := g.Add(decl.TypeNode{Kind: decl.KindArray, Elem: decl.Void, Count: 4})
	fn := g.Add(decl.TypeNode{Kind: decl.KindFunction, Params: []decl.Param{{Name: "buf", Type: voids}}})
	g.AddDecl(decl.Decl{Name: "Fill", Kind: decl.DeclFunction, Type: fn})

	res := &Result{
		Plan:    &Plan{Source: f.source, Graph: g},
		Image:   playerExe(t).Image(t),
		Symbols: []resolve.Symbol{{Name: "Fill", Address: 0x401040, Ref: 0}},
	}

	outputs, err := New(f.cfg, testutil.NewTestLogger(t)).Emit(res)
	require.Error(t, err)
	var unrep *dwarfgen.UnrepresentableTypeError
	assert.True(t, errors.As(err, &unrep))

	require.Len(t, outputs, 1)
	assert.Equal(t, "c", outputs[0].Kind)
	c, err := os.ReadFile(f.cfg.Output.CHeader)
	require.NoError(t, err)
	assert.Contains(t, string(c), "#define FILL_ADDR 0x1040\n")

	_, statErr := os.Stat(f.cfg.Output.DWARF)
	assert.True(t, os.IsNotExist(statErr))
}

func TestPipeline_MissingExecutable(t *testing.T) {
	f := newFixture(t)
	res, outputs, err := New(f.cfg, testutil.NewTestLogger(t)).Generate(testutil.Context(t), f.source, filepath.Join(f.dir, "nope"))
	require.Error(t, err)
	assert.Nil(t, res)
	assert.Nil(t, outputs)
	_, statErr := os.Stat(f.cfg.Output.DWARF)
	assert.True(t, os.IsNotExist(statErr))
}

func TestDeclError(t *testing.T) {
	err := &DeclError{Decl: "Tick", Phase: PhaseResolve, Err: &resolve.NotFoundError{Name: "Tick"}}
	err.Pos.File, err.Pos.Line = "game.h", 12
	assert.Equal(t, `game.h:12: Tick (resolve): pattern for "Tick" not found`, err.Error())
	var nf *resolve.NotFoundError
	assert.True(t, errors.As(err, &nf))
}
