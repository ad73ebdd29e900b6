package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadFromEnv_Config(t *testing.T) {
	t.Setenv("ZOLTAN_FRONTEND", "cdecl")
	t.Setenv("ZOLTAN_EAGER_TYPE_EXPORT", "true")
	t.Setenv("ZOLTAN_SCAN_SECTIONS", " .text , ,.rdata")
	t.Setenv("ZOLTAN_OUTPUT_GO", "offsets.go")
	t.Setenv("ZOLTAN_LOG_PRETTY", "false")

	cfg := DefaultConfig()
	require.NoError(t, LoadFromEnv(cfg))

	assert.Equal(t, "cdecl", cfg.Frontend)
	assert.True(t, cfg.EagerTypeExport)
	assert.Equal(t, []string{".text", ".rdata"}, cfg.Scan.Sections)
	assert.Equal(t, "offsets.go", cfg.Output.Go)
	assert.False(t, cfg.Log.Pretty)
	assert.Equal(t, 8, cfg.Workers, "unset variables leave fields alone")
}

func TestLoadFromEnv_Errors(t *testing.T) {
	tests := []struct {
		name    string
		env     string
		value   string
		wantMsg string
	}{
		{name: "bad integer", env: "ZOLTAN_WORKERS", value: "many", wantMsg: "invalid integer for Workers"},
		{name: "bad boolean", env: "ZOLTAN_STRIP_NAMESPACES", value: "maybe", wantMsg: "invalid boolean for StripNamespaces"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(tt.env, tt.value)
			err := LoadFromEnv(DefaultConfig())
			assert.ErrorContains(t, err, tt.wantMsg)
		})
	}
}

func TestLoadFromEnv_FieldKinds(t *testing.T) {
	type nested struct {
		Limit uint32 `env:"TEST_ZOLTAN_LIMIT"`
	}
	type custom struct {
		Timeout time.Duration `env:"TEST_ZOLTAN_TIMEOUT"`
		Base    int64         `env:"TEST_ZOLTAN_BASE"`
		Nested  nested
		ignored string
	}

	t.Setenv("TEST_ZOLTAN_TIMEOUT", "1500ms")
	t.Setenv("TEST_ZOLTAN_BASE", "0x140000000")
	t.Setenv("TEST_ZOLTAN_LIMIT", "42")

	var c custom
	require.NoError(t, LoadFromEnv(&c))
	assert.Equal(t, 1500*time.Millisecond, c.Timeout)
	assert.Equal(t, int64(0x140000000), c.Base)
	assert.Equal(t, uint32(42), c.Nested.Limit)
	assert.Empty(t, c.ignored)

	assert.NoError(t, LoadFromEnv((*custom)(nil)))
	assert.NoError(t, LoadFromEnv(42))
}

func TestLoadFromLookup_EmptyClears(t *testing.T) {
	env := map[string]string{
		"ZOLTAN_OUTPUT_C_HEADER": "",
		"ZOLTAN_SCAN_SECTIONS":   " ",
		"ZOLTAN_WORKERS":         "",
	}
	lookup := func(key string) (string, bool) {
		v, ok := env[key]
		return v, ok
	}

	cfg := DefaultConfig()
	cfg.Output.CHeader = "offsets.h"
	cfg.Scan.Sections = []string{".text"}
	require.NoError(t, LoadFromLookup(cfg, lookup))

	assert.Empty(t, cfg.Output.CHeader)
	assert.Nil(t, cfg.Scan.Sections)
	assert.Equal(t, 8, cfg.Workers, "empty integers are ignored")
}

func TestLoadFromLookup_Overflow(t *testing.T) {
	type small struct {
		Width uint8 `env:"WIDTH"`
	}
	lookup := func(string) (string, bool) { return "0x100", true }

	err := LoadFromLookup(&small{}, lookup)
	assert.ErrorContains(t, err, "invalid unsigned integer for Width (WIDTH)")
}
