package image_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coral-mesh/zoltan/internal/testutil"
	"github.com/coral-mesh/zoltan/pkg/image"
)

func fixture() testutil.Exe {
	text := make([]byte, 0x40)
	copy(text, []byte{0x48, 0x83, 0xEC, 0x30})
	rdata := []byte{
		0x00, 0x30, 0x00, 0x40, 0x01, 0x00, 0x00, 0x00, // pointer to 0x140003000
		0xFE, 0xFF, 0xFF, 0xFF, // -2 as int32
	}
	return testutil.Exe{
		Base: 0x140000000,
		Arch: image.ArchAMD64,
		Sections: []testutil.Section{
			{Name: ".text", Addr: 0x140001000, Data: text, Exec: true},
			{Name: ".rdata", Addr: 0x140002000, Data: rdata},
			{Name: ".bss", Addr: 0x140003000, BSS: 0x100},
		},
	}
}

func TestNew_Validation(t *testing.T) {
	data := make([]byte, 0x100)

	_, err := image.New(data, 0, image.Arch{Name: "weird", AddrSize: 2}, nil)
	assert.ErrorContains(t, err, "unsupported address size")

	_, err = image.New(data, 0, image.ArchAMD64, []image.Section{{Name: "a", Addr: 0, Size: 0x10, Offset: 0xF8, FileSize: 0x10}})
	assert.ErrorContains(t, err, "outside of")

	_, err = image.New(data, 0, image.ArchAMD64, []image.Section{{Name: "a", Addr: 0, Size: 0x8, FileSize: 0x10}})
	assert.ErrorContains(t, err, "exceeds virtual size")

	_, err = image.New(data, 0, image.ArchAMD64, []image.Section{
		{Name: "b", Addr: 0x18, Size: 0x10, FileSize: 0x10},
		{Name: "a", Addr: 0x10, Size: 0x10, FileSize: 0x10},
	})
	assert.ErrorContains(t, err, `section "b" overlaps section "a"`)
}

func TestImage_AddressTranslation(t *testing.T) {
	img := fixture().Image(t)

	assert.Equal(t, image.FormatRaw, img.Format)
	assert.Equal(t, 8, img.AddrSize())
	require.Len(t, img.Sections(), 3)
	assert.Equal(t, ".text", img.Sections()[0].Name)

	off, err := img.FileOffset(0x140001002)
	require.NoError(t, err)
	assert.Equal(t, uint64(0x1002), off)

	va, ok := img.VirtualAddress(0x2004)
	require.True(t, ok)
	assert.Equal(t, uint64(0x140002004), va)

	_, ok = img.VirtualAddress(0x10)
	assert.False(t, ok, "headers are not mapped")

	_, err = img.FileOffset(0x140003000)
	var oob *image.AddressOutOfBoundsError
	require.True(t, errors.As(err, &oob), "bss has no file bytes")
	assert.Equal(t, uint64(0x140003000), oob.Addr)

	s, ok := img.Section(".rdata")
	require.True(t, ok)
	assert.Len(t, img.SectionData(s), 12)
	_, ok = img.Section(".reloc")
	assert.False(t, ok)
}

func TestImage_Reads(t *testing.T) {
	img := fixture().Image(t)

	ptr, err := img.ReadPointer(0x140002000)
	require.NoError(t, err)
	assert.Equal(t, uint64(0x140003000), ptr)

	b, err := img.ReadAt(0x140001000, 4)
	require.NoError(t, err)
	assert.Equal(t, []byte{0x48, 0x83, 0xEC, 0x30}, b)

	v, err := img.ReadUint(0x140002008, 4)
	require.NoError(t, err)
	assert.Equal(t, int64(-2), image.DecodeInt([]byte{0xFE, 0xFF, 0xFF, 0xFF}))
	assert.Equal(t, uint64(0xFFFFFFFE), v)

	tests := []struct {
		name string
		addr uint64
		n    int
	}{
		{name: "unmapped", addr: 0x150000000, n: 8},
		{name: "crosses section end", addr: 0x140002008, n: 8},
		{name: "before first section", addr: 0x140000000, n: 1},
		{name: "bss", addr: 0x140003010, n: 8},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := img.ReadAt(tt.addr, tt.n)
			var oob *image.AddressOutOfBoundsError
			require.True(t, errors.As(err, &oob))
			assert.Equal(t, tt.addr, oob.Addr)
			assert.Equal(t, tt.n, oob.Size)
		})
	}
}

func TestDecode(t *testing.T) {
	assert.Equal(t, uint64(0x10), image.DecodeUint([]byte{0x10, 0, 0, 0}))
	assert.Equal(t, uint64(0x030201), image.DecodeUint([]byte{1, 2, 3}))
	assert.Equal(t, int64(-1), image.DecodeInt([]byte{0xFF}))
	assert.Equal(t, int64(-0x10), image.DecodeInt([]byte{0xF0, 0xFF}))
	assert.Equal(t, int64(0x7F), image.DecodeInt([]byte{0x7F}))
	assert.Equal(t, int64(-1), image.DecodeInt([]byte{0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF}))
	assert.Equal(t, int64(0), image.DecodeInt(nil))
}
