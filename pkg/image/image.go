// Package image provides a read-only view of an executable: its bytes, its
// section table and the mapping between virtual addresses and file offsets.
package image

import (
	"debug/elf"
	"encoding/binary"
	"fmt"
	"sort"
)

// Format identifies the container an image was loaded from.
type Format string

const (
	FormatPE    Format = "pe"
	FormatELF   Format = "elf"
	FormatMachO Format = "macho"
	FormatRaw   Format = "raw"
)

// Arch describes the properties of the target machine the pipeline needs.
type Arch struct {
	Name string
	// AddrSize is the pointer width in bytes.
	AddrSize int
	// Machine is the ELF machine used when emitting debug objects for the image.
	Machine elf.Machine
}

var (
	ArchAMD64 = Arch{Name: "amd64", AddrSize: 8, Machine: elf.EM_X86_64}
	Arch386   = Arch{Name: "386", AddrSize: 4, Machine: elf.EM_386}
	ArchARM64 = Arch{Name: "arm64", AddrSize: 8, Machine: elf.EM_AARCH64}
	ArchARM   = Arch{Name: "arm", AddrSize: 4, Machine: elf.EM_ARM}
)

// Section maps a virtual address range onto a file range.
type Section struct {
	Name string
	// Addr and Size delimit the section in the virtual address space.
	Addr uint64
	Size uint64
	// Offset and FileSize delimit the bytes backing the section in the file.
	// FileSize may be smaller than Size (zero-filled tail) or zero (bss).
	Offset   uint64
	FileSize uint64
	// Exec is set for sections holding code.
	Exec bool
}

// End returns the first virtual address past the section.
func (s Section) End() uint64 {
	return s.Addr + s.Size
}

// Contains reports whether addr falls inside the file-backed part of the section.
func (s Section) Contains(addr uint64) bool {
	return addr >= s.Addr && addr-s.Addr < s.FileSize
}

// AddressOutOfBoundsError is returned when a virtual address is not backed by
// any section of the image.
type AddressOutOfBoundsError struct {
	Addr uint64
	Size int
}

// Error implements the error interface.
func (e *AddressOutOfBoundsError) Error() string {
	return fmt.Sprintf("address 0x%X (%d bytes) is not mapped by any section", e.Addr, e.Size)
}

// Image is an immutable loaded executable. It is safe for concurrent use.
type Image struct {
	Path   string
	Format Format
	Arch   Arch
	// Base is the preferred load address of the image.
	Base uint64

	data     []byte
	sections []Section
}

// New builds an image from raw bytes and a section table. Sections must be
// backed by data and must not overlap in the virtual address space.
func New(data []byte, base uint64, arch Arch, sections []Section) (*Image, error) {
	if arch.AddrSize != 4 && arch.AddrSize != 8 {
		return nil, fmt.Errorf("unsupported address size %d for %s", arch.AddrSize, arch.Name)
	}

	sorted := make([]Section, len(sections))
	copy(sorted, sections)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Addr < sorted[j].Addr })

	for i, s := range sorted {
		if s.FileSize > s.Size {
			return nil, fmt.Errorf("section %q: file size 0x%x exceeds virtual size 0x%x", s.Name, s.FileSize, s.Size)
		}
		if s.Offset+s.FileSize > uint64(len(data)) || s.Offset+s.FileSize < s.Offset {
			return nil, fmt.Errorf("section %q: file range [0x%x, 0x%x) outside of %d byte image",
				s.Name, s.Offset, s.Offset+s.FileSize, len(data))
		}
		if i > 0 && sorted[i-1].End() > s.Addr && sorted[i-1].Size > 0 {
			return nil, fmt.Errorf("section %q overlaps section %q", s.Name, sorted[i-1].Name)
		}
	}

	return &Image{
		Format:   FormatRaw,
		Arch:     arch,
		Base:     base,
		data:     data,
		sections: sorted,
	}, nil
}

// Data returns the full file contents. Callers must not modify the slice.
func (img *Image) Data() []byte {
	return img.data
}

// Sections returns the section table ordered by virtual address.
func (img *Image) Sections() []Section {
	return img.sections
}

// AddrSize returns the pointer width of the image.
func (img *Image) AddrSize() int {
	return img.Arch.AddrSize
}

// Section looks a section up by name.
func (img *Image) Section(name string) (Section, bool) {
	for _, s := range img.sections {
		if s.Name == name {
			return s, true
		}
	}
	return Section{}, false
}

// SectionData returns the file bytes backing s.
func (img *Image) SectionData(s Section) []byte {
	return img.data[s.Offset : s.Offset+s.FileSize]
}

func (img *Image) findSection(addr uint64) (Section, bool) {
	i := sort.Search(len(img.sections), func(i int) bool { return img.sections[i].End() > addr })
	if i < len(img.sections) && img.sections[i].Contains(addr) {
		return img.sections[i], true
	}
	return Section{}, false
}

// FileOffset translates a virtual address into a file offset.
func (img *Image) FileOffset(addr uint64) (uint64, error) {
	s, ok := img.findSection(addr)
	if !ok {
		return 0, &AddressOutOfBoundsError{Addr: addr, Size: 1}
	}
	return s.Offset + (addr - s.Addr), nil
}

// VirtualAddress translates a file offset into a virtual address.
func (img *Image) VirtualAddress(off uint64) (uint64, bool) {
	for _, s := range img.sections {
		if off >= s.Offset && off-s.Offset < s.FileSize {
			return s.Addr + (off - s.Offset), true
		}
	}
	return 0, false
}

// ReadAt returns n bytes at the virtual address. The range must lie within a
// single section's file-backed bytes.
func (img *Image) ReadAt(addr uint64, n int) ([]byte, error) {
	s, ok := img.findSection(addr)
	if !ok || n < 0 || addr-s.Addr+uint64(n) > s.FileSize {
		return nil, &AddressOutOfBoundsError{Addr: addr, Size: n}
	}
	off := s.Offset + (addr - s.Addr)
	return img.data[off : off+uint64(n)], nil
}

// ReadUint reads a little-endian unsigned integer of the given width.
func (img *Image) ReadUint(addr uint64, width int) (uint64, error) {
	b, err := img.ReadAt(addr, width)
	if err != nil {
		return 0, err
	}
	return DecodeUint(b), nil
}

// ReadPointer reads a pointer-sized little-endian value.
func (img *Image) ReadPointer(addr uint64) (uint64, error) {
	return img.ReadUint(addr, img.Arch.AddrSize)
}

// DecodeUint decodes up to eight little-endian bytes.
func DecodeUint(b []byte) uint64 {
	switch len(b) {
	case 1:
		return uint64(b[0])
	case 2:
		return uint64(binary.LittleEndian.Uint16(b))
	case 4:
		return uint64(binary.LittleEndian.Uint32(b))
	case 8:
		return binary.LittleEndian.Uint64(b)
	}
	var v uint64
	for i := len(b) - 1; i >= 0; i-- {
		v = v<<8 | uint64(b[i])
	}
	return v
}

// DecodeInt decodes up to eight little-endian bytes as a two's complement
// signed integer.
func DecodeInt(b []byte) int64 {
	v := DecodeUint(b)
	if len(b) == 0 || len(b) >= 8 {
		return int64(v)
	}
	shift := 64 - 8*uint(len(b))
	return int64(v<<shift) >> shift
}
