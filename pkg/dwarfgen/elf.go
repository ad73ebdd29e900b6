package dwarfgen

import (
	"bytes"
	"debug/elf"
	"encoding/binary"
	"fmt"

	"github.com/coral-mesh/zoltan/pkg/image"
)

type objectSection struct {
	name string
	data []byte
}

// writeObject wraps sections in a little-endian ELF relocatable whose class
// and machine follow arch. Section data starts right after the ELF header;
// the section header table comes last.
func writeObject(arch image.Arch, sections []objectSection) ([]byte, error) {
	is64 := arch.AddrSize == 8

	var shstrtab []byte
	shstrtab = append(shstrtab, 0)
	nameOff := func(s string) uint32 {
		off := uint32(len(shstrtab))
		shstrtab = append(append(shstrtab, s...), 0)
		return off
	}

	headerSize := uint64(binary.Size(elf.Header32{}))
	sectionHeaderSize := binary.Size(elf.Section32{})
	if is64 {
		headerSize = uint64(binary.Size(elf.Header64{}))
		sectionHeaderSize = binary.Size(elf.Section64{})
	}

	type placed struct {
		name uint32
		typ  elf.SectionType
		off  uint64
		size uint64
		data []byte
	}

	all := append(append([]objectSection(nil), sections...), objectSection{name: ".shstrtab"})
	out := make([]placed, len(all))
	off := headerSize
	for i, s := range all {
		out[i] = placed{name: nameOff(s.name), typ: elf.SHT_PROGBITS, data: s.data}
	}
	// .shstrtab holds its own name, so it is filled in after every name is added.
	last := len(out) - 1
	out[last].typ = elf.SHT_STRTAB
	out[last].data = shstrtab
	for i := range out {
		out[i].off = off
		out[i].size = uint64(len(out[i].data))
		off += out[i].size
	}
	shoff := (off + 7) &^ 7

	var buf bytes.Buffer
	ident := [elf.EI_NIDENT]byte{0x7f, 'E', 'L', 'F'}
	ident[elf.EI_DATA] = byte(elf.ELFDATA2LSB)
	ident[elf.EI_VERSION] = byte(elf.EV_CURRENT)
	ident[elf.EI_OSABI] = byte(elf.ELFOSABI_NONE)

	shnum := uint16(len(out) + 1)
	var hdr any
	if is64 {
		ident[elf.EI_CLASS] = byte(elf.ELFCLASS64)
		hdr = &elf.Header64{
			Ident:     ident,
			Type:      uint16(elf.ET_REL),
			Machine:   uint16(arch.Machine),
			Version:   uint32(elf.EV_CURRENT),
			Shoff:     shoff,
			Ehsize:    uint16(headerSize),
			Shentsize: uint16(sectionHeaderSize),
			Shnum:     shnum,
			Shstrndx:  shnum - 1,
		}
	} else {
		ident[elf.EI_CLASS] = byte(elf.ELFCLASS32)
		hdr = &elf.Header32{
			Ident:     ident,
			Type:      uint16(elf.ET_REL),
			Machine:   uint16(arch.Machine),
			Version:   uint32(elf.EV_CURRENT),
			Shoff:     uint32(shoff),
			Ehsize:    uint16(headerSize),
			Shentsize: uint16(sectionHeaderSize),
			Shnum:     shnum,
			Shstrndx:  shnum - 1,
		}
	}
	if err := binary.Write(&buf, binary.LittleEndian, hdr); err != nil {
		return nil, fmt.Errorf("failed to write ELF header: %w", err)
	}
	for _, s := range out {
		buf.Write(s.data)
	}
	buf.Write(make([]byte, shoff-off))

	// Index 0 is the reserved null section.
	headers := []any{nullSection(is64)}
	for _, s := range out {
		if is64 {
			headers = append(headers, &elf.Section64{
				Name: s.name, Type: uint32(s.typ), Off: s.off, Size: s.size, Addralign: 1,
			})
		} else {
			headers = append(headers, &elf.Section32{
				Name: s.name, Type: uint32(s.typ), Off: uint32(s.off), Size: uint32(s.size), Addralign: 1,
			})
		}
	}
	for _, h := range headers {
		if err := binary.Write(&buf, binary.LittleEndian, h); err != nil {
			return nil, fmt.Errorf("failed to write section header: %w", err)
		}
	}
	return buf.Bytes(), nil
}

func nullSection(is64 bool) any {
	if is64 {
		return &elf.Section64{}
	}
	return &elf.Section32{}
}
