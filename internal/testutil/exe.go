package testutil

import (
	"bytes"
	"debug/elf"
	"debug/pe"
	"encoding/binary"
	"os"
	"path/filepath"
	"sort"
	"testing"

	"github.com/coral-mesh/zoltan/pkg/image"
)

// Section describes one section of a synthetic executable.
type Section struct {
	Name string
	Addr uint64
	Data []byte
	// BSS is the size of the zero-filled tail following Data.
	BSS  uint64
	Exec bool
}

// Exe describes a synthetic executable. Sections are placed in the file at
// their address minus Base, the way linkers lay out simple images, so Base
// must leave room for the container headers below the first section.
type Exe struct {
	Base     uint64
	Arch     image.Arch
	Sections []Section
}

// Image builds an in-memory image with the same layout the ELF and PE
// writers produce.
func (e Exe) Image(t testing.TB) *image.Image {
	t.Helper()
	body := e.body()
	sections := make([]image.Section, 0, len(e.Sections))
	for _, s := range e.Sections {
		sec := image.Section{
			Name:     s.Name,
			Addr:     s.Addr,
			Size:     uint64(len(s.Data)) + s.BSS,
			FileSize: uint64(len(s.Data)),
			Exec:     s.Exec,
		}
		if len(s.Data) > 0 {
			sec.Offset = s.Addr - e.Base
		}
		sections = append(sections, sec)
	}
	img, err := image.New(body, e.Base, e.Arch, sections)
	if err != nil {
		t.Fatalf("failed to build test image: %v", err)
	}
	return img
}

func (e Exe) body() []byte {
	var size uint64
	for _, s := range e.Sections {
		if end := s.Addr - e.Base + uint64(len(s.Data)); len(s.Data) > 0 && end > size {
			size = end
		}
	}
	buf := make([]byte, size)
	for _, s := range e.Sections {
		if len(s.Data) == 0 {
			continue
		}
		copy(buf[s.Addr-e.Base:], s.Data)
	}
	return buf
}

func (e Exe) sorted() []Section {
	out := append([]Section(nil), e.Sections...)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Addr < out[j].Addr })
	return out
}

// ELF encodes the executable as a little-endian ELF file. The class follows
// the address size of Arch.
func (e Exe) ELF(t testing.TB) []byte {
	t.Helper()
	sections := e.sorted()
	is64 := e.Arch.AddrSize == 8

	ehsize, phentsize, shentsize := 52, 32, 40
	if is64 {
		ehsize, phentsize, shentsize = 64, 56, 64
	}

	var loads []Section
	for _, s := range sections {
		if len(s.Data) > 0 {
			loads = append(loads, s)
		}
	}
	if first := headerLimit(sections, e.Base); first < uint64(ehsize+phentsize*len(loads)) {
		t.Fatalf("test executable base 0x%x leaves no room for ELF headers", e.Base)
	}

	buf := e.body()

	shstrtab := []byte{0}
	nameOff := make([]uint32, len(sections))
	for i, s := range sections {
		nameOff[i] = uint32(len(shstrtab))
		shstrtab = append(append(shstrtab, s.Name...), 0)
	}
	shstrName := uint32(len(shstrtab))
	shstrtab = append(append(shstrtab, ".shstrtab"...), 0)
	shstrOff := uint64(len(buf))
	buf = append(buf, shstrtab...)
	for len(buf)%8 != 0 {
		buf = append(buf, 0)
	}
	shoff := uint64(len(buf))

	var w bytes.Buffer
	ident := [elf.EI_NIDENT]byte{0x7f, 'E', 'L', 'F', byte(elf.ELFCLASS32), byte(elf.ELFDATA2LSB), byte(elf.EV_CURRENT)}
	if is64 {
		ident[elf.EI_CLASS] = byte(elf.ELFCLASS64)
	}
	shnum := uint16(len(sections) + 2)

	write := func(v any) {
		if err := binary.Write(&w, binary.LittleEndian, v); err != nil {
			t.Fatalf("failed to encode ELF structure: %v", err)
		}
	}

	if is64 {
		write(elf.Header64{
			Ident: ident, Type: uint16(elf.ET_EXEC), Machine: uint16(e.Arch.Machine),
			Version: uint32(elf.EV_CURRENT), Entry: sections[0].Addr, Phoff: uint64(ehsize), Shoff: shoff,
			Ehsize: uint16(ehsize), Phentsize: uint16(phentsize), Phnum: uint16(len(loads)),
			Shentsize: uint16(shentsize), Shnum: shnum, Shstrndx: shnum - 1,
		})
		for _, s := range loads {
			write(elf.Prog64{
				Type: uint32(elf.PT_LOAD), Flags: uint32(progFlags(s)), Off: s.Addr - e.Base,
				Vaddr: s.Addr, Paddr: s.Addr, Filesz: uint64(len(s.Data)),
				Memsz: uint64(len(s.Data)) + s.BSS, Align: 0x1000,
			})
		}
	} else {
		write(elf.Header32{
			Ident: ident, Type: uint16(elf.ET_EXEC), Machine: uint16(e.Arch.Machine),
			Version: uint32(elf.EV_CURRENT), Entry: uint32(sections[0].Addr), Phoff: uint32(ehsize), Shoff: uint32(shoff),
			Ehsize: uint16(ehsize), Phentsize: uint16(phentsize), Phnum: uint16(len(loads)),
			Shentsize: uint16(shentsize), Shnum: shnum, Shstrndx: shnum - 1,
		})
		for _, s := range loads {
			write(elf.Prog32{
				Type: uint32(elf.PT_LOAD), Flags: uint32(progFlags(s)), Off: uint32(s.Addr - e.Base),
				Vaddr: uint32(s.Addr), Paddr: uint32(s.Addr), Filesz: uint32(len(s.Data)),
				Memsz: uint32(uint64(len(s.Data)) + s.BSS), Align: 0x1000,
			})
		}
	}
	copy(buf, w.Bytes())

	w.Reset()
	if is64 {
		write(elf.Section64{})
	} else {
		write(elf.Section32{})
	}
	for i, s := range sections {
		typ, off, size := elf.SHT_PROGBITS, s.Addr-e.Base, uint64(len(s.Data))
		if len(s.Data) == 0 {
			typ, off, size = elf.SHT_NOBITS, 0, s.BSS
		}
		flags := elf.SHF_ALLOC | elf.SHF_WRITE
		if s.Exec {
			flags = elf.SHF_ALLOC | elf.SHF_EXECINSTR
		}
		if is64 {
			write(elf.Section64{Name: nameOff[i], Type: uint32(typ), Flags: uint64(flags), Addr: s.Addr, Off: off, Size: size, Addralign: 16})
		} else {
			write(elf.Section32{Name: nameOff[i], Type: uint32(typ), Flags: uint32(flags), Addr: uint32(s.Addr), Off: uint32(off), Size: uint32(size), Addralign: 16})
		}
	}
	if is64 {
		write(elf.Section64{Name: shstrName, Type: uint32(elf.SHT_STRTAB), Off: shstrOff, Size: uint64(len(shstrtab)), Addralign: 1})
	} else {
		write(elf.Section32{Name: shstrName, Type: uint32(elf.SHT_STRTAB), Off: uint32(shstrOff), Size: uint32(len(shstrtab)), Addralign: 1})
	}
	return append(buf, w.Bytes()...)
}

func progFlags(s Section) elf.ProgFlag {
	if s.Exec {
		return elf.PF_R | elf.PF_X
	}
	return elf.PF_R | elf.PF_W
}

// PE encodes the executable as a PE32+ (or PE32 for 4-byte addresses) image
// with file alignment equal to section alignment.
func (e Exe) PE(t testing.TB) []byte {
	t.Helper()
	sections := e.sorted()
	is64 := e.Arch.AddrSize == 8

	var machine uint16
	switch e.Arch.Machine {
	case elf.EM_X86_64:
		machine = pe.IMAGE_FILE_MACHINE_AMD64
	case elf.EM_386:
		machine = pe.IMAGE_FILE_MACHINE_I386
	case elf.EM_AARCH64:
		machine = pe.IMAGE_FILE_MACHINE_ARM64
	default:
		machine = pe.IMAGE_FILE_MACHINE_ARMNT
	}

	const peOffset = 0x40
	optSize := 224
	if is64 {
		optSize = 240
	}
	headers := peOffset + 4 + 20 + optSize + 40*len(sections)
	if headerLimit(sections, e.Base) < uint64(headers) {
		t.Fatalf("test executable base 0x%x leaves no room for PE headers", e.Base)
	}

	buf := e.body()
	if len(buf) < headers {
		buf = append(buf, make([]byte, headers-len(buf))...)
	}

	var sizeOfImage uint32
	for _, s := range sections {
		if end := uint32(s.Addr - e.Base + uint64(len(s.Data)) + s.BSS); end > sizeOfImage {
			sizeOfImage = end
		}
	}

	var w bytes.Buffer
	write := func(v any) {
		if err := binary.Write(&w, binary.LittleEndian, v); err != nil {
			t.Fatalf("failed to encode PE structure: %v", err)
		}
	}

	dos := make([]byte, peOffset)
	dos[0], dos[1] = 'M', 'Z'
	binary.LittleEndian.PutUint32(dos[0x3c:], peOffset)
	w.Write(dos)
	w.WriteString("PE\x00\x00")
	write(pe.FileHeader{
		Machine:              machine,
		NumberOfSections:     uint16(len(sections)),
		SizeOfOptionalHeader: uint16(optSize),
		Characteristics:      pe.IMAGE_FILE_EXECUTABLE_IMAGE,
	})
	if is64 {
		write(pe.OptionalHeader64{
			Magic: 0x20b, ImageBase: e.Base, SectionAlignment: 0x1000, FileAlignment: 0x1000,
			SizeOfImage: sizeOfImage, SizeOfHeaders: uint32(headers), NumberOfRvaAndSizes: 16,
		})
	} else {
		write(pe.OptionalHeader32{
			Magic: 0x10b, ImageBase: uint32(e.Base), SectionAlignment: 0x1000, FileAlignment: 0x1000,
			SizeOfImage: sizeOfImage, SizeOfHeaders: uint32(headers), NumberOfRvaAndSizes: 16,
		})
	}
	for _, s := range sections {
		var name [8]uint8
		copy(name[:], s.Name)
		sh := pe.SectionHeader32{
			Name:           name,
			VirtualSize:    uint32(uint64(len(s.Data)) + s.BSS),
			VirtualAddress: uint32(s.Addr - e.Base),
			SizeOfRawData:  uint32(len(s.Data)),
		}
		if len(s.Data) > 0 {
			sh.PointerToRawData = uint32(s.Addr - e.Base)
		}
		switch {
		case s.Exec:
			sh.Characteristics = pe.IMAGE_SCN_CNT_CODE | pe.IMAGE_SCN_MEM_EXECUTE | pe.IMAGE_SCN_MEM_READ
		case len(s.Data) == 0:
			sh.Characteristics = pe.IMAGE_SCN_CNT_UNINITIALIZED_DATA | pe.IMAGE_SCN_MEM_READ | pe.IMAGE_SCN_MEM_WRITE
		default:
			sh.Characteristics = pe.IMAGE_SCN_CNT_INITIALIZED_DATA | pe.IMAGE_SCN_MEM_READ | pe.IMAGE_SCN_MEM_WRITE
		}
		write(sh)
	}
	copy(buf, w.Bytes())
	return buf
}

func headerLimit(sections []Section, base uint64) uint64 {
	first := ^uint64(0)
	for _, s := range sections {
		if len(s.Data) > 0 && s.Addr-base < first {
			first = s.Addr - base
		}
	}
	return first
}

// WriteFile writes data into a file named name under a fresh temporary
// directory and returns its path.
func WriteFile(t testing.TB, name string, data []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("failed to write %s: %v", name, err)
	}
	return path
}
