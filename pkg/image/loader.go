package image

import (
	"bytes"
	"debug/elf"
	"debug/macho"
	"debug/pe"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/coral-mesh/zoltan/internal/errors"
	"github.com/coral-mesh/zoltan/internal/safe"
)

// MaxImageSize is the largest executable Open accepts.
const MaxImageSize = 2 << 30

// Mach-O section attributes marking code.
const (
	machoPureInstructions = 0x80000000
	machoSomeInstructions = 0x00000400
	machoSectionTypeMask  = 0x000000ff
	machoZeroFill         = 0x1
	machoGBZeroFill       = 0xc
	machoThreadZeroFill   = 0x12
)

// Open loads the executable at path. The container format is detected from
// the file magic; PE, ELF and thin Mach-O files are supported.
func Open(path string, logger zerolog.Logger) (*Image, error) {
	data, err := safe.ReadFile(path, &safe.FileOptions{MaxSize: MaxImageSize, AllowSymlinks: true, Logger: logger})
	if err != nil {
		return nil, fmt.Errorf("failed to read executable %s: %w", path, err)
	}

	img, err := Parse(data, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to parse executable %s: %w", path, err)
	}
	img.Path = path

	logger.Info().
		Str("path", path).
		Str("format", string(img.Format)).
		Str("arch", img.Arch.Name).
		Str("base", fmt.Sprintf("0x%X", img.Base)).
		Int("sections", len(img.sections)).
		Msg("Loaded executable image")

	return img, nil
}

// Parse builds an image from in-memory executable bytes.
func Parse(data []byte, logger zerolog.Logger) (*Image, error) {
	switch {
	case bytes.HasPrefix(data, []byte("MZ")):
		return parsePE(data, logger)
	case bytes.HasPrefix(data, []byte(elf.ELFMAG)):
		return parseELF(data, logger)
	case isMachO(data):
		return parseMachO(data, logger)
	default:
		return nil, fmt.Errorf("unrecognized executable format")
	}
}

func isMachO(data []byte) bool {
	if len(data) < 4 {
		return false
	}
	magic := uint32(data[0]) | uint32(data[1])<<8 | uint32(data[2])<<16 | uint32(data[3])<<24
	return magic == macho.Magic32 || magic == macho.Magic64
}

func parsePE(data []byte, logger zerolog.Logger) (*Image, error) {
	f, err := pe.NewFile(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	defer errors.DeferClose(logger, f, "failed to close PE file")

	var arch Arch
	switch f.Machine {
	case pe.IMAGE_FILE_MACHINE_AMD64:
		arch = ArchAMD64
	case pe.IMAGE_FILE_MACHINE_I386:
		arch = Arch386
	case pe.IMAGE_FILE_MACHINE_ARM64:
		arch = ArchARM64
	case pe.IMAGE_FILE_MACHINE_ARMNT:
		arch = ArchARM
	default:
		return nil, fmt.Errorf("unsupported PE machine 0x%x", f.Machine)
	}

	var base uint64
	switch oh := f.OptionalHeader.(type) {
	case *pe.OptionalHeader64:
		base = oh.ImageBase
	case *pe.OptionalHeader32:
		base = uint64(oh.ImageBase)
	default:
		return nil, fmt.Errorf("PE file has no optional header")
	}

	sections := make([]Section, 0, len(f.Sections))
	for _, s := range f.Sections {
		size := uint64(s.VirtualSize)
		if size == 0 {
			size = uint64(s.Size)
		}
		fileSize := min(uint64(s.Size), size)
		sections = append(sections, Section{
			Name:     s.Name,
			Addr:     base + uint64(s.VirtualAddress),
			Size:     size,
			Offset:   uint64(s.Offset),
			FileSize: fileSize,
			Exec:     s.Characteristics&(pe.IMAGE_SCN_CNT_CODE|pe.IMAGE_SCN_MEM_EXECUTE) != 0,
		})
	}

	img, err := New(data, base, arch, sections)
	if err != nil {
		return nil, err
	}
	img.Format = FormatPE
	return img, nil
}

func parseELF(data []byte, logger zerolog.Logger) (*Image, error) {
	f, err := elf.NewFile(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	defer errors.DeferClose(logger, f, "failed to close ELF file")

	if f.Data != elf.ELFDATA2LSB {
		return nil, fmt.Errorf("big-endian ELF files are not supported")
	}

	var arch Arch
	switch f.Machine {
	case elf.EM_X86_64:
		arch = ArchAMD64
	case elf.EM_386:
		arch = Arch386
	case elf.EM_AARCH64:
		arch = ArchARM64
	case elf.EM_ARM:
		arch = ArchARM
	default:
		return nil, fmt.Errorf("unsupported ELF machine %s", f.Machine)
	}
	if f.Class == elf.ELFCLASS32 {
		arch.AddrSize = 4
	}

	// Preferred base is the lowest loadable segment, as the symbolizer does
	// for PIE binaries.
	var base uint64
	found := false
	for _, p := range f.Progs {
		if p.Type == elf.PT_LOAD && (!found || p.Vaddr-p.Off < base) {
			base = p.Vaddr - p.Off
			found = true
		}
	}

	var sections []Section
	for _, s := range f.Sections {
		if s.Flags&elf.SHF_ALLOC == 0 || s.Size == 0 {
			continue
		}
		// TLS templates overlap the sections that follow them.
		if s.Type == elf.SHT_NOBITS && s.Flags&elf.SHF_TLS != 0 {
			continue
		}
		fileSize := s.Size
		if s.Type == elf.SHT_NOBITS {
			fileSize = 0
		}
		sections = append(sections, Section{
			Name:     s.Name,
			Addr:     s.Addr,
			Size:     s.Size,
			Offset:   s.Offset,
			FileSize: fileSize,
			Exec:     s.Flags&elf.SHF_EXECINSTR != 0,
		})
	}

	img, err := New(data, base, arch, sections)
	if err != nil {
		return nil, err
	}
	img.Format = FormatELF
	return img, nil
}

func parseMachO(data []byte, logger zerolog.Logger) (*Image, error) {
	f, err := macho.NewFile(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	defer errors.DeferClose(logger, f, "failed to close Mach-O file")

	var arch Arch
	switch f.Cpu {
	case macho.CpuAmd64:
		arch = ArchAMD64
	case macho.Cpu386:
		arch = Arch386
	case macho.CpuArm64:
		arch = ArchARM64
	case macho.CpuArm:
		arch = ArchARM
	default:
		return nil, fmt.Errorf("unsupported Mach-O cpu %s", f.Cpu)
	}

	var base uint64
	if seg := f.Segment("__TEXT"); seg != nil {
		base = seg.Addr
	}

	var sections []Section
	for _, s := range f.Sections {
		if s.Size == 0 {
			continue
		}
		fileSize := s.Size
		switch s.Flags & machoSectionTypeMask {
		case machoZeroFill, machoGBZeroFill, machoThreadZeroFill:
			fileSize = 0
		}
		sections = append(sections, Section{
			Name:     s.Seg + "," + s.Name,
			Addr:     s.Addr,
			Size:     s.Size,
			Offset:   uint64(s.Offset),
			FileSize: fileSize,
			Exec:     s.Flags&(machoPureInstructions|machoSomeInstructions) != 0,
		})
	}

	img, err := New(data, base, arch, sections)
	if err != nil {
		return nil, err
	}
	img.Format = FormatMachO
	return img, nil
}
