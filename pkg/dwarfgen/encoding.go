package dwarfgen

import (
	"debug/dwarf"
	"encoding/binary"
	"strconv"
	"strings"
)

const dwarfVersion = 4

// Attribute forms. debug/dwarf does not export them.
const (
	formAddr        uint8 = 0x01
	formData1       uint8 = 0x0b
	formData2       uint8 = 0x05
	formSdata       uint8 = 0x0d
	formStrp        uint8 = 0x0e
	formUdata       uint8 = 0x0f
	formRef4        uint8 = 0x13
	formExprloc     uint8 = 0x18
	formFlagPresent uint8 = 0x19
)

// Base type encodings (DW_ATE_*).
const (
	ateBoolean      = 0x02
	ateFloat        = 0x04
	ateSigned       = 0x05
	ateSignedChar   = 0x06
	ateUnsigned     = 0x07
	ateUnsignedChar = 0x08
)

const (
	langC99 = 0x0c
	opAddr  = 0x03
)

func appendULEB(b []byte, v uint64) []byte {
	return binary.AppendUvarint(b, v)
}

func appendSLEB(b []byte, v int64) []byte {
	for {
		c := byte(v & 0x7f)
		v >>= 7
		if (v == 0 && c&0x40 == 0) || (v == -1 && c&0x40 != 0) {
			return append(b, c)
		}
		b = append(b, c|0x80)
	}
}

type attrSpec struct {
	attr dwarf.Attr
	form uint8
}

type abbrev struct {
	tag      dwarf.Tag
	children bool
	attrs    []attrSpec
}

func (a abbrev) key() string {
	var sb strings.Builder
	sb.WriteString(strconv.FormatUint(uint64(a.tag), 16))
	if a.children {
		sb.WriteByte('+')
	}
	for _, s := range a.attrs {
		sb.WriteByte(':')
		sb.WriteString(strconv.FormatUint(uint64(s.attr), 16))
		sb.WriteByte('/')
		sb.WriteString(strconv.FormatUint(uint64(s.form), 16))
	}
	return sb.String()
}

// abbrevTable assigns codes to distinct abbreviations and encodes
// .debug_abbrev.
type abbrevTable struct {
	codes map[string]uint64
	buf   []byte
}

func newAbbrevTable() *abbrevTable {
	return &abbrevTable{codes: make(map[string]uint64)}
}

func (t *abbrevTable) code(a abbrev) uint64 {
	k := a.key()
	if c, ok := t.codes[k]; ok {
		return c
	}
	c := uint64(len(t.codes) + 1)
	t.codes[k] = c

	t.buf = appendULEB(t.buf, c)
	t.buf = appendULEB(t.buf, uint64(a.tag))
	if a.children {
		t.buf = append(t.buf, 1)
	} else {
		t.buf = append(t.buf, 0)
	}
	for _, s := range a.attrs {
		t.buf = appendULEB(t.buf, uint64(s.attr))
		t.buf = appendULEB(t.buf, uint64(s.form))
	}
	t.buf = append(t.buf, 0, 0)
	return c
}

func (t *abbrevTable) len() int {
	return len(t.codes)
}

func (t *abbrevTable) bytes() []byte {
	return append(append([]byte(nil), t.buf...), 0)
}

// strTable encodes .debug_str, storing each distinct string once.
type strTable struct {
	offsets map[string]uint32
	buf     []byte
}

func newStrTable() *strTable {
	return &strTable{offsets: make(map[string]uint32)}
}

func (t *strTable) offset(s string) uint32 {
	if off, ok := t.offsets[s]; ok {
		return off
	}
	off := uint32(len(t.buf))
	t.offsets[s] = off
	t.buf = append(append(t.buf, s...), 0)
	return off
}

func (t *strTable) bytes() []byte {
	return t.buf
}
