package dwarfgen

import (
	"debug/dwarf"
	"encoding/binary"
)

// infoWriter encodes one compile unit of .debug_info. Type DIEs are
// addressed by slot; references to slots that are not yet placed are written
// as zero and patched once every DIE has an offset.
type infoWriter struct {
	buf      []byte
	abbrevs  *abbrevTable
	strs     *strTable
	addrSize int

	slots  []int
	fixups []fixup
}

type fixup struct {
	pos  int
	slot int
}

func newInfoWriter(abbrevs *abbrevTable, strs *strTable, addrSize, slots int) *infoWriter {
	w := &infoWriter{
		abbrevs:  abbrevs,
		strs:     strs,
		addrSize: addrSize,
		slots:    make([]int, slots),
	}
	for i := range w.slots {
		w.slots[i] = -1
	}
	// unit_length is patched in finish.
	w.buf = binary.LittleEndian.AppendUint32(w.buf, 0)
	w.buf = binary.LittleEndian.AppendUint16(w.buf, dwarfVersion)
	w.buf = binary.LittleEndian.AppendUint32(w.buf, 0) // debug_abbrev_offset
	w.buf = append(w.buf, byte(addrSize))
	return w
}

// dieBuilder collects the attributes of one DIE. Attribute data is buffered
// because the abbreviation code, written first, depends on the full
// attribute list.
type dieBuilder struct {
	w      *infoWriter
	abbrev abbrev
	data   []byte
	fixups []fixup
	slot   int
}

func (w *infoWriter) begin(tag dwarf.Tag, children bool) *dieBuilder {
	return &dieBuilder{w: w, abbrev: abbrev{tag: tag, children: children}, slot: -1}
}

// place records the DIE as the definition of slot.
func (d *dieBuilder) place(slot int) *dieBuilder {
	d.slot = slot
	return d
}

func (d *dieBuilder) add(attr dwarf.Attr, form uint8) {
	d.abbrev.attrs = append(d.abbrev.attrs, attrSpec{attr: attr, form: form})
}

func (d *dieBuilder) str(attr dwarf.Attr, s string) *dieBuilder {
	d.add(attr, formStrp)
	d.data = binary.LittleEndian.AppendUint32(d.data, d.w.strs.offset(s))
	return d
}

// name adds DW_AT_name unless s is empty.
func (d *dieBuilder) name(s string) *dieBuilder {
	if s == "" {
		return d
	}
	return d.str(dwarf.AttrName, s)
}

func (d *dieBuilder) udata(attr dwarf.Attr, v uint64) *dieBuilder {
	d.add(attr, formUdata)
	d.data = appendULEB(d.data, v)
	return d
}

func (d *dieBuilder) sdata(attr dwarf.Attr, v int64) *dieBuilder {
	d.add(attr, formSdata)
	d.data = appendSLEB(d.data, v)
	return d
}

func (d *dieBuilder) data1(attr dwarf.Attr, v uint8) *dieBuilder {
	d.add(attr, formData1)
	d.data = append(d.data, v)
	return d
}

func (d *dieBuilder) data2(attr dwarf.Attr, v uint16) *dieBuilder {
	d.add(attr, formData2)
	d.data = binary.LittleEndian.AppendUint16(d.data, v)
	return d
}

func (d *dieBuilder) flag(attr dwarf.Attr) *dieBuilder {
	d.add(attr, formFlagPresent)
	return d
}

func (d *dieBuilder) addr(attr dwarf.Attr, v uint64) *dieBuilder {
	d.add(attr, formAddr)
	d.data = d.w.appendAddr(d.data, v)
	return d
}

// ref adds a reference to the type DIE in slot. A negative slot means void
// and adds nothing.
func (d *dieBuilder) ref(attr dwarf.Attr, slot int) *dieBuilder {
	if slot < 0 {
		return d
	}
	d.add(attr, formRef4)
	d.fixups = append(d.fixups, fixup{pos: len(d.data), slot: slot})
	d.data = binary.LittleEndian.AppendUint32(d.data, 0)
	return d
}

// location adds a DW_OP_addr location expression.
func (d *dieBuilder) location(v uint64) *dieBuilder {
	d.add(dwarf.AttrLocation, formExprloc)
	expr := d.w.appendAddr([]byte{opAddr}, v)
	d.data = appendULEB(d.data, uint64(len(expr)))
	d.data = append(d.data, expr...)
	return d
}

// end encodes the DIE. DIEs declared with children must be followed by
// endChildren once their children are written.
func (d *dieBuilder) end() {
	w := d.w
	if d.slot >= 0 {
		w.slots[d.slot] = len(w.buf)
	}
	w.buf = appendULEB(w.buf, w.abbrevs.code(d.abbrev))
	base := len(w.buf)
	w.buf = append(w.buf, d.data...)
	for _, f := range d.fixups {
		w.fixups = append(w.fixups, fixup{pos: base + f.pos, slot: f.slot})
	}
}

func (w *infoWriter) endChildren() {
	w.buf = append(w.buf, 0)
}

func (w *infoWriter) appendAddr(b []byte, v uint64) []byte {
	if w.addrSize == 4 {
		return binary.LittleEndian.AppendUint32(b, uint32(v))
	}
	return binary.LittleEndian.AppendUint64(b, v)
}

// finish patches the unit length and every forward reference.
func (w *infoWriter) finish() ([]byte, error) {
	for _, f := range w.fixups {
		off := w.slots[f.slot]
		if off < 0 {
			return nil, &internalError{msg: "reference to a type that was never emitted"}
		}
		binary.LittleEndian.PutUint32(w.buf[f.pos:], uint32(off))
	}
	binary.LittleEndian.PutUint32(w.buf, uint32(len(w.buf)-4))
	return w.buf, nil
}

type internalError struct {
	msg string
}

func (e *internalError) Error() string {
	return "dwarfgen: " + e.msg
}
