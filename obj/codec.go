package obj

import (
	"bytes"
	"encoding/binary"
	"io"
)

// Encode writes o to w in the on-disk object format: a section table
// ordered by ascending id, then a symbol table, then a relocation
// table, all integers little-endian fixed-width and all strings
// length-prefixed. This mirrors the binary.Write/bytes.Buffer idiom
// used elsewhere in the corpus for fixed binary record serialization.
func Encode(w io.Writer, o *Object) (err error) {
	var buf bytes.Buffer

	if err = binary.Write(&buf, binary.LittleEndian, uint32(len(o.Sections))); err != nil {
		return
	}
	for _, sec := range o.Sections {
		if err = binary.Write(&buf, binary.LittleEndian, sec.ID); err != nil {
			return
		}
		if err = binary.Write(&buf, binary.LittleEndian, sec.Length()); err != nil {
			return
		}
		if err = writeString(&buf, sec.Name); err != nil {
			return
		}
		if err = binary.Write(&buf, binary.LittleEndian, uint32(len(sec.Data))); err != nil {
			return
		}
		if _, err = buf.Write(sec.Data); err != nil {
			return
		}
	}

	if err = binary.Write(&buf, binary.LittleEndian, uint32(len(o.Symbols))); err != nil {
		return
	}
	for _, sym := range o.Symbols {
		if err = binary.Write(&buf, binary.LittleEndian, sym.ID); err != nil {
			return
		}
		if err = binary.Write(&buf, binary.LittleEndian, sym.Offset); err != nil {
			return
		}
		if err = buf.WriteByte(boolByte(sym.Defined)); err != nil {
			return
		}
		if err = buf.WriteByte(boolByte(sym.Local)); err != nil {
			return
		}
		if err = buf.WriteByte(boolByte(sym.Extern)); err != nil {
			return
		}
		if err = writeString(&buf, sym.Section); err != nil {
			return
		}
		if err = writeString(&buf, sym.Name); err != nil {
			return
		}
	}

	if err = binary.Write(&buf, binary.LittleEndian, uint32(len(o.Relocations))); err != nil {
		return
	}
	for _, rel := range o.Relocations {
		if err = writeString(&buf, rel.Section); err != nil {
			return
		}
		if err = binary.Write(&buf, binary.LittleEndian, rel.Offset); err != nil {
			return
		}
		if err = writeString(&buf, rel.Type.String()); err != nil {
			return
		}
		if err = writeString(&buf, rel.Symbol); err != nil {
			return
		}
	}

	_, err = w.Write(buf.Bytes())
	return
}

// Decode reads an Object previously written by Encode.
func Decode(r io.Reader) (o *Object, err error) {
	o = &Object{}

	var nSections uint32
	if err = binary.Read(r, binary.LittleEndian, &nSections); err != nil {
		return nil, err
	}
	o.Sections = make([]Section, 0, nSections)
	for i := uint32(0); i < nSections; i++ {
		var sec Section
		if err = binary.Read(r, binary.LittleEndian, &sec.ID); err != nil {
			return nil, err
		}
		var length uint32
		if err = binary.Read(r, binary.LittleEndian, &length); err != nil {
			return nil, err
		}
		if sec.Name, err = readString(r); err != nil {
			return nil, err
		}
		var dataLen uint32
		if err = binary.Read(r, binary.LittleEndian, &dataLen); err != nil {
			return nil, err
		}
		if dataLen > 0 {
			sec.Data = make([]byte, dataLen)
			if _, err = io.ReadFull(r, sec.Data); err != nil {
				return nil, err
			}
		}
		_ = length // length == len(sec.Data); carried for wire compatibility only
		o.Sections = append(o.Sections, sec)
	}

	var nSymbols uint32
	if err = binary.Read(r, binary.LittleEndian, &nSymbols); err != nil {
		return nil, err
	}
	o.Symbols = make([]Symbol, 0, nSymbols)
	for i := uint32(0); i < nSymbols; i++ {
		var sym Symbol
		if err = binary.Read(r, binary.LittleEndian, &sym.ID); err != nil {
			return nil, err
		}
		if err = binary.Read(r, binary.LittleEndian, &sym.Offset); err != nil {
			return nil, err
		}
		var definedByte, localByte, externByte byte
		if definedByte, err = readByte(r); err != nil {
			return nil, err
		}
		if localByte, err = readByte(r); err != nil {
			return nil, err
		}
		if externByte, err = readByte(r); err != nil {
			return nil, err
		}
		sym.Defined = definedByte != 0
		sym.Local = localByte != 0
		sym.Extern = externByte != 0
		if sym.Section, err = readString(r); err != nil {
			return nil, err
		}
		if sym.Name, err = readString(r); err != nil {
			return nil, err
		}
		o.Symbols = append(o.Symbols, sym)
	}

	var nRelocs uint32
	if err = binary.Read(r, binary.LittleEndian, &nRelocs); err != nil {
		return nil, err
	}
	o.Relocations = make([]Relocation, 0, nRelocs)
	for i := uint32(0); i < nRelocs; i++ {
		var rel Relocation
		if rel.Section, err = readString(r); err != nil {
			return nil, err
		}
		if err = binary.Read(r, binary.LittleEndian, &rel.Offset); err != nil {
			return nil, err
		}
		var typeTag string
		if typeTag, err = readString(r); err != nil {
			return nil, err
		}
		typ, ok := ParseRelocType(typeTag)
		if !ok {
			return nil, ErrRelocType(typeTag)
		}
		rel.Type = typ
		if rel.Symbol, err = readString(r); err != nil {
			return nil, err
		}
		o.Relocations = append(o.Relocations, rel)
	}

	return o, nil
}

func writeString(buf *bytes.Buffer, s string) (err error) {
	if err = binary.Write(buf, binary.LittleEndian, uint32(len(s))); err != nil {
		return
	}
	_, err = buf.WriteString(s)
	return
}

func readString(r io.Reader) (s string, err error) {
	var length uint32
	if err = binary.Read(r, binary.LittleEndian, &length); err != nil {
		return
	}
	data := make([]byte, length)
	if _, err = io.ReadFull(r, data); err != nil {
		return
	}
	return string(data), nil
}

func readByte(r io.Reader) (b byte, err error) {
	var buf [1]byte
	_, err = io.ReadFull(r, buf[:])
	return buf[0], err
}

func boolByte(b bool) byte {
	if b {
		return 1
	}
	return 0
}
