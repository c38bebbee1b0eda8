// Package image defines the executable program image produced by the
// linker and consumed by the emulator: a flat list of byte segments,
// each tagged with the absolute memory address it loads at.
package image

import (
	"bytes"
	"encoding/binary"
	"io"
)

// Segment is one contiguous range of program bytes and the address it
// is loaded at.
type Segment struct {
	Data        []byte
	BaseAddress uint32
}

// Image is a complete executable program: every user section the
// linker produced, in ascending id order, with UNDEF and ABS already
// excluded since they carry no content.
type Image struct {
	Segments []Segment
}

// Encode writes img in the program-image wire format: a segment count
// followed by, per segment, its length, its bytes, and its base
// address.
func Encode(w io.Writer, img *Image) (err error) {
	var buf bytes.Buffer

	if err = binary.Write(&buf, binary.LittleEndian, uint32(len(img.Segments))); err != nil {
		return
	}
	for _, seg := range img.Segments {
		if err = binary.Write(&buf, binary.LittleEndian, uint32(len(seg.Data))); err != nil {
			return
		}
		if _, err = buf.Write(seg.Data); err != nil {
			return
		}
		if err = binary.Write(&buf, binary.LittleEndian, seg.BaseAddress); err != nil {
			return
		}
	}

	_, err = w.Write(buf.Bytes())
	return
}

// Decode reads an Image previously written by Encode.
func Decode(r io.Reader) (img *Image, err error) {
	img = &Image{}

	var nSegments uint32
	if err = binary.Read(r, binary.LittleEndian, &nSegments); err != nil {
		return nil, err
	}
	img.Segments = make([]Segment, 0, nSegments)
	for i := uint32(0); i < nSegments; i++ {
		var seg Segment
		var dataLen uint32
		if err = binary.Read(r, binary.LittleEndian, &dataLen); err != nil {
			return nil, err
		}
		seg.Data = make([]byte, dataLen)
		if _, err = io.ReadFull(r, seg.Data); err != nil {
			return nil, err
		}
		if err = binary.Read(r, binary.LittleEndian, &seg.BaseAddress); err != nil {
			return nil, err
		}
		img.Segments = append(img.Segments, seg)
	}

	return img, nil
}
