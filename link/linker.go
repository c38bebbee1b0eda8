// Package link implements the linker: it aggregates the relocatable
// object modules produced by the assembler into a single executable
// program image, resolving cross-module symbol references and
// applying every relocation along the way.
package link

import (
	"errors"
	"log"
	"sort"

	"github.com/hyp16dev/toolchain/image"
	"github.com/hyp16dev/toolchain/isa"
	"github.com/hyp16dev/toolchain/obj"
)

// Linker accumulates input modules and produces one linked image.
// Like Assembler, a Linker is single-use: construct one with
// NewLinker per output.
type Linker struct {
	Verbose bool

	sections      map[string]*obj.Section
	nextSectionID uint32
	autoSymbol    map[string]bool // symbol names that are a section's own auto-symbol

	symbols      map[string]*obj.Symbol
	nextSymbolID uint32
	originFile   map[string]string // symbol name -> module that defined it

	pending map[string]bool // names referenced as global/extern but not yet known to be defined

	relocations []obj.Relocation

	// contribution[file][section] is, until setSectionsBaseAddress
	// runs, the offset within the aggregate section's data at which
	// that file's contribution begins; after it runs, the same value
	// shifted to an absolute load address.
	contribution map[string]map[string]uint32

	errs []error
}

// NewLinker creates a Linker with the two reserved sections (UNDEF at
// id 0, ABS at id 1) already seeded.
func NewLinker() *Linker {
	l := &Linker{
		sections:     map[string]*obj.Section{},
		symbols:      map[string]*obj.Symbol{},
		autoSymbol:   map[string]bool{},
		originFile:   map[string]string{},
		pending:      map[string]bool{},
		contribution: map[string]map[string]uint32{},
	}
	l.addOutputSection("", &obj.Section{ID: obj.IDUndef, Name: obj.SectionUndef})
	l.addOutputSection("", &obj.Section{ID: obj.IDAbs, Name: obj.SectionAbs})
	return l
}

// AddModule intakes one assembled object module, tagging every record
// it contributes with file for diagnostics and for later relocation
// offset translation.
func (l *Linker) AddModule(file string, o *obj.Object) {
	if l.Verbose {
		log.Printf("link: %v: %v section(s), %v symbol(s), %v relocation(s)", file, len(o.Sections), len(o.Symbols), len(o.Relocations))
	}
	for i := range o.Sections {
		l.addOutputSection(file, &o.Sections[i])
	}
	for i := range o.Symbols {
		l.addOutputSymbol(file, &o.Symbols[i])
	}
	for i := range o.Relocations {
		rel := o.Relocations[i]
		rel.File = file
		l.relocations = append(l.relocations, rel)
	}
}

func (l *Linker) addOutputSection(file string, in *obj.Section) {
	sec, exists := l.sections[in.Name]
	if !exists {
		id := l.nextSectionID
		switch in.Name {
		case obj.SectionUndef:
			id = obj.IDUndef
		case obj.SectionAbs:
			id = obj.IDAbs
		}
		sec = &obj.Section{ID: id, Name: in.Name}
		l.sections[in.Name] = sec
		if id >= l.nextSectionID {
			l.nextSectionID = id + 1
		}
		l.autoSymbol[in.Name] = true
		l.symbols[in.Name] = &obj.Symbol{ID: l.nextSymbolID, Name: in.Name, Section: in.Name, Defined: true, Local: true}
		l.originFile[in.Name] = file
		l.nextSymbolID++
	}

	if file == "" {
		return
	}

	base := sec.Length()
	if l.contribution[file] == nil {
		l.contribution[file] = map[string]uint32{}
	}
	l.contribution[file][in.Name] = base
	sec.Data = append(sec.Data, in.Data...)
}

func (l *Linker) addOutputSymbol(file string, sym *obj.Symbol) {
	if l.autoSymbol[sym.Name] && sym.Name == sym.Section {
		return
	}
	if sym.Extern || !sym.Defined {
		l.pending[sym.Name] = true
		return
	}

	if _, exists := l.symbols[sym.Name]; exists {
		l.errs = append(l.errs, ErrInFile{File: file, Err: ErrMultipleDefinitions(sym.Name)})
		return
	}

	l.symbols[sym.Name] = &obj.Symbol{
		ID:      l.nextSymbolID,
		Offset:  sym.Offset,
		Defined: true,
		Local:   sym.Local,
		Section: sym.Section,
		Name:    sym.Name,
	}
	l.nextSymbolID++
	l.originFile[sym.Name] = file
	delete(l.pending, sym.Name)
}

// Link resolves every pending symbol, assigns section base addresses,
// applies relocations, and returns the resulting image. If any module
// raised an error, linking stops before producing an image.
func (l *Linker) Link() (*image.Image, error) {
	for name := range l.pending {
		if _, ok := l.symbols[name]; !ok {
			l.errs = append(l.errs, ErrUnresolvedDefinition(name))
		}
	}
	if len(l.errs) > 0 {
		return nil, errors.Join(l.errs...)
	}

	if err := l.setSectionsBaseAddress(); err != nil {
		return nil, err
	}

	if err := l.resolveRelocations(); err != nil {
		return nil, err
	}

	return l.buildImage(), nil
}

func (l *Linker) orderedSections() []*obj.Section {
	secs := make([]*obj.Section, 0, len(l.sections))
	for _, s := range l.sections {
		secs = append(secs, s)
	}
	sort.Slice(secs, func(i, j int) bool { return secs[i].ID < secs[j].ID })
	return secs
}

func (l *Linker) setSectionsBaseAddress() error {
	var cursor uint32
	for _, sec := range l.orderedSections() {
		if sec.Name == obj.SectionUndef || sec.Name == obj.SectionAbs {
			continue
		}

		sec.BaseAddress = cursor
		end := cursor + sec.Length()
		if sec.Length() > 0 && end > isa.MMIOBase {
			return ErrSectionOverlap(sec.Name)
		}
		if l.Verbose {
			log.Printf("link: section %v based at 0x%04x, length %v", sec.Name, sec.BaseAddress, sec.Length())
		}
		cursor = end

		for file, bases := range l.contribution {
			if base, ok := bases[sec.Name]; ok {
				l.contribution[file][sec.Name] = base + sec.BaseAddress
			}
		}
	}

	for name, sym := range l.symbols {
		if sym.Section == obj.SectionAbs {
			continue
		}
		if l.autoSymbol[name] && name == sym.Section {
			sym.Offset = int32(l.sections[sym.Section].BaseAddress)
			continue
		}
		sym.Offset += int32(l.contribution[l.originFile[name]][sym.Section])
	}

	return nil
}

func (l *Linker) resolveRelocations() error {
	keep := make([]obj.Relocation, 0, len(l.relocations))

	for _, r := range l.relocations {
		sec := l.sections[r.Section]
		base := l.contribution[r.File][r.Section]
		offset := r.Offset + base - sec.BaseAddress

		var patchingPlaceAddition int32
		var patchingPlaceAddress int32
		discard := false

		if otherSec, isSection := l.sections[r.Symbol]; isSection {
			patchingPlaceAddition = int32(l.contribution[r.File][r.Symbol])
			if r.Type.PCRelative() && otherSec.Name == r.Section {
				discard = true
			}
		} else if sym, ok := l.symbols[r.Symbol]; ok {
			patchingPlaceAddition = sym.Offset
			if r.Type.PCRelative() && sym.Section == r.Section {
				discard = true
			}
		}

		if r.Type.PCRelative() {
			var fieldStart uint32
			if r.Type.LittleEndian() {
				fieldStart = offset
			} else {
				fieldStart = offset - 1
			}
			patchingPlaceAddress = int32(fieldStart + sec.BaseAddress)
		}

		lo := int(offset)
		hi := lo + 1
		if !r.Type.LittleEndian() {
			hi = lo - 1
		}

		lByte, hByte := sec.Data[lo], sec.Data[hi]
		finalValue := int32(uint16(lByte)|uint16(hByte)<<8) + patchingPlaceAddition - patchingPlaceAddress

		sec.Data[lo] = byte(finalValue)
		sec.Data[hi] = byte(finalValue >> 8)

		if !discard {
			keep = append(keep, r)
		}
	}

	l.relocations = keep
	return nil
}

func (l *Linker) buildImage() *image.Image {
	img := &image.Image{}
	for _, sec := range l.orderedSections() {
		if sec.Name == obj.SectionUndef || sec.Name == obj.SectionAbs {
			continue
		}
		img.Segments = append(img.Segments, image.Segment{Data: sec.Data, BaseAddress: sec.BaseAddress})
	}
	return img
}
