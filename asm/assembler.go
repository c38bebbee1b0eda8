// Package asm implements the two-pass assembler: source text is
// normalized, symbols and sections are discovered while instruction
// and directive bytes are emitted in the same traversal, and a final
// backpatching phase resolves symbols that were still unknown at the
// point they were referenced.
package asm

import (
	"errors"
	"io"
	"log"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/hyp16dev/toolchain/isa"
	"github.com/hyp16dev/toolchain/obj"
)

const symbolPat = `[A-Za-z][A-Za-z_0-9]*`
const hexPat = `0[xX][0-9A-Fa-f]+`
const decPat = `-?[0-9]+`
const litOrSymPat = `(?:` + symbolPat + `|` + hexPat + `|` + decPat + `)`

var (
	reLabel         = regexp.MustCompile(`^(` + symbolPat + `):$`)
	reLabelWithInstr = regexp.MustCompile(`^(` + symbolPat + `):(.+)$`)
	reExtern        = regexp.MustCompile(`^\.extern (.+)$`)
	reGlobal        = regexp.MustCompile(`^\.global (.+)$`)
	reSection       = regexp.MustCompile(`^\.section (` + symbolPat + `)$`)
	reWord          = regexp.MustCompile(`^\.word (.+)$`)
	reSkip          = regexp.MustCompile(`^\.skip (.+)$`)
	reEnd           = regexp.MustCompile(`^\.end$`)

	reZeroOp = regexp.MustCompile(`^(halt|iret|ret)$`)
	reOneReg = regexp.MustCompile(`^(int|push|pop|not) (r[0-7]|psw)$`)
	reTwoReg = regexp.MustCompile(`^(xchg|add|sub|mul|div|cmp|and|or|xor|test|shl|shr) (r[0-7]|psw),(r[0-7]|psw)$`)
	reJump   = regexp.MustCompile(`^(call|jmp|jeq|jne|jgt) (.*)$`)
	reLdrStr = regexp.MustCompile(`^(ldr|str) (r[0-7]|psw),(.*)$`)

	reSymbolOnly = regexp.MustCompile(`^` + symbolPat + `$`)
	reLitOrSym   = regexp.MustCompile(`^(` + litOrSymPat + `)$`)
	reHex        = regexp.MustCompile(`^0[xX][0-9A-Fa-f]+$`)

	reJmpRegDir     = regexp.MustCompile(`^\*(r[0-7]|psw)$`)
	reJmpRegInd     = regexp.MustCompile(`^\*\[(r[0-7]|psw)\]$`)
	reJmpPCRel      = regexp.MustCompile(`^%(` + symbolPat + `)$`)
	reJmpRegIndDisp = regexp.MustCompile(`^\*\[(r[0-7]|psw) ([+-]) (` + litOrSymPat + `)\]$`)
	reJmpMemDir     = regexp.MustCompile(`^\*(` + litOrSymPat + `)$`)

	reLSRegDir     = regexp.MustCompile(`^(r[0-7]|psw)$`)
	reLSRegInd     = regexp.MustCompile(`^\[(r[0-7]|psw)\]$`)
	reLSImmed      = regexp.MustCompile(`^\$(` + litOrSymPat + `)$`)
	reLSPCRel      = reJmpPCRel
	reLSRegIndDisp = regexp.MustCompile(`^\[(r[0-7]|psw) ([+-]) (` + litOrSymPat + `)\]$`)
	reLSMemDir     = reLitOrSym
)

// forwardRef is a pending fixup for a symbol that had not yet been
// seen when its reference was emitted.
type forwardRef struct {
	section      string
	offset       uint32
	littleEndian bool
	op           byte // '+', '-', or 'R' (PC-relative)
	lineNo       int
	line         string
	symbol       string
}

// Assembler holds the state of one source-to-object translation. An
// Assembler is single-use: construct one with NewAssembler per input.
type Assembler struct {
	Verbose bool

	symbols       map[string]*obj.Symbol
	nextSymbolID  uint32
	sections      map[string]*obj.Section
	nextSectionID uint32

	currentSection string
	ended          bool

	currentLineNo   int
	currentLineText string

	forwardRefs []forwardRef
	relocations []obj.Relocation
	errs        []error
}

// NewAssembler creates an Assembler with the two reserved sections
// (UNDEF at id 0, ABS at id 1) and their auto-symbols already seeded.
func NewAssembler() *Assembler {
	a := &Assembler{
		symbols:  map[string]*obj.Symbol{},
		sections: map[string]*obj.Section{},
	}
	a.addSectionSymbol(obj.SectionUndef)
	a.addSectionSymbol(obj.SectionAbs)
	a.currentSection = ""
	return a
}

// Assemble runs the full pipeline — normalization, the combined
// discovery/emission pass, and backpatching — over r and returns the
// resulting object. If any line raised an error, assembly stops
// before producing an object and returns the joined set of errors.
func (a *Assembler) Assemble(r io.Reader) (*obj.Object, error) {
	lines, err := normalize(r)
	if err != nil {
		return nil, err
	}

	for _, nl := range lines {
		if a.ended {
			break
		}
		a.currentLineNo = nl.lineNo
		a.currentLineText = nl.text
		if a.Verbose {
			log.Printf("%v: %v", nl.lineNo, nl.text)
		}
		a.assembleLine(nl.text)
	}

	if a.Verbose {
		log.Printf("asm: backpatching %v forward reference(s)", len(a.forwardRefs))
	}
	a.backpatch()

	if len(a.errs) > 0 {
		return nil, errors.Join(a.errs...)
	}

	return a.object(), nil
}

func (a *Assembler) fail(err error) {
	if err == nil {
		return
	}
	a.errs = append(a.errs, ErrSyntax{LineNo: a.currentLineNo, Line: a.currentLineText, Err: err})
}

func (a *Assembler) lc() uint32 {
	if a.currentSection == "" {
		return 0
	}
	return a.sections[a.currentSection].Length()
}

func (a *Assembler) emit(b ...byte) {
	sec := a.sections[a.currentSection]
	sec.Data = append(sec.Data, b...)
}

func (a *Assembler) emitPayload16BE(v int32) {
	a.emit(byte(v>>8), byte(v))
}

func (a *Assembler) assembleLine(line string) {
	if m := reLabelWithInstr.FindStringSubmatch(line); m != nil {
		a.fail(a.addSymbol(m[1]))
		a.assembleLine(m[2])
		return
	}
	if m := reLabel.FindStringSubmatch(line); m != nil {
		a.fail(a.addSymbol(m[1]))
		return
	}
	if m := reExtern.FindStringSubmatch(line); m != nil {
		for _, sym := range strings.Split(m[1], ",") {
			a.fail(a.addExternSymbol(sym))
		}
		return
	}
	if m := reGlobal.FindStringSubmatch(line); m != nil {
		for _, sym := range strings.Split(m[1], ",") {
			a.fail(a.addGlobalSymbol(sym))
		}
		return
	}
	if m := reSection.FindStringSubmatch(line); m != nil {
		a.fail(a.addSectionSymbol(m[1]))
		return
	}
	if m := reWord.FindStringSubmatch(line); m != nil {
		for _, tok := range strings.Split(m[1], ",") {
			a.fail(a.processWordDirective(tok))
		}
		return
	}
	if m := reSkip.FindStringSubmatch(line); m != nil {
		a.fail(a.processSkipDirective(m[1]))
		return
	}
	if reEnd.MatchString(line) {
		a.ended = true
		return
	}
	a.fail(a.processCommand(line))
}

// addSymbol defines name as a label at the current location.
func (a *Assembler) addSymbol(name string) error {
	if a.currentSection == "" {
		return ErrNoCurrentSection
	}
	if sym, ok := a.symbols[name]; ok {
		if sym.Defined {
			return ErrSymbolDefined
		}
		if sym.Extern {
			return ErrSymbolImported
		}
		sym.Defined = true
		sym.Offset = int32(a.lc())
		sym.Section = a.currentSection
		return nil
	}
	a.symbols[name] = &obj.Symbol{
		ID:      a.nextSymbolID,
		Defined: true,
		Local:   true,
		Name:    name,
		Section: a.currentSection,
		Offset:  int32(a.lc()),
	}
	a.nextSymbolID++
	return nil
}

func (a *Assembler) addGlobalSymbol(name string) error {
	if sym, ok := a.symbols[name]; ok {
		if sym.Extern {
			return ErrSymbolExternConflict
		}
		sym.Local = false
		return nil
	}
	a.symbols[name] = &obj.Symbol{
		ID:      a.nextSymbolID,
		Section: obj.SectionUndef,
		Name:    name,
	}
	a.nextSymbolID++
	return nil
}

func (a *Assembler) addExternSymbol(name string) error {
	if sym, ok := a.symbols[name]; ok {
		if sym.Defined {
			return ErrSymbolDefined
		}
		sym.Extern = true
		return nil
	}
	a.symbols[name] = &obj.Symbol{
		ID:      a.nextSymbolID,
		Extern:  true,
		Section: obj.SectionUndef,
		Name:    name,
	}
	a.nextSymbolID++
	return nil
}

func (a *Assembler) addSectionSymbol(name string) error {
	a.currentSection = name
	a.sections[name] = &obj.Section{ID: a.nextSectionID, Name: name}
	a.nextSectionID++
	return a.addSymbol(name)
}

func (a *Assembler) processWordDirective(tok string) error {
	if a.currentSection == "" {
		return ErrNoCurrentSection
	}
	var fillValue int32
	if reSymbolOnly.MatchString(tok) {
		fillValue = a.absoluteAddressing(a.lc(), tok, true, '+')
	} else {
		v, err := parseLiteral(tok)
		if err != nil {
			return err
		}
		fillValue = v
	}
	a.emit(byte(fillValue), byte(fillValue>>8))
	return nil
}

func (a *Assembler) processSkipDirective(tok string) error {
	if a.currentSection == "" {
		return ErrNoCurrentSection
	}
	n, err := parseLiteral(tok)
	if err != nil {
		return err
	}
	if n < 0 {
		return ErrParseNumber(tok)
	}
	a.emit(make([]byte, n)...)
	return nil
}

func (a *Assembler) processCommand(line string) error {
	if a.currentSection == "" {
		return ErrNoCurrentSection
	}
	if m := reZeroOp.FindStringSubmatch(line); m != nil {
		switch m[1] {
		case "halt":
			a.emit(byte(isa.Halt))
		case "iret":
			a.emit(byte(isa.Iret))
		case "ret":
			a.emit(byte(isa.Ret))
		}
		return nil
	}
	if m := reOneReg.FindStringSubmatch(line); m != nil {
		return a.encodeOneReg(m[1], m[2])
	}
	if m := reTwoReg.FindStringSubmatch(line); m != nil {
		return a.encodeTwoReg(m[1], m[2], m[3])
	}
	if m := reJump.FindStringSubmatch(line); m != nil {
		return a.encodeJump(m[1], m[2])
	}
	if m := reLdrStr.FindStringSubmatch(line); m != nil {
		return a.encodeLdrStr(m[1], m[2], m[3])
	}
	return ErrCommandUnsupported
}

func (a *Assembler) encodeOneReg(cmd, rtok string) error {
	r := regIndex(rtok)
	switch cmd {
	case "int":
		a.emit(byte(isa.Int), byte(r<<4)|isa.Unused)
	case "not":
		a.emit(byte(isa.Not), byte(r<<4)|isa.Unused)
	case "push":
		a.emit(byte(isa.Str), byte(r<<4)|isa.SP, byte(isa.PreDecrement)<<4|byte(isa.RegInd))
	case "pop":
		a.emit(byte(isa.Ldr), byte(r<<4)|isa.SP, byte(isa.PostIncrement)<<4|byte(isa.RegInd))
	}
	return nil
}

func (a *Assembler) encodeTwoReg(cmd, rd, rs string) error {
	rdIdx, rsIdx := regIndex(rd), regIndex(rs)
	var op isa.Opcode
	switch cmd {
	case "xchg":
		op = isa.Xchg
	case "add":
		op = isa.Add
	case "sub":
		op = isa.Sub
	case "mul":
		op = isa.Mul
	case "div":
		op = isa.Div
	case "cmp":
		op = isa.Cmp
	case "and":
		op = isa.And
	case "or":
		op = isa.Or
	case "xor":
		op = isa.Xor
	case "test":
		op = isa.Test
	case "shl":
		op = isa.Shl
	case "shr":
		op = isa.Shr
	}
	a.emit(byte(op), byte(rdIdx<<4)|byte(rsIdx))
	return nil
}

func (a *Assembler) encodeJump(cmd, operand string) error {
	lc := a.lc()
	var op isa.Opcode
	switch cmd {
	case "call":
		op = isa.Call
	case "jmp":
		op = isa.Jmp
	case "jeq":
		op = isa.Jeq
	case "jne":
		op = isa.Jne
	case "jgt":
		op = isa.Jgt
	}
	a.emit(byte(op))

	if m := reJmpRegDir.FindStringSubmatch(operand); m != nil {
		a.emit(0xF0|byte(regIndex(m[1])), byte(isa.RegDir))
		return nil
	}
	if m := reJmpRegInd.FindStringSubmatch(operand); m != nil {
		a.emit(0xF0|byte(regIndex(m[1])), byte(isa.RegInd))
		return nil
	}
	if reLitOrSym.MatchString(operand) {
		a.emit(0xFF, byte(isa.Immed))
		v, err := a.resolveAbsolute(lc, operand)
		if err != nil {
			return err
		}
		a.emitPayload16BE(v)
		return nil
	}
	if m := reJmpPCRel.FindStringSubmatch(operand); m != nil {
		a.emit(0xF7, byte(isa.RegDirDisp))
		a.emitPayload16BE(a.relativeAddressing(lc, m[1]))
		return nil
	}
	if m := reJmpRegIndDisp.FindStringSubmatch(operand); m != nil {
		a.emit(0xF0|byte(regIndex(m[1])), byte(isa.RegIndDisp))
		v, err := a.resolveDisplacement(lc, m[2], m[3])
		if err != nil {
			return err
		}
		a.emitPayload16BE(v)
		return nil
	}
	if m := reJmpMemDir.FindStringSubmatch(operand); m != nil {
		a.emit(0xFF, byte(isa.MemDir))
		v, err := a.resolveAbsolute(lc, m[1])
		if err != nil {
			return err
		}
		a.emitPayload16BE(v)
		return nil
	}
	return ErrAddressingUnsupported
}

func (a *Assembler) encodeLdrStr(cmd, rdtok, operand string) error {
	lc := a.lc()
	rdIdx := regIndex(rdtok)
	var op isa.Opcode
	if cmd == "ldr" {
		op = isa.Ldr
	} else {
		op = isa.Str
	}
	a.emit(byte(op))

	if m := reLSRegDir.FindStringSubmatch(operand); m != nil {
		a.emit(byte(regIndex(m[1]))|byte(rdIdx<<4), byte(isa.RegDir))
		return nil
	}
	if m := reLSRegInd.FindStringSubmatch(operand); m != nil {
		a.emit(byte(regIndex(m[1]))|byte(rdIdx<<4), byte(isa.RegInd))
		return nil
	}
	if m := reLSImmed.FindStringSubmatch(operand); m != nil {
		a.emit(byte(rdIdx<<4)|isa.Unused, byte(isa.Immed))
		v, err := a.resolveAbsolute(lc, m[1])
		if err != nil {
			return err
		}
		a.emitPayload16BE(v)
		return nil
	}
	if m := reLSPCRel.FindStringSubmatch(operand); m != nil {
		a.emit(byte(rdIdx<<4)|isa.PC, byte(isa.RegIndDisp))
		a.emitPayload16BE(a.relativeAddressing(lc, m[1]))
		return nil
	}
	if m := reLSRegIndDisp.FindStringSubmatch(operand); m != nil {
		a.emit(byte(regIndex(m[1]))|byte(rdIdx<<4), byte(isa.RegIndDisp))
		v, err := a.resolveDisplacement(lc, m[2], m[3])
		if err != nil {
			return err
		}
		a.emitPayload16BE(v)
		return nil
	}
	if m := reLSMemDir.FindStringSubmatch(operand); m != nil {
		a.emit(byte(rdIdx<<4)|isa.Unused, byte(isa.MemDir))
		v, err := a.resolveAbsolute(lc, m[1])
		if err != nil {
			return err
		}
		a.emitPayload16BE(v)
		return nil
	}
	return ErrAddressingUnsupported
}

func (a *Assembler) resolveAbsolute(lc uint32, tok string) (int32, error) {
	if reSymbolOnly.MatchString(tok) {
		return a.absoluteAddressing(lc, tok, false, '+'), nil
	}
	return parseLiteral(tok)
}

func (a *Assembler) resolveDisplacement(lc uint32, opChar, tok string) (int32, error) {
	if reSymbolOnly.MatchString(tok) {
		return a.absoluteAddressing(lc, tok, false, opChar[0]), nil
	}
	v, err := parseLiteral(tok)
	if err != nil {
		return 0, err
	}
	if opChar == "-" {
		v = -v
	}
	return v, nil
}

// absoluteAddressing resolves a symbol referenced absolutely at lc. If
// the symbol is already known, it returns the value to leave in the
// address field and (unless the symbol is ABS) records a relocation.
// If the symbol is unknown, it records a forward reference and
// returns 0. Mirrors the original implementation's asymmetric
// placeholder convention: op is stored for later use at backpatch time
// and is not applied to the value returned here.
func (a *Assembler) absoluteAddressing(lc uint32, symbolName string, littleEndian bool, op byte) int32 {
	if sym, ok := a.symbols[symbolName]; ok {
		if sym.Section == obj.SectionAbs {
			return sym.Offset
		}

		offset := lc
		typ := obj.AbsoluteLE
		if !littleEndian {
			offset = lc + 4
			typ = obj.AbsoluteBE
		}
		relSymbol := sym.Section
		if !sym.Local || sym.Extern {
			relSymbol = sym.Name
		}
		a.relocations = append(a.relocations, obj.Relocation{Section: a.currentSection, Offset: offset, Type: typ, Symbol: relSymbol})

		if !sym.Local || sym.Extern {
			return 0
		}
		return sym.Offset
	}

	offset := lc
	if !littleEndian {
		offset = lc + 3
	}
	a.forwardRefs = append(a.forwardRefs, forwardRef{
		section:      a.currentSection,
		offset:       offset,
		littleEndian: littleEndian,
		op:           op,
		lineNo:       a.currentLineNo,
		line:         a.currentLineText,
		symbol:       symbolName,
	})
	return 0
}

// relativeAddressing resolves a PC-relative symbol reference at lc.
func (a *Assembler) relativeAddressing(lc uint32, symbolName string) int32 {
	if sym, ok := a.symbols[symbolName]; ok {
		if sym.Section == obj.SectionAbs {
			return sym.Offset - 2
		}
		if sym.Defined && sym.Section == a.currentSection {
			return sym.Offset - int32(lc+3) - 2
		}

		relSymbol := sym.Section
		if !sym.Local || sym.Extern {
			relSymbol = sym.Name
		}
		a.relocations = append(a.relocations, obj.Relocation{Section: a.currentSection, Offset: lc + 4, Type: obj.PcRelativeBE, Symbol: relSymbol})

		if !sym.Local || sym.Extern {
			return -2
		}
		return sym.Offset - 2
	}

	a.forwardRefs = append(a.forwardRefs, forwardRef{
		section:      a.currentSection,
		offset:       lc + 3,
		littleEndian: false,
		op:           'R',
		lineNo:       a.currentLineNo,
		line:         a.currentLineText,
		symbol:       symbolName,
	})
	return 0
}

// backpatch resolves every forward reference recorded during the
// pass. A reference whose symbol is still missing is a fatal
// UnresolvedSymbol error.
func (a *Assembler) backpatch() {
	for _, ref := range a.forwardRefs {
		sym, ok := a.symbols[ref.symbol]
		if !ok {
			a.errs = append(a.errs, ErrSyntax{LineNo: ref.lineNo, Line: ref.line, Err: ErrUnresolvedSymbol})
			continue
		}
		_ = sym

		a.currentSection = ref.section

		var fillValue int32
		if ref.op == 'R' {
			lc := ref.offset - 3
			fillValue = a.relativeAddressing(lc, ref.symbol)
		} else {
			var lc uint32
			if ref.littleEndian {
				lc = ref.offset
			} else {
				lc = ref.offset - 3
			}
			fillValue = a.absoluteAddressing(lc, ref.symbol, ref.littleEndian, ref.op)
			if ref.op == '-' {
				fillValue = -fillValue
			}
		}

		data := a.sections[ref.section].Data
		if ref.littleEndian {
			data[ref.offset] = byte(fillValue)
			data[ref.offset+1] = byte(fillValue >> 8)
		} else {
			data[ref.offset] = byte(fillValue >> 8)
			data[ref.offset+1] = byte(fillValue)
		}
	}
}

func (a *Assembler) object() *obj.Object {
	o := &obj.Object{}
	for _, sec := range a.sections {
		o.Sections = append(o.Sections, *sec)
	}
	sort.Slice(o.Sections, func(i, j int) bool { return o.Sections[i].ID < o.Sections[j].ID })

	for _, sym := range a.symbols {
		o.Symbols = append(o.Symbols, *sym)
	}
	sort.Slice(o.Symbols, func(i, j int) bool { return o.Symbols[i].ID < o.Symbols[j].ID })

	o.Relocations = append(o.Relocations, a.relocations...)
	return o
}

func regIndex(tok string) int {
	if tok == "psw" {
		return isa.PSW
	}
	return int(tok[1] - '0')
}

func parseLiteral(tok string) (int32, error) {
	if reHex.MatchString(tok) {
		v, err := strconv.ParseInt(tok[2:], 16, 32)
		if err != nil {
			return 0, ErrParseNumber(tok)
		}
		return int32(v), nil
	}
	v, err := strconv.ParseInt(tok, 10, 32)
	if err != nil {
		return 0, ErrParseNumber(tok)
	}
	return int32(v), nil
}
