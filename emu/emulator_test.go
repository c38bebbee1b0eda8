package emu

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hyp16dev/toolchain/asm"
	"github.com/hyp16dev/toolchain/image"
	"github.com/hyp16dev/toolchain/isa"
	"github.com/hyp16dev/toolchain/link"
)

// run assembles and links src as a single module, boots an Emulator
// with the result, and runs it to completion.
func run(t *testing.T, src string) *Emulator {
	t.Helper()

	o, err := asm.NewAssembler().Assemble(strings.NewReader(src))
	require.NoError(t, err)

	l := link.NewLinker()
	l.AddModule("main.s", o)
	img, err := l.Link()
	require.NoError(t, err)

	e := NewEmulator()
	require.NoError(t, e.Boot(img))
	require.NoError(t, e.Run())
	return e
}

func TestRunMinimalHalt(t *testing.T) {
	e := run(t, ".section text\nhalt\n.end\n")
	assert.True(t, e.Halted)
	assert.Equal(t, uint16(1), e.Reg[isa.PC])
}

func TestRunForwardReferenceAcrossLinking(t *testing.T) {
	e := run(t, ".section text\ncall target\nhalt\ntarget:\nret\n.end\n")
	assert.True(t, e.Halted)
}

func TestRunCrossSectionAbsoluteReference(t *testing.T) {
	e := run(t, ".section text\nldr r0,value\nhalt\n.section data\nvalue:\n.word 0x1234\n.end\n")
	assert.Equal(t, uint16(0x1234), e.Reg[0])
}

func TestRunStackDiscipline(t *testing.T) {
	e := run(t, ".section text\nldr r0,$5\npush r0\npop r1\nhalt\n.end\n")
	assert.Equal(t, uint16(5), e.Reg[0])
	assert.Equal(t, uint16(5), e.Reg[1])
	assert.Equal(t, uint16(isa.MMIOBase), e.Reg[isa.SP])
}

func TestRunCmpSetsFlags(t *testing.T) {
	e := run(t, ".section text\nldr r0,$3\nldr r1,$5\ncmp r0,r1\nhalt\n.end\n")
	psw := e.Reg[isa.PSW]
	assert.NotZero(t, psw&flagN, "3-5 is negative, N should be set")
	assert.NotZero(t, psw&flagC, "3<5, carry/borrow should be set")
	assert.Zero(t, psw&flagZ)
}

func TestRunMultipleDefinitionsIsFatal(t *testing.T) {
	o1, err := asm.NewAssembler().Assemble(strings.NewReader(".section text\n.global foo\nfoo:\nhalt\n.end\n"))
	require.NoError(t, err)
	o2, err := asm.NewAssembler().Assemble(strings.NewReader(".section text\n.global foo\nfoo:\nhalt\n.end\n"))
	require.NoError(t, err)

	l := link.NewLinker()
	l.AddModule("a.s", o1)
	l.AddModule("b.s", o2)
	_, err = l.Link()
	assert.Error(t, err)
}

func TestBootRejectsMMIOOverlap(t *testing.T) {
	e := NewEmulator()
	img := &image.Image{Segments: []image.Segment{{Data: make([]byte, 4), BaseAddress: isa.MMIOBase}}}
	err := e.Boot(img)
	assert.ErrorIs(t, err, ErrSegmentOverlap)
}

func TestDivideByZeroIsFatal(t *testing.T) {
	o, err := asm.NewAssembler().Assemble(strings.NewReader(".section text\nldr r0,$0\nldr r1,$1\ndiv r1,r0\nhalt\n.end\n"))
	require.NoError(t, err)

	l := link.NewLinker()
	l.AddModule("main.s", o)
	img, err := l.Link()
	require.NoError(t, err)

	e := NewEmulator()
	require.NoError(t, e.Boot(img))

	err = e.Run()
	assert.ErrorIs(t, err, ErrDivideByZero)
	var rt ErrRuntime
	require.ErrorAs(t, err, &rt)
}

func TestJumpFamilyConditions(t *testing.T) {
	e := run(t, ""+
		".section text\n"+
		"ldr r0,$1\n"+
		"ldr r1,$1\n"+
		"cmp r0,r1\n"+
		"jeq equal\n"+
		"halt\n"+
		"equal:\n"+
		"ldr r2,$42\n"+
		"halt\n"+
		".end\n")
	assert.Equal(t, uint16(42), e.Reg[2])
}

func TestShiftCarry(t *testing.T) {
	e := run(t, ".section text\nldr r0,$0x8000\nldr r1,$1\nshl r0,r1\nhalt\n.end\n")
	assert.Equal(t, uint16(0), e.Reg[0])
	assert.NotZero(t, e.Reg[isa.PSW]&flagC)
}

func TestWriteState(t *testing.T) {
	e := run(t, ".section text\nhalt\n.end\n")
	var sb strings.Builder
	require.NoError(t, e.WriteState(&sb))
	out := sb.String()
	assert.Contains(t, out, "Emulated processor executed halt instruction")
	assert.Contains(t, out, "Emulated processor state: psw=0b")
	assert.Contains(t, out, "r0=0x0000")
	assert.Contains(t, out, "r7=0x")
}
