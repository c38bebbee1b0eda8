package asm

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hyp16dev/toolchain/isa"
	"github.com/hyp16dev/toolchain/obj"
)

func assemble(t *testing.T, src string) *obj.Object {
	t.Helper()
	o, err := NewAssembler().Assemble(strings.NewReader(src))
	require.NoError(t, err)
	return o
}

func TestAssembleMinimalHalt(t *testing.T) {
	o := assemble(t, ".section text\nhalt\n.end\n")

	text := o.SectionByName("text")
	require.NotNil(t, text)
	assert.Equal(t, []byte{0x00}, text.Data)
}

func TestAssembleSkipZero(t *testing.T) {
	o := assemble(t, ".section text\n.skip 0\nhalt\n.end\n")

	text := o.SectionByName("text")
	require.NotNil(t, text)
	assert.Equal(t, []byte{0x00}, text.Data)
}

func TestAssembleWordLiteral(t *testing.T) {
	o := assemble(t, ".section data\n.word 0x7FFF,-32768\n.end\n")

	data := o.SectionByName("data")
	require.NotNil(t, data)
	assert.Equal(t, []byte{0xFF, 0x7F, 0x00, 0x80}, data.Data)
}

func TestAssemblePCRelativeSameSection(t *testing.T) {
	o := assemble(t, ".section text\nloop: jmp %loop\n.end\n")

	text := o.SectionByName("text")
	require.NotNil(t, text)
	// call/jmp PC-relative form: opcode, byte1=0xF7, byte2=mode(regdir_disp=5), payload.
	// loop's own offset is 0 (the instruction's own start); the payload must bring
	// the post-fetch PC (here, 5) back down to that offset: 0-5 = -5.
	assert.Equal(t, byte(isa.Jmp), text.Data[0])
	assert.Equal(t, int16(-5), int16(uint16(text.Data[3])<<8|uint16(text.Data[4])))
}

func TestAssembleForwardReference(t *testing.T) {
	o := assemble(t, ".section text\ncall target\nhalt\ntarget:\nret\n.end\n")

	text := o.SectionByName("text")
	require.NotNil(t, text)
	target := o.SymbolByName("target")
	require.NotNil(t, target)
	assert.True(t, target.Defined)

	payload := int32(uint16(text.Data[3])<<8 | uint16(text.Data[4]))
	assert.Equal(t, target.Offset, payload)
}

func TestAddSymbolRejectsRedefinition(t *testing.T) {
	a := NewAssembler()
	_, err := a.Assemble(strings.NewReader(".section text\nfoo:\nfoo:\n.end\n"))
	require.Error(t, err)
}

func TestAddSymbolRequiresSection(t *testing.T) {
	a := NewAssembler()
	_, err := a.Assemble(strings.NewReader("foo:\n.end\n"))
	require.Error(t, err)
}

func TestUnresolvedSymbolIsFatal(t *testing.T) {
	a := NewAssembler()
	_, err := a.Assemble(strings.NewReader(".section text\ncall nowhere\n.end\n"))
	require.Error(t, err)
}

func TestExternThenDefineConflicts(t *testing.T) {
	a := NewAssembler()
	_, err := a.Assemble(strings.NewReader(".extern foo\n.section text\nfoo:\n.end\n"))
	require.Error(t, err)
}

func TestGlobalLabelCrossSection(t *testing.T) {
	o := assemble(t, ".global entry\n.section text\nentry:\nhalt\n.end\n")
	entry := o.SymbolByName("entry")
	require.NotNil(t, entry)
	assert.False(t, entry.Local)
	assert.True(t, entry.Defined)
}

func TestObjectSectionsAndSymbolsAreIDOrdered(t *testing.T) {
	o := assemble(t, ".section a\nhalt\n.section b\nhalt\n.end\n")

	for i := 1; i < len(o.Sections); i++ {
		assert.LessOrEqual(t, o.Sections[i-1].ID, o.Sections[i].ID)
	}
	for i := 1; i < len(o.Symbols); i++ {
		assert.LessOrEqual(t, o.Symbols[i-1].ID, o.Symbols[i].ID)
	}
}
