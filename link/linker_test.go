package link

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hyp16dev/toolchain/asm"
	"github.com/hyp16dev/toolchain/isa"
	"github.com/hyp16dev/toolchain/obj"
)

func assembleModule(t *testing.T, src string) *obj.Object {
	t.Helper()
	o, err := asm.NewAssembler().Assemble(strings.NewReader(src))
	require.NoError(t, err)
	return o
}

func TestLinkSingleModuleAssignsBaseZero(t *testing.T) {
	o := assembleModule(t, ".section text\nhalt\n.end\n")

	l := NewLinker()
	l.AddModule("a.s", o)
	img, err := l.Link()
	require.NoError(t, err)

	require.Len(t, img.Segments, 1)
	assert.Equal(t, uint32(0), img.Segments[0].BaseAddress)
	assert.Equal(t, []byte{0x00}, img.Segments[0].Data)
}

func TestLinkAggregatesSameSectionAcrossModules(t *testing.T) {
	a := assembleModule(t, ".section text\nhalt\n.end\n")
	b := assembleModule(t, ".section text\nret\n.end\n")

	l := NewLinker()
	l.AddModule("a.s", a)
	l.AddModule("b.s", b)
	img, err := l.Link()
	require.NoError(t, err)

	require.Len(t, img.Segments, 1)
	assert.Equal(t, []byte{0x00, byte(isa.Ret)}, img.Segments[0].Data)
}

func TestLinkResolvesCrossModuleAbsoluteReference(t *testing.T) {
	defMod := assembleModule(t, ".section data\n.global x\n.skip 4\nx:\n.word 0\n.end\n")
	refMod := assembleModule(t, ".extern x\n.section text\nldr r0,x\nhalt\n.end\n")

	l := NewLinker()
	l.AddModule("def.s", defMod)
	l.AddModule("ref.s", refMod)
	img, err := l.Link()
	require.NoError(t, err)

	var text []byte
	var dataBase uint32
	require.Len(t, img.Segments, 2)
	for _, seg := range img.Segments {
		if len(seg.Data) > 0 && seg.Data[0] == byte(isa.Ldr) {
			text = seg.Data
		} else {
			dataBase = seg.BaseAddress
		}
	}
	require.NotNil(t, text)

	payload := uint32(text[3])<<8 | uint32(text[4])
	assert.Equal(t, dataBase+4, payload)
}

func TestLinkMultipleDefinitionsFails(t *testing.T) {
	a := assembleModule(t, ".section text\n.global foo\nfoo:\n.word 0\n.end\n")
	b := assembleModule(t, ".section text\n.global foo\nfoo:\n.word 0\n.end\n")

	l := NewLinker()
	l.AddModule("a.s", a)
	l.AddModule("b.s", b)
	_, err := l.Link()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "foo")
}

func TestLinkUnresolvedExternFails(t *testing.T) {
	o := assembleModule(t, ".extern missing\n.section text\nhalt\n.end\n")

	l := NewLinker()
	l.AddModule("a.s", o)
	_, err := l.Link()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing")
}

func TestLinkSectionOverlapWithMMIO(t *testing.T) {
	big := ".section text\n.skip " + "65280" + "\nhalt\n.end\n" // skip + halt ends one byte past 0xFF00
	o := assembleModule(t, big)

	l := NewLinker()
	l.AddModule("a.s", o)
	_, err := l.Link()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "overlap")
}

func TestWriteHexFormat(t *testing.T) {
	o := assembleModule(t, ".section text\nhalt\nret\n.end\n")

	l := NewLinker()
	l.AddModule("a.s", o)
	img, err := l.Link()
	require.NoError(t, err)

	var sb strings.Builder
	require.NoError(t, WriteHex(&sb, img))
	assert.Equal(t, "0000: 00 40\n", sb.String())
}
