package obj_test

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hyp16dev/toolchain/obj"
)

func sample() *obj.Object {
	return &obj.Object{
		Sections: []obj.Section{
			{ID: obj.IDUndef, Name: obj.SectionUndef},
			{ID: obj.IDAbs, Name: obj.SectionAbs},
			{ID: 2, Name: "text", Data: []byte{0x00, 0x50, 0xFF, 0x07, 0x03, 0x00, 0x02}},
		},
		Symbols: []obj.Symbol{
			{ID: 0, Section: obj.SectionUndef, Name: obj.SectionUndef, Defined: true, Local: true},
			{ID: 1, Section: obj.SectionAbs, Name: obj.SectionAbs, Defined: true, Local: true},
			{ID: 2, Section: "text", Name: "text", Defined: true, Local: true},
			{ID: 3, Section: "text", Name: "target", Offset: 5, Defined: true, Local: true},
		},
		Relocations: []obj.Relocation{
			{Section: "text", Offset: 3, Type: obj.PcRelativeBE, Symbol: "text"},
		},
	}
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	want := sample()

	var buf bytes.Buffer
	require.NoError(t, obj.Encode(&buf, want))

	got, err := obj.Decode(&buf)
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestEncodeDecodeByteIdentical(t *testing.T) {
	want := sample()

	var first bytes.Buffer
	require.NoError(t, obj.Encode(&first, want))

	decoded, err := obj.Decode(bytes.NewReader(first.Bytes()))
	require.NoError(t, err)

	var second bytes.Buffer
	require.NoError(t, obj.Encode(&second, decoded))

	assert.Equal(t, first.Bytes(), second.Bytes())
}

func TestRelocTypeRoundTrip(t *testing.T) {
	for _, want := range []obj.RelocType{obj.AbsoluteLE, obj.AbsoluteBE, obj.PcRelativeBE} {
		got, ok := obj.ParseRelocType(want.String())
		require.True(t, ok)
		assert.Equal(t, want, got)
	}

	_, ok := obj.ParseRelocType("not a type")
	assert.False(t, ok)
}

func TestSectionLength(t *testing.T) {
	sec := obj.Section{Data: []byte{1, 2, 3}}
	assert.Equal(t, uint32(3), sec.Length())
}
