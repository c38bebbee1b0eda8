package image_test

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hyp16dev/toolchain/image"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	want := &image.Image{
		Segments: []image.Segment{
			{Data: []byte{0x00, 0x50, 0xFF, 0x07}, BaseAddress: 0},
			{Data: []byte{0x01, 0x02}, BaseAddress: 0x0010},
		},
	}

	var buf bytes.Buffer
	require.NoError(t, image.Encode(&buf, want))

	got, err := image.Decode(&buf)
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestEncodeDecodeEmpty(t *testing.T) {
	want := &image.Image{}

	var buf bytes.Buffer
	require.NoError(t, image.Encode(&buf, want))

	got, err := image.Decode(&buf)
	require.NoError(t, err)
	assert.Equal(t, 0, len(got.Segments))
}
