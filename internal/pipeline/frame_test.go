package pipeline

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFrame_EncodePPM(t *testing.T) {
	f := &Frame{Width: 2, Height: 1, RGB: []byte{255, 0, 0, 0, 255, 0}}
	want := "P6\n2 1\n255\n" + string([]byte{255, 0, 0, 0, 255, 0})
	require.Equal(t, want, string(f.EncodePPM()))
}

func TestFrame_EncodePPM_Empty(t *testing.T) {
	f := &Frame{Width: 0, Height: 0}
	require.Equal(t, "P6\n0 0\n255\n", string(f.EncodePPM()))
}
