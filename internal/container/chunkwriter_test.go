package container

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
)

func drain(t *testing.T, ch <-chan []byte, n int) []byte {
	t.Helper()
	var out bytes.Buffer
	for i := 0; i < n; i++ {
		select {
		case chunk, ok := <-ch:
			if !ok {
				t.Fatalf("channel closed early at chunk %d", i)
			}
			out.Write(chunk)
		}
	}
	return out.Bytes()
}

func TestChunkWriter_RoundTrip(t *testing.T) {
	ch := make(chan []byte, 10)
	cw := NewChunkWriter(ch, 4)

	data := []byte("0123456789AB") // exactly 3 chunks of 4
	written := 0
	for written < len(data) {
		n, err := cw.Write(data[written:])
		require.NoError(t, err)
		written += n
	}

	got := drain(t, ch, 3)
	require.Equal(t, data, got)
}

func TestChunkWriter_FlushPartial(t *testing.T) {
	ch := make(chan []byte, 10)
	cw := NewChunkWriter(ch, 8)

	n, err := cw.Write([]byte("abc"))
	require.NoError(t, err)
	require.Equal(t, 3, n)
	require.NoError(t, cw.Flush())

	chunk := <-ch
	require.Equal(t, []byte("abc"), chunk)
}

func TestChunkWriter_ClosedConsumer(t *testing.T) {
	ch := make(chan []byte)
	close(ch)
	cw := NewChunkWriter(ch, 2)

	_, err := cw.Write([]byte("ab"))
	require.ErrorIs(t, err, ErrChunkWriterClosed)
}

func TestChunkWriter_ShortWriteLoop(t *testing.T) {
	ch := make(chan []byte, 10)
	cw := NewChunkWriter(ch, 3)

	p := []byte("abcdef")
	n, err := cw.Write(p)
	require.NoError(t, err)
	require.Less(t, n, len(p)) // short write signals caller to loop
}
