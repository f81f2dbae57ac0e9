package pipeline

import (
	"io"

	"github.com/asticode/go-astiav"

	rerrors "github.com/alxayo/go-rtmp/internal/errors"
)

// chunkReader implements the Custom Input Adapter (spec §4.5): it bridges a
// bounded channel of fixed-size byte chunks (produced by
// container.ChunkWriter on the session thread) to go-astiav's pull-based
// AVIOContext read callback, which the decoder goroutine drives.
//
// Read contract: on a request for n bytes, if n is smaller than one chunk
// the adapter fails loudly (the decoder is assumed to always probe with at
// least one chunk's worth of buffer). Otherwise it walks aligned
// chunk-sized slots of the destination buffer: the first slot blocks on the
// channel (empty channel + closed means end-of-stream), every subsequent
// slot is a non-blocking attempt that stops opportunistically rather than
// stalling the decoder on a partial chunk.
type chunkReader struct {
	in        <-chan []byte
	chunkSize int
	leftover  []byte // unread remainder of a chunk that didn't fully fit last call
}

// newChunkReader constructs the adapter. bufferSize is the AVIOContext
// buffer size the caller intends to allocate; it must be at least one
// chunk, per the read contract, or construction fails as a configuration
// error (spec's "fail loudly" contract moved to construction time where
// it's cheaper to diagnose).
func newChunkReader(in <-chan []byte, chunkSize, bufferSize int) (*chunkReader, error) {
	if bufferSize < chunkSize {
		return nil, rerrors.NewConfigurationError("pipeline.adapter",
			io.ErrShortBuffer)
	}
	return &chunkReader{in: in, chunkSize: chunkSize}, nil
}

// Read implements the IOContext read callback shape: write into p, return
// bytes written. Returning 0, io.EOF signals end of stream to the demuxer.
func (r *chunkReader) Read(p []byte) (int, error) {
	if len(p) < r.chunkSize {
		return 0, rerrors.NewProtocolError("pipeline.adapter.read", io.ErrShortBuffer)
	}

	written := 0
	for slot := 0; written+r.chunkSize <= len(p); slot++ {
		var chunk []byte
		if len(r.leftover) > 0 {
			chunk = r.leftover
			r.leftover = nil
		} else if slot == 0 {
			var ok bool
			chunk, ok = <-r.in
			if !ok {
				if written == 0 {
					return 0, io.EOF
				}
				return written, nil
			}
		} else {
			select {
			case chunk0, ok := <-r.in:
				if !ok {
					return written, nil
				}
				chunk = chunk0
			default:
				return written, nil
			}
		}

		n := copy(p[written:written+len(chunk)], chunk)
		if n < len(chunk) {
			r.leftover = chunk[n:]
		}
		written += n
	}
	return written, nil
}

// ioContextReadCallback adapts chunkReader.Read to go-astiav's expected
// IOContext read-callback function signature.
func ioContextReadCallback(r *chunkReader) astiav.IOContextReadCallback {
	return func(b []byte) (int, error) {
		return r.Read(b)
	}
}
