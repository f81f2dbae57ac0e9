// Package container remuxes elementary RTMP video payloads into a
// well-formed FLV byte stream suitable for feeding a generic streaming
// decoder. It owns no transport; callers wrap any io.Writer.
package container

import (
	"encoding/binary"
	"fmt"
	"io"
)

// Header is the fixed 13-byte FLV preamble: signature "FLV", version 1,
// flags 0x05 (audio+video present), 9-byte data offset, and a zero
// PreviousTagSize0.
var Header = [13]byte{'F', 'L', 'V', 0x01, 0x05, 0x00, 0x00, 0x00, 0x09, 0x00, 0x00, 0x00, 0x00}

const videoTagType = 9

// Writer frames video payloads as FLV tags on top of an arbitrary byte
// sink. It is not safe for concurrent use: a single session thread owns it
// exclusively, per the component's single-producer contract.
type Writer struct {
	w io.Writer
}

// NewWriter wraps w. Callers must call WriteHeader before the first
// WriteVideo.
func NewWriter(w io.Writer) *Writer {
	return &Writer{w: w}
}

// WriteHeader emits the 13-byte FLV header. It is not idempotent: calling
// it more than once duplicates the header bytes in the stream, so callers
// must call it exactly once per connection.
func (fw *Writer) WriteHeader() error {
	_, err := fw.w.Write(Header[:])
	return err
}

// WriteVideo emits one video tag: an 11-byte tag header, the payload, and a
// 4-byte PreviousTagSize trailer equal to 11+len(payload). All multi-byte
// integers are big-endian; stream id is always zero.
func (fw *Writer) WriteVideo(timestamp uint32, payload []byte) error {
	if len(payload) > 0xFFFFFF {
		return fmt.Errorf("container: video payload too large: %d bytes", len(payload))
	}

	var hdr [11]byte
	hdr[0] = videoTagType
	dataSize := uint32(len(payload))
	hdr[1] = byte(dataSize >> 16)
	hdr[2] = byte(dataSize >> 8)
	hdr[3] = byte(dataSize)
	hdr[4] = byte(timestamp >> 16)
	hdr[5] = byte(timestamp >> 8)
	hdr[6] = byte(timestamp)
	hdr[7] = byte(timestamp >> 24)
	// bytes 8-10 (stream id) left zero

	if _, err := fw.w.Write(hdr[:]); err != nil {
		return err
	}
	if len(payload) > 0 {
		if _, err := fw.w.Write(payload); err != nil {
			return err
		}
	}

	var trailer [4]byte
	binary.BigEndian.PutUint32(trailer[:], 11+dataSize)
	_, err := fw.w.Write(trailer[:])
	return err
}
