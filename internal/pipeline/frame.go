// Package pipeline implements the decode -> blur -> sink stages that turn a
// remuxed FLV byte stream into anonymized PPM frames: the Custom Input
// Adapter, Frame Extractor (demux/decode/scale via go-astiav), Blur Stage
// (face detection + blur via gocv), and the pluggable frame sink.
package pipeline

import (
	"bytes"
	"fmt"
)

// Frame is a canonicalized decoded image: packed RGB24, row-major, 8 bits
// per channel.
type Frame struct {
	Width  int
	Height int
	RGB    []byte // len == Width*Height*3
}

// EncodePPM serializes f as a PPM image: magic "P6", width/height, maxval
// 255, then the raw RGB bytes. This is the format the default Sink writes
// to disk. The Blur Stage does not use it: it hands the raw RGB bytes to
// OpenCV as a Mat (see blurFrame).
func (f *Frame) EncodePPM() []byte {
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "P6\n%d %d\n255\n", f.Width, f.Height)
	buf.Write(f.RGB)
	return buf.Bytes()
}
