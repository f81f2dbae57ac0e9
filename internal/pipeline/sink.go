package pipeline

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	rerrors "github.com/alxayo/go-rtmp/internal/errors"
)

// FrameSink is the pluggable downstream consumer of blurred frames (spec §9
// "replacing the file sink"). Implementations must not block indefinitely;
// OnFrame is called from the sink goroutine, one frame at a time.
type FrameSink interface {
	OnFrame(f *Frame) error
}

// FileSink writes each frame as a PPM file named blurred_frame_{n}.ppm,
// n starting at 0, into its own directory per connection (spec §6; see
// DESIGN.md for the per-connection subdirectory decision).
type FileSink struct {
	dir   string
	count int
}

// NewFileSink creates dir (and any missing parents) and returns a sink that
// writes into it.
func NewFileSink(dir string) (*FileSink, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, rerrors.NewConfigurationError("pipeline.sink.mkdir", err)
	}
	return &FileSink{dir: dir}, nil
}

// OnFrame writes the next sequential PPM file.
func (s *FileSink) OnFrame(f *Frame) error {
	path := filepath.Join(s.dir, fmt.Sprintf("blurred_frame_%d.ppm", s.count))
	if err := os.WriteFile(path, f.EncodePPM(), 0o644); err != nil {
		return err
	}
	s.count++
	return nil
}

// runSink is the sink thread: single consumer of the blurred-frame queue. A
// write failure is treated as the sink hanging up (spec §4.7 step 5): the
// thread stops consuming and closes the queue so the blur stage's next Send
// observes the disconnect and panics, rather than silently piling up frames
// behind a sink that can no longer make progress.
func runSink(sink FrameSink, blurred *unboundedQueue[*Frame], log *slog.Logger) {
	for {
		f, ok := blurred.Receive()
		if !ok {
			return
		}
		if err := sink.OnFrame(f); err != nil {
			log.Error("sink write failed, sink hanging up", "err", err)
			blurred.Close()
			return
		}
	}
}
