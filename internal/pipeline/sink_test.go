package pipeline

import (
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

var errFrameWriteStub = errors.New("stub write failure")

func TestFileSink_WritesSequentialFiles(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "sub")
	sink, err := NewFileSink(dir)
	require.NoError(t, err)

	f := &Frame{Width: 1, Height: 1, RGB: []byte{1, 2, 3}}
	require.NoError(t, sink.OnFrame(f))
	require.NoError(t, sink.OnFrame(f))

	_, err = os.Stat(filepath.Join(dir, "blurred_frame_0.ppm"))
	require.NoError(t, err)
	_, err = os.Stat(filepath.Join(dir, "blurred_frame_1.ppm"))
	require.NoError(t, err)

	data, err := os.ReadFile(filepath.Join(dir, "blurred_frame_0.ppm"))
	require.NoError(t, err)
	require.Equal(t, f.EncodePPM(), data)
}

type failingSink struct{ err error }

func (s *failingSink) OnFrame(f *Frame) error { return s.err }

func TestRunSink_WriteFailureClosesQueueAndExits(t *testing.T) {
	sink := &failingSink{err: errFrameWriteStub}
	blurred := newUnboundedQueue[*Frame]()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	done := make(chan struct{})
	go func() {
		runSink(sink, blurred, log)
		close(done)
	}()

	blurred.Send(&Frame{Width: 1, Height: 1, RGB: []byte{1, 2, 3}})
	<-done

	require.False(t, blurred.Send(&Frame{Width: 1, Height: 1, RGB: []byte{4, 5, 6}}),
		"sink's write failure must close the queue so the blur stage can detect the hangup")
}

func TestRunSink_DrainsUntilClosed(t *testing.T) {
	dir := t.TempDir()
	sink, err := NewFileSink(dir)
	require.NoError(t, err)

	blurred := newUnboundedQueue[*Frame]()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	done := make(chan struct{})
	go func() {
		runSink(sink, blurred, log)
		close(done)
	}()

	blurred.Send(&Frame{Width: 1, Height: 1, RGB: []byte{9, 9, 9}})
	blurred.Close()

	<-done
	_, err = os.Stat(filepath.Join(dir, "blurred_frame_0.ppm"))
	require.NoError(t, err)
}
