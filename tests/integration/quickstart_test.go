package integration

import (
	"io"
	"log/slog"
	"net"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/alxayo/go-rtmp/internal/pipeline"
	"github.com/alxayo/go-rtmp/internal/rtmp/amf"
	"github.com/alxayo/go-rtmp/internal/rtmp/chunk"
	"github.com/alxayo/go-rtmp/internal/rtmp/connmgr"
	"github.com/alxayo/go-rtmp/internal/rtmp/handshake"
)

// TestQuickstartScenario walks the full publisher lifecycle end to end over
// a real TCP listener: handshake, connect, createStream, publish (which
// lazily stands up the decode/blur/sink pipeline), a video and an audio
// message, then deleteStream to tear the connection down. It does not feed
// a real FLV/H.264 stream -- the decoder goroutine is expected to fail
// quickly on the bogus container bytes and log the error, exactly as it
// would for a publisher that disconnects mid-stream -- so this exercises
// the wiring (handshake -> session -> pipeline construction -> sink
// directory) without depending on sample media assets.
func TestQuickstartScenario(t *testing.T) {
	discard := slog.New(slog.NewTextHandler(io.Discard, nil))
	sinkRoot := t.TempDir()

	mgr := connmgr.New(connmgr.Config{
		SinkDirRoot:         sinkRoot,
		BytesQueueCapacity:  8,
		ContainerChunkSize:  256,
		ContainerFormatHint: "flv",
		Detector:            &pipeline.FaceDetector{},
	}, discard)

	ln, err := connmgr.NewListener("127.0.0.1:0", mgr, discard)
	require.NoError(t, err)
	ln.Start()
	defer ln.Stop()

	client, err := net.Dial("tcp", ln.Addr().String())
	require.NoError(t, err)
	defer client.Close()
	require.NoError(t, handshake.ClientHandshake(client))

	w := chunk.NewWriter(client, 128)
	writeQuickstartCommand(t, w, "connect", 1.0, map[string]interface{}{
		"app": "live", "flashVer": "quickstart", "tcUrl": "rtmp://localhost/live", "objectEncoding": 0.0,
	})
	writeQuickstartCommand(t, w, "createStream", 2.0, nil)
	writeQuickstartCommand(t, w, "publish", 0.0, nil, "mystream", "live")

	videoHeader := []byte{0x17, 0x00, 0x00, 0x00, 0x00} // AVC keyframe + sequence header marker
	require.NoError(t, w.WriteMessage(&chunk.Message{CSID: 6, TypeID: 9, MessageStreamID: 1, Payload: videoHeader, MessageLength: uint32(len(videoHeader))}))

	audioHeader := []byte{0xAF, 0x00, 0x12, 0x10}
	require.NoError(t, w.WriteMessage(&chunk.Message{CSID: 4, TypeID: 8, MessageStreamID: 1, Payload: audioHeader, MessageLength: uint32(len(audioHeader))}))

	writeQuickstartCommand(t, w, "deleteStream", 0.0, nil)

	r := chunk.NewReader(client, 128)
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		_ = client.SetReadDeadline(time.Now().Add(200 * time.Millisecond))
		if _, err := r.ReadMessage(); err != nil {
			break
		}
	}

	entries, err := os.ReadDir(sinkRoot)
	require.NoError(t, err)
	require.Len(t, entries, 1, "expected one per-connection sink directory from the publish lifecycle")
}

func writeQuickstartCommand(t *testing.T, w *chunk.Writer, values ...interface{}) {
	t.Helper()
	payload, err := amf.EncodeAll(values...)
	require.NoError(t, err)
	msg := &chunk.Message{CSID: 3, TypeID: 20, MessageStreamID: 0, Payload: payload, MessageLength: uint32(len(payload))}
	require.NoError(t, w.WriteMessage(msg))
}
