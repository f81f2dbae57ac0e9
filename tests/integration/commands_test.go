package integration

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/alxayo/go-rtmp/internal/rtmp/amf"
	"github.com/alxayo/go-rtmp/internal/rtmp/chunk"
	"github.com/alxayo/go-rtmp/internal/rtmp/session"
)

func integrationCommand(t *testing.T, values ...interface{}) *chunk.Message {
	t.Helper()
	payload, err := amf.EncodeAll(values...)
	require.NoError(t, err)
	return &chunk.Message{TypeID: 20, Payload: payload}
}

func decodeCommandResult(t *testing.T, r session.Result) []interface{} {
	t.Helper()
	require.Equal(t, session.ResultOutboundBytes, r.Kind)
	vals, err := amf.DecodeAll(r.Outbound.Payload)
	require.NoError(t, err)
	return vals
}

// TestCommandsFlow drives the session reducer through the connect ->
// createStream -> publish -> play command sequence and checks the outbound
// replies each step produces.
func TestCommandsFlow(t *testing.T) {
	s := session.New()

	t.Run("connect", func(t *testing.T) {
		msg := integrationCommand(t, "connect", 1.0, map[string]interface{}{
			"app": "live", "flashVer": "test", "tcUrl": "rtmp://localhost/live", "objectEncoding": 0.0,
		})
		results, err := s.HandleMessage(msg)
		require.NoError(t, err)
		require.Len(t, results, 1)
		require.Equal(t, session.ResultEvent, results[0].Kind)
		require.Equal(t, session.ConnectionRequested, results[0].Event.Kind)

		// AcceptRequest's connect closure sends window-ack and peer-bandwidth
		// control messages ahead of the AMF0 _result reply.
		accepted, err := s.AcceptRequest(results[0].Event.RequestID)
		require.NoError(t, err)
		require.Len(t, accepted, 3)
		vals := decodeCommandResult(t, accepted[2])
		require.Equal(t, "_result", vals[0])
	})

	t.Run("createStream", func(t *testing.T) {
		msg := integrationCommand(t, "createStream", 4.0, nil)
		results, err := s.HandleMessage(msg)
		require.NoError(t, err)
		require.Len(t, results, 2)
		vals := decodeCommandResult(t, results[0])
		require.Equal(t, "_result", vals[0])
		require.Equal(t, 4.0, vals[1])
	})

	t.Run("publish", func(t *testing.T) {
		msg := integrationCommand(t, "publish", 0.0, nil, "mystream", "live")
		results, err := s.HandleMessage(msg)
		require.NoError(t, err)
		require.Len(t, results, 1)
		require.Equal(t, session.ResultEvent, results[0].Kind)
		require.Equal(t, session.PublishStreamRequested, results[0].Event.Kind)

		accepted, err := s.AcceptRequest(results[0].Event.RequestID)
		require.NoError(t, err)
		vals := decodeCommandResult(t, accepted[0])
		require.Equal(t, "onStatus", vals[0])
		info, ok := vals[3].(map[string]interface{})
		require.True(t, ok)
		require.Equal(t, "NetStream.Publish.Start", info["code"])
	})

	t.Run("play is not auto-accepted", func(t *testing.T) {
		msg := integrationCommand(t, "play", 0.0, nil, "mystream")
		results, err := s.HandleMessage(msg)
		require.NoError(t, err)
		require.Len(t, results, 1)
		require.Equal(t, session.ResultEvent, results[0].Kind)
		require.Equal(t, session.PlayStreamRequested, results[0].Event.Kind)
		// Per spec.md §4.1 the connection manager logs this request rather
		// than calling AcceptRequest, so no NetStream.Play.Start is ever sent
		// -- see connmgr's handleEvent and TestManager_PlayRequest_IsLoggedNotAccepted.
	})
}
