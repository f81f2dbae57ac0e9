package session

import (
	"fmt"
	"sync"
	"sync/atomic"

	rerrors "github.com/alxayo/go-rtmp/internal/errors"
	"github.com/alxayo/go-rtmp/internal/rtmp/amf"
	"github.com/alxayo/go-rtmp/internal/rtmp/chunk"
	"github.com/alxayo/go-rtmp/internal/rtmp/control"
	"github.com/alxayo/go-rtmp/internal/rtmp/rpc"
)

const commandMessageAMF0TypeID = 20 // mirrors rpc.CommandMessageAMF0TypeIDForTest()

// Session is the chunk-stream level reducer (spec §3/§4.1). It has no
// knowledge of sockets; HandleMessage consumes one already-dechunked
// *chunk.Message and returns the SessionResult list it produces.
// AcceptRequest completes a previously raised request-carrying event
// (ConnectionRequested, PublishStreamRequested, PlayStreamRequested) by
// building and returning its outbound response.
//
// Not safe for concurrent use by design: a single session driver goroutine
// owns one Session for the lifetime of one connection.
type Session struct {
	app       string
	allocator *rpc.StreamIDAllocator

	pendingMu sync.Mutex
	pending   map[uint32]func() ([]Result, error)
	nextReqID uint32

	requestCounter atomic.Uint32
}

// New constructs an empty session.
func New() *Session {
	return &Session{
		allocator: rpc.NewStreamIDAllocator(),
		pending:   make(map[uint32]func() ([]Result, error)),
	}
}

// HandleMessage translates one chunk message into zero or more results.
func (s *Session) HandleMessage(msg *chunk.Message) ([]Result, error) {
	if msg == nil {
		return nil, rerrors.NewProtocolError("session.handle", fmt.Errorf("nil message"))
	}

	switch {
	case msg.TypeID >= 1 && msg.TypeID <= 6:
		return s.handleControl(msg)
	case msg.TypeID == 8:
		return []Result{eventResult(&Event{Kind: AudioDataReceived, Timestamp: msg.Timestamp, Data: msg.Payload})}, nil
	case msg.TypeID == 9:
		return []Result{eventResult(&Event{Kind: VideoDataReceived, Timestamp: msg.Timestamp, Data: msg.Payload})}, nil
	case msg.TypeID == 18 || msg.TypeID == 15:
		return s.handleMetadata(msg)
	case msg.TypeID == commandMessageAMF0TypeID:
		return s.handleCommand(msg)
	default:
		return []Result{unhandleableResult(msg)}, nil
	}
}

func (s *Session) handleControl(msg *chunk.Message) ([]Result, error) {
	decoded, err := control.Decode(msg.TypeID, msg.Payload)
	if err != nil {
		return nil, rerrors.NewChunkError("session.control.decode", err)
	}

	switch v := decoded.(type) {
	case *control.SetChunkSize:
		// spec §9: unhandled in the source; surface explicitly rather than
		// silently applying or ignoring it.
		return []Result{eventResult(&Event{Kind: ClientChunkSizeChanged, NewChunkSize: v.Size})}, nil
	case *control.Acknowledgement:
		return []Result{eventResult(&Event{Kind: AcknowledgementReceived, BytesReceived: v.SequenceNumber})}, nil
	case *control.UserControl:
		if v.EventType == control.UCPingResponse {
			return []Result{eventResult(&Event{Kind: PingResponseReceived, Timestamp: v.Timestamp})}, nil
		}
		return []Result{unhandleableResult(msg)}, nil
	case *control.WindowAcknowledgementSize, *control.SetPeerBandwidth, *control.AbortMessage:
		// Acknowledged at the wire level already; no semantic event defined
		// for these by the spec's event catalogue.
		return nil, nil
	default:
		return []Result{unhandleableResult(msg)}, nil
	}
}

func (s *Session) handleMetadata(msg *chunk.Message) ([]Result, error) {
	vals, err := amf.DecodeAll(msg.Payload)
	if err != nil || len(vals) == 0 {
		return []Result{unhandleableResult(msg)}, nil
	}
	meta := make(map[string]interface{}, len(vals))
	for i, v := range vals {
		meta[fmt.Sprintf("%d", i)] = v
	}
	return []Result{eventResult(&Event{Kind: StreamMetadataChanged, AppName: s.app, Metadata: meta})}, nil
}

func (s *Session) handleCommand(msg *chunk.Message) ([]Result, error) {
	vals, err := amf.DecodeAll(msg.Payload)
	if err != nil || len(vals) == 0 {
		return nil, rerrors.NewAMFError("session.command.decode", err)
	}
	name, ok := vals[0].(string)
	if !ok {
		return []Result{unhandleableResult(msg)}, nil
	}

	switch name {
	case "connect":
		cc, err := rpc.ParseConnectCommand(msg)
		if err != nil {
			return nil, err
		}
		reqID := s.newRequestID()
		s.setPending(reqID, func() ([]Result, error) {
			s.app = cc.App
			resp, err := rpc.BuildConnectResponse(cc.TransactionID, "Connection succeeded.")
			if err != nil {
				return nil, err
			}
			winAck := control.EncodeWindowAcknowledgementSize(2_500_000)
			peerBw := control.EncodeSetPeerBandwidth(2_500_000, 2)
			return []Result{outboundResult(winAck), outboundResult(peerBw), outboundResult(resp)}, nil
		})
		return []Result{eventResult(&Event{Kind: ConnectionRequested, RequestID: reqID, AppName: cc.App})}, nil

	case "createStream":
		cs, err := rpc.ParseCreateStreamCommand(msg)
		if err != nil {
			return nil, err
		}
		resp, streamID, err := rpc.BuildCreateStreamResponse(cs.TransactionID, s.allocator)
		if err != nil {
			return nil, err
		}
		streamBegin := control.EncodeUserControlStreamBegin(streamID)
		return []Result{outboundResult(resp), outboundResult(streamBegin)}, nil

	case "publish":
		pc, err := rpc.ParsePublishCommand(s.app, msg)
		if err != nil {
			return nil, err
		}
		reqID := s.newRequestID()
		s.setPending(reqID, func() ([]Result, error) {
			info := map[string]interface{}{
				"level":       "status",
				"code":        "NetStream.Publish.Start",
				"description": fmt.Sprintf("Publishing %s.", pc.StreamKey),
			}
			payload, err := amf.EncodeAll("onStatus", float64(0), nil, info)
			if err != nil {
				return nil, rerrors.NewAMFError("session.publish.onstatus", err)
			}
			resp := &chunk.Message{TypeID: commandMessageAMF0TypeID, MessageStreamID: msg.MessageStreamID, Payload: payload, MessageLength: uint32(len(payload))}
			return []Result{outboundResult(resp)}, nil
		})
		return []Result{eventResult(&Event{Kind: PublishStreamRequested, RequestID: reqID, AppName: s.app, StreamKey: pc.StreamKey, Mode: pc.PublishingType})}, nil

	case "play":
		pl, err := rpc.ParsePlayCommand(msg, s.app)
		if err != nil {
			return nil, err
		}
		reqID := s.newRequestID()
		s.setPending(reqID, func() ([]Result, error) {
			info := map[string]interface{}{
				"level":       "status",
				"code":        "NetStream.Play.Start",
				"description": fmt.Sprintf("Playing %s.", pl.StreamKey),
			}
			payload, err := amf.EncodeAll("onStatus", float64(0), nil, info)
			if err != nil {
				return nil, rerrors.NewAMFError("session.play.onstatus", err)
			}
			resp := &chunk.Message{TypeID: commandMessageAMF0TypeID, MessageStreamID: msg.MessageStreamID, Payload: payload, MessageLength: uint32(len(payload))}
			return []Result{outboundResult(resp)}, nil
		})
		return []Result{eventResult(&Event{Kind: PlayStreamRequested, RequestID: reqID, AppName: s.app, StreamKey: pl.StreamKey})}, nil

	case "releaseStream":
		streamKey := ""
		if len(vals) >= 4 {
			if sn, ok := vals[3].(string); ok {
				streamKey = s.app + "/" + sn
			}
		}
		reqID := s.newRequestID()
		return []Result{eventResult(&Event{Kind: ReleaseStreamRequested, RequestID: reqID, AppName: s.app, StreamKey: streamKey})}, nil

	case "FCPublish", "FCUnpublish", "deleteStream":
		// deleteStream / FCPublish-family commands signal end of the
		// publish/play lifecycle for simple broadcasters; treated as
		// publish-finished per the session's single-stream-per-connection
		// model.
		return []Result{eventResult(&Event{Kind: PublishStreamFinished, AppName: s.app})}, nil

	default:
		return []Result{eventResult(&Event{Kind: UnhandleableAmf0Command, CommandName: name})}, nil
	}
}

// AcceptRequest completes a pending request-carrying event (spec §4.1
// "auto-accept"), returning the outbound results it was holding. Calling it
// with an unknown or already-consumed id is a no-op returning (nil, nil).
func (s *Session) AcceptRequest(requestID uint32) ([]Result, error) {
	s.pendingMu.Lock()
	fn, ok := s.pending[requestID]
	if ok {
		delete(s.pending, requestID)
	}
	s.pendingMu.Unlock()
	if !ok {
		return nil, nil
	}
	return fn()
}

func (s *Session) setPending(id uint32, fn func() ([]Result, error)) {
	s.pendingMu.Lock()
	s.pending[id] = fn
	s.pendingMu.Unlock()
}

func (s *Session) newRequestID() uint32 {
	return s.requestCounter.Add(1)
}
