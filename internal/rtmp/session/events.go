// Package session implements the RTMP session reducer (spec §3/§4.1): a
// stateful translator that turns incoming chunk messages into a sequence of
// SessionResult values (outbound bytes, semantic events, or unhandleable
// messages), and turns accepted requests into the outbound bytes that
// complete them.
package session

import "github.com/alxayo/go-rtmp/internal/rtmp/chunk"

// EventKind enumerates the semantic events the reducer can raise.
type EventKind int

const (
	ConnectionRequested EventKind = iota
	PublishStreamRequested
	VideoDataReceived
	AudioDataReceived
	StreamMetadataChanged
	PublishStreamFinished
	PlayStreamRequested
	PlayStreamFinished
	AcknowledgementReceived
	PingResponseReceived
	UnhandleableAmf0Command
	ClientChunkSizeChanged
	ReleaseStreamRequested
)

func (k EventKind) String() string {
	switch k {
	case ConnectionRequested:
		return "ConnectionRequested"
	case PublishStreamRequested:
		return "PublishStreamRequested"
	case VideoDataReceived:
		return "VideoDataReceived"
	case AudioDataReceived:
		return "AudioDataReceived"
	case StreamMetadataChanged:
		return "StreamMetadataChanged"
	case PublishStreamFinished:
		return "PublishStreamFinished"
	case PlayStreamRequested:
		return "PlayStreamRequested"
	case PlayStreamFinished:
		return "PlayStreamFinished"
	case AcknowledgementReceived:
		return "AcknowledgementReceived"
	case PingResponseReceived:
		return "PingResponseReceived"
	case UnhandleableAmf0Command:
		return "UnhandleableAmf0Command"
	case ClientChunkSizeChanged:
		return "ClientChunkSizeChanged"
	case ReleaseStreamRequested:
		return "ReleaseStreamRequested"
	default:
		return "Unknown"
	}
}

// Event is a semantic event raised by the reducer. Only the fields relevant
// to Kind are populated; the rest are zero.
type Event struct {
	Kind EventKind

	RequestID uint32 // ConnectionRequested, PublishStreamRequested, PlayStreamRequested, ReleaseStreamRequested
	AppName   string
	StreamKey string
	Mode      string // PublishStreamRequested: "live" | "record" | "append"

	Timestamp uint32 // VideoDataReceived, AudioDataReceived, PingResponseReceived
	Data      []byte // VideoDataReceived, AudioDataReceived

	Metadata map[string]interface{} // StreamMetadataChanged

	BytesReceived uint32 // AcknowledgementReceived
	NewChunkSize  uint32 // ClientChunkSizeChanged

	CommandName string // UnhandleableAmf0Command
}

// ResultKind distinguishes the three SessionResult variants (spec §3).
type ResultKind int

const (
	ResultOutboundBytes ResultKind = iota
	ResultEvent
	ResultUnhandleable
)

// Result is one SessionResult: exactly one of Outbound, Event, or
// Unhandleable is meaningful, selected by Kind.
type Result struct {
	Kind         ResultKind
	Outbound     *chunk.Message
	Event        *Event
	Unhandleable *chunk.Message
}

func outboundResult(msg *chunk.Message) Result {
	return Result{Kind: ResultOutboundBytes, Outbound: msg}
}

func eventResult(e *Event) Result {
	return Result{Kind: ResultEvent, Event: e}
}

func unhandleableResult(msg *chunk.Message) Result {
	return Result{Kind: ResultUnhandleable, Unhandleable: msg}
}
