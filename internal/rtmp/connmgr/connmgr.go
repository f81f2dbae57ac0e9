// Package connmgr composes the handshake, chunk-stream, session-reducer and
// pipeline layers into one live connection lifecycle (spec §4.8). It is the
// direct replacement for server/command_integration.go's attachCommandHandling:
// instead of a dispatcher with per-command callbacks wired ad hoc, every
// inbound message is pushed through a single Session reducer and its
// SessionResult stream is drained uniformly, so adding a new event kind never
// requires touching the connection plumbing.
package connmgr

import (
	"log/slog"
	"time"

	rerrors "github.com/alxayo/go-rtmp/internal/errors"
	"github.com/alxayo/go-rtmp/internal/logger"
	"github.com/alxayo/go-rtmp/internal/pipeline"
	"github.com/alxayo/go-rtmp/internal/rtmp/chunk"
	iconn "github.com/alxayo/go-rtmp/internal/rtmp/conn"
	"github.com/alxayo/go-rtmp/internal/rtmp/session"
)

// Config bundles the knobs a Manager needs to stand up a pipeline for each
// publishing connection.
type Config struct {
	SinkDirRoot         string
	BytesQueueCapacity  int
	ContainerChunkSize  int
	ContainerFormatHint string
	Detector            *pipeline.FaceDetector
}

// Manager owns the accept loop: for every handshaken *iconn.Connection it
// creates a Session and (lazily, on the first publish) a Pipeline, and wires
// the connection's message handler to drain the session's results.
type Manager struct {
	cfg Config
	log *slog.Logger
}

// New constructs a Manager. detector must already be loaded (spec §4.7/§9:
// model loading happens once at startup, before any connection is accepted).
func New(cfg Config, log *slog.Logger) *Manager {
	return &Manager{cfg: cfg, log: log}
}

// handle is the live state for one accepted connection: the reducer plus the
// lazily-constructed pipeline for whichever stream it ends up publishing.
type handle struct {
	conn    *iconn.Connection
	sess    *session.Session
	mgr     *Manager
	log     *slog.Logger
	pipe    *pipeline.Pipeline
	pipeErr error
	media   *mediaLogger
}

// Attach wires a freshly-handshaken connection into the session/pipeline
// stack and starts its read loop. Mirrors attachCommandHandling followed by
// c.Start() in the teacher's accept loop.
func (m *Manager) Attach(c *iconn.Connection) {
	log := logger.WithConn(m.log, c.ID(), c.NetConn().RemoteAddr().String())
	h := &handle{
		conn:  c,
		sess:  session.New(),
		mgr:   m,
		log:   log,
		media: newMediaLogger(c.ID(), log, 30*time.Second),
	}
	c.SetMessageHandler(h.onMessage)
	c.Start()
}

func (h *handle) onMessage(msg *chunk.Message) {
	results, err := h.sess.HandleMessage(msg)
	if err != nil {
		h.log.Error("session reducer error", "err", err)
		return
	}
	h.drain(results)
}

// drain walks one batch of SessionResult values, dispatching each per its
// Kind (spec §3): outbound bytes are sent immediately, unhandleable messages
// are logged and dropped, and events are interpreted -- connect and publish
// requests are auto-accepted, play and releaseStream requests are logged
// only (spec §4.1), media events are forwarded to the pipeline, and stream
// end events close the connection.
func (h *handle) drain(results []session.Result) {
	for _, r := range results {
		switch r.Kind {
		case session.ResultOutboundBytes:
			if err := h.conn.SendMessage(r.Outbound); err != nil {
				h.log.Error("send failed", "err", err)
				return
			}
		case session.ResultUnhandleable:
			h.log.Debug("unhandleable message dropped", "type_id", r.Unhandleable.TypeID)
		case session.ResultEvent:
			h.handleEvent(r.Event)
		}
	}
}

func (h *handle) handleEvent(e *session.Event) {
	switch e.Kind {
	case session.ConnectionRequested:
		h.accept(e.RequestID)

	case session.PublishStreamRequested:
		h.ensurePipeline()
		h.accept(e.RequestID)

	case session.PlayStreamRequested, session.ReleaseStreamRequested:
		// spec §4.1: logged only, never auto-accepted -- playback to
		// clients is out of scope, so a play request must not trigger an
		// outbound NetStream.Play.Start.
		h.log.Debug("request logged, not accepted", "kind", e.Kind, "request_id", e.RequestID)

	case session.VideoDataReceived:
		h.media.observeVideo(e.Timestamp, e.Data)
		if h.pipe == nil {
			return
		}
		if err := h.pipe.Send(e.Timestamp, e.Data); err != nil {
			if rerrors.IsPipelineClosed(err) {
				h.log.Debug("pipeline closed, dropping video frame")
				return
			}
			h.log.Error("pipeline send failed", "err", err)
		}

	case session.AudioDataReceived:
		h.media.observeAudio(e.Timestamp, e.Data)

	case session.StreamMetadataChanged,
		session.AcknowledgementReceived, session.PingResponseReceived:
		// No action required at the connection-manager layer; these kinds
		// are informational only.

	case session.ClientChunkSizeChanged:
		// spec §9: unimplemented in the source; surfaced as an explicit
		// unsupported-feature error rather than silently ignored or
		// silently honored. Unspecified close behavior defaults to
		// not-close (spec §9 Open Question), so the connection continues
		// reading at its existing chunk size.
		h.log.Error("unsupported: client requested chunk size change", "new_chunk_size", e.NewChunkSize)

	case session.PublishStreamFinished, session.PlayStreamFinished:
		h.close()

	case session.UnhandleableAmf0Command:
		h.log.Debug("unhandled AMF0 command", "name", e.CommandName)
	}
}

func (h *handle) accept(requestID uint32) {
	results, err := h.sess.AcceptRequest(requestID)
	if err != nil {
		h.log.Error("accept request failed", "err", err)
		return
	}
	h.drain(results)
}

func (h *handle) ensurePipeline() {
	if h.pipe != nil || h.pipeErr != nil {
		return
	}
	pcfg := pipeline.Config{
		Extractor: pipeline.ExtractorConfig{
			BytesQueueCapacity: h.mgr.cfg.BytesQueueCapacity,
			ChunkSize:          h.mgr.cfg.ContainerChunkSize,
			FormatHint:         h.mgr.cfg.ContainerFormatHint,
		},
		SinkDir:  h.mgr.cfg.SinkDirRoot + "/" + h.conn.ID(),
		Detector: h.mgr.cfg.Detector,
	}
	p, err := pipeline.New(pcfg, h.log)
	if err != nil {
		h.pipeErr = err
		h.log.Error("pipeline construction failed", "err", err)
		return
	}
	h.pipe = p
}

func (h *handle) close() {
	h.media.stop()
	if h.pipe != nil {
		h.pipe.Close()
	}
	_ = h.conn.Close()
}
