package pipeline

import (
	"log/slog"
)

// Config bundles everything needed to construct one connection's pipeline.
type Config struct {
	Extractor ExtractorConfig
	SinkDir   string
	Detector  *FaceDetector // process-wide, shared across connections
}

// Pipeline composes the Frame Extractor, Blur Stage, and Sink for one
// connection's lifetime (spec §4.8: "spawns the frame extractor ... spawns
// the blur thread, spawns the sink thread").
type Pipeline struct {
	extractor *Extractor
}

// New constructs the full decode -> blur -> sink pipeline for one
// connection and starts its three goroutines.
func New(cfg Config, log *slog.Logger) (*Pipeline, error) {
	extractor, frames, err := NewExtractor(cfg.Extractor, logger(log, "decoder"))
	if err != nil {
		return nil, err
	}

	sink, err := NewFileSink(cfg.SinkDir)
	if err != nil {
		return nil, err
	}

	blurred := newUnboundedQueue[*Frame]()
	go runBlur(cfg.Detector, frames, blurred, logger(log, "blur"))
	go runSink(sink, blurred, logger(log, "sink"))

	return &Pipeline{extractor: extractor}, nil
}

// Send forwards one video tag into the extractor (spec §4.1: "forward
// (timestamp, data) to the Frame Extractor's ingest method; no outbound
// bytes").
func (p *Pipeline) Send(timestamp uint32, payload []byte) error {
	return p.extractor.Send(timestamp, payload)
}

// Close tears down the extractor side; the decoder/blur/sink goroutines
// each exit on their next send/receive once their upstream channel closes
// (spec §5 "Cancellation").
func (p *Pipeline) Close() {
	p.extractor.Close()
}

func logger(l *slog.Logger, stage string) *slog.Logger {
	return l.With("stage", stage)
}
