package pipeline

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/asticode/go-astiav"

	rerrors "github.com/alxayo/go-rtmp/internal/errors"
	"github.com/alxayo/go-rtmp/internal/container"
)

// ExtractorConfig controls the container-bytes queue and demuxer behavior.
type ExtractorConfig struct {
	BytesQueueCapacity int    // bounded queue depth, in chunks (default 1000)
	ChunkSize          int    // fixed chunk size in bytes (default 1024)
	FormatHint         string // container format name, e.g. "flv"
}

func (c ExtractorConfig) withDefaults() ExtractorConfig {
	if c.BytesQueueCapacity <= 0 {
		c.BytesQueueCapacity = 1000
	}
	if c.ChunkSize <= 0 {
		c.ChunkSize = 1024
	}
	if c.FormatHint == "" {
		c.FormatHint = "flv"
	}
	return c
}

// Extractor owns the container writer and the decoder goroutine it feeds.
// Send forwards one video tag's worth of elementary data; the decoder
// goroutine demuxes, decodes, and scales frames onto the frame output
// channel returned by NewExtractor.
type Extractor struct {
	writer *container.Writer
	chunks *container.ChunkWriter
	bytes  chan []byte
	log    *slog.Logger
}

// NewExtractor constructs the bounded bytes queue, the container writer
// feeding it, spawns the decoder goroutine, and returns both the extractor
// and the unbounded frame output queue (spec §4.6 construction steps
// 1-5). The caller must call Close when the session ends: the decoder
// goroutine exits once the bytes channel is closed and drained.
func NewExtractor(cfg ExtractorConfig, log *slog.Logger) (*Extractor, *unboundedQueue[*Frame], error) {
	cfg = cfg.withDefaults()

	bytesCh := make(chan []byte, cfg.BytesQueueCapacity)
	frames := newUnboundedQueue[*Frame]()

	chunkWriter := container.NewChunkWriter(bytesCh, cfg.ChunkSize)
	writer := container.NewWriter(chunkWriter)
	if err := writer.WriteHeader(); err != nil {
		return nil, nil, fmt.Errorf("extractor: write header: %w", err)
	}

	ex := &Extractor{writer: writer, chunks: chunkWriter, bytes: bytesCh, log: log}

	go runDecoder(bytesCh, frames, cfg, log)

	return ex, frames, nil
}

// Send writes one video tag through the container writer (spec §4.6 public
// operation). A PipelineClosedError means the decoder side has gone away;
// callers should treat the connection's pipeline as torn down, not as a
// fatal protocol error.
func (e *Extractor) Send(timestamp uint32, payload []byte) error {
	if err := e.writer.WriteVideo(timestamp, payload); err != nil {
		if errors.Is(err, container.ErrChunkWriterClosed) {
			return rerrors.NewPipelineClosedError("extractor")
		}
		return err
	}
	return nil
}

// Close flushes any buffered container bytes and releases the bytes
// channel, letting the decoder goroutine observe end-of-stream on its next
// read.
func (e *Extractor) Close() {
	_ = e.chunks.Flush()
	close(e.bytes)
}

// runDecoder is the decoder thread (spec §4.6). It owns the Custom Input
// Adapter, the demuxer, the video decoder, and the RGB24 scaler, and runs
// until the bytes channel is exhausted or the frame consumer disappears.
func runDecoder(bytesCh <-chan []byte, frames *unboundedQueue[*Frame], cfg ExtractorConfig, log *slog.Logger) {
	defer frames.Close()

	const ioBufferSize = 8192
	reader, err := newChunkReader(bytesCh, cfg.ChunkSize, ioBufferSize)
	if err != nil {
		log.Error("custom input adapter construction failed", "err", err)
		return
	}

	ioCtx, err := astiav.AllocIOContext(ioBufferSize, false, ioContextReadCallback(reader), nil, nil)
	if err != nil {
		log.Error("alloc io context failed", "err", err)
		return
	}
	defer ioCtx.Free()

	fc := astiav.AllocFormatContext()
	if fc == nil {
		log.Error("alloc format context failed")
		return
	}
	defer fc.Free()
	fc.SetPb(ioCtx)
	fc.SetFlags(fc.Flags().Add(astiav.FormatContextFlagCustomIo))

	inputFormat := astiav.FindInputFormat(cfg.FormatHint)
	if inputFormat == nil {
		log.Error("unknown container format hint", "hint", cfg.FormatHint)
		return
	}

	if err := fc.OpenInput("", inputFormat, nil); err != nil {
		log.Error("open input failed", "err", err)
		return
	}
	defer fc.CloseInput()

	if err := fc.FindStreamInfo(nil); err != nil {
		log.Error("find stream info failed", "err", err)
		return
	}

	// First video stream, not "best" — a publisher sends exactly one.
	videoStreamIndex := -1
	for i, s := range fc.Streams() {
		if s.CodecParameters().MediaType() == astiav.MediaTypeVideo {
			videoStreamIndex = i
			break
		}
	}
	if videoStreamIndex < 0 {
		log.Error("no video stream found in remuxed container")
		return
	}
	vst := fc.Streams()[videoStreamIndex]
	vpar := vst.CodecParameters()

	decoder := astiav.FindDecoder(vpar.CodecID())
	if decoder == nil {
		log.Error("no decoder for codec", "codec_id", vpar.CodecID())
		return
	}
	decCtx := astiav.AllocCodecContext(decoder)
	if decCtx == nil {
		log.Error("alloc codec context failed")
		return
	}
	defer decCtx.Free()

	if err := vpar.ToCodecContext(decCtx); err != nil {
		log.Error("codec parameters to context failed", "err", err)
		return
	}
	if err := decCtx.Open(decoder, nil); err != nil {
		log.Error("open decoder failed", "err", err)
		return
	}

	var scaler *astiav.SoftwareScaleContext
	var dstFrame *astiav.Frame
	defer func() {
		if dstFrame != nil {
			dstFrame.Free()
		}
		if scaler != nil {
			scaler.Free()
		}
	}()

	pkt := astiav.AllocPacket()
	defer pkt.Free()
	decoded := astiav.AllocFrame()
	defer decoded.Free()

	emitDecoded := func() bool {
		for {
			err := decCtx.ReceiveFrame(decoded)
			if err != nil {
				if errors.Is(err, astiav.ErrEagain) || errors.Is(err, astiav.ErrEof) {
					return true
				}
				log.Warn("decode frame failed, continuing with next packet", "err", rerrors.NewCodecError("decoder.receive_frame", err))
				return true
			}

			if scaler == nil {
				flags := astiav.NewSoftwareScaleContextFlags(astiav.SoftwareScaleContextFlagBilinear)
				ssc, serr := astiav.CreateSoftwareScaleContext(
					decoded.Width(), decoded.Height(), decoded.PixelFormat(),
					decoded.Width(), decoded.Height(), astiav.PixelFormatRgb24,
					flags,
				)
				if serr != nil {
					log.Error("create scaler failed", "err", serr)
					return false
				}
				dst := astiav.AllocFrame()
				dst.SetWidth(decoded.Width())
				dst.SetHeight(decoded.Height())
				dst.SetPixelFormat(astiav.PixelFormatRgb24)
				if aerr := dst.AllocBuffer(1); aerr != nil {
					dst.Free()
					ssc.Free()
					log.Error("alloc scaled frame buffer failed", "err", aerr)
					return false
				}
				scaler, dstFrame = ssc, dst
			}

			if err := scaler.ScaleFrame(decoded, dstFrame); err != nil {
				log.Warn("scale frame failed, dropping frame", "err", rerrors.NewCodecError("decoder.scale", err))
				continue
			}

			n, err := dstFrame.ImageBufferSize(1)
			if err != nil {
				log.Warn("image buffer size failed, dropping frame", "err", err)
				continue
			}
			rgb := make([]byte, n)
			if _, err := dstFrame.ImageCopyToBuffer(rgb, 1); err != nil {
				log.Warn("image copy to buffer failed, dropping frame", "err", err)
				continue
			}

			if !frames.Send(&Frame{Width: dstFrame.Width(), Height: dstFrame.Height(), RGB: rgb}) {
				return false
			}
		}
	}

	for {
		if err := fc.ReadFrame(pkt); err != nil {
			if errors.Is(err, astiav.ErrEof) {
				break
			}
			log.Warn("demux read failed, continuing", "err", rerrors.NewCodecError("demuxer.read_frame", err))
			continue
		}
		if pkt.StreamIndex() != videoStreamIndex {
			pkt.Unref()
			continue
		}
		if err := decCtx.SendPacket(pkt); err != nil {
			log.Warn("send packet failed, continuing", "err", rerrors.NewCodecError("decoder.send_packet", err))
			pkt.Unref()
			continue
		}
		pkt.Unref()
		if !emitDecoded() {
			return
		}
	}

	_ = decCtx.SendPacket(nil) // flush
	emitDecoded()
}
