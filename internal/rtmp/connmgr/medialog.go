package connmgr

// mediaLogger tracks and periodically logs per-connection media throughput:
// packet counts, detected codecs, and bitrate. Adapted from the teacher's
// server.MediaLogger, generalized to observe the session reducer's
// VideoDataReceived/AudioDataReceived events rather than raw chunk.Message
// values, since connmgr never sees undecoded media messages directly.

import (
	"log/slog"
	"sync"
	"time"

	"github.com/alxayo/go-rtmp/internal/rtmp/media"
)

type mediaLogger struct {
	connID string
	log    *slog.Logger
	mu     sync.Mutex

	audioCount uint64
	videoCount uint64
	totalBytes uint64

	audioCodec string
	videoCodec string

	firstPacketTime time.Time

	statsInterval time.Duration
	statsTicker   *time.Ticker
	stopOnce      sync.Once
	stopChan      chan struct{}
}

func newMediaLogger(connID string, log *slog.Logger, statsInterval time.Duration) *mediaLogger {
	if statsInterval == 0 {
		statsInterval = 30 * time.Second
	}
	ml := &mediaLogger{
		connID:        connID,
		log:           log.With("component", "media_logger"),
		statsInterval: statsInterval,
		stopChan:      make(chan struct{}),
	}
	ml.statsTicker = time.NewTicker(statsInterval)
	go ml.statsLoop()
	return ml
}

// observeVideo records one decoded video tag's contribution to the
// connection's media statistics and, on first sight, detects the codec.
func (ml *mediaLogger) observeVideo(timestamp uint32, payload []byte) {
	ml.mu.Lock()
	defer ml.mu.Unlock()
	ml.touch()
	ml.videoCount++
	ml.totalBytes += uint64(len(payload))
	if ml.videoCodec == "" && len(payload) > 0 {
		if vm, err := media.ParseVideoMessage(payload); err == nil {
			ml.videoCodec = vm.Codec
			ml.log.Info("video codec detected", "codec", vm.Codec, "frame_type", vm.FrameType)
		}
	}
}

// observeAudio mirrors observeVideo for audio tags.
func (ml *mediaLogger) observeAudio(timestamp uint32, payload []byte) {
	ml.mu.Lock()
	defer ml.mu.Unlock()
	ml.touch()
	ml.audioCount++
	ml.totalBytes += uint64(len(payload))
	if ml.audioCodec == "" && len(payload) > 0 {
		if am, err := media.ParseAudioMessage(payload); err == nil {
			ml.audioCodec = am.Codec
			ml.log.Info("audio codec detected", "codec", am.Codec)
		}
	}
}

func (ml *mediaLogger) touch() {
	if ml.firstPacketTime.IsZero() {
		ml.firstPacketTime = time.Now()
	}
}

func (ml *mediaLogger) statsLoop() {
	for {
		select {
		case <-ml.stopChan:
			return
		case <-ml.statsTicker.C:
			ml.logStats()
		}
	}
}

func (ml *mediaLogger) logStats() {
	ml.mu.Lock()
	defer ml.mu.Unlock()
	if ml.audioCount == 0 && ml.videoCount == 0 {
		return
	}
	duration := time.Since(ml.firstPacketTime)
	var bitrate float64
	if duration.Seconds() > 0 {
		bitrate = float64(ml.totalBytes*8) / duration.Seconds() / 1000.0
	}
	ml.log.Info("media statistics",
		"audio_packets", ml.audioCount,
		"video_packets", ml.videoCount,
		"total_bytes", ml.totalBytes,
		"bitrate_kbps", int(bitrate),
		"audio_codec", ml.audioCodec,
		"video_codec", ml.videoCodec,
		"duration_sec", int(duration.Seconds()))
}

func (ml *mediaLogger) stop() {
	ml.stopOnce.Do(func() {
		close(ml.stopChan)
		ml.statsTicker.Stop()
		ml.logStats()
	})
}
