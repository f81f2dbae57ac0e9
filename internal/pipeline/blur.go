package pipeline

import (
	"fmt"
	"image"
	"log/slog"
	"sync"

	"gocv.io/x/gocv"

	rerrors "github.com/alxayo/go-rtmp/internal/errors"
)

// FaceDetector wraps a single process-wide Haar cascade classifier. The
// native CV model is loaded once before the listener starts (spec §4.7,
// §9 "model thread-safety") and is read-only from every blur goroutine's
// perspective thereafter; gocv's CascadeClassifier.DetectMultiScale is safe
// for concurrent use across goroutines sharing one loaded classifier.
type FaceDetector struct {
	once       sync.Once
	classifier gocv.CascadeClassifier
	loaded     bool
}

// Load reads the cascade XML at path. Calling Load more than once is
// undefined by the underlying CV transform's contract (spec §4.7); Load
// guarantees single-init via sync.Once. Only the first call loads and can
// return an error; later calls do nothing and return nil.
func (d *FaceDetector) Load(path string) error {
	var loadErr error
	d.once.Do(func() {
		d.classifier = gocv.NewCascadeClassifier()
		if !d.classifier.Load(path) {
			loadErr = rerrors.NewConfigurationError("pipeline.blur.load_cascade", fmt.Errorf("could not load cascade at %q", path))
			return
		}
		d.loaded = true
	})
	return loadErr
}

// Close releases the native classifier.
func (d *FaceDetector) Close() {
	if d.loaded {
		_ = d.classifier.Close()
	}
}

// detectFaces runs Haar cascade detection over a BGR Mat and returns face
// bounding boxes in that Mat's coordinate space.
func (d *FaceDetector) detectFaces(bgr gocv.Mat) []image.Rectangle {
	if !d.loaded {
		return nil
	}
	return d.classifier.DetectMultiScale(bgr)
}

// runBlur is the Blur Stage worker thread (spec §4.7): single consumer of
// the frame queue, single producer of the sink queue. For each frame it
// detects faces and Gaussian-blurs each detected region in place, then
// forwards the anonymized frame. A detector with no loaded cascade still
// passes frames through unblurred rather than stalling the pipeline --
// model loading failures are diagnosed at startup (ConfigurationError),
// not mid-stream.
func runBlur(detector *FaceDetector, frames *unboundedQueue[*Frame], blurred *unboundedQueue[*Frame], log *slog.Logger) {
	for {
		f, ok := frames.Receive()
		if !ok {
			blurred.Close()
			return
		}

		out, err := blurFrame(detector, f)
		if err != nil {
			log.Error("model transform failed, stage exiting", "err", rerrors.NewModelTransformError("blur.transform", err))
			blurred.Close()
			return
		}
		if !blurred.Send(out) {
			panic("blur stage: sink has hung up")
		}
	}
}

// blurFrame converts the packed RGB24 frame into an OpenCV Mat, detects
// faces, Gaussian-blurs each detected ROI, and copies the result back into
// a fresh Frame of the original dimensions -- the PPM-boundary contract
// described in spec §4.7 steps 2-4, expressed directly over gocv.Mat
// instead of through an intermediate PPM byte buffer (the PPM encoding
// itself is reserved for the sink boundary, see frame.go).
func blurFrame(detector *FaceDetector, f *Frame) (*Frame, error) {
	rgb, err := gocv.NewMatFromBytes(f.Height, f.Width, gocv.MatTypeCV8UC3, f.RGB)
	if err != nil {
		return nil, fmt.Errorf("blur: mat from bytes: %w", err)
	}
	defer rgb.Close()

	bgr := gocv.NewMat()
	defer bgr.Close()
	gocv.CvtColor(rgb, &bgr, gocv.ColorRGBToBGR)

	faces := detector.detectFaces(bgr)
	for _, rect := range faces {
		roi := bgr.Region(rect)
		gocv.GaussianBlur(roi, &roi, image.Pt(23, 23), 0, 0, gocv.BorderDefault)
		roi.Close()
	}

	outRGB := gocv.NewMat()
	defer outRGB.Close()
	gocv.CvtColor(bgr, &outRGB, gocv.ColorBGRToRGB)

	data, err := outRGB.DataPtrUint8()
	if err != nil {
		return nil, fmt.Errorf("blur: data ptr: %w", err)
	}
	out := make([]byte, len(data))
	copy(out, data)

	return &Frame{Width: f.Width, Height: f.Height, RGB: out}, nil
}
