package engine

import (
	"bufio"
	"fmt"
	"image"
	"image/png"
	"os"
	"time"

	"github.com/kbukum/iceflow/errors"
	"github.com/kbukum/iceflow/logger"
	"github.com/kbukum/iceflow/media"
)

// Frame is one sample pulled from an appsink.
type Frame struct {
	Data   []byte `json:"data"`
	Caps   string `json:"caps"`
	Width  int    `json:"width,omitempty"`
	Height int    `json:"height,omitempty"`
}

// AddCapture appends a video capture chain ending in an appsink and
// returns the appsink handle. The chain does not extend the main chain.
func (p *Pipeline) AddCapture(opts CaptureOptions) (Handle, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.addCaptureLocked(opts, 1)
}

func (p *Pipeline) addCaptureLocked(opts CaptureOptions, defaultMethod int) (Handle, error) {
	buffers := opts.Buffers
	if buffers <= 0 {
		buffers = defaultCaptureBuffers
	}
	method := defaultMethod
	if opts.Method != nil {
		method = *opts.Method
	}

	// The first element attaches where the caller asked; the rest form
	// a private chain.
	from := opts.ConnectToOutput
	next := func(spec ElementSpec) (Handle, error) {
		if from != nil {
			spec.ConnectToOutput = from
		} else if len(p.elements) == 0 {
			spec.Unlinked = true
		}
		spec.Sidechain = true
		h, err := p.addElementLocked(spec)
		if err != nil {
			return 0, err
		}
		from = []Handle{h}
		return h, nil
	}

	if opts.Width > 0 && opts.Height > 0 {
		if _, err := next(ElementSpec{Type: "videoscale", Properties: map[string]any{"method": method}}); err != nil {
			return 0, err
		}
		caps := fmt.Sprintf("video/x-raw, width=%d, height=%d", opts.Width, opts.Height)
		if _, err := next(ElementSpec{Type: "capsfilter", Properties: map[string]any{"caps": caps}}); err != nil {
			return 0, err
		}
	}
	if _, err := next(ElementSpec{Type: "videoconvert"}); err != nil {
		return 0, err
	}
	if _, err := next(ElementSpec{Type: "capsfilter", Properties: map[string]any{"caps": "video/x-raw, format=RGB"}}); err != nil {
		return 0, err
	}
	sink, err := next(ElementSpec{Type: "appsink", Properties: map[string]any{
		"drop":        true,
		"sync":        false,
		"max-buffers": buffers,
	}})
	if err != nil {
		return 0, err
	}
	p.log.Debug("capture added", logger.Fields("width", opts.Width, "height", opts.Height, "handle", uint64(sink)))
	return sink, nil
}

func (p *Pipeline) appSink(h Handle) (media.AppSink, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	e, err := p.elementLocked(h)
	if err != nil {
		return nil, err
	}
	sink, ok := e.el.(media.AppSink)
	if !ok {
		return nil, errors.InvalidInput("element", e.el.Name()+" is a "+e.typ+", not an appsink")
	}
	return sink, nil
}

// PullBuffer waits up to timeout for the next sample. It returns nil
// when none arrived.
func (p *Pipeline) PullBuffer(h Handle, timeout time.Duration) (*Frame, error) {
	sink, err := p.appSink(h)
	if err != nil {
		return nil, err
	}
	if timeout <= 0 {
		timeout = defaultPullWait
	}
	return frameOf(sink.TryPull(timeout)), nil
}

// PullToFile writes the newest queued sample to path, as PNG when it is
// RGB video and raw bytes otherwise. It reports whether a sample was
// written.
func (p *Pipeline) PullToFile(h Handle, path string, timeout time.Duration) (bool, error) {
	if path == "" {
		return false, errors.InvalidInput("path", "path is required")
	}
	sink, err := p.appSink(h)
	if err != nil {
		return false, err
	}
	if timeout <= 0 {
		timeout = defaultPullWait
	}

	sample := sink.TryPull(timeout)
	// Drain anything queued behind it so the file shows the newest frame.
	for range latestPullTries {
		newer := sink.TryPull(latestPullWait)
		if newer == nil {
			break
		}
		sample = newer
	}
	if sample == nil {
		return false, nil
	}

	if err := writeSample(path, sample); err != nil {
		return false, errors.Internal(err).WithDetail("path", path)
	}
	return true, nil
}

func frameOf(s *media.Sample) *Frame {
	if s == nil {
		return nil
	}
	w, _ := s.Caps.Int("width")
	h, _ := s.Caps.Int("height")
	return &Frame{Data: s.Data, Caps: s.Caps.String(), Width: w, Height: h}
}

// rgbImage views packed RGB bytes as an image.
func rgbImage(s *media.Sample) (*image.RGBA, bool) {
	f, ok := rgbFrameOf(s)
	if !ok || s.Caps.Media != "video/x-raw" {
		return nil, false
	}
	img := image.NewRGBA(image.Rect(0, 0, f.w, f.h))
	for i := range f.w * f.h {
		copy(img.Pix[i*4:i*4+3], f.pix[i*3:i*3+3])
		img.Pix[i*4+3] = 0xff
	}
	return img, true
}

func writeSample(path string, s *media.Sample) error {
	img, ok := rgbImage(s)
	if !ok {
		return os.WriteFile(path, s.Data, 0o644)
	}

	f, err := os.Create(path)
	if err != nil {
		return err
	}
	w := bufio.NewWriter(f)
	if err := png.Encode(w, img); err != nil {
		f.Close()
		return err
	}
	if err := w.Flush(); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
