package engine

import (
	"math"
	"sort"

	"github.com/kbukum/iceflow/errors"
	"github.com/kbukum/iceflow/logger"
	"github.com/kbukum/iceflow/media"
)

// AddPresenceDetector adds a capture chain whose frames are compared on
// every loop tick. A pipeline has at most one detector.
func (p *Pipeline) AddPresenceDetector(opts PresenceOptions) (Handle, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.presence != nil {
		return 0, errors.Conflict("pipeline already has a presence detector")
	}
	for name, r := range opts.Regions {
		if r[2] <= 0 || r[3] <= 0 || r[0] < 0 || r[1] < 0 || r[0]+r[2] > 1 || r[1]+r[3] > 1 {
			return 0, errors.InvalidInput("regions", "region "+name+" is outside the unit square")
		}
	}

	nearest := 0
	h, err := p.addCaptureLocked(CaptureOptions{
		Width:           opts.Width,
		Height:          opts.Height,
		ConnectToOutput: opts.ConnectToOutput,
		Method:          &nearest,
	}, 0)
	if err != nil {
		return 0, err
	}
	e, err := p.elementLocked(h)
	if err != nil {
		return 0, err
	}
	p.presence = newPresenceDetector(e.el.(media.AppSink), opts.Regions)
	p.log.Debug("presence detector added", logger.Fields("regions", len(opts.Regions)))
	return h, nil
}

// presenceDetector scores frame-to-frame change of the whole image and
// of optional fractional regions.
type presenceDetector struct {
	sink    media.AppSink
	masks   map[string][4]float64
	names   []string
	whole   presenceRegion
	regions map[string]*presenceRegion
}

func newPresenceDetector(sink media.AppSink, masks map[string][4]float64) *presenceDetector {
	d := &presenceDetector{sink: sink, masks: masks, regions: make(map[string]*presenceRegion)}
	for name := range masks {
		d.names = append(d.names, name)
		d.regions[name] = &presenceRegion{}
	}
	sort.Strings(d.names)
	return d
}

func (d *presenceDetector) poll() (PresenceEvent, bool) {
	s := d.sink.TryPull(defaultPullWait)
	if s == nil {
		return PresenceEvent{}, false
	}
	img, ok := rgbFrameOf(s)
	if !ok {
		return PresenceEvent{}, false
	}

	ev := PresenceEvent{Value: d.whole.poll(img)}
	if len(d.masks) == 0 {
		return ev, true
	}
	ev.Regions = map[string]float64{"": ev.Value}
	for _, name := range d.names {
		m := d.masks[name]
		x0, y0 := int(m[0]*float64(img.w)), int(m[1]*float64(img.h))
		x1, y1 := x0+int(m[2]*float64(img.w)), y0+int(m[3]*float64(img.h))
		ev.Regions[name] = d.regions[name].poll(img.crop(x0, y0, x1, y1))
	}
	return ev, true
}

type rgbFrame struct {
	w, h int
	pix  []byte
}

func rgbFrameOf(s *media.Sample) (rgbFrame, bool) {
	if format, _ := s.Caps.Field("format"); format != "RGB" {
		return rgbFrame{}, false
	}
	w, okW := s.Caps.Int("width")
	h, okH := s.Caps.Int("height")
	if !okW || !okH || w <= 0 || h <= 0 || len(s.Data) < w*h*3 {
		return rgbFrame{}, false
	}
	return rgbFrame{w: w, h: h, pix: s.Data[:w*h*3]}, true
}

func (f rgbFrame) crop(x0, y0, x1, y1 int) rgbFrame {
	x0, y0 = max(x0, 0), max(y0, 0)
	x1, y1 = min(x1, f.w), min(y1, f.h)
	if x1 <= x0 || y1 <= y0 {
		return rgbFrame{}
	}
	out := rgbFrame{w: x1 - x0, h: y1 - y0}
	out.pix = make([]byte, 0, out.w*out.h*3)
	for y := y0; y < y1; y++ {
		out.pix = append(out.pix, f.pix[(y*f.w+x0)*3:(y*f.w+x1)*3]...)
	}
	return out
}

// presenceRegion keeps the previous frame of one region.
type presenceRegion struct {
	last rgbFrame
}

// poll returns the change score against the previous frame: the
// luma of the absolute difference, eroded with a 3x3 minimum filter to
// suppress single-pixel noise, thresholded at 1.5 times its mean plus 4,
// then the root mean square over 2.5.
func (r *presenceRegion) poll(cur rgbFrame) float64 {
	prev := r.last
	if cur.w > 0 {
		r.last = cur
	}
	if prev.w == 0 || prev.w != cur.w || prev.h != cur.h {
		return 0
	}

	w, h := cur.w, cur.h
	diff := make([]float64, w*h)
	for i := range diff {
		o := i * 3
		dr := absDiff(cur.pix[o], prev.pix[o])
		dg := absDiff(cur.pix[o+1], prev.pix[o+1])
		db := absDiff(cur.pix[o+2], prev.pix[o+2])
		diff[i] = dr*0.299 + dg*0.587 + db*0.114
	}
	d := erode3(diff, w, h)

	var sum float64
	for _, v := range d {
		sum += v
	}
	threshold := sum/float64(len(d))*1.5 + 4

	var sq float64
	for _, v := range d {
		v = math.Max(v-threshold, 0)
		sq += v * v
	}
	return math.Sqrt(sq/float64(len(d))) / 2.5
}

func absDiff(a, b byte) float64 {
	if a > b {
		return float64(a - b)
	}
	return float64(b - a)
}

// erode3 is a 3x3 minimum filter with edge pixels repeated.
func erode3(src []float64, w, h int) []float64 {
	out := make([]float64, len(src))
	for y := range h {
		for x := range w {
			m := math.Inf(1)
			for dy := -1; dy <= 1; dy++ {
				yy := min(max(y+dy, 0), h-1)
				for dx := -1; dx <= 1; dx++ {
					xx := min(max(x+dx, 0), w-1)
					m = math.Min(m, src[yy*w+xx])
				}
			}
			out[y*w+x] = m
		}
	}
	return out
}
