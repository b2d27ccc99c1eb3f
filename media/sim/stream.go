package sim

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/kbukum/iceflow/media"
)

// videotestsrc patterns with special content.
const (
	patternSnow  = 1
	patternBlack = 2
	patternWhite = 3
)

// process handles one buffer reaching e from src. It returns the messages
// to post and false when streaming must stop.
func (e *element) process(p *pipeline, src *element, tick int64) ([]*media.Message, bool) {
	e.buffers++
	e.running += tick
	ts := uint64(p.position)

	switch e.typ {
	case "queue":
		e.setInternal("current-level-time", uint64(2*tick))
		e.setInternal("current-level-buffers", uint64(2))

	case "identity":
		if n, _ := e.prop("error-after").(int64); n > 0 && e.buffers >= n {
			return []*media.Message{{
				Type:  media.MessageError,
				Src:   e.name,
				Err:   fmt.Errorf("test error after %d buffers", n),
				Debug: "identity: error-after reached",
			}}, false
		}

	case "level":
		if on, _ := e.prop("post-messages").(bool); !on {
			return nil, true
		}
		interval, _ := e.prop("interval").(uint64)
		if e.running-e.lastPost < int64(interval) {
			return nil, true
		}
		e.lastPost = e.running
		rms, peak := levelOf(e, src)
		return []*media.Message{{
			Type: media.MessageElement,
			Src:  e.name,
			Structure: media.NewStructure("level", map[string]any{
				"timestamp": ts,
				"endtime":   ts + interval,
				"duration":  interval,
				"rms":       []float64{rms, rms},
				"peak":      []float64{peak, peak},
				"decay":     []float64{peak, peak},
			}),
		}}, true

	case "motioncells":
		if static(src) {
			return nil, true
		}
		gap, _ := e.prop("gap").(int64)
		switch {
		case !e.flags["begin"]:
			e.flags["begin"] = true
			return []*media.Message{motion(e.name, "motion_begin", ts)}, true
		case !e.flags["end"] && e.running >= gap*int64(time.Second):
			e.flags["end"] = true
			return []*media.Message{motion(e.name, "motion_finished", ts)}, true
		}

	case "videoanalyse":
		if on, _ := e.prop("message").(bool); !on {
			return nil, true
		}
		avg, variance := lumaOf(src)
		return []*media.Message{{
			Type: media.MessageElement,
			Src:  e.name,
			Structure: media.NewStructure("GstVideoAnalyse", map[string]any{
				"timestamp":     ts,
				"luma-average":  avg,
				"luma-variance": variance,
			}),
		}}, true

	case "zbar":
		if on, _ := e.prop("message").(bool); !on {
			return nil, true
		}
		cache, _ := e.prop("cache").(bool)
		if e.flags["seen"] && (cache || e.running-e.lastPost < int64(time.Second)) {
			return nil, true
		}
		e.flags["seen"] = true
		e.lastPost = e.running
		return []*media.Message{{
			Type: media.MessageElement,
			Src:  e.name,
			Structure: media.NewStructure("barcode", map[string]any{
				"timestamp": ts,
				"type":      "QR-Code",
				"symbol":    "iceflow",
				"quality":   int64(100),
			}),
		}}, true

	case "multifilesink":
		if on, _ := e.prop("post-messages").(bool); !on {
			return nil, true
		}
		loc, _ := e.prop("location").(string)
		idx := e.buffers - 1
		name := loc
		if strings.Contains(loc, "%") {
			name = fmt.Sprintf(loc, idx)
		}
		return []*media.Message{{
			Type: media.MessageElement,
			Src:  e.name,
			Structure: media.NewStructure("GstMultiFileSink", map[string]any{
				"filename":  name,
				"index":     idx,
				"timestamp": ts,
			}),
		}}, true

	case "appsink":
		e.appsink.push(sampleFor(e, src))
	}
	return nil, true
}

func motion(src, field string, ts uint64) *media.Message {
	return &media.Message{
		Type:      media.MessageElement,
		Src:       src,
		Structure: media.NewStructure("motion", map[string]any{field: ts}),
	}
}

// levelOf returns the per-channel RMS and peak in dB for the branch
// between src and e, scaled by every volume element on the way.
func levelOf(e, src *element) (rms, peak float64) {
	amp := 0.5
	if src.typ == "audiotestsrc" {
		amp, _ = src.prop("volume").(float64)
	}
	for cur := e.upstream; cur != nil; cur = cur.upstream {
		if cur.typ != "volume" {
			continue
		}
		if mute, _ := cur.prop("mute").(bool); mute {
			amp = 0
		}
		v, _ := cur.prop("volume").(float64)
		amp *= v
	}
	if amp <= 0 {
		return -700, -700
	}
	return 20 * math.Log10(amp*math.Sqrt2/2), 20 * math.Log10(amp)
}

func pattern(src *element) int64 {
	if src.typ != "videotestsrc" {
		return 0
	}
	n, _ := src.prop("pattern").(int64)
	return n
}

func static(src *element) bool {
	p := pattern(src)
	return p == patternBlack || p == patternWhite
}

func lumaOf(src *element) (avg, variance float64) {
	switch pattern(src) {
	case patternBlack:
		return 0, 0
	case patternWhite:
		return 1, 0
	default:
		return 0.5, 1.0 / 12
	}
}

var defaultVideo = media.MustParseCaps("video/x-raw, format=RGB, width=320, height=240")
var defaultAudio = media.MustParseCaps("audio/x-raw, format=S16LE, rate=48000, channels=2")

// sampleFor synthesises the buffer src delivers to the appsink e. The
// format comes from the capsfilters upstream, nearest first, completed
// from the source defaults.
func sampleFor(e, src *element) *media.Sample {
	def := defaultVideo
	if outKind(src) == kindAudio {
		def = defaultAudio
	}
	var caps media.Caps
	for cur := e.upstream; cur != nil; cur = cur.upstream {
		if cur.typ != "capsfilter" {
			continue
		}
		if c, ok := cur.prop("caps").(media.Caps); ok && !c.IsEmpty() {
			caps = caps.Merge(c)
		}
	}
	if caps.IsEmpty() || caps.Media == def.Media {
		caps = caps.Merge(def)
	}

	if capsKind(caps) != kindVideo {
		return &media.Sample{Data: make([]byte, 3840), Caps: caps}
	}
	w, ok := caps.Int("width")
	if !ok {
		w, _ = defaultVideo.Int("width")
	}
	h, ok := caps.Int("height")
	if !ok {
		h, _ = defaultVideo.Int("height")
	}
	if f, _ := caps.Field("format"); f != "RGB" {
		data := make([]byte, w*h*3/2)
		for i := range data {
			data[i] = 0x80
		}
		return &media.Sample{Data: data, Caps: caps}
	}
	return &media.Sample{Data: frame(pattern(src), src.buffers, w, h), Caps: caps}
}

// frame renders an RGB frame. The default pattern is a gradient moving
// four pixels per frame; snow is seeded by the frame number.
func frame(pat, n int64, w, h int) []byte {
	data := make([]byte, w*h*3)
	switch pat {
	case patternBlack:
	case patternWhite:
		for i := range data {
			data[i] = 0xff
		}
	case patternSnow:
		x := uint32(n)*2654435761 + 1
		for i := range data {
			x ^= x << 13
			x ^= x >> 17
			x ^= x << 5
			data[i] = byte(x)
		}
	default:
		for y := range h {
			for x := range w {
				v := byte(x + y + int(n)*4)
				o := (y*w + x) * 3
				data[o], data[o+1], data[o+2] = v, v, v
			}
		}
	}
	return data
}
