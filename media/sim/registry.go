package sim

import (
	"time"

	"github.com/kbukum/iceflow/media"
)

type kind uint8

const (
	kindAny kind = iota
	kindAudio
	kindVideo
)

// formatAny marks converters whose output satisfies any format requirement.
const formatAny = "*"

type typeInfo struct {
	input   bool
	output  bool
	dynamic bool
	source  bool
	// maxSrc is the number of static source pads; -1 is unlimited.
	maxSrc  int
	outKind kind
	inKind  kind
	format  string
	accepts string
	child   string
	props   map[string]any
}

var noStructure *media.Structure

func passthrough(k kind, props map[string]any) typeInfo {
	return typeInfo{input: true, output: true, maxSrc: 1, inKind: k, props: props}
}

func sink(k kind, props map[string]any) typeInfo {
	return typeInfo{input: true, inKind: k, props: props}
}

func source(k kind, format string, props map[string]any) typeInfo {
	return typeInfo{output: true, source: true, maxSrc: 1, outKind: k, format: format, props: props}
}

var jackProps = map[string]any{
	"connect":      int64(1),
	"client-name":  "iceflow",
	"port-pattern": "",
	"server":       "",
}

var registry = map[string]typeInfo{
	"audiotestsrc": source(kindAudio, "S16LE", map[string]any{
		"wave": int64(0), "freq": 440.0, "volume": 0.8,
		"is-live": false, "num-buffers": int64(-1),
	}),
	"videotestsrc": source(kindVideo, "", map[string]any{
		"pattern": int64(0), "is-live": false, "num-buffers": int64(-1),
	}),
	"v4l2src": source(kindVideo, "", map[string]any{
		"device": "/dev/video0", "io-mode": int64(0), "extra-controls": noStructure,
		"num-buffers": int64(-1),
	}),
	"filesrc": source(kindAny, "", map[string]any{
		"location": "", "blocksize": uint64(4096), "num-buffers": int64(-1),
	}),
	"jackaudiosrc": source(kindAudio, "F32LE", jackProps),

	"decodebin": {input: true, output: true, dynamic: true, props: map[string]any{
		"caps": media.Caps{}, "expose-all-streams": true,
	}},
	"audioconvert": {input: true, output: true, maxSrc: 1, inKind: kindAudio, outKind: kindAudio, format: formatAny, props: map[string]any{
		"dithering": int64(3),
	}},
	"audioresample": passthrough(kindAudio, map[string]any{"quality": int64(4)}),
	"volume":        passthrough(kindAudio, map[string]any{"volume": 1.0, "mute": false}),
	"level": passthrough(kindAudio, map[string]any{
		"interval": uint64(100 * time.Millisecond), "post-messages": true,
		"peak-ttl": uint64(300 * time.Millisecond), "peak-falloff": 10.0,
	}),
	"queue": passthrough(kindAny, map[string]any{
		"max-size-buffers": uint64(200), "max-size-time": uint64(time.Second),
		"max-size-bytes": uint64(10485760), "leaky": int64(0),
		"current-level-time": uint64(0), "current-level-buffers": uint64(0),
	}),
	"identity": passthrough(kindAny, map[string]any{
		"silent": true, "sync": false, "error-after": int64(-1), "drop-probability": 0.0,
	}),
	"tee": {input: true, output: true, maxSrc: -1, props: map[string]any{
		"allow-not-linked": false,
	}},
	"capsfilter":   passthrough(kindAny, map[string]any{"caps": media.Caps{}}),
	"videoconvert": passthrough(kindVideo, map[string]any{"n-threads": uint64(1)}),
	"videoscale":   passthrough(kindVideo, map[string]any{"method": int64(1), "add-borders": true}),
	"videorate":    passthrough(kindVideo, map[string]any{"max-rate": int64(2147483647), "drop-only": false}),
	"motioncells": passthrough(kindVideo, map[string]any{
		"sensitivity": 0.5, "gap": int64(5), "display": true, "postallmotion": false,
	}),
	"videoanalyse": passthrough(kindVideo, map[string]any{"message": true}),
	"zbar":         passthrough(kindVideo, map[string]any{"message": true, "cache": false}),

	"fakesink": sink(kindAny, map[string]any{"sync": true, "async": true, "silent": true}),
	"appsink": sink(kindAny, map[string]any{
		"caps": media.Caps{}, "drop": false, "sync": true,
		"max-buffers": uint64(0), "emit-signals": false,
	}),
	"multifilesink": sink(kindAny, map[string]any{
		"location": "%05d", "post-messages": false, "next-file": int64(0), "max-files": uint64(0),
	}),
	"jackaudiosink": {input: true, inKind: kindAudio, accepts: "F32LE", props: jackProps},
	"autoaudiosink": {input: true, inKind: kindAudio, child: "pulsesink", props: map[string]any{
		"sync": true,
	}},
	"autovideosink": {input: true, inKind: kindVideo, child: "xvimagesink", props: map[string]any{
		"sync": true,
	}},
	"pulsesink":   sink(kindAudio, map[string]any{"sync": true, "volume": 1.0, "device": ""}),
	"xvimagesink": sink(kindVideo, map[string]any{"sync": true, "force-aspect-ratio": true}),
}

// readOnly lists properties the framework updates itself.
var readOnly = map[string]bool{
	"current-level-time":    true,
	"current-level-buffers": true,
}
