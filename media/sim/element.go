package sim

import (
	stderrors "errors"
	"fmt"
	"maps"
	"strconv"
	"strings"
	"sync"

	"github.com/kbukum/iceflow/media"
)

// node is implemented by every element handed out by the framework.
type node interface {
	node() *element
}

type element struct {
	fw   *Framework
	name string
	typ  string
	info typeInfo

	mu     sync.Mutex
	props  map[string]any
	padFns map[int]func(media.Pad)
	nextFn int

	children []*element
	appsink  *appSink

	// Graph fields, guarded by the owning pipeline's mutex.
	pipeline *pipeline
	upstream *element
	peers    []*element
	pads     []*pad

	// Streaming state, touched only by the stream thread under the
	// pipeline mutex.
	buffers  int64
	running  int64
	lastPost int64
	flags    map[string]bool
}

var _ media.Element = (*element)(nil)

func newElement(f *Framework, typ, name string, info typeInfo) *element {
	return &element{
		fw:     f,
		name:   name,
		typ:    typ,
		info:   info,
		props:  maps.Clone(info.props),
		padFns: make(map[int]func(media.Pad)),
		flags:  make(map[string]bool),
	}
}

func (e *element) node() *element { return e }

func (e *element) Name() string { return e.name }
func (e *element) Type() string { return e.typ }
func (e *element) HasInput() bool { return e.info.input }
func (e *element) HasOutput() bool { return e.info.output }
func (e *element) DynamicPads() bool { return e.info.dynamic }

func (e *element) SetProperty(name string, value any) error {
	def, ok := e.info.props[name]
	if !ok {
		return fmt.Errorf("%s: no property %q", e.typ, name)
	}
	if readOnly[name] {
		return fmt.Errorf("%s: property %q is not writable", e.typ, name)
	}
	v, err := convert(def, value)
	if err != nil {
		return fmt.Errorf("%s.%s: %w", e.typ, name, err)
	}
	e.mu.Lock()
	e.props[name] = v
	e.mu.Unlock()
	return nil
}

func (e *element) Property(name string) (any, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	v, ok := e.props[name]
	if !ok {
		return nil, fmt.Errorf("%s: no property %q", e.typ, name)
	}
	return v, nil
}

func (e *element) Child(index int) (media.Element, error) {
	if index < 0 || index >= len(e.children) {
		return nil, fmt.Errorf("%s: no child %d", e.name, index)
	}
	return e.children[index], nil
}

func (e *element) Link(dst media.Element) error {
	d, ok := dst.(node)
	if !ok {
		return stderrors.New("sim: foreign element")
	}
	to := d.node()
	p := e.pipeline
	if p == nil || to.pipeline != p {
		return fmt.Errorf("%s and %s are not in the same pipeline", e.name, to.name)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if !e.info.output || e.info.dynamic {
		return fmt.Errorf("%s has no static source pad", e.name)
	}
	if e.info.maxSrc >= 0 && len(e.peers) >= max(e.info.maxSrc, 1) {
		return fmt.Errorf("%s has no free source pad", e.name)
	}
	if err := canFeed(outKind(e), outFormat(e), to); err != nil {
		return fmt.Errorf("%s -> %s: %w", e.name, to.name, err)
	}
	e.peers = append(e.peers, to)
	to.upstream = e
	return nil
}

func (e *element) OnPadAdded(fn func(media.Pad)) func() {
	e.mu.Lock()
	id := e.nextFn
	e.nextFn++
	e.padFns[id] = fn
	e.mu.Unlock()

	return func() {
		e.mu.Lock()
		delete(e.padFns, id)
		e.mu.Unlock()
	}
}

func (e *element) padCallbacks() []func(media.Pad) {
	e.mu.Lock()
	defer e.mu.Unlock()
	fns := make([]func(media.Pad), 0, len(e.padFns))
	for i := range e.nextFn {
		if fn, ok := e.padFns[i]; ok {
			fns = append(fns, fn)
		}
	}
	return fns
}

func (e *element) prop(name string) any {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.props[name]
}

func (e *element) setInternal(name string, v any) {
	e.mu.Lock()
	e.props[name] = v
	e.mu.Unlock()
}

// pad is a dynamic source pad.
type pad struct {
	owner *element
	name  string
	caps  media.Caps
	peer  *element
}

func (p *pad) Name() string { return p.name }
func (p *pad) Caps() media.Caps { return p.caps }

func (p *pad) Link(dst media.Element) error {
	d, ok := dst.(node)
	if !ok {
		return stderrors.New("sim: foreign element")
	}
	to := d.node()
	pl := p.owner.pipeline
	if pl == nil || to.pipeline != pl {
		return fmt.Errorf("%s and %s are not in the same pipeline", p.owner.name, to.name)
	}

	pl.mu.Lock()
	defer pl.mu.Unlock()
	if p.peer != nil {
		return fmt.Errorf("pad %s:%s already linked", p.owner.name, p.name)
	}
	fmtName, _ := p.caps.Field("format")
	if err := canFeed(capsKind(p.caps), fmtName, to); err != nil {
		return fmt.Errorf("%s:%s -> %s: %w", p.owner.name, p.name, to.name, err)
	}
	p.peer = to
	to.upstream = p.owner
	return nil
}

func canFeed(k kind, format string, to *element) error {
	if !to.info.input {
		return stderrors.New("destination has no sink pad")
	}
	if to.upstream != nil {
		return stderrors.New("sink pad already linked")
	}
	if to.info.inKind != kindAny && k != kindAny && to.info.inKind != k {
		return stderrors.New("incompatible media types")
	}
	if to.info.accepts != "" && format != "" && format != formatAny && format != to.info.accepts {
		return fmt.Errorf("format %s not accepted, need %s", format, to.info.accepts)
	}
	return nil
}

// outKind resolves the media kind leaving e by walking upstream through
// pass-through elements.
func outKind(e *element) kind {
	for cur := e; cur != nil; cur = cur.upstream {
		if cur.info.outKind != kindAny {
			return cur.info.outKind
		}
		if cur.typ == "capsfilter" {
			if c, ok := cur.prop("caps").(media.Caps); ok && !c.IsEmpty() {
				return capsKind(c)
			}
		}
		if cur.info.inKind != kindAny {
			return cur.info.inKind
		}
		if cur.info.dynamic {
			for _, p := range cur.pads {
				if p.peer != nil {
					return capsKind(p.caps)
				}
			}
		}
	}
	return kindAny
}

func outFormat(e *element) string {
	for cur := e; cur != nil; cur = cur.upstream {
		if cur.info.format != "" {
			return cur.info.format
		}
		if cur.info.dynamic {
			for _, p := range cur.pads {
				if f, ok := p.caps.Field("format"); ok && p.peer != nil {
					return f
				}
			}
		}
	}
	return ""
}

func capsKind(c media.Caps) kind {
	switch {
	case strings.HasPrefix(c.Media, "audio/"):
		return kindAudio
	case strings.HasPrefix(c.Media, "video/"):
		return kindVideo
	default:
		return kindAny
	}
}

// root returns the element feeding e's branch.
func (e *element) root() *element {
	cur := e
	for cur.upstream != nil {
		cur = cur.upstream
	}
	return cur
}

func (e *element) downstream() []*element {
	out := make([]*element, 0, len(e.peers)+len(e.pads))
	out = append(out, e.peers...)
	for _, p := range e.pads {
		if p.peer != nil {
			out = append(out, p.peer)
		}
	}
	return out
}

func convert(def, v any) (any, error) {
	switch def.(type) {
	case bool:
		switch x := v.(type) {
		case bool:
			return x, nil
		case string:
			return strconv.ParseBool(x)
		}
	case int64:
		if f, ok := number(v); ok {
			if f != float64(int64(f)) {
				return nil, fmt.Errorf("%v is not an integer", v)
			}
			return int64(f), nil
		}
	case uint64:
		if f, ok := number(v); ok {
			if f < 0 || f != float64(uint64(f)) {
				return nil, fmt.Errorf("%v is not an unsigned integer", v)
			}
			return uint64(f), nil
		}
	case float64:
		if f, ok := number(v); ok {
			return f, nil
		}
	case string:
		if s, ok := v.(string); ok {
			return s, nil
		}
	case media.Caps:
		switch x := v.(type) {
		case media.Caps:
			return x, nil
		case string:
			return media.ParseCaps(x)
		}
	case *media.Structure:
		switch x := v.(type) {
		case *media.Structure:
			return x, nil
		case media.Structure:
			return &x, nil
		}
	}
	return nil, fmt.Errorf("cannot use %T value %v", v, v)
}

func number(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	default:
		return 0, false
	}
}
