package bridge

import (
	"bufio"
	"encoding/binary"
	stderrors "errors"
	"fmt"
	"io"
	"sync"

	"github.com/bytedance/sonic"

	"github.com/kbukum/iceflow/errors"
)

// MaxFrameSize bounds a single message body.
const MaxFrameSize = 64 << 20

const headerSize = 4

var (
	// ErrFrameTooLarge is returned for frames over MaxFrameSize.
	ErrFrameTooLarge = stderrors.New("bridge: frame exceeds maximum size")
	// ErrMalformedFrame is returned for a complete frame whose body is not
	// a valid message. The stream stays usable.
	ErrMalformedFrame = stderrors.New("bridge: malformed frame")
)

var codec = sonic.ConfigStd

// Encoder writes framed messages. It is safe for concurrent use; each frame
// is written with a single Write call.
type Encoder struct {
	mu  sync.Mutex
	w   io.Writer
	buf []byte
}

// NewEncoder returns an Encoder writing to w.
func NewEncoder(w io.Writer) *Encoder {
	return &Encoder{w: w}
}

// Encode writes one message.
func (e *Encoder) Encode(m *Message) error {
	body, err := codec.Marshal(m)
	if err != nil {
		return fmt.Errorf("bridge: encode %s: %w", m.Kind, err)
	}
	if len(body) > MaxFrameSize {
		return ErrFrameTooLarge
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	e.buf = append(e.buf[:0], make([]byte, headerSize)...)
	binary.BigEndian.PutUint32(e.buf, uint32(len(body)))
	e.buf = append(e.buf, body...)
	if _, err := e.w.Write(e.buf); err != nil {
		return fmt.Errorf("bridge: write: %w", err)
	}
	if cap(e.buf) > 1<<20 {
		e.buf = nil
	}
	return nil
}

// Decoder reads framed messages. It is not safe for concurrent use.
type Decoder struct {
	r      *bufio.Reader
	header [headerSize]byte
}

// NewDecoder returns a Decoder reading from r.
func NewDecoder(r io.Reader) *Decoder {
	return &Decoder{r: bufio.NewReaderSize(r, 64<<10)}
}

// Decode reads the next message. It returns io.EOF at a clean end of
// stream and io.ErrUnexpectedEOF when the stream ends mid-frame.
func (d *Decoder) Decode(m *Message) error {
	if _, err := io.ReadFull(d.r, d.header[:]); err != nil {
		return err
	}
	n := binary.BigEndian.Uint32(d.header[:])
	if n > MaxFrameSize {
		return ErrFrameTooLarge
	}

	body := make([]byte, n)
	if _, err := io.ReadFull(d.r, body); err != nil {
		if stderrors.Is(err, io.EOF) {
			return io.ErrUnexpectedEOF
		}
		return err
	}

	*m = Message{}
	if err := codec.Unmarshal(body, m); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}
	return nil
}

func marshalParams(v any) ([]byte, error) {
	if v == nil {
		return nil, nil
	}
	return codec.Marshal(v)
}

func unmarshalResult(data []byte, v any) error {
	if v == nil || len(data) == 0 {
		return nil
	}
	return codec.Unmarshal(data, v)
}

// DecodeParams decodes request params into v. Empty params leave v
// unchanged.
func DecodeParams(params []byte, v any) error {
	if len(params) == 0 || string(params) == "null" {
		return nil
	}
	if err := codec.Unmarshal(params, v); err != nil {
		return errors.InvalidInput("params", err.Error())
	}
	return nil
}
