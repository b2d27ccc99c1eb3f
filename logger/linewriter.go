package logger

import (
	"bytes"
	"sync"

	"github.com/bytedance/sonic"
	"github.com/rs/zerolog"
)

// LineWriter relays another process's log output into a Logger, one entry
// per line. JSON lines written by zerolog keep their level, message and
// fields; anything else is logged verbatim at info level.
type LineWriter struct {
	mu  sync.Mutex
	log *Logger
	buf []byte
}

// maxLineBytes bounds a partial line held while waiting for its newline.
const maxLineBytes = 64 << 10

// NewLineWriter returns a LineWriter logging through l.
func NewLineWriter(l *Logger) *LineWriter {
	return &LineWriter{log: l}
}

// Write implements io.Writer. It never fails.
func (w *LineWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.buf = append(w.buf, p...)
	for {
		i := bytes.IndexByte(w.buf, '\n')
		if i < 0 {
			break
		}
		w.emitLine(w.buf[:i])
		w.buf = w.buf[i+1:]
	}
	if len(w.buf) > maxLineBytes {
		w.emitLine(w.buf)
		w.buf = nil
	}
	return len(p), nil
}

// Close flushes a trailing line without a newline.
func (w *LineWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if len(w.buf) > 0 {
		w.emitLine(w.buf)
		w.buf = nil
	}
	return nil
}

func (w *LineWriter) emitLine(line []byte) {
	line = bytes.TrimRight(line, "\r")
	if len(bytes.TrimSpace(line)) == 0 {
		return
	}

	if line[0] == '{' {
		var entry map[string]interface{}
		if err := sonic.ConfigStd.Unmarshal(line, &entry); err == nil {
			level := zerolog.InfoLevel
			if s, ok := entry[zerolog.LevelFieldName].(string); ok {
				if parsed, err := zerolog.ParseLevel(s); err == nil && parsed != zerolog.NoLevel {
					level = parsed
				}
			}
			msg, _ := entry[zerolog.MessageFieldName].(string)
			delete(entry, zerolog.LevelFieldName)
			delete(entry, zerolog.MessageFieldName)
			delete(entry, zerolog.TimestampFieldName)
			if level == zerolog.FatalLevel || level == zerolog.PanicLevel {
				level = zerolog.ErrorLevel
			}
			w.log.Log(level, msg, entry)
			return
		}
	}
	w.log.Info(string(line))
}
