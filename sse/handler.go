package sse

import (
	"fmt"
	"net/http"
	"time"

	"github.com/kbukum/iceflow/logger"
)

// Serve streams the frames of a new client with id to w until the request
// ends or the hub stops. hello is sent as the connected event. A
// keep-alive comment is written every keepAlive.
func Serve(hub *Hub, w http.ResponseWriter, r *http.Request, id string, hello []byte, keepAlive time.Duration) {
	log := logger.Get("sse")
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}
	// Streams outlive the server's write timeout.
	if err := http.NewResponseController(w).SetWriteDeadline(time.Time{}); err != nil {
		log.Debug("could not clear write deadline", logger.Fields("client_id", id, logger.FieldError, err.Error()))
	}

	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")

	c := NewClient(id)
	if !hub.Register(c) {
		http.Error(w, "shutting down", http.StatusServiceUnavailable)
		return
	}
	defer hub.Unregister(c)

	writeFrame(w, Frame{Event: EventConnected, Data: hello})
	flusher.Flush()

	if keepAlive <= 0 {
		keepAlive = 30 * time.Second
	}
	tick := time.NewTicker(keepAlive)
	defer tick.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case f, ok := <-c.Frames():
			if !ok {
				return
			}
			writeFrame(w, f)
			flusher.Flush()
		case <-tick.C:
			_, _ = fmt.Fprintf(w, ": keepalive %d\n\n", time.Now().Unix())
			flusher.Flush()
		}
	}
}

func writeFrame(w http.ResponseWriter, f Frame) {
	if f.Event != "" {
		_, _ = fmt.Fprintf(w, "event: %s\n", f.Event)
	}
	_, _ = fmt.Fprintf(w, "data: %s\n\n", f.Data)
}
