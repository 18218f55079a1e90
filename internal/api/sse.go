package api

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/duckrelay/duckrelay/internal/pipeline"
)

// sseEmitter streams pipeline events as server-sent events, one flush
// per event so chunks reach the caller as they are produced.
type sseEmitter struct {
	writer  http.ResponseWriter
	flusher http.Flusher
}

func newSSEEmitter(w http.ResponseWriter) (*sseEmitter, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, fmt.Errorf("response writer does not support streaming")
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	return &sseEmitter{writer: w, flusher: flusher}, nil
}

func (e *sseEmitter) Ack() error {
	return e.send("ack", map[string]any{})
}

func (e *sseEmitter) Text(chunk string) error {
	return e.send("text", map[string]any{"chunk": chunk})
}

func (e *sseEmitter) Done() error {
	return e.send("done", map[string]any{})
}

func (e *sseEmitter) Errors(details []pipeline.ErrorDetail) error {
	return e.send("errors", details)
}

func (e *sseEmitter) send(event string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode %s event: %w", event, err)
	}
	if _, err := fmt.Fprintf(e.writer, "event: %s\ndata: %s\n\n", event, data); err != nil {
		return fmt.Errorf("write %s event: %w", event, err)
	}
	e.flusher.Flush()
	return nil
}
