package stream

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/zentrohq/zentro/pkg/models"
)

// Encoder writes the wire protocol for one streaming run: a metadata frame,
// then data frames per event, then exactly one terminal frame. Token frames
// are plain data frames keyed "token"; everything else carries an event tag.
type Encoder struct {
	w       io.Writer
	flusher http.Flusher
}

// NewEncoder wraps a response writer. When w implements http.Flusher every
// frame is flushed immediately, which SSE clients rely on.
func NewEncoder(w io.Writer) *Encoder {
	e := &Encoder{w: w}
	if f, ok := w.(http.Flusher); ok {
		e.flusher = f
	}
	return e
}

// PrepareHeaders sets the response headers for an SSE stream. Must run
// before the first frame.
func PrepareHeaders(h http.Header) {
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
}

// Metadata emits the opening frame carrying the thread id.
func (e *Encoder) Metadata(threadID string) error {
	payload, err := json.Marshal(map[string]string{"thread_id": threadID})
	if err != nil {
		return err
	}
	return e.frame("metadata", payload)
}

// Event emits one normalized execution event. Tokens become plain data
// frames; tool and error events are tagged with their type.
func (e *Encoder) Event(ev *models.ExecutionEvent) error {
	switch ev.Type {
	case models.EventToken:
		payload, err := json.Marshal(map[string]string{"token": ev.Content})
		if err != nil {
			return err
		}
		return e.frame("", payload)
	case models.EventError:
		payload, err := json.Marshal(map[string]string{"error": ev.Message})
		if err != nil {
			return err
		}
		return e.frame("error", payload)
	default:
		payload, err := json.Marshal(ev)
		if err != nil {
			return err
		}
		return e.frame(string(ev.Type), payload)
	}
}

// Done emits the terminal success frame.
func (e *Encoder) Done() error {
	return e.frame("done", []byte("[DONE]"))
}

// Error emits the terminal failure frame. Used when generation fails after
// metadata was already delivered; the client never sees a silent teardown.
func (e *Encoder) Error(message string) error {
	payload, err := json.Marshal(map[string]string{"error": message})
	if err != nil {
		return err
	}
	return e.frame("error", payload)
}

func (e *Encoder) frame(event string, data []byte) error {
	if event != "" {
		if _, err := fmt.Fprintf(e.w, "event: %s\n", event); err != nil {
			return err
		}
	}
	if _, err := fmt.Fprintf(e.w, "data: %s\n\n", data); err != nil {
		return err
	}
	if e.flusher != nil {
		e.flusher.Flush()
	}
	return nil
}
