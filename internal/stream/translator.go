// Package stream normalizes the agent runtime's raw trace into the
// client-facing execution event protocol and encodes it as server-sent
// events.
package stream

import (
	"fmt"

	"github.com/zentrohq/zentro/internal/agent"
	"github.com/zentrohq/zentro/pkg/models"
)

// State of a translation. Transitions are one-way: STARTED → STREAMING →
// DONE or ERRORED.
type State int

const (
	StateStarted State = iota
	StateStreaming
	StateDone
	StateErrored
)

func (s State) String() string {
	switch s {
	case StateStarted:
		return "started"
	case StateStreaming:
		return "streaming"
	case StateDone:
		return "done"
	case StateErrored:
		return "errored"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Translator turns raw trace events into normalized execution events. One
// translator per run; not safe for concurrent use.
type Translator struct {
	state State
}

// NewTranslator starts a translation in the STARTED state.
func NewTranslator() *Translator {
	return &Translator{state: StateStarted}
}

// State returns the current translation state.
func (t *Translator) State() State {
	return t.state
}

// Translate maps one raw trace event to its normalized form. Terminal
// events move the state to DONE or ERRORED; TraceDone itself produces no
// client event (the encoder emits the terminal frame). Events arriving
// after a terminal state are dropped.
func (t *Translator) Translate(ev agent.TraceEvent) (*models.ExecutionEvent, bool) {
	if t.state == StateDone || t.state == StateErrored {
		return nil, false
	}

	switch ev.Kind {
	case agent.TraceText:
		t.state = StateStreaming
		return &models.ExecutionEvent{Type: models.EventToken, Content: ev.Text}, true
	case agent.TraceToolStart:
		t.state = StateStreaming
		return &models.ExecutionEvent{Type: models.EventToolStart, Name: ev.Tool, Input: ev.Input}, true
	case agent.TraceToolEnd:
		t.state = StateStreaming
		return &models.ExecutionEvent{Type: models.EventToolEnd, Name: ev.Tool, Output: ev.Output}, true
	case agent.TraceError:
		t.state = StateErrored
		msg := "generation failed"
		if ev.Err != nil {
			msg = ev.Err.Error()
		}
		return &models.ExecutionEvent{Type: models.EventError, Message: msg}, true
	case agent.TraceDone:
		t.state = StateDone
		return nil, false
	default:
		return nil, false
	}
}

// Collect drains a finished trace into a normalized slice. Used by the
// non-streaming invocation path and by tests.
func Collect(events <-chan agent.TraceEvent) []models.ExecutionEvent {
	t := NewTranslator()
	var out []models.ExecutionEvent
	for ev := range events {
		if normalized, ok := t.Translate(ev); ok {
			out = append(out, *normalized)
		}
	}
	return out
}
