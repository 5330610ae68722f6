package service

import (
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/audiolibrelab/camcapture/internal/recorder"
)

// EventType identifies a controller notification
type EventType string

const (
	EventStateChanged          EventType = "state_changed"
	EventStatusChanged         EventType = "status_changed"
	EventDurationChanged       EventType = "duration_changed"
	EventActualLocationChanged EventType = "actual_location_changed"
	EventError                 EventType = "error"
)

// Event is a controller notification as delivered to subscribers
type Event struct {
	Type       EventType `json:"type"`
	Time       time.Time `json:"time"`
	SessionID  string    `json:"session_id,omitempty"`
	State      string    `json:"state,omitempty"`
	Status     string    `json:"status,omitempty"`
	DurationMs int64     `json:"duration_ms,omitempty"`
	Location   string    `json:"location,omitempty"`
	Code       string    `json:"code,omitempty"`
	Message    string    `json:"message,omitempty"`
}

const subscriberBuffer = 64

// hub fans events out to subscribers without blocking the publisher
type hub struct {
	mu          sync.RWMutex
	subscribers map[string]chan Event
	closed      bool
}

func newHub() *hub {
	return &hub{subscribers: make(map[string]chan Event)}
}

func (h *hub) subscribe() (string, <-chan Event) {
	h.mu.Lock()
	defer h.mu.Unlock()

	id := uuid.NewString()
	ch := make(chan Event, subscriberBuffer)
	if h.closed {
		close(ch)
		return id, ch
	}
	h.subscribers[id] = ch
	return id, ch
}

func (h *hub) unsubscribe(id string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if ch, ok := h.subscribers[id]; ok {
		delete(h.subscribers, id)
		close(ch)
	}
}

func (h *hub) publish(e Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for id, ch := range h.subscribers {
		select {
		case ch <- e:
		default:
			slog.Debug("Dropping event for slow subscriber", "subscriber", id, "type", e.Type)
		}
	}
}

func (h *hub) close() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for id, ch := range h.subscribers {
		delete(h.subscribers, id)
		close(ch)
	}
	h.closed = true
}

func (s *CameraService) publish(e Event) {
	e.Time = time.Now()
	s.sessionMutex.RLock()
	if s.session != nil {
		e.SessionID = s.session.ID
	}
	s.sessionMutex.RUnlock()
	s.hub.publish(e)
}

// StateChanged implements recorder.Listener
func (s *CameraService) StateChanged(state recorder.State) {
	if state == recorder.StateRecording {
		s.sessionMutex.Lock()
		if s.session != nil {
			s.session.StartTime = time.Now()
		}
		s.sessionMutex.Unlock()
	}
	s.publish(Event{Type: EventStateChanged, State: state.String()})
}

// StatusChanged implements recorder.Listener
func (s *CameraService) StatusChanged(status recorder.Status) {
	s.publish(Event{Type: EventStatusChanged, Status: status.String()})
}

// DurationChanged implements recorder.Listener
func (s *CameraService) DurationChanged(ms int64) {
	s.publish(Event{Type: EventDurationChanged, DurationMs: ms})
}

// ActualLocationChanged implements recorder.Listener
func (s *CameraService) ActualLocationChanged(location string) {
	s.sessionMutex.Lock()
	if s.session != nil {
		s.session.OutputFile = strings.TrimPrefix(location, "file://")
	}
	s.sessionMutex.Unlock()
	s.publish(Event{Type: EventActualLocationChanged, Location: location})
}

// Error implements recorder.Listener
func (s *CameraService) Error(code recorder.ErrorCode, message string) {
	s.setLastError(message)
	slog.Error("Recording error occurred", "code", code, "error_message", message)
	s.publish(Event{Type: EventError, Code: code.String(), Message: message})
}
