package main

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"dev.acmcsuf.com/lampd"
	"github.com/gofrs/uuid/v5"
)

// PropertyEvent describes an SSE event sent to property watchers.
type PropertyEvent interface {
	Type() PropertyEventType
}

// PropertyEventType is a type of event sent to property watchers.
type PropertyEventType string

const (
	PropertyEventTypeInit     PropertyEventType = "init"
	PropertyEventTypeProperty PropertyEventType = "property"
)

// PropertyInit is the first event of every stream. It contains every
// property and its current value.
type PropertyInit struct {
	Properties map[lampd.PropertyID]string `json:"properties"`
}

func (PropertyInit) Type() PropertyEventType {
	return PropertyEventTypeInit
}

// PropertyChange is sent whenever a property changes.
type PropertyChange struct {
	ID    lampd.PropertyID `json:"id"`
	Value string           `json:"value"`
}

func (PropertyChange) Type() PropertyEventType {
	return PropertyEventTypeProperty
}

type sseEvent struct {
	Type string
	Data any
}

type writeFlusher interface {
	io.Writer
	http.Flusher
}

func writeSSE(w writeFlusher, ev sseEvent) {
	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Type, ev.Data)
	w.Flush()
}

func propertyEventToSSE(event PropertyEvent) sseEvent {
	b, err := json.Marshal(event)
	if err != nil {
		panic(err)
	}
	return sseEvent{
		Type: string(event.Type()),
		Data: b,
	}
}

type eventsHandler struct {
	store  *lampd.PropertyStore
	logger *slog.Logger
}

func (h *eventsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	wflush, ok := w.(writeFlusher)
	if !ok {
		http.Error(w, "server does not support flushing", http.StatusInternalServerError)
		return
	}

	id := uuid.Must(uuid.NewV7())
	logger := h.logger.With("watcher", id.String())

	// Buffered so that a slow watcher only drops its own events.
	changes := make(chan PropertyChange, 16)
	unsubscribe := h.store.Subscribe(func(id lampd.PropertyID, value string) {
		select {
		case changes <- PropertyChange{ID: id, Value: value}:
		default:
			logger.Warn(
				"dropping property event for slow watcher",
				"property", id)
		}
	})
	defer unsubscribe()

	logger.Info("property watcher connected")

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	writeSSE(wflush, propertyEventToSSE(PropertyInit{
		Properties: h.store.Values(),
	}))

	for {
		select {
		case <-r.Context().Done():
			logger.Info("property watcher disconnected")
			return
		case change := <-changes:
			writeSSE(wflush, propertyEventToSSE(change))
		}
	}
}
