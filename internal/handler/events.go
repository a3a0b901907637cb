package handler

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/fastfollow-ai/followup-platform/internal/conversation"
	"github.com/fastfollow-ai/followup-platform/internal/model"
	"github.com/fastfollow-ai/followup-platform/pkg/logger"
	"github.com/fastfollow-ai/followup-platform/pkg/metrics"
)

const (
	layerPollInterval = 250 * time.Millisecond
	heartbeatInterval = 30 * time.Second
)

// EventsHandler streams layer button state over SSE so the UI can flip
// buttons from spinner to clickable as entries complete.
type EventsHandler struct {
	service *conversation.SessionService
	logger  *logger.Logger
}

// NewEventsHandler creates a new SSE events handler.
func NewEventsHandler(svc *conversation.SessionService, log *logger.Logger) *EventsHandler {
	return &EventsHandler{
		service: svc,
		logger:  log,
	}
}

// Stream handles GET /api/v1/sessions/:id/events
func (h *EventsHandler) Stream(w http.ResponseWriter, r *http.Request) {
	ctrl, ok := h.controllerFor(w, r)
	if !ok {
		return
	}
	ctx := r.Context()

	// Set SSE headers
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // Disable nginx buffering

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	metrics.IncrementSSEConnections()
	defer metrics.DecrementSSEConnections()

	done := ctx.Done()

	// Initial snapshot so late subscribers start from current state.
	lastFingerprint := ""
	if layer := ctrl.LayerView(); layer != nil {
		sendSSEEvent(w, flusher, "layer", layer)
		lastFingerprint = layerFingerprint(layer)
	} else {
		sendSSEEvent(w, flusher, "layer", &model.LayerView{Buttons: []model.ButtonState{}})
	}

	poll := time.NewTicker(layerPollInterval)
	defer poll.Stop()

	heartbeat := time.NewTicker(heartbeatInterval)
	defer heartbeat.Stop()

	for {
		select {
		case <-done:
			h.logger.Debug("SSE client disconnected")
			return

		case <-poll.C:
			layer := ctrl.LayerView()
			if layer == nil {
				continue
			}
			if fp := layerFingerprint(layer); fp != lastFingerprint {
				lastFingerprint = fp
				sendSSEEvent(w, flusher, "layer", layer)
			}

		case <-heartbeat.C:
			sendSSEEvent(w, flusher, "heartbeat", map[string]time.Time{
				"timestamp": time.Now(),
			})
		}
	}
}

func (h *EventsHandler) controllerFor(w http.ResponseWriter, r *http.Request) (*conversation.Controller, bool) {
	chat := &ChatHandler{service: h.service, logger: h.logger}
	return chat.controller(w, r)
}

// layerFingerprint is a cheap change detector over token and entry states.
func layerFingerprint(layer *model.LayerView) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%d:", layer.Token)
	for _, btn := range layer.Buttons {
		b.WriteString(btn.ID)
		b.WriteByte('=')
		b.WriteString(string(btn.State))
		b.WriteByte(';')
	}
	return b.String()
}

func sendSSEEvent(w http.ResponseWriter, flusher http.Flusher, event string, data interface{}) error {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return err
	}

	fmt.Fprintf(w, "event: %s\n", event)
	fmt.Fprintf(w, "data: %s\n\n", jsonData)
	flusher.Flush()

	return nil
}
