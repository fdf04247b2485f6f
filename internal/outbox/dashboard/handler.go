package dashboard

import (
	"encoding/json"
	"log"
	"time"

	"github.com/fieldops/fieldsync/internal/outbox/bus"
	"github.com/fieldops/fieldsync/internal/outbox/queue"
)

// QueueSource adapts the outbox queue to StatusSource.
type QueueSource struct {
	Queue *queue.Queue
}

// Counts implements StatusSource.
func (s QueueSource) Counts() (CountsData, error) {
	counts := s.Queue.SyncStatus(nil, 0)
	return CountsData{
		Pending:    counts.Pending,
		InProgress: counts.InProgress,
		Succeeded:  counts.Succeeded,
		Failed:     counts.Failed,
		Total:      counts.Total,
		Jobs:       s.Queue.JobsWithPendingSync(),
	}, nil
}

// Handler bridges the outbox bus to the WebSocket server: every bus event
// becomes a queue_event message, followed by refreshed counts.
type Handler struct {
	server *Server
	logger *log.Logger

	unsubscribe func()
}

// NewHandler creates a handler that broadcasts through server.
func NewHandler(server *Server, logger *log.Logger) *Handler {
	if logger == nil {
		logger = log.Default()
	}
	return &Handler{server: server, logger: logger}
}

// Attach subscribes the handler to b. Call Detach to stop.
func (h *Handler) Attach(b *bus.Bus) {
	h.unsubscribe = b.Subscribe(h.onEvent)
}

// Detach unsubscribes from the bus. Safe to call when never attached.
func (h *Handler) Detach() {
	if h.unsubscribe != nil {
		h.unsubscribe()
		h.unsubscribe = nil
	}
}

func (h *Handler) onEvent(event bus.Event) {
	data, err := json.Marshal(QueueEventData{
		Event:  string(event.Type),
		UID:    event.UID,
		Entity: string(event.Entity),
		JobID:  event.JobID,
		Status: string(event.Status),
	})
	if err != nil {
		h.logger.Printf("Failed to marshal event: %v", err)
		return
	}

	h.server.Broadcast(Message{
		Type:      MessageTypeQueueEvent,
		Timestamp: time.Now(),
		Data:      data,
	})
	h.broadcastCounts()
}

func (h *Handler) broadcastCounts() {
	counts, err := h.server.counts()
	if err != nil {
		h.logger.Printf("Failed to read counts: %v", err)
		return
	}

	data, err := json.Marshal(counts)
	if err != nil {
		h.logger.Printf("Failed to marshal counts: %v", err)
		return
	}

	h.server.Broadcast(Message{
		Type:      MessageTypeCounts,
		Timestamp: time.Now(),
		Data:      data,
	})
}
