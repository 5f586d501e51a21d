package prism

import (
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// AuditEventType represents the type of audit event
type AuditEventType string

const (
	AuditEventRoundCompleted AuditEventType = "round_completed"
	AuditEventRoundFailed    AuditEventType = "round_failed"
	AuditEventKeyCommitted   AuditEventType = "key_committed"
	AuditEventPrismCommitted AuditEventType = "prism_committed"
	AuditEventAuthentication AuditEventType = "authentication"
)

// AuditEvent is a single node-side audit record
type AuditEvent struct {
	EventID   string         `json:"event_id"`
	Timestamp time.Time      `json:"timestamp"`
	EventType AuditEventType `json:"event_type"`

	Round     string `json:"round,omitempty"`
	KeyID     string `json:"key_id,omitempty"`
	PeerCount int    `json:"peer_count,omitempty"`

	Success bool      `json:"success"`
	Error   string    `json:"error,omitempty"`
	Kind    ErrorKind `json:"kind,omitempty"`

	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

// AuditEventHandler receives audit events. Applications implement it to
// record events according to their needs.
type AuditEventHandler interface {
	// OnRound is called after every protocol round, successful or not
	OnRound(event *AuditEvent)

	// OnKeyCommitted is called when Commit or CommitPrism finalizes a key
	OnKeyCommitted(event *AuditEvent)

	// OnAuthentication is called for every Authenticate attempt
	OnAuthentication(event *AuditEvent)
}

// NullAuditHandler discards every event
type NullAuditHandler struct{}

func (n *NullAuditHandler) OnRound(event *AuditEvent)          {}
func (n *NullAuditHandler) OnKeyCommitted(event *AuditEvent)   {}
func (n *NullAuditHandler) OnAuthentication(event *AuditEvent) {}

// LogAuditHandler writes events to a zerolog logger
type LogAuditHandler struct {
	logger zerolog.Logger
}

// NewLogAuditHandler creates a handler logging under component=audit
func NewLogAuditHandler(logger zerolog.Logger) *LogAuditHandler {
	return &LogAuditHandler{logger: logger.With().Str("component", "audit").Logger()}
}

func (h *LogAuditHandler) log(event *AuditEvent) {
	ev := h.logger.Info()
	if !event.Success {
		ev = h.logger.Warn().Str("error", event.Error).Str("kind", string(event.Kind))
	}
	ev.Str("event_id", event.EventID).
		Str("event_type", string(event.EventType)).
		Str("round", event.Round).
		Str("key_id", event.KeyID).
		Int("peer_count", event.PeerCount).
		Fields(event.Metadata).
		Msg("audit")
}

func (h *LogAuditHandler) OnRound(event *AuditEvent)          { h.log(event) }
func (h *LogAuditHandler) OnKeyCommitted(event *AuditEvent)   { h.log(event) }
func (h *LogAuditHandler) OnAuthentication(event *AuditEvent) { h.log(event) }

// AuditEventBuilder helps construct audit events with proper defaults
type AuditEventBuilder struct {
	event *AuditEvent
}

// NewAuditEventBuilder creates a new audit event builder
func NewAuditEventBuilder(eventType AuditEventType) *AuditEventBuilder {
	return &AuditEventBuilder{
		event: &AuditEvent{
			EventID:   uuid.NewString(),
			Timestamp: time.Now(),
			EventType: eventType,
			Success:   true,
			Metadata:  make(map[string]interface{}),
		},
	}
}

// WithRound sets the round and key id
func (b *AuditEventBuilder) WithRound(round, keyID string) *AuditEventBuilder {
	b.event.Round = round
	b.event.KeyID = keyID
	return b
}

// WithPeers sets the peer count
func (b *AuditEventBuilder) WithPeers(count int) *AuditEventBuilder {
	b.event.PeerCount = count
	return b
}

// WithError marks the event as failed
func (b *AuditEventBuilder) WithError(err error) *AuditEventBuilder {
	if err == nil {
		return b
	}
	b.event.Success = false
	b.event.Error = err.Error()
	b.event.Kind = KindOf(err)
	if b.event.EventType == AuditEventRoundCompleted {
		b.event.EventType = AuditEventRoundFailed
	}
	return b
}

// WithMetadata adds metadata to the event
func (b *AuditEventBuilder) WithMetadata(key string, value interface{}) *AuditEventBuilder {
	b.event.Metadata[key] = value
	return b
}

// Build returns the constructed audit event
func (b *AuditEventBuilder) Build() *AuditEvent {
	return b.event
}
