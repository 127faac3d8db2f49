package domain

import (
	"context"
)

// EventBus defines the interface for event-driven communication.
// Supports Go channels or NATS.
type EventBus interface {
	// Publish sends a message to a topic.
	Publish(ctx context.Context, topic string, payload []byte) error

	// Subscribe registers a handler for a topic.
	// Returns a subscription that can be used to unsubscribe.
	Subscribe(ctx context.Context, topic string, handler MessageHandler) (Subscription, error)

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// MessageHandler processes incoming messages.
type MessageHandler func(ctx context.Context, msg *Message) error

// Message represents an event message.
type Message struct {
	ID        string            `json:"id"`
	Topic     string            `json:"topic"`
	Payload   []byte            `json:"payload"`
	Metadata  map[string]string `json:"metadata"`
	Timestamp int64             `json:"timestamp"`
}

// Subscription represents an active subscription.
type Subscription interface {
	// Unsubscribe stops receiving messages.
	Unsubscribe() error

	// Topic returns the subscribed topic.
	Topic() string
}

// EventBusConfig holds configuration for event bus initialization.
type EventBusConfig struct {
	// Type is the bus type: "channel" or "nats"
	Type string `yaml:"type" env:"EVENTBUS_TYPE" env-default:"channel"`

	// Channel settings
	ChannelBufferSize int `yaml:"channel_buffer_size" env:"EVENTBUS_BUFFER_SIZE" env-default:"1000"`

	// NATS settings
	NATSUrl           string `yaml:"nats_url" env:"NATS_URL"`
	NATSToken         string `yaml:"nats_token" env:"NATS_TOKEN"`
	NATSMaxReconnects int    `yaml:"nats_max_reconnects" env:"NATS_MAX_RECONNECTS" env-default:"10"`
	NATSReconnectWait int    `yaml:"nats_reconnect_wait" env:"NATS_RECONNECT_WAIT" env-default:"5"` // seconds
}

// Topic names for case lifecycle events.
const (
	TopicCaseCreated        = "collector.case.created"
	TopicCaseAssigned       = "collector.case.assigned"
	TopicCaseResolved       = "collector.case.resolved"
	TopicCaseReassess       = "collector.case.reassess"
	TopicReconcileCompleted = "collector.reconcile.completed"
)

// CaseEvent is the payload published on the case topics.
type CaseEvent struct {
	CaseID          string          `json:"caseId"`
	LoanID          string          `json:"loanId,omitempty"`
	Stage           CaseStage       `json:"stage,omitempty"`
	Status          CaseStatus      `json:"status,omitempty"`
	AssignmentGroup AssignmentGroup `json:"assignmentGroup,omitempty"`
	AssignedTo      string          `json:"assignedTo,omitempty"`
	Version         int             `json:"version,omitempty"`
	MatchedRules    []string        `json:"matchedRules,omitempty"`
}

// ReassessRequest asks the worker to rerun assignment for a case.
type ReassessRequest struct {
	CaseID string `json:"caseId"`
}
