package domain

import (
	"context"
)

// EventBus defines the interface for event-driven communication.
// Supports Go channels or NATS.
// All methods require tenantID for strict multi-tenancy isolation.
type EventBus interface {
	// Publish sends a message to a topic.
	Publish(ctx context.Context, tenantID string, topic string, payload []byte) error

	// Subscribe registers a handler for a topic.
	// Returns a subscription that can be used to unsubscribe.
	Subscribe(ctx context.Context, tenantID string, topic string, handler MessageHandler) (Subscription, error)

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
	TenantID  string            `json:"tenantId"`
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
	Type string `toml:"type"`

	// Channel settings
	ChannelBufferSize int `toml:"channel_buffer_size"`

	// NATS settings
	NATSUrl           string `toml:"nats_url"`
	NATSToken         string `toml:"nats_token"`
	NATSMaxReconnects int    `toml:"nats_max_reconnects"`
	NATSReconnectWait int    `toml:"nats_reconnect_wait"` // seconds
}

// Topic names for asynchronous scoring.
const (
	TopicContractsSubmitted  = "sentinel.contracts.submitted"
	TopicApplicantsSubmitted = "sentinel.applicants.submitted"
	TopicAssessment          = "sentinel.assessments"
	TopicAlert               = "sentinel.alerts"
)

// ContractBatchMessage is the payload of TopicContractsSubmitted.
type ContractBatchMessage struct {
	TenantID   string           `json:"tenantId,omitempty"`
	Contracts  []ContractRecord `json:"contracts"`
	Vendors    []Vendor         `json:"vendors,omitempty"`
	Complaints map[string]int   `json:"complaints,omitempty"`
}

// ApplicantMessage is the payload of TopicApplicantsSubmitted.
type ApplicantMessage struct {
	TenantID   string      `json:"tenantId,omitempty"`
	Applicants []Applicant `json:"applicants"`
}
