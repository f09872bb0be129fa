package broker

import (
	"context"
	"encoding/json"
	"time"
)

// EventEnvelope is the fire-and-forget wire shape: no reply is expected.
type EventEnvelope struct {
	Type          string          `json:"type"`
	Payload       json.RawMessage `json:"payload"`
	Timestamp     time.Time       `json:"timestamp"`
	CorrelationID string          `json:"correlation_id"`
}

// RequestEnvelope is the RPC wire shape: the publisher sets a reply-to
// address and waits for a reply carrying the same correlation id.
type RequestEnvelope struct {
	Action        string          `json:"action"`
	Data          json.RawMessage `json:"data"`
	Timestamp     time.Time       `json:"timestamp"`
	CorrelationID string          `json:"correlation_id"`
	RPC           bool            `json:"rpc"`
}

// Route addresses an outbound request: either a topic-exchange routing key
// or, with Direct set, a queue name on the default exchange.
type Route struct {
	Key    string
	Direct bool
}

type Delivery struct {
	RoutingKey    string
	CorrelationID string
	Body          []byte
}

type HandlerFunc func(ctx context.Context, d Delivery)

// Transport is the broker surface the RPC bridge and dispatcher build on.
type Transport interface {
	PublishEvent(ctx context.Context, routingKey string, body []byte, correlationID string) error
	PublishRequest(ctx context.Context, route Route, body []byte, correlationID string) error
	ConsumeReplies(ctx context.Context, handler HandlerFunc) error
	ConsumeCommands(ctx context.Context, queue string, bindingKeys []string, handler HandlerFunc) error
	Close() error
}
