package rpc

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"github.com/bidautoweb/post-generator-service/internal/broker"
	"github.com/bidautoweb/post-generator-service/internal/logger"
	"github.com/bidautoweb/post-generator-service/pkg/metrics"
)

// Bridge turns the fire-and-forget broker transport into request/response:
// each outbound request is registered under a fresh correlation id, and one
// consumer goroutine demultiplexes replies from the shared reply queue back
// to the waiting caller. A pending entry is removed on reply, timeout, or
// shutdown, whichever comes first.
type Bridge struct {
	transport   broker.Transport
	logger      logger.Logger
	concurrency int64

	mu      sync.Mutex
	pending map[string]chan settlement
	closed  bool
}

type settlement struct {
	value json.RawMessage
	err   error
}

// Request is one entry in a CallMany batch.
type Request struct {
	Route  broker.Route
	Action string
	Data   interface{}
}

// Result is the per-slot outcome of a CallMany batch; Err carries the
// request's own failure without affecting its siblings.
type Result struct {
	Value json.RawMessage
	Err   error
}

type replyEnvelope struct {
	Data json.RawMessage `json:"data"`
}

func NewBridge(transport broker.Transport, log logger.Logger, concurrency int) *Bridge {
	if concurrency <= 0 {
		concurrency = 5
	}
	return &Bridge{
		transport:   transport,
		logger:      log,
		concurrency: int64(concurrency),
		pending:     make(map[string]chan settlement),
	}
}

// Run drives the single reply consumer. It blocks until ctx is cancelled or
// the transport fails, then fails every pending call.
func (b *Bridge) Run(ctx context.Context) error {
	err := b.transport.ConsumeReplies(ctx, func(ctx context.Context, d broker.Delivery) {
		b.handleReply(ctx, d)
	})
	b.Close()
	return err
}

// Call publishes a request envelope with reply-to set to the shared reply
// queue and suspends until the reply, the timeout, or ctx cancellation.
func (b *Bridge) Call(ctx context.Context, route broker.Route, action string, data interface{}, timeout time.Duration) (json.RawMessage, error) {
	payload, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request data for %s: %w", action, err)
	}

	correlationID := uuid.New().String()
	ch := make(chan settlement, 1)

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil, ErrClosed
	}
	b.pending[correlationID] = ch
	b.mu.Unlock()

	env := broker.RequestEnvelope{
		Action:        action,
		Data:          payload,
		Timestamp:     time.Now().UTC(),
		CorrelationID: correlationID,
		RPC:           true,
	}
	body, err := json.Marshal(env)
	if err != nil {
		b.remove(correlationID)
		return nil, fmt.Errorf("failed to marshal request envelope: %w", err)
	}

	if err := b.transport.PublishRequest(ctx, route, body, correlationID); err != nil {
		b.remove(correlationID)
		metrics.RPCCallsTotal.WithLabelValues(action, "publish_error").Inc()
		return nil, err
	}

	b.logger.DebugwCtx(ctx, "Published RPC request",
		"action", action,
		"route", route.Key,
		"correlation_id", correlationID,
	)

	metrics.RPCInflight.Inc()
	defer metrics.RPCInflight.Dec()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case s := <-ch:
		if s.err != nil {
			metrics.RPCCallsTotal.WithLabelValues(action, "decode_error").Inc()
			return nil, s.err
		}
		metrics.RPCCallsTotal.WithLabelValues(action, "ok").Inc()
		return s.value, nil
	case <-timer.C:
		b.remove(correlationID)
		metrics.RPCCallsTotal.WithLabelValues(action, "timeout").Inc()
		return nil, fmt.Errorf("no reply for action %s within %s: %w", action, timeout, ErrTimeout)
	case <-ctx.Done():
		b.remove(correlationID)
		metrics.RPCCallsTotal.WithLabelValues(action, "cancelled").Inc()
		return nil, ctx.Err()
	}
}

// CallMany issues every request concurrently behind a bounded gate and
// returns results in submission order regardless of reply arrival order.
// One request's failure or timeout never cancels the others; fail-fast vs
// collect-all is the caller's decision over the returned slice.
func (b *Bridge) CallMany(ctx context.Context, reqs []Request, timeout time.Duration) []Result {
	results := make([]Result, len(reqs))
	sem := semaphore.NewWeighted(b.concurrency)

	var wg sync.WaitGroup
	for i, req := range reqs {
		wg.Add(1)
		go func(i int, req Request) {
			defer wg.Done()
			if err := sem.Acquire(ctx, 1); err != nil {
				results[i] = Result{Err: err}
				return
			}
			defer sem.Release(1)

			value, err := b.Call(ctx, req.Route, req.Action, req.Data, timeout)
			results[i] = Result{Value: value, Err: err}
		}(i, req)
	}
	wg.Wait()

	return results
}

// PublishEvent sends a fire-and-forget event envelope, no correlation
// tracking, no reply expected.
func (b *Bridge) PublishEvent(ctx context.Context, routingKey string, payload interface{}) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal event payload for %s: %w", routingKey, err)
	}

	env := broker.EventEnvelope{
		Type:          routingKey,
		Payload:       data,
		Timestamp:     time.Now().UTC(),
		CorrelationID: uuid.New().String(),
	}
	body, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("failed to marshal event envelope: %w", err)
	}

	return b.transport.PublishEvent(ctx, routingKey, body, env.CorrelationID)
}

// Close fails every pending call with ErrClosed. Idempotent.
func (b *Bridge) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true

	for correlationID, ch := range b.pending {
		delete(b.pending, correlationID)
		ch <- settlement{err: ErrClosed}
	}
}

// PendingCalls reports the correlation map size.
func (b *Bridge) PendingCalls() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.pending)
}

func (b *Bridge) handleReply(ctx context.Context, d broker.Delivery) {
	if d.CorrelationID == "" {
		return
	}

	b.mu.Lock()
	ch, ok := b.pending[d.CorrelationID]
	if ok {
		delete(b.pending, d.CorrelationID)
	}
	b.mu.Unlock()

	if !ok {
		// Expected under the race between a timeout and an in-flight reply.
		b.logger.DebugwCtx(ctx, "Dropping reply with no pending call",
			"correlation_id", d.CorrelationID,
		)
		return
	}

	var reply replyEnvelope
	if err := json.Unmarshal(d.Body, &reply); err != nil {
		ch <- settlement{err: fmt.Errorf("invalid reply body: %v: %w", err, ErrDecode)}
		return
	}
	if len(reply.Data) == 0 {
		ch <- settlement{err: fmt.Errorf("reply missing data field: %w", ErrDecode)}
		return
	}

	ch <- settlement{value: reply.Data}
}

func (b *Bridge) remove(correlationID string) {
	b.mu.Lock()
	delete(b.pending, correlationID)
	b.mu.Unlock()
}
