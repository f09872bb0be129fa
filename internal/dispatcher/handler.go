package dispatcher

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/bidautoweb/post-generator-service/internal/broker"
	"github.com/bidautoweb/post-generator-service/internal/catalog"
	"github.com/bidautoweb/post-generator-service/internal/constants"
	"github.com/bidautoweb/post-generator-service/internal/logger"
	"github.com/bidautoweb/post-generator-service/internal/posts"
	"github.com/bidautoweb/post-generator-service/pkg/logging"
)

// Generator is the slice of the pipeline service the dispatcher drives.
type Generator interface {
	Generate(ctx context.Context, requestID int64, userUUID string, filters catalog.Filters) error
	PublishPost(ctx context.Context, postID int64) error
}

// CommandConsumer delivers inbound commands from the broker.
type CommandConsumer interface {
	ConsumeCommands(ctx context.Context, queue string, bindingKeys []string, handler broker.HandlerFunc) error
}

// Dispatcher routes inbound broker commands to the generator service. One
// handler invocation per delivery; a handler error leaves the pipeline's
// own posts.error event as the user-visible outcome.
type Dispatcher struct {
	consumer CommandConsumer
	service  Generator
	store    posts.Gate
	queue    string
	logger   logger.Logger
}

func New(consumer CommandConsumer, service Generator, store posts.Gate, queue string, log logger.Logger) *Dispatcher {
	if queue == "" {
		queue = constants.DefaultCommandQueue
	}
	return &Dispatcher{
		consumer: consumer,
		service:  service,
		store:    store,
		queue:    queue,
		logger:   log,
	}
}

// generateCommand is the generate.with_filters payload.
type generateCommand struct {
	UserUUID string          `json:"user_uuid"`
	Filters  catalog.Filters `json:"filters"`
}

// publishCommand is the publish.post payload.
type publishCommand struct {
	PostID int64 `json:"post_id"`
}

// Run consumes the command queue until the context is canceled or the
// broker connection is lost.
func (d *Dispatcher) Run(ctx context.Context) error {
	bindingKeys := []string{
		constants.RoutingKeyGenerateWithFilters,
		constants.RoutingKeyPublishPost,
	}
	return d.consumer.ConsumeCommands(ctx, d.queue, bindingKeys, func(ctx context.Context, delivery broker.Delivery) {
		if err := d.handle(ctx, delivery); err != nil {
			d.logger.ErrorwCtx(ctx, "Command handling failed",
				"routing_key", delivery.RoutingKey,
				"error", err,
			)
		}
	})
}

func (d *Dispatcher) handle(ctx context.Context, delivery broker.Delivery) error {
	if delivery.CorrelationID != "" {
		ctx = logging.WithCorrelationID(ctx, delivery.CorrelationID)
	}

	switch delivery.RoutingKey {
	case constants.RoutingKeyGenerateWithFilters:
		return d.handleGenerate(ctx, delivery.Body)
	case constants.RoutingKeyPublishPost:
		return d.handlePublish(ctx, delivery.Body)
	default:
		d.logger.DebugwCtx(ctx, "Ignoring unknown routing key", "routing_key", delivery.RoutingKey)
		return nil
	}
}

func (d *Dispatcher) handleGenerate(ctx context.Context, body []byte) error {
	var envelope broker.EventEnvelope
	if err := json.Unmarshal(body, &envelope); err != nil {
		d.logger.ErrorwCtx(ctx, "Failed to decode generate command envelope", "error", err)
		return nil
	}

	var cmd generateCommand
	if err := json.Unmarshal(envelope.Payload, &cmd); err != nil {
		d.logger.ErrorwCtx(ctx, "Failed to decode generate command payload", "error", err)
		return nil
	}
	if cmd.UserUUID == "" {
		d.logger.ErrorwCtx(ctx, "Generate command missing user uuid")
		return nil
	}
	ctx = logging.WithUserUUID(ctx, cmd.UserUUID)

	req := &posts.RequestFilters{
		UserUUID:     cmd.UserUUID,
		Site:         cmd.Filters.Site,
		Make:         cmd.Filters.Make,
		Model:        cmd.Filters.Model,
		YearFrom:     cmd.Filters.YearFrom,
		YearTo:       cmd.Filters.YearTo,
		OdoFrom:      cmd.Filters.OdoFrom,
		OdoTo:        cmd.Filters.OdoTo,
		Document:     cmd.Filters.Document,
		Transmission: cmd.Filters.Transmission,
		Status:       cmd.Filters.Status,
	}
	if err := d.store.CreateRequest(ctx, req); err != nil {
		return fmt.Errorf("failed to persist request filters: %w", err)
	}

	if err := d.service.Generate(ctx, req.ID, cmd.UserUUID, cmd.Filters); err != nil {
		// The pipeline already published posts.error; the delivery is done.
		d.logger.ErrorwCtx(ctx, "Generate command failed",
			"request_id", req.ID,
			"error", err,
		)
	}
	return nil
}

func (d *Dispatcher) handlePublish(ctx context.Context, body []byte) error {
	var envelope broker.EventEnvelope
	if err := json.Unmarshal(body, &envelope); err != nil {
		d.logger.ErrorwCtx(ctx, "Failed to decode publish command envelope", "error", err)
		return nil
	}

	var cmd publishCommand
	if err := json.Unmarshal(envelope.Payload, &cmd); err != nil {
		d.logger.ErrorwCtx(ctx, "Failed to decode publish command payload", "error", err)
		return nil
	}
	if cmd.PostID == 0 {
		d.logger.ErrorwCtx(ctx, "Publish command missing post id")
		return nil
	}

	if err := d.service.PublishPost(ctx, cmd.PostID); err != nil {
		d.logger.ErrorwCtx(ctx, "Publish command failed",
			"post_id", cmd.PostID,
			"error", err,
		)
	}
	return nil
}
