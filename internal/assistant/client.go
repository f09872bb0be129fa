package assistant

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/bidautoweb/post-generator-service/internal/broker"
	"github.com/bidautoweb/post-generator-service/internal/constants"
	"github.com/bidautoweb/post-generator-service/internal/logger"
	"github.com/bidautoweb/post-generator-service/internal/rpc"
)

// Caller is the slice of the RPC bridge the assistant client needs.
type Caller interface {
	Call(ctx context.Context, route broker.Route, action string, data interface{}, timeout time.Duration) (json.RawMessage, error)
	CallMany(ctx context.Context, reqs []rpc.Request, timeout time.Duration) []rpc.Result
}

// Client is the typed wrapper over the RPC bridge for the remote AI worker.
// Text generations go through the topic exchange; image generations go
// straight to the worker queue.
type Client struct {
	bridge Caller
	queue  string
	logger logger.Logger
}

func NewClient(bridge Caller, imageWorkerQueue string, log logger.Logger) *Client {
	if imageWorkerQueue == "" {
		imageWorkerQueue = constants.AssistantQueue
	}
	return &Client{bridge: bridge, queue: imageWorkerQueue, logger: log}
}

type textPrompt struct {
	Prompt        string `json:"prompt"`
	AssistantName string `json:"assistant_name"`
}

type imagePrompt struct {
	ImageURLs     []string `json:"image_urls"`
	AssistantName string   `json:"assistant_name"`
	LotID         int64    `json:"lot_id"`
}

type keptLotsResponse struct {
	Lots []struct {
		LotID int64 `json:"lot_id"`
	} `json:"lots"`
}

// Shortlist asks the lot chooser to pick from the serialized candidate text
// and returns the kept lot ids.
func (c *Client) Shortlist(ctx context.Context, prompt string, timeout time.Duration) ([]int64, error) {
	return c.keptLots(ctx, prompt, constants.AssistantLotChooser, timeout)
}

// Finalize asks the full lot processor for the final keep set over the
// combined text + image description summary.
func (c *Client) Finalize(ctx context.Context, prompt string, timeout time.Duration) ([]int64, error) {
	return c.keptLots(ctx, prompt, constants.AssistantFullLotProcessor, timeout)
}

func (c *Client) keptLots(ctx context.Context, prompt, assistantName string, timeout time.Duration) ([]int64, error) {
	route := broker.Route{Key: constants.ActionAssistantText}
	data, err := c.bridge.Call(ctx, route, constants.ActionAssistantText, textPrompt{
		Prompt:        prompt,
		AssistantName: assistantName,
	}, timeout)
	if err != nil {
		return nil, err
	}

	var resp keptLotsResponse
	if err := decodeResponse(data, &resp); err != nil {
		return nil, err
	}

	lotIDs := make([]int64, 0, len(resp.Lots))
	for _, lot := range resp.Lots {
		lotIDs = append(lotIDs, lot.LotID)
	}
	return lotIDs, nil
}

// ImageRequest names one lot and the image URLs to describe.
type ImageRequest struct {
	LotID     int64
	ImageURLs []string
}

// ImageResult is the per-lot outcome of a DescribeImages batch.
type ImageResult struct {
	LotID          int64
	Description    string
	ConditionScore int
	Err            error
}

type imageResponse struct {
	LotID          int64  `json:"lot_id"`
	Description    string `json:"description"`
	ConditionScore int    `json:"condition_score"`
}

// DescribeImages fans the per-lot image calls out through the bridge's
// bounded batch and returns one result per request, in request order. A
// failed slot carries its own error; siblings are unaffected.
func (c *Client) DescribeImages(ctx context.Context, reqs []ImageRequest, timeout time.Duration) []ImageResult {
	calls := make([]rpc.Request, len(reqs))
	for i, req := range reqs {
		urls := req.ImageURLs
		if len(urls) > constants.MaxImagesPerAICall {
			urls = urls[:constants.MaxImagesPerAICall]
		}
		calls[i] = rpc.Request{
			Route:  broker.Route{Key: c.queue, Direct: true},
			Action: constants.ActionAssistantImage,
			Data: imagePrompt{
				ImageURLs:     urls,
				AssistantName: constants.AssistantImagesProcessor,
				LotID:         req.LotID,
			},
		}
	}

	results := c.bridge.CallMany(ctx, calls, timeout)

	out := make([]ImageResult, len(results))
	for i, result := range results {
		out[i] = ImageResult{LotID: reqs[i].LotID}
		if result.Err != nil {
			out[i].Err = result.Err
			continue
		}

		var resp imageResponse
		if err := decodeResponse(result.Value, &resp); err != nil {
			out[i].Err = err
			continue
		}
		if resp.LotID != 0 {
			out[i].LotID = resp.LotID
		}
		out[i].Description = resp.Description
		out[i].ConditionScore = resp.ConditionScore
	}
	return out
}

// decodeResponse unwraps the assistant reply: the data payload carries a
// response field holding a JSON document as a string.
func decodeResponse(data json.RawMessage, v interface{}) error {
	var outer struct {
		Response string `json:"response"`
	}
	if err := json.Unmarshal(data, &outer); err != nil {
		return fmt.Errorf("invalid assistant reply: %v: %w", err, rpc.ErrDecode)
	}
	if outer.Response == "" {
		return fmt.Errorf("assistant reply missing response field: %w", rpc.ErrDecode)
	}
	if err := json.Unmarshal([]byte(outer.Response), v); err != nil {
		return fmt.Errorf("invalid assistant response document: %v: %w", err, rpc.ErrDecode)
	}
	return nil
}
